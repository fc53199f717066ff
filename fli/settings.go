package fli

import "github.com/pkg/errors"

// Settings are the camera parameters read over the configuration console
// before a run.  The acquisition engine uses Width and Height to size its
// buffers; FPS is carried for consumers and file names.
type Settings struct {
	Width   int     `json:"width" yaml:"Width"`
	Height  int     `json:"height" yaml:"Height"`
	FPS     float64 `json:"fps" yaml:"FPS"`
	Cropped bool    `json:"cropped" yaml:"Cropped"`
}

// SettingsProvider supplies Settings, typically by querying the camera
type SettingsProvider interface {
	Settings() (Settings, error)
}

// StaticSettings is a SettingsProvider that always returns itself
type StaticSettings Settings

// Settings satisfies SettingsProvider
func (s StaticSettings) Settings() (Settings, error) {
	return Settings(s), nil
}

// ConfigureFrom queries p and configures the controller with the result
func (c *Controller) ConfigureFrom(p SettingsProvider) (Settings, error) {
	s, err := p.Settings()
	if err != nil {
		return s, errors.Wrap(err, "querying camera settings")
	}
	return s, c.Configure(s.Width, s.Height)
}
