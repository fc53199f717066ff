/*Package flicli talks to the fli-cli configuration console that FLI cameras
expose on their USB serial port.

The console echoes each command, answers on one or more lines and then
prints the fli-cli> prompt.  Console turns that exchange into a single
cleaned string and reads the cropping window and frame rate the
acquisition engine needs before a run.
*/
package flicli

import (
	"log"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/nasa-jpl/fliacq/comm"
	"github.com/nasa-jpl/fliacq/fli"
)

const (
	// CroppingQuery asks for the cropping window in machine form
	CroppingQuery = "cropping raw"

	// FPSQuery asks for the frame rate in machine form
	FPSQuery = "fps raw"

	// DefaultPort is where the console usually enumerates
	DefaultPort = "/dev/ttyACM0"
)

// ErrUnexpectedResponse is generated when a query answer cannot be parsed
var ErrUnexpectedResponse = errors.New("unexpected response from camera console")

var (
	croppingRE = regexp.MustCompile(`on:(\d+)-(\d+):(\d+)-(\d+)`)
	numberRE   = regexp.MustCompile(`\d*\.?\d+`)
)

// Console is a connection to the fli-cli console
type Console struct {
	*comm.RemoteDevice

	logger *log.Logger
}

// New returns a Console for the serial port addr.  The port is opened on
// the first command.
func New(addr string, logger *log.Logger) *Console {
	if addr == "" {
		addr = DefaultPort
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Console{RemoteDevice: comm.NewRemoteDevice(addr), logger: logger}
}

// Command sends cmd and returns the cleaned response: the echoed command
// and prompts removed and the remaining lines joined by spaces
func (c *Console) Command(cmd string) (string, error) {
	cmd = strings.TrimSpace(cmd)
	if !c.Connected() {
		if err := c.Open(); err != nil {
			return "", err
		}
		c.logger.Printf("Connected to %s at %d baud.\n", c.Addr, c.Baud)
	}
	resp, err := c.SendRecv([]byte(cmd))
	if err != nil {
		return Clean(cmd, string(resp)), errors.Wrapf(err, "command %q", cmd)
	}
	return Clean(cmd, string(resp)), nil
}

// Clean strips the echo of cmd, any prompts and blank lines from a raw
// console response
func Clean(cmd, resp string) string {
	var parts []string
	for _, line := range strings.Split(resp, "\n") {
		line = strings.TrimSpace(strings.ReplaceAll(line, string(comm.DefaultPrompt), ""))
		if line == "" || line == cmd {
			continue
		}
		parts = append(parts, line)
	}
	return strings.Join(parts, " ")
}

// ParseCropping interprets the answer to "cropping raw".  "off" is the full
// 640x512 sensor; "on:X0-X1:Y0-Y1" is an inclusive window.  An "on" answer
// whose window cannot be read falls back to the full sensor.
func ParseCropping(resp string) (width, height int, cropped bool, err error) {
	resp = strings.TrimSpace(resp)
	switch {
	case strings.HasPrefix(resp, "on"):
		m := croppingRE.FindStringSubmatch(resp)
		if m == nil {
			return fli.DefaultWidth, fli.DefaultHeight, true, nil
		}
		var v [4]int
		for i := range v {
			v[i], _ = strconv.Atoi(m[i+1])
		}
		width, height = v[1]-v[0]+1, v[3]-v[2]+1
		if width <= 0 || height <= 0 {
			return 0, 0, true, errors.Wrapf(ErrUnexpectedResponse, "cropping window %q", resp)
		}
		return width, height, true, nil
	case strings.HasPrefix(resp, "off"):
		return fli.DefaultWidth, fli.DefaultHeight, false, nil
	}
	return 0, 0, false, errors.Wrapf(ErrUnexpectedResponse, "cropping %q", resp)
}

// ParseFPS reads the first number in the answer to "fps raw"
func ParseFPS(resp string) (float64, error) {
	m := numberRE.FindString(resp)
	if m == "" {
		return 0, errors.Wrapf(ErrUnexpectedResponse, "fps %q", resp)
	}
	return strconv.ParseFloat(m, 64)
}

// Cropping queries the cropping window
func (c *Console) Cropping() (width, height int, cropped bool, err error) {
	resp, err := c.Command(CroppingQuery)
	if err != nil {
		return 0, 0, false, err
	}
	width, height, cropped, err = ParseCropping(resp)
	if err != nil {
		return
	}
	if cropped {
		c.logger.Printf("Cropping ON: Width: %d, Height: %d obtained from camera\n", width, height)
	} else {
		c.logger.Printf("Cropping OFF: Full frame dimensions set to %dx%d.\n", width, height)
	}
	return
}

// FPS queries the frame rate
func (c *Console) FPS() (float64, error) {
	resp, err := c.Command(FPSQuery)
	if err != nil {
		return 0, err
	}
	fps, err := ParseFPS(resp)
	if err != nil {
		return 0, err
	}
	c.logger.Printf("FPS: %g obtained from camera\n", fps)
	return fps, nil
}

// Settings queries the cropping window and frame rate.  It satisfies
// fli.SettingsProvider.
func (c *Console) Settings() (fli.Settings, error) {
	var s fli.Settings
	w, h, cropped, err := c.Cropping()
	if err != nil {
		return s, err
	}
	fps, err := c.FPS()
	if err != nil {
		return s, err
	}
	return fli.Settings{Width: w, Height: h, FPS: fps, Cropped: cropped}, nil
}

var _ fli.SettingsProvider = (*Console)(nil)

// Raw sends a console command and returns the cleaned response
func (c *Console) Raw(cmd string) (string, error) {
	return c.Command(cmd)
}
