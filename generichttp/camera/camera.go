// Package camera provides an HTTP interface to an FLI acquisition controller
package camera

import (
	"context"
	"encoding/json"
	"fmt"
	"image/png"
	"net/http"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/pkg/errors"

	"github.com/nasa-jpl/fliacq/fli"
	"github.com/nasa-jpl/fliacq/generichttp"
	"github.com/nasa-jpl/fliacq/generichttp/ascii"
	"github.com/nasa-jpl/fliacq/imgrec"
	"github.com/nasa-jpl/fliacq/server"
	"github.com/nasa-jpl/fliacq/server/middleware/locker"
)

// WRAPVER is the version of the HTTP interface, written to FITS headers
const WRAPVER = "fliacq-http-1"

// DefaultMaxCaptureBytes bounds the buffer a single POST /capture may allocate
const DefaultMaxCaptureBytes = 4 << 30

// Status is the reply to GET /status
type Status struct {
	fli.Stats
	Settings fli.Settings `json:"settings"`
	Port     string       `json:"port"`
}

// CaptureRequest is the body of POST /capture
type CaptureRequest struct {
	Frames int `json:"frames"`
}

// CaptureResult is the reply to POST /capture
type CaptureResult struct {
	ID     string `json:"id"`
	Frames int    `json:"frames"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Path   string `json:"path,omitempty"`
}

// HTTPCamera wraps a controller in an HTTP route table
type HTTPCamera struct {
	// Ctl is the acquisition controller
	Ctl *fli.Controller

	// Provider supplies camera settings on POST /configure/query; may be nil
	Provider fli.SettingsProvider

	// Rec saves captures when enabled; may be nil
	Rec *imgrec.Recorder

	// Lock, if not nil, is held for the duration of a capture
	Lock *locker.Locker

	// MaxCaptureBytes is the largest capture accepted over HTTP
	MaxCaptureBytes int64

	// RouteTable maps URLs to functions
	RouteTable generichttp.RouteTable

	mu       sync.Mutex
	settings fli.Settings

	// pinned is set by POST /configure; the provider is not queried again
	// until POST /configure/query
	pinned bool
}

// NewHTTPCamera returns a new HTTP wrapper around a controller.  If provider
// can pass raw console commands a POST /raw route is added, and if rec is not
// nil its autowrite routes are.
func NewHTTPCamera(ctl *fli.Controller, provider fli.SettingsProvider, rec *imgrec.Recorder) *HTTPCamera {
	h := &HTTPCamera{Ctl: ctl, Provider: provider, Rec: rec, MaxCaptureBytes: DefaultMaxCaptureBytes}
	if ctl != nil {
		cfg := ctl.Config()
		h.settings = fli.Settings{Width: cfg.Width, Height: cfg.Height}
	}
	h.RouteTable = generichttp.RouteTable{
		generichttp.MethodPath{Method: http.MethodGet, Path: "/status"}:          h.GetStatus,
		generichttp.MethodPath{Method: http.MethodPost, Path: "/configure"}:      h.Configure,
		generichttp.MethodPath{Method: http.MethodPost, Path: "/configure/query"}: h.ConfigureQuery,
		generichttp.MethodPath{Method: http.MethodPost, Path: "/viewer/start"}:   h.StartViewer,
		generichttp.MethodPath{Method: http.MethodPost, Path: "/stop"}:           h.Stop,
		generichttp.MethodPath{Method: http.MethodGet, Path: "/image"}:           h.GetImage,
		generichttp.MethodPath{Method: http.MethodPost, Path: "/capture"}:        h.Capture,
		generichttp.MethodPath{Method: http.MethodGet, Path: "/capture/file"}:    h.LastCaptureFile,
		generichttp.MethodPath{Method: http.MethodGet, Path: "/fps"}:             generichttp.GetFloat(h.FPS),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/port"}:            generichttp.GetString(h.Port),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/acquiring"}:       generichttp.GetBool(h.Acquiring),
	}
	if c, ok := provider.(ascii.Console); ok {
		ascii.InjectConsole(h, c)
	}
	if rec != nil {
		imgrec.NewHTTPWrapper(rec).Inject(h)
	}
	return h
}

// RT satisfies the generichttp.HTTPer interface
func (h *HTTPCamera) RT() generichttp.RouteTable {
	return h.RouteTable
}

// Settings returns the most recently applied settings
func (h *HTTPCamera) Settings() fli.Settings {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.settings
}

// FPS is the frame rate of the most recently applied settings
func (h *HTTPCamera) FPS() (float64, error) {
	return h.Settings().FPS, nil
}

// Port is the tty associated with the camera
func (h *HTTPCamera) Port() (string, error) {
	return h.Ctl.Context().Port(), nil
}

// Acquiring reports if the controller is acquiring
func (h *HTTPCamera) Acquiring() (bool, error) {
	return h.Ctl.State() == fli.Acquiring, nil
}

// status maps an engine error to an HTTP status code
func status(err error) int {
	switch {
	case errors.Is(err, fli.ErrAlreadyAcquiring), errors.Is(err, fli.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, fli.ErrNotConfigured), errors.Is(err, fli.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, fli.ErrInvalidContext):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func respondJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}

// GetStatus replies with the controller statistics and settings
func (h *HTTPCamera) GetStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, Status{Stats: h.Ctl.Stats(), Settings: h.Settings(), Port: h.Ctl.Context().Port()})
}

// Configure sets the frame dimensions from a JSON {"width", "height"} body
func (h *HTTPCamera) Configure(w http.ResponseWriter, r *http.Request) {
	cfg := fli.AcquisitionConfig{}
	err := json.NewDecoder(r.Body).Decode(&cfg)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.Ctl.Configure(cfg.Width, cfg.Height); err != nil {
		http.Error(w, err.Error(), status(err))
		return
	}
	h.mu.Lock()
	h.settings.Width, h.settings.Height = cfg.Width, cfg.Height
	h.pinned = true
	h.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

// ConfigureQuery reads the settings from the provider, configures the
// controller with them and replies with what was read
func (h *HTTPCamera) ConfigureQuery(w http.ResponseWriter, r *http.Request) {
	if h.Provider == nil {
		http.Error(w, "no settings provider", http.StatusNotImplemented)
		return
	}
	s, err := h.Ctl.ConfigureFrom(h.Provider)
	if err != nil {
		http.Error(w, err.Error(), status(err))
		return
	}
	h.mu.Lock()
	h.settings = s
	h.pinned = false
	h.mu.Unlock()
	respondJSON(w, s)
}

// prepare configures the controller for a new session.  The camera is
// queried again unless the dimensions were set by hand, in which case those
// are applied.  With neither, the controller is left as it is and Start
// reports that it is not configured.
func (h *HTTPCamera) prepare() error {
	h.mu.Lock()
	s, pinned := h.settings, h.pinned
	h.mu.Unlock()
	if h.Provider != nil && !pinned {
		s, err := h.Ctl.ConfigureFrom(h.Provider)
		if err != nil {
			return err
		}
		h.mu.Lock()
		h.settings = s
		h.mu.Unlock()
		return nil
	}
	if s.Width == 0 || s.Height == 0 {
		return nil
	}
	return h.Ctl.Configure(s.Width, s.Height)
}

// StartViewer starts acquisition into the ring buffer
func (h *HTTPCamera) StartViewer(w http.ResponseWriter, r *http.Request) {
	if err := h.prepare(); err != nil {
		http.Error(w, err.Error(), status(err))
		return
	}
	if err := h.Ctl.StartViewer(); err != nil {
		http.Error(w, err.Error(), status(err))
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Stop stops acquisition
func (h *HTTPCamera) Stop(w http.ResponseWriter, r *http.Request) {
	h.Ctl.Stop()
	w.WriteHeader(http.StatusOK)
}

// GetImage replies with a copy of the newest viewer frame.
//
// the format is chosen with the fmt query parameter: raw (default, little
// endian uint16), png (16-bit grayscale) or fits
func (h *HTTPCamera) GetImage(w http.ResponseWriter, r *http.Request) {
	f, ok := h.Ctl.CopyLatestFrame(nil)
	if !ok {
		http.Error(w, "no frame available, is the viewer running?", http.StatusServiceUnavailable)
		return
	}
	hdr := w.Header()
	hdr.Set("X-Frame-Seq", strconv.FormatUint(f.Seq, 10))
	switch format := r.URL.Query().Get("fmt"); format {
	case "", "raw":
		hdr.Set("Content-Type", "application/octet-stream")
		hdr.Set("Content-Length", strconv.Itoa(len(f.Data)))
		w.WriteHeader(http.StatusOK)
		w.Write(f.Data)
	case "png":
		hdr.Set("Content-Type", "image/png")
		w.WriteHeader(http.StatusOK)
		png.Encode(w, f.Gray16())
	case "fits":
		hdr.Set("Content-Type", "image/fits")
		hdr.Set("Content-Disposition", "attachment; filename=image.fits")
		err := WriteFits(w, h.cards(fli.Viewer, ""), []fli.Frame{f})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	default:
		http.Error(w, fmt.Sprintf("unknown image format %q", format), http.StatusBadRequest)
	}
}

// cards builds the FITS header common to every export
func (h *HTTPCamera) cards(mode fli.Mode, id string) []fitsio.Card {
	s := h.Settings()
	cards := []fitsio.Card{
		{Name: "HDRVER", Value: WRAPVER, Comment: "header version"},
		{Name: "DATE", Value: time.Now().UTC().Format("2006-01-02T15:04:05")},
		{Name: "ACQMODE", Value: mode.String(), Comment: "acquisition mode"},
		{Name: "FPS", Value: s.FPS, Comment: "frame rate reported by the camera"},
		{Name: "CROPPED", Value: s.Cropped},
	}
	if id != "" {
		cards = append(cards, fitsio.Card{Name: "SESSION", Value: id, Comment: "capture session id"})
	}
	return cards
}

// Capture records {"frames": N} frames, waits for them and replies with a
// summary.  If the recorder is enabled the capture is saved as a raw file;
// with ?fmt=fits the cube is streamed back instead of the summary.
func (h *HTTPCamera) Capture(w http.ResponseWriter, r *http.Request) {
	req := CaptureRequest{}
	err := json.NewDecoder(r.Body).Decode(&req)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if h.Lock != nil {
		defer h.Lock.Hold("capture")()
	}
	if err := h.prepare(); err != nil {
		http.Error(w, err.Error(), status(err))
		return
	}
	if cfg := h.Ctl.Config(); cfg.Width > 0 && cfg.Height > 0 && h.MaxCaptureBytes > 0 {
		if int64(req.Frames) > h.MaxCaptureBytes/int64(fli.FrameSize(cfg.Width, cfg.Height)) {
			err := errors.Wrapf(fli.ErrInvalidConfig, "%d frames at %dx%d exceed %d bytes",
				req.Frames, cfg.Width, cfg.Height, h.MaxCaptureBytes)
			http.Error(w, err.Error(), status(err))
			return
		}
	}
	s, err := h.Ctl.StartRecord(req.Frames)
	if err != nil {
		http.Error(w, err.Error(), status(err))
		return
	}
	err = fli.WaitForCapture(r.Context(), s, fli.DefaultPollInterval)
	h.Ctl.Stop()
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			code = http.StatusRequestTimeout
		}
		http.Error(w, err.Error(), code)
		return
	}

	res := CaptureResult{ID: s.ID.String(), Frames: s.Index(), Width: s.Width(), Height: s.Height()}
	if h.Rec != nil && h.Rec.Enabled {
		res.Path, err = h.Rec.Save(s, h.Settings().FPS)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	if r.URL.Query().Get("fmt") == "fits" {
		frames := make([]fli.Frame, 0, s.Index())
		for i := 0; i < s.Index(); i++ {
			f, _ := s.Frame(i)
			frames = append(frames, f)
		}
		cards := h.cards(fli.Record, res.ID)
		hdr := w.Header()
		hdr.Set("Content-Type", "image/fits")
		hdr.Set("Content-Disposition", "attachment; filename=capture.fits")
		if err := WriteFits(w, cards, frames); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	respondJSON(w, res)
}

// LastCaptureFile serves the most recently saved capture
func (h *HTTPCamera) LastCaptureFile(w http.ResponseWriter, r *http.Request) {
	if h.Rec == nil || h.Rec.Last() == "" {
		http.Error(w, "no capture has been saved", http.StatusNotFound)
		return
	}
	last := h.Rec.Last()
	server.ReplyWithFile(w, r, filepath.Base(last), filepath.Dir(last))
}
