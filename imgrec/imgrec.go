// Package imgrec contains a recorder that saves finished captures to disk
// under yyyy-mm-dd subfolders with self-describing file names.
package imgrec

import (
	"encoding/json"
	"fmt"
	"go/types"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nasa-jpl/fliacq/fli"
	"github.com/nasa-jpl/fliacq/generichttp"
)

// DefaultPrefix starts every capture file name
const DefaultPrefix = "buffer"

// Recorder writes capture sessions as flat raw files.  It is safe for
// concurrent use.
type Recorder struct {
	mu sync.Mutex

	// Root is the root path
	Root string

	// Prefix is the prefix for the filenames
	Prefix string

	// Enabled is a flag unused by this struct that allows consumers to disable its use in their code
	Enabled bool

	// last is the path of the most recent save
	last string
}

// New returns an enabled recorder rooted at root
func New(root string) *Recorder {
	return &Recorder{Root: root, Prefix: DefaultPrefix, Enabled: true}
}

// FileName is the name of a capture of frames frames of width x height
// pixels at fps, taken at t: <prefix>_<N>frames_<W>x<H>_<fps>fps_<stamp>.raw
func FileName(prefix string, frames, width, height int, fps float64, t time.Time) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return fmt.Sprintf("%s_%dframes_%dx%d_%.2ffps_%s.raw",
		prefix, frames, width, height, fps, t.Format("20060102_150405"))
}

// folder returns the dated subfolder for t, creating it
func (r *Recorder) folder(t time.Time) (string, error) {
	fldr := filepath.Join(r.Root, t.Format("2006-01-02"))
	err := os.MkdirAll(fldr, 0777)
	return fldr, err
}

// Save writes s to a new file and returns its path
func (r *Recorder) Save(s *fli.CaptureSession, fps float64) (string, error) {
	return r.SaveAt(s, fps, time.Now())
}

// SaveAt is Save with an explicit timestamp
func (r *Recorder) SaveAt(s *fli.CaptureSession, fps float64, t time.Time) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fldr, err := r.folder(t)
	if err != nil {
		return "", &fli.IOError{Op: "creating folder", Path: fldr, Err: err}
	}
	fn := filepath.Join(fldr, FileName(r.Prefix, s.Count(), s.Width(), s.Height(), fps, t))
	if err := fli.SaveCapture(s, fn); err != nil {
		return "", err
	}
	r.last = fn
	return fn, nil
}

// Last is the path of the most recent save, "" if there was none
func (r *Recorder) Last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// HTTPWrapper is an HTTP wrapper around an image recorder that allows the folder and prefix to be changed on the fly
//
// it does not implement generichttp.HTTPer, offering an Inject method allowing it to be injected
// into another HTTPer
type HTTPWrapper struct {
	*Recorder
}

// NewHTTPWrapper returns an HTTP wrapper around a recorder
func NewHTTPWrapper(r *Recorder) HTTPWrapper {
	return HTTPWrapper{r}
}

// SetRoot updates the root folder of the recorder
func (h HTTPWrapper) SetRoot(w http.ResponseWriter, r *http.Request) {
	str := generichttp.StrT{}
	err := json.NewDecoder(r.Body).Decode(&str)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rec := h.Recorder
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if err := os.MkdirAll(str.Str, 0777); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rec.Root = str.Str
	w.WriteHeader(http.StatusOK)
}

// GetRoot gets the recorder's root folder and sends it back as JSON
func (h HTTPWrapper) GetRoot(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	hp := generichttp.HumanPayload{T: types.String, String: h.Recorder.Root}
	h.mu.Unlock()
	hp.EncodeAndRespond(w, r)
}

// SetPrefix updates the filename prefix of the recorder
func (h HTTPWrapper) SetPrefix(w http.ResponseWriter, r *http.Request) {
	str := generichttp.StrT{}
	err := json.NewDecoder(r.Body).Decode(&str)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.mu.Lock()
	h.Recorder.Prefix = str.Str
	h.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

// GetPrefix gets the recorder's prefix and sends it back as JSON
func (h HTTPWrapper) GetPrefix(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	hp := generichttp.HumanPayload{T: types.String, String: h.Recorder.Prefix}
	h.mu.Unlock()
	hp.EncodeAndRespond(w, r)
}

// GetEnabled returns the Recorder's Enabled field
func (h HTTPWrapper) GetEnabled(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	hp := generichttp.HumanPayload{T: types.Bool, Bool: h.Recorder.Enabled}
	h.mu.Unlock()
	hp.EncodeAndRespond(w, r)
}

// SetEnabled sets the recorder's Enabled field
func (h HTTPWrapper) SetEnabled(w http.ResponseWriter, r *http.Request) {
	bT := generichttp.BoolT{}
	err := json.NewDecoder(r.Body).Decode(&bT)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.mu.Lock()
	h.Recorder.Enabled = bT.Bool
	h.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

// Inject adds GET and POST routes for /autowrite/root, /autowrite/prefix and /autowrite/enabled to the HTTPer which manipulate this wrapper's recorder
func (h HTTPWrapper) Inject(other generichttp.HTTPer) {
	rt := other.RT()
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/autowrite/root"}] = h.SetRoot
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/autowrite/root"}] = h.GetRoot
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/autowrite/prefix"}] = h.SetPrefix
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/autowrite/prefix"}] = h.GetPrefix
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/autowrite/enabled"}] = h.SetEnabled
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/autowrite/enabled"}] = h.GetEnabled
}
