package camera_test

import (
	"bytes"
	"encoding/json"
	"image/png"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi"

	"github.com/nasa-jpl/fliacq/fli"
	"github.com/nasa-jpl/fliacq/generichttp"
	"github.com/nasa-jpl/fliacq/generichttp/camera"
	"github.com/nasa-jpl/fliacq/imgrec"
	"github.com/nasa-jpl/fliacq/server/middleware/locker"
)

// console is a settings provider that also answers raw commands
type console struct {
	fli.StaticSettings
}

func (c console) Raw(cmd string) (string, error) {
	return "echo " + cmd, nil
}

func setup(t *testing.T, drv *fli.MockDriver, rec *imgrec.Recorder) (*httptest.Server, *fli.Controller) {
	t.Helper()
	provider := console{fli.StaticSettings{Width: 8, Height: 4, FPS: 500, Cropped: true}}
	srv, ctl, _ := setupWith(t, drv, provider, rec)
	return srv, ctl
}

func setupWith(t *testing.T, drv *fli.MockDriver, provider fli.SettingsProvider, rec *imgrec.Recorder) (*httptest.Server, *fli.Controller, *camera.HTTPCamera) {
	t.Helper()
	sdk := fli.NewSDK(drv, log.New(io.Discard, "", 0))
	if err := sdk.Initialize(); err != nil {
		t.Fatal(err)
	}
	ctx, err := sdk.Open()
	if err != nil {
		t.Fatal(err)
	}
	ctl := fli.NewController(ctx)
	h := camera.NewHTTPCamera(ctl, provider, rec)
	h.Lock = locker.New()
	locker.Inject(h, h.Lock)
	r := chi.NewRouter()
	r.Use(h.Lock.Check)
	h.RT().Bind(r)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		ctl.Stop()
		sdk.Finalize()
	})
	return srv, ctl, h
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestConfigureQuery(t *testing.T) {
	srv, ctl := setup(t, fli.NewMockDriver(), nil)
	resp := post(t, srv.URL+"/configure/query", "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	var s fli.Settings
	json.NewDecoder(resp.Body).Decode(&s)
	if s.Width != 8 || s.Height != 4 || s.FPS != 500 {
		t.Errorf("unexpected settings %+v", s)
	}
	if cfg := ctl.Config(); cfg.Width != 8 || cfg.Height != 4 {
		t.Errorf("controller not configured, got %+v", cfg)
	}

	fps, err := http.Get(srv.URL + "/fps")
	if err != nil {
		t.Fatal(err)
	}
	defer fps.Body.Close()
	var f generichttp.FloatT
	json.NewDecoder(fps.Body).Decode(&f)
	if f.F64 != 500 {
		t.Errorf("expected fps 500, got %v", f.F64)
	}
}

func TestViewerImage(t *testing.T) {
	drv := fli.NewMockDriver()
	srv, _ := setup(t, drv, nil)
	post(t, srv.URL+"/configure", `{"width":8,"height":4}`).Body.Close()

	resp, _ := http.Get(srv.URL + "/image")
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503 before the viewer runs, got %d", resp.StatusCode)
	}

	resp = post(t, srv.URL+"/viewer/start", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("viewer start failed with %d", resp.StatusCode)
	}
	frame := make([]byte, fli.FrameSize(8, 4))
	for i := range frame {
		frame[i] = byte(i)
	}
	drv.Deliver(frame)

	resp, err := http.Get(srv.URL + "/image?fmt=raw")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !bytes.Equal(body, frame) {
		t.Error("raw image differs from the delivered frame")
	}
	if resp.Header.Get("X-Frame-Seq") != "1" {
		t.Errorf("unexpected frame sequence %q", resp.Header.Get("X-Frame-Seq"))
	}

	resp, _ = http.Get(srv.URL + "/image?fmt=png")
	img, err := png.Decode(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 8 || b.Dy() != 4 {
		t.Errorf("unexpected png bounds %v", b)
	}

	resp, _ = http.Get(srv.URL + "/image?fmt=fits")
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	if !bytes.HasPrefix(body, []byte("SIMPLE")) {
		t.Error("expected a FITS file")
	}

	resp = post(t, srv.URL+"/capture", `{"frames":2}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 while the viewer runs, got %d", resp.StatusCode)
	}
}

func TestCapture(t *testing.T) {
	drv := fli.NewMockDriver()
	drv.FPS = 500
	rec := imgrec.New(t.TempDir())
	srv, _ := setup(t, drv, rec)
	post(t, srv.URL+"/configure", `{"width":8,"height":4}`).Body.Close()

	resp := post(t, srv.URL+"/capture", `{"frames":5}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("capture failed with %d", resp.StatusCode)
	}
	var res camera.CaptureResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if res.Frames != 5 || res.Path == "" {
		t.Fatalf("unexpected result %+v", res)
	}
	st, err := os.Stat(res.Path)
	if err != nil {
		t.Fatal(err)
	}
	if st.Size() != int64(5*fli.FrameSize(8, 4)) {
		t.Errorf("unexpected file size %d", st.Size())
	}

	file, err := http.Get(srv.URL + "/capture/file")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(file.Body)
	file.Body.Close()
	if len(body) != 5*fli.FrameSize(8, 4) {
		t.Errorf("served file has %d bytes", len(body))
	}

	acq, _ := http.Get(srv.URL + "/acquiring")
	var b generichttp.BoolT
	json.NewDecoder(acq.Body).Decode(&b)
	acq.Body.Close()
	if b.Bool {
		t.Error("expected acquisition to be stopped after a capture")
	}
}

func TestCaptureNotConfigured(t *testing.T) {
	srv, _, _ := setupWith(t, fli.NewMockDriver(), nil, nil)
	resp := post(t, srv.URL+"/capture", `{"frames":5}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestSessionsBackToBack(t *testing.T) {
	drv := fli.NewMockDriver()
	drv.FPS = 1000
	srv, ctl := setup(t, drv, nil)
	post(t, srv.URL+"/configure/query", "").Body.Close()

	for i := 1; i <= 2; i++ {
		resp := post(t, srv.URL+"/capture", `{"frames":3}`)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("capture %d failed with %d", i, resp.StatusCode)
		}
	}
	resp := post(t, srv.URL+"/viewer/start", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("viewer after two captures failed with %d", resp.StatusCode)
	}
	if ctl.Mode() != fli.Viewer || ctl.State() != fli.Acquiring {
		t.Errorf("expected the viewer to be running, got %v/%v", ctl.Mode(), ctl.State())
	}
}

func TestSessionWithoutQuery(t *testing.T) {
	drv := fli.NewMockDriver()
	drv.FPS = 1000
	srv, ctl := setup(t, drv, nil)
	resp := post(t, srv.URL+"/capture", `{"frames":2}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected the provider to be queried before a capture, got %d", resp.StatusCode)
	}
	if cfg := ctl.Config(); cfg.Width != 8 || cfg.Height != 4 {
		t.Errorf("unexpected configuration %+v", cfg)
	}
}

func TestConfigurePinsDimensions(t *testing.T) {
	drv := fli.NewMockDriver()
	drv.FPS = 1000
	srv, ctl := setup(t, drv, nil)
	post(t, srv.URL+"/configure", `{"width":2,"height":2}`).Body.Close()
	for i := 0; i < 2; i++ {
		resp := post(t, srv.URL+"/capture", `{"frames":2}`)
		var res camera.CaptureResult
		json.NewDecoder(resp.Body).Decode(&res)
		resp.Body.Close()
		if res.Width != 2 || res.Height != 2 {
			t.Errorf("capture %d: expected the dimensions set by hand, got %dx%d", i, res.Width, res.Height)
		}
	}
	post(t, srv.URL+"/configure/query", "").Body.Close()
	if cfg := ctl.Config(); cfg.Width != 8 {
		t.Errorf("expected the query to take over again, got %+v", cfg)
	}
}

func TestCaptureTooLarge(t *testing.T) {
	drv := fli.NewMockDriver()
	srv, ctl := setup(t, drv, nil)
	for _, n := range []string{"1125899906842624", "9223372036854775807"} {
		resp := post(t, srv.URL+"/capture", `{"frames":`+n+`}`)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s frames: expected 400, got %d", n, resp.StatusCode)
		}
	}
	if ctl.State() == fli.Acquiring {
		t.Error("an oversized capture must not start the camera")
	}
}

func TestCaptureHoldsLock(t *testing.T) {
	drv := fli.NewMockDriver()
	srv, _, h := setupWith(t, drv, console{fli.StaticSettings{Width: 8, Height: 4}}, nil)
	done := make(chan int)
	go func() {
		resp, err := http.Post(srv.URL+"/capture", "application/json", strings.NewReader(`{"frames":1}`))
		if err != nil {
			done <- 0
			return
		}
		resp.Body.Close()
		done <- resp.StatusCode
	}()
	for !h.Lock.Locked() {
		time.Sleep(time.Millisecond)
	}
	resp := post(t, srv.URL+"/configure", `{"width":4,"height":4}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusLocked {
		t.Errorf("expected 423 during a capture, got %d", resp.StatusCode)
	}
	st, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatal(err)
	}
	st.Body.Close()
	if st.StatusCode != http.StatusOK {
		t.Errorf("expected status to stay readable, got %d", st.StatusCode)
	}
	for h.Ctl.State() != fli.Acquiring {
		time.Sleep(time.Millisecond)
	}
	drv.Deliver(make([]byte, fli.FrameSize(8, 4)))
	if code := <-done; code != http.StatusOK {
		t.Fatalf("capture failed with %d", code)
	}
	deadline := time.Now().Add(time.Second)
	for h.Lock.Locked() {
		if time.Now().After(deadline) {
			t.Fatal("expected the lock to be released after the capture")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestRawAndStatus(t *testing.T) {
	srv, _ := setup(t, fli.NewMockDriver(), nil)
	resp := post(t, srv.URL+"/raw", `{"str":"temp"}`)
	var s generichttp.StrT
	json.NewDecoder(resp.Body).Decode(&s)
	resp.Body.Close()
	if s.Str != "echo temp" {
		t.Errorf("unexpected raw reply %q", s.Str)
	}

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var st camera.Status
	json.NewDecoder(resp.Body).Decode(&st)
	if st.State != "idle" || st.Port != "/dev/ttyACM0" {
		t.Errorf("unexpected status %+v", st)
	}
}

func TestEndpoints(t *testing.T) {
	srv, _ := setup(t, fli.NewMockDriver(), imgrec.New(t.TempDir()))
	resp, err := http.Get(srv.URL + "/endpoints")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var eps []string
	json.NewDecoder(resp.Body).Decode(&eps)
	want := map[string]bool{"POST /capture": false, "POST /raw": false, "GET /autowrite/root": false}
	for _, e := range eps {
		if _, ok := want[e]; ok {
			want[e] = true
		}
	}
	for e, seen := range want {
		if !seen {
			t.Errorf("endpoint %s missing from %v", e, eps)
		}
	}
}
