package fli_test

import (
	"bytes"
	"context"
	"errors"
	"log"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/nasa-jpl/fliacq/fli"
)

// openMock returns a controller on a mock camera; the SDK is finalized when
// the test ends
func openMock(t *testing.T, drv *fli.MockDriver) *fli.Controller {
	t.Helper()
	sdk := fli.NewSDK(drv, quiet())
	if err := sdk.Initialize(); err != nil {
		t.Fatal(err)
	}
	ctx, err := sdk.Open()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(sdk.Finalize)
	return fli.NewController(ctx)
}

func TestStartRequiresConfigure(t *testing.T) {
	c := openMock(t, fli.NewMockDriver())
	_, err := c.StartRecord(5)
	if !errors.Is(err, fli.ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

func TestConfigureRejectsBadDimensions(t *testing.T) {
	c := openMock(t, fli.NewMockDriver())
	if err := c.Configure(0, 512); !errors.Is(err, fli.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
	if err := c.Configure(math.MaxInt, 2); !errors.Is(err, fli.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig for an oversized frame, got %v", err)
	}
	if c.State() != fli.Idle {
		t.Errorf("expected Idle, got %v", c.State())
	}
}

func TestStartWhileAcquiring(t *testing.T) {
	drv := fli.NewMockDriver()
	c := openMock(t, drv)
	c.Configure(4, 4)
	s, err := c.StartRecord(2)
	if err != nil {
		t.Fatal(err)
	}
	drv.Deliver(filled(32, 9))
	_, err = c.StartRecord(3)
	if !errors.Is(err, fli.ErrAlreadyAcquiring) {
		t.Errorf("expected ErrAlreadyAcquiring, got %v", err)
	}
	if err := c.StartViewer(); !errors.Is(err, fli.ErrAlreadyAcquiring) {
		t.Errorf("expected ErrAlreadyAcquiring, got %v", err)
	}
	if c.Session() != s || s.Index() != 1 {
		t.Error("the running session was disturbed")
	}
	if err := c.Configure(8, 8); !errors.Is(err, fli.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}
	c.Stop()
}

func TestTagEnableFailure(t *testing.T) {
	drv := fli.NewMockDriver()
	drv.FailTag = true
	c := openMock(t, drv)
	c.Configure(4, 4)
	_, err := c.StartRecord(1)
	if !errors.Is(err, fli.ErrTagEnable) {
		t.Errorf("expected ErrTagEnable, got %v", err)
	}
	if c.State() != fli.Configured {
		t.Errorf("expected Configured, got %v", c.State())
	}
	if countCalls(drv.Calls(), "start 4x4") != 0 {
		t.Error("acquisition started after tag enable failed")
	}
}

func TestStartFailure(t *testing.T) {
	drv := fli.NewMockDriver()
	drv.FailStart = true
	c := openMock(t, drv)
	c.Configure(4, 4)
	if err := c.StartViewer(); !errors.Is(err, fli.ErrStartAcquisition) {
		t.Errorf("expected ErrStartAcquisition, got %v", err)
	}
	if c.State() != fli.Configured {
		t.Errorf("expected Configured, got %v", c.State())
	}
}

func TestStopIsIdempotent(t *testing.T) {
	drv := fli.NewMockDriver()
	c := openMock(t, drv)
	c.Stop()
	c.Configure(4, 4)
	c.StartViewer()
	c.Stop()
	c.Stop()
	if c.State() != fli.Idle {
		t.Errorf("expected Idle, got %v", c.State())
	}
	if drv.Acquiring() {
		t.Error("driver still acquiring")
	}
	if n := countCalls(drv.Calls(), "stop"); n != 3 {
		t.Errorf("expected every stop to reach the driver, got %d", n)
	}
}

func TestStopFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	drv := fli.NewMockDriver()
	drv.FailStop = true
	sdk := fli.NewSDK(drv, log.New(&buf, "", 0))
	sdk.Initialize()
	ctx, _ := sdk.Open()
	defer sdk.Finalize()
	c := fli.NewController(ctx)
	c.Configure(4, 4)
	c.StartViewer()
	c.Stop()
	if c.State() != fli.Idle {
		t.Errorf("expected Idle after a failed stop, got %v", c.State())
	}
	if !strings.Contains(buf.String(), "fli_usb_stopAcquisition") {
		t.Errorf("expected the failure to be logged, got %q", buf.String())
	}
}

func TestRecordFiveFrames(t *testing.T) {
	drv := fli.NewMockDriver()
	c := openMock(t, drv)
	if err := c.Configure(64, 64); err != nil {
		t.Fatal(err)
	}
	s, err := c.StartRecord(5)
	if err != nil {
		t.Fatal(err)
	}
	if s.Count() != 5 || s.FrameSize() != 8192 {
		t.Fatalf("unexpected session sizing %d frames of %d", s.Count(), s.FrameSize())
	}
	for i := 1; i <= 5; i++ {
		drv.Deliver(filled(8192, byte(i)))
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := fli.WaitForCapture(ctx, s, time.Millisecond); err != nil {
		t.Fatal(err)
	}
	c.Stop()

	fn := filepath.Join(t.TempDir(), "buffer.raw")
	if err := fli.SaveCapture(s, fn); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(fn)
	if err != nil {
		t.Fatal(err)
	}
	if len(b) != 40960 {
		t.Fatalf("expected 40960 bytes, got %d", len(b))
	}
	for i := 0; i < 5; i++ {
		if v, ok := uniform(b[i*8192 : (i+1)*8192]); !ok || v != byte(i+1) {
			t.Errorf("frame %d: expected bytes of %#x", i, i+1)
		}
	}
	st := c.Stats()
	if st.Captured != 5 || st.Delivered != 5 || st.State != "idle" {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestViewerLatest(t *testing.T) {
	drv := fli.NewMockDriver()
	c := openMock(t, drv)
	c.Configure(640, 512)
	if err := c.StartViewer(); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.LatestFrame(); ok {
		t.Error("expected no frame before the first delivery")
	}
	fs := fli.FrameSize(640, 512)
	for i := 1; i <= 12; i++ {
		drv.Deliver(filled(fs, byte(i)))
		f, ok := c.LatestFrame()
		if !ok {
			t.Fatalf("no frame after delivery %d", i)
		}
		if v, _ := uniform(f.Data); v != byte(i) {
			t.Errorf("after delivery %d latest holds %d", i, v)
		}
		if f.Width != 640 || f.Height != 512 {
			t.Errorf("unexpected dimensions %dx%d", f.Width, f.Height)
		}
	}
	dst := make([]byte, fs)
	f, ok := c.CopyLatestFrame(dst)
	if !ok || f.Seq != 12 {
		t.Fatalf("expected copy of frame 12, got seq %d ok=%v", f.Seq, ok)
	}
	if v, _ := uniform(dst); v != 12 {
		t.Errorf("copy holds %d", v)
	}
	c.Stop()
	f, ok = c.CopyLatestFrame(nil)
	if !ok || len(f.Data) != fs {
		t.Error("expected a fresh buffer when none is supplied")
	}
}

func TestLatestFrameOutsideViewer(t *testing.T) {
	drv := fli.NewMockDriver()
	c := openMock(t, drv)
	c.Configure(4, 4)
	c.StartViewer()
	drv.Deliver(filled(32, 1))
	c.Stop()
	c.Configure(4, 4)
	if _, err := c.StartRecord(1); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.LatestFrame(); ok {
		t.Error("expected no viewer frame during a recording")
	}
	c.Stop()
}

func TestFreeRunningCapture(t *testing.T) {
	drv := fli.NewMockDriver()
	drv.FPS = 1000
	c := openMock(t, drv)
	c.Configure(16, 8)
	s, err := c.StartRecord(20)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fli.WaitForCapture(ctx, s, time.Millisecond); err != nil {
		t.Fatal(err)
	}
	c.Stop()
	n := s.Index()
	time.Sleep(5 * time.Millisecond)
	if s.Index() != n || n != 20 {
		t.Errorf("expected exactly 20 frames, got %d then %d", n, s.Index())
	}
	f, _ := s.Frame(19)
	if len(f.Uint16()) != 16*8 {
		t.Errorf("unexpected pixel count %d", len(f.Uint16()))
	}
}

func TestConfigureFrom(t *testing.T) {
	c := openMock(t, fli.NewMockDriver())
	want := fli.Settings{Width: 320, Height: 256, FPS: 1200, Cropped: true}
	got, err := c.ConfigureFrom(fli.StaticSettings(want))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("settings mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(fli.AcquisitionConfig{Width: 320, Height: 256}, c.Config()); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestParseMode(t *testing.T) {
	m, err := fli.ParseMode("viewer")
	if err != nil || m != fli.Viewer {
		t.Errorf("expected viewer, got %v %v", m, err)
	}
	if _, err := fli.ParseMode("movie"); !errors.Is(err, fli.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}
