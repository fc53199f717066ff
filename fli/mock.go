package fli

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// mockHandle is the context handle the mock hands out
const mockHandle Handle = 0xf11

// MockDriver is a pure-Go Driver for tests and for running without a camera.
// Failure flags make the corresponding call report failure.
//
// With FPS == 0 frames are only produced by Deliver, synchronously, on the
// caller's goroutine.  With FPS > 0 StartAcquisition launches a generator
// goroutine that emits ramp frames at that rate until StopAcquisition, which
// waits for it to exit, the same guarantee the real driver gives.
type MockDriver struct {
	sync.Mutex

	// Devices is the number of cameras Detect reports
	Devices int

	// Port is the tty reported by AssociatedPort
	Port string

	// FPS is the free-running frame rate, 0 to disable
	FPS float64

	FailInit  bool
	FailOpen  bool
	FailTag   bool
	FailStart bool
	FailStop  bool

	calls     []string
	open      bool
	acquiring bool
	width     int
	height    int
	onDiag    DiagnosticFunc
	onFrame   FrameFunc
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewMockDriver returns a mock with one camera on /dev/ttyACM0
func NewMockDriver() *MockDriver {
	return &MockDriver{Devices: 1, Port: "/dev/ttyACM0"}
}

func (m *MockDriver) record(format string, args ...interface{}) {
	m.calls = append(m.calls, fmt.Sprintf(format, args...))
}

// Init satisfies Driver
func (m *MockDriver) Init() bool {
	m.Lock()
	defer m.Unlock()
	m.record("init")
	return !m.FailInit
}

// Exit satisfies Driver
func (m *MockDriver) Exit() {
	m.Lock()
	defer m.Unlock()
	m.record("exit")
}

// Detect satisfies Driver
func (m *MockDriver) Detect() int {
	m.Lock()
	defer m.Unlock()
	m.record("detect")
	return m.Devices
}

// Open satisfies Driver
func (m *MockDriver) Open(index int, onDiag DiagnosticFunc) Handle {
	m.Lock()
	defer m.Unlock()
	m.record("open %d", index)
	if m.FailOpen || index >= m.Devices {
		return 0
	}
	m.open = true
	m.onDiag = onDiag
	return mockHandle
}

// AssociatedPort satisfies Driver
func (m *MockDriver) AssociatedPort(h Handle) string {
	m.Lock()
	defer m.Unlock()
	m.record("tty")
	if h != mockHandle || !m.open {
		return ""
	}
	return m.Port
}

// EnableTagChecking satisfies Driver
func (m *MockDriver) EnableTagChecking(h Handle, enable bool) bool {
	m.Lock()
	defer m.Unlock()
	m.record("tag %v", enable)
	return h == mockHandle && m.open && !m.FailTag
}

// StartAcquisition satisfies Driver
func (m *MockDriver) StartAcquisition(h Handle, width, height int, onFrame FrameFunc) bool {
	m.Lock()
	defer m.Unlock()
	m.record("start %dx%d", width, height)
	if h != mockHandle || !m.open || m.FailStart || m.acquiring {
		return false
	}
	m.width, m.height = width, height
	m.onFrame = onFrame
	m.acquiring = true
	if m.FPS > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		m.cancel = cancel
		m.wg.Add(1)
		go m.generate(ctx, rate.NewLimiter(rate.Limit(m.FPS), 1), width, height, onFrame)
	}
	return true
}

// generate emits ramp frames into one reused buffer, the way the driver
// reuses its own transfer memory
func (m *MockDriver) generate(ctx context.Context, lim *rate.Limiter, width, height int, onFrame FrameFunc) {
	defer m.wg.Done()
	buf := make([]byte, FrameSize(width, height))
	var seq uint16
	for {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		seq++
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				i := 2 * (y*width + x)
				binary.LittleEndian.PutUint16(buf[i:], uint16(x+y)*64+seq)
			}
		}
		onFrame(buf)
	}
}

// StopAcquisition satisfies Driver.  The generator, if any, has exited when
// it returns.
func (m *MockDriver) StopAcquisition(h Handle) bool {
	m.Lock()
	m.record("stop")
	cancel := m.cancel
	m.cancel = nil
	m.Unlock()
	if cancel != nil {
		cancel()
		m.wg.Wait()
	}
	m.Lock()
	defer m.Unlock()
	m.acquiring = false
	m.onFrame = nil
	return h == mockHandle && !m.FailStop
}

// Close satisfies Driver
func (m *MockDriver) Close(h Handle) {
	m.Lock()
	defer m.Unlock()
	m.record("close")
	m.open = false
	m.onDiag = nil
}

// Deliver hands frame to the registered frame callback on the caller's
// goroutine, as the driver's delivery thread would.  It reports false if no
// acquisition is running.  Do not combine with FPS > 0.
func (m *MockDriver) Deliver(frame []byte) bool {
	m.Lock()
	fn := m.onFrame
	m.Unlock()
	if fn == nil {
		return false
	}
	fn(frame)
	return true
}

// Diagnose sends a diagnostic through the callback registered at Open
func (m *MockDriver) Diagnose(code int, msg string) bool {
	m.Lock()
	fn := m.onDiag
	m.Unlock()
	if fn == nil {
		return false
	}
	fn(code, msg)
	return true
}

// Acquiring reports if StartAcquisition succeeded without a later stop
func (m *MockDriver) Acquiring() bool {
	m.Lock()
	defer m.Unlock()
	return m.acquiring
}

// Calls returns the driver calls made so far, in order
func (m *MockDriver) Calls() []string {
	m.Lock()
	defer m.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}
