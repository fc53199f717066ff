package fli

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
)

// FrameSink is the buffer a run writes into: *RingBuffer in Viewer mode,
// *CaptureSession in Record mode.  Write must copy the frame before it
// returns and report whether the frame was kept.
type FrameSink interface {
	Write(frame []byte) bool
}

// FrameDispatch is the producer boundary between the driver's delivery
// thread and the buffer subsystem.  Its sink is fixed when it is created and
// held for the whole run.  Deliver takes no locks, does no I/O and does not
// log, so it can never stall the driver.
type FrameDispatch struct {
	sink      FrameSink
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// NewFrameDispatch binds a dispatch to sink
func NewFrameDispatch(sink FrameSink) *FrameDispatch {
	return &FrameDispatch{sink: sink}
}

// Deliver is the frame callback.  frame is driver memory and is not
// retained past the call.
func (d *FrameDispatch) Deliver(frame []byte) {
	d.delivered.Add(1)
	if !d.sink.Write(frame) {
		d.dropped.Add(1)
	}
}

// Delivered is the number of frames the driver handed over
func (d *FrameDispatch) Delivered() uint64 {
	return d.delivered.Load()
}

// Dropped is the number of delivered frames the sink did not keep
func (d *FrameDispatch) Dropped() uint64 {
	return d.dropped.Load()
}

// Severity classifies a driver diagnostic
type Severity int

const (
	// SeverityUnknown is any code without a recognised level bit
	SeverityUnknown Severity = iota

	// SeverityInfo is FLI_USB_ERROR_LEVEL_INFO
	SeverityInfo

	// SeverityWarning is FLI_USB_ERROR_LEVEL_WARNING
	SeverityWarning

	// SeverityError is FLI_USB_ERROR_LEVEL_ERROR
	SeverityError
)

// level bits of the diagnostic code, from the SDK documentation
const (
	LevelError   = 0x8000
	LevelWarning = 0x4000
	LevelInfo    = 0x2000
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "Critical error"
	case SeverityWarning:
		return "Warning"
	case SeverityInfo:
		return "Info"
	default:
		return "Unknown"
	}
}

// ClassifySeverity maps a diagnostic code to a Severity.  The highest level
// bit wins.
func ClassifySeverity(code int) Severity {
	switch {
	case code&LevelError != 0:
		return SeverityError
	case code&LevelWarning != 0:
		return SeverityWarning
	case code&LevelInfo != 0:
		return SeverityInfo
	default:
		return SeverityUnknown
	}
}

// ErrorEvent is one diagnostic reported by the driver.  It is informational
// and never changes acquisition state.
type ErrorEvent struct {
	Severity Severity
	Code     int
	Message  string
}

func (e ErrorEvent) String() string {
	return fmt.Sprintf("%s: code %d - %s", e.Severity, e.Code, e.Message)
}

// diagnosticsBacklog is how many events may wait for the logger
const diagnosticsBacklog = 64

// Diagnostics receives driver diagnostics and forwards them to a logger.
// The callback side only offers the event to a buffered channel; a separate
// goroutine does the logging, so a slow log writer never blocks the driver.
// Events that do not fit are counted and discarded.
type Diagnostics struct {
	events  chan ErrorEvent
	lost    atomic.Uint64
	closed  atomic.Bool
	logger  *log.Logger
	done    chan struct{}
	closing sync.Once

	// OnEvent, if set before Run, is called by the drain goroutine for
	// every event after it is logged
	OnEvent func(ErrorEvent)
}

// NewDiagnostics returns a Diagnostics logging to logger
func NewDiagnostics(logger *log.Logger) *Diagnostics {
	if logger == nil {
		logger = log.Default()
	}
	return &Diagnostics{
		events: make(chan ErrorEvent, diagnosticsBacklog),
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Report is the diagnostic callback
func (d *Diagnostics) Report(code int, msg string) {
	if d.closed.Load() {
		d.lost.Add(1)
		return
	}
	ev := ErrorEvent{Severity: ClassifySeverity(code), Code: code, Message: msg}
	select {
	case d.events <- ev:
	default:
		d.lost.Add(1)
	}
}

// Lost is the number of events discarded because the backlog was full
func (d *Diagnostics) Lost() uint64 {
	return d.lost.Load()
}

// Run drains events to the logger until Close.  It is started by the
// context manager.
func (d *Diagnostics) Run() {
	defer close(d.done)
	for ev := range d.events {
		d.logger.Println(ev)
		if d.OnEvent != nil {
			d.OnEvent(ev)
		}
	}
}

// Close stops accepting events and waits for the backlog to be logged.
// The driver must no longer be able to call Report, and Run must have been
// started.
func (d *Diagnostics) Close() {
	d.closing.Do(func() {
		d.closed.Store(true)
		close(d.events)
		<-d.done
	})
}
