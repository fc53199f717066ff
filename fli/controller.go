package fli

import (
	"fmt"
	"log"
	"sync"

	"github.com/pkg/errors"
)

// Mode selects where delivered frames go
type Mode int

const (
	// Record retains every frame, in order, in a CaptureSession
	Record Mode = iota

	// Viewer keeps the newest frames in a RingBuffer, dropping old ones
	Viewer
)

func (m Mode) String() string {
	switch m {
	case Record:
		return "record"
	case Viewer:
		return "viewer"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode converts "record" or "viewer" to a Mode
func ParseMode(s string) (Mode, error) {
	switch s {
	case "record", "Record":
		return Record, nil
	case "viewer", "Viewer":
		return Viewer, nil
	}
	return Record, errors.Wrapf(ErrInvalidConfig, "unknown mode %q", s)
}

// State is the lifecycle state of a Controller
type State int

const (
	// Idle is the state before Configure and after Stop
	Idle State = iota

	// Configured means dimensions are set and Start may be called
	Configured

	// Acquiring means the driver is delivering frames
	Acquiring
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Configured:
		return "configured"
	case Acquiring:
		return "acquiring"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// AcquisitionConfig holds the dimensions of one run
type AcquisitionConfig struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Stats summarises the current or last run
type Stats struct {
	State     string `json:"state"`
	Mode      string `json:"mode"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
	Captured  int    `json:"captured"`
	Count     int    `json:"count"`
}

// Controller drives acquisition on one camera context.
//
// mu serializes application calls (Configure, Start, Stop, reads).  The frame
// callback never takes it: it only sees the FrameDispatch built at Start.
type Controller struct {
	ctx    *Context
	logger *log.Logger

	mu       sync.Mutex
	state    State
	mode     Mode
	cfg      AcquisitionConfig
	run      AcquisitionConfig
	ring     *RingBuffer
	session  *CaptureSession
	dispatch *FrameDispatch
}

// NewController returns an Idle controller that owns ctx
func NewController(ctx *Context) *Controller {
	return &Controller{ctx: ctx, logger: ctx.logger()}
}

// Configure stores the frame dimensions for the next run.  It does not touch
// the hardware.
func (c *Controller) Configure(width, height int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Acquiring {
		return errors.Wrap(ErrInvalidState, "configure")
	}
	if _, ok := bufferSize(width, height, 1); !ok {
		return errors.Wrapf(ErrInvalidConfig, "dimensions %dx%d", width, height)
	}
	c.cfg = AcquisitionConfig{Width: width, Height: height}
	c.state = Configured
	return nil
}

// StartViewer starts acquisition into the ring buffer
func (c *Controller) StartViewer() error {
	_, err := c.Start(Viewer, 0)
	return err
}

// StartRecord starts acquisition of count frames into a fresh session
func (c *Controller) StartRecord(count int) (*CaptureSession, error) {
	return c.Start(Record, count)
}

// Start enables tag checking, binds the frame callback for mode and starts
// the driver.  count is only used in Record mode.  Frames arrive
// asynchronously after Start returns.  On failure the controller stays
// Configured.
func (c *Controller) Start(mode Mode, count int) (*CaptureSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case Acquiring:
		return nil, errors.WithStack(ErrAlreadyAcquiring)
	case Idle:
		return nil, errors.WithStack(ErrNotConfigured)
	}
	h := c.ctx.Handle()
	if h == 0 {
		return nil, errors.WithStack(ErrInvalidContext)
	}
	drv := c.ctx.driver()

	if err := enrich(drv.EnableTagChecking(h, true), "fli_usb_checkTagEnable", ErrTagEnable); err != nil {
		return nil, errors.WithStack(err)
	}
	c.logger.Println("Tag checking enabled")

	var (
		sink    FrameSink
		session *CaptureSession
		fs      = FrameSize(c.cfg.Width, c.cfg.Height)
	)
	switch mode {
	case Viewer:
		if c.ring == nil {
			c.ring = NewRingBuffer(fs)
		} else {
			c.ring.Reset(fs)
		}
		sink = c.ring
	case Record:
		var err error
		session, err = NewCaptureSession(c.cfg.Width, c.cfg.Height, count)
		if err != nil {
			return nil, err
		}
		sink = session
	default:
		return nil, errors.Wrapf(ErrInvalidConfig, "unknown mode %v", mode)
	}
	dispatch := NewFrameDispatch(sink)

	ok := drv.StartAcquisition(h, c.cfg.Width, c.cfg.Height, dispatch.Deliver)
	if err := enrich(ok, "fli_usb_startAcquisition", ErrStartAcquisition); err != nil {
		return nil, errors.WithStack(err)
	}
	c.mode = mode
	c.run = c.cfg
	c.dispatch = dispatch
	if mode == Record {
		c.session = session
		c.logger.Printf("Acquisition started, recording %d frames at %dx%d (session %s)\n",
			count, c.cfg.Width, c.cfg.Height, session.ID)
	} else {
		c.logger.Printf("Acquisition started, viewing at %dx%d\n", c.cfg.Width, c.cfg.Height)
	}
	c.state = Acquiring
	return session, nil
}

// Stop stops acquisition.  The driver's stop is issued whenever the context
// is valid, even if no run was confirmed, and a failure is logged rather
// than returned so that teardown always proceeds.  The controller is Idle
// afterwards.  Stop is idempotent.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.ctx.Handle()
	if h != 0 {
		if c.ctx.driver().StopAcquisition(h) {
			if c.state == Acquiring {
				c.logger.Println("Camera acquisition stopped.")
			}
		} else {
			c.logger.Println(DriverError{Procedure: "fli_usb_stopAcquisition", Kind: errors.New("failed to stop acquisition")})
		}
	}
	c.state = Idle
}

// State returns the lifecycle state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Mode returns the mode of the current or last run
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Config returns the stored dimensions
func (c *Controller) Config() AcquisitionConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// Session returns the capture session of the current or last Record run
func (c *Controller) Session() *CaptureSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Context returns the camera context the controller owns
func (c *Controller) Context() *Context {
	return c.ctx
}

// LatestFrame returns the newest complete frame in the ring.  ok is false if
// the viewer has not received a frame yet (or never ran).  It never blocks
// on the producer.  Data aliases the ring slot and is valid until the
// writer laps it; use CopyLatestFrame to keep a frame.
func (c *Controller) LatestFrame() (Frame, bool) {
	c.mu.Lock()
	ring, cfg, mode := c.ring, c.run, c.mode
	c.mu.Unlock()
	if ring == nil || mode != Viewer {
		return Frame{}, false
	}
	data, seq, ok := ring.Latest()
	if !ok {
		return Frame{}, false
	}
	return Frame{Seq: seq, Width: cfg.Width, Height: cfg.Height, Data: data}, true
}

// CopyLatestFrame copies the newest complete frame into dst, allocating a
// new buffer if dst cannot hold one frame.  The copy is never a mixture of
// two deliveries.
func (c *Controller) CopyLatestFrame(dst []byte) (Frame, bool) {
	c.mu.Lock()
	ring, cfg, mode := c.ring, c.run, c.mode
	c.mu.Unlock()
	if ring == nil || mode != Viewer {
		return Frame{}, false
	}
	if len(dst) < ring.FrameSize() {
		dst = make([]byte, ring.FrameSize())
	}
	dst = dst[:ring.FrameSize()]
	seq, ok := ring.CopyLatest(dst)
	if !ok {
		return Frame{}, false
	}
	return Frame{Seq: seq, Width: cfg.Width, Height: cfg.Height, Data: dst}, true
}

// Stats reports counters for the current or last run
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Stats{
		State:  c.state.String(),
		Mode:   c.mode.String(),
		Width:  c.cfg.Width,
		Height: c.cfg.Height,
	}
	if c.dispatch != nil {
		st.Delivered = c.dispatch.Delivered()
		st.Dropped = c.dispatch.Dropped()
	}
	if c.mode == Record && c.session != nil {
		st.Captured = c.session.Index()
		st.Count = c.session.Count()
	}
	return st
}
