package fli

import (
	"log"
	"sync"

	"github.com/pkg/errors"
)

// SDK owns one-time initialization of the driver and the single camera
// context it may have open.  It replaces process-global SDK state with an
// object whose lifetime the caller controls.
type SDK struct {
	drv    Driver
	logger *log.Logger

	mu          sync.Mutex
	initialized bool
	ctx         *Context
}

// NewSDK wraps a driver.  A nil logger uses log.Default().
func NewSDK(drv Driver, logger *log.Logger) *SDK {
	if logger == nil {
		logger = log.Default()
	}
	return &SDK{drv: drv, logger: logger}
}

// Initialize initializes the driver.  It is idempotent: after one success,
// later calls return nil without touching the driver.  A failure is not
// cached, so Initialize may be retried.
func (s *SDK) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return nil
	}
	if err := enrich(s.drv.Init(), "fli_usb_init", ErrSDKInit); err != nil {
		return errors.WithStack(err)
	}
	s.initialized = true
	s.logger.Println("SDK initialized successfully.")
	return nil
}

// Initialized reports if Initialize has succeeded
func (s *SDK) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// Open detects cameras and opens the one at index 0.  If a context is
// already open it is returned as-is; there is never more than one.
func (s *SDK) Open() (*Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return nil, errors.Wrap(ErrSDKInit, "open before initialize")
	}
	if s.ctx != nil && !s.ctx.closed {
		s.logger.Println("Camera context already initialized.")
		return s.ctx, nil
	}
	n := s.drv.Detect()
	if n <= 0 {
		return nil, errors.WithStack(ErrNoDevice)
	}
	s.logger.Printf("%d camera(s) detected\n", n)

	diag := NewDiagnostics(s.logger)
	go diag.Run()
	h := s.drv.Open(0, diag.Report)
	if h == 0 {
		diag.Close()
		return nil, errors.WithStack(enrich(false, "fli_usb_open", ErrContextOpen))
	}
	s.logger.Printf("Camera opened successfully, cam_ctx: %#x\n", uintptr(h))

	port := s.drv.AssociatedPort(h)
	if port == "" {
		s.logger.Println("no TTY associated with the camera context; the configuration console will not be found automatically")
	} else {
		s.logger.Printf("Associated TTY: %s\n", port)
	}
	s.ctx = &Context{sdk: s, handle: h, port: port, diag: diag}
	return s.ctx, nil
}

// Finalize closes any open context and releases the driver.  It is safe to
// call more than once.
func (s *SDK) Finalize() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx != nil {
		s.ctx.closeLocked()
		s.ctx = nil
	}
	if s.initialized {
		s.drv.Exit()
		s.initialized = false
	}
}

// Context is an open camera session.  It is valid from a successful
// SDK.Open until Close.
type Context struct {
	sdk    *SDK
	handle Handle
	port   string
	diag   *Diagnostics
	closed bool
}

// Handle returns the driver handle, or 0 if the context is not valid
func (c *Context) Handle() Handle {
	if !c.Valid() {
		return 0
	}
	return c.handle
}

// Port is the tty associated with the camera, "" if the driver had none
func (c *Context) Port() string {
	if c == nil {
		return ""
	}
	return c.port
}

// Valid reports if the context is open
func (c *Context) Valid() bool {
	if c == nil || c.sdk == nil {
		return false
	}
	c.sdk.mu.Lock()
	defer c.sdk.mu.Unlock()
	return !c.closed && c.handle != 0
}

// Diagnostics is the sink registered with the driver at open
func (c *Context) Diagnostics() *Diagnostics {
	if c == nil {
		return nil
	}
	return c.diag
}

func (c *Context) driver() Driver {
	return c.sdk.drv
}

func (c *Context) logger() *log.Logger {
	if c == nil || c.sdk == nil {
		return log.Default()
	}
	return c.sdk.logger
}

// Close releases the camera.  Closing a nil, never-opened or already closed
// context does nothing.
func (c *Context) Close() error {
	if c == nil || c.sdk == nil {
		return nil
	}
	c.sdk.mu.Lock()
	defer c.sdk.mu.Unlock()
	c.closeLocked()
	if c.sdk.ctx == c {
		c.sdk.ctx = nil
	}
	return nil
}

func (c *Context) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	if c.handle != 0 {
		c.sdk.drv.Close(c.handle)
	}
	if c.diag != nil {
		c.diag.Close()
	}
	c.sdk.logger.Println("Camera context closed.")
}

// WithContext initializes the SDK, opens the camera and runs fn with the
// context.  The context is closed and the SDK finalized on every return
// path, including when fn fails or panics.
func WithContext(drv Driver, logger *log.Logger, fn func(*Context) error) error {
	sdk := NewSDK(drv, logger)
	defer sdk.Finalize()
	if err := sdk.Initialize(); err != nil {
		return err
	}
	ctx, err := sdk.Open()
	if err != nil {
		return err
	}
	defer ctx.Close()
	return fn(ctx)
}
