package fli

// Handle is an opaque camera context handle returned by the driver.
// The zero Handle is the null context.
type Handle uintptr

// FrameFunc receives one frame from the driver.  The slice is a view of
// driver-owned memory and is only valid until the function returns.
type FrameFunc func(frame []byte)

// DiagnosticFunc receives a diagnostic from the driver.  code carries the
// severity bitmask in its high bits.
type DiagnosticFunc func(code int, msg string)

// Driver is the call contract of the FLI USB SDK.  Package sdk implements it
// on top of libfliusbsdk; MockDriver implements it in pure Go.
//
// Frame and diagnostic functions are invoked on an execution context the
// application does not control.
type Driver interface {
	// Init initializes the SDK, reporting success
	Init() bool

	// Exit releases the SDK
	Exit()

	// Detect returns the number of cameras attached
	Detect() int

	// Open opens the camera at index, registering onDiag for diagnostics.
	// A zero Handle means the open failed.
	Open(index int, onDiag DiagnosticFunc) Handle

	// AssociatedPort returns the tty bound to the camera, or "" if none
	AssociatedPort(h Handle) string

	// EnableTagChecking toggles the driver's frame tag checking
	EnableTagChecking(h Handle, enable bool) bool

	// StartAcquisition begins asynchronous delivery of width x height frames
	// to onFrame
	StartAcquisition(h Handle, width, height int, onFrame FrameFunc) bool

	// StopAcquisition stops delivery.  When it returns, onFrame is no
	// longer running and will not be called again.
	StopAcquisition(h Handle) bool

	// Close releases the camera context
	Close(h Handle)
}
