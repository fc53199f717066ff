package fli

import (
	"errors"
	"fmt"
)

var (
	// ErrSDKInit is generated when fli_usb_init does not report success,
	// or when a context is requested before the SDK was initialized
	ErrSDKInit = errors.New("fli: failed to initialize the USB SDK")

	// ErrNoDevice is generated when device detection finds zero cameras
	ErrNoDevice = errors.New("fli: no cameras detected")

	// ErrContextOpen is generated when the driver returns a null camera context
	ErrContextOpen = errors.New("fli: failed to open camera")

	// ErrInvalidContext is generated when an operation needs a live camera
	// context and there is none, or it has been closed
	ErrInvalidContext = errors.New("fli: invalid camera context")

	// ErrTagEnable is generated when the driver rejects enabling tag checking
	ErrTagEnable = errors.New("fli: failed to enable tag checking")

	// ErrStartAcquisition is generated when the driver rejects the start call
	ErrStartAcquisition = errors.New("fli: failed to start acquisition")

	// ErrAlreadyAcquiring is generated when Start is called during an acquisition
	ErrAlreadyAcquiring = errors.New("fli: acquisition already running")

	// ErrNotConfigured is generated when Start is called before Configure
	ErrNotConfigured = errors.New("fli: acquisition not configured")

	// ErrInvalidState is generated when Configure is called during an acquisition
	ErrInvalidState = errors.New("fli: operation not permitted while acquiring")

	// ErrInvalidConfig is generated for non-positive dimensions or frame counts
	ErrInvalidConfig = errors.New("fli: invalid acquisition configuration")

	// ErrIO is generated when a capture cannot be written out
	ErrIO = errors.New("fli: i/o error")
)

// DriverError carries the name of the native procedure that reported failure.
// It unwraps to one of the sentinel errors above so callers can use errors.Is.
type DriverError struct {
	// Procedure is the SDK function, e.g. fli_usb_startAcquisition
	Procedure string

	// Kind is the sentinel this failure belongs to
	Kind error
}

// Error satisfies the error interface
func (e DriverError) Error() string {
	return fmt.Sprintf("%s: %v", e.Procedure, e.Kind)
}

// Unwrap returns the sentinel kind
func (e DriverError) Unwrap() error {
	return e.Kind
}

// IOError is generated when a capture cannot be written out.  It matches both
// ErrIO and the underlying error, so errors.Is works for either.
type IOError struct {
	// Op is what was being done, e.g. "creating"
	Op string

	// Path is the file involved, if any
	Path string

	Err error
}

// Error satisfies the error interface
func (e *IOError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%v: %s: %v", ErrIO, e.Op, e.Err)
	}
	return fmt.Sprintf("%v: %s %s: %v", ErrIO, e.Op, e.Path, e.Err)
}

// Unwrap returns ErrIO and the cause
func (e *IOError) Unwrap() []error {
	return []error{ErrIO, e.Err}
}

// enrich produces a DriverError when ok is false, and nil otherwise
func enrich(ok bool, procedure string, kind error) error {
	if ok {
		return nil
	}
	return DriverError{Procedure: procedure, Kind: kind}
}
