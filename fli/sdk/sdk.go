//go:build fliusbsdk

package sdk

/*
#cgo CFLAGS: -I/opt/first_light_imaging/fliusbsdk/include
#cgo LDFLAGS: -L/opt/first_light_imaging/fliusbsdk/lib -lfliusbsdk
#include <stdint.h>
#include <stdlib.h>
#include "shim.h"
*/
import "C"
import (
	"sync"
	"unsafe"

	pointer "github.com/mattn/go-pointer"

	"github.com/nasa-jpl/fliacq/fli"
)

// run is what the frame trampoline needs for one acquisition
type run struct {
	size    int
	onFrame fli.FrameFunc
}

// camera tracks the C context and the Go objects pinned for it
type camera struct {
	ptr  unsafe.Pointer
	diag unsafe.Pointer
	run  unsafe.Pointer
}

//export goErrorCallback
func goErrorCallback(user unsafe.Pointer, code C.int, msg *C.char) {
	if user == nil {
		return
	}
	fn, ok := pointer.Restore(user).(fli.DiagnosticFunc)
	if !ok || fn == nil {
		return
	}
	fn(int(code), C.GoString(msg))
}

//export goFrameCallback
func goFrameCallback(user unsafe.Pointer, data *C.uint8_t, status C.int) {
	if user == nil || data == nil {
		return
	}
	r, ok := pointer.Restore(user).(*run)
	if !ok || r == nil {
		return
	}
	// the SDK reports a status, not a length; a frame is always the
	// configured size
	r.onFrame(unsafe.Slice((*byte)(unsafe.Pointer(data)), r.size))
}

// Driver is the libfliusbsdk implementation of fli.Driver
type Driver struct {
	mu   sync.Mutex
	cams map[fli.Handle]*camera
}

// New returns a Driver.  Nothing is called in the SDK until Init.
func New() *Driver {
	return &Driver{cams: make(map[fli.Handle]*camera)}
}

func (d *Driver) lookup(h fli.Handle) *camera {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cams[h]
}

// Init calls fli_usb_init
func (d *Driver) Init() bool {
	return C.fli_usb_init() == 1
}

// Exit calls fli_usb_exit
func (d *Driver) Exit() {
	C.fli_usb_exit()
}

// Detect calls fli_usb_detect
func (d *Driver) Detect() int {
	return int(C.fli_usb_detect())
}

// Open calls fli_usb_open, registering onDiag as the error callback
func (d *Driver) Open(index int, onDiag fli.DiagnosticFunc) fli.Handle {
	var token unsafe.Pointer
	if onDiag != nil {
		token = pointer.Save(onDiag)
	}
	ptr := C.fliacq_open(C.int(index), token)
	if ptr == nil {
		if token != nil {
			pointer.Unref(token)
		}
		return 0
	}
	h := fli.Handle(uintptr(ptr))
	d.mu.Lock()
	d.cams[h] = &camera{ptr: ptr, diag: token}
	d.mu.Unlock()
	return h
}

// AssociatedPort calls fli_usb_get_associated_tty
func (d *Driver) AssociatedPort(h fli.Handle) string {
	cam := d.lookup(h)
	if cam == nil {
		return ""
	}
	tty := C.fli_usb_get_associated_tty(cam.ptr)
	if tty == nil {
		return ""
	}
	// the string belongs to the SDK
	return C.GoString(tty)
}

// EnableTagChecking calls fli_usb_checkTagEnable
func (d *Driver) EnableTagChecking(h fli.Handle, enable bool) bool {
	cam := d.lookup(h)
	if cam == nil {
		return false
	}
	var e C.int
	if enable {
		e = 1
	}
	return C.fli_usb_checkTagEnable(cam.ptr, e) == 1
}

// StartAcquisition calls fli_usb_startAcquisition.  onFrame receives a view
// of exactly one frame of SDK memory.
func (d *Driver) StartAcquisition(h fli.Handle, width, height int, onFrame fli.FrameFunc) bool {
	cam := d.lookup(h)
	if cam == nil || onFrame == nil {
		return false
	}
	token := pointer.Save(&run{size: fli.FrameSize(width, height), onFrame: onFrame})
	if C.fliacq_start(cam.ptr, C.int(width), C.int(height), token) != 1 {
		pointer.Unref(token)
		return false
	}
	d.mu.Lock()
	old := cam.run
	cam.run = token
	d.mu.Unlock()
	if old != nil {
		pointer.Unref(old)
	}
	return true
}

// StopAcquisition calls fli_usb_stopAcquisition.  No frame callback runs
// after it returns, so the run's pinned callback is released.
func (d *Driver) StopAcquisition(h fli.Handle) bool {
	cam := d.lookup(h)
	if cam == nil {
		return false
	}
	ok := C.fli_usb_stopAcquisition(cam.ptr) == 1
	if ok {
		d.mu.Lock()
		token := cam.run
		cam.run = nil
		d.mu.Unlock()
		if token != nil {
			pointer.Unref(token)
		}
	}
	return ok
}

// Close calls fli_usb_close and releases everything pinned for h
func (d *Driver) Close(h fli.Handle) {
	d.mu.Lock()
	cam := d.cams[h]
	delete(d.cams, h)
	d.mu.Unlock()
	if cam == nil {
		return
	}
	C.fli_usb_close(cam.ptr)
	for _, token := range []unsafe.Pointer{cam.run, cam.diag} {
		if token != nil {
			pointer.Unref(token)
		}
	}
}

var _ fli.Driver = (*Driver)(nil)
