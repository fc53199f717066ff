/*Package fli acquires frames from First Light Imaging USB infrared cameras.

The package is the acquisition engine: it owns the camera context, starts and
stops acquisition in one of two modes, and receives frames from the driver's
own delivery thread while application code reads them.

  - Viewer mode writes into a RingBuffer of RingSize slots.  The newest
    complete frame is always available; old frames are overwritten.
  - Record mode writes into a CaptureSession sized for an exact number of
    frames.  Every frame is kept, in order; frames after the last are
    discarded.

The driver itself is reached through the Driver interface.  Package
fli/sdk implements it with cgo on top of libfliusbsdk, and MockDriver
implements it in Go.  A session looks like

	sdk := fli.NewSDK(drv, nil)
	defer sdk.Finalize()
	if err := sdk.Initialize(); err != nil {
		return err
	}
	cam, err := sdk.Open()
	if err != nil {
		return err
	}
	defer cam.Close()

	ctl := fli.NewController(cam)
	ctl.Configure(640, 512)
	sess, err := ctl.StartRecord(400)
	if err != nil {
		return err
	}
	err = fli.WaitForCapture(ctx, sess, 0)
	ctl.Stop()
	if err != nil {
		return err
	}
	return fli.SaveCapture(sess, "out.raw")

WithContext wraps the first half of this for callers that want the camera
released on every return path.

We do not support multiple cameras; index 0 is always opened.
*/
package fli
