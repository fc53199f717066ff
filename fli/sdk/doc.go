/*Package sdk binds the First Light Imaging USB SDK (libfliusbsdk) to the
fli.Driver interface.

The SDK delivers frames and diagnostics on its own threads through C
function pointers.  Small C trampolines in shim.c forward them to exported
Go functions, which look up the Go callbacks through the user pointer the
SDK hands back on every call.

The binding needs the SDK headers and library at build time, so it is only
compiled with the fliusbsdk build tag:

	go build -tags fliusbsdk ./cmd/flicam
*/
package sdk

// WRAPVER is the wrapper code version.
// Increment this when pkg sdk is updated.
const WRAPVER = 1
