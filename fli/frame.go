package fli

import (
	"encoding/binary"
	"image"
	"math"
)

const (
	// BytesPerPixel is the size of one pixel as delivered by the camera
	BytesPerPixel = 2

	// DefaultWidth is the full-frame sensor width, used when cropping is off
	DefaultWidth = 640

	// DefaultHeight is the full-frame sensor height, used when cropping is off
	DefaultHeight = 512
)

// FrameSize is the number of bytes in one width x height frame
func FrameSize(width, height int) int {
	return width * height * BytesPerPixel
}

// bufferSize is the size of count frames of width x height in bytes.  ok is
// false if any argument is not positive or the size does not fit in an int.
func bufferSize(width, height, count int) (n int, ok bool) {
	if width <= 0 || height <= 0 || count <= 0 {
		return 0, false
	}
	if height > math.MaxInt/BytesPerPixel/width {
		return 0, false
	}
	fs := FrameSize(width, height)
	if count > math.MaxInt/fs {
		return 0, false
	}
	return fs * count, true
}

// Frame is a read-side view of one frame.  Data is row-major 16-bit
// little-endian pixels, exactly as the driver delivered them.
type Frame struct {
	// Seq is the 1-based delivery number within the run
	Seq uint64

	// Width is the width in pixels
	Width int

	// Height is the height in pixels
	Height int

	// Data holds Width*Height*2 bytes
	Data []byte
}

// Uint16 decodes the frame into pixel values
func (f Frame) Uint16() []uint16 {
	n := len(f.Data) / BytesPerPixel
	out := make([]uint16, n)
	for i := 0; i < n; i++ {
		out[i] = binary.LittleEndian.Uint16(f.Data[i*2:])
	}
	return out
}

// Gray16 converts the frame to an image.  image.Gray16 stores big-endian
// pixels, so this always copies.
func (f Frame) Gray16() *image.Gray16 {
	im := image.NewGray16(image.Rect(0, 0, f.Width, f.Height))
	n := len(f.Data) / BytesPerPixel
	if n > len(im.Pix)/2 {
		n = len(im.Pix) / 2
	}
	for i := 0; i < n; i++ {
		im.Pix[2*i] = f.Data[2*i+1]
		im.Pix[2*i+1] = f.Data[2*i]
	}
	return im
}
