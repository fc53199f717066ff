package camera

import (
	"encoding/binary"
	"io"

	"github.com/astrogo/fitsio"
	"github.com/pkg/errors"

	"github.com/nasa-jpl/fliacq/fli"
)

// WriteFits streams frames to w as a FITS image, or a cube if there is more
// than one.  All frames must share the first frame's dimensions.  Pixels are
// stored as int16 with BZERO 32768 so the unsigned camera data round-trips.
func WriteFits(w io.Writer, metadata []fitsio.Card, frames []fli.Frame) error {
	if len(frames) == 0 {
		return errors.New("no frames to write")
	}
	metadata = append(metadata, fitsio.Card{Name: "BZERO", Value: 32768}, fitsio.Card{Name: "BSCALE", Value: 1.0})
	width, height := frames[0].Width, frames[0].Height
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	dims := []int{width, height}
	if len(frames) > 1 {
		dims = append(dims, len(frames))
	}
	im := fitsio.NewImage(16, dims)
	defer im.Close()
	err = im.Header().Append(metadata...)
	if err != nil {
		return err
	}

	npix := width * height
	ints := make([]int16, npix*len(frames))
	offset := 0
	for _, f := range frames {
		if f.Width != width || f.Height != height || len(f.Data) < 2*npix {
			return errors.Errorf("frame %d is %dx%d, expected %dx%d", f.Seq, f.Width, f.Height, width, height)
		}
		for idx := 0; idx < npix; idx++ {
			u := binary.LittleEndian.Uint16(f.Data[2*idx:])
			ints[offset+idx] = int16(u - 32768)
		}
		offset += npix
	}
	err = im.Write(ints)
	if err != nil {
		return err
	}
	return fits.Write(im)
}
