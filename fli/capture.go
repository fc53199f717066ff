package fli

import (
	"context"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// DefaultPollInterval is how often WaitForCapture checks for completion
// when the caller does not provide an interval
const DefaultPollInterval = 10 * time.Millisecond

// CaptureSession accumulates exactly Count frames, in order, into one linear
// buffer.  index is advanced only by the frame callback, after the frame has
// been copied; it never exceeds count and is the only completion signal.
type CaptureSession struct {
	// ID identifies the run in logs and file metadata
	ID uuid.UUID

	width     int
	height    int
	frameSize int
	count     int
	buffer    []byte

	index    atomic.Int64
	surplus  atomic.Uint64
	rejected atomic.Uint64
}

// NewCaptureSession allocates a session for count frames of width x height
func NewCaptureSession(width, height, count int) (*CaptureSession, error) {
	n, ok := bufferSize(width, height, count)
	if !ok {
		return nil, errors.Wrapf(ErrInvalidConfig, "capture of %d frames at %dx%d", count, width, height)
	}
	return &CaptureSession{
		ID:        uuid.New(),
		width:     width,
		height:    height,
		frameSize: FrameSize(width, height),
		count:     count,
		buffer:    make([]byte, n),
	}, nil
}

// Write copies frame into the next position of the buffer.  Once count
// frames have been written, further frames are discarded without error.
// Frames shorter than one frame are rejected, longer ones are truncated.
// Write must only be called by the single producer.
func (s *CaptureSession) Write(frame []byte) bool {
	idx := int(s.index.Load())
	if idx >= s.count {
		s.surplus.Add(1)
		return false
	}
	if len(frame) < s.frameSize {
		s.rejected.Add(1)
		return false
	}
	off := idx * s.frameSize
	copy(s.buffer[off:off+s.frameSize], frame[:s.frameSize])
	s.index.Store(int64(idx + 1))
	return true
}

// Index is the number of frames captured so far
func (s *CaptureSession) Index() int {
	return int(s.index.Load())
}

// Count is the number of frames the session was sized for
func (s *CaptureSession) Count() int {
	return s.count
}

// Done reports if all frames have been captured
func (s *CaptureSession) Done() bool {
	return s.Index() == s.count
}

// Width is the frame width in pixels
func (s *CaptureSession) Width() int {
	return s.width
}

// Height is the frame height in pixels
func (s *CaptureSession) Height() int {
	return s.height
}

// FrameSize is the size of one frame in bytes
func (s *CaptureSession) FrameSize() int {
	return s.frameSize
}

// Surplus is the number of frames discarded after the session completed
func (s *CaptureSession) Surplus() uint64 {
	return s.surplus.Load()
}

// Rejected is the number of short frames refused
func (s *CaptureSession) Rejected() uint64 {
	return s.rejected.Load()
}

// Bytes returns the whole buffer.  Positions past Index are zero until
// written; once Done, the buffer is never written again.
func (s *CaptureSession) Bytes() []byte {
	return s.buffer
}

// Frame returns frame i (0-based) if it has been captured
func (s *CaptureSession) Frame(i int) (Frame, bool) {
	if i < 0 || i >= s.Index() {
		return Frame{}, false
	}
	off := i * s.frameSize
	return Frame{
		Seq:    uint64(i + 1),
		Width:  s.width,
		Height: s.height,
		Data:   s.buffer[off : off+s.frameSize],
	}, true
}

// WriteTo writes the buffer verbatim: no header, frames in delivery order
func (s *CaptureSession) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(s.buffer)
	if err != nil {
		return int64(n), &IOError{Op: "writing", Err: err}
	}
	return int64(n), nil
}

// WaitForCapture polls s until it is complete, sleeping poll between checks.
// There is no timeout: a capture is bounded by its frame count, so the wait
// ends when the frames arrive or when ctx is cancelled by the caller.
func WaitForCapture(ctx context.Context, s *CaptureSession, poll time.Duration) error {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	if s.Done() {
		return nil
	}
	t := time.NewTicker(poll)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if s.Done() {
				return nil
			}
		}
	}
}

// SaveCapture writes the session buffer to path as a flat raw file of
// exactly width*height*2*count bytes
func SaveCapture(s *CaptureSession, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return &IOError{Op: "creating", Path: path, Err: err}
	}
	_, err = s.WriteTo(f)
	if err != nil {
		f.Close()
		return &IOError{Op: "writing", Path: path, Err: err}
	}
	if err = f.Close(); err != nil {
		return &IOError{Op: "closing", Path: path, Err: err}
	}
	return nil
}
