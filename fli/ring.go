package fli

import "sync/atomic"

// RingSize is the number of slots in the viewer ring buffer
const RingSize = 10

// slot is one frame buffer.  readers counts copies in progress; the writer
// only fills a buffer that is out of the ring and has no readers.
type slot struct {
	seq     atomic.Uint64
	readers atomic.Int32
	data    []byte
}

// RingBuffer holds the most recent RingSize frames for live viewing.
//
// There is exactly one writer, the frame callback.  It fills a free buffer,
// installs it at position w mod RingSize and only then advances w, so a
// reader that loads w always finds position (w-1) mod RingSize completely
// written.  The writer never waits for readers: the buffer it displaces is
// reused once no reader holds it, and a fresh one is allocated otherwise.
type RingBuffer struct {
	frameSize int
	slots     [RingSize]atomic.Pointer[slot]

	// spare is owned by the writer
	spare []*slot

	// w counts completed writes; it is the publish cursor
	w        atomic.Uint64
	rejected atomic.Uint64
}

// NewRingBuffer returns a ring whose slots hold frameSize bytes.
// Slots are allocated on first write.
func NewRingBuffer(frameSize int) *RingBuffer {
	return &RingBuffer{frameSize: frameSize}
}

// Reset rewinds the cursor for a new run and drops the slots if the frame
// size changed.  It must not be called while a producer is running.
func (r *RingBuffer) Reset(frameSize int) {
	if frameSize != r.frameSize {
		for i := range r.slots {
			r.slots[i].Store(nil)
		}
		r.spare = nil
		r.frameSize = frameSize
	}
	r.w.Store(0)
	r.rejected.Store(0)
}

// FrameSize is the size of one slot in bytes
func (r *RingBuffer) FrameSize() int {
	return r.frameSize
}

// free returns a buffer no reader can observe
func (r *RingBuffer) free() *slot {
	for i, s := range r.spare {
		if s.readers.Load() == 0 {
			last := len(r.spare) - 1
			r.spare[i] = r.spare[last]
			r.spare = r.spare[:last]
			return s
		}
	}
	return &slot{data: make([]byte, r.frameSize)}
}

// Write copies frame into the next slot and publishes it.  Frames shorter
// than the slot are rejected, longer frames are truncated to the slot size.
// Write must only be called by the single producer.
func (r *RingBuffer) Write(frame []byte) bool {
	if len(frame) < r.frameSize {
		r.rejected.Add(1)
		return false
	}
	w := r.w.Load()
	s := r.free()
	copy(s.data, frame[:r.frameSize])
	s.seq.Store(w + 1)
	if old := r.slots[w%RingSize].Swap(s); old != nil {
		r.spare = append(r.spare, old)
	}
	r.w.Store(w + 1)
	return true
}

// Latest returns the most recently published slot and its sequence number
// (1-based).  ok is false if nothing has been written yet.  The slice aliases
// the ring and stays valid until the writer laps it; use CopyLatest when the
// producer is running.
func (r *RingBuffer) Latest() (data []byte, seq uint64, ok bool) {
	n := r.w.Load()
	if n == 0 {
		return nil, 0, false
	}
	s := r.slots[(n-1)%RingSize].Load()
	if s == nil {
		return nil, 0, false
	}
	return s.data, s.seq.Load(), true
}

// pin holds the newest slot against reuse.  The slot is only used if it is
// still installed after readers was raised; otherwise the writer may already
// be refilling it and pin tries again.
func (r *RingBuffer) pin() *slot {
	for {
		n := r.w.Load()
		if n == 0 {
			return nil
		}
		pos := &r.slots[(n-1)%RingSize]
		s := pos.Load()
		if s == nil {
			return nil
		}
		s.readers.Add(1)
		if pos.Load() == s {
			return s
		}
		s.readers.Add(-1)
	}
}

// CopyLatest copies the most recent slot into dst.  The slot is pinned for
// the duration of the copy, so dst never holds a mixture of two frames.  The
// sequence number returned is that of the frame copied, which may be newer
// than the cursor observed on entry.
func (r *RingBuffer) CopyLatest(dst []byte) (seq uint64, ok bool) {
	s := r.pin()
	if s == nil {
		return 0, false
	}
	copy(dst, s.data)
	seq = s.seq.Load()
	s.readers.Add(-1)
	return seq, true
}

// Frames returns the published slots, oldest first.  Like Latest, the
// slices alias the ring.
func (r *RingBuffer) Frames() [][]byte {
	n := r.w.Load()
	k := n
	if k > RingSize {
		k = RingSize
	}
	out := make([][]byte, 0, k)
	for i := n - k; i < n; i++ {
		if s := r.slots[i%RingSize].Load(); s != nil {
			out = append(out, s.data)
		}
	}
	return out
}

// Written is the number of frames published since the last Reset
func (r *RingBuffer) Written() uint64 {
	return r.w.Load()
}

// Rejected is the number of short frames refused since the last Reset
func (r *RingBuffer) Rejected() uint64 {
	return r.rejected.Load()
}

