package vision

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Frame is one video frame flowing through the bench: an RGBA pixel buffer
// plus identity and timing metadata. Ownership transfers to the worker for
// the duration of a pipeline call; the driving loop must not mutate the
// buffer until the call resolves.
type Frame struct {
	ID        string    // unique identifier for this frame
	Seq       uint64    // monotonic sequence number from the source
	Width     int       // pixels per row
	Height    int       // rows
	Pix       []byte    // RGBA, 4 bytes per pixel, row-major
	Timestamp time.Time // capture time
}

// NewFrame allocates a zeroed frame of the given size.
func NewFrame(width, height int, seq uint64) *Frame {
	return &Frame{
		ID:        uuid.New().String(),
		Seq:       seq,
		Width:     width,
		Height:    height,
		Pix:       make([]byte, width*height*4),
		Timestamp: time.Now(),
	}
}

// Clone returns a deep copy with a fresh ID. Pipelines that produce a new
// output frame use this so the input buffer stays untouched.
func (f *Frame) Clone() *Frame {
	pix := make([]byte, len(f.Pix))
	copy(pix, f.Pix)
	return &Frame{
		ID:        uuid.New().String(),
		Seq:       f.Seq,
		Width:     f.Width,
		Height:    f.Height,
		Pix:       pix,
		Timestamp: f.Timestamp,
	}
}

// At returns the RGBA components of the pixel at (x, y).
func (f *Frame) At(x, y int) (r, g, b, a byte) {
	i := (y*f.Width + x) * 4
	return f.Pix[i], f.Pix[i+1], f.Pix[i+2], f.Pix[i+3]
}

// SetPixel writes the RGBA components of the pixel at (x, y).
func (f *Frame) SetPixel(x, y int, r, g, b, a byte) {
	i := (y*f.Width + x) * 4
	f.Pix[i], f.Pix[i+1], f.Pix[i+2], f.Pix[i+3] = r, g, b, a
}

func (f *Frame) String() string {
	return fmt.Sprintf("frame %d (%dx%d)", f.Seq, f.Width, f.Height)
}
