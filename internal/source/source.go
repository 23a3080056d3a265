// Package source produces input frames for the supervisor loop.
package source

import (
	"math/rand"
	"sync"

	"github.com/banshee-data/vision.bench/internal/vision"
)

// Source yields frames to drive the update loop. NextFrame returns nil when
// no frame is currently available; the caller skips the cycle and tries
// again on the next tick.
type Source interface {
	NextFrame() *vision.Frame
}

// Synthetic generates deterministic moving-gradient frames. Pixel values
// depend only on the seed and the frame sequence number, so two sources
// built with the same parameters produce identical streams.
type Synthetic struct {
	mu     sync.Mutex
	width  int
	height int
	seq    uint64
	phase  uint8
	rng    *rand.Rand
}

// NewSynthetic creates a generator for frames of the given size.
func NewSynthetic(width, height int, seed int64) *Synthetic {
	return &Synthetic{
		width:  width,
		height: height,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// NextFrame produces the next frame in the stream.
func (s *Synthetic) NextFrame() *vision.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := vision.NewFrame(s.width, s.height, s.seq)
	s.seq++

	// Diagonal gradient that drifts one step per frame, with a sprinkle of
	// seeded noise so thresholding pipelines have something to find.
	for y := 0; y < s.height; y++ {
		for x := 0; x < s.width; x++ {
			v := uint8(x+y) + s.phase
			r, g, b := v, v, v
			if s.rng.Intn(64) == 0 {
				r, g, b = 255, 255, 255
			}
			f.SetPixel(x, y, r, g, b, 255)
		}
	}
	s.phase++
	return f
}
