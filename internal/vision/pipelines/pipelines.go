// Package pipelines holds the built-in pipeline implementations registered at
// startup. The passthrough pipeline is always index 0: it never fails and
// never blocks, so the supervisor can fall back to it after a timeout.
package pipelines

import (
	"fmt"

	"github.com/banshee-data/vision.bench/internal/telemetry"
	"github.com/banshee-data/vision.bench/internal/vision"
)

// RegisterBuiltins registers the built-in pipelines. Passthrough goes first
// so it lands at index 0.
func RegisterBuiltins(reg *vision.Registry) {
	reg.AddOne(&vision.PipelineDefinition{
		Name:   "Passthrough",
		Origin: vision.OriginBuiltin,
		New:    func() vision.Pipeline { return &Passthrough{} },
	})
	reg.AddOne(&vision.PipelineDefinition{
		Name:   "Grayscale",
		Origin: vision.OriginBuiltin,
		New:    func() vision.Pipeline { return &Grayscale{} },
	})
	reg.AddOne(&vision.PipelineDefinition{
		Name:   "Brightness",
		Origin: vision.OriginBuiltin,
		New:    func() vision.Pipeline { return NewBrightness() },
	})
	reg.AddOne(&vision.PipelineDefinition{
		Name:   "Threshold",
		Origin: vision.OriginBuiltin,
		NewWithTelemetry: func(sink *telemetry.Sink) vision.Pipeline {
			return NewThreshold(sink)
		},
	})
	reg.AddOne(&vision.PipelineDefinition{
		Name:   "BoxBlur",
		Origin: vision.OriginBuiltin,
		New:    func() vision.Pipeline { return NewBoxBlur() },
	})
}

// Passthrough returns every frame unchanged. It is the default fallback
// pipeline.
type Passthrough struct{}

func (p *Passthrough) Init(*vision.Frame) {}

func (p *Passthrough) ProcessFrame(frame *vision.Frame) (*vision.Frame, error) {
	return frame, nil
}

func (p *Passthrough) OnViewportTapped() {}

// Grayscale converts frames to luma using integer Rec.601 weights.
type Grayscale struct{}

func (p *Grayscale) Init(*vision.Frame) {}

func (p *Grayscale) ProcessFrame(frame *vision.Frame) (*vision.Frame, error) {
	out := frame.Clone()
	for i := 0; i+3 < len(out.Pix); i += 4 {
		r, g, b := int(out.Pix[i]), int(out.Pix[i+1]), int(out.Pix[i+2])
		y := byte((299*r + 587*g + 114*b) / 1000)
		out.Pix[i], out.Pix[i+1], out.Pix[i+2] = y, y, y
	}
	return out, nil
}

func (p *Grayscale) OnViewportTapped() {}

// Brightness scales every channel by a tunable gain.
type Brightness struct {
	Gain float64
}

// NewBrightness returns a Brightness pipeline with unity gain.
func NewBrightness() *Brightness {
	return &Brightness{Gain: 1.0}
}

func (p *Brightness) Init(*vision.Frame) {}

func (p *Brightness) ProcessFrame(frame *vision.Frame) (*vision.Frame, error) {
	if p.Gain < 0 {
		return nil, fmt.Errorf("brightness gain must be non-negative, got %f", p.Gain)
	}
	out := frame.Clone()
	for i := 0; i < len(out.Pix); i++ {
		if i%4 == 3 {
			continue // leave alpha alone
		}
		v := float64(out.Pix[i]) * p.Gain
		if v > 255 {
			v = 255
		}
		out.Pix[i] = byte(v)
	}
	return out, nil
}

func (p *Brightness) OnViewportTapped() {}

// ListFields implements vision.TunableContainer.
func (p *Brightness) ListFields() []vision.TunableField {
	return []vision.TunableField{
		{
			Name: "gain",
			Get:  func() interface{} { return p.Gain },
			Set: func(v interface{}) error {
				f, ok := v.(float64)
				if !ok {
					return fmt.Errorf("gain wants float64, got %T", v)
				}
				p.Gain = f
				return nil
			},
		},
	}
}

// Threshold binarises luma against a tunable level and reports the foreground
// pixel ratio through telemetry.
type Threshold struct {
	Level  int
	Invert bool

	sink    *telemetry.Sink
	tapped  int
	samples uint64
}

// NewThreshold returns a Threshold pipeline at mid-level.
func NewThreshold(sink *telemetry.Sink) *Threshold {
	return &Threshold{Level: 128, sink: sink}
}

func (p *Threshold) Init(*vision.Frame) {}

func (p *Threshold) ProcessFrame(frame *vision.Frame) (*vision.Frame, error) {
	if p.Level < 0 || p.Level > 255 {
		return nil, fmt.Errorf("threshold level out of range: %d", p.Level)
	}
	out := frame.Clone()
	foreground := 0
	for i := 0; i+3 < len(out.Pix); i += 4 {
		r, g, b := int(out.Pix[i]), int(out.Pix[i+1]), int(out.Pix[i+2])
		y := (299*r + 587*g + 114*b) / 1000
		on := y >= p.Level
		if p.Invert {
			on = !on
		}
		var v byte
		if on {
			v = 255
			foreground++
		}
		out.Pix[i], out.Pix[i+1], out.Pix[i+2] = v, v, v
	}
	p.samples++
	if p.sink != nil {
		total := frame.Width * frame.Height
		if total > 0 {
			p.sink.Setf("foreground", "%.1f%%", 100*float64(foreground)/float64(total))
		}
		p.sink.Set("frames", p.samples)
	}
	return out, nil
}

// OnViewportTapped toggles inversion, the same gesture the original threshold
// sample pipeline responds to.
func (p *Threshold) OnViewportTapped() {
	p.tapped++
	p.Invert = !p.Invert
}

// ListFields implements vision.TunableContainer.
func (p *Threshold) ListFields() []vision.TunableField {
	return []vision.TunableField{
		{
			Name: "level",
			Get:  func() interface{} { return p.Level },
			Set: func(v interface{}) error {
				n, ok := v.(int)
				if !ok {
					return fmt.Errorf("level wants int, got %T", v)
				}
				p.Level = n
				return nil
			},
		},
		{
			Name: "invert",
			Get:  func() interface{} { return p.Invert },
			Set: func(v interface{}) error {
				b, ok := v.(bool)
				if !ok {
					return fmt.Errorf("invert wants bool, got %T", v)
				}
				p.Invert = b
				return nil
			},
		},
	}
}

// BoxBlur applies a horizontal+vertical box blur with a tunable radius.
type BoxBlur struct {
	Radius int
}

// NewBoxBlur returns a BoxBlur with radius 1.
func NewBoxBlur() *BoxBlur {
	return &BoxBlur{Radius: 1}
}

func (p *BoxBlur) Init(*vision.Frame) {}

func (p *BoxBlur) ProcessFrame(frame *vision.Frame) (*vision.Frame, error) {
	if p.Radius < 0 {
		return nil, fmt.Errorf("blur radius must be non-negative, got %d", p.Radius)
	}
	if p.Radius == 0 {
		return frame, nil
	}
	out := frame.Clone()
	r := p.Radius
	for y := 0; y < frame.Height; y++ {
		for x := 0; x < frame.Width; x++ {
			var sum [4]int
			count := 0
			for dy := -r; dy <= r; dy++ {
				for dx := -r; dx <= r; dx++ {
					sx, sy := x+dx, y+dy
					if sx < 0 || sy < 0 || sx >= frame.Width || sy >= frame.Height {
						continue
					}
					i := (sy*frame.Width + sx) * 4
					sum[0] += int(frame.Pix[i])
					sum[1] += int(frame.Pix[i+1])
					sum[2] += int(frame.Pix[i+2])
					sum[3] += int(frame.Pix[i+3])
					count++
				}
			}
			i := (y*frame.Width + x) * 4
			out.Pix[i] = byte(sum[0] / count)
			out.Pix[i+1] = byte(sum[1] / count)
			out.Pix[i+2] = byte(sum[2] / count)
			out.Pix[i+3] = byte(sum[3] / count)
		}
	}
	return out, nil
}

func (p *BoxBlur) OnViewportTapped() {}

// ListFields implements vision.TunableContainer.
func (p *BoxBlur) ListFields() []vision.TunableField {
	return []vision.TunableField{
		{
			Name: "radius",
			Get:  func() interface{} { return p.Radius },
			Set: func(v interface{}) error {
				n, ok := v.(int)
				if !ok {
					return fmt.Errorf("radius wants int, got %T", v)
				}
				p.Radius = n
				return nil
			},
		},
	}
}
