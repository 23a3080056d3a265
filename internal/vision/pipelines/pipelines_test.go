package pipelines

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/vision.bench/internal/telemetry"
	"github.com/banshee-data/vision.bench/internal/vision"
)

func solidFrame(w, h int, r, g, b byte) *vision.Frame {
	f := vision.NewFrame(w, h, 1)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			f.SetPixel(x, y, r, g, b, 255)
		}
	}
	return f
}

func TestRegisterBuiltins(t *testing.T) {
	t.Parallel()

	reg := vision.NewRegistry()
	RegisterBuiltins(reg)

	require.GreaterOrEqual(t, reg.Len(), 2)
	assert.Equal(t, "Passthrough", reg.Get(0).Name)
	assert.Equal(t, vision.OriginBuiltin, reg.Get(0).Origin)
	assert.GreaterOrEqual(t, reg.IndexOf("Threshold"), 0)
}

func TestPassthrough(t *testing.T) {
	t.Parallel()

	p := &Passthrough{}
	in := solidFrame(2, 2, 10, 20, 30)
	out, err := p.ProcessFrame(in)
	require.NoError(t, err)
	assert.Same(t, in, out)
}

func TestGrayscale(t *testing.T) {
	t.Parallel()

	p := &Grayscale{}
	in := solidFrame(2, 2, 255, 0, 0)
	out, err := p.ProcessFrame(in)
	require.NoError(t, err)

	r, g, b, a := out.At(0, 0)
	assert.Equal(t, r, g)
	assert.Equal(t, g, b)
	assert.Equal(t, byte(76), r) // 299*255/1000
	assert.Equal(t, byte(255), a)

	// Input untouched.
	r, _, _, _ = in.At(0, 0)
	assert.Equal(t, byte(255), r)
}

func TestBrightness(t *testing.T) {
	t.Parallel()

	t.Run("scales channels and clamps", func(t *testing.T) {
		t.Parallel()
		p := NewBrightness()
		p.Gain = 2.0

		in := solidFrame(1, 1, 100, 200, 0)
		out, err := p.ProcessFrame(in)
		require.NoError(t, err)

		r, g, b, a := out.At(0, 0)
		assert.Equal(t, byte(200), r)
		assert.Equal(t, byte(255), g)
		assert.Equal(t, byte(0), b)
		assert.Equal(t, byte(255), a)
	})

	t.Run("negative gain errors", func(t *testing.T) {
		t.Parallel()
		p := NewBrightness()
		p.Gain = -1
		_, err := p.ProcessFrame(solidFrame(1, 1, 0, 0, 0))
		assert.Error(t, err)
	})

	t.Run("gain is tunable", func(t *testing.T) {
		t.Parallel()
		p := NewBrightness()
		fields := p.ListFields()
		require.Len(t, fields, 1)
		require.NoError(t, fields[0].Set(3.5))
		assert.Equal(t, 3.5, p.Gain)
		assert.Error(t, fields[0].Set("nope"))
	})
}

func TestThreshold(t *testing.T) {
	t.Parallel()

	t.Run("binarises against the level", func(t *testing.T) {
		t.Parallel()
		p := NewThreshold(nil)
		in := solidFrame(2, 1, 200, 200, 200)
		in.SetPixel(1, 0, 10, 10, 10, 255)

		out, err := p.ProcessFrame(in)
		require.NoError(t, err)

		r, _, _, _ := out.At(0, 0)
		assert.Equal(t, byte(255), r)
		r, _, _, _ = out.At(1, 0)
		assert.Equal(t, byte(0), r)
	})

	t.Run("tap toggles inversion", func(t *testing.T) {
		t.Parallel()
		p := NewThreshold(nil)
		assert.False(t, p.Invert)
		p.OnViewportTapped()
		assert.True(t, p.Invert)
		p.OnViewportTapped()
		assert.False(t, p.Invert)
	})

	t.Run("reports foreground ratio through telemetry", func(t *testing.T) {
		t.Parallel()
		sink := telemetry.NewSink()
		p := NewThreshold(sink)

		_, err := p.ProcessFrame(solidFrame(2, 2, 255, 255, 255))
		require.NoError(t, err)

		_, entries := sink.Snapshot()
		require.NotEmpty(t, entries)
		assert.Equal(t, "foreground", entries[0].Key)
		assert.Equal(t, "100.0%", entries[0].Value)
	})

	t.Run("level out of range errors", func(t *testing.T) {
		t.Parallel()
		p := NewThreshold(nil)
		p.Level = 300
		_, err := p.ProcessFrame(solidFrame(1, 1, 0, 0, 0))
		assert.Error(t, err)
	})
}

func TestBoxBlur(t *testing.T) {
	t.Parallel()

	t.Run("radius zero is passthrough", func(t *testing.T) {
		t.Parallel()
		p := NewBoxBlur()
		p.Radius = 0
		in := solidFrame(2, 2, 50, 50, 50)
		out, err := p.ProcessFrame(in)
		require.NoError(t, err)
		assert.Same(t, in, out)
	})

	t.Run("averages the neighborhood", func(t *testing.T) {
		t.Parallel()
		p := NewBoxBlur()
		in := solidFrame(3, 3, 0, 0, 0)
		in.SetPixel(1, 1, 90, 90, 90, 255)

		out, err := p.ProcessFrame(in)
		require.NoError(t, err)

		// Center pixel averages over all nine neighbors.
		r, _, _, _ := out.At(1, 1)
		assert.Equal(t, byte(10), r)
	})

	t.Run("negative radius errors", func(t *testing.T) {
		t.Parallel()
		p := NewBoxBlur()
		p.Radius = -1
		_, err := p.ProcessFrame(solidFrame(1, 1, 0, 0, 0))
		assert.Error(t, err)
	})
}
