package simplego

import (
	"math"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/primpool/primpool/backends"
	"github.com/primpool/primpool/types/shapes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lrnParams() backends.LRNParams {
	return backends.LRNParams{
		X:         shapes.MakeDims(1, 4, 2, 2),
		LocalSize: 3,
		Alpha:     1e-2,
		Beta:      0.75,
		K:         2,
	}
}

func TestLRNForward(t *testing.T) {
	b := newTestBackend(t)
	p := lrnParams()
	kernel, err := b.LRNForward(dtypes.Float64, p)
	require.NoError(t, err)

	xData := ramp(p.X.Size(), 0.25)
	x := f64Buffer(t, b, p.X, xData)
	y := emptyF64Buffer(t, b, p.X)
	require.NoError(t, kernel.Forward(x, y))
	got := readF64(t, b, y)

	// Check one position end to end: n=0, h=0, w=0, channel 1.
	// Channel stride is 4 (2x2 spatial), so the channel values at this position are
	// xData[1*0], xData[4], xData[8], xData[12]; the window of channel 1 spans
	// channels 0..2.
	sum := xData[0]*xData[0] + xData[4]*xData[4] + xData[8]*xData[8]
	scale := p.K + p.Alpha/float64(p.LocalSize)*sum
	want := xData[4] * math.Pow(scale, -p.Beta)
	assert.InDelta(t, want, got[4], 1e-12)

	// Border channel 0's window is clipped to channels 0..1.
	sum = xData[0]*xData[0] + xData[4]*xData[4]
	scale = p.K + p.Alpha/float64(p.LocalSize)*sum
	want = xData[0] * math.Pow(scale, -p.Beta)
	assert.InDelta(t, want, got[0], 1e-12)
}

func TestLRNBackwardNumerical(t *testing.T) {
	b := newTestBackend(t)
	p := lrnParams()
	fwd, err := b.LRNForward(dtypes.Float64, p)
	require.NoError(t, err)
	bwd, err := b.LRNBackward(dtypes.Float64, p)
	require.NoError(t, err)

	xData := ramp(p.X.Size(), 0.2)
	dyData := ramp(p.X.Size(), -0.11)

	forward := func(x []float64) []float64 {
		xBuf := f64Buffer(t, b, p.X, x)
		yBuf := emptyF64Buffer(t, b, p.X)
		require.NoError(t, fwd.Forward(xBuf, yBuf))
		return readF64(t, b, yBuf)
	}

	x := f64Buffer(t, b, p.X, xData)
	y := emptyF64Buffer(t, b, p.X)
	require.NoError(t, fwd.Forward(x, y))
	dy := f64Buffer(t, b, p.X, dyData)
	dx := emptyF64Buffer(t, b, p.X)
	require.NoError(t, bwd.Backward(x, y, dy, dx))

	want := numericalGrad(forward, xData, dyData)
	got := readF64(t, b, dx)
	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-4)
	}
}

func TestLRNErrors(t *testing.T) {
	b := newTestBackend(t)

	p := lrnParams()
	p.X = shapes.MakeDims(4, 4)
	_, err := b.LRNForward(dtypes.Float64, p)
	require.Error(t, err)

	p = lrnParams()
	p.LocalSize = 0
	_, err = b.LRNForward(dtypes.Float64, p)
	require.Error(t, err)

	p = lrnParams()
	p.K = 0
	_, err = b.LRNBackward(dtypes.Float64, p)
	require.Error(t, err)
}
