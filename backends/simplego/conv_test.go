package simplego

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/primpool/primpool/backends"
	"github.com/primpool/primpool/types/shapes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func convFwdParams() backends.ConvForwardParams {
	return backends.ConvForwardParams{
		X: shapes.MakeDims(1, 1, 3, 3),
		W: shapes.MakeDims(1, 1, 2, 2),
		B: shapes.MakeDims(1),
		Y: shapes.MakeDims(1, 1, 2, 2),
		StrideY: 1, StrideX: 1,
	}
}

func TestConvForwardKnownValues(t *testing.T) {
	b := newTestBackend(t)
	kernel, err := b.ConvForward(dtypes.Float64, convFwdParams())
	require.NoError(t, err)
	assert.Equal(t, backends.OpKindConvForward, kernel.OpKind())

	x := f64Buffer(t, b, shapes.MakeDims(1, 1, 3, 3), []float64{1, 2, 3, 4, 5, 6, 7, 8, 9})
	// Identity on the main diagonal of each 2x2 window.
	w := f64Buffer(t, b, shapes.MakeDims(1, 1, 2, 2), []float64{1, 0, 0, 1})
	bias := f64Buffer(t, b, shapes.MakeDims(1), []float64{10})
	y := emptyF64Buffer(t, b, shapes.MakeDims(1, 1, 2, 2))

	require.NoError(t, kernel.Forward(x, w, bias, y))
	assert.Equal(t, []float64{16, 18, 22, 24}, readF64(t, b, y))
}

func TestConvForwardPaddingAndStride(t *testing.T) {
	b := newTestBackend(t)
	p := backends.ConvForwardParams{
		X: shapes.MakeDims(1, 1, 2, 2),
		W: shapes.MakeDims(1, 1, 2, 2),
		Y: shapes.MakeDims(1, 1, 2, 2),
		StrideY: 1, StrideX: 1,
		PadLH: 1, PadLW: 1,
	}
	kernel, err := b.ConvForward(dtypes.Float64, p)
	require.NoError(t, err)

	x := f64Buffer(t, b, p.X, []float64{1, 2, 3, 4})
	w := f64Buffer(t, b, p.W, []float64{1, 1, 1, 1})
	y := emptyF64Buffer(t, b, p.Y)
	require.NoError(t, kernel.Forward(x, w, nil, y))
	// Top-left output sees only x[0,0]; bottom-right sees the full window.
	assert.Equal(t, []float64{1, 3, 4, 10}, readF64(t, b, y))
}

func TestConvForwardFloat16(t *testing.T) {
	b := newTestBackend(t)
	p := convFwdParams()
	p.B = nil
	kernel, err := b.ConvForward(dtypes.Float16, p)
	require.NoError(t, err)

	toF16 := func(vs ...float32) []float16.Float16 {
		out := make([]float16.Float16, len(vs))
		for i, v := range vs {
			out[i] = float16.Fromfloat32(v)
		}
		return out
	}
	x, err := b.BufferFromFlatData(toF16(1, 2, 3, 4, 5, 6, 7, 8, 9), shapes.Make(dtypes.Float16, 1, 1, 3, 3))
	require.NoError(t, err)
	w, err := b.BufferFromFlatData(toF16(1, 0, 0, 1), shapes.Make(dtypes.Float16, 1, 1, 2, 2))
	require.NoError(t, err)
	y, err := b.NewBuffer(shapes.Make(dtypes.Float16, 1, 1, 2, 2))
	require.NoError(t, err)

	require.NoError(t, kernel.Forward(x, w, nil, y))
	out := make([]float16.Float16, 4)
	require.NoError(t, b.BufferToFlatData(y, out))
	for i, want := range []float32{6, 8, 12, 14} {
		assert.InDelta(t, want, out[i].Float32(), 0.01)
	}
}

func TestConvForwardRejectsMismatchedBuffers(t *testing.T) {
	b := newTestBackend(t)
	kernel, err := b.ConvForward(dtypes.Float64, convFwdParams())
	require.NoError(t, err)

	x := f64Buffer(t, b, shapes.MakeDims(1, 1, 3, 3), make([]float64, 9))
	wWrong := f64Buffer(t, b, shapes.MakeDims(1, 1, 3, 3), make([]float64, 9))
	bias := f64Buffer(t, b, shapes.MakeDims(1), []float64{0})
	y := emptyF64Buffer(t, b, shapes.MakeDims(1, 1, 2, 2))
	require.Error(t, kernel.Forward(x, wWrong, bias, y))
}

func TestConvGeometryErrors(t *testing.T) {
	b := newTestBackend(t)

	// Channel mismatch between x and w.
	p := convFwdParams()
	p.W = shapes.MakeDims(1, 2, 2, 2)
	_, err := b.ConvForward(dtypes.Float64, p)
	require.Error(t, err)

	// Declared output dims don't match the computed geometry.
	p = convFwdParams()
	p.Y = shapes.MakeDims(1, 1, 3, 3)
	_, err = b.ConvForward(dtypes.Float64, p)
	require.Error(t, err)

	// Zero stride is representable in the key but not constructible.
	p = convFwdParams()
	p.StrideY = 0
	_, err = b.ConvForward(dtypes.Float64, p)
	require.Error(t, err)

	// Bias must be rank 1 with cOut elements.
	p = convFwdParams()
	p.B = shapes.MakeDims(2)
	_, err = b.ConvForward(dtypes.Float64, p)
	require.Error(t, err)
}

func TestConvBackwardDataNumerical(t *testing.T) {
	b := newTestBackend(t)
	xDims := shapes.MakeDims(1, 2, 4, 4)
	wDims := shapes.MakeDims(3, 2, 3, 3)
	yDims := shapes.MakeDims(1, 3, 2, 2)

	fwd, err := b.ConvForward(dtypes.Float64, backends.ConvForwardParams{
		X: xDims, W: wDims, Y: yDims, StrideY: 1, StrideX: 1})
	require.NoError(t, err)
	bwd, err := b.ConvBackwardData(dtypes.Float64, backends.ConvBackwardDataParams{
		DiffY: yDims, W: wDims, DiffX: xDims, StrideY: 1, StrideX: 1})
	require.NoError(t, err)

	wData := ramp(wDims.Size(), 0.1)
	xData := ramp(xDims.Size(), 0.05)
	dyData := ramp(yDims.Size(), -0.2)

	w := f64Buffer(t, b, wDims, wData)
	forward := func(x []float64) []float64 {
		xBuf := f64Buffer(t, b, xDims, x)
		yBuf := emptyF64Buffer(t, b, yDims)
		require.NoError(t, fwd.Forward(xBuf, w, nil, yBuf))
		return readF64(t, b, yBuf)
	}

	dy := f64Buffer(t, b, yDims, dyData)
	dx := emptyF64Buffer(t, b, xDims)
	require.NoError(t, bwd.Backward(dy, w, dx))

	want := numericalGrad(forward, xData, dyData)
	got := readF64(t, b, dx)
	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-5)
	}
}

func TestConvBackwardWeightsNumerical(t *testing.T) {
	b := newTestBackend(t)
	xDims := shapes.MakeDims(2, 1, 4, 4)
	wDims := shapes.MakeDims(2, 1, 2, 2)
	bDims := shapes.MakeDims(2)
	yDims := shapes.MakeDims(2, 2, 2, 2)

	fwd, err := b.ConvForward(dtypes.Float64, backends.ConvForwardParams{
		X: xDims, W: wDims, B: bDims, Y: yDims, StrideY: 2, StrideX: 2})
	require.NoError(t, err)
	bwd, err := b.ConvBackwardWeights(dtypes.Float64, backends.ConvBackwardWeightsParams{
		X: xDims, DiffW: wDims, DiffB: bDims, DiffY: yDims, StrideY: 2, StrideX: 2})
	require.NoError(t, err)

	xData := ramp(xDims.Size(), 0.3)
	wData := ramp(wDims.Size(), -0.1)
	bData := ramp(bDims.Size(), 0.5)
	dyData := ramp(yDims.Size(), 0.07)

	x := f64Buffer(t, b, xDims, xData)
	bias := f64Buffer(t, b, bDims, bData)
	forward := func(w []float64) []float64 {
		wBuf := f64Buffer(t, b, wDims, w)
		yBuf := emptyF64Buffer(t, b, yDims)
		require.NoError(t, fwd.Forward(x, wBuf, bias, yBuf))
		return readF64(t, b, yBuf)
	}

	dy := f64Buffer(t, b, yDims, dyData)
	dw := emptyF64Buffer(t, b, wDims)
	db := emptyF64Buffer(t, b, bDims)
	require.NoError(t, bwd.Backward(x, dy, dw, db))

	wantW := numericalGrad(forward, wData, dyData)
	gotW := readF64(t, b, dw)
	for i := range wantW {
		assert.InDelta(t, wantW[i], gotW[i], 1e-5)
	}

	// Bias gradient is the per-channel sum of diffY.
	gotB := readF64(t, b, db)
	for co := 0; co < 2; co++ {
		var want float64
		for n := 0; n < 2; n++ {
			for i := 0; i < 4; i++ {
				want += dyData[(n*2+co)*4+i]
			}
		}
		assert.InDelta(t, want, gotB[co], 1e-9)
	}
}

// ramp returns [0, step, 2*step, ...], a deterministic non-constant test tensor.
func ramp(size int, step float64) []float64 {
	out := make([]float64, size)
	for i := range out {
		out[i] = float64(i) * step
	}
	return out
}
