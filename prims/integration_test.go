package prims_test

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/primpool/primpool/backends"
	"github.com/primpool/primpool/backends/simplego"
	"github.com/primpool/primpool/prims"
	"github.com/primpool/primpool/types/shapes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestTrainingLoopReuse drives the engine the way a training loop does: the same
// layer geometry requested every iteration, with real kernels doing real work. The
// registries must stabilize after the first iteration.
func TestTrainingLoopReuse(t *testing.T) {
	backend, err := backends.NewWithConfig(simplego.BackendName)
	require.NoError(t, err)
	engine := prims.New[float64](backend)

	xDims := shapes.MakeDims(1, 1, 4, 4)
	wDims := shapes.MakeDims(2, 1, 3, 3)
	bDims := shapes.MakeDims(2)
	yDims := shapes.MakeDims(1, 2, 2, 2)

	xShape := shapes.Shape{DType: dtypes.Float64, Dimensions: xDims}
	x, err := backend.BufferFromFlatData([]float64{
		1, 2, 3, 4,
		5, 6, 7, 8,
		9, 10, 11, 12,
		13, 14, 15, 16,
	}, xShape)
	require.NoError(t, err)
	w, err := backend.NewBuffer(shapes.Shape{DType: dtypes.Float64, Dimensions: wDims})
	require.NoError(t, err)
	bias, err := backend.NewBuffer(shapes.Shape{DType: dtypes.Float64, Dimensions: bDims})
	require.NoError(t, err)
	y, err := backend.NewBuffer(shapes.Shape{DType: dtypes.Float64, Dimensions: yDims})
	require.NoError(t, err)
	dy, err := backend.NewBuffer(shapes.Shape{DType: dtypes.Float64, Dimensions: yDims})
	require.NoError(t, err)
	dw, err := backend.NewBuffer(shapes.Shape{DType: dtypes.Float64, Dimensions: wDims})
	require.NoError(t, err)
	db, err := backend.NewBuffer(shapes.Shape{DType: dtypes.Float64, Dimensions: bDims})
	require.NoError(t, err)

	const steps = 5
	for step := 0; step < steps; step++ {
		fwd, err := engine.ConvForward(xDims, wDims, bDims, yDims, 1, 1, 0, 0, 0, 0)
		require.NoError(t, err)
		require.NoError(t, fwd.Forward(x, w, bias, y))

		act, err := engine.EltwiseForward(backends.EltwiseReLU, yDims, 0)
		require.NoError(t, err)
		require.NoError(t, act.Forward(y, dy))

		bwd, err := engine.ConvBackwardWeights(xDims, wDims, bDims, yDims, 1, 1, 0, 0, 0, 0)
		require.NoError(t, err)
		require.NoError(t, bwd.Backward(x, dy, dw, db))
	}

	assert.Equal(t, 3, engine.NumKernels(), "one kernel per distinct geometry, regardless of step count")
	for _, s := range engine.Stats() {
		switch s.Kind {
		case backends.OpKindConvForward, backends.OpKindConvBackwardWeights, backends.OpKindEltwiseForward:
			assert.Equal(t, uint64(1), s.Misses, "%s", s.Kind)
			assert.Equal(t, uint64(steps-1), s.Hits, "%s", s.Kind)
		default:
			assert.Equal(t, 0, s.Entries, "%s", s.Kind)
		}
	}
}

// TestFailedConstructionLeavesRegistryUsable exercises the failure path against the
// real backend: impossible geometry fails construction, the registry stays intact.
func TestFailedConstructionLeavesRegistryUsable(t *testing.T) {
	backend, err := backends.NewWithConfig(simplego.BackendName)
	require.NoError(t, err)
	engine := prims.New[float32](backend)

	xDims := shapes.MakeDims(1, 3, 8, 8)
	wDims := shapes.MakeDims(4, 3, 3, 3)
	yDims := shapes.MakeDims(1, 4, 6, 6)

	// Output dims declared for stride 1, requested with stride 2: construction fails.
	_, err = engine.ConvForward(xDims, wDims, nil, yDims, 2, 2, 0, 0, 0, 0)
	require.Error(t, err)
	assert.Equal(t, 0, engine.NumKernels())

	_, err = engine.ConvForward(xDims, wDims, nil, yDims, 1, 1, 0, 0, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, engine.NumKernels())
}
