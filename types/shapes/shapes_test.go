package shapes

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDims(t *testing.T) {
	d := MakeDims(1, 3, 224, 224)
	assert.Equal(t, 4, d.Rank())
	assert.Equal(t, 1*3*224*224, d.Size())
	assert.Equal(t, "1x3x224x224", d.String())
	assert.True(t, d.Equal(MakeDims(1, 3, 224, 224)))
	assert.False(t, d.Equal(MakeDims(1, 3, 224)))
	assert.False(t, d.Equal(MakeDims(1, 3, 224, 225)))

	// Zero-sized axes are valid and distinct from everything else.
	zero := MakeDims(0, 3)
	assert.True(t, zero.Ok())
	assert.Equal(t, 0, zero.Size())
	assert.False(t, zero.Equal(MakeDims(1, 3)))

	assert.Equal(t, "scalar", MakeDims().String())
	assert.Equal(t, 1, MakeDims().Size())

	require.Panics(t, func() { MakeDims(1, -1) })
}

func TestDimsClone(t *testing.T) {
	d := MakeDims(2, 3)
	d2 := d.Clone()
	d2[0] = 7
	assert.Equal(t, 2, d[0])
}

func TestShape(t *testing.T) {
	s := Make(dtypes.Float32, 2, 3)
	assert.True(t, s.Ok())
	assert.Equal(t, 2, s.Rank())
	assert.Equal(t, 6, s.Size())
	assert.Equal(t, uintptr(24), s.Memory())
	assert.Equal(t, "(Float32)[2x3]", s.String())
	assert.True(t, s.Equal(Make(dtypes.Float32, 2, 3)))
	assert.False(t, s.Equal(Make(dtypes.Float64, 2, 3)))
	assert.False(t, s.Equal(Make(dtypes.Float32, 3, 2)))

	scalar := Make(dtypes.Float32)
	assert.True(t, scalar.IsScalar())
	assert.Equal(t, 1, scalar.Size())

	var invalid Shape
	assert.False(t, invalid.Ok())
}
