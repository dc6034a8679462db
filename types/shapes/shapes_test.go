package shapes

import (
	"bytes"
	"encoding/gob"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"
)

func TestShape(t *testing.T) {
	invalidShape := Invalid()
	require.False(t, invalidShape.Ok())

	shape0 := Make(dtypes.Float64)
	require.True(t, shape0.Ok())
	require.True(t, shape0.IsScalar())
	require.True(t, shape0.IsConcrete())
	require.Equal(t, 0, shape0.Rank())
	require.Equal(t, 1, shape0.Size())
	require.Equal(t, 8, int(shape0.Memory()))

	shape1 := Make(dtypes.Float32, 4, 3, 2)
	require.True(t, shape1.Ok())
	require.False(t, shape1.IsScalar())
	require.False(t, shape1.IsDynamic())
	require.Equal(t, 3, shape1.Rank())
	require.Equal(t, 4*3*2, shape1.Size())
	require.Equal(t, 4*4*3*2, int(shape1.Memory()))
	require.Equal(t, 2, shape1.Dim(-1))
	require.Equal(t, 4, shape1.Dim(0))

	require.Panics(t, func() { Make(dtypes.Float32, 0) })
	require.Panics(t, func() { Make(dtypes.Float32, -1) })
	require.Panics(t, func() { Make(dtypes.Float32, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1) })
}

func TestShapeDynamic(t *testing.T) {
	declared := MakeDynamic(dtypes.Float32, 1, 3, DynamicDim, DynamicDim)
	require.True(t, declared.Ok())
	require.True(t, declared.IsDynamic())
	require.False(t, declared.IsConcrete())
	require.Equal(t, 2, declared.NumDynamicAxes())
	require.Equal(t, "(Float32)[1 3 ? ?]", declared.String())
	require.Panics(t, func() { declared.Size() })

	// MakeDynamic only accepts positive extents or the sentinel.
	require.Panics(t, func() { MakeDynamic(dtypes.Float32, 1, -2) })
	require.Panics(t, func() { MakeDynamic(dtypes.Float32, 0) })

	concrete := Make(dtypes.Float32, 1, 3, 960, 1280)
	require.True(t, declared.AcceptsResolved(concrete))
	require.False(t, declared.AcceptsResolved(Make(dtypes.Float32, 2, 3, 960, 1280)))       // fixed axis mismatch
	require.False(t, declared.AcceptsResolved(Make(dtypes.Float32, 1, 3, 960)))             // rank mismatch
	require.False(t, declared.AcceptsResolved(Make(dtypes.Int64, 1, 3, 960, 1280)))         // dtype mismatch
	require.False(t, declared.AcceptsResolved(MakeDynamic(dtypes.Float32, 1, 3, -1, 1280))) // not concrete

	// A concrete shape accepts only itself.
	require.True(t, concrete.AcceptsResolved(concrete.Clone()))
	require.False(t, concrete.AcceptsResolved(Make(dtypes.Float32, 1, 3, 960, 1281)))
}

func TestShapeEqual(t *testing.T) {
	s1 := Make(dtypes.Float32, 2, 3)
	s2 := Make(dtypes.Float32, 2, 3)
	s3 := Make(dtypes.Int64, 2, 3)
	require.True(t, s1.Equal(s2))
	require.False(t, s1.Equal(s3))
	require.True(t, s1.EqualDimensions(s3))
	require.False(t, s1.Equal(Make(dtypes.Float32, 3, 2)))
}

func TestShapeGob(t *testing.T) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	original := MakeDynamic(dtypes.Float32, 1, 3, DynamicDim, DynamicDim)
	require.NoError(t, original.GobSerialize(enc))

	dec := gob.NewDecoder(&buf)
	recovered, err := GobDeserialize(dec)
	require.NoError(t, err)
	require.True(t, original.Equal(recovered))
}
