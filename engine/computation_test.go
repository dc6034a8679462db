package engine

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"

	"github.com/godla/godla/graph"
	"github.com/godla/godla/types/shapes"
)

// detectorProgram is the text-detector stand-in used across the engine tests:
// one fully dynamic 4-D argument, channels summed and squashed to a
// probability map of shape [batch, 1, height, width].
func detectorProgram() *graph.Program {
	b := graph.NewBuilder("detector")
	input := b.Parameter("image", shapes.MakeDynamic(dtypes.Float32, 1, 3, shapes.DynamicDim, shapes.DynamicDim))
	probs := b.Sigmoid(b.ReduceSum(input, 1, true))
	return b.Compile(probs)
}

func detectorRange() shapes.Range {
	return shapes.MakeRange(
		shapes.Make(dtypes.Float32, 1, 3, 1, 1),
		shapes.Make(dtypes.Float32, 1, 3, 960, 1280),
		shapes.Make(dtypes.Float32, 1, 3, 1000, 2000),
	)
}

func TestBuildErrors(t *testing.T) {
	_, err := Build(nil)
	require.ErrorIs(t, err, ErrBuild)

	corrupt := detectorProgram()
	corrupt.Outputs = []int{42}
	_, err = Build(corrupt)
	require.ErrorIs(t, err, ErrBuild)
}

func TestComputationAccessors(t *testing.T) {
	comp, err := Build(detectorProgram())
	require.NoError(t, err)
	require.Equal(t, "detector", comp.Name())

	numArgs, err := comp.ArgumentCount()
	require.NoError(t, err)
	require.Equal(t, 1, numArgs)

	numOutputs, err := comp.OutputCount()
	require.NoError(t, err)
	require.Equal(t, 1, numOutputs)

	argShape, err := comp.ArgumentShape(0)
	require.NoError(t, err)
	require.Equal(t, "(Float32)[1 3 ? ?]", argShape.String())

	name, err := comp.ArgumentName(0)
	require.NoError(t, err)
	require.Equal(t, "image", name)

	idx, err := comp.ArgumentIndexByName("image")
	require.NoError(t, err)
	require.Equal(t, 0, idx)
	_, err = comp.ArgumentIndexByName("no-such-argument")
	require.Error(t, err)

	outShape, err := comp.OutputShape(0)
	require.NoError(t, err)
	require.Equal(t, "(Float32)[1 1 ? ?]", outShape.String())

	_, err = comp.ArgumentShape(7)
	require.ErrorIs(t, err, ErrInvalidShape)
	_, err = comp.OutputShape(-1)
	require.ErrorIs(t, err, ErrInvalidShape)
}

func TestComputationDestroy(t *testing.T) {
	comp, err := Build(detectorProgram())
	require.NoError(t, err)

	comp.Destroy()
	comp.Destroy() // Second call is a no-op.

	_, err = comp.ArgumentCount()
	require.ErrorIs(t, err, ErrUseAfterFree)
	require.ErrorIs(t, comp.SetItem(ItemFP16Mode, true), ErrUseAfterFree)
	require.ErrorIs(t, comp.SetArgumentRange(0, detectorRange()), ErrUseAfterFree)
	_, err = NewContext(comp)
	require.ErrorIs(t, err, ErrUseAfterFree)
}

func TestSetArgumentRange(t *testing.T) {
	comp, err := Build(detectorProgram())
	require.NoError(t, err)
	defer comp.Destroy()

	require.NoError(t, comp.SetArgumentRange(0, detectorRange()))

	// min > opt somewhere.
	bad := shapes.MakeRange(
		shapes.Make(dtypes.Float32, 1, 3, 970, 1),
		shapes.Make(dtypes.Float32, 1, 3, 960, 1280),
		shapes.Make(dtypes.Float32, 1, 3, 1000, 2000),
	)
	require.ErrorIs(t, comp.SetArgumentRange(0, bad), ErrInvalidShape)

	// Rank mismatch with the declared argument.
	bad = shapes.MakeRange(
		shapes.Make(dtypes.Float32, 1, 3, 1),
		shapes.Make(dtypes.Float32, 1, 3, 960),
		shapes.Make(dtypes.Float32, 1, 3, 1000),
	)
	require.ErrorIs(t, comp.SetArgumentRange(0, bad), ErrInvalidShape)

	// Out-of-bounds argument index.
	require.ErrorIs(t, comp.SetArgumentRange(3, detectorRange()), ErrInvalidShape)

	// A statically shaped argument has nothing to range over.
	b := graph.NewBuilder("static")
	x := b.Parameter("x", shapes.Make(dtypes.Float32, 2, 2))
	staticComp, err := Build(b.Compile(b.Neg(x)))
	require.NoError(t, err)
	defer staticComp.Destroy()
	staticRange := shapes.MakeRange(
		shapes.Make(dtypes.Float32, 2, 2),
		shapes.Make(dtypes.Float32, 2, 2),
		shapes.Make(dtypes.Float32, 2, 2),
	)
	require.ErrorIs(t, staticComp.SetArgumentRange(0, staticRange), ErrInvalidShape)
}

func TestSetArgumentShapeInfo(t *testing.T) {
	comp, err := Build(detectorProgram())
	require.NoError(t, err)
	defer comp.Destroy()

	r := detectorRange()
	// Items arrive one at a time, in the native protocol's order; the range
	// commits once all three are present.
	require.NoError(t, comp.SetArgumentShapeInfo(0, ItemMinShape, r.Min))
	require.NoError(t, comp.SetArgumentShapeInfo(0, ItemMaxShape, r.Max))
	require.NoError(t, comp.SetArgumentShapeInfo(0, ItemOptShape, r.Opt))

	ctx, err := NewContext(comp)
	require.NoError(t, err)
	defer ctx.Destroy()
	require.NoError(t, ctx.SetRuntimeShape(0, shapes.Make(dtypes.Float32, 1, 3, 960, 1280)))
	require.ErrorIs(t, ctx.SetRuntimeShape(0, shapes.Make(dtypes.Float32, 1, 3, 1001, 2000)), ErrShapeOutOfRange)

	// A non-shape item is rejected.
	require.ErrorIs(t, comp.SetArgumentShapeInfo(0, ItemFP16Mode, r.Min), ErrUnsupportedOption)
}

func TestSetItem(t *testing.T) {
	comp, err := Build(detectorProgram())
	require.NoError(t, err)
	defer comp.Destroy()

	require.NoError(t, comp.SetItem(ItemDynamicShape, true))
	require.NoError(t, comp.SetItem(ItemFP16Mode, true))
	require.NoError(t, comp.SetItem(ItemBF16Mode, false))
	require.NoError(t, comp.SetItem(ItemUseSimMode, true))
	require.NoError(t, comp.SetItem(ItemProcessorNum, 4))
	require.NoError(t, comp.SetItem(ItemBatchesPerStep, 2))
	require.NoError(t, comp.SetItem(ItemUseDataType, dtypes.Float32))
	require.NoError(t, comp.SetItem(ItemUseDLACore, 0))
	require.NoError(t, comp.SetItem(ItemQuantTable, []byte{1, 2, 3}))
	require.NoError(t, comp.SetItem(ItemQuantTableSize, 3))
	require.NoError(t, comp.SetItem(ItemLoadEngineMode, false))
	require.NoError(t, comp.SetItem(ItemEnableEngineCache, true))
	require.NoError(t, comp.SetItem(ItemCacheDir, t.TempDir()))

	// Mistyped values.
	require.ErrorIs(t, comp.SetItem(ItemDynamicShape, 1), ErrUnsupportedOption)
	require.ErrorIs(t, comp.SetItem(ItemProcessorNum, "four"), ErrUnsupportedOption)
	require.ErrorIs(t, comp.SetItem(ItemProcessorNum, -1), ErrUnsupportedOption)
	require.ErrorIs(t, comp.SetItem(ItemCacheDir, 7), ErrUnsupportedOption)

	// Per-argument items do not go through SetItem.
	require.ErrorIs(t, comp.SetItem(ItemMinShape, true), ErrUnsupportedOption)

	// Unrecognized item code.
	require.ErrorIs(t, comp.SetItem(Item(99), true), ErrUnsupportedOption)
}
