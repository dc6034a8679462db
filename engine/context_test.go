package engine

import (
	"testing"
	"unsafe"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"

	"github.com/godla/godla/graph"
	"github.com/godla/godla/types/shapes"
)

// f32b reinterprets a float32 slice as its underlying bytes.
func f32b(flat []float32) []byte {
	if len(flat) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&flat[0])), len(flat)*4)
}

// ramp returns [0, step, 2*step, ...] with n elements.
func ramp(n int, step float32) []float32 {
	flat := make([]float32, n)
	for idx := range flat {
		flat[idx] = float32(idx) * step
	}
	return flat
}

// newDetectorComp builds the detector computation with its range registered.
func newDetectorComp(t *testing.T) *Computation {
	comp, err := Build(detectorProgram())
	require.NoError(t, err)
	require.NoError(t, comp.SetItem(ItemDynamicShape, true))
	require.NoError(t, comp.SetArgumentRange(0, detectorRange()))
	return comp
}

func TestContextShapeNegotiation(t *testing.T) {
	comp := newDetectorComp(t)
	defer comp.Destroy()

	ctx, err := NewContext(comp)
	require.NoError(t, err)
	defer ctx.Destroy()

	// Output shapes are not resolvable before all inputs are bound.
	_, err = ctx.ResolveOutputShape(0)
	require.ErrorIs(t, err, ErrNotReady)

	// Binding before setting the runtime shape of a dynamic argument fails.
	err = ctx.BindInput(0, f32b(ramp(3, 1)))
	require.ErrorIs(t, err, ErrUnresolvedDynamicShape)

	// Out-of-range runtime shape fails and leaves the context untouched.
	require.NoError(t, ctx.SetRuntimeShape(0, shapes.Make(dtypes.Float32, 1, 3, 96, 128)))
	err = ctx.SetRuntimeShape(0, shapes.Make(dtypes.Float32, 1, 3, 1001, 2000))
	require.ErrorIs(t, err, ErrShapeOutOfRange)
	require.Equal(t, stateShapesSet, ctx.state)

	// The previously negotiated shape is still in effect: a buffer sized for
	// it binds fine.
	numElements := 1 * 3 * 96 * 128
	require.ErrorIs(t, ctx.BindInput(0, f32b(ramp(7, 1))), ErrSizeMismatch)
	require.NoError(t, ctx.BindInput(0, f32b(ramp(numElements, 0.001))))
	require.Equal(t, stateBuffersBound, ctx.state)

	// Runtime shapes are frozen once buffers are bound.
	err = ctx.SetRuntimeShape(0, shapes.Make(dtypes.Float32, 1, 3, 96, 128))
	require.ErrorIs(t, err, ErrNotReady)

	resolved, err := ctx.ResolveOutputShape(0)
	require.NoError(t, err)
	require.Equal(t, "(Float32)[1 1 96 128]", resolved.String())

	out, err := ctx.AllocateOutput(0)
	require.NoError(t, err)
	require.Equal(t, resolved.Size(), out.NumElements())
	require.Len(t, out.Bytes(), int(resolved.Memory()))
}

func TestContextStaticArgument(t *testing.T) {
	b := graph.NewBuilder("static")
	x := b.Parameter("x", shapes.Make(dtypes.Float32, 2, 2))
	comp, err := Build(b.Compile(b.Neg(x)))
	require.NoError(t, err)
	defer comp.Destroy()

	ctx, err := NewContext(comp)
	require.NoError(t, err)
	defer ctx.Destroy()

	// There is no dynamic axis to set on a static argument.
	err = ctx.SetRuntimeShape(0, shapes.Make(dtypes.Float32, 2, 2))
	require.ErrorIs(t, err, ErrShapeOutOfRange)
	require.Equal(t, stateCreated, ctx.state)

	// Static arguments bind directly against the declared shape.
	require.NoError(t, ctx.BindInput(0, f32b(ramp(4, 1))))
	require.Equal(t, stateBuffersBound, ctx.state)
}

func TestContextBindOutput(t *testing.T) {
	comp := newDetectorComp(t)
	defer comp.Destroy()

	ctx, err := NewContext(comp)
	require.NoError(t, err)
	defer ctx.Destroy()

	// BindOutput needs resolved shapes, which need all inputs bound.
	require.ErrorIs(t, ctx.BindOutput(0, make([]byte, 4)), ErrNotReady)

	require.NoError(t, ctx.SetRuntimeShape(0, shapes.Make(dtypes.Float32, 1, 3, 4, 4)))
	require.NoError(t, ctx.BindInput(0, f32b(ramp(3*16, 1))))

	// Caller-sized output buffer must match the resolved size exactly.
	require.ErrorIs(t, ctx.BindOutput(0, make([]byte, 3)), ErrSizeMismatch)
	require.NoError(t, ctx.BindOutput(0, make([]byte, 16*4)))
}

func TestContextDestroy(t *testing.T) {
	comp := newDetectorComp(t)
	defer comp.Destroy()

	ctx, err := NewContext(comp)
	require.NoError(t, err)
	ctx.Destroy()
	ctx.Destroy() // Second call is a no-op.

	require.ErrorIs(t, ctx.SetRuntimeShape(0, shapes.Make(dtypes.Float32, 1, 3, 4, 4)), ErrUseAfterFree)
	require.ErrorIs(t, ctx.BindInput(0, nil), ErrUseAfterFree)
	_, err = ctx.ResolveOutputShape(0)
	require.ErrorIs(t, err, ErrUseAfterFree)
	_, err = ctx.Output(0)
	require.ErrorIs(t, err, ErrUseAfterFree)
}

func TestContextRunBatchPrefill(t *testing.T) {
	b := graph.NewBuilder("batched")
	x := b.Parameter("x", shapes.MakeDynamic(dtypes.Float32, shapes.DynamicDim, 4))
	comp, err := Build(b.Compile(b.Add(x, x)))
	require.NoError(t, err)
	defer comp.Destroy()

	require.NoError(t, comp.SetItem(ItemDynamicBatch, true))
	require.NoError(t, comp.SetItem(ItemMinBatchSize, 1))
	require.NoError(t, comp.SetItem(ItemMaxBatchSize, 8))
	require.NoError(t, comp.SetItem(ItemOptBatchSize, 4))
	require.NoError(t, comp.SetItem(ItemRunBatchSize, 2))

	// The run batch size pre-resolves axis 0, no SetRuntimeShape needed.
	ctx, err := NewContext(comp)
	require.NoError(t, err)
	defer ctx.Destroy()
	require.Equal(t, stateShapesSet, ctx.state)
	require.NoError(t, ctx.BindInput(0, f32b(ramp(2*4, 1))))

	resolved, err := ctx.ResolveOutputShape(0)
	require.NoError(t, err)
	require.Equal(t, "(Float32)[2 4]", resolved.String())

	out, err := ctx.AllocateOutput(0)
	require.NoError(t, err)
	require.NoError(t, NewExecutor().Execute(comp, ctx))
	require.Equal(t, []float32{0, 2, 4, 6, 8, 10, 12, 14}, flatOf[float32](out))

	// The batch range synthesized from the items still bounds explicit
	// runtime shapes on fresh contexts.
	ctx2, err := NewContext(comp)
	require.NoError(t, err)
	defer ctx2.Destroy()
	require.ErrorIs(t, ctx2.SetRuntimeShape(0, shapes.Make(dtypes.Float32, 9, 4)), ErrShapeOutOfRange)
	require.NoError(t, ctx2.SetRuntimeShape(0, shapes.Make(dtypes.Float32, 5, 4)))
}
