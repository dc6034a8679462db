package engine

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/godla/godla/graph"
	"github.com/godla/godla/types/shapes"
)

// ctxState tracks the per-invocation protocol:
// Created -> ShapesSet -> BuffersBound -> Executed, with Failed reachable
// from the execution step and Destroyed terminal from everywhere.
type ctxState int

const (
	stateCreated ctxState = iota
	stateShapesSet
	stateBuffersBound
	stateExecuted
	stateFailed
	stateDestroyed
)

var ctxStateNames = [...]string{"Created", "ShapesSet", "BuffersBound", "Executed", "Failed", "Destroyed"}

// String implements fmt.Stringer.
func (s ctxState) String() string {
	if s < 0 || int(s) >= len(ctxStateNames) {
		return "Unknown"
	}
	return ctxStateNames[s]
}

// ExecutionContext binds concrete runtime shapes and buffers to one
// invocation of a Computation. Create a fresh context per invocation; a
// context is single-owner and must never be shared across concurrent
// invocations. Contexts are not reusable after a failed execution.
type ExecutionContext struct {
	id   uuid.UUID
	comp *Computation
	prog *graph.Program

	state ctxState

	// runtime holds the concrete shape set for each dynamic argument;
	// nil until set.
	runtime []*shapes.Shape

	// inputs and outputs are fixed-length tables indexed by argument/output
	// position, populated once per context.
	inputs  []*Buffer
	outputs []*Buffer

	// resolved caches the concrete per-node shapes, computed once all inputs
	// are bound.
	resolved []shapes.Shape
}

// NewContext creates a fresh ExecutionContext for one invocation of comp.
//
// When the computation runs in dynamic-batch mode and RUN_BATCH_SIZE was set,
// arguments whose only dynamic axis is axis 0 get their runtime shape
// pre-filled with that batch size.
func NewContext(comp *Computation) (*ExecutionContext, error) {
	if comp == nil {
		return nil, errors.Wrap(ErrBuild, "nil computation")
	}
	comp.mu.Lock()
	defer comp.mu.Unlock()
	if err := comp.checkAlive(); err != nil {
		return nil, err
	}
	prog := comp.prog
	ctx := &ExecutionContext{
		id:      uuid.New(),
		comp:    comp,
		prog:    prog,
		runtime: make([]*shapes.Shape, prog.NumInputs()),
		inputs:  make([]*Buffer, prog.NumInputs()),
		outputs: make([]*Buffer, prog.NumOutputs()),
	}
	if comp.settings.dynamicBatch && comp.settings.runBatch > 0 {
		for idx := range prog.NumInputs() {
			declared := prog.InputShape(idx)
			if declared.Rank() == 0 || declared.NumDynamicAxes() != 1 || declared.Dimensions[0] != shapes.DynamicDim {
				continue
			}
			s := declared.Clone()
			s.Dimensions[0] = comp.settings.runBatch
			ctx.runtime[idx] = &s
			ctx.state = stateShapesSet
		}
	}
	klog.V(2).Infof("context %s created for computation %q", ctx.id, prog.Name)
	return ctx, nil
}

// ID of the context, used in log lines and error messages.
func (ctx *ExecutionContext) ID() uuid.UUID { return ctx.id }

// checkAlive returns ErrUseAfterFree once the context was destroyed.
func (ctx *ExecutionContext) checkAlive() error {
	if ctx.state == stateDestroyed {
		return errors.Wrapf(ErrUseAfterFree, "context %s already destroyed", ctx.id)
	}
	return nil
}

// SetRuntimeShape binds the concrete shape of dynamic argument idx for this
// invocation. Valid in states Created and ShapesSet. It fails with
// ErrShapeOutOfRange when the argument has no dynamic axes (nothing to set)
// or when concrete falls outside the registered [min, max] range; a failed
// call leaves the context state untouched.
func (ctx *ExecutionContext) SetRuntimeShape(idx int, concrete shapes.Shape) error {
	if err := ctx.checkAlive(); err != nil {
		return err
	}
	if ctx.state != stateCreated && ctx.state != stateShapesSet {
		return errors.Wrapf(ErrNotReady, "context %s: SetRuntimeShape not valid in state %s", ctx.id, ctx.state)
	}
	if idx < 0 || idx >= len(ctx.runtime) {
		return errors.Wrapf(ErrInvalidShape, "argument index %d out-of-bounds (%d arguments)", idx, len(ctx.runtime))
	}
	declared := ctx.prog.InputShape(idx)
	if !declared.IsDynamic() {
		return errors.Wrapf(ErrShapeOutOfRange,
			"argument #%d has static declared shape %s, there is no dynamic axis to set", idx, declared)
	}
	if !declared.AcceptsResolved(concrete) {
		return errors.Wrapf(ErrInvalidShape,
			"shape %s is not a valid resolution of argument #%d declared as %s", concrete, idx, declared)
	}
	ctx.comp.mu.Lock()
	r := ctx.comp.rangeFor(idx)
	ctx.comp.mu.Unlock()
	if r != nil && !r.Contains(concrete) {
		return errors.Wrapf(ErrShapeOutOfRange,
			"argument #%d: shape %s falls outside registered %s", idx, concrete, r)
	}
	clone := concrete.Clone()
	ctx.runtime[idx] = &clone
	ctx.state = stateShapesSet
	return nil
}

// resolvedInputShape returns the concrete shape argument idx will take this
// invocation: the declared shape for static arguments, the runtime shape for
// dynamic ones. Fails with ErrUnresolvedDynamicShape when the runtime shape
// was not set.
func (ctx *ExecutionContext) resolvedInputShape(idx int) (shapes.Shape, error) {
	declared := ctx.prog.InputShape(idx)
	if !declared.IsDynamic() {
		return declared, nil
	}
	if ctx.runtime[idx] == nil {
		return shapes.Invalid(), errors.Wrapf(ErrUnresolvedDynamicShape,
			"argument #%d declared as %s has no runtime shape set", idx, declared)
	}
	return *ctx.runtime[idx], nil
}

// BindInput binds the caller-owned data as the buffer of argument idx. The
// data is borrowed: the engine never copies nor frees it, and the caller must
// keep it valid and unmodified until Execute returns. The byte length must
// match the resolved shape exactly.
//
// Once every argument is bound the context transitions to BuffersBound.
func (ctx *ExecutionContext) BindInput(idx int, data []byte) error {
	if err := ctx.checkAlive(); err != nil {
		return err
	}
	if ctx.state == stateExecuted || ctx.state == stateFailed {
		return errors.Wrapf(ErrNotReady, "context %s: BindInput not valid in state %s", ctx.id, ctx.state)
	}
	if idx < 0 || idx >= len(ctx.inputs) {
		return errors.Wrapf(ErrInvalidShape, "argument index %d out-of-bounds (%d arguments)", idx, len(ctx.inputs))
	}
	resolved, err := ctx.resolvedInputShape(idx)
	if err != nil {
		return err
	}
	if err := checkByteLen(resolved, data); err != nil {
		return errors.Wrapf(err, "argument #%d", idx)
	}
	ctx.inputs[idx] = borrowBuffer(resolved, data)
	for _, input := range ctx.inputs {
		if input == nil {
			return nil
		}
	}
	ctx.state = stateBuffersBound
	return nil
}

// resolveNodeShapes computes (and caches) the concrete shape of every graph
// node by propagating the bound input shapes through the shape-inference
// rules.
func (ctx *ExecutionContext) resolveNodeShapes() ([]shapes.Shape, error) {
	if ctx.resolved != nil {
		return ctx.resolved, nil
	}
	argShapes := make([]shapes.Shape, len(ctx.inputs))
	for idx := range ctx.inputs {
		argShapes[idx] = ctx.inputs[idx].Shape()
	}
	resolved, err := ctx.prog.ResolveShapes(argShapes)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidShape, "context %s: %v", ctx.id, err)
	}
	ctx.resolved = resolved
	return resolved, nil
}

// ResolveOutputShape returns the concrete shape output idx takes this
// invocation. For outputs with dynamic declared shapes it propagates the
// bound input shapes through the graph's shape rules; statically declared
// outputs resolve to their declared shape. Callable only once all inputs are
// bound (state BuffersBound) and after execution; otherwise fails with
// ErrNotReady.
func (ctx *ExecutionContext) ResolveOutputShape(idx int) (shapes.Shape, error) {
	if err := ctx.checkAlive(); err != nil {
		return shapes.Invalid(), err
	}
	if ctx.state != stateBuffersBound && ctx.state != stateExecuted {
		return shapes.Invalid(), errors.Wrapf(ErrNotReady,
			"context %s: ResolveOutputShape requires all inputs bound, state is %s", ctx.id, ctx.state)
	}
	if idx < 0 || idx >= len(ctx.outputs) {
		return shapes.Invalid(), errors.Wrapf(ErrInvalidShape, "output index %d out-of-bounds (%d outputs)", idx, len(ctx.outputs))
	}
	declared := ctx.prog.OutputShape(idx)
	if !declared.IsDynamic() {
		return declared, nil
	}
	resolved, err := ctx.resolveNodeShapes()
	if err != nil {
		return shapes.Invalid(), err
	}
	return resolved[ctx.prog.Outputs[idx]], nil
}

// BindOutput binds caller-owned data as the buffer of output idx. The caller
// sizes it from ResolveOutputShape; a disagreeing byte length fails with
// ErrSizeMismatch. Requires state BuffersBound.
func (ctx *ExecutionContext) BindOutput(idx int, data []byte) error {
	resolved, err := ctx.ResolveOutputShape(idx)
	if err != nil {
		return err
	}
	if ctx.state != stateBuffersBound {
		return errors.Wrapf(ErrNotReady, "context %s: BindOutput not valid in state %s", ctx.id, ctx.state)
	}
	if err := checkByteLen(resolved, data); err != nil {
		return errors.Wrapf(err, "output #%d", idx)
	}
	ctx.outputs[idx] = borrowBuffer(resolved, data)
	return nil
}

// AllocateOutput allocates an engine-owned buffer of exactly the resolved
// output size and binds it to output idx. On successful execution ownership
// transfers to the caller; on failure or unconsumed contexts Destroy releases
// it. Requires state BuffersBound.
func (ctx *ExecutionContext) AllocateOutput(idx int) (*Buffer, error) {
	resolved, err := ctx.ResolveOutputShape(idx)
	if err != nil {
		return nil, err
	}
	if ctx.state != stateBuffersBound {
		return nil, errors.Wrapf(ErrNotReady, "context %s: AllocateOutput not valid in state %s", ctx.id, ctx.state)
	}
	buffer := newBuffer(resolved)
	ctx.outputs[idx] = buffer
	return buffer, nil
}

// Output returns the bound buffer of output idx after a successful execution.
func (ctx *ExecutionContext) Output(idx int) (*Buffer, error) {
	if err := ctx.checkAlive(); err != nil {
		return nil, err
	}
	if ctx.state != stateExecuted {
		return nil, errors.Wrapf(ErrNotReady, "context %s: outputs not available in state %s", ctx.id, ctx.state)
	}
	if idx < 0 || idx >= len(ctx.outputs) {
		return nil, errors.Wrapf(ErrInvalidShape, "output index %d out-of-bounds (%d outputs)", idx, len(ctx.outputs))
	}
	return ctx.outputs[idx], nil
}

// unboundOutputs lists the output indices still missing a buffer.
func (ctx *ExecutionContext) unboundOutputs() []int {
	var missing []int
	for idx, output := range ctx.outputs {
		if output == nil {
			missing = append(missing, idx)
		}
	}
	return missing
}

// Destroy releases all engine-owned buffers; borrowed buffers are untouched.
// Output buffers of a successful execution belong to the caller and are not
// released. Idempotent: the second call is a no-op.
func (ctx *ExecutionContext) Destroy() {
	if ctx.state == stateDestroyed {
		return
	}
	transferred := ctx.state == stateExecuted
	for idx, output := range ctx.outputs {
		if output == nil {
			continue
		}
		if output.owned && !transferred {
			output.release()
		}
		ctx.outputs[idx] = nil
	}
	for idx := range ctx.inputs {
		ctx.inputs[idx] = nil
	}
	ctx.resolved = nil
	ctx.state = stateDestroyed
	klog.V(2).Infof("context %s destroyed", ctx.id)
}
