package engine

import (
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/godla/godla/types/shapes"
)

// Executor runs a bound Computation against a bound ExecutionContext.
//
// Execute is synchronous and blocking, with no internal timeout: callers
// needing cancellation must wrap the call in their own mechanism; the engine
// cannot be asked to stop mid-execution. For fixed inputs and resolved shapes
// the output bytes are deterministic.
type Executor struct{}

// NewExecutor creates an Executor. Executors are stateless and may be shared.
func NewExecutor() *Executor { return &Executor{} }

// Execute runs the computation over the context's bound buffers.
//
// Preconditions: every argument and every output of the context is bound
// (state BuffersBound); violating this fails with ErrNotReady without
// touching any output buffer. Every dynamic argument must have a registered
// shape range, checked here rather than at bind time; a missing one fails
// with ErrUnresolvedDynamicShape.
//
// On success the context transitions to Executed and the bound output buffers
// hold the results, their shapes retrievable via ResolveOutputShape. On a
// backend failure the context transitions to Failed, the output buffers are
// undefined, and the context is not reusable.
func (e *Executor) Execute(comp *Computation, ctx *ExecutionContext) error {
	if comp == nil || ctx == nil {
		return errors.Wrap(ErrNotReady, "nil computation or context")
	}
	if err := ctx.checkAlive(); err != nil {
		return err
	}
	if ctx.comp != comp {
		return errors.Wrapf(ErrNotReady, "context %s was created for a different computation", ctx.id)
	}

	comp.mu.Lock()
	err := comp.checkAlive()
	var s settings
	var missingRange int
	if err == nil {
		s = comp.settings
		missingRange = -1
		for idx := range ctx.runtime {
			declared := comp.prog.InputShape(idx)
			if declared.IsDynamic() && comp.rangeFor(idx) == nil {
				missingRange = idx
				break
			}
		}
	}
	comp.mu.Unlock()
	if err != nil {
		return err
	}
	if missingRange >= 0 {
		return errors.Wrapf(ErrUnresolvedDynamicShape,
			"argument #%d declared as %s has no shape range registered",
			missingRange, ctx.prog.InputShape(missingRange))
	}

	if ctx.state != stateBuffersBound {
		return errors.Wrapf(ErrNotReady, "context %s: Execute requires state BuffersBound, state is %s", ctx.id, ctx.state)
	}
	if missing := ctx.unboundOutputs(); len(missing) > 0 {
		return errors.Wrapf(ErrNotReady, "context %s: outputs %v are not bound", ctx.id, missing)
	}

	resolved, err := ctx.resolveNodeShapes()
	if err != nil {
		return err
	}

	if s.simMode {
		klog.V(1).Infof("context %s: executing %q in simulation mode", ctx.id, ctx.prog.Name)
	}
	start := time.Now()
	results, err := evalProgram(ctx.prog, resolved, ctx.inputs, &s)
	if err != nil {
		ctx.state = stateFailed
		return errors.Wrapf(ErrExecution, "context %s: %v", ctx.id, err)
	}
	// All outputs are filled only after the whole graph evaluated: a failure
	// above leaves every bound output untouched.
	for idx, nodeIdx := range ctx.prog.Outputs {
		copy(ctx.outputs[idx].data, results[nodeIdx].data)
	}
	ctx.state = stateExecuted
	klog.V(1).Infof("context %s: executed %q in %s", ctx.id, ctx.prog.Name, time.Since(start))
	return nil
}

// ExecuteOnce is a convenience wrapper for fully static computations: it
// creates a fresh context, binds the given inputs, allocates every output,
// executes, and returns the output buffers with ownership transferred to the
// caller.
func (e *Executor) ExecuteOnce(comp *Computation, inputs ...[]byte) ([]*Buffer, error) {
	ctx, err := NewContext(comp)
	if err != nil {
		return nil, err
	}
	defer ctx.Destroy()
	for idx, data := range inputs {
		if err := ctx.BindInput(idx, data); err != nil {
			return nil, err
		}
	}
	numOutputs, err := comp.OutputCount()
	if err != nil {
		return nil, err
	}
	outputs := make([]*Buffer, numOutputs)
	for idx := range numOutputs {
		outputs[idx], err = ctx.AllocateOutput(idx)
		if err != nil {
			return nil, err
		}
	}
	if err := e.Execute(comp, ctx); err != nil {
		return nil, err
	}
	return outputs, nil
}

// OutputShapesOf resolves the shapes of every output of an executed or fully
// bound context, in output order.
func OutputShapesOf(ctx *ExecutionContext) ([]shapes.Shape, error) {
	result := make([]shapes.Shape, len(ctx.outputs))
	for idx := range ctx.outputs {
		shape, err := ctx.ResolveOutputShape(idx)
		if err != nil {
			return nil, err
		}
		result[idx] = shape
	}
	return result, nil
}
