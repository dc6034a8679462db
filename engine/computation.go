// Package engine implements the dynamic-shape computation execution engine:
// it owns compiled computations, negotiates concrete shapes per invocation,
// binds caller buffers to arguments and outputs, and executes synchronously
// and deterministically.
//
// The protocol, in caller order:
//
//	prog := graph builder output (see package graph)
//	comp, _ := engine.Build(prog)
//	comp.SetArgumentRange(0, shapes.MakeRange(min, opt, max)) // dynamic args only
//	ctx, _ := engine.NewContext(comp)
//	ctx.SetRuntimeShape(0, concrete)
//	ctx.BindInput(0, inputBytes)
//	out, _ := ctx.AllocateOutput(0) // or BindOutput with caller-sized bytes
//	exec := engine.NewExecutor()
//	exec.Execute(comp, ctx)
//	... read out.Bytes(), ctx.ResolveOutputShape(0) ...
//	ctx.Destroy()
//	comp.Destroy()
//
// A Computation is safely shared read-only by concurrently running
// ExecutionContexts: the interpreter only reads the compiled program. The
// setup calls (SetItem, SetArgumentRange) must complete before the first
// context executes. An ExecutionContext is single-owner, single-invocation
// and must never be shared.
package engine

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/godla/godla/graph"
	"github.com/godla/godla/types/shapes"
)

// pendingRange accumulates the per-argument min/max/opt shapes as they arrive
// through the item-setting protocol, one at a time.
type pendingRange struct {
	min, max, opt *shapes.Shape
}

// Computation is an immutable, once-built graph handle. It exposes the
// declared arguments and outputs and holds the per-argument shape ranges and
// configuration items supplied before execution.
//
// Destroy it exactly once, after every ExecutionContext referencing it is
// destroyed.
type Computation struct {
	mu   sync.Mutex
	prog *graph.Program

	// ranges has one entry per argument; nil until a complete, validated
	// range is registered.
	ranges []*shapes.Range

	// pending per-argument shape-info items not yet forming a full range.
	pending []pendingRange

	settings settings

	destroyed bool
}

// Build compiles the program into a Computation. It fails with ErrBuild if
// the program is missing or structurally invalid.
func Build(prog *graph.Program) (*Computation, error) {
	if prog == nil {
		return nil, errors.Wrap(ErrBuild, "nil program")
	}
	if err := prog.Validate(); err != nil {
		return nil, errors.Wrapf(ErrBuild, "invalid program: %v", err)
	}
	return &Computation{
		prog:    prog,
		ranges:  make([]*shapes.Range, prog.NumInputs()),
		pending: make([]pendingRange, prog.NumInputs()),
	}, nil
}

// checkAlive returns ErrUseAfterFree once the computation was destroyed.
// Callers hold c.mu.
func (c *Computation) checkAlive() error {
	if c.destroyed {
		return errors.Wrap(ErrUseAfterFree, "computation already destroyed")
	}
	return nil
}

// Name of the computation.
func (c *Computation) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return "<destroyed>"
	}
	return c.prog.Name
}

// ArgumentCount returns the number of declared arguments.
func (c *Computation) ArgumentCount() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkAlive(); err != nil {
		return 0, err
	}
	return c.prog.NumInputs(), nil
}

// OutputCount returns the number of declared outputs.
func (c *Computation) OutputCount() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkAlive(); err != nil {
		return 0, err
	}
	return c.prog.NumOutputs(), nil
}

// ArgumentShape returns the declared (possibly dynamic) shape of argument idx.
func (c *Computation) ArgumentShape(idx int) (shapes.Shape, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkAlive(); err != nil {
		return shapes.Invalid(), err
	}
	if idx < 0 || idx >= c.prog.NumInputs() {
		return shapes.Invalid(), errors.Wrapf(ErrInvalidShape, "argument index %d out-of-bounds (%d arguments)", idx, c.prog.NumInputs())
	}
	return c.prog.InputShape(idx), nil
}

// ArgumentName returns the declared name of argument idx.
func (c *Computation) ArgumentName(idx int) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkAlive(); err != nil {
		return "", err
	}
	if idx < 0 || idx >= c.prog.NumInputs() {
		return "", errors.Wrapf(ErrInvalidShape, "argument index %d out-of-bounds (%d arguments)", idx, c.prog.NumInputs())
	}
	return c.prog.InputName(idx), nil
}

// ArgumentIndexByName returns the index of the named argument, or -1 and an
// error when no argument has that name.
func (c *Computation) ArgumentIndexByName(name string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkAlive(); err != nil {
		return -1, err
	}
	for idx := range c.prog.NumInputs() {
		if c.prog.InputName(idx) == name {
			return idx, nil
		}
	}
	return -1, errors.Wrapf(ErrInvalidShape, "computation %q has no argument named %q", c.prog.Name, name)
}

// OutputShape returns the declared (possibly dynamic) shape of output idx.
func (c *Computation) OutputShape(idx int) (shapes.Shape, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkAlive(); err != nil {
		return shapes.Invalid(), err
	}
	if idx < 0 || idx >= c.prog.NumOutputs() {
		return shapes.Invalid(), errors.Wrapf(ErrInvalidShape, "output index %d out-of-bounds (%d outputs)", idx, c.prog.NumOutputs())
	}
	return c.prog.OutputShape(idx), nil
}

// SetItem sets one computation-level configuration item. Unrecognized items
// and mistyped values fail with ErrUnsupportedOption.
func (c *Computation) SetItem(item Item, value any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkAlive(); err != nil {
		return err
	}
	return c.settings.apply(item, value)
}

// SetArgumentRange registers the min/opt/max shape hints for argument idx.
// Required, before the first execution, for every argument whose declared
// shape has dynamic axes. It fails with ErrInvalidShape when the range is
// internally inconsistent (min <= opt <= max violated), disagrees with the
// declared rank or dtype, or the argument has no dynamic axes.
func (c *Computation) SetArgumentRange(idx int, r shapes.Range) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkAlive(); err != nil {
		return err
	}
	return c.setArgumentRangeLocked(idx, r)
}

func (c *Computation) setArgumentRangeLocked(idx int, r shapes.Range) error {
	if idx < 0 || idx >= c.prog.NumInputs() {
		return errors.Wrapf(ErrInvalidShape, "argument index %d out-of-bounds (%d arguments)", idx, c.prog.NumInputs())
	}
	declared := c.prog.InputShape(idx)
	if !declared.IsDynamic() {
		return errors.Wrapf(ErrInvalidShape, "argument #%d has static declared shape %s, nothing to range over", idx, declared)
	}
	if err := r.CheckDeclared(declared); err != nil {
		return errors.Wrapf(ErrInvalidShape, "argument #%d: %v", idx, err)
	}
	committed := r
	c.ranges[idx] = &committed
	return nil
}

// SetArgumentShapeInfo mirrors the native per-value item protocol: the
// min/max/opt shapes of an argument arrive one item at a time. Once all three
// are present they are validated and committed as the argument's range.
func (c *Computation) SetArgumentShapeInfo(idx int, item Item, shape shapes.Shape) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkAlive(); err != nil {
		return err
	}
	if idx < 0 || idx >= c.prog.NumInputs() {
		return errors.Wrapf(ErrInvalidShape, "argument index %d out-of-bounds (%d arguments)", idx, c.prog.NumInputs())
	}
	pending := &c.pending[idx]
	clone := shape.Clone()
	switch item {
	case ItemMinShape:
		pending.min = &clone
	case ItemMaxShape:
		pending.max = &clone
	case ItemOptShape:
		pending.opt = &clone
	default:
		return errors.Wrapf(ErrUnsupportedOption, "item %s is not a shape-info item", item)
	}
	if pending.min == nil || pending.max == nil || pending.opt == nil {
		return nil
	}
	r := shapes.MakeRange(*pending.min, *pending.opt, *pending.max)
	if err := c.setArgumentRangeLocked(idx, r); err != nil {
		// Leave the pending pieces in place so the caller can correct the
		// offending one and retry.
		return err
	}
	c.pending[idx] = pendingRange{}
	return nil
}

// rangeFor returns the registered range of argument idx, or a range
// synthesized from the dynamic-batch items when only axis 0 is dynamic.
// Returns nil when no range is available.
func (c *Computation) rangeFor(idx int) *shapes.Range {
	if r := c.ranges[idx]; r != nil {
		return r
	}
	if !c.settings.dynamicBatch || c.settings.maxBatch <= 0 {
		return nil
	}
	declared := c.prog.InputShape(idx)
	if declared.Rank() == 0 || declared.NumDynamicAxes() != 1 || declared.Dimensions[0] != shapes.DynamicDim {
		return nil
	}
	withBatch := func(batch int) shapes.Shape {
		s := declared.Clone()
		s.Dimensions[0] = batch
		return s
	}
	minBatch := max(c.settings.minBatch, 1)
	optBatch := c.settings.optBatch
	if optBatch < minBatch {
		optBatch = minBatch
	}
	r := shapes.MakeRange(withBatch(minBatch), withBatch(optBatch), withBatch(c.settings.maxBatch))
	if r.Validate() != nil {
		return nil
	}
	return &r
}

// Destroy releases the computation. Idempotent: the second call is a no-op.
// Any other method called after Destroy fails with ErrUseAfterFree.
func (c *Computation) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return
	}
	c.destroyed = true
	c.prog = nil
	c.ranges = nil
	c.pending = nil
}
