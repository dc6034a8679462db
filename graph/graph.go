// Package graph defines the Builder used to describe a computation as a DAG
// of typed, shaped nodes, and the flat Program form the engine compiles.
//
// Nodes are only created after their inputs, so Builder.nodes is a natural
// topological ordering of the DAG -- the engine's executor relies on this
// invariance.
//
// Shapes are inferred at build time and may carry dynamic axes
// (shapes.DynamicDim) inherited from dynamic parameters; they are resolved to
// concrete shapes per invocation by Program.ResolveShapes.
//
// Builder methods panic (see github.com/gomlx/exceptions) on misuse: an
// invalid graph is a programming error, not a runtime condition. The engine
// converts failures during Build into its own error taxonomy.
package graph

import (
	"slices"

	"github.com/gomlx/exceptions"

	"github.com/godla/godla/types/shapes"
)

// Builder keeps track of the computation graph being defined.
type Builder struct {
	name     string
	compiled bool

	// nodes are only created when their inputs have already been created, so
	// this is a DAG ordering of the graph.
	nodes []*Node

	// inputs hold the parameter nodes, in declaration order.
	inputs []*Node
}

// NewBuilder creates a Builder for a named computation graph.
func NewBuilder(name string) *Builder {
	return &Builder{name: name}
}

// Name of the computation being built.
func (b *Builder) Name() string { return b.name }

// Node in the computation graph.
type Node struct {
	builder    *Builder
	builderIdx int
	inputs     []*Node

	opType OpType

	// shape of the node's result at build time; may have dynamic axes.
	shape shapes.Shape

	// paramName is set for OpParameter nodes.
	paramName string

	// axis/keepDims are set for OpReduceSum nodes.
	axis     int
	keepDims bool

	// literal holds the raw flat bytes for OpConstant nodes.
	literal []byte
}

// Shape of the node's result. May carry dynamic axes.
func (n *Node) Shape() shapes.Shape { return n.shape }

// newNode adds a new node of the given opType and shape to the Builder graph.
func (b *Builder) newNode(opType OpType, shape shapes.Shape, inputs ...*Node) *Node {
	n := &Node{
		builder:    b,
		opType:     opType,
		builderIdx: len(b.nodes),
		shape:      shape,
		inputs:     slices.Clone(inputs),
	}
	b.nodes = append(b.nodes, n)
	return n
}

// checkNodes validates that the nodes belong to this builder and that the
// builder has not been compiled yet.
func (b *Builder) checkNodes(opName string, nodes ...*Node) {
	if b == nil {
		exceptions.Panicf("%s: Builder is nil, cannot build a graph", opName)
	}
	if b.compiled {
		exceptions.Panicf("cannot add new op (%s) to Builder %q, it has already been compiled", opName, b.name)
	}
	for idx, node := range nodes {
		if node == nil {
			exceptions.Panicf("%s: input node #%d is nil", opName, idx)
		}
		if node.builder != b {
			exceptions.Panicf("%s: input node #%d was created with a different builder (%q), cannot use it with builder %q",
				opName, idx, node.builder.name, b.name)
		}
	}
}

// Parameter declares a named graph argument with the given declared shape.
// The shape may carry dynamic axes (shapes.DynamicDim); those are resolved
// per invocation. Parameter order defines the argument indices the engine
// exposes.
func (b *Builder) Parameter(name string, shape shapes.Shape) *Node {
	b.checkNodes("Parameter")
	if !shape.Ok() {
		exceptions.Panicf("Parameter(%q): invalid shape", name)
	}
	for _, input := range b.inputs {
		if input.paramName == name {
			exceptions.Panicf("Parameter(%q): name already in use in builder %q", name, b.name)
		}
	}
	n := b.newNode(OpParameter, shape.Clone())
	n.paramName = name
	b.inputs = append(b.inputs, n)
	return n
}

// Compile freezes the graph with the given output nodes and returns its flat
// Program form, ready to be built into an engine Computation.
func (b *Builder) Compile(outputs ...*Node) *Program {
	b.checkNodes("Compile", outputs...)
	if len(outputs) == 0 {
		exceptions.Panicf("Compile: computation %q needs at least one output", b.name)
	}
	b.compiled = true

	p := &Program{
		Name:    b.name,
		Nodes:   make([]NodeDef, len(b.nodes)),
		Inputs:  make([]int, len(b.inputs)),
		Outputs: make([]int, len(outputs)),
	}
	for idx, node := range b.nodes {
		inputIndices := make([]int, len(node.inputs))
		for ii, input := range node.inputs {
			inputIndices[ii] = input.builderIdx
		}
		p.Nodes[idx] = NodeDef{
			Op:       node.opType,
			Inputs:   inputIndices,
			Shape:    node.shape,
			Name:     node.paramName,
			Axis:     node.axis,
			KeepDims: node.keepDims,
			Literal:  node.literal,
		}
	}
	for idx, input := range b.inputs {
		p.Inputs[idx] = input.builderIdx
	}
	for idx, output := range outputs {
		p.Outputs[idx] = output.builderIdx
	}
	return p
}
