package graph

import (
	"bytes"
	"encoding/gob"

	"github.com/pkg/errors"

	"github.com/godla/godla/types/shapes"
)

// NodeDef is the flat, serializable form of a graph node. Inputs are indices
// into Program.Nodes, always smaller than the node's own index.
type NodeDef struct {
	Op     OpType
	Inputs []int
	Shape  shapes.Shape

	// Name is set for Parameter nodes.
	Name string

	// Axis and KeepDims are set for ReduceSum nodes.
	Axis     int
	KeepDims bool

	// Literal holds the raw flat bytes of Constant nodes.
	Literal []byte
}

// Program is the frozen form of a Builder graph: a topologically ordered node
// table plus the indices of its parameters and outputs. It is immutable once
// compiled, safe for concurrent readers, and gob-serializable for engine
// caching.
type Program struct {
	Name    string
	Nodes   []NodeDef
	Inputs  []int
	Outputs []int
}

// NumInputs returns the number of declared parameters.
func (p *Program) NumInputs() int { return len(p.Inputs) }

// NumOutputs returns the number of declared outputs.
func (p *Program) NumOutputs() int { return len(p.Outputs) }

// InputShape returns the declared (possibly dynamic) shape of parameter idx.
func (p *Program) InputShape(idx int) shapes.Shape {
	return p.Nodes[p.Inputs[idx]].Shape
}

// InputName returns the declared name of parameter idx.
func (p *Program) InputName(idx int) string {
	return p.Nodes[p.Inputs[idx]].Name
}

// OutputShape returns the declared (possibly dynamic) shape of output idx.
func (p *Program) OutputShape(idx int) shapes.Shape {
	return p.Nodes[p.Outputs[idx]].Shape
}

// Validate checks the structural invariants of a Program, typically one
// decoded from a cache file: topological input ordering, parameter and output
// indices in range, and per-op arity.
func (p *Program) Validate() error {
	if len(p.Outputs) == 0 {
		return errors.Errorf("program %q has no outputs", p.Name)
	}
	for idx := range p.Nodes {
		def := &p.Nodes[idx]
		for _, input := range def.Inputs {
			if input < 0 || input >= idx {
				return errors.Errorf("program %q: node #%d (%s) input index %d breaks topological order",
					p.Name, idx, def.Op, input)
			}
		}
		var wantInputs int
		switch def.Op {
		case OpParameter, OpConstant:
			wantInputs = 0
		case OpNeg, OpAbs, OpExp, OpSigmoid, OpReduceSum, OpReshape:
			wantInputs = 1
		case OpAdd, OpSub, OpMul, OpMatMul:
			wantInputs = 2
		default:
			return errors.Errorf("program %q: node #%d has unknown op %d", p.Name, idx, int(def.Op))
		}
		if len(def.Inputs) != wantInputs {
			return errors.Errorf("program %q: node #%d (%s) has %d inputs, want %d",
				p.Name, idx, def.Op, len(def.Inputs), wantInputs)
		}
	}
	for _, input := range p.Inputs {
		if input < 0 || input >= len(p.Nodes) || p.Nodes[input].Op != OpParameter {
			return errors.Errorf("program %q: input index %d does not point at a parameter node", p.Name, input)
		}
	}
	for _, output := range p.Outputs {
		if output < 0 || output >= len(p.Nodes) {
			return errors.Errorf("program %q: output index %d out-of-bounds", p.Name, output)
		}
	}
	return nil
}

// ResolveShapes propagates the concrete runtime shapes of the parameters
// through the graph's shape rules, returning the resolved concrete shape of
// every node. argShapes must have one concrete shape per parameter, accepted
// by the parameter's declared shape.
func (p *Program) ResolveShapes(argShapes []shapes.Shape) ([]shapes.Shape, error) {
	if len(argShapes) != len(p.Inputs) {
		return nil, errors.Errorf("program %q: got %d argument shapes, want %d", p.Name, len(argShapes), len(p.Inputs))
	}
	resolved := make([]shapes.Shape, len(p.Nodes))
	paramShapes := make(map[int]shapes.Shape, len(p.Inputs))
	for idx, nodeIdx := range p.Inputs {
		declared := p.Nodes[nodeIdx].Shape
		concrete := argShapes[idx]
		if !declared.AcceptsResolved(concrete) {
			return nil, errors.Errorf("program %q: shape %s is not a valid resolution of argument #%d declared as %s",
				p.Name, concrete, idx, declared)
		}
		paramShapes[nodeIdx] = concrete
	}
	inputShapes := make([]shapes.Shape, 0, 2)
	for idx := range p.Nodes {
		def := &p.Nodes[idx]
		if def.Op == OpParameter {
			resolved[idx] = paramShapes[idx]
			continue
		}
		inputShapes = inputShapes[:0]
		for _, input := range def.Inputs {
			inputShapes = append(inputShapes, resolved[input])
		}
		shape, err := inferNode(def, inputShapes)
		if err != nil {
			return nil, errors.Wrapf(err, "program %q: resolving shape of node #%d", p.Name, idx)
		}
		resolved[idx] = shape
	}
	return resolved, nil
}

// GobSerialize the program in binary format.
func (p *Program) GobSerialize(encoder *gob.Encoder) error {
	if err := encoder.Encode(p); err != nil {
		return errors.Wrapf(err, "failed to serialize program %q", p.Name)
	}
	return nil
}

// GobDeserialize a Program and validate its invariants.
func GobDeserialize(decoder *gob.Decoder) (*Program, error) {
	p := &Program{}
	if err := decoder.Decode(p); err != nil {
		return nil, errors.Wrap(err, "failed to deserialize program")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Bytes returns the gob encoding of the program. Used to key the engine cache.
func (p *Program) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := p.GobSerialize(gob.NewEncoder(&buf)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
