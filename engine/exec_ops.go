package engine

import (
	"math"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/pkg/errors"
	"github.com/x448/float16"

	"github.com/godla/godla/graph"
	"github.com/godla/godla/types/shapes"
)

// The interpreter: evaluates the program DAG node by node, in the builder's
// topological order, over flat buffers with the invocation's resolved shapes.
// Deterministic for fixed inputs and resolved shapes.

type numeric interface {
	~float32 | ~float64 | ~int32 | ~int64
}

type floating interface {
	~float32 | ~float64
}

// evalProgram runs all nodes and returns one result buffer per node.
// Parameter nodes alias the bound input buffers; reshape aliases its operand.
func evalProgram(prog *graph.Program, resolved []shapes.Shape, inputs []*Buffer, s *settings) ([]*Buffer, error) {
	argOf := make(map[int]int, len(prog.Inputs))
	for argIdx, nodeIdx := range prog.Inputs {
		argOf[nodeIdx] = argIdx
	}
	results := make([]*Buffer, len(prog.Nodes))
	for idx := range prog.Nodes {
		def := &prog.Nodes[idx]
		var err error
		switch def.Op {
		case graph.OpParameter:
			results[idx] = inputs[argOf[idx]]
		case graph.OpConstant:
			results[idx] = borrowBuffer(def.Shape, def.Literal)
		case graph.OpReshape:
			results[idx] = borrowBuffer(resolved[idx], results[def.Inputs[0]].data)
		case graph.OpNeg, graph.OpAbs, graph.OpExp, graph.OpSigmoid:
			results[idx], err = execUnary(def.Op, results[def.Inputs[0]], resolved[idx], s)
		case graph.OpAdd, graph.OpSub, graph.OpMul:
			results[idx], err = execBinary(def.Op, results[def.Inputs[0]], results[def.Inputs[1]], resolved[idx], s)
		case graph.OpReduceSum:
			results[idx], err = execReduceSum(results[def.Inputs[0]], def.Axis, resolved[idx], s)
		case graph.OpMatMul:
			results[idx], err = execMatMul(results[def.Inputs[0]], results[def.Inputs[1]], resolved[idx], s)
		default:
			err = errors.Errorf("op %s is not supported by the interpreter", def.Op)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "node #%d (%s)", idx, def.Op)
		}
	}
	return results, nil
}

// roundPrecision simulates reduced-precision accumulation: when BF16_MODE or
// FP16_MODE is set, every float32 op result is rounded through the
// corresponding 16-bit format.
func roundPrecision(s *settings, out *Buffer) {
	if out.shape.DType != dtypes.Float32 || (!s.bf16Mode && !s.fp16Mode) {
		return
	}
	flat := flatOf[float32](out)
	if s.bf16Mode {
		for idx, value := range flat {
			flat[idx] = bfloat16.FromFloat32(value).Float32()
		}
		return
	}
	for idx, value := range flat {
		flat[idx] = float16.Fromfloat32(value).Float32()
	}
}

func execUnary(op graph.OpType, operand *Buffer, outShape shapes.Shape, s *settings) (*Buffer, error) {
	out := newBuffer(outShape)
	var err error
	switch outShape.DType {
	case dtypes.Float32:
		err = evalUnary(op, flatOf[float32](operand), flatOf[float32](out))
	case dtypes.Float64:
		err = evalUnary(op, flatOf[float64](operand), flatOf[float64](out))
	default:
		err = errors.Errorf("dtype %s is not supported by %s", outShape.DType, op)
	}
	if err != nil {
		return nil, err
	}
	roundPrecision(s, out)
	return out, nil
}

func evalUnary[T floating](op graph.OpType, in, out []T) error {
	switch op {
	case graph.OpNeg:
		for idx, value := range in {
			out[idx] = -value
		}
	case graph.OpAbs:
		for idx, value := range in {
			if value < 0 {
				value = -value
			}
			out[idx] = value
		}
	case graph.OpExp:
		for idx, value := range in {
			out[idx] = T(math.Exp(float64(value)))
		}
	case graph.OpSigmoid:
		for idx, value := range in {
			out[idx] = T(1.0 / (1.0 + math.Exp(-float64(value))))
		}
	default:
		return errors.Errorf("unknown unary op %s", op)
	}
	return nil
}

func execBinary(op graph.OpType, lhs, rhs *Buffer, outShape shapes.Shape, s *settings) (*Buffer, error) {
	out := newBuffer(outShape)
	var err error
	switch outShape.DType {
	case dtypes.Float32:
		err = evalBinary(op, flatOf[float32](lhs), flatOf[float32](rhs), flatOf[float32](out))
	case dtypes.Float64:
		err = evalBinary(op, flatOf[float64](lhs), flatOf[float64](rhs), flatOf[float64](out))
	case dtypes.Int32:
		err = evalBinary(op, flatOf[int32](lhs), flatOf[int32](rhs), flatOf[int32](out))
	case dtypes.Int64:
		err = evalBinary(op, flatOf[int64](lhs), flatOf[int64](rhs), flatOf[int64](out))
	default:
		err = errors.Errorf("dtype %s is not supported by %s", outShape.DType, op)
	}
	if err != nil {
		return nil, err
	}
	roundPrecision(s, out)
	return out, nil
}

// evalBinary handles equal-length operands plus the scalar-broadcast case.
func evalBinary[T numeric](op graph.OpType, lhs, rhs, out []T) error {
	lhsAt := func(idx int) T { return lhs[idx] }
	rhsAt := func(idx int) T { return rhs[idx] }
	if len(lhs) == 1 && len(out) > 1 {
		lhsAt = func(int) T { return lhs[0] }
	}
	if len(rhs) == 1 && len(out) > 1 {
		rhsAt = func(int) T { return rhs[0] }
	}
	switch op {
	case graph.OpAdd:
		for idx := range out {
			out[idx] = lhsAt(idx) + rhsAt(idx)
		}
	case graph.OpSub:
		for idx := range out {
			out[idx] = lhsAt(idx) - rhsAt(idx)
		}
	case graph.OpMul:
		for idx := range out {
			out[idx] = lhsAt(idx) * rhsAt(idx)
		}
	default:
		return errors.Errorf("unknown binary op %s", op)
	}
	return nil
}

func execReduceSum(operand *Buffer, axis int, outShape shapes.Shape, s *settings) (*Buffer, error) {
	out := newBuffer(outShape)
	dims := operand.shape.Dimensions
	outer, inner := 1, 1
	for _, dim := range dims[:axis] {
		outer *= dim
	}
	for _, dim := range dims[axis+1:] {
		inner *= dim
	}
	axisDim := dims[axis]
	var err error
	switch outShape.DType {
	case dtypes.Float32:
		evalReduceSum(flatOf[float32](operand), flatOf[float32](out), outer, axisDim, inner)
	case dtypes.Float64:
		evalReduceSum(flatOf[float64](operand), flatOf[float64](out), outer, axisDim, inner)
	case dtypes.Int32:
		evalReduceSum(flatOf[int32](operand), flatOf[int32](out), outer, axisDim, inner)
	case dtypes.Int64:
		evalReduceSum(flatOf[int64](operand), flatOf[int64](out), outer, axisDim, inner)
	default:
		err = errors.Errorf("dtype %s is not supported by ReduceSum", outShape.DType)
	}
	if err != nil {
		return nil, err
	}
	roundPrecision(s, out)
	return out, nil
}

func evalReduceSum[T numeric](in, out []T, outer, axisDim, inner int) {
	for o := range outer {
		for i := range inner {
			var sum T
			for a := range axisDim {
				sum += in[(o*axisDim+a)*inner+i]
			}
			out[o*inner+i] = sum
		}
	}
}

func execMatMul(lhs, rhs *Buffer, outShape shapes.Shape, s *settings) (*Buffer, error) {
	out := newBuffer(outShape)
	m := lhs.shape.Dimensions[0]
	k := lhs.shape.Dimensions[1]
	n := rhs.shape.Dimensions[1]
	var err error
	switch outShape.DType {
	case dtypes.Float32:
		evalMatMul(flatOf[float32](lhs), flatOf[float32](rhs), flatOf[float32](out), m, k, n)
	case dtypes.Float64:
		evalMatMul(flatOf[float64](lhs), flatOf[float64](rhs), flatOf[float64](out), m, k, n)
	case dtypes.Int32:
		evalMatMul(flatOf[int32](lhs), flatOf[int32](rhs), flatOf[int32](out), m, k, n)
	case dtypes.Int64:
		evalMatMul(flatOf[int64](lhs), flatOf[int64](rhs), flatOf[int64](out), m, k, n)
	default:
		err = errors.Errorf("dtype %s is not supported by MatMul", outShape.DType)
	}
	if err != nil {
		return nil, err
	}
	roundPrecision(s, out)
	return out, nil
}

func evalMatMul[T numeric](lhs, rhs, out []T, m, k, n int) {
	for row := range m {
		for col := range n {
			var sum T
			for kk := range k {
				sum += lhs[row*k+kk] * rhs[kk*n+col]
			}
			out[row*n+col] = sum
		}
	}
}
