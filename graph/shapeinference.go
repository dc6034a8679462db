package graph

import (
	"slices"

	"github.com/pkg/errors"

	"github.com/godla/godla/types/shapes"
)

// Shape inference rules shared by build time and invocation time.
//
// At build time operand shapes may carry dynamic axes and the inferred shape
// carries them forward. At invocation time (Program.ResolveShapes) every
// operand is concrete, so the same rules produce concrete results.

// unifyDim merges the extents of one axis of two operands. A dynamic extent
// unifies with anything; two fixed extents must agree.
func unifyDim(a, b int) (int, error) {
	if a == shapes.DynamicDim {
		return b, nil
	}
	if b == shapes.DynamicDim {
		return a, nil
	}
	if a != b {
		return 0, errors.Errorf("dimensions %d and %d do not match", a, b)
	}
	return a, nil
}

// inferUnary is the identity: element-wise unary ops preserve their operand shape.
func inferUnary(op OpType, operand shapes.Shape) (shapes.Shape, error) {
	if !operand.DType.IsFloat() {
		return shapes.Invalid(), errors.Errorf("%s requires a float operand, got %s", op, operand)
	}
	return operand.Clone(), nil
}

// inferBinary unifies the operand shapes axis by axis. A scalar operand
// broadcasts against the other operand.
func inferBinary(op OpType, lhs, rhs shapes.Shape) (shapes.Shape, error) {
	if lhs.DType != rhs.DType {
		return shapes.Invalid(), errors.Errorf("%s operand dtypes do not match: %s vs %s", op, lhs, rhs)
	}
	if lhs.IsScalar() {
		return rhs.Clone(), nil
	}
	if rhs.IsScalar() {
		return lhs.Clone(), nil
	}
	if lhs.Rank() != rhs.Rank() {
		return shapes.Invalid(), errors.Errorf("%s operand ranks do not match: %s vs %s", op, lhs, rhs)
	}
	dims := make([]int, lhs.Rank())
	for axis := range dims {
		dim, err := unifyDim(lhs.Dimensions[axis], rhs.Dimensions[axis])
		if err != nil {
			return shapes.Invalid(), errors.Wrapf(err, "%s axis %d of %s vs %s", op, axis, lhs, rhs)
		}
		dims[axis] = dim
	}
	return shapes.Shape{DType: lhs.DType, Dimensions: dims}, nil
}

// inferReduceSum drops (or keeps as 1) the reduced axis.
func inferReduceSum(operand shapes.Shape, axis int, keepDims bool) (shapes.Shape, error) {
	if axis < 0 || axis >= operand.Rank() {
		return shapes.Invalid(), errors.Errorf("ReduceSum axis %d out-of-bounds for %s", axis, operand)
	}
	dims := slices.Clone(operand.Dimensions)
	if keepDims {
		dims[axis] = 1
	} else {
		dims = slices.Delete(dims, axis, axis+1)
	}
	return shapes.Shape{DType: operand.DType, Dimensions: dims}, nil
}

// inferReshape checks the target element count against the operand's.
// Reshape of operands with dynamic axes is not supported: the target extents
// could not be checked until execution.
func inferReshape(operand shapes.Shape, dims []int) (shapes.Shape, error) {
	if operand.IsDynamic() {
		return shapes.Invalid(), errors.Errorf("cannot reshape operand with dynamic shape %s", operand)
	}
	target := shapes.Shape{DType: operand.DType, Dimensions: slices.Clone(dims)}
	for _, dim := range dims {
		if dim <= 0 {
			return shapes.Invalid(), errors.Errorf("reshape target dimensions must be positive, got %v", dims)
		}
	}
	if len(dims) > shapes.MaxRank {
		return shapes.Invalid(), errors.Errorf("reshape target rank %d exceeds MaxRank=%d", len(dims), shapes.MaxRank)
	}
	if target.Size() != operand.Size() {
		return shapes.Invalid(), errors.Errorf("reshape from %s to %v changes the element count", operand, dims)
	}
	return target, nil
}

// inferMatMul handles rank-2 operands: [m, k] x [k, n] -> [m, n].
// The contracting extents must unify; m and n carry dynamic axes forward.
func inferMatMul(lhs, rhs shapes.Shape) (shapes.Shape, error) {
	if lhs.DType != rhs.DType {
		return shapes.Invalid(), errors.Errorf("MatMul operand dtypes do not match: %s vs %s", lhs, rhs)
	}
	if lhs.Rank() != 2 || rhs.Rank() != 2 {
		return shapes.Invalid(), errors.Errorf("MatMul requires rank-2 operands, got %s and %s", lhs, rhs)
	}
	if _, err := unifyDim(lhs.Dimensions[1], rhs.Dimensions[0]); err != nil {
		return shapes.Invalid(), errors.Wrapf(err, "MatMul contracting axes of %s and %s", lhs, rhs)
	}
	return shapes.Shape{DType: lhs.DType, Dimensions: []int{lhs.Dimensions[0], rhs.Dimensions[1]}}, nil
}

// inferNode re-runs the shape rule of one node given the shapes of its
// inputs. Used by Program.ResolveShapes with concrete input shapes.
func inferNode(def *NodeDef, inputShapes []shapes.Shape) (shapes.Shape, error) {
	switch def.Op {
	case OpParameter, OpConstant:
		// Handled by the caller: parameters take the bound runtime shape and
		// constants are always concrete.
		return def.Shape, nil
	case OpNeg, OpAbs, OpExp, OpSigmoid:
		return inferUnary(def.Op, inputShapes[0])
	case OpAdd, OpSub, OpMul:
		return inferBinary(def.Op, inputShapes[0], inputShapes[1])
	case OpReduceSum:
		return inferReduceSum(inputShapes[0], def.Axis, def.KeepDims)
	case OpReshape:
		return inferReshape(inputShapes[0], def.Shape.Dimensions)
	case OpMatMul:
		return inferMatMul(inputShapes[0], inputShapes[1])
	}
	return shapes.Invalid(), errors.Errorf("cannot infer shape for op %s", def.Op)
}
