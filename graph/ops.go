package graph

import (
	"reflect"
	"unsafe"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"

	"github.com/godla/godla/types/shapes"
)

// Constant creates a node holding a fixed tensor. flat must be a slice of a
// supported Go type (float32, float64, int32, int64, ...) with exactly the
// number of elements the given dimensions require. Constants are always
// concrete.
func (b *Builder) Constant(flat any, dimensions ...int) *Node {
	b.checkNodes("Constant")
	flatV := reflect.ValueOf(flat)
	if flatV.Kind() != reflect.Slice {
		exceptions.Panicf("Constant: flat must be a slice, got %T", flat)
	}
	dtype := dtypes.FromGoType(flatV.Type().Elem())
	if dtype == dtypes.InvalidDType {
		exceptions.Panicf("Constant: unsupported element type %s", flatV.Type().Elem())
	}
	shape := shapes.Make(dtype, dimensions...)
	if flatV.Len() != shape.Size() {
		exceptions.Panicf("Constant: flat has %d elements, shape %s requires %d", flatV.Len(), shape, shape.Size())
	}
	n := b.newNode(OpConstant, shape)
	n.literal = flatToBytes(flatV, dtype)
	return n
}

// flatToBytes copies the slice contents into a fresh byte slice.
func flatToBytes(flatV reflect.Value, dtype dtypes.DType) []byte {
	numBytes := flatV.Len() * int(dtype.Size())
	raw := make([]byte, numBytes)
	if numBytes == 0 {
		return raw
	}
	src := unsafe.Slice((*byte)(flatV.Index(0).Addr().UnsafePointer()), numBytes)
	copy(raw, src)
	return raw
}

// unaryOp creates a node for an element-wise unary operation.
func (b *Builder) unaryOp(op OpType, x *Node) *Node {
	b.checkNodes(op.String(), x)
	shape, err := inferUnary(op, x.shape)
	if err != nil {
		exceptions.Panicf("%s: %+v", op, err)
	}
	return b.newNode(op, shape, x)
}

// Neg returns the element-wise negation of x.
func (b *Builder) Neg(x *Node) *Node { return b.unaryOp(OpNeg, x) }

// Abs returns the element-wise absolute value of x.
func (b *Builder) Abs(x *Node) *Node { return b.unaryOp(OpAbs, x) }

// Exp returns the element-wise exponential of x.
func (b *Builder) Exp(x *Node) *Node { return b.unaryOp(OpExp, x) }

// Sigmoid returns the element-wise logistic function of x.
func (b *Builder) Sigmoid(x *Node) *Node { return b.unaryOp(OpSigmoid, x) }

// binaryOp creates a node for an element-wise binary operation.
func (b *Builder) binaryOp(op OpType, lhs, rhs *Node) *Node {
	b.checkNodes(op.String(), lhs, rhs)
	shape, err := inferBinary(op, lhs.shape, rhs.shape)
	if err != nil {
		exceptions.Panicf("%s: %+v", op, err)
	}
	return b.newNode(op, shape, lhs, rhs)
}

// Add returns the element-wise sum of lhs and rhs. One operand may be scalar.
func (b *Builder) Add(lhs, rhs *Node) *Node { return b.binaryOp(OpAdd, lhs, rhs) }

// Sub returns the element-wise difference of lhs and rhs.
func (b *Builder) Sub(lhs, rhs *Node) *Node { return b.binaryOp(OpSub, lhs, rhs) }

// Mul returns the element-wise product of lhs and rhs.
func (b *Builder) Mul(lhs, rhs *Node) *Node { return b.binaryOp(OpMul, lhs, rhs) }

// ReduceSum sums x over the given axis. If keepDims the reduced axis is kept
// with extent 1, otherwise it is dropped.
func (b *Builder) ReduceSum(x *Node, axis int, keepDims bool) *Node {
	b.checkNodes("ReduceSum", x)
	shape, err := inferReduceSum(x.shape, axis, keepDims)
	if err != nil {
		exceptions.Panicf("ReduceSum: %+v", err)
	}
	n := b.newNode(OpReduceSum, shape, x)
	n.axis = axis
	n.keepDims = keepDims
	return n
}

// Reshape returns x reshaped to the given dimensions. The operand shape must
// be concrete and the element count must not change.
func (b *Builder) Reshape(x *Node, dimensions ...int) *Node {
	b.checkNodes("Reshape", x)
	shape, err := inferReshape(x.shape, dimensions)
	if err != nil {
		exceptions.Panicf("Reshape: %+v", err)
	}
	return b.newNode(OpReshape, shape, x)
}

// MatMul multiplies the rank-2 operands lhs ([m, k]) and rhs ([k, n]),
// returning [m, n].
func (b *Builder) MatMul(lhs, rhs *Node) *Node {
	b.checkNodes("MatMul", lhs, rhs)
	shape, err := inferMatMul(lhs.shape, rhs.shape)
	if err != nil {
		exceptions.Panicf("MatMul: %+v", err)
	}
	return b.newNode(OpMatMul, shape, lhs, rhs)
}
