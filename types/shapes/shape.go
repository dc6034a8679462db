// Package shapes defines Shape, the description of a tensor's rank, dimensions
// and element type (DType), with support for dimensions that are only resolved
// at execution time.
//
// A Shape attached to a computation argument or output may carry the
// DynamicDim sentinel in any axis: that axis' extent is negotiated per
// invocation, bounded by a registered shapes.Range. Shapes bound to actual
// buffers are always concrete (no dynamic axes).
//
// DType is the enumeration from github.com/gomlx/gopjrt/dtypes. Float16
// support uses github.com/x448/float16, and bfloat16 comes from
// github.com/gomlx/gopjrt/dtypes/bfloat16.
//
// ## Glossary
//
//   - Rank: number of axes of a tensor.
//   - Axis: the index of a dimension; its size is the dimension.
//   - Dynamic dimension: an axis whose extent is fixed only at execution time.
//   - Concrete shape: a shape with no dynamic dimensions.
package shapes

import (
	"encoding/gob"
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// DynamicDim is the sentinel dimension value marking an axis whose extent is
// resolved per invocation.
const DynamicDim = -1

// MaxRank is the largest rank a Shape may have. It mirrors the fixed-size
// dims array of the native value-shape protocol.
const MaxRank = 10

// Shape represents the shape of a computation argument, output or buffer:
// an element type plus an ordered list of dimensions.
//
// Use Make for concrete shapes and MakeDynamic when some axes carry
// DynamicDim. Shape is a value type, immutable by convention: none of its
// methods mutate it.
type Shape struct {
	DType      dtypes.DType
	Dimensions []int
}

// Make returns a concrete Shape with the given dimensions.
// It panics if any dimension is not positive or the rank exceeds MaxRank --
// those are programming errors, not runtime conditions.
func Make(dtype dtypes.DType, dimensions ...int) Shape {
	s := Shape{DType: dtype, Dimensions: slices.Clone(dimensions)}
	if len(dimensions) > MaxRank {
		exceptions.Panicf("shapes.Make(%s): rank %d exceeds MaxRank=%d", s, len(dimensions), MaxRank)
	}
	for _, dim := range dimensions {
		if dim <= 0 {
			exceptions.Panicf("shapes.Make(%s): cannot create a shape with an axis with dimension <= 0; use MakeDynamic for dynamic axes", s)
		}
	}
	return s
}

// MakeDynamic returns a Shape that may mix fixed dimensions and DynamicDim
// axes. It panics if a dimension is neither positive nor DynamicDim, or if
// the rank exceeds MaxRank.
func MakeDynamic(dtype dtypes.DType, dimensions ...int) Shape {
	s := Shape{DType: dtype, Dimensions: slices.Clone(dimensions)}
	if len(dimensions) > MaxRank {
		exceptions.Panicf("shapes.MakeDynamic(%s): rank %d exceeds MaxRank=%d", s, len(dimensions), MaxRank)
	}
	for _, dim := range dimensions {
		if dim <= 0 && dim != DynamicDim {
			exceptions.Panicf("shapes.MakeDynamic(%s): dimensions must be positive or DynamicDim", s)
		}
	}
	return s
}

// Scalar returns a rank-0 Shape for the given type.
func Scalar[T dtypes.Number]() Shape {
	return Shape{DType: dtypes.FromGenericsType[T]()}
}

// Invalid returns an invalid shape. Invalid().Ok() == false.
func Invalid() Shape {
	return Shape{DType: dtypes.InvalidDType}
}

// Ok returns whether this is a valid Shape. The zero value Shape{} is invalid.
func (s Shape) Ok() bool { return s.DType != dtypes.InvalidDType }

// Rank of the shape, that is, the number of axes.
func (s Shape) Rank() int { return len(s.Dimensions) }

// IsScalar returns whether the shape has rank 0.
func (s Shape) IsScalar() bool { return s.Ok() && s.Rank() == 0 }

// IsDynamic returns whether any axis carries the DynamicDim sentinel.
func (s Shape) IsDynamic() bool {
	return slices.Contains(s.Dimensions, DynamicDim)
}

// IsConcrete returns whether the shape is valid and has no dynamic axes.
func (s Shape) IsConcrete() bool {
	return s.Ok() && !s.IsDynamic()
}

// NumDynamicAxes returns how many axes are dynamic.
func (s Shape) NumDynamicAxes() (count int) {
	for _, dim := range s.Dimensions {
		if dim == DynamicDim {
			count++
		}
	}
	return
}

// Dim returns the dimension of the given axis. A negative axis counts from
// the end, so Dim(-1) is the last axis. It panics for an out-of-bounds axis.
func (s Shape) Dim(axis int) int {
	adjustedAxis := axis
	if adjustedAxis < 0 {
		adjustedAxis += s.Rank()
	}
	if adjustedAxis < 0 || adjustedAxis >= s.Rank() {
		exceptions.Panicf("Shape.Dim(%d) out-of-bounds for rank %d (shape=%s)", axis, s.Rank(), s)
	}
	return s.Dimensions[adjustedAxis]
}

// Shape returns a shallow copy of itself. It implements the HasShape interface.
func (s Shape) Shape() Shape { return s }

// HasShape is an interface for objects that have an associated Shape.
type HasShape interface {
	Shape() Shape
}

// String implements fmt.Stringer. Dynamic axes print as "?".
func (s Shape) String() string {
	if s.Rank() == 0 {
		return fmt.Sprintf("(%s)", s.DType)
	}
	parts := make([]string, 0, s.Rank())
	for _, dim := range s.Dimensions {
		if dim == DynamicDim {
			parts = append(parts, "?")
		} else {
			parts = append(parts, fmt.Sprintf("%d", dim))
		}
	}
	return fmt.Sprintf("(%s)[%s]", s.DType, strings.Join(parts, " "))
}

// Size returns the number of elements of DType needed for this shape, the
// product of all dimensions. It panics if the shape still has dynamic axes --
// a dynamic shape has no defined size until resolved.
func (s Shape) Size() (size int) {
	size = 1
	for _, d := range s.Dimensions {
		if d == DynamicDim {
			exceptions.Panicf("Shape.Size() called on dynamic shape %s -- resolve it first", s)
		}
		size *= d
	}
	return
}

// Memory returns the bytes needed to store a buffer of this shape.
// Like Size, it requires a concrete shape.
func (s Shape) Memory() uintptr {
	return s.DType.Memory() * uintptr(s.Size())
}

// Equal compares dtype and dimensions.
func (s Shape) Equal(s2 Shape) bool {
	if s.DType != s2.DType {
		return false
	}
	return slices.Equal(s.Dimensions, s2.Dimensions)
}

// EqualDimensions compares dimensions only; dtypes can differ.
func (s Shape) EqualDimensions(s2 Shape) bool {
	return slices.Equal(s.Dimensions, s2.Dimensions)
}

// AcceptsResolved returns whether concrete is a valid resolution of the
// (possibly dynamic) shape s: same dtype, same rank, concrete has no dynamic
// axes, and every fixed axis of s matches exactly. Dynamic axes of s accept
// any positive extent.
func (s Shape) AcceptsResolved(concrete Shape) bool {
	if s.DType != concrete.DType || s.Rank() != concrete.Rank() {
		return false
	}
	if !concrete.IsConcrete() {
		return false
	}
	for axis, dim := range s.Dimensions {
		if dim == DynamicDim {
			continue
		}
		if dim != concrete.Dimensions[axis] {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the shape.
func (s Shape) Clone() Shape {
	return Shape{DType: s.DType, Dimensions: slices.Clone(s.Dimensions)}
}

// GobSerialize shape in binary format.
func (s Shape) GobSerialize(encoder *gob.Encoder) (err error) {
	enc := func(e any) {
		if err != nil {
			return
		}
		err = encoder.Encode(e)
		if err != nil {
			err = errors.Wrapf(err, "failed to serialize Shape %s", s)
		}
	}
	enc(s.DType)
	enc(s.Dimensions)
	return
}

// GobDeserialize a Shape. Returns the new Shape or an error.
func GobDeserialize(decoder *gob.Decoder) (s Shape, err error) {
	dec := func(data any) {
		if err != nil {
			return
		}
		err = decoder.Decode(data)
		if err != nil {
			err = errors.Wrapf(err, "failed to deserialize Shape")
		}
	}
	dec(&s.DType)
	dec(&s.Dimensions)
	return
}
