package shapes

import (
	"fmt"

	"github.com/pkg/errors"
)

// Range holds the min/opt/max extent hints for an argument whose declared
// shape has dynamic axes. All three shapes must be concrete, share one rank
// and dtype, and obey Min[i] <= Opt[i] <= Max[i] on every axis.
//
// The Opt shape is the extent the backend should tune for; it carries no
// correctness semantics.
type Range struct {
	Min, Max, Opt Shape
}

// MakeRange builds a Range from min, opt and max shapes, in the order the
// native shape-info protocol sets them.
func MakeRange(min, opt, max Shape) Range {
	return Range{Min: min, Opt: opt, Max: max}
}

// Validate checks the Range's internal consistency: all three shapes concrete,
// equal ranks and dtypes, and Min <= Opt <= Max axis by axis.
func (r Range) Validate() error {
	for _, pair := range []struct {
		name  string
		shape Shape
	}{{"min", r.Min}, {"opt", r.Opt}, {"max", r.Max}} {
		if !pair.shape.Ok() {
			return errors.Errorf("range %s shape is invalid", pair.name)
		}
		if !pair.shape.IsConcrete() {
			return errors.Errorf("range %s shape %s must be concrete", pair.name, pair.shape)
		}
	}
	if r.Min.DType != r.Opt.DType || r.Min.DType != r.Max.DType {
		return errors.Errorf("range dtypes disagree: min=%s opt=%s max=%s", r.Min.DType, r.Opt.DType, r.Max.DType)
	}
	if r.Min.Rank() != r.Opt.Rank() || r.Min.Rank() != r.Max.Rank() {
		return errors.Errorf("range ranks disagree: min=%s opt=%s max=%s", r.Min, r.Opt, r.Max)
	}
	for axis := range r.Min.Dimensions {
		minDim, optDim, maxDim := r.Min.Dimensions[axis], r.Opt.Dimensions[axis], r.Max.Dimensions[axis]
		if minDim > optDim || optDim > maxDim {
			return errors.Errorf("range axis %d violates min <= opt <= max: min=%d opt=%d max=%d",
				axis, minDim, optDim, maxDim)
		}
	}
	return nil
}

// CheckDeclared verifies the Range fits the declared (possibly dynamic) shape
// of the argument it is registered for: matching rank and dtype, and on every
// fixed axis of declared the range must pin exactly the declared extent.
func (r Range) CheckDeclared(declared Shape) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if r.Min.Rank() != declared.Rank() {
		return errors.Errorf("range rank %d does not match declared shape %s", r.Min.Rank(), declared)
	}
	if r.Min.DType != declared.DType {
		return errors.Errorf("range dtype %s does not match declared shape %s", r.Min.DType, declared)
	}
	for axis, dim := range declared.Dimensions {
		if dim == DynamicDim {
			continue
		}
		if r.Min.Dimensions[axis] != dim || r.Max.Dimensions[axis] != dim {
			return errors.Errorf("range axis %d spans [%d, %d] but declared shape %s fixes it to %d",
				axis, r.Min.Dimensions[axis], r.Max.Dimensions[axis], declared, dim)
		}
	}
	return nil
}

// Contains returns whether the concrete shape falls inside [Min, Max] on
// every axis. The shape must have the Range's rank; otherwise it is outside.
func (r Range) Contains(concrete Shape) bool {
	if concrete.Rank() != r.Min.Rank() || !concrete.IsConcrete() {
		return false
	}
	for axis, dim := range concrete.Dimensions {
		if dim < r.Min.Dimensions[axis] || dim > r.Max.Dimensions[axis] {
			return false
		}
	}
	return true
}

// String implements fmt.Stringer.
func (r Range) String() string {
	return fmt.Sprintf("Range{min=%s, opt=%s, max=%s}", r.Min, r.Opt, r.Max)
}
