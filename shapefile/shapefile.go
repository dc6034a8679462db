// Package shapefile reads the JSON shape-override file the inference harness
// passes alongside a model: per-argument dynamic-shape ranges and the
// concrete runtime shape of each invocation, keyed by argument name.
//
// The file format mirrors the harness protocol:
//
//	{
//	  "dynamic_shape": {
//	    "image": {"min": [1,3,1,1], "max": [1,3,1000,2000], "opt": [1,3,960,1280]}
//	  },
//	  "runtime_shape": {
//	    "image": [1,3,960,1280]
//	  }
//	}
//
// The entries translate directly into Computation.SetArgumentRange and
// ExecutionContext.SetRuntimeShape calls; element types come from the
// computation's declared argument shapes.
package shapefile

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"

	"github.com/godla/godla/engine"
	"github.com/godla/godla/types/shapes"
)

// RangeSpec is the declared min/max/opt extents of one dynamic argument.
type RangeSpec struct {
	Min []int `json:"min"`
	Max []int `json:"max"`
	Opt []int `json:"opt"`
}

// File is the parsed shape-override file.
type File struct {
	DynamicShape map[string]RangeSpec `json:"dynamic_shape"`
	RuntimeShape map[string][]int     `json:"runtime_shape"`
}

// Parse decodes the JSON contents of a shape-override file.
func Parse(data []byte) (*File, error) {
	f := &File{}
	if err := json.Unmarshal(data, f); err != nil {
		return nil, errors.Wrap(err, "failed to parse shape-override file")
	}
	return f, nil
}

// Load reads and parses a shape-override file from disk.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read shape-override file %q", path)
	}
	return Parse(data)
}

// makeShape builds a concrete shape from override dims, taking the element
// type from the argument's declared shape.
func makeShape(declared shapes.Shape, dims []int) (shapes.Shape, error) {
	for _, dim := range dims {
		if dim <= 0 {
			return shapes.Invalid(), errors.Wrapf(engine.ErrInvalidShape,
				"override dimensions must be positive, got %v", dims)
		}
	}
	if len(dims) > shapes.MaxRank {
		return shapes.Invalid(), errors.Wrapf(engine.ErrInvalidShape,
			"override rank %d exceeds MaxRank=%d", len(dims), shapes.MaxRank)
	}
	return shapes.Make(declared.DType, dims...), nil
}

// argShape resolves an override entry name to its argument index and declared
// shape.
func argShape(comp *engine.Computation, name string) (int, shapes.Shape, error) {
	idx, err := comp.ArgumentIndexByName(name)
	if err != nil {
		return -1, shapes.Invalid(), err
	}
	declared, err := comp.ArgumentShape(idx)
	if err != nil {
		return -1, shapes.Invalid(), err
	}
	return idx, declared, nil
}

// ApplyRanges registers every dynamic_shape entry as the named argument's
// shape range.
func (f *File) ApplyRanges(comp *engine.Computation) error {
	for name, spec := range f.DynamicShape {
		idx, declared, err := argShape(comp, name)
		if err != nil {
			return err
		}
		minShape, err := makeShape(declared, spec.Min)
		if err != nil {
			return errors.Wrapf(err, "argument %q min", name)
		}
		maxShape, err := makeShape(declared, spec.Max)
		if err != nil {
			return errors.Wrapf(err, "argument %q max", name)
		}
		optShape, err := makeShape(declared, spec.Opt)
		if err != nil {
			return errors.Wrapf(err, "argument %q opt", name)
		}
		if err := comp.SetArgumentRange(idx, shapes.MakeRange(minShape, optShape, maxShape)); err != nil {
			return errors.Wrapf(err, "argument %q", name)
		}
	}
	return nil
}

// ApplyRuntime sets every runtime_shape entry as the named argument's
// concrete shape for the invocation the context represents.
func (f *File) ApplyRuntime(comp *engine.Computation, ctx *engine.ExecutionContext) error {
	for name, dims := range f.RuntimeShape {
		idx, declared, err := argShape(comp, name)
		if err != nil {
			return err
		}
		concrete, err := makeShape(declared, dims)
		if err != nil {
			return errors.Wrapf(err, "argument %q runtime shape", name)
		}
		if err := ctx.SetRuntimeShape(idx, concrete); err != nil {
			return errors.Wrapf(err, "argument %q", name)
		}
	}
	return nil
}
