package engine

import (
	"unsafe"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/godla/godla/types/shapes"
)

// Buffer is a contiguous byte region holding the flat elements of one
// concrete shape. Input buffers are borrowed from the caller (the engine
// never copies nor frees them); output buffers allocated by the engine are
// owned by it until execution succeeds, at which point ownership transfers to
// the caller.
//
// A Buffer is sized exactly once, from its shape; the engine never resizes it.
type Buffer struct {
	shape shapes.Shape
	data  []byte

	// owned marks engine-allocated buffers, released by ExecutionContext.Destroy
	// unless execution succeeded and the caller took them over.
	owned bool
}

// newBuffer allocates an engine-owned buffer for the given concrete shape.
func newBuffer(shape shapes.Shape) *Buffer {
	numBytes := int(shape.Memory())
	if klog.V(2).Enabled() {
		klog.Infof("allocating output buffer: shape=%s, %s", shape, humanize.IBytes(uint64(numBytes)))
	}
	return &Buffer{
		shape: shape.Clone(),
		data:  make([]byte, numBytes),
		owned: true,
	}
}

// borrowBuffer wraps caller-owned bytes. The caller must keep data valid and
// unmodified for the duration of Execute.
func borrowBuffer(shape shapes.Shape, data []byte) *Buffer {
	return &Buffer{shape: shape.Clone(), data: data}
}

// Shape of the buffer's contents. Always concrete.
func (b *Buffer) Shape() shapes.Shape { return b.shape }

// NumElements the buffer holds.
func (b *Buffer) NumElements() int { return b.shape.Size() }

// Bytes returns the raw byte region. The slice aliases the buffer storage.
func (b *Buffer) Bytes() []byte { return b.data }

// release drops the reference to the underlying storage.
func (b *Buffer) release() {
	b.data = nil
	b.owned = false
}

// checkByteLen verifies data holds exactly the bytes the resolved shape
// requires.
func checkByteLen(resolved shapes.Shape, data []byte) error {
	want := int(resolved.Memory())
	if len(data) != want {
		return errors.Wrapf(ErrSizeMismatch,
			"buffer has %d bytes, resolved shape %s requires %d (%d elements of %s)",
			len(data), resolved, want, resolved.Size(), resolved.DType)
	}
	return nil
}

// flatOf reinterprets the buffer storage as a flat slice of T. The buffer's
// dtype must correspond to T; callers go through the dtype dispatch in
// exec_ops.go.
func flatOf[T any](b *Buffer) []T {
	if len(b.data) == 0 {
		return nil
	}
	var t T
	return unsafe.Slice((*T)(unsafe.Pointer(&b.data[0])), len(b.data)/int(unsafe.Sizeof(t)))
}
