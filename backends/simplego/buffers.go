// Copyright 2026 The PrimPool Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"reflect"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/primpool/primpool/backends"
	"github.com/primpool/primpool/types/shapes"
	"github.com/x448/float16"
)

// Compile-time check:
var _ backends.DataInterface = (*Backend)(nil)

// Buffer for the SimpleGo backend holds a shape and the flat data in host memory.
type Buffer struct {
	shape shapes.Shape
	valid bool

	// flat is always a slice of the Go type corresponding to shape.DType.
	flat any
}

// Shape returns the buffer's shape. It implements shapes.HasShape.
func (b *Buffer) Shape() shapes.Shape { return b.shape }

func newFlat(dtype dtypes.DType, size int) (any, error) {
	switch dtype {
	case dtypes.Float32:
		return make([]float32, size), nil
	case dtypes.Float64:
		return make([]float64, size), nil
	case dtypes.Float16:
		return make([]float16.Float16, size), nil
	}
	return nil, errors.Errorf("simplego backend does not support dtype %s", dtype)
}

// NewBuffer allocates a zero-initialized buffer of the given shape.
func (b *Backend) NewBuffer(shape shapes.Shape) (backends.Buffer, error) {
	if !shape.Ok() {
		return nil, errors.Errorf("invalid shape %s", shape)
	}
	flat, err := newFlat(shape.DType, shape.Size())
	if err != nil {
		return nil, err
	}
	return &Buffer{shape: shape.Clone(), valid: true, flat: flat}, nil
}

// BufferFromFlatData allocates a buffer of the given shape and fills it from flat.
func (b *Backend) BufferFromFlatData(flat any, shape shapes.Shape) (backends.Buffer, error) {
	buffer, err := b.NewBuffer(shape)
	if err != nil {
		return nil, err
	}
	dst := buffer.(*Buffer)
	if err := copyFlat(dst.flat, flat, shape); err != nil {
		return nil, err
	}
	return dst, nil
}

// BufferToFlatData copies the buffer contents into flat.
func (b *Backend) BufferToFlatData(buffer backends.Buffer, flat any) error {
	src, err := b.checkBuffer(buffer)
	if err != nil {
		return err
	}
	return copyFlat(flat, src.flat, src.shape)
}

// BufferShape returns the shape of the buffer.
func (b *Backend) BufferShape(buffer backends.Buffer) (shapes.Shape, error) {
	src, err := b.checkBuffer(buffer)
	if err != nil {
		return shapes.Shape{}, err
	}
	return src.shape.Clone(), nil
}

// BufferFinalize marks the buffer invalid and drops its data.
func (b *Backend) BufferFinalize(buffer backends.Buffer) error {
	src, err := b.checkBuffer(buffer)
	if err != nil {
		return err
	}
	src.valid = false
	src.flat = nil
	return nil
}

// checkBuffer asserts the opaque buffer is a live Buffer of this backend.
func (b *Backend) checkBuffer(buffer backends.Buffer) (*Buffer, error) {
	buf, ok := buffer.(*Buffer)
	if !ok {
		return nil, errors.Errorf("buffer of type %T was not created by the %q backend", buffer, BackendName)
	}
	if !buf.valid {
		return nil, errors.Errorf("buffer was already finalized")
	}
	return buf, nil
}

// flatFor returns the typed flat data of buffer, checking it matches the shape the
// kernel was built for.
func (b *Backend) flatFor(buffer backends.Buffer, want shapes.Shape) (any, error) {
	buf, err := b.checkBuffer(buffer)
	if err != nil {
		return nil, err
	}
	if !buf.shape.Equal(want) {
		return nil, errors.Errorf("buffer shape %s does not match kernel shape %s", buf.shape, want)
	}
	return buf.flat, nil
}

// copyFlat copies between two flat slices that must have the same element type and
// exactly shape.Size() elements.
func copyFlat(dst, src any, shape shapes.Shape) error {
	dstV, srcV := reflect.ValueOf(dst), reflect.ValueOf(src)
	if dstV.Kind() != reflect.Slice || srcV.Kind() != reflect.Slice || dstV.Type() != srcV.Type() {
		return errors.Errorf("flat data of type %T does not match buffer data of type %T", src, dst)
	}
	if dstV.Len() != shape.Size() || srcV.Len() != shape.Size() {
		return errors.Errorf("flat data must have exactly %d elements for shape %s, got %d and %d",
			shape.Size(), shape, srcV.Len(), dstV.Len())
	}
	reflect.Copy(dstV, srcV)
	return nil
}
