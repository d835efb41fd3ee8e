// Copyright 2026 The PrimPool Authors. SPDX-License-Identifier: Apache-2.0

// Package shapes defines Dims and Shape, the tensor geometry types used across PrimPool.
//
// Dims is an ordered tuple of non-negative dimensions -- the vocabulary in which kernel
// parameter keys are expressed. Shape pairs a Dims with a DType and describes the layout
// of a concrete buffer at the backend boundary.
//
// DType is the element type enumeration from github.com/gomlx/gopjrt/dtypes.
// Go float16 support uses the github.com/x448/float16 implementation.
//
// ## Glossary
//
//   - Rank: number of axes of a tensor.
//   - Dimension: the size of a tensor along one axis. Zero is a valid dimension
//     (an empty tensor); negative dimensions are not.
//   - DType: the data type of the unit element of a tensor.
package shapes

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
)

// Dims is an ordered tuple of dimensions, e.g. NCHW for a conv input.
//
// All dimensions must be non-negative. Zero-sized axes are valid and compare
// distinct from any other size -- they are never normalized away.
type Dims []int

// MakeDims returns a Dims with the given dimensions. It panics if any dimension
// is negative; zero is allowed.
func MakeDims(dimensions ...int) Dims {
	d := Dims(slices.Clone(dimensions))
	for _, dim := range d {
		if dim < 0 {
			exceptions.Panicf("shapes.MakeDims(%v): dimensions cannot be negative", dimensions)
		}
	}
	return d
}

// Rank returns the number of axes.
func (d Dims) Rank() int { return len(d) }

// Size returns the number of elements, the product of all dimensions.
// A scalar (rank 0) has size 1.
func (d Dims) Size() int {
	size := 1
	for _, dim := range d {
		size *= dim
	}
	return size
}

// Ok reports whether every dimension is non-negative.
func (d Dims) Ok() bool {
	for _, dim := range d {
		if dim < 0 {
			return false
		}
	}
	return true
}

// Equal reports whether d and d2 have the same rank and elementwise-equal dimensions.
func (d Dims) Equal(d2 Dims) bool { return slices.Equal(d, d2) }

// Clone returns a deep copy.
func (d Dims) Clone() Dims { return slices.Clone(d) }

// String pretty-prints the dimensions as "2x3x5". Rank 0 prints as "scalar".
func (d Dims) String() string {
	if len(d) == 0 {
		return "scalar"
	}
	parts := make([]string, len(d))
	for ii, dim := range d {
		parts[ii] = strconv.Itoa(dim)
	}
	return strings.Join(parts, "x")
}

// Shape represents the shape of a concrete tensor buffer: a DType plus dimensions.
//
// Use Make to create a new Shape.
type Shape struct {
	DType      dtypes.DType
	Dimensions Dims
}

// Make returns a Shape filled with the values given. Like MakeDims, it panics on
// negative dimensions, and zero-sized axes are valid.
func Make(dtype dtypes.DType, dimensions ...int) Shape {
	return Shape{DType: dtype, Dimensions: MakeDims(dimensions...)}
}

// Ok returns whether this is a valid Shape. The zero value Shape{} is invalid.
func (s Shape) Ok() bool { return s.DType != dtypes.InvalidDType && s.Dimensions.Ok() }

// Rank of the shape, that is, the number of axes.
func (s Shape) Rank() int { return len(s.Dimensions) }

// IsScalar returns whether the shape has rank 0.
func (s Shape) IsScalar() bool { return s.Ok() && s.Rank() == 0 }

// Size returns the number of elements of DType needed for this shape.
func (s Shape) Size() int { return s.Dimensions.Size() }

// Memory returns the bytes needed to store a flat array of this shape.
func (s Shape) Memory() uintptr { return s.DType.Memory() * uintptr(s.Size()) }

// Shape returns a shallow copy of itself. It implements the HasShape interface.
func (s Shape) Shape() Shape { return s }

// Equal compares dtype and dimensions.
func (s Shape) Equal(s2 Shape) bool {
	return s.DType == s2.DType && s.Dimensions.Equal(s2.Dimensions)
}

// Clone returns a deep copy of the shape.
func (s Shape) Clone() Shape {
	return Shape{DType: s.DType, Dimensions: s.Dimensions.Clone()}
}

// String implements fmt.Stringer.
func (s Shape) String() string {
	if s.Rank() == 0 {
		return fmt.Sprintf("(%s)", s.DType)
	}
	return fmt.Sprintf("(%s)[%s]", s.DType, s.Dimensions)
}

// HasShape is anything that can report its own Shape.
type HasShape interface {
	Shape() Shape
}
