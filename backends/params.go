// Copyright 2026 The PrimPool Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/primpool/primpool/types/shapes"
)

// Params is the contract every kernel parameter type implements: an immutable value
// aggregating every field that affects which kernel is valid for a call.
//
// CacheKey must be exhaustive: every shape tuple and every scalar hyperparameter is
// written to the key, none skipped or normalized away. Two parameter values yield the
// same key iff every field compares equal -- omitting a field here would silently
// reuse an incompatible kernel for a different operation, which is a correctness bug,
// not a performance one.
type Params interface {
	fmt.Stringer

	// CacheKey returns the canonical, collision-free textual form of the parameters,
	// used as the registry map key.
	CacheKey() string

	// Validate checks the parameters are structurally sound (no negative dimensions).
	// Geometry errors (mismatched channels, impossible output sizes) are the backend
	// constructor's to report.
	Validate() error
}

// keyBuilder assembles cache keys field by field. Each field is written with a tag and
// a terminating separator, so distinct field combinations can never produce the same
// key text.
type keyBuilder struct {
	b strings.Builder
}

func (kb *keyBuilder) dims(tag string, d shapes.Dims) *keyBuilder {
	kb.b.WriteString(tag)
	kb.b.WriteByte('=')
	kb.b.WriteString(d.String())
	kb.b.WriteByte(';')
	return kb
}

func (kb *keyBuilder) ints(tag string, values ...int) *keyBuilder {
	kb.b.WriteString(tag)
	kb.b.WriteByte('=')
	for ii, v := range values {
		if ii > 0 {
			kb.b.WriteByte('x')
		}
		kb.b.WriteString(strconv.Itoa(v))
	}
	kb.b.WriteByte(';')
	return kb
}

// float writes the exact bit pattern of the value (hexadecimal float format), so two
// keys collide only if the scalars are bit-for-bit equal.
func (kb *keyBuilder) float(tag string, v float64) *keyBuilder {
	kb.b.WriteString(tag)
	kb.b.WriteByte('=')
	kb.b.WriteString(strconv.FormatFloat(v, 'x', -1, 64))
	kb.b.WriteByte(';')
	return kb
}

func (kb *keyBuilder) String() string { return kb.b.String() }

func validateDims(err error, tag string, d shapes.Dims) error {
	if err != nil {
		return err
	}
	if !d.Ok() {
		return errors.Errorf("dims %s=%v contain a negative dimension", tag, []int(d))
	}
	return nil
}

// ConvForwardParams selects a 2D convolution forward kernel: y = conv(x, w) + b.
//
// Shapes are NCHW for x and y, OIHW for w; B is the bias dims (rank 1, or empty for no
// bias). StrideY/StrideX are the vertical/horizontal strides and the four paddings are
// the independent left-height, left-width, right-height and right-width borders.
type ConvForwardParams struct {
	X, W, B, Y shapes.Dims

	StrideY, StrideX           int
	PadLH, PadLW, PadRH, PadRW int
}

// CacheKey implements Params.
func (p ConvForwardParams) CacheKey() string {
	var kb keyBuilder
	return kb.dims("x", p.X).dims("w", p.W).dims("b", p.B).dims("y", p.Y).
		ints("stride", p.StrideY, p.StrideX).
		ints("pad", p.PadLH, p.PadLW, p.PadRH, p.PadRW).
		String()
}

// Validate implements Params.
func (p ConvForwardParams) Validate() error {
	var err error
	err = validateDims(err, "x", p.X)
	err = validateDims(err, "w", p.W)
	err = validateDims(err, "b", p.B)
	err = validateDims(err, "y", p.Y)
	return err
}

// String implements fmt.Stringer.
func (p ConvForwardParams) String() string { return p.CacheKey() }

// ConvBackwardDataParams selects a kernel computing diffX = convBwdData(diffY, w),
// the gradient w.r.t. the convolution input. DiffX has the shape of the forward input.
type ConvBackwardDataParams struct {
	DiffY, W, DiffX shapes.Dims

	StrideY, StrideX           int
	PadLH, PadLW, PadRH, PadRW int
}

// CacheKey implements Params.
func (p ConvBackwardDataParams) CacheKey() string {
	var kb keyBuilder
	return kb.dims("dy", p.DiffY).dims("w", p.W).dims("dx", p.DiffX).
		ints("stride", p.StrideY, p.StrideX).
		ints("pad", p.PadLH, p.PadLW, p.PadRH, p.PadRW).
		String()
}

// Validate implements Params.
func (p ConvBackwardDataParams) Validate() error {
	var err error
	err = validateDims(err, "dy", p.DiffY)
	err = validateDims(err, "w", p.W)
	err = validateDims(err, "dx", p.DiffX)
	return err
}

// String implements fmt.Stringer.
func (p ConvBackwardDataParams) String() string { return p.CacheKey() }

// ConvBackwardWeightsParams selects a kernel computing the gradients w.r.t. the
// convolution weights (and bias, if DiffB is non-empty): diffW, diffB =
// convBwdWeights(x, diffY).
type ConvBackwardWeightsParams struct {
	X, DiffW, DiffB, DiffY shapes.Dims

	StrideY, StrideX           int
	PadLH, PadLW, PadRH, PadRW int
}

// CacheKey implements Params.
func (p ConvBackwardWeightsParams) CacheKey() string {
	var kb keyBuilder
	return kb.dims("x", p.X).dims("dw", p.DiffW).dims("db", p.DiffB).dims("dy", p.DiffY).
		ints("stride", p.StrideY, p.StrideX).
		ints("pad", p.PadLH, p.PadLW, p.PadRH, p.PadRW).
		String()
}

// Validate implements Params.
func (p ConvBackwardWeightsParams) Validate() error {
	var err error
	err = validateDims(err, "x", p.X)
	err = validateDims(err, "dw", p.DiffW)
	err = validateDims(err, "db", p.DiffB)
	err = validateDims(err, "dy", p.DiffY)
	return err
}

// String implements fmt.Stringer.
func (p ConvBackwardWeightsParams) String() string { return p.CacheKey() }

// PoolingAlgo selects the pooling variant.
type PoolingAlgo int

const (
	PoolingMax PoolingAlgo = iota
	PoolingAvg
)

// String implements fmt.Stringer.
func (a PoolingAlgo) String() string {
	switch a {
	case PoolingMax:
		return "max"
	case PoolingAvg:
		return "avg"
	}
	return "invalid"
}

// PoolingParams selects a 2D pooling kernel (forward or backward -- the same
// parameter set keys both directions, each in its own registry).
type PoolingParams struct {
	X, Y shapes.Dims

	Algo                       PoolingAlgo
	WindowH, WindowW           int
	StrideY, StrideX           int
	PadLH, PadLW, PadRH, PadRW int
}

// CacheKey implements Params.
func (p PoolingParams) CacheKey() string {
	var kb keyBuilder
	return kb.dims("x", p.X).dims("y", p.Y).
		ints("algo", int(p.Algo)).
		ints("window", p.WindowH, p.WindowW).
		ints("stride", p.StrideY, p.StrideX).
		ints("pad", p.PadLH, p.PadLW, p.PadRH, p.PadRW).
		String()
}

// Validate implements Params.
func (p PoolingParams) Validate() error {
	var err error
	err = validateDims(err, "x", p.X)
	err = validateDims(err, "y", p.Y)
	if err == nil && p.Algo != PoolingMax && p.Algo != PoolingAvg {
		err = errors.Errorf("unknown pooling algorithm %d", int(p.Algo))
	}
	return err
}

// String implements fmt.Stringer.
func (p PoolingParams) String() string { return p.CacheKey() }

// LRNParams selects a cross-channel local response normalization kernel:
// each element is divided by (K + Alpha/LocalSize * sum(x²))^Beta, the sum running
// over LocalSize neighboring channels.
type LRNParams struct {
	X shapes.Dims

	LocalSize      int
	Alpha, Beta, K float64
}

// CacheKey implements Params.
func (p LRNParams) CacheKey() string {
	var kb keyBuilder
	return kb.dims("x", p.X).
		ints("n", p.LocalSize).
		float("alpha", p.Alpha).
		float("beta", p.Beta).
		float("k", p.K).
		String()
}

// Validate implements Params.
func (p LRNParams) Validate() error {
	return validateDims(nil, "x", p.X)
}

// String implements fmt.Stringer.
func (p LRNParams) String() string { return p.CacheKey() }

// EltwiseAlgo selects the elementwise activation variant.
type EltwiseAlgo int

const (
	EltwiseReLU EltwiseAlgo = iota
	EltwiseTanh
	EltwiseSigmoid
)

// String implements fmt.Stringer.
func (a EltwiseAlgo) String() string {
	switch a {
	case EltwiseReLU:
		return "relu"
	case EltwiseTanh:
		return "tanh"
	case EltwiseSigmoid:
		return "sigmoid"
	}
	return "invalid"
}

// EltwiseParams selects an elementwise activation kernel. Alpha is the algorithm's
// scalar parameter (the negative slope for ReLU; unused by tanh and sigmoid, but
// still part of the key).
type EltwiseParams struct {
	X shapes.Dims

	Algo  EltwiseAlgo
	Alpha float64
}

// CacheKey implements Params.
func (p EltwiseParams) CacheKey() string {
	var kb keyBuilder
	return kb.dims("x", p.X).
		ints("algo", int(p.Algo)).
		float("alpha", p.Alpha).
		String()
}

// Validate implements Params.
func (p EltwiseParams) Validate() error {
	var err error
	err = validateDims(err, "x", p.X)
	if err == nil {
		switch p.Algo {
		case EltwiseReLU, EltwiseTanh, EltwiseSigmoid:
		default:
			err = errors.Errorf("unknown eltwise algorithm %d", int(p.Algo))
		}
	}
	return err
}

// String implements fmt.Stringer.
func (p EltwiseParams) String() string { return p.CacheKey() }
