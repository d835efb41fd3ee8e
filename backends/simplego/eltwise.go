// Copyright 2026 The PrimPool Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"math"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/primpool/primpool/backends"
	"github.com/primpool/primpool/types/shapes"
	"github.com/x448/float16"
)

// Eltwise kernels work on any rank: only the flat size matters.

// EltwiseForward implements backends.Backend.
func (b *Backend) EltwiseForward(dtype dtypes.DType, p backends.EltwiseParams) (backends.EltwiseForwardKernel, error) {
	if err := checkDType(dtype); err != nil {
		return nil, err
	}
	k := &eltwiseFwdKernel{
		kernelBase: kernelBase{backend: b, kind: backends.OpKindEltwiseForward, dtype: dtype},
		algo:       p.Algo,
		alpha:      p.Alpha,
		xShape:     shapes.Shape{DType: dtype, Dimensions: p.X.Clone()},
	}
	if dtype == dtypes.Float16 {
		k.scratch = newF16Scratch(p.X.Size(), p.X.Size())
	}
	return k, nil
}

type eltwiseFwdKernel struct {
	kernelBase
	algo    backends.EltwiseAlgo
	alpha   float64
	xShape  shapes.Shape
	scratch f16Scratch
}

// Forward implements backends.EltwiseForwardKernel.
func (k *eltwiseFwdKernel) Forward(x, y backends.Buffer) error {
	xf, err := k.backend.flatFor(x, k.xShape)
	if err != nil {
		return err
	}
	yf, err := k.backend.flatFor(y, k.xShape)
	if err != nil {
		return err
	}
	switch k.dtype {
	case dtypes.Float32:
		eltwiseForward(k.algo, k.alpha, xf.([]float32), yf.([]float32))
	case dtypes.Float64:
		eltwiseForward(k.algo, k.alpha, xf.([]float64), yf.([]float64))
	case dtypes.Float16:
		f16To32(k.scratch[0], xf.([]float16.Float16))
		eltwiseForward(k.algo, k.alpha, k.scratch[0], k.scratch[1])
		f32To16(yf.([]float16.Float16), k.scratch[1])
	}
	return nil
}

func eltwiseForward[T floatT](algo backends.EltwiseAlgo, alpha float64, x, y []T) {
	switch algo {
	case backends.EltwiseReLU:
		for ii, v := range x {
			if v > 0 {
				y[ii] = v
			} else {
				y[ii] = T(alpha) * v
			}
		}
	case backends.EltwiseTanh:
		for ii, v := range x {
			y[ii] = T(math.Tanh(float64(v)))
		}
	case backends.EltwiseSigmoid:
		for ii, v := range x {
			y[ii] = T(1 / (1 + math.Exp(-float64(v))))
		}
	}
}

// EltwiseBackward implements backends.Backend.
func (b *Backend) EltwiseBackward(dtype dtypes.DType, p backends.EltwiseParams) (backends.EltwiseBackwardKernel, error) {
	if err := checkDType(dtype); err != nil {
		return nil, err
	}
	k := &eltwiseBwdKernel{
		kernelBase: kernelBase{backend: b, kind: backends.OpKindEltwiseBackward, dtype: dtype},
		algo:       p.Algo,
		alpha:      p.Alpha,
		xShape:     shapes.Shape{DType: dtype, Dimensions: p.X.Clone()},
	}
	if dtype == dtypes.Float16 {
		k.scratch = newF16Scratch(p.X.Size(), p.X.Size(), p.X.Size())
	}
	return k, nil
}

type eltwiseBwdKernel struct {
	kernelBase
	algo    backends.EltwiseAlgo
	alpha   float64
	xShape  shapes.Shape
	scratch f16Scratch
}

// Backward implements backends.EltwiseBackwardKernel.
func (k *eltwiseBwdKernel) Backward(x, diffY, diffX backends.Buffer) error {
	xf, err := k.backend.flatFor(x, k.xShape)
	if err != nil {
		return err
	}
	dyf, err := k.backend.flatFor(diffY, k.xShape)
	if err != nil {
		return err
	}
	dxf, err := k.backend.flatFor(diffX, k.xShape)
	if err != nil {
		return err
	}
	switch k.dtype {
	case dtypes.Float32:
		eltwiseBackward(k.algo, k.alpha, xf.([]float32), dyf.([]float32), dxf.([]float32))
	case dtypes.Float64:
		eltwiseBackward(k.algo, k.alpha, xf.([]float64), dyf.([]float64), dxf.([]float64))
	case dtypes.Float16:
		f16To32(k.scratch[0], xf.([]float16.Float16))
		f16To32(k.scratch[1], dyf.([]float16.Float16))
		eltwiseBackward(k.algo, k.alpha, k.scratch[0], k.scratch[1], k.scratch[2])
		f32To16(dxf.([]float16.Float16), k.scratch[2])
	}
	return nil
}

func eltwiseBackward[T floatT](algo backends.EltwiseAlgo, alpha float64, x, diffY, diffX []T) {
	switch algo {
	case backends.EltwiseReLU:
		for ii, v := range x {
			if v > 0 {
				diffX[ii] = diffY[ii]
			} else {
				diffX[ii] = T(alpha) * diffY[ii]
			}
		}
	case backends.EltwiseTanh:
		for ii, v := range x {
			th := math.Tanh(float64(v))
			diffX[ii] = T(float64(diffY[ii]) * (1 - th*th))
		}
	case backends.EltwiseSigmoid:
		for ii, v := range x {
			s := 1 / (1 + math.Exp(-float64(v)))
			diffX[ii] = T(float64(diffY[ii]) * s * (1 - s))
		}
	}
}
