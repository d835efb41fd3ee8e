// Copyright 2026 The PrimPool Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/primpool/primpool/backends"
	"github.com/x448/float16"
)

// floatT are the element types the compute loops are instantiated for. Float16 data
// is converted to float32 at the kernel boundary and computed with the float32 loops.
type floatT interface {
	float32 | float64
}

// kernelBase carries what every SimpleGo kernel has in common. The concrete kernels
// embed it and add their geometry and scratch.
type kernelBase struct {
	backend *Backend
	kind    backends.OpKind
	dtype   dtypes.DType
}

// OpKind implements backends.Kernel.
func (k *kernelBase) OpKind() backends.OpKind { return k.kind }

// Finalize implements backends.Kernel. SimpleGo kernels hold only Go memory, so
// dropping references is all there is to do.
func (k *kernelBase) Finalize() {}

func f16To32(dst []float32, src []float16.Float16) {
	for ii, v := range src {
		dst[ii] = v.Float32()
	}
}

func f32To16(dst []float16.Float16, src []float32) {
	for ii, v := range src {
		dst[ii] = float16.Fromfloat32(v)
	}
}

// f16Scratch is the float32 conversion area a float16 kernel allocates once at
// construction -- one slice per tensor role, in the order the kernel defines.
// It is what makes float16 kernels unsafe for concurrent execution.
type f16Scratch [][]float32

func newF16Scratch(sizes ...int) f16Scratch {
	s := make(f16Scratch, len(sizes))
	for ii, size := range sizes {
		s[ii] = make([]float32, size)
	}
	return s
}

// idx4 flattens an NCHW index.
func idx4(n, c, h, w, dimC, dimH, dimW int) int {
	return ((n*dimC+c)*dimH+h)*dimW + w
}
