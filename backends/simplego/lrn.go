// Copyright 2026 The PrimPool Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"math"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/primpool/primpool/backends"
	"github.com/primpool/primpool/types/shapes"
	"github.com/x448/float16"
)

// lrnGeom is the planned geometry of a cross-channel local response normalization:
//
//	y_c = x_c * (k + alpha/localSize * sum_{j in window(c)} x_j^2)^(-beta)
//
// with the window spanning localSize neighboring channels, clipped at the borders.
type lrnGeom struct {
	n, c, h, w int

	localSize      int
	alpha, beta, k float64
}

func newLRNGeom(p backends.LRNParams) (lrnGeom, error) {
	var g lrnGeom
	if p.X.Rank() != 4 {
		return g, errors.Errorf("lrn wants rank-4 NCHW dims, got x=%s", p.X)
	}
	if p.LocalSize < 1 {
		return g, errors.Errorf("lrn local size must be positive, got %d", p.LocalSize)
	}
	if p.K <= 0 {
		return g, errors.Errorf("lrn k must be positive, got %v", p.K)
	}
	return lrnGeom{
		n: p.X[0], c: p.X[1], h: p.X[2], w: p.X[3],
		localSize: p.LocalSize, alpha: p.Alpha, beta: p.Beta, k: p.K,
	}, nil
}

func (g *lrnGeom) size() int { return g.n * g.c * g.h * g.w }

// window returns the clipped channel range [lo, hi] normalized around channel c.
func (g *lrnGeom) window(c int) (lo, hi int) {
	lo = max(0, c-(g.localSize-1)/2)
	hi = min(g.c-1, c+g.localSize/2)
	return
}

// scale computes k + alpha/localSize * sum(x_j^2) over the window of channel c at one
// spatial position. x is the channel stride view: x[j] addressed via base+j*chanStride.
func lrnScale[T floatT](g *lrnGeom, x []T, base, chanStride, c int) float64 {
	lo, hi := g.window(c)
	var sum float64
	for j := lo; j <= hi; j++ {
		v := float64(x[base+j*chanStride])
		sum += v * v
	}
	return g.k + g.alpha/float64(g.localSize)*sum
}

// LRNForward implements backends.Backend.
func (b *Backend) LRNForward(dtype dtypes.DType, p backends.LRNParams) (backends.LRNForwardKernel, error) {
	if err := checkDType(dtype); err != nil {
		return nil, err
	}
	geom, err := newLRNGeom(p)
	if err != nil {
		return nil, err
	}
	k := &lrnFwdKernel{
		kernelBase: kernelBase{backend: b, kind: backends.OpKindLRNForward, dtype: dtype},
		geom:       geom,
		xShape:     shapes.Shape{DType: dtype, Dimensions: p.X.Clone()},
	}
	if dtype == dtypes.Float16 {
		k.scratch = newF16Scratch(geom.size(), geom.size())
	}
	return k, nil
}

type lrnFwdKernel struct {
	kernelBase
	geom    lrnGeom
	xShape  shapes.Shape
	scratch f16Scratch
}

// Forward implements backends.LRNForwardKernel.
func (k *lrnFwdKernel) Forward(x, y backends.Buffer) error {
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
		lrnForward(&k.geom, xf.([]float32), yf.([]float32))
	case dtypes.Float64:
		lrnForward(&k.geom, xf.([]float64), yf.([]float64))
	case dtypes.Float16:
		f16To32(k.scratch[0], xf.([]float16.Float16))
		lrnForward(&k.geom, k.scratch[0], k.scratch[1])
		f32To16(yf.([]float16.Float16), k.scratch[1])
	}
	return nil
}

func lrnForward[T floatT](g *lrnGeom, x, y []T) {
	chanStride := g.h * g.w
	for n := 0; n < g.n; n++ {
		for hw := 0; hw < chanStride; hw++ {
			base := n*g.c*chanStride + hw
			for c := 0; c < g.c; c++ {
				scale := lrnScale(g, x, base, chanStride, c)
				idx := base + c*chanStride
				y[idx] = T(float64(x[idx]) * math.Pow(scale, -g.beta))
			}
		}
	}
}

// LRNBackward implements backends.Backend.
func (b *Backend) LRNBackward(dtype dtypes.DType, p backends.LRNParams) (backends.LRNBackwardKernel, error) {
	if err := checkDType(dtype); err != nil {
		return nil, err
	}
	geom, err := newLRNGeom(p)
	if err != nil {
		return nil, err
	}
	k := &lrnBwdKernel{
		kernelBase: kernelBase{backend: b, kind: backends.OpKindLRNBackward, dtype: dtype},
		geom:       geom,
		xShape:     shapes.Shape{DType: dtype, Dimensions: p.X.Clone()},
		ratios:     make([]float64, geom.c),
	}
	if dtype == dtypes.Float16 {
		k.scratch = newF16Scratch(geom.size(), geom.size(), geom.size(), geom.size())
	}
	return k, nil
}

type lrnBwdKernel struct {
	kernelBase
	geom    lrnGeom
	xShape  shapes.Shape
	ratios  []float64 // Per-channel diffY*y/scale, reused across spatial positions.
	scratch f16Scratch
}

// Backward implements backends.LRNBackwardKernel.
func (k *lrnBwdKernel) Backward(x, y, diffY, diffX backends.Buffer) error {
	xf, err := k.backend.flatFor(x, k.xShape)
	if err != nil {
		return err
	}
	yf, err := k.backend.flatFor(y, k.xShape)
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
		lrnBackward(&k.geom, k.ratios, xf.([]float32), yf.([]float32), dyf.([]float32), dxf.([]float32))
	case dtypes.Float64:
		lrnBackward(&k.geom, k.ratios, xf.([]float64), yf.([]float64), dyf.([]float64), dxf.([]float64))
	case dtypes.Float16:
		f16To32(k.scratch[0], xf.([]float16.Float16))
		f16To32(k.scratch[1], yf.([]float16.Float16))
		f16To32(k.scratch[2], dyf.([]float16.Float16))
		lrnBackward(&k.geom, k.ratios, k.scratch[0], k.scratch[1], k.scratch[2], k.scratch[3])
		f32To16(dxf.([]float16.Float16), k.scratch[3])
	}
	return nil
}

// lrnBackward computes
//
//	diffX_c = diffY_c * scale_c^(-beta) - 2*alpha*beta/localSize * x_c * sum_{j: c in window(j)} diffY_j*y_j/scale_j
//
// The inverse window of c is the set of channels whose normalization window includes c.
func lrnBackward[T floatT](g *lrnGeom, ratios []float64, x, y, diffY, diffX []T) {
	chanStride := g.h * g.w
	factor := 2 * g.alpha * g.beta / float64(g.localSize)
	for n := 0; n < g.n; n++ {
		for hw := 0; hw < chanStride; hw++ {
			base := n*g.c*chanStride + hw
			for c := 0; c < g.c; c++ {
				idx := base + c*chanStride
				scale := lrnScale(g, x, base, chanStride, c)
				ratios[c] = float64(diffY[idx]) * float64(y[idx]) / scale
			}
			for c := 0; c < g.c; c++ {
				idx := base + c*chanStride
				scale := lrnScale(g, x, base, chanStride, c)
				// Channels j whose window contains c: j-(localSize-1)/2 <= c <= j+localSize/2.
				lo := max(0, c-g.localSize/2)
				hi := min(g.c-1, c+(g.localSize-1)/2)
				var sum float64
				for j := lo; j <= hi; j++ {
					sum += ratios[j]
				}
				diffX[idx] = T(float64(diffY[idx])*math.Pow(scale, -g.beta) - factor*float64(x[idx])*sum)
			}
		}
	}
}
