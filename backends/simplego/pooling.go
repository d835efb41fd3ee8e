// Copyright 2026 The PrimPool Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/primpool/primpool/backends"
	"github.com/primpool/primpool/types/shapes"
	"github.com/x448/float16"
)

// poolGeom is the planned geometry of a 2D pooling, shared by forward and backward.
// Average pooling divides by the number of in-bounds elements of each window, so
// padded borders don't dilute the average.
type poolGeom struct {
	n, c, hIn, wIn int
	hOut, wOut     int

	algo                       backends.PoolingAlgo
	kh, kw                     int
	strideY, strideX           int
	padLH, padLW, padRH, padRW int
}

func newPoolGeom(p backends.PoolingParams) (poolGeom, error) {
	var g poolGeom
	if p.X.Rank() != 4 || p.Y.Rank() != 4 {
		return g, errors.Errorf("pooling wants rank-4 NCHW dims, got x=%s, y=%s", p.X, p.Y)
	}
	if p.WindowH < 1 || p.WindowW < 1 {
		return g, errors.Errorf("pooling window must be positive, got %dx%d", p.WindowH, p.WindowW)
	}
	if p.StrideY < 1 || p.StrideX < 1 {
		return g, errors.Errorf("pooling strides must be positive, got %dx%d", p.StrideY, p.StrideX)
	}
	if p.PadLH < 0 || p.PadLW < 0 || p.PadRH < 0 || p.PadRW < 0 {
		return g, errors.Errorf("pooling paddings must be non-negative, got (%d,%d,%d,%d)", p.PadLH, p.PadLW, p.PadRH, p.PadRW)
	}
	g = poolGeom{
		n: p.X[0], c: p.X[1], hIn: p.X[2], wIn: p.X[3],
		algo: p.Algo,
		kh:   p.WindowH, kw: p.WindowW,
		strideY: p.StrideY, strideX: p.StrideX,
		padLH: p.PadLH, padLW: p.PadLW, padRH: p.PadRH, padRW: p.PadRW,
	}
	g.hOut = convOutDim(g.hIn, g.kh, g.padLH, g.padRH, g.strideY)
	g.wOut = convOutDim(g.wIn, g.kw, g.padLW, g.padRW, g.strideX)
	if g.hOut < 0 || g.wOut < 0 {
		return g, errors.Errorf("pooling window %dx%d does not fit input %dx%d", g.kh, g.kw, g.hIn, g.wIn)
	}
	want := shapes.MakeDims(g.n, g.c, g.hOut, g.wOut)
	if !p.Y.Equal(want) {
		return g, errors.Errorf("pooling output dims %s do not match computed %s", p.Y, want)
	}
	return g, nil
}

func (g *poolGeom) xSize() int { return g.n * g.c * g.hIn * g.wIn }
func (g *poolGeom) ySize() int { return g.n * g.c * g.hOut * g.wOut }

// PoolingForward implements backends.Backend.
func (b *Backend) PoolingForward(dtype dtypes.DType, p backends.PoolingParams) (backends.PoolingForwardKernel, error) {
	if err := checkDType(dtype); err != nil {
		return nil, err
	}
	geom, err := newPoolGeom(p)
	if err != nil {
		return nil, err
	}
	k := &poolFwdKernel{
		kernelBase: kernelBase{backend: b, kind: backends.OpKindPoolingForward, dtype: dtype},
		geom:       geom,
		xShape:     shapes.Shape{DType: dtype, Dimensions: p.X.Clone()},
		yShape:     shapes.Shape{DType: dtype, Dimensions: p.Y.Clone()},
	}
	if dtype == dtypes.Float16 {
		k.scratch = newF16Scratch(geom.xSize(), geom.ySize())
	}
	return k, nil
}

type poolFwdKernel struct {
	kernelBase
	geom           poolGeom
	xShape, yShape shapes.Shape
	scratch        f16Scratch
}

// Forward implements backends.PoolingForwardKernel.
func (k *poolFwdKernel) Forward(x, y backends.Buffer) error {
	xf, err := k.backend.flatFor(x, k.xShape)
	if err != nil {
		return err
	}
	yf, err := k.backend.flatFor(y, k.yShape)
	if err != nil {
		return err
	}
	switch k.dtype {
	case dtypes.Float32:
		poolForward(&k.geom, xf.([]float32), yf.([]float32))
	case dtypes.Float64:
		poolForward(&k.geom, xf.([]float64), yf.([]float64))
	case dtypes.Float16:
		f16To32(k.scratch[0], xf.([]float16.Float16))
		poolForward(&k.geom, k.scratch[0], k.scratch[1])
		f32To16(yf.([]float16.Float16), k.scratch[1])
	}
	return nil
}

func poolForward[T floatT](g *poolGeom, x, y []T) {
	for n := 0; n < g.n; n++ {
		for c := 0; c < g.c; c++ {
			for ho := 0; ho < g.hOut; ho++ {
				for wo := 0; wo < g.wOut; wo++ {
					var acc T
					count := 0
					for kh := 0; kh < g.kh; kh++ {
						hi := ho*g.strideY - g.padLH + kh
						if hi < 0 || hi >= g.hIn {
							continue
						}
						for kw := 0; kw < g.kw; kw++ {
							wi := wo*g.strideX - g.padLW + kw
							if wi < 0 || wi >= g.wIn {
								continue
							}
							v := x[idx4(n, c, hi, wi, g.c, g.hIn, g.wIn)]
							if g.algo == backends.PoolingMax {
								if count == 0 || v > acc {
									acc = v
								}
							} else {
								acc += v
							}
							count++
						}
					}
					if g.algo == backends.PoolingAvg && count > 0 {
						acc /= T(count)
					}
					y[idx4(n, c, ho, wo, g.c, g.hOut, g.wOut)] = acc
				}
			}
		}
	}
}

// PoolingBackward implements backends.Backend.
func (b *Backend) PoolingBackward(dtype dtypes.DType, p backends.PoolingParams) (backends.PoolingBackwardKernel, error) {
	if err := checkDType(dtype); err != nil {
		return nil, err
	}
	geom, err := newPoolGeom(p)
	if err != nil {
		return nil, err
	}
	k := &poolBwdKernel{
		kernelBase: kernelBase{backend: b, kind: backends.OpKindPoolingBackward, dtype: dtype},
		geom:       geom,
		xShape:     shapes.Shape{DType: dtype, Dimensions: p.X.Clone()},
		yShape:     shapes.Shape{DType: dtype, Dimensions: p.Y.Clone()},
	}
	if dtype == dtypes.Float16 {
		k.scratch = newF16Scratch(geom.xSize(), geom.ySize(), geom.xSize())
	}
	return k, nil
}

type poolBwdKernel struct {
	kernelBase
	geom           poolGeom
	xShape, yShape shapes.Shape
	scratch        f16Scratch
}

// Backward implements backends.PoolingBackwardKernel. diffY has the forward output
// shape and diffX the forward input shape; max pooling recovers the selected element
// from x.
func (k *poolBwdKernel) Backward(x, diffY, diffX backends.Buffer) error {
	xf, err := k.backend.flatFor(x, k.xShape)
	if err != nil {
		return err
	}
	dyf, err := k.backend.flatFor(diffY, k.yShape)
	if err != nil {
		return err
	}
	dxf, err := k.backend.flatFor(diffX, k.xShape)
	if err != nil {
		return err
	}
	switch k.dtype {
	case dtypes.Float32:
		poolBackward(&k.geom, xf.([]float32), dyf.([]float32), dxf.([]float32))
	case dtypes.Float64:
		poolBackward(&k.geom, xf.([]float64), dyf.([]float64), dxf.([]float64))
	case dtypes.Float16:
		f16To32(k.scratch[0], xf.([]float16.Float16))
		f16To32(k.scratch[1], dyf.([]float16.Float16))
		poolBackward(&k.geom, k.scratch[0], k.scratch[1], k.scratch[2])
		f32To16(dxf.([]float16.Float16), k.scratch[2])
	}
	return nil
}

func poolBackward[T floatT](g *poolGeom, x, diffY, diffX []T) {
	for ii := range diffX {
		diffX[ii] = 0
	}
	for n := 0; n < g.n; n++ {
		for c := 0; c < g.c; c++ {
			for ho := 0; ho < g.hOut; ho++ {
				for wo := 0; wo < g.wOut; wo++ {
					dy := diffY[idx4(n, c, ho, wo, g.c, g.hOut, g.wOut)]
					if g.algo == backends.PoolingMax {
						bestIdx, count := -1, 0
						var best T
						for kh := 0; kh < g.kh; kh++ {
							hi := ho*g.strideY - g.padLH + kh
							if hi < 0 || hi >= g.hIn {
								continue
							}
							for kw := 0; kw < g.kw; kw++ {
								wi := wo*g.strideX - g.padLW + kw
								if wi < 0 || wi >= g.wIn {
									continue
								}
								idx := idx4(n, c, hi, wi, g.c, g.hIn, g.wIn)
								if count == 0 || x[idx] > best {
									best, bestIdx = x[idx], idx
								}
								count++
							}
						}
						if bestIdx >= 0 {
							diffX[bestIdx] += dy
						}
						continue
					}

					// Average pooling: distribute evenly over the in-bounds window.
					count := 0
					for kh := 0; kh < g.kh; kh++ {
						hi := ho*g.strideY - g.padLH + kh
						if hi >= 0 && hi < g.hIn {
							for kw := 0; kw < g.kw; kw++ {
								wi := wo*g.strideX - g.padLW + kw
								if wi >= 0 && wi < g.wIn {
									count++
								}
							}
						}
					}
					if count == 0 {
						continue
					}
					share := dy / T(count)
					for kh := 0; kh < g.kh; kh++ {
						hi := ho*g.strideY - g.padLH + kh
						if hi < 0 || hi >= g.hIn {
							continue
						}
						for kw := 0; kw < g.kw; kw++ {
							wi := wo*g.strideX - g.padLW + kw
							if wi < 0 || wi >= g.wIn {
								continue
							}
							diffX[idx4(n, c, hi, wi, g.c, g.hIn, g.wIn)] += share
						}
					}
				}
			}
		}
	}
}
