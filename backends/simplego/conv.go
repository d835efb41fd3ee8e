// Copyright 2026 The PrimPool Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/primpool/primpool/backends"
	"github.com/primpool/primpool/types/shapes"
	"github.com/x448/float16"
)

// convGeom is the planned geometry of a 2D convolution, shared by the forward,
// backward-data and backward-weights kernels. It is fully resolved and validated at
// construction; execution only runs the loops.
type convGeom struct {
	n, cIn, hIn, wIn int
	cOut, kh, kw     int
	hOut, wOut       int

	strideY, strideX           int
	padLH, padLW, padRH, padRW int
	withBias                   bool
}

func convOutDim(in, window, padL, padR, stride int) int {
	return (in+padL+padR-window)/stride + 1
}

// newConvGeom validates and resolves a convolution geometry. The roles are named for
// the forward pass: the backward passes reuse it with x=diffX, w=diffW|w, y=diffY.
func newConvGeom(x, w, b, y shapes.Dims, strideY, strideX, padLH, padLW, padRH, padRW int) (convGeom, error) {
	var g convGeom
	if x.Rank() != 4 || w.Rank() != 4 || y.Rank() != 4 {
		return g, errors.Errorf("conv2d wants rank-4 NCHW/OIHW dims, got x=%s, w=%s, y=%s", x, w, y)
	}
	if strideY < 1 || strideX < 1 {
		return g, errors.Errorf("conv2d strides must be positive, got %dx%d", strideY, strideX)
	}
	if padLH < 0 || padLW < 0 || padRH < 0 || padRW < 0 {
		return g, errors.Errorf("conv2d paddings must be non-negative, got (%d,%d,%d,%d)", padLH, padLW, padRH, padRW)
	}
	g = convGeom{
		n: x[0], cIn: x[1], hIn: x[2], wIn: x[3],
		cOut: w[0], kh: w[2], kw: w[3],
		strideY: strideY, strideX: strideX,
		padLH: padLH, padLW: padLW, padRH: padRH, padRW: padRW,
	}
	if w[1] != g.cIn {
		return g, errors.Errorf("conv2d weight input channels %d do not match input channels %d", w[1], g.cIn)
	}
	if b.Rank() > 0 {
		if b.Rank() != 1 || b[0] != g.cOut {
			return g, errors.Errorf("conv2d bias dims %s must be rank 1 with %d elements", b, g.cOut)
		}
		g.withBias = true
	}
	g.hOut = convOutDim(g.hIn, g.kh, padLH, padRH, strideY)
	g.wOut = convOutDim(g.wIn, g.kw, padLW, padRW, strideX)
	if g.hOut < 0 || g.wOut < 0 {
		return g, errors.Errorf("conv2d window %dx%d does not fit input %dx%d with paddings (%d,%d,%d,%d)",
			g.kh, g.kw, g.hIn, g.wIn, padLH, padLW, padRH, padRW)
	}
	want := shapes.MakeDims(g.n, g.cOut, g.hOut, g.wOut)
	if !y.Equal(want) {
		return g, errors.Errorf("conv2d output dims %s do not match computed %s", y, want)
	}
	return g, nil
}

func (g *convGeom) xSize() int { return g.n * g.cIn * g.hIn * g.wIn }
func (g *convGeom) wSize() int { return g.cOut * g.cIn * g.kh * g.kw }
func (g *convGeom) bSize() int {
	if !g.withBias {
		return 0
	}
	return g.cOut
}
func (g *convGeom) ySize() int { return g.n * g.cOut * g.hOut * g.wOut }

// ConvForward implements backends.Backend.
func (b *Backend) ConvForward(dtype dtypes.DType, p backends.ConvForwardParams) (backends.ConvForwardKernel, error) {
	if err := checkDType(dtype); err != nil {
		return nil, err
	}
	geom, err := newConvGeom(p.X, p.W, p.B, p.Y, p.StrideY, p.StrideX, p.PadLH, p.PadLW, p.PadRH, p.PadRW)
	if err != nil {
		return nil, err
	}
	k := &convFwdKernel{
		kernelBase: kernelBase{backend: b, kind: backends.OpKindConvForward, dtype: dtype},
		geom:       geom,
		xShape:     shapes.Shape{DType: dtype, Dimensions: p.X.Clone()},
		wShape:     shapes.Shape{DType: dtype, Dimensions: p.W.Clone()},
		bShape:     shapes.Shape{DType: dtype, Dimensions: p.B.Clone()},
		yShape:     shapes.Shape{DType: dtype, Dimensions: p.Y.Clone()},
	}
	if dtype == dtypes.Float16 {
		k.scratch = newF16Scratch(geom.xSize(), geom.wSize(), geom.bSize(), geom.ySize())
	}
	return k, nil
}

type convFwdKernel struct {
	kernelBase
	geom                           convGeom
	xShape, wShape, bShape, yShape shapes.Shape
	scratch                        f16Scratch
}

// Forward implements backends.ConvForwardKernel.
func (k *convFwdKernel) Forward(x, w, b, y backends.Buffer) error {
	xf, err := k.backend.flatFor(x, k.xShape)
	if err != nil {
		return err
	}
	wf, err := k.backend.flatFor(w, k.wShape)
	if err != nil {
		return err
	}
	var bf any
	if k.geom.withBias {
		bf, err = k.backend.flatFor(b, k.bShape)
		if err != nil {
			return err
		}
	}
	yf, err := k.backend.flatFor(y, k.yShape)
	if err != nil {
		return err
	}

	switch k.dtype {
	case dtypes.Float32:
		var bias []float32
		if k.geom.withBias {
			bias = bf.([]float32)
		}
		convForward(&k.geom, xf.([]float32), wf.([]float32), bias, yf.([]float32))
	case dtypes.Float64:
		var bias []float64
		if k.geom.withBias {
			bias = bf.([]float64)
		}
		convForward(&k.geom, xf.([]float64), wf.([]float64), bias, yf.([]float64))
	case dtypes.Float16:
		f16To32(k.scratch[0], xf.([]float16.Float16))
		f16To32(k.scratch[1], wf.([]float16.Float16))
		if k.geom.withBias {
			f16To32(k.scratch[2], bf.([]float16.Float16))
		}
		convForward(&k.geom, k.scratch[0], k.scratch[1], k.scratch[2], k.scratch[3])
		f32To16(yf.([]float16.Float16), k.scratch[3])
	}
	return nil
}

func convForward[T floatT](g *convGeom, x, w, b, y []T) {
	for n := 0; n < g.n; n++ {
		for co := 0; co < g.cOut; co++ {
			for ho := 0; ho < g.hOut; ho++ {
				for wo := 0; wo < g.wOut; wo++ {
					var acc T
					for ci := 0; ci < g.cIn; ci++ {
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
								acc += x[idx4(n, ci, hi, wi, g.cIn, g.hIn, g.wIn)] *
									w[idx4(co, ci, kh, kw, g.cIn, g.kh, g.kw)]
							}
						}
					}
					if g.withBias {
						acc += b[co]
					}
					y[idx4(n, co, ho, wo, g.cOut, g.hOut, g.wOut)] = acc
				}
			}
		}
	}
}

// ConvBackwardData implements backends.Backend.
func (b *Backend) ConvBackwardData(dtype dtypes.DType, p backends.ConvBackwardDataParams) (backends.ConvBackwardDataKernel, error) {
	if err := checkDType(dtype); err != nil {
		return nil, err
	}
	geom, err := newConvGeom(p.DiffX, p.W, nil, p.DiffY, p.StrideY, p.StrideX, p.PadLH, p.PadLW, p.PadRH, p.PadRW)
	if err != nil {
		return nil, err
	}
	k := &convBwdDataKernel{
		kernelBase: kernelBase{backend: b, kind: backends.OpKindConvBackwardData, dtype: dtype},
		geom:       geom,
		dyShape:    shapes.Shape{DType: dtype, Dimensions: p.DiffY.Clone()},
		wShape:     shapes.Shape{DType: dtype, Dimensions: p.W.Clone()},
		dxShape:    shapes.Shape{DType: dtype, Dimensions: p.DiffX.Clone()},
	}
	if dtype == dtypes.Float16 {
		k.scratch = newF16Scratch(geom.ySize(), geom.wSize(), geom.xSize())
	}
	return k, nil
}

type convBwdDataKernel struct {
	kernelBase
	geom                     convGeom
	dyShape, wShape, dxShape shapes.Shape
	scratch                  f16Scratch
}

// Backward implements backends.ConvBackwardDataKernel.
func (k *convBwdDataKernel) Backward(diffY, w, diffX backends.Buffer) error {
	dyf, err := k.backend.flatFor(diffY, k.dyShape)
	if err != nil {
		return err
	}
	wf, err := k.backend.flatFor(w, k.wShape)
	if err != nil {
		return err
	}
	dxf, err := k.backend.flatFor(diffX, k.dxShape)
	if err != nil {
		return err
	}

	switch k.dtype {
	case dtypes.Float32:
		convBackwardData(&k.geom, dyf.([]float32), wf.([]float32), dxf.([]float32))
	case dtypes.Float64:
		convBackwardData(&k.geom, dyf.([]float64), wf.([]float64), dxf.([]float64))
	case dtypes.Float16:
		f16To32(k.scratch[0], dyf.([]float16.Float16))
		f16To32(k.scratch[1], wf.([]float16.Float16))
		convBackwardData(&k.geom, k.scratch[0], k.scratch[1], k.scratch[2])
		f32To16(dxf.([]float16.Float16), k.scratch[2])
	}
	return nil
}

func convBackwardData[T floatT](g *convGeom, diffY, w, diffX []T) {
	for ii := range diffX {
		diffX[ii] = 0
	}
	for n := 0; n < g.n; n++ {
		for co := 0; co < g.cOut; co++ {
			for ho := 0; ho < g.hOut; ho++ {
				for wo := 0; wo < g.wOut; wo++ {
					dy := diffY[idx4(n, co, ho, wo, g.cOut, g.hOut, g.wOut)]
					for ci := 0; ci < g.cIn; ci++ {
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
								diffX[idx4(n, ci, hi, wi, g.cIn, g.hIn, g.wIn)] +=
									dy * w[idx4(co, ci, kh, kw, g.cIn, g.kh, g.kw)]
							}
						}
					}
				}
			}
		}
	}
}

// ConvBackwardWeights implements backends.Backend.
func (b *Backend) ConvBackwardWeights(dtype dtypes.DType, p backends.ConvBackwardWeightsParams) (backends.ConvBackwardWeightsKernel, error) {
	if err := checkDType(dtype); err != nil {
		return nil, err
	}
	geom, err := newConvGeom(p.X, p.DiffW, p.DiffB, p.DiffY, p.StrideY, p.StrideX, p.PadLH, p.PadLW, p.PadRH, p.PadRW)
	if err != nil {
		return nil, err
	}
	k := &convBwdWeightsKernel{
		kernelBase: kernelBase{backend: b, kind: backends.OpKindConvBackwardWeights, dtype: dtype},
		geom:       geom,
		xShape:     shapes.Shape{DType: dtype, Dimensions: p.X.Clone()},
		dwShape:    shapes.Shape{DType: dtype, Dimensions: p.DiffW.Clone()},
		dbShape:    shapes.Shape{DType: dtype, Dimensions: p.DiffB.Clone()},
		dyShape:    shapes.Shape{DType: dtype, Dimensions: p.DiffY.Clone()},
	}
	if dtype == dtypes.Float16 {
		k.scratch = newF16Scratch(geom.xSize(), geom.ySize(), geom.wSize(), geom.bSize())
	}
	return k, nil
}

type convBwdWeightsKernel struct {
	kernelBase
	geom                              convGeom
	xShape, dwShape, dbShape, dyShape shapes.Shape
	scratch                           f16Scratch
}

// Backward implements backends.ConvBackwardWeightsKernel.
func (k *convBwdWeightsKernel) Backward(x, diffY, diffW, diffB backends.Buffer) error {
	xf, err := k.backend.flatFor(x, k.xShape)
	if err != nil {
		return err
	}
	dyf, err := k.backend.flatFor(diffY, k.dyShape)
	if err != nil {
		return err
	}
	dwf, err := k.backend.flatFor(diffW, k.dwShape)
	if err != nil {
		return err
	}
	var dbf any
	if k.geom.withBias {
		dbf, err = k.backend.flatFor(diffB, k.dbShape)
		if err != nil {
			return err
		}
	}

	switch k.dtype {
	case dtypes.Float32:
		var diffBias []float32
		if k.geom.withBias {
			diffBias = dbf.([]float32)
		}
		convBackwardWeights(&k.geom, xf.([]float32), dyf.([]float32), dwf.([]float32), diffBias)
	case dtypes.Float64:
		var diffBias []float64
		if k.geom.withBias {
			diffBias = dbf.([]float64)
		}
		convBackwardWeights(&k.geom, xf.([]float64), dyf.([]float64), dwf.([]float64), diffBias)
	case dtypes.Float16:
		f16To32(k.scratch[0], xf.([]float16.Float16))
		f16To32(k.scratch[1], dyf.([]float16.Float16))
		convBackwardWeights(&k.geom, k.scratch[0], k.scratch[1], k.scratch[2], k.scratch[3])
		f32To16(dwf.([]float16.Float16), k.scratch[2])
		if k.geom.withBias {
			f32To16(dbf.([]float16.Float16), k.scratch[3])
		}
	}
	return nil
}

func convBackwardWeights[T floatT](g *convGeom, x, diffY, diffW, diffB []T) {
	for ii := range diffW {
		diffW[ii] = 0
	}
	for ii := range diffB {
		diffB[ii] = 0
	}
	for n := 0; n < g.n; n++ {
		for co := 0; co < g.cOut; co++ {
			for ho := 0; ho < g.hOut; ho++ {
				for wo := 0; wo < g.wOut; wo++ {
					dy := diffY[idx4(n, co, ho, wo, g.cOut, g.hOut, g.wOut)]
					if g.withBias {
						diffB[co] += dy
					}
					for ci := 0; ci < g.cIn; ci++ {
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
								diffW[idx4(co, ci, kh, kw, g.cIn, g.kh, g.kw)] +=
									dy * x[idx4(n, ci, hi, wi, g.cIn, g.hIn, g.wIn)]
							}
						}
					}
				}
			}
		}
	}
}
