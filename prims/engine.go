// Copyright 2026 The PrimPool Authors. SPDX-License-Identifier: Apache-2.0

package prims

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/google/uuid"
	"github.com/primpool/primpool/backends"
	"github.com/primpool/primpool/types/shapes"
	"github.com/x448/float16"
	"k8s.io/klog/v2"
)

// Supported are the element types an Engine can be instantiated for.
type Supported interface {
	float32 | float64 | float16.Float16
}

// Engine owns one registry per operation kind, all for the element type T and all
// building kernels through the same backend.
//
// The element type is part of the engine's type, not of any parameter key: an
// Engine[float32] and an Engine[float64] never share entries even for field-identical
// parameters. Create one engine per (backend, element type) and share it across the
// code driving the computation -- typically the execution layer keeps it next to the
// backend handle.
type Engine[T Supported] struct {
	backend backends.Backend
	dtype   dtypes.DType
	id      string

	convFwd        *Registry[backends.ConvForwardParams, backends.ConvForwardKernel]
	convBwdData    *Registry[backends.ConvBackwardDataParams, backends.ConvBackwardDataKernel]
	convBwdWeights *Registry[backends.ConvBackwardWeightsParams, backends.ConvBackwardWeightsKernel]
	poolingFwd     *Registry[backends.PoolingParams, backends.PoolingForwardKernel]
	poolingBwd     *Registry[backends.PoolingParams, backends.PoolingBackwardKernel]
	lrnFwd         *Registry[backends.LRNParams, backends.LRNForwardKernel]
	lrnBwd         *Registry[backends.LRNParams, backends.LRNBackwardKernel]
	eltwiseFwd     *Registry[backends.EltwiseParams, backends.EltwiseForwardKernel]
	eltwiseBwd     *Registry[backends.EltwiseParams, backends.EltwiseBackwardKernel]
}

// New creates an Engine for element type T backed by backend.
func New[T Supported](backend backends.Backend) *Engine[T] {
	dtype := dtypes.FromGenericsType[T]()
	e := &Engine[T]{
		backend: backend,
		dtype:   dtype,
		id:      uuid.NewString(),
	}
	e.convFwd = NewRegistry(backends.OpKindConvForward,
		func(p backends.ConvForwardParams) (backends.ConvForwardKernel, error) {
			return backend.ConvForward(dtype, p)
		})
	e.convBwdData = NewRegistry(backends.OpKindConvBackwardData,
		func(p backends.ConvBackwardDataParams) (backends.ConvBackwardDataKernel, error) {
			return backend.ConvBackwardData(dtype, p)
		})
	e.convBwdWeights = NewRegistry(backends.OpKindConvBackwardWeights,
		func(p backends.ConvBackwardWeightsParams) (backends.ConvBackwardWeightsKernel, error) {
			return backend.ConvBackwardWeights(dtype, p)
		})
	e.poolingFwd = NewRegistry(backends.OpKindPoolingForward,
		func(p backends.PoolingParams) (backends.PoolingForwardKernel, error) {
			return backend.PoolingForward(dtype, p)
		})
	e.poolingBwd = NewRegistry(backends.OpKindPoolingBackward,
		func(p backends.PoolingParams) (backends.PoolingBackwardKernel, error) {
			return backend.PoolingBackward(dtype, p)
		})
	e.lrnFwd = NewRegistry(backends.OpKindLRNForward,
		func(p backends.LRNParams) (backends.LRNForwardKernel, error) {
			return backend.LRNForward(dtype, p)
		})
	e.lrnBwd = NewRegistry(backends.OpKindLRNBackward,
		func(p backends.LRNParams) (backends.LRNBackwardKernel, error) {
			return backend.LRNBackward(dtype, p)
		})
	e.eltwiseFwd = NewRegistry(backends.OpKindEltwiseForward,
		func(p backends.EltwiseParams) (backends.EltwiseForwardKernel, error) {
			return backend.EltwiseForward(dtype, p)
		})
	e.eltwiseBwd = NewRegistry(backends.OpKindEltwiseBackward,
		func(p backends.EltwiseParams) (backends.EltwiseBackwardKernel, error) {
			return backend.EltwiseBackward(dtype, p)
		})
	klog.V(1).Infof("prims: new engine %s for dtype %s on backend %q", e.id, dtype, backend.Name())
	return e
}

// Backend returns the backend kernels are built with.
func (e *Engine[T]) Backend() backends.Backend { return e.backend }

// DType returns the element type of every kernel this engine manages.
func (e *Engine[T]) DType() dtypes.DType { return e.dtype }

// ID returns the engine's unique id, used to correlate log lines.
func (e *Engine[T]) ID() string { return e.id }

// SetMaxEntriesPerKind bounds every per-kind registry to maxEntries kernels with LRU
// eviction -- a deliberate deviation from the default never-evict behavior, for
// workloads with unbounded shape sets. maxEntries <= 0 restores unbounded growth.
//
// It returns the engine so calls can be cascaded.
func (e *Engine[T]) SetMaxEntriesPerKind(maxEntries int) *Engine[T] {
	e.convFwd.SetMaxEntries(maxEntries)
	e.convBwdData.SetMaxEntries(maxEntries)
	e.convBwdWeights.SetMaxEntries(maxEntries)
	e.poolingFwd.SetMaxEntries(maxEntries)
	e.poolingBwd.SetMaxEntries(maxEntries)
	e.lrnFwd.SetMaxEntries(maxEntries)
	e.lrnBwd.SetMaxEntries(maxEntries)
	e.eltwiseFwd.SetMaxEntries(maxEntries)
	e.eltwiseBwd.SetMaxEntries(maxEntries)
	return e
}

// ConvForward returns the forward convolution kernel for the given geometry,
// building and caching it on first use.
//
// x, y are NCHW dims, w is OIHW, b is the bias dims (empty for no bias); sy, sx are
// the strides and padLH, padLW, padRH, padRW the four independent paddings.
func (e *Engine[T]) ConvForward(x, w, b, y shapes.Dims, sy, sx, padLH, padLW, padRH, padRW int) (backends.ConvForwardKernel, error) {
	return e.convFwd.Get(backends.ConvForwardParams{
		X: x, W: w, B: b, Y: y,
		StrideY: sy, StrideX: sx,
		PadLH: padLH, PadLW: padLW, PadRH: padRH, PadRW: padRW,
	})
}

// ConvBackwardData returns the backward-data convolution kernel for the given
// geometry, building and caching it on first use.
func (e *Engine[T]) ConvBackwardData(diffY, w, diffX shapes.Dims, sy, sx, padLH, padLW, padRH, padRW int) (backends.ConvBackwardDataKernel, error) {
	return e.convBwdData.Get(backends.ConvBackwardDataParams{
		DiffY: diffY, W: w, DiffX: diffX,
		StrideY: sy, StrideX: sx,
		PadLH: padLH, PadLW: padLW, PadRH: padRH, PadRW: padRW,
	})
}

// ConvBackwardWeights returns the backward-weights convolution kernel for the given
// geometry, building and caching it on first use.
func (e *Engine[T]) ConvBackwardWeights(x, diffW, diffB, diffY shapes.Dims, sy, sx, padLH, padLW, padRH, padRW int) (backends.ConvBackwardWeightsKernel, error) {
	return e.convBwdWeights.Get(backends.ConvBackwardWeightsParams{
		X: x, DiffW: diffW, DiffB: diffB, DiffY: diffY,
		StrideY: sy, StrideX: sx,
		PadLH: padLH, PadLW: padLW, PadRH: padRH, PadRW: padRW,
	})
}

// PoolingForward returns the pooling forward kernel for the given geometry, building
// and caching it on first use.
func (e *Engine[T]) PoolingForward(algo backends.PoolingAlgo, x, y shapes.Dims, kh, kw, sy, sx, padLH, padLW, padRH, padRW int) (backends.PoolingForwardKernel, error) {
	return e.poolingFwd.Get(backends.PoolingParams{
		X: x, Y: y, Algo: algo,
		WindowH: kh, WindowW: kw,
		StrideY: sy, StrideX: sx,
		PadLH: padLH, PadLW: padLW, PadRH: padRH, PadRW: padRW,
	})
}

// PoolingBackward returns the pooling backward kernel for the given geometry,
// building and caching it on first use.
func (e *Engine[T]) PoolingBackward(algo backends.PoolingAlgo, x, y shapes.Dims, kh, kw, sy, sx, padLH, padLW, padRH, padRW int) (backends.PoolingBackwardKernel, error) {
	return e.poolingBwd.Get(backends.PoolingParams{
		X: x, Y: y, Algo: algo,
		WindowH: kh, WindowW: kw,
		StrideY: sy, StrideX: sx,
		PadLH: padLH, PadLW: padLW, PadRH: padRH, PadRW: padRW,
	})
}

// LRNForward returns the LRN forward kernel for the given geometry, building and
// caching it on first use.
func (e *Engine[T]) LRNForward(x shapes.Dims, localSize int, alpha, beta, k float64) (backends.LRNForwardKernel, error) {
	return e.lrnFwd.Get(backends.LRNParams{X: x, LocalSize: localSize, Alpha: alpha, Beta: beta, K: k})
}

// LRNBackward returns the LRN backward kernel for the given geometry, building and
// caching it on first use.
func (e *Engine[T]) LRNBackward(x shapes.Dims, localSize int, alpha, beta, k float64) (backends.LRNBackwardKernel, error) {
	return e.lrnBwd.Get(backends.LRNParams{X: x, LocalSize: localSize, Alpha: alpha, Beta: beta, K: k})
}

// EltwiseForward returns the elementwise activation kernel for the given geometry,
// building and caching it on first use.
func (e *Engine[T]) EltwiseForward(algo backends.EltwiseAlgo, x shapes.Dims, alpha float64) (backends.EltwiseForwardKernel, error) {
	return e.eltwiseFwd.Get(backends.EltwiseParams{X: x, Algo: algo, Alpha: alpha})
}

// EltwiseBackward returns the elementwise activation gradient kernel for the given
// geometry, building and caching it on first use.
func (e *Engine[T]) EltwiseBackward(algo backends.EltwiseAlgo, x shapes.Dims, alpha float64) (backends.EltwiseBackwardKernel, error) {
	return e.eltwiseBwd.Get(backends.EltwiseParams{X: x, Algo: algo, Alpha: alpha})
}

// Stats returns a snapshot of every per-kind registry's counters, in OpKinds order.
func (e *Engine[T]) Stats() []Stats {
	return []Stats{
		e.convFwd.Stats(),
		e.convBwdData.Stats(),
		e.convBwdWeights.Stats(),
		e.poolingFwd.Stats(),
		e.poolingBwd.Stats(),
		e.lrnFwd.Stats(),
		e.lrnBwd.Stats(),
		e.eltwiseFwd.Stats(),
		e.eltwiseBwd.Stats(),
	}
}

// NumKernels returns the total number of live kernels across all kinds.
func (e *Engine[T]) NumKernels() int {
	total := 0
	for _, s := range e.Stats() {
		total += s.Entries
	}
	return total
}

// Reset finalizes every cached kernel in every per-kind registry and zeroes all
// counters. Kernels previously returned become invalid. Meant for test isolation and
// explicit teardown.
func (e *Engine[T]) Reset() {
	e.convFwd.Reset()
	e.convBwdData.Reset()
	e.convBwdWeights.Reset()
	e.poolingFwd.Reset()
	e.poolingBwd.Reset()
	e.lrnFwd.Reset()
	e.lrnBwd.Reset()
	e.eltwiseFwd.Reset()
	e.eltwiseBwd.Reset()
	klog.V(1).Infof("prims: engine %s reset", e.id)
}
