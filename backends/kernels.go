// Copyright 2026 The PrimPool Authors. SPDX-License-Identifier: Apache-2.0

package backends

import "github.com/primpool/primpool/types/shapes"

// Buffer represents actual tensor data stored wherever the backend executes -- host
// memory for the pure Go backend, device memory for an accelerator backend.
//
// It is opaque from PrimPool's perspective: kernels take Buffers as input/output and
// each backend only accepts Buffers it created itself.
type Buffer any

// DataInterface is the Backend's sub-interface defining how tensor data moves in and
// out of the backend.
type DataInterface interface {
	// NewBuffer allocates an uninitialized buffer of the given shape.
	NewBuffer(shape shapes.Shape) (Buffer, error)

	// BufferFromFlatData allocates a buffer of the given shape and fills it from flat,
	// a flat slice of the Go type corresponding to shape.DType with exactly
	// shape.Size() elements.
	BufferFromFlatData(flat any, shape shapes.Shape) (Buffer, error)

	// BufferToFlatData copies the buffer contents into flat, which must be a flat slice
	// of the matching Go type with exactly the buffer's size.
	BufferToFlatData(buffer Buffer, flat any) error

	// BufferShape returns the shape of the buffer.
	BufferShape(buffer Buffer) (shapes.Shape, error)

	// BufferFinalize informs the backend the buffer is no longer needed, so associated
	// resources can be freed immediately rather than waiting for a GC.
	BufferFinalize(buffer Buffer) error
}

// Kernel is the part of the contract common to every kernel a backend constructs:
// an opaque, expensive-to-construct object encapsulating the execution plan for one
// fixed (shapes, hyperparameters) combination.
//
// Kernels are owned by the registry that had them built. Callers borrow them for the
// life of the registry, may invoke the execution entry points repeatedly (including
// concurrently, if the backend documents that as safe), and must never Finalize them.
type Kernel interface {
	// OpKind returns the operation kind this kernel implements.
	OpKind() OpKind

	// Finalize immediately frees resources associated with the kernel.
	// Only the owning registry calls this.
	Finalize()
}

// ConvForwardKernel executes y = conv(x, w) + b for the geometry fixed at construction.
// The bias b may be nil if the kernel was built without one.
type ConvForwardKernel interface {
	Kernel
	Forward(x, w, b, y Buffer) error
}

// ConvBackwardDataKernel executes diffX = convBwdData(diffY, w).
type ConvBackwardDataKernel interface {
	Kernel
	Backward(diffY, w, diffX Buffer) error
}

// ConvBackwardWeightsKernel executes diffW, diffB = convBwdWeights(x, diffY).
// diffB may be nil if the kernel was built without a bias gradient.
type ConvBackwardWeightsKernel interface {
	Kernel
	Backward(x, diffY, diffW, diffB Buffer) error
}

// PoolingForwardKernel executes y = pool(x).
type PoolingForwardKernel interface {
	Kernel
	Forward(x, y Buffer) error
}

// PoolingBackwardKernel executes diffX = poolBwd(x, diffY). Max-pooling needs the
// original input x to recover the selected elements; average-pooling ignores it.
type PoolingBackwardKernel interface {
	Kernel
	Backward(x, diffY, diffX Buffer) error
}

// LRNForwardKernel executes y = lrn(x), cross-channel local response normalization.
type LRNForwardKernel interface {
	Kernel
	Forward(x, y Buffer) error
}

// LRNBackwardKernel executes diffX = lrnBwd(x, y, diffY).
type LRNBackwardKernel interface {
	Kernel
	Backward(x, y, diffY, diffX Buffer) error
}

// EltwiseForwardKernel executes y = f(x) for the activation fixed at construction.
type EltwiseForwardKernel interface {
	Kernel
	Forward(x, y Buffer) error
}

// EltwiseBackwardKernel executes diffX = f'(x) * diffY.
type EltwiseBackwardKernel interface {
	Kernel
	Backward(x, diffY, diffX Buffer) error
}
