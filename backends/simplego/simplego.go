// Copyright 2026 The PrimPool Authors. SPDX-License-Identifier: Apache-2.0

// Package simplego implements a simple, and not very fast, but very portable pure Go
// backend for PrimPool.
//
// Kernel construction does the expensive part once -- geometry validation, output
// dimension inference and scratch allocation -- and execution runs direct NCHW loops.
// It supports float32, float64 and float16 (computed via float32).
//
// Kernels built by this backend are not safe for concurrent execution: float16
// kernels share per-kernel conversion scratch. Looking them up concurrently through
// a prims registry is fine.
package simplego

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/primpool/primpool/backends"
)

// BackendName to be used in PRIMPOOL_BACKEND to specify this backend.
const BackendName = "go"

// Registers New() as the constructor for the "go" backend.
func init() {
	backends.Register(BackendName, New)
}

// New constructs a new SimpleGo Backend.
// There are no configurations, the string must be empty.
func New(config string) (backends.Backend, error) {
	if config != "" {
		return nil, errors.Errorf("backend %q takes no configuration, got %q", BackendName, config)
	}
	return &Backend{}, nil
}

// Backend implements the backends.Backend interface.
type Backend struct{}

// Compile-time check that simplego.Backend implements backends.Backend.
var _ backends.Backend = (*Backend)(nil)

// Name returns the short name of the backend.
func (b *Backend) Name() string { return BackendName }

// String implements fmt.Stringer.
func (b *Backend) String() string { return BackendName }

// Description is a longer description of the Backend that can be used to pretty-print.
func (b *Backend) Description() string { return "Simple Go Portable Backend" }

// Finalize releases all the associated resources immediately, and makes the backend invalid.
func (b *Backend) Finalize() {}

// checkDType returns an error for element types this backend cannot compute with.
func checkDType(dtype dtypes.DType) error {
	switch dtype {
	case dtypes.Float32, dtypes.Float64, dtypes.Float16:
		return nil
	}
	return errors.Errorf("simplego backend does not support dtype %s", dtype)
}
