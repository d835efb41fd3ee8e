// Copyright 2026 The PrimPool Authors. SPDX-License-Identifier: Apache-2.0

// Package backends defines the interface a compute backend needs to implement to build
// kernels for PrimPool, and the parameter types that select those kernels.
//
// A backend is the component that actually constructs (plans, allocates descriptors for)
// and executes a kernel for one fixed combination of shapes and hyperparameters.
// PrimPool itself never inspects a kernel: it only memoizes them -- see package prims.
//
// A backend that doesn't support an operation kind or dtype simply returns an error from
// the corresponding constructor; nothing is cached for failed constructions.
package backends

import (
	"os"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
)

// Backend is the API that needs to be implemented by a PrimPool backend.
//
// The kernel constructors take the element dtype and the full parameter set for the
// kernel, and return a ready-to-execute kernel or a construction error. Constructors
// are expected to do the expensive planning work up-front, so the returned kernels
// are cheap to invoke repeatedly.
type Backend interface {
	// Name returns the short name of the backend, e.g. "go" for the pure Go reference backend.
	Name() string

	// Description is a longer description of the Backend that can be used to pretty-print.
	Description() string

	// ConvForward builds a 2D convolution forward kernel.
	ConvForward(dtype dtypes.DType, params ConvForwardParams) (ConvForwardKernel, error)

	// ConvBackwardData builds a kernel computing the gradient w.r.t. the convolution input.
	ConvBackwardData(dtype dtypes.DType, params ConvBackwardDataParams) (ConvBackwardDataKernel, error)

	// ConvBackwardWeights builds a kernel computing the gradients w.r.t. the convolution
	// weights and bias.
	ConvBackwardWeights(dtype dtypes.DType, params ConvBackwardWeightsParams) (ConvBackwardWeightsKernel, error)

	// PoolingForward builds a 2D max- or average-pooling forward kernel.
	PoolingForward(dtype dtypes.DType, params PoolingParams) (PoolingForwardKernel, error)

	// PoolingBackward builds the corresponding pooling gradient kernel.
	PoolingBackward(dtype dtypes.DType, params PoolingParams) (PoolingBackwardKernel, error)

	// LRNForward builds a cross-channel local response normalization kernel.
	LRNForward(dtype dtypes.DType, params LRNParams) (LRNForwardKernel, error)

	// LRNBackward builds the corresponding LRN gradient kernel.
	LRNBackward(dtype dtypes.DType, params LRNParams) (LRNBackwardKernel, error)

	// EltwiseForward builds an elementwise activation kernel.
	EltwiseForward(dtype dtypes.DType, params EltwiseParams) (EltwiseForwardKernel, error)

	// EltwiseBackward builds the corresponding activation gradient kernel.
	EltwiseBackward(dtype dtypes.DType, params EltwiseParams) (EltwiseBackwardKernel, error)

	// DataInterface is the sub-interface that defines how buffers are transferred
	// to/from the backend.
	DataInterface

	// Finalize releases all the associated resources immediately, and makes the backend invalid.
	Finalize()
}

// Constructor takes a config string (optionally empty) and returns a Backend.
type Constructor func(config string) (Backend, error)

var (
	registeredConstructors = make(map[string]Constructor)
	firstRegistered        string
)

// Register backend with the given name, and a constructor that takes as input a
// configuration string that is passed along to the backend constructor.
//
// To be safe, call Register during initialization of a package.
func Register(name string, constructor Constructor) {
	if len(registeredConstructors) == 0 {
		firstRegistered = name
	}
	registeredConstructors[name] = constructor
}

// DefaultConfig is the backend configuration to use if the environment variable
// PRIMPOOL_BACKEND is not set.
var DefaultConfig string

// ConfigEnvVar is the environment variable with the default backend configuration.
//
// The format of the configuration is "<backend_name>:<backend_configuration>".
// "<backend_name>" is the name of a registered backend (e.g. "go") and
// "<backend_configuration>" is backend specific.
const ConfigEnvVar = "PRIMPOOL_BACKEND"

// New returns a new Backend using the default configuration.
//
// The default is:
//
//  1. The environment variable PRIMPOOL_BACKEND, if set.
//  2. The variable DefaultConfig, if set.
//  3. The first registered backend, with an empty configuration.
//
// It panics if no backend was registered.
func New() (Backend, error) {
	if config, found := os.LookupEnv(ConfigEnvVar); found {
		return NewWithConfig(config)
	}
	return NewWithConfig(DefaultConfig)
}

// NewWithConfig creates a Backend from a configuration string formatted as
// "<backend_name>:<backend_configuration>". An empty backend name selects the
// first registered backend.
//
// It panics if no backend was registered, or if the named backend is unknown.
func NewWithConfig(config string) (Backend, error) {
	if len(registeredConstructors) == 0 {
		exceptions.Panicf(`no registered backends for PrimPool -- maybe import the default pure Go one with import _ "github.com/primpool/primpool/backends/simplego"?`)
	}
	backendName := firstRegistered
	backendConfig := config
	if idx := strings.Index(config, ":"); idx != -1 {
		backendName = config[:idx]
		backendConfig = config[idx+1:]
	} else if config != "" {
		backendName = config
		backendConfig = ""
	}
	constructor, found := registeredConstructors[backendName]
	if !found {
		exceptions.Panicf("can't find backend %q for configuration %q given", backendName, config)
	}
	return constructor(backendConfig)
}
