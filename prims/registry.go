// Copyright 2026 The PrimPool Authors. SPDX-License-Identifier: Apache-2.0

// Package prims memoizes expensive-to-construct compute kernels.
//
// Constructing a kernel -- selecting an execution plan and allocating descriptors and
// scratch layouts for one specific combination of shapes and hyperparameters -- costs
// far more than running it, and training loops request the same combinations every
// iteration. A Registry is a get-or-create cache from the full parameter signature to
// the constructed kernel: at most one live kernel exists per distinct parameter key
// for the life of the registry.
//
// An Engine bundles one Registry per operation kind for a single element type, backed
// by a single backends.Backend, and exposes the per-kind factory entry points. Engines
// are plain values owned by whoever drives the computation; there is no hidden global
// state, and Reset gives tests a clean slate.
package prims

import (
	"slices"
	"sync"

	"github.com/pkg/errors"
	"github.com/primpool/primpool/backends"
	"golang.org/x/exp/maps"
	"k8s.io/klog/v2"
)

// BuildFn constructs a kernel for the given parameters. It is expected to either run
// to completion or fail outright; there are no partial results.
type BuildFn[P backends.Params, K backends.Kernel] func(params P) (K, error)

// Registry is the single authority, per operation kind and element type, for
// get-or-create access to kernels.
//
// Entries are never removed in the default configuration: training workloads reuse a
// small bounded set of shapes, so the map stays small and a hit is a map lookup. Use
// SetMaxEntries to opt into least-recently-used eviction when the workload's shape set
// is unbounded.
//
// All methods are safe for concurrent use. The read-then-insert sequence of Get runs
// under a single lock, so two goroutines asking for the same key can never construct
// the kernel twice.
type Registry[P backends.Params, K backends.Kernel] struct {
	kind  backends.OpKind
	build BuildFn[P, K]

	mu         sync.Mutex
	entries    map[string]*registryEntry[K]
	maxEntries int // <= 0 means unbounded.
	tick       uint64

	hits, misses, evictions uint64
}

type registryEntry[K backends.Kernel] struct {
	kernel  K
	lastUse uint64
}

// NewRegistry creates an empty, unbounded registry for the given operation kind,
// delegating construction to build.
func NewRegistry[P backends.Params, K backends.Kernel](kind backends.OpKind, build BuildFn[P, K]) *Registry[P, K] {
	return &Registry[P, K]{
		kind:    kind,
		build:   build,
		entries: make(map[string]*registryEntry[K]),
	}
}

// Kind returns the operation kind this registry serves.
func (r *Registry[P, K]) Kind() backends.OpKind { return r.kind }

// SetMaxEntries bounds the registry to at most maxEntries kernels, evicting the least
// recently used entry on overflow. maxEntries <= 0 restores the default unbounded
// behavior. Evicted kernels are finalized.
//
// It returns the registry so calls can be cascaded.
func (r *Registry[P, K]) SetMaxEntries(maxEntries int) *Registry[P, K] {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maxEntries = maxEntries
	for r.maxEntries > 0 && len(r.entries) > r.maxEntries {
		r.evictOldestLocked()
	}
	return r
}

// Get returns the kernel for params, constructing and registering one if no kernel
// with an equal parameter key exists yet.
//
// On a hit no construction happens and the registry is not mutated. On a miss the
// kernel is built while holding the registry lock and inserted before Get returns.
// If construction fails, nothing is inserted, the registry keeps its prior state, and
// the error identifies the operation kind and offending parameters.
func (r *Registry[P, K]) Get(params P) (K, error) {
	var zero K
	if err := params.Validate(); err != nil {
		return zero, errors.WithMessagef(err, "invalid %s parameters", r.kind)
	}
	key := params.CacheKey()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tick++
	if entry, found := r.entries[key]; found {
		r.hits++
		entry.lastUse = r.tick
		klog.V(2).Infof("prims: reusing %s kernel for {%s}", r.kind, key)
		return entry.kernel, nil
	}

	kernel, err := r.build(params)
	if err != nil {
		return zero, errors.WithMessagef(err, "building %s kernel for {%s}", r.kind, params)
	}
	if r.maxEntries > 0 && len(r.entries) >= r.maxEntries {
		r.evictOldestLocked()
	}
	r.entries[key] = &registryEntry[K]{kernel: kernel, lastUse: r.tick}
	r.misses++
	klog.V(2).Infof("prims: created %s kernel for {%s}", r.kind, key)
	return kernel, nil
}

// evictOldestLocked drops and finalizes the least recently used entry.
// A linear scan is fine here: bounded registries are expected to stay small.
func (r *Registry[P, K]) evictOldestLocked() {
	var oldestKey string
	oldestUse := r.tick + 1
	for key, entry := range r.entries {
		if entry.lastUse < oldestUse {
			oldestUse = entry.lastUse
			oldestKey = key
		}
	}
	entry := r.entries[oldestKey]
	delete(r.entries, oldestKey)
	entry.kernel.Finalize()
	r.evictions++
	klog.V(2).Infof("prims: evicted %s kernel for {%s}", r.kind, oldestKey)
}

// Len returns the number of cached kernels.
func (r *Registry[P, K]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Keys returns the cache keys of all live entries, sorted, for inspection and tests.
func (r *Registry[P, K]) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := maps.Keys(r.entries)
	slices.Sort(keys)
	return keys
}

// Stats is a snapshot of one registry's counters.
type Stats struct {
	Kind      backends.OpKind
	Entries   int
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// Stats returns a snapshot of the registry's counters.
func (r *Registry[P, K]) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		Kind:      r.kind,
		Entries:   len(r.entries),
		Hits:      r.hits,
		Misses:    r.misses,
		Evictions: r.evictions,
	}
}

// Reset finalizes every cached kernel and empties the registry. Counters are also
// zeroed. Kernels previously returned by Get become invalid.
//
// Meant for test isolation and for explicit teardown; it is not part of the steady
// state protocol, which never removes entries.
func (r *Registry[P, K]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, entry := range r.entries {
		entry.kernel.Finalize()
	}
	r.entries = make(map[string]*registryEntry[K])
	r.hits, r.misses, r.evictions = 0, 0, 0
	r.tick = 0
}
