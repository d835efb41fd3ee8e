package prims

import (
	"math/rand"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/primpool/primpool/backends"
	"github.com/primpool/primpool/types/shapes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// fakeKernel stands in for a backend-built kernel, recording its parameters and
// whether it was finalized.
type fakeKernel struct {
	params    backends.EltwiseParams
	finalized bool
}

func (k *fakeKernel) OpKind() backends.OpKind { return backends.OpKindEltwiseForward }
func (k *fakeKernel) Finalize()               { k.finalized = true }

// newCountingRegistry returns a registry whose builder counts constructions and fails
// for any params with a negative Alpha.
func newCountingRegistry(builds *atomic.Int64) *Registry[backends.EltwiseParams, *fakeKernel] {
	return NewRegistry(backends.OpKindEltwiseForward,
		func(p backends.EltwiseParams) (*fakeKernel, error) {
			if p.Alpha < 0 {
				return nil, errors.Errorf("unsupported alpha %v", p.Alpha)
			}
			builds.Add(1)
			return &fakeKernel{params: p}, nil
		})
}

func eltwiseParams(dims ...int) backends.EltwiseParams {
	return backends.EltwiseParams{X: shapes.MakeDims(dims...), Algo: backends.EltwiseReLU}
}

func TestRegistryIdempotentReuse(t *testing.T) {
	var builds atomic.Int64
	r := newCountingRegistry(&builds)

	k1, err := r.Get(eltwiseParams(32, 128))
	require.NoError(t, err)
	k2, err := r.Get(eltwiseParams(32, 128))
	require.NoError(t, err)

	assert.Same(t, k1, k2, "repeated identical calls must return the same kernel object")
	assert.Equal(t, int64(1), builds.Load(), "no second construction on a hit")

	stats := r.Stats()
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, 1, stats.Entries)
}

func TestRegistryKeyDiscrimination(t *testing.T) {
	var builds atomic.Int64
	r := newCountingRegistry(&builds)

	p1 := eltwiseParams(32, 128)
	p2 := eltwiseParams(32, 128)
	p2.Alpha = 0.1 // Differs in exactly one field.

	k1, err := r.Get(p1)
	require.NoError(t, err)
	k2, err := r.Get(p2)
	require.NoError(t, err)

	assert.NotSame(t, k1, k2)
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, int64(2), builds.Load())
}

func TestRegistryConstructionFailureIsolation(t *testing.T) {
	var builds atomic.Int64
	r := newCountingRegistry(&builds)

	bad := eltwiseParams(8, 8)
	bad.Alpha = -1
	_, err := r.Get(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "eltwise_fwd")
	assert.Equal(t, 0, r.Len(), "failed construction must not insert an entry")

	// A valid, previously-unseen key still succeeds and adds exactly one entry.
	_, err = r.Get(eltwiseParams(8, 8))
	require.NoError(t, err)
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, int64(1), builds.Load())

	// The failing key keeps failing, without disturbing the cached entry.
	_, err = r.Get(bad)
	require.Error(t, err)
	assert.Equal(t, 1, r.Len())
}

func TestRegistryInvalidParams(t *testing.T) {
	var builds atomic.Int64
	r := newCountingRegistry(&builds)

	_, err := r.Get(backends.EltwiseParams{X: shapes.Dims{-1, 4}, Algo: backends.EltwiseReLU})
	require.Error(t, err)
	assert.Equal(t, int64(0), builds.Load(), "invalid params must not reach the builder")
	assert.Equal(t, 0, r.Len())
}

func TestRegistryGrowthMonotonicity(t *testing.T) {
	var builds atomic.Int64
	r := newCountingRegistry(&builds)

	const n = 37
	params := make([]backends.EltwiseParams, n)
	for i := range params {
		params[i] = eltwiseParams(1, i+1)
	}
	for _, p := range params {
		_, err := r.Get(p)
		require.NoError(t, err)
	}
	assert.Equal(t, n, r.Len())

	// Replaying the same keys in any order must not grow the registry.
	rng := rand.New(rand.NewSource(42))
	for _, i := range rng.Perm(n) {
		_, err := r.Get(params[i])
		require.NoError(t, err)
	}
	assert.Equal(t, n, r.Len())
	assert.Equal(t, int64(n), builds.Load())
	assert.Len(t, r.Keys(), n)
}

func TestRegistryLRUEviction(t *testing.T) {
	var builds atomic.Int64
	r := newCountingRegistry(&builds).SetMaxEntries(2)

	a, err := r.Get(eltwiseParams(1, 1))
	require.NoError(t, err)
	_, err = r.Get(eltwiseParams(1, 2))
	require.NoError(t, err)

	// Touch a so that b is the least recently used.
	_, err = r.Get(eltwiseParams(1, 1))
	require.NoError(t, err)

	_, err = r.Get(eltwiseParams(1, 3))
	require.NoError(t, err)
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, uint64(1), r.Stats().Evictions)
	assert.False(t, a.finalized, "recently used entry must survive")

	// a must still be cached: getting it again is a hit, not a rebuild.
	before := builds.Load()
	a2, err := r.Get(eltwiseParams(1, 1))
	require.NoError(t, err)
	assert.Same(t, a, a2)
	assert.Equal(t, before, builds.Load())

	// b was evicted and finalized; asking for it again rebuilds.
	_, err = r.Get(eltwiseParams(1, 2))
	require.NoError(t, err)
	assert.Equal(t, before+1, builds.Load())
}

func TestRegistryConcurrentGet(t *testing.T) {
	var builds atomic.Int64
	r := newCountingRegistry(&builds)

	const goroutines = 32
	kernels := make([]*fakeKernel, goroutines)
	var group errgroup.Group
	for i := 0; i < goroutines; i++ {
		group.Go(func() error {
			k, err := r.Get(eltwiseParams(16, 16))
			kernels[i] = k
			return err
		})
	}
	require.NoError(t, group.Wait())

	assert.Equal(t, int64(1), builds.Load(), "concurrent gets for one key must construct once")
	for _, k := range kernels {
		assert.Same(t, kernels[0], k)
	}
	assert.Equal(t, 1, r.Len())
}

func TestRegistryReset(t *testing.T) {
	var builds atomic.Int64
	r := newCountingRegistry(&builds)

	k1, err := r.Get(eltwiseParams(2, 2))
	require.NoError(t, err)
	_, err = r.Get(eltwiseParams(3, 3))
	require.NoError(t, err)

	r.Reset()
	assert.Equal(t, 0, r.Len())
	assert.True(t, k1.finalized)
	assert.Equal(t, Stats{Kind: backends.OpKindEltwiseForward}, r.Stats())
}
