package kernel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingVectorStore counts EnsureCollection calls, which run exactly once
// per Kernel construction.
type countingVectorStore struct {
	fakeVectorStore
	ensures atomic.Int32
}

func (c *countingVectorStore) EnsureCollection(ctx context.Context, name string, dim int) error {
	c.ensures.Add(1)
	return c.fakeVectorStore.EnsureCollection(ctx, name, dim)
}

func TestGetKernelConcurrentFirstCallsConstructOnce(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	vec := &countingVectorStore{fakeVectorStore: *newFakeVectorStore()}
	cfg := testConfig()
	deps := Deps{Config: cfg, Vector: vec, Metadata: newFakeMetadataStore(), Embedder: &fakeEmbedder{dim: cfg.VectorDim}}

	const n = 16
	kernels := make([]*Kernel, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			k, err := GetKernel(deps)
			assert.NoError(t, err)
			kernels[i] = k
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), vec.ensures.Load())
	for i := 1; i < n; i++ {
		assert.Same(t, kernels[0], kernels[i])
	}
}

// failingVectorStore fails EnsureCollection so Kernel construction errors.
type failingVectorStore struct {
	fakeVectorStore
	fail atomic.Bool
}

func (f *failingVectorStore) EnsureCollection(ctx context.Context, name string, dim int) error {
	if f.fail.Load() {
		return errors.New("vector store unreachable")
	}
	return f.fakeVectorStore.EnsureCollection(ctx, name, dim)
}

func TestGetKernelConstructionFailureDoesNotPoisonSingleton(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	vec := &failingVectorStore{fakeVectorStore: *newFakeVectorStore()}
	vec.fail.Store(true)
	cfg := testConfig()
	deps := Deps{Config: cfg, Vector: vec, Metadata: newFakeMetadataStore(), Embedder: &fakeEmbedder{dim: cfg.VectorDim}}

	_, err := GetKernel(deps)
	require.Error(t, err)

	vec.fail.Store(false)
	k, err := GetKernel(deps)
	require.NoError(t, err)
	assert.NotNil(t, k)
}
