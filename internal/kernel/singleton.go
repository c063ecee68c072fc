package kernel

import (
	"sync"
	"sync/atomic"

	"github.com/bao243092078-crypto/memory-anchor/internal/config"
	"github.com/bao243092078-crypto/memory-anchor/internal/observability"
	registryembed "github.com/bao243092078-crypto/memory-anchor/internal/registry/embed"
	registrymetadata "github.com/bao243092078-crypto/memory-anchor/internal/registry/metadata"
	registryvector "github.com/bao243092078-crypto/memory-anchor/internal/registry/vector"
)

// kernelPtr holds the process-wide Kernel singleton. A construction failure
// must not poison it: the pointer stays nil and the error is not
// cached, so the next GetKernel call retries construction from scratch.
var kernelPtr atomic.Pointer[Kernel]

// constructMu serializes concurrent construction attempts so two goroutines
// racing GetKernel don't both build and discard a Kernel; it is not held
// while a Kernel is in use.
var constructMu sync.Mutex

// Deps are the loaded collaborators GetKernel assembles a Kernel from; the
// caller resolves them from the registries and config.Resolve once at
// process start and passes the same value on every call.
type Deps struct {
	Config   config.Config
	Vector   registryvector.VectorStore
	Metadata registrymetadata.MetadataStore
	Embedder registryembed.Embedder
}

// GetKernel returns the process singleton, constructing it on first call
// (or after a prior construction failure) via the classic double-checked
// atomic-pointer pattern. Concurrent callers during construction block on
// constructMu rather than racing duplicate builds.
func GetKernel(deps Deps) (*Kernel, error) {
	if k := kernelPtr.Load(); k != nil {
		return k, nil
	}

	constructMu.Lock()
	defer constructMu.Unlock()

	if k := kernelPtr.Load(); k != nil {
		return k, nil
	}

	k, err := New(deps.Config, deps.Vector, deps.Metadata, deps.Embedder)
	if err != nil {
		return nil, err
	}

	observability.KernelSingletonInits.Inc()
	kernelPtr.Store(k)
	return k, nil
}

// ResetForTest clears the singleton so the next GetKernel call constructs a
// fresh Kernel. Callers must ensure no outstanding AddMemory/SearchMemory
// calls are in flight against the old Kernel before calling this; it takes
// no drain lock of its own since only test code built against a single
// goroutine is expected to call it.
func ResetForTest() {
	constructMu.Lock()
	defer constructMu.Unlock()
	kernelPtr.Store(nil)
}
