package snapshot

import (
	"bytes"
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bao243092078-crypto/memory-anchor/internal/config"
	"github.com/bao243092078-crypto/memory-anchor/internal/kernel"
	registrymetadata "github.com/bao243092078-crypto/memory-anchor/internal/registry/metadata"
	registryvector "github.com/bao243092078-crypto/memory-anchor/internal/registry/vector"
)

type fakeVectorStore struct {
	points map[uuid.UUID]registryvector.Point
}

func newFakeVectorStore() *fakeVectorStore {
	return &fakeVectorStore{points: map[uuid.UUID]registryvector.Point{}}
}

func (f *fakeVectorStore) EnsureCollection(ctx context.Context, name string, dim int) error {
	return nil
}
func (f *fakeVectorStore) Upsert(ctx context.Context, name string, p registryvector.Point) error {
	f.points[p.ID] = p
	return nil
}
func (f *fakeVectorStore) BatchUpsert(ctx context.Context, name string, points []registryvector.Point) []registryvector.PointError {
	for _, p := range points {
		f.points[p.ID] = p
	}
	return nil
}
func (f *fakeVectorStore) Search(ctx context.Context, name string, qv []float32, k int, filter registryvector.Filter) ([]registryvector.SearchHit, error) {
	return nil, nil
}
func (f *fakeVectorStore) Scroll(ctx context.Context, name string, filter registryvector.Filter, cursor string, pageSize int) (registryvector.ScrollPage, error) {
	var pts []registryvector.Point
	for _, p := range f.points {
		pts = append(pts, p)
	}
	return registryvector.ScrollPage{Points: pts}, nil
}
func (f *fakeVectorStore) Get(ctx context.Context, name string, id uuid.UUID) (registryvector.Point, error) {
	p, ok := f.points[id]
	if !ok {
		return registryvector.Point{}, registryvector.ErrPointNotFound
	}
	return p, nil
}
func (f *fakeVectorStore) UpdatePayload(ctx context.Context, name string, id uuid.UUID, partial map[string]interface{}) error {
	return nil
}
func (f *fakeVectorStore) Delete(ctx context.Context, name string, id uuid.UUID) error {
	delete(f.points, id)
	return nil
}
func (f *fakeVectorStore) Ping(ctx context.Context) error { return nil }
func (f *fakeVectorStore) Name() string                   { return "fake" }

type fakeEmbedder struct{ dim int }

func (e *fakeEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, e.dim)
	}
	return out, nil
}
func (e *fakeEmbedder) ModelName() string { return "fake" }
func (e *fakeEmbedder) Dimension() int    { return e.dim }

// fakeMetadataStore satisfies registrymetadata.MetadataStore with panics on
// every method: AddMemory's auto-save path (the only one these tests
// exercise) never touches the metadata store (the dual-store write
// keeps active-memory data in the vector store only).
type fakeMetadataStore struct{ registrymetadata.MetadataStore }

func newTestKernel(t *testing.T, vec *fakeVectorStore) *kernel.Kernel {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.ProjectID = "snaptest"
	cfg.VectorDim = 4
	k, err := kernel.New(cfg, vec, fakeMetadataStore{}, &fakeEmbedder{dim: cfg.VectorDim})
	require.NoError(t, err)
	return k
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	vec := newFakeVectorStore()
	k := newTestKernel(t, vec)

	_, err := k.AddMemory(ctx, kernel.AddMemoryRequest{
		Content: "the staging db is postgres 15", Layer: "verified_fact",
		Confidence: 0.95, CreatedBy: "agent-1",
	})
	require.NoError(t, err)
	require.Len(t, vec.points, 1)

	var buf bytes.Buffer
	n, err := Export(ctx, k, &buf)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	vec2 := newFakeVectorStore()
	k2 := newTestKernel(t, vec2)
	n2, err := Import(ctx, k2, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 1, n2)
	assert.Len(t, vec2.points, 1)

	n3, err := Import(ctx, k2, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 1, n3)
	assert.Len(t, vec2.points, 1)
}

func TestVectorEncodeDecodeRoundTrip(t *testing.T) {
	in := []float32{0.1, -0.25, 3.5, 0}
	encoded := encodeVector(in)
	out, err := decodeVector(encoded)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
