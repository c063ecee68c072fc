package eventlog

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bao243092078-crypto/memory-anchor/internal/config"
	"github.com/bao243092078-crypto/memory-anchor/internal/kernel"
	"github.com/bao243092078-crypto/memory-anchor/internal/model"
	registrymetadata "github.com/bao243092078-crypto/memory-anchor/internal/registry/metadata"
	registryvector "github.com/bao243092078-crypto/memory-anchor/internal/registry/vector"
)

// fakeVectorStore is a minimal in-memory VectorStore sufficient to drive
// LogEvent/PromoteToFact without a real backend.
type fakeVectorStore struct {
	points map[uuid.UUID]registryvector.Point
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
func (f *fakeVectorStore) Search(ctx context.Context, name string, queryVector []float32, k int, filter registryvector.Filter) ([]registryvector.SearchHit, error) {
	var hits []registryvector.SearchHit
	for _, p := range f.points {
		hits = append(hits, registryvector.SearchHit{ID: p.ID, Score: 0.9, Payload: p.Payload})
	}
	return hits, nil
}
func (f *fakeVectorStore) Scroll(ctx context.Context, name string, filter registryvector.Filter, cursor string, pageSize int) (registryvector.ScrollPage, error) {
	var pts []registryvector.Point
	for _, p := range f.points {
		if filter.IsEmpty() || matchesLayer(filter, p.Payload) {
			pts = append(pts, p)
		}
	}
	return registryvector.ScrollPage{Points: pts}, nil
}
func matchesLayer(filter registryvector.Filter, payload registryvector.Payload) bool {
	for _, clause := range filter.Clauses {
		ok := true
		for _, p := range clause {
			if p.Field == "layer" && payload.Layer != p.Value.(string) {
				ok = false
			}
		}
		if ok {
			return true
		}
	}
	return false
}
func (f *fakeVectorStore) Get(ctx context.Context, name string, id uuid.UUID) (registryvector.Point, error) {
	p, ok := f.points[id]
	if !ok {
		return registryvector.Point{}, registryvector.ErrPointNotFound
	}
	return p, nil
}
func (f *fakeVectorStore) UpdatePayload(ctx context.Context, name string, id uuid.UUID, partial map[string]interface{}) error {
	p, ok := f.points[id]
	if !ok {
		return registrymetadata.ErrNoRow
	}
	if v, ok := partial["related_files"].(string); ok {
		var files []string
		if err := json.Unmarshal([]byte(v), &files); err == nil {
			p.Payload.RelatedFiles = files
		}
	}
	f.points[id] = p
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

func mustNewUUID() uuid.UUID { return uuid.New() }

// fakeMetadataStore implements only what LogEvent/PromoteToFact exercise
// (nothing, since both write at auto-save confidence); every other method
// panics so a test that needs it fails loudly rather than silently no-op.
type fakeMetadataStore struct{}

func (s *fakeMetadataStore) Migrate(ctx context.Context) error { return nil }
func (s *fakeMetadataStore) InsertPending(ctx context.Context, p model.PendingMemory) error {
	panic("not exercised")
}
func (s *fakeMetadataStore) GetPending(ctx context.Context, id uuid.UUID) (model.PendingMemory, error) {
	panic("not exercised")
}
func (s *fakeMetadataStore) ListPending(ctx context.Context, status model.PendingStatus) ([]model.PendingMemory, error) {
	panic("not exercised")
}
func (s *fakeMetadataStore) DeletePending(ctx context.Context, id uuid.UUID) error {
	panic("not exercised")
}
func (s *fakeMetadataStore) AppendApproval(ctx context.Context, id uuid.UUID, a model.Approval) (model.PendingMemory, error) {
	panic("not exercised")
}
func (s *fakeMetadataStore) InsertIdentityChange(ctx context.Context, c model.IdentityChange) error {
	panic("not exercised")
}
func (s *fakeMetadataStore) GetIdentityChange(ctx context.Context, changeID uuid.UUID) (model.IdentityChange, error) {
	panic("not exercised")
}
func (s *fakeMetadataStore) ListIdentityChanges(ctx context.Context, status model.IdentityChangeStatus) ([]model.IdentityChange, error) {
	panic("not exercised")
}
func (s *fakeMetadataStore) AppendIdentityApproval(ctx context.Context, changeID uuid.UUID, a model.Approval, approvalsNeeded int) (model.IdentityChange, error) {
	panic("not exercised")
}
func (s *fakeMetadataStore) TryLock(ctx context.Context, table string, id uuid.UUID, expectedStatus, newStatus string) error {
	return nil
}
func (s *fakeMetadataStore) Unlock(ctx context.Context, table string, id uuid.UUID, backToStatus string) error {
	return nil
}
func (s *fakeMetadataStore) ScanStuckProcessing(ctx context.Context) (int, error) { return 0, nil }
func (s *fakeMetadataStore) InsertChecklistItem(ctx context.Context, item model.ChecklistItem) error {
	panic("not exercised")
}
func (s *fakeMetadataStore) UpdateChecklistItem(ctx context.Context, id uuid.UUID, patch registrymetadata.ChecklistPatch) (model.ChecklistItem, error) {
	panic("not exercised")
}
func (s *fakeMetadataStore) DeleteChecklistItem(ctx context.Context, id uuid.UUID) error {
	panic("not exercised")
}
func (s *fakeMetadataStore) GetChecklistItem(ctx context.Context, id uuid.UUID) (model.ChecklistItem, error) {
	panic("not exercised")
}
func (s *fakeMetadataStore) ListChecklistItems(ctx context.Context, projectID string, filter registrymetadata.ChecklistFilter) ([]model.ChecklistItem, error) {
	panic("not exercised")
}
func (s *fakeMetadataStore) ArchiveSession(ctx context.Context, st model.SessionState, summary string) error {
	panic("not exercised")
}
func (s *fakeMetadataStore) Ping(ctx context.Context) error { return nil }
func (s *fakeMetadataStore) Name() string                   { return "fake" }

func newTestKernelForEventlog(t *testing.T) *kernel.Kernel {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.ProjectID = "test"
	cfg.VectorDim = 8
	cfg.MinSearchScore = 0.1
	vec := &fakeVectorStore{points: map[uuid.UUID]registryvector.Point{}}
	k, err := kernel.New(cfg, vec, &fakeMetadataStore{}, &fakeEmbedder{dim: cfg.VectorDim})
	require.NoError(t, err)
	return k
}

func TestLogEventWritesEventLogLayer(t *testing.T) {
	k := newTestKernelForEventlog(t)
	l := New(k)

	res, err := l.LogEvent(context.Background(), LogEventRequest{
		Content: "deployed service to staging", Where: "us-east-1", Who: []string{"agent-1"}, SourceID: "agent-1",
	})
	require.NoError(t, err)
	assert.False(t, res.Pending)
	assert.Equal(t, model.LayerEventLog, res.Layer)
}

func TestPromoteToFactIsIdempotent(t *testing.T) {
	k := newTestKernelForEventlog(t)
	l := New(k)
	ctx := context.Background()

	logged, err := l.LogEvent(ctx, LogEventRequest{Content: "the migration finished clean", SourceID: "agent-1"})
	require.NoError(t, err)

	first, err := l.PromoteToFact(ctx, logged.ID, "reviewer-1")
	require.NoError(t, err)
	assert.Equal(t, model.LayerVerifiedFact, first.Layer)

	second, err := l.PromoteToFact(ctx, logged.ID, "reviewer-2")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestPromoteToFactUnknownEventNotFound(t *testing.T) {
	k := newTestKernelForEventlog(t)
	l := New(k)
	_, err := l.PromoteToFact(context.Background(), mustNewUUID(), "reviewer-1")
	require.Error(t, err)
}
