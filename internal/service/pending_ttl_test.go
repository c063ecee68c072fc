package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bao243092078-crypto/memory-anchor/internal/config"
	"github.com/bao243092078-crypto/memory-anchor/internal/kernel"
	"github.com/bao243092078-crypto/memory-anchor/internal/model"
	registrymetadata "github.com/bao243092078-crypto/memory-anchor/internal/registry/metadata"
	registryvector "github.com/bao243092078-crypto/memory-anchor/internal/registry/vector"
)

// fakeVectorStore is an in-memory VectorStore evaluating just enough of the
// filter DSL (is_active eq, expires_at range) to drive the TTL sweep.
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
	panic("not exercised")
}
func (f *fakeVectorStore) Scroll(ctx context.Context, name string, filter registryvector.Filter, cursor string, pageSize int) (registryvector.ScrollPage, error) {
	var pts []registryvector.Point
	for _, p := range f.points {
		if filter.IsEmpty() || matchesFilter(filter, p.Payload) {
			pts = append(pts, p)
		}
	}
	return registryvector.ScrollPage{Points: pts}, nil
}
func matchesFilter(filter registryvector.Filter, payload registryvector.Payload) bool {
	for _, clause := range filter.Clauses {
		if clauseMatches(clause, payload) {
			return true
		}
	}
	return false
}
func clauseMatches(clause []registryvector.Predicate, payload registryvector.Payload) bool {
	for _, p := range clause {
		switch p.Field {
		case "is_active":
			if payload.IsActive != p.Value.(bool) {
				return false
			}
		case "expires_at":
			if payload.ExpiresAt == nil {
				return false
			}
			if p.Lte != nil && *payload.ExpiresAt > p.Lte.(int64) {
				return false
			}
		}
	}
	return true
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
	if v, ok := partial["is_active"].(bool); ok {
		p.Payload.IsActive = v
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

// fakeMetadataStore answers the pending-row and stuck-processing calls the
// background sweeps make; every other method panics so a misuse fails loudly.
type fakeMetadataStore struct {
	stuck    int
	pending  map[uuid.UUID]model.PendingMemory
	identity map[uuid.UUID]model.IdentityChange
}

func (s *fakeMetadataStore) Migrate(ctx context.Context) error { return nil }
func (s *fakeMetadataStore) InsertPending(ctx context.Context, p model.PendingMemory) error {
	panic("not exercised")
}
func (s *fakeMetadataStore) GetPending(ctx context.Context, id uuid.UUID) (model.PendingMemory, error) {
	panic("not exercised")
}
func (s *fakeMetadataStore) ListPending(ctx context.Context, status model.PendingStatus) ([]model.PendingMemory, error) {
	var out []model.PendingMemory
	for _, p := range s.pending {
		if p.Status == status {
			out = append(out, p)
		}
	}
	return out, nil
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
	p, ok := s.pending[id]
	if !ok || string(p.Status) != expectedStatus {
		return registrymetadata.ErrNoRow
	}
	p.Status = model.PendingStatus(newStatus)
	s.pending[id] = p
	return nil
}
func (s *fakeMetadataStore) Unlock(ctx context.Context, table string, id uuid.UUID, backToStatus string) error {
	return nil
}
func (s *fakeMetadataStore) ScanStuckProcessing(ctx context.Context) (int, error) {
	n := s.stuck
	for id, p := range s.pending {
		if p.Status == model.PendingStatusProcessing {
			p.Status = model.PendingStatusPending
			s.pending[id] = p
			n++
		}
	}
	for id, c := range s.identity {
		if string(c.Status) == "processing" {
			c.Status = model.IdentityStatusPending
			s.identity[id] = c
			n++
		}
	}
	return n, nil
}
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

func newTestKernel(t *testing.T, meta *fakeMetadataStore) (*kernel.Kernel, *fakeVectorStore) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.ProjectID = "test"
	cfg.VectorDim = 8
	cfg.MinSearchScore = 0.1
	vec := &fakeVectorStore{points: map[uuid.UUID]registryvector.Point{}}
	k, err := kernel.New(cfg, vec, meta, &fakeEmbedder{dim: cfg.VectorDim})
	require.NoError(t, err)
	return k, vec
}

func TestPendingTTLSoftDeletesExpiredPoints(t *testing.T) {
	k, vec := newTestKernel(t, &fakeMetadataStore{})
	past := time.Now().UTC().Add(-time.Hour).Unix()
	future := time.Now().UTC().Add(time.Hour).Unix()

	expiredID := uuid.New()
	activeID := uuid.New()
	vec.points[expiredID] = registryvector.Point{
		ID: expiredID,
		Payload: registryvector.Payload{
			Content: "stale", Layer: "working_memory", IsActive: true, ExpiresAt: &past,
		},
	}
	vec.points[activeID] = registryvector.Point{
		ID: activeID,
		Payload: registryvector.Payload{
			Content: "fresh", Layer: "working_memory", IsActive: true, ExpiresAt: &future,
		},
	}

	svc := NewPendingTTLService(k)
	require.NoError(t, svc.runOnce(context.Background()))

	assert.False(t, vec.points[expiredID].Payload.IsActive)
	assert.True(t, vec.points[activeID].Payload.IsActive)
}

func TestPendingTTLReportsStuckProcessing(t *testing.T) {
	meta := &fakeMetadataStore{stuck: 2}
	k, _ := newTestKernel(t, meta)
	svc := NewPendingTTLService(k)
	require.NoError(t, svc.runOnce(context.Background()))
}

func TestRunRecoveryRevertsStuckRows(t *testing.T) {
	meta := &fakeMetadataStore{stuck: 1}
	k, _ := newTestKernel(t, meta)
	assert.NoError(t, RunRecovery(context.Background(), k))
}

func TestPendingTTLExpiresStalePendingRows(t *testing.T) {
	staleID, freshID := uuid.New(), uuid.New()
	meta := &fakeMetadataStore{pending: map[uuid.UUID]model.PendingMemory{
		staleID: {ID: staleID, Status: model.PendingStatusPending,
			CreatedAt: time.Now().UTC().Add(-60 * 24 * time.Hour)},
		freshID: {ID: freshID, Status: model.PendingStatusPending,
			CreatedAt: time.Now().UTC().Add(-time.Hour)},
	}}
	k, _ := newTestKernel(t, meta)
	svc := NewPendingTTLService(k)
	require.NoError(t, svc.runOnce(context.Background()))

	assert.Equal(t, model.PendingStatusExpired, meta.pending[staleID].Status)
	assert.Equal(t, model.PendingStatusPending, meta.pending[freshID].Status)
}

func TestRunRecoverySoftDeletesOrphanedPoints(t *testing.T) {
	orphanID := uuid.New()
	meta := &fakeMetadataStore{pending: map[uuid.UUID]model.PendingMemory{
		orphanID: {ID: orphanID, Status: model.PendingStatusRejected},
	}}
	k, vec := newTestKernel(t, meta)
	vec.points[orphanID] = registryvector.Point{
		ID:      orphanID,
		Payload: registryvector.Payload{Content: "half-committed", IsActive: true},
	}

	require.NoError(t, RunRecovery(context.Background(), k))
	assert.False(t, vec.points[orphanID].Payload.IsActive)
}

func TestRunRecoveryRevertsStuckIdentityChanges(t *testing.T) {
	stuckID, appliedID := uuid.New(), uuid.New()
	meta := &fakeMetadataStore{identity: map[uuid.UUID]model.IdentityChange{
		stuckID:   {ChangeID: stuckID, Status: model.IdentityChangeStatus("processing")},
		appliedID: {ChangeID: appliedID, Status: model.IdentityStatusApplied},
	}}
	k, _ := newTestKernel(t, meta)

	require.NoError(t, RunRecovery(context.Background(), k))

	assert.Equal(t, model.IdentityStatusPending, meta.identity[stuckID].Status)
	assert.Equal(t, model.IdentityStatusApplied, meta.identity[appliedID].Status)
}

func TestRunRecoveryRevertsStuckPendingMemories(t *testing.T) {
	stuckID := uuid.New()
	meta := &fakeMetadataStore{pending: map[uuid.UUID]model.PendingMemory{
		stuckID: {ID: stuckID, Status: model.PendingStatusProcessing},
	}}
	k, _ := newTestKernel(t, meta)

	require.NoError(t, RunRecovery(context.Background(), k))
	assert.Equal(t, model.PendingStatusPending, meta.pending[stuckID].Status)
}
