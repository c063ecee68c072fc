package checklist

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bao243092078-crypto/memory-anchor/internal/model"
	registrymetadata "github.com/bao243092078-crypto/memory-anchor/internal/registry/metadata"
)

// fakeMetadataStore backs only the checklist subset of MetadataStore;
// everything else panics so a misused test fails loudly.
type fakeMetadataStore struct {
	items map[uuid.UUID]model.ChecklistItem
}

func newFakeMetadataStore() *fakeMetadataStore {
	return &fakeMetadataStore{items: map[uuid.UUID]model.ChecklistItem{}}
}

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
	panic("not exercised")
}
func (s *fakeMetadataStore) Unlock(ctx context.Context, table string, id uuid.UUID, backToStatus string) error {
	panic("not exercised")
}
func (s *fakeMetadataStore) ScanStuckProcessing(ctx context.Context) (int, error) {
	panic("not exercised")
}

func (s *fakeMetadataStore) InsertChecklistItem(ctx context.Context, item model.ChecklistItem) error {
	s.items[item.ID] = item
	return nil
}
func (s *fakeMetadataStore) UpdateChecklistItem(ctx context.Context, id uuid.UUID, patch registrymetadata.ChecklistPatch) (model.ChecklistItem, error) {
	item, ok := s.items[id]
	if !ok {
		return model.ChecklistItem{}, registrymetadata.ErrNoRow
	}
	if patch.Content != nil {
		item.Content = *patch.Content
	}
	if patch.Status != nil {
		item.Status = *patch.Status
	}
	if patch.Priority != nil {
		item.Priority = *patch.Priority
	}
	if patch.Tags != nil {
		item.Tags = patch.Tags
	}
	s.items[id] = item
	return item, nil
}
func (s *fakeMetadataStore) DeleteChecklistItem(ctx context.Context, id uuid.UUID) error {
	delete(s.items, id)
	return nil
}
func (s *fakeMetadataStore) GetChecklistItem(ctx context.Context, id uuid.UUID) (model.ChecklistItem, error) {
	item, ok := s.items[id]
	if !ok {
		return model.ChecklistItem{}, registrymetadata.ErrNoRow
	}
	return item, nil
}
func (s *fakeMetadataStore) ListChecklistItems(ctx context.Context, projectID string, filter registrymetadata.ChecklistFilter) ([]model.ChecklistItem, error) {
	var out []model.ChecklistItem
	for _, item := range s.items {
		if item.ProjectID != projectID {
			continue
		}
		if filter.Status != "" && item.Status != filter.Status {
			continue
		}
		if filter.Scope != "" && item.Scope != filter.Scope {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}
func (s *fakeMetadataStore) ArchiveSession(ctx context.Context, st model.SessionState, summary string) error {
	panic("not exercised")
}
func (s *fakeMetadataStore) Ping(ctx context.Context) error { return nil }
func (s *fakeMetadataStore) Name() string                   { return "fake" }

func TestCreateDefaultsScopeAndPriority(t *testing.T) {
	e := New(newFakeMetadataStore())
	item, err := e.Create(context.Background(), CreateRequest{ProjectID: "p1", Content: "write tests"})
	require.NoError(t, err)
	assert.Equal(t, model.ScopeProject, item.Scope)
	assert.Equal(t, 3, item.Priority)
	assert.Equal(t, model.ChecklistOpen, item.Status)
}

func TestBriefingOrdersByPriorityThenAge(t *testing.T) {
	store := newFakeMetadataStore()
	e := New(store)
	ctx := context.Background()

	low, err := e.Create(ctx, CreateRequest{ProjectID: "p1", Content: "low priority", Priority: 5})
	require.NoError(t, err)
	high, err := e.Create(ctx, CreateRequest{ProjectID: "p1", Content: "high priority", Priority: 1})
	require.NoError(t, err)

	brief, err := e.Briefing(ctx, "p1", "", 12)
	require.NoError(t, err)
	highIdx := indexOf(brief, high.Content)
	lowIdx := indexOf(brief, low.Content)
	assert.True(t, highIdx < lowIdx, "higher priority item should appear first")
}

func TestSyncFromPlanUpdatesReferencedItemsOnly(t *testing.T) {
	store := newFakeMetadataStore()
	e := New(store)
	ctx := context.Background()

	item, err := e.Create(ctx, CreateRequest{ProjectID: "p1", Content: "ship the release"})
	require.NoError(t, err)

	plan := "- [x] Ship the release (ma:" + item.ShortID() + ")\n- [ ] untracked item with no reference\n"
	updated, err := e.SyncFromPlan(ctx, "p1", plan, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, updated)

	got, err := store.GetChecklistItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ChecklistDone, got.Status)
}

func TestSyncFromPlanIgnoresUnknownReferences(t *testing.T) {
	store := newFakeMetadataStore()
	e := New(store)
	updated, err := e.SyncFromPlan(context.Background(), "p1", "- [x] something (ma:deadbeef)\n", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, updated)
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
