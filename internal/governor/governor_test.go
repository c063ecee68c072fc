package governor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bao243092078-crypto/memory-anchor/internal/kernelerr"
	"github.com/bao243092078-crypto/memory-anchor/internal/model"
	registrymetadata "github.com/bao243092078-crypto/memory-anchor/internal/registry/metadata"
)

// fakeIdentityStore is an in-memory MetadataStore good enough to exercise
// the Governor's propose/approve/commit flow under real concurrent
// goroutines. Every method takes the same mutex a real backend's row lock
// would take, so the optimistic-lock guards in AppendIdentityApproval and
// TryLock are exercised against genuine interleavings rather than a
// single-goroutine fake.
type fakeIdentityStore struct {
	registrymetadata.MetadataStore

	mu      sync.Mutex
	changes map[uuid.UUID]model.IdentityChange
}

func newFakeIdentityStore() *fakeIdentityStore {
	return &fakeIdentityStore{changes: map[uuid.UUID]model.IdentityChange{}}
}

func (f *fakeIdentityStore) Name() string { return "fake" }

func (f *fakeIdentityStore) InsertIdentityChange(ctx context.Context, c model.IdentityChange) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changes[c.ChangeID] = c
	return nil
}

func (f *fakeIdentityStore) GetIdentityChange(ctx context.Context, changeID uuid.UUID) (model.IdentityChange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.changes[changeID]
	if !ok {
		return model.IdentityChange{}, registrymetadata.ErrNoRow
	}
	return c, nil
}

// AppendIdentityApproval mirrors the sqlite/postgres backends' guard: a
// vote is only accepted while status is still pending and approvals_count
// hasn't already reached approvalsNeeded, mutex-serialized here the way a
// row lock serializes the real UPDATE.
func (f *fakeIdentityStore) AppendIdentityApproval(ctx context.Context, changeID uuid.UUID, a model.Approval, approvalsNeeded int) (model.IdentityChange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.changes[changeID]
	if !ok {
		return model.IdentityChange{}, registrymetadata.ErrNoRow
	}
	if c.Status != model.IdentityStatusPending || c.ApprovalsCount >= approvalsNeeded {
		return model.IdentityChange{}, registrymetadata.ErrNoRow
	}
	for _, existing := range c.Approvals {
		if existing.Approver == a.Approver {
			return model.IdentityChange{}, registrymetadata.ErrNoRow
		}
	}
	c.Approvals = append(append([]model.Approval{}, c.Approvals...), a)
	c.ApprovalsCount = len(c.Approvals)
	c.UpdatedAt = a.Timestamp
	f.changes[changeID] = c
	return c, nil
}

func (f *fakeIdentityStore) TryLock(ctx context.Context, table string, id uuid.UUID, expectedStatus, newStatus string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.changes[id]
	if !ok || string(c.Status) != expectedStatus {
		return registrymetadata.ErrNoRow
	}
	c.Status = model.IdentityChangeStatus(newStatus)
	f.changes[id] = c
	return nil
}

func (f *fakeIdentityStore) Unlock(ctx context.Context, table string, id uuid.UUID, backToStatus string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.changes[id]
	if !ok {
		return registrymetadata.ErrNoRow
	}
	c.Status = model.IdentityChangeStatus(backToStatus)
	f.changes[id] = c
	return nil
}

type noopEventSink struct{}

func (noopEventSink) Emit(name string, payload map[string]interface{}) {}

func newTestGovernor(store *fakeIdentityStore, commits *int64) *Governor {
	commit := func(ctx context.Context, change model.IdentityChange) error {
		atomic.AddInt64(commits, 1)
		return nil
	}
	return New(store, 3, commit, noopEventSink{})
}

func proposeChange(t *testing.T, g *Governor) model.IdentityChange {
	t.Helper()
	change, err := g.Propose(context.Background(), model.IdentityChange{
		ChangeType:      model.ChangeCreate,
		ProposedContent: "the project is named memory-anchor",
		Category:        "naming",
	})
	require.NoError(t, err)
	return change
}

// TestApproveThreeDistinctApproversCommits: the first two
// approvals leave the change pending, the third reaches quorum and drives
// it through to applied with the dual-store commit invoked exactly once.
func TestApproveThreeDistinctApproversCommits(t *testing.T) {
	store := newFakeIdentityStore()
	var commits int64
	g := newTestGovernor(store, &commits)
	change := proposeChange(t, g)

	updated, err := g.Approve(context.Background(), change.ChangeID, "alice", "")
	require.NoError(t, err)
	assert.Equal(t, model.IdentityStatusPending, updated.Status)
	assert.Equal(t, 1, updated.ApprovalsCount)

	updated, err = g.Approve(context.Background(), change.ChangeID, "bob", "")
	require.NoError(t, err)
	assert.Equal(t, model.IdentityStatusPending, updated.Status)
	assert.Equal(t, 2, updated.ApprovalsCount)

	updated, err = g.Approve(context.Background(), change.ChangeID, "carol", "")
	require.NoError(t, err)
	assert.Equal(t, model.IdentityStatusApplied, updated.Status)
	assert.Equal(t, 3, updated.ApprovalsCount)
	assert.NotNil(t, updated.AppliedAt)
	assert.EqualValues(t, 1, atomic.LoadInt64(&commits))
}

// TestApproveDuplicateApproverRejected covers the Governance invariant: the
// same approver cannot vote twice on a change.
func TestApproveDuplicateApproverRejected(t *testing.T) {
	store := newFakeIdentityStore()
	var commits int64
	g := newTestGovernor(store, &commits)
	change := proposeChange(t, g)

	_, err := g.Approve(context.Background(), change.ChangeID, "alice", "")
	require.NoError(t, err)

	_, err = g.Approve(context.Background(), change.ChangeID, "alice", "")
	require.Error(t, err)
	var govErr *kernelerr.Governance
	require.ErrorAs(t, err, &govErr)

	final, err := store.GetIdentityChange(context.Background(), change.ChangeID)
	require.NoError(t, err)
	assert.Equal(t, 1, final.ApprovalsCount)
}

// TestConcurrentApproversExactlyThreeSucceed: 10 distinct
// approvers racing the same change_id. Exactly one of them observes the
// change flip to applied; approvals_count never exceeds approvalsNeeded
// even though every goroutine races AppendIdentityApproval concurrently.
func TestConcurrentApproversExactlyThreeSucceed(t *testing.T) {
	store := newFakeIdentityStore()
	var commits int64
	g := newTestGovernor(store, &commits)
	change := proposeChange(t, g)

	const approvers = 10
	var wg sync.WaitGroup
	var applied, notApplied int64

	for i := 0; i < approvers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			approver := "approver-" + string(rune('a'+n))
			updated, err := g.Approve(context.Background(), change.ChangeID, approver, "")
			if err == nil && updated.Status == model.IdentityStatusApplied {
				atomic.AddInt64(&applied, 1)
				return
			}
			atomic.AddInt64(&notApplied, 1)
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, applied, "exactly one approver should observe the applied commit")
	assert.EqualValues(t, approvers-1, notApplied, "every other approver either loses the race or is a no-op past quorum")
	assert.EqualValues(t, 1, atomic.LoadInt64(&commits), "the dual-store commit runs exactly once")

	final, err := store.GetIdentityChange(context.Background(), change.ChangeID)
	require.NoError(t, err)
	assert.Equal(t, model.IdentityStatusApplied, final.Status)
	assert.Equal(t, 3, final.ApprovalsCount, "approvals_count never exceeds quorum even under a 10-way race")
	assert.LessOrEqual(t, len(final.Approvals), 3)
}
