package encrypt

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bao243092078-crypto/memory-anchor/internal/model"
	registrymetadata "github.com/bao243092078-crypto/memory-anchor/internal/registry/metadata"
)

// reverseProvider is a reversible, non-identity stand-in for a real cipher:
// it lets the tests assert that sealed content differs from plaintext and
// that reading it back through the decorator restores the original.
type reverseProvider struct{}

func (reverseProvider) ID() string { return "reverse" }
func (reverseProvider) Encrypt(plaintext []byte) ([]byte, error) {
	out := make([]byte, len(plaintext))
	for i, b := range plaintext {
		out[len(plaintext)-1-i] = b
	}
	return out, nil
}
func (reverseProvider) Decrypt(ciphertext []byte) ([]byte, error) {
	return reverseProvider{}.Encrypt(ciphertext)
}

type stubStore struct {
	pending map[uuid.UUID]model.PendingMemory
}

func newStubStore() *stubStore {
	return &stubStore{pending: map[uuid.UUID]model.PendingMemory{}}
}

func (s *stubStore) Migrate(ctx context.Context) error { return nil }
func (s *stubStore) InsertPending(ctx context.Context, p model.PendingMemory) error {
	s.pending[p.ID] = p
	return nil
}
func (s *stubStore) GetPending(ctx context.Context, id uuid.UUID) (model.PendingMemory, error) {
	p, ok := s.pending[id]
	if !ok {
		return model.PendingMemory{}, registrymetadata.ErrNoRow
	}
	return p, nil
}
func (s *stubStore) ListPending(ctx context.Context, status model.PendingStatus) ([]model.PendingMemory, error) {
	panic("not exercised")
}
func (s *stubStore) DeletePending(ctx context.Context, id uuid.UUID) error { panic("not exercised") }
func (s *stubStore) AppendApproval(ctx context.Context, id uuid.UUID, a model.Approval) (model.PendingMemory, error) {
	panic("not exercised")
}
func (s *stubStore) InsertIdentityChange(ctx context.Context, c model.IdentityChange) error {
	panic("not exercised")
}
func (s *stubStore) GetIdentityChange(ctx context.Context, changeID uuid.UUID) (model.IdentityChange, error) {
	panic("not exercised")
}
func (s *stubStore) ListIdentityChanges(ctx context.Context, status model.IdentityChangeStatus) ([]model.IdentityChange, error) {
	panic("not exercised")
}
func (s *stubStore) AppendIdentityApproval(ctx context.Context, changeID uuid.UUID, a model.Approval, approvalsNeeded int) (model.IdentityChange, error) {
	panic("not exercised")
}
func (s *stubStore) TryLock(ctx context.Context, table string, id uuid.UUID, expectedStatus, newStatus string) error {
	panic("not exercised")
}
func (s *stubStore) Unlock(ctx context.Context, table string, id uuid.UUID, backToStatus string) error {
	panic("not exercised")
}
func (s *stubStore) ScanStuckProcessing(ctx context.Context) (int, error) { panic("not exercised") }
func (s *stubStore) InsertChecklistItem(ctx context.Context, item model.ChecklistItem) error {
	panic("not exercised")
}
func (s *stubStore) UpdateChecklistItem(ctx context.Context, id uuid.UUID, patch registrymetadata.ChecklistPatch) (model.ChecklistItem, error) {
	panic("not exercised")
}
func (s *stubStore) DeleteChecklistItem(ctx context.Context, id uuid.UUID) error {
	panic("not exercised")
}
func (s *stubStore) GetChecklistItem(ctx context.Context, id uuid.UUID) (model.ChecklistItem, error) {
	panic("not exercised")
}
func (s *stubStore) ListChecklistItems(ctx context.Context, projectID string, filter registrymetadata.ChecklistFilter) ([]model.ChecklistItem, error) {
	panic("not exercised")
}
func (s *stubStore) ArchiveSession(ctx context.Context, st model.SessionState, summary string) error {
	panic("not exercised")
}
func (s *stubStore) Ping(ctx context.Context) error { return nil }
func (s *stubStore) Name() string                   { return "stub" }

func TestWrapPlainIsPassthrough(t *testing.T) {
	store := newStubStore()
	wrapped := Wrap(store, &plainProviderForTest{})
	assert.Same(t, store, wrapped)
}

type plainProviderForTest struct{}

func (plainProviderForTest) ID() string                       { return "plain" }
func (plainProviderForTest) Encrypt(p []byte) ([]byte, error) { return p, nil }
func (plainProviderForTest) Decrypt(c []byte) ([]byte, error) { return c, nil }

func TestWrapEncryptsContentAtRestAndDecryptsOnRead(t *testing.T) {
	store := newStubStore()
	wrapped := Wrap(store, reverseProvider{})
	ctx := context.Background()

	id := uuid.New()
	require.NoError(t, wrapped.InsertPending(ctx, model.PendingMemory{ID: id, Content: "the secret plan"}))

	assert.NotEqual(t, "the secret plan", store.pending[id].Content, "content must not be stored in the clear")

	got, err := wrapped.GetPending(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "the secret plan", got.Content)
}
