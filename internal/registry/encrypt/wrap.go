package encrypt

import (
	"context"
	"encoding/base64"

	"github.com/google/uuid"

	"github.com/bao243092078-crypto/memory-anchor/internal/model"
	registrymetadata "github.com/bao243092078-crypto/memory-anchor/internal/registry/metadata"
)

// Wrap decorates a MetadataStore so the free-text content fields (pending
// memory content, identity-change proposed content, checklist content) are
// encrypted at rest with provider and decrypted transparently on read. The
// "plain" provider makes this a no-op pass-through. Every other column stays
// in the clear: it carries structured metadata, not the caller's text.
func Wrap(store registrymetadata.MetadataStore, provider Provider) registrymetadata.MetadataStore {
	if provider == nil || provider.ID() == "plain" {
		return store
	}
	return &encryptedStore{store: store, provider: provider}
}

type encryptedStore struct {
	store    registrymetadata.MetadataStore
	provider Provider
}

func (s *encryptedStore) seal(plaintext string) (string, error) {
	ct, err := s.provider.Encrypt([]byte(plaintext))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}

func (s *encryptedStore) open(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	ct, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", err
	}
	pt, err := s.provider.Decrypt(ct)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}

func (s *encryptedStore) Migrate(ctx context.Context) error { return s.store.Migrate(ctx) }

func (s *encryptedStore) InsertPending(ctx context.Context, p model.PendingMemory) error {
	sealed, err := s.seal(p.Content)
	if err != nil {
		return err
	}
	p.Content = sealed
	return s.store.InsertPending(ctx, p)
}

func (s *encryptedStore) GetPending(ctx context.Context, id uuid.UUID) (model.PendingMemory, error) {
	p, err := s.store.GetPending(ctx, id)
	if err != nil {
		return p, err
	}
	p.Content, err = s.open(p.Content)
	return p, err
}

func (s *encryptedStore) ListPending(ctx context.Context, status model.PendingStatus) ([]model.PendingMemory, error) {
	items, err := s.store.ListPending(ctx, status)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if items[i].Content, err = s.open(items[i].Content); err != nil {
			return nil, err
		}
	}
	return items, nil
}

func (s *encryptedStore) DeletePending(ctx context.Context, id uuid.UUID) error {
	return s.store.DeletePending(ctx, id)
}

func (s *encryptedStore) AppendApproval(ctx context.Context, id uuid.UUID, a model.Approval) (model.PendingMemory, error) {
	p, err := s.store.AppendApproval(ctx, id, a)
	if err != nil {
		return p, err
	}
	p.Content, err = s.open(p.Content)
	return p, err
}

func (s *encryptedStore) InsertIdentityChange(ctx context.Context, c model.IdentityChange) error {
	sealed, err := s.seal(c.ProposedContent)
	if err != nil {
		return err
	}
	c.ProposedContent = sealed
	return s.store.InsertIdentityChange(ctx, c)
}

func (s *encryptedStore) GetIdentityChange(ctx context.Context, changeID uuid.UUID) (model.IdentityChange, error) {
	c, err := s.store.GetIdentityChange(ctx, changeID)
	if err != nil {
		return c, err
	}
	c.ProposedContent, err = s.open(c.ProposedContent)
	return c, err
}

func (s *encryptedStore) ListIdentityChanges(ctx context.Context, status model.IdentityChangeStatus) ([]model.IdentityChange, error) {
	items, err := s.store.ListIdentityChanges(ctx, status)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if items[i].ProposedContent, err = s.open(items[i].ProposedContent); err != nil {
			return nil, err
		}
	}
	return items, nil
}

func (s *encryptedStore) AppendIdentityApproval(ctx context.Context, changeID uuid.UUID, a model.Approval, approvalsNeeded int) (model.IdentityChange, error) {
	c, err := s.store.AppendIdentityApproval(ctx, changeID, a, approvalsNeeded)
	if err != nil {
		return c, err
	}
	c.ProposedContent, err = s.open(c.ProposedContent)
	return c, err
}

func (s *encryptedStore) TryLock(ctx context.Context, table string, id uuid.UUID, expectedStatus, newStatus string) error {
	return s.store.TryLock(ctx, table, id, expectedStatus, newStatus)
}

func (s *encryptedStore) Unlock(ctx context.Context, table string, id uuid.UUID, backToStatus string) error {
	return s.store.Unlock(ctx, table, id, backToStatus)
}

func (s *encryptedStore) ScanStuckProcessing(ctx context.Context) (int, error) {
	return s.store.ScanStuckProcessing(ctx)
}

func (s *encryptedStore) InsertChecklistItem(ctx context.Context, item model.ChecklistItem) error {
	sealed, err := s.seal(item.Content)
	if err != nil {
		return err
	}
	item.Content = sealed
	return s.store.InsertChecklistItem(ctx, item)
}

func (s *encryptedStore) UpdateChecklistItem(ctx context.Context, id uuid.UUID, patch registrymetadata.ChecklistPatch) (model.ChecklistItem, error) {
	if patch.Content != nil {
		sealed, err := s.seal(*patch.Content)
		if err != nil {
			return model.ChecklistItem{}, err
		}
		patch.Content = &sealed
	}
	item, err := s.store.UpdateChecklistItem(ctx, id, patch)
	if err != nil {
		return item, err
	}
	item.Content, err = s.open(item.Content)
	return item, err
}

func (s *encryptedStore) DeleteChecklistItem(ctx context.Context, id uuid.UUID) error {
	return s.store.DeleteChecklistItem(ctx, id)
}

func (s *encryptedStore) GetChecklistItem(ctx context.Context, id uuid.UUID) (model.ChecklistItem, error) {
	item, err := s.store.GetChecklistItem(ctx, id)
	if err != nil {
		return item, err
	}
	item.Content, err = s.open(item.Content)
	return item, err
}

func (s *encryptedStore) ListChecklistItems(ctx context.Context, projectID string, filter registrymetadata.ChecklistFilter) ([]model.ChecklistItem, error) {
	items, err := s.store.ListChecklistItems(ctx, projectID, filter)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if items[i].Content, err = s.open(items[i].Content); err != nil {
			return nil, err
		}
	}
	return items, nil
}

func (s *encryptedStore) ArchiveSession(ctx context.Context, st model.SessionState, summary string) error {
	return s.store.ArchiveSession(ctx, st, summary)
}

func (s *encryptedStore) Ping(ctx context.Context) error { return s.store.Ping(ctx) }

func (s *encryptedStore) Name() string { return s.store.Name() }
