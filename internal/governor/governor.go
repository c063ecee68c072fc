// Package governor implements the identity schema governor: the
// three-approval state machine that is the only path by which L0
// identity_schema entries may be created, updated, or deleted, plus the
// read-mostly in-memory snapshot search_memory consults directly.
package governor

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgraph-io/ristretto/v2"
	"github.com/google/uuid"

	"github.com/bao243092078-crypto/memory-anchor/internal/kernelerr"
	"github.com/bao243092078-crypto/memory-anchor/internal/model"
	"github.com/bao243092078-crypto/memory-anchor/internal/observability"
	registrymetadata "github.com/bao243092078-crypto/memory-anchor/internal/registry/metadata"
)

const identityChangesTable = "identity_changes"

// Commit applies an approved identity change against both stores. The
// Governor depends only on this narrow function pointer rather than on the
// Kernel itself, breaking the Kernel<->Governor<->MetadataStore cycle noted
// in the design notes: the Kernel constructs the Governor and supplies its
// own dual-store write as this callback.
type Commit func(ctx context.Context, change model.IdentityChange) error

// Governor drives identity-schema change proposals through propose/approve/
// reject and maintains the L0 in-memory snapshot search reads from.
type Governor struct {
	store           registrymetadata.MetadataStore
	approvalsNeeded int
	commit          Commit

	snapshot *snapshotCache
	events   EventSink
}

// EventSink receives governance lifecycle notifications; the Kernel
// subscribes before the dual-store write so it can react to applied changes.
type EventSink interface {
	Emit(name string, payload map[string]interface{})
}

// New constructs a Governor. approvalsNeeded is 3 in every deployment but left
// configurable here since the schema requires the key explicit.
func New(store registrymetadata.MetadataStore, approvalsNeeded int, commit Commit, events EventSink) *Governor {
	cache, err := ristretto.NewCache(&ristretto.Config[string, []model.Memory]{
		NumCounters: 100,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		log.Warn("governor: ristretto cache unavailable, snapshot reads will recompute", "err", err)
	}
	return &Governor{
		store:           store,
		approvalsNeeded: approvalsNeeded,
		commit:          commit,
		events:          events,
		snapshot:        newSnapshotCache(cache),
	}
}

// Propose inserts a new identity change proposal in "pending" status.
func (g *Governor) Propose(ctx context.Context, change model.IdentityChange) (model.IdentityChange, error) {
	now := time.Now().UTC()
	change.ChangeID = uuid.New()
	change.Status = model.IdentityStatusPending
	change.Approvals = nil
	change.ApprovalsCount = 0
	change.CreatedAt = now
	change.UpdatedAt = now

	if err := g.store.InsertIdentityChange(ctx, change); err != nil {
		return model.IdentityChange{}, &kernelerr.StorageUnavailable{Backend: g.store.Name(), Cause: err}
	}
	g.emit("identity.proposed", map[string]interface{}{"change_id": change.ChangeID})
	return change, nil
}

// Approve records one approver's vote. Duplicate approvers are rejected as
// a Governance error. When the vote reaches approvalsNeeded, Approve
// drives the change through the processing->applied commit flow before
// returning.
func (g *Governor) Approve(ctx context.Context, changeID uuid.UUID, approver, comment string) (model.IdentityChange, error) {
	change, err := g.store.GetIdentityChange(ctx, changeID)
	if err != nil {
		return model.IdentityChange{}, &kernelerr.NotFound{Entity: "identity_change", ID: changeID.String()}
	}
	for _, a := range change.Approvals {
		if a.Approver == approver {
			return model.IdentityChange{}, &kernelerr.Governance{ChangeID: changeID.String(), Reason: "duplicate approver"}
		}
	}

	approval := model.Approval{Approver: approver, Comment: comment, Timestamp: time.Now().UTC()}
	updated, err := g.store.AppendIdentityApproval(ctx, changeID, approval, g.approvalsNeeded)
	if err != nil {
		if err == registrymetadata.ErrNoRow {
			return model.IdentityChange{}, &kernelerr.ConflictError{ExistingID: changeID.String(), RuleName: "approve"}
		}
		return model.IdentityChange{}, err
	}

	observability.IdentityApprovalsTotal.WithLabelValues(string(updated.Status)).Inc()

	if updated.ApprovalsCount < g.approvalsNeeded {
		return updated, nil
	}

	return g.commitApproved(ctx, updated)
}

// commitApproved runs the approval-commit flow: try_lock to
// processing, perform the dual-store write, then try_lock to applied or
// back to pending on failure.
func (g *Governor) commitApproved(ctx context.Context, change model.IdentityChange) (model.IdentityChange, error) {
	if err := g.store.TryLock(ctx, identityChangesTable, change.ChangeID,
		string(model.IdentityStatusPending), "processing"); err != nil {
		if err == registrymetadata.ErrNoRow {
			return model.IdentityChange{}, &kernelerr.ConflictError{ExistingID: change.ChangeID.String(), RuleName: "commit"}
		}
		return model.IdentityChange{}, err
	}

	if err := g.commit(ctx, change); err != nil {
		if unlockErr := g.store.TryLock(ctx, identityChangesTable, change.ChangeID, "processing", string(model.IdentityStatusPending)); unlockErr != nil {
			log.Error("governor: failed to release processing lock after commit failure", "change_id", change.ChangeID, "err", unlockErr)
		}
		return model.IdentityChange{}, err
	}

	if err := g.store.TryLock(ctx, identityChangesTable, change.ChangeID, "processing", string(model.IdentityStatusApplied)); err != nil {
		// g.commit already performed the dual-store write; only the
		// terminal status flip failed. Release the lock back to pending
		// rather than leaving the row stuck in processing forever, the
		// same compensation already used for the commit-failure branch
		// above.
		if unlockErr := g.store.TryLock(ctx, identityChangesTable, change.ChangeID, "processing", string(model.IdentityStatusPending)); unlockErr != nil {
			log.Error("governor: failed to release processing lock after applied lock failure", "change_id", change.ChangeID, "err", unlockErr)
		}
		return model.IdentityChange{}, err
	}
	now := time.Now().UTC()
	change.Status = model.IdentityStatusApplied
	change.AppliedAt = &now

	g.snapshot.invalidate()
	g.emit("identity.applied", map[string]interface{}{"change_id": change.ChangeID})
	return change, nil
}

// Reject transitions a pending proposal straight to rejected.
func (g *Governor) Reject(ctx context.Context, changeID uuid.UUID) error {
	if err := g.store.TryLock(ctx, identityChangesTable, changeID,
		string(model.IdentityStatusPending), string(model.IdentityStatusRejected)); err != nil {
		if err == registrymetadata.ErrNoRow {
			return &kernelerr.ConflictError{ExistingID: changeID.String(), RuleName: "reject"}
		}
		return err
	}
	g.emit("identity.rejected", map[string]interface{}{"change_id": changeID})
	return nil
}

// Snapshot returns the current L0 in-memory snapshot, rebuilding it through
// loader the first time or after an invalidation from Approve.
func (g *Governor) Snapshot(ctx context.Context, loader func(ctx context.Context) ([]model.Memory, error)) ([]model.Memory, error) {
	return g.snapshot.get(ctx, loader)
}

func (g *Governor) emit(name string, payload map[string]interface{}) {
	if g.events == nil {
		return
	}
	g.events.Emit(name, payload)
}

// snapshotCache wraps a ristretto cache holding exactly one entry: the
// rendered L0 snapshot. A sync.RWMutex would suffice for correctness alone;
// ristretto additionally amortizes the rebuild cost behind TinyLFU admission
// so a burst of concurrent search_memory calls during invalidation doesn't
// all pay the metadata-store round trip at once.
type snapshotCache struct {
	cache *ristretto.Cache[string, []model.Memory]
}

const snapshotKey = "l0"

func newSnapshotCache(cache *ristretto.Cache[string, []model.Memory]) *snapshotCache {
	return &snapshotCache{cache: cache}
}

func (s *snapshotCache) get(ctx context.Context, loader func(ctx context.Context) ([]model.Memory, error)) ([]model.Memory, error) {
	if s.cache != nil {
		if v, ok := s.cache.Get(snapshotKey); ok {
			return v, nil
		}
	}
	snapshot, err := loader(ctx)
	if err != nil {
		return nil, fmt.Errorf("governor: snapshot rebuild failed: %w", err)
	}
	if s.cache != nil {
		s.cache.Set(snapshotKey, snapshot, int64(len(snapshot)+1))
		s.cache.Wait()
	}
	return snapshot, nil
}

func (s *snapshotCache) invalidate() {
	if s.cache != nil {
		s.cache.Del(snapshotKey)
	}
}
