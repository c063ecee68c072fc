// Package metadata defines the metadata store contract: durable
// relational storage for pending memories, the identity-schema audit
// trail, checklist items, and archived sessions, plus the optimistic-lock
// primitive every status transition in the system goes through.
package metadata

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/bao243092078-crypto/memory-anchor/internal/model"
)

// ErrNoRow is returned by TryLock when no row matched id and expectedStatus;
// callers translate it to kernelerr.ConflictError.
var ErrNoRow = fmt.Errorf("no row matched expected status")

// MetadataStore is the metadata store contract. Every status
// transition on a pending memory or identity change goes through TryLock;
// no implementation may use a read-then-write pattern for those columns.
type MetadataStore interface {
	// Migrate creates the schema idempotently.
	Migrate(ctx context.Context) error

	// Pending memories.
	InsertPending(ctx context.Context, p model.PendingMemory) error
	GetPending(ctx context.Context, id uuid.UUID) (model.PendingMemory, error)
	ListPending(ctx context.Context, status model.PendingStatus) ([]model.PendingMemory, error)
	DeletePending(ctx context.Context, id uuid.UUID) error
	AppendApproval(ctx context.Context, id uuid.UUID, a model.Approval) (model.PendingMemory, error)

	// Identity changes.
	InsertIdentityChange(ctx context.Context, c model.IdentityChange) error
	GetIdentityChange(ctx context.Context, changeID uuid.UUID) (model.IdentityChange, error)
	ListIdentityChanges(ctx context.Context, status model.IdentityChangeStatus) ([]model.IdentityChange, error)
	AppendIdentityApproval(ctx context.Context, changeID uuid.UUID, a model.Approval, approvalsNeeded int) (model.IdentityChange, error)

	// TryLock is the single admissible status-transition primitive:
	// UPDATE table SET status=newStatus, updated_at=now WHERE id=? AND
	// status=expectedStatus. Returns ErrNoRow iff affected-row count != 1.
	TryLock(ctx context.Context, table string, id uuid.UUID, expectedStatus, newStatus string) error

	// Unlock is TryLock's inverse, used in compensation to release a
	// reservation back to its prior status.
	Unlock(ctx context.Context, table string, id uuid.UUID, backToStatus string) error

	// ScanStuckProcessing reverts rows left in "processing" after a crash
	// back to "pending" with an audit note.
	ScanStuckProcessing(ctx context.Context) (int, error)

	// Checklist items.
	InsertChecklistItem(ctx context.Context, item model.ChecklistItem) error
	UpdateChecklistItem(ctx context.Context, id uuid.UUID, patch ChecklistPatch) (model.ChecklistItem, error)
	DeleteChecklistItem(ctx context.Context, id uuid.UUID) error
	GetChecklistItem(ctx context.Context, id uuid.UUID) (model.ChecklistItem, error)
	ListChecklistItems(ctx context.Context, projectID string, filter ChecklistFilter) ([]model.ChecklistItem, error)

	// Session archive.
	ArchiveSession(ctx context.Context, s model.SessionState, summary string) error

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error

	// Name returns the plugin name (e.g. "postgres", "sqlite").
	Name() string
}

// ChecklistPatch carries the optional fields update() may change; nil
// fields are left untouched.
type ChecklistPatch struct {
	Content  *string
	Status   *model.ChecklistStatus
	Priority *int
	Tags     []string
}

// ChecklistFilter narrows list() results; zero values mean unfiltered.
type ChecklistFilter struct {
	Status model.ChecklistStatus
	Scope  model.ChecklistScope
}

// Loader constructs a MetadataStore from the ambient config carried on ctx.
type Loader func(ctx context.Context) (MetadataStore, error)

// Plugin associates a backend name with its Loader.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a metadata store plugin. Called from each plugin's init().
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered metadata store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named metadata store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown metadata store %q; valid: %v", name, Names())
}
