// Package model defines the persistent entities of the memory kernel:
// memories, pending memories awaiting confidence- or governance-based
// approval, identity-schema change proposals, checklist items, and
// session state.
package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Layer is one of the five memory layers, ordered from most to least durable.
type Layer string

const (
	LayerIdentitySchema       Layer = "identity_schema"
	LayerActiveContext        Layer = "active_context"
	LayerEventLog             Layer = "event_log"
	LayerVerifiedFact         Layer = "verified_fact"
	LayerOperationalKnowledge Layer = "operational_knowledge"
)

// legacyLayerAliases maps deprecated layer names to their current form.
var legacyLayerAliases = map[string]Layer{
	"constitution": LayerIdentitySchema,
	"fact":         LayerVerifiedFact,
	"session":      LayerEventLog,
}

// ParseLayer normalizes a caller-supplied layer string, accepting legacy
// aliases, and validates it against the closed set of five layers.
func ParseLayer(raw string) (Layer, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if alias, ok := legacyLayerAliases[s]; ok {
		return alias, true
	}
	switch Layer(s) {
	case LayerIdentitySchema, LayerActiveContext, LayerEventLog, LayerVerifiedFact, LayerOperationalKnowledge:
		return Layer(s), true
	}
	return "", false
}

// Category is the optional closed-set classification of a memory's subject.
type Category string

const (
	CategoryPerson  Category = "person"
	CategoryPlace   Category = "place"
	CategoryEvent   Category = "event"
	CategoryItem    Category = "item"
	CategoryRoutine Category = "routine"
)

// ParseCategory validates a caller-supplied category string. An empty string
// is accepted and returned as-is since category is optional.
func ParseCategory(raw string) (Category, bool) {
	if raw == "" {
		return "", true
	}
	switch Category(raw) {
	case CategoryPerson, CategoryPlace, CategoryEvent, CategoryItem, CategoryRoutine:
		return Category(raw), true
	}
	return "", false
}

// Memory is the primary record: a piece of text, embedded and searchable,
// scoped to one of the five layers and carrying bi-temporal validity. The
// vector store is the system of record for the embedding and payload; this
// struct is the shape both the vector and metadata stores agree on.
type Memory struct {
	ID       uuid.UUID `json:"id"`
	Content  string    `json:"content"`
	Layer    Layer     `json:"layer"`
	Category Category  `json:"category,omitempty"`

	Confidence float64 `json:"confidence"`

	CreatedAt time.Time  `json:"createdAt"`
	ValidAt   *time.Time `json:"validAt,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`

	CreatedBy string `json:"createdBy"`

	SessionID    *string  `json:"sessionId,omitempty"`
	RelatedFiles []string `json:"relatedFiles,omitempty"`

	IsActive bool `json:"isActive"`

	// Vector carries the embedding only in memory, on the way into or out
	// of the vector store; it is never duplicated in the metadata store.
	Vector []float32 `json:"-"`
}

// PendingStatus is the lifecycle state of a PendingMemory.
type PendingStatus string

const (
	PendingStatusPending    PendingStatus = "pending"
	PendingStatusProcessing PendingStatus = "processing"
	PendingStatusApproved   PendingStatus = "approved"
	PendingStatusRejected   PendingStatus = "rejected"
	PendingStatusExpired    PendingStatus = "expired"
)

// ChangeType distinguishes the three kinds of operation a pending memory or
// identity change proposal carries out once committed.
type ChangeType string

const (
	ChangeCreate ChangeType = "create"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// Approval records a single governance approver's sign-off.
type Approval struct {
	Approver  string    `json:"approver"`
	Comment   string    `json:"comment,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// PendingMemory is a memory staged for confidence- or governance-based
// approval before it reaches the vector store as an active record.
type PendingMemory struct {
	ID       uuid.UUID `json:"id"`
	Content  string    `json:"content"`
	Layer    Layer     `json:"layer"`
	Category Category  `json:"category,omitempty"`

	Confidence float64 `json:"confidence"`

	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	ValidAt   *time.Time `json:"validAt,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`

	CreatedBy    string   `json:"createdBy"`
	SessionID    *string  `json:"sessionId,omitempty"`
	RelatedFiles []string `json:"relatedFiles,omitempty"`

	Status     PendingStatus `json:"status"`
	Proposer   string        `json:"proposer"`
	Reason     string        `json:"reason,omitempty"`
	TargetID   *uuid.UUID    `json:"targetId,omitempty"`
	ChangeType ChangeType    `json:"changeType"`
	Approvals  []Approval    `json:"approvals"`
}

// IdentityChangeStatus mirrors PendingStatus for L0 proposals: identity
// changes only ever go through the governance path, never confidence-routing.
type IdentityChangeStatus string

const (
	IdentityStatusPending  IdentityChangeStatus = "pending"
	IdentityStatusApplied  IdentityChangeStatus = "applied"
	IdentityStatusRejected IdentityChangeStatus = "rejected"
	IdentityStatusExpired  IdentityChangeStatus = "expired"
)

// IdentityChange is a proposed create/update/delete against an identity
// schema entry, gated by a configured number of independent approvals.
type IdentityChange struct {
	ChangeID uuid.UUID `json:"changeId"`

	TargetID        *uuid.UUID `json:"targetId,omitempty"`
	ChangeType      ChangeType `json:"changeType"`
	ProposedContent string     `json:"proposedContent"`
	Category        Category   `json:"category,omitempty"`
	Reason          string     `json:"reason,omitempty"`

	Status         IdentityChangeStatus `json:"status"`
	ApprovalsCount int                  `json:"approvalsCount"`
	Approvals      []Approval           `json:"approvals"`

	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	AppliedAt *time.Time `json:"appliedAt,omitempty"`
}

// ChecklistStatus is the lifecycle state of a ChecklistItem.
type ChecklistStatus string

const (
	ChecklistOpen      ChecklistStatus = "open"
	ChecklistDone      ChecklistStatus = "done"
	ChecklistCancelled ChecklistStatus = "cancelled"
)

// ChecklistScope controls the visibility scope of a checklist item.
type ChecklistScope string

const (
	ScopeProject ChecklistScope = "project"
	ScopeSession ChecklistScope = "session"
	ScopeGlobal  ChecklistScope = "global"
)

// ChecklistItem is a single prioritized task tracked for a project.
type ChecklistItem struct {
	ID          uuid.UUID       `json:"id"`
	ProjectID   string          `json:"projectId"`
	Content     string          `json:"content"`
	Status      ChecklistStatus `json:"status"`
	Scope       ChecklistScope  `json:"scope"`
	Priority    int             `json:"priority"` // 1 (highest) .. 5 (lowest)
	Tags        []string        `json:"tags,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	ExpiresAt   *time.Time      `json:"expiresAt,omitempty"`
}

// ShortID returns the stable 8-char prefix agents use to cross-reference a
// checklist item from plan text via an "(ma:<prefix>)" back-reference.
func (c ChecklistItem) ShortID() string {
	s := strings.ReplaceAll(c.ID.String(), "-", "")
	if len(s) < 8 {
		return s
	}
	return s[:8]
}

// SessionState tracks one working session's correlation key and counters.
type SessionState struct {
	SessionID      string     `json:"sessionId"`
	StartedAt      time.Time  `json:"startedAt"`
	SourceFiles    []string   `json:"sourceFiles,omitempty"`
	MemoryOpsCount int        `json:"memoryOpsCount"`
	FileModsCount  int        `json:"fileModsCount"`
	EndedAt        *time.Time `json:"endedAt,omitempty"`
}
