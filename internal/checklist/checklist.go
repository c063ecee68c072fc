// Package checklist implements the checklist engine: prioritized,
// scoped task lists with markdown briefings and plan-text synchronization.
package checklist

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bao243092078-crypto/memory-anchor/internal/model"
	registrymetadata "github.com/bao243092078-crypto/memory-anchor/internal/registry/metadata"
)

// Engine drives checklist CRUD, briefings, and plan synchronization
// directly against the Metadata Store.
type Engine struct {
	store registrymetadata.MetadataStore
}

// New constructs an Engine bound to the given Metadata Store.
func New(store registrymetadata.MetadataStore) *Engine {
	return &Engine{store: store}
}

// CreateRequest is the input to Create.
type CreateRequest struct {
	ProjectID string
	Content   string
	Scope     model.ChecklistScope
	Priority  int
	Tags      []string
	ExpiresAt *time.Time
}

// Create inserts a new open checklist item.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (model.ChecklistItem, error) {
	if req.Priority < 1 || req.Priority > 5 {
		req.Priority = 3
	}
	scope := req.Scope
	if scope == "" {
		scope = model.ScopeProject
	}
	now := time.Now().UTC()
	item := model.ChecklistItem{
		ID: uuid.New(), ProjectID: req.ProjectID, Content: req.Content,
		Status: model.ChecklistOpen, Scope: scope, Priority: req.Priority,
		Tags: req.Tags, CreatedAt: now, UpdatedAt: now, ExpiresAt: req.ExpiresAt,
	}
	if err := e.store.InsertChecklistItem(ctx, item); err != nil {
		return model.ChecklistItem{}, err
	}
	return item, nil
}

// Update applies a partial patch to an existing item.
func (e *Engine) Update(ctx context.Context, id uuid.UUID, patch registrymetadata.ChecklistPatch) (model.ChecklistItem, error) {
	return e.store.UpdateChecklistItem(ctx, id, patch)
}

// Delete removes a checklist item outright.
func (e *Engine) Delete(ctx context.Context, id uuid.UUID) error {
	return e.store.DeleteChecklistItem(ctx, id)
}

// List returns checklist items for a project matching filter.
func (e *Engine) List(ctx context.Context, projectID string, filter registrymetadata.ChecklistFilter) ([]model.ChecklistItem, error) {
	return e.store.ListChecklistItems(ctx, projectID, filter)
}

const defaultBriefingLimit = 12

// Briefing returns the top-N open items for a project (optionally scoped),
// ordered by (priority asc, created_at asc), rendered as markdown.
func (e *Engine) Briefing(ctx context.Context, projectID string, scope model.ChecklistScope, limit int) (string, error) {
	if limit <= 0 {
		limit = defaultBriefingLimit
	}
	filter := registrymetadata.ChecklistFilter{Status: model.ChecklistOpen, Scope: scope}
	items, err := e.store.ListChecklistItems(ctx, projectID, filter)
	if err != nil {
		return "", err
	}

	sortByPriorityThenAge(items)
	if len(items) > limit {
		items = items[:limit]
	}
	return renderBriefing(items), nil
}

func sortByPriorityThenAge(items []model.ChecklistItem) {
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && lessItem(items[j], items[j-1]); j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
}

func lessItem(a, b model.ChecklistItem) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func renderBriefing(items []model.ChecklistItem) string {
	var b strings.Builder
	b.WriteString("# Open checklist items\n\n")
	if len(items) == 0 {
		b.WriteString("Nothing open.\n")
		return b.String()
	}
	for _, item := range items {
		fmt.Fprintf(&b, "- [ ] %s (ma:%s) — priority %d\n", item.Content, item.ShortID(), item.Priority)
	}
	return b.String()
}

// checkboxLine matches one plan-text checklist line: a leading [x]/[ ]
// checkbox, free-form content, and an (ma:<prefix>) back-reference. It
// tolerates surrounding whitespace and either case in the checkbox mark.
var checkboxLine = regexp.MustCompile(`(?i)^\s*[-*]?\s*\[([ xX])\]\s*.*?\(ma:([a-f0-9]{8})\)\s*$`)

// SyncFromPlan parses plan_text line by line, matching [x]/[ ] checkboxes
// with (ma:<prefix>) back-references, and updates each referenced item's
// status accordingly. Items referenced but not found are ignored, never
// created — sync_from_plan only ever transitions existing items.
func (e *Engine) SyncFromPlan(ctx context.Context, projectID, planText string, sessionID *string) (int, error) {
	items, err := e.store.ListChecklistItems(ctx, projectID, registrymetadata.ChecklistFilter{})
	if err != nil {
		return 0, err
	}
	byPrefix := make(map[string]model.ChecklistItem, len(items))
	for _, item := range items {
		byPrefix[item.ShortID()] = item
	}

	updated := 0
	for _, line := range strings.Split(planText, "\n") {
		m := checkboxLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		prefix := strings.ToLower(m[2])
		item, ok := byPrefix[prefix]
		if !ok {
			continue
		}
		done := strings.EqualFold(m[1], "x")
		newStatus := model.ChecklistOpen
		if done {
			newStatus = model.ChecklistDone
		}
		if item.Status == newStatus {
			continue
		}
		if _, err := e.store.UpdateChecklistItem(ctx, item.ID, registrymetadata.ChecklistPatch{
			Status: &newStatus,
		}); err != nil {
			return updated, err
		}
		updated++
	}
	return updated, nil
}
