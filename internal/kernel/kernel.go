// Package kernel implements the memory kernel: the single entry point
// for add_memory and search_memory, orchestrating the Safety Filter,
// Conflict Detector, Context Budget Manager, Bi-temporal Query Engine and
// Identity Schema Governor around the dual-store write/read path.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/bao243092078-crypto/memory-anchor/internal/bitemporal"
	"github.com/bao243092078-crypto/memory-anchor/internal/budget"
	"github.com/bao243092078-crypto/memory-anchor/internal/config"
	"github.com/bao243092078-crypto/memory-anchor/internal/conflict"
	"github.com/bao243092078-crypto/memory-anchor/internal/governor"
	"github.com/bao243092078-crypto/memory-anchor/internal/kernelerr"
	"github.com/bao243092078-crypto/memory-anchor/internal/model"
	"github.com/bao243092078-crypto/memory-anchor/internal/observability"
	registryembed "github.com/bao243092078-crypto/memory-anchor/internal/registry/embed"
	registrymetadata "github.com/bao243092078-crypto/memory-anchor/internal/registry/metadata"
	registryvector "github.com/bao243092078-crypto/memory-anchor/internal/registry/vector"
	"github.com/bao243092078-crypto/memory-anchor/internal/safety"
)

// Kernel is the process-wide orchestrator. Construct
// it once via New and thereafter reach it through GetKernel.
type Kernel struct {
	cfg      config.Config
	vector   registryvector.VectorStore
	metadata registrymetadata.MetadataStore
	embedder registryembed.Embedder

	safetyFilter *safety.Filter
	budgetMgr    *budget.Manager
	conflictDet  *conflict.Detector
	gov          *governor.Governor

	events *eventBus
}

// AddMemoryRequest is the input to AddMemory.
type AddMemoryRequest struct {
	Content      string
	Layer        string
	Category     string
	Confidence   float64
	ValidAt      *time.Time
	ExpiresAt    *time.Time
	CreatedBy    string
	SessionID    *string
	RelatedFiles []string

	// For identity_schema writes only.
	TargetID   *uuid.UUID
	ChangeType string
	Reason     string
}

// AddMemoryResult is the output of AddMemory.
type AddMemoryResult struct {
	ID               uuid.UUID
	Layer            model.Layer
	Confidence       float64
	ConflictWarning  *conflict.Warning
	SafetyFindings   []safety.Finding
	Pending          bool
	PendingID        *uuid.UUID
	IdentityChangeID *uuid.UUID
}

// New constructs a Kernel from its already-loaded collaborators. Errors
// returned here must not poison the singleton: callers retry.
func New(cfg config.Config, vector registryvector.VectorStore, metadata registrymetadata.MetadataStore, embedder registryembed.Embedder) (*Kernel, error) {
	if err := vector.EnsureCollection(context.Background(), cfg.CollectionName(), cfg.VectorDim); err != nil {
		return nil, err
	}

	k := &Kernel{
		cfg:          cfg,
		vector:       vector,
		metadata:     metadata,
		embedder:     embedder,
		safetyFilter: safety.New(cfg.Safety),
		budgetMgr:    budget.New(cfg.Budget),
		conflictDet:  conflict.New(vector),
		events:       &eventBus{},
	}

	k.gov = governor.New(metadata, cfg.ApprovalsNeeded, k.commitIdentityChange, k.events)

	return k, nil
}

// Subscribe registers a Subscriber for Kernel lifecycle events.
func (k *Kernel) Subscribe(s Subscriber) {
	k.events.Subscribe(s)
}

// AddMemory runs the write path: normalize, gate identity-schema writes
// to the Governor, safety-filter, confidence-route, conflict-detect, then
// commit under the dual-store compensation discipline.
func (k *Kernel) AddMemory(ctx context.Context, req AddMemoryRequest) (AddMemoryResult, error) {
	layer, ok := model.ParseLayer(req.Layer)
	if !ok {
		return AddMemoryResult{}, &kernelerr.InvalidArgument{Field: "layer", Msg: fmt.Sprintf("unknown layer %q", req.Layer)}
	}
	category, ok := model.ParseCategory(req.Category)
	if !ok {
		return AddMemoryResult{}, &kernelerr.InvalidArgument{Field: "category", Msg: fmt.Sprintf("unknown category %q", req.Category)}
	}
	if math.IsNaN(req.Confidence) || req.Confidence < 0 || req.Confidence > 1 {
		return AddMemoryResult{}, &kernelerr.InvalidArgument{Field: "confidence", Msg: "must be in [0, 1]"}
	}
	now := time.Now().UTC()

	// Step 2: gate L0 writes to the Governor; do not continue down this path.
	if layer == model.LayerIdentitySchema {
		return k.proposeIdentityChange(ctx, req, category, now)
	}

	// Step 3: safety filter.
	safetyResult, err := k.safetyFilter.Inspect(req.Content)
	if err != nil {
		return AddMemoryResult{}, err
	}
	content := safetyResult.SanitizedContent
	if content == "" {
		return AddMemoryResult{}, &kernelerr.InvalidArgument{Field: "content", Msg: "must not be empty"}
	}

	// Step 4: confidence routing.
	if req.Confidence < k.cfg.Confidence.PendingMin {
		observability.MemoryWritesTotal.WithLabelValues("rejected", string(layer)).Inc()
		return AddMemoryResult{}, &kernelerr.LowConfidence{Confidence: req.Confidence, Threshold: k.cfg.Confidence.PendingMin}
	}

	// Step 5: bi-temporal defaults.
	validAt := req.ValidAt
	if validAt == nil {
		validAt = &now
	}
	if req.ExpiresAt != nil && validAt.After(*req.ExpiresAt) {
		return AddMemoryResult{}, &kernelerr.InvalidArgument{Field: "valid_at", Msg: "valid_at must be <= expires_at"}
	}

	mem := model.Memory{
		ID:           uuid.New(),
		Content:      content,
		Layer:        layer,
		Category:     category,
		Confidence:   req.Confidence,
		CreatedAt:    now,
		ValidAt:      validAt,
		ExpiresAt:    req.ExpiresAt,
		CreatedBy:    req.CreatedBy,
		SessionID:    req.SessionID,
		RelatedFiles: req.RelatedFiles,
		IsActive:     true,
	}

	if req.Confidence < k.cfg.Confidence.AutoSave {
		pendingID, err := k.writePending(ctx, mem, safetyResult.Findings)
		if err != nil {
			return AddMemoryResult{}, err
		}
		observability.MemoryWritesTotal.WithLabelValues("pending", string(layer)).Inc()
		return AddMemoryResult{
			ID: mem.ID, Layer: layer, Confidence: req.Confidence,
			SafetyFindings: safetyResult.Findings, Pending: true, PendingID: &pendingID,
		}, nil
	}

	// Step 6: embed once, conflict-detect using the vector.
	vectors, err := k.embedder.EmbedTexts(ctx, []string{content})
	if err != nil {
		return AddMemoryResult{}, &kernelerr.StorageUnavailable{Backend: "embedder", Cause: err}
	}
	mem.Vector = vectors[0]

	warning, err := k.conflictDet.Check(ctx, k.cfg.CollectionName(), mem)
	if err != nil {
		warning = conflict.Warning{Kind: conflict.KindNone}
	}
	if warning.HasConflict {
		observability.MemoryConflictsTotal.WithLabelValues(string(warning.Kind)).Inc()
	}

	// Step 7: commit via dual-store compensation.
	if err := k.dualStoreWrite(ctx, mem); err != nil {
		return AddMemoryResult{}, err
	}

	observability.MemoryWritesTotal.WithLabelValues("active", string(layer)).Inc()
	k.events.Emit("memory.added", map[string]interface{}{
		"id": mem.ID, "layer": layer, "confidence": mem.Confidence, "conflict_warning": warning,
	})

	return AddMemoryResult{
		ID: mem.ID, Layer: layer, Confidence: mem.Confidence,
		ConflictWarning: &warning, SafetyFindings: safetyResult.Findings,
	}, nil
}

// writePending persists a confidence-routed memory to pending_memories
// without embedding it: embedding happens only once the
// memory is approved and committed.
func (k *Kernel) writePending(ctx context.Context, mem model.Memory, findings []safety.Finding) (uuid.UUID, error) {
	now := time.Now().UTC()
	pending := model.PendingMemory{
		ID: mem.ID, Content: mem.Content, Layer: mem.Layer, Category: mem.Category,
		Confidence: mem.Confidence, CreatedAt: now, UpdatedAt: now,
		ValidAt: mem.ValidAt, ExpiresAt: mem.ExpiresAt, CreatedBy: mem.CreatedBy,
		SessionID: mem.SessionID, RelatedFiles: mem.RelatedFiles,
		Status: model.PendingStatusPending, Proposer: mem.CreatedBy, ChangeType: model.ChangeCreate,
		Approvals: []model.Approval{},
	}
	if err := k.metadata.InsertPending(ctx, pending); err != nil {
		return uuid.Nil, &kernelerr.StorageUnavailable{Backend: k.metadata.Name(), Cause: err}
	}
	return mem.ID, nil
}

// dualStoreWrite writes the memory's point to the vector store. No metadata
// row is written for an active memory, so this function has no later step
// and performs no compensation itself; callers that run further steps after
// it (ApprovePendingMemory) soft-delete the point when those steps fail.
func (k *Kernel) dualStoreWrite(ctx context.Context, mem model.Memory) error {
	point := registryvector.Point{
		ID:     mem.ID,
		Vector: mem.Vector,
		Payload: registryvector.Payload{
			Content: mem.Content, Layer: string(mem.Layer), Category: string(mem.Category), Confidence: mem.Confidence,
			CreatedAt: mem.CreatedAt.Unix(), ValidAt: unixPtr(mem.ValidAt), ExpiresAt: unixPtr(mem.ExpiresAt),
			IsActive: true, SessionID: mem.SessionID, RelatedFiles: mem.RelatedFiles, CreatedBy: mem.CreatedBy,
		},
	}
	if err := k.vector.Upsert(ctx, k.cfg.CollectionName(), point); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &kernelerr.DeadlineExceeded{Op: "dual_store_write"}
		}
		return &kernelerr.StorageUnavailable{Backend: k.vector.Name(), Cause: err}
	}

	// Metadata has no per-memory row for active records in this design (the
	// vector store's payload is authoritative for active memories); the
	// metadata store only tracks pending/identity/checklist/session state.
	// A failure here would be a defensive compensation path for a future
	// metadata mirror; none exists today, so there is nothing to compensate.
	return nil
}

func unixPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	u := t.Unix()
	return &u
}

// SearchMemoryRequest is the input to SearchMemory.
type SearchMemoryRequest struct {
	Query                 string
	Layer                 string
	Category              string
	Limit                 int
	AsOf                  *time.Time
	RangeStart, RangeEnd  *time.Time
	IncludeExpired        bool
	IncludeIdentitySchema bool
}

// SearchMemoryResult is one ranked result from SearchMemory.
type SearchMemoryResult struct {
	ID           uuid.UUID
	Content      string
	Layer        model.Layer
	Category     model.Category
	Confidence   float64
	CreatedAt    time.Time
	ValidAt      *time.Time
	ExpiresAt    *time.Time
	Score        float64
	SessionID    *string
	RelatedFiles []string
}

// SearchMemory runs the read path: compose the bi-temporal filter, embed
// the query, overshoot the vector search, prepend the identity snapshot,
// then truncate to the context budget.
func (k *Kernel) SearchMemory(ctx context.Context, req SearchMemoryRequest) ([]SearchMemoryResult, error) {
	if req.Limit <= 0 {
		req.Limit = 10
	}

	q := bitemporal.New().Layer(req.Layer).Category(req.Category).IncludeExpired(req.IncludeExpired)
	switch {
	case req.AsOf != nil:
		q = q.AsOf(*req.AsOf)
	case req.RangeStart != nil && req.RangeEnd != nil:
		q = q.InRange(*req.RangeStart, *req.RangeEnd)
	}
	filter := q.Compile()

	vectors, err := k.embedder.EmbedTexts(ctx, []string{req.Query})
	if err != nil {
		return nil, &kernelerr.StorageUnavailable{Backend: "embedder", Cause: err}
	}

	hits, err := k.vector.Search(ctx, k.cfg.CollectionName(), vectors[0], req.Limit*2, filter)
	if err != nil {
		return nil, &kernelerr.StorageUnavailable{Backend: k.vector.Name(), Cause: err}
	}

	byLayer := map[model.Layer][]budget.Scored{}
	for _, hit := range hits {
		if hit.Score < k.cfg.MinSearchScore {
			continue
		}
		mem := searchHitToMemory(hit)
		byLayer[mem.Layer] = append(byLayer[mem.Layer], budget.Scored{Memory: mem, Score: hit.Score})
	}

	if req.IncludeIdentitySchema || req.Layer == "" {
		snapshot, err := k.gov.Snapshot(ctx, k.loadIdentitySnapshot)
		if err == nil {
			for _, mem := range snapshot {
				byLayer[model.LayerIdentitySchema] = append(byLayer[model.LayerIdentitySchema],
					budget.Scored{Memory: mem, Score: 1.0})
			}
		}
	}

	packed := k.budgetMgr.Pack(byLayer)
	for layer, dropped := range packed.DroppedCount {
		observability.BudgetTruncationsTotal.WithLabelValues(string(layer)).Add(float64(dropped))
	}

	out := make([]SearchMemoryResult, 0, len(packed.Packed))
	for _, sc := range packed.Packed {
		mem := sc.Memory
		out = append(out, SearchMemoryResult{
			ID: mem.ID, Content: mem.Content, Layer: mem.Layer, Category: mem.Category,
			Confidence: mem.Confidence, CreatedAt: mem.CreatedAt, ValidAt: mem.ValidAt,
			ExpiresAt: mem.ExpiresAt, Score: sc.Score, SessionID: mem.SessionID, RelatedFiles: mem.RelatedFiles,
		})
	}
	return out, nil
}

func searchHitToMemory(hit registryvector.SearchHit) model.Memory {
	return model.Memory{
		ID: hit.ID, Content: hit.Payload.Content, Layer: model.Layer(hit.Payload.Layer), Category: model.Category(hit.Payload.Category),
		Confidence: hit.Payload.Confidence, CreatedAt: time.Unix(hit.Payload.CreatedAt, 0),
		ValidAt: secondsPtrToTime(hit.Payload.ValidAt), ExpiresAt: secondsPtrToTime(hit.Payload.ExpiresAt),
		SessionID: hit.Payload.SessionID, RelatedFiles: hit.Payload.RelatedFiles, IsActive: hit.Payload.IsActive,
	}
}

func secondsPtrToTime(v *int64) *time.Time {
	if v == nil {
		return nil
	}
	t := time.Unix(*v, 0)
	return &t
}

// identitySnapshotLimit bounds how many L0 memories the in-memory snapshot
// holds.
const identitySnapshotLimit = 20

// loadIdentitySnapshot rebuilds the L0 snapshot by scrolling the
// identity_schema partition of the collection, keeping at most
// identitySnapshotLimit active entries.
func (k *Kernel) loadIdentitySnapshot(ctx context.Context) ([]model.Memory, error) {
	filter := registryvector.And(registryvector.Predicate{
		Field: "layer", Op: registryvector.OpEquals, Value: string(model.LayerIdentitySchema),
	}, registryvector.Predicate{
		Field: "is_active", Op: registryvector.OpEquals, Value: true,
	})
	var out []model.Memory
	cursor := ""
	for {
		page, err := k.vector.Scroll(ctx, k.cfg.CollectionName(), filter, cursor, 200)
		if err != nil {
			return nil, err
		}
		for _, p := range page.Points {
			if len(out) >= identitySnapshotLimit {
				return out, nil
			}
			out = append(out, model.Memory{
				ID: p.ID, Content: p.Payload.Content, Layer: model.Layer(p.Payload.Layer), Category: model.Category(p.Payload.Category),
				Confidence: p.Payload.Confidence, CreatedAt: time.Unix(p.Payload.CreatedAt, 0),
				ValidAt: secondsPtrToTime(p.Payload.ValidAt), ExpiresAt: secondsPtrToTime(p.Payload.ExpiresAt),
				RelatedFiles: p.Payload.RelatedFiles, IsActive: p.Payload.IsActive,
			})
		}
		if page.Cursor == "" {
			break
		}
		cursor = page.Cursor
	}
	return out, nil
}

// proposeIdentityChange routes an identity_schema write to the Governor's
// propose() instead of the normal write path.
func (k *Kernel) proposeIdentityChange(ctx context.Context, req AddMemoryRequest, category model.Category, now time.Time) (AddMemoryResult, error) {
	changeType := model.ChangeType(req.ChangeType)
	if changeType == "" {
		changeType = model.ChangeCreate
	}
	change := model.IdentityChange{
		TargetID: req.TargetID, ChangeType: changeType, ProposedContent: req.Content,
		Category: category, Reason: req.Reason,
	}
	proposed, err := k.gov.Propose(ctx, change)
	if err != nil {
		return AddMemoryResult{}, err
	}
	return AddMemoryResult{
		Layer: model.LayerIdentitySchema, IdentityChangeID: &proposed.ChangeID,
	}, nil
}

// commitIdentityChange is the Governor's Commit callback: it performs the
// underlying create/update/delete against both stores via the same
// dual-store compensation discipline as AddMemory once a proposal
// transitions to applied.
func (k *Kernel) commitIdentityChange(ctx context.Context, change model.IdentityChange) error {
	now := time.Now().UTC()

	switch change.ChangeType {
	case model.ChangeDelete:
		if change.TargetID == nil {
			return &kernelerr.InvalidArgument{Field: "target_id", Msg: "delete requires a target_id"}
		}
		return k.vector.UpdatePayload(ctx, k.cfg.CollectionName(), *change.TargetID, map[string]interface{}{"is_active": false})

	case model.ChangeUpdate:
		if change.TargetID == nil {
			return &kernelerr.InvalidArgument{Field: "target_id", Msg: "update requires a target_id"}
		}
		existing, err := k.vector.Get(ctx, k.cfg.CollectionName(), *change.TargetID)
		if err != nil {
			if errors.Is(err, registryvector.ErrPointNotFound) {
				return &kernelerr.NotFound{Entity: "identity_schema_entry", ID: change.TargetID.String()}
			}
			return err
		}
		vectors, err := k.embedder.EmbedTexts(ctx, []string{change.ProposedContent})
		if err != nil {
			return &kernelerr.StorageUnavailable{Backend: "embedder", Cause: err}
		}
		category := change.Category
		if category == "" {
			category = model.Category(existing.Payload.Category)
		}
		mem := model.Memory{
			ID: *change.TargetID, Content: change.ProposedContent, Layer: model.LayerIdentitySchema,
			Category: category, Confidence: 1.0, CreatedAt: time.Unix(existing.Payload.CreatedAt, 0),
			ValidAt: &now, CreatedBy: "governor", IsActive: true, Vector: vectors[0],
		}
		return k.dualStoreWrite(ctx, mem)

	default: // create
		vectors, err := k.embedder.EmbedTexts(ctx, []string{change.ProposedContent})
		if err != nil {
			return &kernelerr.StorageUnavailable{Backend: "embedder", Cause: err}
		}
		id := uuid.New()
		if change.TargetID != nil {
			id = *change.TargetID
		}
		mem := model.Memory{
			ID: id, Content: change.ProposedContent, Layer: model.LayerIdentitySchema, Category: change.Category,
			Confidence: 1.0, CreatedAt: now, ValidAt: &now, CreatedBy: "governor", IsActive: true, Vector: vectors[0],
		}
		return k.dualStoreWrite(ctx, mem)
	}
}

// GetMemory fetches a single memory by id, soft-deleted ones included:
// tombstoned records stay reachable by id even though default search skips
// them.
func (k *Kernel) GetMemory(ctx context.Context, id uuid.UUID) (model.Memory, error) {
	point, err := k.vector.Get(ctx, k.cfg.CollectionName(), id)
	if err != nil {
		if errors.Is(err, registryvector.ErrPointNotFound) {
			return model.Memory{}, &kernelerr.NotFound{Entity: "memory", ID: id.String()}
		}
		return model.Memory{}, err
	}
	mem := model.Memory{
		ID: point.ID, Content: point.Payload.Content, Layer: model.Layer(point.Payload.Layer),
		Category: model.Category(point.Payload.Category), Confidence: point.Payload.Confidence,
		CreatedAt: time.Unix(point.Payload.CreatedAt, 0), ValidAt: secondsPtrToTime(point.Payload.ValidAt),
		ExpiresAt: secondsPtrToTime(point.Payload.ExpiresAt), CreatedBy: point.Payload.CreatedBy,
		SessionID: point.Payload.SessionID, RelatedFiles: point.Payload.RelatedFiles,
		IsActive: point.Payload.IsActive, Vector: point.Vector,
	}
	return mem, nil
}

// DeleteMemory soft-deletes a memory: the is_active flag flips in the
// vector store, space is not reclaimed, and the record stays reachable via
// GetMemory. Identity-schema entries must go through the Governor's delete
// proposal instead.
func (k *Kernel) DeleteMemory(ctx context.Context, id uuid.UUID) error {
	mem, err := k.GetMemory(ctx, id)
	if err != nil {
		return err
	}
	if mem.Layer == model.LayerIdentitySchema {
		return &kernelerr.Governance{ChangeID: id.String(), Reason: "identity_schema entries are deleted via a governed change proposal"}
	}
	if err := k.vector.UpdatePayload(ctx, k.cfg.CollectionName(), id, map[string]interface{}{"is_active": false}); err != nil {
		return &kernelerr.StorageUnavailable{Backend: k.vector.Name(), Cause: err}
	}
	k.events.Emit("memory.deleted", map[string]interface{}{"id": id})
	return nil
}

// ScanStuckProcessing reverts rows stuck in "processing" after a crash back
// to "pending" and returns the count reverted.
func (k *Kernel) ScanStuckProcessing(ctx context.Context) (int, error) {
	return k.metadata.ScanStuckProcessing(ctx)
}

const pendingMemoriesTable = "pending_memories"

// ListPending returns pending memories in the given status, or every status
// when status is empty.
func (k *Kernel) ListPending(ctx context.Context, status model.PendingStatus) ([]model.PendingMemory, error) {
	return k.metadata.ListPending(ctx, status)
}

// ApprovePendingMemory runs the confidence-routed half of the
// approval-commit flow: try_lock(pending->processing), embed + dual-store
// write, then try_lock(processing->approved) and drop the pending row. Only
// one of N concurrent approvers observes try_lock succeed; the rest see
// kernelerr.ConflictError.
func (k *Kernel) ApprovePendingMemory(ctx context.Context, id uuid.UUID, approver, comment string) (AddMemoryResult, error) {
	pending, err := k.metadata.GetPending(ctx, id)
	if err != nil {
		return AddMemoryResult{}, &kernelerr.NotFound{Entity: "pending_memory", ID: id.String()}
	}
	if _, err := k.metadata.AppendApproval(ctx, id, model.Approval{Approver: approver, Comment: comment, Timestamp: time.Now().UTC()}); err != nil {
		return AddMemoryResult{}, err
	}

	if err := k.metadata.TryLock(ctx, pendingMemoriesTable, id, string(model.PendingStatusPending), string(model.PendingStatusProcessing)); err != nil {
		if err == registrymetadata.ErrNoRow {
			return AddMemoryResult{}, &kernelerr.ConflictError{ExistingID: id.String(), RuleName: "approve_pending"}
		}
		return AddMemoryResult{}, err
	}

	mem := model.Memory{
		ID: pending.ID, Content: pending.Content, Layer: pending.Layer, Category: pending.Category,
		Confidence: pending.Confidence, CreatedAt: pending.CreatedAt, ValidAt: pending.ValidAt,
		ExpiresAt: pending.ExpiresAt, CreatedBy: pending.CreatedBy, SessionID: pending.SessionID,
		RelatedFiles: pending.RelatedFiles, IsActive: true,
	}

	if err := k.commitPending(ctx, mem); err != nil {
		if unlockErr := k.metadata.TryLock(ctx, pendingMemoriesTable, id, string(model.PendingStatusProcessing), string(model.PendingStatusPending)); unlockErr != nil {
			log.Error("kernel: failed to release processing lock after commit failure", "id", id, "err", unlockErr)
		}
		return AddMemoryResult{}, err
	}

	if err := k.metadata.TryLock(ctx, pendingMemoriesTable, id, string(model.PendingStatusProcessing), string(model.PendingStatusApproved)); err != nil {
		// The vector write already succeeded; the pending row is stuck in
		// processing with nothing pointing at it. Soft-delete the point we
		// just wrote so it doesn't surface as a live memory with no record
		// of approval, and release the lock back to pending so a retry (or
		// ScanStuckProcessing on restart) can resolve it.
		if compErr := k.vector.UpdatePayload(ctx, k.cfg.CollectionName(), mem.ID, map[string]interface{}{"is_active": false}); compErr != nil {
			log.Error("kernel: failed to soft-delete vector point after approve lock failure", "id", id, "err", compErr)
		}
		if unlockErr := k.metadata.TryLock(ctx, pendingMemoriesTable, id, string(model.PendingStatusProcessing), string(model.PendingStatusPending)); unlockErr != nil {
			log.Error("kernel: failed to release processing lock after approve lock failure", "id", id, "err", unlockErr)
		}
		return AddMemoryResult{}, err
	}
	if err := k.metadata.DeletePending(ctx, id); err != nil {
		log.Error("kernel: failed to delete approved pending row", "id", id, "err", err)
	}

	observability.MemoryWritesTotal.WithLabelValues("active", string(mem.Layer)).Inc()
	k.events.Emit("memory.added", map[string]interface{}{"id": mem.ID, "layer": mem.Layer, "confidence": mem.Confidence})

	return AddMemoryResult{ID: mem.ID, Layer: mem.Layer, Confidence: mem.Confidence}, nil
}

// commitPending embeds the pending memory's content (never embedded while
// staged) and performs the dual-store write.
func (k *Kernel) commitPending(ctx context.Context, mem model.Memory) error {
	vectors, err := k.embedder.EmbedTexts(ctx, []string{mem.Content})
	if err != nil {
		return &kernelerr.StorageUnavailable{Backend: "embedder", Cause: err}
	}
	mem.Vector = vectors[0]
	return k.dualStoreWrite(ctx, mem)
}

// RejectPendingMemory transitions a pending memory straight to rejected
// without committing it to either store.
func (k *Kernel) RejectPendingMemory(ctx context.Context, id uuid.UUID) error {
	if err := k.metadata.TryLock(ctx, pendingMemoriesTable, id, string(model.PendingStatusPending), string(model.PendingStatusRejected)); err != nil {
		if err == registrymetadata.ErrNoRow {
			return &kernelerr.ConflictError{ExistingID: id.String(), RuleName: "reject_pending"}
		}
		return err
	}
	return nil
}

// StartSession registers a new working session and emits session.started.
// The returned state is the caller's to carry; the Kernel holds no per
// session bookkeeping of its own.
func (k *Kernel) StartSession(sessionID string) model.SessionState {
	state := model.SessionState{SessionID: sessionID, StartedAt: time.Now().UTC()}
	k.events.Emit("session.started", map[string]interface{}{"session_id": sessionID})
	return state
}

// EndSession archives a finished session in the metadata store and emits
// session.ended with its counters.
func (k *Kernel) EndSession(ctx context.Context, state model.SessionState, summary string) error {
	if state.EndedAt == nil {
		now := time.Now().UTC()
		state.EndedAt = &now
	}
	if err := k.metadata.ArchiveSession(ctx, state, summary); err != nil {
		return &kernelerr.StorageUnavailable{Backend: k.metadata.Name(), Cause: err}
	}
	k.events.Emit("session.ended", map[string]interface{}{
		"session_id": state.SessionID,
		"stats": map[string]interface{}{
			"memory_ops":    state.MemoryOpsCount,
			"file_mods":     state.FileModsCount,
			"files_touched": len(state.SourceFiles),
		},
	})
	return nil
}

// Governor exposes the Kernel's Governor for propose/approve/reject calls
// issued directly by the CLI or a future RPC surface.
func (k *Kernel) Governor() *governor.Governor { return k.gov }

// VectorStore exposes the underlying store for components (eventlog,
// eviction) that need direct Scroll/Delete access beyond AddMemory/SearchMemory.
func (k *Kernel) VectorStore() registryvector.VectorStore { return k.vector }

// MetadataStore exposes the underlying store for components (checklist,
// session archiving) that operate on it directly.
func (k *Kernel) MetadataStore() registrymetadata.MetadataStore { return k.metadata }

// Config returns the Kernel's effective configuration.
func (k *Kernel) Config() config.Config { return k.cfg }
