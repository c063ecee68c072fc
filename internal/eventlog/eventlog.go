// Package eventlog implements the event log:
// fast append of timestamped observations into L2, and selective promotion
// of an event into a verified L3 fact.
package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bao243092078-crypto/memory-anchor/internal/kernel"
	"github.com/bao243092078-crypto/memory-anchor/internal/kernelerr"
	"github.com/bao243092078-crypto/memory-anchor/internal/model"
	registryvector "github.com/bao243092078-crypto/memory-anchor/internal/registry/vector"
)

// Log appends event_log memories through the Kernel and promotes them to
// verified_fact on request.
type Log struct {
	k *kernel.Kernel
}

// New constructs a Log bound to the given Kernel.
func New(k *kernel.Kernel) *Log {
	return &Log{k: k}
}

// LogEventRequest is the input to LogEvent.
type LogEventRequest struct {
	Content  string
	When     *time.Time
	Where    string
	Who      []string
	TTLDays  *int
	SourceID string // CreatedBy
}

// LogEvent writes content as an L2 memory, defaulting its confidence to
// auto-save since observations are first-person and not subject to routing.
// When ttl_days is supplied, expires_at is set to when + ttl_days.
func (l *Log) LogEvent(ctx context.Context, req LogEventRequest) (kernel.AddMemoryResult, error) {
	when := time.Now().UTC()
	if req.When != nil {
		when = *req.When
	}
	var expiresAt *time.Time
	if req.TTLDays != nil {
		e := when.AddDate(0, 0, *req.TTLDays)
		expiresAt = &e
	}

	content := req.Content
	if req.Where != "" {
		content = fmt.Sprintf("%s (at %s)", content, req.Where)
	}
	if len(req.Who) > 0 {
		content = fmt.Sprintf("%s [with: %v]", content, req.Who)
	}

	return l.k.AddMemory(ctx, kernel.AddMemoryRequest{
		Content:    content,
		Layer:      string(model.LayerEventLog),
		Confidence: 0.95,
		ValidAt:    &when,
		ExpiresAt:  expiresAt,
		CreatedBy:  req.SourceID,
	})
}

// SearchEventsRequest is the input to SearchEvents.
type SearchEventsRequest struct {
	Query string
	Start *time.Time
	End   *time.Time
	Limit int
}

// SearchEvents runs a bi-temporal range query restricted to event_log.
func (l *Log) SearchEvents(ctx context.Context, req SearchEventsRequest) ([]kernel.SearchMemoryResult, error) {
	searchReq := kernel.SearchMemoryRequest{
		Query: req.Query,
		Layer: string(model.LayerEventLog),
		Limit: req.Limit,
	}
	if req.Start != nil && req.End != nil {
		searchReq.RangeStart = req.Start
		searchReq.RangeEnd = req.End
	}
	return l.k.SearchMemory(ctx, searchReq)
}

// PromoteToFact writes a new verified_fact memory derived from the source
// event and tags the event with promoted_to so repeated calls are no-ops.
func (l *Log) PromoteToFact(ctx context.Context, eventID uuid.UUID, reviewer string) (kernel.AddMemoryResult, error) {
	store := l.k.VectorStore()
	collection := l.k.Config().CollectionName()

	point, err := store.Get(ctx, collection, eventID)
	if err != nil {
		if errors.Is(err, registryvector.ErrPointNotFound) {
			return kernel.AddMemoryResult{}, &kernelerr.NotFound{Entity: "event", ID: eventID.String()}
		}
		return kernel.AddMemoryResult{}, &kernelerr.StorageUnavailable{Backend: store.Name(), Cause: err}
	}
	if point.Payload.Layer != string(model.LayerEventLog) {
		return kernel.AddMemoryResult{}, &kernelerr.NotFound{Entity: "event", ID: eventID.String()}
	}
	source := &point
	if existing, ok := promotedFactID(source.Payload); ok {
		return kernel.AddMemoryResult{ID: existing, Layer: model.LayerVerifiedFact}, nil
	}

	res, err := l.k.AddMemory(ctx, kernel.AddMemoryRequest{
		Content:    fmt.Sprintf("verified: %s", source.Payload.Content),
		Layer:      string(model.LayerVerifiedFact),
		Category:   source.Payload.Category,
		Confidence: 0.95,
		CreatedBy:  reviewer,
	})
	if err != nil {
		return kernel.AddMemoryResult{}, err
	}

	tag := promotedToTag(res.ID)
	if err := store.UpdatePayload(ctx, collection, eventID, map[string]interface{}{
		"related_files": marshalRelatedFiles(append(source.Payload.RelatedFiles, tag)),
	}); err != nil {
		return kernel.AddMemoryResult{}, &kernelerr.StorageUnavailable{Backend: store.Name(), Cause: err}
	}

	return res, nil
}

// promotedToTag/promotedFactID mark and recover a promotion outcome via the
// related_files column rather than a dedicated payload field: every backend
// already persists this list, so reusing it keeps promote_to_fact idempotent
// on event_id without a schema change to any Vector Store plugin.
const promotedTagPrefix = "promoted:"

func promotedToTag(factID uuid.UUID) string {
	return promotedTagPrefix + factID.String()
}

func promotedFactID(p registryvector.Payload) (uuid.UUID, bool) {
	for _, f := range p.RelatedFiles {
		if id, ok := parsePromotedTag(f); ok {
			return id, true
		}
	}
	return uuid.Nil, false
}

func parsePromotedTag(f string) (uuid.UUID, bool) {
	if len(f) <= len(promotedTagPrefix) || f[:len(promotedTagPrefix)] != promotedTagPrefix {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(f[len(promotedTagPrefix):])
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func marshalRelatedFiles(files []string) string {
	b, _ := json.Marshal(files)
	return string(b)
}
