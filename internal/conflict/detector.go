// Package conflict implements the conflict detector: rule-based,
// non-blocking identification of potentially conflicting prior memories on
// every write that reaches the Vector Store.
package conflict

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/bao243092078-crypto/memory-anchor/internal/model"
	registryvector "github.com/bao243092078-crypto/memory-anchor/internal/registry/vector"
)

// Kind names which rule, if any, triggered a conflict.
type Kind string

const (
	KindNone       Kind = "none"
	KindTemporal   Kind = "temporal"
	KindSource     Kind = "source"
	KindConfidence Kind = "confidence"
)

const (
	temporalWindow           = 7 * 24 * time.Hour
	temporalSimThreshold     = 0.85
	sourceSimThreshold       = 0.9
	confidenceSimThreshold   = 0.9
	confidenceDeltaThreshold = 0.3

	// candidateSearchK bounds how many nearest neighbors are inspected per
	// write; conflicts far down the ranked list aren't worth chasing.
	candidateSearchK = 20
)

// Warning is the advisory result returned alongside a successful write.
type Warning struct {
	HasConflict bool        `json:"hasConflict"`
	Kind        Kind        `json:"kind"`
	RelatedIDs  []uuid.UUID `json:"relatedIds,omitempty"`
	Hint        string      `json:"hint,omitempty"`
}

// Detector runs the temporal/source/confidence rules against the nearest
// neighbors of a just-written memory.
type Detector struct {
	store registryvector.VectorStore
}

// New constructs a Detector bound to the given Vector Store.
func New(store registryvector.VectorStore) *Detector {
	return &Detector{store: store}
}

// Check searches the collection for near-duplicates of candidate and
// evaluates the three conflict rules against active results only.
func (d *Detector) Check(ctx context.Context, collection string, candidate model.Memory) (Warning, error) {
	filter := registryvector.And(
		registryvector.Predicate{Field: "is_active", Op: registryvector.OpEquals, Value: true},
	)
	hits, err := d.store.Search(ctx, collection, candidate.Vector, candidateSearchK, filter)
	if err != nil {
		return Warning{Kind: KindNone}, err
	}

	var temporalRelated, sourceRelated, confidenceRelated []uuid.UUID

	for _, hit := range hits {
		if hit.ID == candidate.ID {
			continue
		}
		sim := hit.Score

		if sim >= temporalSimThreshold && hit.Payload.Category == string(candidate.Category) {
			if withinTemporalWindow(hit.Payload.ValidAt, candidate.ValidAt) {
				temporalRelated = append(temporalRelated, hit.ID)
			}
		}
		if sim >= sourceSimThreshold && hit.Payload.CreatedBy != candidate.CreatedBy {
			sourceRelated = append(sourceRelated, hit.ID)
		}
		if sim >= confidenceSimThreshold && math.Abs(hit.Payload.Confidence-candidate.Confidence) > confidenceDeltaThreshold {
			confidenceRelated = append(confidenceRelated, hit.ID)
		}
	}

	switch {
	case len(temporalRelated) > 0:
		return Warning{HasConflict: true, Kind: KindTemporal, RelatedIDs: temporalRelated,
			Hint: "an active memory with overlapping validity and the same category looks related"}, nil
	case len(sourceRelated) > 0:
		return Warning{HasConflict: true, Kind: KindSource, RelatedIDs: sourceRelated,
			Hint: "a near-duplicate memory was recorded by a different source"}, nil
	case len(confidenceRelated) > 0:
		return Warning{HasConflict: true, Kind: KindConfidence, RelatedIDs: confidenceRelated,
			Hint: "a near-duplicate memory carries a substantially different confidence"}, nil
	default:
		return Warning{HasConflict: false, Kind: KindNone}, nil
	}
}

func withinTemporalWindow(otherValidAt *int64, candidateValidAt *time.Time) bool {
	if otherValidAt == nil || candidateValidAt == nil {
		return false
	}
	other := time.Unix(*otherValidAt, 0)
	delta := other.Sub(*candidateValidAt)
	if delta < 0 {
		delta = -delta
	}
	return delta <= temporalWindow
}
