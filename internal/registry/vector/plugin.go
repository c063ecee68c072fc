// Package vector defines the vector store contract: namespaced
// collections of (id, vector, payload) points with ANN search over a
// payload filter DSL, plus the plugin registry that backend
// implementations (qdrant, pgvector, sqlitevec) register into.
package vector

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Payload is the fixed key set every point carries. ValidAt and
// ExpiresAt must always be present, even when nil — omitting them breaks
// the bi-temporal engine's is-null filters.
type Payload struct {
	Content      string
	Layer        string
	Category     string
	Confidence   float64
	CreatedAt    int64 // unix seconds
	ValidAt      *int64
	ExpiresAt    *int64
	IsActive     bool
	SessionID    *string
	RelatedFiles []string
	CreatedBy    string
}

// Point is one (id, vector, payload) record.
type Point struct {
	ID      uuid.UUID
	Vector  []float32
	Payload Payload
}

// PointError reports a per-point failure from a batch upsert.
type PointError struct {
	ID  uuid.UUID
	Err error
}

// PredicateOp is the kind of a single filter predicate.
type PredicateOp string

const (
	OpEquals  PredicateOp = "eq"
	OpRange   PredicateOp = "range" // Gte/Lte, either may be nil
	OpIsNull  PredicateOp = "is_null"
	OpNotNull PredicateOp = "not_null"
)

// Predicate is a single condition over one payload field.
type Predicate struct {
	Field string
	Op    PredicateOp
	Value interface{} // for OpEquals
	Gte   interface{} // for OpRange
	Lte   interface{} // for OpRange
}

// Filter is a disjunction of conjunctions (DNF): a point matches if it
// satisfies all predicates in at least one clause.
type Filter struct {
	Clauses [][]Predicate
}

// And returns a filter with a single clause conjoining the given predicates.
func And(predicates ...Predicate) Filter {
	return Filter{Clauses: [][]Predicate{predicates}}
}

// Or merges each argument filter's clauses into one DNF filter.
func Or(filters ...Filter) Filter {
	var out Filter
	for _, f := range filters {
		out.Clauses = append(out.Clauses, f.Clauses...)
	}
	return out
}

// IsEmpty reports whether the filter has no clauses, matching every point.
func (f Filter) IsEmpty() bool { return len(f.Clauses) == 0 }

// SearchHit is a single ranked search result.
type SearchHit struct {
	ID      uuid.UUID
	Score   float64 // similarity, higher is closer
	Payload Payload
}

// ErrPointNotFound is returned by Get when no point carries the given id;
// callers translate it to kernelerr.NotFound.
var ErrPointNotFound = fmt.Errorf("point not found")

// ScrollPage is one page of a Scroll enumeration.
type ScrollPage struct {
	Points []Point
	Cursor string // empty when exhausted
}

// VectorStore is the vector store contract. Implementations must
// report connectivity failures as kernelerr.StorageUnavailable rather than
// degrading silently.
type VectorStore interface {
	// EnsureCollection creates the collection if absent with cosine distance
	// and dimension dim; fails if an existing collection has a different dim.
	EnsureCollection(ctx context.Context, name string, dim int) error

	// Upsert writes or replaces a single point.
	Upsert(ctx context.Context, name string, p Point) error

	// BatchUpsert writes or replaces many points with at-least-once
	// semantics; per-point failures are reported without aborting the batch.
	BatchUpsert(ctx context.Context, name string, points []Point) []PointError

	// Search returns the top-k points by similarity score descending,
	// restricted to those matching filter. Ties break by lexicographic id.
	Search(ctx context.Context, name string, queryVector []float32, k int, filter Filter) ([]SearchHit, error)

	// Scroll enumerates all points matching filter, page by page.
	Scroll(ctx context.Context, name string, filter Filter, cursor string, pageSize int) (ScrollPage, error)

	// Get fetches one point by id regardless of its is_active flag, or
	// ErrPointNotFound. Soft-deleted memories stay reachable this way even
	// though default search excludes them.
	Get(ctx context.Context, name string, id uuid.UUID) (Point, error)

	// UpdatePayload applies a partial payload overwrite to an existing point.
	UpdatePayload(ctx context.Context, name string, id uuid.UUID, partial map[string]interface{}) error

	// Delete hard-deletes a point. Used only by tests and eviction.
	Delete(ctx context.Context, name string, id uuid.UUID) error

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error

	// Name returns the plugin name (e.g. "qdrant", "pgvector", "sqlitevec").
	Name() string
}

// Loader constructs a VectorStore from the ambient config carried on ctx.
type Loader func(ctx context.Context) (VectorStore, error)

// Plugin associates a backend name with its Loader.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a vector store plugin. Called from each plugin's init().
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered vector store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named vector store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown vector store %q; valid: %v", name, Names())
}
