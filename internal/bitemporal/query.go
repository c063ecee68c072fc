// Package bitemporal implements the bi-temporal query engine: it
// expresses time-aware predicates and compiles them, together with any
// caller-supplied layer/category/is_active filters, into the Vector Store's
// payload filter DSL.
package bitemporal

import (
	"time"

	registryvector "github.com/bao243092078-crypto/memory-anchor/internal/registry/vector"
)

// Query accumulates the time predicate and caller-supplied equality filters
// that Compile combines into one DNF Filter.
type Query struct {
	mode           timeMode
	asOf           time.Time
	rangeStart     time.Time
	rangeEnd       time.Time
	includeExpired bool

	layer    string
	category string
	isActive *bool
}

type timeMode int

const (
	modeOnlyValid timeMode = iota // default: as_of(now)
	modeAsOf
	modeInRange
)

// New returns a Query defaulting to only_valid() AND is_active=true, per
// the default when the caller omits time parameters.
func New() *Query {
	active := true
	return &Query{mode: modeOnlyValid, isActive: &active}
}

// AsOf restricts to memories valid at time t.
func (q *Query) AsOf(t time.Time) *Query {
	q.mode = modeAsOf
	q.asOf = t
	return q
}

// InRange restricts to memories valid at any point between start and end.
func (q *Query) InRange(start, end time.Time) *Query {
	q.mode = modeInRange
	q.rangeStart = start
	q.rangeEnd = end
	return q
}

// OnlyValid restricts to memories valid as of now; this is the default.
func (q *Query) OnlyValid() *Query {
	q.mode = modeOnlyValid
	return q
}

// IncludeExpired drops the expires_at half of the time predicate when flag
// is true, surfacing expired records that would otherwise be excluded.
// Tombstoned records stay excluded by the is_active predicate.
func (q *Query) IncludeExpired(flag bool) *Query {
	q.includeExpired = flag
	return q
}

// Layer restricts results to one memory layer. Empty means unfiltered.
func (q *Query) Layer(layer string) *Query {
	q.layer = layer
	return q
}

// Category restricts results to one category. Empty means unfiltered.
func (q *Query) Category(category string) *Query {
	q.category = category
	return q
}

// IsActive overrides the default is_active=true filter; pass nil to drop
// the is_active predicate entirely (e.g. for eviction scans).
func (q *Query) IsActive(active *bool) *Query {
	q.isActive = active
	return q
}

// Compile translates the accumulated predicates into a DNF Filter. The
// valid_at and expires_at halves of the time predicate are each genuine
// disjunctions ("<= t OR IS NULL", "IS NULL OR > t"); since a single
// conjunctive clause can't express an OR, Compile cross-multiplies those
// alternatives into separate clauses, each ANDed with the caller-supplied
// layer/category/is_active predicates.
func (q *Query) Compile() registryvector.Filter {
	var orGroups [][]registryvector.Predicate

	switch q.mode {
	case modeAsOf:
		orGroups = append(orGroups, validAtAlternatives(q.asOf))
		if !q.includeExpired {
			orGroups = append(orGroups, expiresAtAlternatives(q.asOf))
		}
	case modeInRange:
		orGroups = append(orGroups, []registryvector.Predicate{
			{Field: "valid_at", Op: registryvector.OpRange, Lte: q.rangeEnd.Unix()},
		})
		if !q.includeExpired {
			orGroups = append(orGroups, expiresAtAlternatives(q.rangeStart))
		}
	default: // modeOnlyValid
		now := time.Now()
		orGroups = append(orGroups, validAtAlternatives(now))
		if !q.includeExpired {
			orGroups = append(orGroups, expiresAtAlternatives(now))
		}
	}

	var common []registryvector.Predicate
	if q.layer != "" {
		common = append(common, registryvector.Predicate{
			Field: "layer", Op: registryvector.OpEquals, Value: q.layer,
		})
	}
	if q.category != "" {
		common = append(common, registryvector.Predicate{
			Field: "category", Op: registryvector.OpEquals, Value: q.category,
		})
	}
	if q.isActive != nil {
		common = append(common, registryvector.Predicate{
			Field: "is_active", Op: registryvector.OpEquals, Value: *q.isActive,
		})
	}

	clauses := crossProduct(orGroups)
	if len(clauses) == 0 {
		return registryvector.And(common...)
	}
	var filter registryvector.Filter
	for _, clause := range clauses {
		filter.Clauses = append(filter.Clauses, append(append([]registryvector.Predicate{}, clause...), common...))
	}
	return filter
}

// validAtAlternatives expresses "valid_at <= t OR valid_at IS NULL".
func validAtAlternatives(t time.Time) []registryvector.Predicate {
	return []registryvector.Predicate{
		{Field: "valid_at", Op: registryvector.OpRange, Lte: t.Unix()},
		{Field: "valid_at", Op: registryvector.OpIsNull},
	}
}

// expiresAtAlternatives expresses "expires_at IS NULL OR expires_at > t".
// Payload times are whole unix seconds, so "> t" is "Gte t.Unix()+1".
func expiresAtAlternatives(t time.Time) []registryvector.Predicate {
	return []registryvector.Predicate{
		{Field: "expires_at", Op: registryvector.OpIsNull},
		{Field: "expires_at", Op: registryvector.OpRange, Gte: t.Unix() + 1},
	}
}

// crossProduct expands a list of OR-alternative groups into the set of
// clauses (one predicate picked from each group) whose disjunction is
// logically equivalent to the conjunction of the original ORs.
func crossProduct(groups [][]registryvector.Predicate) [][]registryvector.Predicate {
	if len(groups) == 0 {
		return nil
	}
	result := [][]registryvector.Predicate{{}}
	for _, group := range groups {
		var next [][]registryvector.Predicate
		for _, prefix := range result {
			for _, alt := range group {
				combined := append(append([]registryvector.Predicate{}, prefix...), alt)
				next = append(next, combined)
			}
		}
		result = next
	}
	return result
}
