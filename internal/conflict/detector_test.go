package conflict

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bao243092078-crypto/memory-anchor/internal/model"
	registryvector "github.com/bao243092078-crypto/memory-anchor/internal/registry/vector"
)

// fakeSearchStore returns a canned set of hits; only Search is exercised by
// the Detector.
type fakeSearchStore struct {
	hits []registryvector.SearchHit
}

func (f *fakeSearchStore) EnsureCollection(ctx context.Context, name string, dim int) error {
	panic("not exercised")
}
func (f *fakeSearchStore) Upsert(ctx context.Context, name string, p registryvector.Point) error {
	panic("not exercised")
}
func (f *fakeSearchStore) BatchUpsert(ctx context.Context, name string, points []registryvector.Point) []registryvector.PointError {
	panic("not exercised")
}
func (f *fakeSearchStore) Search(ctx context.Context, name string, queryVector []float32, k int, filter registryvector.Filter) ([]registryvector.SearchHit, error) {
	return f.hits, nil
}
func (f *fakeSearchStore) Scroll(ctx context.Context, name string, filter registryvector.Filter, cursor string, pageSize int) (registryvector.ScrollPage, error) {
	panic("not exercised")
}
func (f *fakeSearchStore) Get(ctx context.Context, name string, id uuid.UUID) (registryvector.Point, error) {
	panic("not exercised")
}
func (f *fakeSearchStore) UpdatePayload(ctx context.Context, name string, id uuid.UUID, partial map[string]interface{}) error {
	panic("not exercised")
}
func (f *fakeSearchStore) Delete(ctx context.Context, name string, id uuid.UUID) error {
	panic("not exercised")
}
func (f *fakeSearchStore) Ping(ctx context.Context) error { return nil }
func (f *fakeSearchStore) Name() string                   { return "fake" }

func unixPtr(t time.Time) *int64 {
	u := t.Unix()
	return &u
}

func candidate(validAt time.Time) model.Memory {
	return model.Memory{
		ID: uuid.New(), Category: model.CategoryRoutine, Confidence: 0.9,
		CreatedBy: "agent", ValidAt: &validAt, Vector: []float32{1, 0, 0},
	}
}

func TestCheckTemporalOverlapSameCategory(t *testing.T) {
	now := time.Now().UTC()
	other := uuid.New()
	store := &fakeSearchStore{hits: []registryvector.SearchHit{{
		ID: other, Score: 0.9,
		Payload: registryvector.Payload{
			Category: string(model.CategoryRoutine), CreatedBy: "agent",
			Confidence: 0.9, ValidAt: unixPtr(now.Add(-48 * time.Hour)), IsActive: true,
		},
	}}}

	w, err := New(store).Check(context.Background(), "c", candidate(now))
	require.NoError(t, err)
	assert.True(t, w.HasConflict)
	assert.Equal(t, KindTemporal, w.Kind)
	assert.Equal(t, []uuid.UUID{other}, w.RelatedIDs)
}

func TestCheckTemporalIgnoresOutsideWindow(t *testing.T) {
	now := time.Now().UTC()
	store := &fakeSearchStore{hits: []registryvector.SearchHit{{
		ID: uuid.New(), Score: 0.9,
		Payload: registryvector.Payload{
			Category: string(model.CategoryRoutine), CreatedBy: "agent",
			Confidence: 0.9, ValidAt: unixPtr(now.Add(-30 * 24 * time.Hour)), IsActive: true,
		},
	}}}

	w, err := New(store).Check(context.Background(), "c", candidate(now))
	require.NoError(t, err)
	assert.False(t, w.HasConflict)
	assert.Equal(t, KindNone, w.Kind)
}

func TestCheckSourceDivergence(t *testing.T) {
	now := time.Now().UTC()
	store := &fakeSearchStore{hits: []registryvector.SearchHit{{
		ID: uuid.New(), Score: 0.95,
		Payload: registryvector.Payload{
			Category: string(model.CategoryPerson), CreatedBy: "human",
			Confidence: 0.9, ValidAt: nil, IsActive: true,
		},
	}}}

	w, err := New(store).Check(context.Background(), "c", candidate(now))
	require.NoError(t, err)
	assert.True(t, w.HasConflict)
	assert.Equal(t, KindSource, w.Kind)
}

func TestCheckConfidenceDelta(t *testing.T) {
	now := time.Now().UTC()
	store := &fakeSearchStore{hits: []registryvector.SearchHit{{
		ID: uuid.New(), Score: 0.95,
		Payload: registryvector.Payload{
			Category: string(model.CategoryPerson), CreatedBy: "agent",
			Confidence: 0.2, ValidAt: nil, IsActive: true,
		},
	}}}

	w, err := New(store).Check(context.Background(), "c", candidate(now))
	require.NoError(t, err)
	assert.True(t, w.HasConflict)
	assert.Equal(t, KindConfidence, w.Kind)
}

func TestCheckSkipsSelfHit(t *testing.T) {
	now := time.Now().UTC()
	cand := candidate(now)
	store := &fakeSearchStore{hits: []registryvector.SearchHit{{
		ID: cand.ID, Score: 1.0,
		Payload: registryvector.Payload{
			Category: string(cand.Category), CreatedBy: "human",
			Confidence: 0.1, ValidAt: unixPtr(now), IsActive: true,
		},
	}}}

	w, err := New(store).Check(context.Background(), "c", cand)
	require.NoError(t, err)
	assert.False(t, w.HasConflict)
}
