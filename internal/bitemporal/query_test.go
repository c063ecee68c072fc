package bitemporal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultOnlyValidActive(t *testing.T) {
	f := New().Compile()
	assert.Equal(t, 4, len(f.Clauses)) // valid_at alt (2) x expires_at alt (2), no layer/category
	for _, clause := range f.Clauses {
		var sawActive bool
		for _, p := range clause {
			if p.Field == "is_active" {
				sawActive = true
				assert.Equal(t, true, p.Value)
			}
		}
		assert.True(t, sawActive)
	}
}

func TestIncludeExpiredDropsExpiresHalf(t *testing.T) {
	f := New().IncludeExpired(true).Compile()
	assert.Equal(t, 2, len(f.Clauses)) // only valid_at alternatives remain
	for _, clause := range f.Clauses {
		for _, p := range clause {
			assert.NotEqual(t, "expires_at", p.Field)
		}
	}
}

func TestAsOfAndLayerFilterCompose(t *testing.T) {
	f := New().AsOf(time.Unix(1000, 0)).Layer("event_log").Compile()
	for _, clause := range f.Clauses {
		var sawLayer bool
		for _, p := range clause {
			if p.Field == "layer" {
				sawLayer = true
				assert.Equal(t, "event_log", p.Value)
			}
		}
		assert.True(t, sawLayer)
	}
}

func TestIsActiveNilDropsPredicate(t *testing.T) {
	f := New().IsActive(nil).Compile()
	for _, clause := range f.Clauses {
		for _, p := range clause {
			assert.NotEqual(t, "is_active", p.Field)
		}
	}
}
