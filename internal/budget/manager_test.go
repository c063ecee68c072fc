package budget

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/bao243092078-crypto/memory-anchor/internal/config"
	"github.com/bao243092078-crypto/memory-anchor/internal/model"
)

func mem(content string, score float64, age time.Duration) Scored {
	return Scored{
		Memory: model.Memory{
			ID:        uuid.New(),
			Content:   content,
			CreatedAt: time.Now().Add(-age),
		},
		Score: score,
	}
}

func TestPackDropsWholeRecordsOverBudget(t *testing.T) {
	m := New(config.BudgetConfig{L2: 10, Total: 100})
	long := make([]byte, 200)
	for i := range long {
		long[i] = 'a'
	}
	byLayer := map[model.Layer][]Scored{
		model.LayerEventLog: {
			mem("short", 0.9, time.Minute),
			mem(string(long), 0.8, time.Minute),
		},
	}
	result := m.Pack(byLayer)
	assert.Len(t, result.Packed, 1)
	assert.Equal(t, 1, result.DroppedCount[model.LayerEventLog])
}

func TestPackOrdersByScoreThenRecency(t *testing.T) {
	m := New(config.BudgetConfig{L2: 100, Total: 100})
	older := mem("b", 0.5, 2*time.Hour)
	newer := mem("a", 0.5, time.Minute)
	byLayer := map[model.Layer][]Scored{
		model.LayerEventLog: {older, newer},
	}
	result := m.Pack(byLayer)
	assert.Len(t, result.Packed, 2)
	assert.Equal(t, newer.Memory.ID, result.Packed[0].Memory.ID)
}

func TestPackRespectsTotalAcrossLayers(t *testing.T) {
	m := New(config.BudgetConfig{L0: 1000, L3: 1000, Total: 1})
	byLayer := map[model.Layer][]Scored{
		model.LayerIdentitySchema: {mem("abcd", 1.0, time.Minute)},
		model.LayerVerifiedFact:   {mem("abcd", 1.0, time.Minute)},
	}
	result := m.Pack(byLayer)
	assert.Len(t, result.Packed, 1)
}
