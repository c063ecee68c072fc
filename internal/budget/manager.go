// Package budget implements the context budget manager: per-layer
// token caps enforced on query results before they're returned to a caller.
package budget

import (
	"sort"

	"github.com/bao243092078-crypto/memory-anchor/internal/config"
	"github.com/bao243092078-crypto/memory-anchor/internal/model"
)

// charsPerToken is the fixed-ratio token estimate: deterministic and
// monotonic, which is all the contract requires of an estimator.
const charsPerToken = 4

// EstimateTokens approximates the token cost of a memory's content.
func EstimateTokens(content string) int {
	n := len(content) / charsPerToken
	if n == 0 && len(content) > 0 {
		return 1
	}
	return n
}

// Scored pairs a memory with the relevance score used to order truncation.
type Scored struct {
	Memory model.Memory
	Score  float64
}

// Result is the packed output of Manager.Pack: the memories that fit, with
// the score each carried in, plus how many were dropped per layer.
type Result struct {
	Packed       []Scored
	DroppedCount map[model.Layer]int
}

// packOrder is the fixed layer packing sequence: L0 first, so
// identity-schema content is never starved by noisier layers, then L3, L2,
// L4, L1.
var packOrder = []model.Layer{
	model.LayerIdentitySchema,
	model.LayerVerifiedFact,
	model.LayerEventLog,
	model.LayerOperationalKnowledge,
	model.LayerActiveContext,
}

func layerBudget(b config.BudgetConfig, layer model.Layer) int {
	switch layer {
	case model.LayerIdentitySchema:
		return b.L0
	case model.LayerActiveContext:
		return b.L1
	case model.LayerEventLog:
		return b.L2
	case model.LayerVerifiedFact:
		return b.L3
	case model.LayerOperationalKnowledge:
		return b.L4
	default:
		return 0
	}
}

// Manager packs per-layer result sets within their configured token budgets
// and a combined total cap.
type Manager struct {
	cfg config.BudgetConfig
}

// New constructs a Manager bound to the given budget configuration.
func New(cfg config.BudgetConfig) *Manager {
	return &Manager{cfg: cfg}
}

// Pack sorts each layer's candidates by (score desc, created_at desc),
// accumulates whole records until the layer budget or the remaining total
// budget would be exceeded, and never partially truncates a record.
func (m *Manager) Pack(byLayer map[model.Layer][]Scored) Result {
	result := Result{DroppedCount: map[model.Layer]int{}}
	remainingTotal := m.cfg.Total

	for _, layer := range packOrder {
		candidates := byLayer[layer]
		if len(candidates) == 0 {
			continue
		}
		sort.SliceStable(candidates, func(i, j int) bool {
			if candidates[i].Score != candidates[j].Score {
				return candidates[i].Score > candidates[j].Score
			}
			return candidates[i].Memory.CreatedAt.After(candidates[j].Memory.CreatedAt)
		})

		layerBudgetTokens := layerBudget(m.cfg, layer)
		usedLayer := 0

		var i int
		for i = 0; i < len(candidates); i++ {
			cost := EstimateTokens(candidates[i].Memory.Content)
			if usedLayer+cost > layerBudgetTokens || cost > remainingTotal {
				break
			}
			result.Packed = append(result.Packed, candidates[i])
			usedLayer += cost
			remainingTotal -= cost
		}
		if dropped := len(candidates) - i; dropped > 0 {
			result.DroppedCount[layer] = dropped
		}
	}

	return result
}
