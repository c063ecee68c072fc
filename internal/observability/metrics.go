// Package observability holds the Prometheus counters the Kernel and its
// components record against, registered once per process.
package observability

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// The counters exist from package init so components can record against
// them unconditionally; they are only exported to a scrape endpoint once
// Init registers them.
var (
	MemoryWritesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "memory_writes_total",
		Help: "Total add_memory calls by outcome (active, pending, rejected).",
	}, []string{"outcome", "layer"})

	MemoryConflictsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "memory_conflicts_total",
		Help: "Total conflict warnings raised by the conflict detector, by kind.",
	}, []string{"kind"})

	IdentityApprovalsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "identity_approvals_total",
		Help: "Total identity schema approval votes recorded, by resulting status.",
	}, []string{"status"})

	BudgetTruncationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "budget_truncations_total",
		Help: "Total memories dropped by the context budget manager, by layer.",
	}, []string{"layer"})

	KernelSingletonInits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kernel_singleton_inits_total",
		Help: "Total times the Kernel singleton constructor actually ran.",
	})
)

var validLabelKey = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ParseLabels parses a comma-separated key=value list into Prometheus
// constant labels, expanding ${VAR}/$VAR references against the environment.
func ParseLabels(s string) (prometheus.Labels, error) {
	s = os.Expand(s, os.Getenv)
	if s == "" {
		return nil, nil
	}
	labels := prometheus.Labels{}
	for _, pair := range strings.Split(s, ",") {
		idx := strings.IndexByte(pair, '=')
		if idx < 0 {
			return nil, fmt.Errorf("invalid label %q: expected key=value", pair)
		}
		k, v := pair[:idx], pair[idx+1:]
		if !validLabelKey.MatchString(k) {
			return nil, fmt.Errorf("invalid label key %q: must match [a-zA-Z_][a-zA-Z0-9_]*", k)
		}
		labels[k] = v
	}
	return labels, nil
}

var initOnce sync.Once

// Init registers all metrics with the given constant labels. Safe to call
// multiple times; only the first call registers anything.
func Init(constLabels prometheus.Labels) {
	initOnce.Do(func() {
		initInner(constLabels)
	})
}

func initInner(constLabels prometheus.Labels) {
	reg := prometheus.WrapRegistererWith(constLabels, prometheus.DefaultRegisterer)
	reg.MustRegister(
		MemoryWritesTotal,
		MemoryConflictsTotal,
		IdentityApprovalsTotal,
		BudgetTruncationsTotal,
		KernelSingletonInits,
	)
}
