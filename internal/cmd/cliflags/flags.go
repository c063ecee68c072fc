// Package cliflags defines the command-line flags shared by every
// memoryanchor subcommand, binding directly into a config.Config via
// Destination so subcommand actions read the struct, not the flag set.
package cliflags

import (
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/bao243092078-crypto/memory-anchor/internal/config"
	registryembed "github.com/bao243092078-crypto/memory-anchor/internal/registry/embed"
	"github.com/bao243092078-crypto/memory-anchor/internal/registry/encrypt"
	registrymetadata "github.com/bao243092078-crypto/memory-anchor/internal/registry/metadata"
	registryvector "github.com/bao243092078-crypto/memory-anchor/internal/registry/vector"
)

// Common returns the flags every subcommand accepts, writing straight into
// cfg's fields via Destination so Action handlers read cfg directly.
func Common(cfg *config.Config) []cli.Flag {
	return []cli.Flag{
		// ── Project ───────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "project-id",
			Category:    "Project:",
			Sources:     cli.EnvVars("MA_PROJECT_ID"),
			Destination: &cfg.ProjectID,
			Value:       cfg.ProjectID,
			Usage:       "Project id; selects the vector collection and metadata partition",
		},

		// ── Vector Store ──────────────────────────────────────────
		&cli.StringFlag{
			Name:        "vector-backend",
			Category:    "Vector Store:",
			Sources:     cli.EnvVars("MA_VECTOR_BACKEND"),
			Destination: &cfg.VectorBackend,
			Value:       cfg.VectorBackend,
			Usage:       "Vector store backend (" + strings.Join(registryvector.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "vector-url",
			Category:    "Vector Store:",
			Sources:     cli.EnvVars("MA_VECTOR_URL"),
			Destination: &cfg.VectorURL,
			Usage:       "Network address for server-mode vector backends (qdrant host:port, pgvector DSN); not read by sqlitevec",
		},
		&cli.StringFlag{
			Name:        "vector-path",
			Category:    "Vector Store:",
			Sources:     cli.EnvVars("MA_VECTOR_PATH"),
			Destination: &cfg.VectorPath,
			Value:       cfg.VectorPath,
			Usage:       "Local file path for the sqlitevec backend",
		},
		&cli.IntFlag{
			Name:        "vector-dim",
			Category:    "Vector Store:",
			Sources:     cli.EnvVars("MA_VECTOR_DIM"),
			Destination: &cfg.VectorDim,
			Value:       cfg.VectorDim,
			Usage:       "Embedding vector dimensionality",
		},
		&cli.StringFlag{
			Name:        "vector-qdrant-api-key",
			Category:    "Vector Store:",
			Sources:     cli.EnvVars("MA_VECTOR_QDRANT_API_KEY"),
			Destination: &cfg.QdrantAPIKey,
			Usage:       "Qdrant API key",
		},
		&cli.BoolFlag{
			Name:        "vector-qdrant-tls",
			Category:    "Vector Store:",
			Sources:     cli.EnvVars("MA_VECTOR_QDRANT_TLS"),
			Destination: &cfg.QdrantUseTLS,
			Value:       cfg.QdrantUseTLS,
			Usage:       "Use TLS for the Qdrant gRPC connection",
		},

		// ── Metadata Store ────────────────────────────────────────
		&cli.StringFlag{
			Name:        "metadata-backend",
			Category:    "Metadata Store:",
			Sources:     cli.EnvVars("MA_METADATA_BACKEND"),
			Destination: &cfg.MetadataBackend,
			Value:       cfg.MetadataBackend,
			Usage:       "Metadata store backend (" + strings.Join(registrymetadata.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "metadata-url",
			Category:    "Metadata Store:",
			Sources:     cli.EnvVars("MA_METADATA_URL"),
			Destination: &cfg.MetadataURL,
			Usage:       "Postgres DSN for the postgres backend; not read by sqlite",
		},
		&cli.StringFlag{
			Name:        "metadata-path",
			Category:    "Metadata Store:",
			Sources:     cli.EnvVars("MA_METADATA_PATH"),
			Destination: &cfg.MetadataPath,
			Value:       cfg.MetadataPath,
			Usage:       "Local file path for the sqlite backend",
		},

		// ── Embedding ─────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "embedding-model",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("MA_EMBEDDING_MODEL"),
			Destination: &cfg.EmbedderModel,
			Value:       cfg.EmbedderModel,
			Usage:       "Embedder (" + strings.Join(registryembed.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "embedding-openai-api-key",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("MA_EMBEDDING_OPENAI_API_KEY", "OPENAI_API_KEY"),
			Destination: &cfg.OpenAIAPIKey,
			Usage:       "OpenAI API key, used when --embedding-model=openai",
		},

		// ── Encryption ────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "encryption-provider",
			Category:    "Encryption:",
			Sources:     cli.EnvVars("MA_ENCRYPTION_PROVIDER"),
			Destination: &cfg.EncryptionProvider,
			Value:       cfg.EncryptionProvider,
			Usage:       "Encryption provider for pending/checklist content at rest (" + strings.Join(encrypt.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "encryption-key",
			Category:    "Encryption:",
			Sources:     cli.EnvVars("MA_ENCRYPTION_KEY"),
			Destination: &cfg.EncryptionKey,
			Usage:       "Comma-separated AES keys for the 'dek' provider (first is primary, rest legacy for rotation)",
		},

		// ── Governance & Budget ───────────────────────────────────
		&cli.Float64Flag{
			Name:        "min-search-score",
			Category:    "Governance & Budget:",
			Sources:     cli.EnvVars("MA_MIN_SEARCH_SCORE"),
			Destination: &cfg.MinSearchScore,
			Value:       cfg.MinSearchScore,
			Usage:       "Minimum similarity score for search_memory results",
		},
		&cli.IntFlag{
			Name:        "approvals-needed",
			Category:    "Governance & Budget:",
			Sources:     cli.EnvVars("MA_APPROVALS_NEEDED"),
			Destination: &cfg.ApprovalsNeeded,
			Value:       cfg.ApprovalsNeeded,
			Usage:       "Distinct approvals required to commit an identity-schema change",
		},
		&cli.IntFlag{
			Name:        "budget-total",
			Category:    "Governance & Budget:",
			Sources:     cli.EnvVars("MA_BUDGET_TOTAL"),
			Destination: &cfg.Budget.Total,
			Value:       cfg.Budget.Total,
			Usage:       "Total token budget for a packed search_memory response",
		},
		&cli.IntFlag{
			Name:        "budget-l0",
			Category:    "Governance & Budget:",
			Sources:     cli.EnvVars("MA_BUDGET_L0"),
			Destination: &cfg.Budget.L0,
			Value:       cfg.Budget.L0,
			Usage:       "Token budget for the identity_schema layer",
		},
		&cli.IntFlag{
			Name:        "budget-l1",
			Category:    "Governance & Budget:",
			Sources:     cli.EnvVars("MA_BUDGET_L1"),
			Destination: &cfg.Budget.L1,
			Value:       cfg.Budget.L1,
			Usage:       "Token budget for the active_context layer",
		},
		&cli.IntFlag{
			Name:        "budget-l2",
			Category:    "Governance & Budget:",
			Sources:     cli.EnvVars("MA_BUDGET_L2"),
			Destination: &cfg.Budget.L2,
			Value:       cfg.Budget.L2,
			Usage:       "Token budget for the event_log layer",
		},
		&cli.IntFlag{
			Name:        "budget-l3",
			Category:    "Governance & Budget:",
			Sources:     cli.EnvVars("MA_BUDGET_L3"),
			Destination: &cfg.Budget.L3,
			Value:       cfg.Budget.L3,
			Usage:       "Token budget for the verified_fact layer",
		},
		&cli.IntFlag{
			Name:        "budget-l4",
			Category:    "Governance & Budget:",
			Sources:     cli.EnvVars("MA_BUDGET_L4"),
			Destination: &cfg.Budget.L4,
			Value:       cfg.Budget.L4,
			Usage:       "Token budget for the operational_knowledge layer",
		},

		// ── Background Services ───────────────────────────────────
		&cli.BoolFlag{
			Name:        "migrate-at-start",
			Category:    "Background Services:",
			Sources:     cli.EnvVars("MA_MIGRATE_AT_START"),
			Destination: &cfg.MigrateAtStart,
			Value:       cfg.MigrateAtStart,
			Usage:       "Run registered migrations before serving",
		},
		&cli.IntFlag{
			Name:        "indexer-batch-size",
			Category:    "Background Services:",
			Sources:     cli.EnvVars("MA_INDEXER_BATCH_SIZE"),
			Destination: &cfg.IndexerBatchSize,
			Value:       cfg.IndexerBatchSize,
			Usage:       "Points processed per background TTL sweep batch",
		},
		&cli.IntFlag{
			Name:        "eviction-interval-seconds",
			Category:    "Background Services:",
			Sources:     cli.EnvVars("MA_EVICTION_INTERVAL_SECONDS"),
			Destination: &cfg.EvictionInterval,
			Value:       cfg.EvictionInterval,
			Usage:       "Seconds between background TTL/eviction sweeps",
		},
		&cli.IntFlag{
			Name:        "eviction-retention-seconds",
			Category:    "Background Services:",
			Sources:     cli.EnvVars("MA_EVICTION_RETENTION_SECONDS"),
			Destination: &cfg.EvictionRetention,
			Value:       cfg.EvictionRetention,
			Usage:       "Age in seconds after which an unreviewed pending memory is marked expired",
		},

		// ── Monitoring ────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "metrics-labels",
			Category:    "Monitoring:",
			Sources:     cli.EnvVars("MA_METRICS_LABELS"),
			Destination: &cfg.MetricsLabels,
			Value:       cfg.MetricsLabels,
			Usage:       "Comma-separated key=value constant labels added to every Prometheus metric",
		},
	}
}
