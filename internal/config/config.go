package config

import (
	"context"
)

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context. Returns nil if absent.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

// BudgetConfig holds the per-layer token caps enforced by the context budget
// manager. L0 is packed first, then L3, L2, L4, L1; Total bounds the
// combined result regardless of per-layer headroom.
type BudgetConfig struct {
	L0    int
	L1    int
	L2    int
	L3    int
	L4    int
	Total int
}

// SafetyConfig controls the safety filter. Rules maps a detector kind
// ("email", "phone", "national_id", "credit_card", "ip_address", "api_key",
// "sensitive_word") to an action ("block", "redact", "warn"). A kind absent
// from Rules is not checked.
type SafetyConfig struct {
	Enabled  bool
	MaxChars int
	Rules    map[string]string
	// SensitiveWords is the configurable literal sensitive-word list checked
	// under the "sensitive_word" rule kind.
	SensitiveWords []string
}

// ConfidenceConfig holds the thresholds that route a write to the active
// store, the pending queue, or rejection.
type ConfidenceConfig struct {
	AutoSave   float64
	PendingMin float64
}

// Config holds effective configuration for one project, as resolved by the
// project resolver from environment, project-local file, and global
// file, in that precedence order with no merging across levels.
type Config struct {
	// ProjectID selects the project; drives the vector collection name and
	// the metadata store's logical partition.
	ProjectID string

	// VectorURL is the address the server-mode backends (qdrant, pgvector)
	// connect to; VectorPath is the file the local-file backend (sqlitevec)
	// opens. VectorBackend alone decides which backend loads: setting
	// VectorURL does not switch a sqlitevec configuration to server mode.
	// For the qdrant backend VectorURL is a bare "host:port" gRPC address;
	// for pgvector it is a standard Postgres DSN.
	VectorURL  string
	VectorPath string
	VectorDim  int

	// VectorBackend selects which registered VectorStore plugin to load
	// ("qdrant", "pgvector", "sqlitevec").
	VectorBackend string

	// Qdrant-specific connection settings.
	QdrantAPIKey         string
	QdrantUseTLS         bool
	QdrantStartupTimeout int // seconds

	// MetadataURL is the DSN the postgres backend connects to; MetadataPath
	// is the SQLite file the sqlite backend opens. MetadataBackend alone
	// decides which of the two loads.
	MetadataURL  string
	MetadataPath string

	// MetadataBackend selects which registered MetadataStore plugin to load
	// ("postgres", "sqlite").
	MetadataBackend string

	// EmbedderModel identifies the Embedder implementation: "local",
	// "openai", or "none".
	EmbedderModel string

	// OpenAI embedder settings, used when EmbedderModel == "openai".
	OpenAIAPIKey     string
	OpenAIModelName  string
	OpenAIBaseURL    string
	OpenAIDimensions int

	MinSearchScore      float64
	SessionExpireHours  int
	Confidence          ConfidenceConfig
	ApprovalsNeeded     int
	Budget              BudgetConfig
	Safety              SafetyConfig
	IsolationStrictMode bool

	// EncryptionProvider selects the encrypt.Provider implementation
	// ("plain" or "dek"); EncryptionKey is a comma-separated AES key list,
	// the first primary, the rest legacy decryption-only (rotation).
	EncryptionProvider string
	EncryptionKey      string

	// MigrateAtStart runs registered metadata/vector migrations on boot.
	MigrateAtStart bool

	// IndexerBatchSize is the page size the background TTL sweep uses when
	// scrolling the vector store for expired points.
	IndexerBatchSize int

	// EvictionInterval is the period of the background TTL sweep, which
	// soft-deletes points past their expires_at. EvictionRetention is the
	// age after which a still-pending memory is marked expired. Nothing is
	// hard-deleted by either.
	EvictionInterval  int // seconds
	EvictionRetention int // seconds

	// MetricsLabels is a comma-separated key=value list of constant
	// Prometheus labels, e.g. "service=memory-anchor".
	MetricsLabels string
}

// DefaultConfig returns a Config with the stock defaults.
func DefaultConfig() Config {
	return Config{
		ProjectID:            "default",
		VectorPath:           "./data/vectors.db",
		VectorDim:            384,
		VectorBackend:        "sqlitevec",
		QdrantStartupTimeout: 30,
		MetadataPath:         "./data/metadata.db",
		MetadataBackend:      "sqlite",
		EmbedderModel:        "local",
		OpenAIModelName:      "text-embedding-3-small",
		OpenAIBaseURL:        "https://api.openai.com/v1",
		MinSearchScore:       0.30,
		SessionExpireHours:   24,
		Confidence: ConfidenceConfig{
			AutoSave:   0.9,
			PendingMin: 0.7,
		},
		ApprovalsNeeded: 3,
		Budget: BudgetConfig{
			L0:    500,
			L1:    200,
			L2:    500,
			L3:    2000,
			L4:    300,
			Total: 4000,
		},
		Safety: SafetyConfig{
			Enabled:  true,
			MaxChars: 2000,
			Rules: map[string]string{
				"email":       "redact",
				"phone":       "redact",
				"credit_card": "block",
				"api_key":     "block",
			},
		},
		IsolationStrictMode: true,
		EncryptionProvider:  "plain",
		MigrateAtStart:      true,
		IndexerBatchSize:    100,
		EvictionInterval:    3600,
		EvictionRetention:   30 * 24 * 3600,
		MetricsLabels:       "service=memory-anchor",
	}
}

// CollectionName returns the stable vector-store collection name for the
// project: "memory_anchor_notes_<project_id>", never rewritten
// for existing collections.
func (c Config) CollectionName() string {
	return "memory_anchor_notes_" + c.ProjectID
}
