// Package pgvector registers the "pgvector" server-mode Vector Store
// backend: Postgres plus the pgvector extension, accessed through GORM.
package pgvector

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	pgvec "github.com/pgvector/pgvector-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/bao243092078-crypto/memory-anchor/internal/config"
	"github.com/bao243092078-crypto/memory-anchor/internal/kernelerr"
	registrymigrate "github.com/bao243092078-crypto/memory-anchor/internal/registry/migrate"
	registryvector "github.com/bao243092078-crypto/memory-anchor/internal/registry/vector"
)

//go:embed schema.sql
var schemaSQL string

type migrator struct{}

func (m *migrator) Name() string { return "pgvector-schema" }
func (m *migrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.MigrateAtStart || cfg.VectorBackend != "pgvector" {
		return nil
	}
	log.Info("running migration", "name", m.Name())
	db, err := openDB(cfg.VectorURL)
	if err != nil {
		return fmt.Errorf("pgvector migrate: %w", err)
	}
	return db.Exec(schemaSQL).Error
}

func init() {
	registryvector.Register(registryvector.Plugin{Name: "pgvector", Loader: load})
	registrymigrate.Register(registrymigrate.Plugin{Order: 200, Migrator: &migrator{}})
}

func load(ctx context.Context) (registryvector.VectorStore, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.VectorURL == "" {
		return nil, fmt.Errorf("pgvector: vector.url is required")
	}
	db, err := openDB(cfg.VectorURL)
	if err != nil {
		return nil, fmt.Errorf("pgvector: %w", err)
	}
	return &Store{db: db, dims: map[string]int{}}, nil
}

func openDB(dsn string) (*gorm.DB, error) {
	return gorm.Open(postgres.Open(dsn), &gorm.Config{})
}

// Store implements registryvector.VectorStore against a shared
// vector_points table, partitioned by collection name.
type Store struct {
	db   *gorm.DB
	dims map[string]int
}

func (s *Store) Name() string { return "pgvector" }

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return &kernelerr.StorageUnavailable{Backend: "pgvector", Cause: err}
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return &kernelerr.StorageUnavailable{Backend: "pgvector", Cause: err}
	}
	return nil
}

func (s *Store) EnsureCollection(ctx context.Context, name string, dim int) error {
	var existing int
	row := s.db.WithContext(ctx).Raw(
		"SELECT vector_dims(embedding) FROM vector_points WHERE collection = ? LIMIT 1", name,
	).Row()
	if err := row.Scan(&existing); err == nil && existing != 0 && existing != dim {
		return &kernelerr.DimensionMismatch{Got: dim, Want: existing}
	}
	s.dims[name] = dim
	return nil
}

func (s *Store) Upsert(ctx context.Context, name string, p registryvector.Point) error {
	errs := s.BatchUpsert(ctx, name, []registryvector.Point{p})
	if len(errs) > 0 {
		return errs[0].Err
	}
	return nil
}

func (s *Store) BatchUpsert(ctx context.Context, name string, points []registryvector.Point) []registryvector.PointError {
	var errs []registryvector.PointError
	for _, p := range points {
		vec := pgvec.NewVector(p.Vector)
		relatedFiles := "[]"
		if len(p.Payload.RelatedFiles) > 0 {
			relatedFiles = jsonArray(p.Payload.RelatedFiles)
		}
		err := s.db.WithContext(ctx).Exec(`
			INSERT INTO vector_points (collection, id, embedding, content, layer, category, confidence,
				created_at, valid_at, expires_at, is_active, session_id, created_by, related_files)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?::jsonb)
			ON CONFLICT (collection, id) DO UPDATE SET
				embedding = EXCLUDED.embedding, content = EXCLUDED.content, layer = EXCLUDED.layer, category = EXCLUDED.category,
				confidence = EXCLUDED.confidence, created_at = EXCLUDED.created_at,
				valid_at = EXCLUDED.valid_at, expires_at = EXCLUDED.expires_at,
				is_active = EXCLUDED.is_active, session_id = EXCLUDED.session_id,
				created_by = EXCLUDED.created_by, related_files = EXCLUDED.related_files`,
			name, p.ID, vec, p.Payload.Content, p.Payload.Layer, p.Payload.Category, p.Payload.Confidence,
			p.Payload.CreatedAt, p.Payload.ValidAt, p.Payload.ExpiresAt, p.Payload.IsActive,
			p.Payload.SessionID, p.Payload.CreatedBy, relatedFiles,
		).Error
		if err != nil {
			errs = append(errs, registryvector.PointError{ID: p.ID, Err: &kernelerr.StorageUnavailable{Backend: "pgvector", Cause: err}})
		}
	}
	return errs
}

func (s *Store) Search(ctx context.Context, name string, queryVector []float32, k int, filter registryvector.Filter) ([]registryvector.SearchHit, error) {
	vec := pgvec.NewVector(queryVector)
	where, args := compileFilter(filter)
	query := fmt.Sprintf(`
		SELECT id, content, layer, category, confidence, created_at, valid_at, expires_at,
		       is_active, session_id, created_by, related_files,
		       1 - (embedding <=> ?) AS score
		FROM vector_points
		WHERE collection = ? %s
		ORDER BY embedding <=> ?, id ASC
		LIMIT ?`, where)
	callArgs := append([]interface{}{vec, name}, args...)
	callArgs = append(callArgs, vec, k)
	rows, err := s.db.WithContext(ctx).Raw(query, callArgs...).Rows()
	if err != nil {
		return nil, &kernelerr.StorageUnavailable{Backend: "pgvector", Cause: err}
	}
	defer rows.Close()

	var hits []registryvector.SearchHit
	for rows.Next() {
		var hit registryvector.SearchHit
		var relatedFiles string
		if err := rows.Scan(&hit.ID, &hit.Payload.Content, &hit.Payload.Layer, &hit.Payload.Category, &hit.Payload.Confidence,
			&hit.Payload.CreatedAt, &hit.Payload.ValidAt, &hit.Payload.ExpiresAt, &hit.Payload.IsActive,
			&hit.Payload.SessionID, &hit.Payload.CreatedBy, &relatedFiles, &hit.Score); err != nil {
			log.Error("pgvector: scan error", "err", err)
			continue
		}
		hit.Payload.RelatedFiles = parseJSONArray(relatedFiles)
		hits = append(hits, hit)
	}
	return hits, nil
}

func (s *Store) Scroll(ctx context.Context, name string, filter registryvector.Filter, cursor string, pageSize int) (registryvector.ScrollPage, error) {
	where, args := compileFilter(filter)
	if cursor != "" {
		where += " AND id > ?"
		args = append(args, cursor)
	}
	query := fmt.Sprintf(`
		SELECT id, embedding, content, layer, category, confidence, created_at, valid_at, expires_at,
		       is_active, session_id, created_by, related_files
		FROM vector_points
		WHERE collection = ? %s
		ORDER BY id ASC
		LIMIT ?`, where)
	callArgs := append([]interface{}{name}, args...)
	callArgs = append(callArgs, pageSize)
	rows, err := s.db.WithContext(ctx).Raw(query, callArgs...).Rows()
	if err != nil {
		return registryvector.ScrollPage{}, &kernelerr.StorageUnavailable{Backend: "pgvector", Cause: err}
	}
	defer rows.Close()

	var page registryvector.ScrollPage
	for rows.Next() {
		var p registryvector.Point
		var vec pgvec.Vector
		var relatedFiles string
		if err := rows.Scan(&p.ID, &vec, &p.Payload.Content, &p.Payload.Layer, &p.Payload.Category, &p.Payload.Confidence,
			&p.Payload.CreatedAt, &p.Payload.ValidAt, &p.Payload.ExpiresAt, &p.Payload.IsActive,
			&p.Payload.SessionID, &p.Payload.CreatedBy, &relatedFiles); err != nil {
			continue
		}
		p.Vector = vec.Slice()
		p.Payload.RelatedFiles = parseJSONArray(relatedFiles)
		page.Points = append(page.Points, p)
	}
	if len(page.Points) == pageSize {
		page.Cursor = page.Points[len(page.Points)-1].ID.String()
	}
	return page, nil
}

func (s *Store) Get(ctx context.Context, name string, id uuid.UUID) (registryvector.Point, error) {
	var p registryvector.Point
	var vec pgvec.Vector
	var relatedFiles string
	row := s.db.WithContext(ctx).Raw(`
		SELECT id, embedding, content, layer, category, confidence, created_at, valid_at, expires_at,
		       is_active, session_id, created_by, related_files
		FROM vector_points
		WHERE collection = ? AND id = ?`, name, id).Row()
	err := row.Scan(&p.ID, &vec, &p.Payload.Content, &p.Payload.Layer, &p.Payload.Category, &p.Payload.Confidence,
		&p.Payload.CreatedAt, &p.Payload.ValidAt, &p.Payload.ExpiresAt, &p.Payload.IsActive,
		&p.Payload.SessionID, &p.Payload.CreatedBy, &relatedFiles)
	if err == sql.ErrNoRows {
		return registryvector.Point{}, registryvector.ErrPointNotFound
	}
	if err != nil {
		return registryvector.Point{}, &kernelerr.StorageUnavailable{Backend: "pgvector", Cause: err}
	}
	p.Vector = vec.Slice()
	p.Payload.RelatedFiles = parseJSONArray(relatedFiles)
	return p, nil
}

func (s *Store) UpdatePayload(ctx context.Context, name string, id uuid.UUID, partial map[string]interface{}) error {
	if len(partial) == 0 {
		return nil
	}
	assignments := ""
	args := make([]interface{}, 0, len(partial)+2)
	i := 0
	for k, v := range partial {
		if i > 0 {
			assignments += ", "
		}
		assignments += fmt.Sprintf("%s = ?", k)
		args = append(args, v)
		i++
	}
	args = append(args, name, id)
	err := s.db.WithContext(ctx).Exec(
		fmt.Sprintf("UPDATE vector_points SET %s WHERE collection = ? AND id = ?", assignments), args...,
	).Error
	if err != nil {
		return &kernelerr.StorageUnavailable{Backend: "pgvector", Cause: err}
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, name string, id uuid.UUID) error {
	err := s.db.WithContext(ctx).Exec(
		"DELETE FROM vector_points WHERE collection = ? AND id = ?", name, id,
	).Error
	if err != nil {
		return &kernelerr.StorageUnavailable{Backend: "pgvector", Cause: err}
	}
	return nil
}

var _ registryvector.VectorStore = (*Store)(nil)
