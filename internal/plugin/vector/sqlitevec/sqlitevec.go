// Package sqlitevec registers the "sqlitevec" local-file Vector Store
// backend: a single SQLite file combining the sqlite-vec virtual table
// extension for ANN search with an ordinary table for the fixed payload
// columns, so single-process deployments need no external database.
package sqlitevec

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/bao243092078-crypto/memory-anchor/internal/config"
	"github.com/bao243092078-crypto/memory-anchor/internal/kernelerr"
	registryvector "github.com/bao243092078-crypto/memory-anchor/internal/registry/vector"
)

func init() {
	sqlite_vec.Auto()
	registryvector.Register(registryvector.Plugin{Name: "sqlitevec", Loader: load})
}

func load(ctx context.Context) (registryvector.VectorStore, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.VectorPath == "" {
		return nil, fmt.Errorf("sqlitevec: vector.path is required")
	}
	db, err := sql.Open("sqlite3", cfg.VectorPath)
	if err != nil {
		return nil, &kernelerr.StorageUnavailable{Backend: "sqlitevec", Cause: err}
	}
	db.SetMaxOpenConns(1) // single-writer SQLite discipline
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		return nil, &kernelerr.StorageUnavailable{Backend: "sqlitevec", Cause: err}
	}
	return &Store{db: db}, nil
}

// Store implements registryvector.VectorStore over a single SQLite file.
// Each collection gets a vec0 virtual table for the embedding and a plain
// table for the fixed payload columns, joined by an integer rowid that a
// side table maps to the caller's UUID.
type Store struct {
	db *sql.DB
}

func (s *Store) Name() string { return "sqlitevec" }

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return &kernelerr.StorageUnavailable{Backend: "sqlitevec", Cause: err}
	}
	return nil
}

func vecTable(name string) string     { return sanitize(name) + "_vec" }
func payloadTable(name string) string { return sanitize(name) + "_payload" }

// sanitize keeps collection-derived table names restricted to characters
// safe to interpolate directly into DDL/DML (project ids are operator
// controlled, not end-user input).
func sanitize(name string) string {
	var b strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

func (s *Store) EnsureCollection(ctx context.Context, name string, dim int) error {
	vt, pt := vecTable(name), payloadTable(name)
	var existingDim sql.NullInt64
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM pragma_table_info('%s')", vt))
	var colCount int
	_ = row.Scan(&colCount)
	if colCount > 0 {
		if err := s.db.QueryRowContext(ctx,
			fmt.Sprintf("SELECT dims FROM %s_meta", vt)).Scan(&existingDim); err == nil {
			if existingDim.Valid && int(existingDim.Int64) != dim {
				return &kernelerr.DimensionMismatch{Got: dim, Want: int(existingDim.Int64)}
			}
		}
		return nil
	}

	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(
		"CREATE VIRTUAL TABLE %s USING vec0(embedding float[%d] distance_metric=cosine)", vt, dim)); err != nil {
		return &kernelerr.StorageUnavailable{Backend: "sqlitevec", Cause: err}
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			rowid INTEGER PRIMARY KEY,
			id TEXT UNIQUE NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			layer TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			confidence REAL NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			valid_at INTEGER,
			expires_at INTEGER,
			is_active INTEGER NOT NULL DEFAULT 1,
			session_id TEXT,
			created_by TEXT NOT NULL DEFAULT '',
			related_files TEXT NOT NULL DEFAULT '[]'
		)`, pt)); err != nil {
		return &kernelerr.StorageUnavailable{Backend: "sqlitevec", Cause: err}
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s_meta (dims INTEGER)", vt)); err != nil {
		return &kernelerr.StorageUnavailable{Backend: "sqlitevec", Cause: err}
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(
		"INSERT INTO %s_meta (dims) VALUES (?)", vt), dim); err != nil {
		return &kernelerr.StorageUnavailable{Backend: "sqlitevec", Cause: err}
	}
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
	pt, vt := payloadTable(name), vecTable(name)
	var errs []registryvector.PointError
	for _, p := range points {
		if err := s.upsertOne(ctx, pt, vt, p); err != nil {
			errs = append(errs, registryvector.PointError{ID: p.ID, Err: err})
		}
	}
	return errs
}

func (s *Store) upsertOne(ctx context.Context, pt, vt string, p registryvector.Point) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &kernelerr.StorageUnavailable{Backend: "sqlitevec", Cause: err}
	}
	defer tx.Rollback()

	files, _ := json.Marshal(p.Payload.RelatedFiles)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, content, layer, category, confidence, created_at, valid_at, expires_at,
			is_active, session_id, created_by, related_files)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content=excluded.content, layer=excluded.layer, category=excluded.category, confidence=excluded.confidence,
			created_at=excluded.created_at, valid_at=excluded.valid_at, expires_at=excluded.expires_at,
			is_active=excluded.is_active, session_id=excluded.session_id, created_by=excluded.created_by,
			related_files=excluded.related_files`, pt),
		p.ID.String(), p.Payload.Content, p.Payload.Layer, p.Payload.Category, p.Payload.Confidence, p.Payload.CreatedAt,
		p.Payload.ValidAt, p.Payload.ExpiresAt, p.Payload.IsActive, p.Payload.SessionID,
		p.Payload.CreatedBy, string(files))
	if err != nil {
		return &kernelerr.StorageUnavailable{Backend: "sqlitevec", Cause: err}
	}
	rowID, err := res.LastInsertId()
	if err != nil {
		return &kernelerr.StorageUnavailable{Backend: "sqlitevec", Cause: err}
	}
	if rowID == 0 {
		if err := tx.QueryRowContext(ctx, fmt.Sprintf("SELECT rowid FROM %s WHERE id = ?", pt), p.ID.String()).Scan(&rowID); err != nil {
			return &kernelerr.StorageUnavailable{Backend: "sqlitevec", Cause: err}
		}
	}
	serialized, err := sqlite_vec.SerializeFloat32(p.Vector)
	if err != nil {
		return &kernelerr.StorageUnavailable{Backend: "sqlitevec", Cause: err}
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		"INSERT INTO %s (rowid, embedding) VALUES (?, ?) ON CONFLICT(rowid) DO UPDATE SET embedding=excluded.embedding",
		vt), rowID, serialized); err != nil {
		return &kernelerr.StorageUnavailable{Backend: "sqlitevec", Cause: err}
	}
	if err := tx.Commit(); err != nil {
		return &kernelerr.StorageUnavailable{Backend: "sqlitevec", Cause: err}
	}
	return nil
}

func (s *Store) Search(ctx context.Context, name string, queryVector []float32, k int, filter registryvector.Filter) ([]registryvector.SearchHit, error) {
	pt, vt := payloadTable(name), vecTable(name)
	where, args := compileFilter(filter, "p")
	serialized, err := sqlite_vec.SerializeFloat32(queryVector)
	if err != nil {
		return nil, &kernelerr.StorageUnavailable{Backend: "sqlitevec", Cause: err}
	}
	query := fmt.Sprintf(`
		SELECT p.id, p.content, p.layer, p.category, p.confidence, p.created_at, p.valid_at, p.expires_at,
		       p.is_active, p.session_id, p.created_by, p.related_files, v.distance
		FROM %s v
		JOIN %s p ON p.rowid = v.rowid
		WHERE v.embedding MATCH ? AND k = ? %s
		ORDER BY v.distance ASC, p.id ASC`, vt, pt, where)
	callArgs := append([]interface{}{serialized, k}, args...)
	rows, err := s.db.QueryContext(ctx, query, callArgs...)
	if err != nil {
		return nil, &kernelerr.StorageUnavailable{Backend: "sqlitevec", Cause: err}
	}
	defer rows.Close()

	var hits []registryvector.SearchHit
	for rows.Next() {
		var idStr, relatedFiles string
		var distance float64
		var hit registryvector.SearchHit
		if err := rows.Scan(&idStr, &hit.Payload.Content, &hit.Payload.Layer, &hit.Payload.Category, &hit.Payload.Confidence,
			&hit.Payload.CreatedAt, &hit.Payload.ValidAt, &hit.Payload.ExpiresAt, &hit.Payload.IsActive,
			&hit.Payload.SessionID, &hit.Payload.CreatedBy, &relatedFiles, &distance); err != nil {
			continue
		}
		hit.ID, _ = uuid.Parse(idStr)
		hit.Score = 1 - distance // vec0 reports cosine distance; score is similarity
		_ = json.Unmarshal([]byte(relatedFiles), &hit.Payload.RelatedFiles)
		hits = append(hits, hit)
	}
	return hits, nil
}

func (s *Store) Scroll(ctx context.Context, name string, filter registryvector.Filter, cursor string, pageSize int) (registryvector.ScrollPage, error) {
	pt, vt := payloadTable(name), vecTable(name)
	where, args := compileFilter(filter, "p")
	if cursor != "" {
		where += " AND p.id > ?"
		args = append(args, cursor)
	}
	query := fmt.Sprintf(`
		SELECT p.id, p.content, p.layer, p.category, p.confidence, p.created_at, p.valid_at, p.expires_at,
		       p.is_active, p.session_id, p.created_by, p.related_files, v.embedding
		FROM %s p
		JOIN %s v ON v.rowid = p.rowid
		WHERE 1=1 %s
		ORDER BY p.id ASC
		LIMIT ?`, pt, vt, where)
	callArgs := append(args, pageSize)
	rows, err := s.db.QueryContext(ctx, query, callArgs...)
	if err != nil {
		return registryvector.ScrollPage{}, &kernelerr.StorageUnavailable{Backend: "sqlitevec", Cause: err}
	}
	defer rows.Close()

	var page registryvector.ScrollPage
	for rows.Next() {
		var idStr, relatedFiles string
		var embedding []byte
		var p registryvector.Point
		if err := rows.Scan(&idStr, &p.Payload.Content, &p.Payload.Layer, &p.Payload.Category, &p.Payload.Confidence,
			&p.Payload.CreatedAt, &p.Payload.ValidAt, &p.Payload.ExpiresAt, &p.Payload.IsActive,
			&p.Payload.SessionID, &p.Payload.CreatedBy, &relatedFiles, &embedding); err != nil {
			continue
		}
		p.ID, _ = uuid.Parse(idStr)
		p.Vector = deserializeFloat32(embedding)
		_ = json.Unmarshal([]byte(relatedFiles), &p.Payload.RelatedFiles)
		page.Points = append(page.Points, p)
	}
	if len(page.Points) == pageSize {
		page.Cursor = page.Points[len(page.Points)-1].ID.String()
	}
	return page, nil
}

func (s *Store) Get(ctx context.Context, name string, id uuid.UUID) (registryvector.Point, error) {
	pt, vt := payloadTable(name), vecTable(name)
	var idStr, relatedFiles string
	var embedding []byte
	var p registryvector.Point
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT p.id, p.content, p.layer, p.category, p.confidence, p.created_at, p.valid_at, p.expires_at,
		       p.is_active, p.session_id, p.created_by, p.related_files, v.embedding
		FROM %s p
		JOIN %s v ON v.rowid = p.rowid
		WHERE p.id = ?`, pt, vt), id.String()).
		Scan(&idStr, &p.Payload.Content, &p.Payload.Layer, &p.Payload.Category, &p.Payload.Confidence,
			&p.Payload.CreatedAt, &p.Payload.ValidAt, &p.Payload.ExpiresAt, &p.Payload.IsActive,
			&p.Payload.SessionID, &p.Payload.CreatedBy, &relatedFiles, &embedding)
	if err == sql.ErrNoRows {
		return registryvector.Point{}, registryvector.ErrPointNotFound
	}
	if err != nil {
		return registryvector.Point{}, &kernelerr.StorageUnavailable{Backend: "sqlitevec", Cause: err}
	}
	p.ID, _ = uuid.Parse(idStr)
	p.Vector = deserializeFloat32(embedding)
	_ = json.Unmarshal([]byte(relatedFiles), &p.Payload.RelatedFiles)
	return p, nil
}

func (s *Store) UpdatePayload(ctx context.Context, name string, id uuid.UUID, partial map[string]interface{}) error {
	if len(partial) == 0 {
		return nil
	}
	pt := payloadTable(name)
	assignments := ""
	args := make([]interface{}, 0, len(partial)+1)
	i := 0
	for k, v := range partial {
		if i > 0 {
			assignments += ", "
		}
		assignments += fmt.Sprintf("%s = ?", k)
		args = append(args, v)
		i++
	}
	args = append(args, id.String())
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", pt, assignments), args...)
	if err != nil {
		return &kernelerr.StorageUnavailable{Backend: "sqlitevec", Cause: err}
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, name string, id uuid.UUID) error {
	pt, vt := payloadTable(name), vecTable(name)
	var rowID int64
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT rowid FROM %s WHERE id = ?", pt), id.String()).Scan(&rowID); err != nil {
		if err == sql.ErrNoRows {
			return nil
		}
		return &kernelerr.StorageUnavailable{Backend: "sqlitevec", Cause: err}
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE rowid = ?", vt), rowID); err != nil {
		return &kernelerr.StorageUnavailable{Backend: "sqlitevec", Cause: err}
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE rowid = ?", pt), rowID); err != nil {
		return &kernelerr.StorageUnavailable{Backend: "sqlitevec", Cause: err}
	}
	return nil
}

// deserializeFloat32 decodes the vec0 blob format (packed little-endian
// float32s), the inverse of sqlite_vec.SerializeFloat32.
func deserializeFloat32(blob []byte) []float32 {
	out := make([]float32, len(blob)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return out
}

var _ registryvector.VectorStore = (*Store)(nil)
