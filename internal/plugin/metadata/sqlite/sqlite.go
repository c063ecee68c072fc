// Package sqlite registers the "sqlite" local-file Metadata Store backend,
// the single-process counterpart to the postgres plugin, for deployments
// with no external database.
package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/bao243092078-crypto/memory-anchor/internal/config"
	"github.com/bao243092078-crypto/memory-anchor/internal/model"
	registrymetadata "github.com/bao243092078-crypto/memory-anchor/internal/registry/metadata"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS pending_memories (
	id TEXT PRIMARY KEY,
	content TEXT NOT NULL,
	layer TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	confidence REAL NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	valid_at TEXT,
	expires_at TEXT,
	created_by TEXT NOT NULL DEFAULT '',
	session_id TEXT,
	related_files TEXT NOT NULL DEFAULT '[]',
	status TEXT NOT NULL DEFAULT 'pending',
	proposer TEXT NOT NULL DEFAULT '',
	reason TEXT NOT NULL DEFAULT '',
	target_id TEXT,
	change_type TEXT NOT NULL DEFAULT 'create',
	approvals TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS pending_memories_status_idx ON pending_memories (status);

CREATE TABLE IF NOT EXISTS identity_changes (
	change_id TEXT PRIMARY KEY,
	target_id TEXT,
	change_type TEXT NOT NULL DEFAULT 'create',
	proposed_content TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	reason TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	approvals_count INTEGER NOT NULL DEFAULT 0,
	approvals TEXT NOT NULL DEFAULT '[]',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	applied_at TEXT
);
CREATE INDEX IF NOT EXISTS identity_changes_status_idx ON identity_changes (status);

CREATE TABLE IF NOT EXISTS checklist_items (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	content TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'open',
	scope TEXT NOT NULL DEFAULT 'project',
	priority INTEGER NOT NULL DEFAULT 3,
	tags TEXT NOT NULL DEFAULT '[]',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	completed_at TEXT,
	expires_at TEXT
);
CREATE INDEX IF NOT EXISTS checklist_items_project_idx ON checklist_items (project_id, status);

CREATE TABLE IF NOT EXISTS session_archive (
	session_id TEXT PRIMARY KEY,
	started_at TEXT NOT NULL,
	source_files TEXT NOT NULL DEFAULT '[]',
	memory_ops_count INTEGER NOT NULL DEFAULT 0,
	file_mods_count INTEGER NOT NULL DEFAULT 0,
	ended_at TEXT,
	summary TEXT NOT NULL DEFAULT '',
	archived_at TEXT NOT NULL
);
`

func init() {
	registrymetadata.Register(registrymetadata.Plugin{Name: "sqlite", Loader: load})
}

func load(ctx context.Context) (registrymetadata.MetadataStore, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.MetadataPath == "" {
		return nil, fmt.Errorf("metadata sqlite: metadata.path is required")
	}
	db, err := gorm.Open(sqlite.Open(cfg.MetadataPath), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("metadata sqlite: %w", err)
	}
	if err := db.Exec("PRAGMA journal_mode=WAL").Error; err != nil {
		return nil, fmt.Errorf("metadata sqlite: %w", err)
	}
	return &Store{db: db}, nil
}

// Store implements registrymetadata.MetadataStore against a local SQLite file.
type Store struct {
	db *gorm.DB
}

func (s *Store) Name() string { return "sqlite" }

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).Exec(schemaSQL).Error
}

func timeStr(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }
func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
func timePtrStr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := timeStr(*t)
	return &s
}
func parseTimePtr(s *string) *time.Time {
	if s == nil || *s == "" {
		return nil
	}
	t := parseTime(*s)
	return &t
}

type pendingRow struct {
	ID           string  `gorm:"column:id"`
	Content      string  `gorm:"column:content"`
	Layer        string  `gorm:"column:layer"`
	Category     string  `gorm:"column:category"`
	Confidence   float64 `gorm:"column:confidence"`
	CreatedAt    string  `gorm:"column:created_at"`
	UpdatedAt    string  `gorm:"column:updated_at"`
	ValidAt      *string `gorm:"column:valid_at"`
	ExpiresAt    *string `gorm:"column:expires_at"`
	CreatedBy    string  `gorm:"column:created_by"`
	SessionID    *string `gorm:"column:session_id"`
	RelatedFiles string  `gorm:"column:related_files"`
	Status       string  `gorm:"column:status"`
	Proposer     string  `gorm:"column:proposer"`
	Reason       string  `gorm:"column:reason"`
	TargetID     *string `gorm:"column:target_id"`
	ChangeType   string  `gorm:"column:change_type"`
	Approvals    string  `gorm:"column:approvals"`
}

func (pendingRow) TableName() string { return "pending_memories" }

func toPendingRow(p model.PendingMemory) (pendingRow, error) {
	files, err := json.Marshal(p.RelatedFiles)
	if err != nil {
		return pendingRow{}, err
	}
	approvals, err := json.Marshal(p.Approvals)
	if err != nil {
		return pendingRow{}, err
	}
	var targetID *string
	if p.TargetID != nil {
		s := p.TargetID.String()
		targetID = &s
	}
	return pendingRow{
		ID: p.ID.String(), Content: p.Content, Layer: string(p.Layer), Category: string(p.Category),
		Confidence: p.Confidence, CreatedAt: timeStr(p.CreatedAt), UpdatedAt: timeStr(p.UpdatedAt),
		ValidAt: timePtrStr(p.ValidAt), ExpiresAt: timePtrStr(p.ExpiresAt), CreatedBy: p.CreatedBy,
		SessionID: p.SessionID, RelatedFiles: string(files), Status: string(p.Status),
		Proposer: p.Proposer, Reason: p.Reason, TargetID: targetID,
		ChangeType: string(p.ChangeType), Approvals: string(approvals),
	}, nil
}

func fromPendingRow(r pendingRow) model.PendingMemory {
	var files []string
	var approvals []model.Approval
	_ = json.Unmarshal([]byte(r.RelatedFiles), &files)
	_ = json.Unmarshal([]byte(r.Approvals), &approvals)
	var targetID *uuid.UUID
	if r.TargetID != nil {
		if id, err := uuid.Parse(*r.TargetID); err == nil {
			targetID = &id
		}
	}
	id, _ := uuid.Parse(r.ID)
	return model.PendingMemory{
		ID: id, Content: r.Content, Layer: model.Layer(r.Layer), Category: model.Category(r.Category),
		Confidence: r.Confidence, CreatedAt: parseTime(r.CreatedAt), UpdatedAt: parseTime(r.UpdatedAt),
		ValidAt: parseTimePtr(r.ValidAt), ExpiresAt: parseTimePtr(r.ExpiresAt), CreatedBy: r.CreatedBy,
		SessionID: r.SessionID, RelatedFiles: files, Status: model.PendingStatus(r.Status),
		Proposer: r.Proposer, Reason: r.Reason, TargetID: targetID,
		ChangeType: model.ChangeType(r.ChangeType), Approvals: approvals,
	}
}

func (s *Store) InsertPending(ctx context.Context, p model.PendingMemory) error {
	row, err := toPendingRow(p)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *Store) GetPending(ctx context.Context, id uuid.UUID) (model.PendingMemory, error) {
	var row pendingRow
	err := s.db.WithContext(ctx).Where("id = ?", id.String()).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.PendingMemory{}, registrymetadata.ErrNoRow
	}
	if err != nil {
		return model.PendingMemory{}, err
	}
	return fromPendingRow(row), nil
}

func (s *Store) ListPending(ctx context.Context, status model.PendingStatus) ([]model.PendingMemory, error) {
	q := s.db.WithContext(ctx).Model(&pendingRow{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var rows []pendingRow
	if err := q.Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.PendingMemory, len(rows))
	for i, r := range rows {
		out[i] = fromPendingRow(r)
	}
	return out, nil
}

func (s *Store) DeletePending(ctx context.Context, id uuid.UUID) error {
	return s.db.WithContext(ctx).Where("id = ?", id.String()).Delete(&pendingRow{}).Error
}

// AppendApproval guards its UPDATE on the exact approvals JSON just read
// (not only the primary key), so two concurrent approvers racing on the
// same pending memory cannot silently clobber one another: the loser's
// WHERE clause matches zero rows and it gets ErrNoRow instead of a
// successful write that discards the other approval.
func (s *Store) AppendApproval(ctx context.Context, id uuid.UUID, a model.Approval) (model.PendingMemory, error) {
	var row pendingRow
	if err := s.db.WithContext(ctx).Where("id = ?", id.String()).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.PendingMemory{}, registrymetadata.ErrNoRow
		}
		return model.PendingMemory{}, err
	}
	p := fromPendingRow(row)
	p.Approvals = append(p.Approvals, a)
	p.UpdatedAt = a.Timestamp
	approvals, err := json.Marshal(p.Approvals)
	if err != nil {
		return model.PendingMemory{}, err
	}
	result := s.db.WithContext(ctx).Model(&pendingRow{}).
		Where("id = ? AND approvals = ? AND status = ?", id.String(), row.Approvals, string(model.PendingStatusPending)).
		Updates(map[string]interface{}{"approvals": string(approvals), "updated_at": timeStr(p.UpdatedAt)})
	if result.Error != nil {
		return model.PendingMemory{}, result.Error
	}
	if result.RowsAffected == 0 {
		return model.PendingMemory{}, registrymetadata.ErrNoRow
	}
	return p, nil
}

type identityRow struct {
	ChangeID        string  `gorm:"column:change_id"`
	TargetID        *string `gorm:"column:target_id"`
	ChangeType      string  `gorm:"column:change_type"`
	ProposedContent string  `gorm:"column:proposed_content"`
	Category        string  `gorm:"column:category"`
	Reason          string  `gorm:"column:reason"`
	Status          string  `gorm:"column:status"`
	ApprovalsCount  int     `gorm:"column:approvals_count"`
	Approvals       string  `gorm:"column:approvals"`
	CreatedAt       string  `gorm:"column:created_at"`
	UpdatedAt       string  `gorm:"column:updated_at"`
	AppliedAt       *string `gorm:"column:applied_at"`
}

func (identityRow) TableName() string { return "identity_changes" }

func toIdentityRow(c model.IdentityChange) (identityRow, error) {
	approvals, err := json.Marshal(c.Approvals)
	if err != nil {
		return identityRow{}, err
	}
	var targetID *string
	if c.TargetID != nil {
		s := c.TargetID.String()
		targetID = &s
	}
	return identityRow{
		ChangeID: c.ChangeID.String(), TargetID: targetID, ChangeType: string(c.ChangeType),
		ProposedContent: c.ProposedContent, Category: string(c.Category), Reason: c.Reason,
		Status: string(c.Status), ApprovalsCount: c.ApprovalsCount, Approvals: string(approvals),
		CreatedAt: timeStr(c.CreatedAt), UpdatedAt: timeStr(c.UpdatedAt), AppliedAt: timePtrStr(c.AppliedAt),
	}, nil
}

func fromIdentityRow(r identityRow) model.IdentityChange {
	var approvals []model.Approval
	_ = json.Unmarshal([]byte(r.Approvals), &approvals)
	var targetID *uuid.UUID
	if r.TargetID != nil {
		if id, err := uuid.Parse(*r.TargetID); err == nil {
			targetID = &id
		}
	}
	changeID, _ := uuid.Parse(r.ChangeID)
	return model.IdentityChange{
		ChangeID: changeID, TargetID: targetID, ChangeType: model.ChangeType(r.ChangeType),
		ProposedContent: r.ProposedContent, Category: model.Category(r.Category), Reason: r.Reason,
		Status: model.IdentityChangeStatus(r.Status), ApprovalsCount: r.ApprovalsCount, Approvals: approvals,
		CreatedAt: parseTime(r.CreatedAt), UpdatedAt: parseTime(r.UpdatedAt), AppliedAt: parseTimePtr(r.AppliedAt),
	}
}

func (s *Store) InsertIdentityChange(ctx context.Context, c model.IdentityChange) error {
	row, err := toIdentityRow(c)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *Store) GetIdentityChange(ctx context.Context, changeID uuid.UUID) (model.IdentityChange, error) {
	var row identityRow
	err := s.db.WithContext(ctx).Where("change_id = ?", changeID.String()).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.IdentityChange{}, registrymetadata.ErrNoRow
	}
	if err != nil {
		return model.IdentityChange{}, err
	}
	return fromIdentityRow(row), nil
}

func (s *Store) ListIdentityChanges(ctx context.Context, status model.IdentityChangeStatus) ([]model.IdentityChange, error) {
	q := s.db.WithContext(ctx).Model(&identityRow{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var rows []identityRow
	if err := q.Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.IdentityChange, len(rows))
	for i, r := range rows {
		out[i] = fromIdentityRow(r)
	}
	return out, nil
}

// AppendIdentityApproval guards its UPDATE on the exact approvals JSON
// just read, plus status='pending' and approvals_count < approvalsNeeded
// in one atomic statement: the same optimistic discipline as
// AppendApproval so two approvers racing on the same change_id cannot
// both succeed and silently lose one of the votes, and the count bound
// so an approver arriving after quorum is already reached (but before
// the winning approver's TryLock flips status away from pending) cannot
// still sneak in a 4th vote — approvals_count never exceeds
// approvalsNeeded for a given change.
func (s *Store) AppendIdentityApproval(ctx context.Context, changeID uuid.UUID, a model.Approval, approvalsNeeded int) (model.IdentityChange, error) {
	var row identityRow
	if err := s.db.WithContext(ctx).Where("change_id = ?", changeID.String()).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.IdentityChange{}, registrymetadata.ErrNoRow
		}
		return model.IdentityChange{}, err
	}
	c := fromIdentityRow(row)
	if c.Status != model.IdentityStatusPending || c.ApprovalsCount >= approvalsNeeded {
		return model.IdentityChange{}, registrymetadata.ErrNoRow
	}
	for _, existing := range c.Approvals {
		if existing.Approver == a.Approver {
			return model.IdentityChange{}, fmt.Errorf("approver %q already approved change %s", a.Approver, changeID)
		}
	}
	c.Approvals = append(c.Approvals, a)
	c.ApprovalsCount = len(c.Approvals)
	c.UpdatedAt = a.Timestamp
	approvals, err := json.Marshal(c.Approvals)
	if err != nil {
		return model.IdentityChange{}, err
	}
	result := s.db.WithContext(ctx).Model(&identityRow{}).
		Where("change_id = ? AND approvals = ? AND status = ? AND approvals_count < ?",
			changeID.String(), row.Approvals, string(model.IdentityStatusPending), approvalsNeeded).
		Updates(map[string]interface{}{
			"approvals":       string(approvals),
			"approvals_count": c.ApprovalsCount,
			"updated_at":      timeStr(c.UpdatedAt),
		})
	if result.Error != nil {
		return model.IdentityChange{}, result.Error
	}
	if result.RowsAffected == 0 {
		return model.IdentityChange{}, registrymetadata.ErrNoRow
	}
	return c, nil
}

func tableIDColumn(table string) (string, error) {
	switch table {
	case "pending_memories":
		return "id", nil
	case "identity_changes":
		return "change_id", nil
	default:
		return "", fmt.Errorf("metadata sqlite: unknown lockable table %q", table)
	}
}

func (s *Store) TryLock(ctx context.Context, table string, id uuid.UUID, expectedStatus, newStatus string) error {
	idCol, err := tableIDColumn(table)
	if err != nil {
		return err
	}
	result := s.db.WithContext(ctx).Exec(
		fmt.Sprintf("UPDATE %s SET status = ?, updated_at = ? WHERE %s = ? AND status = ?", table, idCol),
		newStatus, timeStr(time.Now()), id.String(), expectedStatus)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected != 1 {
		return registrymetadata.ErrNoRow
	}
	return nil
}

func (s *Store) Unlock(ctx context.Context, table string, id uuid.UUID, backToStatus string) error {
	idCol, err := tableIDColumn(table)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Exec(
		fmt.Sprintf("UPDATE %s SET status = ?, updated_at = ? WHERE %s = ?", table, idCol),
		backToStatus, timeStr(time.Now()), id.String()).Error
}

func (s *Store) ScanStuckProcessing(ctx context.Context) (int, error) {
	total := 0
	for _, table := range []string{"pending_memories", "identity_changes"} {
		result := s.db.WithContext(ctx).Exec(fmt.Sprintf(
			"UPDATE %s SET status = 'pending', updated_at = ? WHERE status = 'processing'", table),
			timeStr(time.Now()))
		if result.Error != nil {
			return total, result.Error
		}
		total += int(result.RowsAffected)
	}
	return total, nil
}

type checklistRow struct {
	ID          string  `gorm:"column:id"`
	ProjectID   string  `gorm:"column:project_id"`
	Content     string  `gorm:"column:content"`
	Status      string  `gorm:"column:status"`
	Scope       string  `gorm:"column:scope"`
	Priority    int     `gorm:"column:priority"`
	Tags        string  `gorm:"column:tags"`
	CreatedAt   string  `gorm:"column:created_at"`
	UpdatedAt   string  `gorm:"column:updated_at"`
	CompletedAt *string `gorm:"column:completed_at"`
	ExpiresAt   *string `gorm:"column:expires_at"`
}

func (checklistRow) TableName() string { return "checklist_items" }

func toChecklistRow(c model.ChecklistItem) (checklistRow, error) {
	tags, err := json.Marshal(c.Tags)
	if err != nil {
		return checklistRow{}, err
	}
	return checklistRow{
		ID: c.ID.String(), ProjectID: c.ProjectID, Content: c.Content, Status: string(c.Status),
		Scope: string(c.Scope), Priority: c.Priority, Tags: string(tags),
		CreatedAt: timeStr(c.CreatedAt), UpdatedAt: timeStr(c.UpdatedAt),
		CompletedAt: timePtrStr(c.CompletedAt), ExpiresAt: timePtrStr(c.ExpiresAt),
	}, nil
}

func fromChecklistRow(r checklistRow) model.ChecklistItem {
	var tags []string
	_ = json.Unmarshal([]byte(r.Tags), &tags)
	id, _ := uuid.Parse(r.ID)
	return model.ChecklistItem{
		ID: id, ProjectID: r.ProjectID, Content: r.Content, Status: model.ChecklistStatus(r.Status),
		Scope: model.ChecklistScope(r.Scope), Priority: r.Priority, Tags: tags,
		CreatedAt: parseTime(r.CreatedAt), UpdatedAt: parseTime(r.UpdatedAt),
		CompletedAt: parseTimePtr(r.CompletedAt), ExpiresAt: parseTimePtr(r.ExpiresAt),
	}
}

func (s *Store) InsertChecklistItem(ctx context.Context, item model.ChecklistItem) error {
	row, err := toChecklistRow(item)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *Store) UpdateChecklistItem(ctx context.Context, id uuid.UUID, patch registrymetadata.ChecklistPatch) (model.ChecklistItem, error) {
	updates := map[string]interface{}{"updated_at": timeStr(time.Now())}
	if patch.Content != nil {
		updates["content"] = *patch.Content
	}
	if patch.Status != nil {
		updates["status"] = string(*patch.Status)
		if *patch.Status == model.ChecklistDone {
			updates["completed_at"] = timeStr(time.Now())
		}
	}
	if patch.Priority != nil {
		updates["priority"] = *patch.Priority
	}
	if patch.Tags != nil {
		tags, err := json.Marshal(patch.Tags)
		if err != nil {
			return model.ChecklistItem{}, err
		}
		updates["tags"] = string(tags)
	}
	result := s.db.WithContext(ctx).Model(&checklistRow{}).Where("id = ?", id.String()).Updates(updates)
	if result.Error != nil {
		return model.ChecklistItem{}, result.Error
	}
	if result.RowsAffected == 0 {
		return model.ChecklistItem{}, registrymetadata.ErrNoRow
	}
	return s.GetChecklistItem(ctx, id)
}

func (s *Store) DeleteChecklistItem(ctx context.Context, id uuid.UUID) error {
	return s.db.WithContext(ctx).Where("id = ?", id.String()).Delete(&checklistRow{}).Error
}

func (s *Store) GetChecklistItem(ctx context.Context, id uuid.UUID) (model.ChecklistItem, error) {
	var row checklistRow
	err := s.db.WithContext(ctx).Where("id = ?", id.String()).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.ChecklistItem{}, registrymetadata.ErrNoRow
	}
	if err != nil {
		return model.ChecklistItem{}, err
	}
	return fromChecklistRow(row), nil
}

func (s *Store) ListChecklistItems(ctx context.Context, projectID string, filter registrymetadata.ChecklistFilter) ([]model.ChecklistItem, error) {
	q := s.db.WithContext(ctx).Model(&checklistRow{}).Where("project_id = ?", projectID)
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Scope != "" {
		q = q.Where("scope = ?", filter.Scope)
	}
	var rows []checklistRow
	if err := q.Order("priority ASC, created_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.ChecklistItem, len(rows))
	for i, r := range rows {
		out[i] = fromChecklistRow(r)
	}
	return out, nil
}

type sessionRow struct {
	SessionID      string  `gorm:"column:session_id"`
	StartedAt      string  `gorm:"column:started_at"`
	SourceFiles    string  `gorm:"column:source_files"`
	MemoryOpsCount int     `gorm:"column:memory_ops_count"`
	FileModsCount  int     `gorm:"column:file_mods_count"`
	EndedAt        *string `gorm:"column:ended_at"`
	Summary        string  `gorm:"column:summary"`
	ArchivedAt     string  `gorm:"column:archived_at"`
}

func (sessionRow) TableName() string { return "session_archive" }

func (s *Store) ArchiveSession(ctx context.Context, state model.SessionState, summary string) error {
	files, err := json.Marshal(state.SourceFiles)
	if err != nil {
		return err
	}
	row := sessionRow{
		SessionID: state.SessionID, StartedAt: timeStr(state.StartedAt), SourceFiles: string(files),
		MemoryOpsCount: state.MemoryOpsCount, FileModsCount: state.FileModsCount,
		EndedAt: timePtrStr(state.EndedAt), Summary: summary, ArchivedAt: timeStr(time.Now()),
	}
	return s.db.WithContext(ctx).Exec(`
		INSERT INTO session_archive (session_id, started_at, source_files, memory_ops_count,
			file_mods_count, ended_at, summary, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET
			started_at = excluded.started_at, source_files = excluded.source_files,
			memory_ops_count = excluded.memory_ops_count, file_mods_count = excluded.file_mods_count,
			ended_at = excluded.ended_at, summary = excluded.summary, archived_at = excluded.archived_at`,
		row.SessionID, row.StartedAt, row.SourceFiles, row.MemoryOpsCount,
		row.FileModsCount, row.EndedAt, row.Summary, row.ArchivedAt).Error
}

var _ registrymetadata.MetadataStore = (*Store)(nil)
