// Package postgres registers the "postgres" server-mode Metadata Store
// backend: pending memories, identity-schema changes, checklist items and
// archived sessions held in Postgres via GORM, with the optimistic-lock
// status transition implemented as a single conditional UPDATE.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/bao243092078-crypto/memory-anchor/internal/config"
	"github.com/bao243092078-crypto/memory-anchor/internal/model"
	registrymetadata "github.com/bao243092078-crypto/memory-anchor/internal/registry/metadata"
	registrymigrate "github.com/bao243092078-crypto/memory-anchor/internal/registry/migrate"
)

//go:embed schema.sql
var schemaSQL string

type migrator struct{}

func (m *migrator) Name() string { return "metadata-postgres-schema" }
func (m *migrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.MigrateAtStart || cfg.MetadataBackend != "postgres" {
		return nil
	}
	log.Info("running migration", "name", m.Name())
	db, err := gorm.Open(postgres.Open(cfg.MetadataURL), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("metadata postgres migrate: %w", err)
	}
	return db.Exec(schemaSQL).Error
}

func init() {
	registrymetadata.Register(registrymetadata.Plugin{Name: "postgres", Loader: load})
	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &migrator{}})
}

func load(ctx context.Context) (registrymetadata.MetadataStore, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.MetadataURL == "" {
		return nil, fmt.Errorf("metadata postgres: metadata.url is required")
	}
	db, err := gorm.Open(postgres.Open(cfg.MetadataURL), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("metadata postgres: %w", err)
	}
	return &Store{db: db}, nil
}

// Store implements registrymetadata.MetadataStore against Postgres.
type Store struct {
	db *gorm.DB
}

func (s *Store) Name() string { return "postgres" }

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

// --- row shapes (GORM-tagged, JSON columns marshaled by hand for portability) ---

type pendingRow struct {
	ID           uuid.UUID  `gorm:"column:id"`
	Content      string     `gorm:"column:content"`
	Layer        string     `gorm:"column:layer"`
	Category     string     `gorm:"column:category"`
	Confidence   float64    `gorm:"column:confidence"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
	UpdatedAt    time.Time  `gorm:"column:updated_at"`
	ValidAt      *time.Time `gorm:"column:valid_at"`
	ExpiresAt    *time.Time `gorm:"column:expires_at"`
	CreatedBy    string     `gorm:"column:created_by"`
	SessionID    *string    `gorm:"column:session_id"`
	RelatedFiles string     `gorm:"column:related_files"`
	Status       string     `gorm:"column:status"`
	Proposer     string     `gorm:"column:proposer"`
	Reason       string     `gorm:"column:reason"`
	TargetID     *uuid.UUID `gorm:"column:target_id"`
	ChangeType   string     `gorm:"column:change_type"`
	Approvals    string     `gorm:"column:approvals"`
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
	return pendingRow{
		ID: p.ID, Content: p.Content, Layer: string(p.Layer), Category: string(p.Category),
		Confidence: p.Confidence, CreatedAt: p.CreatedAt, UpdatedAt: p.UpdatedAt,
		ValidAt: p.ValidAt, ExpiresAt: p.ExpiresAt, CreatedBy: p.CreatedBy,
		SessionID: p.SessionID, RelatedFiles: string(files), Status: string(p.Status),
		Proposer: p.Proposer, Reason: p.Reason, TargetID: p.TargetID,
		ChangeType: string(p.ChangeType), Approvals: string(approvals),
	}, nil
}

func fromPendingRow(r pendingRow) model.PendingMemory {
	var files []string
	var approvals []model.Approval
	_ = json.Unmarshal([]byte(r.RelatedFiles), &files)
	_ = json.Unmarshal([]byte(r.Approvals), &approvals)
	return model.PendingMemory{
		ID: r.ID, Content: r.Content, Layer: model.Layer(r.Layer), Category: model.Category(r.Category),
		Confidence: r.Confidence, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
		ValidAt: r.ValidAt, ExpiresAt: r.ExpiresAt, CreatedBy: r.CreatedBy,
		SessionID: r.SessionID, RelatedFiles: files, Status: model.PendingStatus(r.Status),
		Proposer: r.Proposer, Reason: r.Reason, TargetID: r.TargetID,
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
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
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
	return s.db.WithContext(ctx).Where("id = ?", id).Delete(&pendingRow{}).Error
}

// AppendApproval guards its UPDATE on the exact approvals JSON just read
// (not only the primary key), so two concurrent approvers racing on the
// same pending memory cannot silently clobber one another: the loser's
// WHERE clause matches zero rows and it gets ErrNoRow instead of a
// successful write that discards the other approval.
func (s *Store) AppendApproval(ctx context.Context, id uuid.UUID, a model.Approval) (model.PendingMemory, error) {
	var row pendingRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
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
		Where("id = ? AND approvals = ? AND status = ?", id, row.Approvals, string(model.PendingStatusPending)).
		Updates(map[string]interface{}{"approvals": string(approvals), "updated_at": p.UpdatedAt})
	if result.Error != nil {
		return model.PendingMemory{}, result.Error
	}
	if result.RowsAffected == 0 {
		return model.PendingMemory{}, registrymetadata.ErrNoRow
	}
	return p, nil
}

type identityRow struct {
	ChangeID        uuid.UUID  `gorm:"column:change_id"`
	TargetID        *uuid.UUID `gorm:"column:target_id"`
	ChangeType      string     `gorm:"column:change_type"`
	ProposedContent string     `gorm:"column:proposed_content"`
	Category        string     `gorm:"column:category"`
	Reason          string     `gorm:"column:reason"`
	Status          string     `gorm:"column:status"`
	ApprovalsCount  int        `gorm:"column:approvals_count"`
	Approvals       string     `gorm:"column:approvals"`
	CreatedAt       time.Time  `gorm:"column:created_at"`
	UpdatedAt       time.Time  `gorm:"column:updated_at"`
	AppliedAt       *time.Time `gorm:"column:applied_at"`
}

func (identityRow) TableName() string { return "identity_changes" }

func toIdentityRow(c model.IdentityChange) (identityRow, error) {
	approvals, err := json.Marshal(c.Approvals)
	if err != nil {
		return identityRow{}, err
	}
	return identityRow{
		ChangeID: c.ChangeID, TargetID: c.TargetID, ChangeType: string(c.ChangeType),
		ProposedContent: c.ProposedContent, Category: string(c.Category), Reason: c.Reason,
		Status: string(c.Status), ApprovalsCount: c.ApprovalsCount, Approvals: string(approvals),
		CreatedAt: c.CreatedAt, UpdatedAt: c.UpdatedAt, AppliedAt: c.AppliedAt,
	}, nil
}

func fromIdentityRow(r identityRow) model.IdentityChange {
	var approvals []model.Approval
	_ = json.Unmarshal([]byte(r.Approvals), &approvals)
	return model.IdentityChange{
		ChangeID: r.ChangeID, TargetID: r.TargetID, ChangeType: model.ChangeType(r.ChangeType),
		ProposedContent: r.ProposedContent, Category: model.Category(r.Category), Reason: r.Reason,
		Status: model.IdentityChangeStatus(r.Status), ApprovalsCount: r.ApprovalsCount, Approvals: approvals,
		CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt, AppliedAt: r.AppliedAt,
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
	err := s.db.WithContext(ctx).Where("change_id = ?", changeID).Take(&row).Error
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
	if err := s.db.WithContext(ctx).Where("change_id = ?", changeID).Take(&row).Error; err != nil {
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
	updates := map[string]interface{}{
		"approvals":       string(approvals),
		"approvals_count": c.ApprovalsCount,
		"updated_at":      c.UpdatedAt,
	}
	result := s.db.WithContext(ctx).Model(&identityRow{}).
		Where("change_id = ? AND approvals = ? AND status = ? AND approvals_count < ?",
			changeID, row.Approvals, string(model.IdentityStatusPending), approvalsNeeded).Updates(updates)
	if result.Error != nil {
		return model.IdentityChange{}, result.Error
	}
	if result.RowsAffected == 0 {
		return model.IdentityChange{}, registrymetadata.ErrNoRow
	}
	return c, nil
}

// tableIDColumn maps a logical table name to its primary-key column, since
// pending_memories and identity_changes don't share an id column name.
func tableIDColumn(table string) (string, error) {
	switch table {
	case "pending_memories":
		return "id", nil
	case "identity_changes":
		return "change_id", nil
	default:
		return "", fmt.Errorf("metadata postgres: unknown lockable table %q", table)
	}
}

func (s *Store) TryLock(ctx context.Context, table string, id uuid.UUID, expectedStatus, newStatus string) error {
	idCol, err := tableIDColumn(table)
	if err != nil {
		return err
	}
	result := s.db.WithContext(ctx).Exec(
		fmt.Sprintf("UPDATE %s SET status = ?, updated_at = now() WHERE %s = ? AND status = ?", table, idCol),
		newStatus, id, expectedStatus)
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
		fmt.Sprintf("UPDATE %s SET status = ?, updated_at = now() WHERE %s = ?", table, idCol),
		backToStatus, id).Error
}

func (s *Store) ScanStuckProcessing(ctx context.Context) (int, error) {
	total := 0
	for _, table := range []string{"pending_memories", "identity_changes"} {
		result := s.db.WithContext(ctx).Exec(fmt.Sprintf(
			"UPDATE %s SET status = 'pending', updated_at = now() WHERE status = 'processing'", table))
		if result.Error != nil {
			return total, result.Error
		}
		total += int(result.RowsAffected)
	}
	return total, nil
}

type checklistRow struct {
	ID          uuid.UUID  `gorm:"column:id"`
	ProjectID   string     `gorm:"column:project_id"`
	Content     string     `gorm:"column:content"`
	Status      string     `gorm:"column:status"`
	Scope       string     `gorm:"column:scope"`
	Priority    int        `gorm:"column:priority"`
	Tags        string     `gorm:"column:tags"`
	CreatedAt   time.Time  `gorm:"column:created_at"`
	UpdatedAt   time.Time  `gorm:"column:updated_at"`
	CompletedAt *time.Time `gorm:"column:completed_at"`
	ExpiresAt   *time.Time `gorm:"column:expires_at"`
}

func (checklistRow) TableName() string { return "checklist_items" }

func toChecklistRow(c model.ChecklistItem) (checklistRow, error) {
	tags, err := json.Marshal(c.Tags)
	if err != nil {
		return checklistRow{}, err
	}
	return checklistRow{
		ID: c.ID, ProjectID: c.ProjectID, Content: c.Content, Status: string(c.Status),
		Scope: string(c.Scope), Priority: c.Priority, Tags: string(tags),
		CreatedAt: c.CreatedAt, UpdatedAt: c.UpdatedAt, CompletedAt: c.CompletedAt, ExpiresAt: c.ExpiresAt,
	}, nil
}

func fromChecklistRow(r checklistRow) model.ChecklistItem {
	var tags []string
	_ = json.Unmarshal([]byte(r.Tags), &tags)
	return model.ChecklistItem{
		ID: r.ID, ProjectID: r.ProjectID, Content: r.Content, Status: model.ChecklistStatus(r.Status),
		Scope: model.ChecklistScope(r.Scope), Priority: r.Priority, Tags: tags,
		CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt, CompletedAt: r.CompletedAt, ExpiresAt: r.ExpiresAt,
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
	updates := map[string]interface{}{"updated_at": time.Now().UTC()}
	if patch.Content != nil {
		updates["content"] = *patch.Content
	}
	if patch.Status != nil {
		updates["status"] = string(*patch.Status)
		if *patch.Status == model.ChecklistDone {
			now := time.Now().UTC()
			updates["completed_at"] = &now
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
	result := s.db.WithContext(ctx).Model(&checklistRow{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return model.ChecklistItem{}, result.Error
	}
	if result.RowsAffected == 0 {
		return model.ChecklistItem{}, registrymetadata.ErrNoRow
	}
	return s.GetChecklistItem(ctx, id)
}

func (s *Store) DeleteChecklistItem(ctx context.Context, id uuid.UUID) error {
	return s.db.WithContext(ctx).Where("id = ?", id).Delete(&checklistRow{}).Error
}

func (s *Store) GetChecklistItem(ctx context.Context, id uuid.UUID) (model.ChecklistItem, error) {
	var row checklistRow
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
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
	SessionID      string     `gorm:"column:session_id"`
	StartedAt      time.Time  `gorm:"column:started_at"`
	SourceFiles    string     `gorm:"column:source_files"`
	MemoryOpsCount int        `gorm:"column:memory_ops_count"`
	FileModsCount  int        `gorm:"column:file_mods_count"`
	EndedAt        *time.Time `gorm:"column:ended_at"`
	Summary        string     `gorm:"column:summary"`
}

func (sessionRow) TableName() string { return "session_archive" }

func (s *Store) ArchiveSession(ctx context.Context, state model.SessionState, summary string) error {
	files, err := json.Marshal(state.SourceFiles)
	if err != nil {
		return err
	}
	row := sessionRow{
		SessionID: state.SessionID, StartedAt: state.StartedAt, SourceFiles: string(files),
		MemoryOpsCount: state.MemoryOpsCount, FileModsCount: state.FileModsCount,
		EndedAt: state.EndedAt, Summary: summary,
	}
	return s.db.WithContext(ctx).Exec(`
		INSERT INTO session_archive (session_id, started_at, source_files, memory_ops_count,
			file_mods_count, ended_at, summary)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET
			started_at = EXCLUDED.started_at, source_files = EXCLUDED.source_files,
			memory_ops_count = EXCLUDED.memory_ops_count, file_mods_count = EXCLUDED.file_mods_count,
			ended_at = EXCLUDED.ended_at, summary = EXCLUDED.summary`,
		row.SessionID, row.StartedAt, row.SourceFiles, row.MemoryOpsCount,
		row.FileModsCount, row.EndedAt, row.Summary).Error
}

var _ registrymetadata.MetadataStore = (*Store)(nil)
