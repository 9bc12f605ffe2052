package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/billingworks/creditledger/pkg/credits"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	constraintWorkspacePrimary = "workspaces_pkey"
	defaultMetadataJSON        = "{}"
	pgUniqueViolationCode      = "23505"
	sqliteConstraintCode       = 19
	errorOperationStore        = "store"
	errorSubjectWorkspace      = "workspace"
	errorSubjectEntry          = "entry"
	errorCodeCreate            = "create"
	errorCodeDuplicate         = "duplicate"
	errorCodeGet               = "get"
	errorCodeInsert            = "insert"
	errorCodeInvalid           = "invalid"
	errorCodeList              = "list"
	errorCodeSave              = "save"
)

// Store implements credits.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore credits.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

// CreateWorkspace inserts a workspace ledger row with an opening balance.
func (store *Store) CreateWorkspace(ctx context.Context, workspaceID credits.WorkspaceID, initialCredits int64) error {
	if initialCredits < 0 {
		return wrapStoreError(errorSubjectWorkspace, errorCodeInvalid, credits.ErrInvalidLedgerState)
	}
	now := time.Now().UTC()
	model := Workspace{
		WorkspaceID: workspaceID.String(),
		CreditCount: initialCredits,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isWorkspaceConflict(err) {
		return wrapStoreError(errorSubjectWorkspace, errorCodeDuplicate, credits.ErrWorkspaceExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectWorkspace, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetWorkspace(ctx context.Context, workspaceID credits.WorkspaceID) (credits.Workspace, error) {
	return store.getWorkspace(ctx, workspaceID, false)
}

func (store *Store) GetWorkspaceForUpdate(ctx context.Context, workspaceID credits.WorkspaceID) (credits.Workspace, error) {
	return store.getWorkspace(ctx, workspaceID, true)
}

func (store *Store) getWorkspace(ctx context.Context, workspaceID credits.WorkspaceID, forUpdate bool) (credits.Workspace, error) {
	query := store.db.WithContext(ctx)
	if forUpdate {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var model Workspace
	err := query.Where("workspace_id = ?", workspaceID.String()).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return credits.Workspace{}, wrapStoreError(errorSubjectWorkspace, errorCodeGet, credits.ErrWorkspaceNotFound)
		}
		return credits.Workspace{}, wrapStoreError(errorSubjectWorkspace, errorCodeGet, err)
	}
	workspace, err := credits.NewWorkspace(workspaceID, model.CreditCount, model.AllocatedCredits)
	if err != nil {
		return credits.Workspace{}, wrapStoreError(errorSubjectWorkspace, errorCodeInvalid, err)
	}
	return workspace, nil
}

func (store *Store) SaveWorkspaceCredits(ctx context.Context, workspace credits.Workspace) error {
	result := store.db.WithContext(ctx).
		Model(&Workspace{}).
		Where("workspace_id = ?", workspace.ID.String()).
		Updates(map[string]interface{}{
			"credit_count":      workspace.CreditCount,
			"allocated_credits": workspace.AllocatedCredits,
			"updated_at":        time.Now().UTC(),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectWorkspace, errorCodeSave, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectWorkspace, errorCodeSave, credits.ErrWorkspaceNotFound)
	}
	return nil
}

func (store *Store) InsertCreditEntry(ctx context.Context, entry credits.CreditEntry) error {
	model := CreditEntry{
		EntryID:      entry.EntryID,
		WorkspaceID:  entry.WorkspaceID.String(),
		Operation:    entry.Operation,
		Amount:       entry.Amount,
		AllocationID: entry.AllocationID,
		Metadata:     datatypesJSON(entry.MetadataJSON),
		CreatedAt:    time.Unix(entry.CreatedUnixUTC, 0).UTC(),
	}
	if entry.CreatedUnixUTC == 0 {
		model.CreatedAt = time.Now().UTC()
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	return nil
}

// ListCreditEntries returns the newest audit rows for a workspace.
func (store *Store) ListCreditEntries(ctx context.Context, workspaceID credits.WorkspaceID, limit int) ([]credits.CreditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []CreditEntry
	err := store.db.WithContext(ctx).
		Where("workspace_id = ?", workspaceID.String()).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	entries := make([]credits.CreditEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, credits.CreditEntry{
			EntryID:        row.EntryID,
			WorkspaceID:    workspaceID,
			Operation:      row.Operation,
			Amount:         row.Amount,
			AllocationID:   row.AllocationID,
			MetadataJSON:   string(row.Metadata),
			CreatedUnixUTC: row.CreatedAt.Unix(),
		})
	}
	return entries, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return credits.WrapError(errorOperationStore, subject, code, err)
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func isWorkspaceConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintWorkspacePrimary
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
