package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/billingworks/creditledger/internal/generation"
)

// GenerationStore implements generation.RecordStore over the generations
// table.
type GenerationStore struct {
	db *gorm.DB
}

// NewGenerationStore returns a GenerationStore backed by gorm.DB.
func NewGenerationStore(db *gorm.DB) *GenerationStore {
	return &GenerationStore{db: db}
}

func (store *GenerationStore) CreateRecord(ctx context.Context, record generation.Record) (generation.Record, error) {
	model := generationModel(record)
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return generation.Record{}, err
	}
	record.ID = model.GenerationID
	return record, nil
}

func (store *GenerationStore) UpdateRecord(ctx context.Context, record generation.Record) error {
	result := store.db.WithContext(ctx).
		Model(&Generation{}).
		Where("generation_id = ?", record.ID).
		Updates(map[string]interface{}{
			"status":          string(record.Status),
			"credits_charged": record.CreditsCharged,
			"result":          record.Result,
			"error":           record.Error,
			"updated_at":      time.Unix(record.UpdatedUnixUTC, 0).UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", generation.ErrRecordNotFound, record.ID)
	}
	return nil
}

func (store *GenerationStore) ListRecords(ctx context.Context, workspaceID string, limit int) ([]generation.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []Generation
	err := store.db.WithContext(ctx).
		Where("workspace_id = ?", workspaceID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	records := make([]generation.Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, generationRecord(row))
	}
	return records, nil
}

// GetRecord fetches a single generation row by id.
func (store *GenerationStore) GetRecord(ctx context.Context, recordID string) (generation.Record, error) {
	var model Generation
	err := store.db.WithContext(ctx).Where("generation_id = ?", recordID).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return generation.Record{}, fmt.Errorf("%w: %s", generation.ErrRecordNotFound, recordID)
		}
		return generation.Record{}, err
	}
	return generationRecord(model), nil
}

func generationModel(record generation.Record) Generation {
	return Generation{
		GenerationID:   record.ID,
		WorkspaceID:    record.WorkspaceID,
		Type:           string(record.Type),
		Model:          record.Model,
		Provider:       record.Provider,
		Prompt:         record.Prompt,
		Status:         string(record.Status),
		CreditsCharged: record.CreditsCharged,
		Result:         record.Result,
		Error:          record.Error,
		CreatedAt:      time.Unix(record.CreatedUnixUTC, 0).UTC(),
		UpdatedAt:      time.Unix(record.UpdatedUnixUTC, 0).UTC(),
	}
}

func generationRecord(model Generation) generation.Record {
	return generation.Record{
		ID:             model.GenerationID,
		WorkspaceID:    model.WorkspaceID,
		Type:           generation.Type(model.Type),
		Model:          model.Model,
		Provider:       model.Provider,
		Prompt:         model.Prompt,
		Status:         generation.Status(model.Status),
		CreditsCharged: model.CreditsCharged,
		Result:         model.Result,
		Error:          model.Error,
		CreatedUnixUTC: model.CreatedAt.Unix(),
		UpdatedUnixUTC: model.UpdatedAt.Unix(),
	}
}
