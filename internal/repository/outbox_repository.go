package repository

import (
	"context"
	"database/sql"
	"time"

	"concord-core/internal/domain/outbox"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type SQLiteOutboxRepository struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) OutboxRepository {
	return &SQLiteOutboxRepository{db: db}
}

func (r *SQLiteOutboxRepository) Create(ctx context.Context, rec *outbox.EffectRecord) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *SQLiteOutboxRepository) GetPending(ctx context.Context, limit int) ([]outbox.EffectRecord, error) {
	var records []outbox.EffectRecord
	err := r.db.WithContext(ctx).
		Where("processed_at IS NULL").
		Order("created_at ASC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *SQLiteOutboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&outbox.EffectRecord{}).
		Where("id = ?", id).
		Update("processed_at", time.Now()).Error
}

func (r *SQLiteOutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	return r.db.WithContext(ctx).
		Model(&outbox.EffectRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"retry_count": gorm.Expr("retry_count + 1"),
			"last_error":  sql.NullString{String: reason, Valid: true},
		}).Error
}
