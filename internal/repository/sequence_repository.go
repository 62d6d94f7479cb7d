package repository

import (
	"context"
	"errors"

	"concord-core/internal/domain/sequence"
	concord_errors "concord-core/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type SQLiteSequenceRepository struct {
	db *gorm.DB
}

func NewSequenceRepository(db *gorm.DB) SequenceRepository {
	return &SQLiteSequenceRepository{db: db}
}

func (r *SQLiteSequenceRepository) Get(ctx context.Context, discussionID uuid.UUID, sender, threadID string) (sequence.Counter, error) {
	var c sequence.Counter
	err := r.db.WithContext(ctx).
		Where("discussion_id = ? AND sender_identifier = ? AND sender_thread_id = ?", discussionID, sender, threadID).
		First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return sequence.Counter{}, concord_errors.ErrNotFound
		}
		return sequence.Counter{}, err
	}
	return c, nil
}

func (r *SQLiteSequenceRepository) Create(ctx context.Context, c *sequence.Counter) error {
	res := r.db.WithContext(ctx).Create(c)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return concord_errors.ErrAlreadyExists
		}
		return res.Error
	}
	return nil
}

func (r *SQLiteSequenceRepository) Update(ctx context.Context, c sequence.Counter) error {
	res := r.db.WithContext(ctx).Save(&c)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return concord_errors.ErrNotFound
	}
	return nil
}
