package repository

import (
	"context"
	"errors"

	"concord-core/internal/domain/discussion"
	concord_errors "concord-core/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type SQLiteDiscussionRepository struct {
	db *gorm.DB
}

func NewDiscussionRepository(db *gorm.DB) DiscussionRepository {
	return &SQLiteDiscussionRepository{db: db}
}

func (r *SQLiteDiscussionRepository) GetByID(ctx context.Context, id uuid.UUID) (discussion.Discussion, error) {
	var d discussion.Discussion
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&d).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return discussion.Discussion{}, concord_errors.ErrNotFound
		}
		return discussion.Discussion{}, err
	}
	return d, nil
}

func (r *SQLiteDiscussionRepository) GetByScope(ctx context.Context, owner, peerOrGroup string) (discussion.Discussion, error) {
	var d discussion.Discussion
	err := r.db.WithContext(ctx).
		Where("owner_identity = ? AND peer_or_group_identifier = ?", owner, peerOrGroup).
		First(&d).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return discussion.Discussion{}, concord_errors.ErrNotFound
		}
		return discussion.Discussion{}, err
	}
	return d, nil
}

func (r *SQLiteDiscussionRepository) Create(ctx context.Context, d *discussion.Discussion) error {
	res := r.db.WithContext(ctx).Create(d)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return concord_errors.ErrAlreadyExists
		}
		return res.Error
	}
	return nil
}

func (r *SQLiteDiscussionRepository) Update(ctx context.Context, d discussion.Discussion) error {
	res := r.db.WithContext(ctx).Save(&d)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return concord_errors.ErrNotFound
	}
	return nil
}
