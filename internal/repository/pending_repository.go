package repository

import (
	"context"
	"errors"

	"concord-core/internal/domain/message"
	"concord-core/internal/domain/pending"
	concord_errors "concord-core/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MutateSlot is the shared slot value for delete and edit requests: at
// most one delete-or-edit is queued per target reference.
const MutateSlot = "mutate"

// ReactionSlot builds the per-reacter slot value for reaction requests.
func ReactionSlot(reacter string) string {
	return "reaction:" + reacter
}

type SQLitePendingRepository struct {
	db *gorm.DB
}

func NewPendingRepository(db *gorm.DB) PendingRepository {
	return &SQLitePendingRepository{db: db}
}

func (r *SQLitePendingRepository) Create(ctx context.Context, req *pending.MutationRequest) error {
	res := r.db.WithContext(ctx).Create(req)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return concord_errors.ErrAlreadyExists
		}
		return res.Error
	}
	return nil
}

func (r *SQLitePendingRepository) Update(ctx context.Context, req pending.MutationRequest) error {
	res := r.db.WithContext(ctx).Save(&req)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return concord_errors.ErrNotFound
	}
	return nil
}

func (r *SQLitePendingRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Delete(&pending.MutationRequest{}, "id = ?", id).Error
}

func (r *SQLitePendingRepository) GetForTarget(ctx context.Context, ref message.StableRef) ([]pending.MutationRequest, error) {
	var requests []pending.MutationRequest
	err := r.db.WithContext(ctx).
		Where("discussion_id = ? AND sender_identifier = ? AND sender_thread_id = ? AND sender_sequence_number = ?",
			ref.DiscussionID, ref.SenderIdentifier, ref.SenderThreadID, ref.SenderSequenceNumber).
		Order("kind ASC, reacter_identity ASC").
		Find(&requests).Error
	if err != nil {
		return nil, err
	}
	return requests, nil
}

func (r *SQLitePendingRepository) getSlot(ctx context.Context, ref message.StableRef, slot string) (pending.MutationRequest, error) {
	var req pending.MutationRequest
	err := r.db.WithContext(ctx).
		Where("discussion_id = ? AND sender_identifier = ? AND sender_thread_id = ? AND sender_sequence_number = ? AND slot = ?",
			ref.DiscussionID, ref.SenderIdentifier, ref.SenderThreadID, ref.SenderSequenceNumber, slot).
		First(&req).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pending.MutationRequest{}, concord_errors.ErrNotFound
		}
		return pending.MutationRequest{}, err
	}
	return req, nil
}

func (r *SQLitePendingRepository) GetMutateSlot(ctx context.Context, ref message.StableRef) (pending.MutationRequest, error) {
	return r.getSlot(ctx, ref, MutateSlot)
}

func (r *SQLitePendingRepository) GetReactionSlot(ctx context.Context, ref message.StableRef, reacter string) (pending.MutationRequest, error) {
	return r.getSlot(ctx, ref, ReactionSlot(reacter))
}

func (r *SQLitePendingRepository) DeleteForTarget(ctx context.Context, ref message.StableRef) error {
	return r.db.WithContext(ctx).
		Where("discussion_id = ? AND sender_identifier = ? AND sender_thread_id = ? AND sender_sequence_number = ?",
			ref.DiscussionID, ref.SenderIdentifier, ref.SenderThreadID, ref.SenderSequenceNumber).
		Delete(&pending.MutationRequest{}).Error
}
