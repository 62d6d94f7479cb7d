package repository

import (
	"context"
	"errors"

	"concord-core/internal/domain/message"
	concord_errors "concord-core/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SQLiteMessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &SQLiteMessageRepository{db: db}
}

func (r *SQLiteMessageRepository) Create(ctx context.Context, m *message.Message) error {
	res := r.db.WithContext(ctx).Create(m)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return concord_errors.ErrAlreadyExists
		}
		return res.Error
	}
	return nil
}

func (r *SQLiteMessageRepository) GetByLocalID(ctx context.Context, id uuid.UUID) (message.Message, error) {
	var m message.Message
	err := r.db.WithContext(ctx).Where("local_id = ?", id).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return message.Message{}, concord_errors.ErrNotFound
		}
		return message.Message{}, err
	}
	return m, nil
}

func (r *SQLiteMessageRepository) GetByStableRef(ctx context.Context, ref message.StableRef) (message.Message, error) {
	var m message.Message
	err := r.db.WithContext(ctx).
		Where("discussion_id = ? AND sender_identifier = ? AND sender_thread_id = ? AND sender_sequence_number = ?",
			ref.DiscussionID, ref.SenderIdentifier, ref.SenderThreadID, ref.SenderSequenceNumber).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return message.Message{}, concord_errors.ErrNotFound
		}
		return message.Message{}, err
	}
	return m, nil
}

func (r *SQLiteMessageRepository) Update(ctx context.Context, m message.Message) error {
	res := r.db.WithContext(ctx).Save(&m)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return concord_errors.ErrNotFound
	}
	return nil
}

func (r *SQLiteMessageRepository) GetFollowing(ctx context.Context, ref message.StableRef) (message.Message, error) {
	var m message.Message
	err := r.db.WithContext(ctx).
		Where("discussion_id = ? AND sender_identifier = ? AND sender_thread_id = ? AND sender_sequence_number > ?",
			ref.DiscussionID, ref.SenderIdentifier, ref.SenderThreadID, ref.SenderSequenceNumber).
		Order("sender_sequence_number ASC").
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return message.Message{}, concord_errors.ErrNotFound
		}
		return message.Message{}, err
	}
	return m, nil
}

func (r *SQLiteMessageRepository) GetDiscussionMessages(ctx context.Context, discussionID uuid.UUID) ([]message.Message, error) {
	var messages []message.Message
	err := r.db.WithContext(ctx).
		Where("discussion_id = ?", discussionID).
		Order("server_timestamp ASC").
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *SQLiteMessageRepository) GetOnHoldMessages(ctx context.Context, discussionID uuid.UUID) ([]message.Message, error) {
	var messages []message.Message
	err := r.db.WithContext(ctx).
		Where("discussion_id = ? AND on_hold = ?", discussionID, true).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *SQLiteMessageRepository) SetOnHold(ctx context.Context, localID uuid.UUID, onHold bool) error {
	res := r.db.WithContext(ctx).
		Model(&message.Message{}).
		Where("local_id = ?", localID).
		Update("on_hold", onHold)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return concord_errors.ErrNotFound
	}
	return nil
}

func (r *SQLiteMessageRepository) AddAttachment(ctx context.Context, a *message.Attachment) error {
	return r.db.WithContext(ctx).Create(a).Error
}

func (r *SQLiteMessageRepository) GetAttachments(ctx context.Context, localID uuid.UUID) ([]message.Attachment, error) {
	var attachments []message.Attachment
	err := r.db.WithContext(ctx).Where("message_local_id = ?", localID).Find(&attachments).Error
	if err != nil {
		return nil, err
	}
	return attachments, nil
}

func (r *SQLiteMessageRepository) MarkAttachmentsForDeletion(ctx context.Context, localID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&message.Attachment{}).
		Where("message_local_id = ?", localID).
		Update("marked_for_delete", true).Error
}

func (r *SQLiteMessageRepository) SetReaction(ctx context.Context, reaction *message.Reaction) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "message_local_id"}, {Name: "reacter_identity"}},
			DoUpdates: clause.AssignmentColumns([]string{"emoji", "timestamp"}),
		}).
		Create(reaction).Error
}

func (r *SQLiteMessageRepository) RemoveReaction(ctx context.Context, localID uuid.UUID, reacter string) error {
	return r.db.WithContext(ctx).
		Delete(&message.Reaction{}, "message_local_id = ? AND reacter_identity = ?", localID, reacter).Error
}

func (r *SQLiteMessageRepository) GetReactions(ctx context.Context, localID uuid.UUID) ([]message.Reaction, error) {
	var reactions []message.Reaction
	err := r.db.WithContext(ctx).
		Where("message_local_id = ?", localID).
		Order("reacter_identity ASC").
		Find(&reactions).Error
	if err != nil {
		return nil, err
	}
	return reactions, nil
}

func (r *SQLiteMessageRepository) GetRecipientStatuses(ctx context.Context, localID uuid.UUID) ([]message.RecipientStatus, error) {
	var statuses []message.RecipientStatus
	err := r.db.WithContext(ctx).Where("message_local_id = ?", localID).Find(&statuses).Error
	if err != nil {
		return nil, err
	}
	return statuses, nil
}

func (r *SQLiteMessageRepository) UpsertRecipientStatus(ctx context.Context, rs *message.RecipientStatus) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "message_local_id"}, {Name: "recipient_identity"}},
			DoUpdates: clause.AssignmentColumns([]string{"sent", "delivered_at", "read_at", "updated_at"}),
		}).
		Create(rs).Error
}

func (r *SQLiteMessageRepository) VoidUnsentDeliveries(ctx context.Context, discussionID uuid.UUID, recipient string) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&message.RecipientStatus{}).
		Select("message_recipient_statuses.message_local_id").
		Joins("JOIN messages ON messages.local_id = message_recipient_statuses.message_local_id").
		Where("messages.discussion_id = ? AND message_recipient_statuses.recipient_identity = ? AND message_recipient_statuses.sent = ?",
			discussionID, recipient, false).
		Find(&ids).Error
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	err = r.db.WithContext(ctx).
		Where("recipient_identity = ? AND sent = ? AND message_local_id IN ?", recipient, false, ids).
		Delete(&message.RecipientStatus{}).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
