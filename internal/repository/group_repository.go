package repository

import (
	"context"
	"errors"

	"concord-core/internal/domain/group"
	concord_errors "concord-core/pkg/errors"

	"gorm.io/gorm"
)

type SQLiteGroupRepository struct {
	db *gorm.DB
}

func NewGroupRepository(db *gorm.DB) GroupRepository {
	return &SQLiteGroupRepository{db: db}
}

func (r *SQLiteGroupRepository) GetMembers(ctx context.Context, owner, groupID string) ([]group.Member, error) {
	var members []group.Member
	err := r.db.WithContext(ctx).
		Where("owner_identity = ? AND group_identifier = ?", owner, groupID).
		Order("member_identity ASC").
		Find(&members).Error
	if err != nil {
		return nil, err
	}
	return members, nil
}

func (r *SQLiteGroupRepository) GetPendingMembers(ctx context.Context, owner, groupID string) ([]group.PendingMember, error) {
	var pendings []group.PendingMember
	err := r.db.WithContext(ctx).
		Where("owner_identity = ? AND group_identifier = ?", owner, groupID).
		Order("member_identity ASC").
		Find(&pendings).Error
	if err != nil {
		return nil, err
	}
	return pendings, nil
}

func (r *SQLiteGroupRepository) GetMember(ctx context.Context, owner, groupID, identity string) (group.Member, error) {
	var m group.Member
	err := r.db.WithContext(ctx).
		Where("owner_identity = ? AND group_identifier = ? AND member_identity = ?", owner, groupID, identity).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return group.Member{}, concord_errors.ErrNotFound
		}
		return group.Member{}, err
	}
	return m, nil
}

func (r *SQLiteGroupRepository) CreateMember(ctx context.Context, m *group.Member) error {
	res := r.db.WithContext(ctx).Create(m)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return concord_errors.ErrAlreadyExists
		}
		return res.Error
	}
	return nil
}

func (r *SQLiteGroupRepository) UpdateMember(ctx context.Context, m group.Member) error {
	res := r.db.WithContext(ctx).Save(&m)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return concord_errors.ErrNotFound
	}
	return nil
}

func (r *SQLiteGroupRepository) DeleteMember(ctx context.Context, owner, groupID, identity string) error {
	return r.db.WithContext(ctx).
		Where("owner_identity = ? AND group_identifier = ? AND member_identity = ?", owner, groupID, identity).
		Delete(&group.Member{}).Error
}

func (r *SQLiteGroupRepository) CreatePendingMember(ctx context.Context, p *group.PendingMember) error {
	res := r.db.WithContext(ctx).Create(p)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return concord_errors.ErrAlreadyExists
		}
		return res.Error
	}
	return nil
}

func (r *SQLiteGroupRepository) UpdatePendingMember(ctx context.Context, p group.PendingMember) error {
	res := r.db.WithContext(ctx).Save(&p)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return concord_errors.ErrNotFound
	}
	return nil
}

func (r *SQLiteGroupRepository) DeletePendingMember(ctx context.Context, owner, groupID, identity string) error {
	return r.db.WithContext(ctx).
		Where("owner_identity = ? AND group_identifier = ? AND member_identity = ?", owner, groupID, identity).
		Delete(&group.PendingMember{}).Error
}
