package engine

import (
	"context"
	"errors"

	"concord-core/internal/domain/group"
	"concord-core/internal/repository"
	concord_errors "concord-core/pkg/errors"
)

// PermissionResolver answers authorization questions during mutation
// application. Implementations must be safe to call inside an ingest
// transaction (no network I/O).
type PermissionResolver interface {
	HasPermission(ctx context.Context, owner, groupIdentifier, actor string, perm group.Permission) (bool, error)
}

// StoreResolver resolves permissions from the locally reconciled member
// table. One-to-one discussions carry an empty group identifier: the
// peer may send, edit or delete their own content and change shared
// settings, but never touch the other side's messages.
type StoreResolver struct {
	store *repository.Store
}

func NewStoreResolver(store *repository.Store) *StoreResolver {
	return &StoreResolver{store: store}
}

func (r *StoreResolver) HasPermission(ctx context.Context, owner, groupIdentifier, actor string, perm group.Permission) (bool, error) {
	if groupIdentifier == "" {
		switch perm {
		case group.PermissionSendMessage, group.PermissionEditOrRemoteDeleteOwn, group.PermissionChangeSettings:
			return true, nil
		default:
			return false, nil
		}
	}
	member, err := r.store.Groups.GetMember(ctx, owner, groupIdentifier, actor)
	if err != nil {
		if errors.Is(err, concord_errors.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return member.Permissions().Has(perm), nil
}
