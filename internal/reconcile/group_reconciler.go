package reconcile

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"concord-core/internal/domain/discussion"
	"concord-core/internal/domain/group"
	"concord-core/internal/events"
	"concord-core/internal/lifecycle"
	"concord-core/internal/repository"
	concord_errors "concord-core/pkg/errors"
	"concord-core/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MemberSnapshot is one member entry of an authoritative snapshot.
type MemberSnapshot struct {
	Identity              string
	DisplayName           string
	Permissions           group.Permissions
	KeycloakUserID        string
	HasEstablishedChannel bool
}

// PendingSnapshot is one invited-but-not-joined entry.
type PendingSnapshot struct {
	Identity       string
	DisplayName    string
	DisplayDetails string
	Permissions    group.Permissions
	KeycloakUserID string
}

// Snapshot is the authoritative membership/permission state for a group
// as delivered by the authoritative source. Snapshots must be applied
// in delivery order; within one snapshot processing is deterministic.
type Snapshot struct {
	Members []MemberSnapshot
	Pending []PendingSnapshot
}

// UpdateContext qualifies one snapshot application.
type UpdateContext struct {
	// AuthorIdentity is who authored the group update; empty when
	// unknown.
	AuthorIdentity string
	// CreatedByMeOnThisDevice suppresses join/invite notifications for
	// the initial snapshot of a group the user just created here.
	CreatedByMeOnThisDevice bool
	// KeycloakManaged enables identity-churn detection through the
	// underlying account identifier.
	KeycloakManaged bool
	// VoluntaryDepartures lists identities whose own departure is
	// already known, so their "left" message carries no author.
	VoluntaryDepartures []string
}

// GroupReconciler diffs an authoritative snapshot against local state
// and applies the difference with side-effecting system notifications.
// The whole procedure is one atomic unit per snapshot and re-running it
// with the same snapshot is a no-op.
type GroupReconciler struct {
	log       *logger.Logger
	lifecycle *lifecycle.Service
}

func NewGroupReconciler(log *logger.Logger, lc *lifecycle.Service) *GroupReconciler {
	return &GroupReconciler{log: log, lifecycle: lc}
}

func (r *GroupReconciler) Reconcile(ctx context.Context, store *repository.Store, owner, groupID string, snap Snapshot, uctx UpdateContext) ([]events.Effect, error) {
	disc, err := r.discussionFor(ctx, store, owner, groupID)
	if err != nil {
		return nil, err
	}

	localMembers, err := store.Groups.GetMembers(ctx, owner, groupID)
	if err != nil {
		return nil, err
	}
	localPending, err := store.Groups.GetPendingMembers(ctx, owner, groupID)
	if err != nil {
		return nil, err
	}

	memberRows := make(map[string]group.Member, len(localMembers))
	for _, m := range localMembers {
		memberRows[m.MemberIdentity] = m
	}
	pendingRows := make(map[string]group.PendingMember, len(localPending))
	for _, p := range localPending {
		pendingRows[p.MemberIdentity] = p
	}
	snapMembers := make(map[string]MemberSnapshot, len(snap.Members))
	for _, m := range snap.Members {
		snapMembers[m.Identity] = m
	}
	snapPending := make(map[string]PendingSnapshot, len(snap.Pending))
	for _, p := range snap.Pending {
		snapPending[p.Identity] = p
	}

	membersToRemove := missingFromMembers(memberRows, snapMembers)
	membersToAdd := newInMembers(memberRows, snapMembers)
	pendingToRemove := missingFromPending(pendingRows, snapPending)
	pendingToAdd := newInPending(pendingRows, snapPending)

	churned := map[string]bool{}
	if uctx.KeycloakManaged {
		churned = keycloakChurn(memberRows, pendingRows, snapMembers, snapPending,
			membersToRemove, membersToAdd, pendingToRemove, pendingToAdd)
	}

	voluntary := make(map[string]bool, len(uctx.VoluntaryDepartures))
	for _, id := range uctx.VoluntaryDepartures {
		voluntary[id] = true
	}

	inSet := func(set []string, id string) bool {
		for _, s := range set {
			if s == id {
				return true
			}
		}
		return false
	}

	var effects []events.Effect

	// Permission deltas for members whose membership is unchanged.
	for _, identity := range sortedKeys(memberRows) {
		target, stays := snapMembers[identity]
		if !stays {
			continue
		}
		row := memberRows[identity]
		current := row.Permissions()
		if current == target.Permissions && row.DisplayName == target.DisplayName && row.KeycloakUserID == target.KeycloakUserID {
			continue
		}
		adminFlipped := current.Admin != target.Permissions.Admin
		sendFlipped := current.SendMessage != target.Permissions.SendMessage

		row.SetPermissions(target.Permissions)
		row.DisplayName = target.DisplayName
		row.KeycloakUserID = target.KeycloakUserID
		row.UpdatedAt = time.Now()
		if err := store.Groups.UpdateMember(ctx, row); err != nil {
			return nil, err
		}

		if adminFlipped {
			kind := events.NotifyGainedAdmin
			if !target.Permissions.Admin {
				kind = events.NotifyLostAdmin
			}
			effects = append(effects, events.NewNotification(disc.ID, kind, identity, uctx.AuthorIdentity))
		}
		if sendFlipped {
			// An admin-flip message suppresses a simultaneous
			// send-permission-lost message to avoid double noise. The
			// converse is not suppressed; the asymmetry is kept as
			// documented pending product clarification.
			suppressed := adminFlipped && !target.Permissions.SendMessage
			if !suppressed {
				kind := events.NotifyGainedSend
				if !target.Permissions.SendMessage {
					kind = events.NotifyLostSend
				}
				effects = append(effects, events.NewNotification(disc.ID, kind, identity, uctx.AuthorIdentity))
			}
		}
	}

	// Member removals.
	for _, identity := range membersToRemove {
		if err := store.Groups.DeleteMember(ctx, owner, groupID, identity); err != nil {
			return nil, err
		}
		demoted := inSet(pendingToAdd, identity)
		if !demoted && !churned[identity] {
			author := uctx.AuthorIdentity
			if voluntary[identity] {
				author = ""
			}
			effects = append(effects, events.NewNotification(disc.ID, events.NotifyMemberLeft, identity, author))
		}
		voided, err := store.Messages.VoidUnsentDeliveries(ctx, disc.ID, identity)
		if err != nil {
			return nil, err
		}
		for _, localID := range voided {
			m, err := store.Messages.GetByLocalID(ctx, localID)
			if err != nil {
				return nil, err
			}
			if err := r.lifecycle.RefreshOutboundStatus(ctx, store, &m); err != nil {
				return nil, err
			}
		}
	}

	// Member additions.
	iHoldChangeSettings := r.ownChangeSettings(owner, snapMembers, memberRows)
	for _, identity := range membersToAdd {
		snapEntry := snapMembers[identity]
		row := group.Member{
			OwnerIdentity:   owner,
			GroupIdentifier: groupID,
			MemberIdentity:  identity,
			DisplayName:     snapEntry.DisplayName,
			KeycloakUserID:  snapEntry.KeycloakUserID,
			CreatedAt:       time.Now(),
			UpdatedAt:       time.Now(),
		}
		row.SetPermissions(snapEntry.Permissions)
		if err := store.Groups.CreateMember(ctx, &row); err != nil {
			return nil, err
		}
		if !churned[identity] && !uctx.CreatedByMeOnThisDevice {
			effects = append(effects, events.NewNotification(disc.ID, events.NotifyMemberJoined, identity, uctx.AuthorIdentity))
		}
		if snapEntry.HasEstablishedChannel {
			effects = append(effects, events.Effect{
				Kind:         events.EffectResendUnsentMessages,
				DiscussionID: disc.ID,
				Recipient:    identity,
			})
			if iHoldChangeSettings {
				effects = append(effects, events.Effect{
					Kind:         events.EffectResendSettings,
					DiscussionID: disc.ID,
					Recipient:    identity,
				})
			}
		}
	}

	// Pending removals. A pending entry promoted to member leaves
	// silently: the "joined" message already tells the story.
	for _, identity := range pendingToRemove {
		if err := store.Groups.DeletePendingMember(ctx, owner, groupID, identity); err != nil {
			return nil, err
		}
		promoted := inSet(membersToAdd, identity)
		if !promoted && !churned[identity] {
			effects = append(effects, events.NewNotification(disc.ID, events.NotifyInviteWithdrawn, identity, uctx.AuthorIdentity))
		}
	}

	// Pending additions. A member demoted to pending arrives silently.
	for _, identity := range pendingToAdd {
		snapEntry := snapPending[identity]
		row := group.PendingMember{
			OwnerIdentity:   owner,
			GroupIdentifier: groupID,
			MemberIdentity:  identity,
			DisplayName:     snapEntry.DisplayName,
			DisplayDetails:  snapEntry.DisplayDetails,
			KeycloakUserID:  snapEntry.KeycloakUserID,
			CreatedAt:       time.Now(),
			UpdatedAt:       time.Now(),
		}
		row.SetPermissions(snapEntry.Permissions)
		if err := store.Groups.CreatePendingMember(ctx, &row); err != nil {
			return nil, err
		}
		demoted := inSet(membersToRemove, identity)
		if !demoted && !churned[identity] && !uctx.CreatedByMeOnThisDevice {
			effects = append(effects, events.NewNotification(disc.ID, events.NotifyMemberInvited, identity, uctx.AuthorIdentity))
		}
	}

	// Silent permission/details refresh on surviving pending entries.
	for _, identity := range sortedKeys(pendingRows) {
		target, stays := snapPending[identity]
		if !stays {
			continue
		}
		row := pendingRows[identity]
		if row.Permissions() == target.Permissions && row.DisplayName == target.DisplayName && row.DisplayDetails == target.DisplayDetails {
			continue
		}
		row.SetPermissions(target.Permissions)
		row.DisplayName = target.DisplayName
		row.DisplayDetails = target.DisplayDetails
		row.UpdatedAt = time.Now()
		if err := store.Groups.UpdatePendingMember(ctx, row); err != nil {
			return nil, err
		}
	}

	// Recompute the aggregate member-name index from the final sets.
	finalMembers, err := store.Groups.GetMembers(ctx, owner, groupID)
	if err != nil {
		return nil, err
	}
	finalPending, err := store.Groups.GetPendingMembers(ctx, owner, groupID)
	if err != nil {
		return nil, err
	}
	disc.MemberNameIndex = nameIndex(finalMembers, finalPending)
	disc.UpdatedAt = time.Now()
	if err := store.Discussions.Update(ctx, disc); err != nil {
		return nil, err
	}

	// Membership grew: locally held on-hold messages may now have a
	// resolvable sender, flag them for reprocessing.
	if len(membersToAdd) > 0 {
		released, err := r.releaseOnHold(ctx, store, disc.ID)
		if err != nil {
			return nil, err
		}
		if released {
			effects = append(effects, events.Effect{
				Kind:         events.EffectReprocessOnHold,
				DiscussionID: disc.ID,
			})
		}
	}

	r.log.WithContext(ctx).Info("group snapshot reconciled",
		zap.String("group", groupID),
		zap.Int("members_added", len(membersToAdd)),
		zap.Int("members_removed", len(membersToRemove)),
		zap.Int("pending_added", len(pendingToAdd)),
		zap.Int("pending_removed", len(pendingToRemove)))

	return effects, nil
}

func (r *GroupReconciler) discussionFor(ctx context.Context, store *repository.Store, owner, groupID string) (discussion.Discussion, error) {
	disc, err := store.Discussions.GetByScope(ctx, owner, groupID)
	if err == nil {
		return disc, nil
	}
	if !errors.Is(err, concord_errors.ErrNotFound) {
		return discussion.Discussion{}, err
	}
	// First snapshot for a freshly joined group creates the discussion.
	disc = discussion.Discussion{
		ID:                    uuid.New(),
		OwnerIdentity:         owner,
		PeerOrGroupIdentifier: groupID,
		Kind:                  discussion.KindGroupV2,
		CreatedAt:             time.Now(),
		UpdatedAt:             time.Now(),
	}
	if err := store.Discussions.Create(ctx, &disc); err != nil {
		return discussion.Discussion{}, err
	}
	return disc, nil
}

// ownChangeSettings reports whether the local owner holds the
// change-settings permission, preferring the snapshot over local rows.
func (r *GroupReconciler) ownChangeSettings(owner string, snapMembers map[string]MemberSnapshot, memberRows map[string]group.Member) bool {
	if me, ok := snapMembers[owner]; ok {
		return me.Permissions.ChangeSettings
	}
	if me, ok := memberRows[owner]; ok {
		return me.ChangeSettings
	}
	return false
}

func (r *GroupReconciler) releaseOnHold(ctx context.Context, store *repository.Store, discussionID uuid.UUID) (bool, error) {
	onHold, err := store.Messages.GetOnHoldMessages(ctx, discussionID)
	if err != nil {
		return false, err
	}
	for _, m := range onHold {
		if err := store.Messages.SetOnHold(ctx, m.LocalID, false); err != nil {
			return false, err
		}
	}
	return len(onHold) > 0, nil
}

// keycloakChurn finds identities whose appearance/disappearance is a key
// rotation of the same underlying account: same account id in both an
// added and a removed set. Entries whose signed block could not be
// parsed carry an empty account id and fall back to genuine join/leave.
func keycloakChurn(
	memberRows map[string]group.Member,
	pendingRows map[string]group.PendingMember,
	snapMembers map[string]MemberSnapshot,
	snapPending map[string]PendingSnapshot,
	membersToRemove, membersToAdd, pendingToRemove, pendingToAdd []string,
) map[string]bool {
	removedAccounts := map[string][]string{}
	for _, id := range membersToRemove {
		if kc := memberRows[id].KeycloakUserID; kc != "" {
			removedAccounts[kc] = append(removedAccounts[kc], id)
		}
	}
	for _, id := range pendingToRemove {
		if kc := pendingRows[id].KeycloakUserID; kc != "" {
			removedAccounts[kc] = append(removedAccounts[kc], id)
		}
	}

	churned := map[string]bool{}
	mark := func(addedID, kc string) {
		if kc == "" {
			return
		}
		if olds, ok := removedAccounts[kc]; ok {
			churned[addedID] = true
			for _, old := range olds {
				churned[old] = true
			}
		}
	}
	for _, id := range membersToAdd {
		mark(id, snapMembers[id].KeycloakUserID)
	}
	for _, id := range pendingToAdd {
		mark(id, snapPending[id].KeycloakUserID)
	}
	return churned
}

func nameIndex(members []group.Member, pendings []group.PendingMember) string {
	names := make([]string, 0, len(members)+len(pendings))
	for _, m := range members {
		if m.DisplayName != "" {
			names = append(names, m.DisplayName)
		}
	}
	for _, p := range pendings {
		if p.DisplayName != "" {
			names = append(names, p.DisplayName)
		}
	}
	sort.Strings(names)
	return strings.Join(names, " ")
}

func missingFromMembers(local map[string]group.Member, snap map[string]MemberSnapshot) []string {
	var out []string
	for id := range local {
		if _, ok := snap[id]; !ok {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func newInMembers(local map[string]group.Member, snap map[string]MemberSnapshot) []string {
	var out []string
	for id := range snap {
		if _, ok := local[id]; !ok {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func missingFromPending(local map[string]group.PendingMember, snap map[string]PendingSnapshot) []string {
	var out []string
	for id := range local {
		if _, ok := snap[id]; !ok {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func newInPending(local map[string]group.PendingMember, snap map[string]PendingSnapshot) []string {
	var out []string
	for id := range snap {
		if _, ok := local[id]; !ok {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
