package reconcile

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"concord-core/internal/domain/group"
	"concord-core/internal/domain/message"
	"concord-core/internal/events"
	"concord-core/internal/lifecycle"
	"concord-core/internal/repository"
	"concord-core/pkg/database"
	"concord-core/pkg/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *repository.Store {
	t.Helper()
	db, err := database.OpenInMemory()
	require.NoError(t, err)
	require.NoError(t, repository.Migrate(db))
	return repository.NewStore(db)
}

func newReconciler() *GroupReconciler {
	log := logger.Nop()
	return NewGroupReconciler(log, lifecycle.NewService(log))
}

func memberSnap(identity string, perms group.Permissions) MemberSnapshot {
	return MemberSnapshot{Identity: identity, DisplayName: identity, Permissions: perms}
}

func notifications(effects []events.Effect) map[events.NotificationKind][]string {
	out := map[events.NotificationKind][]string{}
	for _, e := range effects {
		if e.Kind == events.EffectDisplayNotification {
			out[e.Notification] = append(out[e.Notification], e.Subject)
		}
	}
	return out
}

func hasEffect(effects []events.Effect, kind events.EffectKind) bool {
	for _, e := range effects {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

func TestReconcile_AdminRevokedAndPendingPromoted(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	r := newReconciler()

	sendOnly := group.Permissions{SendMessage: true, EditOrRemoteDeleteOwn: true}
	adminPerms := group.Permissions{Admin: true, SendMessage: true, EditOrRemoteDeleteOwn: true, ChangeSettings: true}

	// Seed local state: Alice is an admin member, Bob is invited.
	initial := Snapshot{
		Members: []MemberSnapshot{memberSnap("alice", adminPerms)},
		Pending: []PendingSnapshot{{Identity: "bob", DisplayName: "bob", Permissions: sendOnly}},
	}
	_, err := r.Reconcile(ctx, store, "me", "grp-1", initial, UpdateContext{CreatedByMeOnThisDevice: true})
	require.NoError(t, err)

	// Authoritative snapshot: Alice demoted from admin, Bob joined.
	next := Snapshot{
		Members: []MemberSnapshot{
			memberSnap("alice", sendOnly),
			memberSnap("bob", sendOnly),
		},
	}
	effects, err := r.Reconcile(ctx, store, "me", "grp-1", next, UpdateContext{AuthorIdentity: "carol"})
	require.NoError(t, err)

	notes := notifications(effects)
	assert.Equal(t, []string{"alice"}, notes[events.NotifyLostAdmin])
	assert.Equal(t, []string{"bob"}, notes[events.NotifyMemberJoined])
	// Bob's pending entry left silently: promotion, not a withdrawn invite.
	assert.Empty(t, notes[events.NotifyInviteWithdrawn])

	members, err := store.Groups.GetMembers(ctx, "me", "grp-1")
	require.NoError(t, err)
	require.Len(t, members, 2)
	pending, err := store.Groups.GetPendingMembers(ctx, "me", "grp-1")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestReconcile_SendPermissionFlipEmitsMessage(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	r := newReconciler()

	_, err := r.Reconcile(ctx, store, "me", "grp-1",
		Snapshot{Members: []MemberSnapshot{
			memberSnap("alice", group.Permissions{SendMessage: true, EditOrRemoteDeleteOwn: true}),
		}},
		UpdateContext{CreatedByMeOnThisDevice: true})
	require.NoError(t, err)

	// Alice keeps her membership but loses the right to post.
	effects, err := r.Reconcile(ctx, store, "me", "grp-1",
		Snapshot{Members: []MemberSnapshot{
			memberSnap("alice", group.Permissions{EditOrRemoteDeleteOwn: true}),
		}},
		UpdateContext{AuthorIdentity: "carol"})
	require.NoError(t, err)

	notes := notifications(effects)
	assert.Equal(t, []string{"alice"}, notes[events.NotifyLostSend])
	assert.Empty(t, notes[events.NotifyGainedSend])
	assert.Empty(t, notes[events.NotifyMemberLeft])

	// Regranting produces the mirror message.
	effects, err = r.Reconcile(ctx, store, "me", "grp-1",
		Snapshot{Members: []MemberSnapshot{
			memberSnap("alice", group.Permissions{SendMessage: true, EditOrRemoteDeleteOwn: true}),
		}},
		UpdateContext{})
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, notifications(effects)[events.NotifyGainedSend])
}

func TestReconcile_AdminFlipSuppressesOnlySimultaneousSendLoss(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	r := newReconciler()

	_, err := r.Reconcile(ctx, store, "me", "grp-1",
		Snapshot{Members: []MemberSnapshot{
			memberSnap("alice", group.Permissions{Admin: true, SendMessage: true}),
			memberSnap("bob", group.Permissions{}),
		}},
		UpdateContext{CreatedByMeOnThisDevice: true})
	require.NoError(t, err)

	// Alice loses admin and send in one snapshot: the admin message
	// carries the story, the send-lost message is suppressed. Bob gains
	// both: the converse is not suppressed, both messages are emitted.
	effects, err := r.Reconcile(ctx, store, "me", "grp-1",
		Snapshot{Members: []MemberSnapshot{
			memberSnap("alice", group.Permissions{}),
			memberSnap("bob", group.Permissions{Admin: true, SendMessage: true}),
		}},
		UpdateContext{})
	require.NoError(t, err)

	notes := notifications(effects)
	assert.Equal(t, []string{"alice"}, notes[events.NotifyLostAdmin])
	assert.Empty(t, notes[events.NotifyLostSend])
	assert.Equal(t, []string{"bob"}, notes[events.NotifyGainedAdmin])
	assert.Equal(t, []string{"bob"}, notes[events.NotifyGainedSend])
}

func TestReconcile_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	r := newReconciler()

	snap := Snapshot{
		Members: []MemberSnapshot{
			memberSnap("alice", group.Permissions{SendMessage: true}),
			memberSnap("bob", group.Permissions{SendMessage: true, Admin: true}),
		},
		Pending: []PendingSnapshot{{Identity: "carol", DisplayName: "carol"}},
	}
	first, err := r.Reconcile(ctx, store, "me", "grp-1", snap, UpdateContext{})
	require.NoError(t, err)
	assert.NotEmpty(t, first)

	again, err := r.Reconcile(ctx, store, "me", "grp-1", snap, UpdateContext{})
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestReconcile_SnapshotOrderDoesNotMatter(t *testing.T) {
	ctx := context.Background()
	r := newReconciler()

	perms := group.Permissions{SendMessage: true}
	forward := Snapshot{Members: []MemberSnapshot{
		memberSnap("alice", perms), memberSnap("bob", perms), memberSnap("carol", perms),
	}}
	reversed := Snapshot{Members: []MemberSnapshot{
		memberSnap("carol", perms), memberSnap("bob", perms), memberSnap("alice", perms),
	}}

	a, err := r.Reconcile(ctx, newTestStore(t), "me", "grp-1", forward, UpdateContext{})
	require.NoError(t, err)
	b, err := r.Reconcile(ctx, newTestStore(t), "me", "grp-1", reversed, UpdateContext{})
	require.NoError(t, err)

	// Identical effects in identical order regardless of snapshot slice
	// order; only the discussion ids differ across the two stores.
	require.Equal(t, len(a), len(b))
	for i := range a {
		a[i].DiscussionID = uuid.Nil
		b[i].DiscussionID = uuid.Nil
	}
	assert.Equal(t, a, b)
}

func TestReconcile_MemberDemotedToPendingLeavesSilently(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	r := newReconciler()

	perms := group.Permissions{SendMessage: true}
	_, err := r.Reconcile(ctx, store, "me", "grp-1",
		Snapshot{Members: []MemberSnapshot{memberSnap("alice", perms), memberSnap("bob", perms)}},
		UpdateContext{CreatedByMeOnThisDevice: true})
	require.NoError(t, err)

	effects, err := r.Reconcile(ctx, store, "me", "grp-1",
		Snapshot{
			Members: []MemberSnapshot{memberSnap("alice", perms)},
			Pending: []PendingSnapshot{{Identity: "bob", DisplayName: "bob", Permissions: perms}},
		},
		UpdateContext{})
	require.NoError(t, err)

	notes := notifications(effects)
	assert.Empty(t, notes[events.NotifyMemberLeft])
	assert.Empty(t, notes[events.NotifyMemberInvited])
}

func TestReconcile_KeycloakChurnSuppressesJoinLeave(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	r := newReconciler()

	perms := group.Permissions{SendMessage: true}
	_, err := r.Reconcile(ctx, store, "me", "grp-1",
		Snapshot{Members: []MemberSnapshot{
			{Identity: "alice-old-key", DisplayName: "alice", Permissions: perms, KeycloakUserID: "kc-alice"},
			memberSnap("bob", perms),
		}},
		UpdateContext{CreatedByMeOnThisDevice: true, KeycloakManaged: true})
	require.NoError(t, err)

	// Alice rotated her keys: new identity, same underlying account.
	effects, err := r.Reconcile(ctx, store, "me", "grp-1",
		Snapshot{Members: []MemberSnapshot{
			{Identity: "alice-new-key", DisplayName: "alice", Permissions: perms, KeycloakUserID: "kc-alice"},
			memberSnap("bob", perms),
		}},
		UpdateContext{KeycloakManaged: true})
	require.NoError(t, err)

	notes := notifications(effects)
	assert.Empty(t, notes[events.NotifyMemberJoined])
	assert.Empty(t, notes[events.NotifyMemberLeft])

	members, err := store.Groups.GetMembers(ctx, "me", "grp-1")
	require.NoError(t, err)
	identities := []string{members[0].MemberIdentity, members[1].MemberIdentity}
	assert.ElementsMatch(t, []string{"alice-new-key", "bob"}, identities)
}

func TestReconcile_EmptyKeycloakIDFallsBackToJoinLeave(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	r := newReconciler()

	perms := group.Permissions{SendMessage: true}
	_, err := r.Reconcile(ctx, store, "me", "grp-1",
		Snapshot{Members: []MemberSnapshot{memberSnap("alice", perms)}},
		UpdateContext{CreatedByMeOnThisDevice: true, KeycloakManaged: true})
	require.NoError(t, err)

	// The signed blocks could not be parsed on either side: no account id
	// to correlate, so this reads as a genuine leave plus join.
	effects, err := r.Reconcile(ctx, store, "me", "grp-1",
		Snapshot{Members: []MemberSnapshot{memberSnap("alyce", perms)}},
		UpdateContext{KeycloakManaged: true})
	require.NoError(t, err)

	notes := notifications(effects)
	assert.Equal(t, []string{"alyce"}, notes[events.NotifyMemberJoined])
	assert.Equal(t, []string{"alice"}, notes[events.NotifyMemberLeft])
}

func TestReconcile_NewChannelMemberTriggersResends(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	r := newReconciler()

	mePerms := group.Permissions{SendMessage: true, ChangeSettings: true}
	_, err := r.Reconcile(ctx, store, "me", "grp-1",
		Snapshot{Members: []MemberSnapshot{memberSnap("me", mePerms)}},
		UpdateContext{CreatedByMeOnThisDevice: true})
	require.NoError(t, err)

	effects, err := r.Reconcile(ctx, store, "me", "grp-1",
		Snapshot{Members: []MemberSnapshot{
			memberSnap("me", mePerms),
			{Identity: "bob", DisplayName: "bob", Permissions: group.Permissions{SendMessage: true}, HasEstablishedChannel: true},
		}},
		UpdateContext{})
	require.NoError(t, err)

	assert.True(t, hasEffect(effects, events.EffectResendUnsentMessages))
	assert.True(t, hasEffect(effects, events.EffectResendSettings))
}

func TestReconcile_MembershipGrowthReleasesOnHoldMessages(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	r := newReconciler()

	perms := group.Permissions{SendMessage: true}
	_, err := r.Reconcile(ctx, store, "me", "grp-1",
		Snapshot{Members: []MemberSnapshot{memberSnap("alice", perms)}},
		UpdateContext{CreatedByMeOnThisDevice: true})
	require.NoError(t, err)
	disc, err := store.Discussions.GetByScope(ctx, "me", "grp-1")
	require.NoError(t, err)

	held := message.Message{
		LocalID:              uuid.New(),
		DiscussionID:         disc.ID,
		SenderIdentifier:     "bob",
		SenderThreadID:       "thread-1",
		SenderSequenceNumber: 1,
		Status:               message.StatusUnread,
		WipeStatus:           message.WipeNone,
		EditStatus:           message.EditNone,
		OnHold:               true,
		Body:                 sql.NullString{String: "early", Valid: true},
		CreatedAt:            time.Now(),
	}
	require.NoError(t, store.Messages.Create(ctx, &held))

	effects, err := r.Reconcile(ctx, store, "me", "grp-1",
		Snapshot{Members: []MemberSnapshot{memberSnap("alice", perms), memberSnap("bob", perms)}},
		UpdateContext{})
	require.NoError(t, err)

	assert.True(t, hasEffect(effects, events.EffectReprocessOnHold))
	stored, err := store.Messages.GetByLocalID(ctx, held.LocalID)
	require.NoError(t, err)
	assert.False(t, stored.OnHold)
}

func TestReconcile_NameIndexRecomputed(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	r := newReconciler()

	perms := group.Permissions{SendMessage: true}
	_, err := r.Reconcile(ctx, store, "me", "grp-1",
		Snapshot{
			Members: []MemberSnapshot{memberSnap("zoe", perms), memberSnap("alice", perms)},
			Pending: []PendingSnapshot{{Identity: "p1", DisplayName: "mallory"}},
		},
		UpdateContext{CreatedByMeOnThisDevice: true})
	require.NoError(t, err)

	disc, err := store.Discussions.GetByScope(ctx, "me", "grp-1")
	require.NoError(t, err)
	assert.Equal(t, "alice mallory zoe", disc.MemberNameIndex)
}
