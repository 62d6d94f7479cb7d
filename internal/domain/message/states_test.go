package message

import (
	"database/sql"
	"testing"
	"time"

	concord_errors "concord-core/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ts(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: true}
}

func TestRefreshOutboundStatus(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name       string
		recipients []RecipientStatus
		want       Status
	}{
		{
			name:       "no recipients",
			recipients: nil,
			want:       StatusUnprocessed,
		},
		{
			name: "nothing sent",
			recipients: []RecipientStatus{
				{RecipientIdentity: "a"},
				{RecipientIdentity: "b"},
			},
			want: StatusUnprocessed,
		},
		{
			name: "partially sent",
			recipients: []RecipientStatus{
				{RecipientIdentity: "a", Sent: true},
				{RecipientIdentity: "b"},
			},
			want: StatusPartiallySent,
		},
		{
			name: "all sent",
			recipients: []RecipientStatus{
				{RecipientIdentity: "a", Sent: true},
				{RecipientIdentity: "b", Sent: true},
			},
			want: StatusSent,
		},
		{
			name: "all delivered",
			recipients: []RecipientStatus{
				{RecipientIdentity: "a", Sent: true, DeliveredAt: ts(now)},
				{RecipientIdentity: "b", Sent: true, DeliveredAt: ts(now)},
			},
			want: StatusDelivered,
		},
		{
			name: "read by some, delivered by all",
			recipients: []RecipientStatus{
				{RecipientIdentity: "a", Sent: true, DeliveredAt: ts(now), ReadAt: ts(now)},
				{RecipientIdentity: "b", Sent: true, DeliveredAt: ts(now)},
			},
			want: StatusDelivered,
		},
		{
			name: "read by all",
			recipients: []RecipientStatus{
				{RecipientIdentity: "a", Sent: true, DeliveredAt: ts(now), ReadAt: ts(now)},
				{RecipientIdentity: "b", Sent: true, DeliveredAt: ts(now), ReadAt: ts(now)},
			},
			want: StatusRead,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RefreshOutboundStatus(tt.recipients))
		})
	}
}

func TestRemoteDeleteDominatesEdit(t *testing.T) {
	m := Message{
		Status:     StatusUnread,
		WipeStatus: WipeNone,
		EditStatus: EditNone,
		Body:       sql.NullString{String: "original", Valid: true},
	}
	require.NoError(t, m.MarkRemoteDeleted(ts(time.Now())))
	assert.Equal(t, RemoteDeleted, m.WipeStatus)
	assert.False(t, m.Body.Valid)

	err := m.ApplyEdit("sneaky", ts(time.Now()))
	assert.ErrorIs(t, err, concord_errors.ErrInvalidTransition)
	assert.False(t, m.Body.Valid)
}

func TestRemoteDeleteIdempotent(t *testing.T) {
	m := Message{WipeStatus: WipeNone, Body: sql.NullString{String: "x", Valid: true}}
	require.NoError(t, m.MarkRemoteDeleted(ts(time.Now())))
	first := m.WipedAt
	require.NoError(t, m.MarkRemoteDeleted(ts(time.Now().Add(time.Hour))))
	assert.Equal(t, first, m.WipedAt)
}

func TestWipePreservesRemoteDeleted(t *testing.T) {
	m := Message{WipeStatus: WipeNone, Body: sql.NullString{String: "x", Valid: true}}
	require.NoError(t, m.MarkRemoteDeleted(ts(time.Now())))
	require.NoError(t, m.Wipe(ts(time.Now())))
	assert.Equal(t, RemoteDeleted, m.WipeStatus)
}

func TestEditMarksUnseen(t *testing.T) {
	m := Message{WipeStatus: WipeNone, Body: sql.NullString{String: "a", Valid: true}}
	require.NoError(t, m.ApplyEdit("b", ts(time.Now())))
	assert.Equal(t, EditedUnseen, m.EditStatus)
	assert.Equal(t, "b", m.Body.String)
}
