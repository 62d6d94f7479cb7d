package events

import (
	"github.com/google/uuid"
)

// EffectKind names a follow-up action for the Engine/UI to execute
// after the ingest transaction commits.
type EffectKind string

const (
	EffectSendReturnReceipt         EffectKind = "effect.send_return_receipt"
	EffectRequestAttachmentDownload EffectKind = "effect.request_attachment_download"
	EffectMarkAttachmentForDeletion EffectKind = "effect.mark_attachment_for_deletion"
	EffectResendSettings            EffectKind = "effect.resend_settings"
	EffectDisplayNotification       EffectKind = "effect.display_notification"
	EffectResendUnsentMessages      EffectKind = "effect.resend_unsent_messages"
	EffectReprocessOnHold           EffectKind = "effect.reprocess_on_hold"
)

// NotificationKind names a user-visible system message emitted by group
// reconciliation or content events.
type NotificationKind string

const (
	NotifyMemberJoined    NotificationKind = "member_joined"
	NotifyMemberLeft      NotificationKind = "member_left"
	NotifyMemberInvited   NotificationKind = "member_invited"
	NotifyInviteWithdrawn NotificationKind = "invite_withdrawn"
	NotifyGainedAdmin     NotificationKind = "gained_admin"
	NotifyLostAdmin       NotificationKind = "lost_admin"
	NotifyGainedSend      NotificationKind = "gained_send_permission"
	NotifyLostSend        NotificationKind = "lost_send_permission"
	NotifyScreenCapture   NotificationKind = "screen_capture"
	NotifyDiscussionWiped NotificationKind = "discussion_remotely_wiped"
	NotifySettingsUpdated NotificationKind = "shared_settings_updated"
)

// Effect is one follow-up action. Effects are value records: they are
// serialized into the effect outbox inside the transaction and executed
// by collaborators after it commits.
type Effect struct {
	Kind         EffectKind `json:"kind"`
	DiscussionID uuid.UUID  `json:"discussion_id"`

	// Recipient is the identity an outbound effect is addressed to
	// (return receipt, settings resend).
	Recipient string `json:"recipient,omitempty"`

	// AttachmentRef identifies an attachment for download/deletion.
	AttachmentRef string `json:"attachment_ref,omitempty"`

	// Notification fields.
	Notification NotificationKind `json:"notification,omitempty"`
	Subject      string           `json:"subject,omitempty"`
	Author       string           `json:"author,omitempty"`
}

func NewNotification(discussionID uuid.UUID, kind NotificationKind, subject, author string) Effect {
	return Effect{
		Kind:         EffectDisplayNotification,
		DiscussionID: discussionID,
		Notification: kind,
		Subject:      subject,
		Author:       author,
	}
}
