package events

import (
	"github.com/google/uuid"
)

// Kind classifies a decoded inbound payload. Exactly one variant of
// Decoded is populated per payload.
type Kind string

const (
	KindNewMessage          Kind = "message.new"
	KindDeleteDiscussion    Kind = "discussion.delete"
	KindDeleteMessages      Kind = "message.delete"
	KindUpdateMessage       Kind = "message.update"
	KindReaction            Kind = "message.reaction"
	KindQuerySharedSettings Kind = "settings.query"
	KindSharedSettings      Kind = "settings.shared"
	KindScreenCaptureNotice Kind = "discussion.screen_capture"
)

// TargetRef names a logical message by its stable reference fields minus
// the discussion, which comes from the event scope.
type TargetRef struct {
	SenderIdentifier     string `json:"sender_identifier"`
	SenderThreadID       string `json:"sender_thread_id"`
	SenderSequenceNumber int64  `json:"sender_sequence_number"`
}

type NewMessage struct {
	SenderThreadID       string          `json:"sender_thread_id"`
	SenderSequenceNumber int64           `json:"sender_sequence_number"`
	Body                 string          `json:"body"`
	Attachments          []AttachmentRef `json:"attachments,omitempty"`
	ReadOnce             bool            `json:"read_once,omitempty"`
}

type AttachmentRef struct {
	EngineRef string `json:"engine_ref"`
	Filename  string `json:"filename"`
	Size      int64  `json:"size"`
}

type DeleteDiscussion struct{}

type DeleteMessages struct {
	Targets []TargetRef `json:"targets"`
}

type UpdateMessage struct {
	Target  TargetRef `json:"target"`
	NewBody string    `json:"new_body"`
}

type Reaction struct {
	Target TargetRef `json:"target"`
	// Emoji is empty to clear a previous reaction.
	Emoji string `json:"emoji"`
}

type QuerySharedSettings struct {
	KnownVersion int `json:"known_version"`
	// KnownSettings is the querier's current triple, when it sent one.
	KnownSettings *SharedSettings `json:"known_settings,omitempty"`
}

type SharedSettings struct {
	Version            int    `json:"version"`
	ReadOnce           bool   `json:"read_once"`
	VisibilityDuration *int64 `json:"visibility_duration,omitempty"`
	ExistenceDuration  *int64 `json:"existence_duration,omitempty"`
}

type ScreenCaptureNotice struct{}

// Decoded is the tagged union handed over by the Engine once a payload
// has been decrypted and authenticated. Exactly one field is non-nil.
type Decoded struct {
	NewMessage          *NewMessage          `json:"new_message,omitempty"`
	DeleteDiscussion    *DeleteDiscussion    `json:"delete_discussion,omitempty"`
	DeleteMessages      *DeleteMessages      `json:"delete_messages,omitempty"`
	UpdateMessage       *UpdateMessage       `json:"update_message,omitempty"`
	Reaction            *Reaction            `json:"reaction,omitempty"`
	QuerySharedSettings *QuerySharedSettings `json:"query_shared_settings,omitempty"`
	SharedSettings      *SharedSettings      `json:"shared_settings,omitempty"`
	ScreenCaptureNotice *ScreenCaptureNotice `json:"screen_capture_notice,omitempty"`
}

// Classify returns the kind of the single populated variant, or false
// when zero or more than one variant is set.
func (d Decoded) Classify() (Kind, bool) {
	var kind Kind
	count := 0
	if d.NewMessage != nil {
		kind, count = KindNewMessage, count+1
	}
	if d.DeleteDiscussion != nil {
		kind, count = KindDeleteDiscussion, count+1
	}
	if d.DeleteMessages != nil {
		kind, count = KindDeleteMessages, count+1
	}
	if d.UpdateMessage != nil {
		kind, count = KindUpdateMessage, count+1
	}
	if d.Reaction != nil {
		kind, count = KindReaction, count+1
	}
	if d.QuerySharedSettings != nil {
		kind, count = KindQuerySharedSettings, count+1
	}
	if d.SharedSettings != nil {
		kind, count = KindSharedSettings, count+1
	}
	if d.ScreenCaptureNotice != nil {
		kind, count = KindScreenCaptureNotice, count+1
	}
	return kind, count == 1
}

// Scope is the discussion context the Engine resolved for an event
// before handing it over.
type Scope struct {
	DiscussionID    uuid.UUID `json:"discussion_id"`
	OwnerIdentity   string    `json:"owner_identity"`
	SenderIdentity  string    `json:"sender_identity"`
	ServerTimestamp int64     `json:"server_timestamp"`
}
