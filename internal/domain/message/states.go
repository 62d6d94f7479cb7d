package message

import (
	"database/sql"

	concord_errors "concord-core/pkg/errors"
)

// Status is a message's processing/delivery position. Outbound messages
// move Unprocessed → ComputingPreview → Sent/PartiallySent → Delivered →
// Read; inbound messages move Unread → Read.
type Status string

const (
	StatusUnprocessed      Status = "UNPROCESSED"
	StatusComputingPreview Status = "COMPUTING_PREVIEW"
	StatusSent             Status = "SENT"
	StatusPartiallySent    Status = "PARTIALLY_SENT"
	StatusDelivered        Status = "DELIVERED"
	StatusUnread           Status = "UNREAD"
	StatusRead             Status = "READ"
)

// WipeStatus is the orthogonal wipe axis. RemoteDeleted is terminal and
// dominates every other wipe state.
type WipeStatus string

const (
	WipeNone      WipeStatus = "NONE"
	WipeOnRead    WipeStatus = "WIPE_ON_READ"
	Wiped         WipeStatus = "WIPED"
	RemoteDeleted WipeStatus = "REMOTE_DELETED"
)

// EditStatus is the orthogonal edit axis.
type EditStatus string

const (
	EditNone     EditStatus = "NONE"
	EditedUnseen EditStatus = "EDITED_UNSEEN"
	EditedSeen   EditStatus = "EDITED_SEEN"
)

// RefreshOutboundStatus is a pure function over the per-recipient
// delivery/read timestamps of an outbound message: Read iff every
// recipient has read, Delivered iff every recipient has at least a
// delivery timestamp, Sent iff the transport accepted the message for
// every recipient, PartiallySent if it accepted for some.
func RefreshOutboundStatus(recipients []RecipientStatus) Status {
	if len(recipients) == 0 {
		return StatusUnprocessed
	}
	allRead, allDelivered, allSent, anySent := true, true, true, false
	for _, r := range recipients {
		if !r.ReadAt.Valid {
			allRead = false
		}
		if !r.DeliveredAt.Valid {
			allDelivered = false
		}
		if r.Sent {
			anySent = true
		} else {
			allSent = false
		}
	}
	switch {
	case allRead:
		return StatusRead
	case allDelivered:
		return StatusDelivered
	case allSent:
		return StatusSent
	case anySent:
		return StatusPartiallySent
	default:
		return StatusUnprocessed
	}
}

// MarkRemoteDeleted moves the message into the terminal RemoteDeleted
// state, clearing the body in the same step so there is never a visible
// intermediate. Idempotent.
func (m *Message) MarkRemoteDeleted(at sql.NullTime) error {
	if m.WipeStatus == RemoteDeleted {
		return nil
	}
	m.WipeStatus = RemoteDeleted
	m.Body = sql.NullString{}
	m.EditStatus = EditNone
	m.WipedAt = at
	return nil
}

// ApplyEdit replaces the body. Rejected once the message is remote
// deleted or already wiped: delete dominates edit.
func (m *Message) ApplyEdit(body string, at sql.NullTime) error {
	if m.WipeStatus == RemoteDeleted || m.WipeStatus == Wiped {
		return concord_errors.ErrInvalidTransition
	}
	m.Body = sql.NullString{String: body, Valid: true}
	m.EditStatus = EditedUnseen
	m.EditedAt = at
	return nil
}

// Wipe clears the body for a read-once message. A remote-deleted message
// stays remote deleted.
func (m *Message) Wipe(at sql.NullTime) error {
	if m.WipeStatus == RemoteDeleted {
		return nil
	}
	m.WipeStatus = Wiped
	m.Body = sql.NullString{}
	m.WipedAt = at
	return nil
}
