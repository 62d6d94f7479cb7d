package discussion

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes the three discussion shapes.
type Kind string

const (
	KindOneToOne Kind = "ONE_TO_ONE"
	KindGroupV1  Kind = "GROUP_V1"
	KindGroupV2  Kind = "GROUP_V2"
)

// Discussion represents the discussions table: one row per
// (owner, peer-or-group) pair. LastOutboundSequenceNumber is owned by
// the local sender and strictly increases.
type Discussion struct {
	ID                         uuid.UUID `gorm:"type:uuid;primaryKey"`
	OwnerIdentity              string    `gorm:"not null;uniqueIndex:ux_discussions_scope,priority:1"`
	PeerOrGroupIdentifier      string    `gorm:"not null;uniqueIndex:ux_discussions_scope,priority:2"`
	Kind                       Kind      `gorm:"not null"`
	Title                      sql.NullString
	LastOutboundSequenceNumber int64
	LastMessageTimestamp       int64

	// Shared ephemeral settings, merged by the settings merger. Version
	// advances only through an admin/owner holding change-settings.
	SharedSettingsVersion int
	ReadOnce              bool
	VisibilityDuration    sql.NullInt64
	ExistenceDuration     sql.NullInt64

	// Aggregate member-name index recomputed after each group
	// reconciliation, used for search.
	MemberNameIndex string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SharedSettings is the value form of the ephemeral-settings triple used
// by the merger; durations are seconds, unset means no constraint.
type SharedSettings struct {
	Version            int
	ReadOnce           bool
	VisibilityDuration sql.NullInt64
	ExistenceDuration  sql.NullInt64
}

func (d *Discussion) Settings() SharedSettings {
	return SharedSettings{
		Version:            d.SharedSettingsVersion,
		ReadOnce:           d.ReadOnce,
		VisibilityDuration: d.VisibilityDuration,
		ExistenceDuration:  d.ExistenceDuration,
	}
}

func (d *Discussion) SetSettings(s SharedSettings) {
	d.SharedSettingsVersion = s.Version
	d.ReadOnce = s.ReadOnce
	d.VisibilityDuration = s.VisibilityDuration
	d.ExistenceDuration = s.ExistenceDuration
}

func (Discussion) TableName() string {
	return "discussions"
}
