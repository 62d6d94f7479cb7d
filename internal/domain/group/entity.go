package group

import (
	"time"
)

// Permission names one bit of the member permission set.
type Permission string

const (
	PermissionAdmin                 Permission = "admin"
	PermissionRemoteDeleteAnything  Permission = "remote_delete_anything"
	PermissionEditOrRemoteDeleteOwn Permission = "edit_or_remote_delete_own"
	PermissionChangeSettings        Permission = "change_settings"
	PermissionSendMessage           Permission = "send_message"
)

// Permissions is the permission bit set attached to a group member.
type Permissions struct {
	Admin                 bool
	RemoteDeleteAnything  bool
	EditOrRemoteDeleteOwn bool
	ChangeSettings        bool
	SendMessage           bool
}

// Has reports whether the set grants one permission.
func (p Permissions) Has(perm Permission) bool {
	switch perm {
	case PermissionAdmin:
		return p.Admin
	case PermissionRemoteDeleteAnything:
		return p.RemoteDeleteAnything
	case PermissionEditOrRemoteDeleteOwn:
		return p.EditOrRemoteDeleteOwn
	case PermissionChangeSettings:
		return p.ChangeSettings
	case PermissionSendMessage:
		return p.SendMessage
	default:
		return false
	}
}

// Member represents the group_members table.
type Member struct {
	OwnerIdentity   string `gorm:"primaryKey"`
	GroupIdentifier string `gorm:"primaryKey"`
	MemberIdentity  string `gorm:"primaryKey"`
	DisplayName     string

	Admin                 bool
	RemoteDeleteAnything  bool
	EditOrRemoteDeleteOwn bool
	ChangeSettings        bool
	SendMessage           bool

	// Keycloak-managed groups attribute identity churn to an underlying
	// account id; empty when the signed block could not be parsed.
	KeycloakUserID string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PendingMember represents the group_pending_members table: invited but
// not yet joined. A member row and a pending row for the same identity
// are mutually exclusive in an authoritative snapshot.
type PendingMember struct {
	OwnerIdentity   string `gorm:"primaryKey"`
	GroupIdentifier string `gorm:"primaryKey"`
	MemberIdentity  string `gorm:"primaryKey"`
	DisplayName     string
	DisplayDetails  string

	Admin                 bool
	RemoteDeleteAnything  bool
	EditOrRemoteDeleteOwn bool
	ChangeSettings        bool
	SendMessage           bool

	KeycloakUserID string

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (m *Member) Permissions() Permissions {
	return Permissions{
		Admin:                 m.Admin,
		RemoteDeleteAnything:  m.RemoteDeleteAnything,
		EditOrRemoteDeleteOwn: m.EditOrRemoteDeleteOwn,
		ChangeSettings:        m.ChangeSettings,
		SendMessage:           m.SendMessage,
	}
}

func (m *Member) SetPermissions(p Permissions) {
	m.Admin = p.Admin
	m.RemoteDeleteAnything = p.RemoteDeleteAnything
	m.EditOrRemoteDeleteOwn = p.EditOrRemoteDeleteOwn
	m.ChangeSettings = p.ChangeSettings
	m.SendMessage = p.SendMessage
}

func (p *PendingMember) Permissions() Permissions {
	return Permissions{
		Admin:                 p.Admin,
		RemoteDeleteAnything:  p.RemoteDeleteAnything,
		EditOrRemoteDeleteOwn: p.EditOrRemoteDeleteOwn,
		ChangeSettings:        p.ChangeSettings,
		SendMessage:           p.SendMessage,
	}
}

func (p *PendingMember) SetPermissions(perms Permissions) {
	p.Admin = perms.Admin
	p.RemoteDeleteAnything = perms.RemoteDeleteAnything
	p.EditOrRemoteDeleteOwn = perms.EditOrRemoteDeleteOwn
	p.ChangeSettings = perms.ChangeSettings
	p.SendMessage = perms.SendMessage
}

func (Member) TableName() string {
	return "group_members"
}

func (PendingMember) TableName() string {
	return "group_pending_members"
}
