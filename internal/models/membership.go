package models

import "time"

// MembershipRole enumerates the roles a user can hold within an organization.
type MembershipRole string

const (
	RoleMember MembershipRole = "member"
	RoleAdmin  MembershipRole = "admin"
	RoleOwner  MembershipRole = "owner"
)

// Valid reports whether the role is one of the known values.
func (r MembershipRole) Valid() bool {
	switch r {
	case RoleMember, RoleAdmin, RoleOwner:
		return true
	}
	return false
}

// Membership binds a user to an organization with a role. Memberships are never
// hard-deleted by role transitions; a non-nil DeactivatedAt marks them inactive
// while preserving history.
type Membership struct {
	BaseModel

	OrganizationID string         `gorm:"type:uuid;not null;uniqueIndex:idx_memberships_org_user" json:"organization_id"`
	UserID         string         `gorm:"type:uuid;not null;uniqueIndex:idx_memberships_org_user" json:"user_id"`
	Role           MembershipRole `gorm:"type:varchar(20);not null;default:'member'" json:"role"`
	DeactivatedAt  *time.Time     `gorm:"index" json:"deactivated_at"`

	Organization *Organization `gorm:"constraint:OnDelete:CASCADE" json:"organization,omitempty"`
	User         *User         `gorm:"constraint:OnDelete:CASCADE" json:"user,omitempty"`
}

// IsActive reports whether the membership currently occupies a seat.
func (m *Membership) IsActive() bool {
	return m.DeactivatedAt == nil
}
