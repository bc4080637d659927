package models

import "time"

// EmailInvite is a role-carrying invitation bound to a specific address.
// Multiple invites may exist for the same organization and email; only the most
// recent non-deactivated, non-expired one counts as pending.
type EmailInvite struct {
	BaseModel

	OrganizationID string         `gorm:"type:uuid;not null;index" json:"organization_id"`
	Email          string         `gorm:"not null;index" json:"email"`
	Role           MembershipRole `gorm:"type:varchar(20);not null;default:'member'" json:"role"`
	TokenHash      string         `gorm:"uniqueIndex;not null" json:"-"`
	InvitedBy      string         `gorm:"type:uuid" json:"invited_by"`
	ExpiresAt      time.Time      `gorm:"index" json:"expires_at"`
	DeactivatedAt  *time.Time     `json:"deactivated_at"`

	Organization *Organization `gorm:"constraint:OnDelete:CASCADE" json:"organization,omitempty"`
}

// Pending reports whether the invite is still open at the given time.
func (i *EmailInvite) Pending(now time.Time) bool {
	return i.DeactivatedAt == nil && i.ExpiresAt.After(now)
}
