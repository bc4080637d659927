package models

import "time"

// InviteLink is a shareable, organization-scoped join token. At most one link
// per organization is active at a time; creating a new one deactivates the
// previous link. Acceptance is recorded via InviteLinkUse rather than by
// consuming the link, so a link admits many users until it expires.
type InviteLink struct {
	BaseModel

	OrganizationID string     `gorm:"type:uuid;not null;index" json:"organization_id"`
	TokenHash      string     `gorm:"uniqueIndex;not null" json:"-"`
	CreatedBy      string     `gorm:"type:uuid" json:"created_by"`
	ExpiresAt      time.Time  `gorm:"index" json:"expires_at"`
	DeactivatedAt  *time.Time `json:"deactivated_at"`

	Organization *Organization `gorm:"constraint:OnDelete:CASCADE" json:"organization,omitempty"`
}

// Usable reports whether the link can still admit members at the given time.
func (l *InviteLink) Usable(now time.Time) bool {
	return l.DeactivatedAt == nil && l.ExpiresAt.After(now)
}

// InviteLinkUse records a single acceptance of an invite link. The (link, user)
// uniqueness prevents double-counted admissions on replayed requests.
type InviteLinkUse struct {
	BaseModel

	InviteLinkID string `gorm:"type:uuid;not null;uniqueIndex:idx_invite_link_uses_link_user" json:"invite_link_id"`
	UserID       string `gorm:"type:uuid;not null;uniqueIndex:idx_invite_link_uses_link_user" json:"user_id"`

	InviteLink *InviteLink `gorm:"constraint:OnDelete:CASCADE" json:"invite_link,omitempty"`
}
