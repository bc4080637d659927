package models

import (
	"time"

	"gorm.io/datatypes"
)

// NotificationKind discriminates notification payload shapes. The set is closed:
// consumers switch on the kind and reject unknown values.
type NotificationKind string

const (
	// NotificationKindLink carries a title and a target URL, e.g. "X joined
	// your organization" pointing at the members page.
	NotificationKindLink NotificationKind = "link"
)

// Notification is a single payload fanned out to one or more recipients.
// Read state lives on NotificationRecipient, not here.
type Notification struct {
	BaseModel

	OrganizationID string           `gorm:"type:uuid;index" json:"organization_id"`
	Kind           NotificationKind `gorm:"type:varchar(32);not null" json:"kind"`
	Payload        datatypes.JSON   `gorm:"not null" json:"payload"`

	Recipients []NotificationRecipient `gorm:"foreignKey:NotificationID;constraint:OnDelete:CASCADE" json:"recipients,omitempty"`
}

// NotificationRecipient tracks per-recipient read state for a notification.
type NotificationRecipient struct {
	BaseModel

	NotificationID string     `gorm:"type:uuid;not null;uniqueIndex:idx_notification_recipients_nu" json:"notification_id"`
	UserID         string     `gorm:"type:uuid;not null;uniqueIndex:idx_notification_recipients_nu;index" json:"user_id"`
	ReadAt         *time.Time `json:"read_at"`

	Notification *Notification `gorm:"constraint:OnDelete:CASCADE" json:"notification,omitempty"`
}
