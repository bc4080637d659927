package models

import (
	"time"

	"gorm.io/datatypes"
)

// Organization is the tenant aggregate. Slug is URL-safe and unique; the
// billing customer id links the organization to the external payments provider.
type Organization struct {
	BaseModel

	Name              string `gorm:"not null" json:"name"`
	Slug              string `gorm:"uniqueIndex;not null" json:"slug"`
	BillingEmail      string `json:"billing_email"`
	BillingCustomerID string `gorm:"index" json:"billing_customer_id"`
	Image             string `json:"image"`

	TrialEndsAt *time.Time     `json:"trial_ends_at"`
	Settings    datatypes.JSON `json:"settings"`

	Memberships   []Membership   `gorm:"foreignKey:OrganizationID;constraint:OnDelete:CASCADE" json:"memberships,omitempty"`
	Subscriptions []Subscription `gorm:"foreignKey:OrganizationID;constraint:OnDelete:CASCADE" json:"subscriptions,omitempty"`
}
