package models

// SubscriptionStatus mirrors the billing provider's subscription state.
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionTrialing SubscriptionStatus = "trialing"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionCanceled SubscriptionStatus = "canceled"
)

// Subscription is the locally cached billing entitlement for an organization.
// Rows are created and mutated by provider webhooks; the newest row per
// organization is the current one. MaxSeats is the product entitlement that
// bounds active memberships, Quantity the seat count last reported upstream.
type Subscription struct {
	BaseModel

	OrganizationID         string             `gorm:"type:uuid;not null;index" json:"organization_id"`
	ProviderSubscriptionID string             `gorm:"uniqueIndex;not null" json:"provider_subscription_id"`
	ProviderItemID         string             `gorm:"not null" json:"provider_item_id"`
	Status                 SubscriptionStatus `gorm:"type:varchar(20);not null" json:"status"`
	Quantity               int                `gorm:"not null;default:0" json:"quantity"`
	MaxSeats               int                `gorm:"not null;default:0" json:"max_seats"`

	Organization *Organization `gorm:"constraint:OnDelete:CASCADE" json:"organization,omitempty"`
}

// Billable reports whether seat-quantity changes should be pushed to the
// provider for this subscription. Canceled subscriptions are never adjusted.
func (s *Subscription) Billable() bool {
	return s != nil && s.Status != SubscriptionCanceled
}
