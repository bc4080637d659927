package services

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/seatsmith/seatsmith/internal/models"
)

// DefaultMaxSeats is the trial/fallback seat ceiling applied when an
// organization has no billable subscription.
const DefaultMaxSeats = 25

// EffectiveMaxSeats computes the seat ceiling for an organization from its
// current subscription. Canceled and past-due subscriptions do not grant
// entitlements; without one the default ceiling applies.
func EffectiveMaxSeats(sub *models.Subscription) int {
	if sub == nil {
		return DefaultMaxSeats
	}
	switch sub.Status {
	case models.SubscriptionCanceled, models.SubscriptionPastDue:
		return DefaultMaxSeats
	}
	if sub.MaxSeats <= 0 {
		return DefaultMaxSeats
	}
	return sub.MaxSeats
}

// IsOrganizationFull reports whether the active membership count has reached
// the effective seat ceiling.
func IsOrganizationFull(activeMembers int, sub *models.Subscription) bool {
	return activeMembers >= EffectiveMaxSeats(sub)
}

// LatestSubscription picks the current subscription from a preloaded list:
// the newest row by creation time, or nil when none exist.
func LatestSubscription(subs []models.Subscription) *models.Subscription {
	var latest *models.Subscription
	for i := range subs {
		if latest == nil || subs[i].CreatedAt.After(latest.CreatedAt) {
			latest = &subs[i]
		}
	}
	return latest
}

// lockOrganizationRow takes a per-organization row lock so concurrent
// admissions serialize on the capacity check instead of both passing it under
// read committed. SQLite rejects the locking clause; its single writer already
// serializes the transactions.
func lockOrganizationRow(tx *gorm.DB, organizationID string) error {
	query := tx.Select("id")
	if tx.Dialector.Name() != "sqlite" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var org models.Organization
	err := query.First(&org, "id = ?", organizationID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrOrganizationNotFound
	}
	if err != nil {
		return fmt.Errorf("lock organization: %w", err)
	}
	return nil
}

// currentSubscription loads the newest subscription row for an organization.
// Returns nil without error when the organization has none.
func currentSubscription(tx *gorm.DB, organizationID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := tx.
		Where("organization_id = ?", organizationID).
		Order("created_at DESC").
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load subscription: %w", err)
	}
	return &sub, nil
}

// activeMemberCount counts memberships occupying a seat in the organization.
func activeMemberCount(tx *gorm.DB, organizationID string) (int, error) {
	var count int64
	if err := tx.
		Model(&models.Membership{}).
		Where("organization_id = ? AND deactivated_at IS NULL", organizationID).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count active memberships: %w", err)
	}
	return int(count), nil
}

// organizationCapacity bundles the data the admission and transition rules
// re-fetch before deciding.
type organizationCapacity struct {
	ActiveMembers int
	Subscription  *models.Subscription
}

func (c organizationCapacity) Full() bool {
	return IsOrganizationFull(c.ActiveMembers, c.Subscription)
}

func loadOrganizationCapacity(ctx context.Context, tx *gorm.DB, organizationID string) (organizationCapacity, error) {
	tx = tx.WithContext(ensureContext(ctx))

	if err := lockOrganizationRow(tx, organizationID); err != nil {
		return organizationCapacity{}, err
	}

	count, err := activeMemberCount(tx, organizationID)
	if err != nil {
		return organizationCapacity{}, err
	}

	sub, err := currentSubscription(tx, organizationID)
	if err != nil {
		return organizationCapacity{}, err
	}

	return organizationCapacity{ActiveMembers: count, Subscription: sub}, nil
}
