package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/seatsmith/seatsmith/internal/models"
	apperrors "github.com/seatsmith/seatsmith/pkg/errors"
)

// SubscriptionEvent is a normalized billing-provider webhook payload about one
// subscription. The sync layer is provider-agnostic; the webhook handler maps
// provider-specific events into this shape.
type SubscriptionEvent struct {
	ProviderCustomerID     string
	ProviderSubscriptionID string
	ProviderItemID         string
	Status                 models.SubscriptionStatus
	Quantity               int
	MaxSeats               int
}

// BillingSyncService mirrors provider subscription state into the local
// subscription cache that the capacity rule reads.
type BillingSyncService struct {
	db           *gorm.DB
	auditService *AuditService
}

// NewBillingSyncService constructs a BillingSyncService instance.
func NewBillingSyncService(db *gorm.DB, auditService *AuditService) (*BillingSyncService, error) {
	if db == nil {
		return nil, errors.New("billing sync service: db is required")
	}
	return &BillingSyncService{db: db, auditService: auditService}, nil
}

// LinkCustomer attaches a provider customer id to an organization. Subsequent
// subscription events resolve the organization through this id.
func (s *BillingSyncService) LinkCustomer(ctx context.Context, organizationID, providerCustomerID string) error {
	ctx = ensureContext(ctx)

	providerCustomerID = strings.TrimSpace(providerCustomerID)
	if providerCustomerID == "" {
		return apperrors.NewBadRequest("provider customer id is required")
	}

	result := s.db.WithContext(ctx).
		Model(&models.Organization{}).
		Where("id = ?", organizationID).
		Update("billing_customer_id", providerCustomerID)
	if result.Error != nil {
		return fmt.Errorf("billing sync service: link customer: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrOrganizationNotFound
	}
	return nil
}

// ApplySubscriptionEvent upserts the local subscription row for a provider
// event. Events for unknown customers fail; the provider retries its webhooks
// so the handler surfaces the error.
func (s *BillingSyncService) ApplySubscriptionEvent(ctx context.Context, event SubscriptionEvent) (*models.Subscription, error) {
	ctx = ensureContext(ctx)

	if strings.TrimSpace(event.ProviderSubscriptionID) == "" {
		return nil, apperrors.NewBadRequest("provider subscription id is required")
	}
	switch event.Status {
	case models.SubscriptionActive, models.SubscriptionTrialing, models.SubscriptionPastDue, models.SubscriptionCanceled:
	default:
		return nil, apperrors.NewBadRequest("unknown subscription status")
	}

	var sub *models.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var org models.Organization
		err := tx.Where("billing_customer_id = ?", event.ProviderCustomerID).First(&org).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrOrganizationNotFound
		}
		if err != nil {
			return fmt.Errorf("resolve organization: %w", err)
		}

		var existing models.Subscription
		err = tx.Where("provider_subscription_id = ?", event.ProviderSubscriptionID).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			sub = &models.Subscription{
				OrganizationID:         org.ID,
				ProviderSubscriptionID: event.ProviderSubscriptionID,
				ProviderItemID:         event.ProviderItemID,
				Status:                 event.Status,
				Quantity:               event.Quantity,
				MaxSeats:               event.MaxSeats,
			}
			if err := tx.Create(sub).Error; err != nil {
				return fmt.Errorf("create subscription: %w", err)
			}
			return nil
		case err != nil:
			return fmt.Errorf("load subscription: %w", err)
		}

		updates := map[string]any{
			"status":   event.Status,
			"quantity": event.Quantity,
		}
		if event.ProviderItemID != "" {
			updates["provider_item_id"] = event.ProviderItemID
		}
		if event.MaxSeats > 0 {
			updates["max_seats"] = event.MaxSeats
		}
		if err := tx.Model(&existing).Updates(updates).Error; err != nil {
			return fmt.Errorf("update subscription: %w", err)
		}
		if err := tx.First(&existing, "id = ?", existing.ID).Error; err != nil {
			return fmt.Errorf("reload subscription: %w", err)
		}
		sub = &existing
		return nil
	})
	if err != nil {
		return nil, err
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		OrganizationID: sub.OrganizationID,
		Action:         "billing.subscription_sync",
		Resource:       sub.ProviderSubscriptionID,
		Result:         "success",
		Metadata: map[string]any{
			"status":    string(sub.Status),
			"quantity":  sub.Quantity,
			"max_seats": sub.MaxSeats,
		},
	})

	return sub, nil
}
