package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/seatsmith/seatsmith/internal/billing"
	"github.com/seatsmith/seatsmith/internal/models"
	"github.com/seatsmith/seatsmith/pkg/logger"
)

// AccountOption customises AccountService behaviour.
type AccountOption func(*AccountService)

// WithAccountClock injects a custom clock primarily for testing.
func WithAccountClock(clock func() time.Time) AccountOption {
	return func(s *AccountService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// AccountService handles user account lifecycle, most notably the cascading
// deletion saga: organizations where the user is the sole owner are deleted
// outright, every other membership releases its seat, then the user row and
// its personal data go.
type AccountService struct {
	db           *gorm.DB
	seats        billing.SeatAdjuster
	auditService *AuditService
	now          func() time.Time
}

// NewAccountService constructs an AccountService instance.
func NewAccountService(db *gorm.DB, seats billing.SeatAdjuster, auditService *AuditService, opts ...AccountOption) (*AccountService, error) {
	if db == nil {
		return nil, errors.New("account service: db is required")
	}
	service := &AccountService{
		db:           db,
		seats:        seats,
		auditService: auditService,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// DeleteUser removes a user account. The saga runs as explicit steps inside
// one transaction so each is observable: enumerate the user's memberships,
// delete sole-owner organizations wholesale, release seats everywhere else,
// then remove the user's notification state and the user row. Seat-quantity
// pushes to the billing provider happen after commit; their failures are
// aggregated and returned but do not undo the deletion.
func (s *AccountService) DeleteUser(ctx context.Context, userID string) error {
	ctx = ensureContext(ctx)

	var updates []*seatUpdate

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		err := tx.First(&user, "id = ?", userID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrMembershipNotFound
		}
		if err != nil {
			return fmt.Errorf("load user: %w", err)
		}

		var memberships []models.Membership
		if err := tx.Where("user_id = ?", userID).Find(&memberships).Error; err != nil {
			return fmt.Errorf("list memberships: %w", err)
		}

		for _, membership := range memberships {
			soleOwner, err := s.isSoleOwner(tx, membership)
			if err != nil {
				return err
			}

			if soleOwner {
				if err := deleteOrganizationCascade(tx, membership.OrganizationID); err != nil {
					return err
				}
				continue
			}

			if !membership.IsActive() {
				continue
			}

			capacity, err := loadOrganizationCapacity(ctx, tx, membership.OrganizationID)
			if err != nil {
				return err
			}
			if update := newSeatUpdate(capacity.Subscription, capacity.ActiveMembers-1); update != nil {
				updates = append(updates, update)
			}
		}

		// Membership rows in surviving organizations are hard-deleted with the
		// user rather than deactivated; the account is gone, not suspended.
		if err := tx.Where("user_id = ?", userID).Delete(&models.Membership{}).Error; err != nil {
			return fmt.Errorf("delete memberships: %w", err)
		}
		if err := tx.Where("user_id = ?", userID).Delete(&models.NotificationRecipient{}).Error; err != nil {
			return fmt.Errorf("delete notification state: %w", err)
		}
		if err := tx.Where("user_id = ?", userID).Delete(&models.InviteLinkUse{}).Error; err != nil {
			return fmt.Errorf("delete invite link uses: %w", err)
		}
		if err := tx.Delete(&models.User{}, "id = ?", userID).Error; err != nil {
			return fmt.Errorf("delete user: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		Action:   "account.delete",
		Resource: userID,
		Result:   "success",
	})

	var seatErrs error
	for _, update := range updates {
		if s.seats == nil {
			break
		}
		adjErr := s.seats.AdjustSeats(ctx, billing.SeatAdjustment{
			SubscriptionID: update.subscription.ProviderSubscriptionID,
			ItemID:         update.subscription.ProviderItemID,
			Quantity:       update.quantity,
		})
		if adjErr != nil {
			logger.Error("seat adjustment failed during account deletion",
				zap.String("subscription_id", update.subscription.ProviderSubscriptionID),
				zap.Error(adjErr),
			)
			seatErrs = multierr.Append(seatErrs, adjErr)
		}
	}
	if seatErrs != nil {
		return fmt.Errorf("account service: adjust seats: %w", seatErrs)
	}

	return nil
}

// isSoleOwner reports whether this membership is an ownership with no other
// active owner in the organization.
func (s *AccountService) isSoleOwner(tx *gorm.DB, membership models.Membership) (bool, error) {
	if membership.Role != models.RoleOwner || !membership.IsActive() {
		return false, nil
	}

	var others int64
	err := tx.Model(&models.Membership{}).
		Where("organization_id = ? AND user_id <> ? AND role = ? AND deactivated_at IS NULL",
			membership.OrganizationID, membership.UserID, models.RoleOwner).
		Count(&others).Error
	if err != nil {
		return false, fmt.Errorf("count owners: %w", err)
	}
	return others == 0, nil
}
