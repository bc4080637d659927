package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/seatsmith/seatsmith/internal/billing"
	"github.com/seatsmith/seatsmith/internal/models"
	"github.com/seatsmith/seatsmith/pkg/crypto"
	apperrors "github.com/seatsmith/seatsmith/pkg/errors"
	"github.com/seatsmith/seatsmith/pkg/metrics"
)

// MembershipOption customises MembershipService behaviour.
type MembershipOption func(*MembershipService)

// WithMembershipClock injects a custom clock primarily for testing.
func WithMembershipClock(clock func() time.Time) MembershipOption {
	return func(s *MembershipService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// MembershipService applies the admission and role transition rules. Every
// mutation runs inside a transaction so the capacity check and the membership
// write commit or fail together; seat adjustments are pushed to the billing
// collaborator after commit and their failures propagate without rolling the
// membership change back.
type MembershipService struct {
	db            *gorm.DB
	seats         billing.SeatAdjuster
	notifications *NotificationService
	auditService  *AuditService
	now           func() time.Time
}

// NewMembershipService constructs a MembershipService with the provided
// collaborators. seats and notifications may be nil; the corresponding side
// effects are then skipped.
func NewMembershipService(db *gorm.DB, seats billing.SeatAdjuster, notifications *NotificationService, auditService *AuditService, opts ...MembershipOption) (*MembershipService, error) {
	if db == nil {
		return nil, errors.New("membership service: db is required")
	}
	service := &MembershipService{
		db:            db,
		seats:         seats,
		notifications: notifications,
		auditService:  auditService,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// seatUpdate captures a post-commit seat-quantity push for one subscription.
type seatUpdate struct {
	subscription *models.Subscription
	quantity     int
}

// AdmitViaInviteLink admits a user through a shareable invite link. The
// membership role is fixed to member. On a full organization nothing is
// mutated and the token stays valid.
func (s *MembershipService) AdmitViaInviteLink(ctx context.Context, userID, token string) (*models.Membership, error) {
	ctx = ensureContext(ctx)
	now := s.now().UTC()

	var (
		membership *models.Membership
		update     *seatUpdate
		orgID      string
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var link models.InviteLink
		err := tx.Where("token_hash = ?", crypto.HashToken(token)).First(&link).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrInviteNotFound
		}
		if err != nil {
			return fmt.Errorf("load invite link: %w", err)
		}
		if !link.Usable(now) {
			return ErrInviteExpired
		}
		orgID = link.OrganizationID

		capacity, err := loadOrganizationCapacity(ctx, tx, link.OrganizationID)
		if err != nil {
			return err
		}
		if capacity.Full() {
			return ErrOrganizationFull
		}

		membership = &models.Membership{
			OrganizationID: link.OrganizationID,
			UserID:         userID,
			Role:           models.RoleMember,
		}
		if err := tx.Create(membership).Error; err != nil {
			if isUniqueConstraintError(err) {
				return ErrAlreadyMember
			}
			return fmt.Errorf("create membership: %w", err)
		}

		use := &models.InviteLinkUse{
			InviteLinkID: link.ID,
			UserID:       userID,
		}
		if err := tx.Create(use).Error; err != nil {
			if isUniqueConstraintError(err) {
				return ErrAlreadyMember
			}
			return fmt.Errorf("record link use: %w", err)
		}

		update = newSeatUpdate(capacity.Subscription, capacity.ActiveMembers+1)
		return nil
	})
	if err != nil {
		metrics.Admissions.WithLabelValues("link", admissionOutcome(err)).Inc()
		return nil, err
	}
	metrics.Admissions.WithLabelValues("link", "success").Inc()

	if err := s.pushSeatUpdate(ctx, update); err != nil {
		return nil, err
	}

	s.notifyJoined(ctx, orgID, userID)
	recordAudit(s.auditService, ctx, AuditEntry{
		UserID:         &userID,
		OrganizationID: orgID,
		Action:         "membership.admit",
		Resource:       membership.ID,
		Result:         "success",
		Metadata:       map[string]any{"channel": "link"},
	})

	return membership, nil
}

// AdmitViaEmailInvite admits a user through an email invite. The membership
// carries the invite's role and the invite is deactivated on success. The
// invite must be addressed to the admitted user's email.
func (s *MembershipService) AdmitViaEmailInvite(ctx context.Context, userID, token string) (*models.Membership, error) {
	ctx = ensureContext(ctx)
	now := s.now().UTC()

	var (
		membership *models.Membership
		update     *seatUpdate
		orgID      string
		inviteID   string
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var invite models.EmailInvite
		err := tx.Where("token_hash = ?", crypto.HashToken(token)).First(&invite).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrInviteNotFound
		}
		if err != nil {
			return fmt.Errorf("load email invite: %w", err)
		}
		if !invite.Pending(now) {
			return ErrInviteExpired
		}
		orgID = invite.OrganizationID
		inviteID = invite.ID

		var user models.User
		if err := tx.First(&user, "id = ?", userID).Error; err != nil {
			return fmt.Errorf("load user: %w", err)
		}
		if normalizeEmail(user.Email) != invite.Email {
			return apperrors.ErrForbidden
		}

		capacity, err := loadOrganizationCapacity(ctx, tx, invite.OrganizationID)
		if err != nil {
			return err
		}
		if capacity.Full() {
			return ErrOrganizationFull
		}

		membership = &models.Membership{
			OrganizationID: invite.OrganizationID,
			UserID:         userID,
			Role:           invite.Role,
		}
		if err := tx.Create(membership).Error; err != nil {
			if isUniqueConstraintError(err) {
				return ErrAlreadyMember
			}
			return fmt.Errorf("create membership: %w", err)
		}

		if err := tx.Model(&invite).Update("deactivated_at", now).Error; err != nil {
			return fmt.Errorf("deactivate invite: %w", err)
		}

		update = newSeatUpdate(capacity.Subscription, capacity.ActiveMembers+1)
		return nil
	})
	if err != nil {
		// An invitee who turned out to be a member already retires the
		// invite so it stops showing as pending; the rolled-back
		// transaction cannot do it.
		if errors.Is(err, ErrAlreadyMember) && inviteID != "" {
			_ = s.db.WithContext(ctx).Model(&models.EmailInvite{}).
				Where("id = ?", inviteID).
				Update("deactivated_at", now).Error
		}
		metrics.Admissions.WithLabelValues("email", admissionOutcome(err)).Inc()
		return nil, err
	}
	metrics.Admissions.WithLabelValues("email", "success").Inc()

	if err := s.pushSeatUpdate(ctx, update); err != nil {
		return nil, err
	}

	s.notifyJoined(ctx, orgID, userID)
	recordAudit(s.auditService, ctx, AuditEntry{
		UserID:         &userID,
		OrganizationID: orgID,
		Action:         "membership.admit",
		Resource:       membership.ID,
		Result:         "success",
		Metadata:       map[string]any{"channel": "email", "role": string(membership.Role)},
	})

	return membership, nil
}

// ChangeRole applies a named-role transition to the target membership.
// Reactivating a deactivated membership re-runs the capacity rule first; a
// full organization aborts the transition and the target stays deactivated.
func (s *MembershipService) ChangeRole(ctx context.Context, actorUserID, organizationID, targetUserID string, role models.MembershipRole) (*models.Membership, error) {
	ctx = ensureContext(ctx)

	if !role.Valid() {
		return nil, apperrors.NewBadRequest("invalid role")
	}

	var (
		target *models.Membership
		update *seatUpdate
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		actor, t, err := s.authorizeTransition(tx, actorUserID, organizationID, targetUserID)
		if err != nil {
			return err
		}
		if actor.Role == models.RoleAdmin && role == models.RoleOwner {
			return apperrors.ErrForbidden
		}
		target = t

		if target.IsActive() {
			// Active role change moves no seats.
			if target.Role == role {
				return nil
			}
			return tx.Model(target).Update("role", role).Error
		}

		capacity, err := loadOrganizationCapacity(ctx, tx, organizationID)
		if err != nil {
			return err
		}
		if capacity.Full() {
			return ErrOrganizationFull
		}

		if err := tx.Model(target).Updates(map[string]any{
			"role":           role,
			"deactivated_at": nil,
		}).Error; err != nil {
			return fmt.Errorf("reactivate membership: %w", err)
		}
		target.Role = role
		target.DeactivatedAt = nil

		update = newSeatUpdate(capacity.Subscription, capacity.ActiveMembers+1)
		return nil
	})
	if err != nil {
		metrics.RoleTransitions.WithLabelValues(transitionOutcome(err)).Inc()
		return nil, err
	}
	metrics.RoleTransitions.WithLabelValues("success").Inc()

	if err := s.pushSeatUpdate(ctx, update); err != nil {
		return nil, err
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		UserID:         &actorUserID,
		OrganizationID: organizationID,
		Action:         "membership.change_role",
		Resource:       target.ID,
		Result:         "success",
		Metadata:       map[string]any{"target_user_id": targetUserID, "role": string(role)},
	})

	return target, nil
}

// Deactivate marks the target membership inactive and releases its seat.
// Deactivating an already inactive membership is a no-op.
func (s *MembershipService) Deactivate(ctx context.Context, actorUserID, organizationID, targetUserID string) (*models.Membership, error) {
	ctx = ensureContext(ctx)
	now := s.now().UTC()

	var (
		target *models.Membership
		update *seatUpdate
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, t, err := s.authorizeTransition(tx, actorUserID, organizationID, targetUserID)
		if err != nil {
			return err
		}
		target = t

		if !target.IsActive() {
			return nil
		}

		capacity, err := loadOrganizationCapacity(ctx, tx, organizationID)
		if err != nil {
			return err
		}

		if err := tx.Model(target).Update("deactivated_at", now).Error; err != nil {
			return fmt.Errorf("deactivate membership: %w", err)
		}
		target.DeactivatedAt = &now

		update = newSeatUpdate(capacity.Subscription, capacity.ActiveMembers-1)
		return nil
	})
	if err != nil {
		metrics.RoleTransitions.WithLabelValues(transitionOutcome(err)).Inc()
		return nil, err
	}
	metrics.RoleTransitions.WithLabelValues("success").Inc()

	if err := s.pushSeatUpdate(ctx, update); err != nil {
		return nil, err
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		UserID:         &actorUserID,
		OrganizationID: organizationID,
		Action:         "membership.deactivate",
		Resource:       target.ID,
		Result:         "success",
		Metadata:       map[string]any{"target_user_id": targetUserID},
	})

	return target, nil
}

// ListMembers returns all memberships of an organization, active first, with
// users preloaded. Any active member may list.
func (s *MembershipService) ListMembers(ctx context.Context, actorUserID, organizationID string) ([]models.Membership, error) {
	ctx = ensureContext(ctx)
	tx := s.db.WithContext(ctx)

	if _, err := activeMembership(tx, organizationID, actorUserID); err != nil {
		return nil, err
	}

	var memberships []models.Membership
	err := tx.
		Preload("User").
		Where("organization_id = ?", organizationID).
		Order("deactivated_at IS NOT NULL, created_at ASC").
		Find(&memberships).Error
	if err != nil {
		return nil, fmt.Errorf("membership service: list members: %w", err)
	}
	return memberships, nil
}

// authorizeTransition evaluates the transition authorization rules in order:
// the actor needs an active admin or owner membership, may never target
// themselves, and admins may not act on owners.
func (s *MembershipService) authorizeTransition(tx *gorm.DB, actorUserID, organizationID, targetUserID string) (*models.Membership, *models.Membership, error) {
	actor, err := requireAtLeastAdmin(tx, organizationID, actorUserID)
	if err != nil {
		return nil, nil, err
	}
	if actorUserID == targetUserID {
		return nil, nil, apperrors.ErrForbidden
	}

	var target models.Membership
	err = tx.Where("organization_id = ? AND user_id = ?", organizationID, targetUserID).First(&target).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, ErrMembershipNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load target membership: %w", err)
	}

	if actor.Role == models.RoleAdmin && target.Role == models.RoleOwner {
		return nil, nil, apperrors.ErrForbidden
	}

	return actor, &target, nil
}

// newSeatUpdate returns the post-commit billing push for a billable
// subscription, or nil when no provider call should be made.
func newSeatUpdate(sub *models.Subscription, quantity int) *seatUpdate {
	if !sub.Billable() {
		return nil
	}
	if quantity < 0 {
		quantity = 0
	}
	return &seatUpdate{subscription: sub, quantity: quantity}
}

func (s *MembershipService) pushSeatUpdate(ctx context.Context, update *seatUpdate) error {
	if update == nil || s.seats == nil {
		return nil
	}
	err := s.seats.AdjustSeats(ctx, billing.SeatAdjustment{
		SubscriptionID: update.subscription.ProviderSubscriptionID,
		ItemID:         update.subscription.ProviderItemID,
		Quantity:       update.quantity,
	})
	if err != nil {
		metrics.SeatAdjustments.WithLabelValues("error").Inc()
		return fmt.Errorf("membership service: adjust seats: %w", err)
	}
	metrics.SeatAdjustments.WithLabelValues("success").Inc()
	return nil
}

// notifyJoined tells the organization's admins and owners that someone joined.
func (s *MembershipService) notifyJoined(ctx context.Context, organizationID, joinedUserID string) {
	if s.notifications == nil {
		return
	}

	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", joinedUserID).Error; err != nil {
		return
	}

	name := user.Name
	if name == "" {
		name = user.Email
	}

	_, _ = s.notifications.NotifyOrganizationStaff(ctx, organizationID, LinkPayload{
		Title: fmt.Sprintf("%s joined your organization", name),
		URL:   fmt.Sprintf("/organizations/%s/members", organizationID),
	}, joinedUserID)
}

func admissionOutcome(err error) string {
	switch {
	case errors.Is(err, ErrOrganizationFull):
		return "full"
	case errors.Is(err, ErrAlreadyMember):
		return "duplicate"
	default:
		return "error"
	}
}

func transitionOutcome(err error) string {
	switch {
	case errors.Is(err, ErrOrganizationFull):
		return "full"
	case errors.Is(err, apperrors.ErrForbidden):
		return "forbidden"
	default:
		return "error"
	}
}
