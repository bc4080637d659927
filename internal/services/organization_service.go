package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/seatsmith/seatsmith/internal/models"
	apperrors "github.com/seatsmith/seatsmith/pkg/errors"
)

const defaultTrialDays = 14

var slugStripPattern = regexp.MustCompile(`[^a-z0-9]+`)

// CreateOrganizationInput captures new organization metadata.
type CreateOrganizationInput struct {
	CreatorUserID string
	Name          string
	BillingEmail  string
}

// UpdateOrganizationInput describes mutable organization fields.
type UpdateOrganizationInput struct {
	Name         *string
	BillingEmail *string
	Image        *string
}

// OrganizationOption customises OrganizationService behaviour.
type OrganizationOption func(*OrganizationService)

// WithOrganizationClock injects a custom clock primarily for testing.
func WithOrganizationClock(clock func() time.Time) OrganizationOption {
	return func(s *OrganizationService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// OrganizationService handles organization lifecycle. Membership and invite
// mutations live in MembershipService and InviteService.
type OrganizationService struct {
	db           *gorm.DB
	auditService *AuditService
	now          func() time.Time
}

// NewOrganizationService constructs an OrganizationService instance.
func NewOrganizationService(db *gorm.DB, auditService *AuditService, opts ...OrganizationOption) (*OrganizationService, error) {
	if db == nil {
		return nil, errors.New("organization service: db is required")
	}
	service := &OrganizationService{
		db:           db,
		auditService: auditService,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// Create registers a new organization and makes the creator its owner.
func (s *OrganizationService) Create(ctx context.Context, input CreateOrganizationInput) (*models.Organization, error) {
	ctx = ensureContext(ctx)

	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, apperrors.NewBadRequest("organization name is required")
	}
	creatorID := strings.TrimSpace(input.CreatorUserID)
	if creatorID == "" {
		return nil, apperrors.NewBadRequest("creator user id is required")
	}

	trialEnd := s.now().UTC().AddDate(0, 0, defaultTrialDays)

	org := &models.Organization{
		Name:         name,
		BillingEmail: normalizeEmail(input.BillingEmail),
		TrialEndsAt:  &trialEnd,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		slug, err := s.availableSlug(tx, name)
		if err != nil {
			return err
		}
		org.Slug = slug

		if err := tx.Create(org).Error; err != nil {
			if isUniqueConstraintError(err) {
				return apperrors.NewBadRequest("organization slug already exists")
			}
			return fmt.Errorf("create organization: %w", err)
		}

		membership := &models.Membership{
			OrganizationID: org.ID,
			UserID:         creatorID,
			Role:           models.RoleOwner,
		}
		if err := tx.Create(membership).Error; err != nil {
			return fmt.Errorf("create owner membership: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		UserID:         &creatorID,
		OrganizationID: org.ID,
		Action:         "organization.create",
		Resource:       org.ID,
		Result:         "success",
		Metadata:       map[string]any{"slug": org.Slug},
	})

	return org, nil
}

// OrganizationDetail pairs an organization with its current seat usage.
type OrganizationDetail struct {
	Organization  *models.Organization
	ActiveMembers int
	MaxSeats      int
}

// GetForUser loads an organization the requesting user belongs to, with its
// memberships and subscriptions preloaded and the seat usage derived from them.
func (s *OrganizationService) GetForUser(ctx context.Context, organizationID, userID string) (*OrganizationDetail, error) {
	ctx = ensureContext(ctx)
	tx := s.db.WithContext(ctx)

	if _, err := activeMembership(tx, organizationID, userID); err != nil {
		return nil, err
	}

	var org models.Organization
	err := tx.
		Preload("Memberships.User").
		Preload("Subscriptions", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at DESC")
		}).
		First(&org, "id = ?", organizationID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrganizationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("organization service: load organization: %w", err)
	}

	active := 0
	for i := range org.Memberships {
		if org.Memberships[i].IsActive() {
			active++
		}
	}

	return &OrganizationDetail{
		Organization:  &org,
		ActiveMembers: active,
		MaxSeats:      EffectiveMaxSeats(LatestSubscription(org.Subscriptions)),
	}, nil
}

// ListForUser returns all organizations where the user holds an active membership.
func (s *OrganizationService) ListForUser(ctx context.Context, userID string) ([]models.Organization, error) {
	ctx = ensureContext(ctx)

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperrors.NewBadRequest("user id is required")
	}

	var orgs []models.Organization
	err := s.db.WithContext(ctx).
		Joins("JOIN memberships ON memberships.organization_id = organizations.id").
		Where("memberships.user_id = ? AND memberships.deactivated_at IS NULL", userID).
		Order("organizations.created_at ASC").
		Find(&orgs).Error
	if err != nil {
		return nil, fmt.Errorf("organization service: list organizations: %w", err)
	}

	return orgs, nil
}

// Update modifies organization settings. Requires admin or owner role.
func (s *OrganizationService) Update(ctx context.Context, actorUserID, organizationID string, input UpdateOrganizationInput) (*models.Organization, error) {
	ctx = ensureContext(ctx)
	tx := s.db.WithContext(ctx)

	if _, err := requireAtLeastAdmin(tx, organizationID, actorUserID); err != nil {
		return nil, err
	}

	var org models.Organization
	err := tx.First(&org, "id = ?", organizationID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrganizationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("organization service: load organization: %w", err)
	}

	updates := map[string]any{}
	if input.Name != nil {
		if name := strings.TrimSpace(*input.Name); name != "" && name != org.Name {
			updates["name"] = name
		}
	}
	if input.BillingEmail != nil {
		updates["billing_email"] = normalizeEmail(*input.BillingEmail)
	}
	if input.Image != nil {
		updates["image"] = strings.TrimSpace(*input.Image)
	}

	if len(updates) == 0 {
		return &org, nil
	}

	if err := tx.Model(&org).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("organization service: update organization: %w", err)
	}
	if err := tx.First(&org, "id = ?", organizationID).Error; err != nil {
		return nil, fmt.Errorf("organization service: reload organization: %w", err)
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		UserID:         &actorUserID,
		OrganizationID: org.ID,
		Action:         "organization.update",
		Resource:       org.ID,
		Result:         "success",
		Metadata:       updates,
	})

	return &org, nil
}

// Delete removes an organization and everything hanging off it. Owner only.
func (s *OrganizationService) Delete(ctx context.Context, actorUserID, organizationID string) error {
	ctx = ensureContext(ctx)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := requireOwner(tx, organizationID, actorUserID); err != nil {
			return err
		}
		return deleteOrganizationCascade(tx, organizationID)
	})
	if err != nil {
		return err
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		UserID:         &actorUserID,
		OrganizationID: organizationID,
		Action:         "organization.delete",
		Resource:       organizationID,
		Result:         "success",
	})

	return nil
}

// deleteOrganizationCascade removes an organization and its dependents in an
// explicit order so the steps stay observable instead of relying on database
// cascade triggers.
func deleteOrganizationCascade(tx *gorm.DB, organizationID string) error {
	steps := []struct {
		name  string
		value any
		where string
	}{
		{"invite link uses", &models.InviteLinkUse{}, "invite_link_id IN (SELECT id FROM invite_links WHERE organization_id = ?)"},
		{"invite links", &models.InviteLink{}, "organization_id = ?"},
		{"email invites", &models.EmailInvite{}, "organization_id = ?"},
		{"notification recipients", &models.NotificationRecipient{}, "notification_id IN (SELECT id FROM notifications WHERE organization_id = ?)"},
		{"notifications", &models.Notification{}, "organization_id = ?"},
		{"subscriptions", &models.Subscription{}, "organization_id = ?"},
		{"memberships", &models.Membership{}, "organization_id = ?"},
	}

	for _, step := range steps {
		if err := tx.Where(step.where, organizationID).Delete(step.value).Error; err != nil {
			return fmt.Errorf("delete %s: %w", step.name, err)
		}
	}

	if err := tx.Delete(&models.Organization{}, "id = ?", organizationID).Error; err != nil {
		return fmt.Errorf("delete organization: %w", err)
	}
	return nil
}

// availableSlug derives a URL-safe slug from the organization name, suffixing
// a counter when the plain slug is taken.
func (s *OrganizationService) availableSlug(tx *gorm.DB, name string) (string, error) {
	base := slugify(name)
	if base == "" {
		base = "org"
	}

	candidate := base
	for attempt := 2; ; attempt++ {
		var count int64
		if err := tx.Model(&models.Organization{}).Where("slug = ?", candidate).Count(&count).Error; err != nil {
			return "", fmt.Errorf("check slug availability: %w", err)
		}
		if count == 0 {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, attempt)
	}
}

func slugify(name string) string {
	slug := slugStripPattern.ReplaceAllString(strings.ToLower(name), "-")
	return strings.Trim(slug, "-")
}
