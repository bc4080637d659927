package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/seatsmith/seatsmith/internal/models"
	"github.com/seatsmith/seatsmith/pkg/crypto"
	apperrors "github.com/seatsmith/seatsmith/pkg/errors"
	"github.com/seatsmith/seatsmith/pkg/mail"
)

const (
	defaultLinkExpiry        = 7 * 24 * time.Hour
	defaultEmailInviteExpiry = 72 * time.Hour
	defaultInviteTokenBytes  = 32
)

// InviteOption customises InviteService behaviour.
type InviteOption func(*InviteService)

// WithInviteBaseURL configures the base URL used to build invite hyperlinks.
func WithInviteBaseURL(url string) InviteOption {
	return func(s *InviteService) {
		s.baseURL = strings.TrimRight(url, "/")
	}
}

// WithLinkExpiry overrides the shareable invite link lifetime.
func WithLinkExpiry(d time.Duration) InviteOption {
	return func(s *InviteService) {
		if d > 0 {
			s.linkExpiry = d
		}
	}
}

// WithEmailInviteExpiry overrides the email invite lifetime.
func WithEmailInviteExpiry(d time.Duration) InviteOption {
	return func(s *InviteService) {
		if d > 0 {
			s.emailExpiry = d
		}
	}
}

// WithInviteClock injects a custom clock primarily for testing.
func WithInviteClock(clock func() time.Time) InviteOption {
	return func(s *InviteService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// InviteService manages invite links and email invites for organizations.
// Admission of invitees into memberships is MembershipService's job.
type InviteService struct {
	db           *gorm.DB
	mailer       mail.Mailer
	auditService *AuditService
	baseURL      string
	linkExpiry   time.Duration
	emailExpiry  time.Duration
	tokenLength  int
	now          func() time.Time
}

// NewInviteService constructs an InviteService with the provided dependencies.
func NewInviteService(db *gorm.DB, mailer mail.Mailer, auditService *AuditService, opts ...InviteOption) (*InviteService, error) {
	if db == nil {
		return nil, errors.New("invite service: db is required")
	}

	service := &InviteService{
		db:           db,
		mailer:       mailer,
		auditService: auditService,
		linkExpiry:   defaultLinkExpiry,
		emailExpiry:  defaultEmailInviteExpiry,
		tokenLength:  defaultInviteTokenBytes,
		now:          time.Now,
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// CreateInviteLink issues a fresh shareable link for an organization,
// deactivating any previously active link so at most one stays live.
// Requires admin or owner role. Returns the link row and the raw token; the
// token is not recoverable later.
func (s *InviteService) CreateInviteLink(ctx context.Context, actorUserID, organizationID string) (*models.InviteLink, string, error) {
	ctx = ensureContext(ctx)

	rawToken, err := crypto.GenerateToken(s.tokenLength)
	if err != nil {
		return nil, "", fmt.Errorf("invite service: generate token: %w", err)
	}

	now := s.now().UTC()
	link := &models.InviteLink{
		OrganizationID: organizationID,
		TokenHash:      crypto.HashToken(rawToken),
		CreatedBy:      actorUserID,
		ExpiresAt:      now.Add(s.linkExpiry),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := requireAtLeastAdmin(tx, organizationID, actorUserID); err != nil {
			return err
		}

		if err := tx.Model(&models.InviteLink{}).
			Where("organization_id = ? AND deactivated_at IS NULL", organizationID).
			Update("deactivated_at", now).Error; err != nil {
			return fmt.Errorf("deactivate previous link: %w", err)
		}

		if err := tx.Create(link).Error; err != nil {
			return fmt.Errorf("create invite link: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, "", err
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		UserID:         &actorUserID,
		OrganizationID: organizationID,
		Action:         "invite_link.create",
		Resource:       link.ID,
		Result:         "success",
	})

	return link, rawToken, nil
}

// DeactivateInviteLink disables the organization's active link without
// issuing a replacement. Requires admin or owner role.
func (s *InviteService) DeactivateInviteLink(ctx context.Context, actorUserID, organizationID string) error {
	ctx = ensureContext(ctx)
	now := s.now().UTC()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := requireAtLeastAdmin(tx, organizationID, actorUserID); err != nil {
			return err
		}
		return tx.Model(&models.InviteLink{}).
			Where("organization_id = ? AND deactivated_at IS NULL", organizationID).
			Update("deactivated_at", now).Error
	})
	if err != nil {
		return fmt.Errorf("invite service: deactivate link: %w", err)
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		UserID:         &actorUserID,
		OrganizationID: organizationID,
		Action:         "invite_link.deactivate",
		Resource:       organizationID,
		Result:         "success",
	})

	return nil
}

// ResolveInviteLink validates a raw token and returns the live link with its
// organization preloaded, for rendering the join page. The token is not
// consumed.
func (s *InviteService) ResolveInviteLink(ctx context.Context, token string) (*models.InviteLink, error) {
	ctx = ensureContext(ctx)

	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInviteNotFound
	}

	var link models.InviteLink
	err := s.db.WithContext(ctx).
		Preload("Organization").
		Where("token_hash = ?", crypto.HashToken(token)).
		First(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInviteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("invite service: find link: %w", err)
	}

	if !link.Usable(s.now().UTC()) {
		return nil, ErrInviteExpired
	}

	return &link, nil
}

// CreateEmailInvite issues a role-carrying invite to a specific address and
// dispatches the invitation email. Requires admin or owner role; inviting an
// address that already belongs to an active member fails with ErrAlreadyMember.
func (s *InviteService) CreateEmailInvite(ctx context.Context, actorUserID, organizationID, email string, role models.MembershipRole) (*models.EmailInvite, string, error) {
	ctx = ensureContext(ctx)

	email = normalizeEmail(email)
	if email == "" {
		return nil, "", apperrors.NewBadRequest("email is required")
	}
	if !role.Valid() {
		return nil, "", apperrors.NewBadRequest("invalid role")
	}

	rawToken, err := crypto.GenerateToken(s.tokenLength)
	if err != nil {
		return nil, "", fmt.Errorf("invite service: generate token: %w", err)
	}

	now := s.now().UTC()
	invite := &models.EmailInvite{
		OrganizationID: organizationID,
		Email:          email,
		Role:           role,
		TokenHash:      crypto.HashToken(rawToken),
		InvitedBy:      actorUserID,
		ExpiresAt:      now.Add(s.emailExpiry),
	}

	var org models.Organization
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		actor, err := requireAtLeastAdmin(tx, organizationID, actorUserID)
		if err != nil {
			return err
		}
		// Admins cannot hand out owner seats.
		if role == models.RoleOwner && actor.Role != models.RoleOwner {
			return apperrors.ErrForbidden
		}

		if err := tx.First(&org, "id = ?", organizationID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrOrganizationNotFound
			}
			return fmt.Errorf("load organization: %w", err)
		}

		member, err := s.emailHasActiveMembership(tx, organizationID, email)
		if err != nil {
			return err
		}
		if member {
			return ErrAlreadyMember
		}

		if err := tx.Create(invite).Error; err != nil {
			return fmt.Errorf("create email invite: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, "", err
	}

	if s.mailer != nil {
		message := mail.Message{
			To:      []string{email},
			Subject: fmt.Sprintf("You're invited to join %s", org.Name),
			Body:    s.inviteBody(org.Name, s.inviteLinkURL(rawToken)),
		}
		if mailErr := s.mailer.Send(ctx, message); mailErr != nil && !errors.Is(mailErr, mail.ErrSMTPDisabled) {
			return nil, "", fmt.Errorf("invite service: send email: %w", mailErr)
		}
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		UserID:         &actorUserID,
		OrganizationID: organizationID,
		Action:         "email_invite.create",
		Resource:       invite.ID,
		Result:         "success",
		Metadata:       map[string]any{"email": email, "role": string(role)},
	})

	return invite, rawToken, nil
}

// ResolveEmailInvite validates a raw token and returns the pending invite.
func (s *InviteService) ResolveEmailInvite(ctx context.Context, token string) (*models.EmailInvite, error) {
	ctx = ensureContext(ctx)

	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInviteNotFound
	}

	var invite models.EmailInvite
	err := s.db.WithContext(ctx).
		Preload("Organization").
		Where("token_hash = ?", crypto.HashToken(token)).
		First(&invite).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInviteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("invite service: find email invite: %w", err)
	}

	if !invite.Pending(s.now().UTC()) {
		return nil, ErrInviteExpired
	}

	return &invite, nil
}

// RevokeEmailInvite deactivates a pending invite. Requires admin or owner role.
func (s *InviteService) RevokeEmailInvite(ctx context.Context, actorUserID, organizationID, inviteID string) error {
	ctx = ensureContext(ctx)
	now := s.now().UTC()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := requireAtLeastAdmin(tx, organizationID, actorUserID); err != nil {
			return err
		}

		var invite models.EmailInvite
		err := tx.Where("id = ? AND organization_id = ?", inviteID, organizationID).First(&invite).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrInviteNotFound
		}
		if err != nil {
			return fmt.Errorf("load email invite: %w", err)
		}

		if invite.DeactivatedAt != nil {
			return nil
		}
		return tx.Model(&invite).Update("deactivated_at", now).Error
	})
	if err != nil {
		return err
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		UserID:         &actorUserID,
		OrganizationID: organizationID,
		Action:         "email_invite.revoke",
		Resource:       inviteID,
		Result:         "success",
	})

	return nil
}

// ListPending returns the open email invites for an organization. Only the
// most recently created invite per address counts; invites whose address
// already matches an active member are suppressed.
func (s *InviteService) ListPending(ctx context.Context, actorUserID, organizationID string) ([]models.EmailInvite, error) {
	ctx = ensureContext(ctx)
	tx := s.db.WithContext(ctx)

	if _, err := activeMembership(tx, organizationID, actorUserID); err != nil {
		return nil, err
	}

	now := s.now().UTC()

	var invites []models.EmailInvite
	if err := tx.
		Where("organization_id = ? AND deactivated_at IS NULL AND expires_at > ?", organizationID, now).
		Order("created_at DESC").
		Find(&invites).Error; err != nil {
		return nil, fmt.Errorf("invite service: list invites: %w", err)
	}

	memberEmails, err := s.activeMemberEmails(tx, organizationID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(invites))
	pending := make([]models.EmailInvite, 0, len(invites))
	for _, invite := range invites {
		if _, member := memberEmails[invite.Email]; member {
			continue
		}
		// Newest first, so the first occurrence per address wins and the
		// older invites are superseded.
		if _, dup := seen[invite.Email]; dup {
			continue
		}
		seen[invite.Email] = struct{}{}
		pending = append(pending, invite)
	}

	return pending, nil
}

func (s *InviteService) emailHasActiveMembership(tx *gorm.DB, organizationID, email string) (bool, error) {
	var count int64
	err := tx.Model(&models.Membership{}).
		Joins("JOIN users ON users.id = memberships.user_id").
		Where("memberships.organization_id = ? AND memberships.deactivated_at IS NULL AND users.email = ?", organizationID, email).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check member email: %w", err)
	}
	return count > 0, nil
}

func (s *InviteService) activeMemberEmails(tx *gorm.DB, organizationID string) (map[string]struct{}, error) {
	var emails []string
	err := tx.Model(&models.Membership{}).
		Joins("JOIN users ON users.id = memberships.user_id").
		Where("memberships.organization_id = ? AND memberships.deactivated_at IS NULL", organizationID).
		Pluck("users.email", &emails).Error
	if err != nil {
		return nil, fmt.Errorf("load member emails: %w", err)
	}

	set := make(map[string]struct{}, len(emails))
	for _, email := range emails {
		set[normalizeEmail(email)] = struct{}{}
	}
	return set, nil
}

func (s *InviteService) inviteLinkURL(token string) string {
	if s.baseURL == "" {
		return token
	}
	return fmt.Sprintf("%s/join?token=%s", s.baseURL, token)
}

func (s *InviteService) inviteBody(orgName, link string) string {
	return fmt.Sprintf("Hello,\n\nYou have been invited to join %s. Use the following link to accept your invite:\n%s\n\nIf you did not expect this email, you can ignore it.\n", orgName, link)
}
