package services

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/seatsmith/seatsmith/internal/models"
	apperrors "github.com/seatsmith/seatsmith/pkg/errors"
)

// activeMembership loads the caller's active membership in an organization.
// Deactivated memberships grant no access.
func activeMembership(tx *gorm.DB, organizationID, userID string) (*models.Membership, error) {
	var membership models.Membership
	err := tx.
		Where("organization_id = ? AND user_id = ? AND deactivated_at IS NULL", organizationID, userID).
		First(&membership).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrForbidden
	}
	if err != nil {
		return nil, fmt.Errorf("load membership: %w", err)
	}
	return &membership, nil
}

// requireAtLeastAdmin resolves the actor's membership and rejects plain members.
func requireAtLeastAdmin(tx *gorm.DB, organizationID, userID string) (*models.Membership, error) {
	membership, err := activeMembership(tx, organizationID, userID)
	if err != nil {
		return nil, err
	}
	if membership.Role != models.RoleAdmin && membership.Role != models.RoleOwner {
		return nil, apperrors.ErrForbidden
	}
	return membership, nil
}

// requireOwner resolves the actor's membership and rejects non-owners.
func requireOwner(tx *gorm.DB, organizationID, userID string) (*models.Membership, error) {
	membership, err := activeMembership(tx, organizationID, userID)
	if err != nil {
		return nil, err
	}
	if membership.Role != models.RoleOwner {
		return nil, apperrors.ErrForbidden
	}
	return membership, nil
}
