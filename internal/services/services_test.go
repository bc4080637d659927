package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/seatsmith/seatsmith/internal/billing"
	"github.com/seatsmith/seatsmith/internal/database/testutil"
	"github.com/seatsmith/seatsmith/internal/models"
	"github.com/seatsmith/seatsmith/pkg/crypto"
)

// fakeSeatAdjuster records seat adjustments instead of calling a provider.
type fakeSeatAdjuster struct {
	calls []billing.SeatAdjustment
	err   error
}

func (f *fakeSeatAdjuster) AdjustSeats(_ context.Context, adj billing.SeatAdjustment) error {
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, adj)
	return nil
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	return testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
}

func seedUser(t *testing.T, db *gorm.DB, email string) *models.User {
	t.Helper()
	user := &models.User{
		Email:    email,
		Password: "x",
		Name:     email,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func seedOrganization(t *testing.T, db *gorm.DB, name string) *models.Organization {
	t.Helper()
	org := &models.Organization{
		Name: name,
		Slug: fmt.Sprintf("%s-%d", name, time.Now().UnixNano()),
	}
	require.NoError(t, db.Create(org).Error)
	return org
}

func seedMembership(t *testing.T, db *gorm.DB, orgID, userID string, role models.MembershipRole) *models.Membership {
	t.Helper()
	membership := &models.Membership{
		OrganizationID: orgID,
		UserID:         userID,
		Role:           role,
	}
	require.NoError(t, db.Create(membership).Error)
	return membership
}

func seedDeactivatedMembership(t *testing.T, db *gorm.DB, orgID, userID string, role models.MembershipRole, at time.Time) *models.Membership {
	t.Helper()
	membership := seedMembership(t, db, orgID, userID, role)
	require.NoError(t, db.Model(membership).Update("deactivated_at", at).Error)
	membership.DeactivatedAt = &at
	return membership
}

func seedSubscription(t *testing.T, db *gorm.DB, orgID string, status models.SubscriptionStatus, maxSeats int) *models.Subscription {
	t.Helper()
	sub := &models.Subscription{
		OrganizationID:         orgID,
		ProviderSubscriptionID: fmt.Sprintf("sub_%s_%d", orgID[:8], time.Now().UnixNano()),
		ProviderItemID:         "item_basic",
		Status:                 status,
		Quantity:               0,
		MaxSeats:               maxSeats,
	}
	require.NoError(t, db.Create(sub).Error)
	return sub
}

func seedInviteLink(t *testing.T, db *gorm.DB, orgID, createdBy string, expiresAt time.Time) (*models.InviteLink, string) {
	t.Helper()
	token, err := crypto.GenerateToken(32)
	require.NoError(t, err)
	link := &models.InviteLink{
		OrganizationID: orgID,
		TokenHash:      crypto.HashToken(token),
		CreatedBy:      createdBy,
		ExpiresAt:      expiresAt,
	}
	require.NoError(t, db.Create(link).Error)
	return link, token
}

func seedEmailInvite(t *testing.T, db *gorm.DB, orgID, email string, role models.MembershipRole, expiresAt time.Time) (*models.EmailInvite, string) {
	t.Helper()
	token, err := crypto.GenerateToken(32)
	require.NoError(t, err)
	invite := &models.EmailInvite{
		OrganizationID: orgID,
		Email:          email,
		Role:           role,
		TokenHash:      crypto.HashToken(token),
		ExpiresAt:      expiresAt,
	}
	require.NoError(t, db.Create(invite).Error)
	return invite, token
}

func activeMembers(t *testing.T, db *gorm.DB, orgID string) int {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(&models.Membership{}).
		Where("organization_id = ? AND deactivated_at IS NULL", orgID).
		Count(&count).Error)
	return int(count)
}
