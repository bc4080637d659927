package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/seatsmith/seatsmith/internal/models"
	apperrors "github.com/seatsmith/seatsmith/pkg/errors"
)

func newOrganizationService(t *testing.T, db *gorm.DB) *OrganizationService {
	t.Helper()
	svc, err := NewOrganizationService(db, nil)
	require.NoError(t, err)
	return svc
}

func TestCreateOrganization(t *testing.T) {
	db := openTestDB(t)
	creator := seedUser(t, db, "founder@example.com")
	svc := newOrganizationService(t, db)

	org, err := svc.Create(context.Background(), CreateOrganizationInput{
		CreatorUserID: creator.ID,
		Name:          "Acme Rockets, Inc.",
		BillingEmail:  "Billing@Example.COM",
	})
	require.NoError(t, err)
	require.Equal(t, "acme-rockets-inc", org.Slug)
	require.Equal(t, "billing@example.com", org.BillingEmail)
	require.NotNil(t, org.TrialEndsAt)

	// The creator becomes the owner.
	var membership models.Membership
	require.NoError(t, db.Where("organization_id = ? AND user_id = ?", org.ID, creator.ID).First(&membership).Error)
	require.Equal(t, models.RoleOwner, membership.Role)
	require.Nil(t, membership.DeactivatedAt)

	// A colliding name gets a suffixed slug.
	second, err := svc.Create(context.Background(), CreateOrganizationInput{
		CreatorUserID: creator.ID,
		Name:          "Acme Rockets Inc",
	})
	require.NoError(t, err)
	require.Equal(t, "acme-rockets-inc-2", second.Slug)

	_, err = svc.Create(context.Background(), CreateOrganizationInput{CreatorUserID: creator.ID})
	require.Error(t, err)
	_, err = svc.Create(context.Background(), CreateOrganizationInput{Name: "No Creator"})
	require.Error(t, err)
}

func TestGetForUser(t *testing.T) {
	db := openTestDB(t)
	org := seedOrganization(t, db, "acme")
	member := seedUser(t, db, "member@example.com")
	seedMembership(t, db, org.ID, member.ID, models.RoleMember)
	seedSubscription(t, db, org.ID, models.SubscriptionActive, 10)

	svc := newOrganizationService(t, db)

	detail, err := svc.GetForUser(context.Background(), org.ID, member.ID)
	require.NoError(t, err)
	require.Equal(t, org.ID, detail.Organization.ID)
	require.Len(t, detail.Organization.Memberships, 1)
	require.Len(t, detail.Organization.Subscriptions, 1)
	require.Equal(t, 1, detail.ActiveMembers)
	require.Equal(t, 10, detail.MaxSeats)

	outsider := seedUser(t, db, "outsider@example.com")
	_, err = svc.GetForUser(context.Background(), org.ID, outsider.ID)
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	former := seedUser(t, db, "former@example.com")
	seedDeactivatedMembership(t, db, org.ID, former.ID, models.RoleMember, time.Now().UTC())
	_, err = svc.GetForUser(context.Background(), org.ID, former.ID)
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	// The deactivated membership does not count toward seat usage.
	detail, err = svc.GetForUser(context.Background(), org.ID, member.ID)
	require.NoError(t, err)
	require.Len(t, detail.Organization.Memberships, 2)
	require.Equal(t, 1, detail.ActiveMembers)

	// Without a subscription the default ceiling applies.
	bare := seedOrganization(t, db, "bare")
	seedMembership(t, db, bare.ID, member.ID, models.RoleOwner)
	detail, err = svc.GetForUser(context.Background(), bare.ID, member.ID)
	require.NoError(t, err)
	require.Equal(t, DefaultMaxSeats, detail.MaxSeats)
}

func TestListForUser(t *testing.T) {
	db := openTestDB(t)
	user := seedUser(t, db, "user@example.com")
	first := seedOrganization(t, db, "first")
	second := seedOrganization(t, db, "second")
	third := seedOrganization(t, db, "third")
	seedMembership(t, db, first.ID, user.ID, models.RoleOwner)
	seedMembership(t, db, second.ID, user.ID, models.RoleMember)
	seedDeactivatedMembership(t, db, third.ID, user.ID, models.RoleMember, time.Now().UTC())

	svc := newOrganizationService(t, db)

	orgs, err := svc.ListForUser(context.Background(), user.ID)
	require.NoError(t, err)
	require.Len(t, orgs, 2)

	ids := []string{orgs[0].ID, orgs[1].ID}
	require.ElementsMatch(t, []string{first.ID, second.ID}, ids)
}

func TestUpdateOrganization(t *testing.T) {
	db := openTestDB(t)
	org := seedOrganization(t, db, "acme")
	admin := seedUser(t, db, "admin@example.com")
	member := seedUser(t, db, "member@example.com")
	seedMembership(t, db, org.ID, admin.ID, models.RoleAdmin)
	seedMembership(t, db, org.ID, member.ID, models.RoleMember)

	svc := newOrganizationService(t, db)

	name := "Renamed Corp"
	updated, err := svc.Update(context.Background(), admin.ID, org.ID, UpdateOrganizationInput{Name: &name})
	require.NoError(t, err)
	require.Equal(t, "Renamed Corp", updated.Name)
	// The slug is stable across renames.
	require.Equal(t, org.Slug, updated.Slug)

	_, err = svc.Update(context.Background(), member.ID, org.ID, UpdateOrganizationInput{Name: &name})
	require.ErrorIs(t, err, apperrors.ErrForbidden)
}

func TestDeleteOrganization(t *testing.T) {
	db := openTestDB(t)
	org := seedOrganization(t, db, "acme")
	keep := seedOrganization(t, db, "keep")
	owner := seedUser(t, db, "owner@example.com")
	admin := seedUser(t, db, "admin@example.com")
	seedMembership(t, db, org.ID, owner.ID, models.RoleOwner)
	seedMembership(t, db, org.ID, admin.ID, models.RoleAdmin)
	seedMembership(t, db, keep.ID, owner.ID, models.RoleOwner)

	seedSubscription(t, db, org.ID, models.SubscriptionActive, 10)
	link, _ := seedInviteLink(t, db, org.ID, owner.ID, time.Now().Add(time.Hour))
	require.NoError(t, db.Create(&models.InviteLinkUse{InviteLinkID: link.ID, UserID: admin.ID}).Error)
	seedEmailInvite(t, db, org.ID, "pending@example.com", models.RoleMember, time.Now().Add(time.Hour))

	notificationSvc := newNotificationService(t, db, time.Now().UTC())
	_, err := notificationSvc.PublishLink(context.Background(), org.ID,
		LinkPayload{Title: "x", URL: "https://x"}, []string{owner.ID})
	require.NoError(t, err)

	svc := newOrganizationService(t, db)

	// Admins cannot delete; only owners.
	require.ErrorIs(t, svc.Delete(context.Background(), admin.ID, org.ID), apperrors.ErrForbidden)
	require.NoError(t, svc.Delete(context.Background(), owner.ID, org.ID))

	for _, table := range []struct {
		name  string
		value any
	}{
		{"organization", &models.Organization{}},
		{"memberships", &models.Membership{}},
		{"subscriptions", &models.Subscription{}},
		{"invite links", &models.InviteLink{}},
		{"invite link uses", &models.InviteLinkUse{}},
		{"email invites", &models.EmailInvite{}},
		{"notifications", &models.Notification{}},
		{"notification recipients", &models.NotificationRecipient{}},
	} {
		var count int64
		require.NoError(t, db.Model(table.value).Count(&count).Error, table.name)
		if table.name == "organization" || table.name == "memberships" {
			// The unrelated organization survives.
			require.EqualValues(t, 1, count, table.name)
			continue
		}
		require.Zero(t, count, table.name)
	}
}
