package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/seatsmith/seatsmith/internal/models"
)

func newAccountService(t *testing.T, db *gorm.DB, seats *fakeSeatAdjuster) *AccountService {
	t.Helper()
	svc, err := NewAccountService(db, seats, nil)
	require.NoError(t, err)
	return svc
}

func TestDeleteUser(t *testing.T) {
	t.Run("sole owner organizations are deleted wholesale", func(t *testing.T) {
		db := openTestDB(t)
		owner := seedUser(t, db, "owner@example.com")
		employee := seedUser(t, db, "employee@example.com")
		solo := seedOrganization(t, db, "solo")
		seedMembership(t, db, solo.ID, owner.ID, models.RoleOwner)
		seedMembership(t, db, solo.ID, employee.ID, models.RoleMember)
		seedSubscription(t, db, solo.ID, models.SubscriptionActive, 10)

		seats := &fakeSeatAdjuster{}
		svc := newAccountService(t, db, seats)

		require.NoError(t, svc.DeleteUser(context.Background(), owner.ID))

		var orgs int64
		require.NoError(t, db.Model(&models.Organization{}).Count(&orgs).Error)
		require.Zero(t, orgs)

		var memberships int64
		require.NoError(t, db.Model(&models.Membership{}).Count(&memberships).Error)
		require.Zero(t, memberships)

		var users int64
		require.NoError(t, db.Model(&models.User{}).Where("id = ?", owner.ID).Count(&users).Error)
		require.Zero(t, users)

		// No surviving subscription means no seat pushes.
		require.Empty(t, seats.calls)
	})

	t.Run("shared organizations keep running and release the seat", func(t *testing.T) {
		db := openTestDB(t)
		coOwner := seedUser(t, db, "co-owner@example.com")
		leaver := seedUser(t, db, "leaver@example.com")
		shared := seedOrganization(t, db, "shared")
		seedMembership(t, db, shared.ID, coOwner.ID, models.RoleOwner)
		seedMembership(t, db, shared.ID, leaver.ID, models.RoleOwner)
		sub := seedSubscription(t, db, shared.ID, models.SubscriptionActive, 10)

		seats := &fakeSeatAdjuster{}
		svc := newAccountService(t, db, seats)

		require.NoError(t, svc.DeleteUser(context.Background(), leaver.ID))

		var org models.Organization
		require.NoError(t, db.First(&org, "id = ?", shared.ID).Error)
		require.Equal(t, 1, activeMembers(t, db, shared.ID))

		require.Len(t, seats.calls, 1)
		require.Equal(t, sub.ProviderSubscriptionID, seats.calls[0].SubscriptionID)
		require.Equal(t, 1, seats.calls[0].Quantity)
	})

	t.Run("deactivated memberships release no seats", func(t *testing.T) {
		db := openTestDB(t)
		owner := seedUser(t, db, "owner@example.com")
		former := seedUser(t, db, "former@example.com")
		org := seedOrganization(t, db, "acme")
		seedMembership(t, db, org.ID, owner.ID, models.RoleOwner)
		seedDeactivatedMembership(t, db, org.ID, former.ID, models.RoleMember, time.Now().UTC())
		seedSubscription(t, db, org.ID, models.SubscriptionActive, 10)

		seats := &fakeSeatAdjuster{}
		svc := newAccountService(t, db, seats)

		require.NoError(t, svc.DeleteUser(context.Background(), former.ID))
		require.Empty(t, seats.calls)

		// The membership row is still gone with the account.
		var count int64
		require.NoError(t, db.Model(&models.Membership{}).Where("user_id = ?", former.ID).Count(&count).Error)
		require.Zero(t, count)
	})

	t.Run("personal notification and invite state goes with the user", func(t *testing.T) {
		db := openTestDB(t)
		owner := seedUser(t, db, "owner@example.com")
		leaver := seedUser(t, db, "leaver@example.com")
		org := seedOrganization(t, db, "acme")
		seedMembership(t, db, org.ID, owner.ID, models.RoleOwner)
		seedMembership(t, db, org.ID, leaver.ID, models.RoleMember)

		link, _ := seedInviteLink(t, db, org.ID, owner.ID, time.Now().Add(time.Hour))
		require.NoError(t, db.Create(&models.InviteLinkUse{InviteLinkID: link.ID, UserID: leaver.ID}).Error)

		notifications := newNotificationService(t, db, time.Now().UTC())
		_, err := notifications.PublishLink(context.Background(), org.ID,
			LinkPayload{Title: "hello", URL: "https://x"}, []string{owner.ID, leaver.ID})
		require.NoError(t, err)

		svc := newAccountService(t, db, &fakeSeatAdjuster{})
		require.NoError(t, svc.DeleteUser(context.Background(), leaver.ID))

		var recipients int64
		require.NoError(t, db.Model(&models.NotificationRecipient{}).
			Where("user_id = ?", leaver.ID).Count(&recipients).Error)
		require.Zero(t, recipients)

		var uses int64
		require.NoError(t, db.Model(&models.InviteLinkUse{}).
			Where("user_id = ?", leaver.ID).Count(&uses).Error)
		require.Zero(t, uses)

		// The owner's copy of the notification survives.
		var remaining int64
		require.NoError(t, db.Model(&models.NotificationRecipient{}).
			Where("user_id = ?", owner.ID).Count(&remaining).Error)
		require.EqualValues(t, 1, remaining)
	})

	t.Run("unknown users are rejected", func(t *testing.T) {
		db := openTestDB(t)
		svc := newAccountService(t, db, &fakeSeatAdjuster{})
		require.Error(t, svc.DeleteUser(context.Background(), "missing"))
	})
}
