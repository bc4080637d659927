package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/seatsmith/seatsmith/internal/models"
	apperrors "github.com/seatsmith/seatsmith/pkg/errors"
)

func newMembershipService(t *testing.T, db *gorm.DB, seats *fakeSeatAdjuster, now time.Time) *MembershipService {
	t.Helper()
	svc, err := NewMembershipService(db, seats, nil, nil,
		WithMembershipClock(func() time.Time { return now }))
	require.NoError(t, err)
	return svc
}

func TestAdmitViaInviteLink(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("admits with member role and records link use", func(t *testing.T) {
		db := openTestDB(t)
		org := seedOrganization(t, db, "acme")
		owner := seedUser(t, db, "owner@example.com")
		seedMembership(t, db, org.ID, owner.ID, models.RoleOwner)
		sub := seedSubscription(t, db, org.ID, models.SubscriptionActive, 10)
		link, token := seedInviteLink(t, db, org.ID, owner.ID, now.Add(time.Hour))
		joiner := seedUser(t, db, "joiner@example.com")

		seats := &fakeSeatAdjuster{}
		svc := newMembershipService(t, db, seats, now)

		membership, err := svc.AdmitViaInviteLink(context.Background(), joiner.ID, token)
		require.NoError(t, err)
		require.Equal(t, models.RoleMember, membership.Role)
		require.Nil(t, membership.DeactivatedAt)

		var use models.InviteLinkUse
		require.NoError(t, db.Where("invite_link_id = ? AND user_id = ?", link.ID, joiner.ID).First(&use).Error)

		require.Len(t, seats.calls, 1)
		require.Equal(t, sub.ProviderSubscriptionID, seats.calls[0].SubscriptionID)
		require.Equal(t, 2, seats.calls[0].Quantity)
	})

	t.Run("full organization rejects admission and leaves token valid", func(t *testing.T) {
		db := openTestDB(t)
		org := seedOrganization(t, db, "acme")
		seedSubscription(t, db, org.ID, models.SubscriptionActive, 2)
		first := seedUser(t, db, "first@example.com")
		seedMembership(t, db, org.ID, first.ID, models.RoleMember)
		second := seedUser(t, db, "second@example.com")
		seedMembership(t, db, org.ID, second.ID, models.RoleMember)
		_, token := seedInviteLink(t, db, org.ID, "", now.Add(time.Hour))
		joiner := seedUser(t, db, "late@example.com")

		seats := &fakeSeatAdjuster{}
		svc := newMembershipService(t, db, seats, now)

		_, err := svc.AdmitViaInviteLink(context.Background(), joiner.ID, token)
		require.ErrorIs(t, err, ErrOrganizationFull)

		require.Equal(t, 2, activeMembers(t, db, org.ID))
		require.Empty(t, seats.calls)

		// The token was not consumed; freeing a seat lets it succeed.
		require.NoError(t, db.Model(&models.Membership{}).
			Where("organization_id = ? AND user_id = ?", org.ID, second.ID).
			Update("deactivated_at", now).Error)
		_, err = svc.AdmitViaInviteLink(context.Background(), joiner.ID, token)
		require.NoError(t, err)
	})

	t.Run("canceled subscription falls back to default ceiling without billing", func(t *testing.T) {
		db := openTestDB(t)
		org := seedOrganization(t, db, "acme")
		seedSubscription(t, db, org.ID, models.SubscriptionCanceled, 1)
		user := seedUser(t, db, "first@example.com")
		seedMembership(t, db, org.ID, user.ID, models.RoleOwner)
		_, token := seedInviteLink(t, db, org.ID, user.ID, now.Add(time.Hour))
		joiner := seedUser(t, db, "second@example.com")

		seats := &fakeSeatAdjuster{}
		svc := newMembershipService(t, db, seats, now)

		// MaxSeats=1 would block this, but canceled subscriptions do not bound capacity.
		_, err := svc.AdmitViaInviteLink(context.Background(), joiner.ID, token)
		require.NoError(t, err)
		require.Empty(t, seats.calls)
	})

	t.Run("duplicate admission is rejected", func(t *testing.T) {
		db := openTestDB(t)
		org := seedOrganization(t, db, "acme")
		user := seedUser(t, db, "member@example.com")
		seedMembership(t, db, org.ID, user.ID, models.RoleMember)
		_, token := seedInviteLink(t, db, org.ID, "", now.Add(time.Hour))

		svc := newMembershipService(t, db, &fakeSeatAdjuster{}, now)

		_, err := svc.AdmitViaInviteLink(context.Background(), user.ID, token)
		require.ErrorIs(t, err, ErrAlreadyMember)
		require.Equal(t, 1, activeMembers(t, db, org.ID))
	})

	t.Run("expired and deactivated links are rejected", func(t *testing.T) {
		db := openTestDB(t)
		org := seedOrganization(t, db, "acme")
		joiner := seedUser(t, db, "joiner@example.com")
		svc := newMembershipService(t, db, &fakeSeatAdjuster{}, now)

		_, expired := seedInviteLink(t, db, org.ID, "", now.Add(-time.Hour))
		_, err := svc.AdmitViaInviteLink(context.Background(), joiner.ID, expired)
		require.ErrorIs(t, err, ErrInviteExpired)

		link, token := seedInviteLink(t, db, org.ID, "", now.Add(time.Hour))
		require.NoError(t, db.Model(link).Update("deactivated_at", now).Error)
		_, err = svc.AdmitViaInviteLink(context.Background(), joiner.ID, token)
		require.ErrorIs(t, err, ErrInviteExpired)

		_, err = svc.AdmitViaInviteLink(context.Background(), joiner.ID, "no-such-token")
		require.ErrorIs(t, err, ErrInviteNotFound)
	})
}

func TestAdmitViaEmailInvite(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("admits with invite role and deactivates invite", func(t *testing.T) {
		db := openTestDB(t)
		org := seedOrganization(t, db, "acme")
		sub := seedSubscription(t, db, org.ID, models.SubscriptionActive, 10)
		joiner := seedUser(t, db, "admin-to-be@example.com")
		invite, token := seedEmailInvite(t, db, org.ID, joiner.Email, models.RoleAdmin, now.Add(time.Hour))

		seats := &fakeSeatAdjuster{}
		svc := newMembershipService(t, db, seats, now)

		membership, err := svc.AdmitViaEmailInvite(context.Background(), joiner.ID, token)
		require.NoError(t, err)
		require.Equal(t, models.RoleAdmin, membership.Role)

		var reloaded models.EmailInvite
		require.NoError(t, db.First(&reloaded, "id = ?", invite.ID).Error)
		require.NotNil(t, reloaded.DeactivatedAt)

		require.Len(t, seats.calls, 1)
		require.Equal(t, sub.ProviderSubscriptionID, seats.calls[0].SubscriptionID)
		require.Equal(t, 1, seats.calls[0].Quantity)
	})

	t.Run("full organization short-circuits before any mutation", func(t *testing.T) {
		db := openTestDB(t)
		org := seedOrganization(t, db, "acme")
		seedSubscription(t, db, org.ID, models.SubscriptionActive, 1)
		seatHolder := seedUser(t, db, "holder@example.com")
		seedMembership(t, db, org.ID, seatHolder.ID, models.RoleOwner)
		joiner := seedUser(t, db, "joiner@example.com")
		invite, token := seedEmailInvite(t, db, org.ID, joiner.Email, models.RoleMember, now.Add(time.Hour))

		seats := &fakeSeatAdjuster{}
		svc := newMembershipService(t, db, seats, now)

		_, err := svc.AdmitViaEmailInvite(context.Background(), joiner.ID, token)
		require.ErrorIs(t, err, ErrOrganizationFull)

		require.Equal(t, 1, activeMembers(t, db, org.ID))
		require.Empty(t, seats.calls)

		var reloaded models.EmailInvite
		require.NoError(t, db.First(&reloaded, "id = ?", invite.ID).Error)
		require.Nil(t, reloaded.DeactivatedAt)
	})

	t.Run("invite bound to another email is rejected", func(t *testing.T) {
		db := openTestDB(t)
		org := seedOrganization(t, db, "acme")
		joiner := seedUser(t, db, "me@example.com")
		_, token := seedEmailInvite(t, db, org.ID, "someone-else@example.com", models.RoleMember, now.Add(time.Hour))

		svc := newMembershipService(t, db, &fakeSeatAdjuster{}, now)

		_, err := svc.AdmitViaEmailInvite(context.Background(), joiner.ID, token)
		require.ErrorIs(t, err, apperrors.ErrForbidden)
	})

	t.Run("existing member retires the invite", func(t *testing.T) {
		db := openTestDB(t)
		org := seedOrganization(t, db, "acme")
		user := seedUser(t, db, "member@example.com")
		seedMembership(t, db, org.ID, user.ID, models.RoleMember)
		invite, token := seedEmailInvite(t, db, org.ID, user.Email, models.RoleMember, now.Add(time.Hour))

		svc := newMembershipService(t, db, &fakeSeatAdjuster{}, now)

		_, err := svc.AdmitViaEmailInvite(context.Background(), user.ID, token)
		require.ErrorIs(t, err, ErrAlreadyMember)

		var reloaded models.EmailInvite
		require.NoError(t, db.First(&reloaded, "id = ?", invite.ID).Error)
		require.NotNil(t, reloaded.DeactivatedAt)
	})
}

func TestChangeRole(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	setup := func(t *testing.T) (*gorm.DB, *models.Organization, *models.User, *models.User, *models.User) {
		db := openTestDB(t)
		org := seedOrganization(t, db, "acme")
		owner := seedUser(t, db, "owner@example.com")
		admin := seedUser(t, db, "admin@example.com")
		member := seedUser(t, db, "member@example.com")
		seedMembership(t, db, org.ID, owner.ID, models.RoleOwner)
		seedMembership(t, db, org.ID, admin.ID, models.RoleAdmin)
		seedMembership(t, db, org.ID, member.ID, models.RoleMember)
		return db, org, owner, admin, member
	}

	t.Run("self transition is forbidden regardless of role", func(t *testing.T) {
		db, org, owner, admin, _ := setup(t)
		svc := newMembershipService(t, db, &fakeSeatAdjuster{}, now)

		_, err := svc.ChangeRole(context.Background(), owner.ID, org.ID, owner.ID, models.RoleMember)
		require.ErrorIs(t, err, apperrors.ErrForbidden)

		_, err = svc.ChangeRole(context.Background(), admin.ID, org.ID, admin.ID, models.RoleMember)
		require.ErrorIs(t, err, apperrors.ErrForbidden)

		_, err = svc.Deactivate(context.Background(), owner.ID, org.ID, owner.ID)
		require.ErrorIs(t, err, apperrors.ErrForbidden)
	})

	t.Run("admin cannot modify owners or create them", func(t *testing.T) {
		db, org, owner, admin, member := setup(t)
		svc := newMembershipService(t, db, &fakeSeatAdjuster{}, now)

		_, err := svc.ChangeRole(context.Background(), admin.ID, org.ID, owner.ID, models.RoleMember)
		require.ErrorIs(t, err, apperrors.ErrForbidden)

		_, err = svc.ChangeRole(context.Background(), admin.ID, org.ID, member.ID, models.RoleOwner)
		require.ErrorIs(t, err, apperrors.ErrForbidden)

		var reloaded models.Membership
		require.NoError(t, db.Where("organization_id = ? AND user_id = ?", org.ID, member.ID).First(&reloaded).Error)
		require.Equal(t, models.RoleMember, reloaded.Role)
	})

	t.Run("member actors are rejected", func(t *testing.T) {
		db, org, _, admin, member := setup(t)
		svc := newMembershipService(t, db, &fakeSeatAdjuster{}, now)

		_, err := svc.ChangeRole(context.Background(), member.ID, org.ID, admin.ID, models.RoleMember)
		require.ErrorIs(t, err, apperrors.ErrForbidden)
	})

	t.Run("unknown target reports membership not found", func(t *testing.T) {
		db, org, owner, _, _ := setup(t)
		outsider := seedUser(t, db, "outsider@example.com")
		svc := newMembershipService(t, db, &fakeSeatAdjuster{}, now)

		_, err := svc.ChangeRole(context.Background(), owner.ID, org.ID, outsider.ID, models.RoleAdmin)
		require.ErrorIs(t, err, ErrMembershipNotFound)
	})

	t.Run("active role change moves no seats", func(t *testing.T) {
		db, org, owner, _, member := setup(t)
		seedSubscription(t, db, org.ID, models.SubscriptionActive, 10)
		seats := &fakeSeatAdjuster{}
		svc := newMembershipService(t, db, seats, now)

		updated, err := svc.ChangeRole(context.Background(), owner.ID, org.ID, member.ID, models.RoleAdmin)
		require.NoError(t, err)
		require.Equal(t, models.RoleAdmin, updated.Role)
		require.Empty(t, seats.calls)
	})

	t.Run("reactivation re-checks capacity and leaves state on full", func(t *testing.T) {
		db := openTestDB(t)
		org := seedOrganization(t, db, "acme")
		seedSubscription(t, db, org.ID, models.SubscriptionActive, 5)
		owner := seedUser(t, db, "owner@example.com")
		seedMembership(t, db, org.ID, owner.ID, models.RoleOwner)
		for i := 0; i < 4; i++ {
			user := seedUser(t, db, usernameEmail("filler", i))
			seedMembership(t, db, org.ID, user.ID, models.RoleMember)
		}
		deactivatedAt := now.Add(-24 * time.Hour)
		parked := seedUser(t, db, "parked@example.com")
		seedDeactivatedMembership(t, db, org.ID, parked.ID, models.RoleMember, deactivatedAt)

		seats := &fakeSeatAdjuster{}
		svc := newMembershipService(t, db, seats, now)

		_, err := svc.ChangeRole(context.Background(), owner.ID, org.ID, parked.ID, models.RoleMember)
		require.ErrorIs(t, err, ErrOrganizationFull)
		require.Empty(t, seats.calls)

		var reloaded models.Membership
		require.NoError(t, db.Where("organization_id = ? AND user_id = ?", org.ID, parked.ID).First(&reloaded).Error)
		require.NotNil(t, reloaded.DeactivatedAt)
		require.WithinDuration(t, deactivatedAt, *reloaded.DeactivatedAt, time.Second)
	})

	t.Run("reactivation below capacity clears timestamp and increments seats", func(t *testing.T) {
		db, org, owner, _, _ := setup(t)
		sub := seedSubscription(t, db, org.ID, models.SubscriptionActive, 10)
		parked := seedUser(t, db, "parked@example.com")
		seedDeactivatedMembership(t, db, org.ID, parked.ID, models.RoleMember, now.Add(-time.Hour))

		seats := &fakeSeatAdjuster{}
		svc := newMembershipService(t, db, seats, now)

		updated, err := svc.ChangeRole(context.Background(), owner.ID, org.ID, parked.ID, models.RoleAdmin)
		require.NoError(t, err)
		require.Equal(t, models.RoleAdmin, updated.Role)
		require.Nil(t, updated.DeactivatedAt)

		require.Len(t, seats.calls, 1)
		require.Equal(t, sub.ProviderSubscriptionID, seats.calls[0].SubscriptionID)
		require.Equal(t, 4, seats.calls[0].Quantity)
	})
}

func TestDeactivate(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("sets timestamp and decrements seats", func(t *testing.T) {
		db := openTestDB(t)
		org := seedOrganization(t, db, "acme")
		sub := seedSubscription(t, db, org.ID, models.SubscriptionActive, 10)
		owner := seedUser(t, db, "owner@example.com")
		member := seedUser(t, db, "member@example.com")
		seedMembership(t, db, org.ID, owner.ID, models.RoleOwner)
		seedMembership(t, db, org.ID, member.ID, models.RoleMember)

		seats := &fakeSeatAdjuster{}
		svc := newMembershipService(t, db, seats, now)

		updated, err := svc.Deactivate(context.Background(), owner.ID, org.ID, member.ID)
		require.NoError(t, err)
		require.NotNil(t, updated.DeactivatedAt)
		require.Equal(t, now, updated.DeactivatedAt.UTC())

		require.Len(t, seats.calls, 1)
		require.Equal(t, sub.ProviderSubscriptionID, seats.calls[0].SubscriptionID)
		require.Equal(t, 1, seats.calls[0].Quantity)
	})

	t.Run("deactivating an inactive membership is a no-op", func(t *testing.T) {
		db := openTestDB(t)
		org := seedOrganization(t, db, "acme")
		seedSubscription(t, db, org.ID, models.SubscriptionActive, 10)
		owner := seedUser(t, db, "owner@example.com")
		member := seedUser(t, db, "member@example.com")
		seedMembership(t, db, org.ID, owner.ID, models.RoleOwner)
		seedDeactivatedMembership(t, db, org.ID, member.ID, models.RoleMember, now.Add(-time.Hour))

		seats := &fakeSeatAdjuster{}
		svc := newMembershipService(t, db, seats, now)

		_, err := svc.Deactivate(context.Background(), owner.ID, org.ID, member.ID)
		require.NoError(t, err)
		require.Empty(t, seats.calls)
	})
}

func TestSeatAdjustmentFailure(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	providerDown := errors.New("billing provider unavailable")

	t.Run("admission surfaces the error but keeps the member", func(t *testing.T) {
		db := openTestDB(t)
		org := seedOrganization(t, db, "acme")
		owner := seedUser(t, db, "owner@example.com")
		seedMembership(t, db, org.ID, owner.ID, models.RoleOwner)
		seedSubscription(t, db, org.ID, models.SubscriptionActive, 10)
		_, token := seedInviteLink(t, db, org.ID, owner.ID, now.Add(time.Hour))
		joiner := seedUser(t, db, "joiner@example.com")

		seats := &fakeSeatAdjuster{err: providerDown}
		svc := newMembershipService(t, db, seats, now)

		_, err := svc.AdmitViaInviteLink(context.Background(), joiner.ID, token)
		require.ErrorIs(t, err, providerDown)
		require.ErrorContains(t, err, "adjust seats")

		// The membership committed before the push; the failure does not
		// roll it back.
		require.Equal(t, 2, activeMembers(t, db, org.ID))
		var membership models.Membership
		require.NoError(t, db.Where("organization_id = ? AND user_id = ?", org.ID, joiner.ID).First(&membership).Error)
		require.Nil(t, membership.DeactivatedAt)
	})

	t.Run("deactivation surfaces the error but keeps the timestamp", func(t *testing.T) {
		db := openTestDB(t)
		org := seedOrganization(t, db, "acme")
		seedSubscription(t, db, org.ID, models.SubscriptionActive, 10)
		owner := seedUser(t, db, "owner@example.com")
		member := seedUser(t, db, "member@example.com")
		seedMembership(t, db, org.ID, owner.ID, models.RoleOwner)
		seedMembership(t, db, org.ID, member.ID, models.RoleMember)

		seats := &fakeSeatAdjuster{err: providerDown}
		svc := newMembershipService(t, db, seats, now)

		_, err := svc.Deactivate(context.Background(), owner.ID, org.ID, member.ID)
		require.ErrorIs(t, err, providerDown)

		var membership models.Membership
		require.NoError(t, db.Where("organization_id = ? AND user_id = ?", org.ID, member.ID).First(&membership).Error)
		require.NotNil(t, membership.DeactivatedAt)
		require.Equal(t, now, membership.DeactivatedAt.UTC())
	})
}

func TestListMembers(t *testing.T) {
	db := openTestDB(t)
	org := seedOrganization(t, db, "acme")
	owner := seedUser(t, db, "owner@example.com")
	member := seedUser(t, db, "member@example.com")
	seedMembership(t, db, org.ID, owner.ID, models.RoleOwner)
	seedDeactivatedMembership(t, db, org.ID, member.ID, models.RoleMember, time.Now().UTC())

	svc := newMembershipService(t, db, &fakeSeatAdjuster{}, time.Now().UTC())

	members, err := svc.ListMembers(context.Background(), owner.ID, org.ID)
	require.NoError(t, err)
	require.Len(t, members, 2)
	require.Equal(t, owner.ID, members[0].UserID)
	require.NotNil(t, members[0].User)

	// Deactivated members cannot list.
	_, err = svc.ListMembers(context.Background(), member.ID, org.ID)
	require.ErrorIs(t, err, apperrors.ErrForbidden)
}
