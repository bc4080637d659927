package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/seatsmith/seatsmith/internal/models"
	"github.com/seatsmith/seatsmith/internal/services"
	"github.com/seatsmith/seatsmith/pkg/logger"
)

const (
	defaultAuditRetentionDays        = 90
	defaultInviteGraceDays           = 30
	defaultNotificationRetentionDays = 90
	defaultInviteSpec                = "@hourly"
	defaultAuditSpec                 = "@daily"
)

// Cleaner coordinates background maintenance: purging long-expired invites and
// invite links, and pruning stale audit logs. Expired invites are kept for a
// grace period so admins can still see recently lapsed ones before they vanish.
type Cleaner struct {
	db    *gorm.DB
	audit *services.AuditService
	cron  *cron.Cron
	now   func() time.Time
	log   *zap.Logger

	retention             int
	inviteGrace           int
	notificationRetention int

	inviteSchedule string
	auditSchedule  string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used for scheduling and cleanup comparisons.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithAuditRetentionDays adjusts how long audit logs are retained before cleanup.
func WithAuditRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days > 0 {
			cleaner.retention = days
		}
	}
}

// WithInviteSchedule overrides the cron specification for invite cleanup.
func WithInviteSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.inviteSchedule = spec
		}
	}
}

// WithAuditSchedule overrides the cron specification for audit retention enforcement.
func WithAuditSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.auditSchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults. A nil audit service
// skips the audit retention job.
func NewCleaner(db *gorm.DB, audit *services.AuditService, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		db:                    db,
		audit:                 audit,
		now:                   time.Now,
		retention:             defaultAuditRetentionDays,
		inviteGrace:           defaultInviteGraceDays,
		notificationRetention: defaultNotificationRetentionDays,
		inviteSchedule:        defaultInviteSpec,
		auditSchedule:         defaultAuditSpec,
		log:                   logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return cleaner
}

// Start registers cleanup jobs with the cron scheduler and launches it.
func (c *Cleaner) Start() error {
	if c.db != nil {
		if _, err := c.cron.AddFunc(c.inviteSchedule, func() {
			ctx := context.Background()
			if _, err := CleanupInvites(ctx, c.db, c.now().AddDate(0, 0, -c.inviteGrace)); err != nil {
				c.log.Warn("invite cleanup failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	if c.audit != nil && c.retention > 0 {
		if _, err := c.cron.AddFunc(c.auditSchedule, func() {
			ctx := context.Background()
			if _, err := c.audit.CleanupOlderThan(ctx, c.retention); err != nil {
				c.log.Warn("audit cleanup failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	if c.db != nil && c.notificationRetention > 0 {
		if _, err := c.cron.AddFunc(c.auditSchedule, func() {
			ctx := context.Background()
			if _, err := CleanupNotifications(ctx, c.db, c.now().AddDate(0, 0, -c.notificationRetention)); err != nil {
				c.log.Warn("notification cleanup failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes all configured cleanup routines sequentially. Primarily used in tests
// and during graceful shutdown.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if c.db != nil {
		if _, err := CleanupInvites(ctx, c.db, c.now().AddDate(0, 0, -c.inviteGrace)); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if c.audit != nil && c.retention > 0 {
		if _, err := c.audit.CleanupOlderThan(ctx, c.retention); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if c.db != nil && c.notificationRetention > 0 {
		if _, err := CleanupNotifications(ctx, c.db, c.now().AddDate(0, 0, -c.notificationRetention)); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	return errs
}

// InviteCleanupStats captures the number of records removed per table.
type InviteCleanupStats struct {
	InviteLinks  int64
	EmailInvites int64
}

// CleanupInvites removes invite links and email invites that expired or were
// deactivated before the cutoff. Link-use records ride along via the link
// deletion so admission history for live links is preserved.
func CleanupInvites(ctx context.Context, db *gorm.DB, cutoff time.Time) (InviteCleanupStats, error) {
	if db == nil {
		return InviteCleanupStats{}, errors.New("cleanup invites: db is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	stats := InviteCleanupStats{}

	if result := db.WithContext(ctx).
		Where("invite_link_id IN (?)", db.Model(&models.InviteLink{}).
			Select("id").
			Where("expires_at < ? OR deactivated_at < ?", cutoff, cutoff)).
		Delete(&models.InviteLinkUse{}); result.Error != nil {
		return stats, fmt.Errorf("cleanup invites: link uses: %w", result.Error)
	}

	if result := db.WithContext(ctx).
		Where("expires_at < ? OR deactivated_at < ?", cutoff, cutoff).
		Delete(&models.InviteLink{}); result.Error != nil {
		return stats, fmt.Errorf("cleanup invites: invite links: %w", result.Error)
	} else {
		stats.InviteLinks = result.RowsAffected
	}

	if result := db.WithContext(ctx).
		Where("expires_at < ? OR deactivated_at < ?", cutoff, cutoff).
		Delete(&models.EmailInvite{}); result.Error != nil {
		return stats, fmt.Errorf("cleanup invites: email invites: %w", result.Error)
	} else {
		stats.EmailInvites = result.RowsAffected
	}

	return stats, nil
}

// CleanupNotifications removes notifications created before the cutoff along
// with their recipient read-state rows.
func CleanupNotifications(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	if db == nil {
		return 0, errors.New("cleanup notifications: db is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if result := db.WithContext(ctx).
		Where("notification_id IN (?)", db.Model(&models.Notification{}).
			Select("id").
			Where("created_at < ?", cutoff)).
		Delete(&models.NotificationRecipient{}); result.Error != nil {
		return 0, fmt.Errorf("cleanup notifications: recipients: %w", result.Error)
	}

	result := db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&models.Notification{})
	if result.Error != nil {
		return 0, fmt.Errorf("cleanup notifications: %w", result.Error)
	}
	return result.RowsAffected, nil
}
