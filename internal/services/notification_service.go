package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/seatsmith/seatsmith/internal/models"
	apperrors "github.com/seatsmith/seatsmith/pkg/errors"
)

// LinkPayload is the body of a link-kind notification.
type LinkPayload struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Broadcaster pushes freshly created notifications to connected clients.
// The realtime hub implements this; a nil broadcaster disables push delivery.
type Broadcaster interface {
	Broadcast(userID string, notification *models.Notification)
}

// UserNotification pairs a notification with the requesting user's read state.
type UserNotification struct {
	models.Notification
	ReadAt *time.Time `json:"read_at"`
}

// NotificationListOptions controls pagination when listing notifications.
type NotificationListOptions struct {
	Page     int
	PageSize int
	Unread   bool
}

// NotificationOption customises NotificationService behaviour.
type NotificationOption func(*NotificationService)

// WithNotificationClock injects a custom clock primarily for testing.
func WithNotificationClock(clock func() time.Time) NotificationOption {
	return func(s *NotificationService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithBroadcaster attaches a realtime broadcaster for push delivery.
func WithBroadcaster(b Broadcaster) NotificationOption {
	return func(s *NotificationService) {
		s.broadcaster = b
	}
}

// NotificationService creates notifications, fans them out to recipients and
// tracks per-recipient read state.
type NotificationService struct {
	db          *gorm.DB
	broadcaster Broadcaster
	now         func() time.Time
}

// NewNotificationService constructs a NotificationService instance.
func NewNotificationService(db *gorm.DB, opts ...NotificationOption) (*NotificationService, error) {
	if db == nil {
		return nil, errors.New("notification service: db is required")
	}
	service := &NotificationService{
		db:  db,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// PublishLink creates a link-kind notification and fans it out to the given
// recipients. Duplicate recipient IDs collapse to a single row.
func (s *NotificationService) PublishLink(ctx context.Context, organizationID string, payload LinkPayload, recipientUserIDs []string) (*models.Notification, error) {
	ctx = ensureContext(ctx)

	if payload.Title == "" {
		return nil, apperrors.NewBadRequest("notification title is required")
	}

	recipients := dedupeIDs(recipientUserIDs)
	if len(recipients) == 0 {
		return nil, nil
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("notification service: marshal payload: %w", err)
	}

	notification := &models.Notification{
		OrganizationID: organizationID,
		Kind:           models.NotificationKindLink,
		Payload:        datatypes.JSON(encoded),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(notification).Error; err != nil {
			return fmt.Errorf("create notification: %w", err)
		}
		rows := make([]models.NotificationRecipient, 0, len(recipients))
		for _, userID := range recipients {
			rows = append(rows, models.NotificationRecipient{
				NotificationID: notification.ID,
				UserID:         userID,
			})
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("create notification recipients: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.broadcaster != nil {
		for _, userID := range recipients {
			s.broadcaster.Broadcast(userID, notification)
		}
	}

	return notification, nil
}

// NotifyOrganizationStaff publishes a link notification to every active admin
// and owner of the organization, excluding the listed user IDs.
func (s *NotificationService) NotifyOrganizationStaff(ctx context.Context, organizationID string, payload LinkPayload, excludeUserIDs ...string) (*models.Notification, error) {
	ctx = ensureContext(ctx)

	var userIDs []string
	err := s.db.WithContext(ctx).
		Model(&models.Membership{}).
		Where("organization_id = ? AND deactivated_at IS NULL AND role IN ?", organizationID,
			[]models.MembershipRole{models.RoleAdmin, models.RoleOwner}).
		Pluck("user_id", &userIDs).Error
	if err != nil {
		return nil, fmt.Errorf("notification service: load staff: %w", err)
	}

	excluded := make(map[string]struct{}, len(excludeUserIDs))
	for _, id := range excludeUserIDs {
		excluded[id] = struct{}{}
	}

	recipients := userIDs[:0]
	for _, id := range userIDs {
		if _, skip := excluded[id]; !skip {
			recipients = append(recipients, id)
		}
	}

	return s.PublishLink(ctx, organizationID, payload, recipients)
}

// ListForUser returns a page of the user's notifications, newest first, along
// with the total unread count.
func (s *NotificationService) ListForUser(ctx context.Context, userID string, opts NotificationListOptions) ([]UserNotification, int64, error) {
	ctx = ensureContext(ctx)

	page := opts.Page
	if page <= 0 {
		page = 1
	}
	perPage := opts.PageSize
	if perPage <= 0 || perPage > 100 {
		perPage = 20
	}

	query := s.db.WithContext(ctx).
		Where("user_id = ?", userID)
	if opts.Unread {
		query = query.Where("read_at IS NULL")
	}

	var rows []models.NotificationRecipient
	err := query.
		Preload("Notification").
		Order("created_at DESC").
		Limit(perPage).
		Offset((page - 1) * perPage).
		Find(&rows).Error
	if err != nil {
		return nil, 0, fmt.Errorf("notification service: list notifications: %w", err)
	}

	unread, err := s.UnreadCount(ctx, userID)
	if err != nil {
		return nil, 0, err
	}

	results := make([]UserNotification, 0, len(rows))
	for _, row := range rows {
		if row.Notification == nil {
			continue
		}
		results = append(results, UserNotification{
			Notification: *row.Notification,
			ReadAt:       row.ReadAt,
		})
	}

	return results, unread, nil
}

// UnreadCount returns how many notifications the user has not read yet.
func (s *NotificationService) UnreadCount(ctx context.Context, userID string) (int64, error) {
	ctx = ensureContext(ctx)

	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.NotificationRecipient{}).
		Where("user_id = ? AND read_at IS NULL", userID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("notification service: count unread: %w", err)
	}
	return count, nil
}

// MarkRead stamps the user's read state for one notification. Marking an
// already-read notification is a no-op.
func (s *NotificationService) MarkRead(ctx context.Context, userID, notificationID string) error {
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).
		Model(&models.NotificationRecipient{}).
		Where("user_id = ? AND notification_id = ? AND read_at IS NULL", userID, notificationID).
		Update("read_at", s.now().UTC())
	if result.Error != nil {
		return fmt.Errorf("notification service: mark read: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := s.db.WithContext(ctx).
			Model(&models.NotificationRecipient{}).
			Where("user_id = ? AND notification_id = ?", userID, notificationID).
			Count(&count).Error; err != nil {
			return fmt.Errorf("notification service: check recipient: %w", err)
		}
		if count == 0 {
			return apperrors.ErrNotFound
		}
	}
	return nil
}

// MarkAllRead stamps every unread notification for the user.
func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) error {
	ctx = ensureContext(ctx)

	err := s.db.WithContext(ctx).
		Model(&models.NotificationRecipient{}).
		Where("user_id = ? AND read_at IS NULL", userID).
		Update("read_at", s.now().UTC()).Error
	if err != nil {
		return fmt.Errorf("notification service: mark all read: %w", err)
	}
	return nil
}

func dedupeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
