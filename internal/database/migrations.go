package database

import (
	"gorm.io/gorm"

	"github.com/seatsmith/seatsmith/internal/models"
)

// AutoMigrate creates or updates the schema for every persistent model.
// Ordering matters: parents before children so foreign keys resolve.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Organization{},
		&models.Membership{},
		&models.Subscription{},
		&models.InviteLink{},
		&models.InviteLinkUse{},
		&models.EmailInvite{},
		&models.Notification{},
		&models.NotificationRecipient{},
		&models.AuditLog{},
	)
}
