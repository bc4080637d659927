package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	iauth "github.com/seatsmith/seatsmith/internal/auth"
	"github.com/seatsmith/seatsmith/internal/handlers"
	"github.com/seatsmith/seatsmith/internal/middleware"
	"github.com/seatsmith/seatsmith/internal/realtime"
	"github.com/seatsmith/seatsmith/internal/services"
)

// Dependencies bundles everything the router needs to wire handlers.
type Dependencies struct {
	DB            *gorm.DB
	JWT           *iauth.JWTService
	Users         *services.UserService
	Organizations *services.OrganizationService
	Memberships   *services.MembershipService
	Invites       *services.InviteService
	Notifications *services.NotificationService
	Accounts      *services.AccountService
	BillingSync   *services.BillingSyncService
	Hub           *realtime.Hub

	BillingWebhookSecret string
}

// NewRouter builds the Gin engine, wires middleware and registers all routes.
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	if deps.DB == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if deps.JWT == nil {
		return nil, fmt.Errorf("jwt service must be provided")
	}

	r := gin.New()

	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())

	healthHandler := handlers.NewHealthHandler(deps.DB)
	r.GET("/health", healthHandler.Check)

	authHandler := handlers.NewAuthHandler(deps.Users, deps.JWT)
	orgHandler := handlers.NewOrganizationHandler(deps.Organizations)
	memberHandler := handlers.NewMembershipHandler(deps.Memberships)
	inviteHandler := handlers.NewInviteHandler(deps.Invites)
	notificationHandler := handlers.NewNotificationHandler(deps.Notifications, deps.Hub)
	accountHandler := handlers.NewAccountHandler(deps.Accounts)
	billingHandler := handlers.NewBillingHandler(deps.BillingSync, deps.BillingWebhookSecret)

	// Public routes
	auth := r.Group("/api/auth")
	{
		auth.POST("/register", authHandler.Register)
		auth.POST("/login", authHandler.Login)
	}
	r.GET("/api/join", inviteHandler.PreviewLink)
	r.GET("/api/invites", inviteHandler.PreviewEmailInvite)
	r.POST("/api/webhooks/billing", billingHandler.SubscriptionWebhook)

	// Protected routes
	api := r.Group("/api")
	api.Use(middleware.Auth(deps.JWT))

	api.GET("/auth/me", authHandler.Me)
	api.DELETE("/account", accountHandler.Delete)

	api.POST("/join", memberHandler.JoinViaLink)
	api.POST("/invites/accept", memberHandler.AcceptEmailInvite)

	orgs := api.Group("/organizations")
	{
		orgs.GET("", orgHandler.List)
		orgs.POST("", orgHandler.Create)
		orgs.GET("/:id", orgHandler.Get)
		orgs.PATCH("/:id", orgHandler.Update)
		orgs.DELETE("/:id", orgHandler.Delete)

		orgs.GET("/:id/members", memberHandler.List)
		orgs.PATCH("/:id/members/:userId/role", memberHandler.ChangeRole)
		orgs.DELETE("/:id/members/:userId", memberHandler.Deactivate)

		orgs.POST("/:id/invite-link", inviteHandler.CreateLink)
		orgs.DELETE("/:id/invite-link", inviteHandler.DeactivateLink)
		orgs.POST("/:id/invites", inviteHandler.CreateEmailInvite)
		orgs.GET("/:id/invites", inviteHandler.ListPending)
		orgs.DELETE("/:id/invites/:inviteId", inviteHandler.RevokeEmailInvite)
	}

	notifications := api.Group("/notifications")
	{
		notifications.GET("", notificationHandler.List)
		notifications.GET("/stream", notificationHandler.Stream)
		notifications.POST("/read-all", notificationHandler.MarkAllRead)
		notifications.POST("/:id/read", notificationHandler.MarkRead)
	}

	// Metrics endpoint
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
