package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/seatsmith/seatsmith/internal/models"
	"github.com/seatsmith/seatsmith/internal/services"
	appErrors "github.com/seatsmith/seatsmith/pkg/errors"
	"github.com/seatsmith/seatsmith/pkg/response"
)

// BillingHandler receives billing-provider webhooks and feeds them into the
// subscription sync service.
type BillingHandler struct {
	sync          *services.BillingSyncService
	webhookSecret string
}

func NewBillingHandler(sync *services.BillingSyncService, webhookSecret string) *BillingHandler {
	return &BillingHandler{sync: sync, webhookSecret: webhookSecret}
}

type subscriptionWebhookRequest struct {
	CustomerID     string `json:"customer_id" validate:"required"`
	SubscriptionID string `json:"subscription_id" validate:"required"`
	ItemID         string `json:"item_id"`
	Status         string `json:"status" validate:"required,oneof=active trialing past_due canceled"`
	Quantity       int    `json:"quantity" validate:"min=0"`
	MaxSeats       int    `json:"max_seats" validate:"min=0"`
}

// POST /api/webhooks/billing
func (h *BillingHandler) SubscriptionWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		response.Error(c, appErrors.NewBadRequest("unreadable payload"))
		return
	}

	if !h.verifySignature(body, c.GetHeader("X-Webhook-Signature")) {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req subscriptionWebhookRequest
	if !decodeAndValidate(c, body, &req) {
		return
	}

	sub, err := h.sync.ApplySubscriptionEvent(requestContext(c), services.SubscriptionEvent{
		ProviderCustomerID:     req.CustomerID,
		ProviderSubscriptionID: req.SubscriptionID,
		ProviderItemID:         req.ItemID,
		Status:                 models.SubscriptionStatus(req.Status),
		Quantity:               req.Quantity,
		MaxSeats:               req.MaxSeats,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"subscription": sub})
}

// verifySignature checks the HMAC-SHA256 signature the provider attaches to
// webhook deliveries. An empty configured secret disables verification, which
// is only acceptable in development.
func (h *BillingHandler) verifySignature(body []byte, signature string) bool {
	if h.webhookSecret == "" {
		return true
	}
	if signature == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(h.webhookSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
