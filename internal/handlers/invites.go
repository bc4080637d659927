package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/seatsmith/seatsmith/internal/middleware"
	"github.com/seatsmith/seatsmith/internal/models"
	"github.com/seatsmith/seatsmith/internal/services"
	appErrors "github.com/seatsmith/seatsmith/pkg/errors"
	"github.com/seatsmith/seatsmith/pkg/response"
)

type InviteHandler struct {
	invites *services.InviteService
}

func NewInviteHandler(invites *services.InviteService) *InviteHandler {
	return &InviteHandler{invites: invites}
}

type createEmailInviteRequest struct {
	Email string `json:"email" validate:"required,email"`
	Role  string `json:"role" validate:"required,oneof=member admin owner"`
}

type inviteLinkDTO struct {
	ID        string    `json:"id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

type emailInviteDTO struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	InvitedBy string    `json:"invited_by,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

type invitePreviewDTO struct {
	OrganizationID   string `json:"organization_id"`
	OrganizationName string `json:"organization_name"`
	Role             string `json:"role,omitempty"`
}

// POST /api/organizations/:id/invite-link
func (h *InviteHandler) CreateLink(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	orgID := strings.TrimSpace(c.Param("id"))

	link, token, err := h.invites.CreateInviteLink(requestContext(c), userID, orgID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{
		"invite_link": toInviteLinkDTO(link),
		"token":       token,
	})
}

// DELETE /api/organizations/:id/invite-link
func (h *InviteHandler) DeactivateLink(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	orgID := strings.TrimSpace(c.Param("id"))

	if err := h.invites.DeactivateInviteLink(requestContext(c), userID, orgID); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"deactivated": true})
}

// GET /api/join?token=...
//
// Public preview of a shareable invite link so the join page can show which
// organization the visitor is about to enter.
func (h *InviteHandler) PreviewLink(c *gin.Context) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		response.Error(c, appErrors.NewBadRequest("invite token is required"))
		return
	}

	link, err := h.invites.ResolveInviteLink(requestContext(c), token)
	if err != nil {
		response.Error(c, err)
		return
	}

	preview := invitePreviewDTO{OrganizationID: link.OrganizationID}
	if link.Organization != nil {
		preview.OrganizationName = link.Organization.Name
	}
	response.Success(c, http.StatusOK, preview)
}

// GET /api/invites?token=...
//
// Public preview of an email invite.
func (h *InviteHandler) PreviewEmailInvite(c *gin.Context) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		response.Error(c, appErrors.NewBadRequest("invite token is required"))
		return
	}

	invite, err := h.invites.ResolveEmailInvite(requestContext(c), token)
	if err != nil {
		response.Error(c, err)
		return
	}

	preview := invitePreviewDTO{
		OrganizationID: invite.OrganizationID,
		Role:           string(invite.Role),
	}
	if invite.Organization != nil {
		preview.OrganizationName = invite.Organization.Name
	}
	response.Success(c, http.StatusOK, preview)
}

// POST /api/organizations/:id/invites
func (h *InviteHandler) CreateEmailInvite(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	orgID := strings.TrimSpace(c.Param("id"))

	var req createEmailInviteRequest
	if !bindAndValidate(c, &req) {
		return
	}

	invite, _, err := h.invites.CreateEmailInvite(requestContext(c), userID, orgID, req.Email, models.MembershipRole(req.Role))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"invite": toEmailInviteDTO(invite)})
}

// GET /api/organizations/:id/invites
func (h *InviteHandler) ListPending(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	orgID := strings.TrimSpace(c.Param("id"))

	invites, err := h.invites.ListPending(requestContext(c), userID, orgID)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]emailInviteDTO, 0, len(invites))
	for i := range invites {
		items = append(items, toEmailInviteDTO(&invites[i]))
	}
	response.Success(c, http.StatusOK, gin.H{"invites": items})
}

// DELETE /api/organizations/:id/invites/:inviteId
func (h *InviteHandler) RevokeEmailInvite(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	orgID := strings.TrimSpace(c.Param("id"))
	inviteID := strings.TrimSpace(c.Param("inviteId"))
	if inviteID == "" {
		response.Error(c, appErrors.NewBadRequest("invite id is required"))
		return
	}

	if err := h.invites.RevokeEmailInvite(requestContext(c), userID, orgID, inviteID); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"revoked": true})
}

func toInviteLinkDTO(link *models.InviteLink) inviteLinkDTO {
	return inviteLinkDTO{
		ID:        link.ID,
		ExpiresAt: link.ExpiresAt,
		CreatedAt: link.CreatedAt,
	}
}

func toEmailInviteDTO(invite *models.EmailInvite) emailInviteDTO {
	return emailInviteDTO{
		ID:        invite.ID,
		Email:     invite.Email,
		Role:      string(invite.Role),
		InvitedBy: invite.InvitedBy,
		ExpiresAt: invite.ExpiresAt,
		CreatedAt: invite.CreatedAt,
	}
}
