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

type MembershipHandler struct {
	memberships *services.MembershipService
}

func NewMembershipHandler(memberships *services.MembershipService) *MembershipHandler {
	return &MembershipHandler{memberships: memberships}
}

type joinRequest struct {
	Token string `json:"token" validate:"required"`
}

type changeRoleRequest struct {
	Role string `json:"role" validate:"required,oneof=member admin owner"`
}

type memberDTO struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	Email         string     `json:"email,omitempty"`
	Name          string     `json:"name,omitempty"`
	Role          string     `json:"role"`
	DeactivatedAt *time.Time `json:"deactivated_at,omitempty"`
	JoinedAt      time.Time  `json:"joined_at"`
}

// POST /api/join
//
// Accept a shareable invite link as the authenticated user.
func (h *MembershipHandler) JoinViaLink(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req joinRequest
	if !bindAndValidate(c, &req) {
		return
	}

	membership, err := h.memberships.AdmitViaInviteLink(requestContext(c), userID, req.Token)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"membership": toMemberDTO(membership)})
}

// POST /api/invites/accept
//
// Accept an email invite as the authenticated user.
func (h *MembershipHandler) AcceptEmailInvite(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req joinRequest
	if !bindAndValidate(c, &req) {
		return
	}

	membership, err := h.memberships.AdmitViaEmailInvite(requestContext(c), userID, req.Token)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"membership": toMemberDTO(membership)})
}

// GET /api/organizations/:id/members
func (h *MembershipHandler) List(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	orgID := strings.TrimSpace(c.Param("id"))

	members, err := h.memberships.ListMembers(requestContext(c), userID, orgID)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]memberDTO, 0, len(members))
	for i := range members {
		items = append(items, toMemberDTO(&members[i]))
	}
	response.Success(c, http.StatusOK, gin.H{"members": items})
}

// PATCH /api/organizations/:id/members/:userId/role
func (h *MembershipHandler) ChangeRole(c *gin.Context) {
	actorID := c.GetString(middleware.CtxUserIDKey)
	orgID := strings.TrimSpace(c.Param("id"))
	targetID := strings.TrimSpace(c.Param("userId"))
	if targetID == "" {
		response.Error(c, appErrors.NewBadRequest("user id is required"))
		return
	}

	var req changeRoleRequest
	if !bindAndValidate(c, &req) {
		return
	}

	membership, err := h.memberships.ChangeRole(requestContext(c), actorID, orgID, targetID, models.MembershipRole(req.Role))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"membership": toMemberDTO(membership)})
}

// DELETE /api/organizations/:id/members/:userId
func (h *MembershipHandler) Deactivate(c *gin.Context) {
	actorID := c.GetString(middleware.CtxUserIDKey)
	orgID := strings.TrimSpace(c.Param("id"))
	targetID := strings.TrimSpace(c.Param("userId"))
	if targetID == "" {
		response.Error(c, appErrors.NewBadRequest("user id is required"))
		return
	}

	membership, err := h.memberships.Deactivate(requestContext(c), actorID, orgID, targetID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"membership": toMemberDTO(membership)})
}

func toMemberDTO(membership *models.Membership) memberDTO {
	dto := memberDTO{
		ID:            membership.ID,
		UserID:        membership.UserID,
		Role:          string(membership.Role),
		DeactivatedAt: membership.DeactivatedAt,
		JoinedAt:      membership.CreatedAt,
	}
	if membership.User != nil {
		dto.Email = membership.User.Email
		dto.Name = membership.User.Name
	}
	return dto
}
