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

type OrganizationHandler struct {
	organizations *services.OrganizationService
}

func NewOrganizationHandler(organizations *services.OrganizationService) *OrganizationHandler {
	return &OrganizationHandler{organizations: organizations}
}

type createOrganizationRequest struct {
	Name         string `json:"name" validate:"required,max=128"`
	BillingEmail string `json:"billing_email" validate:"omitempty,email"`
}

type updateOrganizationRequest struct {
	Name         *string `json:"name" validate:"omitempty,max=128"`
	BillingEmail *string `json:"billing_email" validate:"omitempty,email"`
	Image        *string `json:"image" validate:"omitempty,max=512"`
}

type organizationDTO struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Slug         string     `json:"slug"`
	BillingEmail string     `json:"billing_email,omitempty"`
	Image        string     `json:"image,omitempty"`
	TrialEndsAt  *time.Time `json:"trial_ends_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// POST /api/organizations
func (h *OrganizationHandler) Create(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req createOrganizationRequest
	if !bindAndValidate(c, &req) {
		return
	}

	org, err := h.organizations.Create(requestContext(c), services.CreateOrganizationInput{
		CreatorUserID: userID,
		Name:          req.Name,
		BillingEmail:  req.BillingEmail,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"organization": toOrganizationDTO(org)})
}

// GET /api/organizations
func (h *OrganizationHandler) List(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	orgs, err := h.organizations.ListForUser(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]organizationDTO, 0, len(orgs))
	for i := range orgs {
		items = append(items, toOrganizationDTO(&orgs[i]))
	}
	response.Success(c, http.StatusOK, gin.H{"organizations": items})
}

// GET /api/organizations/:id
func (h *OrganizationHandler) Get(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	orgID := strings.TrimSpace(c.Param("id"))
	if orgID == "" {
		response.Error(c, appErrors.NewBadRequest("organization id is required"))
		return
	}

	detail, err := h.organizations.GetForUser(requestContext(c), orgID, userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"organization":   detail.Organization,
		"active_members": detail.ActiveMembers,
		"max_seats":      detail.MaxSeats,
	})
}

// PATCH /api/organizations/:id
func (h *OrganizationHandler) Update(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	orgID := strings.TrimSpace(c.Param("id"))

	var req updateOrganizationRequest
	if !bindAndValidate(c, &req) {
		return
	}

	org, err := h.organizations.Update(requestContext(c), userID, orgID, services.UpdateOrganizationInput{
		Name:         req.Name,
		BillingEmail: req.BillingEmail,
		Image:        req.Image,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"organization": toOrganizationDTO(org)})
}

// DELETE /api/organizations/:id
func (h *OrganizationHandler) Delete(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	orgID := strings.TrimSpace(c.Param("id"))

	if err := h.organizations.Delete(requestContext(c), userID, orgID); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}

func toOrganizationDTO(org *models.Organization) organizationDTO {
	return organizationDTO{
		ID:           org.ID,
		Name:         org.Name,
		Slug:         org.Slug,
		BillingEmail: org.BillingEmail,
		Image:        org.Image,
		TrialEndsAt:  org.TrialEndsAt,
		CreatedAt:    org.CreatedAt,
	}
}
