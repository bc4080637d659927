package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/seatsmith/seatsmith/internal/middleware"
	"github.com/seatsmith/seatsmith/internal/services"
	appErrors "github.com/seatsmith/seatsmith/pkg/errors"
	"github.com/seatsmith/seatsmith/pkg/response"
)

type AccountHandler struct {
	accounts *services.AccountService
}

func NewAccountHandler(accounts *services.AccountService) *AccountHandler {
	return &AccountHandler{accounts: accounts}
}

// DELETE /api/account
//
// Deletes the authenticated user's account, cascading through sole-owner
// organizations and releasing seats everywhere else.
func (h *AccountHandler) Delete(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.accounts.DeleteUser(requestContext(c), userID); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}
