package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/oszuidwest/zwfm-noticeboard/internal/utils"
)

// UserRequest is the body of a user creation request.
type UserRequest struct {
	Username string `json:"username" binding:"required,notblank,max=100"`
	FullName string `json:"full_name" binding:"required,notblank,max=255"`
	Email    string `json:"email" binding:"omitempty,email"`
	Password string `json:"password" binding:"required,min=8"`
	Role     string `json:"role" binding:"required,oneof=admin editor viewer"`
}

// CreateUser creates a local account. Requires 'users' write permission.
func (h *Handlers) CreateUser(c *gin.Context) {
	var req UserRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	user, err := h.userSvc.Create(c.Request.Context(), req.Username, req.FullName, req.Email, req.Password, req.Role)
	if err != nil {
		handleServiceError(c, err, "User")
		return
	}

	utils.CreatedWithLocation(c, user.ID, "/api/v1/users", user)
}
