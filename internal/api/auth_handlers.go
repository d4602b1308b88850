package api

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"github.com/oszuidwest/zwfm-noticeboard/internal/api/handlers"
	"github.com/oszuidwest/zwfm-noticeboard/internal/auth"
	"github.com/oszuidwest/zwfm-noticeboard/internal/repository"
	"github.com/oszuidwest/zwfm-noticeboard/internal/utils"
	"github.com/oszuidwest/zwfm-noticeboard/pkg/logger"
)

// AuthHandlers provides HTTP handlers for login, logout, OAuth flows and
// session inspection.
type AuthHandlers struct {
	authService *auth.Service
	users       repository.UserRepository
	frontendURL string
}

// NewAuthHandlers creates a new authentication handler with the provided services.
// The frontendURL is used for OAuth redirects when the login did not name one.
func NewAuthHandlers(authService *auth.Service, users repository.UserRepository, frontendURL string) *AuthHandlers {
	return &AuthHandlers{
		authService: authService,
		users:       users,
		frontendURL: frontendURL,
	}
}

// LoginRequest is the body of a local login.
type LoginRequest struct {
	Username string `json:"username" binding:"required,notblank"`
	Password string `json:"password" binding:"required"`
}

// Login handles local username/password authentication via JSON POST.
// Returns 201 Created on success.
func (h *AuthHandlers) Login(c *gin.Context) {
	var req LoginRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	err := h.authService.LocalLogin(c, req.Username, req.Password)
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, utils.MessageResponse{Message: "Login successful"})
	case errors.Is(err, auth.ErrLocalDisabled):
		utils.ProblemBadRequest(c, "Local authentication is disabled")
	case errors.Is(err, auth.ErrAccountSuspended):
		utils.ProblemForbidden(c, "Account is suspended")
	case errors.Is(err, auth.ErrInvalidCredentials):
		utils.ProblemAuthentication(c, "Invalid username or password")
	default:
		logger.Error("Login failed for %q: %v", req.Username, err)
		utils.ProblemInternalServer(c, "Login failed")
	}
}

// StartOAuthFlow redirects to the OIDC provider.
func (h *AuthHandlers) StartOAuthFlow(c *gin.Context) {
	h.authService.StartOAuthFlow(c)
}

// HandleOAuthCallback finishes the OIDC login and redirects back to the
// frontend with either ?login=success or ?error=<reason>.
func (h *AuthHandlers) HandleOAuthCallback(c *gin.Context) {
	redirect, err := h.authService.FinishOAuthFlow(c)
	if err != nil {
		logger.Warn("OAuth callback failed: %v", err)
		if h.frontendURL == "" {
			utils.ProblemAuthentication(c, "OAuth login failed")
			return
		}
		c.Redirect(http.StatusTemporaryRedirect, h.frontendURL+"?error="+url.QueryEscape(err.Error()))
		return
	}

	c.Redirect(http.StatusTemporaryRedirect, redirect+"?login=success")
}

// Logout destroys the current session. Returns 204 No Content.
func (h *AuthHandlers) Logout(c *gin.Context) {
	if err := h.authService.Logout(c); err != nil {
		utils.ProblemInternalServer(c, "Failed to logout")
		return
	}
	c.Status(http.StatusNoContent)
}

// GetCurrentUser returns the logged-in user and whether they may post notices.
func (h *AuthHandlers) GetCurrentUser(c *gin.Context) {
	userID, ok := auth.UserID(c)
	if !ok {
		utils.ProblemAuthentication(c, "Authentication required")
		return
	}

	user, err := h.users.GetByID(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			utils.ProblemNotFound(c, "User")
			return
		}
		logger.Error("Failed to load user %d: %v", userID, err)
		utils.ProblemInternalServer(c, "Failed to load user")
		return
	}

	utils.Success(c, handlers.SessionResponse{
		ID:         user.ID,
		Username:   user.Username,
		FullName:   user.FullName,
		Email:      user.Email,
		Role:       user.Role,
		AuthMethod: auth.AuthMethod(c),
		CanPost:    h.authService.IsAdmin(auth.CallerFromContext(c)),
	})
}

// GetAuthConfig returns the enabled login methods for frontend discovery.
func (h *AuthHandlers) GetAuthConfig(c *gin.Context) {
	response := handlers.AuthConfigResponse{
		Methods: []string{},
	}

	if h.authService.IsLocalEnabled() {
		response.Methods = append(response.Methods, "local")
	}
	if h.authService.IsOAuthEnabled() {
		response.Methods = append(response.Methods, "oidc")
		response.OAuthURL = "/api/v1/session/oauth/start"
	}

	utils.Success(c, response)
}
