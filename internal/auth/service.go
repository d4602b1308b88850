// Package auth provides authentication and authorization for the noticeboard.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"

	"github.com/oszuidwest/zwfm-noticeboard/internal/models"
	"github.com/oszuidwest/zwfm-noticeboard/internal/repository"
	"github.com/oszuidwest/zwfm-noticeboard/internal/utils"
	"github.com/oszuidwest/zwfm-noticeboard/pkg/logger"
)

// Login errors returned to handlers.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountSuspended   = errors.New("account is suspended")
	ErrLocalDisabled      = errors.New("local authentication is disabled")
	ErrInvalidState       = errors.New("invalid state")
)

const maxUsernameLength = 100

var usernameInvalidChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// rbacModel grants a role an (object, action) pair with keyMatch wildcards.
const rbacModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && keyMatch(r.obj, p.obj) && keyMatch(r.act, p.act)
`

// defaultPolicies lets admins do everything, editors manage notices and
// viewers only read them.
var defaultPolicies = [][]string{
	{models.RoleAdmin, "*", "*"},
	{models.RoleEditor, string(ResourceNotices), string(ActionRead)},
	{models.RoleEditor, string(ResourceNotices), string(ActionWrite)},
	{models.RoleViewer, string(ResourceNotices), string(ActionRead)},
}

// Service handles authentication and authorization.
type Service struct {
	config   *Config
	users    repository.UserRepository
	enforcer *casbin.Enforcer
	store    sessions.Store
}

// NewService creates a new authentication service.
func NewService(cfg *Config, users repository.UserRepository) (*Service, error) {
	s := &Service{
		config: cfg,
		users:  users,
	}

	if cfg.Method.SupportsOIDC() {
		if err := s.initializeOIDC(); err != nil {
			return nil, fmt.Errorf("failed to initialize OIDC: %w", err)
		}
	}

	store, err := newSessionStore(cfg.Session)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize session store: %w", err)
	}
	s.store = store

	enforcer, err := newEnforcer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Casbin: %w", err)
	}
	s.enforcer = enforcer

	return s, nil
}

// IsLocalEnabled reports whether local authentication is enabled.
func (s *Service) IsLocalEnabled() bool {
	return s.config.Method.SupportsLocal()
}

// IsOAuthEnabled reports whether OAuth/OIDC authentication is enabled.
func (s *Service) IsOAuthEnabled() bool {
	return s.config.Method.SupportsOIDC()
}

func (s *Service) initializeOIDC() error {
	ctx := context.Background()

	provider, err := oidc.NewProvider(ctx, s.config.OIDC.ProviderURL)
	if err != nil {
		return err
	}

	s.config.OIDC.Provider = provider
	s.config.OIDC.OAuth2Config = &oauth2.Config{
		ClientID:     s.config.OIDC.ClientID,
		ClientSecret: s.config.OIDC.ClientSecret,
		RedirectURL:  s.config.OIDC.RedirectURL,
		Endpoint:     provider.Endpoint(),
		Scopes:       s.config.OIDC.Scopes,
	}
	return nil
}

func newEnforcer() (*casbin.Enforcer, error) {
	m, err := model.NewModelFromString(rbacModel)
	if err != nil {
		return nil, err
	}

	// In-memory policy, no adapter
	enforcer, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, err
	}

	for _, p := range defaultPolicies {
		if _, err := enforcer.AddPolicy(p); err != nil {
			return nil, fmt.Errorf("failed to add RBAC policy %v: %w", p, err)
		}
	}
	return enforcer, nil
}

// Allowed reports whether role may perform act on obj.
func (s *Service) Allowed(role string, obj Resource, act Action) bool {
	allowed, err := s.enforcer.Enforce(role, string(obj), string(act))
	if err != nil {
		logger.Error("Permission check failed for role %q: %v", role, err)
		return false
	}
	return allowed
}

// IsAdmin reports whether the caller may create and delete notices.
func (s *Service) IsAdmin(caller models.Caller) bool {
	if caller.Anonymous() {
		return false
	}
	return s.Allowed(caller.Role, ResourceNotices, ActionWrite)
}

// SessionMiddleware returns the Gin middleware for session management.
func (s *Service) SessionMiddleware() gin.HandlerFunc {
	return sessions.Sessions(s.config.Session.CookieName, s.store)
}

// LoadUser resolves the session's user into the request context without
// rejecting anonymous requests. Stale sessions of deleted or suspended
// users are cleared.
func (s *Service) LoadUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		_, err := s.resolveUser(c)
		switch {
		case err == nil, errors.Is(err, errNoSession):
		case isStaleSession(err):
			logger.Debug("Ignoring invalid session: %v", err)
		default:
			logger.Error("Failed to load session user: %v", err)
		}
		c.Next()
	}
}

// Middleware returns the Gin middleware that requires an authenticated user.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := UserID(c); ok {
			c.Next()
			return
		}

		_, err := s.resolveUser(c)
		switch {
		case errors.Is(err, errNoSession):
			utils.ProblemAuthentication(c, "Authentication required")
			c.Abort()
		case isStaleSession(err):
			utils.ProblemAuthentication(c, "Invalid session")
			c.Abort()
		case err != nil:
			utils.ProblemInternalServer(c, "Failed to load session")
			c.Abort()
		default:
			c.Next()
		}
	}
}

var errNoSession = errors.New("no session")

// isStaleSession reports whether the session's user is gone or suspended.
func isStaleSession(err error) bool {
	return errors.Is(err, repository.ErrNotFound) || errors.Is(err, ErrAccountSuspended)
}

func (s *Service) resolveUser(c *gin.Context) (*models.User, error) {
	session := sessionOf(c)

	userID, ok := session.userID()
	if !ok {
		return nil, errNoSession
	}

	user, err := s.users.GetByID(c.Request.Context(), userID)
	if err == nil && user.IsSuspended() {
		err = ErrAccountSuspended
	}
	if isStaleSession(err) {
		session.forgetUser()
		if saveErr := session.Save(); saveErr != nil {
			logger.Error("Failed to save session during cleanup: %v", saveErr)
		}
	}
	if err != nil {
		// Other lookup failures keep the session for the next request
		return nil, err
	}

	SetUserContext(c, UserContext{
		UserID:     user.ID,
		Username:   user.Username,
		Role:       user.Role,
		AuthMethod: session.authMethod(),
	})
	return user, nil
}

// RequirePermission returns middleware that enforces role-based access control.
// It must run after Middleware.
func (s *Service) RequirePermission(obj Resource, act Action) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, ok := UserRole(c)
		if !ok {
			logger.Error("RequirePermission: user role not found in context")
			utils.ProblemAuthentication(c, "Authentication required")
			c.Abort()
			return
		}

		if !s.Allowed(role, obj, act) {
			utils.ProblemForbidden(c, "Insufficient permissions")
			c.Abort()
			return
		}

		c.Next()
	}
}

// LocalLogin authenticates a user using username and password.
func (s *Service) LocalLogin(c *gin.Context, username, password string) error {
	if !s.config.Method.SupportsLocal() {
		return ErrLocalDisabled
	}

	ctx := c.Request.Context()
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			logger.Error("Failed to look up user %q: %v", username, err)
		}
		return ErrInvalidCredentials
	}

	if user.IsSuspended() {
		return ErrAccountSuspended
	}

	// SSO-only accounts have no password hash and never match
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		if updateErr := s.users.RecordLoginFailure(ctx, user.ID); updateErr != nil {
			logger.Error("Failed to update login failure stats: %v", updateErr)
		}
		return ErrInvalidCredentials
	}

	if err := s.users.RecordLoginSuccess(ctx, user.ID); err != nil {
		return fmt.Errorf("failed to update login stats: %w", err)
	}

	return s.CreateSession(c, user.ID, "local")
}

// StartOAuthFlow initiates the OAuth/OIDC authentication process.
func (s *Service) StartOAuthFlow(c *gin.Context) {
	if !s.config.Method.SupportsOIDC() {
		utils.ProblemBadRequest(c, "OAuth authentication is disabled")
		return
	}

	state, err := generateState()
	if err != nil {
		logger.Error("Failed to generate OAuth state: %v", err)
		utils.ProblemInternalServer(c, "Failed to initiate OAuth flow")
		return
	}

	frontendURL := c.Query("frontend_url")
	if frontendURL != "" && !s.isAllowedFrontendURL(frontendURL) {
		logger.Warn("Rejected invalid frontend_url: %s", frontendURL)
		frontendURL = ""
	}

	session := sessionOf(c)
	session.startOAuth(state, frontendURL)
	if err := session.Save(); err != nil {
		logger.Error("Failed to save OAuth session: %v", err)
		utils.ProblemInternalServer(c, "Session error")
		return
	}

	c.Redirect(http.StatusTemporaryRedirect, s.config.OIDC.OAuth2Config.AuthCodeURL(state))
}

// FinishOAuthFlow completes the OAuth authentication process and returns
// the URL the browser should land on.
func (s *Service) FinishOAuthFlow(c *gin.Context) (string, error) {
	savedState, redirect := sessionOf(c).takeOAuth()
	if savedState == "" || c.Query("state") != savedState {
		return "", ErrInvalidState
	}
	if redirect == "" {
		redirect = s.config.FrontendURL
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	token, err := s.config.OIDC.OAuth2Config.Exchange(ctx, c.Query("code"))
	if err != nil {
		return "", fmt.Errorf("failed to exchange code: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return "", fmt.Errorf("no id_token in response")
	}

	verifier := s.config.OIDC.Provider.Verifier(&oidc.Config{ClientID: s.config.OIDC.ClientID})
	idToken, err := verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return "", fmt.Errorf("failed to verify ID token: %w", err)
	}

	var claims struct {
		Email             string `json:"email"`
		Name              string `json:"name"`
		PreferredUsername string `json:"preferred_username"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return "", fmt.Errorf("failed to parse claims: %w", err)
	}
	if claims.Email == "" {
		return "", fmt.Errorf("id_token carries no email claim")
	}

	user, err := s.findOrCreateOAuthUser(ctx, claims.Email, claims.Name, claims.PreferredUsername)
	if err != nil {
		return "", err
	}

	if err := s.users.RecordLoginSuccess(ctx, user.ID); err != nil {
		return "", fmt.Errorf("failed to update login stats: %w", err)
	}
	if err := s.CreateSession(c, user.ID, "oidc"); err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	return redirect, nil
}

// findOrCreateOAuthUser finds an existing user by email or provisions a viewer.
func (s *Service) findOrCreateOAuthUser(ctx context.Context, email, fullName, preferredUsername string) (*models.User, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err == nil {
		if user.IsSuspended() {
			return nil, ErrAccountSuspended
		}
		return user, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}

	username := s.ensureUniqueUsername(ctx, oauthBaseUsername(preferredUsername, email))
	user, err = s.users.Create(ctx, username, fullName, &email, "", models.RoleViewer)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	logger.Info("Provisioned SSO user %q as %s", username, models.RoleViewer)
	return user, nil
}

// oauthBaseUsername picks the preferred username when it is already clean,
// otherwise derives one from an email-like value.
func oauthBaseUsername(preferredUsername, email string) string {
	if preferredUsername == "" {
		return sanitizeEmailToUsername(email)
	}
	if strings.ContainsAny(preferredUsername, "@.") || usernameInvalidChars.MatchString(preferredUsername) {
		return sanitizeEmailToUsername(preferredUsername)
	}
	return preferredUsername
}

// sanitizeEmailToUsername converts an email address to a valid username.
func sanitizeEmailToUsername(email string) string {
	local, domain, found := strings.Cut(email, "@")
	username := usernameInvalidChars.ReplaceAllString(local, "_")

	if len(username) < 3 && found {
		domainPart, _, _ := strings.Cut(domain, ".")
		username = username + "_" + usernameInvalidChars.ReplaceAllString(domainPart, "_")
	}

	if len(username) > maxUsernameLength {
		username = username[:maxUsernameLength]
	}
	return username
}

// ensureUniqueUsername returns a free username, adding numeric suffixes if needed.
func (s *Service) ensureUniqueUsername(ctx context.Context, base string) string {
	username := base
	for counter := 1; counter <= 100; counter++ {
		taken, err := s.users.IsUsernameTaken(ctx, username)
		if err == nil && !taken {
			return username
		}
		if err != nil {
			logger.Warn("Database error checking username uniqueness, trying next: %v", err)
		}

		suffix := fmt.Sprintf("_%d", counter)
		trimmed := base
		if len(trimmed)+len(suffix) > maxUsernameLength {
			trimmed = trimmed[:maxUsernameLength-len(suffix)]
		}
		username = trimmed + suffix
	}
	return fmt.Sprintf("%s_%d", base, time.Now().Unix())
}

// Logout destroys the user session.
func (s *Service) Logout(c *gin.Context) error {
	session := sessionOf(c)
	session.Clear()
	if err := session.Save(); err != nil {
		logger.Error("Failed to save session during logout: %v", err)
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// CreateSession logs userID into the request's session.
func (s *Service) CreateSession(c *gin.Context, userID int64, authMethod string) error {
	session := sessionOf(c)
	session.login(userID, authMethod)
	return session.Save()
}

// generateState generates a cryptographically secure random state for OAuth2 CSRF protection.
func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random state: %w", err)
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// isAllowedFrontendURL reports whether the URL starts with one of the allowed origins.
func (s *Service) isAllowedFrontendURL(urlStr string) bool {
	if urlStr == "" || s.config.AllowedOrigins == "" {
		return false
	}

	for _, origin := range strings.Split(s.config.AllowedOrigins, ",") {
		origin = strings.TrimSpace(origin)
		if origin != "" && strings.HasPrefix(urlStr, origin) {
			return true
		}
	}
	return false
}
