package auth

import (
	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/oszuidwest/zwfm-noticeboard/internal/config"
)

// Config combines all authentication methods (local, OIDC) and session management settings.
type Config struct {
	// Auth method: "local", "oidc", or "both"
	Method config.AuthMethod

	// OIDC/OAuth2 configuration
	OIDC OIDCConfig

	// Session configuration
	Session SessionConfig

	// AllowedOrigins for validating OAuth frontend_url (prevents open redirect)
	AllowedOrigins string

	// FrontendURL is the default landing page after an OAuth login
	FrontendURL string
}

// OIDCConfig defines OAuth2/OIDC provider settings for SSO authentication.
type OIDCConfig struct {
	// Provider URL (e.g., https://login.microsoftonline.com/{tenant}/v2.0 for Azure AD)
	ProviderURL string

	// OAuth2 client credentials
	ClientID     string
	ClientSecret string //nolint:gosec // G117: intentional field for auth credentials

	// Redirect URL after authentication
	RedirectURL string

	// OAuth2 scopes
	Scopes []string

	// OIDC provider
	Provider *oidc.Provider

	// OAuth2 config
	OAuth2Config *oauth2.Config
}

// SessionConfig defines how user sessions are stored and secured.
type SessionConfig struct {
	// Session store type: "memory" (default) or "cookie"
	StoreType config.SessionStoreType

	// Session lifetime
	MaxAge int // seconds

	// Cookie settings
	CookieName     string
	CookieDomain   string
	CookiePath     string
	CookieSecure   bool
	CookieHTTPOnly bool
	CookieSameSite config.CookieSameSite

	// Secret key for session encryption
	SecretKey string
}

// NewConfig derives the authentication settings from the application configuration.
func NewConfig(cfg *config.Config) *Config {
	return &Config{
		Method: cfg.Auth.Method,
		OIDC: OIDCConfig{
			ProviderURL:  cfg.Auth.OIDCProviderURL,
			ClientID:     cfg.Auth.OIDCClientID,
			ClientSecret: cfg.Auth.OIDCClientSecret,
			RedirectURL:  cfg.Auth.OIDCRedirectURL,
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
		},
		Session: SessionConfig{
			StoreType:      cfg.Auth.SessionStore,
			MaxAge:         86400, // 24 hours
			CookieName:     "noticeboard_session",
			CookieDomain:   cfg.Auth.CookieDomain,
			CookiePath:     "/",
			CookieSecure:   cfg.Environment.IsProduction(),
			CookieHTTPOnly: true,
			CookieSameSite: cfg.Auth.CookieSameSite,
			SecretKey:      cfg.Auth.SessionSecret,
		},
		AllowedOrigins: cfg.Server.AllowedOrigins,
		FrontendURL:    cfg.Server.FrontendURL,
	}
}
