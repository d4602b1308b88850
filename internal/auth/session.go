package auth

import (
	"fmt"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-contrib/sessions/memstore"
	"github.com/gin-gonic/gin"

	"github.com/oszuidwest/zwfm-noticeboard/internal/config"
)

// Keys of the values kept in a login session.
const (
	sessKeyUserID      = "user_id"
	sessKeyAuthMethod  = "auth_method"
	sessKeyOAuthState  = "oauth_state"
	sessKeyFrontendURL = "frontend_url"
)

// newSessionStore builds the gin-contrib/sessions backend selected in cfg.
func newSessionStore(cfg SessionConfig) (sessions.Store, error) {
	var store sessions.Store

	switch cfg.StoreType {
	case config.StoreTypeCookie:
		if cfg.SecretKey == "" {
			return nil, fmt.Errorf("secret key is required for cookie store")
		}
		store = cookie.NewStore([]byte(cfg.SecretKey))
	default:
		store = memstore.NewStore([]byte(cfg.SecretKey))
	}

	store.Options(sessions.Options{
		Path:     cfg.CookiePath,
		Domain:   cfg.CookieDomain,
		MaxAge:   cfg.MaxAge,
		Secure:   cfg.CookieSecure,
		HttpOnly: cfg.CookieHTTPOnly,
		SameSite: cfg.CookieSameSite.ToHTTP(),
	})
	return store, nil
}

// boardSession is typed access to the login session of one request.
// Only the user id and login method are stored; everything else about the
// user is reloaded from the database on each request.
type boardSession struct {
	sessions.Session
}

func sessionOf(c *gin.Context) boardSession {
	return boardSession{sessions.Default(c)}
}

func (s boardSession) userID() (int64, bool) {
	switch v := s.Get(sessKeyUserID).(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	default:
		return 0, false
	}
}

func (s boardSession) authMethod() string {
	return s.str(sessKeyAuthMethod)
}

func (s boardSession) login(userID int64, method string) {
	s.Set(sessKeyUserID, userID)
	s.Set(sessKeyAuthMethod, method)
}

func (s boardSession) forgetUser() {
	s.Delete(sessKeyUserID)
	s.Delete(sessKeyAuthMethod)
}

// startOAuth remembers the CSRF state and, optionally, where to land afterwards.
func (s boardSession) startOAuth(state, frontendURL string) {
	s.Set(sessKeyOAuthState, state)
	if frontendURL != "" {
		s.Set(sessKeyFrontendURL, frontendURL)
	}
}

// takeOAuth returns and clears the pending OAuth state and frontend URL.
func (s boardSession) takeOAuth() (state, frontendURL string) {
	state = s.str(sessKeyOAuthState)
	frontendURL = s.str(sessKeyFrontendURL)
	s.Delete(sessKeyOAuthState)
	s.Delete(sessKeyFrontendURL)
	return state, frontendURL
}

func (s boardSession) str(key string) string {
	v, _ := s.Get(key).(string)
	return v
}
