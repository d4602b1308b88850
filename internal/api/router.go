// Package api wires the HTTP routes of the noticeboard.
package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/oszuidwest/zwfm-noticeboard/internal/api/handlers"
	"github.com/oszuidwest/zwfm-noticeboard/internal/auth"
	"github.com/oszuidwest/zwfm-noticeboard/internal/blobstore"
	"github.com/oszuidwest/zwfm-noticeboard/internal/broadcast"
	"github.com/oszuidwest/zwfm-noticeboard/internal/config"
	"github.com/oszuidwest/zwfm-noticeboard/internal/repository"
	"github.com/oszuidwest/zwfm-noticeboard/internal/services"
	"github.com/oszuidwest/zwfm-noticeboard/internal/utils"
	"github.com/oszuidwest/zwfm-noticeboard/pkg/version"
)

// Dependencies are the services the router exposes.
type Dependencies struct {
	Config  *config.Config
	Auth    *auth.Service
	Users   repository.UserRepository
	UserSvc *services.UserService
	Notices *services.NoticeService
	Hub     *broadcast.Hub
	Blobs   blobstore.Store
}

// SetupRouter configures and returns the main API router with all routes and middleware.
func SetupRouter(deps Dependencies) *gin.Engine {
	cfg := deps.Config

	h := handlers.NewHandlers(deps.Notices, deps.UserSvc, deps.Hub, deps.Blobs, handlers.Options{
		UploadPrefix: cfg.Storage.PublicPrefix,
		Heartbeat:    cfg.Stream.HeartbeatInterval,
		WriteTimeout: cfg.Stream.WriteTimeout,
	})
	authHandlers := NewAuthHandlers(deps.Auth, deps.Users, cfg.Server.FrontendURL)

	r := gin.Default()

	r.Use(utils.RequestID())
	r.Use(corsMiddleware(cfg))

	// Session middleware must run before anything reads the caller
	r.Use(deps.Auth.SessionMiddleware())
	r.Use(deps.Auth.LoadUser())

	v1 := r.Group("/api/v1")
	{
		v1.GET("/auth/config", authHandlers.GetAuthConfig)

		session := v1.Group("/session")
		{
			session.POST("/login", authHandlers.Login)
			session.GET("/oauth/start", authHandlers.StartOAuthFlow)
			session.GET("/oauth/callback", authHandlers.HandleOAuthCallback)
			session.GET("", deps.Auth.Middleware(), authHandlers.GetCurrentUser)
			session.DELETE("", deps.Auth.Middleware(), authHandlers.Logout)
		}

		// Public pull queries and live stream
		v1.GET("/notices", h.ListNotices)
		v1.GET("/notices/:id", h.GetNotice)
		v1.GET("/departments", h.ListDepartments)
		v1.GET("/departments/:department/notices", h.ListDepartmentNotices)
		v1.GET("/stream", h.StreamNotices)

		// Mutations are authorized by the notice service itself
		v1.POST("/notices", limitBody(cfg.Storage.MaxUploadBytes), h.CreateNotice)
		v1.DELETE("/notices/:id", h.DeleteNotice)

		v1.POST("/users", deps.Auth.Middleware(), deps.Auth.RequirePermission(auth.ResourceUsers, auth.ActionWrite), h.CreateUser)
	}

	r.GET("/"+cfg.Storage.PublicPrefix+"/*filepath", h.ServeUpload)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, handlers.HealthResponse{
			Status:  "ok",
			Service: "noticeboard",
			Version: version.Version,
			Viewers: deps.Hub.Count(),
		})
	})

	return r
}

// limitBody rejects request bodies larger than limit bytes with 413.
func limitBody(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit <= 0 {
			c.Next()
			return
		}
		if c.Request.ContentLength > limit {
			utils.ProblemPayloadTooLarge(c, limit)
			c.Abort()
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}

func corsMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		// No allowed origins configured: CORS stays disabled
		if cfg.Server.AllowedOrigins == "" {
			if c.Request.Method == http.MethodOptions {
				c.AbortWithStatus(http.StatusNoContent)
				return
			}
			c.Next()
			return
		}

		if isAllowedOrigin(origin, cfg.Server.AllowedOrigins) {
			header := c.Writer.Header()
			header.Set("Access-Control-Allow-Origin", origin)
			header.Set("Access-Control-Allow-Credentials", "true")
			header.Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, X-Request-ID, Authorization, accept, origin, Cache-Control, X-Requested-With")
			header.Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, DELETE")
			header.Set("Access-Control-Expose-Headers", "Location, X-Request-ID")
			header.Add("Vary", "Origin")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// isAllowedOrigin checks if the origin is in the comma-separated list of allowed origins
func isAllowedOrigin(origin string, allowedOrigins string) bool {
	if origin == "" {
		return false
	}

	for _, allowed := range strings.Split(allowedOrigins, ",") {
		if strings.TrimSpace(allowed) == origin {
			return true
		}
	}
	return false
}
