// Package main is the entry point for the noticeboard server.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/oszuidwest/zwfm-noticeboard/internal/api"
	"github.com/oszuidwest/zwfm-noticeboard/internal/auth"
	"github.com/oszuidwest/zwfm-noticeboard/internal/blobstore"
	"github.com/oszuidwest/zwfm-noticeboard/internal/broadcast"
	"github.com/oszuidwest/zwfm-noticeboard/internal/config"
	"github.com/oszuidwest/zwfm-noticeboard/internal/database"
	"github.com/oszuidwest/zwfm-noticeboard/internal/repository"
	"github.com/oszuidwest/zwfm-noticeboard/internal/scheduler"
	"github.com/oszuidwest/zwfm-noticeboard/internal/services"
	"github.com/oszuidwest/zwfm-noticeboard/internal/utils"
	"github.com/oszuidwest/zwfm-noticeboard/pkg/logger"
	"github.com/oszuidwest/zwfm-noticeboard/pkg/version"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Initialize(cfg.LogLevel, !cfg.Environment.IsProduction()); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Noticeboard %s", version.String())
	if cfg.Database.Driver == config.DriverMySQL {
		logger.Info("Database config: Driver=mysql, Host=%s, Port=%d, User=%s, Database=%s",
			cfg.Database.Host, cfg.Database.Port, cfg.Database.User, cfg.Database.Database)
	} else {
		logger.Info("Database config: Driver=sqlite, Path=%s", cfg.Database.SQLitePath)
	}
	logger.Info("Server config: Address=%s, Uploads=%s", cfg.Server.Address, cfg.Storage.UploadPath)

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(cfg.Database); err != nil {
			logger.Fatal("Failed to migrate database: %v", err)
		}
	}

	db, err := database.Connect(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("Failed to close database connection: %v", err)
		}
	}()

	users := repository.NewUserRepository(db)
	notices := repository.NewNoticeRepository(db)

	blobs, err := blobstore.NewDisk(cfg.Storage.UploadPath, cfg.Storage.PublicPrefix)
	if err != nil {
		logger.Fatal("Failed to open upload storage: %v", err)
	}

	authService, err := auth.NewService(auth.NewConfig(cfg), users)
	if err != nil {
		logger.Fatal("Failed to create auth service: %v", err)
	}

	userService := services.NewUserService(users)
	if _, err := userService.EnsureAdmin(context.Background(), cfg.Auth.AdminUsername, cfg.Auth.AdminPassword); err != nil {
		logger.Fatal("Failed to create bootstrap administrator: %v", err)
	}

	hub := broadcast.NewHub(notices)
	noticeService := services.NewNoticeService(notices, blobs, hub, authService, services.NoticeOptions{
		RequireDepartment: cfg.Notices.RequireDepartment,
		BlobDeletePolicy:  cfg.Notices.BlobDeletePolicy,
	})

	if cfg.Environment.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	utils.InitializeValidators()

	router := api.SetupRouter(api.Dependencies{
		Config:  cfg,
		Auth:    authService,
		Users:   users,
		UserSvc: userService,
		Notices: noticeService,
		Hub:     hub,
		Blobs:   blobs,
	})

	// No read or write timeout: uploads may be large and event streams stay open
	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	// Ending the subscriptions lets open event streams return so Shutdown can finish
	srv.RegisterOnShutdown(hub.Close)

	go func() {
		logger.Info("Starting noticeboard server on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server: %v", err)
		}
	}()

	orphanCleanup := scheduler.NewOrphanCleanupService(blobs, notices,
		cfg.Storage.OrphanSweepInterval, cfg.Storage.OrphanGracePeriod)
	orphanCleanup.Start()
	defer orphanCleanup.Stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	orphanCleanup.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown: %v", err)
	}
	hub.Close()

	logger.Info("Server exited")
}
