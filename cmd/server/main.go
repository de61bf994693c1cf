// Package main runs the live session HTTP server with WebSocket fan-out and
// graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/noor-live/backend/config"
	"github.com/noor-live/backend/internal/assets"
	"github.com/noor-live/backend/internal/auth"
	"github.com/noor-live/backend/internal/dispatch"
	"github.com/noor-live/backend/internal/middleware"
	"github.com/noor-live/backend/internal/models"
	"github.com/noor-live/backend/internal/presence"
	"github.com/noor-live/backend/internal/qa"
	"github.com/noor-live/backend/internal/realtime"
	"github.com/noor-live/backend/internal/resync"
	"github.com/noor-live/backend/internal/sessions"
	"github.com/noor-live/backend/pkg/database"
	"github.com/noor-live/backend/pkg/redis"
	"github.com/noor-live/backend/pkg/response"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	// Redis backs the share dedup locks; without it the in-process locker
	// covers a single instance.
	lockTTL := time.Duration(cfg.Share.LockTTLSeconds) * time.Second
	var locker assets.ShareLocker
	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Warn("redis unavailable, using in-process share locks", zap.Error(err))
		locker = assets.NewMemoryLocker(lockTTL)
	} else {
		defer rdb.Close()
		locker = assets.NewRedisLocker(rdb.Client, lockTTL)
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	dispatcher := dispatch.New(logger)

	// Sessions
	sessionRepo := sessions.NewRepository(pool)
	sessionSvc := sessions.NewService(sessionRepo, jwtService, dispatcher, sessions.Config{
		ExpireHours:     cfg.Session.ExpireHours,
		MaxParticipants: cfg.Session.MaxParticipants,
	}, logger)
	sessionHandler := sessions.NewHandler(sessionSvc)

	// Presence
	participantRepo := presence.NewRepository(pool)
	registry := presence.NewRegistry(participantRepo, dispatcher, dispatcher, logger)
	presenceHandler := presence.NewHandler(registry)
	sessionSvc.SetPurger(registry)

	// Assets
	engine := assets.NewEngine(locker, dispatcher, logger)
	assetHandler := assets.NewHandler(engine)

	// Q&A
	qaRepo := qa.NewRepository(pool)
	aggregator := qa.NewAggregator(qaRepo, sessionSvc, dispatcher, logger)
	qaHandler := qa.NewHandler(aggregator)

	// Resync snapshot
	resyncHandler := resync.NewHandler(sessionSvc, registry, engine, aggregator)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Public: provisioning, token validation, host upgrade
	router.POST("/sessions", sessionHandler.Create)
	router.GET("/tokens/:token/validate", sessionHandler.ValidateToken)
	router.POST("/sessions/:id/hostauth", sessionHandler.RedeemHostAuth)

	// Protected API (join token or host JWT)
	api := router.Group("")
	api.Use(middleware.TokenAuth(sessionSvc, jwtService))
	{
		hostOnly := middleware.RequireRole(models.RoleHost)

		// Lifecycle
		api.POST("/sessions/:id/open", hostOnly, sessionHandler.Open)
		api.POST("/sessions/:id/start", hostOnly, sessionHandler.Start)
		api.POST("/sessions/:id/end", hostOnly, sessionHandler.End)

		// Presence
		api.POST("/sessions/:id/participants/register", presenceHandler.Register)
		api.GET("/sessions/:id/participants", hostOnly, presenceHandler.List)

		// Assets
		api.POST("/sessions/:id/assets/scan", hostOnly, assetHandler.Scan)
		api.GET("/sessions/:id/assets", assetHandler.List)
		api.POST("/sessions/:id/assets/:shareId/share", hostOnly, assetHandler.Share)

		// Q&A
		api.POST("/sessions/:id/questions", qaHandler.Submit)
		api.GET("/sessions/:id/questions", qaHandler.List)
		api.POST("/sessions/:id/questions/:questionId/vote", qaHandler.Vote)
		api.PATCH("/sessions/:id/questions/:questionId", hostOnly, qaHandler.SetStatus)

		// Resync snapshot
		api.GET("/sessions/:id/resync", resyncHandler.Snapshot)
	}

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", realtime.ServeWs(sessionSvc, registry, logger))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	dispatcher.Shutdown()
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
