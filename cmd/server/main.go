package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/apnisec/backend/internal/api"
	"github.com/apnisec/backend/internal/auth"
	"github.com/apnisec/backend/internal/cache"
	"github.com/apnisec/backend/internal/config"
	"github.com/apnisec/backend/internal/db"
	"github.com/apnisec/backend/internal/email"
	apperrors "github.com/apnisec/backend/internal/errors"
	"github.com/apnisec/backend/internal/events"
	"github.com/apnisec/backend/internal/health"
	"github.com/apnisec/backend/internal/logger"
	"github.com/apnisec/backend/internal/metrics"
	"github.com/apnisec/backend/internal/middleware"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg := config.Load()
	log := logger.Default().WithComponent("server")
	ctx := context.Background()

	database, err := db.New(cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName)
	if err != nil {
		log.Fatal(ctx, "failed to connect to database", err)
	}
	defer database.Close()

	if err := database.Migrate(); err != nil {
		log.Fatal(ctx, "failed to run migrations", err)
	}

	// Redis backs the issue-list cache; the service runs without it.
	var issueCache *cache.Cache
	if cfg.RedisAddr != "" {
		issueCache, err = cache.New(cfg.RedisAddr)
		if err != nil {
			log.Warn(ctx, "redis unavailable, issue list caching disabled", map[string]interface{}{
				"addr":  cfg.RedisAddr,
				"error": err.Error(),
			})
			issueCache = nil
		} else {
			defer issueCache.Close()
		}
	}

	mailer := email.NewMailer(email.NewClient(cfg.ResendAPIKey, cfg.EmailFrom), cfg.MailerWorkers)
	mailer.Start()

	hub := events.NewHub()
	go hub.Run()

	userRepo := db.NewUserRepository(database)
	tokenRepo := db.NewTokenRepository(database)
	issueRepo := db.NewIssueRepository(database)

	authService := auth.NewService(userRepo, tokenRepo, mailer, cfg.JWTSecret)
	authHandlers := auth.NewHandlers(authService, cfg.IsProduction(), cfg.BaseURL)

	var issueCacheIface api.IssueCache
	if issueCache != nil {
		issueCacheIface = issueCache
	}
	issueHandlers := api.NewIssueHandlers(issueRepo, userRepo, mailer, issueCacheIface, hub)
	profileHandlers := api.NewProfileHandlers(userRepo)
	eventsHandler := events.NewHandler(hub)

	checkerCfg := &health.CheckerConfig{DB: database.DB}
	if issueCache != nil {
		checkerCfg.Redis = issueCache.Client()
	}
	healthChecker := health.NewChecker(checkerCfg)

	router := api.NewRouter(api.RouterConfig{
		AuthHandlers:    authHandlers,
		AuthService:     authService,
		IssueHandlers:   issueHandlers,
		ProfileHandlers: profileHandlers,
		EventsHandler:   eventsHandler,
		HealthHandler:   health.NewHandler(healthChecker),
	})

	handler := middleware.Chain(router,
		apperrors.RequestIDMiddleware,
		logger.LoggingMiddleware,
		logger.RecoveryMiddleware,
		middleware.CORS(cfg.AllowedOrigins),
		metrics.Middleware(metrics.Default()),
	)

	server := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // websocket connections stay open
		IdleTimeout:  120 * time.Second,
	}

	stopCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting server", map[string]interface{}{"addr": cfg.ServerAddr, "env": cfg.Env})
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(ctx, "server failed", err)
		}
	case <-stopCtx.Done():
		log.Info(ctx, "shutting down", nil)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn(ctx, "server shutdown incomplete", map[string]interface{}{"error": err.Error()})
	}
	if err := mailer.Stop(shutdownCtx); err != nil {
		log.Warn(ctx, "mailer shutdown incomplete", map[string]interface{}{"error": err.Error()})
	}
}
