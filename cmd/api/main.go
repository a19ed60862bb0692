package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"surveygraph/api/internal/app"
	"surveygraph/api/internal/archive"
	"surveygraph/api/internal/config"
	"surveygraph/api/internal/logging"
	"surveygraph/api/internal/search"
	"surveygraph/api/internal/session"
	"surveygraph/api/internal/store"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var service *app.Service
	var db *sql.DB
	switch cfg.StoreDriver {
	case config.DriverMemory:
		logger.Warn("using in-memory store; data is lost on restart")
		service = app.New(cfg, store.NewMemoryStore(), logger)
	case config.DriverPostgres:
		var err error
		db, err = store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			fatal(logger, "database connection failed", err)
		}
		defer db.Close()
		if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir, logger); err != nil {
			fatal(logger, "migrations failed", err)
		}
		service = app.New(cfg, store.NewPostgresStore(db), logger)
	default:
		fatal(logger, "unknown store driver", errors.New(cfg.StoreDriver))
	}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		tracker, err := session.NewRedisTracker(cfg.RedisURL, cfg.ResumeSessionTTL)
		if err != nil {
			fatal(logger, "redis connection failed", err)
		}
		defer tracker.Close()
		service.UseSessionTracker(tracker)
		logger.Info("respondent session tracking enabled")
	}

	searchService, closeSearch := newSearchService(ctx, cfg, db, logger)
	defer closeSearch()
	service.UseQuestionIndex(searchService)

	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		revisions, err := archive.NewMinioArchive(ctx, archive.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			fatal(logger, "revision archive unavailable", err)
		}
		service.UseRevisionArchive(revisions)
		logger.Info("structure revision archive enabled", "bucket", cfg.MinioBucket)
	}

	limiter := app.NewIPRateLimiter(cfg.RespondentRatePerMinute, cfg.RespondentRateBurst, 10*time.Minute)
	trusted, err := app.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		fatal(logger, "invalid TRUSTED_PROXIES", err)
	}
	limiter.TrustProxies(trusted)
	go limiter.Run(ctx)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, limiter, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("surveygraph api listening", "addr", cfg.Addr, "store", cfg.StoreDriver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal(logger, "server failed", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

// newSearchService wires Meilisearch when configured, with PostgreSQL
// full-text search as the fallback when a database is available.
func newSearchService(ctx context.Context, cfg config.Config, db *sql.DB, logger *slog.Logger) (*search.Service, func()) {
	var primary search.Backend
	closeFn := func() {}
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		primary = meili
		closeFn = meili.Close
	}
	var fallback search.Searcher
	if db != nil {
		fallback = search.NewPgFTS(db)
	}
	service := search.NewService(primary, fallback, logger)
	go service.ReindexFromStorage(ctx)
	return service, closeFn
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}
