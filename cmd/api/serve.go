package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"studyhub/api/internal/app"
	"studyhub/api/internal/config"
	"studyhub/api/internal/identity"
	"studyhub/api/internal/logging"
	"studyhub/api/internal/media"
	"studyhub/api/internal/metrics"
	"studyhub/api/internal/pagecache"
	"studyhub/api/internal/report"
	"studyhub/api/internal/search"
	"studyhub/api/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API (default)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(db, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}

	dataStore := store.NewPostgresStore(db)
	registry := metrics.New()

	var cache pagecache.Cache = pagecache.Nop{}
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisCache, err := pagecache.NewRedisCache(cfg.RedisURL, cfg.PageCacheTTL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer redisCache.Close()
		logger.Info().Msg("using redis page cache")
		cache = redisCache
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
	}
	searchService := search.NewService(meiliClient, search.NewPgFTS(db), logger)
	defer searchService.Close()
	go searchService.ReindexAllFromPG(ctx)

	reports := report.NewGenerator(newReportModel(ctx, cfg, logger), cfg.ReportTimeout, registry)

	var objects *media.Client
	if cfg.MediaConfigured() {
		objects, err = media.NewClient(media.Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
			PublicURL: cfg.S3PublicURL,
		}, &logger)
		if err != nil {
			return err
		}
		if err := objects.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("prepare evidence bucket: %w", err)
		}
	}

	service := app.New(cfg, dataStore, app.Options{
		Cache:   cache,
		Search:  searchService,
		Media:   objects,
		Reports: reports,
		Metrics: registry,
		Logger:  logger,
	})

	viewers := identity.NewProvider(cfg.ViewerSecret, cfg.ViewerTTL)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, viewers)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Topic creation waits on report generation.
		WriteTimeout: cfg.ReportTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("studyhub api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
	logger.Info().Msg("studyhub api stopped")
	return nil
}

func newReportModel(ctx context.Context, cfg config.Config, logger zerolog.Logger) report.Model {
	if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
		logger.Warn().Msg("GEMINI_API_KEY not set, topic reports are disabled")
		return report.Unconfigured{}
	}
	model, err := report.NewGemini(ctx, cfg.GeminiAPIKey)
	if err != nil {
		logger.Error().Err(err).Msg("gemini client failed, topic reports are disabled")
		return report.Unconfigured{}
	}
	return model
}
