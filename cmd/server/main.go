package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"cashrecon/backend/internal/blob"
	"cashrecon/backend/internal/cache"
	"cashrecon/backend/internal/config"
	"cashrecon/backend/internal/httpapi"
	"cashrecon/backend/internal/notify"
	"cashrecon/backend/internal/ocr"
	"cashrecon/backend/internal/reconcile"
	"cashrecon/backend/internal/service"
	"cashrecon/backend/internal/store"
	"cashrecon/backend/internal/store/memory"
	pgstore "cashrecon/backend/internal/store/postgres"
)

func main() {
	migrateCmd := flag.String("migrate", "", "run schema migrations (up, down, version) and exit")
	steps := flag.Int("steps", 0, "limit -migrate up/down to this many steps")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if *migrateCmd != "" {
		if cfg.DatabaseURL == "" {
			logger.Fatal("DATABASE_URL is required for -migrate")
		}
		if err := pgstore.Migrate(cfg.DatabaseURL, *migrateCmd, *steps, logger); err != nil {
			logger.Fatal("migration failed", zap.Error(err))
		}
		return
	}

	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatal("invalid security configuration", zap.Error(err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback", zap.Error(err))
		}
		repo = pg
		closers = append(closers, pg.Close)
		logger.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded(logger)
		logger.Info("repository: in-memory")
	}

	summaries := cache.SummaryCache(cache.NewMemorySummaryCache())
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisSummaryCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, using in-process summary cache", zap.Error(err))
		} else {
			summaries = redisCache
			closers = append(closers, redisCache.Close)
			logger.Info("cache: redis")
		}
	} else {
		logger.Info("cache: in-process")
	}

	blobs, err := blob.NewLocalStorage(cfg.UploadDir, cfg.UploadBaseURL, cfg.AuthSecret)
	if err != nil {
		logger.Fatal("upload storage unavailable", zap.Error(err))
	}

	var extractor ocr.Extractor = ocr.DisabledExtractor{}
	if cfg.OCREndpoint != "" {
		extractor = ocr.NewHTTPExtractor(cfg.OCREndpoint, cfg.OCRAPIKey, cfg.OCRTimeout)
		logger.Info("ocr: http", zap.String("endpoint", cfg.OCREndpoint))
	}

	svc := service.New(repo, service.Options{
		Logger: logger,
		Thresholds: &reconcile.Thresholds{
			Discrepancy:     cfg.DiscrepancyThreshold,
			VarianceEpsilon: cfg.VarianceEpsilon,
		},
		CreditCardFeeRate: cfg.CreditCardFeeRate,
		SummaryCache:      summaries,
		SummaryTTL:        cfg.SummaryCacheTTL,
		SummaryRecipients: cfg.SummaryRecipients,
		Blobs:             blobs,
		Extractor:         extractor,
		Notifier:          notify.NewLogNotifier(logger),
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, svc)
	api := httpapi.New(svc, auth, httpapi.Options{
		Logger:         logger,
		AllowedOrigin:  cfg.AllowedOrigin,
		MaxUploadBytes: cfg.UploadMaxBytes,
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("cash reconciliation backend listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Error("close error", zap.Error(err))
		}
	}

	logger.Info("server stopped")
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	if cfg.IsDevelopment() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if err := validateSecretStrength(cfg.AuthSecret); err != nil {
		return fmt.Errorf("AUTH_SECRET is too weak: %w", err)
	}
	if cfg.AccessTokenTTLMinutes > 24*60 {
		return fmt.Errorf("ACCESS_TOKEN_TTL_MINUTES must not exceed one day")
	}
	return nil
}

// validateSecretStrength rejects placeholder secrets and ones built from a
// single repeated character.
func validateSecretStrength(secret string) error {
	lower := strings.ToLower(secret)
	for _, placeholder := range []string{"change-me", "changeme", "dev-secret", "replace-me", "example"} {
		if strings.Contains(lower, placeholder) {
			return fmt.Errorf("placeholder secret not allowed")
		}
	}

	allSame := true
	for i := 1; i < len(secret); i++ {
		if secret[i] != secret[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("repeated-character secret not allowed")
	}
	return nil
}
