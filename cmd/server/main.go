package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"marketplace/backend/internal/cache"
	"marketplace/backend/internal/config"
	"marketplace/backend/internal/domain"
	"marketplace/backend/internal/httpapi"
	"marketplace/backend/internal/notify"
	"marketplace/backend/internal/observability"
	"marketplace/backend/internal/quote"
	"marketplace/backend/internal/seed"
	"marketplace/backend/internal/service"
	"marketplace/backend/internal/store"
	"marketplace/backend/internal/store/memory"
	pgstore "marketplace/backend/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "building logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped with error", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	if err := validateSecurityConfig(cfg); err != nil {
		return fmt.Errorf("invalid security configuration: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	catalog, err := loadCatalog(cfg.SeedFile)
	if err != nil {
		return err
	}

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback: %w", err)
		}
		closers = append(closers, pg.Close)
		if err := pg.Migrate(ctx); err != nil {
			return fmt.Errorf("migrating postgres schema: %w", err)
		}
		if err := pg.Seed(ctx, catalog); err != nil {
			return fmt.Errorf("seeding postgres catalog: %w", err)
		}
		if err := ensureAdmin(ctx, pg, logger); err != nil {
			return fmt.Errorf("bootstrapping admin account: %w", err)
		}
		repo = pg
		logger.Info("repository ready", zap.String("kind", "postgres"))
	} else {
		mem, err := memory.NewFromCatalog(catalog, logger)
		if err != nil {
			return fmt.Errorf("building memory store: %w", err)
		}
		repo = mem
		logger.Info("repository ready", zap.String("kind", "memory"))
	}

	var quoteCache cache.QuoteCache = cache.NoopQuoteCache{}
	var notifier notify.Notifier = notify.NewLogNotifier(logger)
	if cfg.RedisAddr != "" {
		client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		redisCache := cache.NewRedisQuoteCache(client)
		if err := redisCache.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, using noop cache and log notifier", zap.Error(err))
			_ = client.Close()
		} else {
			quoteCache = redisCache
			notifier = notify.NewRedisNotifier(client, cfg.NotifyChannel)
			closers = append(closers, client.Close)
			logger.Info("redis ready", zap.String("addr", cfg.RedisAddr), zap.String("channel", cfg.NotifyChannel))
		}
	}

	engine := quote.NewEngine(quoteCache, time.Duration(cfg.QuoteTTLSeconds)*time.Second, logger)
	svc := service.New(repo, engine, notifier, logger, cfg.DefaultCurrency)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, cfg.ApprovalPIN, repo, logger)
	api := httpapi.New(svc, auth, logger, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("marketplace backend listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Warn("close error", zap.Error(err))
		}
	}

	logger.Info("server stopped")
	return nil
}

func loadCatalog(path string) (seed.Catalog, error) {
	if path == "" {
		return seed.Default(), nil
	}
	return seed.LoadFile(path)
}

// ensureAdmin creates the first admin account on an empty user table from
// SEED_ADMIN_PASSWORD.
func ensureAdmin(ctx context.Context, repo store.Repository, logger *zap.Logger) error {
	users, err := repo.ListUsers(ctx)
	if err != nil {
		return err
	}
	if len(users) > 0 {
		return nil
	}
	password := strings.TrimSpace(os.Getenv("SEED_ADMIN_PASSWORD"))
	if password == "" {
		logger.Warn("no user accounts exist and SEED_ADMIN_PASSWORD is unset; console login is disabled")
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return repo.CreateUser(ctx, domain.UserAccount{
		Username:  "admin",
		Password:  string(hash),
		Role:      domain.RoleAdmin,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	})
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.ApprovalPIN) < 6 {
		return fmt.Errorf("APPROVAL_PIN must be set and at least 6 digits")
	}
	if err := validatePINStrength(cfg.ApprovalPIN); err != nil {
		return fmt.Errorf("APPROVAL_PIN is too weak: %w", err)
	}
	return nil
}

// validatePINStrength rejects repeated digits, straight runs and a short list
// of common PINs.
func validatePINStrength(pin string) error {
	known := map[string]bool{
		"123456": true, "654321": true, "000000": true, "111111": true,
		"121212": true, "112233": true, "123123": true, "696969": true,
	}
	if known[pin] {
		return fmt.Errorf("common PIN not allowed")
	}

	allSame := true
	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			allSame = false
		}
		diff := int(pin[i]) - int(pin[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	switch {
	case allSame:
		return fmt.Errorf("all-same-digit PIN not allowed")
	case ascending || descending:
		return fmt.Errorf("sequential PIN not allowed")
	}
	return nil
}
