// SmartUnderwrite - versioned rules engine for loan application decisioning.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/smartunderwrite/smartunderwrite/internal/api"
	"github.com/smartunderwrite/smartunderwrite/internal/bus"
	"github.com/smartunderwrite/smartunderwrite/internal/cache"
	"github.com/smartunderwrite/smartunderwrite/internal/domain"
	"github.com/smartunderwrite/smartunderwrite/internal/overrides"
	"github.com/smartunderwrite/smartunderwrite/internal/rules"
	"github.com/smartunderwrite/smartunderwrite/internal/store"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	logLevel := slog.LevelInfo
	if os.Getenv("SMARTUNDERWRITE_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting smartunderwrite",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	cfg := domain.DefaultConfig()

	switch strings.ToLower(strings.TrimSpace(os.Getenv("SMARTUNDERWRITE_TIER"))) {
	case "", "community":
		// Community defaults already applied.
	case "pro":
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	default:
		slog.Warn("unsupported SMARTUNDERWRITE_TIER value; falling back to community tier", "value", os.Getenv("SMARTUNDERWRITE_TIER"))
	}

	applyEnvOverrides(cfg)

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"store", cfg.Store.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	sqlStore, err := store.New(cfg.Store)
	if err != nil {
		slog.Error("failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer sqlStore.Close()
	slog.Info("store initialized", "driver", cfg.Store.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	ruleService := rules.NewService(sqlStore, logger)
	ruleService.SetCache(cacheImpl)
	ruleService.SetEventBus(busImpl)
	slog.Info("rule service initialized")

	engine := rules.NewEngine(sqlStore)
	activeRules, err := engine.GetActiveRules(ctx)
	if err != nil {
		slog.Error("failed to load active rules", "error", err)
		os.Exit(1)
	}
	slog.Info("rule engine initialized", "active_rules", len(activeRules))

	overridesSvc := overrides.NewService(sqlStore)
	slog.Info("overrides service initialized")

	var metrics *api.Metrics
	if os.Getenv("SMARTUNDERWRITE_METRICS") != "false" {
		metrics = api.NewMetrics()
		slog.Info("metrics initialized")
	}

	handler := api.NewHandler(ruleService, engine, overridesSvc, sqlStore, metrics, Version)
	srv := api.NewServer(cfg.Server, handler)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("smartunderwrite is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	<-ctx.Done()
	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("smartunderwrite shutdown complete")
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ================================================")
	fmt.Println("              SMARTUNDERWRITE")
	fmt.Println("      Versioned Rules Engine for Loan Decisioning")
	fmt.Println("  ================================================")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    GET  /rules                        - List rules")
	fmt.Println("    POST /rules                        - Create a rule")
	fmt.Println("    GET  /rules/{id}                   - Get a rule")
	fmt.Println("    PUT  /rules/{id}                   - Update a rule")
	fmt.Println("    DELETE /rules/{id}                 - Delete a rule")
	fmt.Println("    POST /rules/{id}/activate          - Activate a rule")
	fmt.Println("    POST /rules/{id}/deactivate        - Deactivate a rule")
	fmt.Println("    GET  /rules/{id}/versions          - Rule version history")
	fmt.Println("    POST /rules/{id}/versions          - Supersede a rule")
	fmt.Println("    POST /evaluate                     - Evaluate an application")
	fmt.Println("    GET  /decisions                    - List an affiliate's decisions")
	fmt.Println("    GET  /decisions/{id}                - Get a decision")
	fmt.Println("    POST /decisions/{id}/override       - Underwriter override")
	fmt.Println("    GET  /health                       - Health check")
	fmt.Println("    GET  /ready                         - Readiness check")
	fmt.Println("    GET  /metrics                       - Prometheus metrics")
	fmt.Println()
}

// applyEnvOverrides applies environment variable overrides to the config,
// for Docker/Kubernetes deployments.
func applyEnvOverrides(cfg *domain.Config) {
	if driver := os.Getenv("SMARTUNDERWRITE_DB_DRIVER"); driver != "" {
		cfg.Store.Driver = driver
	}
	if host := os.Getenv("SMARTUNDERWRITE_POSTGRES_HOST"); host != "" {
		cfg.Store.PostgresHost = host
	}
	if port := os.Getenv("SMARTUNDERWRITE_POSTGRES_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Store.PostgresPort = p
		}
	}
	if user := os.Getenv("SMARTUNDERWRITE_POSTGRES_USER"); user != "" {
		cfg.Store.PostgresUser = user
	}
	if password := os.Getenv("SMARTUNDERWRITE_POSTGRES_PASSWORD"); password != "" {
		cfg.Store.PostgresPassword = password
	}
	if db := os.Getenv("SMARTUNDERWRITE_POSTGRES_DB"); db != "" {
		cfg.Store.PostgresDB = db
	}
	if sslMode := os.Getenv("SMARTUNDERWRITE_POSTGRES_SSLMODE"); sslMode != "" {
		cfg.Store.PostgresSSLMode = sslMode
	}

	if cacheType := os.Getenv("SMARTUNDERWRITE_CACHE_TYPE"); cacheType != "" {
		cfg.Cache.Type = cacheType
	}
	if addr := os.Getenv("SMARTUNDERWRITE_REDIS_ADDR"); addr != "" {
		cfg.Cache.RedisAddr = addr
	}
	if password := os.Getenv("SMARTUNDERWRITE_REDIS_PASSWORD"); password != "" {
		cfg.Cache.RedisPassword = password
	}
	if db := os.Getenv("SMARTUNDERWRITE_REDIS_DB"); db != "" {
		if d, err := strconv.Atoi(db); err == nil {
			cfg.Cache.RedisDB = d
		}
	}

	if busType := os.Getenv("SMARTUNDERWRITE_BUS_TYPE"); busType != "" {
		cfg.EventBus.Type = busType
	}
	if url := os.Getenv("SMARTUNDERWRITE_NATS_URL"); url != "" {
		cfg.EventBus.NATSUrl = url
	}

	if port := os.Getenv("SMARTUNDERWRITE_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if host := os.Getenv("SMARTUNDERWRITE_HOST"); host != "" {
		cfg.Server.Host = host
	}
}
