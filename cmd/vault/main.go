package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/nidhogg/golem-vault/internal/anchor"
	"github.com/nidhogg/golem-vault/internal/api"
	"github.com/nidhogg/golem-vault/internal/config"
	"github.com/nidhogg/golem-vault/internal/crypto"
	"github.com/nidhogg/golem-vault/internal/golem"
	"github.com/nidhogg/golem-vault/internal/handles"
	"github.com/nidhogg/golem-vault/internal/keys"
	"github.com/nidhogg/golem-vault/internal/memory"
	"github.com/nidhogg/golem-vault/internal/throttle"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting Golem Vault...")

	// Load configuration
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/vault.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("Config loaded", zap.String("path", cfgPath))

	// Ledger client
	ledger := golem.NewClient(golem.Config{
		Endpoint: cfg.Ledger.Endpoint,
		Owner:    cfg.Ledger.Owner,
		Timeout:  time.Duration(cfg.Ledger.TimeoutSeconds) * time.Second,
	}, logger)

	// Local handle cache; the vault degrades to owner listings without it
	var handleCache *handles.Cache
	if cfg.Cache.Path != "" {
		hc, hcErr := handles.Open(cfg.Cache.Path, logger)
		if hcErr != nil {
			logger.Warn("handle cache unavailable, running without it", zap.Error(hcErr))
		} else {
			handleCache = hc
			if owned, ownErr := ledger.GetEntitiesOfOwner(context.Background(), cfg.Ledger.Owner); ownErr != nil {
				logger.Warn("skipping handle reconciliation, node unreachable", zap.Error(ownErr))
			} else if recErr := hc.Reconcile(context.Background(), owned); recErr != nil {
				logger.Warn("handle reconciliation failed", zap.Error(recErr))
			}
		}
	}

	// Optional NEAR integrity anchoring
	var anchors *anchor.Client
	if cfg.Anchor.Enabled && cfg.Anchor.Endpoint != "" {
		anchors = anchor.NewClient(anchor.Config{
			Endpoint:  cfg.Anchor.Endpoint,
			AccountID: cfg.Anchor.AccountID,
		}, logger)
		logger.Info("Integrity anchoring enabled", zap.String("account", cfg.Anchor.AccountID))
	}

	ttl := cfg.Ledger.TTLBlocks
	if ttl == 0 {
		ttl = 300
	}
	store := memory.NewStore(ledger, cfg.Ledger.Owner, ttl, handleCache, logger)

	interval := time.Duration(cfg.Throttle.IntervalSeconds * float64(time.Second))
	queue := throttle.NewQueue(interval)

	svc, err := memory.NewService(store, keys.NewManager(logger), crypto.NewService(logger), anchors, queue, logger)
	if err != nil {
		logger.Fatal("failed to build memory service", zap.Error(err))
	}

	// Build HTTP handler
	handler := api.NewHandler(svc, logger)

	// Start server
	port := fmt.Sprintf("%d", cfg.Server.Port)
	if port == "0" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("Golem Vault listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down Golem Vault...")
	ctx := context.Background()
	srv.Shutdown(ctx)
	svc.Lock()
	if handleCache != nil {
		handleCache.Close()
	}
}
