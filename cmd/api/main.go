package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/punchamoorthee/paysettle/internal/api"
	"github.com/punchamoorthee/paysettle/internal/config"
	"github.com/punchamoorthee/paysettle/internal/identity"
	"github.com/punchamoorthee/paysettle/internal/logging"
	"github.com/punchamoorthee/paysettle/internal/notify"
	"github.com/punchamoorthee/paysettle/internal/realtime"
	"github.com/punchamoorthee/paysettle/internal/registry"
	"github.com/punchamoorthee/paysettle/internal/service"
	"github.com/punchamoorthee/paysettle/internal/store"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize Layers
	var (
		ledger     store.Ledger
		identities identity.Directory
	)
	switch cfg.LedgerBackend {
	case config.BackendMemory:
		ledger = store.NewMemory()
		identities = identity.NewMemory()
		logger.Warn("using in-memory ledger; state is lost on exit")
	default:
		pg, err := store.NewPostgres(ctx, cfg.DBSource)
		if err != nil {
			return fmt.Errorf("unable to connect to database: %w", err)
		}
		defer pg.Close()
		if err := pg.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		ledger = pg
		identities = identity.NewPostgres(pg.Db)
	}

	var routes registry.Registry
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("unable to reach redis: %w", err)
		}
		routes = registry.NewRedis(rdb, "paysettle:", cfg.ConnectionTTL)
	} else {
		mem := registry.NewMemory(cfg.ConnectionTTL)
		go sweep(ctx, mem, logger)
		routes = mem
	}

	hub := realtime.NewHub(cfg.NodeID, routes, logger)
	dispatcher := notify.NewDispatcher(routes, hub, logger)
	svc := service.NewSettlementService(ledger, identities, dispatcher, logger, service.Options{
		Limits: service.Limits{
			MaxTransfer: cfg.MaxTransferAmount,
			MaxRequest:  cfg.MaxRequestAmount,
		},
		WelcomeBonus:  cfg.WelcomeBonus,
		NotifyTimeout: cfg.NotifyTimeout,
	})

	handler := api.NewHandler(svc, hub, logger)
	limiter := api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	limiter.StartCleanup(ctx, time.Minute)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(handler, limiter),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("port", cfg.Port),
			zap.String("node_id", cfg.NodeID),
			zap.String("ledger", cfg.LedgerBackend))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	hub.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	svc.Drain()
	return nil
}

// sweep drops expired bindings from the in-memory registry.
func sweep(ctx context.Context, reg *registry.Memory, logger *zap.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := reg.Sweep(); n > 0 {
				logger.Debug("swept expired bindings", zap.Int("count", n))
			}
		}
	}
}
