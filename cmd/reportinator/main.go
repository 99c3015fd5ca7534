package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/reportinator/relay-bot/internal/audit"
	"github.com/reportinator/relay-bot/internal/config"
	"github.com/reportinator/relay-bot/internal/messaging"
	"github.com/reportinator/relay-bot/internal/metrics"
	"github.com/reportinator/relay-bot/internal/ratelimit"
	"github.com/reportinator/relay-bot/internal/supervisor"
	"github.com/reportinator/relay-bot/internal/unwrapper"
)

func main() {
	log.Println("Starting reportinator relay bot...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	// --- Audit store (optional) ---
	var store *audit.Store
	if cfg.DatabaseURL != "" {
		if err := audit.Migrate(cfg.DatabaseURL); err != nil {
			log.Fatalf("failed to migrate audit schema: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		store, err = audit.Open(ctx, cfg.DatabaseURL)
		cancel()
		if err != nil {
			log.Fatalf("failed to connect to PostgreSQL: %v", err)
		}
	}

	// --- Reporter rate limiter (optional) ---
	var rdb *redis.Client
	var limiter unwrapper.ReporterLimiter
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rdb.Ping(ctx).Err(); err != nil {
			cancel()
			log.Fatalf("failed to connect to Redis: %v", err)
		}
		cancel()
		limiter = ratelimit.NewLimiter(rdb)
	}

	// --- NATS ---
	natsConfig := messaging.DefaultConfig()
	natsConfig.URL = cfg.NATSURL
	natsConfig.Name = cfg.NATSName
	natsClient, err := messaging.NewClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	// --- Metrics / health endpoint ---
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()

	log.Printf("Reportinator relay bot running")
	log.Printf("  pubkey:        %s", cfg.PublicKey)
	log.Printf("  relays:        %v", cfg.RelayAddrs)
	log.Printf("  nats_url:      %s", cfg.NATSURL)
	log.Printf("  metrics_addr:  %s", cfg.MetricsAddr)
	log.Printf("  redis_addr:    %s", orDisabled(cfg.RedisAddr))
	log.Printf("  audit_store:   %s", enabledIf(cfg.DatabaseURL != ""))
	log.Printf("  unwrap_workers: %d", cfg.UnwrapWorkers)

	// --- Run until signalled ---
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, shutting down...", sig)
		cancel()
	}()

	sup := supervisor.New(cfg, natsClient, limiter, store)
	if err := sup.Run(ctx); err != nil {
		log.Printf("supervisor error: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	metricsServer.Shutdown(shutdownCtx)
	shutdownCancel()

	natsClient.Close()
	if rdb != nil {
		rdb.Close()
	}
	if store != nil {
		store.Close()
	}
}

func orDisabled(s string) string {
	if s == "" {
		return "(disabled)"
	}
	return s
}

func enabledIf(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "(disabled)"
}
