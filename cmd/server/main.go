package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cellpulse/cellpulse/internal/api"
	"github.com/cellpulse/cellpulse/internal/cache"
	"github.com/cellpulse/cellpulse/internal/config"
	"github.com/cellpulse/cellpulse/internal/health"
	"github.com/cellpulse/cellpulse/internal/obs"
	"github.com/cellpulse/cellpulse/internal/store"
	"github.com/cellpulse/cellpulse/internal/ws"
)

// engineConfigHolder hands the current engine configuration to the API and
// accepts hot-reload swaps. Batches already running keep the config they
// started with.
type engineConfigHolder struct {
	mu  sync.RWMutex
	cfg health.Config
}

func (h *engineConfigHolder) get() health.Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg
}

func (h *engineConfigHolder) set(cfg health.Config) {
	h.mu.Lock()
	h.cfg = cfg
	h.mu.Unlock()
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	slog.Info("cellpulse-server starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	slog.Info("config loaded",
		"http_port", cfg.Server.HTTPPort,
		"store", storeKind(cfg),
		"cache_enabled", cfg.Server.RedisAddr != "",
		"cells", len(cfg.Engine.Cells),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Metric store: Postgres when a DSN is configured, in-memory otherwise.
	var st store.Store
	if dsn := cfg.Server.DatabaseURL; dsn != "" {
		pg, err := store.NewPostgres(ctx, dsn)
		if err != nil {
			slog.Error("failed to connect to postgres", "err", err)
			os.Exit(1)
		}
		defer pg.Close()
		st = pg
	} else {
		st = store.NewMemory()
	}

	// Optional latest-metric cache. A nil *cache.Cache is a permanent miss.
	var latest *cache.Cache
	if addr := cfg.Server.RedisAddr; addr != "" {
		latest, err = cache.New(addr, cfg.Server.CacheTTL)
		if err != nil {
			slog.Error("failed to connect to redis", "err", err)
			os.Exit(1)
		}
		defer latest.Close()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := obs.New(registry)

	// WebSocket hub — fans each processed batch out to dashboard clients.
	hub := ws.New()
	go hub.Run(ctx)

	engCfg := &engineConfigHolder{cfg: cfg.Engine.ToEngine()}

	// Hot reload: a rewritten config file swaps the engine configuration for
	// subsequent batches. Server-level settings require a restart.
	go func() {
		err := config.Watch(ctx, *configPath, func(next *config.Config) {
			engCfg.set(next.Engine.ToEngine())
		})
		if err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	httpMux := http.NewServeMux()
	httpMux.Handle("/api/", api.New(st, latest, hub, metrics, engCfg.get))
	httpMux.Handle("/ws/stream", hub)
	httpMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           httpMux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("cellpulse-server shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
}

func storeKind(cfg *config.Config) string {
	if cfg.Server.DatabaseURL != "" {
		return "postgres"
	}
	return "memory"
}
