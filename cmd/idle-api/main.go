package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"idlecore/internal/api"
	"idlecore/internal/catalog"
	"idlecore/internal/clock"
	"idlecore/internal/config"
	"idlecore/internal/db"
	"idlecore/internal/hub"
	"idlecore/internal/metrics"
	"idlecore/internal/persist"
	"idlecore/internal/ranking"
	"idlecore/internal/session"
)

// backend is what a storage choice has to provide.
type backend interface {
	persist.KV
	ranking.Store
	ranking.Board
}

type memoryBackend struct {
	*persist.MemoryKV
	*ranking.MemoryStore
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	config.LoadDotEnv()
	cfg, err := config.LoadAPIFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))

	cat, err := loadCatalog(cfg.CatalogPath)
	if err != nil {
		logger.Error("catalog load failed", "path", cfg.CatalogPath, "err", err)
		os.Exit(1)
	}

	store, closeStore, err := openBackend(ctx, cfg)
	if err != nil {
		logger.Error("storage init failed", "store", cfg.Store, "err", err)
		os.Exit(1)
	}
	defer closeStore()

	clk := clock.RealClock{}
	rec := metrics.New()

	var h *hub.Hub
	sink := session.SinkFunc(func(playerKey string, ev session.Event) {
		h.Send(playerKey, ev)
	})
	sessCfg := session.DefaultConfig()
	sessCfg.TickEvery = cfg.TickEvery
	sessCfg.SaveEvery = cfg.SaveEvery
	sessCfg.RankingEvery = cfg.RankingEvery
	sessCfg.RankingInterval = cfg.RankingInterval
	sessCfg.BroadcastWindow = cfg.BroadcastWindow
	sessCfg.MaxOffline = cfg.MaxOffline

	manager := session.NewManager(session.Deps{
		Catalog: cat,
		Persist: persist.NewAdapter(store, cat, clk, logger),
		Ranking: store,
		Clock:   clk,
		Sink:    sink,
		Logger:  logger,
		Metrics: rec,
	}, sessCfg)
	h = hub.New(manager, session.ErrorCode, logger)

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go h.Run(hubCtx)

	server := api.New(cfg, logger, api.Deps{
		Catalog:  cat,
		Sessions: manager,
		Board:    store,
		Hub:      h,
		Metrics:  rec,
	})
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		if err := manager.Shutdown(shutdownCtx); err != nil {
			logger.Error("final saves failed", "err", err)
		}
		stopHub()
	}()

	logger.Info("idle api listening", "addr", cfg.Addr, "store", cfg.Store, "units", cat.Len())
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
	<-hubCtx.Done()
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default()
	}
	return catalog.Load(path)
}

func openBackend(ctx context.Context, cfg config.APIConfig) (backend, func(), error) {
	switch cfg.Store {
	case config.StoreMemory:
		return memoryBackend{persist.NewMemoryKV(), ranking.NewMemoryStore()}, func() {}, nil
	case config.StoreSQLite:
		s, err := db.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case config.StorePostgres:
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := db.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return db.NewPGStore(pool), pool.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown store %q", cfg.Store)
}
