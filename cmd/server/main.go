package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/taowatch/transfer-monitor/internal/cache"
	"github.com/taowatch/transfer-monitor/internal/config"
	"github.com/taowatch/transfer-monitor/internal/handler"
	"github.com/taowatch/transfer-monitor/internal/middleware"
	"github.com/taowatch/transfer-monitor/internal/store"
	"github.com/taowatch/transfer-monitor/internal/taostats"
	"github.com/taowatch/transfer-monitor/internal/tracker"
	"github.com/taowatch/transfer-monitor/internal/twitter"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	cfg := config.Load()

	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	if cfg.TaostatsAPIKey == "" {
		logger.Error("TAOSTATS_API_KEY is required")
		os.Exit(1)
	}
	if cfg.TrackedAddress == "" || cfg.TreasuryAddress == "" {
		logger.Error("TRACKED_ADDRESS and TREASURY_ADDRESS are required")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database connected and migrated")

	// Redis snapshot cache (retry up to 30s for the instance to come up)
	var snapshots *cache.Cache
	for i := 0; i < 6; i++ {
		snapshots, err = cache.New(cfg.RedisURL, cfg.RedisPassword)
		if err == nil {
			break
		}
		logger.Warn("redis not ready, retrying...", "attempt", i+1, "error", err)
		time.Sleep(5 * time.Second)
	}
	if err != nil {
		logger.Error("failed to connect to redis after retries", "error", err)
		os.Exit(1)
	}
	defer snapshots.Close()
	logger.Info("redis connected for snapshot cache")

	// Twitter sink
	tw := twitter.NewClient(twitter.Credentials{
		APIKey:       cfg.TwitterAPIKey,
		APISecret:    cfg.TwitterAPISecret,
		AccessToken:  cfg.TwitterAccessToken,
		AccessSecret: cfg.TwitterAccessSecret,
	}, logger)
	if err := tw.Verify(ctx); err != nil {
		logger.Warn("twitter credentials check failed, tweets may not work", "error", err)
	}

	// Taostats client and monitor
	ts := taostats.NewClient(cfg.TaostatsAPIKey, cfg.Network)
	fetch := func(ctx context.Context) ([]taostats.Page, error) {
		return ts.AllTransfers(ctx, cfg.TrackedAddress)
	}

	mon := tracker.NewMonitor(fetch, tw.Publish, snapshots, db, cfg.TreasuryAddress, cfg.TrackedAddress, logger)
	mon.UpdateSettings(nil, nil, &cfg.TestMode)

	if cfg.MonitorEnabled {
		if err := mon.Prime(ctx); err != nil {
			logger.Warn("baseline prime failed, first cycle may re-announce visible transfers", "error", err)
		}
		mon.Start(ctx)
	}

	refresh := handler.RefreshFunc(ts, cfg.TrackedAddress, cfg.TreasuryAddress)

	// HTTP routes
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Metrics())
	r.Use(middleware.CORS(cfg.FrontendOrigin))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", handler.Health())
	r.Get("/readyz", handler.Ready(db))

	r.Route("/api", func(r chi.Router) {
		r.Get("/track", handler.Track(snapshots, refresh))
		r.Get("/cache-status", handler.CacheStatus(snapshots))
		r.Get("/monitor/status", handler.MonitorStatus(mon))
		r.Post("/monitor/toggle", handler.MonitorToggle(ctx, mon))
		r.Post("/monitor/settings", handler.MonitorSettings(mon))
		r.Get("/monitor/history", handler.MonitorHistory(mon))
		r.Get("/notifications", handler.ListNotifications(db))
		r.Get("/transfers/stats", handler.TransferStats(db))
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down gracefully")
	mon.Stop()
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}
