package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/evolvlabs/viewmymeetings/internal/application"
	"github.com/evolvlabs/viewmymeetings/internal/config"
	"github.com/evolvlabs/viewmymeetings/internal/logging"
	"github.com/evolvlabs/viewmymeetings/internal/persistence"
	"github.com/evolvlabs/viewmymeetings/internal/server"
)

func main() {
	// A missing .env file is fine; the environment may already be populated.
	godotenv.Load()

	logger := logging.New(os.Stdout, slog.LevelInfo)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logging.ContextWithLogger(ctx, logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	table := make(map[string]application.Credential, len(cfg.Clients))
	for _, entry := range cfg.Clients {
		table[entry.ID] = application.Credential{
			Name:       entry.Name,
			SecretHash: entry.SecretHash,
			PushPort:   entry.PushPort,
		}
	}
	authService := application.NewAuthService(table, nil, logger)

	snapshots := persistence.NewSnapshotStore(cfg.StorePath)
	meetingService := application.NewMeetingService(snapshots, nil, logger)
	if err := meetingService.Load(ctx); err != nil {
		logger.Error("failed to restore meeting collection", "error", err, "store_path", cfg.StorePath)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	metrics := server.NewMetrics(registry)

	srv := server.New(cfg.BindAddr, cfg.Port, authService, meetingService, metrics, logger)
	meetingService.SetNotifier(srv.Dispatcher())

	if cfg.MetricsAddr != "" {
		go serveMetrics(ctx, cfg.MetricsAddr, registry, logger)
	}

	if err := srv.Serve(ctx); err != nil {
		logger.Error("server encountered error", "error", err)
		os.Exit(1)
	}
}

func serveMetrics(ctx context.Context, addr string, registry *prometheus.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	logger.Info("metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics listener failed", "error", err)
	}
}
