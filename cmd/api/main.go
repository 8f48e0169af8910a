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

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"coordhub/audit"
	"coordhub/auth"
	"coordhub/config"
	"coordhub/coordinator"
	"coordhub/db"
	"coordhub/event"
	"coordhub/geo"
	"coordhub/heatmap"
	"coordhub/metrics"
	"coordhub/migrations"
	"coordhub/telemetry"
	"coordhub/whatsapp"
)

const serviceName = "coordhub-api"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("coordhub api stopped", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	shutdownTracing, err := telemetry.Setup(ctx, serviceName, cfg.OTelEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("tracing shutdown", "err", err)
		}
	}()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("bootstrap database pool: %w", err)
	}
	defer pool.Close()

	if err := migrations.Apply(ctx, pool); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	m := metrics.New()

	places := geo.NewClient(geo.Config{
		BaseURL: cfg.Maps.BaseURL,
		APIKey:  cfg.Maps.APIKey,
		Country: cfg.Maps.Country,
	}).WithRecorder(m)
	messenger := whatsapp.NewClient(whatsapp.Config{
		BaseURL:     cfg.WhatsApp.BaseURL,
		AccountSID:  cfg.WhatsApp.AccountSID,
		AuthToken:   cfg.WhatsApp.AuthToken,
		From:        cfg.WhatsApp.From,
		Concurrency: cfg.WhatsApp.Concurrency,
	}).WithRecorder(m)

	auditRepo := audit.NewRepository(pool)
	coordinators := coordinator.NewService(pool, coordinator.NewRepository(pool), auditRepo).
		WithLogger(logger)
	builder := heatmap.NewBuilder(nil, cfg.GeocodeConcurrency).WithLogger(logger)
	if places.Enabled() {
		coordinators.WithLocator(geo.NewResolver(places))
		builder = heatmap.NewBuilder(places, cfg.GeocodeConcurrency).WithLogger(logger)
	} else {
		logger.Info("places api key not set; coordinates will not be resolved")
	}
	if !messenger.Enabled() {
		logger.Info("twilio credentials not set; whatsapp endpoints will return 503")
	}

	m.Registry().MustRegister(metrics.NewStatsCollector(coordinators, logger))

	server := &Server{
		coordinatorService: coordinators,
		eventService:       event.NewService(pool, event.NewRepository(pool), auditRepo),
		authService: auth.NewService(pool, auth.NewRepository(pool), auditRepo, cfg.JWTSecret).
			WithTokenTTL(cfg.JWTTTL).
			WithMaxFailedLogins(cfg.MaxFailedLogins),
		auditService: audit.NewService(auditRepo),
		places:       places,
		messenger:    messenger,
		heatmap:      builder,
		metrics:      m,
		logger:       logger,
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           otelhttp.NewHandler(server.routes(), serviceName),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
