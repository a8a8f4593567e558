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

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"fieldops/internal/compliance/handler"
	"fieldops/internal/platform/config"
	"fieldops/internal/platform/httpserver"
	"fieldops/internal/platform/logger"
	"fieldops/internal/platform/metrics"
	"fieldops/internal/platform/middleware"
	"fieldops/internal/realtime"
	"fieldops/pkg/platform/middleware/requesttime"
)

// main wires dependencies, mounts the HTTP surface and runs the background
// workers until SIGINT or SIGTERM.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.Production, cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	app, err := buildApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.Close()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(middleware.Recovery(log))
	r.Use(middleware.Logger(log, metrics.New()))

	r.Get("/healthz", app.health)
	r.Handle("/metrics", promhttp.Handler())

	handler.New(app.service, log, app.requireAuth, app.auditLimit).Register(r)
	realtime.NewHandler(app.hub, app.service, log, app.requireAuth, cfg.Server.WSAllowedOrigins).Register(r)

	srv := httpserver.New(cfg.Server, r)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting fieldops", "addr", cfg.Server.Addr, "env", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		app.hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})
	for _, w := range app.workers {
		g.Go(func() error {
			log.Info("starting worker", "worker", w.name)
			if err := w.run(gctx); err != nil {
				return fmt.Errorf("%s: %w", w.name, err)
			}
			return nil
		})
	}

	return g.Wait()
}
