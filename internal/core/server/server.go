// Package server wires the HTTP surface and runs it until shutdown.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/watchstore/gallerycache/internal/cache/keys"
	"github.com/watchstore/gallerycache/internal/core/config"
	"github.com/watchstore/gallerycache/internal/core/health"
	middleware "github.com/watchstore/gallerycache/internal/core/middleware"
	"github.com/watchstore/gallerycache/internal/core/router"
	"github.com/watchstore/gallerycache/internal/gallery"
)

// sets up http and starts serving
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, grid *gallery.Grid, res gallery.Resolver, inv router.Invalidator) error {
	r := chi.NewRouter()
	r.Use(middleware.Recover())
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/grid", router.HandleGrid(logger, grid))
	r.Get("/resolve", router.HandleResolve(logger, res))
	r.Put("/items", router.HandleSetItems(logger, grid))
	r.Post("/invalidate", router.HandleInvalidate(logger, inv, keys.Key))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
