// Package router validates incoming HTTP requests and dispatches them to the
// gallery and resolver handlers.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/watchstore/gallerycache/internal/core/observability"
	"github.com/watchstore/gallerycache/internal/gallery"
	"github.com/watchstore/gallerycache/internal/invalidation"
	"github.com/watchstore/gallerycache/internal/resolver"
)

// GridRequest is the parsed scroll state a grid render needs.
type GridRequest struct {
	ScrollOffset    float64
	ContainerWidth  float64
	ContainerHeight float64
}

// Invalidator is the slice of the tiered store invalidation needs.
type Invalidator interface {
	Del(ctx context.Context, keys ...string)
	Clear(ctx context.Context)
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// ParseGridRequest validates the scroll/geometry query params.
func ParseGridRequest(r *http.Request) (GridRequest, error) {
	var out GridRequest

	get := func(name string, def float64) (float64, error) {
		raw := strings.TrimSpace(r.URL.Query().Get(name))
		if raw == "" {
			return def, nil
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", name, err)
		}
		if f < 0 {
			return 0, fmt.Errorf("invalid %s: must be >= 0", name)
		}
		return f, nil
	}

	var err error
	if out.ScrollOffset, err = get("scroll", 0); err != nil {
		return GridRequest{}, err
	}
	if out.ContainerWidth, err = get("width", 0); err != nil {
		return GridRequest{}, err
	}
	if out.ContainerHeight, err = get("height", 0); err != nil {
		return GridRequest{}, err
	}
	return out, nil
}

// HandleGrid renders the virtualized grid for the given scroll state.
func HandleGrid(logger *slog.Logger, grid *gallery.Grid) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}

		q, err := ParseGridRequest(r)
		if err != nil {
			http.Error(sw, err.Error(), http.StatusBadRequest)
			observability.ObserveHTTP(r.Method, "/grid", http.StatusBadRequest, time.Since(start).Seconds())
			return
		}

		view := grid.Render(r.Context(), q.ScrollOffset, q.ContainerWidth, q.ContainerHeight)
		writeJSON(sw, http.StatusOK, view)
		observability.ObserveHTTP(r.Method, "/grid", sw.code, time.Since(start).Seconds())
	}
}

// HandleResolve resolves a single source URL through the coalescer and
// reports the cache entry. A degraded entry (fallback to the original) is
// still a 200; the reason travels alongside.
func HandleResolve(logger *slog.Logger, res gallery.Resolver) http.HandlerFunc {
	type resp struct {
		Key      string `json:"key"`
		URL      string `json:"url"`
		Kind     string `json:"kind"`
		Degraded bool   `json:"degraded,omitempty"`
		Reason   string `json:"reason,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}

		src := strings.TrimSpace(r.URL.Query().Get("src"))
		if src == "" {
			http.Error(sw, "missing required parameter: src", http.StatusBadRequest)
			observability.ObserveHTTP(r.Method, "/resolve", http.StatusBadRequest, time.Since(start).Seconds())
			return
		}

		entry, err := res.Resolve(r.Context(), src)
		switch {
		case err == nil:
			writeJSON(sw, http.StatusOK, resp{Key: entry.Key, URL: entry.ResolvedURL, Kind: string(entry.Kind)})
		case errors.Is(err, resolver.ErrInvalidSource):
			http.Error(sw, err.Error(), http.StatusBadRequest)
		case entry.ResolvedURL != "":
			writeJSON(sw, http.StatusOK, resp{
				Key: entry.Key, URL: entry.ResolvedURL, Kind: string(entry.Kind),
				Degraded: true, Reason: err.Error(),
			})
		default:
			logger.Error("resolve failed", "src", src, "err", err)
			http.Error(sw, "resolution failed", http.StatusBadGateway)
		}
		observability.ObserveHTTP(r.Method, "/resolve", sw.code, time.Since(start).Seconds())
	}
}

// HandleSetItems replaces the grid catalog.
func HandleSetItems(logger *slog.Logger, grid *gallery.Grid) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}

		var items []gallery.Item
		if err := json.NewDecoder(r.Body).Decode(&items); err != nil {
			http.Error(sw, fmt.Sprintf("invalid items payload: %v", err), http.StatusBadRequest)
			observability.ObserveHTTP(r.Method, "/items", http.StatusBadRequest, time.Since(start).Seconds())
			return
		}
		for i, it := range items {
			if strings.TrimSpace(it.ImageURL) == "" {
				http.Error(sw, fmt.Sprintf("item %d: missing image_url", i), http.StatusBadRequest)
				observability.ObserveHTTP(r.Method, "/items", http.StatusBadRequest, time.Since(start).Seconds())
				return
			}
		}

		grid.SetItems(items)
		logger.Info("catalog replaced", "items", len(items))
		writeJSON(sw, http.StatusOK, map[string]int{"items": len(items)})
		observability.ObserveHTTP(r.Method, "/items", sw.code, time.Since(start).Seconds())
	}
}

// HandleInvalidate applies an invalidation event delivered over HTTP. The
// same event shape also arrives over Kafka when the consumer is enabled.
func HandleInvalidate(logger *slog.Logger, inv Invalidator, keyFn func(string) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}

		var ev invalidation.Event
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			http.Error(sw, fmt.Sprintf("invalid event: %v", err), http.StatusBadRequest)
			observability.ObserveHTTP(r.Method, "/invalidate", http.StatusBadRequest, time.Since(start).Seconds())
			return
		}
		if err := ev.Validate(); err != nil {
			http.Error(sw, err.Error(), http.StatusBadRequest)
			observability.ObserveHTTP(r.Method, "/invalidate", http.StatusBadRequest, time.Since(start).Seconds())
			return
		}

		switch ev.Op {
		case invalidation.OpCatalogCleared:
			inv.Clear(r.Context())
			logger.Info("cache cleared", "source", ev.Source)
		case invalidation.OpImageUpdated, invalidation.OpImageDeleted:
			inv.Del(r.Context(), keyFn(ev.ImageURL))
		}
		writeJSON(sw, http.StatusAccepted, map[string]string{"status": "applied"})
		observability.ObserveHTTP(r.Method, "/invalidate", sw.code, time.Since(start).Seconds())
	}
}
