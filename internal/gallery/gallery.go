// Package gallery binds the viewport virtualizer, per-item visibility gates
// and the resolution coalescer into one renderable grid.
package gallery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/watchstore/gallerycache/internal/cache"
	"github.com/watchstore/gallerycache/internal/viewport"
)

// Item is one catalog entry backed by an image.
type Item struct {
	ID       string `json:"id"`
	Title    string `json:"title,omitempty"`
	ImageURL string `json:"image_url"`
}

// Resolver is the coalescer surface the grid depends on.
type Resolver interface {
	Resolve(ctx context.Context, sourceURL string) (cache.Entry, error)
}

// ViewItem is what rendering code consumes for one cell.
type ViewItem struct {
	Index           int     `json:"index"`
	ID              string  `json:"id"`
	Title           string  `json:"title,omitempty"`
	Top             float64 `json:"top"`
	Left            float64 `json:"left"`
	StrictlyVisible bool    `json:"strictly_visible"`
	URL             string  `json:"url"`
	Kind            string  `json:"kind,omitempty"`
	// Pending means the gate has fired but no resolution has landed yet;
	// URL holds the placeholder.
	Pending bool `json:"pending,omitempty"`
	// Degraded means resolution fell back to the raw source URL.
	Degraded bool `json:"degraded,omitempty"`
}

type ViewRow struct {
	Index int        `json:"index"`
	Top   float64    `json:"top"`
	Items []ViewItem `json:"items"`
}

type View struct {
	Rows              []ViewRow `json:"rows"`
	TotalScrollHeight float64   `json:"total_scroll_height"`
}

type resolved struct {
	entry    cache.Entry
	degraded bool
}

// Grid owns the item list and the per-item gate state. One explicitly
// constructed instance is injected wherever rendering happens; the tiered
// store behind the resolver is the only cross-instance state.
type Grid struct {
	logger         *slog.Logger
	res            Resolver
	cfg            viewport.Config
	gateThreshold  float64
	placeholderURL string
	resolveWait    time.Duration

	mu      sync.Mutex
	items   []Item
	gates   map[int]*viewport.Gate
	results map[int]resolved
	pending map[int]bool
}

func New(logger *slog.Logger, res Resolver, cfg viewport.Config, gateThreshold float64, placeholderURL string) *Grid {
	if logger == nil {
		logger = slog.Default()
	}
	return &Grid{
		logger:         logger,
		res:            res,
		cfg:            cfg,
		gateThreshold:  gateThreshold,
		placeholderURL: placeholderURL,
		resolveWait:    10 * time.Second,
		gates:          map[int]*viewport.Gate{},
		results:        map[int]resolved{},
		pending:        map[int]bool{},
	}
}

// SetItems replaces the catalog. All gate and resolution state is dropped:
// a refiltered list gets fresh gates, and the tiered store makes their
// first resolutions cheap.
func (g *Grid) SetItems(items []Item) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.items = items
	g.gates = map[int]*viewport.Gate{}
	g.results = map[int]resolved{}
	g.pending = map[int]bool{}
}

func (g *Grid) ItemCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.items)
}

// Render recomputes the materialized set for the given scroll state,
// reconciles gates with it, observes proximity, and reports the current
// view. Gate triggers resolve asynchronously; until a result lands the
// item renders the placeholder.
func (g *Grid) Render(ctx context.Context, scrollOffset, containerWidth, containerHeight float64) View {
	g.mu.Lock()
	defer g.mu.Unlock()

	res := viewport.ComputeVisible(len(g.items), scrollOffset, containerWidth, containerHeight, g.cfg)

	materialized := map[int]bool{}
	for _, row := range res.Rows {
		for _, it := range row.Items {
			materialized[it.Index] = true
		}
	}
	// Gates live exactly as long as their item stays materialized.
	for idx := range g.gates {
		if !materialized[idx] {
			delete(g.gates, idx)
		}
	}

	view := View{TotalScrollHeight: res.TotalScrollHeight, Rows: make([]ViewRow, 0, len(res.Rows))}
	for _, row := range res.Rows {
		vr := ViewRow{Index: row.Index, Top: row.Top, Items: make([]ViewItem, 0, len(row.Items))}
		for _, it := range row.Items {
			item := g.items[it.Index]

			gate, ok := g.gates[it.Index]
			if !ok {
				idx, src := it.Index, item.ImageURL
				gate = viewport.NewGate(g.gateThreshold, func() { g.startResolve(ctx, idx, src) })
				g.gates[it.Index] = gate
			}
			gate.Observe(it.Top, g.cfg.RowHeight, scrollOffset, containerHeight)

			vi := ViewItem{
				Index:           it.Index,
				ID:              item.ID,
				Title:           item.Title,
				Top:             it.Top,
				Left:            it.Left,
				StrictlyVisible: it.StrictlyVisible,
				URL:             g.placeholderURL,
			}
			if r, ok := g.results[it.Index]; ok {
				vi.URL = r.entry.ResolvedURL
				vi.Kind = string(r.entry.Kind)
				vi.Degraded = r.degraded
			} else if g.pending[it.Index] {
				vi.Pending = true
			}
			vr.Items = append(vr.Items, vi)
		}
		view.Rows = append(view.Rows, vr)
	}
	return view
}

// startResolve is called with g.mu held (from the gate trigger inside
// Render); the actual resolution runs detached.
func (g *Grid) startResolve(ctx context.Context, idx int, sourceURL string) {
	if g.pending[idx] {
		return
	}
	if _, ok := g.results[idx]; ok {
		return
	}
	g.pending[idx] = true

	go func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.resolveWait)
		defer cancel()

		entry, err := g.res.Resolve(rctx, sourceURL)
		g.mu.Lock()
		defer g.mu.Unlock()
		delete(g.pending, idx)
		if entry.ResolvedURL == "" {
			// Not even a fallback: keep the placeholder.
			g.logger.Warn("image resolution failed outright", "index", idx, "err", err)
			return
		}
		if err != nil {
			g.logger.Debug("image resolved degraded", "index", idx, "err", err)
		}
		g.results[idx] = resolved{entry: entry, degraded: err != nil}
	}()
}
