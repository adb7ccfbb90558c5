package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/watchstore/gallerycache/internal/cache"
	"github.com/watchstore/gallerycache/internal/cache/memtier"
	"github.com/watchstore/gallerycache/internal/cache/redisstore"
	"github.com/watchstore/gallerycache/internal/cache/redistier"
	"github.com/watchstore/gallerycache/internal/cache/sqlitetier"
	"github.com/watchstore/gallerycache/internal/cache/tiered"
	"github.com/watchstore/gallerycache/internal/core/config"
	"github.com/watchstore/gallerycache/internal/core/httpclient"
	"github.com/watchstore/gallerycache/internal/core/observability"
	"github.com/watchstore/gallerycache/internal/core/server"
	"github.com/watchstore/gallerycache/internal/gallery"
	"github.com/watchstore/gallerycache/internal/invalidation/kafkaconsumer"
	"github.com/watchstore/gallerycache/internal/logger"
	"github.com/watchstore/gallerycache/internal/resolver"
	"github.com/watchstore/gallerycache/internal/viewport"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func run() int {
	cfg := config.FromEnv()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   strings.ToLower(os.Getenv("LOG_CONSOLE")) == "true",
		SampleN:   envInt("LOG_SAMPLE_N", 0),
		Component: "gallery-server",
	}, os.Stdout)

	appLog := logger.NewSlog(&zl)

	observability.ExposeBuildInfo(Version)
	appLog.Info("starting gallery-server",
		"addr", cfg.Addr,
		"version", Version,
		"resize", cfg.ResizeEndpoint)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mem, err := memtier.New(cfg.MemCapacity)
	if err != nil {
		appLog.Error("memory tier init failed", "err", err)
		return 1
	}
	tiers := []cache.Tier{mem}

	// The durable tiers are optional at startup; a missing backend costs
	// persistence, not availability.
	rcli, err := redisstore.New(ctx, cfg.RedisAddr)
	if err != nil {
		appLog.Warn("redis unavailable, durable-sync tier disabled", "addr", cfg.RedisAddr, "err", err)
	} else {
		defer func() { _ = rcli.Close() }()
		tiers = append(tiers, redistier.New(rcli, cfg.SyncCapacity))
	}

	sq, err := sqlitetier.Open(cfg.SQLitePath, cfg.AsyncCapacity, cfg.CacheTTL, cfg.FallbackTTL)
	if err != nil {
		appLog.Warn("sqlite unavailable, durable-async tier disabled", "path", cfg.SQLitePath, "err", err)
	} else {
		defer func() { _ = sq.Close() }()
		tiers = append(tiers, sq)
	}

	store := tiered.New(appLog, tiers...)
	go store.RunJanitor(ctx, cfg.EvictInterval)

	httpClient := httpclient.NewOutbound()
	remote, err := resolver.New(appLog, httpClient, cfg.ResizeEndpoint, cfg.PollInterval, cfg.PollBudget)
	if err != nil {
		appLog.Error("resolver init failed", "err", err)
		return 1
	}
	coalescer := resolver.NewCoalescer(appLog, store, remote, cfg.ResolveTimeout, cfg.WaitBound)

	grid := gallery.New(appLog, coalescer, viewport.Config{
		RowHeight:  cfg.RowHeight,
		Gap:        cfg.Gap,
		Columns:    cfg.Columns,
		BufferRows: cfg.BufferRows,
	}, cfg.GateThreshold, cfg.PlaceholderURL)

	if path := os.Getenv("ITEMS_FILE"); path != "" {
		items, err := loadItems(path)
		if err != nil {
			appLog.Error("load items file failed", "path", path, "err", err)
			return 1
		}
		grid.SetItems(items)
		appLog.Info("catalog loaded", "path", path, "items", len(items))
	}

	if cfg.InvalidationEnabled {
		consumer := kafkaconsumer.New(kafkaconsumer.FromEnv(), appLog, store)
		go func() {
			if err := consumer.Start(ctx); err != nil {
				appLog.Error("invalidation consumer stopped", "err", err)
			}
		}()
	}

	if err := server.Run(ctx, cfg, appLog, grid, coalescer, store); err != nil {
		appLog.Error("server error", "err", err)
		return 1
	}
	return 0
}

func loadItems(path string) ([]gallery.Item, error) {
	raw, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path
	if err != nil {
		return nil, err
	}
	var items []gallery.Item
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	return items, nil
}
