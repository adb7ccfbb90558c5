// Package kafkaconsumer consumes catalog invalidation events and applies
// them to the tiered asset cache.
package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/watchstore/gallerycache/internal/cache/keys"
	"github.com/watchstore/gallerycache/internal/invalidation"
)

// AssetCache is the slice of the tiered store the consumer needs.
type AssetCache interface {
	Del(ctx context.Context, keys ...string)
	Clear(ctx context.Context)
}

type Consumer struct {
	cfg    Config
	logger *slog.Logger
	cache  AssetCache
}

func New(cfg Config, logger *slog.Logger, c AssetCache) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{cfg: cfg, logger: logger, cache: c}
}

// Start consumes invalidation events until ctx is done.
func (c *Consumer) Start(ctx context.Context) error {
	if c.cache == nil {
		return errors.New("kafkaconsumer: missing cache dependency")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	handler := &groupHandler{process: c.ProcessOne}

	c.logger.Info("kafka invalidation consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("kafka invalidation consumer shutting down")
			return nil
		default:
			if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
				c.logger.Error("consumer error", "err", err)
				time.Sleep(2 * time.Second)
			}
		}
	}
}

// ProcessOne applies a single invalidation event message.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		c.logger.Error("invalidation decode failed",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return fmt.Errorf("json decode: %w", err)
	}
	if err := ev.Validate(); err != nil {
		c.logger.Error("invalid invalidation event", "op", ev.Op, "err", err)
		return fmt.Errorf("validate: %w", err)
	}

	switch ev.Op {
	case invalidation.OpCatalogCleared:
		c.cache.Clear(ctx)
		c.logger.Info("cache cleared", "source", ev.Source)
	case invalidation.OpImageUpdated, invalidation.OpImageDeleted:
		key := keys.Key(ev.ImageURL)
		c.cache.Del(ctx, key)
		c.logger.Debug("cache key invalidated", "op", ev.Op, "key", key)
	}
	return nil
}
