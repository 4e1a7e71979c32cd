// Package cache keeps derived medication stock in Redis. The cache is an
// optimisation only: every miss or error falls through to the ledger, and
// a nil *StockCache behaves as an always-empty cache.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/medflow/medtrack/pkg/clinicdate"
	"github.com/medflow/medtrack/pkg/config"
	"github.com/medflow/medtrack/pkg/logger"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "medtrack:stock:"

// StockCache maps medication id to its derived stock for one clinic day.
// Values are stored as "<day>:<total>" so a lot expiring at midnight makes
// yesterday's entry a miss without any mutation.
type StockCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *logger.Logger
}

// NewRedis returns a connected client, or nil when cfg.Addr is empty.
func NewRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// NewStockCache wraps client. A nil client yields a nil cache.
func NewStockCache(client *redis.Client, ttl time.Duration, log *logger.Logger) *StockCache {
	if client == nil {
		return nil
	}
	return &StockCache{client: client, ttl: ttl, logger: log.WithComponent("stock_cache")}
}

func key(medicationID string) string { return keyPrefix + medicationID }

// Get returns the cached total for medicationID computed on today.
func (c *StockCache) Get(ctx context.Context, medicationID string, today clinicdate.Date) (int, bool) {
	if c == nil {
		return 0, false
	}
	raw, err := c.client.Get(ctx, key(medicationID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn().Err(err).Str("medication_id", medicationID).Msg("stock cache read failed")
		}
		return 0, false
	}
	day, value, ok := strings.Cut(raw, ":")
	if !ok || day != today.String() {
		return 0, false
	}
	total, err := strconv.Atoi(value)
	if err != nil {
		return 0, false
	}
	return total, true
}

// Set stores total for medicationID as of today.
func (c *StockCache) Set(ctx context.Context, medicationID string, today clinicdate.Date, total int) {
	if c == nil {
		return
	}
	value := fmt.Sprintf("%s:%d", today, total)
	if err := c.client.Set(ctx, key(medicationID), value, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Str("medication_id", medicationID).Msg("stock cache write failed")
	}
}

// Invalidate drops the entries for the given medications.
func (c *StockCache) Invalidate(ctx context.Context, medicationIDs ...string) {
	if c == nil || len(medicationIDs) == 0 {
		return
	}
	keys := make([]string, len(medicationIDs))
	for i, id := range medicationIDs {
		keys[i] = key(id)
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn().Err(err).Strs("medication_ids", medicationIDs).Msg("stock cache invalidate failed")
	}
}

// Flush removes every stock entry.
func (c *StockCache) Flush(ctx context.Context) error {
	if c == nil {
		return nil
	}
	iter := c.client.Scan(ctx, 0, keyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("redis delete %s: %w", iter.Val(), err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan %s*: %w", keyPrefix, err)
	}
	return nil
}

// Close releases the client.
func (c *StockCache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}
