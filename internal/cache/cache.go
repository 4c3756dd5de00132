/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache provides a Redis-based caching layer for candidate ad lookups.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_ads/internal/models"
)

// Default TTL values for different cache types
const (
	DefaultCandidatesTTL = 1 * time.Minute
	DefaultAudioQueueTTL = 1 * time.Minute
	DefaultAdTTL         = 5 * time.Minute
)

// Key prefixes for Redis cache
const (
	KeyCandidates = "grimnirads:cache:candidates:" // + placement
	KeyAudioQueue = "grimnirads:cache:audio_queue:" // + placement
	KeyAd         = "grimnirads:cache:ad:"          // + ad_id
)

// Config contains cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// TTL overrides
	CandidatesTTL time.Duration
	AudioQueueTTL time.Duration
	AdTTL         time.Duration

	// Fallback behavior
	DisableOnError bool // If true, disable caching on Redis errors
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:      "localhost:6379",
		CandidatesTTL:  DefaultCandidatesTTL,
		AudioQueueTTL:  DefaultAudioQueueTTL,
		AdTTL:          DefaultAdTTL,
		DisableOnError: true,
	}
}

// Cache provides Redis-backed caching with graceful fallback. Every accessor
// is a no-op when Redis is unavailable; callers fall through to the database.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	config Config

	mu       sync.RWMutex
	disabled bool // Circuit breaker state
}

// New creates a new cache instance.
func New(cfg Config, logger zerolog.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("Redis cache unavailable, running without caching")
		return &Cache{
			logger:   logger.With().Str("component", "cache").Logger(),
			config:   cfg,
			disabled: true,
		}, nil
	}

	logger.Info().Str("addr", cfg.RedisAddr).Msg("Redis cache initialized")

	return &Cache{
		client: client,
		logger: logger.With().Str("component", "cache").Logger(),
		config: cfg,
	}, nil
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// IsAvailable returns true if the cache is operational.
func (c *Cache) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil
}

// handleError handles Redis errors with circuit breaker logic.
func (c *Cache) handleError(err error, operation string) {
	if err == nil || err == redis.Nil {
		return
	}

	c.logger.Debug().Err(err).Str("operation", operation).Msg("cache operation failed")

	if c.config.DisableOnError {
		c.mu.Lock()
		c.disabled = true
		c.mu.Unlock()
		c.logger.Warn().Msg("disabling cache due to Redis error")
	}
}

// get retrieves a value from cache and unmarshals it.
func (c *Cache) get(ctx context.Context, key string, dest any) (bool, error) {
	if !c.IsAvailable() {
		return false, nil
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		c.handleError(err, "get")
		return false, err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("failed to unmarshal cached value")
		return false, nil
	}

	return true, nil
}

// set stores a value in cache with TTL.
func (c *Cache) set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !c.IsAvailable() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.handleError(err, "set")
		return err
	}

	return nil
}

// delete removes a key from cache.
func (c *Cache) delete(ctx context.Context, key string) error {
	if !c.IsAvailable() {
		return nil
	}

	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.handleError(err, "delete")
		return err
	}

	return nil
}

// deletePattern deletes all keys matching a pattern using SCAN.
func (c *Cache) deletePattern(ctx context.Context, pattern string) error {
	if !c.IsAvailable() {
		return nil
	}

	var cursor uint64
	for {
		keys, nextCursor, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			c.handleError(err, "scan")
			return err
		}

		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				c.handleError(err, "delete_batch")
				return err
			}
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	return nil
}

// GetCandidates retrieves the cached deliverable ads for a placement.
func (c *Cache) GetCandidates(ctx context.Context, placement models.Placement) ([]models.Advertisement, bool) {
	var ads []models.Advertisement
	found, err := c.get(ctx, KeyCandidates+string(placement), &ads)
	if err != nil || !found {
		return nil, false
	}
	c.logger.Debug().Str("placement", string(placement)).Int("count", len(ads)).Msg("candidates cache hit")
	return ads, true
}

// SetCandidates caches the deliverable ads for a placement.
func (c *Cache) SetCandidates(ctx context.Context, placement models.Placement, ads []models.Advertisement) {
	_ = c.set(ctx, KeyCandidates+string(placement), ads, c.config.CandidatesTTL)
}

// GetAudioQueue retrieves the cached audio ads for an audio placement.
func (c *Cache) GetAudioQueue(ctx context.Context, placement models.Placement) ([]models.AudioAd, bool) {
	var ads []models.AudioAd
	found, err := c.get(ctx, KeyAudioQueue+string(placement), &ads)
	if err != nil || !found {
		return nil, false
	}
	return ads, true
}

// SetAudioQueue caches the audio ads for an audio placement.
func (c *Cache) SetAudioQueue(ctx context.Context, placement models.Placement, ads []models.AudioAd) {
	_ = c.set(ctx, KeyAudioQueue+string(placement), ads, c.config.AudioQueueTTL)
}

// GetAd retrieves a cached advertisement by ID.
func (c *Cache) GetAd(ctx context.Context, id string) (*models.Advertisement, bool) {
	var ad models.Advertisement
	found, err := c.get(ctx, KeyAd+id, &ad)
	if err != nil || !found {
		return nil, false
	}
	return &ad, true
}

// SetAd caches a single advertisement.
func (c *Cache) SetAd(ctx context.Context, ad *models.Advertisement) {
	_ = c.set(ctx, KeyAd+ad.ID, ad, c.config.AdTTL)
}

// InvalidateAd drops the cached copy of one ad and every candidate list,
// since the ad may have moved in or out of eligibility.
func (c *Cache) InvalidateAd(ctx context.Context, id string) {
	_ = c.delete(ctx, KeyAd+id)
	c.InvalidateCandidates(ctx)
}

// InvalidateCandidates drops all placement candidate lists and audio queues.
func (c *Cache) InvalidateCandidates(ctx context.Context) {
	_ = c.deletePattern(ctx, KeyCandidates+"*")
	_ = c.deletePattern(ctx, KeyAudioQueue+"*")
}
