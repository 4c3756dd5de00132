/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package session tracks per-session ad exposure for frequency capping.
// Counters live in Redis so sibling instances share caps; when Redis is
// unavailable the tracker degrades to per-instance in-memory state.
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_ads/internal/models"
	"github.com/friendsincode/grimnir_ads/internal/placement"
)

const keyPrefix = "grimnirads:session:"

// Status is a session's exposure state for one placement.
type Status struct {
	Count    int
	LastAdAt time.Time
}

// Config contains tracker configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// TTL bounds how long an idle session's counters survive.
	TTL time.Duration
}

// Tracker records ad exposures per session and placement and answers
// frequency-cap questions against the placement policies.
type Tracker struct {
	client   *redis.Client
	logger   zerolog.Logger
	policies placement.Policies
	ttl      time.Duration

	mu  sync.Mutex
	mem map[string]*memSession
}

type memSession struct {
	expires     time.Time
	counts      map[models.Placement]int
	lastAd      map[models.Placement]time.Time
	impressions map[string]string
}

// New creates a tracker backed by Redis, degrading to in-memory state when
// the connection cannot be established.
func New(cfg Config, policies placement.Policies, logger zerolog.Logger) *Tracker {
	t := NewMemory(policies, cfg.TTL, logger)

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		t.logger.Warn().Err(err).Msg("Redis unavailable, session caps are per-instance only")
		return t
	}

	t.client = client
	t.logger.Info().Str("addr", cfg.RedisAddr).Msg("session tracker using Redis")
	return t
}

// NewMemory creates a purely in-memory tracker. Used directly in tests and as
// the fallback when Redis is down.
func NewMemory(policies placement.Policies, ttl time.Duration, logger zerolog.Logger) *Tracker {
	if ttl <= 0 {
		ttl = 4 * time.Hour
	}
	return &Tracker{
		logger:   logger.With().Str("component", "session").Logger(),
		policies: policies,
		ttl:      ttl,
		mem:      make(map[string]*memSession),
	}
}

// Close releases the Redis connection.
func (t *Tracker) Close() error {
	if t.client != nil {
		return t.client.Close()
	}
	return nil
}

// RecordAdShown bumps the session's exposure counter for the placement and
// stamps the last-ad time.
func (t *Tracker) RecordAdShown(ctx context.Context, sessionID string, p models.Placement, at time.Time) error {
	if sessionID == "" {
		return nil
	}

	if t.client != nil {
		pipe := t.client.TxPipeline()
		countKey := countKey(sessionID, p)
		lastKey := lastKey(sessionID, p)
		pipe.Incr(ctx, countKey)
		pipe.Expire(ctx, countKey, t.ttl)
		pipe.Set(ctx, lastKey, strconv.FormatInt(at.UnixMilli(), 10), t.ttl)
		if _, err := pipe.Exec(ctx); err == nil {
			return nil
		} else {
			t.logger.Warn().Err(err).Msg("redis record failed, falling back to memory")
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.memSessionLocked(sessionID, at)
	s.counts[p]++
	s.lastAd[p] = at
	return nil
}

// Status returns the session's exposure state for one placement. A session
// the tracker has never seen reports a zero Status.
func (t *Tracker) Status(ctx context.Context, sessionID string, p models.Placement) (Status, error) {
	if sessionID == "" {
		return Status{}, nil
	}

	if t.client != nil {
		vals, err := t.client.MGet(ctx, countKey(sessionID, p), lastKey(sessionID, p)).Result()
		if err == nil {
			var st Status
			if raw, ok := vals[0].(string); ok {
				st.Count, _ = strconv.Atoi(raw)
			}
			if raw, ok := vals[1].(string); ok {
				if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
					st.LastAdAt = time.UnixMilli(ms)
				}
			}
			return st, nil
		}
		t.logger.Warn().Err(err).Msg("redis status failed, falling back to memory")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.mem[sessionID]
	if !ok || time.Now().After(s.expires) {
		return Status{}, nil
	}
	return Status{Count: s.counts[p], LastAdAt: s.lastAd[p]}, nil
}

// Capped reports whether the session is frequency-capped for the placement at
// the given instant. When capped by the minimum interval, the returned time
// is when the placement becomes available again; a session-max cap returns a
// zero time since it does not expire within the session.
func (t *Tracker) Capped(ctx context.Context, sessionID string, p models.Placement, now time.Time) (bool, time.Time, error) {
	st, err := t.Status(ctx, sessionID, p)
	if err != nil {
		return false, time.Time{}, fmt.Errorf("session status: %w", err)
	}

	policy := t.policies.For(p)
	if policy.SessionMax > 0 && st.Count >= policy.SessionMax {
		return true, time.Time{}, nil
	}

	next := policy.NextAvailable(st.LastAdAt)
	if !next.IsZero() && now.Before(next) {
		return true, next, nil
	}

	return false, time.Time{}, nil
}

// RememberImpression associates an impression id with an ad for the session,
// so later clicks can be correlated when the client cannot echo the id.
func (t *Tracker) RememberImpression(ctx context.Context, sessionID, adID, impressionID string) error {
	if sessionID == "" || adID == "" {
		return nil
	}
	now := time.Now()

	if t.client != nil {
		key := impressionKey(sessionID)
		pipe := t.client.TxPipeline()
		pipe.HSet(ctx, key, adID, impressionID)
		pipe.Expire(ctx, key, t.ttl)
		if _, err := pipe.Exec(ctx); err == nil {
			return nil
		} else {
			t.logger.Warn().Err(err).Msg("redis impression record failed, falling back to memory")
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.memSessionLocked(sessionID, now)
	s.impressions[adID] = impressionID
	return nil
}

// ImpressionFor returns the impression id last remembered for the ad within
// this session.
func (t *Tracker) ImpressionFor(ctx context.Context, sessionID, adID string) (string, bool, error) {
	if sessionID == "" || adID == "" {
		return "", false, nil
	}

	if t.client != nil {
		id, err := t.client.HGet(ctx, impressionKey(sessionID), adID).Result()
		if err == nil {
			return id, true, nil
		}
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		t.logger.Warn().Err(err).Msg("redis impression lookup failed, falling back to memory")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.mem[sessionID]
	if !ok || time.Now().After(s.expires) {
		return "", false, nil
	}
	id, ok := s.impressions[adID]
	return id, ok, nil
}

// Clear drops all counters for a session.
func (t *Tracker) Clear(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}

	if t.client != nil {
		var cursor uint64
		for {
			keys, next, err := t.client.Scan(ctx, cursor, keyPrefix+sessionID+":*", 100).Result()
			if err != nil {
				t.logger.Warn().Err(err).Msg("redis clear failed")
				break
			}
			if len(keys) > 0 {
				if err := t.client.Del(ctx, keys...).Err(); err != nil {
					return err
				}
			}
			cursor = next
			if cursor == 0 {
				break
			}
		}
	}

	t.mu.Lock()
	delete(t.mem, sessionID)
	t.mu.Unlock()
	return nil
}

// memSessionLocked fetches or creates the in-memory session, expiring stale
// entries opportunistically. Caller holds t.mu.
func (t *Tracker) memSessionLocked(sessionID string, now time.Time) *memSession {
	if s, ok := t.mem[sessionID]; ok && now.Before(s.expires) {
		s.expires = now.Add(t.ttl)
		return s
	}

	// Sweep a handful of expired sessions while we are here.
	swept := 0
	for id, s := range t.mem {
		if now.After(s.expires) {
			delete(t.mem, id)
			swept++
			if swept >= 32 {
				break
			}
		}
	}

	s := &memSession{
		expires:     now.Add(t.ttl),
		counts:      make(map[models.Placement]int),
		lastAd:      make(map[models.Placement]time.Time),
		impressions: make(map[string]string),
	}
	t.mem[sessionID] = s
	return s
}

func countKey(sessionID string, p models.Placement) string {
	return keyPrefix + sessionID + ":count:" + string(p)
}

func lastKey(sessionID string, p models.Placement) string {
	return keyPrefix + sessionID + ":last:" + string(p)
}

func impressionKey(sessionID string) string {
	return keyPrefix + sessionID + ":imp"
}
