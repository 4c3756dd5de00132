/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package leadership provides Redis-backed leader election so that only one
// instance runs the singleton background workers when the ad server is
// deployed with replicas.
package leadership

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_ads/internal/telemetry"
)

const (
	defaultElectionKey = "grimnir_ads:leader:sweeper"

	// Leader must renew before the lease expires.
	defaultLeaseDuration = 15 * time.Second
	defaultRetryInterval = 5 * time.Second
)

// Config configures leader election.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// ElectionKey is the Redis key holding the current leader.
	ElectionKey string

	// LeaseDuration is how long a leadership claim stays valid without renewal.
	LeaseDuration time.Duration

	// RetryInterval is how often instances attempt to claim or renew.
	RetryInterval time.Duration

	// InstanceID uniquely identifies this process. Generated when empty.
	InstanceID string
}

// Election claims and renews a leadership lease in Redis.
type Election struct {
	client     *redis.Client
	logger     zerolog.Logger
	config     Config
	instanceID string

	mu       sync.RWMutex
	isLeader bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewElection creates an election manager and verifies the Redis connection.
func NewElection(config Config, logger zerolog.Logger) (*Election, error) {
	if config.ElectionKey == "" {
		config.ElectionKey = defaultElectionKey
	}
	if config.LeaseDuration == 0 {
		config.LeaseDuration = defaultLeaseDuration
	}
	if config.RetryInterval == 0 {
		config.RetryInterval = defaultRetryInterval
	}
	if config.InstanceID == "" {
		config.InstanceID = uuid.NewString()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.RedisAddr,
		Password: config.RedisPassword,
		DB:       config.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis for leader election: %w", err)
	}

	return &Election{
		client:     client,
		logger:     logger.With().Str("component", "leader_election").Logger(),
		config:     config,
		instanceID: config.InstanceID,
		done:       make(chan struct{}),
	}, nil
}

// Start begins campaigning for leadership in the background.
func (e *Election) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.logger.Info().
		Str("instance_id", e.instanceID).
		Dur("lease", e.config.LeaseDuration).
		Msg("leader election started")

	go e.campaignLoop(ctx)
}

// Stop releases leadership if held and closes the Redis connection.
func (e *Election) Stop() error {
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}

	if e.IsLeader() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.releaseLock(ctx); err != nil {
			e.logger.Error().Err(err).Msg("failed to release leadership lock")
		}
	}

	return e.client.Close()
}

// IsLeader reports whether this instance currently holds the lease.
func (e *Election) IsLeader() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.isLeader
}

// Leader returns the instance ID of the current leader, or empty when the
// lease is vacant.
func (e *Election) Leader(ctx context.Context) (string, error) {
	leaderID, err := e.client.Get(ctx, e.config.ElectionKey).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get leader: %w", err)
	}
	return leaderID, nil
}

func (e *Election) campaignLoop(ctx context.Context) {
	defer close(e.done)

	ticker := time.NewTicker(e.config.RetryInterval)
	defer ticker.Stop()

	e.attempt(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.attempt(ctx)
		}
	}
}

func (e *Election) attempt(ctx context.Context) {
	held, err := e.claimOrRenew(ctx)
	if err != nil {
		e.logger.Error().Err(err).Msg("leadership attempt failed")
		e.setLeader(false)
		return
	}
	e.setLeader(held)
}

// claimOrRenew claims the lease when vacant or renews it when already held by
// this instance.
func (e *Election) claimOrRenew(ctx context.Context) (bool, error) {
	acquired, err := e.client.SetNX(ctx, e.config.ElectionKey, e.instanceID, e.config.LeaseDuration).Result()
	if err != nil {
		return false, fmt.Errorf("set lock: %w", err)
	}
	if acquired {
		return true, nil
	}

	current, err := e.client.Get(ctx, e.config.ElectionKey).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get current leader: %w", err)
	}

	if current == e.instanceID {
		if err := e.client.Expire(ctx, e.config.ElectionKey, e.config.LeaseDuration).Err(); err != nil {
			return false, fmt.Errorf("renew lock: %w", err)
		}
		return true, nil
	}
	return false, nil
}

// releaseLock deletes the lease only if this instance still owns it.
func (e *Election) releaseLock(ctx context.Context) error {
	script := `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`
	if err := e.client.Eval(ctx, script, []string{e.config.ElectionKey}, e.instanceID).Err(); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	e.logger.Info().Msg("released leadership lock")
	return nil
}

func (e *Election) setLeader(isLeader bool) {
	e.mu.Lock()
	changed := e.isLeader != isLeader
	e.isLeader = isLeader
	e.mu.Unlock()

	if !changed {
		return
	}

	if isLeader {
		e.logger.Info().Str("instance_id", e.instanceID).Msg("acquired leadership")
		telemetry.LeaderElectionStatus.WithLabelValues(e.instanceID).Set(1)
		telemetry.LeaderElectionChanges.WithLabelValues(e.instanceID, "acquired").Inc()
	} else {
		e.logger.Warn().Str("instance_id", e.instanceID).Msg("lost leadership")
		telemetry.LeaderElectionStatus.WithLabelValues(e.instanceID).Set(0)
		telemetry.LeaderElectionChanges.WithLabelValues(e.instanceID, "lost").Inc()
	}
}
