/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package sequencer runs per-session audio ad playback: four FIFO queues
// (pre-roll, mid-roll, post-roll, station break) and a one-ad-at-a-time
// playback state machine. Playback never stalls on an ad problem; errors
// drop the ad and move on.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_ads/internal/events"
	"github.com/friendsincode/grimnir_ads/internal/models"
	"github.com/friendsincode/grimnir_ads/internal/placement"
	"github.com/friendsincode/grimnir_ads/internal/resolver"
)

var (
	ErrNoSession    = errors.New("no playback session")
	ErrAdInProgress = errors.New("an ad is already playing")
	ErrNoCurrentAd  = errors.New("no ad is playing")
	ErrNotSkippable = errors.New("ad is not skippable yet")
)

// Publisher is the event sink for playback events.
type Publisher interface {
	Publish(events.EventType, events.Payload)
}

// TimedAd is a mid-roll spot pinned to a playback offset.
type TimedAd struct {
	Ad models.AudioAd `json:"ad"`
	// PlayAtSeconds is the playback offset at which this spot becomes due.
	PlayAtSeconds int `json:"play_at_seconds"`
}

// QueueSnapshot is the externally visible queue state for one session.
type QueueSnapshot struct {
	PreRoll      []models.AudioAd `json:"pre_roll"`
	MidRoll      []TimedAd        `json:"mid_roll"`
	PostRoll     []models.AudioAd `json:"post_roll"`
	StationBreak []models.AudioAd `json:"station_break"`
	Current      *models.AudioAd  `json:"current,omitempty"`
	// PlayedAds counts spots finished by completion or skip; errored spots
	// do not count.
	PlayedAds int `json:"played_ads"`
}

// sessionState holds one listening session's queues and playback position.
type sessionState struct {
	preRoll      []models.AudioAd
	midRoll      []TimedAd
	postRoll     []models.AudioAd
	stationBreak []models.AudioAd

	current          *models.AudioAd
	currentPlacement models.Placement
	playedAds        int
	lastMidRollAt    int // playback seconds; -1 until the first mid-roll
	lastSeen         time.Time
}

// Manager owns the playback sessions.
type Manager struct {
	resolver *resolver.Resolver
	policies placement.Policies
	bus      Publisher
	logger   zerolog.Logger
	ttl      time.Duration

	mu       sync.Mutex
	sessions map[string]*sessionState
}

// NewManager creates a sequencer manager.
func NewManager(res *resolver.Resolver, policies placement.Policies, bus Publisher, logger zerolog.Logger) *Manager {
	return &Manager{
		resolver: res,
		policies: policies,
		bus:      bus,
		logger:   logger.With().Str("component", "sequencer").Logger(),
		ttl:      4 * time.Hour,
		sessions: make(map[string]*sessionState),
	}
}

// LoadQueue resolves ads for every audio queue of a session and schedules
// mid-rolls at ascending offsets spaced by the placement's minimum interval.
// Existing queues for the session are replaced.
func (m *Manager) LoadQueue(ctx context.Context, sessionID string, adCtx models.AdContext, premiumToken string) (QueueSnapshot, error) {
	if sessionID == "" {
		return QueueSnapshot{}, fmt.Errorf("session id is required")
	}

	load := func(p models.Placement) ([]models.AudioAd, error) {
		ads, decision, err := m.resolver.ResolveQueue(ctx, resolver.Request{
			Placement:    p,
			SessionID:    sessionID,
			Context:      adCtx,
			PremiumToken: premiumToken,
		})
		if err != nil {
			return nil, err
		}
		if decision.Reason != "" {
			m.logger.Debug().
				Str("session_id", sessionID).
				Str("placement", string(p)).
				Str("reason", string(decision.Reason)).
				Msg("queue placement empty")
		}
		for _, ad := range ads {
			if err := m.resolver.Commit(ctx, sessionID, p, ad.ID); err != nil {
				return nil, err
			}
		}
		return ads, nil
	}

	preRoll, err := load(models.PlacementPreRoll)
	if err != nil {
		return QueueSnapshot{}, err
	}
	midRollAds, err := load(models.PlacementMidRoll)
	if err != nil {
		return QueueSnapshot{}, err
	}
	postRoll, err := load(models.PlacementPostRoll)
	if err != nil {
		return QueueSnapshot{}, err
	}
	stationBreak, err := load(models.PlacementStationBreak)
	if err != nil {
		return QueueSnapshot{}, err
	}

	spacing := int(m.policies.For(models.PlacementMidRoll).MinMidRollInterval / time.Second)
	if spacing <= 0 {
		spacing = 300
	}
	midRoll := make([]TimedAd, 0, len(midRollAds))
	for i, ad := range midRollAds {
		midRoll = append(midRoll, TimedAd{Ad: ad, PlayAtSeconds: spacing * (i + 1)})
	}

	m.mu.Lock()
	m.sweepLocked(time.Now())
	m.sessions[sessionID] = &sessionState{
		preRoll:       preRoll,
		midRoll:       midRoll,
		postRoll:      postRoll,
		stationBreak:  stationBreak,
		lastMidRollAt: -1,
		lastSeen:      time.Now(),
	}
	snap := m.snapshotLocked(sessionID)
	m.mu.Unlock()

	m.bus.Publish(events.EventQueueLoaded, events.Payload{
		"session_id": sessionID,
		"pre_roll":   len(preRoll),
		"mid_roll":   len(midRoll),
		"post_roll":  len(postRoll),
	})
	return snap, nil
}

// Snapshot returns the current queue state for a session.
func (m *Manager) Snapshot(sessionID string) (QueueSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return QueueSnapshot{}, ErrNoSession
	}
	return m.snapshotLocked(sessionID), nil
}

// PlayNextPreRoll pops the next pre-roll spot. ok is false when the queue is
// empty, which callers treat as "start content now".
func (m *Manager) PlayNextPreRoll(sessionID string) (*models.AudioAd, bool, error) {
	return m.playNext(sessionID, models.PlacementPreRoll)
}

// PlayNextPostRoll pops the next post-roll spot.
func (m *Manager) PlayNextPostRoll(sessionID string) (*models.AudioAd, bool, error) {
	return m.playNext(sessionID, models.PlacementPostRoll)
}

// PlayStationBreak pops the next station-break spot.
func (m *Manager) PlayStationBreak(sessionID string) (*models.AudioAd, bool, error) {
	return m.playNext(sessionID, models.PlacementStationBreak)
}

func (m *Manager) playNext(sessionID string, p models.Placement) (*models.AudioAd, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, false, ErrNoSession
	}
	if s.current != nil {
		return nil, false, ErrAdInProgress
	}

	var queue *[]models.AudioAd
	switch p {
	case models.PlacementPreRoll:
		queue = &s.preRoll
	case models.PlacementPostRoll:
		queue = &s.postRoll
	case models.PlacementStationBreak:
		queue = &s.stationBreak
	default:
		return nil, false, fmt.Errorf("placement %q has no FIFO queue", p)
	}

	if len(*queue) == 0 {
		return nil, false, nil
	}

	ad := (*queue)[0]
	*queue = (*queue)[1:]
	s.current = &ad
	s.currentPlacement = p
	s.lastSeen = time.Now()

	m.publishAdEvent(events.EventAdStart, sessionID, &ad, p)
	return &ad, true, nil
}

// CheckMidRoll reports whether a mid-roll spot is due at the given playback
// offset. A spot is due when its scheduled offset has been reached and the
// minimum distance from the previous mid-roll is kept. The returned ad is
// already playing when ok is true.
func (m *Manager) CheckMidRoll(sessionID string, playbackSeconds int) (*models.AudioAd, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, false, ErrNoSession
	}
	if s.current != nil {
		return nil, false, nil
	}
	if len(s.midRoll) == 0 {
		return nil, false, nil
	}

	next := s.midRoll[0]
	if playbackSeconds < next.PlayAtSeconds {
		return nil, false, nil
	}

	spacing := int(m.policies.For(models.PlacementMidRoll).MinMidRollInterval / time.Second)
	if s.lastMidRollAt >= 0 && spacing > 0 && playbackSeconds-s.lastMidRollAt < spacing {
		return nil, false, nil
	}

	s.midRoll = s.midRoll[1:]
	ad := next.Ad
	s.current = &ad
	s.currentPlacement = models.PlacementMidRoll
	s.lastMidRollAt = playbackSeconds
	s.lastSeen = time.Now()

	m.publishAdEvent(events.EventAdStart, sessionID, &ad, models.PlacementMidRoll)
	return &ad, true, nil
}

// CompleteAd marks the current ad as finished.
func (m *Manager) CompleteAd(sessionID string) error {
	return m.finish(sessionID, events.EventAdComplete, nil)
}

// SkipAd skips the current ad. Skipping before the ad's skip offset, or
// skipping an unskippable ad, is rejected.
func (m *Manager) SkipAd(sessionID string, playedSeconds int) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return ErrNoSession
	}
	if s.current == nil {
		m.mu.Unlock()
		return ErrNoCurrentAd
	}
	if s.current.SkipAfterSeconds <= 0 || playedSeconds < s.current.SkipAfterSeconds {
		m.mu.Unlock()
		return ErrNotSkippable
	}
	m.mu.Unlock()

	return m.finish(sessionID, events.EventAdSkip, events.Payload{
		"played_seconds": playedSeconds,
	})
}

// HandleAdError abandons the current ad after a playback failure. The queue
// keeps going; a broken creative must never block the stream.
func (m *Manager) HandleAdError(sessionID, reason string) error {
	err := m.finish(sessionID, events.EventAdError, events.Payload{
		"error": reason,
	})
	if errors.Is(err, ErrNoCurrentAd) {
		// Error reports can race completion; nothing left to do.
		return nil
	}
	return err
}

// ClearQueue drops all queued ads and any current ad for a session.
func (m *Manager) ClearQueue(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return ErrNoSession
	}
	delete(m.sessions, sessionID)
	return nil
}

func (m *Manager) finish(sessionID string, event events.EventType, extra events.Payload) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return ErrNoSession
	}
	if s.current == nil {
		m.mu.Unlock()
		return ErrNoCurrentAd
	}
	ad := s.current
	p := s.currentPlacement
	s.current = nil
	s.currentPlacement = ""
	if event != events.EventAdError {
		s.playedAds++
	}
	s.lastSeen = time.Now()
	m.mu.Unlock()

	payload := events.Payload{
		"session_id": sessionID,
		"ad_id":      ad.ID,
		"placement":  string(p),
	}
	for k, v := range extra {
		payload[k] = v
	}
	m.bus.Publish(event, payload)
	return nil
}

func (m *Manager) publishAdEvent(event events.EventType, sessionID string, ad *models.AudioAd, p models.Placement) {
	m.bus.Publish(event, events.Payload{
		"session_id": sessionID,
		"ad_id":      ad.ID,
		"placement":  string(p),
		"duration":   ad.DurationSeconds,
	})
}

// snapshotLocked copies the session queues. Caller holds m.mu.
func (m *Manager) snapshotLocked(sessionID string) QueueSnapshot {
	s := m.sessions[sessionID]
	snap := QueueSnapshot{
		PreRoll:      append([]models.AudioAd(nil), s.preRoll...),
		MidRoll:      append([]TimedAd(nil), s.midRoll...),
		PostRoll:     append([]models.AudioAd(nil), s.postRoll...),
		StationBreak: append([]models.AudioAd(nil), s.stationBreak...),
		PlayedAds:    s.playedAds,
	}
	if s.current != nil {
		current := *s.current
		snap.Current = &current
	}
	return snap
}

// sweepLocked drops idle sessions. Caller holds m.mu.
func (m *Manager) sweepLocked(now time.Time) {
	for id, s := range m.sessions {
		if now.Sub(s.lastSeen) > m.ttl {
			delete(m.sessions, id)
		}
	}
}
