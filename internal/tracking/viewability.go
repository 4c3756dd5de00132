/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package tracking

import (
	"context"
	"sync"
	"time"

	"github.com/friendsincode/grimnir_ads/internal/events"
	"github.com/friendsincode/grimnir_ads/internal/models"
)

// Meter accumulates visible time for one impression. Hiding the ad pauses
// the accumulator; it never resets. Qualification is therefore cumulative
// across scroll-away and scroll-back.
type Meter struct {
	accumulated  time.Duration
	visibleSince time.Time
}

// Observe records a visibility transition at the given instant.
func (m *Meter) Observe(visible bool, at time.Time) {
	if visible {
		if m.visibleSince.IsZero() {
			m.visibleSince = at
		}
		return
	}
	if !m.visibleSince.IsZero() {
		if d := at.Sub(m.visibleSince); d > 0 {
			m.accumulated += d
		}
		m.visibleSince = time.Time{}
	}
}

// Accumulated returns total visible time as of the given instant, including
// any open visible interval.
func (m *Meter) Accumulated(at time.Time) time.Duration {
	total := m.accumulated
	if !m.visibleSince.IsZero() {
		if d := at.Sub(m.visibleSince); d > 0 {
			total += d
		}
	}
	return total
}

// meterTable holds live meters keyed by impression ID with idle expiry.
type meterTable struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]*meterEntry
}

type meterEntry struct {
	meter    Meter
	lastSeen time.Time
}

func newMeterTable(ttl time.Duration) *meterTable {
	return &meterTable{ttl: ttl, entries: make(map[string]*meterEntry)}
}

func (t *meterTable) get(id string, now time.Time) *Meter {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Opportunistic sweep of idle meters.
	for key, e := range t.entries {
		if now.Sub(e.lastSeen) > t.ttl {
			delete(t.entries, key)
		}
	}

	e, ok := t.entries[id]
	if !ok {
		e = &meterEntry{}
		t.entries[id] = e
	}
	e.lastSeen = now
	return &e.meter
}

// ViewabilityUpdate is one visibility observation from a client.
type ViewabilityUpdate struct {
	ImpressionID string
	// Visible is whether the ad is on screen right now.
	Visible bool
	// VisibleFraction is how much of the creative area is on screen, 0..1.
	VisibleFraction float64
}

// UpdateViewability folds a visibility observation into the impression's
// meter and persists the running total. The impression flips Viewable once
// cumulative visible time crosses the placement's minimum; it never flips
// back.
func (s *Service) UpdateViewability(ctx context.Context, update ViewabilityUpdate) (*models.Impression, error) {
	imp, err := s.GetImpression(ctx, update.ImpressionID)
	if err != nil {
		return nil, err
	}

	policy := s.policies.For(imp.Placement)
	now := s.now()

	// Partially visible below the threshold counts as hidden.
	effective := update.Visible && update.VisibleFraction >= policy.ViewabilityThreshold

	meter := s.meters.get(imp.ID, now)
	meter.Observe(effective, now)
	total := meter.Accumulated(now)

	// The meter starts fresh per process; never let a restart shrink the total.
	if ms := total.Milliseconds(); ms > imp.VisibilityDurationMS {
		imp.VisibilityDurationMS = ms
	}

	qualified := false
	if !imp.Viewable && policy.MinViewableTime > 0 &&
		time.Duration(imp.VisibilityDurationMS)*time.Millisecond >= policy.MinViewableTime {
		imp.Viewable = true
		qualified = true
	}

	if err := s.db.WithContext(ctx).Model(&models.Impression{}).
		Where("id = ?", imp.ID).
		Updates(map[string]any{
			"viewable":               imp.Viewable,
			"visibility_duration_ms": imp.VisibilityDurationMS,
		}).Error; err != nil {
		return nil, err
	}

	if qualified {
		s.bus.Publish(events.EventViewableQualified, events.Payload{
			"impression_id": imp.ID,
			"ad_id":         imp.AdID,
			"placement":     string(imp.Placement),
			"visible_ms":    imp.VisibilityDurationMS,
		})
	}

	return imp, nil
}
