/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package resolver decides which ad, if any, serves a placement request. It
// layers the premium gate, frequency caps, targeting, and sanitization over
// the candidate pool; every ad that leaves here is a sanitized copy.
package resolver

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_ads/internal/adstore"
	"github.com/friendsincode/grimnir_ads/internal/events"
	"github.com/friendsincode/grimnir_ads/internal/models"
	"github.com/friendsincode/grimnir_ads/internal/placement"
	"github.com/friendsincode/grimnir_ads/internal/premium"
	"github.com/friendsincode/grimnir_ads/internal/sanitize"
	"github.com/friendsincode/grimnir_ads/internal/session"
)

// Publisher is the event sink the resolver reports decisions to.
type Publisher interface {
	Publish(events.EventType, events.Payload)
}

// Request is one placement decision request.
type Request struct {
	Placement    models.Placement
	SessionID    string
	Context      models.AdContext
	PremiumToken string
}

// Decision is the outcome of a placement request. Exactly one of Ad or
// Reason is set.
type Decision struct {
	Ad              *models.Advertisement `json:"ad,omitempty"`
	Reason          models.NoAdReason     `json:"reason,omitempty"`
	FrequencyCapped bool                  `json:"frequency_capped,omitempty"`
	NextAvailableAt *time.Time            `json:"next_available_at,omitempty"`
}

// Resolver picks ads for placements.
type Resolver struct {
	store    *adstore.Store
	sessions *session.Tracker
	premium  premium.Provider
	policies placement.Policies
	bus      Publisher
	logger   zerolog.Logger
	now      func() time.Time
	pick     func(n int) int
}

// New creates a resolver.
func New(store *adstore.Store, sessions *session.Tracker, prem premium.Provider, policies placement.Policies, bus Publisher, logger zerolog.Logger) *Resolver {
	return &Resolver{
		store:    store,
		sessions: sessions,
		premium:  prem,
		policies: policies,
		bus:      bus,
		logger:   logger.With().Str("component", "resolver").Logger(),
		now:      time.Now,
		pick:     rand.IntN,
	}
}

// Resolve answers a single-slot placement request. It touches no counters;
// the caller calls Commit for the winning ad once it is handed out.
func (r *Resolver) Resolve(ctx context.Context, req Request) (Decision, error) {
	if !req.Placement.Valid() {
		return Decision{Reason: models.ReasonError}, fmt.Errorf("unknown placement %q", req.Placement)
	}
	now := r.now()

	if r.isPremium(ctx, req) {
		return r.noAd(req, models.ReasonPremiumUser), nil
	}

	if d, capped := r.checkCap(ctx, req, now); capped {
		return d, nil
	}

	candidates, err := r.store.Candidates(ctx, req.Placement, now)
	if err != nil {
		r.logger.Error().Err(err).Str("placement", string(req.Placement)).Msg("candidate query failed")
		return r.noAd(req, models.ReasonError), err
	}

	eligible, geoBlocked := filterTargeting(candidates, req.Context)
	if len(eligible) == 0 {
		reason := models.ReasonNoAdsAvailable
		if len(candidates) > 0 && geoBlocked == len(candidates) {
			reason = models.ReasonGeoRestricted
		}
		return r.noAd(req, reason), nil
	}

	winner := eligible[r.pick(len(eligible))]
	clean := sanitize.Advertisement(winner)
	r.bus.Publish(events.EventDecisionServed, events.Payload{
		"placement":  string(req.Placement),
		"ad_id":      winner.ID,
		"session_id": req.SessionID,
	})
	return Decision{Ad: &clean}, nil
}

// ResolveQueue answers an audio-placement request with up to the policy's
// queue limit of distinct audio ads. Like Resolve it is read-only; the caller
// commits each queued ad.
func (r *Resolver) ResolveQueue(ctx context.Context, req Request) ([]models.AudioAd, Decision, error) {
	if !req.Placement.IsAudio() {
		return nil, Decision{Reason: models.ReasonError}, fmt.Errorf("placement %q is not an audio placement", req.Placement)
	}
	now := r.now()

	if r.isPremium(ctx, req) {
		return nil, r.noAd(req, models.ReasonPremiumUser), nil
	}

	if d, capped := r.checkCap(ctx, req, now); capped {
		return nil, d, nil
	}

	candidates, err := r.store.AudioCandidates(ctx, req.Placement, now)
	if err != nil {
		r.logger.Error().Err(err).Str("placement", string(req.Placement)).Msg("audio candidate query failed")
		return nil, r.noAd(req, models.ReasonError), err
	}

	var eligible []models.AudioAd
	geoBlocked := 0
	for _, ad := range candidates {
		if !matchesTargeting(ad.Advertisement, req.Context) {
			if isGeoBlocked(ad.Advertisement, req.Context) {
				geoBlocked++
			}
			continue
		}
		eligible = append(eligible, ad)
	}
	if len(eligible) == 0 {
		reason := models.ReasonNoAdsAvailable
		if len(candidates) > 0 && geoBlocked == len(candidates) {
			reason = models.ReasonGeoRestricted
		}
		return nil, r.noAd(req, reason), nil
	}

	limit := r.policies.For(req.Placement).MaxQueued
	if limit <= 0 {
		limit = 1
	}

	// Shuffle, then take up to the queue limit of distinct spots.
	rand.Shuffle(len(eligible), func(i, j int) {
		eligible[i], eligible[j] = eligible[j], eligible[i]
	})
	if len(eligible) > limit {
		eligible = eligible[:limit]
	}

	out := make([]models.AudioAd, 0, len(eligible))
	for _, ad := range eligible {
		out = append(out, sanitize.AudioAd(ad))
	}

	r.bus.Publish(events.EventQueueLoaded, events.Payload{
		"placement":  string(req.Placement),
		"count":      len(out),
		"session_id": req.SessionID,
	})
	return out, Decision{}, nil
}

// isPremium asks the provider, failing open to a free listener on error.
func (r *Resolver) isPremium(ctx context.Context, req Request) bool {
	isPremium, err := r.premium.IsPremium(ctx, premium.Check{
		UserID: req.Context.UserID,
		Token:  req.PremiumToken,
	})
	if err != nil {
		r.logger.Warn().Err(err).Str("user_id", req.Context.UserID).Msg("premium lookup failed, treating as free")
		return false
	}
	return isPremium
}

// checkCap consults the session tracker. A capped result includes when the
// placement opens up again, when that is knowable.
func (r *Resolver) checkCap(ctx context.Context, req Request, now time.Time) (Decision, bool) {
	capped, next, err := r.sessions.Capped(ctx, req.SessionID, req.Placement, now)
	if err != nil {
		r.logger.Warn().Err(err).Msg("cap check failed, serving anyway")
		return Decision{}, false
	}
	if !capped {
		return Decision{}, false
	}

	d := r.noAd(req, models.ReasonFrequencyCapReached)
	d.FrequencyCapped = true
	if !next.IsZero() {
		d.NextAvailableAt = &next
	}
	return d, true
}

// Commit records a served decision: the ad's impression counter and the
// session's exposure to the placement. Resolve and ResolveQueue never commit
// themselves; the caller commits once the ad is actually handed out.
func (r *Resolver) Commit(ctx context.Context, sessionID string, p models.Placement, adID string) error {
	if err := r.store.RecordServe(ctx, adID); err != nil {
		return fmt.Errorf("record serve: %w", err)
	}
	if err := r.sessions.RecordAdShown(ctx, sessionID, p, r.now()); err != nil {
		r.logger.Warn().Err(err).Msg("session record failed")
	}
	return nil
}

func (r *Resolver) noAd(req Request, reason models.NoAdReason) Decision {
	r.bus.Publish(events.EventDecisionNoAd, events.Payload{
		"placement":  string(req.Placement),
		"reason":     string(reason),
		"session_id": req.SessionID,
	})
	return Decision{Reason: reason}
}

// filterTargeting drops candidates whose targeting excludes the context and
// counts how many fell to the country dimension specifically.
func filterTargeting(candidates []models.Advertisement, ctx models.AdContext) ([]models.Advertisement, int) {
	var eligible []models.Advertisement
	geoBlocked := 0
	for _, ad := range candidates {
		if !matchesTargeting(ad, ctx) {
			if isGeoBlocked(ad, ctx) {
				geoBlocked++
			}
			continue
		}
		eligible = append(eligible, ad)
	}
	return eligible, geoBlocked
}

// matchesTargeting applies country, genre, and station targeting. An empty
// target list leaves that dimension untargeted.
func matchesTargeting(ad models.Advertisement, ctx models.AdContext) bool {
	if len(ad.TargetCountries) > 0 && !ad.TargetCountries.Contains(ctx.Country) {
		return false
	}
	if len(ad.TargetGenres) > 0 && !ad.TargetGenres.Contains(ctx.Genre) {
		return false
	}
	if len(ad.TargetStations) > 0 && !ad.TargetStations.Contains(ctx.StationID) {
		return false
	}
	return true
}

func isGeoBlocked(ad models.Advertisement, ctx models.AdContext) bool {
	return len(ad.TargetCountries) > 0 && !ad.TargetCountries.Contains(ctx.Country)
}
