/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api exposes the HTTP surface: placement decisions, audio queues,
// impression and click tracking, the admin CRUD, and the ad event stream.
package api

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_ads/internal/adstore"
	"github.com/friendsincode/grimnir_ads/internal/audit"
	"github.com/friendsincode/grimnir_ads/internal/auth"
	"github.com/friendsincode/grimnir_ads/internal/creative"
	"github.com/friendsincode/grimnir_ads/internal/events"
	"github.com/friendsincode/grimnir_ads/internal/logbuffer"
	"github.com/friendsincode/grimnir_ads/internal/models"
	"github.com/friendsincode/grimnir_ads/internal/resolver"
	"github.com/friendsincode/grimnir_ads/internal/sequencer"
	"github.com/friendsincode/grimnir_ads/internal/session"
	"github.com/friendsincode/grimnir_ads/internal/telemetry"
	"github.com/friendsincode/grimnir_ads/internal/tracking"
)

// Publisher is the event sink shared with the services.
type Publisher interface {
	Publish(events.EventType, events.Payload)
}

// API exposes HTTP handlers.
type API struct {
	db           *gorm.DB
	store        *adstore.Store
	resolver     *resolver.Resolver
	sequencer    *sequencer.Manager
	tracker      *tracking.Service
	sessions     *session.Tracker
	creatives    *creative.Service
	audits       *audit.Service
	logs         *logbuffer.Buffer
	bus          *events.Bus
	publisher    Publisher
	adminEnabled bool
	logger       zerolog.Logger
}

// New creates the API router wrapper.
func New(db *gorm.DB, store *adstore.Store, res *resolver.Resolver, seq *sequencer.Manager, tracker *tracking.Service, sessions *session.Tracker, creatives *creative.Service, audits *audit.Service, logs *logbuffer.Buffer, bus *events.Bus, publisher Publisher, adminEnabled bool, logger zerolog.Logger) *API {
	return &API{
		db:           db,
		store:        store,
		resolver:     res,
		sequencer:    seq,
		tracker:      tracker,
		sessions:     sessions,
		creatives:    creatives,
		audits:       audits,
		logs:         logs,
		bus:          bus,
		publisher:    publisher,
		adminEnabled: adminEnabled,
		logger:       logger.With().Str("component", "api").Logger(),
	}
}

// Routes mounts all endpoints on the router.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)

		r.Route("/ads", func(r chi.Router) {
			r.Post("/decision", a.handleDecision)
			r.Post("/queue", a.handleQueueLoad)
			r.Get("/queue/{sessionID}", a.handleQueueSnapshot)
			r.Delete("/queue/{sessionID}", a.handleQueueClear)

			r.Post("/queue/{sessionID}/pre-roll/next", a.handlePlayNext(models.PlacementPreRoll))
			r.Post("/queue/{sessionID}/post-roll/next", a.handlePlayNext(models.PlacementPostRoll))
			r.Post("/queue/{sessionID}/station-break/next", a.handlePlayNext(models.PlacementStationBreak))
			r.Post("/queue/{sessionID}/mid-roll/check", a.handleMidRollCheck)
			r.Post("/queue/{sessionID}/complete", a.handleCompleteAd)
			r.Post("/queue/{sessionID}/skip", a.handleSkipAd)
			r.Post("/queue/{sessionID}/error", a.handleAdError)

			r.Post("/impressions", a.handleTrackImpression)
			r.Post("/impressions/{impressionID}/viewability", a.handleViewability)
			r.Post("/clicks", a.handleTrackClick)

			r.Get("/events", a.handleEvents)
		})

		if a.adminEnabled {
			r.Route("/admin", func(ar chi.Router) {
				ar.Use(auth.RequireAPIKey(a.db, a.logger))

				ar.Route("/campaigns", func(r chi.Router) {
					r.Get("/", a.handleCampaignsList)
					r.Post("/", a.handleCampaignCreate)
					r.Get("/{campaignID}", a.handleCampaignGet)
					r.Put("/{campaignID}", a.handleCampaignUpdate)
					r.Delete("/{campaignID}", a.handleCampaignDelete)
					r.Get("/{campaignID}/report", a.handleCampaignReport)
				})

				ar.Route("/ads", func(r chi.Router) {
					r.Get("/", a.handleAdsList)
					r.Post("/", a.handleAdCreate)
					r.Put("/{adID}", a.handleAdUpdate)
					r.Delete("/{adID}", a.handleAdDelete)
					r.Post("/{adID}/creative", a.handleCreativeUpload)
				})

				ar.Get("/audit", a.handleAuditList)
				ar.Get("/logs", a.handleLogsList)
				ar.Get("/logs/stats", a.handleLogsStats)
			})
		}
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK

	sqlDB, err := a.db.DB()
	if err != nil || sqlDB.PingContext(r.Context()) != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]string{"status": status})
}

// decisionRequest is the wire form of a placement decision request.
type decisionRequest struct {
	Placement    string           `json:"placement"`
	SessionID    string           `json:"session_id"`
	PremiumToken string           `json:"premium_token,omitempty"`
	Context      models.AdContext `json:"context"`
}

func (a *API) handleDecision(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	placement := models.Placement(req.Placement)
	if !placement.Valid() {
		writeError(w, http.StatusBadRequest, "unknown_placement")
		return
	}

	decision, err := a.resolver.Resolve(r.Context(), resolver.Request{
		Placement:    placement,
		SessionID:    req.SessionID,
		Context:      req.Context,
		PremiumToken: req.PremiumToken,
	})
	if err != nil {
		// Serving must never surface a backend failure to the rendering
		// layer; the resolver already shaped the degraded decision.
		a.logger.Error().Err(err).Str("placement", req.Placement).Msg("decision failed")
		telemetry.DecisionsTotal.WithLabelValues(req.Placement, "error").Inc()
		writeJSON(w, http.StatusOK, decision)
		return
	}

	if decision.Ad != nil {
		if err := a.resolver.Commit(r.Context(), req.SessionID, placement, decision.Ad.ID); err != nil {
			a.logger.Error().Err(err).Str("ad_id", decision.Ad.ID).Msg("decision commit failed")
			telemetry.DecisionsTotal.WithLabelValues(req.Placement, "error").Inc()
			writeJSON(w, http.StatusOK, resolver.Decision{Reason: models.ReasonError})
			return
		}
	}

	outcome := "served"
	if decision.Ad == nil {
		outcome = string(decision.Reason)
	}
	telemetry.DecisionsTotal.WithLabelValues(req.Placement, outcome).Inc()

	writeJSON(w, http.StatusOK, decision)
}

func (a *API) handleQueueLoad(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id_required")
		return
	}

	snapshot, err := a.sequencer.LoadQueue(r.Context(), req.SessionID, req.Context, req.PremiumToken)
	if err != nil {
		// Degrade to an empty queue; the stream starts without ads.
		a.logger.Error().Err(err).Str("session_id", req.SessionID).Msg("queue load failed")
		writeJSON(w, http.StatusOK, sequencer.QueueSnapshot{})
		return
	}

	telemetry.QueueLoadsTotal.Inc()
	writeJSON(w, http.StatusOK, snapshot)
}

func (a *API) handleQueueSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot, err := a.sequencer.Snapshot(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, http.StatusNotFound, "no_session")
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (a *API) handleQueueClear(w http.ResponseWriter, r *http.Request) {
	if err := a.sequencer.ClearQueue(chi.URLParam(r, "sessionID")); err != nil {
		writeError(w, http.StatusNotFound, "no_session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (a *API) handlePlayNext(p models.Placement) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "sessionID")

		var (
			ad  *models.AudioAd
			ok  bool
			err error
		)
		switch p {
		case models.PlacementPreRoll:
			ad, ok, err = a.sequencer.PlayNextPreRoll(sessionID)
		case models.PlacementPostRoll:
			ad, ok, err = a.sequencer.PlayNextPostRoll(sessionID)
		default:
			ad, ok, err = a.sequencer.PlayStationBreak(sessionID)
		}

		if err != nil {
			a.writeSequencerError(w, err)
			return
		}
		if !ok {
			writeJSON(w, http.StatusOK, map[string]any{"ad": nil, "queue_empty": true})
			return
		}

		telemetry.AdPlaybackEventsTotal.WithLabelValues("start").Inc()
		writeJSON(w, http.StatusOK, map[string]any{"ad": ad})
	}
}

func (a *API) handleMidRollCheck(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PlaybackSeconds int `json:"playback_seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	ad, due, err := a.sequencer.CheckMidRoll(chi.URLParam(r, "sessionID"), req.PlaybackSeconds)
	if err != nil {
		a.writeSequencerError(w, err)
		return
	}
	if !due {
		writeJSON(w, http.StatusOK, map[string]any{"ad": nil, "due": false})
		return
	}

	telemetry.AdPlaybackEventsTotal.WithLabelValues("start").Inc()
	writeJSON(w, http.StatusOK, map[string]any{"ad": ad, "due": true})
}

func (a *API) handleCompleteAd(w http.ResponseWriter, r *http.Request) {
	if err := a.sequencer.CompleteAd(chi.URLParam(r, "sessionID")); err != nil {
		a.writeSequencerError(w, err)
		return
	}
	telemetry.AdPlaybackEventsTotal.WithLabelValues("complete").Inc()
	writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

func (a *API) handleSkipAd(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PlayedSeconds int `json:"played_seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	if err := a.sequencer.SkipAd(chi.URLParam(r, "sessionID"), req.PlayedSeconds); err != nil {
		if errors.Is(err, sequencer.ErrNotSkippable) {
			writeError(w, http.StatusConflict, "not_skippable")
			return
		}
		a.writeSequencerError(w, err)
		return
	}
	telemetry.AdPlaybackEventsTotal.WithLabelValues("skip").Inc()
	writeJSON(w, http.StatusOK, map[string]string{"status": "skipped"})
}

func (a *API) handleAdError(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	if err := a.sequencer.HandleAdError(chi.URLParam(r, "sessionID"), req.Error); err != nil {
		a.writeSequencerError(w, err)
		return
	}
	telemetry.AdPlaybackEventsTotal.WithLabelValues("error").Inc()
	writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}

type impressionRequest struct {
	AdID      string `json:"ad_id"`
	Placement string `json:"placement"`
	SessionID string `json:"session_id"`
	Country   string `json:"country,omitempty"`
	StationID string `json:"station_id,omitempty"`
	Device    string `json:"device_type,omitempty"`
}

func (a *API) handleTrackImpression(w http.ResponseWriter, r *http.Request) {
	var req impressionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	imp, err := a.tracker.TrackImpression(r.Context(), tracking.ImpressionInput{
		AdID:       req.AdID,
		Placement:  models.Placement(req.Placement),
		SessionID:  req.SessionID,
		Country:    req.Country,
		StationID:  req.StationID,
		DeviceType: req.Device,
		UserAgent:  r.UserAgent(),
		RemoteIP:   remoteIP(r),
	})
	if err != nil {
		if errors.Is(err, tracking.ErrUnknownAd) {
			writeError(w, http.StatusNotFound, "unknown_ad")
			return
		}
		// A lost impression must not break ad rendering.
		a.logger.Error().Err(err).Msg("impression tracking failed")
		writeJSON(w, http.StatusOK, map[string]any{"impression_id": nil})
		return
	}

	if err := a.sessions.RememberImpression(r.Context(), req.SessionID, req.AdID, imp.ID); err != nil {
		a.logger.Warn().Err(err).Msg("impression correlation record failed")
	}

	telemetry.ImpressionsTotal.WithLabelValues(req.Placement).Inc()
	writeJSON(w, http.StatusCreated, imp)
}

func (a *API) handleViewability(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Visible         bool    `json:"visible"`
		VisibleFraction float64 `json:"visible_fraction"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	imp, err := a.tracker.UpdateViewability(r.Context(), tracking.ViewabilityUpdate{
		ImpressionID:    chi.URLParam(r, "impressionID"),
		Visible:         req.Visible,
		VisibleFraction: req.VisibleFraction,
	})
	if err != nil {
		if errors.Is(err, tracking.ErrUnknownImpression) {
			writeError(w, http.StatusNotFound, "unknown_impression")
			return
		}
		a.logger.Error().Err(err).Msg("viewability update failed")
		writeError(w, http.StatusInternalServerError, "tracking_failed")
		return
	}

	if imp.Viewable {
		telemetry.ViewableImpressionsTotal.WithLabelValues(string(imp.Placement)).Inc()
	}
	writeJSON(w, http.StatusOK, imp)
}

func (a *API) handleTrackClick(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ImpressionID string `json:"impression_id"`
		AdID         string `json:"ad_id"`
		SessionID    string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.ImpressionID == "" {
		// Fall back to the session's remembered impression for the ad.
		id, ok, err := a.sessions.ImpressionFor(r.Context(), req.SessionID, req.AdID)
		if err != nil || !ok {
			writeError(w, http.StatusBadRequest, "impression_id_required")
			return
		}
		req.ImpressionID = id
	}

	click, fraud, err := a.tracker.TrackClick(r.Context(), tracking.ClickInput{
		ImpressionID: req.ImpressionID,
		UserAgent:    r.UserAgent(),
		RemoteIP:     remoteIP(r),
	})
	if err != nil {
		if errors.Is(err, tracking.ErrUnknownImpression) {
			writeError(w, http.StatusNotFound, "unknown_impression")
			return
		}
		a.logger.Error().Err(err).Msg("click tracking failed")
		writeError(w, http.StatusInternalServerError, "tracking_failed")
		return
	}

	telemetry.ClicksTotal.Inc()
	if fraud.RiskScore >= 0.6 {
		telemetry.SuspiciousClicksTotal.Inc()
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"click": click,
		"fraud": fraud,
	})
}

func (a *API) writeSequencerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sequencer.ErrNoSession):
		writeError(w, http.StatusNotFound, "no_session")
	case errors.Is(err, sequencer.ErrAdInProgress):
		writeError(w, http.StatusConflict, "ad_in_progress")
	case errors.Is(err, sequencer.ErrNoCurrentAd):
		writeError(w, http.StatusConflict, "no_current_ad")
	default:
		a.logger.Error().Err(err).Msg("sequencer operation failed")
		writeError(w, http.StatusInternalServerError, "sequencer_failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

// remoteIP strips the port and honors the leftmost X-Forwarded-For hop.
func remoteIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// parseTime accepts RFC3339 timestamps from admin payloads.
func parseTime(raw string) (time.Time, error) {
	return time.Parse(time.RFC3339, raw)
}
