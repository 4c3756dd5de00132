/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package tracking records impressions and clicks. Clicks must reference a
// server-issued impression ID; anything else is rejected before it reaches
// storage. Each event carries a fraud risk score computed from simple
// behavioral signals.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_ads/internal/events"
	"github.com/friendsincode/grimnir_ads/internal/models"
	"github.com/friendsincode/grimnir_ads/internal/placement"
)

var (
	ErrUnknownAd         = errors.New("unknown advertisement")
	ErrUnknownImpression = errors.New("unknown impression")
)

// suspiciousThreshold marks the risk score above which a click is flagged on
// the event stream for review.
const suspiciousThreshold = 0.6

// Publisher is the event sink for tracking events.
type Publisher interface {
	Publish(events.EventType, events.Payload)
}

// Service persists impressions and clicks.
type Service struct {
	db       *gorm.DB
	bus      Publisher
	policies placement.Policies
	logger   zerolog.Logger
	now      func() time.Time

	meters *meterTable
}

// NewService creates a tracking service.
func NewService(db *gorm.DB, bus Publisher, policies placement.Policies, logger zerolog.Logger) *Service {
	return &Service{
		db:       db,
		bus:      bus,
		policies: policies,
		logger:   logger.With().Str("component", "tracking").Logger(),
		now:      time.Now,
		meters:   newMeterTable(time.Hour),
	}
}

// ImpressionInput describes one ad exposure to record.
type ImpressionInput struct {
	AdID       string
	Placement  models.Placement
	SessionID  string
	Country    string
	StationID  string
	DeviceType string
	UserAgent  string
	RemoteIP   string
}

// TrackImpression records an exposure and returns the impression with its
// server-issued ID. The ID is the only token that can correlate a click.
func (s *Service) TrackImpression(ctx context.Context, in ImpressionInput) (*models.Impression, error) {
	if !in.Placement.Valid() {
		return nil, fmt.Errorf("unknown placement %q", in.Placement)
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Advertisement{}).
		Where("id = ?", in.AdID).Count(&count).Error; err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, ErrUnknownAd
	}

	imp := models.NewImpression(in.AdID, in.Placement, in.SessionID)
	imp.Country = in.Country
	imp.StationID = in.StationID
	imp.DeviceType = in.DeviceType
	imp.UserAgent = in.UserAgent
	imp.RemoteIP = in.RemoteIP

	fraud := scoreImpression(in)
	imp.RiskScore = fraud.RiskScore
	imp.FraudFlags = fraud.Flags

	if err := s.db.WithContext(ctx).Create(imp).Error; err != nil {
		return nil, fmt.Errorf("store impression: %w", err)
	}

	s.bus.Publish(events.EventImpressionTracked, events.Payload{
		"impression_id": imp.ID,
		"ad_id":         imp.AdID,
		"placement":     string(imp.Placement),
		"session_id":    imp.SessionID,
		"risk_score":    imp.RiskScore,
	})
	return imp, nil
}

// ClickInput describes a click to correlate with an impression.
type ClickInput struct {
	ImpressionID string
	UserAgent    string
	RemoteIP     string
}

// TrackClick records a click against a known impression. Unknown impression
// IDs return ErrUnknownImpression and nothing is stored.
func (s *Service) TrackClick(ctx context.Context, in ClickInput) (*models.ClickEvent, *models.FraudDetection, error) {
	var imp models.Impression
	if err := s.db.WithContext(ctx).First(&imp, "id = ?", in.ImpressionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrUnknownImpression
		}
		return nil, nil, err
	}

	var priorClicks int64
	if err := s.db.WithContext(ctx).Model(&models.ClickEvent{}).
		Where("impression_id = ?", in.ImpressionID).Count(&priorClicks).Error; err != nil {
		return nil, nil, err
	}

	now := s.now()
	fraud := scoreClick(&imp, in, now, priorClicks)

	click := models.NewClickEvent(imp.ID, imp.AdID)
	click.UserAgent = in.UserAgent
	click.RemoteIP = in.RemoteIP
	click.RiskScore = fraud.RiskScore
	click.FraudFlags = fraud.Flags

	if err := s.db.WithContext(ctx).Create(click).Error; err != nil {
		return nil, nil, fmt.Errorf("store click: %w", err)
	}

	s.bus.Publish(events.EventClickTracked, events.Payload{
		"click_id":      click.ID,
		"impression_id": imp.ID,
		"ad_id":         imp.AdID,
		"risk_score":    fraud.RiskScore,
	})
	if fraud.RiskScore >= suspiciousThreshold {
		s.logger.Warn().
			Str("click_id", click.ID).
			Float64("risk_score", fraud.RiskScore).
			Strs("flags", fraud.Flags).
			Msg("suspicious click")
		s.bus.Publish(events.EventClickSuspicious, events.Payload{
			"click_id":   click.ID,
			"ad_id":      imp.AdID,
			"risk_score": fraud.RiskScore,
			"flags":      fraud.Flags,
		})
	}

	return click, &fraud, nil
}

// GetImpression fetches one impression by ID.
func (s *Service) GetImpression(ctx context.Context, id string) (*models.Impression, error) {
	var imp models.Impression
	if err := s.db.WithContext(ctx).First(&imp, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnknownImpression
		}
		return nil, err
	}
	return &imp, nil
}

// botMarkers flag obviously automated user agents.
var botMarkers = []string{"bot", "crawler", "spider", "curl", "wget", "headless", "phantomjs"}

func isBotAgent(ua string) bool {
	lower := strings.ToLower(ua)
	for _, marker := range botMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// scoreImpression computes fraud signals available at impression time.
func scoreImpression(in ImpressionInput) models.FraudDetection {
	var fraud models.FraudDetection
	if in.UserAgent == "" {
		fraud.Flags = append(fraud.Flags, "missing_user_agent")
		fraud.RiskScore += 0.2
	} else if isBotAgent(in.UserAgent) {
		fraud.Flags = append(fraud.Flags, "bot_user_agent")
		fraud.RiskScore += 0.5
	}
	if fraud.RiskScore > 1 {
		fraud.RiskScore = 1
	}
	return fraud
}

// scoreClick computes fraud signals for a click against its impression.
func scoreClick(imp *models.Impression, in ClickInput, now time.Time, priorClicks int64) models.FraudDetection {
	var fraud models.FraudDetection

	// Sub-second click latency is faster than a human can read an ad.
	if now.Sub(imp.CreatedAt) < time.Second {
		fraud.Flags = append(fraud.Flags, "fast_click")
		fraud.RiskScore += 0.4
	}
	if priorClicks > 0 {
		fraud.Flags = append(fraud.Flags, "duplicate_click")
		fraud.RiskScore += 0.3
	}
	if in.UserAgent == "" {
		fraud.Flags = append(fraud.Flags, "missing_user_agent")
		fraud.RiskScore += 0.2
	} else if isBotAgent(in.UserAgent) {
		fraud.Flags = append(fraud.Flags, "bot_user_agent")
		fraud.RiskScore += 0.5
	}
	if in.UserAgent != "" && imp.UserAgent != "" && in.UserAgent != imp.UserAgent {
		fraud.Flags = append(fraud.Flags, "user_agent_mismatch")
		fraud.RiskScore += 0.2
	}

	if fraud.RiskScore > 1 {
		fraud.RiskScore = 1
	}
	return fraud
}
