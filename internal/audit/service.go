/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package audit persists an audit trail of administrative changes by
// subscribing to the audit events the admin surface publishes.
package audit

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_ads/internal/events"
	"github.com/friendsincode/grimnir_ads/internal/models"
)

// actionFor maps bus event types to stored audit actions.
var actionFor = map[events.EventType]models.AuditAction{
	events.EventAuditCampaignCreate: models.AuditActionCampaignCreate,
	events.EventAuditCampaignUpdate: models.AuditActionCampaignUpdate,
	events.EventAuditCampaignDelete: models.AuditActionCampaignDelete,
	events.EventAuditAdCreate:       models.AuditActionAdCreate,
	events.EventAuditAdUpdate:       models.AuditActionAdUpdate,
	events.EventAuditAdDelete:       models.AuditActionAdDelete,
	events.EventAuditAPIKeyCreate:   models.AuditActionAPIKeyCreate,
	events.EventAuditAPIKeyRevoke:   models.AuditActionAPIKeyRevoke,
}

// Service subscribes to audit events and stores them as audit log entries.
type Service struct {
	db     *gorm.DB
	bus    *events.Bus
	logger zerolog.Logger
}

// NewService creates an audit service.
func NewService(db *gorm.DB, bus *events.Bus, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		bus:    bus,
		logger: logger.With().Str("component", "audit").Logger(),
	}
}

// tagged pairs a subscriber channel with the event it carries.
type tagged struct {
	eventType events.EventType
	action    models.AuditAction
	ch        events.Subscriber
}

// Start subscribes to every audit event type and persists entries until the
// context is cancelled. Runs in its own goroutine.
func (s *Service) Start(ctx context.Context) {
	subs := make([]tagged, 0, len(actionFor))
	for eventType, action := range actionFor {
		subs = append(subs, tagged{eventType: eventType, action: action, ch: s.bus.Subscribe(eventType)})
	}
	defer func() {
		for _, sub := range subs {
			s.bus.Unsubscribe(sub.eventType, sub.ch)
		}
	}()

	s.logger.Info().Msg("audit trail started")

	// Fan the per-type subscriptions into one channel so the persist loop
	// stays a single select.
	type record struct {
		action  models.AuditAction
		payload events.Payload
	}
	merged := make(chan record, 32)
	fanCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	for _, sub := range subs {
		go func(sub tagged) {
			for {
				select {
				case <-fanCtx.Done():
					return
				case payload, ok := <-sub.ch:
					if !ok {
						return
					}
					select {
					case merged <- record{action: sub.action, payload: payload}:
					case <-fanCtx.Done():
						return
					}
				}
			}
		}(sub)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("audit trail stopped")
			return
		case rec := <-merged:
			s.logEntry(ctx, rec.action, rec.payload)
		}
	}
}

// logEntry builds an audit entry from an event payload and stores it.
func (s *Service) logEntry(ctx context.Context, action models.AuditAction, payload events.Payload) {
	entry := models.NewAuditLog(action)
	entry.Details = make(models.JSONMap)

	if campaignID, ok := payload["campaign_id"].(string); ok && campaignID != "" {
		entry.ResourceType = "campaign"
		entry.ResourceID = campaignID
	}
	if adID, ok := payload["ad_id"].(string); ok && adID != "" {
		entry.ResourceType = "advertisement"
		entry.ResourceID = adID
	}
	if keyID, ok := payload["key_id"].(string); ok && keyID != "" {
		entry.ResourceType = "api_key"
		entry.ResourceID = keyID
	}

	if actorID, ok := payload["api_key_id"].(string); ok {
		entry.APIKeyID = actorID
	}
	if actorName, ok := payload["api_key_name"].(string); ok {
		entry.APIKeyName = actorName
	}
	if ip, ok := payload["ip_address"].(string); ok {
		entry.IPAddress = ip
	}
	if ua, ok := payload["user_agent"].(string); ok {
		entry.UserAgent = ua
	}

	for k, v := range payload {
		switch k {
		case "campaign_id", "ad_id", "key_id", "api_key_id", "api_key_name", "ip_address", "user_agent":
		default:
			entry.Details[k] = v
		}
	}

	if err := s.Log(ctx, entry); err != nil {
		s.logger.Error().Err(err).
			Str("action", string(action)).
			Msg("failed to store audit entry")
	}
}

// Log stores an audit entry directly, filling defaults for zero fields.
func (s *Service) Log(ctx context.Context, entry *models.AuditLog) error {
	if entry.ID == "" {
		fresh := models.NewAuditLog(entry.Action)
		entry.ID = fresh.ID
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return err
	}

	s.logger.Debug().
		Str("action", string(entry.Action)).
		Str("resource_id", entry.ResourceID).
		Msg("audit entry stored")
	return nil
}

// QueryFilters narrows an audit log query.
type QueryFilters struct {
	Action       *models.AuditAction
	ResourceType string
	ResourceID   string
	StartTime    *time.Time
	EndTime      *time.Time
	Limit        int
	Offset       int
}

// Query retrieves audit entries newest first, with the total match count.
func (s *Service) Query(ctx context.Context, filters QueryFilters) ([]models.AuditLog, int64, error) {
	var logs []models.AuditLog
	var total int64

	query := s.db.WithContext(ctx).Model(&models.AuditLog{})

	if filters.Action != nil {
		query = query.Where("action = ?", *filters.Action)
	}
	if filters.ResourceType != "" {
		query = query.Where("resource_type = ?", filters.ResourceType)
	}
	if filters.ResourceID != "" {
		query = query.Where("resource_id = ?", filters.ResourceID)
	}
	if filters.StartTime != nil {
		query = query.Where("timestamp >= ?", *filters.StartTime)
	}
	if filters.EndTime != nil {
		query = query.Where("timestamp <= ?", *filters.EndTime)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if filters.Limit > 0 {
		query = query.Limit(filters.Limit)
	} else {
		query = query.Limit(100)
	}
	if filters.Offset > 0 {
		query = query.Offset(filters.Offset)
	}

	if err := query.Order("timestamp DESC").Find(&logs).Error; err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}
