/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package adstore is the persistence layer for campaigns, advertisements, and
// audio ad details. Candidate queries go through the Redis cache when it is
// available and fall back to the database.
package adstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_ads/internal/cache"
	"github.com/friendsincode/grimnir_ads/internal/models"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrCampaignHasAds  = errors.New("campaign still has advertisements")
	ErrMissingCampaign = errors.New("campaign does not exist")
)

// Store wraps the database for ad and campaign access.
type Store struct {
	db     *gorm.DB
	cache  *cache.Cache
	logger zerolog.Logger
}

// New creates a store. cache may be nil to bypass caching entirely.
func New(db *gorm.DB, c *cache.Cache, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		cache:  c,
		logger: logger.With().Str("component", "adstore").Logger(),
	}
}

// deliverableScope narrows a query to ads that may serve right now, with the
// owning campaign in flight and under budget.
func deliverableScope(now time.Time) func(*gorm.DB) *gorm.DB {
	return func(tx *gorm.DB) *gorm.DB {
		return tx.
			Joins("JOIN ad_campaigns ON ad_campaigns.id = advertisements.campaign_id").
			Where("advertisements.is_active = ?", true).
			Where("advertisements.start_date <= ?", now).
			Where("(advertisements.end_date IS NULL OR advertisements.end_date >= ?)", now).
			Where("(advertisements.max_impressions = 0 OR advertisements.current_impressions < advertisements.max_impressions)").
			Where("ad_campaigns.status = ?", models.CampaignStatusActive).
			Where("ad_campaigns.start_date <= ?", now).
			Where("(ad_campaigns.end_date IS NULL OR ad_campaigns.end_date >= ?)", now).
			Where("(ad_campaigns.impression_budget = 0 OR ad_campaigns.impressions_served < ad_campaigns.impression_budget)")
	}
}

// Candidates returns the deliverable ads for a placement.
func (s *Store) Candidates(ctx context.Context, p models.Placement, now time.Time) ([]models.Advertisement, error) {
	if s.cache != nil {
		if ads, ok := s.cache.GetCandidates(ctx, p); ok {
			return ads, nil
		}
	}

	var ads []models.Advertisement
	err := s.db.WithContext(ctx).
		Scopes(deliverableScope(now)).
		Where("advertisements.placement = ?", p).
		Find(&ads).Error
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}

	if s.cache != nil {
		s.cache.SetCandidates(ctx, p, ads)
	}
	return ads, nil
}

// AudioCandidates returns the deliverable audio ads for an audio placement,
// with their playback details attached.
func (s *Store) AudioCandidates(ctx context.Context, p models.Placement, now time.Time) ([]models.AudioAd, error) {
	if s.cache != nil {
		if ads, ok := s.cache.GetAudioQueue(ctx, p); ok {
			return ads, nil
		}
	}

	ads, err := s.Candidates(ctx, p, now)
	if err != nil {
		return nil, err
	}
	if len(ads) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(ads))
	for _, ad := range ads {
		ids = append(ids, ad.ID)
	}

	var details []models.AudioAdDetail
	if err := s.db.WithContext(ctx).Where("advertisement_id IN ?", ids).Find(&details).Error; err != nil {
		return nil, fmt.Errorf("query audio details: %w", err)
	}

	byAd := make(map[string]models.AudioAdDetail, len(details))
	for _, d := range details {
		byAd[d.AdvertisementID] = d
	}

	// Ads without a detail row are misconfigured and skipped.
	out := make([]models.AudioAd, 0, len(ads))
	for _, ad := range ads {
		detail, ok := byAd[ad.ID]
		if !ok {
			s.logger.Warn().Str("ad_id", ad.ID).Msg("audio ad missing detail row")
			continue
		}
		out = append(out, detail.Combine(ad))
	}

	if s.cache != nil {
		s.cache.SetAudioQueue(ctx, p, out)
	}
	return out, nil
}

// GetAd fetches one advertisement by ID.
func (s *Store) GetAd(ctx context.Context, id string) (*models.Advertisement, error) {
	if s.cache != nil {
		if ad, ok := s.cache.GetAd(ctx, id); ok {
			return ad, nil
		}
	}

	var ad models.Advertisement
	if err := s.db.WithContext(ctx).First(&ad, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if s.cache != nil {
		s.cache.SetAd(ctx, &ad)
	}
	return &ad, nil
}

// GetAudioAd fetches one audio ad with its detail row.
func (s *Store) GetAudioAd(ctx context.Context, id string) (*models.AudioAd, error) {
	ad, err := s.GetAd(ctx, id)
	if err != nil {
		return nil, err
	}

	var detail models.AudioAdDetail
	if err := s.db.WithContext(ctx).First(&detail, "advertisement_id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	combined := detail.Combine(*ad)
	return &combined, nil
}

// RecordServe bumps the ad's impression counter and the campaign's served
// total in one transaction.
func (s *Store) RecordServe(ctx context.Context, adID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ad models.Advertisement
		if err := tx.Select("id", "campaign_id").First(&ad, "id = ?", adID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		if err := tx.Model(&models.Advertisement{}).
			Where("id = ?", adID).
			UpdateColumn("current_impressions", gorm.Expr("current_impressions + 1")).Error; err != nil {
			return err
		}

		return tx.Model(&models.Campaign{}).
			Where("id = ?", ad.CampaignID).
			UpdateColumn("impressions_served", gorm.Expr("impressions_served + 1")).Error
	})
}

// Campaign CRUD

// CreateCampaign persists a new campaign.
func (s *Store) CreateCampaign(ctx context.Context, c *models.Campaign) error {
	return s.db.WithContext(ctx).Create(c).Error
}

// GetCampaign fetches one campaign by ID.
func (s *Store) GetCampaign(ctx context.Context, id string) (*models.Campaign, error) {
	var c models.Campaign
	if err := s.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// ListCampaigns returns all campaigns, newest first.
func (s *Store) ListCampaigns(ctx context.Context) ([]models.Campaign, error) {
	var out []models.Campaign
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateCampaign saves campaign changes and invalidates candidate caches.
func (s *Store) UpdateCampaign(ctx context.Context, c *models.Campaign) error {
	if err := s.db.WithContext(ctx).Save(c).Error; err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// DeleteCampaign removes a campaign. Campaigns with ads cannot be deleted.
func (s *Store) DeleteCampaign(ctx context.Context, id string) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Advertisement{}).
		Where("campaign_id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrCampaignHasAds
	}

	res := s.db.WithContext(ctx).Delete(&models.Campaign{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Advertisement CRUD

// CreateAd persists a new advertisement, optionally with its audio detail.
func (s *Store) CreateAd(ctx context.Context, ad *models.Advertisement, detail *models.AudioAdDetail) error {
	var campaign models.Campaign
	if err := s.db.WithContext(ctx).Select("id").First(&campaign, "id = ?", ad.CampaignID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrMissingCampaign
		}
		return err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(ad).Error; err != nil {
			return err
		}
		if detail != nil {
			detail.AdvertisementID = ad.ID
			return tx.Create(detail).Error
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx)
	return nil
}

// ListAds returns advertisements, optionally filtered by placement.
func (s *Store) ListAds(ctx context.Context, p models.Placement) ([]models.Advertisement, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if p != "" {
		q = q.Where("placement = ?", p)
	}
	var out []models.Advertisement
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateAd saves ad changes, replaces the audio detail when given, and
// invalidates caches.
func (s *Store) UpdateAd(ctx context.Context, ad *models.Advertisement, detail *models.AudioAdDetail) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(ad).Error; err != nil {
			return err
		}
		if detail != nil {
			detail.AdvertisementID = ad.ID
			return tx.Save(detail).Error
		}
		return nil
	})
	if err != nil {
		return err
	}

	if s.cache != nil {
		s.cache.InvalidateAd(ctx, ad.ID)
	}
	return nil
}

// DeleteAd removes an advertisement and its audio detail.
func (s *Store) DeleteAd(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&models.Advertisement{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Delete(&models.AudioAdDetail{}, "advertisement_id = ?", id).Error
	})
	if err != nil {
		return err
	}

	if s.cache != nil {
		s.cache.InvalidateAd(ctx, id)
	}
	return nil
}

// DeliveryReport computes pacing for one campaign.
func (s *Store) DeliveryReport(ctx context.Context, campaignID string) (*models.DeliveryReport, error) {
	campaign, err := s.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	adIDs := s.db.WithContext(ctx).Model(&models.Advertisement{}).
		Select("id").Where("campaign_id = ?", campaignID)

	var viewable int64
	if err := s.db.WithContext(ctx).Model(&models.Impression{}).
		Where("ad_id IN (?)", adIDs).
		Where("viewable = ?", true).
		Count(&viewable).Error; err != nil {
		return nil, err
	}

	var clicks int64
	if err := s.db.WithContext(ctx).Model(&models.ClickEvent{}).
		Where("ad_id IN (?)", adIDs).
		Count(&clicks).Error; err != nil {
		return nil, err
	}

	report := &models.DeliveryReport{
		CampaignID:        campaign.ID,
		CampaignName:      campaign.Name,
		AdvertiserName:    campaign.AdvertiserName,
		ImpressionBudget:  campaign.ImpressionBudget,
		ImpressionsServed: campaign.ImpressionsServed,
		ViewableCount:     viewable,
		ClickCount:        clicks,
		PeriodStart:       campaign.StartDate,
	}
	if campaign.EndDate != nil {
		report.PeriodEnd = *campaign.EndDate
	}
	if campaign.ImpressionsServed > 0 {
		report.CTR = float64(clicks) / float64(campaign.ImpressionsServed) * 100
	}

	switch {
	case campaign.ImpressionBudget == 0:
		report.Status = "on_track"
	case campaign.ImpressionsServed >= campaign.ImpressionBudget:
		report.DeliveryRate = 100
		report.Status = "delivered"
	default:
		report.DeliveryRate = float64(campaign.ImpressionsServed) / float64(campaign.ImpressionBudget) * 100
		report.Status = paceStatus(campaign, time.Now())
	}

	return report, nil
}

// paceStatus compares delivery progress against flight progress.
func paceStatus(c *models.Campaign, now time.Time) string {
	if c.EndDate == nil || !now.After(c.StartDate) {
		return "on_track"
	}
	flight := c.EndDate.Sub(c.StartDate)
	if flight <= 0 {
		return "on_track"
	}
	elapsed := now.Sub(c.StartDate)
	if elapsed > flight {
		elapsed = flight
	}

	expected := float64(c.ImpressionBudget) * (float64(elapsed) / float64(flight))
	if float64(c.ImpressionsServed) < expected*0.8 {
		return "behind"
	}
	return "on_track"
}

// SweepBudgets transitions campaigns that hit their budget or passed their end
// date. Returns the number of campaigns changed.
func (s *Store) SweepBudgets(ctx context.Context, now time.Time) (int, error) {
	var changed int

	res := s.db.WithContext(ctx).Model(&models.Campaign{}).
		Where("status = ?", models.CampaignStatusActive).
		Where("impression_budget > 0 AND impressions_served >= impression_budget").
		Update("status", models.CampaignStatusExhausted)
	if res.Error != nil {
		return 0, res.Error
	}
	changed += int(res.RowsAffected)

	res = s.db.WithContext(ctx).Model(&models.Campaign{}).
		Where("status = ?", models.CampaignStatusActive).
		Where("end_date IS NOT NULL AND end_date < ?", now).
		Update("status", models.CampaignStatusEnded)
	if res.Error != nil {
		return 0, res.Error
	}
	changed += int(res.RowsAffected)

	if changed > 0 {
		s.invalidate(ctx)
	}
	return changed, nil
}

func (s *Store) invalidate(ctx context.Context) {
	if s.cache != nil {
		s.cache.InvalidateCandidates(ctx)
	}
}
