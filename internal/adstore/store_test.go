/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package adstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/friendsincode/grimnir_ads/internal/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Campaign{},
		&models.Advertisement{},
		&models.AudioAdDetail{},
		&models.Impression{},
		&models.ClickEvent{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedCampaign(t *testing.T, db *gorm.DB, status models.CampaignStatus, budget int64) *models.Campaign {
	t.Helper()
	c := models.NewCampaign("Test Flight", "Acme Coffee")
	c.Status = status
	c.ImpressionBudget = budget
	c.StartDate = time.Now().Add(-time.Hour)
	if err := db.Create(c).Error; err != nil {
		t.Fatalf("seed campaign: %v", err)
	}
	return c
}

func seedAd(t *testing.T, db *gorm.DB, campaignID string, p models.Placement) *models.Advertisement {
	t.Helper()
	ad := models.NewAdvertisement(campaignID, p, models.AdTypeImage)
	ad.Title = "Banner"
	ad.ClickURL = "https://shop.example.com"
	ad.MediaURL = "https://cdn.example.com/a.jpg"
	ad.StartDate = time.Now().Add(-time.Hour)
	if err := db.Create(ad).Error; err != nil {
		t.Fatalf("seed ad: %v", err)
	}
	return ad
}

func TestCandidatesFiltering(t *testing.T) {
	db := openTestDB(t)
	store := New(db, nil, zerolog.Nop())
	ctx := context.Background()
	now := time.Now()

	active := seedCampaign(t, db, models.CampaignStatusActive, 0)
	paused := seedCampaign(t, db, models.CampaignStatusPaused, 0)

	good := seedAd(t, db, active.ID, models.PlacementHomeBanner)
	seedAd(t, db, paused.ID, models.PlacementHomeBanner)
	seedAd(t, db, active.ID, models.PlacementSearchBanner)

	inactive := seedAd(t, db, active.ID, models.PlacementHomeBanner)
	db.Model(inactive).Update("is_active", false)

	expired := seedAd(t, db, active.ID, models.PlacementHomeBanner)
	past := now.Add(-time.Minute)
	db.Model(expired).Update("end_date", past)

	capped := seedAd(t, db, active.ID, models.PlacementHomeBanner)
	db.Model(capped).Updates(map[string]any{"max_impressions": 10, "current_impressions": 10})

	ads, err := store.Candidates(ctx, models.PlacementHomeBanner, now)
	if err != nil {
		t.Fatalf("Candidates: %v", err)
	}
	if len(ads) != 1 || ads[0].ID != good.ID {
		t.Errorf("expected only the deliverable ad, got %d ads", len(ads))
	}
}

func TestCandidatesExcludeExhaustedCampaign(t *testing.T) {
	db := openTestDB(t)
	store := New(db, nil, zerolog.Nop())
	ctx := context.Background()

	c := seedCampaign(t, db, models.CampaignStatusActive, 100)
	seedAd(t, db, c.ID, models.PlacementHomeBanner)
	db.Model(c).Update("impressions_served", 100)

	ads, err := store.Candidates(ctx, models.PlacementHomeBanner, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if len(ads) != 0 {
		t.Errorf("budget-exhausted campaign should serve nothing, got %d", len(ads))
	}
}

func TestAudioCandidatesSkipMissingDetail(t *testing.T) {
	db := openTestDB(t)
	store := New(db, nil, zerolog.Nop())
	ctx := context.Background()

	c := seedCampaign(t, db, models.CampaignStatusActive, 0)

	withDetail := seedAd(t, db, c.ID, models.PlacementPreRoll)
	withDetail.AdType = models.AdTypeAudio
	db.Save(withDetail)
	detail := &models.AudioAdDetail{
		AdvertisementID: withDetail.ID,
		DurationSeconds:  30,
		SkipAfterSeconds: 5,
	}
	if err := db.Create(detail).Error; err != nil {
		t.Fatal(err)
	}

	// Second ad has no detail row and must be dropped.
	seedAd(t, db, c.ID, models.PlacementPreRoll)

	ads, err := store.AudioCandidates(ctx, models.PlacementPreRoll, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if len(ads) != 1 {
		t.Fatalf("expected 1 audio ad, got %d", len(ads))
	}
	if ads[0].DurationSeconds != 30 || ads[0].SkipAfterSeconds != 5 {
		t.Errorf("detail not combined: %+v", ads[0])
	}
}

func TestRecordServeIncrementsBothCounters(t *testing.T) {
	db := openTestDB(t)
	store := New(db, nil, zerolog.Nop())
	ctx := context.Background()

	c := seedCampaign(t, db, models.CampaignStatusActive, 0)
	ad := seedAd(t, db, c.ID, models.PlacementHomeBanner)

	if err := store.RecordServe(ctx, ad.ID); err != nil {
		t.Fatalf("RecordServe: %v", err)
	}

	var gotAd models.Advertisement
	db.First(&gotAd, "id = ?", ad.ID)
	if gotAd.CurrentImpressions != 1 {
		t.Errorf("ad impressions = %d, want 1", gotAd.CurrentImpressions)
	}

	var gotCampaign models.Campaign
	db.First(&gotCampaign, "id = ?", c.ID)
	if gotCampaign.ImpressionsServed != 1 {
		t.Errorf("campaign served = %d, want 1", gotCampaign.ImpressionsServed)
	}
}

func TestRecordServeUnknownAd(t *testing.T) {
	db := openTestDB(t)
	store := New(db, nil, zerolog.Nop())

	err := store.RecordServe(context.Background(), uuid.NewString())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteCampaignWithAds(t *testing.T) {
	db := openTestDB(t)
	store := New(db, nil, zerolog.Nop())
	ctx := context.Background()

	c := seedCampaign(t, db, models.CampaignStatusActive, 0)
	seedAd(t, db, c.ID, models.PlacementHomeBanner)

	if err := store.DeleteCampaign(ctx, c.ID); !errors.Is(err, ErrCampaignHasAds) {
		t.Errorf("expected ErrCampaignHasAds, got %v", err)
	}
}

func TestCreateAdRequiresCampaign(t *testing.T) {
	db := openTestDB(t)
	store := New(db, nil, zerolog.Nop())

	ad := models.NewAdvertisement(uuid.NewString(), models.PlacementHomeBanner, models.AdTypeImage)
	ad.Title = "Orphan"
	ad.ClickURL = "https://example.com"

	if err := store.CreateAd(context.Background(), ad, nil); !errors.Is(err, ErrMissingCampaign) {
		t.Errorf("expected ErrMissingCampaign, got %v", err)
	}
}

func TestDeliveryReport(t *testing.T) {
	db := openTestDB(t)
	store := New(db, nil, zerolog.Nop())
	ctx := context.Background()

	c := seedCampaign(t, db, models.CampaignStatusActive, 1000)
	ad := seedAd(t, db, c.ID, models.PlacementHomeBanner)
	db.Model(c).Update("impressions_served", 200)

	imp := models.NewImpression(ad.ID, ad.Placement, "s1")
	imp.Viewable = true
	if err := db.Create(imp).Error; err != nil {
		t.Fatal(err)
	}
	if err := db.Create(models.NewClickEvent(imp.ID, ad.ID)).Error; err != nil {
		t.Fatal(err)
	}

	report, err := store.DeliveryReport(ctx, c.ID)
	if err != nil {
		t.Fatalf("DeliveryReport: %v", err)
	}

	if report.ImpressionsServed != 200 {
		t.Errorf("served = %d", report.ImpressionsServed)
	}
	if report.DeliveryRate != 20 {
		t.Errorf("delivery rate = %v, want 20", report.DeliveryRate)
	}
	if report.ViewableCount != 1 || report.ClickCount != 1 {
		t.Errorf("viewable=%d clicks=%d", report.ViewableCount, report.ClickCount)
	}
	if report.CTR != 0.5 {
		t.Errorf("CTR = %v, want 0.5", report.CTR)
	}
}

func TestSweepBudgets(t *testing.T) {
	db := openTestDB(t)
	store := New(db, nil, zerolog.Nop())
	ctx := context.Background()
	now := time.Now()

	exhausted := seedCampaign(t, db, models.CampaignStatusActive, 50)
	db.Model(exhausted).Update("impressions_served", 50)

	endedAt := now.Add(-time.Hour)
	ended := seedCampaign(t, db, models.CampaignStatusActive, 0)
	db.Model(ended).Update("end_date", endedAt)

	healthy := seedCampaign(t, db, models.CampaignStatusActive, 100)

	changed, err := store.SweepBudgets(ctx, now)
	if err != nil {
		t.Fatalf("SweepBudgets: %v", err)
	}
	if changed != 2 {
		t.Errorf("changed = %d, want 2", changed)
	}

	var got models.Campaign
	db.First(&got, "id = ?", exhausted.ID)
	if got.Status != models.CampaignStatusExhausted {
		t.Errorf("exhausted campaign status = %s", got.Status)
	}
	got = models.Campaign{}
	db.First(&got, "id = ?", ended.ID)
	if got.Status != models.CampaignStatusEnded {
		t.Errorf("ended campaign status = %s", got.Status)
	}
	got = models.Campaign{}
	db.First(&got, "id = ?", healthy.ID)
	if got.Status != models.CampaignStatusActive {
		t.Errorf("healthy campaign status = %s", got.Status)
	}
}
