/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package resolver

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/friendsincode/grimnir_ads/internal/adstore"
	"github.com/friendsincode/grimnir_ads/internal/events"
	"github.com/friendsincode/grimnir_ads/internal/models"
	"github.com/friendsincode/grimnir_ads/internal/placement"
	"github.com/friendsincode/grimnir_ads/internal/premium"
	"github.com/friendsincode/grimnir_ads/internal/session"
)

type fixedPremium struct{ premium bool }

func (f fixedPremium) IsPremium(context.Context, premium.Check) (bool, error) {
	return f.premium, nil
}

type fixture struct {
	db       *gorm.DB
	store    *adstore.Store
	sessions *session.Tracker
	resolver *Resolver
}

func newFixture(t *testing.T, prem premium.Provider, policies placement.Policies) *fixture {
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

	if policies == nil {
		policies = placement.Defaults()
	}

	store := adstore.New(db, nil, zerolog.Nop())
	sessions := session.NewMemory(policies, time.Hour, zerolog.Nop())
	r := New(store, sessions, prem, policies, events.NewBus(), zerolog.Nop())
	r.pick = func(int) int { return 0 }

	return &fixture{db: db, store: store, sessions: sessions, resolver: r}
}

func (f *fixture) seedAd(t *testing.T, p models.Placement, mutate func(*models.Advertisement)) *models.Advertisement {
	t.Helper()
	c := models.NewCampaign("Flight", "Acme")
	c.Status = models.CampaignStatusActive
	c.StartDate = time.Now().Add(-time.Hour)
	if err := f.db.Create(c).Error; err != nil {
		t.Fatal(err)
	}

	ad := models.NewAdvertisement(c.ID, p, models.AdTypeImage)
	ad.Title = "<b>Coffee</b>"
	ad.ClickURL = "https://shop.example.com"
	ad.MediaURL = "https://cdn.example.com/a.jpg"
	ad.StartDate = time.Now().Add(-time.Hour)
	if mutate != nil {
		mutate(ad)
	}
	if err := f.db.Create(ad).Error; err != nil {
		t.Fatal(err)
	}
	return ad
}

func (f *fixture) seedAudioAd(t *testing.T, p models.Placement) *models.Advertisement {
	t.Helper()
	ad := f.seedAd(t, p, func(a *models.Advertisement) {
		a.AdType = models.AdTypeAudio
		a.MediaURL = "https://cdn.example.com/spot.mp3"
	})
	detail := &models.AudioAdDetail{
		AdvertisementID: ad.ID,
		DurationSeconds: 30,
	}
	if err := f.db.Create(detail).Error; err != nil {
		t.Fatal(err)
	}
	return ad
}

func TestResolvePremiumUserGetsNoAd(t *testing.T) {
	f := newFixture(t, fixedPremium{premium: true}, nil)
	f.seedAd(t, models.PlacementHomeBanner, nil)

	d, err := f.resolver.Resolve(context.Background(), Request{
		Placement: models.PlacementHomeBanner,
		SessionID: "s1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if d.Ad != nil || d.Reason != models.ReasonPremiumUser {
		t.Errorf("decision = %+v, want premium_user", d)
	}
}

func TestResolveServesSanitizedCopy(t *testing.T) {
	f := newFixture(t, fixedPremium{}, nil)
	ad := f.seedAd(t, models.PlacementHomeBanner, nil)

	d, err := f.resolver.Resolve(context.Background(), Request{
		Placement: models.PlacementHomeBanner,
		SessionID: "s1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if d.Ad == nil {
		t.Fatalf("expected an ad, got %+v", d)
	}
	if d.Ad.ID != ad.ID {
		t.Errorf("served wrong ad")
	}
	if strings.ContainsAny(d.Ad.Title, "<>") {
		t.Errorf("title not sanitized: %q", d.Ad.Title)
	}

	// Stored row keeps the raw title.
	var stored models.Advertisement
	f.db.First(&stored, "id = ?", ad.ID)
	if stored.Title != "<b>Coffee</b>" {
		t.Errorf("stored title mutated: %q", stored.Title)
	}
}

func TestResolveCommitsOnlyViaCommit(t *testing.T) {
	f := newFixture(t, fixedPremium{}, nil)
	ad := f.seedAd(t, models.PlacementHomeBanner, nil)
	ctx := context.Background()

	d, err := f.resolver.Resolve(ctx, Request{
		Placement: models.PlacementHomeBanner,
		SessionID: "s1",
	})
	if err != nil || d.Ad == nil {
		t.Fatalf("resolve failed (d=%+v err=%v)", d, err)
	}

	// Resolving alone must leave counters and session state untouched.
	var stored models.Advertisement
	f.db.First(&stored, "id = ?", ad.ID)
	if stored.CurrentImpressions != 0 {
		t.Errorf("resolve counted a serve: %d", stored.CurrentImpressions)
	}
	st, err := f.sessions.Status(ctx, "s1", models.PlacementHomeBanner)
	if err != nil {
		t.Fatal(err)
	}
	if st.Count != 0 {
		t.Errorf("resolve touched session state: %+v", st)
	}

	if err := f.resolver.Commit(ctx, "s1", models.PlacementHomeBanner, d.Ad.ID); err != nil {
		t.Fatal(err)
	}
	f.db.First(&stored, "id = ?", ad.ID)
	if stored.CurrentImpressions != 1 {
		t.Errorf("impressions after commit = %d, want 1", stored.CurrentImpressions)
	}
	st, err = f.sessions.Status(ctx, "s1", models.PlacementHomeBanner)
	if err != nil {
		t.Fatal(err)
	}
	if st.Count != 1 {
		t.Errorf("session count after commit = %d, want 1", st.Count)
	}
}

func TestResolveFrequencyCap(t *testing.T) {
	policies := placement.Policies{
		models.PlacementHomeBanner: {MinInterval: 2 * time.Minute, SessionMax: 10},
	}
	f := newFixture(t, fixedPremium{}, policies)
	f.seedAd(t, models.PlacementHomeBanner, nil)
	ctx := context.Background()

	first, err := f.resolver.Resolve(ctx, Request{Placement: models.PlacementHomeBanner, SessionID: "s1"})
	if err != nil || first.Ad == nil {
		t.Fatalf("first resolve should serve (d=%+v err=%v)", first, err)
	}
	if err := f.resolver.Commit(ctx, "s1", models.PlacementHomeBanner, first.Ad.ID); err != nil {
		t.Fatal(err)
	}

	second, err := f.resolver.Resolve(ctx, Request{Placement: models.PlacementHomeBanner, SessionID: "s1"})
	if err != nil {
		t.Fatal(err)
	}
	if second.Ad != nil || second.Reason != models.ReasonFrequencyCapReached {
		t.Fatalf("second resolve = %+v, want frequency cap", second)
	}
	if !second.FrequencyCapped || second.NextAvailableAt == nil {
		t.Errorf("capped decision should carry next available time: %+v", second)
	}

	// A different session is unaffected.
	other, err := f.resolver.Resolve(ctx, Request{Placement: models.PlacementHomeBanner, SessionID: "s2"})
	if err != nil || other.Ad == nil {
		t.Errorf("other session should serve (d=%+v err=%v)", other, err)
	}
}

func TestResolveGeoRestricted(t *testing.T) {
	f := newFixture(t, fixedPremium{}, nil)
	f.seedAd(t, models.PlacementHomeBanner, func(a *models.Advertisement) {
		a.TargetCountries = models.StringList{"DE", "AT"}
	})

	d, err := f.resolver.Resolve(context.Background(), Request{
		Placement: models.PlacementHomeBanner,
		SessionID: "s1",
		Context:   models.AdContext{Country: "US"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if d.Reason != models.ReasonGeoRestricted {
		t.Errorf("reason = %q, want geo_restricted", d.Reason)
	}
}

func TestResolveTargetingMatch(t *testing.T) {
	f := newFixture(t, fixedPremium{}, nil)
	f.seedAd(t, models.PlacementHomeBanner, func(a *models.Advertisement) {
		a.TargetCountries = models.StringList{"DE"}
		a.TargetGenres = models.StringList{"jazz"}
	})

	d, err := f.resolver.Resolve(context.Background(), Request{
		Placement: models.PlacementHomeBanner,
		SessionID: "s1",
		Context:   models.AdContext{Country: "de", Genre: "Jazz"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if d.Ad == nil {
		t.Errorf("case-insensitive targeting should match, got %+v", d)
	}
}

func TestResolveNoAdsAvailable(t *testing.T) {
	f := newFixture(t, fixedPremium{}, nil)

	d, err := f.resolver.Resolve(context.Background(), Request{
		Placement: models.PlacementHomeBanner,
		SessionID: "s1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if d.Reason != models.ReasonNoAdsAvailable {
		t.Errorf("reason = %q, want no_ads_available", d.Reason)
	}
}

func TestResolveUnknownPlacement(t *testing.T) {
	f := newFixture(t, fixedPremium{}, nil)

	d, err := f.resolver.Resolve(context.Background(), Request{Placement: "popup_takeover"})
	if err == nil {
		t.Error("expected error for unknown placement")
	}
	if d.Reason != models.ReasonError {
		t.Errorf("reason = %q, want error", d.Reason)
	}
}

func TestResolveQueueHonorsLimit(t *testing.T) {
	policies := placement.Policies{
		models.PlacementPreRoll: {SessionMax: 100, MaxQueued: 2},
	}
	f := newFixture(t, fixedPremium{}, policies)
	for i := 0; i < 4; i++ {
		f.seedAudioAd(t, models.PlacementPreRoll)
	}

	ads, d, err := f.resolver.ResolveQueue(context.Background(), Request{
		Placement: models.PlacementPreRoll,
		SessionID: "s1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if d.Reason != "" {
		t.Fatalf("unexpected no-ad reason %q", d.Reason)
	}
	if len(ads) != 2 {
		t.Errorf("queue length = %d, want 2", len(ads))
	}
	for _, ad := range ads {
		if ad.DurationSeconds != 30 {
			t.Errorf("audio detail missing: %+v", ad)
		}
	}
}

func TestResolveQueueRejectsBannerPlacement(t *testing.T) {
	f := newFixture(t, fixedPremium{}, nil)

	if _, _, err := f.resolver.ResolveQueue(context.Background(), Request{
		Placement: models.PlacementHomeBanner,
	}); err == nil {
		t.Error("expected error for non-audio placement")
	}
}

func TestResolveQueuePremium(t *testing.T) {
	f := newFixture(t, fixedPremium{premium: true}, nil)
	f.seedAudioAd(t, models.PlacementPreRoll)

	ads, d, err := f.resolver.ResolveQueue(context.Background(), Request{
		Placement: models.PlacementPreRoll,
		SessionID: "s1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(ads) != 0 || d.Reason != models.ReasonPremiumUser {
		t.Errorf("premium queue = (%d ads, %q)", len(ads), d.Reason)
	}
}
