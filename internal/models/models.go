/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"time"

	"github.com/google/uuid"
)

// AdType enumerates creative formats.
type AdType string

const (
	AdTypeImage AdType = "image"
	AdTypeVideo AdType = "video"
	AdTypeAudio AdType = "audio"
	AdTypeHTML  AdType = "html"
)

// Valid reports whether the ad type is a known format.
func (t AdType) Valid() bool {
	switch t {
	case AdTypeImage, AdTypeVideo, AdTypeAudio, AdTypeHTML:
		return true
	}
	return false
}

// Placement identifies a named slot in the UI or audio stream where an ad may appear.
// Each placement is independent for frequency-cap accounting.
type Placement string

const (
	PlacementHomeBanner            Placement = "home_banner"
	PlacementSearchBanner          Placement = "search_banner"
	PlacementStationListBanner     Placement = "station_list_banner"
	PlacementPlayerBanner          Placement = "player_banner"
	PlacementSearchNative          Placement = "search_native"
	PlacementStationListNative     Placement = "station_list_native"
	PlacementAudioPreRoll          Placement = "audio_pre_roll"
	PlacementAudioMidRoll          Placement = "audio_mid_roll"
	PlacementInterstitialStartup   Placement = "interstitial_startup"
	PlacementInterstitialStations  Placement = "interstitial_between_stations"
	PlacementPreRoll               Placement = "pre_roll"
	PlacementMidRoll               Placement = "mid_roll"
	PlacementPostRoll              Placement = "post_roll"
	PlacementStationBreak          Placement = "station_break"
)

// AllPlacements lists every known placement identifier.
var AllPlacements = []Placement{
	PlacementHomeBanner,
	PlacementSearchBanner,
	PlacementStationListBanner,
	PlacementPlayerBanner,
	PlacementSearchNative,
	PlacementStationListNative,
	PlacementAudioPreRoll,
	PlacementAudioMidRoll,
	PlacementInterstitialStartup,
	PlacementInterstitialStations,
	PlacementPreRoll,
	PlacementMidRoll,
	PlacementPostRoll,
	PlacementStationBreak,
}

// Valid reports whether the placement is a known slot identifier.
func (p Placement) Valid() bool {
	for _, known := range AllPlacements {
		if p == known {
			return true
		}
	}
	return false
}

// IsAudio reports whether the placement belongs to the audio ad stream.
func (p Placement) IsAudio() bool {
	switch p {
	case PlacementAudioPreRoll, PlacementAudioMidRoll,
		PlacementPreRoll, PlacementMidRoll, PlacementPostRoll, PlacementStationBreak:
		return true
	}
	return false
}

// CampaignStatus represents the lifecycle state of a campaign.
type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusActive    CampaignStatus = "active"
	CampaignStatusPaused    CampaignStatus = "paused"
	CampaignStatusExhausted CampaignStatus = "exhausted"
	CampaignStatusEnded     CampaignStatus = "ended"
)

// Campaign groups advertisements under a single advertiser flight with an
// impression budget.
type Campaign struct {
	ID                string         `gorm:"type:uuid;primaryKey" json:"id"`
	Name              string         `gorm:"type:varchar(255);not null" json:"name"`
	AdvertiserName    string         `gorm:"type:varchar(255);not null" json:"advertiser_name"`
	Status            CampaignStatus `gorm:"type:varchar(32);not null;default:'draft'" json:"status"`
	ImpressionBudget  int64          `json:"impression_budget,omitempty"` // 0 = unlimited
	ImpressionsServed int64          `gorm:"not null;default:0" json:"impressions_served"`
	StartDate         time.Time      `gorm:"not null" json:"start_date"`
	EndDate           *time.Time     `json:"end_date,omitempty"`
	Notes             string         `gorm:"type:text" json:"notes,omitempty"`

	// Relationships
	Advertisements []Advertisement `gorm:"foreignKey:CampaignID" json:"advertisements,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (Campaign) TableName() string {
	return "ad_campaigns"
}

// NewCampaign creates a campaign starting now.
func NewCampaign(name, advertiserName string) *Campaign {
	return &Campaign{
		ID:             uuid.NewString(),
		Name:           name,
		AdvertiserName: advertiserName,
		Status:         CampaignStatusDraft,
		StartDate:      time.Now(),
	}
}

// InFlight reports whether the campaign is deliverable at the given instant.
func (c *Campaign) InFlight(now time.Time) bool {
	if c.Status != CampaignStatusActive {
		return false
	}
	if now.Before(c.StartDate) {
		return false
	}
	if c.EndDate != nil && now.After(*c.EndDate) {
		return false
	}
	if c.ImpressionBudget > 0 && c.ImpressionsServed >= c.ImpressionBudget {
		return false
	}
	return true
}

// Advertisement is an approved creative unit. An Advertisement must pass
// sanitization before it leaves the resolver boundary toward any renderer.
type Advertisement struct {
	ID             string    `gorm:"type:uuid;primaryKey" json:"id"`
	CampaignID     string    `gorm:"type:uuid;index;not null" json:"campaign_id"`
	Title          string    `gorm:"type:varchar(255);not null" json:"title"`
	Description    string    `gorm:"type:text" json:"description,omitempty"`
	AdvertiserName string    `gorm:"type:varchar(255)" json:"advertiser_name"`
	AdType         AdType    `gorm:"type:varchar(16);not null" json:"ad_type"`
	MediaURL       string    `gorm:"type:text" json:"media_url,omitempty"`
	ClickURL       string    `gorm:"type:text;not null" json:"click_url"`
	Width          int       `json:"width,omitempty"`
	Height         int       `json:"height,omitempty"`
	Placement      Placement `gorm:"type:varchar(64);index;not null" json:"placement"`

	// Targeting constraints. Empty list means untargeted for that dimension.
	TargetCountries StringList `gorm:"type:text" json:"target_countries,omitempty"`
	TargetGenres    StringList `gorm:"type:text" json:"target_genres,omitempty"`
	TargetStations  StringList `gorm:"type:text" json:"target_stations,omitempty"`

	// Frequency constraint. 0 = uncapped.
	MaxImpressions     int64 `json:"max_impressions,omitempty"`
	CurrentImpressions int64 `gorm:"not null;default:0" json:"current_impressions"`

	IsActive  bool       `gorm:"not null;default:true" json:"is_active"`
	StartDate time.Time  `gorm:"not null" json:"start_date"`
	EndDate   *time.Time `json:"end_date,omitempty"`

	// Relationships
	Campaign *Campaign `gorm:"foreignKey:CampaignID" json:"campaign,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (Advertisement) TableName() string {
	return "advertisements"
}

// NewAdvertisement creates an active advertisement for a campaign and placement.
func NewAdvertisement(campaignID string, placement Placement, adType AdType) *Advertisement {
	return &Advertisement{
		ID:         uuid.NewString(),
		CampaignID: campaignID,
		Placement:  placement,
		AdType:     adType,
		IsActive:   true,
		StartDate:  time.Now(),
	}
}

// Deliverable reports whether the ad itself (ignoring campaign state) may serve
// at the given instant.
func (a *Advertisement) Deliverable(now time.Time) bool {
	if !a.IsActive {
		return false
	}
	if now.Before(a.StartDate) {
		return false
	}
	if a.EndDate != nil && now.After(*a.EndDate) {
		return false
	}
	if a.MaxImpressions > 0 && a.CurrentImpressions >= a.MaxImpressions {
		return false
	}
	return true
}

// AdContext is the ephemeral request-time targeting input. It is never
// persisted; callers supply it fresh on every decision request.
type AdContext struct {
	UserID     string `json:"user_id,omitempty"`
	Country    string `json:"country,omitempty"`
	Language   string `json:"language,omitempty"`
	Genre      string `json:"genre,omitempty"`
	StationID  string `json:"station_id,omitempty"`
	DeviceType string `json:"device_type,omitempty"`
}

// NoAdReason encodes why no ad was returned for a decision request.
type NoAdReason string

const (
	ReasonPremiumUser         NoAdReason = "premium_user"
	ReasonFrequencyCapReached NoAdReason = "frequency_cap_reached"
	ReasonGeoRestricted       NoAdReason = "geo_restricted"
	ReasonNoAdsAvailable      NoAdReason = "no_ads_available"
	ReasonError               NoAdReason = "error"
)
