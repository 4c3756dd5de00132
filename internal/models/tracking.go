/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"time"

	"github.com/google/uuid"
)

// Impression is a recorded instance of an ad being shown. The server-issued
// ID is the opaque token a client must present to correlate a later click.
type Impression struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	AdID      string    `gorm:"type:uuid;index;not null" json:"ad_id"`
	Placement Placement `gorm:"type:varchar(64);index;not null" json:"placement"`
	SessionID string    `gorm:"type:varchar(64);index" json:"session_id,omitempty"`

	Country    string `gorm:"type:varchar(8)" json:"country,omitempty"`
	StationID  string `gorm:"type:uuid" json:"station_id,omitempty"`
	DeviceType string `gorm:"type:varchar(32)" json:"device_type,omitempty"`
	UserAgent  string `gorm:"type:text" json:"user_agent,omitempty"`
	RemoteIP   string `gorm:"type:varchar(64)" json:"remote_ip,omitempty"`

	// Viewability accounting. Viewable flips true once the cumulative visible
	// time crosses the placement's minimum.
	Viewable             bool  `gorm:"not null;default:false" json:"viewable"`
	VisibilityDurationMS int64 `gorm:"not null;default:0" json:"visibility_duration_ms"`

	RiskScore  float64    `gorm:"not null;default:0" json:"risk_score"`
	FraudFlags StringList `gorm:"type:text" json:"fraud_flags,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (Impression) TableName() string {
	return "ad_impressions"
}

// NewImpression creates an impression for an ad shown in a placement.
func NewImpression(adID string, placement Placement, sessionID string) *Impression {
	return &Impression{
		ID:        uuid.NewString(),
		AdID:      adID,
		Placement: placement,
		SessionID: sessionID,
	}
}

// ClickEvent records a click correlated to a prior impression.
type ClickEvent struct {
	ID           string `gorm:"type:uuid;primaryKey" json:"id"`
	ImpressionID string `gorm:"type:uuid;index;not null" json:"impression_id"`
	AdID         string `gorm:"type:uuid;index;not null" json:"ad_id"`

	UserAgent string `gorm:"type:text" json:"user_agent,omitempty"`
	RemoteIP  string `gorm:"type:varchar(64)" json:"remote_ip,omitempty"`

	RiskScore  float64    `gorm:"not null;default:0" json:"risk_score"`
	FraudFlags StringList `gorm:"type:text" json:"fraud_flags,omitempty"`

	// Relationships
	Impression *Impression `gorm:"foreignKey:ImpressionID" json:"impression,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the table name for GORM.
func (ClickEvent) TableName() string {
	return "ad_clicks"
}

// NewClickEvent creates a click record against an impression.
func NewClickEvent(impressionID, adID string) *ClickEvent {
	return &ClickEvent{
		ID:           uuid.NewString(),
		ImpressionID: impressionID,
		AdID:         adID,
	}
}

// FraudDetection is the fraud signal block returned to tracking callers.
type FraudDetection struct {
	RiskScore float64  `json:"risk_score"`
	Flags     []string `json:"flags,omitempty"`
}

// DeliveryReport summarizes how a campaign is pacing against its budget.
type DeliveryReport struct {
	CampaignID        string     `json:"campaign_id"`
	CampaignName      string     `json:"campaign_name"`
	AdvertiserName    string     `json:"advertiser_name"`
	ImpressionBudget  int64      `json:"impression_budget"`
	ImpressionsServed int64      `json:"impressions_served"`
	ViewableCount     int64      `json:"viewable_count"`
	ClickCount        int64      `json:"click_count"`
	DeliveryRate      float64    `json:"delivery_rate"` // Percentage of budget served
	CTR               float64    `json:"ctr"`           // Clicks per impression, percentage
	Status            string     `json:"status"`        // "on_track", "behind", "delivered"
	PeriodStart       time.Time  `json:"period_start"`
	PeriodEnd         time.Time  `json:"period_end"`
}
