/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

// AudioAd is the audio-placement specialization of Advertisement. The extra
// fields describe playback behavior and the tracking URLs a player fires at
// each lifecycle point.
type AudioAd struct {
	Advertisement

	DurationSeconds int `json:"duration_seconds"`
	BitrateKbps     int `json:"bitrate_kbps,omitempty"`

	// SkipAfterSeconds is how long the ad must play before skip becomes
	// available. 0 means unskippable.
	SkipAfterSeconds int `json:"skip_after_seconds,omitempty"`

	ImpressionURL string `json:"impression_url,omitempty"`
	StartURL      string `json:"start_url,omitempty"`
	CompleteURL   string `json:"complete_url,omitempty"`

	// Optional companion banner shown alongside the audio spot.
	CompanionImageURL string `json:"companion_image_url,omitempty"`
	CompanionClickURL string `json:"companion_click_url,omitempty"`
	CompanionWidth    int    `json:"companion_width,omitempty"`
	CompanionHeight   int    `json:"companion_height,omitempty"`
}

// AudioAdDetail carries the audio-only columns, stored one-to-one with an
// advertisement row.
type AudioAdDetail struct {
	AdvertisementID string `gorm:"type:uuid;primaryKey" json:"advertisement_id"`

	DurationSeconds  int `gorm:"not null" json:"duration_seconds"`
	BitrateKbps      int `json:"bitrate_kbps,omitempty"`
	SkipAfterSeconds int `json:"skip_after_seconds,omitempty"`

	ImpressionURL string `gorm:"type:text" json:"impression_url,omitempty"`
	StartURL      string `gorm:"type:text" json:"start_url,omitempty"`
	CompleteURL   string `gorm:"type:text" json:"complete_url,omitempty"`

	CompanionImageURL string `gorm:"type:text" json:"companion_image_url,omitempty"`
	CompanionClickURL string `gorm:"type:text" json:"companion_click_url,omitempty"`
	CompanionWidth    int    `json:"companion_width,omitempty"`
	CompanionHeight   int    `json:"companion_height,omitempty"`

	// Relationships
	Advertisement *Advertisement `gorm:"foreignKey:AdvertisementID" json:"advertisement,omitempty"`
}

// TableName returns the table name for GORM.
func (AudioAdDetail) TableName() string {
	return "audio_ad_details"
}

// Combine merges the advertisement row and its audio detail into an AudioAd.
func (d *AudioAdDetail) Combine(ad Advertisement) AudioAd {
	return AudioAd{
		Advertisement:     ad,
		DurationSeconds:   d.DurationSeconds,
		BitrateKbps:       d.BitrateKbps,
		SkipAfterSeconds:  d.SkipAfterSeconds,
		ImpressionURL:     d.ImpressionURL,
		StartURL:          d.StartURL,
		CompleteURL:       d.CompleteURL,
		CompanionImageURL: d.CompanionImageURL,
		CompanionClickURL: d.CompanionClickURL,
		CompanionWidth:    d.CompanionWidth,
		CompanionHeight:   d.CompanionHeight,
	}
}
