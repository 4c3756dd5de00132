/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package placement carries the per-placement serving policies: frequency-cap
// windows, session maximums, audio queue limits, and viewability thresholds.
package placement

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/friendsincode/grimnir_ads/internal/models"
)

// Policy is the serving policy for one placement.
type Policy struct {
	// MinInterval is the minimum time between two ads in this placement for
	// the same session. Zero disables the interval cap.
	MinInterval time.Duration `yaml:"min_interval"`

	// SessionMax is the maximum ads per session for this placement.
	// Zero disables the session cap.
	SessionMax int `yaml:"session_max"`

	// Audio queue limits. Only meaningful for audio placements.
	MaxQueued          int           `yaml:"max_queued"`
	MinMidRollInterval time.Duration `yaml:"min_mid_roll_interval"`

	// Viewability qualification for banner/native impressions.
	ViewabilityThreshold float64       `yaml:"viewability_threshold"` // Visible-area fraction, 0..1
	MinViewableTime      time.Duration `yaml:"min_viewable_time"`
}

// Policies maps placements to their serving policy.
type Policies map[models.Placement]Policy

// Defaults returns the compiled-in policy set. A YAML policy file overrides
// individual placements; unknown placements in the file are rejected.
func Defaults() Policies {
	banner := Policy{
		MinInterval:          2 * time.Minute,
		SessionMax:           20,
		ViewabilityThreshold: 0.5,
		MinViewableTime:      time.Second,
	}
	native := Policy{
		MinInterval:          90 * time.Second,
		SessionMax:           30,
		ViewabilityThreshold: 0.5,
		MinViewableTime:      time.Second,
	}
	interstitial := Policy{
		MinInterval: 10 * time.Minute,
		SessionMax:  3,
	}
	audioGate := Policy{
		MinInterval: 5 * time.Minute,
		SessionMax:  10,
		MaxQueued:   2,
	}

	return Policies{
		models.PlacementHomeBanner:        banner,
		models.PlacementSearchBanner:      banner,
		models.PlacementStationListBanner: banner,
		models.PlacementPlayerBanner:      banner,

		models.PlacementSearchNative:      native,
		models.PlacementStationListNative: native,

		models.PlacementInterstitialStartup:  interstitial,
		models.PlacementInterstitialStations: interstitial,

		models.PlacementAudioPreRoll: audioGate,
		models.PlacementAudioMidRoll: {
			MinInterval:        5 * time.Minute,
			SessionMax:         12,
			MaxQueued:          2,
			MinMidRollInterval: 5 * time.Minute,
		},

		models.PlacementPreRoll: audioGate,
		models.PlacementMidRoll: {
			MinInterval:        5 * time.Minute,
			SessionMax:         12,
			MaxQueued:          2,
			MinMidRollInterval: 5 * time.Minute,
		},
		models.PlacementPostRoll:     audioGate,
		models.PlacementStationBreak: audioGate,
	}
}

// For returns the policy for a placement, falling back to a conservative
// default for placements missing from the set.
func (p Policies) For(placement models.Placement) Policy {
	if policy, ok := p[placement]; ok {
		return policy
	}
	return Policy{
		MinInterval: 5 * time.Minute,
		SessionMax:  5,
	}
}

// NextAvailable computes when the placement becomes eligible again after an
// ad was shown at lastAdAt. The zero time means "available now".
func (p Policy) NextAvailable(lastAdAt time.Time) time.Time {
	if p.MinInterval <= 0 || lastAdAt.IsZero() {
		return time.Time{}
	}
	return lastAdAt.Add(p.MinInterval)
}

// Load reads policy overrides from a YAML file and merges them over the
// defaults. An empty path returns the defaults unchanged.
func Load(path string) (Policies, error) {
	policies := Defaults()
	if path == "" {
		return policies, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read placement policy file: %w", err)
	}

	var overrides map[string]Policy
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("parse placement policy file: %w", err)
	}

	for name, policy := range overrides {
		placement := models.Placement(name)
		if !placement.Valid() {
			return nil, fmt.Errorf("unknown placement %q in policy file", name)
		}
		policies[placement] = policy
	}

	return policies, nil
}
