/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package placement

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/friendsincode/grimnir_ads/internal/models"
)

func TestDefaultsCoverAllPlacements(t *testing.T) {
	policies := Defaults()
	for _, p := range models.AllPlacements {
		if _, ok := policies[p]; !ok {
			t.Errorf("no default policy for placement %s", p)
		}
	}
}

func TestForFallsBackForUnknownPlacement(t *testing.T) {
	policies := Defaults()
	policy := policies.For(models.Placement("mystery_slot"))
	if policy.SessionMax == 0 && policy.MinInterval == 0 {
		t.Error("fallback policy should be capped, not wide open")
	}
}

func TestNextAvailable(t *testing.T) {
	policy := Policy{MinInterval: 2 * time.Minute}
	last := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	next := policy.NextAvailable(last)
	if !next.Equal(last.Add(2 * time.Minute)) {
		t.Errorf("NextAvailable = %v, want %v", next, last.Add(2*time.Minute))
	}

	if !(Policy{}).NextAvailable(last).IsZero() {
		t.Error("zero MinInterval should report available now")
	}
	if !policy.NextAvailable(time.Time{}).IsZero() {
		t.Error("zero lastAdAt should report available now")
	}
}

func TestLoadOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "placements.yml")
	content := []byte("home_banner:\n  min_interval: 30s\n  session_max: 5\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}

	policies, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	got := policies.For(models.PlacementHomeBanner)
	if got.MinInterval != 30*time.Second || got.SessionMax != 5 {
		t.Errorf("override not applied: %+v", got)
	}

	// Untouched placements keep their defaults.
	search := policies.For(models.PlacementSearchBanner)
	if search.MinInterval != 2*time.Minute {
		t.Errorf("unrelated placement changed: %+v", search)
	}
}

func TestLoadRejectsUnknownPlacement(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "placements.yml")
	if err := os.WriteFile(path, []byte("popup_takeover:\n  session_max: 1\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected error for unknown placement name")
	}
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	policies, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") failed: %v", err)
	}
	if len(policies) != len(Defaults()) {
		t.Error("empty path should return defaults")
	}
}
