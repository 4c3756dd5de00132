/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package audit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/friendsincode/grimnir_ads/internal/events"
	"github.com/friendsincode/grimnir_ads/internal/models"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.AuditLog{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewService(db, events.NewBus(), zerolog.Nop())
}

func TestLogEntryExtractsResource(t *testing.T) {
	s := newTestService(t)

	s.logEntry(context.Background(), models.AuditActionAdCreate, events.Payload{
		"ad_id":      "ad-1",
		"placement":  "home_banner",
		"ip_address": "192.0.2.10",
	})

	logs, total, err := s.Query(context.Background(), QueryFilters{})
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 {
		t.Fatalf("total = %d, want 1", total)
	}
	entry := logs[0]
	if entry.ResourceType != "advertisement" || entry.ResourceID != "ad-1" {
		t.Errorf("resource = %s/%s, want advertisement/ad-1", entry.ResourceType, entry.ResourceID)
	}
	if entry.IPAddress != "192.0.2.10" {
		t.Errorf("ip = %q", entry.IPAddress)
	}
	if entry.Details["placement"] != "home_banner" {
		t.Errorf("details placement = %v", entry.Details["placement"])
	}
	if _, shadowed := entry.Details["ad_id"]; shadowed {
		t.Error("ad_id should not be duplicated into details")
	}
}

func TestQueryFilters(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	for i, action := range []models.AuditAction{
		models.AuditActionCampaignCreate,
		models.AuditActionCampaignDelete,
		models.AuditActionAdCreate,
	} {
		entry := models.NewAuditLog(action)
		entry.ResourceType = "campaign"
		entry.ResourceID = "c1"
		entry.Timestamp = time.Now().Add(time.Duration(i) * time.Minute)
		if err := s.Log(ctx, entry); err != nil {
			t.Fatal(err)
		}
	}

	action := models.AuditActionCampaignDelete
	logs, total, err := s.Query(ctx, QueryFilters{Action: &action})
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || logs[0].Action != action {
		t.Errorf("action filter returned %d entries", total)
	}

	logs, total, err = s.Query(ctx, QueryFilters{ResourceID: "c1", Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}
	if len(logs) != 2 {
		t.Errorf("limited entries = %d, want 2", len(logs))
	}
	// Newest first.
	if len(logs) == 2 && logs[0].Timestamp.Before(logs[1].Timestamp) {
		t.Error("entries not ordered newest first")
	}
}

func TestStartPersistsBusEvents(t *testing.T) {
	s := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	// Give the subscriptions a moment to register.
	time.Sleep(50 * time.Millisecond)
	s.bus.Publish(events.EventAuditCampaignCreate, events.Payload{"campaign_id": "c9"})

	deadline := time.Now().Add(2 * time.Second)
	for {
		_, total, err := s.Query(context.Background(), QueryFilters{ResourceID: "c9"})
		if err != nil {
			t.Fatal(err)
		}
		if total == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("audit entry not persisted before deadline")
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("service did not stop")
	}
}
