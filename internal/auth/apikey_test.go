/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/friendsincode/grimnir_ads/internal/models"
)

func openAuthTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.APIKey{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestGenerateAndValidate(t *testing.T) {
	db := openAuthTestDB(t)

	plaintext, key, err := GenerateAPIKey("ci", 30*24*time.Hour)
	if err != nil {
		t.Fatalf("GenerateAPIKey: %v", err)
	}
	if !strings.HasPrefix(plaintext, APIKeyPrefix) {
		t.Errorf("plaintext prefix = %q", plaintext[:3])
	}
	if key.KeyHash == plaintext {
		t.Error("plaintext must not be stored")
	}
	if err := db.Create(key).Error; err != nil {
		t.Fatal(err)
	}

	got, err := ValidateAPIKey(db, plaintext)
	if err != nil {
		t.Fatalf("ValidateAPIKey: %v", err)
	}
	if got.ID != key.ID {
		t.Errorf("validated wrong key")
	}
	if got.LastUsedAt == nil {
		var stored models.APIKey
		db.First(&stored, "id = ?", key.ID)
		if stored.LastUsedAt == nil {
			t.Error("LastUsedAt not updated")
		}
	}
}

func TestValidateRejections(t *testing.T) {
	db := openAuthTestDB(t)

	if _, err := ValidateAPIKey(db, "ga_nonsense"); !errors.Is(err, ErrAPIKeyNotFound) {
		t.Errorf("unknown key: %v", err)
	}

	expiredPlain, expired, err := GenerateAPIKey("old", -time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	db.Create(expired)
	if _, err := ValidateAPIKey(db, expiredPlain); !errors.Is(err, ErrAPIKeyExpired) {
		t.Errorf("expired key: %v", err)
	}

	revokedPlain, revoked, err := GenerateAPIKey("bad", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	db.Create(revoked)
	if err := RevokeAPIKey(db, revoked.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := ValidateAPIKey(db, revokedPlain); !errors.Is(err, ErrAPIKeyRevoked) {
		t.Errorf("revoked key: %v", err)
	}
}

func TestRevokeUnknownKey(t *testing.T) {
	db := openAuthTestDB(t)
	if err := RevokeAPIKey(db, uuid.NewString()); !errors.Is(err, ErrAPIKeyNotFound) {
		t.Errorf("expected ErrAPIKeyNotFound, got %v", err)
	}
}

func TestRequireAPIKeyMiddleware(t *testing.T) {
	db := openAuthTestDB(t)
	plaintext, key, err := GenerateAPIKey("ci", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	db.Create(key)

	var sawKey *models.APIKey
	handler := RequireAPIKey(db, zerolog.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawKey, _ = KeyFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header func(*http.Request)
		status int
	}{
		{"bearer token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+plaintext) }, http.StatusNoContent},
		{"x-api-key header", func(r *http.Request) { r.Header.Set("X-API-Key", plaintext) }, http.StatusNoContent},
		{"missing key", func(*http.Request) {}, http.StatusUnauthorized},
		{"wrong key", func(r *http.Request) { r.Header.Set("X-API-Key", "ga_wrong") }, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/campaigns", nil)
			tt.header(req)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
		})
	}

	if sawKey == nil || sawKey.ID != key.ID {
		t.Error("authenticated key not placed in context")
	}
}
