/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package auth guards the admin surface with API keys. Keys are the only
// admin credential; there is no interactive login.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_ads/internal/models"
)

// API key constants
const (
	APIKeyPrefix      = "ga_"
	APIKeyRandomBytes = 24 // 192 bits of entropy
)

// ErrAPIKeyNotFound is returned when an API key doesn't exist.
var ErrAPIKeyNotFound = errors.New("api key not found")

// ErrAPIKeyExpired is returned when an API key has expired.
var ErrAPIKeyExpired = errors.New("api key expired")

// ErrAPIKeyRevoked is returned when an API key has been revoked.
var ErrAPIKeyRevoked = errors.New("api key revoked")

// GenerateAPIKey creates a new API key. Returns the plaintext key (shown to
// the operator once) and the model to store; only the hash is persisted.
func GenerateAPIKey(name string, expiresIn time.Duration) (string, *models.APIKey, error) {
	randomBytes := make([]byte, APIKeyRandomBytes)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", nil, err
	}

	plaintextKey := APIKeyPrefix + hex.EncodeToString(randomBytes)

	hash := sha256.Sum256([]byte(plaintextKey))

	apiKey := &models.APIKey{
		ID:        uuid.NewString(),
		Name:      name,
		KeyHash:   hex.EncodeToString(hash[:]),
		KeyPrefix: plaintextKey[:11], // "ga_" + first 8 hex chars, for display
		ExpiresAt: time.Now().Add(expiresIn),
	}

	return plaintextKey, apiKey, nil
}

// ValidateAPIKey checks a plaintext key against the stored hashes and bumps
// the key's LastUsedAt timestamp.
func ValidateAPIKey(db *gorm.DB, plaintextKey string) (*models.APIKey, error) {
	hash := sha256.Sum256([]byte(plaintextKey))
	keyHash := hex.EncodeToString(hash[:])

	var apiKey models.APIKey
	result := db.Where("key_hash = ?", keyHash).First(&apiKey)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrAPIKeyNotFound
	}
	if result.Error != nil {
		return nil, result.Error
	}

	if apiKey.IsRevoked() {
		return nil, ErrAPIKeyRevoked
	}
	if apiKey.IsExpired() {
		return nil, ErrAPIKeyExpired
	}

	now := time.Now()
	db.Model(&apiKey).Update("last_used_at", now)

	return &apiKey, nil
}

// RevokeAPIKey revokes a key by ID. Revocation is permanent.
func RevokeAPIKey(db *gorm.DB, keyID string) error {
	now := time.Now()
	result := db.Model(&models.APIKey{}).
		Where("id = ? AND revoked_at IS NULL", keyID).
		Update("revoked_at", now)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAPIKeyNotFound
	}
	return nil
}

// ListAPIKeys returns all keys, newest first. Hashes never leave storage;
// the model's json tags hide them.
func ListAPIKeys(db *gorm.DB) ([]models.APIKey, error) {
	var keys []models.APIKey
	if err := db.Order("created_at DESC").Find(&keys).Error; err != nil {
		return nil, err
	}
	return keys, nil
}
