/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package creative stores uploaded ad media on the local filesystem or in
// S3-compatible object storage.
package creative

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_ads/internal/config"
	"github.com/friendsincode/grimnir_ads/internal/models"
	"github.com/friendsincode/grimnir_ads/internal/sanitize"
)

// Storage abstracts creative file operations.
type Storage interface {
	Store(ctx context.Context, key, contentType string, file io.Reader) error
	Delete(ctx context.Context, key string) error
	URL(key string) string
	CheckAccess(ctx context.Context) error
}

// ErrUnsupportedMedia is returned for uploads whose extension does not match
// the advertisement's format.
var ErrUnsupportedMedia = fmt.Errorf("unsupported media file for ad type")

// Service manages creative file storage.
type Service struct {
	storage Storage
	logger  zerolog.Logger
}

// NewService creates a creative service using filesystem or S3 storage based
// on config.
func NewService(cfg *config.Config, logger zerolog.Logger) (*Service, error) {
	var storage Storage

	switch cfg.CreativeBackend {
	case config.CreativeBackendS3:
		s3cfg := S3Config{
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			Region:          cfg.S3Region,
			Bucket:          cfg.S3Bucket,
			Endpoint:        cfg.S3Endpoint,
			PublicBaseURL:   cfg.S3PublicBaseURL,
			UsePathStyle:    cfg.S3UsePathStyle,
		}
		if s3cfg.AccessKeyID == "" || s3cfg.SecretAccessKey == "" {
			logger.Warn().Msg("S3 credentials not configured, some operations may fail")
		}
		s3Storage, err := NewS3Storage(context.Background(), s3cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("initialize S3 storage: %w", err)
		}
		storage = s3Storage
	default:
		storage = NewFilesystemStorage(cfg.CreativeRoot, cfg.BaseURL, logger)
	}

	return &Service{
		storage: storage,
		logger:  logger.With().Str("component", "creative").Logger(),
	}, nil
}

// Upload validates and stores one creative file for an advertisement. The
// returned URL is what the ad's media_url should carry.
func (s *Service) Upload(ctx context.Context, adID, filename string, adType models.AdType, file io.Reader) (string, error) {
	if !sanitize.ValidMedia(filename, adType) {
		return "", ErrUnsupportedMedia
	}

	ext := strings.ToLower(filepath.Ext(filename))
	key := buildCreativeKey(adID, ext)
	contentType := mime.TypeByExtension(ext)
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	if err := s.storage.Store(ctx, key, contentType, file); err != nil {
		s.logger.Error().Err(err).Str("ad_id", adID).Msg("creative store failed")
		return "", fmt.Errorf("store creative: %w", err)
	}

	url := s.storage.URL(key)
	s.logger.Info().
		Str("ad_id", adID).
		Str("key", key).
		Str("url", url).
		Msg("creative stored")
	return url, nil
}

// Delete removes a creative by its storage key.
func (s *Service) Delete(ctx context.Context, key string) error {
	if err := s.storage.Delete(ctx, key); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("creative delete failed")
		return fmt.Errorf("delete creative: %w", err)
	}
	return nil
}

// CheckStorageAccess verifies that the storage backend is reachable.
func (s *Service) CheckStorageAccess() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.storage.CheckAccess(ctx)
}

// buildCreativeKey constructs a balanced storage path for a creative file.
func buildCreativeKey(adID, extension string) string {
	if len(adID) < 2 {
		return adID + extension
	}
	return adID[0:2] + "/" + adID + extension
}
