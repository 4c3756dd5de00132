/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_ads/internal/models"
)

type contextKey string

const apiKeyContextKey contextKey = "api_key"

// KeyFromContext returns the API key a request authenticated with.
func KeyFromContext(ctx context.Context) (*models.APIKey, bool) {
	key, ok := ctx.Value(apiKeyContextKey).(*models.APIKey)
	return key, ok
}

// RequireAPIKey is chi middleware that rejects requests without a valid API
// key. The key is read from the Authorization bearer token or the X-API-Key
// header.
func RequireAPIKey(db *gorm.DB, logger zerolog.Logger) func(http.Handler) http.Handler {
	log := logger.With().Str("component", "auth").Logger()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			plaintext := extractKey(r)
			if plaintext == "" {
				unauthorized(w)
				return
			}

			key, err := ValidateAPIKey(db, plaintext)
			if err != nil {
				log.Warn().Err(err).Str("path", r.URL.Path).Msg("api key rejected")
				unauthorized(w)
				return
			}

			ctx := context.WithValue(r.Context(), apiKeyContextKey, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractKey(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return token
		}
	}
	return r.Header.Get("X-API-Key")
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"unauthorized"}`))
}
