/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package premium answers whether a listener is ad-free. Premium status can
// come from a signed listener token, from a remote account service, or from
// both; when no source is configured everyone is a free listener.
package premium

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/friendsincode/grimnir_ads/internal/config"
)

var ErrBadToken = errors.New("invalid premium token")

// Check carries the premium-status inputs from a decision request.
type Check struct {
	UserID string
	Token  string
}

// Provider reports whether the listener described by a Check is premium.
type Provider interface {
	IsPremium(ctx context.Context, check Check) (bool, error)
}

// FromConfig builds the provider stack the configuration describes.
func FromConfig(cfg *config.Config, logger zerolog.Logger) Provider {
	var providers []Provider
	if cfg.PremiumJWTSigningKey != "" {
		providers = append(providers, NewJWTProvider(cfg.PremiumJWTSigningKey))
	}
	if cfg.PremiumProviderURL != "" {
		providers = append(providers, NewHTTPProvider(cfg.PremiumProviderURL, logger))
	}

	switch len(providers) {
	case 0:
		return None{}
	case 1:
		return providers[0]
	default:
		return Chain(providers)
	}
}

// None treats every listener as a free listener.
type None struct{}

func (None) IsPremium(context.Context, Check) (bool, error) { return false, nil }

// Chain asks each provider in order and reports premium on the first yes.
// Provider errors are collected but do not stop the chain.
type Chain []Provider

func (c Chain) IsPremium(ctx context.Context, check Check) (bool, error) {
	var errs []error
	for _, p := range c {
		premium, err := p.IsPremium(ctx, check)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if premium {
			return true, nil
		}
	}
	return false, errors.Join(errs...)
}

// premiumClaims is the listener token claim set.
type premiumClaims struct {
	jwt.RegisteredClaims
	Premium bool `json:"premium"`
}

// JWTProvider verifies HMAC-signed listener tokens carrying a premium claim.
type JWTProvider struct {
	key []byte
}

// NewJWTProvider creates a token verifier with the shared signing key.
func NewJWTProvider(signingKey string) *JWTProvider {
	return &JWTProvider{key: []byte(signingKey)}
}

// IsPremium validates the token and returns its premium claim. A missing
// token is a free listener, not an error.
func (p *JWTProvider) IsPremium(_ context.Context, check Check) (bool, error) {
	if check.Token == "" {
		return false, nil
	}

	var claims premiumClaims
	token, err := jwt.ParseWithClaims(check.Token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return p.key, nil
	})
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBadToken, err)
	}
	if !token.Valid {
		return false, ErrBadToken
	}

	// A token minted for one user cannot assert premium for another.
	if check.UserID != "" && claims.Subject != "" && claims.Subject != check.UserID {
		return false, ErrBadToken
	}

	return claims.Premium, nil
}

// HTTPProvider asks a remote account service for premium status.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

// NewHTTPProvider creates a remote provider. Outbound requests are traced.
func NewHTTPProvider(baseURL string, logger zerolog.Logger) *HTTPProvider {
	return &HTTPProvider{
		baseURL: baseURL,
		client: &http.Client{
			Timeout:   3 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger.With().Str("component", "premium").Logger(),
	}
}

// IsPremium queries the remote service by user ID. Listeners without a user
// ID are free by definition.
func (p *HTTPProvider) IsPremium(ctx context.Context, check Check) (bool, error) {
	if check.UserID == "" {
		return false, nil
	}

	endpoint := fmt.Sprintf("%s?user_id=%s", p.baseURL, url.QueryEscape(check.UserID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("premium lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("premium lookup: status %d", resp.StatusCode)
	}

	var body struct {
		Premium bool `json:"premium"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, fmt.Errorf("premium lookup: %w", err)
	}

	return body.Premium, nil
}
