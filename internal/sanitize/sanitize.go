/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package sanitize neutralizes untrusted ad creative fields before they reach
// a renderer or a player. All functions are pure; nothing here mutates its input.
package sanitize

import (
	"net/url"
	"path"
	"strings"

	"github.com/friendsincode/grimnir_ads/internal/models"
)

// BlockedURL is the sentinel returned for any URL that fails sanitization.
// Clients treat it as an inert, non-navigating href.
const BlockedURL = "#"

// blockedSchemes are rejected case-insensitively regardless of URL validity.
var blockedSchemes = []string{"javascript:", "data:", "vbscript:", "file:", "about:"}

// mediaExtensions is the allowed file-extension whitelist per creative type.
// HTML creatives carry no media file and always validate.
var mediaExtensions = map[models.AdType][]string{
	models.AdTypeImage: {".jpg", ".jpeg", ".png", ".gif", ".webp", ".svg"},
	models.AdTypeVideo: {".mp4", ".webm", ".ogg"},
	models.AdTypeAudio: {".mp3", ".ogg", ".wav", ".m4a", ".aac"},
}

// URL returns the trimmed URL unchanged when it is a parseable http/https URL
// containing no angle brackets. Everything else collapses to BlockedURL.
func URL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return BlockedURL
	}

	lower := strings.ToLower(trimmed)
	for _, scheme := range blockedSchemes {
		if strings.HasPrefix(lower, scheme) {
			return BlockedURL
		}
	}

	if strings.ContainsAny(trimmed, "<>") {
		return BlockedURL
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return BlockedURL
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return BlockedURL
	}
	if parsed.Host == "" {
		return BlockedURL
	}

	return trimmed
}

// textEscapes escapes HTML-significant characters. Ampersand must be handled
// first so already-escaped sequences are not double-escaped out of order.
var textEscapes = []struct {
	from, to string
}{
	{"&", "&amp;"},
	{"<", "&lt;"},
	{">", "&gt;"},
	{`"`, "&quot;"},
	{"'", "&#x27;"},
	{"/", "&#x2F;"},
}

// Text escapes HTML-significant characters in free-form creative text.
func Text(s string) string {
	for _, esc := range textEscapes {
		s = strings.ReplaceAll(s, esc.from, esc.to)
	}
	return s
}

// ValidMedia checks a media URL's file extension against the whitelist for the
// creative type. HTML creatives always validate.
func ValidMedia(rawURL string, adType models.AdType) bool {
	if adType == models.AdTypeHTML {
		return true
	}

	allowed, ok := mediaExtensions[adType]
	if !ok {
		return false
	}

	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return false
	}

	ext := strings.ToLower(path.Ext(parsed.Path))
	for _, candidate := range allowed {
		if ext == candidate {
			return true
		}
	}
	return false
}

// Advertisement returns a sanitized copy of the ad. Every URL field passes
// through URL and every text field through Text. The input is never mutated.
func Advertisement(ad models.Advertisement) models.Advertisement {
	out := ad
	out.ClickURL = URL(ad.ClickURL)
	if ad.MediaURL != "" {
		out.MediaURL = URL(ad.MediaURL)
	}
	out.Title = Text(ad.Title)
	out.Description = Text(ad.Description)
	out.AdvertiserName = Text(ad.AdvertiserName)
	return out
}

// AudioAd returns a sanitized copy of an audio ad, covering the tracking and
// companion URLs on top of the base advertisement fields.
func AudioAd(ad models.AudioAd) models.AudioAd {
	out := ad
	out.Advertisement = Advertisement(ad.Advertisement)
	if ad.ImpressionURL != "" {
		out.ImpressionURL = URL(ad.ImpressionURL)
	}
	if ad.StartURL != "" {
		out.StartURL = URL(ad.StartURL)
	}
	if ad.CompleteURL != "" {
		out.CompleteURL = URL(ad.CompleteURL)
	}
	if ad.CompanionImageURL != "" {
		out.CompanionImageURL = URL(ad.CompanionImageURL)
	}
	if ad.CompanionClickURL != "" {
		out.CompanionClickURL = URL(ad.CompanionClickURL)
	}
	return out
}

// ValidateSafety aggregates sanitizer failures into a human-readable error
// list for admission control. Serving paths never call this; they sanitize
// unconditionally instead.
func ValidateSafety(ad models.Advertisement) (bool, []string) {
	var errs []string

	if URL(ad.ClickURL) == BlockedURL {
		errs = append(errs, "click_url is not a safe http(s) URL")
	}
	if ad.MediaURL != "" {
		if URL(ad.MediaURL) == BlockedURL {
			errs = append(errs, "media_url is not a safe http(s) URL")
		} else if !ValidMedia(ad.MediaURL, ad.AdType) {
			errs = append(errs, "media_url extension is not allowed for ad type "+string(ad.AdType))
		}
	} else if ad.AdType != models.AdTypeHTML {
		errs = append(errs, "media_url is required for ad type "+string(ad.AdType))
	}
	if !ad.AdType.Valid() {
		errs = append(errs, "ad_type is unknown")
	}
	if strings.TrimSpace(ad.Title) == "" {
		errs = append(errs, "title is required")
	}

	return len(errs) == 0, errs
}
