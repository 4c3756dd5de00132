/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package sanitize

import (
	"strings"
	"testing"

	"github.com/friendsincode/grimnir_ads/internal/models"
)

func TestURL(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain https", "https://ads.example.com/banner?c=1", "https://ads.example.com/banner?c=1"},
		{"plain http", "http://ads.example.com/a.jpg", "http://ads.example.com/a.jpg"},
		{"trims whitespace", "  https://ads.example.com/x  ", "https://ads.example.com/x"},
		{"javascript scheme", "javascript:alert(1)", BlockedURL},
		{"javascript mixed case", "JaVaScRiPt:alert(1)", BlockedURL},
		{"data scheme", "data:text/html,<script>", BlockedURL},
		{"vbscript scheme", "vbscript:msgbox", BlockedURL},
		{"file scheme", "file:///etc/passwd", BlockedURL},
		{"about scheme", "about:blank", BlockedURL},
		{"angle brackets", "https://x.example/<script>", BlockedURL},
		{"relative url", "/banner.jpg", BlockedURL},
		{"ftp scheme", "ftp://example.com/a", BlockedURL},
		{"empty", "", BlockedURL},
		{"whitespace only", "   ", BlockedURL},
		{"missing host", "https://", BlockedURL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := URL(tt.input); got != tt.expected {
				t.Errorf("URL(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestTextStripsAngleBrackets(t *testing.T) {
	out := Text(`<script>alert("hi")</script>`)
	if strings.ContainsAny(out, "<>") {
		t.Errorf("Text output still contains angle brackets: %q", out)
	}
}

func TestTextEscaping(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"ampersand first", "a&b", "a&amp;b"},
		{"no double escape chain", "&lt;", "&amp;lt;"},
		{"quotes", `"quoted"`, "&quot;quoted&quot;"},
		{"single quote", "it's", "it&#x27;s"},
		{"slash", "a/b", "a&#x2F;b"},
		{"clean passthrough", "Morning Drive Coffee", "Morning Drive Coffee"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Text(tt.input); got != tt.expected {
				t.Errorf("Text(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestValidMedia(t *testing.T) {
	tests := []struct {
		name   string
		url    string
		adType models.AdType
		valid  bool
	}{
		{"jpg image", "https://cdn.example.com/a.jpg", models.AdTypeImage, true},
		{"svg image", "https://cdn.example.com/a.svg", models.AdTypeImage, true},
		{"png with query", "https://cdn.example.com/a.png?v=2", models.AdTypeImage, true},
		{"mp3 as image", "https://cdn.example.com/a.mp3", models.AdTypeImage, false},
		{"mp4 video", "https://cdn.example.com/a.mp4", models.AdTypeVideo, true},
		{"ogg video", "https://cdn.example.com/a.ogg", models.AdTypeVideo, true},
		{"mp3 audio", "https://cdn.example.com/spot.mp3", models.AdTypeAudio, true},
		{"aac audio", "https://cdn.example.com/spot.aac", models.AdTypeAudio, true},
		{"wav audio uppercase", "https://cdn.example.com/SPOT.WAV", models.AdTypeAudio, true},
		{"exe audio", "https://cdn.example.com/spot.exe", models.AdTypeAudio, false},
		{"no extension", "https://cdn.example.com/spot", models.AdTypeAudio, false},
		{"html always valid", "", models.AdTypeHTML, true},
		{"unknown type", "https://cdn.example.com/a.jpg", models.AdType("popup"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidMedia(tt.url, tt.adType); got != tt.valid {
				t.Errorf("ValidMedia(%q, %q) = %v, want %v", tt.url, tt.adType, got, tt.valid)
			}
		})
	}
}

func TestAdvertisementSanitizesCopy(t *testing.T) {
	in := models.Advertisement{
		ClickURL: "javascript:x",
		MediaURL: "https://cdn.example.com/a.jpg",
		Title:    "<b>Hi</b>",
		AdType:   models.AdTypeImage,
	}

	out := Advertisement(in)

	if out.ClickURL != BlockedURL {
		t.Errorf("ClickURL = %q, want %q", out.ClickURL, BlockedURL)
	}
	if out.MediaURL != "https://cdn.example.com/a.jpg" {
		t.Errorf("MediaURL changed: %q", out.MediaURL)
	}
	if out.Title != "&lt;b&gt;Hi&lt;&#x2F;b&gt;" {
		t.Errorf("Title = %q", out.Title)
	}

	// Input must be untouched.
	if in.ClickURL != "javascript:x" || in.Title != "<b>Hi</b>" {
		t.Error("Advertisement mutated its input")
	}
}

func TestAudioAdSanitizesTrackingURLs(t *testing.T) {
	in := models.AudioAd{
		Advertisement: models.Advertisement{
			ClickURL: "https://ads.example.com/click",
			Title:    "Spot",
			AdType:   models.AdTypeAudio,
		},
		ImpressionURL: "javascript:void(0)",
		StartURL:      "https://track.example.com/start",
		CompleteURL:   "data:text/html,x",
	}

	out := AudioAd(in)

	if out.ImpressionURL != BlockedURL {
		t.Errorf("ImpressionURL = %q, want blocked", out.ImpressionURL)
	}
	if out.StartURL != "https://track.example.com/start" {
		t.Errorf("StartURL changed: %q", out.StartURL)
	}
	if out.CompleteURL != BlockedURL {
		t.Errorf("CompleteURL = %q, want blocked", out.CompleteURL)
	}
}

func TestValidateSafety(t *testing.T) {
	tests := []struct {
		name      string
		ad        models.Advertisement
		valid     bool
		wantError string
	}{
		{
			name: "clean image ad",
			ad: models.Advertisement{
				Title:    "Coffee",
				ClickURL: "https://shop.example.com",
				MediaURL: "https://cdn.example.com/a.jpg",
				AdType:   models.AdTypeImage,
			},
			valid: true,
		},
		{
			name: "unsafe click url",
			ad: models.Advertisement{
				Title:    "Coffee",
				ClickURL: "javascript:alert(1)",
				MediaURL: "https://cdn.example.com/a.jpg",
				AdType:   models.AdTypeImage,
			},
			valid:     false,
			wantError: "click_url",
		},
		{
			name: "wrong media extension",
			ad: models.Advertisement{
				Title:    "Coffee",
				ClickURL: "https://shop.example.com",
				MediaURL: "https://cdn.example.com/a.exe",
				AdType:   models.AdTypeImage,
			},
			valid:     false,
			wantError: "extension",
		},
		{
			name: "missing media for image",
			ad: models.Advertisement{
				Title:    "Coffee",
				ClickURL: "https://shop.example.com",
				AdType:   models.AdTypeImage,
			},
			valid:     false,
			wantError: "media_url is required",
		},
		{
			name: "html without media ok",
			ad: models.Advertisement{
				Title:    "Widget",
				ClickURL: "https://shop.example.com",
				AdType:   models.AdTypeHTML,
			},
			valid: true,
		},
		{
			name: "missing title",
			ad: models.Advertisement{
				ClickURL: "https://shop.example.com",
				AdType:   models.AdTypeHTML,
			},
			valid:     false,
			wantError: "title",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			valid, errs := ValidateSafety(tt.ad)
			if valid != tt.valid {
				t.Fatalf("ValidateSafety valid = %v, want %v (errors: %v)", valid, tt.valid, errs)
			}
			if tt.wantError != "" {
				found := false
				for _, e := range errs {
					if strings.Contains(e, tt.wantError) {
						found = true
						break
					}
				}
				if !found {
					t.Errorf("expected an error containing %q, got %v", tt.wantError, errs)
				}
			}
		})
	}
}
