/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package creative

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_ads/internal/models"
)

func newFSService(t *testing.T) (*Service, string) {
	t.Helper()
	root := t.TempDir()
	storage := NewFilesystemStorage(root, "https://ads.example.com", zerolog.Nop())
	return &Service{storage: storage, logger: zerolog.Nop()}, root
}

func TestUploadStoresFileAndReturnsURL(t *testing.T) {
	svc, root := newFSService(t)
	adID := uuid.NewString()

	url, err := svc.Upload(context.Background(), adID, "banner.png", models.AdTypeImage, strings.NewReader("png-bytes"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	wantKey := adID[0:2] + "/" + adID + ".png"
	if url != "https://ads.example.com/creatives/"+wantKey {
		t.Errorf("url = %q", url)
	}

	data, err := os.ReadFile(filepath.Join(root, adID[0:2], adID+".png"))
	if err != nil {
		t.Fatalf("stored file missing: %v", err)
	}
	if string(data) != "png-bytes" {
		t.Errorf("stored content = %q", data)
	}
}

func TestUploadRejectsWrongExtension(t *testing.T) {
	svc, _ := newFSService(t)

	tests := []struct {
		name     string
		filename string
		adType   models.AdType
	}{
		{"executable as image", "banner.exe", models.AdTypeImage},
		{"image as audio spot", "spot.png", models.AdTypeAudio},
		{"no extension", "banner", models.AdTypeImage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Upload(context.Background(), uuid.NewString(), tt.filename, tt.adType, strings.NewReader("x"))
			if !errors.Is(err, ErrUnsupportedMedia) {
				t.Errorf("err = %v, want ErrUnsupportedMedia", err)
			}
		})
	}
}

func TestUploadAcceptsAudioFormats(t *testing.T) {
	svc, _ := newFSService(t)
	for _, name := range []string{"spot.mp3", "spot.ogg", "spot.wav"} {
		if _, err := svc.Upload(context.Background(), uuid.NewString(), name, models.AdTypeAudio, strings.NewReader("x")); err != nil {
			t.Errorf("Upload(%s): %v", name, err)
		}
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	svc, _ := newFSService(t)
	adID := uuid.NewString()

	if _, err := svc.Upload(context.Background(), adID, "banner.png", models.AdTypeImage, strings.NewReader("x")); err != nil {
		t.Fatal(err)
	}
	key := adID[0:2] + "/" + adID + ".png"
	if err := svc.Delete(context.Background(), key); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if err := svc.Delete(context.Background(), key); err != nil {
		t.Errorf("second delete should be a no-op: %v", err)
	}
}

func TestFilesystemCheckAccess(t *testing.T) {
	root := t.TempDir()
	storage := NewFilesystemStorage(root, "", zerolog.Nop())
	if err := storage.CheckAccess(context.Background()); err != nil {
		t.Errorf("CheckAccess on existing dir: %v", err)
	}

	missing := NewFilesystemStorage(filepath.Join(root, "nope"), "", zerolog.Nop())
	if err := missing.CheckAccess(context.Background()); err == nil {
		t.Error("CheckAccess on missing dir should fail")
	}
}

func TestS3URLForms(t *testing.T) {
	tests := []struct {
		name string
		s    S3Storage
		want string
	}{
		{
			"cdn base wins",
			S3Storage{publicBaseURL: "https://cdn.example.com", bucket: "ads", region: "us-east-1"},
			"https://cdn.example.com/ab/x.png",
		},
		{
			"path style endpoint",
			S3Storage{endpoint: "http://minio:9000", bucket: "ads", usePathStyle: true},
			"http://minio:9000/ads/ab/x.png",
		},
		{
			"aws virtual host",
			S3Storage{bucket: "ads", region: "eu-west-1"},
			"https://ads.s3.eu-west-1.amazonaws.com/ab/x.png",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.s.URL("ab/x.png"); got != tt.want {
				t.Errorf("URL = %q, want %q", got, tt.want)
			}
		})
	}
}
