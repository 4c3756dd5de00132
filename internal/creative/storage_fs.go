/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package creative

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// FilesystemStorage implements Storage using the local filesystem. Stored
// files are served by the HTTP server under /creatives/.
type FilesystemStorage struct {
	rootDir    string
	publicBase string
	logger     zerolog.Logger
}

// NewFilesystemStorage creates a filesystem-based storage backend.
func NewFilesystemStorage(rootDir, publicBase string, logger zerolog.Logger) *FilesystemStorage {
	return &FilesystemStorage{
		rootDir:    rootDir,
		publicBase: strings.TrimRight(publicBase, "/"),
		logger:     logger,
	}
}

// Store saves a file below the creative root.
func (fs *FilesystemStorage) Store(ctx context.Context, key, contentType string, file io.Reader) error {
	fullPath := filepath.Join(fs.rootDir, filepath.FromSlash(key))

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("create directories: %w", err)
	}

	dest, err := os.Create(fullPath)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer dest.Close()

	if _, err := io.Copy(dest, file); err != nil {
		os.Remove(fullPath)
		return fmt.Errorf("write file: %w", err)
	}

	fs.logger.Debug().Str("path", fullPath).Msg("filesystem storage: file stored")
	return nil
}

// Delete removes a file. Missing files are not an error.
func (fs *FilesystemStorage) Delete(ctx context.Context, key string) error {
	fullPath := filepath.Join(fs.rootDir, filepath.FromSlash(key))
	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove file: %w", err)
	}
	return nil
}

// URL returns the public URL under the server's /creatives/ mount.
func (fs *FilesystemStorage) URL(key string) string {
	return fs.publicBase + "/creatives/" + key
}

// Root returns the storage directory for the HTTP file server mount.
func (fs *FilesystemStorage) Root() string {
	return fs.rootDir
}

// CheckAccess verifies the creative root exists and is a directory.
func (fs *FilesystemStorage) CheckAccess(ctx context.Context) error {
	info, err := os.Stat(fs.rootDir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("creative root does not exist: %s", fs.rootDir)
		}
		return fmt.Errorf("cannot access creative root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("creative root is not a directory: %s", fs.rootDir)
	}
	return nil
}
