/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_ads/internal/models"
)

// Migrate runs auto-migration for all persistent models.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Campaign{},
		&models.Advertisement{},
		&models.AudioAdDetail{},
		&models.Impression{},
		&models.ClickEvent{},
		&models.APIKey{},
		&models.AuditLog{},
	); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return nil
}
