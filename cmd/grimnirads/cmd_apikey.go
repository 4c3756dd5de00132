/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_ads/internal/audit"
	"github.com/friendsincode/grimnir_ads/internal/auth"
	"github.com/friendsincode/grimnir_ads/internal/events"
	"github.com/friendsincode/grimnir_ads/internal/models"
)

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Manage admin API keys",
	Long:  "Create, list, and revoke the API keys that guard the admin endpoints",
}

var apikeyCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new admin API key",
	Long:  "Create an API key and print the plaintext once; only its hash is stored",
	RunE:  runAPIKeyCreate,
}

var apikeyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List API keys",
	RunE:  runAPIKeyList,
}

var apikeyRevokeCmd = &cobra.Command{
	Use:   "revoke <key-id>",
	Short: "Revoke an API key",
	Args:  cobra.ExactArgs(1),
	RunE:  runAPIKeyRevoke,
}

var (
	apikeyName       string
	apikeyExpireDays int
)

func init() {
	rootCmd.AddCommand(apikeyCmd)
	apikeyCmd.AddCommand(apikeyCreateCmd)
	apikeyCmd.AddCommand(apikeyListCmd)
	apikeyCmd.AddCommand(apikeyRevokeCmd)

	apikeyCreateCmd.Flags().StringVar(&apikeyName, "name", "", "Human-readable key name (required)")
	apikeyCreateCmd.Flags().IntVar(&apikeyExpireDays, "expires-days", 365, "Days until the key expires (0 = never)")
	apikeyCreateCmd.MarkFlagRequired("name")
}

func runAPIKeyCreate(cmd *cobra.Command, args []string) error {
	if err := loadConfig(false); err != nil {
		return err
	}
	database, err := initDatabase()
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}

	var expiresIn time.Duration
	if apikeyExpireDays > 0 {
		expiresIn = time.Duration(apikeyExpireDays) * 24 * time.Hour
	}

	plaintext, key, err := auth.GenerateAPIKey(apikeyName, expiresIn)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	if err := database.Create(key).Error; err != nil {
		return fmt.Errorf("store key: %w", err)
	}

	recordKeyAudit(database, models.AuditActionAPIKeyCreate, key.ID, key.Name)

	fmt.Printf("API key created (id %s)\n", key.ID)
	fmt.Printf("Store this key now; it cannot be shown again:\n\n  %s\n", plaintext)
	return nil
}

// recordKeyAudit writes the audit entry for a key change made from the CLI.
func recordKeyAudit(database *gorm.DB, action models.AuditAction, keyID, keyName string) {
	entry := models.NewAuditLog(action)
	entry.ResourceType = "api_key"
	entry.ResourceID = keyID
	if keyName != "" {
		entry.Details = models.JSONMap{"name": keyName}
	}
	audits := audit.NewService(database, events.NewBus(), logger)
	if err := audits.Log(context.Background(), entry); err != nil {
		logger.Warn().Err(err).Msg("failed to record audit entry")
	}
}

func runAPIKeyList(cmd *cobra.Command, args []string) error {
	if err := loadConfig(false); err != nil {
		return err
	}
	database, err := initDatabase()
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}

	keys, err := auth.ListAPIKeys(database)
	if err != nil {
		return fmt.Errorf("list keys: %w", err)
	}
	if len(keys) == 0 {
		fmt.Println("no API keys")
		return nil
	}

	for _, key := range keys {
		state := "active"
		if key.IsRevoked() {
			state = "revoked"
		} else if key.IsExpired() {
			state = "expired"
		}
		fmt.Printf("%s  %-20s  %s\n", key.ID, key.Name, state)
	}
	return nil
}

func runAPIKeyRevoke(cmd *cobra.Command, args []string) error {
	if err := loadConfig(false); err != nil {
		return err
	}
	database, err := initDatabase()
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}

	if err := auth.RevokeAPIKey(database, args[0]); err != nil {
		return fmt.Errorf("revoke key: %w", err)
	}
	recordKeyAudit(database, models.AuditActionAPIKeyRevoke, args[0], "")

	fmt.Printf("API key %s revoked\n", args[0])
	return nil
}
