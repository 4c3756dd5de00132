/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_ads/internal/models"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed demo campaigns and advertisements",
	Long:  "Create a demo campaign with banner, native, and audio ads for local development",
	RunE:  runSeed,
}

var seedReset bool

func init() {
	rootCmd.AddCommand(seedCmd)
	seedCmd.Flags().BoolVar(&seedReset, "reset", false, "Delete existing demo data first")
}

func runSeed(cmd *cobra.Command, args []string) error {
	if err := loadConfig(false); err != nil {
		return err
	}
	database, err := initDatabase()
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}

	if seedReset {
		if err := resetDemoData(database); err != nil {
			return fmt.Errorf("reset demo data: %w", err)
		}
		logger.Info().Msg("existing demo data removed")
	}

	campaign := models.NewCampaign("Demo Flight", "Acme Coffee Roasters")
	campaign.Status = models.CampaignStatusActive
	campaign.ImpressionBudget = 100000
	campaign.Notes = "seeded demo data"
	end := time.Now().AddDate(0, 1, 0)
	campaign.EndDate = &end

	if err := database.Create(campaign).Error; err != nil {
		return fmt.Errorf("create campaign: %w", err)
	}

	banners := []struct {
		placement models.Placement
		title     string
		width     int
		height    int
	}{
		{models.PlacementHomeBanner, "Acme Coffee - Home", 728, 90},
		{models.PlacementSearchBanner, "Acme Coffee - Search", 728, 90},
		{models.PlacementPlayerBanner, "Acme Coffee - Player", 320, 50},
		{models.PlacementSearchNative, "Acme Coffee - Native", 0, 0},
	}
	for _, b := range banners {
		adType := models.AdTypeImage
		if b.placement == models.PlacementSearchNative {
			adType = models.AdTypeHTML
		}
		ad := models.NewAdvertisement(campaign.ID, b.placement, adType)
		ad.Title = b.title
		ad.AdvertiserName = campaign.AdvertiserName
		ad.ClickURL = "https://example.com/acme-coffee"
		ad.MediaURL = "https://cdn.example.com/demo/acme-banner.png"
		ad.Width = b.width
		ad.Height = b.height
		if err := database.Create(ad).Error; err != nil {
			return fmt.Errorf("create ad %s: %w", b.title, err)
		}
	}

	audioSpots := []struct {
		placement models.Placement
		title     string
		duration  int
		skipAfter int
	}{
		{models.PlacementPreRoll, "Acme Coffee - Pre-roll 15s", 15, 0},
		{models.PlacementMidRoll, "Acme Coffee - Mid-roll 30s", 30, 5},
		{models.PlacementPostRoll, "Acme Coffee - Post-roll 10s", 10, 0},
		{models.PlacementStationBreak, "Acme Coffee - Station break", 20, 5},
	}
	for _, spot := range audioSpots {
		ad := models.NewAdvertisement(campaign.ID, spot.placement, models.AdTypeAudio)
		ad.Title = spot.title
		ad.AdvertiserName = campaign.AdvertiserName
		ad.ClickURL = "https://example.com/acme-coffee"
		ad.MediaURL = "https://cdn.example.com/demo/acme-spot.mp3"
		if err := database.Create(ad).Error; err != nil {
			return fmt.Errorf("create ad %s: %w", spot.title, err)
		}

		detail := &models.AudioAdDetail{
			AdvertisementID:  ad.ID,
			DurationSeconds:  spot.duration,
			BitrateKbps:      128,
			SkipAfterSeconds: spot.skipAfter,
		}
		if err := database.Create(detail).Error; err != nil {
			return fmt.Errorf("create audio detail for %s: %w", spot.title, err)
		}
	}

	logger.Info().
		Str("campaign_id", campaign.ID).
		Int("ads", len(banners)+len(audioSpots)).
		Msg("demo data seeded")
	fmt.Printf("Seeded campaign %s with %d ads\n", campaign.ID, len(banners)+len(audioSpots))
	return nil
}

func resetDemoData(database *gorm.DB) error {
	var campaigns []models.Campaign
	if err := database.Where("notes = ?", "seeded demo data").Find(&campaigns).Error; err != nil {
		return err
	}
	for _, campaign := range campaigns {
		var ads []models.Advertisement
		if err := database.Where("campaign_id = ?", campaign.ID).Find(&ads).Error; err != nil {
			return err
		}
		for _, ad := range ads {
			if err := database.Where("advertisement_id = ?", ad.ID).Delete(&models.AudioAdDetail{}).Error; err != nil {
				return err
			}
		}
		if err := database.Where("campaign_id = ?", campaign.ID).Delete(&models.Advertisement{}).Error; err != nil {
			return err
		}
		if err := database.Delete(&campaign).Error; err != nil {
			return err
		}
	}
	return nil
}
