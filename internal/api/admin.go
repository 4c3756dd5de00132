/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/grimnir_ads/internal/adstore"
	"github.com/friendsincode/grimnir_ads/internal/creative"
	"github.com/friendsincode/grimnir_ads/internal/events"
	"github.com/friendsincode/grimnir_ads/internal/models"
	"github.com/friendsincode/grimnir_ads/internal/sanitize"
)

// campaignRequest is the admin wire form for creating or updating a campaign.
type campaignRequest struct {
	Name             string `json:"name"`
	AdvertiserName   string `json:"advertiser_name"`
	Status           string `json:"status,omitempty"`
	ImpressionBudget int64  `json:"impression_budget,omitempty"`
	StartDate        string `json:"start_date,omitempty"`
	EndDate          string `json:"end_date,omitempty"`
	Notes            string `json:"notes,omitempty"`
}

func (a *API) handleCampaignsList(w http.ResponseWriter, r *http.Request) {
	campaigns, err := a.store.ListCampaigns(r.Context())
	if err != nil {
		a.logger.Error().Err(err).Msg("list campaigns failed")
		writeError(w, http.StatusInternalServerError, "list_failed")
		return
	}
	writeJSON(w, http.StatusOK, campaigns)
}

func (a *API) handleCampaignCreate(w http.ResponseWriter, r *http.Request) {
	var req campaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Name == "" || req.AdvertiserName == "" {
		writeError(w, http.StatusBadRequest, "name_and_advertiser_required")
		return
	}

	campaign := models.NewCampaign(req.Name, req.AdvertiserName)
	campaign.ImpressionBudget = req.ImpressionBudget
	campaign.Notes = req.Notes
	if err := applyCampaignFields(campaign, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date")
		return
	}

	if err := a.store.CreateCampaign(r.Context(), campaign); err != nil {
		a.logger.Error().Err(err).Msg("create campaign failed")
		writeError(w, http.StatusInternalServerError, "create_failed")
		return
	}

	a.publisher.Publish(events.EventAuditCampaignCreate, events.Payload{
		"campaign_id": campaign.ID,
		"name":        campaign.Name,
	})
	writeJSON(w, http.StatusCreated, campaign)
}

func (a *API) handleCampaignGet(w http.ResponseWriter, r *http.Request) {
	campaign, err := a.store.GetCampaign(r.Context(), chi.URLParam(r, "campaignID"))
	if err != nil {
		if errors.Is(err, adstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "campaign_not_found")
			return
		}
		writeError(w, http.StatusInternalServerError, "get_failed")
		return
	}
	writeJSON(w, http.StatusOK, campaign)
}

func (a *API) handleCampaignUpdate(w http.ResponseWriter, r *http.Request) {
	campaign, err := a.store.GetCampaign(r.Context(), chi.URLParam(r, "campaignID"))
	if err != nil {
		if errors.Is(err, adstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "campaign_not_found")
			return
		}
		writeError(w, http.StatusInternalServerError, "get_failed")
		return
	}

	var req campaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	if req.Name != "" {
		campaign.Name = req.Name
	}
	if req.AdvertiserName != "" {
		campaign.AdvertiserName = req.AdvertiserName
	}
	if req.Status != "" {
		status := models.CampaignStatus(req.Status)
		switch status {
		case models.CampaignStatusDraft, models.CampaignStatusActive,
			models.CampaignStatusPaused, models.CampaignStatusEnded:
			campaign.Status = status
		default:
			writeError(w, http.StatusBadRequest, "invalid_status")
			return
		}
	}
	if req.ImpressionBudget != 0 {
		campaign.ImpressionBudget = req.ImpressionBudget
	}
	if req.Notes != "" {
		campaign.Notes = req.Notes
	}
	if err := applyCampaignFields(campaign, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date")
		return
	}

	if err := a.store.UpdateCampaign(r.Context(), campaign); err != nil {
		a.logger.Error().Err(err).Msg("update campaign failed")
		writeError(w, http.StatusInternalServerError, "update_failed")
		return
	}

	a.publisher.Publish(events.EventAuditCampaignUpdate, events.Payload{
		"campaign_id": campaign.ID,
	})
	writeJSON(w, http.StatusOK, campaign)
}

func (a *API) handleCampaignDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "campaignID")
	if err := a.store.DeleteCampaign(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, adstore.ErrNotFound):
			writeError(w, http.StatusNotFound, "campaign_not_found")
		case errors.Is(err, adstore.ErrCampaignHasAds):
			writeError(w, http.StatusConflict, "campaign_has_ads")
		default:
			writeError(w, http.StatusInternalServerError, "delete_failed")
		}
		return
	}

	a.publisher.Publish(events.EventAuditCampaignDelete, events.Payload{"campaign_id": id})
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (a *API) handleCampaignReport(w http.ResponseWriter, r *http.Request) {
	report, err := a.store.DeliveryReport(r.Context(), chi.URLParam(r, "campaignID"))
	if err != nil {
		if errors.Is(err, adstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "campaign_not_found")
			return
		}
		a.logger.Error().Err(err).Msg("delivery report failed")
		writeError(w, http.StatusInternalServerError, "report_failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// adRequest is the admin wire form for creating or updating an advertisement.
// Audio fields are required for audio placements and ignored otherwise.
type adRequest struct {
	CampaignID      string   `json:"campaign_id"`
	Title           string   `json:"title"`
	Description     string   `json:"description,omitempty"`
	AdvertiserName  string   `json:"advertiser_name,omitempty"`
	AdType          string   `json:"ad_type"`
	MediaURL        string   `json:"media_url,omitempty"`
	ClickURL        string   `json:"click_url"`
	Width           int      `json:"width,omitempty"`
	Height          int      `json:"height,omitempty"`
	Placement       string   `json:"placement"`
	TargetCountries []string `json:"target_countries,omitempty"`
	TargetGenres    []string `json:"target_genres,omitempty"`
	TargetStations  []string `json:"target_stations,omitempty"`
	MaxImpressions  int64    `json:"max_impressions,omitempty"`
	IsActive        *bool    `json:"is_active,omitempty"`
	StartDate       string   `json:"start_date,omitempty"`
	EndDate         string   `json:"end_date,omitempty"`

	Audio *audioDetailRequest `json:"audio,omitempty"`
}

type audioDetailRequest struct {
	DurationSeconds   int    `json:"duration_seconds"`
	BitrateKbps       int    `json:"bitrate_kbps,omitempty"`
	SkipAfterSeconds  int    `json:"skip_after_seconds,omitempty"`
	ImpressionURL     string `json:"impression_url,omitempty"`
	StartURL          string `json:"start_url,omitempty"`
	CompleteURL       string `json:"complete_url,omitempty"`
	CompanionImageURL string `json:"companion_image_url,omitempty"`
	CompanionClickURL string `json:"companion_click_url,omitempty"`
	CompanionWidth    int    `json:"companion_width,omitempty"`
	CompanionHeight   int    `json:"companion_height,omitempty"`
}

func (a *API) handleAdsList(w http.ResponseWriter, r *http.Request) {
	ads, err := a.store.ListAds(r.Context(), models.Placement(r.URL.Query().Get("placement")))
	if err != nil {
		a.logger.Error().Err(err).Msg("list ads failed")
		writeError(w, http.StatusInternalServerError, "list_failed")
		return
	}
	writeJSON(w, http.StatusOK, ads)
}

func (a *API) handleAdCreate(w http.ResponseWriter, r *http.Request) {
	var req adRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	placement := models.Placement(req.Placement)
	if !placement.Valid() {
		writeError(w, http.StatusBadRequest, "unknown_placement")
		return
	}
	adType := models.AdType(req.AdType)
	if !adType.Valid() {
		writeError(w, http.StatusBadRequest, "unknown_ad_type")
		return
	}

	ad := models.NewAdvertisement(req.CampaignID, placement, adType)
	if err := applyAdFields(ad, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date")
		return
	}

	// Admission control: unsafe creatives never enter the pool.
	if ok, problems := sanitize.ValidateSafety(*ad); !ok {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":    "unsafe_creative",
			"problems": problems,
		})
		return
	}

	var detail *models.AudioAdDetail
	if placement.IsAudio() {
		if req.Audio == nil || req.Audio.DurationSeconds <= 0 {
			writeError(w, http.StatusBadRequest, "audio_detail_required")
			return
		}
		detail = audioDetailFromRequest(req.Audio)
	}

	if err := a.store.CreateAd(r.Context(), ad, detail); err != nil {
		if errors.Is(err, adstore.ErrMissingCampaign) {
			writeError(w, http.StatusBadRequest, "unknown_campaign")
			return
		}
		a.logger.Error().Err(err).Msg("create ad failed")
		writeError(w, http.StatusInternalServerError, "create_failed")
		return
	}

	a.publisher.Publish(events.EventAuditAdCreate, events.Payload{
		"ad_id":     ad.ID,
		"placement": string(ad.Placement),
	})
	writeJSON(w, http.StatusCreated, ad)
}

func (a *API) handleAdUpdate(w http.ResponseWriter, r *http.Request) {
	ad, err := a.store.GetAd(r.Context(), chi.URLParam(r, "adID"))
	if err != nil {
		if errors.Is(err, adstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "ad_not_found")
			return
		}
		writeError(w, http.StatusInternalServerError, "get_failed")
		return
	}

	var req adRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	// Campaign and placement are immutable after creation.
	req.CampaignID = ad.CampaignID
	req.Placement = string(ad.Placement)
	if req.AdType == "" {
		req.AdType = string(ad.AdType)
	}
	if !models.AdType(req.AdType).Valid() {
		writeError(w, http.StatusBadRequest, "unknown_ad_type")
		return
	}
	ad.AdType = models.AdType(req.AdType)

	if err := applyAdFields(ad, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date")
		return
	}

	if ok, problems := sanitize.ValidateSafety(*ad); !ok {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":    "unsafe_creative",
			"problems": problems,
		})
		return
	}

	var detail *models.AudioAdDetail
	if ad.Placement.IsAudio() && req.Audio != nil {
		detail = audioDetailFromRequest(req.Audio)
	}

	if err := a.store.UpdateAd(r.Context(), ad, detail); err != nil {
		a.logger.Error().Err(err).Msg("update ad failed")
		writeError(w, http.StatusInternalServerError, "update_failed")
		return
	}

	a.publisher.Publish(events.EventAuditAdUpdate, events.Payload{"ad_id": ad.ID})
	writeJSON(w, http.StatusOK, ad)
}

func (a *API) handleAdDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "adID")
	if err := a.store.DeleteAd(r.Context(), id); err != nil {
		if errors.Is(err, adstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "ad_not_found")
			return
		}
		writeError(w, http.StatusInternalServerError, "delete_failed")
		return
	}

	a.publisher.Publish(events.EventAuditAdDelete, events.Payload{"ad_id": id})
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// maxCreativeUploadBytes bounds creative file uploads.
const maxCreativeUploadBytes = 32 << 20

func (a *API) handleCreativeUpload(w http.ResponseWriter, r *http.Request) {
	if a.creatives == nil {
		writeError(w, http.StatusServiceUnavailable, "creative_storage_disabled")
		return
	}

	ad, err := a.store.GetAd(r.Context(), chi.URLParam(r, "adID"))
	if err != nil {
		if errors.Is(err, adstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "ad_not_found")
			return
		}
		writeError(w, http.StatusInternalServerError, "get_failed")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxCreativeUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file_required")
		return
	}
	defer file.Close()

	url, err := a.creatives.Upload(r.Context(), ad.ID, header.Filename, ad.AdType, file)
	if err != nil {
		if errors.Is(err, creative.ErrUnsupportedMedia) {
			writeError(w, http.StatusUnprocessableEntity, "unsupported_media")
			return
		}
		a.logger.Error().Err(err).Str("ad_id", ad.ID).Msg("creative upload failed")
		writeError(w, http.StatusInternalServerError, "upload_failed")
		return
	}

	ad.MediaURL = url
	if err := a.store.UpdateAd(r.Context(), ad, nil); err != nil {
		a.logger.Error().Err(err).Str("ad_id", ad.ID).Msg("media url update failed")
		writeError(w, http.StatusInternalServerError, "update_failed")
		return
	}

	a.publisher.Publish(events.EventAuditAdUpdate, events.Payload{
		"ad_id":     ad.ID,
		"media_url": url,
	})
	writeJSON(w, http.StatusOK, ad)
}

func applyCampaignFields(c *models.Campaign, req *campaignRequest) error {
	if req.StartDate != "" {
		start, err := parseTime(req.StartDate)
		if err != nil {
			return err
		}
		c.StartDate = start
	}
	if req.EndDate != "" {
		end, err := parseTime(req.EndDate)
		if err != nil {
			return err
		}
		c.EndDate = &end
	}
	return nil
}

func applyAdFields(ad *models.Advertisement, req *adRequest) error {
	if req.Title != "" {
		ad.Title = req.Title
	}
	if req.Description != "" {
		ad.Description = req.Description
	}
	if req.AdvertiserName != "" {
		ad.AdvertiserName = req.AdvertiserName
	}
	if req.MediaURL != "" {
		ad.MediaURL = req.MediaURL
	}
	if req.ClickURL != "" {
		ad.ClickURL = req.ClickURL
	}
	if req.Width != 0 {
		ad.Width = req.Width
	}
	if req.Height != 0 {
		ad.Height = req.Height
	}
	if req.TargetCountries != nil {
		ad.TargetCountries = models.StringList(req.TargetCountries)
	}
	if req.TargetGenres != nil {
		ad.TargetGenres = models.StringList(req.TargetGenres)
	}
	if req.TargetStations != nil {
		ad.TargetStations = models.StringList(req.TargetStations)
	}
	if req.MaxImpressions != 0 {
		ad.MaxImpressions = req.MaxImpressions
	}
	if req.IsActive != nil {
		ad.IsActive = *req.IsActive
	}
	if req.StartDate != "" {
		start, err := parseTime(req.StartDate)
		if err != nil {
			return err
		}
		ad.StartDate = start
	}
	if req.EndDate != "" {
		end, err := parseTime(req.EndDate)
		if err != nil {
			return err
		}
		ad.EndDate = &end
	}
	return nil
}

func audioDetailFromRequest(req *audioDetailRequest) *models.AudioAdDetail {
	return &models.AudioAdDetail{
		DurationSeconds:   req.DurationSeconds,
		BitrateKbps:       req.BitrateKbps,
		SkipAfterSeconds:  req.SkipAfterSeconds,
		ImpressionURL:     req.ImpressionURL,
		StartURL:          req.StartURL,
		CompleteURL:       req.CompleteURL,
		CompanionImageURL: req.CompanionImageURL,
		CompanionClickURL: req.CompanionClickURL,
		CompanionWidth:    req.CompanionWidth,
		CompanionHeight:   req.CompanionHeight,
	}
}
