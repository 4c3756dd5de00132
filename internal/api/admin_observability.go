/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/friendsincode/grimnir_ads/internal/audit"
	"github.com/friendsincode/grimnir_ads/internal/logbuffer"
	"github.com/friendsincode/grimnir_ads/internal/models"
)

func (a *API) handleAuditList(w http.ResponseWriter, r *http.Request) {
	if a.audits == nil {
		writeError(w, http.StatusServiceUnavailable, "audit_unavailable")
		return
	}

	filters := audit.QueryFilters{
		ResourceType: r.URL.Query().Get("resource_type"),
		ResourceID:   r.URL.Query().Get("resource_id"),
	}
	if raw := r.URL.Query().Get("action"); raw != "" {
		action := models.AuditAction(raw)
		filters.Action = &action
	}
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err := parseTime(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_since")
			return
		}
		filters.StartTime = &since
	}
	if raw := r.URL.Query().Get("until"); raw != "" {
		until, err := parseTime(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_until")
			return
		}
		filters.EndTime = &until
	}
	filters.Limit = queryInt(r, "limit", 100)
	filters.Offset = queryInt(r, "offset", 0)

	entries, total, err := a.audits.Query(r.Context(), filters)
	if err != nil {
		a.logger.Error().Err(err).Msg("audit query failed")
		writeError(w, http.StatusInternalServerError, "audit_query_failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"total":   total,
	})
}

func (a *API) handleLogsList(w http.ResponseWriter, r *http.Request) {
	if a.logs == nil {
		writeError(w, http.StatusServiceUnavailable, "logs_unavailable")
		return
	}

	params := logbuffer.QueryParams{
		Level:     r.URL.Query().Get("level"),
		Component: r.URL.Query().Get("component"),
		Search:    r.URL.Query().Get("search"),
		Limit:     queryInt(r, "limit", 200),
	}
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_since")
			return
		}
		params.Since = since
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": a.logs.Query(params),
	})
}

func (a *API) handleLogsStats(w http.ResponseWriter, r *http.Request) {
	if a.logs == nil {
		writeError(w, http.StatusServiceUnavailable, "logs_unavailable")
		return
	}
	writeJSON(w, http.StatusOK, a.logs.Stats())
}

// queryInt parses an integer query parameter, falling back to def.
func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		return def
	}
	return parsed
}
