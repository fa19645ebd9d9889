/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/loqalabs/loqa-concierge/internal/events"
	"github.com/loqalabs/loqa-concierge/internal/logging"
	"github.com/loqalabs/loqa-concierge/internal/security"
	"github.com/loqalabs/loqa-concierge/internal/storage"
)

// EventQuerier reads stored interaction events
type EventQuerier interface {
	List(ctx context.Context, options storage.ListOptions) ([]*events.InteractionEvent, error)
	Count(ctx context.Context, options storage.ListOptions) (int64, error)
	GetByID(ctx context.Context, id string) (*events.InteractionEvent, error)
}

// InteractionEventsHandler handles HTTP requests for interaction events.
// A nil store means event storage is disabled.
type InteractionEventsHandler struct {
	store EventQuerier
}

// NewInteractionEventsHandler creates a new interaction events handler
func NewInteractionEventsHandler(store EventQuerier) *InteractionEventsHandler {
	return &InteractionEventsHandler{store: store}
}

// ListEventsResponse represents the response for listing interaction events
type ListEventsResponse struct {
	Events     []*events.InteractionEvent `json:"events"`
	Total      int64                      `json:"total"`
	Page       int                        `json:"page"`
	PageSize   int                        `json:"page_size"`
	TotalPages int                        `json:"total_pages"`
}

// HandleListEvents handles GET /api/events
func (h *InteractionEventsHandler) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "event storage is disabled")
		return
	}

	query := r.URL.Query()

	// Pagination
	page := parseIntParam(query.Get("page"), 1)
	pageSize := parseIntParam(query.Get("page_size"), 20)
	if pageSize > 100 {
		pageSize = 100
	}
	if pageSize < 1 {
		pageSize = 1
	}
	if page < 1 {
		page = 1
	}

	options := storage.ListOptions{
		SessionID: query.Get("session_id"),
		Kind:      events.Kind(query.Get("kind")),
		Limit:     pageSize,
		Offset:    (page - 1) * pageSize,
		SortBy:    query.Get("sort_by"),
		SortOrder: strings.ToUpper(query.Get("sort_order")),
	}

	if options.Kind != "" && !events.IsValidKind(options.Kind) {
		writeError(w, http.StatusBadRequest, "unknown event kind")
		return
	}
	if options.SortBy != "" && !storage.IsValidSortField(options.SortBy) {
		writeError(w, http.StatusBadRequest, "sort_by must be timestamp, processing_time or audio_duration")
		return
	}

	if successStr := query.Get("success"); successStr != "" {
		success, err := strconv.ParseBool(successStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "success must be true or false")
			return
		}
		options.Success = &success
	}

	var ok bool
	if options.StartTime, ok = parseTimeParam(w, query.Get("start_time"), "start_time"); !ok {
		return
	}
	if options.EndTime, ok = parseTimeParam(w, query.Get("end_time"), "end_time"); !ok {
		return
	}

	total, err := h.store.Count(r.Context(), options)
	if err != nil {
		logging.LogError(err, "Failed to count interaction events")
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	list, err := h.store.List(r.Context(), options)
	if err != nil {
		logging.LogError(err, "Failed to list interaction events")
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))

	logging.Sugar.Infow("Interaction events API request",
		"endpoint", "list",
		"page", page,
		"page_size", pageSize,
		"total_results", total,
		"filters", map[string]interface{}{
			"session_id": security.SanitizeLogInput(options.SessionID),
			"kind":       options.Kind,
			"success":    options.Success,
		},
	)

	writeJSON(w, http.StatusOK, ListEventsResponse{
		Events:     list,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	})
}

// HandleGetEvent handles GET /api/events/{id}
func (h *InteractionEventsHandler) HandleGetEvent(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "event storage is disabled")
		return
	}

	id := r.PathValue("id")
	if err := security.ValidateEventID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	event, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrEventNotFound) {
			writeError(w, http.StatusNotFound, "Interaction event not found")
			return
		}
		logging.LogError(err, "Failed to get interaction event", zap.String("event_id", id))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, event)
}

// parseTimeParam parses an optional RFC3339 query value, writing a 400 when it is malformed
func parseTimeParam(w http.ResponseWriter, value, name string) (*time.Time, bool) {
	if value == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		writeError(w, http.StatusBadRequest, name+" must be an RFC3339 timestamp")
		return nil, false
	}
	return &t, true
}

// parseIntParam parses integer parameter with default value
func parseIntParam(param string, defaultValue int) int {
	if param == "" {
		return defaultValue
	}

	if value, err := strconv.Atoi(param); err == nil {
		return value
	}

	return defaultValue
}
