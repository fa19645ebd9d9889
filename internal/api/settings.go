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
	"net/http"
	"strconv"

	"github.com/loqalabs/loqa-concierge/internal/assistant"
	"github.com/loqalabs/loqa-concierge/internal/config"
	"github.com/loqalabs/loqa-concierge/internal/logging"
)

// SettingsHandler serves /api/settings and /api/speech
type SettingsHandler struct {
	assistant *assistant.Assistant
}

// NewSettingsHandler creates a settings handler
func NewSettingsHandler(a *assistant.Assistant) *SettingsHandler {
	return &SettingsHandler{assistant: a}
}

// SpeechRequest is the body of POST /api/speech
type SpeechRequest struct {
	Text string `json:"text"`
	Lang string `json:"lang"`
}

// HandleGetSettings handles GET /api/settings
func (h *SettingsHandler) HandleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.assistant.Settings())
}

// HandleUpdateSettings handles PUT /api/settings with a partial settings object
func (h *SettingsHandler) HandleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var update config.SettingsUpdate
	if err := readJSON(w, r, &update); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	settings, err := h.assistant.UpdateSettings(r.Context(), update)
	if err != nil {
		writeOperationError(w, err)
		return
	}

	logging.Sugar.Infow("⚙️  Settings updated",
		"sample_rate", settings.SampleRate,
		"recording_duration", settings.RecordingDuration,
		"tts_language", settings.TTSLanguage,
		"model", settings.Model,
	)
	writeJSON(w, http.StatusOK, settings)
}

// HandleSpeech handles POST /api/speech and answers with the raw audio bytes
func (h *SettingsHandler) HandleSpeech(w http.ResponseWriter, r *http.Request) {
	var req SpeechRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	speech, err := h.assistant.Speak(r.Context(), req.Text, req.Lang)
	if err != nil {
		writeOperationError(w, err)
		return
	}

	w.Header().Set("Content-Type", speech.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(speech.Audio)))
	if speech.Voice != "" {
		w.Header().Set("X-Voice", speech.Voice)
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(speech.Audio); err != nil {
		logging.LogError(err, "Failed to write speech response")
	}
}
