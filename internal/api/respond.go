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
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/loqalabs/loqa-concierge/internal/assistant"
	"github.com/loqalabs/loqa-concierge/internal/conversation"
	"github.com/loqalabs/loqa-concierge/internal/llm"
	"github.com/loqalabs/loqa-concierge/internal/logging"
)

// maxJSONBody bounds JSON request bodies
const maxJSONBody = 1 << 20

// ErrorResponse is the body of every non-2xx JSON response
type ErrorResponse struct {
	Error       bool   `json:"error"`
	Kind        string `json:"kind,omitempty"`
	Message     string `json:"message"`
	Raw         string `json:"raw,omitempty"`
	Timeout     bool   `json:"timeout,omitempty"`
	RateLimited bool   `json:"rate_limited,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.LogError(err, "Failed to write JSON response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: true, Message: message})
}

// readJSON decodes a bounded JSON body into data, rejecting unknown fields
func readJSON(w http.ResponseWriter, r *http.Request, data interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	defer func() { _ = r.Body.Close() }()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(data); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// statusForKind maps an assistant error kind onto an HTTP status
func statusForKind(kind string) int {
	switch kind {
	case assistant.ErrorKindInvalidInput, assistant.ErrorKindAudioFormat:
		return http.StatusBadRequest
	case assistant.ErrorKindNotFound:
		return http.StatusNotFound
	case assistant.ErrorKindTranscription, assistant.ErrorKindGeneration,
		assistant.ErrorKindSynthesis, assistant.ErrorKindAnalysisParse:
		return http.StatusBadGateway
	case assistant.ErrorKindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeOperationError reports an assistant error with the matching status.
// Internal errors are logged and hidden from the client.
func writeOperationError(w http.ResponseWriter, err error) {
	kind := assistant.ClassifyError(err)
	status := statusForKind(kind)

	resp := ErrorResponse{Error: true, Kind: kind, Message: err.Error()}

	var parseErr *conversation.AnalysisParseError
	if errors.As(err, &parseErr) {
		resp.Raw = parseErr.Raw
	}

	var genErr *llm.GenerationError
	if errors.As(err, &genErr) {
		resp.Timeout = genErr.Timeout
		resp.RateLimited = genErr.RateLimited
	}

	if status == http.StatusInternalServerError {
		logging.LogError(err, "Request failed", zap.String("kind", kind))
		resp.Message = "Internal server error"
	}

	writeJSON(w, status, resp)
}
