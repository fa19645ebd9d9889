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
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/loqalabs/loqa-concierge/internal/assistant"
	"github.com/loqalabs/loqa-concierge/internal/audio"
	"github.com/loqalabs/loqa-concierge/internal/conversation"
	"github.com/loqalabs/loqa-concierge/internal/llm"
	"github.com/loqalabs/loqa-concierge/internal/logging"
	"github.com/loqalabs/loqa-concierge/internal/security"
	"github.com/loqalabs/loqa-concierge/internal/session"
)

// multipartMemory is how much of an upload is held in memory before spilling to disk
const multipartMemory = 8 << 20

// SessionsHandler serves the conversation endpoints under /api/sessions
type SessionsHandler struct {
	assistant      *assistant.Assistant
	maxUploadBytes int64
}

// NewSessionsHandler creates a sessions handler; uploads larger than maxUploadBytes are rejected
func NewSessionsHandler(a *assistant.Assistant, maxUploadBytes int64) *SessionsHandler {
	return &SessionsHandler{assistant: a, maxUploadBytes: maxUploadBytes}
}

// SessionResponse describes a session and its transcript
type SessionResponse struct {
	ID         string                    `json:"id"`
	Persona    conversation.PersonaLabel `json:"persona"`
	Model      string                    `json:"model"`
	CreatedAt  time.Time                 `json:"created_at"`
	Transcript []conversation.Turn       `json:"transcript"`
}

// CreateSessionRequest is the optional body of POST /api/sessions
type CreateSessionRequest struct {
	Persona string `json:"persona"`
}

// MessageRequest is the body of POST /api/sessions/{id}/messages
type MessageRequest struct {
	Text  string `json:"text"`
	Speak bool   `json:"speak"`
}

// RegenerateRequest is the optional body of POST /api/sessions/{id}/regenerate
type RegenerateRequest struct {
	Speak bool `json:"speak"`
}

// PersonaRequest is the body of PUT /api/sessions/{id}/persona
type PersonaRequest struct {
	Persona string `json:"persona"`
}

// SpeechPayload is synthesized audio inside a JSON response; Audio is base64 encoded
type SpeechPayload struct {
	ContentType string `json:"content_type"`
	Voice       string `json:"voice,omitempty"`
	Audio       []byte `json:"audio"`
}

// ReplyResponse is returned by every turn endpoint
type ReplyResponse struct {
	*assistant.Reply
	Speech *SpeechPayload `json:"speech,omitempty"`
}

func newSessionResponse(s *session.Session) SessionResponse {
	transcript := s.Engine.Transcript()
	if transcript == nil {
		transcript = []conversation.Turn{}
	}
	return SessionResponse{
		ID:         s.ID,
		Persona:    s.Engine.Persona(),
		Model:      s.Engine.Model(),
		CreatedAt:  s.CreatedAt,
		Transcript: transcript,
	}
}

func newReplyResponse(reply *assistant.Reply) ReplyResponse {
	resp := ReplyResponse{Reply: reply}
	if reply.Speech != nil {
		resp.Speech = newSpeechPayload(reply.Speech)
	}
	return resp
}

func newSpeechPayload(speech *llm.SpeechAudio) *SpeechPayload {
	return &SpeechPayload{
		ContentType: speech.ContentType,
		Voice:       speech.Voice,
		Audio:       speech.Audio,
	}
}

// HandleCreateSession handles POST /api/sessions
func (h *SessionsHandler) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if r.ContentLength != 0 {
		if err := readJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	s, err := h.assistant.CreateSession(r.Context(), req.Persona)
	if err != nil {
		writeOperationError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, newSessionResponse(s))
}

// HandleGetSession handles GET /api/sessions/{id}
func (h *SessionsHandler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.assistant.GetSession(r.PathValue("id"))
	if err != nil {
		writeOperationError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newSessionResponse(s))
}

// HandleDeleteSession handles DELETE /api/sessions/{id}?purge_events=true
func (h *SessionsHandler) HandleDeleteSession(w http.ResponseWriter, r *http.Request) {
	purge, _ := strconv.ParseBool(r.URL.Query().Get("purge_events"))

	if err := h.assistant.DeleteSession(r.Context(), r.PathValue("id"), purge); err != nil {
		writeOperationError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleMessage handles POST /api/sessions/{id}/messages
func (h *SessionsHandler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	reply, err := h.assistant.SendText(r.Context(), r.PathValue("id"), req.Text, req.Speak)
	if err != nil {
		writeOperationError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newReplyResponse(reply))
}

// HandleAudio handles POST /api/sessions/{id}/audio with a multipart "file" field
func (h *SessionsHandler) HandleAudio(w http.ResponseWriter, r *http.Request) {
	if h.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large") {
			writeError(w, http.StatusRequestEntityTooLarge, "audio upload is too large")
			return
		}
		writeError(w, http.StatusBadRequest, "expected a multipart form with a file field")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer func() { _ = file.Close() }()

	format, err := audio.DetectFormat(header.Filename, header.Header.Get("Content-Type"))
	if err != nil {
		writeOperationError(w, err)
		return
	}

	logging.LogAudioProcessing("uploaded",
		zap.String("filename", security.SanitizeLogInput(header.Filename)),
		zap.Int64("bytes", header.Size),
		zap.String("format", string(format)),
	)

	speak, _ := strconv.ParseBool(r.FormValue("speak"))
	reply, err := h.assistant.SendAudio(r.Context(), r.PathValue("id"), file, format, speak)
	if err != nil {
		writeOperationError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newReplyResponse(reply))
}

// HandleRegenerate handles POST /api/sessions/{id}/regenerate
func (h *SessionsHandler) HandleRegenerate(w http.ResponseWriter, r *http.Request) {
	var req RegenerateRequest
	if r.ContentLength != 0 {
		if err := readJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	reply, err := h.assistant.Regenerate(r.Context(), r.PathValue("id"), req.Speak)
	if err != nil {
		writeOperationError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newReplyResponse(reply))
}

// HandlePersona handles PUT /api/sessions/{id}/persona
func (h *SessionsHandler) HandlePersona(w http.ResponseWriter, r *http.Request) {
	var req PersonaRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := h.assistant.SwitchPersona(r.Context(), r.PathValue("id"), req.Persona); err != nil {
		writeOperationError(w, err)
		return
	}

	s, err := h.assistant.GetSession(r.PathValue("id"))
	if err != nil {
		writeOperationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(s))
}

// HandleReset handles POST /api/sessions/{id}/reset
func (h *SessionsHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	if err := h.assistant.Reset(r.Context(), r.PathValue("id")); err != nil {
		writeOperationError(w, err)
		return
	}

	s, err := h.assistant.GetSession(r.PathValue("id"))
	if err != nil {
		writeOperationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(s))
}

// HandleAnalysis handles POST /api/sessions/{id}/analysis
func (h *SessionsHandler) HandleAnalysis(w http.ResponseWriter, r *http.Request) {
	result, err := h.assistant.Analyze(r.Context(), r.PathValue("id"))
	if err != nil {
		writeOperationError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// HandlePersonas handles GET /api/personas
func (h *SessionsHandler) HandlePersonas(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"personas": conversation.PersonaLabels(),
		"default":  conversation.DefaultPersona,
	})
}
