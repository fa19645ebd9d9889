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

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/loqalabs/loqa-concierge/internal/api"
	"github.com/loqalabs/loqa-concierge/internal/assistant"
	"github.com/loqalabs/loqa-concierge/internal/config"
	"github.com/loqalabs/loqa-concierge/internal/logging"
	"github.com/loqalabs/loqa-concierge/internal/messaging"
	"github.com/loqalabs/loqa-concierge/internal/metrics"
	"github.com/loqalabs/loqa-concierge/internal/storage"
	"github.com/loqalabs/loqa-concierge/internal/upstream"
)

// Dependencies are the components the HTTP server exposes. Everything but Assistant is optional.
type Dependencies struct {
	Assistant *assistant.Assistant
	Database  *storage.Database
	Events    *storage.InteractionEventsStore
	NATS      *messaging.NATSService
	Metrics   *metrics.Collector
	Prober    *upstream.Prober
}

// Server is the concierge HTTP API server
type Server struct {
	cfg    *config.Config
	deps   Dependencies
	mux    *http.ServeMux
	server *http.Server

	sessions *api.SessionsHandler
	settings *api.SettingsHandler
	events   *api.InteractionEventsHandler

	mu       sync.Mutex
	listener net.Listener
}

// New creates a server and registers its routes
func New(cfg *config.Config, deps Dependencies) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if deps.Assistant == nil {
		return nil, fmt.Errorf("assistant is required")
	}

	// A typed nil store must not reach the handler as a non-nil interface
	var querier api.EventQuerier
	if deps.Events != nil {
		querier = deps.Events
	}

	s := &Server{
		cfg:      cfg,
		deps:     deps,
		mux:      http.NewServeMux(),
		sessions: api.NewSessionsHandler(deps.Assistant, cfg.Audio.MaxUploadBytes),
		settings: api.NewSettingsHandler(deps.Assistant),
		events:   api.NewInteractionEventsHandler(querier),
	}

	s.server = &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:      s.mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	s.routes()
	return s, nil
}

// Handler returns the root handler, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Addr returns the bound address once Start is listening, otherwise the configured one
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.server.Addr
}

// Start listens and serves until Stop is called
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	logging.Sugar.Infow("🚀 Loqa Concierge listening",
		"addr", ln.Addr().String(),
		"transcription", s.deps.Assistant.TranscriptionEnabled(),
		"speech", s.deps.Assistant.SpeechEnabled(),
		"storage", s.deps.Events != nil,
		"messaging", s.deps.NATS != nil)

	if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop() error {
	logging.Sugar.Infow("🛑 Shutting down Loqa Concierge")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	logging.Sugar.Infow("✅ Loqa Concierge shut down successfully")
	return nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	if s.deps.Metrics != nil {
		s.mux.Handle("GET /metrics", s.deps.Metrics.Handler())
	}

	s.handle("POST /api/sessions", s.sessions.HandleCreateSession)
	s.handle("GET /api/sessions/{id}", s.sessions.HandleGetSession)
	s.handle("DELETE /api/sessions/{id}", s.sessions.HandleDeleteSession)
	s.handle("POST /api/sessions/{id}/messages", s.sessions.HandleMessage)
	s.handle("POST /api/sessions/{id}/audio", s.sessions.HandleAudio)
	s.handle("POST /api/sessions/{id}/regenerate", s.sessions.HandleRegenerate)
	s.handle("PUT /api/sessions/{id}/persona", s.sessions.HandlePersona)
	s.handle("POST /api/sessions/{id}/reset", s.sessions.HandleReset)
	s.handle("POST /api/sessions/{id}/analysis", s.sessions.HandleAnalysis)
	s.handle("GET /api/personas", s.sessions.HandlePersonas)

	s.handle("GET /api/settings", s.settings.HandleGetSettings)
	s.handle("PUT /api/settings", s.settings.HandleUpdateSettings)
	s.handle("POST /api/speech", s.settings.HandleSpeech)

	s.handle("GET /api/events", s.events.HandleListEvents)
	s.handle("GET /api/events/{id}", s.events.HandleGetEvent)

	logging.Sugar.Infow("🌐 HTTP routes configured",
		"sessions_endpoint", "/api/sessions",
		"settings_endpoint", "/api/settings",
		"speech_endpoint", "/api/speech",
		"events_endpoint", "/api/events",
		"metrics_enabled", s.deps.Metrics != nil)
}

// handle registers an API route wrapped with request metrics
func (s *Server) handle(pattern string, h http.HandlerFunc) {
	s.mux.Handle(pattern, s.instrument(pattern, h))
}

func (s *Server) instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		s.deps.Metrics.RecordHTTPRequest(r.Method, route, rec.status, duration)
		if rec.status >= http.StatusInternalServerError {
			logging.LogWarn("Request failed",
				zap.String("route", route),
				zap.Int("status", rec.status),
				zap.Duration("duration", duration))
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status         string             `json:"status"`
	Timestamp      time.Time          `json:"timestamp"`
	Services       map[string]bool    `json:"services"`
	ActiveSessions int                `json:"active_sessions"`
	Upstream       *upstream.Snapshot `json:"upstream,omitempty"`
}

// handleHealth reports which optional services are wired, whether storage answers
// and, when probing is enabled, the last upstream availability round
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Services: map[string]bool{
			"transcription": s.deps.Assistant.TranscriptionEnabled(),
			"speech":        s.deps.Assistant.SpeechEnabled(),
			"storage":       s.deps.Database != nil,
			"messaging":     s.deps.NATS != nil && s.deps.NATS.IsConnected(),
		},
		ActiveSessions: s.deps.Assistant.ActiveSessions(),
	}

	if s.deps.Database != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Database.Ping(ctx); err != nil {
			logging.LogWarn("Storage health check failed", zap.Error(err))
			resp.Services["storage"] = false
			resp.Status = "degraded"
		}
	}

	if s.deps.Prober != nil {
		snap := s.deps.Prober.Snapshot()
		resp.Upstream = &snap
		if snap.Degraded {
			resp.Status = "degraded"
		}
	}

	if err := writeJSON(w, resp); err != nil {
		logging.LogError(err, "Failed to write health response")
	}
}

func writeJSON(w http.ResponseWriter, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(data)
}
