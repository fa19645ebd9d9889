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

package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/loqalabs/loqa-concierge/internal/api"
	"github.com/loqalabs/loqa-concierge/internal/config"
	"github.com/loqalabs/loqa-concierge/internal/conversation"
	"github.com/loqalabs/loqa-concierge/internal/events"
)

// ConciergeCLI talks to the concierge HTTP API and renders the results
type ConciergeCLI struct {
	serverURL string
	format    string
	out       io.Writer
	client    *http.Client
}

// NewConciergeCLI creates a CLI client writing to out
func NewConciergeCLI(serverURL, format string, out io.Writer) *ConciergeCLI {
	return &ConciergeCLI{
		serverURL: strings.TrimSuffix(serverURL, "/"),
		format:    format,
		out:       out,
		client:    &http.Client{Timeout: 2 * time.Minute},
	}
}

// APIError is a non-2xx answer from the server
type APIError struct {
	Status   int
	Response api.ErrorResponse
}

func (e *APIError) Error() string {
	msg := e.Response.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Response.Kind != "" {
		return fmt.Sprintf("API returned status %d (%s): %s", e.Status, e.Response.Kind, msg)
	}
	return fmt.Sprintf("API returned status %d: %s", e.Status, msg)
}

func (c *ConciergeCLI) do(method, path, contentType string, body io.Reader, want int, result interface{}) error {
	req, err := http.NewRequest(method, c.serverURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != want {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr.Response)
		return apiErr
	}

	if result == nil {
		return nil
	}
	if raw, ok := result.(*[]byte); ok {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}
		*raw = data
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func (c *ConciergeCLI) doJSON(method, path string, payload interface{}, want int, result interface{}) error {
	var body io.Reader
	contentType := ""
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}
	return c.do(method, path, contentType, body, want, result)
}

func (c *ConciergeCLI) printJSON(v interface{}) error {
	encoder := json.NewEncoder(c.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func sessionPath(id string, suffix string) string {
	return "/api/sessions/" + url.PathEscape(id) + suffix
}

// CreateSession starts a session and prints its ID
func (c *ConciergeCLI) CreateSession(persona string) error {
	s, err := c.createSession(persona)
	if err != nil {
		return err
	}
	if c.format == "json" {
		return c.printJSON(s)
	}
	fmt.Fprintf(c.out, "Session %s created (persona %s)\n", s.ID, s.Persona)
	return nil
}

func (c *ConciergeCLI) createSession(persona string) (*api.SessionResponse, error) {
	var s api.SessionResponse
	var payload interface{}
	if persona != "" {
		payload = api.CreateSessionRequest{Persona: persona}
	}
	if err := c.doJSON(http.MethodPost, "/api/sessions", payload, http.StatusCreated, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *ConciergeCLI) ensureSession(id string) (string, error) {
	if id != "" {
		return id, nil
	}
	s, err := c.createSession("")
	if err != nil {
		return "", err
	}
	fmt.Fprintf(os.Stderr, "Started session %s\n", s.ID)
	return s.ID, nil
}

// ShowSession prints a session's persona and transcript
func (c *ConciergeCLI) ShowSession(id string) error {
	var s api.SessionResponse
	if err := c.doJSON(http.MethodGet, sessionPath(id, ""), nil, http.StatusOK, &s); err != nil {
		return err
	}
	if c.format == "json" {
		return c.printJSON(s)
	}

	fmt.Fprintf(c.out, "Session:  %s\n", s.ID)
	fmt.Fprintf(c.out, "Persona:  %s\n", s.Persona)
	fmt.Fprintf(c.out, "Model:    %s\n", s.Model)
	fmt.Fprintf(c.out, "Created:  %s\n", s.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(c.out, "\nTranscript (%d turns):\n", len(s.Transcript))
	for _, turn := range s.Transcript {
		fmt.Fprintf(c.out, "  %-9s %s\n", turn.Role+":", turn.Content)
	}
	return nil
}

// Chat sends a text message, creating a session when id is empty
func (c *ConciergeCLI) Chat(id, text string, speak bool, audioOut string) error {
	id, err := c.ensureSession(id)
	if err != nil {
		return err
	}

	var reply api.ReplyResponse
	req := api.MessageRequest{Text: text, Speak: speak}
	if err := c.doJSON(http.MethodPost, sessionPath(id, "/messages"), req, http.StatusOK, &reply); err != nil {
		return err
	}
	return c.printReply(&reply, audioOut)
}

// Voice uploads an audio file as a voice turn
func (c *ConciergeCLI) Voice(id, path string, speak bool, audioOut string) error {
	id, err := c.ensureSession(id)
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open audio file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return fmt.Errorf("failed to build upload: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("failed to read audio file: %w", err)
	}
	if err := mw.WriteField("speak", strconv.FormatBool(speak)); err != nil {
		return fmt.Errorf("failed to build upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("failed to build upload: %w", err)
	}

	var reply api.ReplyResponse
	if err := c.do(http.MethodPost, sessionPath(id, "/audio"), mw.FormDataContentType(), &buf, http.StatusOK, &reply); err != nil {
		return err
	}
	return c.printReply(&reply, audioOut)
}

// Regenerate replaces the latest assistant reply
func (c *ConciergeCLI) Regenerate(id string, speak bool, audioOut string) error {
	var reply api.ReplyResponse
	req := api.RegenerateRequest{Speak: speak}
	if err := c.doJSON(http.MethodPost, sessionPath(id, "/regenerate"), req, http.StatusOK, &reply); err != nil {
		return err
	}
	return c.printReply(&reply, audioOut)
}

func (c *ConciergeCLI) printReply(reply *api.ReplyResponse, audioOut string) error {
	if audioOut != "" && reply.Speech != nil {
		if err := os.WriteFile(audioOut, reply.Speech.Audio, 0o600); err != nil {
			return fmt.Errorf("failed to write audio: %w", err)
		}
	}

	if c.format == "json" {
		return c.printJSON(reply)
	}

	if reply.Transcription != "" {
		fmt.Fprintf(c.out, "You:       %s\n", reply.Transcription)
	}
	fmt.Fprintf(c.out, "Assistant: %s\n", reply.Text)
	if reply.SpeechError != "" {
		fmt.Fprintf(c.out, "(speech unavailable: %s)\n", reply.SpeechError)
	} else if audioOut != "" && reply.Speech != nil {
		fmt.Fprintf(c.out, "(audio written to %s)\n", audioOut)
	}
	fmt.Fprintf(c.out, "[session %s, persona %s, %d turns]\n", reply.SessionID, reply.Persona, reply.TranscriptTurns)
	return nil
}

// SwitchPersona changes the active persona of a session
func (c *ConciergeCLI) SwitchPersona(id, persona string) error {
	var s api.SessionResponse
	req := api.PersonaRequest{Persona: persona}
	if err := c.doJSON(http.MethodPut, sessionPath(id, "/persona"), req, http.StatusOK, &s); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Session %s now uses persona %s\n", s.ID, s.Persona)
	return nil
}

// Reset clears a session's transcript
func (c *ConciergeCLI) Reset(id string) error {
	var s api.SessionResponse
	if err := c.doJSON(http.MethodPost, sessionPath(id, "/reset"), nil, http.StatusOK, &s); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Session %s reset\n", s.ID)
	return nil
}

// Analyze prints the structured analysis of a session
func (c *ConciergeCLI) Analyze(id string) error {
	var result conversation.AnalysisResult
	if err := c.doJSON(http.MethodPost, sessionPath(id, "/analysis"), nil, http.StatusOK, &result); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Response.Raw != "" {
			return fmt.Errorf("%w\nraw model output:\n%s", err, apiErr.Response.Raw)
		}
		return err
	}
	if c.format == "json" {
		return c.printJSON(result)
	}

	fmt.Fprintf(c.out, "Sentiment:        %s\n", result.Sentiment)
	fmt.Fprintf(c.out, "Main issue:       %s\n", result.MainIssue)
	fmt.Fprintf(c.out, "Topics:           %s\n", strings.Join(result.Topics, ", "))
	fmt.Fprintf(c.out, "Summary:          %s\n", result.Summary)
	fmt.Fprintf(c.out, "Suggested action: %s\n", result.SuggestedAction)
	return nil
}

// DeleteSession ends a session
func (c *ConciergeCLI) DeleteSession(id string, purge bool) error {
	path := sessionPath(id, "")
	if purge {
		path += "?purge_events=true"
	}
	if err := c.doJSON(http.MethodDelete, path, nil, http.StatusNoContent, nil); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Session %s deleted\n", id)
	return nil
}

// Personas lists the available personas
func (c *ConciergeCLI) Personas() error {
	var result struct {
		Personas []string `json:"personas"`
		Default  string   `json:"default"`
	}
	if err := c.doJSON(http.MethodGet, "/api/personas", nil, http.StatusOK, &result); err != nil {
		return err
	}
	if c.format == "json" {
		return c.printJSON(result)
	}
	for _, p := range result.Personas {
		marker := " "
		if p == result.Default {
			marker = "*"
		}
		fmt.Fprintf(c.out, "%s %s\n", marker, p)
	}
	return nil
}

// Settings prints the current settings, applying an update first when set is non-empty
func (c *ConciergeCLI) Settings(set string) error {
	var settings config.Settings
	if set == "" {
		if err := c.doJSON(http.MethodGet, "/api/settings", nil, http.StatusOK, &settings); err != nil {
			return err
		}
	} else {
		update, err := parseSettingsUpdate(set)
		if err != nil {
			return err
		}
		if err := c.doJSON(http.MethodPut, "/api/settings", update, http.StatusOK, &settings); err != nil {
			return err
		}
	}

	if c.format == "json" {
		return c.printJSON(settings)
	}
	fmt.Fprintf(c.out, "Sample rate:        %d Hz\n", settings.SampleRate)
	fmt.Fprintf(c.out, "Recording duration: %d s\n", settings.RecordingDuration)
	fmt.Fprintf(c.out, "TTS language:       %s\n", settings.TTSLanguage)
	fmt.Fprintf(c.out, "Model:              %s\n", settings.Model)
	return nil
}

// parseSettingsUpdate reads "key=value,key=value" into a partial update
func parseSettingsUpdate(set string) (config.SettingsUpdate, error) {
	var update config.SettingsUpdate
	for _, pair := range strings.Split(set, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			return update, fmt.Errorf("expected key=value, got %q", pair)
		}
		switch key {
		case "sample_rate", "recording_duration":
			n, err := strconv.Atoi(value)
			if err != nil {
				return update, fmt.Errorf("%s must be an integer: %w", key, err)
			}
			if key == "sample_rate" {
				update.SampleRate = &n
			} else {
				update.RecordingDuration = &n
			}
		case "tts_language":
			v := value
			update.TTSLanguage = &v
		case "model":
			v := value
			update.Model = &v
		default:
			return update, fmt.Errorf("unknown setting %q", key)
		}
	}
	return update, nil
}

// Speak synthesizes text and writes the audio to path
func (c *ConciergeCLI) Speak(text, lang, path string) error {
	var audio []byte
	req := api.SpeechRequest{Text: text, Lang: lang}
	if err := c.doJSON(http.MethodPost, "/api/speech", req, http.StatusOK, &audio); err != nil {
		return err
	}
	if err := os.WriteFile(path, audio, 0o600); err != nil {
		return fmt.Errorf("failed to write audio: %w", err)
	}
	fmt.Fprintf(c.out, "Wrote %d bytes to %s\n", len(audio), path)
	return nil
}

// ListEvents prints recent interaction events
func (c *ConciergeCLI) ListEvents(sessionID, kind string, limit int) error {
	query := url.Values{}
	query.Set("page_size", strconv.Itoa(limit))
	if sessionID != "" {
		query.Set("session_id", sessionID)
	}
	if kind != "" {
		query.Set("kind", kind)
	}

	var result api.ListEventsResponse
	if err := c.doJSON(http.MethodGet, "/api/events?"+query.Encode(), nil, http.StatusOK, &result); err != nil {
		return err
	}
	if c.format == "json" {
		return c.printJSON(result)
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tKIND\tSESSION\tOK\tMS\tERROR")
	fmt.Fprintln(w, "----\t----\t-------\t--\t--\t-----")
	for _, e := range result.Events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			e.Timestamp.Local().Format("2006-01-02 15:04:05"),
			e.Kind,
			shortID(e.SessionID),
			formatBool(e.Success),
			e.ProcessingTime,
			e.ErrorKind,
		)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("error flushing output: %w", err)
	}
	fmt.Fprintf(c.out, "\nShowing %d of %d events\n", len(result.Events), result.Total)
	return nil
}

func (c *ConciergeCLI) printEventLine(e *events.InteractionEvent) {
	if c.format == "json" {
		_ = c.printJSON(e)
		return
	}
	line := fmt.Sprintf("%s %-16s %-8s %s %dms",
		e.Timestamp.Local().Format("15:04:05"), e.Kind, shortID(e.SessionID), formatBool(e.Success), e.ProcessingTime)
	if e.ErrorKind != "" {
		line += " " + e.ErrorKind
	}
	fmt.Fprintln(c.out, line)
}

func shortID(id string) string {
	if id == "" {
		return "-"
	}
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatBool(b bool) string {
	if b {
		return "✓"
	}
	return "✗"
}
