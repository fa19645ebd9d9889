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
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFakeServer(t *testing.T, mux *http.ServeMux) (*ConciergeCLI, *bytes.Buffer) {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	var out bytes.Buffer
	return NewConciergeCLI(srv.URL+"/", "table", &out), &out
}

func writeBody(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func TestChatCreatesSessionWhenMissing(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/sessions", func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, http.StatusCreated, `{"id":"s-1","persona":"customer_service","transcript":[]}`)
	})
	mux.HandleFunc("POST /api/sessions/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "s-1", r.PathValue("id"))
		var req map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Where is my parcel?", req["text"])
		writeBody(w, http.StatusOK, `{"session_id":"s-1","persona":"customer_service","reply":"Let me check.","transcript_turns":2}`)
	})

	cli, out := newFakeServer(t, mux)
	require.NoError(t, cli.Chat("", "Where is my parcel?", false, ""))
	assert.Contains(t, out.String(), "Assistant: Let me check.")
	assert.Contains(t, out.String(), "2 turns")
}

func TestChatWritesSpeechAudio(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/sessions/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		// "aGk=" is base64 for "hi"
		writeBody(w, http.StatusOK, `{"session_id":"s-1","reply":"Hello","speech":{"content_type":"audio/mpeg","audio":"aGk="}}`)
	})

	cli, out := newFakeServer(t, mux)
	path := filepath.Join(t.TempDir(), "reply.mp3")
	require.NoError(t, cli.Chat("s-1", "hello", true, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(data))
	assert.Contains(t, out.String(), "audio written to")
}

func TestAPIErrorsAreReported(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/sessions/{id}/analysis", func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, http.StatusBadGateway, `{"error":true,"kind":"analysis_parse","message":"not JSON","raw":"sorry, no"}`)
	})
	mux.HandleFunc("POST /api/sessions/{id}/reset", func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, http.StatusNotFound, `{"error":true,"kind":"not_found","message":"session not found"}`)
	})

	cli, _ := newFakeServer(t, mux)

	err := cli.Analyze("s-1")
	require.Error(t, err)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Contains(t, err.Error(), "sorry, no")

	err = cli.Reset("s-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "not_found")
}

func TestDeleteSessionPurge(t *testing.T) {
	var gotQuery string
	mux := http.NewServeMux()
	mux.HandleFunc("DELETE /api/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.WriteHeader(http.StatusNoContent)
	})

	cli, out := newFakeServer(t, mux)
	require.NoError(t, cli.DeleteSession("s-1", true))
	assert.Equal(t, "purge_events=true", gotQuery)
	assert.Contains(t, out.String(), "deleted")
}

func TestSettingsUpdate(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /api/settings", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, float64(22050), req["sample_rate"])
		assert.Equal(t, "zh", req["tts_language"])
		assert.NotContains(t, req, "model")
		writeBody(w, http.StatusOK, `{"sample_rate":22050,"recording_duration":10,"tts_language":"zh","model":"gpt-4"}`)
	})

	cli, out := newFakeServer(t, mux)
	require.NoError(t, cli.Settings("sample_rate=22050, tts_language=zh"))
	assert.Contains(t, out.String(), "22050 Hz")
}

func TestParseSettingsUpdate(t *testing.T) {
	update, err := parseSettingsUpdate("recording_duration=30,model=gpt-4o")
	require.NoError(t, err)
	require.NotNil(t, update.RecordingDuration)
	assert.Equal(t, 30, *update.RecordingDuration)
	require.NotNil(t, update.Model)
	assert.Equal(t, "gpt-4o", *update.Model)
	assert.Nil(t, update.SampleRate)

	_, err = parseSettingsUpdate("sample_rate=fast")
	assert.Error(t, err)
	_, err = parseSettingsUpdate("volume=11")
	assert.Error(t, err)
	_, err = parseSettingsUpdate("sample_rate")
	assert.Error(t, err)
}

func TestSpeakWritesRawAudio(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/speech", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte{0xff, 0xfb, 0x90})
	})

	cli, out := newFakeServer(t, mux)
	path := filepath.Join(t.TempDir(), "hello.mp3")
	require.NoError(t, cli.Speak("hello", "en", path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xfb, 0x90}, data)
	assert.Contains(t, out.String(), "Wrote 3 bytes")
}

func TestListEventsTable(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/events", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text_turn", r.URL.Query().Get("kind"))
		assert.Equal(t, "5", r.URL.Query().Get("page_size"))
		writeBody(w, http.StatusOK, `{"events":[{"id":"e1","session_id":"0123456789abcdef","kind":"text_turn","timestamp":"2025-01-02T03:04:05Z","success":true,"processing_time_ms":42}],"total":1,"page":1,"page_size":5,"total_pages":1}`)
	})

	cli, out := newFakeServer(t, mux)
	require.NoError(t, cli.ListEvents("", "text_turn", 5))
	assert.Contains(t, out.String(), "text_turn")
	assert.Contains(t, out.String(), "01234567")
	assert.Contains(t, out.String(), "Showing 1 of 1 events")
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "-", shortID(""))
	assert.Equal(t, "abc", shortID("abc"))
	assert.Equal(t, "01234567", shortID("0123456789"))
}
