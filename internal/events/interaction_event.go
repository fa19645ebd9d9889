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

package events

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind identifies the operation an InteractionEvent describes
type Kind string

const (
	KindSessionCreated Kind = "session_created"
	KindSessionDeleted Kind = "session_deleted"
	KindTextTurn       Kind = "text_turn"
	KindVoiceTurn      Kind = "voice_turn"
	KindRegenerate     Kind = "regenerate"
	KindPersonaSwitch  Kind = "persona_switch"
	KindReset          Kind = "reset"
	KindAnalysis       Kind = "analysis"
	KindSpeech         Kind = "speech"
	KindSettingsUpdate Kind = "settings_update"
)

var validKinds = map[Kind]bool{
	KindSessionCreated: true,
	KindSessionDeleted: true,
	KindTextTurn:       true,
	KindVoiceTurn:      true,
	KindRegenerate:     true,
	KindPersonaSwitch:  true,
	KindReset:          true,
	KindAnalysis:       true,
	KindSpeech:         true,
	KindSettingsUpdate: true,
}

// IsValidKind reports whether k is a known event kind
func IsValidKind(k Kind) bool {
	return validKinds[k]
}

// InteractionEvent records one assistant operation. It carries metadata only:
// utterance and reply text stay in the session's in-memory transcript.
type InteractionEvent struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id,omitempty"`
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`

	Persona string `json:"persona,omitempty"`
	Model   string `json:"model,omitempty"`

	// Audio metadata, voice turns and speech only
	AudioHash     string  `json:"audio_hash,omitempty"`
	AudioDuration float64 `json:"audio_duration,omitempty"`
	SampleRate    int     `json:"sample_rate,omitempty"`

	InputLength     int               `json:"input_length"`
	ReplyLength     int               `json:"reply_length"`
	TranscriptTurns int               `json:"transcript_turns"`
	Attributes      map[string]string `json:"attributes,omitempty"`

	ProcessingTime int64  `json:"processing_time_ms"`
	Success        bool   `json:"success"`
	ErrorKind      string `json:"error_kind,omitempty"`
	ErrorMessage   string `json:"error_message,omitempty"`
}

// NewInteractionEvent creates an event with a fresh ID and the current time
func NewInteractionEvent(kind Kind, sessionID string) *InteractionEvent {
	return &InteractionEvent{
		ID:         uuid.New().String(),
		SessionID:  sessionID,
		Kind:       kind,
		Timestamp:  time.Now().UTC().Truncate(time.Millisecond),
		Attributes: make(map[string]string),
		Success:    true,
	}
}

// SetAudioMetadata records a fingerprint and the shape of the processed clip
func (e *InteractionEvent) SetAudioMetadata(wav []byte, duration time.Duration, sampleRate int) {
	sum := sha256.Sum256(wav)
	e.AudioHash = hex.EncodeToString(sum[:])
	e.AudioDuration = duration.Seconds()
	e.SampleRate = sampleRate
}

// SetAttribute attaches a small string annotation (format, language, old persona...)
func (e *InteractionEvent) SetAttribute(key, value string) {
	if e.Attributes == nil {
		e.Attributes = make(map[string]string)
	}
	e.Attributes[key] = value
}

// Complete marks the event successful and stamps the processing time
func (e *InteractionEvent) Complete(replyLength, transcriptTurns int) {
	e.ReplyLength = replyLength
	e.TranscriptTurns = transcriptTurns
	e.ProcessingTime = time.Since(e.Timestamp).Milliseconds()
}

// SetError marks the event as failed
func (e *InteractionEvent) SetError(kind string, err error) {
	e.Success = false
	e.ErrorKind = kind
	if err != nil {
		e.ErrorMessage = err.Error()
	}
	e.ProcessingTime = time.Since(e.Timestamp).Milliseconds()
}

// AttributesJSON returns attributes as a JSON string for database storage
func (e *InteractionEvent) AttributesJSON() (string, error) {
	if len(e.Attributes) == 0 {
		return "{}", nil
	}

	data, err := json.Marshal(e.Attributes)
	if err != nil {
		return "", fmt.Errorf("failed to marshal attributes: %w", err)
	}

	return string(data), nil
}

// SetAttributesFromJSON parses a stored attributes column
func (e *InteractionEvent) SetAttributesFromJSON(jsonStr string) error {
	if jsonStr == "" || jsonStr == "{}" {
		e.Attributes = make(map[string]string)
		return nil
	}

	var attributes map[string]string
	if err := json.Unmarshal([]byte(jsonStr), &attributes); err != nil {
		return fmt.Errorf("failed to unmarshal attributes JSON: %w", err)
	}

	e.Attributes = attributes
	return nil
}

// IsValid performs basic validation on the event
func (e *InteractionEvent) IsValid() error {
	if e.ID == "" {
		return fmt.Errorf("ID is required")
	}

	if !IsValidKind(e.Kind) {
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}

	if e.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}

	if e.AudioDuration < 0 || e.ProcessingTime < 0 {
		return fmt.Errorf("durations must not be negative")
	}

	return nil
}

// Subject returns the messaging subject for this event under prefix
func (e *InteractionEvent) Subject(prefix string) string {
	return prefix + "." + string(e.Kind)
}

func (e *InteractionEvent) String() string {
	return fmt.Sprintf("InteractionEvent{ID: %s, Session: %s, Kind: %s, Success: %t, Time: %dms}",
		e.ID, e.SessionID, e.Kind, e.Success, e.ProcessingTime)
}
