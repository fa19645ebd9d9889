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

package messaging

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/loqalabs/loqa-concierge/internal/logging"
	"github.com/loqalabs/loqa-concierge/internal/security"
)

// SpeechAudioMessage carries one synthesized reply to playback clients
type SpeechAudioMessage struct {
	StreamID    string `json:"stream_id"`
	SessionID   string `json:"session_id"`
	Language    string `json:"language"`
	Voice       string `json:"voice,omitempty"`
	ContentType string `json:"content_type"`
	AudioData   []byte `json:"audio_data"`
}

// SpeechAudioSubject returns the subject playback clients for sessionID subscribe to
func SpeechAudioSubject(prefix, sessionID string) string {
	return fmt.Sprintf("%s.audio.%s", prefix, sessionID)
}

// PublishSpeechAudio publishes synthesized audio for a session
func (ns *NATSService) PublishSpeechAudio(sessionID, language, voice, contentType string, audio []byte) (string, error) {
	if err := security.ValidateSessionID(sessionID); err != nil {
		return "", err
	}
	if len(audio) == 0 {
		return "", fmt.Errorf("no audio to publish")
	}

	msg := SpeechAudioMessage{
		StreamID:    uuid.New().String(),
		SessionID:   sessionID,
		Language:    language,
		Voice:       voice,
		ContentType: contentType,
		AudioData:   audio,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal speech audio: %w", err)
	}

	subject := SpeechAudioSubject(ns.cfg.SubjectPrefix, sessionID)
	if err := ns.publish(subject, data); err != nil {
		if errors.Is(err, ErrNotConnected) {
			return "", err
		}
		return "", fmt.Errorf("failed to publish speech audio: %w", err)
	}

	logging.LogNATSEvent(subject, "published",
		zap.String("stream_id", msg.StreamID),
		zap.Int("bytes", len(audio)),
	)
	return msg.StreamID, nil
}
