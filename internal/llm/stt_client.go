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

package llm

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/loqalabs/loqa-concierge/internal/config"
	"github.com/loqalabs/loqa-concierge/internal/logging"
)

// STTClient implements the Transcriber interface against an OpenAI-compatible
// audio transcription endpoint
type STTClient struct {
	client   *openai.Client
	baseURL  string
	model    string
	language string
	timeout  time.Duration
}

// NewSTTClient creates a new OpenAI-compatible STT client
func NewSTTClient(openAICfg config.OpenAIConfig, sttCfg config.STTConfig) (*STTClient, error) {
	if openAICfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key cannot be empty")
	}

	clientConfig := openai.DefaultConfig(openAICfg.APIKey)
	if openAICfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimSuffix(openAICfg.BaseURL, "/")
	}
	clientConfig.HTTPClient = &http.Client{Timeout: sttCfg.Timeout}

	model := sttCfg.Model
	if model == "" {
		model = openai.Whisper1
	}

	if logging.Sugar != nil {
		logging.Sugar.Infow("🎙️ STT client initialized",
			"base_url", clientConfig.BaseURL,
			"model", model,
			"language", sttCfg.Language,
		)
	}

	return &STTClient{
		client:   openai.NewClientWithConfig(clientConfig),
		baseURL:  clientConfig.BaseURL,
		model:    model,
		language: sttCfg.Language,
		timeout:  sttCfg.Timeout,
	}, nil
}

// Transcribe implements the Transcriber interface
func (s *STTClient) Transcribe(ctx context.Context, wav []byte, sampleRate int) (string, error) {
	if len(wav) == 0 {
		return "", &TranscriptionError{Reason: "empty audio data"}
	}

	if sampleRate <= 0 {
		return "", &TranscriptionError{Reason: fmt.Sprintf("invalid sample rate: %d", sampleRate)}
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	startTime := time.Now()
	requestID := fmt.Sprintf("req_%d", startTime.UnixNano())

	logging.LogTranscription("request",
		zap.String("request_id", requestID),
		zap.Int("bytes", len(wav)),
		zap.Int("sample_rate", sampleRate),
	)

	resp, err := s.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    s.model,
		FilePath: "audio.wav",
		Reader:   bytes.NewReader(wav),
		Language: s.language,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		logging.LogError(err, "Transcription request failed",
			zap.String("request_id", requestID),
		)
		return "", &TranscriptionError{Reason: "upstream request failed", Cause: err}
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", &TranscriptionError{Reason: "no speech recognized"}
	}

	logging.LogTranscription("complete",
		zap.String("request_id", requestID),
		zap.Int64("processing_time_ms", time.Since(startTime).Milliseconds()),
		zap.Int("text_length", len(text)),
	)

	return text, nil
}

// Close cleans up resources
func (s *STTClient) Close() error {
	if logging.Sugar != nil {
		logging.Sugar.Infow("Closing STT client", "base_url", s.baseURL)
	}
	return nil
}
