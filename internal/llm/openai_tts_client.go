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
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/loqalabs/loqa-concierge/internal/config"
	"github.com/loqalabs/loqa-concierge/internal/logging"
)

// queueWait bounds how long a caller waits for a free synthesis slot
const queueWait = 5 * time.Second

// OpenAITTSClient implements Synthesizer against an OpenAI-compatible /audio/speech endpoint
type OpenAITTSClient struct {
	api    *openai.Client
	http   *http.Client
	config config.TTSConfig
	slots  chan struct{}
}

// NewOpenAITTSClient creates a TTS client limited to cfg.MaxConcurrent requests in flight
func NewOpenAITTSClient(cfg config.TTSConfig) (*OpenAITTSClient, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("TTS URL cannot be empty")
	}
	if cfg.MaxConcurrent <= 0 {
		return nil, fmt.Errorf("TTS max concurrent must be positive: %d", cfg.MaxConcurrent)
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = strings.TrimSuffix(cfg.URL, "/")
	clientConfig.HTTPClient = httpClient

	logging.Sugar.Infow("🔊 TTS client initialized",
		"url", clientConfig.BaseURL,
		"model", cfg.Model,
		"voices", cfg.Voices,
		"max_concurrent", cfg.MaxConcurrent,
	)

	return &OpenAITTSClient{
		api:    openai.NewClientWithConfig(clientConfig),
		http:   httpClient,
		config: cfg,
		slots:  make(chan struct{}, cfg.MaxConcurrent),
	}, nil
}

// Synthesize converts text to speech, choosing the voice configured for lang
func (c *OpenAITTSClient) Synthesize(ctx context.Context, text, lang string) (*SpeechAudio, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &SynthesisError{Language: lang, Reason: "text cannot be empty"}
	}

	voice := c.config.Voices[lang]
	if voice == "" {
		return nil, &SynthesisError{Language: lang, Reason: "no voice configured for language"}
	}

	release, err := c.acquire(ctx, lang)
	if err != nil {
		return nil, err
	}
	defer release()

	started := time.Now()
	logging.LogTTSOperation("synthesis_start",
		zap.String("voice", voice),
		zap.String("language", lang),
		zap.Int("text_length", len(text)),
		zap.String("format", c.config.ResponseFormat),
	)

	resp, err := c.api.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(c.config.Model),
		Input:          text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormat(c.config.ResponseFormat),
		Speed:          float64(c.config.Speed),
	})
	if err != nil {
		logging.LogWarn("TTS request failed",
			zap.String("voice", voice),
			zap.Int("status_code", upstreamStatus(err)),
			zap.Error(err),
		)
		return nil, &SynthesisError{Language: lang, Reason: "upstream request failed", Cause: err}
	}

	speech, err := c.readSpeech(resp, voice)
	if err != nil {
		return nil, &SynthesisError{Language: lang, Reason: err.Error()}
	}

	logging.LogTTSOperation("synthesis_complete",
		zap.String("voice", voice),
		zap.Duration("processing_time", time.Since(started)),
		zap.String("content_type", speech.ContentType),
		zap.Int("content_length", len(speech.Audio)),
	)
	return speech, nil
}

// acquire waits for a free slot and returns its release func
func (c *OpenAITTSClient) acquire(ctx context.Context, lang string) (func(), error) {
	timer := time.NewTimer(queueWait)
	defer timer.Stop()

	select {
	case c.slots <- struct{}{}:
		return func() { <-c.slots }, nil
	case <-ctx.Done():
		return nil, &SynthesisError{Language: lang, Reason: "synthesis queue wait cancelled", Cause: ctx.Err()}
	case <-timer.C:
		return nil, &SynthesisError{Language: lang, Reason: "synthesis queue full, request timed out"}
	}
}

func (c *OpenAITTSClient) readSpeech(resp openai.RawResponse, voice string) (*SpeechAudio, error) {
	defer func() {
		if err := resp.Close(); err != nil {
			logging.LogWarn("Failed to close TTS response body", zap.Error(err))
		}
	}()

	data, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("upstream returned no audio")
	}

	contentType := resp.Header().Get("Content-Type")
	if contentType == "" {
		contentType = contentTypeForFormat(c.config.ResponseFormat)
	}
	return &SpeechAudio{Audio: data, ContentType: contentType, Voice: voice}, nil
}

// upstreamStatus extracts the HTTP status from a go-openai error, or 0
func upstreamStatus(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

// Close releases idle upstream connections
func (c *OpenAITTSClient) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

func contentTypeForFormat(format string) string {
	switch format {
	case "wav":
		return "audio/wav"
	case "opus":
		return "audio/opus"
	case "flac":
		return "audio/flac"
	case "aac":
		return "audio/aac"
	case "pcm":
		return "audio/pcm"
	default:
		return "audio/mpeg"
	}
}
