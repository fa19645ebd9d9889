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
	"fmt"
	"sync"
)

// MockGenerator implements Generator for testing and records every request
type MockGenerator struct {
	CompleteFunc func(ctx context.Context, req CompletionRequest) (string, error)

	mu       sync.Mutex
	requests []CompletionRequest
}

func (m *MockGenerator) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	m.mu.Lock()
	recorded := req
	recorded.Messages = append([]Message(nil), req.Messages...)
	m.requests = append(m.requests, recorded)
	m.mu.Unlock()

	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, req)
	}
	return "", fmt.Errorf("no mock function provided")
}

// Requests returns a copy of every request seen so far
func (m *MockGenerator) Requests() []CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CompletionRequest(nil), m.requests...)
}

// LastRequest returns the most recent request, or false if there was none
func (m *MockGenerator) LastRequest() (CompletionRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return CompletionRequest{}, false
	}
	return m.requests[len(m.requests)-1], true
}

// NewStaticGenerator returns a mock that always replies with text
func NewStaticGenerator(text string) *MockGenerator {
	return &MockGenerator{
		CompleteFunc: func(ctx context.Context, req CompletionRequest) (string, error) {
			return text, nil
		},
	}
}

// NewEchoGenerator returns a mock that replies with the content of the last message
func NewEchoGenerator() *MockGenerator {
	return &MockGenerator{
		CompleteFunc: func(ctx context.Context, req CompletionRequest) (string, error) {
			if len(req.Messages) == 0 {
				return "", nil
			}
			return req.Messages[len(req.Messages)-1].Content, nil
		},
	}
}

// NewFailingGenerator returns a mock that always fails with err
func NewFailingGenerator(err error) *MockGenerator {
	return &MockGenerator{
		CompleteFunc: func(ctx context.Context, req CompletionRequest) (string, error) {
			return "", err
		},
	}
}

// MockTranscriber implements Transcriber for testing
type MockTranscriber struct {
	TranscribeFunc func(ctx context.Context, wav []byte, sampleRate int) (string, error)
}

func (m *MockTranscriber) Transcribe(ctx context.Context, wav []byte, sampleRate int) (string, error) {
	if m.TranscribeFunc != nil {
		return m.TranscribeFunc(ctx, wav, sampleRate)
	}
	return "", &TranscriptionError{Reason: "no mock function provided"}
}

func (m *MockTranscriber) Close() error { return nil }

// MockSynthesizer implements Synthesizer for testing
type MockSynthesizer struct {
	SynthesizeFunc func(ctx context.Context, text, lang string) (*SpeechAudio, error)
}

func (m *MockSynthesizer) Synthesize(ctx context.Context, text, lang string) (*SpeechAudio, error) {
	if m.SynthesizeFunc != nil {
		return m.SynthesizeFunc(ctx, text, lang)
	}
	return &SpeechAudio{Audio: []byte("mock-audio:" + lang), ContentType: "audio/mpeg", Voice: "mock"}, nil
}

func (m *MockSynthesizer) Close() error { return nil }
