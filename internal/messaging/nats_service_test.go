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
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/loqalabs/loqa-concierge/internal/config"
	"github.com/loqalabs/loqa-concierge/internal/events"
)

// MockNATSConnection records published messages and can fail per subject
type MockNATSConnection struct {
	mu        sync.Mutex
	published map[string][][]byte
	errors    map[string]error
}

func NewMockNATSConnection() *MockNATSConnection {
	return &MockNATSConnection{
		published: make(map[string][][]byte),
		errors:    make(map[string]error),
	}
}

func (m *MockNATSConnection) Publish(subject string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err, ok := m.errors[subject]; ok {
		return err
	}
	m.published[subject] = append(m.published[subject], data)
	return nil
}

func (m *MockNATSConnection) SetError(subject string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[subject] = err
}

func (m *MockNATSConnection) Messages(subject string) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.published[subject]
}

func newTestService(t *testing.T) (*NATSService, *MockNATSConnection) {
	t.Helper()

	ns, err := NewNATSService(config.NATSConfig{URL: "nats://localhost:4222", SubjectPrefix: "test.events"})
	if err != nil {
		t.Fatalf("NewNATSService() error = %v", err)
	}
	mock := NewMockNATSConnection()
	ns.pub = mock
	return ns, mock
}

func TestNewNATSService(t *testing.T) {
	if _, err := NewNATSService(config.NATSConfig{}); err == nil {
		t.Error("expected error for empty URL")
	}

	ns, err := NewNATSService(config.NATSConfig{URL: "nats://localhost:4222"})
	if err != nil {
		t.Fatalf("NewNATSService() error = %v", err)
	}
	if ns.SubjectPrefix() != "concierge.events" {
		t.Errorf("SubjectPrefix() = %q, want %q", ns.SubjectPrefix(), "concierge.events")
	}
	if ns.IsConnected() {
		t.Error("IsConnected() = true before Connect")
	}
}

func TestPublishInteractionEvent(t *testing.T) {
	ns, mock := newTestService(t)

	event := events.NewInteractionEvent(events.KindTextTurn, uuid.New().String())
	event.Persona = "customer_service"
	event.Complete(12, 2)

	if err := ns.PublishInteractionEvent(event); err != nil {
		t.Fatalf("PublishInteractionEvent() error = %v", err)
	}

	msgs := mock.Messages("test.events.text_turn")
	if len(msgs) != 1 {
		t.Fatalf("published %d messages on test.events.text_turn, want 1", len(msgs))
	}

	decoded, err := decodeInteractionEvent(msgs[0])
	if err != nil {
		t.Fatalf("decodeInteractionEvent() error = %v", err)
	}
	if decoded.ID != event.ID || decoded.ReplyLength != 12 || decoded.Persona != "customer_service" {
		t.Errorf("decoded = %v, want %v", decoded, event)
	}
}

func TestPublishInteractionEvent_Errors(t *testing.T) {
	event := events.NewInteractionEvent(events.KindReset, uuid.New().String())

	t.Run("not connected", func(t *testing.T) {
		ns, err := NewNATSService(config.NATSConfig{URL: "nats://localhost:4222"})
		if err != nil {
			t.Fatal(err)
		}
		if err := ns.PublishInteractionEvent(event); !errors.Is(err, ErrNotConnected) {
			t.Errorf("error = %v, want ErrNotConnected", err)
		}
	})

	t.Run("publish failure", func(t *testing.T) {
		ns, mock := newTestService(t)
		mock.SetError("test.events.reset", context.DeadlineExceeded)

		err := ns.PublishInteractionEvent(event)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("error = %v, want wrapped DeadlineExceeded", err)
		}
	})
}

func TestDecodeInteractionEvent_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", "{broken"},
		{"unknown kind", `{"id":"abc","kind":"karaoke","timestamp":"2025-01-01T00:00:00Z"}`},
		{"missing id", `{"kind":"reset","timestamp":"2025-01-01T00:00:00Z"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := decodeInteractionEvent([]byte(tt.data)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestPublishSpeechAudio(t *testing.T) {
	ns, mock := newTestService(t)
	sessionID := uuid.New().String()

	streamID, err := ns.PublishSpeechAudio(sessionID, "en", "alloy", "audio/mpeg", []byte("mp3-bytes"))
	if err != nil {
		t.Fatalf("PublishSpeechAudio() error = %v", err)
	}

	msgs := mock.Messages(SpeechAudioSubject("test.events", sessionID))
	if len(msgs) != 1 {
		t.Fatalf("published %d audio messages, want 1", len(msgs))
	}

	var msg SpeechAudioMessage
	if err := json.Unmarshal(msgs[0], &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.StreamID != streamID || string(msg.AudioData) != "mp3-bytes" || msg.ContentType != "audio/mpeg" {
		t.Errorf("message = %+v", msg)
	}
}

func TestPublishSpeechAudio_Validation(t *testing.T) {
	ns, _ := newTestService(t)

	if _, err := ns.PublishSpeechAudio("relay-特殊字符", "en", "", "audio/mpeg", []byte("x")); err == nil {
		t.Error("expected error for non-UUID session id")
	}
	if _, err := ns.PublishSpeechAudio(uuid.New().String(), "en", "", "audio/mpeg", nil); err == nil {
		t.Error("expected error for empty audio")
	}
}

func TestPublishConcurrent(t *testing.T) {
	ns, mock := newTestService(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = ns.PublishInteractionEvent(events.NewInteractionEvent(events.KindSpeech, ""))
		}()
	}
	wg.Wait()

	if got := len(mock.Messages("test.events.speech")); got != 20 {
		t.Errorf("published %d messages, want 20", got)
	}
}

func TestEventSubject(t *testing.T) {
	if got := EventSubject("concierge.events", ""); got != "concierge.events.*" {
		t.Errorf("EventSubject(all) = %q", got)
	}
	if got := EventSubject("concierge.events", events.KindTextTurn); got != "concierge.events.text_turn" {
		t.Errorf("EventSubject(text_turn) = %q", got)
	}
}

func TestClose_WithoutConnect(t *testing.T) {
	ns, _ := newTestService(t)
	ns.Close()

	event := events.NewInteractionEvent(events.KindReset, uuid.New().String())
	if err := ns.PublishInteractionEvent(event); !errors.Is(err, ErrNotConnected) {
		t.Errorf("error after Close = %v, want ErrNotConnected", err)
	}
}
