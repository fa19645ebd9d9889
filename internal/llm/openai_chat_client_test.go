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
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/loqalabs/loqa-concierge/internal/config"
)

type chatRequestBody struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func chatResponse(content string) string {
	body, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-test",
		"object":  "chat.completion",
		"created": 1,
		"model":   "gpt-4",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]string{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
		"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	})
	return string(body)
}

func newTestChatClient(t *testing.T, serverURL string, timeout time.Duration) *OpenAIChatClient {
	t.Helper()
	client, err := NewOpenAIChatClient(
		config.OpenAIConfig{APIKey: "sk-test", BaseURL: serverURL + "/v1"},
		config.LLMConfig{Model: "gpt-4", Temperature: 0.7, Timeout: timeout},
	)
	if err != nil {
		t.Fatalf("NewOpenAIChatClient() error = %v", err)
	}
	return client
}

func TestOpenAIChatClient_Complete(t *testing.T) {
	var got chatRequestBody

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q, want /v1/chat/completions", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("Authorization = %q, want %q", auth, "Bearer sk-test")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(chatResponse("  I can help with that.  ")))
	}))
	defer server.Close()

	client := newTestChatClient(t, server.URL, 5*time.Second)

	text, err := client.Complete(context.Background(), CompletionRequest{
		Model:        "gpt-4o",
		SystemPrompt: "You are a helpful agent.",
		Messages: []Message{
			{Role: RoleUser, Content: "I want a refund"},
		},
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	if text != "I can help with that." {
		t.Errorf("Complete() = %q, want %q", text, "I can help with that.")
	}
	if got.Model != "gpt-4o" {
		t.Errorf("request model = %q, want %q", got.Model, "gpt-4o")
	}
	if len(got.Messages) != 2 {
		t.Fatalf("request messages = %d, want 2", len(got.Messages))
	}
	if got.Messages[0].Role != "system" || got.Messages[0].Content != "You are a helpful agent." {
		t.Errorf("first message = %+v, want the system prompt", got.Messages[0])
	}
	if got.Messages[1].Role != "user" || got.Messages[1].Content != "I want a refund" {
		t.Errorf("second message = %+v, want the user turn", got.Messages[1])
	}
}

func TestOpenAIChatClient_DefaultModel(t *testing.T) {
	var got chatRequestBody

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(chatResponse("ok")))
	}))
	defer server.Close()

	client := newTestChatClient(t, server.URL, 5*time.Second)
	if _, err := client.Complete(context.Background(), CompletionRequest{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	}); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	if got.Model != "gpt-4" {
		t.Errorf("request model = %q, want configured default %q", got.Model, "gpt-4")
	}
}

func TestOpenAIChatClient_Failures(t *testing.T) {
	tests := []struct {
		name            string
		handler         http.HandlerFunc
		wantRateLimited bool
	}{
		{
			name: "Empty content",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(chatResponse("   ")))
			},
		},
		{
			name: "Rate limited",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":{"message":"Rate limit reached","type":"requests","code":"rate_limit_exceeded"}}`))
			},
			wantRateLimited: true,
		},
		{
			name: "Server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			client := newTestChatClient(t, server.URL, 5*time.Second)
			_, err := client.Complete(context.Background(), CompletionRequest{
				Messages: []Message{{Role: RoleUser, Content: "hello"}},
			})

			var genErr *GenerationError
			if !errors.As(err, &genErr) {
				t.Fatalf("error = %v, want *GenerationError", err)
			}
			if genErr.RateLimited != tt.wantRateLimited {
				t.Errorf("RateLimited = %v, want %v", genErr.RateLimited, tt.wantRateLimited)
			}
		})
	}
}

func TestOpenAIChatClient_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	client := newTestChatClient(t, server.URL, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Complete(ctx, CompletionRequest{
		Messages: []Message{{Role: RoleUser, Content: "hello"}},
	})

	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("error = %v, want *GenerationError", err)
	}
	if !genErr.Timeout {
		t.Errorf("Timeout = false, want true (err: %v)", err)
	}
}

func TestNewOpenAIChatClient_RequiresKey(t *testing.T) {
	if _, err := NewOpenAIChatClient(config.OpenAIConfig{}, config.LLMConfig{Model: "gpt-4"}); err == nil {
		t.Error("expected error for missing API key")
	}
}
