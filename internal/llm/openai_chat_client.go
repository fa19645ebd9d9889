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
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/loqalabs/loqa-concierge/internal/config"
	"github.com/loqalabs/loqa-concierge/internal/logging"
)

// OpenAIChatClient implements Generator against an OpenAI-compatible chat completions API
type OpenAIChatClient struct {
	client      *openai.Client
	model       string
	temperature float32
	timeout     time.Duration
}

// NewOpenAIChatClient creates a chat client from the shared credential and LLM settings
func NewOpenAIChatClient(openAICfg config.OpenAIConfig, llmCfg config.LLMConfig) (*OpenAIChatClient, error) {
	if openAICfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key cannot be empty")
	}

	clientConfig := openai.DefaultConfig(openAICfg.APIKey)
	if openAICfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimSuffix(openAICfg.BaseURL, "/")
	}
	clientConfig.HTTPClient = &http.Client{Timeout: llmCfg.Timeout}

	if logging.Sugar != nil {
		logging.Sugar.Infow("🧠 Chat client initialized",
			"base_url", clientConfig.BaseURL,
			"model", llmCfg.Model,
			"temperature", llmCfg.Temperature,
		)
	}

	return &OpenAIChatClient{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       llmCfg.Model,
		temperature: llmCfg.Temperature,
		timeout:     llmCfg.Timeout,
	}, nil
}

// Complete sends the system prompt and messages as one chat completion request
func (c *OpenAIChatClient) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    chatRole(m.Role),
			Content: m.Content,
		})
	}

	startTime := time.Now()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: c.temperature,
	})
	if err != nil {
		genErr := NewGenerationError(model, err)
		logging.LogError(err, "Chat completion failed",
			zap.String("model", model),
			zap.String("reason", genErr.Reason),
			zap.Int("messages", len(messages)),
		)
		return "", genErr
	}

	if len(resp.Choices) == 0 {
		return "", &GenerationError{Model: model, Reason: "response contained no choices"}
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", &GenerationError{Model: model, Reason: "empty response"}
	}

	if logging.Sugar != nil {
		logging.Sugar.Debugw("🧠 Chat completion finished",
			"model", model,
			"messages", len(messages),
			"prompt_tokens", resp.Usage.PromptTokens,
			"completion_tokens", resp.Usage.CompletionTokens,
			"duration_ms", time.Since(startTime).Milliseconds(),
		)
	}

	return text, nil
}

func chatRole(role Role) string {
	switch role {
	case RoleSystem:
		return openai.ChatMessageRoleSystem
	case RoleAssistant:
		return openai.ChatMessageRoleAssistant
	default:
		return openai.ChatMessageRoleUser
	}
}
