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

package conversation

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/loqalabs/loqa-concierge/internal/llm"
	"github.com/loqalabs/loqa-concierge/internal/logging"
)

// Turn is one role-tagged utterance. Turns are never modified after they are appended.
type Turn struct {
	Role    llm.Role `json:"role"`
	Content string   `json:"content"`
}

// Engine owns one session's transcript and active persona and drives generation calls.
//
// Every operation, including the blocking generation call, holds the engine's mutex,
// so calls against one engine run one at a time.
type Engine struct {
	mu         sync.Mutex
	id         string
	generator  llm.Generator
	transcript []Turn
	persona    PersonaLabel
	model      string
}

// NewEngine creates an engine with an empty transcript
func NewEngine(id string, generator llm.Generator, persona PersonaLabel, model string) (*Engine, error) {
	if _, ok := personas[persona]; !ok {
		return nil, ErrUnknownPersona
	}

	return &Engine{
		id:        id,
		generator: generator,
		persona:   persona,
		model:     model,
	}, nil
}

// SubmitUserUtterance appends a user turn and generates the assistant reply.
// If generation fails the user turn stays in the transcript; retry with Regenerate.
func (e *Engine) SubmitUserUtterance(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyInput
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.transcript = append(e.transcript, Turn{Role: llm.RoleUser, Content: text})

	return e.generateLocked(ctx, "submit")
}

// Regenerate re-runs generation against the existing transcript without adding a user turn.
func (e *Engine) Regenerate(ctx context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.transcript) == 0 || e.transcript[len(e.transcript)-1].Role != llm.RoleUser {
		return "", ErrNothingToRegenerate
	}

	return e.generateLocked(ctx, "regenerate")
}

func (e *Engine) generateLocked(ctx context.Context, operation string) (string, error) {
	persona := personas[e.persona]

	messages := make([]llm.Message, len(e.transcript))
	for i, turn := range e.transcript {
		messages[i] = llm.Message{Role: turn.Role, Content: turn.Content}
	}

	startTime := time.Now()
	reply, err := e.generator.Complete(ctx, llm.CompletionRequest{
		Model:        e.model,
		SystemPrompt: persona.SystemPrompt,
		Messages:     messages,
	})
	if err != nil {
		genErr := llm.NewGenerationError(e.model, err)
		logging.LogConversationTurn(e.id, operation,
			zap.String("persona", string(e.persona)),
			zap.Int("turns", len(e.transcript)),
			zap.Bool("success", false),
			zap.String("reason", genErr.Reason),
		)
		return "", genErr
	}

	if strings.TrimSpace(reply) == "" {
		logging.LogConversationTurn(e.id, operation,
			zap.String("persona", string(e.persona)),
			zap.Bool("success", false),
			zap.String("reason", "empty response"),
		)
		return "", &llm.GenerationError{Model: e.model, Reason: "empty response"}
	}

	e.transcript = append(e.transcript, Turn{Role: llm.RoleAssistant, Content: reply})

	logging.LogConversationTurn(e.id, operation,
		zap.String("persona", string(e.persona)),
		zap.String("model", e.model),
		zap.Int("turns", len(e.transcript)),
		zap.Int("reply_length", len(reply)),
		zap.Duration("generation_time", time.Since(startTime)),
		zap.Bool("success", true),
	)

	return reply, nil
}

// SwitchPersona changes the system prompt used for the next generation. The transcript is kept.
func (e *Engine) SwitchPersona(label PersonaLabel) error {
	if _, ok := personas[label]; !ok {
		return ErrUnknownPersona
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	previous := e.persona
	e.persona = label

	logging.LogConversationTurn(e.id, "switch_persona",
		zap.String("from", string(previous)),
		zap.String("to", string(label)),
		zap.Int("turns", len(e.transcript)),
	)
	return nil
}

// Reset clears the transcript; the persona is unchanged
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	cleared := len(e.transcript)
	e.transcript = nil

	logging.LogConversationTurn(e.id, "reset", zap.Int("cleared_turns", cleared))
}

// Analyze asks the model for a structured summary of the transcript. It never changes the transcript.
func (e *Engine) Analyze(ctx context.Context) (*AnalysisResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.transcript) == 0 {
		return nil, ErrEmptyTranscript
	}

	raw, err := e.generator.Complete(ctx, buildAnalysisRequest(e.model, e.transcript))
	if err != nil {
		return nil, llm.NewGenerationError(e.model, err)
	}

	result, err := ParseAnalysis(raw)
	if err != nil {
		logging.LogWarn("⚠️ Analysis response did not match the expected shape",
			zap.String("session_id", e.id),
			zap.Error(err),
		)
		return nil, err
	}

	logging.LogConversationTurn(e.id, "analyze",
		zap.Int("turns", len(e.transcript)),
		zap.String("sentiment", string(result.Sentiment)),
		zap.Int("topics", len(result.Topics)),
	)

	return result, nil
}

// Transcript returns a copy of the turns so far
func (e *Engine) Transcript() []Turn {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Turn, len(e.transcript))
	copy(out, e.transcript)
	return out
}

// Persona returns the active persona label
func (e *Engine) Persona() PersonaLabel {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.persona
}

// Model returns the model id used for generation
func (e *Engine) Model() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.model
}

// SetModel changes the model id for subsequent generation calls
func (e *Engine) SetModel(model string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.model = model
}

// ID returns the session id the engine logs under
func (e *Engine) ID() string {
	return e.id
}
