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

package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/loqalabs/loqa-concierge/internal/conversation"
	"github.com/loqalabs/loqa-concierge/internal/llm"
	"github.com/loqalabs/loqa-concierge/internal/logging"
	"github.com/loqalabs/loqa-concierge/internal/security"
)

// ErrSessionNotFound is returned for unknown, deleted or evicted sessions
var ErrSessionNotFound = errors.New("session not found")

// Session is one caller's conversation. The engine is the only owner of its transcript.
type Session struct {
	ID        string
	Engine    *conversation.Engine
	CreatedAt time.Time
}

// Manager holds live sessions in a bounded LRU; the least recently used session is
// dropped when capacity is exceeded.
type Manager struct {
	cache     *lru.Cache[string, *Session]
	generator llm.Generator
}

// NewManager creates a session manager whose engines share generator
func NewManager(capacity int, generator llm.Generator) (*Manager, error) {
	if generator == nil {
		return nil, fmt.Errorf("generator cannot be nil")
	}

	cache, err := lru.NewWithEvict[string, *Session](capacity, func(id string, s *Session) {
		logging.LogConversationTurn(id, "evicted",
			zap.Duration("age", time.Since(s.CreatedAt)),
		)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session cache: %w", err)
	}

	return &Manager{cache: cache, generator: generator}, nil
}

// Create starts a new session with an empty transcript
func (m *Manager) Create(persona conversation.PersonaLabel, model string) (*Session, error) {
	id := uuid.New().String()

	engine, err := conversation.NewEngine(id, m.generator, persona, model)
	if err != nil {
		return nil, err
	}

	s := &Session{
		ID:        id,
		Engine:    engine,
		CreatedAt: time.Now().UTC(),
	}
	m.cache.Add(id, s)

	logging.LogConversationTurn(id, "created",
		zap.String("persona", string(persona)),
		zap.Int("active_sessions", m.cache.Len()),
	)

	return s, nil
}

// Get returns a live session and marks it recently used
func (m *Manager) Get(id string) (*Session, error) {
	if err := security.ValidateSessionID(id); err != nil {
		return nil, ErrSessionNotFound
	}

	s, ok := m.cache.Get(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Delete drops a session and its transcript
func (m *Manager) Delete(id string) error {
	if err := security.ValidateSessionID(id); err != nil {
		return ErrSessionNotFound
	}

	if !m.cache.Remove(id) {
		return ErrSessionNotFound
	}
	return nil
}

// Len returns the number of live sessions
func (m *Manager) Len() int {
	return m.cache.Len()
}
