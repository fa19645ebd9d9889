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
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-concierge/internal/conversation"
	"github.com/loqalabs/loqa-concierge/internal/llm"
)

func TestManager_CreateGetDelete(t *testing.T) {
	m, err := NewManager(4, llm.NewStaticGenerator("hello"))
	require.NoError(t, err)

	s, err := m.Create(conversation.PersonaLeadGeneration, "gpt-4")
	require.NoError(t, err)
	assert.Len(t, s.ID, 36)
	assert.Equal(t, conversation.PersonaLeadGeneration, s.Engine.Persona())
	assert.Empty(t, s.Engine.Transcript())

	got, err := m.Get(s.ID)
	require.NoError(t, err)
	assert.Same(t, s, got)

	require.NoError(t, m.Delete(s.ID))
	_, err = m.Get(s.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, m.Delete(s.ID), ErrSessionNotFound)
}

func TestManager_SessionsAreIsolated(t *testing.T) {
	m, err := NewManager(4, llm.NewEchoGenerator())
	require.NoError(t, err)

	a, err := m.Create(conversation.DefaultPersona, "gpt-4")
	require.NoError(t, err)
	b, err := m.Create(conversation.DefaultPersona, "gpt-4")
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)

	_, err = a.Engine.SubmitUserUtterance(context.Background(), "only in a")
	require.NoError(t, err)

	assert.Len(t, a.Engine.Transcript(), 2)
	assert.Empty(t, b.Engine.Transcript())
}

func TestManager_EvictsLeastRecentlyUsed(t *testing.T) {
	m, err := NewManager(2, llm.NewStaticGenerator("ok"))
	require.NoError(t, err)

	first, _ := m.Create(conversation.DefaultPersona, "gpt-4")
	second, _ := m.Create(conversation.DefaultPersona, "gpt-4")

	// Touch first so second becomes the eviction candidate
	_, err = m.Get(first.ID)
	require.NoError(t, err)

	third, _ := m.Create(conversation.DefaultPersona, "gpt-4")

	assert.Equal(t, 2, m.Len())
	_, err = m.Get(second.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = m.Get(first.ID)
	assert.NoError(t, err)
	_, err = m.Get(third.ID)
	assert.NoError(t, err)
}

func TestManager_InvalidInput(t *testing.T) {
	_, err := NewManager(0, llm.NewStaticGenerator("ok"))
	assert.Error(t, err, "zero capacity is rejected by the cache")

	_, err = NewManager(1, nil)
	assert.Error(t, err)

	m, err := NewManager(1, llm.NewStaticGenerator("ok"))
	require.NoError(t, err)

	_, err = m.Create(conversation.PersonaLabel("pirate"), "gpt-4")
	assert.ErrorIs(t, err, conversation.ErrUnknownPersona)
	assert.Equal(t, 0, m.Len())

	_, err = m.Get("../not-a-session")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
