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

package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-concierge/internal/events"
)

func newTestStore(t *testing.T) *InteractionEventsStore {
	t.Helper()

	db, err := NewDatabase(DatabaseConfig{Path: filepath.Join(t.TempDir(), "nested", "events.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return NewInteractionEventsStore(db)
}

func eventAt(kind events.Kind, sessionID string, ts time.Time) *events.InteractionEvent {
	event := events.NewInteractionEvent(kind, sessionID)
	event.Timestamp = ts
	return event
}

func TestNewDatabase_EmptyPath(t *testing.T) {
	_, err := NewDatabase(DatabaseConfig{})
	assert.Error(t, err)
}

func TestInteractionEventsStore_InsertAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	event := events.NewInteractionEvent(events.KindVoiceTurn, "session-a")
	event.Persona = "customer_service"
	event.Model = "gpt-4"
	event.SetAudioMetadata([]byte("RIFF...."), 2*time.Second, 16000)
	event.SetAttribute("format", "wav")
	event.InputLength = 12
	event.Complete(34, 2)

	require.NoError(t, store.Insert(ctx, event))

	got, err := store.GetByID(ctx, event.ID)
	require.NoError(t, err)

	assert.Equal(t, event.ID, got.ID)
	assert.Equal(t, events.KindVoiceTurn, got.Kind)
	assert.True(t, event.Timestamp.Equal(got.Timestamp), "timestamp survives at millisecond precision")
	assert.Equal(t, event.AudioHash, got.AudioHash)
	assert.Equal(t, 2.0, got.AudioDuration)
	assert.Equal(t, 16000, got.SampleRate)
	assert.Equal(t, 34, got.ReplyLength)
	assert.Equal(t, 2, got.TranscriptTurns)
	assert.Equal(t, "wav", got.Attributes["format"])
	assert.True(t, got.Success)
}

func TestInteractionEventsStore_GetMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetByID(context.Background(), "00000000-0000-0000-0000-000000000000")
	assert.True(t, errors.Is(err, ErrEventNotFound))
}

func TestInteractionEventsStore_InsertRejectsInvalid(t *testing.T) {
	store := newTestStore(t)

	event := events.NewInteractionEvent("karaoke", "session-a")
	assert.Error(t, store.Insert(context.Background(), event))
}

func TestInteractionEventsStore_ListAndCount(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	failed := eventAt(events.KindTextTurn, "session-a", base.Add(3*time.Minute))
	failed.SetError("generation", errors.New("timeout"))

	fixtures := []*events.InteractionEvent{
		eventAt(events.KindSessionCreated, "session-a", base),
		eventAt(events.KindTextTurn, "session-a", base.Add(time.Minute)),
		eventAt(events.KindTextTurn, "session-b", base.Add(2*time.Minute)),
		failed,
	}
	for _, e := range fixtures {
		require.NoError(t, store.Insert(ctx, e))
	}

	t.Run("default order is newest first", func(t *testing.T) {
		list, err := store.List(ctx, ListOptions{})
		require.NoError(t, err)
		require.Len(t, list, 4)
		assert.Equal(t, failed.ID, list[0].ID)
		assert.Equal(t, fixtures[0].ID, list[3].ID)
	})

	t.Run("filter by session and kind", func(t *testing.T) {
		opts := ListOptions{SessionID: "session-a", Kind: events.KindTextTurn}
		list, err := store.List(ctx, opts)
		require.NoError(t, err)
		assert.Len(t, list, 2)

		count, err := store.Count(ctx, opts)
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)
	})

	t.Run("filter by success", func(t *testing.T) {
		onlyErrors := false
		list, err := store.List(ctx, ListOptions{Success: &onlyErrors})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "generation", list[0].ErrorKind)
	})

	t.Run("time window", func(t *testing.T) {
		start := base.Add(time.Minute)
		end := base.Add(2 * time.Minute)
		count, err := store.Count(ctx, ListOptions{StartTime: &start, EndTime: &end})
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)
	})

	t.Run("pagination ascending", func(t *testing.T) {
		list, err := store.List(ctx, ListOptions{Limit: 2, Offset: 1, SortOrder: "asc"})
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, fixtures[1].ID, list[0].ID)
		assert.Equal(t, fixtures[2].ID, list[1].ID)

		// Count ignores pagination
		count, err := store.Count(ctx, ListOptions{Limit: 2, Offset: 1})
		require.NoError(t, err)
		assert.Equal(t, int64(4), count)
	})

	t.Run("unknown sort field falls back to timestamp", func(t *testing.T) {
		list, err := store.List(ctx, ListOptions{SortBy: "id; DROP TABLE interaction_events"})
		require.NoError(t, err)
		assert.Len(t, list, 4)
	})
}

func TestInteractionEventsStore_DeleteBySession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, events.NewInteractionEvent(events.KindTextTurn, "session-a")))
	require.NoError(t, store.Insert(ctx, events.NewInteractionEvent(events.KindReset, "session-a")))
	require.NoError(t, store.Insert(ctx, events.NewInteractionEvent(events.KindTextTurn, "session-b")))

	removed, err := store.DeleteBySession(ctx, "session-a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	count, err := store.Count(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestIsValidSortField(t *testing.T) {
	assert.True(t, IsValidSortField("timestamp"))
	assert.True(t, IsValidSortField("processing_time"))
	assert.False(t, IsValidSortField("error_message"))
}

func TestNewDatabase_SchemaVersion(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "events.db")

	db, err := NewDatabase(DatabaseConfig{Path: path})
	require.NoError(t, err)

	v, err := db.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, schemaVersion, v)

	store := NewInteractionEventsStore(db)
	require.NoError(t, store.Insert(ctx, events.NewInteractionEvent(events.KindReset, "session-a")))
	require.NoError(t, db.Close())

	// reopening an up-to-date file keeps its rows
	db, err = NewDatabase(DatabaseConfig{Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	count, err := NewInteractionEventsStore(db).Count(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestNewDatabase_InMemory(t *testing.T) {
	db, err := NewDatabase(DatabaseConfig{Path: MemoryPath})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	require.NoError(t, db.Ping(ctx))

	store := NewInteractionEventsStore(db)
	require.NoError(t, store.Insert(ctx, events.NewInteractionEvent(events.KindSessionCreated, "session-a")))

	count, err := store.Count(ctx, ListOptions{SessionID: "session-a"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
