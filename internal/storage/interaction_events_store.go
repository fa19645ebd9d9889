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
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/loqalabs/loqa-concierge/internal/events"
	"github.com/loqalabs/loqa-concierge/internal/logging"
)

// ErrEventNotFound is returned when no event has the requested ID
var ErrEventNotFound = errors.New("interaction event not found")

const eventColumns = `id, session_id, kind, timestamp_ms, persona, model,
	audio_hash, audio_duration, sample_rate,
	input_length, reply_length, transcript_turns, attributes,
	processing_time_ms, success, error_kind, error_message`

// InteractionEventsStore handles database operations for interaction events
type InteractionEventsStore struct {
	db *Database
}

// NewInteractionEventsStore creates a new interaction events store
func NewInteractionEventsStore(db *Database) *InteractionEventsStore {
	return &InteractionEventsStore{db: db}
}

// Insert stores a new event
func (s *InteractionEventsStore) Insert(ctx context.Context, event *events.InteractionEvent) error {
	if err := event.IsValid(); err != nil {
		return fmt.Errorf("invalid interaction event: %w", err)
	}

	attributesJSON, err := event.AttributesJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize attributes: %w", err)
	}

	query := `INSERT INTO interaction_events (` + eventColumns + `) VALUES (
		?, ?, ?, ?, ?, ?,
		?, ?, ?,
		?, ?, ?, ?,
		?, ?, ?, ?
	)`

	_, err = s.db.DB().ExecContext(ctx, query,
		event.ID, event.SessionID, string(event.Kind), event.Timestamp.UnixMilli(), event.Persona, event.Model,
		event.AudioHash, event.AudioDuration, event.SampleRate,
		event.InputLength, event.ReplyLength, event.TranscriptTurns, attributesJSON,
		event.ProcessingTime, event.Success, event.ErrorKind, event.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to insert interaction event: %w", err)
	}

	logging.LogDatabaseOperation("insert", "interaction_events",
		zap.String("event_id", event.ID),
		zap.String("kind", string(event.Kind)),
	)
	return nil
}

// GetByID retrieves one event
func (s *InteractionEventsStore) GetByID(ctx context.Context, id string) (*events.InteractionEvent, error) {
	row := s.db.DB().QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM interaction_events WHERE id = ?`, id)
	return scanInteractionEvent(row)
}

// List retrieves events with pagination and filtering
func (s *InteractionEventsStore) List(ctx context.Context, options ListOptions) ([]*events.InteractionEvent, error) {
	query, args := buildListQuery(`SELECT `+eventColumns, options, true)

	rows, err := s.db.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query interaction events: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			logging.LogWarn("failed to close rows", zap.Error(err))
		}
	}()

	eventsList := make([]*events.InteractionEvent, 0)
	for rows.Next() {
		event, err := scanInteractionEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan interaction event: %w", err)
		}
		eventsList = append(eventsList, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating interaction events: %w", err)
	}

	return eventsList, nil
}

// Count returns the number of events matching the filters, ignoring pagination
func (s *InteractionEventsStore) Count(ctx context.Context, options ListOptions) (int64, error) {
	query, args := buildListQuery(`SELECT COUNT(*)`, options, false)

	var count int64
	if err := s.db.DB().QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count interaction events: %w", err)
	}

	return count, nil
}

// DeleteBySession removes all events for a session
func (s *InteractionEventsStore) DeleteBySession(ctx context.Context, sessionID string) (int64, error) {
	result, err := s.db.DB().ExecContext(ctx, "DELETE FROM interaction_events WHERE session_id = ?", sessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete interaction events: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	logging.LogDatabaseOperation("delete", "interaction_events",
		zap.String("session_id", sessionID),
		zap.Int64("rows", rowsAffected),
	)
	return rowsAffected, nil
}

// ListOptions defines filtering and pagination options
type ListOptions struct {
	// Filtering
	SessionID string
	Kind      events.Kind
	Success   *bool // nil = all, true = success only, false = errors only
	StartTime *time.Time
	EndTime   *time.Time

	// Pagination
	Limit  int
	Offset int

	// Sorting
	SortBy    string // "timestamp", "processing_time", "audio_duration"
	SortOrder string // "ASC", "DESC"
}

var sortColumns = map[string]string{
	"timestamp":       "timestamp_ms",
	"processing_time": "processing_time_ms",
	"audio_duration":  "audio_duration",
}

// IsValidSortField reports whether field can be used as ListOptions.SortBy
func IsValidSortField(field string) bool {
	_, ok := sortColumns[field]
	return ok
}

// buildListQuery appends filters, and optionally ordering and pagination, to selectClause
func buildListQuery(selectClause string, options ListOptions, paginate bool) (string, []interface{}) {
	query := selectClause + ` FROM interaction_events WHERE 1=1`
	var args []interface{}

	if options.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, options.SessionID)
	}

	if options.Kind != "" {
		query += " AND kind = ?"
		args = append(args, string(options.Kind))
	}

	if options.Success != nil {
		query += " AND success = ?"
		args = append(args, *options.Success)
	}

	if options.StartTime != nil {
		query += " AND timestamp_ms >= ?"
		args = append(args, options.StartTime.UnixMilli())
	}

	if options.EndTime != nil {
		query += " AND timestamp_ms <= ?"
		args = append(args, options.EndTime.UnixMilli())
	}

	if !paginate {
		return query, args
	}

	sortColumn, ok := sortColumns[options.SortBy]
	if !ok {
		sortColumn = "timestamp_ms"
	}

	sortOrder := "DESC"
	if strings.EqualFold(options.SortOrder, "ASC") {
		sortOrder = "ASC"
	}

	// id breaks ties between events written in the same millisecond
	query += fmt.Sprintf(" ORDER BY %s %s, id %s", sortColumn, sortOrder, sortOrder)

	if options.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, options.Limit)

		if options.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, options.Offset)
		}
	}

	return query, args
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanInteractionEvent(row rowScanner) (*events.InteractionEvent, error) {
	var (
		event          events.InteractionEvent
		kind           string
		timestampMs    int64
		attributesJSON string
	)

	err := row.Scan(
		&event.ID, &event.SessionID, &kind, &timestampMs, &event.Persona, &event.Model,
		&event.AudioHash, &event.AudioDuration, &event.SampleRate,
		&event.InputLength, &event.ReplyLength, &event.TranscriptTurns, &attributesJSON,
		&event.ProcessingTime, &event.Success, &event.ErrorKind, &event.ErrorMessage,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, err
	}

	event.Kind = events.Kind(kind)
	event.Timestamp = time.UnixMilli(timestampMs).UTC()

	if err := event.SetAttributesFromJSON(attributesJSON); err != nil {
		return nil, fmt.Errorf("failed to parse attributes JSON: %w", err)
	}

	return &event, nil
}
