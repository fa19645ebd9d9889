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

package security

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
)

var (
	// ErrInvalidSessionID is returned when a session ID is not a canonical UUID
	ErrInvalidSessionID = errors.New("invalid session ID")

	// ErrInvalidEventID is returned when an event ID is not a canonical UUID
	ErrInvalidEventID = errors.New("invalid event ID")
)

// SanitizeLogInput strips line breaks and other control characters (tab
// excepted) so user-controlled text cannot forge log entries or terminal
// escapes. Use it on anything from a request before logging it.
func SanitizeLogInput(input string) string {
	return strings.Map(func(r rune) rune {
		if r != '\t' && unicode.IsControl(r) {
			return -1
		}
		return r
	}, input)
}

// TruncateForLog sanitizes input and cuts it to at most maxRunes runes, marking the cut
func TruncateForLog(input string, maxRunes int) string {
	sanitized := SanitizeLogInput(input)
	if maxRunes <= 0 || utf8.RuneCountInString(sanitized) <= maxRunes {
		return sanitized
	}
	runes := []rune(sanitized)
	return string(runes[:maxRunes]) + "…"
}

// ValidateSessionID ensures a session ID from a URL path is a canonical
// 36-character UUID, so it can be used as a cache key and log field as-is.
func ValidateSessionID(id string) error {
	if !isCanonicalUUID(id) {
		return ErrInvalidSessionID
	}
	return nil
}

// ValidateEventID ensures an interaction event ID is a canonical UUID
func ValidateEventID(id string) error {
	if !isCanonicalUUID(id) {
		return ErrInvalidEventID
	}
	return nil
}

func isCanonicalUUID(id string) bool {
	// uuid.Parse also accepts urn: and braced forms
	if len(id) != 36 {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}
