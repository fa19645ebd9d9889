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
	"errors"
	"fmt"
)

var (
	ErrEmptyInput          = errors.New("input text is empty")
	ErrEmptyTranscript     = errors.New("transcript is empty")
	ErrUnknownPersona      = errors.New("unknown persona")
	ErrNothingToRegenerate = errors.New("last turn is not a user turn")
)

// AnalysisParseError means the model's analysis could not be read as an AnalysisResult.
// Raw keeps the response so callers can still show it.
type AnalysisParseError struct {
	Raw   string
	Cause error
}

func (e *AnalysisParseError) Error() string {
	return fmt.Sprintf("failed to parse conversation analysis: %v", e.Cause)
}

func (e *AnalysisParseError) Unwrap() error { return e.Cause }
