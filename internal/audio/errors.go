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

package audio

import "fmt"

// AudioFormatError reports input audio that could not be decoded or processed
type AudioFormatError struct {
	Format Format
	Reason string
	Cause  error
}

func (e *AudioFormatError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("audio format error (%s): %s: %v", e.Format, e.Reason, e.Cause)
	}
	return fmt.Sprintf("audio format error (%s): %s", e.Format, e.Reason)
}

func (e *AudioFormatError) Unwrap() error {
	return e.Cause
}
