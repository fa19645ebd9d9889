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

import "context"

// SpeechAudio holds synthesized audio
type SpeechAudio struct {
	Audio       []byte
	ContentType string // MIME type of the audio
	Voice       string
}

// Synthesizer defines the interface for text-to-speech synthesis services
type Synthesizer interface {
	// Synthesize converts text to speech audio in the given language (en or zh)
	Synthesize(ctx context.Context, text, lang string) (*SpeechAudio, error)

	// Close cleans up resources
	Close() error
}
