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

package assistant

import (
	"errors"

	"github.com/loqalabs/loqa-concierge/internal/audio"
	"github.com/loqalabs/loqa-concierge/internal/config"
	"github.com/loqalabs/loqa-concierge/internal/conversation"
	"github.com/loqalabs/loqa-concierge/internal/llm"
	"github.com/loqalabs/loqa-concierge/internal/session"
)

// ErrSpeechUnavailable is returned by Speak when no synthesizer is configured
var ErrSpeechUnavailable = errors.New("speech synthesis is not configured")

// ErrTranscriptionUnavailable is returned by SendAudio when no transcriber is configured
var ErrTranscriptionUnavailable = errors.New("speech transcription is not configured")

// Error kinds recorded on interaction events and used by the HTTP layer
const (
	ErrorKindInvalidInput  = "invalid_input"
	ErrorKindNotFound      = "not_found"
	ErrorKindAudioFormat   = "audio_format"
	ErrorKindTranscription = "transcription"
	ErrorKindGeneration    = "generation"
	ErrorKindSynthesis     = "synthesis"
	ErrorKindAnalysisParse = "analysis_parse"
	ErrorKindUnavailable   = "unavailable"
	ErrorKindInternal      = "internal"
)

// ClassifyError maps an operation error onto one of the ErrorKind values
func ClassifyError(err error) string {
	var (
		settingErr       *config.InvalidSettingError
		formatErr        *audio.AudioFormatError
		transcriptionErr *llm.TranscriptionError
		generationErr    *llm.GenerationError
		synthesisErr     *llm.SynthesisError
		parseErr         *conversation.AnalysisParseError
	)

	switch {
	case err == nil:
		return ""
	case errors.Is(err, session.ErrSessionNotFound):
		return ErrorKindNotFound
	case errors.Is(err, conversation.ErrEmptyInput),
		errors.Is(err, conversation.ErrEmptyTranscript),
		errors.Is(err, conversation.ErrUnknownPersona),
		errors.Is(err, conversation.ErrNothingToRegenerate),
		errors.As(err, &settingErr):
		return ErrorKindInvalidInput
	case errors.As(err, &formatErr):
		return ErrorKindAudioFormat
	case errors.As(err, &parseErr):
		return ErrorKindAnalysisParse
	case errors.As(err, &transcriptionErr):
		return ErrorKindTranscription
	case errors.As(err, &generationErr):
		return ErrorKindGeneration
	case errors.As(err, &synthesisErr):
		return ErrorKindSynthesis
	case errors.Is(err, ErrSpeechUnavailable), errors.Is(err, ErrTranscriptionUnavailable):
		return ErrorKindUnavailable
	default:
		return ErrorKindInternal
	}
}
