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

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// TranscriptionError is an upstream speech-to-text failure, including empty results
type TranscriptionError struct {
	Reason string
	Cause  error
}

func (e *TranscriptionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("transcription failed: %s: %v", e.Reason, e.Cause)
	}
	return "transcription failed: " + e.Reason
}

func (e *TranscriptionError) Unwrap() error { return e.Cause }

// GenerationError is a language-generation failure: timeout, rate limit, upstream error or empty output
type GenerationError struct {
	Model       string
	Reason      string
	Timeout     bool
	RateLimited bool
	Cause       error
}

func (e *GenerationError) Error() string {
	msg := "generation failed"
	if e.Model != "" {
		msg += " (" + e.Model + ")"
	}
	msg += ": " + e.Reason
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *GenerationError) Unwrap() error { return e.Cause }

// SynthesisError is an upstream text-to-speech failure
type SynthesisError struct {
	Language string
	Reason   string
	Cause    error
}

func (e *SynthesisError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("speech synthesis failed (%s): %s: %v", e.Language, e.Reason, e.Cause)
	}
	return fmt.Sprintf("speech synthesis failed (%s): %s", e.Language, e.Reason)
}

func (e *SynthesisError) Unwrap() error { return e.Cause }

// NewGenerationError classifies an error returned by a generation call
func NewGenerationError(model string, err error) *GenerationError {
	var genErr *GenerationError
	if errors.As(err, &genErr) {
		return genErr
	}

	ge := &GenerationError{Model: model, Reason: "upstream request failed", Cause: err}

	if errors.Is(err, context.DeadlineExceeded) {
		ge.Reason = "request timed out"
		ge.Timeout = true
		return ge
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		ge.Reason = "rate limited"
		ge.RateLimited = true
		return ge
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusTooManyRequests {
		ge.Reason = "rate limited"
		ge.RateLimited = true
	}

	return ge
}
