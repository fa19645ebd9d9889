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

package config

import (
	"fmt"
	"strings"
	"sync"
)

const (
	DefaultSampleRate        = 16000
	DefaultRecordingDuration = 10
	DefaultModel             = "gpt-4"

	MinRecordingDuration = 5
	MaxRecordingDuration = 20
	MinSampleRate        = 8000
	MaxSampleRate        = 48000

	LanguageEnglish = "en"
	LanguageChinese = "zh"
)

// SupportedLanguages lists the TTS language tags accepted by the settings boundary
var SupportedLanguages = []string{LanguageEnglish, LanguageChinese}

// Settings are the process-wide values a user may adjust at runtime
type Settings struct {
	SampleRate        int    `json:"sample_rate"`
	RecordingDuration int    `json:"recording_duration"`
	TTSLanguage       string `json:"tts_language"`
	Model             string `json:"model"`
}

// SettingsUpdate carries a partial settings change; nil fields are left as they are
type SettingsUpdate struct {
	SampleRate        *int    `json:"sample_rate,omitempty"`
	RecordingDuration *int    `json:"recording_duration,omitempty"`
	TTSLanguage       *string `json:"tts_language,omitempty"`
	Model             *string `json:"model,omitempty"`
}

// Validate checks every field and reports the first invalid one
func (s Settings) Validate() error {
	if s.SampleRate < MinSampleRate || s.SampleRate > MaxSampleRate {
		return &InvalidSettingError{
			Setting: "sample_rate",
			Value:   s.SampleRate,
			Reason:  fmt.Sprintf("must be between %d and %d Hz", MinSampleRate, MaxSampleRate),
		}
	}

	if s.RecordingDuration < MinRecordingDuration || s.RecordingDuration > MaxRecordingDuration {
		return &InvalidSettingError{
			Setting: "recording_duration",
			Value:   s.RecordingDuration,
			Reason:  fmt.Sprintf("must be between %d and %d seconds", MinRecordingDuration, MaxRecordingDuration),
		}
	}

	if !IsSupportedLanguage(s.TTSLanguage) {
		return &InvalidSettingError{
			Setting: "tts_language",
			Value:   s.TTSLanguage,
			Reason:  "must be one of " + strings.Join(SupportedLanguages, ", "),
		}
	}

	if strings.TrimSpace(s.Model) == "" {
		return &InvalidSettingError{Setting: "model", Value: s.Model, Reason: "must not be empty"}
	}

	return nil
}

// Apply returns a copy of s with the update's non-nil fields applied
func (s Settings) Apply(update SettingsUpdate) Settings {
	if update.SampleRate != nil {
		s.SampleRate = *update.SampleRate
	}
	if update.RecordingDuration != nil {
		s.RecordingDuration = *update.RecordingDuration
	}
	if update.TTSLanguage != nil {
		s.TTSLanguage = *update.TTSLanguage
	}
	if update.Model != nil {
		s.Model = strings.TrimSpace(*update.Model)
	}
	return s
}

// IsSupportedLanguage reports whether lang is a valid TTS language tag
func IsSupportedLanguage(lang string) bool {
	for _, supported := range SupportedLanguages {
		if lang == supported {
			return true
		}
	}
	return false
}

// SettingsStore is the single owner of the runtime Settings value
type SettingsStore struct {
	mu      sync.RWMutex
	current Settings
}

// NewSettingsStore validates the initial settings and wraps them in a store
func NewSettingsStore(initial Settings) (*SettingsStore, error) {
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	return &SettingsStore{current: initial}, nil
}

// Get returns a snapshot of the current settings
func (s *SettingsStore) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Update validates the merged settings and stores them. On error nothing changes.
func (s *SettingsStore) Update(update SettingsUpdate) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidate := s.current.Apply(update)
	if err := candidate.Validate(); err != nil {
		return s.current, err
	}

	s.current = candidate
	return candidate, nil
}
