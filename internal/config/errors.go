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

import "fmt"

// ConfigurationError is fatal at startup: a required value is missing or unusable
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Key, e.Reason)
}

// InvalidSettingError rejects a user-supplied setting without changing state
type InvalidSettingError struct {
	Setting string
	Value   interface{}
	Reason  string
}

func (e *InvalidSettingError) Error() string {
	return fmt.Sprintf("invalid setting %s=%v: %s", e.Setting, e.Value, e.Reason)
}

func (e *InvalidSettingError) envKey() string {
	switch e.Setting {
	case "sample_rate":
		return "AUDIO_SAMPLE_RATE"
	case "recording_duration":
		return "RECORDING_DURATION"
	case "tts_language":
		return "TTS_LANGUAGE"
	case "model":
		return "LLM_MODEL"
	default:
		return e.Setting
	}
}
