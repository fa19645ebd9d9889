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
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the concierge service
type Config struct {
	Server   ServerConfig
	OpenAI   OpenAIConfig
	LLM      LLMConfig
	STT      STTConfig
	TTS      TTSConfig
	Audio    AudioConfig
	Sessions SessionsConfig
	Storage  StorageConfig
	Logging  LoggingConfig
	NATS     NATSConfig
	Probe    ProbeConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// OpenAIConfig holds the credential shared by the language and transcription services
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
}

// LLMConfig holds language-generation configuration
type LLMConfig struct {
	Model       string
	Temperature float32
	Timeout     time.Duration
}

// STTConfig holds Speech-to-Text service configuration
type STTConfig struct {
	Model    string
	Language string
	Timeout  time.Duration
}

// TTSConfig holds Text-to-Speech service configuration
type TTSConfig struct {
	URL            string            // OpenAI-compatible base URL, defaults to the OpenAI base URL
	APIKey         string            // Defaults to the OpenAI key
	Model          string            // e.g. "tts-1"
	Voices         map[string]string // TTS language tag -> voice
	ResponseFormat string            // mp3, wav, opus, flac
	Speed          float32
	MaxConcurrent  int
	Timeout        time.Duration
}

// AudioConfig holds the startup values of the user-adjustable settings and upload limits
type AudioConfig struct {
	SampleRate        int
	RecordingDuration int
	TTSLanguage       string
	MaxUploadBytes    int64
}

// SessionsConfig bounds the in-memory session cache
type SessionsConfig struct {
	Capacity int
}

// StorageConfig holds interaction event storage configuration
type StorageConfig struct {
	Enabled bool
	DBPath  string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// NATSConfig holds NATS messaging configuration. An empty URL disables publishing.
type NATSConfig struct {
	URL           string
	SubjectPrefix string
	MaxReconnect  int
	ReconnectWait time.Duration
}

// ProbeConfig controls background availability checks of upstream services
type ProbeConfig struct {
	Enabled       bool
	Interval      time.Duration
	Timeout       time.Duration
	TTSHealthPath string // appended to the TTS URL, "/models" for OpenAI-compatible servers
}

// Load loads configuration from environment variables (and a .env file if present) with defaults
func Load() (*Config, error) {
	// A missing .env file is normal in containers
	_ = godotenv.Load()

	openAIBaseURL := getEnvString("OPENAI_BASE_URL", "https://api.openai.com/v1")
	openAIKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))

	config := &Config{
		Server: ServerConfig{
			Host:         getEnvString("CONCIERGE_HOST", "0.0.0.0"),
			Port:         getEnvInt("CONCIERGE_PORT", 8080),
			ReadTimeout:  getEnvDuration("CONCIERGE_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("CONCIERGE_WRITE_TIMEOUT", 120*time.Second),
		},
		OpenAI: OpenAIConfig{
			APIKey:  openAIKey,
			BaseURL: openAIBaseURL,
		},
		LLM: LLMConfig{
			Model:       getEnvString("LLM_MODEL", DefaultModel),
			Temperature: getEnvFloat32("LLM_TEMPERATURE", 0.7),
			Timeout:     getEnvDuration("LLM_TIMEOUT", 60*time.Second),
		},
		STT: STTConfig{
			Model:    getEnvString("STT_MODEL", "whisper-1"),
			Language: getEnvString("STT_LANGUAGE", "en"),
			Timeout:  getEnvDuration("STT_TIMEOUT", 30*time.Second),
		},
		TTS: TTSConfig{
			URL:    getEnvString("TTS_URL", openAIBaseURL),
			APIKey: getEnvString("TTS_API_KEY", openAIKey),
			Model:  getEnvString("TTS_MODEL", "tts-1"),
			Voices: map[string]string{
				LanguageEnglish: getEnvString("TTS_VOICE_EN", "alloy"),
				LanguageChinese: getEnvString("TTS_VOICE_ZH", "alloy"),
			},
			ResponseFormat: getEnvString("TTS_FORMAT", "mp3"),
			Speed:          getEnvFloat32("TTS_SPEED", 1.0),
			MaxConcurrent:  getEnvInt("TTS_MAX_CONCURRENT", 4),
			Timeout:        getEnvDuration("TTS_TIMEOUT", 30*time.Second),
		},
		Audio: AudioConfig{
			SampleRate:        getEnvInt("AUDIO_SAMPLE_RATE", DefaultSampleRate),
			RecordingDuration: getEnvInt("RECORDING_DURATION", DefaultRecordingDuration),
			TTSLanguage:       getEnvString("TTS_LANGUAGE", LanguageEnglish),
			MaxUploadBytes:    int64(getEnvInt("MAX_UPLOAD_BYTES", 25<<20)),
		},
		Sessions: SessionsConfig{
			Capacity: getEnvInt("SESSION_CAPACITY", 256),
		},
		Storage: StorageConfig{
			Enabled: getEnvBool("STORAGE_ENABLED", true),
			DBPath:  getEnvString("DB_PATH", "./data/concierge.db"),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "console"),
		},
		NATS: NATSConfig{
			URL:           os.Getenv("NATS_URL"),
			SubjectPrefix: getEnvString("NATS_SUBJECT_PREFIX", "concierge.events"),
			MaxReconnect:  getEnvInt("NATS_MAX_RECONNECT", 10),
			ReconnectWait: getEnvDuration("NATS_RECONNECT_WAIT", 2*time.Second),
		},
		Probe: ProbeConfig{
			Enabled:       getEnvBool("PROBE_ENABLED", true),
			Interval:      getEnvDuration("PROBE_INTERVAL", 30*time.Second),
			Timeout:       getEnvDuration("PROBE_TIMEOUT", 5*time.Second),
			TTSHealthPath: getEnvString("TTS_HEALTH_PATH", "/models"),
		},
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// validate checks if the configuration is valid
func (c *Config) validate() error {
	if c.OpenAI.APIKey == "" {
		return &ConfigurationError{Key: "OPENAI_API_KEY", Reason: "an API credential is required"}
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.TTS.URL == "" {
		return fmt.Errorf("TTS URL must be provided")
	}

	if c.TTS.MaxConcurrent <= 0 {
		return fmt.Errorf("TTS max concurrent must be positive: %d", c.TTS.MaxConcurrent)
	}

	if c.TTS.Speed <= 0 {
		return fmt.Errorf("TTS speed must be positive: %f", c.TTS.Speed)
	}

	if c.Sessions.Capacity <= 0 {
		return fmt.Errorf("session capacity must be positive: %d", c.Sessions.Capacity)
	}

	if c.Audio.MaxUploadBytes <= 0 {
		return fmt.Errorf("max upload bytes must be positive: %d", c.Audio.MaxUploadBytes)
	}

	if c.Probe.Enabled && (c.Probe.Interval <= 0 || c.Probe.Timeout <= 0) {
		return fmt.Errorf("probe interval and timeout must be positive")
	}

	if c.Storage.Enabled && c.Storage.DBPath == "" {
		return fmt.Errorf("DB path must be provided when storage is enabled")
	}

	if err := c.InitialSettings().Validate(); err != nil {
		var invalid *InvalidSettingError
		if errors.As(err, &invalid) {
			return &ConfigurationError{Key: invalid.envKey(), Reason: invalid.Reason}
		}
		return err
	}

	return nil
}

// InitialSettings returns the startup value of the mutable settings
func (c *Config) InitialSettings() Settings {
	return Settings{
		SampleRate:        c.Audio.SampleRate,
		RecordingDuration: c.Audio.RecordingDuration,
		TTSLanguage:       c.Audio.TTSLanguage,
		Model:             c.LLM.Model,
	}
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatValue)
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
