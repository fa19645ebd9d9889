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

// Package logging holds the process-wide zap logger and the component helpers
// the concierge logs through. Until Initialize or SetLogger runs, everything
// goes to a no-op logger.
package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ServiceName is attached to every entry written by an initialized logger
const ServiceName = "loqa-concierge"

var (
	Logger = zap.NewNop()
	Sugar  = Logger.Sugar()

	// helpers reports the caller of the Log* function rather than emit
	helpers = Logger
)

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // "debug", "info", "warn", "error"
	Format string // "json", "console"
}

// Initialize sets up the global logger from LOG_LEVEL and LOG_FORMAT
func Initialize() error {
	return InitializeWithConfig(LogConfig{
		Level:  getEnvOrDefault("LOG_LEVEL", "info"),
		Format: getEnvOrDefault("LOG_FORMAT", "console"),
	})
}

// InitializeWithConfig builds a production (json) or development (console) logger.
// An unknown level falls back to info.
func InitializeWithConfig(config LogConfig) error {
	var zapConfig zap.Config
	if strings.EqualFold(config.Format, "json") {
		zapConfig = zap.NewProductionConfig()
		zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}

	level, err := zap.ParseAtomicLevel(strings.ToLower(config.Level))
	if err != nil {
		level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	zapConfig.Level = level

	logger, err := zapConfig.Build(
		zap.AddStacktrace(zap.ErrorLevel),
		zap.Fields(zap.String("service", ServiceName)),
	)
	if err != nil {
		return err
	}

	SetLogger(logger)
	Sugar.Infof("🚀 Structured logging initialized (level: %s, format: %s)", level.String(), config.Format)
	return nil
}

// SetLogger replaces the global logger; nil restores the no-op logger.
// Tests use it to install an observer core.
func SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	Logger = logger
	Sugar = logger.Sugar()
	helpers = logger.WithOptions(zap.AddCallerSkip(2))
}

// Sync flushes any buffered log entries
func Sync() {
	// Sync fails on some terminals (EINVAL on stdout); nothing useful to do about it
	_ = Logger.Sync()
}

// Close flushes the logger before exit
func Close() {
	Sync()
}

// emit writes one entry tagged with component. base fields come before the caller's.
func emit(level zapcore.Level, component, message string, fields []zap.Field, base ...zap.Field) {
	ce := helpers.Check(level, message)
	if ce == nil {
		return
	}

	all := make([]zap.Field, 0, len(base)+len(fields)+1)
	if component != "" {
		all = append(all, zap.String("component", component))
	}
	all = append(all, base...)
	ce.Write(append(all, fields...)...)
}

// LogConversationTurn logs a conversation engine operation for a session
func LogConversationTurn(sessionID, operation string, fields ...zap.Field) {
	emit(zapcore.InfoLevel, "conversation", "Conversation turn", fields,
		zap.String("session_id", sessionID),
		zap.String("operation", operation))
}

// LogAudioProcessing logs a preprocessing stage
func LogAudioProcessing(stage string, fields ...zap.Field) {
	emit(zapcore.InfoLevel, "audio_processing", "Audio processing", fields,
		zap.String("stage", stage))
}

// LogTranscription logs speech-to-text calls
func LogTranscription(operation string, fields ...zap.Field) {
	emit(zapcore.InfoLevel, "stt", "STT operation", fields,
		zap.String("operation", operation))
}

// LogTTSOperation logs text-to-speech calls
func LogTTSOperation(operation string, fields ...zap.Field) {
	emit(zapcore.InfoLevel, "tts", "TTS operation", fields,
		zap.String("operation", operation))
}

// LogNATSEvent logs publishes, subscriptions and connection changes
func LogNATSEvent(subject, action string, fields ...zap.Field) {
	emit(zapcore.InfoLevel, "messaging", "NATS event", fields,
		zap.String("subject", subject),
		zap.String("action", action))
}

// LogDatabaseOperation logs event store access
func LogDatabaseOperation(operation, table string, fields ...zap.Field) {
	emit(zapcore.DebugLevel, "database", "Database operation", fields,
		zap.String("operation", operation),
		zap.String("table", table))
}

// LogError logs err with context
func LogError(err error, message string, fields ...zap.Field) {
	emit(zapcore.ErrorLevel, "", message, fields, zap.Error(err))
}

// LogWarn logs a warning with context
func LogWarn(message string, fields ...zap.Field) {
	emit(zapcore.WarnLevel, "", message, fields)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
