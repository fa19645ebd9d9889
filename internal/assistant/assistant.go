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

// Package assistant drives one interaction end to end: audio preprocessing,
// transcription, the conversation engine and optional speech synthesis. Every
// operation leaves an interaction event behind.
package assistant

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/loqalabs/loqa-concierge/internal/audio"
	"github.com/loqalabs/loqa-concierge/internal/config"
	"github.com/loqalabs/loqa-concierge/internal/conversation"
	"github.com/loqalabs/loqa-concierge/internal/events"
	"github.com/loqalabs/loqa-concierge/internal/llm"
	"github.com/loqalabs/loqa-concierge/internal/logging"
	"github.com/loqalabs/loqa-concierge/internal/metrics"
	"github.com/loqalabs/loqa-concierge/internal/security"
	"github.com/loqalabs/loqa-concierge/internal/session"
)

// EventStore persists interaction events
type EventStore interface {
	Insert(ctx context.Context, event *events.InteractionEvent) error
	DeleteBySession(ctx context.Context, sessionID string) (int64, error)
}

// EventPublisher fans interaction events and synthesized replies out to subscribers
type EventPublisher interface {
	PublishInteractionEvent(event *events.InteractionEvent) error
	PublishSpeechAudio(sessionID, language, voice, contentType string, audio []byte) (string, error)
}

// Dependencies wires an Assistant. Synthesizer, Events, Publisher and Metrics are optional.
type Dependencies struct {
	Sessions     *session.Manager
	Settings     *config.SettingsStore
	Preprocessor *audio.Preprocessor
	Transcriber  llm.Transcriber
	Synthesizer  llm.Synthesizer
	Events       EventStore
	Publisher    EventPublisher
	Metrics      *metrics.Collector
}

// Assistant is safe for concurrent use; per-session ordering comes from each engine's lock
type Assistant struct {
	sessions     *session.Manager
	settings     *config.SettingsStore
	preprocessor *audio.Preprocessor
	transcriber  llm.Transcriber
	synthesizer  llm.Synthesizer
	events       EventStore
	publisher    EventPublisher
	metrics      *metrics.Collector
}

// AudioInfo describes the preprocessed input of a voice turn
type AudioInfo struct {
	DurationSeconds float64 `json:"duration_seconds"`
	SampleRate      int     `json:"sample_rate"`
	Samples         int     `json:"samples"`
	SourceRate      int     `json:"source_sample_rate"`
	SourceChannels  int     `json:"source_channels"`
	Silent          bool    `json:"silent"`
}

// Reply is the outcome of a text turn, voice turn or regeneration
type Reply struct {
	SessionID       string                    `json:"session_id"`
	EventID         string                    `json:"event_id"`
	Persona         conversation.PersonaLabel `json:"persona"`
	Transcription   string                    `json:"transcription,omitempty"`
	Text            string                    `json:"reply"`
	TranscriptTurns int                       `json:"transcript_turns"`
	Audio           *AudioInfo                `json:"audio,omitempty"`
	Speech          *llm.SpeechAudio          `json:"-"`
	SpeechError     string                    `json:"speech_error,omitempty"`
}

// New creates an Assistant
func New(deps Dependencies) (*Assistant, error) {
	if deps.Sessions == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	if deps.Settings == nil {
		return nil, fmt.Errorf("settings store is required")
	}
	if deps.Preprocessor == nil {
		deps.Preprocessor = audio.NewPreprocessor("")
	}

	return &Assistant{
		sessions:     deps.Sessions,
		settings:     deps.Settings,
		preprocessor: deps.Preprocessor,
		transcriber:  deps.Transcriber,
		synthesizer:  deps.Synthesizer,
		events:       deps.Events,
		publisher:    deps.Publisher,
		metrics:      deps.Metrics,
	}, nil
}

// SpeechEnabled reports whether a synthesizer is configured
func (a *Assistant) SpeechEnabled() bool {
	return a.synthesizer != nil
}

// TranscriptionEnabled reports whether voice turns can be served
func (a *Assistant) TranscriptionEnabled() bool {
	return a.transcriber != nil
}

// ActiveSessions returns the number of sessions held in memory
func (a *Assistant) ActiveSessions() int {
	return a.sessions.Len()
}

// CreateSession starts a conversation with persona, or the default persona when empty
func (a *Assistant) CreateSession(ctx context.Context, persona string) (*session.Session, error) {
	label := conversation.DefaultPersona
	if strings.TrimSpace(persona) != "" {
		parsed, err := conversation.ParsePersona(persona)
		if err != nil {
			return nil, err
		}
		label = parsed
	}

	s, err := a.sessions.Create(label, a.settings.Get().Model)
	if err != nil {
		return nil, err
	}
	a.metrics.SetActiveSessions(a.sessions.Len())

	event := a.newEvent(events.KindSessionCreated, s)
	a.finish(ctx, event, nil, 0)
	return s, nil
}

// GetSession returns a live session
func (a *Assistant) GetSession(id string) (*session.Session, error) {
	return a.sessions.Get(id)
}

// DeleteSession drops a session's transcript. With purgeEvents its stored events go too.
func (a *Assistant) DeleteSession(ctx context.Context, id string, purgeEvents bool) error {
	s, err := a.sessions.Get(id)
	if err != nil {
		return err
	}
	event := a.newEvent(events.KindSessionDeleted, s)

	if err := a.sessions.Delete(id); err != nil {
		return err
	}
	a.metrics.SetActiveSessions(a.sessions.Len())

	if purgeEvents && a.events != nil {
		if _, err := a.events.DeleteBySession(ctx, id); err != nil {
			return fmt.Errorf("failed to purge session events: %w", err)
		}
		// The deletion itself is not recorded once the session's history is purged
		return nil
	}

	a.finish(ctx, event, nil, 0)
	return nil
}

// SendText runs a text turn
func (a *Assistant) SendText(ctx context.Context, sessionID, text string, speak bool) (*Reply, error) {
	s, err := a.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}

	event := a.newEvent(events.KindTextTurn, s)
	event.InputLength = len([]rune(text))

	reply, err := a.generate(ctx, s, event, func(ctx context.Context) (string, error) {
		return s.Engine.SubmitUserUtterance(ctx, text)
	})
	if err != nil {
		return nil, err
	}

	a.metrics.RecordTurn("text", string(reply.Persona))
	a.attachSpeech(ctx, s, event, reply, speak)
	a.finish(ctx, event, nil, len(reply.Text))
	return reply, nil
}

// SendAudio runs a voice turn: preprocess, transcribe, then a text turn with the transcription
func (a *Assistant) SendAudio(ctx context.Context, sessionID string, r io.Reader, format audio.Format, speak bool) (*Reply, error) {
	s, err := a.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}

	event := a.newEvent(events.KindVoiceTurn, s)
	event.SetAttribute("format", string(format))

	if a.transcriber == nil {
		a.finish(ctx, event, ErrTranscriptionUnavailable, 0)
		return nil, ErrTranscriptionUnavailable
	}

	settings := a.settings.Get()
	clip, err := a.preprocessor.Preprocess(ctx, r, format, settings.SampleRate)
	if err != nil {
		a.finish(ctx, event, err, 0)
		return nil, err
	}
	event.SetAudioMetadata(clip.WAV, clip.Duration, clip.SampleRate)
	a.metrics.ObserveAudio(clip.Duration)

	logging.LogAudioProcessing("preprocessed",
		zap.String("session_id", s.ID),
		zap.Duration("duration", clip.Duration),
		zap.Int("source_rate", clip.SourceRate),
		zap.Int("source_channels", clip.SourceChannels),
		zap.Bool("silent", clip.Silent),
	)

	start := time.Now()
	transcription, err := a.transcriber.Transcribe(ctx, clip.WAV, clip.SampleRate)
	a.metrics.RecordExternalCall(metrics.ServiceTranscription, time.Since(start), err)
	if err == nil && strings.TrimSpace(transcription) == "" {
		err = &llm.TranscriptionError{Reason: "no speech recognized"}
	}
	if err != nil {
		a.finish(ctx, event, err, 0)
		return nil, err
	}
	event.InputLength = len([]rune(transcription))

	reply, err := a.generate(ctx, s, event, func(ctx context.Context) (string, error) {
		return s.Engine.SubmitUserUtterance(ctx, transcription)
	})
	if err != nil {
		return nil, err
	}

	reply.Transcription = transcription
	reply.Audio = &AudioInfo{
		DurationSeconds: clip.Duration.Seconds(),
		SampleRate:      clip.SampleRate,
		Samples:         len(clip.Samples),
		SourceRate:      clip.SourceRate,
		SourceChannels:  clip.SourceChannels,
		Silent:          clip.Silent,
	}

	a.metrics.RecordTurn("voice", string(reply.Persona))
	a.attachSpeech(ctx, s, event, reply, speak)
	a.finish(ctx, event, nil, len(reply.Text))
	return reply, nil
}

// Regenerate retries generation for a transcript that ends in a user turn
func (a *Assistant) Regenerate(ctx context.Context, sessionID string, speak bool) (*Reply, error) {
	s, err := a.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}

	event := a.newEvent(events.KindRegenerate, s)
	reply, err := a.generate(ctx, s, event, s.Engine.Regenerate)
	if err != nil {
		return nil, err
	}

	a.attachSpeech(ctx, s, event, reply, speak)
	a.finish(ctx, event, nil, len(reply.Text))
	return reply, nil
}

// generate applies the current model setting and runs op against the session's engine.
// Failures are recorded on event before returning.
func (a *Assistant) generate(ctx context.Context, s *session.Session, event *events.InteractionEvent, op func(context.Context) (string, error)) (*Reply, error) {
	model := a.settings.Get().Model
	s.Engine.SetModel(model)
	event.Model = model

	start := time.Now()
	text, err := op(ctx)
	if err == nil || ClassifyError(err) == ErrorKindGeneration {
		a.metrics.RecordExternalCall(metrics.ServiceGeneration, time.Since(start), err)
	}
	if err != nil {
		a.finish(ctx, event, err, 0)
		return nil, err
	}

	return &Reply{
		SessionID:       s.ID,
		EventID:         event.ID,
		Persona:         s.Engine.Persona(),
		Text:            text,
		TranscriptTurns: len(s.Engine.Transcript()),
	}, nil
}

// attachSpeech synthesizes the reply when asked. A synthesis failure leaves the text reply intact.
func (a *Assistant) attachSpeech(ctx context.Context, s *session.Session, event *events.InteractionEvent, reply *Reply, speak bool) {
	if !speak {
		return
	}

	lang := a.settings.Get().TTSLanguage
	speech, err := a.synthesize(ctx, reply.Text, lang)
	if err != nil {
		reply.SpeechError = err.Error()
		event.SetAttribute("speech_error", ClassifyError(err))
		logging.LogWarn("⚠️  Reply synthesis failed, returning text only",
			zap.String("session_id", s.ID),
			zap.Error(err),
		)
		return
	}

	reply.Speech = speech
	event.SetAttribute("speech_language", lang)

	if a.publisher != nil {
		if _, err := a.publisher.PublishSpeechAudio(s.ID, lang, speech.Voice, speech.ContentType, speech.Audio); err != nil {
			logging.LogError(err, "Failed to publish reply audio", zap.String("session_id", s.ID))
		}
	}
}

func (a *Assistant) synthesize(ctx context.Context, text, lang string) (*llm.SpeechAudio, error) {
	if a.synthesizer == nil {
		return nil, ErrSpeechUnavailable
	}

	start := time.Now()
	speech, err := a.synthesizer.Synthesize(ctx, text, lang)
	a.metrics.RecordExternalCall(metrics.ServiceSynthesis, time.Since(start), err)
	if err != nil {
		return nil, err
	}

	logging.LogTTSOperation("synthesized",
		zap.String("language", lang),
		zap.Int("text_length", len(text)),
		zap.Int("audio_bytes", len(speech.Audio)),
	)
	return speech, nil
}

// SwitchPersona changes the session's active persona; the transcript is kept
func (a *Assistant) SwitchPersona(ctx context.Context, sessionID, persona string) (conversation.PersonaLabel, error) {
	s, err := a.sessions.Get(sessionID)
	if err != nil {
		return "", err
	}

	event := a.newEvent(events.KindPersonaSwitch, s)
	event.SetAttribute("from", string(s.Engine.Persona()))

	label, err := conversation.ParsePersona(persona)
	if err == nil {
		err = s.Engine.SwitchPersona(label)
	}
	if err != nil {
		event.SetAttribute("requested", security.TruncateForLog(security.SanitizeLogInput(persona), 64))
		a.finish(ctx, event, err, 0)
		return "", err
	}

	event.Persona = string(label)
	event.SetAttribute("to", string(label))
	a.finish(ctx, event, nil, 0)
	return label, nil
}

// Reset clears the session's transcript and keeps its persona
func (a *Assistant) Reset(ctx context.Context, sessionID string) error {
	s, err := a.sessions.Get(sessionID)
	if err != nil {
		return err
	}

	event := a.newEvent(events.KindReset, s)
	event.SetAttribute("cleared_turns", fmt.Sprint(len(s.Engine.Transcript())))
	s.Engine.Reset()
	a.finish(ctx, event, nil, 0)
	return nil
}

// Analyze summarizes the session's conversation without changing it
func (a *Assistant) Analyze(ctx context.Context, sessionID string) (*conversation.AnalysisResult, error) {
	s, err := a.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}

	event := a.newEvent(events.KindAnalysis, s)
	model := a.settings.Get().Model
	s.Engine.SetModel(model)
	event.Model = model

	start := time.Now()
	result, err := s.Engine.Analyze(ctx)
	switch ClassifyError(err) {
	case "", ErrorKindGeneration, ErrorKindAnalysisParse:
		a.metrics.RecordExternalCall(metrics.ServiceGeneration, time.Since(start), err)
	}
	if err != nil {
		a.finish(ctx, event, err, 0)
		return nil, err
	}

	event.SetAttribute("sentiment", string(result.Sentiment))
	a.finish(ctx, event, nil, len(result.Summary))
	return result, nil
}

// Speak synthesizes arbitrary text. An empty lang uses the current TTS language setting.
func (a *Assistant) Speak(ctx context.Context, text, lang string) (*llm.SpeechAudio, error) {
	event := events.NewInteractionEvent(events.KindSpeech, "")
	event.InputLength = len([]rune(text))

	if strings.TrimSpace(text) == "" {
		a.finish(ctx, event, conversation.ErrEmptyInput, 0)
		return nil, conversation.ErrEmptyInput
	}

	if lang == "" {
		lang = a.settings.Get().TTSLanguage
	}
	event.SetAttribute("language", lang)

	if !config.IsSupportedLanguage(lang) {
		err := &config.InvalidSettingError{
			Setting: "tts_language",
			Value:   security.TruncateForLog(lang, 16),
			Reason:  fmt.Sprintf("must be one of %s", strings.Join(config.SupportedLanguages, ", ")),
		}
		a.finish(ctx, event, err, 0)
		return nil, err
	}

	speech, err := a.synthesize(ctx, text, lang)
	if err != nil {
		a.finish(ctx, event, err, 0)
		return nil, err
	}

	event.SetAttribute("voice", speech.Voice)
	a.finish(ctx, event, nil, len(speech.Audio))
	return speech, nil
}

// Settings returns a snapshot of the current settings
func (a *Assistant) Settings() config.Settings {
	return a.settings.Get()
}

// UpdateSettings applies a partial update atomically; on error nothing changes
func (a *Assistant) UpdateSettings(ctx context.Context, update config.SettingsUpdate) (config.Settings, error) {
	event := events.NewInteractionEvent(events.KindSettingsUpdate, "")

	settings, err := a.settings.Update(update)
	if err != nil {
		a.finish(ctx, event, err, 0)
		return settings, err
	}

	event.Model = settings.Model
	event.SampleRate = settings.SampleRate
	event.SetAttribute("tts_language", settings.TTSLanguage)
	event.SetAttribute("recording_duration", fmt.Sprint(settings.RecordingDuration))
	a.finish(ctx, event, nil, 0)
	return settings, nil
}

func (a *Assistant) newEvent(kind events.Kind, s *session.Session) *events.InteractionEvent {
	event := events.NewInteractionEvent(kind, s.ID)
	event.Persona = string(s.Engine.Persona())
	event.Model = s.Engine.Model()
	return event
}

// finish stamps the outcome on event, then stores, publishes and counts it.
// Recording problems are logged, never returned to the caller.
func (a *Assistant) finish(ctx context.Context, event *events.InteractionEvent, opErr error, replyLength int) {
	turns := 0
	if event.SessionID != "" {
		if s, err := a.sessions.Get(event.SessionID); err == nil {
			turns = len(s.Engine.Transcript())
		}
	}

	if opErr != nil {
		event.TranscriptTurns = turns
		event.SetError(ClassifyError(opErr), opErr)
		logging.LogError(opErr, "Interaction failed",
			zap.String("event_id", event.ID),
			zap.String("session_id", event.SessionID),
			zap.String("kind", string(event.Kind)),
			zap.String("error_kind", event.ErrorKind),
		)
	} else {
		event.Complete(replyLength, turns)
		logging.LogConversationTurn(event.SessionID, string(event.Kind),
			zap.String("event_id", event.ID),
			zap.Int64("processing_time_ms", event.ProcessingTime),
		)
	}

	a.metrics.RecordEvent(string(event.Kind), event.Success)

	// The request may already be cancelled; the event is still worth keeping
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if a.events != nil {
		if err := a.events.Insert(storeCtx, event); err != nil {
			logging.LogError(err, "Failed to store interaction event", zap.String("event_id", event.ID))
		}
	}

	if a.publisher != nil {
		if err := a.publisher.PublishInteractionEvent(event); err != nil {
			logging.LogError(err, "Failed to publish interaction event", zap.String("event_id", event.ID))
		}
	}
}
