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

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/loqalabs/loqa-concierge/internal/assistant"
	"github.com/loqalabs/loqa-concierge/internal/audio"
	"github.com/loqalabs/loqa-concierge/internal/config"
	"github.com/loqalabs/loqa-concierge/internal/llm"
	"github.com/loqalabs/loqa-concierge/internal/logging"
	"github.com/loqalabs/loqa-concierge/internal/messaging"
	"github.com/loqalabs/loqa-concierge/internal/metrics"
	"github.com/loqalabs/loqa-concierge/internal/server"
	"github.com/loqalabs/loqa-concierge/internal/session"
	"github.com/loqalabs/loqa-concierge/internal/storage"
	"github.com/loqalabs/loqa-concierge/internal/upstream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		var cfgErr *config.ConfigurationError
		if errors.As(err, &cfgErr) {
			log.Fatalf("❌ %v (set %s)", cfgErr, cfgErr.Key)
		}
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logging.InitializeWithConfig(logging.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer logging.Close()

	if err := run(cfg); err != nil {
		logging.LogError(err, "Concierge stopped with an error")
		logging.Close()
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	settings, err := config.NewSettingsStore(cfg.InitialSettings())
	if err != nil {
		return err
	}

	generator, err := llm.NewOpenAIChatClient(cfg.OpenAI, cfg.LLM)
	if err != nil {
		return err
	}

	sessions, err := session.NewManager(cfg.Sessions.Capacity, generator)
	if err != nil {
		return err
	}

	collector := metrics.NewCollector("concierge")

	var prober *upstream.Prober
	if cfg.Probe.Enabled {
		prober = upstream.NewProber(cfg.Probe.Interval, cfg.Probe.Timeout, collector)
		probeClient := &http.Client{Timeout: cfg.Probe.Timeout}
		prober.Register(metrics.ServiceGeneration,
			upstream.HTTPCheck(probeClient, strings.TrimSuffix(cfg.OpenAI.BaseURL, "/")+"/models", cfg.OpenAI.APIKey))
	}

	deps := assistant.Dependencies{
		Sessions:     sessions,
		Settings:     settings,
		Preprocessor: audio.NewPreprocessor(""),
		Metrics:      collector,
	}

	// Voice input and speech output are optional; text chat keeps working without them
	if stt, err := llm.NewSTTClient(cfg.OpenAI, cfg.STT); err != nil {
		logging.LogWarn("Transcription disabled", zap.Error(err))
	} else {
		defer func() { _ = stt.Close() }()
		deps.Transcriber = stt
	}

	if tts, err := llm.NewOpenAITTSClient(cfg.TTS); err != nil {
		logging.LogWarn("Speech synthesis disabled", zap.Error(err))
	} else {
		defer func() { _ = tts.Close() }()
		deps.Synthesizer = tts
		if prober != nil {
			prober.Register(metrics.ServiceSynthesis, upstream.HTTPCheck(
				&http.Client{Timeout: cfg.Probe.Timeout},
				strings.TrimSuffix(cfg.TTS.URL, "/")+cfg.Probe.TTSHealthPath,
				cfg.TTS.APIKey))
		}
	}

	serverDeps := server.Dependencies{Metrics: collector}

	if cfg.Storage.Enabled {
		db, err := storage.NewDatabase(storage.DatabaseConfig{Path: cfg.Storage.DBPath})
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		store := storage.NewInteractionEventsStore(db)
		deps.Events = store
		serverDeps.Database = db
		serverDeps.Events = store
		if prober != nil {
			prober.Register(metrics.ServiceStorage, db.Ping)
		}
	}

	if cfg.NATS.URL != "" {
		ns, err := messaging.NewNATSService(cfg.NATS)
		if err != nil {
			return err
		}
		if err := ns.Connect(); err != nil {
			logging.LogWarn("Event publishing disabled", zap.Error(err))
		} else {
			defer ns.Close()
			deps.Publisher = ns
			serverDeps.NATS = ns
			if prober != nil {
				prober.Register(metrics.ServiceMessaging, func(ctx context.Context) error {
					if !ns.IsConnected() {
						return messaging.ErrNotConnected
					}
					return nil
				})
			}
		}
	}

	a, err := assistant.New(deps)
	if err != nil {
		return err
	}
	serverDeps.Assistant = a
	serverDeps.Prober = prober

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if prober != nil {
		go prober.Start(ctx)
	}

	srv, err := server.New(cfg, serverDeps)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logging.Sugar.Infow("📴 Signal received", "signal", sig.String())
	}

	return srv.Stop()
}
