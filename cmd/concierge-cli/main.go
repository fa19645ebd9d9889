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
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loqalabs/loqa-concierge/internal/config"
	"github.com/loqalabs/loqa-concierge/internal/events"
	"github.com/loqalabs/loqa-concierge/internal/logging"
	"github.com/loqalabs/loqa-concierge/internal/messaging"
)

const (
	defaultServerURL = "http://localhost:8080"
	validActions     = "create, show, chat, voice, regenerate, persona, reset, analyze, delete, personas, settings, speak, events, watch"
)

func main() {
	var (
		serverURL = flag.String("server", defaultServerURL, "URL of the concierge API")
		action    = flag.String("action", "chat", "Action to perform: "+validActions)
		sessionID = flag.String("session", "", "Session ID; chat and voice create one when empty")
		text      = flag.String("text", "", "Message text for chat and speak")
		file      = flag.String("file", "", "Audio file for voice")
		persona   = flag.String("persona", "", "Persona label for create and persona")
		speak     = flag.Bool("speak", false, "Request a spoken reply")
		lang      = flag.String("lang", "", "Language for speak")
		out       = flag.String("out", "", "Write synthesized audio to this file")
		purge     = flag.Bool("purge", false, "Remove stored events when deleting a session")
		kind      = flag.String("kind", "", "Event kind filter for events and watch")
		pageSize  = flag.Int("limit", 20, "Number of events to list")
		natsURL   = flag.String("nats", "nats://localhost:4222", "NATS URL for watch")
		prefix    = flag.String("prefix", "concierge.events", "NATS subject prefix for watch")
		format    = flag.String("format", "table", "Output format: table, json")
		set       = flag.String("set", "", "Settings update for settings, e.g. sample_rate=22050,tts_language=zh")
	)
	flag.Parse()

	client := NewConciergeCLI(*serverURL, *format, os.Stdout)

	var err error
	switch *action {
	case "create":
		err = client.CreateSession(*persona)
	case "show":
		err = requireSession(*sessionID, func() error { return client.ShowSession(*sessionID) })
	case "chat":
		if *text == "" {
			err = fmt.Errorf("text required for chat action")
			break
		}
		err = client.Chat(*sessionID, *text, *speak, *out)
	case "voice":
		if *file == "" {
			err = fmt.Errorf("file required for voice action")
			break
		}
		err = client.Voice(*sessionID, *file, *speak, *out)
	case "regenerate":
		err = requireSession(*sessionID, func() error { return client.Regenerate(*sessionID, *speak, *out) })
	case "persona":
		err = requireSession(*sessionID, func() error { return client.SwitchPersona(*sessionID, *persona) })
	case "reset":
		err = requireSession(*sessionID, func() error { return client.Reset(*sessionID) })
	case "analyze":
		err = requireSession(*sessionID, func() error { return client.Analyze(*sessionID) })
	case "delete":
		err = requireSession(*sessionID, func() error { return client.DeleteSession(*sessionID, *purge) })
	case "personas":
		err = client.Personas()
	case "settings":
		err = client.Settings(*set)
	case "speak":
		if *text == "" || *out == "" {
			err = fmt.Errorf("text and out required for speak action")
			break
		}
		err = client.Speak(*text, *lang, *out)
	case "events":
		err = client.ListEvents(*sessionID, *kind, *pageSize)
	case "watch":
		err = watch(*natsURL, *prefix, *kind, *format)
	default:
		err = fmt.Errorf("unknown action %s\nValid actions: %s", *action, validActions)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func requireSession(id string, fn func() error) error {
	if id == "" {
		return fmt.Errorf("session ID required for this action")
	}
	return fn()
}

// watch streams interaction events from NATS until interrupted
func watch(url, prefix, kind, format string) error {
	if kind != "" && !events.IsValidKind(events.Kind(kind)) {
		return fmt.Errorf("unknown event kind %q", kind)
	}

	if err := logging.InitializeWithConfig(logging.LogConfig{Level: "warn", Format: "console"}); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logging.Close()

	ns, err := messaging.NewNATSService(config.NATSConfig{
		URL:           url,
		SubjectPrefix: prefix,
		MaxReconnect:  5,
		ReconnectWait: time.Second,
	})
	if err != nil {
		return err
	}
	if err := ns.Connect(); err != nil {
		return err
	}
	defer ns.Close()

	printer := NewConciergeCLI("", format, os.Stdout)
	sub, err := ns.SubscribeInteractionEvents(events.Kind(kind), func(event *events.InteractionEvent) {
		printer.printEventLine(event)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	fmt.Fprintf(os.Stderr, "Watching %s (Ctrl-C to stop)\n", messaging.EventSubject(prefix, events.Kind(kind)))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	return nil
}
