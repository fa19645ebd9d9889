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

package messaging

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/loqalabs/loqa-concierge/internal/config"
	"github.com/loqalabs/loqa-concierge/internal/events"
	"github.com/loqalabs/loqa-concierge/internal/logging"
)

// ErrNotConnected is returned when publishing before Connect succeeded
var ErrNotConnected = errors.New("NATS connection not established")

// drainTimeout bounds how long Close waits for buffered publishes to flush
const drainTimeout = 5 * time.Second

// publisher is the subset of *nats.Conn used for outbound messages
type publisher interface {
	Publish(subject string, data []byte) error
}

// NATSService fans interaction events and reply audio out over NATS
type NATSService struct {
	cfg config.NATSConfig

	mu     sync.RWMutex
	conn   *nats.Conn
	pub    publisher
	closed chan struct{}
}

// NewNATSService creates a service for cfg. Nothing is dialed until Connect.
func NewNATSService(cfg config.NATSConfig) (*NATSService, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("NATS URL is required")
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "concierge.events"
	}
	return &NATSService{cfg: cfg}, nil
}

func (ns *NATSService) options(closed chan struct{}) []nats.Option {
	return []nats.Option{
		nats.Name("loqa-concierge"),
		nats.ReconnectWait(ns.cfg.ReconnectWait),
		nats.MaxReconnects(ns.cfg.MaxReconnect),
		nats.DrainTimeout(drainTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logging.LogWarn("⚠️  NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.LogNATSEvent(nc.ConnectedUrl(), "reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logging.LogNATSEvent(ns.cfg.URL, "closed")
			close(closed)
		}),
	}
}

// Connect dials the configured server
func (ns *NATSService) Connect() error {
	logging.LogNATSEvent(ns.cfg.URL, "connecting")

	closed := make(chan struct{})
	conn, err := nats.Connect(ns.cfg.URL, ns.options(closed)...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	ns.mu.Lock()
	ns.conn, ns.pub, ns.closed = conn, conn, closed
	ns.mu.Unlock()

	logging.LogNATSEvent(conn.ConnectedUrl(), "connected")
	return nil
}

// SubjectPrefix returns the prefix under which event kinds are published
func (ns *NATSService) SubjectPrefix() string {
	return ns.cfg.SubjectPrefix
}

func (ns *NATSService) publish(subject string, data []byte) error {
	ns.mu.RLock()
	pub := ns.pub
	ns.mu.RUnlock()

	if pub == nil {
		return ErrNotConnected
	}
	return pub.Publish(subject, data)
}

// PublishInteractionEvent publishes event as JSON on <prefix>.<kind>
func (ns *NATSService) PublishInteractionEvent(event *events.InteractionEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal interaction event: %w", err)
	}

	subject := event.Subject(ns.cfg.SubjectPrefix)
	if err := ns.publish(subject, data); err != nil {
		if errors.Is(err, ErrNotConnected) {
			return err
		}
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	logging.LogNATSEvent(subject, "published",
		zap.String("event_id", event.ID),
		zap.String("session_id", event.SessionID),
	)
	return nil
}

// EventSubject is the subscription subject for kind; an empty kind matches
// every event kind but not the multi-token audio subjects.
func EventSubject(prefix string, kind events.Kind) string {
	if kind == "" {
		return prefix + ".*"
	}
	return prefix + "." + string(kind)
}

// SubscribeInteractionEvents calls handler for each valid event of kind.
// An empty kind subscribes to all kinds.
func (ns *NATSService) SubscribeInteractionEvents(kind events.Kind, handler func(*events.InteractionEvent)) (*nats.Subscription, error) {
	ns.mu.RLock()
	conn := ns.conn
	ns.mu.RUnlock()

	if conn == nil {
		return nil, ErrNotConnected
	}

	return conn.Subscribe(EventSubject(ns.cfg.SubjectPrefix, kind), func(msg *nats.Msg) {
		event, err := decodeInteractionEvent(msg.Data)
		if err != nil {
			logging.LogError(err, "❌ Dropping malformed interaction event", zap.String("subject", msg.Subject))
			return
		}

		logging.LogNATSEvent(msg.Subject, "received", zap.String("event_id", event.ID))
		handler(event)
	})
}

func decodeInteractionEvent(data []byte) (*events.InteractionEvent, error) {
	var event events.InteractionEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("failed to decode interaction event: %w", err)
	}
	if err := event.IsValid(); err != nil {
		return nil, err
	}
	return &event, nil
}

// Close drains pending messages and closes the connection, waiting at most
// drainTimeout for the server to acknowledge.
func (ns *NATSService) Close() {
	ns.mu.Lock()
	conn, closed := ns.conn, ns.closed
	ns.conn, ns.pub, ns.closed = nil, nil, nil
	ns.mu.Unlock()

	if conn == nil {
		return
	}

	if err := conn.Drain(); err != nil {
		logging.LogWarn("NATS drain failed, closing", zap.Error(err))
		conn.Close()
		return
	}

	select {
	case <-closed:
	case <-time.After(drainTimeout):
		conn.Close()
	}
}

// IsConnected returns true if connected to NATS
func (ns *NATSService) IsConnected() bool {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return ns.conn != nil && ns.conn.IsConnected()
}
