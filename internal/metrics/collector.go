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

// Package metrics exposes Prometheus instrumentation for the concierge.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// External services observed by the collector
const (
	ServiceGeneration    = "generation"
	ServiceTranscription = "transcription"
	ServiceSynthesis     = "synthesis"
	ServiceMessaging     = "messaging"
	ServiceStorage       = "storage"
)

// Collector owns a private registry so several instances can coexist in tests
type Collector struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	externalCallsTotal   *prometheus.CounterVec
	externalCallDuration *prometheus.HistogramVec

	conversationTurns *prometheus.CounterVec
	audioSeconds      prometheus.Histogram
	activeSessions    prometheus.Gauge
	eventsRecorded    *prometheus.CounterVec

	upstreamUp *prometheus.GaugeVec
}

// NewCollector creates a collector registered under namespace
func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,

		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		externalCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "external_calls_total",
				Help:      "Calls to hosted speech and language services",
			},
			[]string{"service", "status"},
		),
		externalCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "external_call_duration_seconds",
				Help:      "Latency of hosted speech and language services",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"service"},
		),

		conversationTurns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conversation_turns_total",
				Help:      "Completed conversation turns by input mode and persona",
			},
			[]string{"mode", "persona"},
		),
		audioSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "audio_input_seconds",
				Help:      "Duration of preprocessed voice input",
				Buckets:   []float64{1, 2, 5, 10, 15, 20, 30, 60},
			},
		),
		activeSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_sessions",
				Help:      "Sessions currently held in memory",
			},
		),
		eventsRecorded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "interaction_events_total",
				Help:      "Interaction events by kind and outcome",
			},
			[]string{"kind", "success"},
		),
		upstreamUp: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "upstream_up",
				Help:      "1 when the last availability probe of a dependency succeeded",
			},
			[]string{"service"},
		),
	}
}

// Registry returns the collector's registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records one served request. route is the pattern, not the raw path.
func (c *Collector) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordExternalCall records a call to one of the hosted services
func (c *Collector) RecordExternalCall(service string, duration time.Duration, err error) {
	if c == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.externalCallsTotal.WithLabelValues(service, status).Inc()
	c.externalCallDuration.WithLabelValues(service).Observe(duration.Seconds())
}

// RecordTurn counts a completed turn; mode is "text" or "voice"
func (c *Collector) RecordTurn(mode, persona string) {
	if c == nil {
		return
	}
	c.conversationTurns.WithLabelValues(mode, persona).Inc()
}

// ObserveAudio records the duration of a preprocessed clip
func (c *Collector) ObserveAudio(duration time.Duration) {
	if c == nil {
		return
	}
	c.audioSeconds.Observe(duration.Seconds())
}

// SetActiveSessions reports the current session count
func (c *Collector) SetActiveSessions(n int) {
	if c == nil {
		return
	}
	c.activeSessions.Set(float64(n))
}

// RecordEvent counts a recorded interaction event
func (c *Collector) RecordEvent(kind string, success bool) {
	if c == nil {
		return
	}
	c.eventsRecorded.WithLabelValues(kind, strconv.FormatBool(success)).Inc()
}

// SetUpstreamUp records the outcome of the latest probe of service
func (c *Collector) SetUpstreamUp(service string, up bool) {
	if c == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	c.upstreamUp.WithLabelValues(service).Set(v)
}
