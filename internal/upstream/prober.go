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

// Package upstream probes the services the concierge depends on and derives
// the mode it can currently serve in.
package upstream

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/loqalabs/loqa-concierge/internal/logging"
	"github.com/loqalabs/loqa-concierge/internal/metrics"
)

// Mode is what the concierge can currently do
type Mode string

const (
	ModeFull        Mode = "full"        // every registered service answers
	ModeTextOnly    Mode = "text_only"   // generation works, voice in or out does not
	ModeUnavailable Mode = "unavailable" // generation is down
)

// Check returns nil when the service is reachable
type Check func(ctx context.Context) error

// ServiceStatus is the latest probe result for one service
type ServiceStatus struct {
	Up        bool      `json:"up"`
	LatencyMS int64     `json:"latency_ms"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Snapshot is the prober's view after the last round
type Snapshot struct {
	Mode              Mode                     `json:"mode"`
	Services          map[string]ServiceStatus `json:"services"`
	LastChecked       time.Time                `json:"last_checked"`
	Degraded          bool                     `json:"degraded"`
	DegradationReason string                   `json:"degradation_reason,omitempty"`
}

// LatencyBudgets above which a reachable service still counts as degraded
var LatencyBudgets = map[string]time.Duration{
	metrics.ServiceGeneration:    3 * time.Second,
	metrics.ServiceTranscription: 3 * time.Second,
	metrics.ServiceSynthesis:     2 * time.Second,
	metrics.ServiceMessaging:     500 * time.Millisecond,
	metrics.ServiceStorage:       500 * time.Millisecond,
}

// Prober runs registered checks on an interval
type Prober struct {
	mu       sync.RWMutex
	checks   map[string]Check
	snapshot Snapshot

	interval time.Duration
	timeout  time.Duration
	metrics  *metrics.Collector

	onModeChange func(old, new Mode)
}

// NewProber creates a prober; collector may be nil
func NewProber(interval, timeout time.Duration, collector *metrics.Collector) *Prober {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Prober{
		checks:   make(map[string]Check),
		interval: interval,
		timeout:  timeout,
		metrics:  collector,
		snapshot: Snapshot{
			Mode:     ModeFull,
			Services: map[string]ServiceStatus{},
		},
	}
}

// Register adds a named check. Names should be the metrics.Service* constants.
func (p *Prober) Register(name string, check Check) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checks[name] = check
}

// SetModeChangeCallback is invoked in its own goroutine when the mode changes
func (p *Prober) SetModeChangeCallback(callback func(old, new Mode)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onModeChange = callback
}

// Start probes immediately and then on every interval until ctx is done
func (p *Prober) Start(ctx context.Context) {
	p.Probe(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Probe(ctx)
		}
	}
}

// Probe runs every check once, concurrently, and stores the result
func (p *Prober) Probe(ctx context.Context) Snapshot {
	p.mu.RLock()
	checks := make(map[string]Check, len(p.checks))
	for name, check := range p.checks {
		checks[name] = check
	}
	p.mu.RUnlock()

	results := make(map[string]ServiceStatus, len(checks))
	var (
		wg      sync.WaitGroup
		resMu   sync.Mutex
		probeAt = time.Now()
	)
	for name, check := range checks {
		wg.Add(1)
		go func(name string, check Check) {
			defer wg.Done()
			status := p.run(ctx, check)
			resMu.Lock()
			results[name] = status
			resMu.Unlock()
		}(name, check)
	}
	wg.Wait()

	mode := determineMode(results)
	degraded, reason := checkDegradation(results)
	snap := Snapshot{
		Mode:              mode,
		Services:          results,
		LastChecked:       probeAt,
		Degraded:          degraded,
		DegradationReason: reason,
	}

	p.mu.Lock()
	old := p.snapshot.Mode
	p.snapshot = snap
	callback := p.onModeChange
	p.mu.Unlock()

	for name, status := range results {
		p.metrics.SetUpstreamUp(name, status.Up)
	}

	if logging.Sugar != nil {
		logging.Sugar.Debugw("Upstream probe completed",
			"mode", mode,
			"degraded", degraded,
			"services", len(results))
	}

	if old != mode {
		logging.LogWarn("Service mode changed",
			zap.String("from", string(old)),
			zap.String("to", string(mode)),
			zap.String("reason", reason))
		if callback != nil {
			go callback(old, mode)
		}
	}

	return snap
}

func (p *Prober) run(ctx context.Context, check Check) ServiceStatus {
	checkCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	err := check(checkCtx)
	status := ServiceStatus{
		Up:        err == nil,
		LatencyMS: time.Since(start).Milliseconds(),
		CheckedAt: time.Now(),
	}
	if err != nil {
		status.Error = err.Error()
	}
	return status
}

// Snapshot returns the result of the last probe round
func (p *Prober) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	snap := p.snapshot
	snap.Services = make(map[string]ServiceStatus, len(p.snapshot.Services))
	for name, status := range p.snapshot.Services {
		snap.Services[name] = status
	}
	return snap
}

// Mode returns the current mode
func (p *Prober) Mode() Mode {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshot.Mode
}

// determineMode only considers registered services; an unprobed service never downgrades the mode
func determineMode(services map[string]ServiceStatus) Mode {
	if status, ok := services[metrics.ServiceGeneration]; ok && !status.Up {
		return ModeUnavailable
	}
	for _, name := range []string{metrics.ServiceTranscription, metrics.ServiceSynthesis} {
		if status, ok := services[name]; ok && !status.Up {
			return ModeTextOnly
		}
	}
	return ModeFull
}

// checkDegradation reports the first failing or slow service in name order
func checkDegradation(services map[string]ServiceStatus) (bool, string) {
	names := make([]string, 0, len(services))
	for name := range services {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if !services[name].Up {
			return true, fmt.Sprintf("%s unavailable", name)
		}
	}
	for _, name := range names {
		budget, ok := LatencyBudgets[name]
		if ok && services[name].LatencyMS > budget.Milliseconds() {
			return true, fmt.Sprintf("%s latency %dms exceeds %dms", name, services[name].LatencyMS, budget.Milliseconds())
		}
	}
	return false, ""
}

// HTTPCheck probes url with GET, sending apiKey as a bearer token when set.
// Any 2xx answer counts as up.
func HTTPCheck(client *http.Client, url, apiKey string) Check {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("failed to create probe request: %w", err)
		}
		if apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+apiKey)
		}

		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return fmt.Errorf("credential rejected (status %d)", resp.StatusCode)
		case resp.StatusCode < 200 || resp.StatusCode > 299:
			return fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		return nil
	}
}
