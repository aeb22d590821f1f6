/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package audit probes remote Bluetooth devices over a raw L2CAP signaling
// channel and records their connectionless MTU and extended feature mask.
//
// An Engine owns every in-flight probe. All of its methods, and every
// callback it registers, must run on a single event loop goroutine.
package audit

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel/metric"

	"github.com/carverauto/l2audit/pkg/l2cap"
	"github.com/carverauto/l2audit/pkg/logger"
)

// Dependencies are the collaborators an Engine drives.
type Dependencies struct {
	Dialer    Dialer
	Reactor   Reactor
	Timers    Scheduler
	Liveness  Liveness
	Admission AdmissionState
	// Clock stamps probes. Defaults to the wall clock.
	Clock clock.Clock
	// Meter defaults to the global meter provider.
	Meter metric.Meter
}

func (d *Dependencies) validate() error {
	switch {
	case d.Dialer == nil:
		return fmt.Errorf("%w: dialer is required", ErrInvalidConfig)
	case d.Reactor == nil:
		return fmt.Errorf("%w: reactor is required", ErrInvalidConfig)
	case d.Timers == nil:
		return fmt.Errorf("%w: timers are required", ErrInvalidConfig)
	case d.Liveness == nil:
		return fmt.Errorf("%w: liveness is required", ErrInvalidConfig)
	case d.Admission == nil:
		return fmt.Errorf("%w: admission state is required", ErrInvalidConfig)
	}

	return nil
}

// StartRequest asks for a probe of Target on behalf of Requestor.
type StartRequest struct {
	Target      l2cap.Address
	Requestor   string
	AdapterPath string
}

// Engine admits, drives and tears down probes.
type Engine struct {
	cfg      Config
	local    l2cap.Address
	deps     Dependencies
	clock    clock.Clock
	registry *Registry
	metrics  *engineMetrics
	logger   logger.Logger
	closed   bool
}

func NewEngine(cfg *Config, deps Dependencies, log logger.Logger) (*Engine, error) {
	if cfg == nil {
		def := DefaultConfig()
		cfg = &def
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := deps.validate(); err != nil {
		return nil, err
	}

	local, err := cfg.LocalAddress()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	m, err := newEngineMetrics(deps.Meter)
	if err != nil {
		return nil, err
	}

	clk := deps.Clock
	if clk == nil {
		clk = clock.New()
	}

	if log == nil {
		log = logger.NewTestLogger()
	}

	return &Engine{
		cfg:      *cfg,
		local:    local,
		deps:     deps,
		clock:    clk,
		registry: NewRegistry(),
		metrics:  m,
		logger:   log,
	}, nil
}

// StartProbe admits a probe and returns as soon as it is registered. The
// probe connects immediately when no other probe holds a connection and is
// queued otherwise.
func (e *Engine) StartProbe(req StartRequest) (*Probe, error) {
	if e.closed {
		return nil, ErrShutdown
	}

	if err := e.admit(req.Target); err != nil {
		return nil, err
	}

	queued := e.registry.AnyConnecting()
	if queued && e.cfg.RejectWhenBusy {
		return nil, fmt.Errorf("%w: %s", ErrGateBusy, req.Target)
	}

	p := newProbe(req, e.clock.Now())

	if !queued {
		if err := e.connect(p); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrConnectionAttemptFailed, req.Target, err)
		}
	}

	live, err := e.deps.Liveness.Watch(req.Requestor, func() { e.requestorExited(p) })
	if err != nil {
		_ = p.release(e.deps.Timers)

		return nil, fmt.Errorf("watching requestor %s: %w", req.Requestor, err)
	}

	p.liveness = live

	if err := e.registry.Insert(p); err != nil {
		_ = p.release(e.deps.Timers)

		return nil, err
	}

	e.metrics.recordStart(queued)

	e.logger.Info().
		Str("probe_id", p.ID.String()).
		Str("target", p.Target.String()).
		Str("adapter", p.AdapterPath).
		Str("requestor", p.Requestor).
		Bool("queued", queued).
		Msg("Audit started")

	return p, nil
}

func (e *Engine) admit(target l2cap.Address) error {
	adm := e.deps.Admission

	switch {
	case adm.DiscoveryActive():
		return fmt.Errorf("%w: %s", ErrDiscoveryInProgress, target)
	case adm.BondingActive():
		return fmt.Errorf("%w: %s", ErrBondingInProgress, target)
	case adm.PinRequestPending(target):
		return fmt.Errorf("%w: pin request pending for %s", ErrBondingInProgress, target)
	case e.registry.Find(target) != nil:
		return fmt.Errorf("%w: %s", ErrDuplicateTarget, target)
	}

	return nil
}

// CancelProbe tears down the probe for target if requestor owns it.
func (e *Engine) CancelProbe(target l2cap.Address, requestor string) error {
	p := e.registry.Find(target)
	if p == nil {
		return fmt.Errorf("%w: %s", ErrNotInProgress, target)
	}

	if p.Requestor != requestor {
		return fmt.Errorf("%w: %s is owned by another requestor", ErrNotAuthorized, target)
	}

	e.finish(p, OutcomeCancelled, nil)

	return nil
}

func (e *Engine) requestorExited(p *Probe) {
	if p.finished {
		return
	}

	e.logger.Debug().
		Str("probe_id", p.ID.String()).
		Str("requestor", p.Requestor).
		Msg("Requestor exited")

	e.finish(p, OutcomeRequestorExited, nil)
}

// Shutdown tears down every probe and refuses new ones.
func (e *Engine) Shutdown() {
	e.closed = true

	for _, p := range e.registry.Probes() {
		e.finish(p, OutcomeShutdown, nil)
	}
}

// Probes returns the registered probes in admission order.
func (e *Engine) Probes() []*Probe {
	return e.registry.Probes()
}

// Len returns the number of registered probes.
func (e *Engine) Len() int {
	return e.registry.Len()
}

// finish is the single teardown path for a registered probe.
func (e *Engine) finish(p *Probe, outcome Outcome, cause error) {
	if p.finished {
		return
	}

	p.finished = true
	heldGate := p.conn != nil

	e.registry.Remove(p)

	if err := p.release(e.deps.Timers); err != nil {
		e.logger.Warn().Err(err).Str("probe_id", p.ID.String()).Msg("Failed to release audit resources")
	}

	elapsed := e.clock.Since(p.CreatedAt)

	e.metrics.recordFinish(outcome, p.state, elapsed)
	e.logResult(p, outcome, cause, elapsed)

	if heldGate {
		e.drain()
	}
}

// drain hands the released connection slot to the oldest queued probe.
func (e *Engine) drain() {
	for !e.closed && !e.registry.AnyConnecting() {
		next := e.registry.NextQueued()
		if next == nil {
			return
		}

		if err := e.connect(next); err != nil {
			e.finish(next, OutcomeFailed, fmt.Errorf("%w: %w", ErrConnectionAttemptFailed, err))

			continue
		}

		e.logger.Debug().
			Str("probe_id", next.ID.String()).
			Str("target", next.Target.String()).
			Msg("Queued audit connecting")
	}
}

func (e *Engine) logResult(p *Probe, outcome Outcome, cause error, elapsed time.Duration) {
	ev := e.logger.Info()
	if cause != nil {
		ev = e.logger.Warn().Err(cause)
	}

	ev = ev.
		Str("probe_id", p.ID.String()).
		Str("target", p.Target.String()).
		Str("adapter", p.AdapterPath).
		Str("requestor", p.Requestor).
		Str("outcome", outcome.String()).
		Str("state", p.state.String()).
		Dur("duration", elapsed)

	if p.result.MTU != nil {
		ev = ev.Uint16("mtu", *p.result.MTU)
	}

	if p.result.FeatureMask != nil {
		ev = ev.
			Str("feature_mask", p.result.FeatureMask.String()).
			Strs("modes", p.result.FeatureMask.Modes())
	}

	ev.Msg("Audit finished")
}
