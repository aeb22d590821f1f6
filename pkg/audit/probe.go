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

package audit

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/carverauto/l2audit/pkg/eventloop"
	"github.com/carverauto/l2audit/pkg/l2cap"
	"github.com/carverauto/l2audit/pkg/timeout"
)

// State is the protocol step a probe is waiting on.
type State int

const (
	StateAwaitingConnect State = iota
	StateAwaitingMTUInfo
	StateAwaitingFeatureInfo
)

func (s State) String() string {
	switch s {
	case StateAwaitingConnect:
		return "awaiting_connect"
	case StateAwaitingMTUInfo:
		return "awaiting_mtu_info"
	case StateAwaitingFeatureInfo:
		return "awaiting_feature_info"
	default:
		return "unknown"
	}
}

// Outcome records why a probe ended.
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomeFailed
	OutcomeTimeout
	OutcomeCancelled
	OutcomeRequestorExited
	OutcomeShutdown
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeFailed:
		return "failed"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeRequestorExited:
		return "requestor_exited"
	case OutcomeShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Result holds what the remote device reported. A nil field was not
// reported, either because the device does not support the query or because
// the response could not be decoded.
type Result struct {
	MTU         *uint16
	FeatureMask *l2cap.FeatureMask
}

// Probe is one audit of one remote device.
type Probe struct {
	ID          uuid.UUID
	Target      l2cap.Address
	AdapterPath string
	Requestor   string
	CreatedAt   time.Time

	state    State
	result   Result
	conn     Conn
	io       eventloop.Watch
	timer    *timeout.Handle
	liveness Releaser
	finished bool
}

func newProbe(req StartRequest, now time.Time) *Probe {
	return &Probe{
		ID:          uuid.New(),
		Target:      req.Target,
		AdapterPath: req.AdapterPath,
		Requestor:   req.Requestor,
		CreatedAt:   now,
		state:       StateAwaitingConnect,
	}
}

func (p *Probe) State() State { return p.state }

func (p *Probe) Result() Result { return p.result }

// Connected reports whether the probe holds a connection.
func (p *Probe) Connected() bool { return p.conn != nil }

// Finished reports whether the probe has been torn down.
func (p *Probe) Finished() bool { return p.finished }

// disarm drops the readiness registration, leaving the connection open.
func (p *Probe) disarm() {
	if p.io != nil {
		p.io.Release()
		p.io = nil
	}
}

func (p *Probe) stopTimer(timers Scheduler) {
	if p.timer != nil {
		timers.Cancel(p.timer)
		p.timer = nil
	}
}

// release frees every resource the probe owns. Each resource is released at
// most once no matter how often release runs.
func (p *Probe) release(timers Scheduler) error {
	var err error

	p.stopTimer(timers)
	p.disarm()

	if p.conn != nil {
		err = multierr.Append(err, p.conn.Close())
		p.conn = nil
	}

	if p.liveness != nil {
		p.liveness.Release()
		p.liveness = nil
	}

	return err
}
