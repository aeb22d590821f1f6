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
	"errors"
	"fmt"

	"github.com/carverauto/l2audit/pkg/eventloop"
	"github.com/carverauto/l2audit/pkg/l2cap"
)

// connect opens p's connection and waits for it to become writable.
func (e *Engine) connect(p *Probe) error {
	conn, err := e.deps.Dialer.Dial(e.local, p.Target)
	if err != nil {
		return err
	}

	p.conn = conn
	p.state = StateAwaitingConnect

	if err := e.await(p, eventloop.Writable, e.onConnect); err != nil {
		_ = conn.Close()
		p.conn = nil

		return err
	}

	ev := e.logger.Debug().
		Str("probe_id", p.ID.String()).
		Str("target", p.Target.String()).
		Time("deadline", p.timer.Deadline())

	if !e.local.IsAny() {
		ev = ev.Str("local", e.local.String())
	}

	ev.Msg("Connecting")

	return nil
}

// await registers the next readiness watch and deadline for p. Any previous
// watch and deadline must already be gone.
func (e *Engine) await(p *Probe, events eventloop.Events, step func(*Probe, eventloop.Events)) error {
	w, err := e.deps.Reactor.Watch(p.conn.Fd(), events, func(ev eventloop.Events) {
		if p.finished {
			return
		}

		step(p, ev)
	})
	if err != nil {
		return fmt.Errorf("watching connection: %w", err)
	}

	p.io = w

	if p.timer == nil {
		p.timer = e.deps.Timers.Schedule(e.cfg.timeout(), func() { e.onTimeout(p) })
	}

	return nil
}

func (e *Engine) onTimeout(p *Probe) {
	if p.finished {
		return
	}

	p.timer = nil

	e.finish(p, OutcomeTimeout, fmt.Errorf("%w in %s", ErrTimeout, p.state))
}

func (e *Engine) fail(p *Probe, err error) {
	e.finish(p, OutcomeFailed, err)
}

func (e *Engine) onConnect(p *Probe, ev eventloop.Events) {
	p.disarm()
	p.stopTimer(e.deps.Timers)

	if err := p.conn.SocketError(); err != nil {
		e.fail(p, fmt.Errorf("connect: %w", err))

		return
	}

	if ev.Failed() {
		e.fail(p, fmt.Errorf("%w: %s", ErrConnectionLost, ev))

		return
	}

	e.request(p, l2cap.InfoTypeConnectionlessMTU, StateAwaitingMTUInfo)
}

// request sends an info request and waits for its response.
func (e *Engine) request(p *Probe, t l2cap.InfoType, next State) {
	if err := p.conn.Send(l2cap.EncodeInfoRequest(l2cap.DefaultIdent, t)); err != nil {
		e.fail(p, fmt.Errorf("sending %s request: %w", t, err))

		return
	}

	p.state = next

	if err := e.await(p, eventloop.Readable, e.onResponse); err != nil {
		e.fail(p, err)
	}
}

func (e *Engine) onResponse(p *Probe, ev eventloop.Events) {
	p.disarm()

	if ev&eventloop.Readable == 0 {
		e.fail(p, fmt.Errorf("%w: %s", ErrConnectionLost, ev))

		return
	}

	buf := make([]byte, l2cap.ResponseBufferSize)

	n, err := p.conn.Recv(buf)
	if errors.Is(err, l2cap.ErrWouldBlock) {
		// spurious wakeup; the deadline keeps running
		if err := e.await(p, eventloop.Readable, e.onResponse); err != nil {
			e.fail(p, err)
		}

		return
	}

	p.stopTimer(e.deps.Timers)

	if err != nil {
		e.fail(p, fmt.Errorf("reading %s response: %w", p.state, err))

		return
	}

	switch p.state {
	case StateAwaitingMTUInfo:
		e.record(p, l2cap.InfoTypeConnectionlessMTU, buf[:n])
		e.request(p, l2cap.InfoTypeExtendedFeatures, StateAwaitingFeatureInfo)
	case StateAwaitingFeatureInfo:
		e.record(p, l2cap.InfoTypeExtendedFeatures, buf[:n])
		e.finish(p, OutcomeCompleted, nil)
	default:
		e.fail(p, fmt.Errorf("%w: response in %s", l2cap.ErrProtocol, p.state))
	}
}

// record stores a decoded response. Undecodable or unsupported responses, and
// responses to another transaction or info type, leave the field unset and
// never fail the probe.
func (e *Engine) record(p *Probe, want l2cap.InfoType, b []byte) {
	resp, err := l2cap.DecodeInfoResponse(b)
	if err != nil {
		e.logger.Debug().Err(err).
			Str("probe_id", p.ID.String()).
			Str("info_type", want.String()).
			Msg("Ignoring undecodable info response")

		return
	}

	if resp.Ident != l2cap.DefaultIdent {
		e.logger.Debug().
			Str("probe_id", p.ID.String()).
			Uint8("ident", resp.Ident).
			Msg("Ignoring info response for another transaction")

		return
	}

	if !resp.Supported() {
		e.logger.Debug().
			Str("probe_id", p.ID.String()).
			Str("info_type", want.String()).
			Msg("Remote does not support info type")

		return
	}

	if resp.Type != want {
		e.logger.Debug().
			Str("probe_id", p.ID.String()).
			Str("want", want.String()).
			Str("got", resp.Type.String()).
			Msg("Ignoring info response for another type")

		return
	}

	switch want {
	case l2cap.InfoTypeConnectionlessMTU:
		mtu := resp.MTU
		p.result.MTU = &mtu
	case l2cap.InfoTypeExtendedFeatures:
		mask := resp.FeatureMask
		p.result.FeatureMask = &mask
	}
}
