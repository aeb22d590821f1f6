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
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/carverauto/l2audit/pkg/eventloop"
	"github.com/carverauto/l2audit/pkg/l2cap"
)

const (
	targetA = "00:11:22:33:44:55"
	targetB = "00:11:22:33:44:66"
	targetC = "00:11:22:33:44:77"
)

func TestEngine_HappyPath(t *testing.T) {
	h := newHarness(t)

	p, err := h.engine.StartProbe(StartRequest{
		Target:      l2cap.MustParseAddress(targetA),
		Requestor:   "clientA",
		AdapterPath: "/adapter0",
	})
	require.NoError(t, err)

	assert.Equal(t, "/adapter0", p.AdapterPath)
	assert.Equal(t, StateAwaitingConnect, p.State())
	assert.True(t, p.Connected())
	assert.Equal(t, 1, h.engine.Len())
	assert.Equal(t, 1, h.timers.Pending())

	c := h.conn(p)
	assert.Equal(t, eventloop.Writable, h.reactor.active[c.fd].events)

	h.connected(p)

	require.Len(t, c.sent, 1)
	assert.Equal(t, l2cap.EncodeInfoRequest(l2cap.DefaultIdent, l2cap.InfoTypeConnectionlessMTU), c.sent[0])
	assert.Equal(t, StateAwaitingMTUInfo, p.State())
	assert.Equal(t, eventloop.Readable, h.reactor.active[c.fd].events)
	assert.Equal(t, 1, h.timers.Pending())

	h.respond(p, []byte{0x0b, 0x2a, 0x06, 0x00, 0x01, 0x00, 0x00, 0x00, 0xf4, 0x01})

	require.Len(t, c.sent, 2)
	assert.Equal(t, l2cap.EncodeInfoRequest(l2cap.DefaultIdent, l2cap.InfoTypeExtendedFeatures), c.sent[1])
	assert.Equal(t, StateAwaitingFeatureInfo, p.State())

	h.respond(p, []byte{0x0b, 0x2a, 0x08, 0x00, 0x02, 0x00, 0x00, 0x00, 0x03, 0x00, 0x00, 0x00})

	res := p.Result()
	require.NotNil(t, res.MTU)
	require.NotNil(t, res.FeatureMask)
	assert.Equal(t, uint16(500), *res.MTU)
	assert.Equal(t, l2cap.FeatureMask(3), *res.FeatureMask)

	h.requireReleased(p)
	h.requireIdle()
}

func TestEngine_MTUNotSupported(t *testing.T) {
	h := newHarness(t)

	p := h.mustStart(targetA, "clientA")
	h.connected(p)
	h.respond(p, notSupported(l2cap.InfoTypeConnectionlessMTU))

	assert.Nil(t, p.Result().MTU)
	assert.Equal(t, StateAwaitingFeatureInfo, p.State())
	require.Len(t, h.conn(p).sent, 2)

	h.respond(p, featuresResponse(0x07))

	require.NotNil(t, p.Result().FeatureMask)
	assert.Equal(t, []string{"flow_control", "retransmission", "bidirectional_qos"}, p.Result().FeatureMask.Modes())
	h.requireReleased(p)
}

func TestEngine_UndecodableResponseIsNotFatal(t *testing.T) {
	h := newHarness(t)

	p := h.mustStart(targetA, "clientA")
	h.connected(p)
	h.respond(p, []byte{0x0b, 0x2a, 0x06})

	assert.Nil(t, p.Result().MTU)
	assert.Equal(t, StateAwaitingFeatureInfo, p.State())

	h.respond(p, l2cap.EncodeInfoResponse(l2cap.DefaultIdent, l2cap.InfoTypeExtendedFeatures, l2cap.InfoResult(0x0005), 0))

	assert.Nil(t, p.Result().FeatureMask)
	h.requireReleased(p)
}

func TestEngine_MismatchedInfoTypeIgnored(t *testing.T) {
	h := newHarness(t)

	p := h.mustStart(targetA, "clientA")
	h.connected(p)
	h.respond(p, featuresResponse(0x03))

	assert.Nil(t, p.Result().MTU)
	assert.Nil(t, p.Result().FeatureMask)
	assert.Equal(t, StateAwaitingFeatureInfo, p.State())
}

func TestEngine_ForeignIdentIgnored(t *testing.T) {
	h := newHarness(t)

	p := h.mustStart(targetA, "clientA")
	h.connected(p)
	h.respond(p, l2cap.EncodeInfoResponse(l2cap.DefaultIdent+1, l2cap.InfoTypeConnectionlessMTU, l2cap.ResultSuccess, 500))

	assert.Nil(t, p.Result().MTU)
	assert.Equal(t, StateAwaitingFeatureInfo, p.State())

	h.respond(p, featuresResponse(0x03))

	require.NotNil(t, p.Result().FeatureMask)
	assert.Equal(t, l2cap.FeatureMask(3), *p.Result().FeatureMask)
	h.requireReleased(p)
}

func TestEngine_AdmissionConflicts(t *testing.T) {
	target := l2cap.MustParseAddress(targetA)

	tests := []struct {
		name  string
		setup func(*MockAdmissionState)
		want  error
	}{
		{
			name: "discovery",
			setup: func(m *MockAdmissionState) {
				m.EXPECT().DiscoveryActive().Return(true)
			},
			want: ErrDiscoveryInProgress,
		},
		{
			name: "bonding",
			setup: func(m *MockAdmissionState) {
				m.EXPECT().DiscoveryActive().Return(false)
				m.EXPECT().BondingActive().Return(true)
			},
			want: ErrBondingInProgress,
		},
		{
			name: "pin request",
			setup: func(m *MockAdmissionState) {
				m.EXPECT().DiscoveryActive().Return(false)
				m.EXPECT().BondingActive().Return(false)
				m.EXPECT().PinRequestPending(target).Return(true)
			},
			want: ErrBondingInProgress,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, withAdmission(tt.setup))

			p, err := h.start(targetA, "clientA")
			require.Error(t, err)
			assert.Nil(t, p)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, ErrAdmissionConflict)

			assert.Zero(t, h.engine.Len())
			assert.Empty(t, h.dialer.conns)
			assert.Zero(t, h.liveness.acquired)
		})
	}
}

func TestEngine_DuplicateTarget(t *testing.T) {
	h := newHarness(t)

	first := h.mustStart(targetA, "clientA")

	_, err := h.start(targetA, "clientB")
	require.ErrorIs(t, err, ErrDuplicateTarget)

	assert.Equal(t, 1, h.engine.Len())
	assert.Len(t, h.dialer.conns, 1)
	assert.Equal(t, 1, h.liveness.acquired)
	assert.Same(t, first, h.engine.Probes()[0])
}

func TestEngine_ConnectFailure(t *testing.T) {
	h := newHarness(t)

	h.dialer.fail[l2cap.MustParseAddress(targetA)] = errors.New("host is down")

	_, err := h.start(targetA, "clientA")
	require.ErrorIs(t, err, ErrConnectionAttemptFailed)

	assert.Zero(t, h.engine.Len())
	assert.Zero(t, h.liveness.acquired)
	assert.Zero(t, h.timers.Pending())
	assert.Zero(t, h.reactor.acquired)
}

func TestEngine_LivenessWatchFailure(t *testing.T) {
	h := newHarness(t)

	h.liveness.err = errors.New("bus gone")

	_, err := h.start(targetA, "clientA")
	require.Error(t, err)

	assert.Zero(t, h.engine.Len())
	assert.Zero(t, h.dialer.open())
	assert.Zero(t, h.timers.Pending())
	assert.Equal(t, h.reactor.acquired, h.reactor.released)
}

func TestEngine_QueuesWhileGateHeld(t *testing.T) {
	h := newHarness(t)

	a := h.mustStart(targetA, "clientA")
	b := h.mustStart(targetB, "clientB")

	assert.True(t, a.Connected())
	assert.False(t, b.Connected())
	assert.Len(t, h.dialer.conns, 1)
	assert.Equal(t, 1, h.timers.Pending())
	assert.Equal(t, 2, h.engine.Len())

	require.NoError(t, h.engine.CancelProbe(a.Target, "clientA"))
	h.requireReleased(a)

	assert.True(t, b.Connected())
	assert.Equal(t, StateAwaitingConnect, b.State())
	assert.Equal(t, 1, h.dialer.open())
	assert.Equal(t, 1, h.timers.Pending())
}

func TestEngine_RejectWhenBusy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RejectWhenBusy = true

	h := newHarness(t, withConfig(cfg))

	h.mustStart(targetA, "clientA")

	_, err := h.start(targetB, "clientB")
	require.ErrorIs(t, err, ErrGateBusy)

	assert.Equal(t, 1, h.engine.Len())
	assert.Equal(t, 1, h.liveness.acquired)
}

func TestEngine_DrainSkipsFailedDial(t *testing.T) {
	h := newHarness(t)

	a := h.mustStart(targetA, "clientA")
	b := h.mustStart(targetB, "clientB")
	c := h.mustStart(targetC, "clientC")

	h.dialer.fail[b.Target] = errors.New("no route")

	h.connected(a)
	h.respond(a, mtuResponse(672))
	h.respond(a, featuresResponse(0))

	h.requireReleased(a)
	assert.True(t, b.Finished())
	assert.True(t, c.Connected())
	assert.Equal(t, []*Probe{c}, h.engine.Probes())
	assert.Equal(t, 1, h.liveness.live())
}

func TestEngine_CancelUnknownTarget(t *testing.T) {
	h := newHarness(t)

	err := h.engine.CancelProbe(l2cap.MustParseAddress("AA:BB:CC:DD:EE:FF"), "clientA")
	assert.ErrorIs(t, err, ErrNotInProgress)
}

func TestEngine_CancelNotAuthorized(t *testing.T) {
	h := newHarness(t)

	p := h.mustStart(targetA, "clientA")

	err := h.engine.CancelProbe(p.Target, "clientB")
	require.ErrorIs(t, err, ErrNotAuthorized)

	assert.False(t, p.Finished())
	assert.True(t, p.Connected())
	assert.Equal(t, 1, h.engine.Len())
	assert.Equal(t, 1, h.timers.Pending())
	assert.Zero(t, h.conn(p).closes)
}

func TestEngine_CancelQueuedProbe(t *testing.T) {
	h := newHarness(t)

	a := h.mustStart(targetA, "clientA")
	b := h.mustStart(targetB, "clientB")

	require.NoError(t, h.engine.CancelProbe(b.Target, "clientB"))

	assert.True(t, b.Finished())
	assert.True(t, a.Connected())
	assert.Len(t, h.dialer.conns, 1)
	assert.Equal(t, 1, h.liveness.live())
}

func TestEngine_ReleasesOnEveryTerminalPath(t *testing.T) {
	tests := []struct {
		name    string
		outcome func(h *harness, p *Probe)
	}{
		{
			name: "success",
			outcome: func(h *harness, p *Probe) {
				h.connected(p)
				h.respond(p, mtuResponse(48))
				h.respond(p, featuresResponse(1))
			},
		},
		{
			name: "connect error",
			outcome: func(h *harness, p *Probe) {
				h.conn(p).sockErr = errors.New("connection refused")
				h.connected(p)
			},
		},
		{
			name: "hangup while connecting",
			outcome: func(h *harness, p *Probe) {
				h.fire(p, eventloop.Hangup)
			},
		},
		{
			name: "send failure",
			outcome: func(h *harness, p *Probe) {
				h.conn(p).sendErr = errors.New("broken pipe")
				h.connected(p)
			},
		},
		{
			name: "read failure",
			outcome: func(h *harness, p *Probe) {
				h.connected(p)
				h.conn(p).recvErr = errors.New("connection reset")
				h.fire(p, eventloop.Readable)
			},
		},
		{
			name: "error event while waiting",
			outcome: func(h *harness, p *Probe) {
				h.connected(p)
				h.respond(p, mtuResponse(48))
				h.fire(p, eventloop.Error)
			},
		},
		{
			name: "timeout connecting",
			outcome: func(h *harness, _ *Probe) {
				h.advance(DefaultTimeout)
			},
		},
		{
			name: "timeout waiting for features",
			outcome: func(h *harness, p *Probe) {
				h.connected(p)
				h.respond(p, mtuResponse(48))
				h.advance(DefaultTimeout)
			},
		},
		{
			name: "cancel",
			outcome: func(h *harness, p *Probe) {
				h.connected(p)
				require.NoError(h.t, h.engine.CancelProbe(p.Target, p.Requestor))
			},
		},
		{
			name: "requestor exit",
			outcome: func(h *harness, p *Probe) {
				h.connected(p)
				h.liveness.exit(p.Requestor)
			},
		},
		{
			name: "shutdown",
			outcome: func(h *harness, _ *Probe) {
				h.engine.Shutdown()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)

			p := h.mustStart(targetA, "clientA")
			tt.outcome(h, p)

			h.requireReleased(p)
			h.requireIdle()
			assert.Equal(t, 1, h.liveness.released)
			assert.Equal(t, 1, h.conn(p).closes)
		})
	}
}

func TestEngine_TimeoutDeterminism(t *testing.T) {
	h := newHarness(t)

	p := h.mustStart(targetA, "clientA")
	h.connected(p)

	h.advance(DefaultTimeout - 100*time.Millisecond)
	require.False(t, p.Finished())

	h.respond(p, mtuResponse(500))
	require.Equal(t, StateAwaitingFeatureInfo, p.State())

	// The MTU deadline would have fired here had it not been cancelled.
	h.advance(time.Second)
	require.False(t, p.Finished())
	assert.Equal(t, 1, h.timers.Pending())

	h.advance(time.Second)
	require.True(t, p.Finished())
	h.requireReleased(p)
}

func TestEngine_CompletionCancelsDeadline(t *testing.T) {
	h := newHarness(t)

	p := h.mustStart(targetA, "clientA")
	h.connected(p)
	h.respond(p, mtuResponse(500))
	h.respond(p, featuresResponse(3))

	h.advance(10 * DefaultTimeout)

	assert.Zero(t, h.timers.Pending())
	require.NotNil(t, p.Result().FeatureMask)
}

func TestEngine_WouldBlockKeepsDeadline(t *testing.T) {
	h := newHarness(t)

	p := h.mustStart(targetA, "clientA")
	h.connected(p)

	h.advance(time.Second)
	h.fire(p, eventloop.Readable)

	assert.False(t, p.Finished())
	assert.Equal(t, StateAwaitingMTUInfo, p.State())
	assert.Contains(t, h.reactor.active, h.conn(p).fd)
	assert.Equal(t, 1, h.timers.Pending())

	h.advance(time.Second)
	assert.True(t, p.Finished())
	h.requireReleased(p)
}

func TestEngine_ConfiguredTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timeout = 0

	h := newHarness(t, withConfig(cfg))

	p := h.mustStart(targetA, "clientA")

	h.advance(DefaultTimeout - time.Millisecond)
	assert.False(t, p.Finished())

	h.advance(time.Millisecond)
	assert.True(t, p.Finished())
}

func TestEngine_DeadlineArmedOnConnect(t *testing.T) {
	h := newHarness(t)

	p := h.mustStart(targetA, "clientA")
	require.NotNil(t, p.timer)
	assert.Equal(t, p.CreatedAt.Add(DefaultTimeout), p.timer.Deadline())

	q := h.mustStart(targetB, "clientB")
	assert.Nil(t, q.timer, "queued probe has no deadline until it connects")

	h.advance(DefaultTimeout)
	require.True(t, p.Finished())

	require.NotNil(t, q.timer)
	assert.Equal(t, h.clock.Now().Add(DefaultTimeout), q.timer.Deadline())
}

func TestEngine_RequestorExitCancelsOnlyItsProbes(t *testing.T) {
	h := newHarness(t)

	a := h.mustStart(targetA, "clientA")
	b := h.mustStart(targetB, "clientB")
	c := h.mustStart(targetC, "clientA")

	h.liveness.exit("clientA")

	assert.True(t, a.Finished())
	assert.True(t, c.Finished())
	assert.False(t, b.Finished())
	assert.True(t, b.Connected())
	assert.Equal(t, []*Probe{b}, h.engine.Probes())
}

func TestEngine_ShutdownRejectsNewProbes(t *testing.T) {
	h := newHarness(t)

	h.mustStart(targetA, "clientA")
	h.mustStart(targetB, "clientB")

	h.engine.Shutdown()

	assert.Zero(t, h.engine.Len())
	assert.Zero(t, h.dialer.open())
	assert.Len(t, h.dialer.conns, 1)
	assert.Zero(t, h.liveness.live())

	_, err := h.start(targetC, "clientC")
	assert.ErrorIs(t, err, ErrShutdown)
}

func TestEngine_StaleCallbacksIgnored(t *testing.T) {
	h := newHarness(t)

	p := h.mustStart(targetA, "clientA")
	c := h.conn(p)
	w := h.reactor.active[c.fd]

	require.NoError(t, h.engine.CancelProbe(p.Target, "clientA"))

	w.fn(eventloop.Writable)
	h.liveness.exit("clientA")

	assert.Empty(t, c.sent)
	assert.Equal(t, 1, c.closes)
}

// TestEngine_Invariants drives a random mix of operations and checks the
// registry and resource invariants after every step.
func TestEngine_Invariants(t *testing.T) {
	h := newHarness(t)
	rng := rand.New(rand.NewSource(1))

	targets := []string{targetA, targetB, targetC, "AA:BB:CC:DD:EE:FF"}
	requestors := []string{"clientA", "clientB"}

	for step := 0; step < 300; step++ {
		target := targets[rng.Intn(len(targets))]
		requestor := requestors[rng.Intn(len(requestors))]

		switch rng.Intn(6) {
		case 0, 1:
			_, _ = h.start(target, requestor)
		case 2:
			_ = h.engine.CancelProbe(l2cap.MustParseAddress(target), requestor)
		case 3:
			for _, p := range h.engine.Probes() {
				if !p.Connected() {
					continue
				}

				switch p.State() {
				case StateAwaitingConnect:
					h.connected(p)
				case StateAwaitingMTUInfo:
					h.respond(p, mtuResponse(uint16(rng.Intn(1024))))
				case StateAwaitingFeatureInfo:
					h.respond(p, featuresResponse(rng.Uint32()))
				}
			}
		case 4:
			if rng.Intn(4) == 0 {
				h.advance(DefaultTimeout)
			}
		case 5:
			if rng.Intn(4) == 0 {
				h.liveness.exit(requestor)
			}
		}

		checkInvariants(t, h)
	}
}

func checkInvariants(t *testing.T, h *harness) {
	t.Helper()

	probes := h.engine.Probes()
	seen := make(map[l2cap.Address]bool)
	connected := 0

	for _, p := range probes {
		require.False(t, seen[p.Target], "duplicate target %s", p.Target)
		seen[p.Target] = true

		require.False(t, p.Finished())
		require.Equal(t, p.conn != nil, p.io != nil, "conn and watch present together")
		require.Equal(t, p.conn != nil, p.timer != nil, "deadline set iff waiting on network")

		if p.Connected() {
			connected++
		}
	}

	require.LessOrEqual(t, connected, 1, "single connection")
	require.Equal(t, connected, h.dialer.open())
	require.Equal(t, connected, len(h.reactor.active))
	require.Equal(t, connected, h.timers.Pending())
	require.Equal(t, len(probes), h.liveness.live())

	if connected == 0 {
		require.Empty(t, probes, "queued probes without a connection holder")
	}
}

func TestNewEngine_Validation(t *testing.T) {
	ctrl := gomock.NewController(t)

	deps := Dependencies{
		Dialer:    newFakeDialer(),
		Reactor:   newFakeReactor(),
		Liveness:  &fakeLiveness{},
		Admission: NewMockAdmissionState(ctrl),
	}

	_, err := NewEngine(nil, deps, nil)
	require.ErrorIs(t, err, ErrInvalidConfig)

	cfg := DefaultConfig()
	cfg.AdapterAddress = "not-an-address"

	_, err = NewEngine(&cfg, deps, nil)
	require.ErrorIs(t, err, ErrInvalidConfig)
}
