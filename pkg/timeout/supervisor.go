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

// Package timeout arms one-shot deadlines whose expiry runs on an event loop.
package timeout

import (
	"time"

	"github.com/benbjohnson/clock"

	"github.com/carverauto/l2audit/pkg/eventloop"
)

// Handle identifies an armed deadline.
type Handle struct {
	timer    *clock.Timer
	onExpire func()
	deadline time.Time

	// loop goroutine only
	pending bool
}

// Deadline returns the time the handle is due to expire, or the zero time
// for a nil handle.
func (h *Handle) Deadline() time.Time {
	if h == nil {
		return time.Time{}
	}

	return h.deadline
}

// Supervisor schedules and cancels deadlines. Schedule, Cancel and Pending
// must be called from the dispatcher's goroutine; expiry callbacks run there
// too, so a cancelled handle never reaches its callback.
type Supervisor struct {
	clock    clock.Clock
	dispatch eventloop.Dispatcher
	pending  int
}

func NewSupervisor(clk clock.Clock, d eventloop.Dispatcher) *Supervisor {
	if clk == nil {
		clk = clock.New()
	}

	return &Supervisor{clock: clk, dispatch: d}
}

// Schedule arms a deadline d from now.
func (s *Supervisor) Schedule(d time.Duration, onExpire func()) *Handle {
	h := &Handle{
		onExpire: onExpire,
		deadline: s.clock.Now().Add(d),
		pending:  true,
	}

	h.timer = s.clock.AfterFunc(d, func() {
		s.dispatch.Post(func() { s.expire(h) })
	})

	s.pending++

	return h
}

func (s *Supervisor) expire(h *Handle) {
	if !h.pending {
		return
	}

	h.pending = false
	s.pending--

	h.onExpire()
}

// Cancel disarms h. It reports whether the handle was still pending and is
// safe to call with nil or with an already cancelled handle.
func (s *Supervisor) Cancel(h *Handle) bool {
	if h == nil || !h.pending {
		return false
	}

	h.pending = false
	s.pending--

	h.timer.Stop()

	return true
}

// Pending returns the number of armed deadlines.
func (s *Supervisor) Pending() int {
	return s.pending
}
