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

// Package eventloop runs callbacks one at a time on a single goroutine and
// delivers file-descriptor readiness to that goroutine.
package eventloop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/carverauto/l2audit/pkg/logger"
)

var (
	ErrLoopStopped         = errors.New("event loop stopped")
	ErrPollerClosed        = errors.New("poller closed")
	ErrAlreadyWatched      = errors.New("descriptor already watched")
	ErrUnsupportedPlatform = errors.New("fd polling is only supported on linux")
	ErrCallbackPanicked    = errors.New("event loop callback panicked")
)

const defaultQueueSize = 256

// Do call states.
const (
	callPending int32 = iota
	callRunning
	callAbandoned
)

// Dispatcher accepts callbacks to run on the loop goroutine.
type Dispatcher interface {
	Post(fn func()) bool
}

// Loop serializes every callback posted to it. All state owned by callbacks
// may be mutated without locks as long as it is only touched from the loop.
type Loop struct {
	queue    chan func()
	done     chan struct{}
	stopOnce sync.Once
	logger   logger.Logger
}

var _ Dispatcher = (*Loop)(nil)

// New creates a loop with a bounded callback queue.
func New(queueSize int, log logger.Logger) *Loop {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	return &Loop{
		queue:  make(chan func(), queueSize),
		done:   make(chan struct{}),
		logger: log,
	}
}

// Run executes callbacks until ctx is done or Stop is called.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			l.Stop()

			return ctx.Err()
		case <-l.done:
			return nil
		case fn := <-l.queue:
			l.invoke(fn)
		}
	}
}

func (l *Loop) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error().Interface("panic", r).Msg("Recovered panic in event loop callback")
		}
	}()

	fn()
}

// Post enqueues fn. It returns false if the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}

	select {
	case l.queue <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Do runs fn on the loop and waits for its result.
//
// When ctx ends or the loop stops before fn has started, fn is abandoned and
// never runs. Once fn has started, Do always returns fn's own result.
func (l *Loop) Do(ctx context.Context, fn func() error) error {
	errCh := make(chan error, 1)

	var claim atomic.Int32

	run := func() {
		if !claim.CompareAndSwap(callPending, callRunning) {
			return
		}

		err := ErrCallbackPanicked

		defer func() { errCh <- err }()

		err = fn()
	}

	if !l.Post(run) {
		return ErrLoopStopped
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		if claim.CompareAndSwap(callPending, callAbandoned) {
			return fmt.Errorf("waiting for event loop: %w", ctx.Err())
		}
	case <-l.done:
		if claim.CompareAndSwap(callPending, callAbandoned) {
			return ErrLoopStopped
		}
	}

	// fn is already running on the loop.
	return <-errCh
}

// Stop ends Run. Callbacks still queued are discarded.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.done)
	})
}

// Done is closed once the loop has stopped.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}
