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

package dbusapi

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/godbus/dbus/v5"

	"github.com/carverauto/l2audit/pkg/audit"
	"github.com/carverauto/l2audit/pkg/eventloop"
	"github.com/carverauto/l2audit/pkg/logger"
)

const (
	busName          = "org.freedesktop.DBus"
	nameOwnerChanged = busName + ".NameOwnerChanged"
)

// SignalBus is the part of *dbus.Conn the name watcher uses.
type SignalBus interface {
	AddMatchSignal(options ...dbus.MatchOption) error
	RemoveMatchSignal(options ...dbus.MatchOption) error
	Signal(ch chan<- *dbus.Signal)
	RemoveSignal(ch chan<- *dbus.Signal)
}

// NameWatcher reports when bus clients disconnect. One NameOwnerChanged
// subscription serves every watch; exit callbacks run on the dispatcher.
type NameWatcher struct {
	bus      SignalBus
	dispatch eventloop.Dispatcher
	logger   logger.Logger

	mu      sync.Mutex
	watches map[string]map[*nameWatch]struct{}
	started bool
	stopped bool

	signals  chan *dbus.Signal
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type nameWatch struct {
	watcher  *NameWatcher
	name     string
	onExit   func()
	released atomic.Bool
}

var _ audit.Liveness = (*NameWatcher)(nil)

func NewNameWatcher(bus SignalBus, d eventloop.Dispatcher, log logger.Logger) *NameWatcher {
	return &NameWatcher{
		bus:      bus,
		dispatch: d,
		logger:   log,
		watches:  make(map[string]map[*nameWatch]struct{}),
		signals:  make(chan *dbus.Signal, 64),
		done:     make(chan struct{}),
	}
}

func matchNameOwnerChanged() []dbus.MatchOption {
	return []dbus.MatchOption{
		dbus.WithMatchSender(busName),
		dbus.WithMatchInterface(busName),
		dbus.WithMatchMember("NameOwnerChanged"),
	}
}

// Start subscribes to NameOwnerChanged.
func (w *NameWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return errNameWatcherStarted
	}

	if err := w.bus.AddMatchSignal(matchNameOwnerChanged()...); err != nil {
		return err
	}

	w.bus.Signal(w.signals)
	w.started = true

	w.wg.Add(1)

	go w.run(ctx)

	return nil
}

func (w *NameWatcher) run(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case sig, ok := <-w.signals:
			if !ok {
				return
			}

			w.handleSignal(sig)
		}
	}
}

func (w *NameWatcher) handleSignal(sig *dbus.Signal) {
	if sig == nil || sig.Name != nameOwnerChanged || len(sig.Body) < 3 {
		return
	}

	name, _ := sig.Body[0].(string)
	newOwner, _ := sig.Body[2].(string)

	if name == "" || newOwner != "" {
		return
	}

	w.exited(name)
}

func (w *NameWatcher) exited(name string) {
	w.mu.Lock()
	set := w.watches[name]
	delete(w.watches, name)
	w.mu.Unlock()

	if len(set) == 0 {
		return
	}

	w.logger.Debug().Str("name", name).Int("watches", len(set)).Msg("Bus client exited")

	for nw := range set {
		w.dispatch.Post(func() {
			if nw.released.Load() {
				return
			}

			nw.onExit()
		})
	}
}

// Watch calls onExit once name leaves the bus, unless the returned
// Releaser is released first.
func (w *NameWatcher) Watch(name string, onExit func()) (audit.Releaser, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return nil, errNameWatcherStopped
	}

	nw := &nameWatch{watcher: w, name: name, onExit: onExit}

	set, ok := w.watches[name]
	if !ok {
		set = make(map[*nameWatch]struct{})
		w.watches[name] = set
	}

	set[nw] = struct{}{}

	return nw, nil
}

// Len returns the number of live watches.
func (w *NameWatcher) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := 0
	for _, set := range w.watches {
		n += len(set)
	}

	return n
}

func (nw *nameWatch) Release() {
	if nw.released.Swap(true) {
		return
	}

	w := nw.watcher

	w.mu.Lock()
	defer w.mu.Unlock()

	set := w.watches[nw.name]
	delete(set, nw)

	if len(set) == 0 {
		delete(w.watches, nw.name)
	}
}

// Stop unsubscribes. Watches registered afterwards fail.
func (w *NameWatcher) Stop() error {
	var err error

	w.stopOnce.Do(func() {
		close(w.done)

		w.mu.Lock()
		w.stopped = true
		started := w.started
		w.mu.Unlock()

		if !started {
			return
		}

		w.bus.RemoveSignal(w.signals)
		err = w.bus.RemoveMatchSignal(matchNameOwnerChanged()...)
		w.wg.Wait()
	})

	return err
}
