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

package adapter

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/carverauto/l2audit/pkg/logger"
)

const (
	bluezService      = "org.bluez"
	adapterIface      = "org.bluez.Adapter1"
	propsIface        = "org.freedesktop.DBus.Properties"
	propertiesChanged = propsIface + ".PropertiesChanged"
)

var errMonitorStarted = errors.New("adapter monitor already started")

// SignalBus is the part of *dbus.Conn the monitor uses.
type SignalBus interface {
	Object(dest string, path dbus.ObjectPath) dbus.BusObject
	AddMatchSignal(options ...dbus.MatchOption) error
	RemoveMatchSignal(options ...dbus.MatchOption) error
	Signal(ch chan<- *dbus.Signal)
	RemoveSignal(ch chan<- *dbus.Signal)
}

// Monitor mirrors the adapter's Discovering property into a State. Bonding and
// PIN request flags have no BlueZ property and are set by the host.
type Monitor struct {
	bus    SignalBus
	path   dbus.ObjectPath
	state  *State
	logger logger.Logger

	mu       sync.Mutex
	signals  chan *dbus.Signal
	started  bool
	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

func NewMonitor(bus SignalBus, adapterPath dbus.ObjectPath, state *State, log logger.Logger) *Monitor {
	return &Monitor{
		bus:     bus,
		path:    adapterPath,
		state:   state,
		logger:  log,
		signals: make(chan *dbus.Signal, 32),
		done:    make(chan struct{}),
	}
}

func (m *Monitor) matchOptions() []dbus.MatchOption {
	return []dbus.MatchOption{
		dbus.WithMatchInterface(propsIface),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchObjectPath(m.path),
	}
}

// Start seeds the state from the adapter and begins following changes.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return errMonitorStarted
	}

	v, err := m.bus.Object(bluezService, m.path).GetProperty(adapterIface + ".Discovering")
	if err != nil {
		m.logger.Warn().Err(err).Str("adapter", string(m.path)).Msg("Could not read adapter discovery state")
	} else if discovering, ok := v.Value().(bool); ok {
		m.state.SetDiscovering(discovering)
	}

	if err := m.bus.AddMatchSignal(m.matchOptions()...); err != nil {
		return fmt.Errorf("subscribing to %s on %s: %w", propertiesChanged, m.path, err)
	}

	m.bus.Signal(m.signals)
	m.started = true

	m.wg.Add(1)

	go m.run(ctx)

	return nil
}

func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case sig, ok := <-m.signals:
			if !ok {
				return
			}

			m.handleSignal(sig)
		}
	}
}

func (m *Monitor) handleSignal(sig *dbus.Signal) {
	if sig == nil || sig.Name != propertiesChanged || len(sig.Body) < 2 {
		return
	}

	iface, _ := sig.Body[0].(string)
	changed, _ := sig.Body[1].(map[string]dbus.Variant)

	if changed == nil {
		return
	}

	if iface != adapterIface || sig.Path != m.path {
		return
	}

	if v, ok := changed["Discovering"]; ok {
		if discovering, ok := v.Value().(bool); ok {
			m.state.SetDiscovering(discovering)
			m.logger.Debug().Bool("discovering", discovering).Msg("Adapter discovery changed")
		}
	}
}

// Stop unsubscribes and waits for the signal goroutine.
func (m *Monitor) Stop() error {
	var err error

	m.stopOnce.Do(func() {
		close(m.done)

		m.mu.Lock()
		started := m.started
		m.mu.Unlock()

		if !started {
			return
		}

		m.bus.RemoveSignal(m.signals)
		err = m.bus.RemoveMatchSignal(m.matchOptions()...)
		m.wg.Wait()
	})

	return err
}
