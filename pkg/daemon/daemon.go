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

// Package daemon wires the audit engine to D-Bus, the event loop and the
// local adapter.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/godbus/dbus/v5"
	"go.uber.org/multierr"

	"github.com/carverauto/l2audit/pkg/adapter"
	"github.com/carverauto/l2audit/pkg/audit"
	"github.com/carverauto/l2audit/pkg/dbusapi"
	"github.com/carverauto/l2audit/pkg/eventloop"
	"github.com/carverauto/l2audit/pkg/l2cap"
	"github.com/carverauto/l2audit/pkg/lifecycle"
	"github.com/carverauto/l2audit/pkg/logger"
	"github.com/carverauto/l2audit/pkg/timeout"
)

var (
	errAlreadyStarted = errors.New("daemon already started")
	errNameTaken      = errors.New("bus name already owned")
)

// Daemon hosts the org.bluez.Test object.
type Daemon struct {
	cfg    *Config
	logger logger.Logger
	state  *adapter.State

	mu       sync.Mutex
	started  bool
	loop     *eventloop.Loop
	engine   *audit.Engine
	loopDone chan error
	cleanup  cleanupStack
}

var _ lifecycle.Service = (*Daemon)(nil)

func New(cfg *Config, log logger.Logger) (*Daemon, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if log == nil {
		log = logger.NewTestLogger()
	}

	return &Daemon{
		cfg:    cfg,
		logger: log,
		state:  adapter.NewState(),
	}, nil
}

func connectBus(bus string) (*dbus.Conn, error) {
	switch bus {
	case BusSession:
		return dbus.ConnectSessionBus()
	default:
		return dbus.ConnectSystemBus()
	}
}

// State exposes the admission flags so a host can report bonding and PIN
// requests.
func (d *Daemon) State() *adapter.State {
	return d.state
}

// Start connects to the bus, starts the event loop and exports the service.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return errAlreadyStarted
	}

	if err := d.start(ctx); err != nil {
		if cerr := d.cleanup.run(ctx); cerr != nil {
			d.logger.Warn().Err(cerr).Msg("Cleanup after failed start reported errors")
		}

		return err
	}

	d.started = true

	d.logger.Info().
		Str("bus", d.cfg.Bus).
		Str("object_path", d.cfg.ObjectPath).
		Str("adapter", d.cfg.AdapterPath).
		Bool("experimental", d.cfg.Experimental).
		Msg("l2audit ready")

	return nil
}

func (d *Daemon) start(ctx context.Context) error {
	conn, err := connectBus(d.cfg.Bus)
	if err != nil {
		return fmt.Errorf("connecting to %s bus: %w", d.cfg.Bus, err)
	}

	d.cleanup.push(conn.Close)

	d.loop = eventloop.New(d.cfg.QueueSize, logger.Component(d.logger, "eventloop"))

	poller, err := eventloop.NewPoller(d.loop, logger.Component(d.logger, "eventloop"))
	if err != nil {
		return fmt.Errorf("creating poller: %w", err)
	}

	poller.Start()
	d.cleanup.push(poller.Close)

	names := dbusapi.NewNameWatcher(conn, d.loop, logger.Component(d.logger, "dbusapi"))
	if err := names.Start(ctx); err != nil {
		return fmt.Errorf("watching bus clients: %w", err)
	}

	d.cleanup.push(names.Stop)

	if d.cfg.MonitorAdapter {
		monitor := adapter.NewMonitor(conn, dbus.ObjectPath(d.cfg.AdapterPath), d.state, logger.Component(d.logger, "adapter"))
		if err := monitor.Start(ctx); err != nil {
			return fmt.Errorf("monitoring adapter: %w", err)
		}

		d.cleanup.push(monitor.Stop)
	}

	d.engine, err = audit.NewEngine(&d.cfg.Audit, audit.Dependencies{
		Dialer:    audit.SocketDialer{Dialer: l2cap.Dialer{}},
		Reactor:   poller,
		Timers:    timeout.NewSupervisor(clock.New(), d.loop),
		Liveness:  names,
		Admission: d.state,
	}, logger.Component(d.logger, "audit"))
	if err != nil {
		return err
	}

	d.startLoop()

	svc := dbusapi.NewService(dbusapi.ServiceConfig{
		AdapterPath:  d.cfg.AdapterPath,
		Experimental: d.cfg.Experimental,
		CallTimeout:  d.cfg.CallTimeout.Std(),
	}, d.engine, d.loop, logger.Component(d.logger, "dbusapi"))

	path := dbus.ObjectPath(d.cfg.ObjectPath)
	if err := svc.Export(conn, path); err != nil {
		return fmt.Errorf("exporting %s: %w", path, err)
	}

	d.cleanup.push(func() error {
		return multierr.Combine(
			conn.Export(nil, path, dbusapi.TestInterface),
			conn.Export(nil, path, "org.freedesktop.DBus.Introspectable"),
		)
	})

	if d.cfg.BusName != "" {
		if err := d.requestName(conn); err != nil {
			return err
		}
	}

	return nil
}

func (d *Daemon) startLoop() {
	d.loopDone = make(chan error, 1)

	go func() {
		d.loopDone <- d.loop.Run(context.Background())
	}()

	engine := d.engine

	d.cleanup.pushCtx(func(ctx context.Context) error {
		// Tear down probes on the loop, then let the loop exit.
		err := d.loop.Do(ctx, func() error {
			engine.Shutdown()

			return nil
		})

		d.loop.Stop()

		if lerr := <-d.loopDone; lerr != nil {
			err = multierr.Append(err, lerr)
		}

		return err
	})
}

func (d *Daemon) requestName(conn *dbus.Conn) error {
	reply, err := conn.RequestName(d.cfg.BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("requesting %s: %w", d.cfg.BusName, err)
	}

	if reply != dbus.RequestNameReplyPrimaryOwner && reply != dbus.RequestNameReplyAlreadyOwner {
		return fmt.Errorf("%w: %s", errNameTaken, d.cfg.BusName)
	}

	d.cleanup.push(func() error {
		_, err := conn.ReleaseName(d.cfg.BusName)

		return err
	})

	return nil
}

// Stop cancels every probe and releases the bus.
func (d *Daemon) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.started {
		return nil
	}

	d.started = false

	return d.cleanup.run(ctx)
}
