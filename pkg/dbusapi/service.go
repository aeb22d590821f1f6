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

// Package dbusapi exposes the audit engine on D-Bus as org.bluez.Test.
package dbusapi

import (
	"context"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"github.com/carverauto/l2audit/pkg/audit"
	"github.com/carverauto/l2audit/pkg/l2cap"
	"github.com/carverauto/l2audit/pkg/logger"
)

const (
	TestInterface       = "org.bluez.Test"
	defaultCallTimeout  = 5 * time.Second
	introspectableIface = "org.freedesktop.DBus.Introspectable"
)

// Auditor starts and cancels probes. Calls are made on the event loop.
type Auditor interface {
	StartProbe(req audit.StartRequest) (*audit.Probe, error)
	CancelProbe(target l2cap.Address, requestor string) error
}

// Executor runs fn on the goroutine that owns the Auditor.
type Executor interface {
	Do(ctx context.Context, fn func() error) error
}

// Exporter is the part of *dbus.Conn used to publish the service.
type Exporter interface {
	Export(v interface{}, path dbus.ObjectPath, iface string) error
}

// ServiceConfig configures the exported object.
type ServiceConfig struct {
	AdapterPath  string
	Experimental bool
	CallTimeout  time.Duration
}

// Service implements org.bluez.Test.
type Service struct {
	auditor Auditor
	exec    Executor
	cfg     ServiceConfig
	logger  logger.Logger
}

func NewService(cfg ServiceConfig, auditor Auditor, exec Executor, log logger.Logger) *Service {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}

	return &Service{
		auditor: auditor,
		exec:    exec,
		cfg:     cfg,
		logger:  log,
	}
}

// Export publishes the Test interface and its introspection data at path.
func (s *Service) Export(conn Exporter, path dbus.ObjectPath) error {
	if err := conn.Export(s, path, TestInterface); err != nil {
		return err
	}

	node := &introspect.Node{
		Name: string(path),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{Name: TestInterface, Methods: introspect.Methods(s)},
		},
	}

	return conn.Export(introspect.NewIntrospectable(node), path, introspectableIface)
}

// AuditRemoteDevice admits an audit of address for the caller. It replies as
// soon as the audit is registered.
func (s *Service) AuditRemoteDevice(sender dbus.Sender, address string) *dbus.Error {
	if !s.cfg.Experimental {
		return unknownMethod("AuditRemoteDevice")
	}

	target, err := l2cap.ParseAddress(address)
	if err != nil {
		return toDBusError(err)
	}

	req := audit.StartRequest{
		Target:      target,
		Requestor:   string(sender),
		AdapterPath: s.cfg.AdapterPath,
	}

	err = s.do(func() error {
		_, err := s.auditor.StartProbe(req)

		return err
	})
	if err != nil {
		s.logger.Debug().Err(err).
			Str("sender", string(sender)).
			Str("target", address).
			Msg("AuditRemoteDevice rejected")

		return toDBusError(err)
	}

	return nil
}

// CancelAuditRemoteDevice stops the caller's audit of address.
func (s *Service) CancelAuditRemoteDevice(sender dbus.Sender, address string) *dbus.Error {
	if !s.cfg.Experimental {
		return unknownMethod("CancelAuditRemoteDevice")
	}

	target, err := l2cap.ParseAddress(address)
	if err != nil {
		return toDBusError(err)
	}

	err = s.do(func() error {
		return s.auditor.CancelProbe(target, string(sender))
	})
	if err != nil {
		s.logger.Debug().Err(err).
			Str("sender", string(sender)).
			Str("target", address).
			Msg("CancelAuditRemoteDevice rejected")

		return toDBusError(err)
	}

	return nil
}

func (s *Service) do(fn func() error) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CallTimeout)
	defer cancel()

	return s.exec.Do(ctx, fn)
}
