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

package daemon

import (
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"

	"github.com/carverauto/l2audit/pkg/audit"
	"github.com/carverauto/l2audit/pkg/logger"
	"github.com/carverauto/l2audit/pkg/models"
)

const (
	BusSystem  = "system"
	BusSession = "session"

	defaultAdapterPath = "/org/bluez/hci0"
	defaultQueueSize   = 256
)

var errInvalidConfig = errors.New("invalid daemon configuration")

// Config is the l2audit configuration file.
type Config struct {
	// Bus selects the system or session bus.
	Bus string `json:"bus" yaml:"bus"`

	// BusName is requested on the bus when set.
	BusName string `json:"bus_name" yaml:"bus_name"`

	// ObjectPath hosts the Test interface. Defaults to AdapterPath.
	ObjectPath string `json:"object_path" yaml:"object_path"`

	// Experimental enables AuditRemoteDevice and CancelAuditRemoteDevice.
	Experimental bool `json:"experimental" yaml:"experimental"`

	// MonitorAdapter follows Adapter1.Discovering for admission control.
	MonitorAdapter bool `json:"monitor_adapter" yaml:"monitor_adapter"`

	AdapterPath string                `json:"adapter_path" yaml:"adapter_path"`
	QueueSize   int                   `json:"queue_size" yaml:"queue_size"`
	CallTimeout models.Duration       `json:"call_timeout" yaml:"call_timeout"`
	Audit       audit.Config          `json:"audit" yaml:"audit"`
	Logging     *logger.Config        `json:"logging" yaml:"logging"`
	Metrics     *logger.MetricsConfig `json:"metrics" yaml:"metrics"`
}

// DefaultConfig returns a config for the system bus and hci0.
func DefaultConfig() *Config {
	return &Config{
		Bus:            BusSystem,
		AdapterPath:    defaultAdapterPath,
		ObjectPath:     defaultAdapterPath,
		MonitorAdapter: true,
		QueueSize:      defaultQueueSize,
		Audit:          audit.DefaultConfig(),
	}
}

func (c *Config) applyDefaults() {
	if c.Bus == "" {
		c.Bus = BusSystem
	}

	if c.AdapterPath == "" {
		c.AdapterPath = defaultAdapterPath
	}

	if c.ObjectPath == "" {
		c.ObjectPath = c.AdapterPath
	}

	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}

	if c.Audit.Timeout == 0 {
		c.Audit.Timeout = models.Duration(audit.DefaultTimeout)
	}
}

// Validate fills in defaults and checks the result.
func (c *Config) Validate() error {
	c.applyDefaults()

	if c.Bus != BusSystem && c.Bus != BusSession {
		return fmt.Errorf("%w: bus must be %q or %q, got %q", errInvalidConfig, BusSystem, BusSession, c.Bus)
	}

	if !dbus.ObjectPath(c.ObjectPath).IsValid() {
		return fmt.Errorf("%w: invalid object_path %q", errInvalidConfig, c.ObjectPath)
	}

	if !dbus.ObjectPath(c.AdapterPath).IsValid() {
		return fmt.Errorf("%w: invalid adapter_path %q", errInvalidConfig, c.AdapterPath)
	}

	if c.CallTimeout < 0 {
		return fmt.Errorf("%w: negative call_timeout", errInvalidConfig)
	}

	if err := c.Audit.Validate(); err != nil {
		return fmt.Errorf("%w: audit: %w", errInvalidConfig, err)
	}

	return nil
}
