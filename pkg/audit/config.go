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
	"fmt"
	"time"

	"github.com/carverauto/l2audit/pkg/l2cap"
	"github.com/carverauto/l2audit/pkg/models"
)

const DefaultTimeout = 2 * time.Second

// Config controls probe behavior.
type Config struct {
	// AdapterAddress is the local controller to bind to. Empty binds to any.
	AdapterAddress string `json:"adapter_address" yaml:"adapter_address"`
	// Timeout bounds every wait on the network.
	Timeout models.Duration `json:"timeout" yaml:"timeout"`
	// RejectWhenBusy refuses new probes while another one holds the
	// connection instead of queueing them.
	RejectWhenBusy bool `json:"reject_when_busy" yaml:"reject_when_busy"`
}

func DefaultConfig() Config {
	return Config{Timeout: models.Duration(DefaultTimeout)}
}

func (c *Config) Validate() error {
	if c.Timeout < 0 {
		return fmt.Errorf("%w: negative timeout %s", ErrInvalidConfig, c.Timeout.Std())
	}

	if _, err := c.LocalAddress(); err != nil {
		return fmt.Errorf("%w: adapter_address: %w", ErrInvalidConfig, err)
	}

	return nil
}

// LocalAddress parses AdapterAddress.
func (c *Config) LocalAddress() (l2cap.Address, error) {
	if c.AdapterAddress == "" {
		return l2cap.AddrAny, nil
	}

	return l2cap.ParseAddress(c.AdapterAddress)
}

func (c *Config) timeout() time.Duration {
	if c.Timeout == 0 {
		return DefaultTimeout
	}

	return c.Timeout.Std()
}
