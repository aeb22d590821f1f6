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

	"github.com/carverauto/l2audit/pkg/l2cap"
)

// Registry holds live probes in admission order. It is not safe for
// concurrent use; the engine only touches it from the event loop.
type Registry struct {
	probes []*Probe
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Find returns the probe for addr, or nil.
func (r *Registry) Find(addr l2cap.Address) *Probe {
	for _, p := range r.probes {
		if p.Target == addr {
			return p
		}
	}

	return nil
}

func (r *Registry) Insert(p *Probe) error {
	if r.Find(p.Target) != nil {
		return fmt.Errorf("%w: %s", ErrDuplicateTarget, p.Target)
	}

	r.probes = append(r.probes, p)

	return nil
}

// Remove detaches p without releasing anything it owns.
func (r *Registry) Remove(p *Probe) bool {
	for i, cur := range r.probes {
		if cur == p {
			r.probes = append(r.probes[:i], r.probes[i+1:]...)

			return true
		}
	}

	return false
}

// AnyConnecting reports whether some probe holds a connection.
func (r *Registry) AnyConnecting() bool {
	for _, p := range r.probes {
		if p.conn != nil {
			return true
		}
	}

	return false
}

// NextQueued returns the oldest probe still waiting for the gate.
func (r *Registry) NextQueued() *Probe {
	for _, p := range r.probes {
		if p.conn == nil {
			return p
		}
	}

	return nil
}

func (r *Registry) Len() int {
	return len(r.probes)
}

// Probes returns a copy of the registry contents.
func (r *Registry) Probes() []*Probe {
	out := make([]*Probe, len(r.probes))
	copy(out, r.probes)

	return out
}
