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

// Package adapter tracks the local controller activity that blocks new audits.
package adapter

import (
	"sync"

	"github.com/carverauto/l2audit/pkg/l2cap"
)

// State holds discovery, bonding and PIN request flags. It is safe for
// concurrent use.
type State struct {
	mu          sync.RWMutex
	discovering bool
	periodic    bool
	inquiryIdle bool
	bonding     bool
	pins        map[l2cap.Address]struct{}
}

func NewState() *State {
	return &State{
		inquiryIdle: true,
		pins:        make(map[l2cap.Address]struct{}),
	}
}

func (s *State) SetDiscovering(active bool) {
	s.mu.Lock()
	s.discovering = active
	s.mu.Unlock()
}

// SetPeriodicDiscovery records periodic inquiry. It only conflicts with an
// audit while an inquiry round is actually running.
func (s *State) SetPeriodicDiscovery(active, inquiryIdle bool) {
	s.mu.Lock()
	s.periodic = active
	s.inquiryIdle = inquiryIdle
	s.mu.Unlock()
}

func (s *State) SetBonding(active bool) {
	s.mu.Lock()
	s.bonding = active
	s.mu.Unlock()
}

func (s *State) AddPinRequest(addr l2cap.Address) {
	s.mu.Lock()
	s.pins[addr] = struct{}{}
	s.mu.Unlock()
}

func (s *State) RemovePinRequest(addr l2cap.Address) {
	s.mu.Lock()
	delete(s.pins, addr)
	s.mu.Unlock()
}

func (s *State) DiscoveryActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.discovering || (s.periodic && !s.inquiryIdle)
}

func (s *State) BondingActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.bonding
}

func (s *State) PinRequestPending(addr l2cap.Address) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.pins[addr]

	return ok
}
