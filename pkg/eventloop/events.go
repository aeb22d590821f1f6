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

package eventloop

import "strings"

// Events is a set of readiness conditions.
type Events uint8

const (
	Readable Events = 1 << iota
	Writable
	Error
	Hangup
)

// Failed reports whether the set carries an error or hangup condition.
func (e Events) Failed() bool {
	return e&(Error|Hangup) != 0
}

func (e Events) String() string {
	var parts []string

	for _, n := range []struct {
		ev   Events
		name string
	}{{Readable, "readable"}, {Writable, "writable"}, {Error, "error"}, {Hangup, "hangup"}} {
		if e&n.ev != 0 {
			parts = append(parts, n.name)
		}
	}

	if len(parts) == 0 {
		return "none"
	}

	return strings.Join(parts, "|")
}

// Handler receives the readiness conditions that triggered a watch.
type Handler func(Events)

// Watch is a one-shot readiness registration. Release is idempotent and must
// be called on the loop goroutine.
type Watch interface {
	Release()
}
