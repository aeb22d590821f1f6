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

//go:build !linux

package eventloop

import "github.com/carverauto/l2audit/pkg/logger"

// Poller is unavailable on this platform.
type Poller struct{}

func NewPoller(_ Dispatcher, _ logger.Logger) (*Poller, error) {
	return nil, ErrUnsupportedPlatform
}

func (*Poller) Start() {}

func (*Poller) Watch(_ int, _ Events, _ Handler) (Watch, error) {
	return nil, ErrUnsupportedPlatform
}

func (*Poller) Len() int { return 0 }

func (*Poller) Close() error { return nil }
