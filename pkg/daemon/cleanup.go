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
	"context"

	"go.uber.org/multierr"
)

// cleanupStack runs release functions in reverse registration order.
type cleanupStack struct {
	fns []func(context.Context) error
}

func (s *cleanupStack) push(fn func() error) {
	s.pushCtx(func(context.Context) error { return fn() })
}

func (s *cleanupStack) pushCtx(fn func(context.Context) error) {
	s.fns = append(s.fns, fn)
}

// run calls every function, even after failures, and empties the stack.
func (s *cleanupStack) run(ctx context.Context) error {
	var err error

	for i := len(s.fns) - 1; i >= 0; i-- {
		err = multierr.Append(err, s.fns[i](ctx))
	}

	s.fns = nil

	return err
}
