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

package logger

import (
	"io"

	"github.com/rs/zerolog"
)

type Logger interface {
	Trace() *zerolog.Event
	Debug() *zerolog.Event
	Info() *zerolog.Event
	Warn() *zerolog.Event
	Error() *zerolog.Event
	Fatal() *zerolog.Event
	Panic() *zerolog.Event
	With() zerolog.Context
	WithComponent(component string) zerolog.Logger
	WithFields(fields map[string]interface{}) zerolog.Logger
	SetLevel(level zerolog.Level)
	SetDebug(debug bool)
}

// ZerologAdapter exposes a zerolog.Logger through the Logger interface.
type ZerologAdapter struct {
	logger zerolog.Logger
}

// NewZerologAdapter wraps l.
func NewZerologAdapter(l zerolog.Logger) *ZerologAdapter {
	return &ZerologAdapter{logger: l}
}

// Component derives a Logger tagged with a component field.
func Component(l Logger, component string) Logger {
	return NewZerologAdapter(l.WithComponent(component))
}

func (z *ZerologAdapter) Trace() *zerolog.Event { return z.logger.Trace() }
func (z *ZerologAdapter) Debug() *zerolog.Event { return z.logger.Debug() }
func (z *ZerologAdapter) Info() *zerolog.Event  { return z.logger.Info() }
func (z *ZerologAdapter) Warn() *zerolog.Event  { return z.logger.Warn() }
func (z *ZerologAdapter) Error() *zerolog.Event { return z.logger.Error() }
func (z *ZerologAdapter) Fatal() *zerolog.Event { return z.logger.Fatal() }
func (z *ZerologAdapter) Panic() *zerolog.Event { return z.logger.Panic() }
func (z *ZerologAdapter) With() zerolog.Context { return z.logger.With() }

func (z *ZerologAdapter) WithComponent(component string) zerolog.Logger {
	return z.logger.With().Str("component", component).Logger()
}

func (z *ZerologAdapter) WithFields(fields map[string]interface{}) zerolog.Logger {
	return z.logger.With().Fields(fields).Logger()
}

func (z *ZerologAdapter) SetLevel(level zerolog.Level) {
	z.logger = z.logger.Level(level)
}

func (z *ZerologAdapter) SetDebug(debug bool) {
	if debug {
		z.SetLevel(zerolog.DebugLevel)
	} else {
		z.SetLevel(zerolog.InfoLevel)
	}
}

// NewTestLogger creates a no-op logger for testing that discards all output
func NewTestLogger() Logger {
	return NewZerologAdapter(zerolog.New(io.Discard).Level(zerolog.Disabled))
}
