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
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName            = "l2audit.audit"
	metricProbesStarted  = "l2audit.probes.started"
	metricProbesFinished = "l2audit.probes.finished"
	metricProbesActive   = "l2audit.probes.active"
	metricProbeDuration  = "l2audit.probe.duration"
	attributeOutcome     = "outcome"
	attributeProbeState  = "state"
	attributeProbeQueued = "queued"
)

type engineMetrics struct {
	started  metric.Int64Counter
	finished metric.Int64Counter
	active   metric.Int64UpDownCounter
	duration metric.Float64Histogram
}

func newEngineMetrics(meter metric.Meter) (*engineMetrics, error) {
	if meter == nil {
		meter = otel.Meter(meterName)
	}

	started, err := meter.Int64Counter(
		metricProbesStarted,
		metric.WithDescription("Audits admitted"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", metricProbesStarted, err)
	}

	finished, err := meter.Int64Counter(
		metricProbesFinished,
		metric.WithDescription("Audits torn down, by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", metricProbesFinished, err)
	}

	active, err := meter.Int64UpDownCounter(
		metricProbesActive,
		metric.WithDescription("Audits currently registered"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", metricProbesActive, err)
	}

	duration, err := meter.Float64Histogram(
		metricProbeDuration,
		metric.WithDescription("Time from admission to teardown"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", metricProbeDuration, err)
	}

	return &engineMetrics{
		started:  started,
		finished: finished,
		active:   active,
		duration: duration,
	}, nil
}

func (m *engineMetrics) recordStart(queued bool) {
	ctx := context.Background()

	m.started.Add(ctx, 1, metric.WithAttributes(attribute.Bool(attributeProbeQueued, queued)))
	m.active.Add(ctx, 1)
}

func (m *engineMetrics) recordFinish(outcome Outcome, state State, elapsed time.Duration) {
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String(attributeOutcome, outcome.String()),
		attribute.String(attributeProbeState, state.String()),
	)

	m.finished.Add(ctx, 1, attrs)
	m.active.Add(ctx, -1)
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
}
