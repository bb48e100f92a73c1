// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bridge

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce sync.Once

	runCounter      metric.Int64Counter
	failureCounter  metric.Int64Counter
	runDurationHist metric.Float64Histogram
)

func initMetrics() {
	metricsOnce.Do(func() {
		meter := otel.Meter("netweave/bridge")

		runCounter, _ = meter.Int64Counter(
			"netweave.bridge.runs",
			metric.WithDescription("Engine subprocess runs started"),
		)
		failureCounter, _ = meter.Int64Counter(
			"netweave.bridge.failures",
			metric.WithDescription("Engine subprocess runs that ended in error"),
		)
		runDurationHist, _ = meter.Float64Histogram(
			"netweave.bridge.run_duration_seconds",
			metric.WithDescription("Wall-clock engine run duration"),
			metric.WithUnit("s"),
		)
	})
}

func recordRun(ctx context.Context, script string) {
	initMetrics()
	if runCounter != nil {
		runCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("script", script)))
	}
}

func recordFailure(ctx context.Context, script, reason string) {
	initMetrics()
	if failureCounter != nil {
		failureCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("script", script),
			attribute.String("reason", reason),
		))
	}
}

func recordDuration(ctx context.Context, script string, seconds float64) {
	initMetrics()
	if runDurationHist != nil {
		runDurationHist.Record(ctx, seconds, metric.WithAttributes(attribute.String("script", script)))
	}
}
