// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce sync.Once

	hitCounter  metric.Int64Counter
	missCounter metric.Int64Counter
)

func initMetrics() {
	metricsOnce.Do(func() {
		meter := otel.Meter("netweave/cache")

		hitCounter, _ = meter.Int64Counter(
			"netweave.cache.hits",
			metric.WithDescription("Run cache hits, including coalesced concurrent requests"),
		)
		missCounter, _ = meter.Int64Counter(
			"netweave.cache.misses",
			metric.WithDescription("Run cache misses that triggered an engine invocation"),
		)
	})
}

func recordHit(ctx context.Context) {
	initMetrics()
	if hitCounter != nil {
		hitCounter.Add(ctx, 1)
	}
}

func recordMiss(ctx context.Context) {
	initMetrics()
	if missCounter != nil {
		missCounter.Add(ctx, 1)
	}
}
