// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry folds unordered batches of HTTP span events into
// running per-endpoint latency and availability statistics.
//
// Merging works on raw accumulators (count, success count, duration
// sum, min, max) reconstructed from the previously stored derived
// fields, so batches are associative and commutative: N batches merged
// in any order produce the same table as one combined batch. There is
// no per-batch idempotency key, so replaying an identical batch
// double-counts; that boundary is documented upstream, not hidden here.
package telemetry

import (
	"math"
	"net/url"

	"github.com/AleutianAI/AleutianPulse/services/pulse/datatypes"
)

// slowThresholdMs marks an endpoint slow when its average latency
// exceeds it.
const slowThresholdMs = 200

// accumulator holds the raw mergeable counters for one (method, route)
// key. Derived statistics are recomputed from these after every merge.
type accumulator struct {
	method       string
	route        string
	count        int
	successCount int
	durationSum  float64
	min          float64
	max          float64
	minSet       bool
}

// fromAggregate reconstructs an accumulator from stored derived fields.
func fromAggregate(a datatypes.EndpointAggregate) *accumulator {
	count := a.HitCount
	if count < 1 {
		count = 1
	}
	return &accumulator{
		method:       a.Method,
		route:        a.Endpoint,
		count:        count,
		successCount: int(math.Round(float64(a.SuccessRatePercent) / 100 * float64(count))),
		durationSum:  float64(a.AvgLatencyMs) * float64(count),
		min:          float64(a.BestLatencyMs),
		max:          float64(a.P95LatencyMs),
		minSet:       a.BestLatencyMs > 0,
	}
}

// observe folds one event into the accumulator.
func (acc *accumulator) observe(e datatypes.SpanEvent) {
	acc.count++
	acc.durationSum += e.DurationMs
	if !acc.minSet || e.DurationMs < acc.min {
		acc.min = e.DurationMs
		acc.minSet = true
	}
	if e.DurationMs > acc.max {
		acc.max = e.DurationMs
	}
	if e.Status >= 200 && e.Status < 400 {
		acc.successCount++
	}
}

// derive recomputes the stored statistics row from the raw counters.
func (acc *accumulator) derive() datatypes.EndpointAggregate {
	avg := acc.durationSum / float64(acc.count)
	best := 0
	if acc.minSet {
		best = int(math.Round(acc.min))
	}
	return datatypes.EndpointAggregate{
		Endpoint:           acc.route,
		Method:             acc.method,
		AvgLatencyMs:       int(math.Round(avg)),
		BestLatencyMs:      best,
		P95LatencyMs:       int(math.Round(acc.max)),
		HitCount:           acc.count,
		SuccessRatePercent: int(math.Round(float64(acc.successCount) / float64(acc.count) * 100)),
		IsSlow:             avg > slowThresholdMs,
	}
}

// Merge folds a batch of span events into the session's existing
// endpoint table and returns the full recomputed table (every endpoint,
// not only the ones this batch touched).
//
// Non-HTTP events are skipped. A batch with zero HTTP-shaped events
// returns the table unchanged. Routes that parse as URLs are normalized
// to their path component; unparsable routes keep the literal string so
// keys stay comparable across batches.
func Merge(existing []datatypes.EndpointAggregate, events []datatypes.SpanEvent) []datatypes.EndpointAggregate {
	table := make(map[string]*accumulator, len(existing))
	order := make([]string, 0, len(existing))

	for _, agg := range existing {
		key := agg.Key()
		table[key] = fromAggregate(agg)
		order = append(order, key)
	}

	for _, e := range events {
		if !e.IsHTTP() {
			continue
		}
		method := e.Method
		if method == "" {
			method = "GET"
		}
		route := normalizeRoute(e.URL)
		key := method + " " + route

		acc, ok := table[key]
		if !ok {
			acc = &accumulator{method: method, route: route}
			table[key] = acc
			order = append(order, key)
		}
		acc.observe(e)
	}

	result := make([]datatypes.EndpointAggregate, 0, len(order))
	for _, key := range order {
		result = append(result, table[key].derive())
	}
	return result
}

// normalizeRoute reduces a full URL to its path component. Inputs that
// do not parse as URLs are kept verbatim.
func normalizeRoute(raw string) string {
	if raw == "" {
		return "unknown"
	}
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" {
		return raw
	}
	return u.Path
}
