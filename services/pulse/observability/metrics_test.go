// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestStageStarted_TracksActiveAndFailures(t *testing.T) {
	failuresBefore := testutil.ToFloat64(stageFailures.WithLabelValues(StageAudit))

	done := StageStarted(StageAudit)
	assert.Equal(t, 1.0, testutil.ToFloat64(activeStages.WithLabelValues(StageAudit)))

	done(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(activeStages.WithLabelValues(StageAudit)))
	assert.Equal(t, failuresBefore+1, testutil.ToFloat64(stageFailures.WithLabelValues(StageAudit)))

	// A successful stage leaves the failure counter alone.
	done = StageStarted(StageAudit)
	done(true)
	assert.Equal(t, failuresBefore+1, testutil.ToFloat64(stageFailures.WithLabelValues(StageAudit)))
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(telemetryEvents)
	TelemetryEventsAccepted(7)
	assert.Equal(t, before+7, testutil.ToFloat64(telemetryEvents))

	beforeDocs := testutil.ToFloat64(insightDocs)
	InsightDocsIngested(3)
	assert.Equal(t, beforeDocs+3, testutil.ToFloat64(insightDocs))

	beforeAlerts := testutil.ToFloat64(alertsSent)
	AlertSent()
	assert.Equal(t, beforeAlerts+1, testutil.ToFloat64(alertsSent))

	beforeSessions := testutil.ToFloat64(sessionsStarted)
	SessionStarted()
	assert.Equal(t, beforeSessions+1, testutil.ToFloat64(sessionsStarted))
}
