// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "errors"

// Sentinel errors shared across the pipeline layers. Handlers map these
// onto HTTP status codes; services return them wrapped with context via
// fmt.Errorf("%w") so errors.Is still matches.
var (
	// ErrNotFound indicates the requested session does not exist.
	ErrNotFound = errors.New("session not found")

	// ErrUnauthorized indicates the session exists but belongs to a
	// different owner. Surfaced before any session data is exposed.
	ErrUnauthorized = errors.New("not authorized for this session")

	// ErrValidation indicates bad caller input (missing URL, bad ids).
	// Always surfaced synchronously, before any state mutation.
	ErrValidation = errors.New("invalid request")

	// ErrMissingMetrics indicates an operation that requires audit
	// metrics was invoked against a session that has none yet.
	ErrMissingMetrics = errors.New("session has no performance metrics")
)
