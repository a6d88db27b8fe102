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

// InsightCategory classifies an AI recommendation by the layer it
// targets.
type InsightCategory string

const (
	CategoryFrontend  InsightCategory = "Frontend"
	CategoryBackend   InsightCategory = "Backend"
	CategorySEO       InsightCategory = "SEO"
	CategoryTechnical InsightCategory = "Technical"
	CategoryGeneral   InsightCategory = "General"
)

// InsightSeverity ranks how urgent a recommendation is.
type InsightSeverity string

const (
	SeverityLow      InsightSeverity = "low"
	SeverityMedium   InsightSeverity = "medium"
	SeverityHigh     InsightSeverity = "high"
	SeverityCritical InsightSeverity = "critical"
)

// Alertable reports whether the severity crosses the webhook alert
// threshold.
func (s InsightSeverity) Alertable() bool {
	return s == SeverityHigh || s == SeverityCritical
}

// rank orders severities for picking the top finding of a run.
func (s InsightSeverity) rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// MoreSevere reports whether s outranks other.
func (s InsightSeverity) MoreSevere(other InsightSeverity) bool {
	return s.rank() > other.rank()
}

// InsightRecord is one AI-generated optimization recommendation,
// persisted as an element of metrics.ai.
type InsightRecord struct {
	Title        string          `json:"title"`
	Category     InsightCategory `json:"category"`
	Severity     InsightSeverity `json:"severity"`
	Description  string          `json:"description"`
	SuggestedFix string          `json:"suggestedFix"`
}

// InsightSections is the three-section grounded answer produced by the
// insight stage. Each section holds single-line "problem → fix"
// bullets; a section the model omitted carries the NoInsights sentinel
// so downstream consumers always see exactly three sections.
type InsightSections struct {
	Backend   string `json:"backend"`
	Frontend  string `json:"frontend"`
	Technical string `json:"technical"`
}

// NoInsights is the sentinel value for a section the model did not
// populate.
const NoInsights = "No insights found."
