// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package insight

import (
	"regexp"
	"strings"

	"github.com/AleutianAI/AleutianPulse/services/pulse/datatypes"
)

var sectionLabels = []string{"Backend", "Frontend", "Technical"}

// labelPatterns anchors each section label at a line start, optionally
// wrapped in markdown decoration. A label word inside a bullet does not
// match, so advice mentioning "frontend" cannot split a section.
var labelPatterns = func() map[string]*regexp.Regexp {
	patterns := make(map[string]*regexp.Regexp, len(sectionLabels))
	for _, label := range sectionLabels {
		patterns[label] = regexp.MustCompile(`(?mi)^[#* \t]*` + label + `\b[:* \t]*`)
	}
	return patterns
}()

// ParseSections splits a model answer into the three named sections.
//
// The parser anchors on the section labels rather than on markdown
// structure, so "Backend:", "**Backend**" and "## Backend" all work.
// A label the model omitted yields the NoInsights sentinel; callers
// always get exactly three populated sections.
func ParseSections(answer string) datatypes.InsightSections {
	found := make(map[string]string, len(sectionLabels))

	type anchor struct {
		label    string
		labelIdx int // where the label line begins
		start    int // content start, after the label's colon and decoration
	}
	var anchors []anchor

	for _, label := range sectionLabels {
		loc := labelPatterns[label].FindStringIndex(answer)
		if loc == nil {
			continue
		}
		anchors = append(anchors, anchor{label: label, labelIdx: loc[0], start: loc[1]})
	}

	for _, a := range anchors {
		end := len(answer)
		for _, b := range anchors {
			if b.labelIdx > a.start && b.labelIdx < end {
				end = b.labelIdx
			}
		}
		content := strings.TrimSpace(strings.Trim(answer[a.start:end], "*# \n\t-"))
		if content == "" {
			content = datatypes.NoInsights
		}
		found[a.label] = content
	}

	get := func(label string) string {
		if v, ok := found[label]; ok {
			return v
		}
		return datatypes.NoInsights
	}
	return datatypes.InsightSections{
		Backend:   get("Backend"),
		Frontend:  get("Frontend"),
		Technical: get("Technical"),
	}
}

// RecordsFromSections converts section bullets into structured insight
// records. Bullets are single-line "problem → fix" pairs; a bullet
// without the arrow becomes a record with the whole line as the title.
func RecordsFromSections(sections datatypes.InsightSections) []datatypes.InsightRecord {
	var records []datatypes.InsightRecord
	for _, part := range []struct {
		category datatypes.InsightCategory
		body     string
	}{
		{datatypes.CategoryBackend, sections.Backend},
		{datatypes.CategoryFrontend, sections.Frontend},
		{datatypes.CategoryTechnical, sections.Technical},
	} {
		if part.body == datatypes.NoInsights {
			continue
		}
		for _, line := range strings.Split(part.body, "\n") {
			line = strings.TrimSpace(strings.TrimLeft(line, "-*• \t"))
			if line == "" {
				continue
			}
			records = append(records, recordFromBullet(part.category, line))
		}
	}
	return records
}

func recordFromBullet(category datatypes.InsightCategory, line string) datatypes.InsightRecord {
	problem, fix := line, ""
	for _, arrow := range []string{"→", "->"} {
		if idx := strings.Index(line, arrow); idx >= 0 {
			problem = strings.TrimSpace(line[:idx])
			fix = strings.TrimSpace(line[idx+len(arrow):])
			break
		}
	}
	return datatypes.InsightRecord{
		Title:        problem,
		Category:     category,
		Severity:     severityFor(line),
		Description:  line,
		SuggestedFix: fix,
	}
}

// severityFor is a keyword heuristic over the bullet text. Findings
// that mention outright failures outrank latency complaints; anything
// else defaults to medium.
func severityFor(line string) datatypes.InsightSeverity {
	lower := strings.ToLower(line)
	switch {
	case strings.Contains(lower, "critical") || strings.Contains(lower, "outage") || strings.Contains(lower, "crash"):
		return datatypes.SeverityCritical
	case strings.Contains(lower, "fail") || strings.Contains(lower, "error") || strings.Contains(lower, "5xx") || strings.Contains(lower, "timeout"):
		return datatypes.SeverityHigh
	case strings.Contains(lower, "minor") || strings.Contains(lower, "consider") || strings.Contains(lower, "optional"):
		return datatypes.SeverityLow
	default:
		return datatypes.SeverityMedium
	}
}
