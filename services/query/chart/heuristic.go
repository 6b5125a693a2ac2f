// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package chart recommends a visualization for a result set. An LLM-backed
// recommender looks at a sample of the data; a pure heuristic stands in
// whenever the model is unavailable or answers nonsense, so a query response
// always carries a usable recommendation.
package chart

import (
	"regexp"
	"sort"
	"strings"
)

// Kind enumerates the chart types the UI knows how to render.
type Kind string

const (
	KindTable Kind = "table"
	KindBar   Kind = "bar"
	KindLine  Kind = "line"
	KindPie   Kind = "pie"
)

// ValidKind reports whether s names a renderable chart type.
func ValidKind(s string) bool {
	switch Kind(s) {
	case KindTable, KindBar, KindLine, KindPie:
		return true
	}
	return false
}

// Recommendation pairs a chart type with the fields to plot. XField or
// YField may be empty for table recommendations.
type Recommendation struct {
	Kind   Kind   `json:"kind"`
	XField string `json:"x_field,omitempty"`
	YField string `json:"y_field,omitempty"`
	// Reason is a short human-readable justification for the pick.
	Reason string `json:"reason,omitempty"`
}

var dateFieldRe = regexp.MustCompile(`(?i)(date|time|createdat|updatedat)$`)

// Likely date values: "2024-05-01", "2024-05-01T00:00:00Z".
var dateValueRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)

// Heuristic derives a recommendation from the shape of the rows alone.
// Preference order: a date field plus a numeric field makes a line chart, a
// small categorical field plus a numeric field makes a pie chart, any numeric
// field makes a bar chart, everything else renders as a table.
func Heuristic(rows []map[string]any) Recommendation {
	if len(rows) == 0 {
		return Recommendation{Kind: KindTable, Reason: "no rows to plot"}
	}

	fields := fieldNames(rows)
	numeric := firstWhere(fields, rows, isNumericField)

	if date := firstWhere(fields, rows, isDateField); date != "" && numeric != "" {
		return Recommendation{
			Kind: KindLine, XField: date, YField: numeric,
			Reason: "numeric values over a date field",
		}
	}

	if cat := smallCategoricalField(fields, rows); cat != "" && numeric != "" && cat != numeric {
		return Recommendation{
			Kind: KindPie, XField: cat, YField: numeric,
			Reason: "few categories with numeric values",
		}
	}

	if numeric != "" {
		x := firstWhere(fields, rows, isStringField)
		return Recommendation{
			Kind: KindBar, XField: x, YField: numeric,
			Reason: "numeric values without a time axis",
		}
	}

	return Recommendation{Kind: KindTable, Reason: "no numeric field found"}
}

// fieldNames returns the union of keys across rows, sorted for determinism.
func fieldNames(rows []map[string]any) []string {
	seen := map[string]bool{}
	for _, row := range rows {
		for k := range row {
			seen[k] = true
		}
	}
	names := make([]string, 0, len(seen))
	for k := range seen {
		if strings.HasPrefix(k, "@") || strings.HasPrefix(k, "odata.") {
			continue
		}
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func firstWhere(fields []string, rows []map[string]any, pred func(string, []map[string]any) bool) string {
	for _, f := range fields {
		if pred(f, rows) {
			return f
		}
	}
	return ""
}

func isNumericField(field string, rows []map[string]any) bool {
	found := false
	for _, row := range rows {
		v, ok := row[field]
		if !ok || v == nil {
			continue
		}
		switch v.(type) {
		case float64, int, int64:
			found = true
		default:
			return false
		}
	}
	return found
}

func isDateField(field string, rows []map[string]any) bool {
	if !dateFieldRe.MatchString(field) {
		return false
	}
	for _, row := range rows {
		if s, ok := row[field].(string); ok {
			return dateValueRe.MatchString(s)
		}
	}
	return false
}

func isStringField(field string, rows []map[string]any) bool {
	for _, row := range rows {
		if _, ok := row[field].(string); ok {
			return !isDateField(field, rows)
		}
	}
	return false
}

// smallCategoricalField finds a string field with 2..8 distinct values, the
// range where a pie chart stays legible.
func smallCategoricalField(fields []string, rows []map[string]any) string {
	for _, f := range fields {
		if !isStringField(f, rows) {
			continue
		}
		distinct := map[string]bool{}
		for _, row := range rows {
			if s, ok := row[f].(string); ok {
				distinct[s] = true
			}
		}
		if len(distinct) >= 2 && len(distinct) <= 8 && len(distinct) < len(rows) {
			return f
		}
	}
	return ""
}
