// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package nlq

import "strconv"

// CompareOp is a numeric comparison operator for local post-filtering.
type CompareOp string

const (
	OpLess         CompareOp = "lt"
	OpLessEqual    CompareOp = "le"
	OpGreater      CompareOp = "gt"
	OpGreaterEqual CompareOp = "ge"
)

// FieldComparison is a declarative row predicate comparing two numeric
// fields of the same row. OData cannot express field-vs-field comparisons,
// so intents like "items below minimum stock" fetch unfiltered and apply
// this locally. Apply never issues network calls.
type FieldComparison struct {
	Left  string    `json:"left"`
	Op    CompareOp `json:"op"`
	Right string    `json:"right"`
}

// Apply returns the rows satisfying the comparison. Rows where either field
// is missing or non-numeric are dropped: a row that cannot be evaluated
// cannot be claimed to match.
func (fc FieldComparison) Apply(rows []map[string]any) []map[string]any {
	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		left, okL := numericField(row, fc.Left)
		right, okR := numericField(row, fc.Right)
		if !okL || !okR {
			continue
		}
		if fc.compare(left, right) {
			out = append(out, row)
		}
	}
	return out
}

func (fc FieldComparison) compare(left, right float64) bool {
	switch fc.Op {
	case OpLess:
		return left < right
	case OpLessEqual:
		return left <= right
	case OpGreater:
		return left > right
	case OpGreaterEqual:
		return left >= right
	default:
		return false
	}
}

// numericField coerces a row value to float64. JSON decoding yields float64
// for numbers, but the upstream occasionally serializes numerics as strings.
func numericField(row map[string]any, field string) (float64, bool) {
	v, ok := row[field]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		parsed, err := strconv.ParseFloat(n, 64)
		return parsed, err == nil
	default:
		return 0, false
	}
}
