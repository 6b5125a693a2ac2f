// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package chart

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/b1query/services/llm"
	"github.com/AleutianAI/b1query/services/query/nlq"
)

// sampleSize caps how many rows are serialized into the prompt. The model
// only needs the shape of the data, not all of it.
const sampleSize = 5

// Recommender asks an LLM to pick a chart for the result set, falling back
// to the heuristic on any failure. Recommend never returns an error: a chart
// recommendation is decoration, not a reason to fail the query.
type Recommender struct {
	llm llm.LLMClient
}

func NewRecommender(client llm.LLMClient) *Recommender {
	return &Recommender{llm: client}
}

// Recommend picks a chart for rows answering question.
func (r *Recommender) Recommend(ctx context.Context, question string, rows []map[string]any) Recommendation {
	if r.llm == nil || len(rows) == 0 {
		return Heuristic(rows)
	}

	prompt, err := buildPrompt(question, rows)
	if err != nil {
		slog.Warn("Failed to build chart prompt, using heuristic", "error", err)
		return Heuristic(rows)
	}

	raw, err := r.llm.Generate(ctx, prompt, llm.GenerationParams{
		Temperature: llm.Float32Ptr(0.0),
		MaxTokens:   llm.IntPtr(256),
	})
	if err != nil {
		slog.Warn("Chart recommendation LLM call failed, using heuristic", "error", err)
		return Heuristic(rows)
	}

	var rec Recommendation
	if err := json.Unmarshal([]byte(nlq.StripCodeFences(raw)), &rec); err != nil {
		slog.Warn("Chart recommendation was not valid JSON, using heuristic", "error", err)
		return Heuristic(rows)
	}
	if !ValidKind(string(rec.Kind)) {
		slog.Warn("Chart recommendation named an unknown kind, using heuristic", "kind", rec.Kind)
		return Heuristic(rows)
	}
	// A plot needs axes; a table does not.
	if rec.Kind != KindTable && rec.YField == "" {
		return Heuristic(rows)
	}
	return rec
}

func buildPrompt(question string, rows []map[string]any) (string, error) {
	sample := rows
	if len(sample) > sampleSize {
		sample = sample[:sampleSize]
	}
	sampleJSON, err := json.Marshal(sample)
	if err != nil {
		return "", fmt.Errorf("marshal row sample: %w", err)
	}

	var b strings.Builder
	b.WriteString("Pick the best chart for this query result. Valid kinds: table, bar, line, pie.\n")
	b.WriteString(`Respond with only a JSON object: {"kind": "<kind>", "x_field": "<field or empty>", "y_field": "<field or empty>", "reason": "<short reason>"}`)
	b.WriteString("\n\nQuestion: ")
	b.WriteString(question)
	b.WriteString(fmt.Sprintf("\nTotal rows: %d\nSample rows: ", len(rows)))
	b.Write(sampleJSON)
	return b.String(), nil
}
