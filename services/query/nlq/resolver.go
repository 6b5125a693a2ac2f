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

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/AleutianAI/b1query/services/llm"
)

// Resolution is the structured query plan derived from a free-text question.
type Resolution struct {
	Resource   string           `json:"resource"`
	Filter     string           `json:"filter"`
	Limit      *int             `json:"limit,omitempty"`
	PostFilter *FieldComparison `json:"post_filter,omitempty"`
	Entity     Entity           `json:"-"`
	// ViaFallback records that keyword matching produced the resource
	// because the model was unavailable or named an unknown entity.
	ViaFallback bool `json:"via_fallback,omitempty"`
}

// Resolver turns natural-language questions into validated query plans.
type Resolver struct {
	llm     llm.LLMClient
	catalog *Catalog
}

func NewResolver(client llm.LLMClient, catalog *Catalog) *Resolver {
	return &Resolver{llm: client, catalog: catalog}
}

var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.-]+)\s*\}\}`)

// SubstituteVars replaces {{name}} placeholders in the question with values
// from vars. Unknown placeholders are left intact so the failure is visible
// downstream rather than silently querying for the literal braces.
func SubstituteVars(question string, vars map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(question, func(match string) string {
		name := placeholderRe.FindStringSubmatch(match)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		return match
	})
}

// Resolve produces a query plan for the question. The LLM is asked first;
// its output is validated against the catalog. Any model failure or
// out-of-catalog answer degrades to keyword matching, never to an error,
// as long as some entity can be matched.
func (r *Resolver) Resolve(ctx context.Context, question string, vars map[string]string) (Resolution, error) {
	question = strings.TrimSpace(SubstituteVars(question, vars))
	if question == "" {
		return Resolution{}, fmt.Errorf("question is empty")
	}

	if res, ok := r.resolveWithModel(ctx, question); ok {
		return res, nil
	}
	if err := ctx.Err(); err != nil {
		return Resolution{}, err
	}

	entity, ok := r.catalog.ResolveByKeywords(question)
	if !ok {
		return Resolution{}, fmt.Errorf("could not map question to a known entity: %q", question)
	}
	slog.Info("Resolved question via keyword fallback", "resource", entity.Name)
	res := Resolution{Resource: entity.Name, Entity: entity, ViaFallback: true}
	res.PostFilter = detectPostFilterIntent(question, entity)
	return res, nil
}

func (r *Resolver) resolveWithModel(ctx context.Context, question string) (Resolution, bool) {
	if r.llm == nil {
		return Resolution{}, false
	}

	prompt := r.buildPrompt(question)
	raw, err := r.llm.Generate(ctx, prompt, llm.GenerationParams{
		Temperature: llm.Float32Ptr(0.0),
		MaxTokens:   llm.IntPtr(512),
	})
	if err != nil {
		slog.Warn("LLM resolution failed, falling back to keywords", "error", err)
		return Resolution{}, false
	}

	var parsed struct {
		Resource string `json:"resource"`
		Filter   string `json:"filter"`
		Limit    *int   `json:"limit"`
	}
	if err := json.Unmarshal([]byte(StripCodeFences(raw)), &parsed); err != nil {
		slog.Warn("LLM returned unparseable JSON, falling back to keywords", "error", err)
		return Resolution{}, false
	}

	entity, ok := r.catalog.Lookup(parsed.Resource)
	if !ok {
		slog.Warn("LLM named an entity outside the catalog, falling back to keywords",
			"resource", parsed.Resource)
		return Resolution{}, false
	}
	if parsed.Limit != nil && *parsed.Limit <= 0 {
		parsed.Limit = nil
	}

	res := Resolution{
		Resource: entity.Name,
		Filter:   strings.TrimSpace(parsed.Filter),
		Limit:    parsed.Limit,
		Entity:   entity,
	}
	res.PostFilter = detectPostFilterIntent(question, entity)
	return res, true
}

func (r *Resolver) buildPrompt(question string) string {
	var b strings.Builder
	b.WriteString("Translate the business question into a JSON query plan for an OData-style API.\n")
	b.WriteString("Valid resources (pick exactly one):\n")
	for _, name := range r.catalog.Names() {
		entity, _ := r.catalog.Lookup(name)
		b.WriteString("  - " + name)
		if entity.DateField != "" || entity.AmountField != "" {
			b.WriteString(" (")
			if entity.DateField != "" {
				b.WriteString("date field: " + entity.DateField)
			}
			if entity.AmountField != "" {
				if entity.DateField != "" {
					b.WriteString(", ")
				}
				b.WriteString("amount field: " + entity.AmountField)
			}
			b.WriteString(")")
		}
		b.WriteString("\n")
	}
	b.WriteString("\nRespond with only a JSON object of this shape:\n")
	b.WriteString(`{"resource": "<one of the resources above>", "filter": "<OData $filter expression or empty string>", "limit": <integer or null>}`)
	b.WriteString("\n\nQuestion: ")
	b.WriteString(question)
	return b.String()
}

// StripCodeFences removes a single wrapping markdown code fence, with or
// without a language tag. Models add them despite instructions not to.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		// Drop the language tag line (e.g. "json").
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// detectPostFilterIntent recognizes field-vs-field questions that OData
// filters cannot express, e.g. "items below minimum stock". These fetch
// unfiltered and compare locally.
func detectPostFilterIntent(question string, entity Entity) *FieldComparison {
	q := strings.ToLower(question)
	if entity.Name != "Items" {
		return nil
	}
	belowMin := strings.Contains(q, "below minimum") ||
		strings.Contains(q, "under minimum") ||
		strings.Contains(q, "understocked") ||
		(strings.Contains(q, "reorder") && strings.Contains(q, "need"))
	if belowMin {
		return &FieldComparison{Left: "QuantityOnStock", Op: OpLess, Right: "MinInventory"}
	}
	if strings.Contains(q, "above maximum") || strings.Contains(q, "overstocked") {
		return &FieldComparison{Left: "QuantityOnStock", Op: OpGreater, Right: "MaxInventory"}
	}
	return nil
}
