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
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/b1query/services/llm"
)

type mockLLM struct {
	response string
	err      error
	prompts  []string
}

func (m *mockLLM) Generate(_ context.Context, prompt string, _ llm.GenerationParams) (string, error) {
	m.prompts = append(m.prompts, prompt)
	if m.err != nil {
		return "", m.err
	}
	return m.response, nil
}

func salesRows(n int) []map[string]any {
	rows := make([]map[string]any, n)
	for i := range rows {
		rows[i] = map[string]any{
			"DocDate":  fmt.Sprintf("2025-06-%02dT00:00:00Z", i+1),
			"DocTotal": float64(100 * (i + 1)),
			"CardName": fmt.Sprintf("Customer %d", i),
		}
	}
	return rows
}

func TestHeuristic_EmptyRowsIsTable(t *testing.T) {
	rec := Heuristic(nil)
	assert.Equal(t, KindTable, rec.Kind)
}

func TestHeuristic_DatePlusNumericIsLine(t *testing.T) {
	rec := Heuristic(salesRows(10))
	assert.Equal(t, KindLine, rec.Kind)
	assert.Equal(t, "DocDate", rec.XField)
	assert.Equal(t, "DocTotal", rec.YField)
}

func TestHeuristic_FewCategoriesIsPie(t *testing.T) {
	rows := []map[string]any{
		{"Region": "North", "Total": float64(10)},
		{"Region": "South", "Total": float64(20)},
		{"Region": "North", "Total": float64(5)},
		{"Region": "West", "Total": float64(7)},
	}
	rec := Heuristic(rows)
	assert.Equal(t, KindPie, rec.Kind)
	assert.Equal(t, "Region", rec.XField)
	assert.Equal(t, "Total", rec.YField)
}

func TestHeuristic_NumericWithoutDateIsBar(t *testing.T) {
	rows := []map[string]any{
		{"ItemCode": "A001", "QuantityOnStock": float64(3)},
		{"ItemCode": "A002", "QuantityOnStock": float64(9)},
		{"ItemCode": "A003", "QuantityOnStock": float64(1)},
	}
	rec := Heuristic(rows)
	assert.Equal(t, KindBar, rec.Kind)
	assert.Equal(t, "QuantityOnStock", rec.YField)
}

func TestHeuristic_NoNumericIsTable(t *testing.T) {
	rows := []map[string]any{
		{"CardCode": "C1", "CardName": "Maxi Teq"},
		{"CardCode": "C2", "CardName": "Parameter Tech"},
	}
	rec := Heuristic(rows)
	assert.Equal(t, KindTable, rec.Kind)
}

func TestHeuristic_MixedTypeColumnNotNumeric(t *testing.T) {
	rows := []map[string]any{
		{"Ref": float64(1), "Name": "a"},
		{"Ref": "n/a", "Name": "b"},
	}
	rec := Heuristic(rows)
	assert.Equal(t, KindTable, rec.Kind)
}

func TestHeuristic_IgnoresODataAnnotations(t *testing.T) {
	rows := []map[string]any{
		{"@odata.etag": "W/\"x\"", "CardName": "One"},
		{"@odata.etag": "W/\"y\"", "CardName": "Two"},
	}
	rec := Heuristic(rows)
	assert.Equal(t, KindTable, rec.Kind)
	assert.NotContains(t, rec.XField, "@odata")
}

func TestRecommender_AcceptsModelAnswer(t *testing.T) {
	mock := &mockLLM{response: `{"kind": "bar", "x_field": "CardName", "y_field": "DocTotal", "reason": "totals per customer"}`}
	rec := NewRecommender(mock).Recommend(context.Background(), "totals per customer", salesRows(4))

	assert.Equal(t, KindBar, rec.Kind)
	assert.Equal(t, "CardName", rec.XField)
	assert.Equal(t, "DocTotal", rec.YField)
}

func TestRecommender_ErrorFallsBackToHeuristic(t *testing.T) {
	mock := &mockLLM{err: fmt.Errorf("model offline")}
	rec := NewRecommender(mock).Recommend(context.Background(), "sales over time", salesRows(4))

	assert.Equal(t, KindLine, rec.Kind)
}

func TestRecommender_GarbageFallsBackToHeuristic(t *testing.T) {
	mock := &mockLLM{response: "a pie chart would look nice here"}
	rec := NewRecommender(mock).Recommend(context.Background(), "sales over time", salesRows(4))

	assert.Equal(t, KindLine, rec.Kind)
}

func TestRecommender_UnknownKindFallsBackToHeuristic(t *testing.T) {
	mock := &mockLLM{response: `{"kind": "scatter3d", "x_field": "a", "y_field": "b"}`}
	rec := NewRecommender(mock).Recommend(context.Background(), "sales over time", salesRows(4))

	assert.Equal(t, KindLine, rec.Kind)
}

func TestRecommender_PlotWithoutYFieldFallsBack(t *testing.T) {
	mock := &mockLLM{response: `{"kind": "bar"}`}
	rec := NewRecommender(mock).Recommend(context.Background(), "sales over time", salesRows(4))

	assert.Equal(t, KindLine, rec.Kind)
}

func TestRecommender_EmptyRowsSkipsModel(t *testing.T) {
	mock := &mockLLM{response: `{"kind": "pie"}`}
	rec := NewRecommender(mock).Recommend(context.Background(), "anything", nil)

	assert.Equal(t, KindTable, rec.Kind)
	assert.Empty(t, mock.prompts)
}

func TestRecommender_PromptSamplesAtMostFiveRows(t *testing.T) {
	mock := &mockLLM{response: `{"kind": "table"}`}
	NewRecommender(mock).Recommend(context.Background(), "everything", salesRows(50))

	require.Len(t, mock.prompts, 1)
	assert.Contains(t, mock.prompts[0], "Total rows: 50")
	assert.Contains(t, mock.prompts[0], "2025-06-05")
	assert.NotContains(t, mock.prompts[0], "2025-06-06")
}
