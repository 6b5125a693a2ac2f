// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes holds the wire types of the query service API.
package datatypes

import (
	"github.com/AleutianAI/b1query/services/query/chart"
)

// ConnectionInput carries Service Layer credentials inline on a request.
type ConnectionInput struct {
	ServerURL   string `json:"server_url"`
	CompanyDB   string `json:"company_db"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	InsecureTLS bool   `json:"insecure_tls,omitempty"`
}

// QueryRequest asks a natural-language question against one Service Layer.
// Either Connection is supplied inline, or ConnectionName references a saved
// profile (in which case Password must still be supplied per request; the
// store never holds secrets).
type QueryRequest struct {
	Question  string            `json:"question" binding:"required"`
	Variables map[string]string `json:"variables,omitempty"`

	Connection     *ConnectionInput `json:"connection,omitempty"`
	ConnectionName string           `json:"connection_name,omitempty"`
	Password       string           `json:"password,omitempty"`

	// Limit caps returned rows; 0 defers to the resolver and safety ceiling.
	Limit int `json:"limit,omitempty"`
	// NoPaginate issues a single upstream request with the resolved filter
	// used verbatim.
	NoPaginate bool `json:"no_paginate,omitempty"`
	// NoChart skips the chart recommendation.
	NoChart bool `json:"no_chart,omitempty"`
}

// QueryResponse is the full answer to one question.
type QueryResponse struct {
	Resource string           `json:"resource"`
	Filter   string           `json:"filter,omitempty"`
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"row_count"`
	// Pages is how many upstream page requests were issued.
	Pages int `json:"pages"`
	// TotalCountHint is the upstream-reported total, -1 if never reported.
	TotalCountHint int `json:"total_count_hint"`
	// ViaFallback marks answers resolved by keyword matching instead of the
	// model.
	ViaFallback bool `json:"via_fallback,omitempty"`

	Chart *chart.Recommendation `json:"chart,omitempty"`
}

// ErrorResponse is the uniform error body. Kind mirrors the internal error
// classification so clients can distinguish a dead session from a bad filter.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// SaveConnectionRequest upserts a named connection profile. No password
// field exists on purpose.
type SaveConnectionRequest struct {
	Name        string `json:"name" binding:"required"`
	ServerURL   string `json:"server_url" binding:"required"`
	CompanyDB   string `json:"company_db" binding:"required"`
	Username    string `json:"username" binding:"required"`
	InsecureTLS bool   `json:"insecure_tls,omitempty"`
}
