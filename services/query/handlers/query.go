// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the gin handlers of the query service.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/b1query/pkg/validation"
	"github.com/AleutianAI/b1query/services/query"
	"github.com/AleutianAI/b1query/services/query/chart"
	"github.com/AleutianAI/b1query/services/query/datatypes"
	"github.com/AleutianAI/b1query/services/query/nlq"
	"github.com/AleutianAI/b1query/services/query/store"
	"github.com/AleutianAI/b1query/services/servicelayer"
)

// statusClientClosedRequest mirrors nginx's convention for requests the
// client abandoned; gin has no constant for it.
const statusClientClosedRequest = 499

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleQuery answers one natural-language question: resolve, execute with
// scoped retries, recommend a chart, record history.
func HandleQuery(resolver *nlq.Resolver, executor *query.Executor,
	recommender *chart.Recommender, st *store.Store) gin.HandlerFunc {

	return func(c *gin.Context) {
		var req datatypes.QueryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "Invalid request body"})
			return
		}
		if err := validation.ValidateVariables(req.Variables); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: err.Error()})
			return
		}

		creds, ok := resolveCredentials(c, st, &req)
		if !ok {
			return
		}

		resolution, err := resolver.Resolve(c.Request.Context(), req.Question, req.Variables)
		if err != nil {
			c.JSON(http.StatusUnprocessableEntity, datatypes.ErrorResponse{
				Error: err.Error(), Kind: "resolve",
			})
			return
		}
		if err := validation.ValidateResource(resolution.Resource); err != nil {
			c.JSON(http.StatusUnprocessableEntity, datatypes.ErrorResponse{
				Error: err.Error(), Kind: "resolve",
			})
			return
		}
		if err := validation.ValidateFilterExpr(resolution.Filter); err != nil {
			c.JSON(http.StatusUnprocessableEntity, datatypes.ErrorResponse{
				Error: err.Error(), Kind: "resolve",
			})
			return
		}

		resolved := query.ResolvedQuery{
			Resource:       resolution.Resource,
			Filter:         resolution.Filter,
			Limit:          effectiveLimit(req.Limit, resolution.Limit),
			Paginate:       !req.NoPaginate,
			UnstableSchema: resolution.Entity.Unstable,
			PostFilter:     resolution.PostFilter,
		}

		conn := servicelayer.NewConnection(creds)
		result, err := executor.Execute(c.Request.Context(), conn, resolved)
		if err != nil {
			writeExecutionError(c, err)
			recordHistory(st, req, resolved, 0, servicelayer.Classify(err).String(), "")
			return
		}

		resp := datatypes.QueryResponse{
			Resource:       resolved.Resource,
			Filter:         resolved.Filter,
			Rows:           result.Rows,
			RowCount:       len(result.Rows),
			Pages:          result.Pages,
			TotalCountHint: result.TotalCountHint,
			ViaFallback:    resolution.ViaFallback,
		}
		if !req.NoChart {
			rec := recommender.Recommend(c.Request.Context(), req.Question, result.Rows)
			resp.Chart = &rec
		}

		chartKind := ""
		if resp.Chart != nil {
			chartKind = string(resp.Chart.Kind)
		}
		recordHistory(st, req, resolved, resp.RowCount, "success", chartKind)

		c.JSON(http.StatusOK, resp)
	}
}

// HandleInvalidateSessions drops every cached Service Layer session. Needed
// after credential rotation: the session cache key excludes the password, so
// rotation alone never evicts stale sessions.
func HandleInvalidateSessions(executor *query.Executor) gin.HandlerFunc {
	return func(c *gin.Context) {
		executor.InvalidateSessions()
		slog.Info("All cached sessions invalidated by request")
		c.JSON(http.StatusOK, gin.H{"status": "invalidated"})
	}
}

func resolveCredentials(c *gin.Context, st *store.Store, req *datatypes.QueryRequest) (servicelayer.Credentials, bool) {
	if req.Connection != nil {
		if req.Connection.ServerURL == "" || req.Connection.CompanyDB == "" || req.Connection.Username == "" {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
				Error: "connection requires server_url, company_db and username",
			})
			return servicelayer.Credentials{}, false
		}
		return servicelayer.Credentials{
			ServerURL:   req.Connection.ServerURL,
			CompanyDB:   req.Connection.CompanyDB,
			Username:    req.Connection.Username,
			Password:    req.Connection.Password,
			InsecureTLS: req.Connection.InsecureTLS,
		}, true
	}

	if req.ConnectionName == "" {
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
			Error: "either connection or connection_name is required",
		})
		return servicelayer.Credentials{}, false
	}
	if st == nil {
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
			Error: "saved connections are not available",
		})
		return servicelayer.Credentials{}, false
	}

	profile, err := st.GetConnection(req.ConnectionName)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, datatypes.ErrorResponse{
			Error: "unknown connection: " + req.ConnectionName,
		})
		return servicelayer.Credentials{}, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: err.Error()})
		return servicelayer.Credentials{}, false
	}
	if req.Password == "" {
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
			Error: "password is required when using a saved connection",
		})
		return servicelayer.Credentials{}, false
	}

	return servicelayer.Credentials{
		ServerURL:   profile.ServerURL,
		CompanyDB:   profile.CompanyDB,
		Username:    profile.Username,
		Password:    req.Password,
		InsecureTLS: profile.InsecureTLS,
	}, true
}

// effectiveLimit picks the tighter of the caller's and the resolver's limit.
func effectiveLimit(requested int, resolved *int) int {
	limit := requested
	if resolved != nil && *resolved > 0 && (limit <= 0 || *resolved < limit) {
		limit = *resolved
	}
	return limit
}

func writeExecutionError(c *gin.Context, err error) {
	kind := servicelayer.Classify(err)
	status := http.StatusBadGateway
	switch kind {
	case servicelayer.KindAuth:
		status = http.StatusUnauthorized
	case servicelayer.KindInvalidFilter:
		status = http.StatusBadRequest
	case servicelayer.KindCancelled:
		status = statusClientClosedRequest
	case servicelayer.KindMalformed:
		status = http.StatusBadGateway
	}
	c.JSON(status, datatypes.ErrorResponse{Error: err.Error(), Kind: kind.String()})
}

func recordHistory(st *store.Store, req datatypes.QueryRequest, q query.ResolvedQuery,
	rowCount int, outcome, chartKind string) {

	if st == nil {
		return
	}
	_, err := st.AppendHistory(store.HistoryEntry{
		Question:  req.Question,
		Resource:  q.Resource,
		Filter:    q.Filter,
		RowCount:  rowCount,
		Outcome:   outcome,
		ChartKind: chartKind,
	})
	if err != nil {
		slog.Warn("Failed to record query history", "error", err)
	}
}
