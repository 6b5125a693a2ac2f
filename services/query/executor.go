// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package query orchestrates one natural-language query end to end:
// authenticate against the Service Layer (reusing cached sessions), drive the
// paginated fetcher, recover from auth and invalid-filter failures with
// scoped retries, and apply local post-filtering the upstream cannot express.
package query

import (
	"context"
	"log/slog"
	"time"

	"github.com/AleutianAI/b1query/services/query/nlq"
	"github.com/AleutianAI/b1query/services/query/observability"
	"github.com/AleutianAI/b1query/services/servicelayer"
)

// ResolvedQuery is the upstream-ready form of a question, produced by the
// nlq resolver. Immutable for the duration of one execution.
type ResolvedQuery struct {
	// Resource is the validated Service Layer entity name.
	Resource string
	// Filter is a raw OData query fragment ("$filter=...&$orderby=...").
	Filter string
	// Limit bounds the number of rows returned; 0 means unbounded.
	Limit int
	// Paginate selects the adaptive paginated path. When false a single
	// request is issued with the filter used verbatim.
	Paginate bool
	// UnstableSchema marks resources whose field names vary between
	// installations; only these are eligible for the invalid-filter retry.
	UnstableSchema bool
	// PostFilter, when set, is applied locally after the fetch.
	PostFilter *nlq.FieldComparison
}

// Executor runs resolved queries against the Service Layer with the retry
// policy: at most one forced re-login on an auth-classified failure, at most
// one degraded retry on an invalid-filter failure for unstable resources.
// Every retry is a fresh, fully independent fetch.
type Executor struct {
	auth    *servicelayer.Authenticator
	fetcher *servicelayer.Fetcher
	cache   *servicelayer.SessionCache
	metrics *observability.QueryMetrics
}

// NewExecutor wires the executor. metrics may be nil (tests).
func NewExecutor(auth *servicelayer.Authenticator, fetcher *servicelayer.Fetcher,
	cache *servicelayer.SessionCache, metrics *observability.QueryMetrics) *Executor {
	return &Executor{auth: auth, fetcher: fetcher, cache: cache, metrics: metrics}
}

// Execute authenticates (cached session first) and fetches the query's rows
// over conn.
//
// Cancellation is observed before authentication, before every page, and
// between retry attempts; it surfaces as the context error, distinct from
// query failures.
func (e *Executor) Execute(ctx context.Context, conn *servicelayer.Connection, q ResolvedQuery) (*servicelayer.RowSet, error) {
	start := time.Now()

	result, err := e.execute(ctx, conn, q)
	e.observe(q.Resource, result, err, time.Since(start))
	if err != nil {
		return nil, err
	}
	if q.PostFilter != nil {
		result.Rows = q.PostFilter.Apply(result.Rows)
	}
	return result, nil
}

func (e *Executor) execute(ctx context.Context, conn *servicelayer.Connection, q ResolvedQuery) (*servicelayer.RowSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	token, err := e.auth.Login(ctx, conn, false)
	if err != nil {
		return nil, err
	}

	result, err := e.fetch(ctx, conn, token, q.Resource, q.Filter, q.Limit, q.Paginate)
	if err == nil {
		return result, nil
	}

	switch servicelayer.Classify(err) {
	case servicelayer.KindAuth:
		return e.retryWithFreshSession(ctx, conn, q)
	case servicelayer.KindInvalidFilter:
		if q.UnstableSchema {
			return e.retryWithoutFilter(ctx, conn, token, q)
		}
		return nil, err
	default:
		return nil, err
	}
}

// retryWithFreshSession handles the stale-token path: the cached session was
// rejected mid-query, so invalidate it, force one re-login, and run one
// fresh fetch. Never loops.
func (e *Executor) retryWithFreshSession(ctx context.Context, conn *servicelayer.Connection, q ResolvedQuery) (*servicelayer.RowSet, error) {
	e.cache.Invalidate(conn.Creds.Identity())
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	slog.Info("session rejected mid-query, forcing re-login",
		"identity", conn.Creds.Identity(), "resource", q.Resource)
	e.countRetry("auth")

	token, err := e.auth.Login(ctx, conn, true)
	if err != nil {
		return nil, err
	}
	return e.fetch(ctx, conn, token, q.Resource, q.Filter, q.Limit, q.Paginate)
}

// retryWithoutFilter is the degraded path for unstable-schema resources: the
// upstream rejected a property in the filter, so retry once with the filter
// stripped down to the caller's explicit row limit.
func (e *Executor) retryWithoutFilter(ctx context.Context, conn *servicelayer.Connection, token string, q ResolvedQuery) (*servicelayer.RowSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	limit := q.Limit
	if top := servicelayer.ExplicitTop(q.Filter); top > 0 && (limit <= 0 || top < limit) {
		limit = top
	}
	slog.Warn("filter rejected by unstable-schema resource, retrying without it",
		"resource", q.Resource, "dropped_filter", q.Filter, "kept_limit", limit)
	e.countRetry("invalid_filter")

	return e.fetch(ctx, conn, token, q.Resource, "", limit, q.Paginate)
}

func (e *Executor) fetch(ctx context.Context, conn *servicelayer.Connection, token, resource, filter string, limit int, paginate bool) (*servicelayer.RowSet, error) {
	if paginate {
		return e.fetcher.Fetch(ctx, conn, token, resource, filter, limit)
	}
	return e.fetcher.FetchOnce(ctx, conn, token, resource, filter)
}

func (e *Executor) countRetry(reason string) {
	if e.metrics != nil {
		e.metrics.RetriesTotal.WithLabelValues(reason).Inc()
	}
}

func (e *Executor) observe(resource string, result *servicelayer.RowSet, err error, elapsed time.Duration) {
	outcome := "success"
	if err != nil {
		outcome = servicelayer.Classify(err).String()
	}
	if e.metrics != nil {
		e.metrics.QueriesTotal.WithLabelValues(resource, outcome).Inc()
		e.metrics.QueryDurationSeconds.WithLabelValues(outcome).Observe(elapsed.Seconds())
		if result != nil {
			e.metrics.PagesPerQuery.Observe(float64(result.Pages))
			e.metrics.RowsPerQuery.Observe(float64(len(result.Rows)))
		}
	}
	if err != nil && servicelayer.Classify(err) != servicelayer.KindCancelled {
		slog.Error("query execution failed",
			"resource", resource, "outcome", outcome, "error", err)
	}
}

// InvalidateSessions drops every cached session. Exposed for
// credential-rotation callers; the cache key intentionally excludes the
// password, so rotation alone never evicts a stale session.
func (e *Executor) InvalidateSessions() {
	e.cache.InvalidateAll()
}
