// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package servicelayer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// Row is one upstream record. Rows are structurally untyped: the schema is
// determined by the resource and unknown ahead of time.
type Row = map[string]any

// countHintKeys are the field-name spellings the Service Layer has been seen
// using for the inline total count, in probe order. Different patch levels
// populate different ones.
var countHintKeys = []string{"@odata.count", "odata.count", "@count", "count"}

// FetcherConfig carries the pagination policy. The empty-page tolerance and
// same-count streak thresholds are empirically chosen against real Service
// Layer installations; they are named configuration, not tuning advice.
type FetcherConfig struct {
	// PageSize is the nominal $top per page.
	PageSize int
	// EmptyPageTolerance is how many consecutive zero-row pages are treated
	// as transient glitches before being taken as definitive end-of-data.
	EmptyPageTolerance int
	// SameCountStreakWarn is the run length of identical non-zero page
	// counts after which a server-side page cap is logged. Never stops
	// pagination by itself.
	SameCountStreakWarn int
	// MaxRows is the hard safety ceiling on rows fetched in one run.
	MaxRows int
	// RequestTimeout bounds each individual page request.
	RequestTimeout time.Duration
	// RequestsPerSecond throttles page requests against the ERP. Zero
	// disables throttling.
	RequestsPerSecond float64
}

// DefaultFetcherConfig returns the production policy.
func DefaultFetcherConfig() FetcherConfig {
	return FetcherConfig{
		PageSize:            100,
		EmptyPageTolerance:  3,
		SameCountStreakWarn: 5,
		MaxRows:             100_000,
		RequestTimeout:      30 * time.Second,
		RequestsPerSecond:   20,
	}
}

// RowSet is the aggregated result of one fetch.
type RowSet struct {
	Rows []Row
	// Pages is how many page requests were issued.
	Pages int
	// TotalCountHint is the upstream-reported total, or -1 if it never
	// reported one.
	TotalCountHint int
	// Phase is the terminal pagination state, for diagnostics.
	Phase FetchPhase
}

// Fetcher drives adaptive pagination against Service Layer collection
// endpoints. Pages are fetched strictly sequentially: each page's offset
// depends on how many rows the previous page actually returned.
type Fetcher struct {
	cfg     FetcherConfig
	limiter *rate.Limiter
}

// NewFetcher builds a Fetcher; zero-value config fields fall back to the
// defaults.
func NewFetcher(cfg FetcherConfig) *Fetcher {
	def := DefaultFetcherConfig()
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.EmptyPageTolerance <= 0 {
		cfg.EmptyPageTolerance = def.EmptyPageTolerance
	}
	if cfg.SameCountStreakWarn <= 0 {
		cfg.SameCountStreakWarn = def.SameCountStreakWarn
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = def.MaxRows
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &Fetcher{cfg: cfg, limiter: limiter}
}

// Fetch aggregates pages of resource into a single RowSet.
//
// filterExpr is a raw OData query fragment ("$filter=...&$orderby=...").
// Any caller-supplied $top is stripped before the fetcher adds its own
// pagination clause; the two limits would otherwise conflict. desiredLimit
// of 0 means unbounded (up to the safety ceiling).
//
// Cancellation is observed before and after every network wait and is
// returned as the context error, never as a FetchError.
func (f *Fetcher) Fetch(ctx context.Context, conn *Connection, token, resource, filterExpr string, desiredLimit int) (*RowSet, error) {
	params, callerTop, err := splitFilterExpr(filterExpr)
	if err != nil {
		return nil, err
	}
	// A $top inside the filter expression is an explicit row limit from the
	// query itself; honor the tighter of the two.
	if callerTop > 0 && (desiredLimit <= 0 || callerTop < desiredLimit) {
		desiredLimit = callerTop
	}

	tracker := newPageTracker(f.cfg, desiredLimit)
	result := &RowSet{Rows: []Row{}, TotalCountHint: -1}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if tracker.limitAlreadyReached() || tracker.phase.terminal() {
			break
		}

		pageParams := cloneValues(params)
		pageParams.Set("$skip", strconv.Itoa(tracker.nextOffset))
		pageParams.Set("$top", strconv.Itoa(tracker.recordsToFetch()))
		pageParams.Set("$inlinecount", "allpages")

		page, err := f.getPage(ctx, conn, token, resource, pageParams)
		if err != nil {
			return nil, err
		}
		result.Pages++

		if result.Pages == 1 && page.countHint >= 0 {
			tracker.setCountHint(page.countHint)
			result.TotalCountHint = page.countHint
		}

		kept := page.rows
		if desiredLimit > 0 {
			if remaining := desiredLimit - tracker.rows; len(kept) > remaining {
				kept = kept[:remaining]
			}
		}
		result.Rows = append(result.Rows, kept...)
		tracker.observe(len(page.rows), len(kept))

		if tracker.capSuspected {
			tracker.capSuspected = false
			tracker.streakThreshold = 0 // log once per fetch
			slog.Warn("upstream appears to cap page sizes",
				"resource", resource,
				"page_rows", len(page.rows),
				"requested", f.cfg.PageSize)
		}

		// A non-array body is the single final page.
		if page.lastPage {
			break
		}
	}

	result.Phase = tracker.phase
	if !result.Phase.terminal() {
		if tracker.limitAlreadyReached() {
			result.Phase = PhaseLimitReached
		} else {
			// Loop left via the single-final-page break.
			result.Phase = PhaseExhausted
		}
	}
	slog.Info("service layer fetch complete",
		"resource", resource,
		"rows", len(result.Rows),
		"pages", result.Pages,
		"phase", result.Phase.String())
	return result, nil
}

// FetchOnce issues a single unpaginated GET with the filter expression used
// verbatim (including any caller $top). For small, known-bounded queries.
func (f *Fetcher) FetchOnce(ctx context.Context, conn *Connection, token, resource, filterExpr string) (*RowSet, error) {
	params, callerTop, err := splitFilterExpr(filterExpr)
	if err != nil {
		return nil, err
	}
	if callerTop > 0 {
		params.Set("$top", strconv.Itoa(callerTop))
	}
	page, err := f.getPage(ctx, conn, token, resource, params)
	if err != nil {
		return nil, err
	}
	return &RowSet{
		Rows:           page.rows,
		Pages:          1,
		TotalCountHint: page.countHint,
		Phase:          PhaseCountSatisfied,
	}, nil
}

// pageResult is one decoded page.
type pageResult struct {
	rows      []Row
	countHint int  // -1 when absent
	lastPage  bool // body had no row array; nothing follows
}

func (f *Fetcher) getPage(ctx context.Context, conn *Connection, token, resource string, params url.Values) (*pageResult, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, f.cfg.RequestTimeout)
	defer cancel()

	endpoint := conn.Creds.BaseURL() + "/" + resource
	if encoded := params.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build page request for %s: %w", resource, err)
	}
	req.Header.Set("Accept", "application/json")
	req.AddCookie(&http.Cookie{Name: "B1SESSION", Value: token})

	resp, err := conn.HTTP.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &FetchError{Resource: resource, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &FetchError{Status: resp.StatusCode, Resource: resource, Message: fmt.Sprintf("read body: %v", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{Status: resp.StatusCode, Resource: resource, Message: upstreamMessage(raw)}
	}

	return decodePage(resource, raw)
}

// decodePage interprets the three body shapes the upstream produces: an
// envelope with a "value" array (plus optional count hint), a bare array, or
// a single object (the final page of a one-row result).
func decodePage(resource string, raw []byte) (*pageResult, error) {
	var body any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, &MalformedResponseError{Resource: resource, Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}

	switch shaped := body.(type) {
	case []any:
		rows, err := toRows(resource, shaped)
		if err != nil {
			return nil, err
		}
		return &pageResult{rows: rows, countHint: -1}, nil
	case map[string]any:
		value, hasValue := shaped["value"]
		if !hasValue {
			// Single-object shape: the object itself is the final page.
			return &pageResult{rows: []Row{shaped}, countHint: -1, lastPage: true}, nil
		}
		arr, ok := value.([]any)
		if !ok {
			return nil, &MalformedResponseError{Resource: resource, Reason: "\"value\" field is not an array"}
		}
		rows, err := toRows(resource, arr)
		if err != nil {
			return nil, err
		}
		return &pageResult{rows: rows, countHint: extractCountHint(shaped)}, nil
	default:
		return nil, &MalformedResponseError{Resource: resource, Reason: fmt.Sprintf("unexpected top-level %T", body)}
	}
}

func toRows(resource string, arr []any) ([]Row, error) {
	rows := make([]Row, 0, len(arr))
	for i, item := range arr {
		row, ok := item.(map[string]any)
		if !ok {
			// No silent row loss: a half-parseable page fails the query.
			return nil, &MalformedResponseError{
				Resource: resource,
				Reason:   fmt.Sprintf("row %d is %T, not an object", i, item),
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// extractCountHint probes the known count-field spellings. The hint is
// trusted only when present and non-null; it may arrive as a number or a
// quoted string depending on patch level.
func extractCountHint(envelope map[string]any) int {
	for _, key := range countHintKeys {
		v, ok := envelope[key]
		if !ok || v == nil {
			continue
		}
		switch n := v.(type) {
		case float64:
			return int(n)
		case string:
			if parsed, err := strconv.Atoi(n); err == nil {
				return parsed
			}
		}
	}
	return -1
}

// ExplicitTop returns the explicit $top row limit embedded in a filter
// expression, or 0 when there is none. The orchestrator's degraded retry uses
// it to preserve the caller's row limit while dropping the rest of the filter.
func ExplicitTop(filterExpr string) int {
	_, top, err := splitFilterExpr(filterExpr)
	if err != nil {
		return 0
	}
	return top
}

// splitFilterExpr parses a raw OData query fragment into url.Values and
// extracts (removing) any explicit $top clause.
func splitFilterExpr(filterExpr string) (url.Values, int, error) {
	if filterExpr == "" {
		return url.Values{}, 0, nil
	}
	params, err := url.ParseQuery(filterExpr)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid filter expression %q: %w", filterExpr, err)
	}
	top := 0
	if raw := params.Get("$top"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			top = parsed
		}
		params.Del("$top")
	}
	return params, top, nil
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for key, vals := range v {
		out[key] = append([]string(nil), vals...)
	}
	return out
}
