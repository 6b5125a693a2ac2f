// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package query

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/b1query/services/query/nlq"
	"github.com/AleutianAI/b1query/services/servicelayer"
)

// fakeServiceLayer simulates a Service Layer server behind the HTTPClient
// interface: one login endpoint and one collection, with switches for token
// rejection and filter rejection.
type fakeServiceLayer struct {
	mu sync.Mutex

	rows []map[string]any

	// validTokens are accepted on data requests; anything else gets a 401.
	validTokens map[string]bool
	// nextToken is handed out by the next login.
	nextToken string
	// rejectFilter, when set, fails any request carrying a $filter with the
	// given status and body.
	rejectFilterStatus int
	rejectFilterBody   string

	logins       int
	dataRequests int
	seenFilters  []string
}

func newFakeServiceLayer(rowCount int) *fakeServiceLayer {
	rows := make([]map[string]any, rowCount)
	for i := range rows {
		rows[i] = map[string]any{"DocEntry": float64(i + 1), "DocTotal": float64(10 * (i + 1))}
	}
	return &fakeServiceLayer{
		rows:        rows,
		validTokens: map[string]bool{},
		nextToken:   "token-1",
	}
}

func (f *fakeServiceLayer) Do(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if strings.HasSuffix(req.URL.Path, "/Login") {
		f.logins++
		token := fmt.Sprintf("%s-%d", f.nextToken, f.logins)
		f.validTokens[token] = true
		return jsonResp(200, map[string]any{"SessionId": token}), nil
	}

	f.dataRequests++
	token := ""
	if c, err := req.Cookie("B1SESSION"); err == nil {
		token = c.Value
	}
	if !f.validTokens[token] {
		return jsonResp(401, map[string]any{
			"error": map[string]any{"code": 301, "message": map[string]any{"value": "Invalid session."}},
		}), nil
	}

	query := req.URL.Query()
	if filter := query.Get("$filter"); filter != "" {
		f.seenFilters = append(f.seenFilters, filter)
		if f.rejectFilterStatus != 0 {
			return jsonResp(f.rejectFilterStatus, map[string]any{
				"error": map[string]any{"code": -5002, "message": map[string]any{"value": f.rejectFilterBody}},
			}), nil
		}
	}

	skip, top := 0, len(f.rows)
	fmt.Sscanf(query.Get("$skip"), "%d", &skip)
	fmt.Sscanf(query.Get("$top"), "%d", &top)
	end := skip + top
	if skip > len(f.rows) {
		skip = len(f.rows)
	}
	if end > len(f.rows) {
		end = len(f.rows)
	}
	return jsonResp(200, map[string]any{"value": f.rows[skip:end]}), nil
}

// revokeAll invalidates every outstanding token; the next data request 401s.
func (f *fakeServiceLayer) revokeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.validTokens = map[string]bool{}
}

func jsonResp(status int, body any) *http.Response {
	data, _ := json.Marshal(body)
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewReader(data)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func newTestHarness(upstream *fakeServiceLayer) (*Executor, *servicelayer.Connection, *servicelayer.SessionCache) {
	cache := servicelayer.NewSessionCache()
	auth := servicelayer.NewAuthenticator(cache)
	fetcher := servicelayer.NewFetcher(servicelayer.FetcherConfig{RequestsPerSecond: -1})
	exec := NewExecutor(auth, fetcher, cache, nil)

	conn := &servicelayer.Connection{
		Creds: servicelayer.Credentials{
			ServerURL: "https://b1.example.com:50000",
			CompanyDB: "SBODEMOUS",
			Username:  "manager",
			Password:  "secret",
		},
		HTTP: upstream,
	}
	return exec, conn, cache
}

func TestExecutor_HappyPath(t *testing.T) {
	upstream := newFakeServiceLayer(250)
	exec, conn, _ := newTestHarness(upstream)

	result, err := exec.Execute(context.Background(), conn, ResolvedQuery{
		Resource: "Orders",
		Paginate: true,
	})
	require.NoError(t, err)
	assert.Len(t, result.Rows, 250)
	assert.Equal(t, 1, upstream.logins)
}

func TestExecutor_SecondQueryReusesSession(t *testing.T) {
	upstream := newFakeServiceLayer(5)
	exec, conn, _ := newTestHarness(upstream)

	_, err := exec.Execute(context.Background(), conn, ResolvedQuery{Resource: "Orders", Paginate: true})
	require.NoError(t, err)
	_, err = exec.Execute(context.Background(), conn, ResolvedQuery{Resource: "Orders", Paginate: true})
	require.NoError(t, err)

	assert.Equal(t, 1, upstream.logins)
}

func TestExecutor_StaleSessionRetriedExactlyOnce(t *testing.T) {
	upstream := newFakeServiceLayer(5)
	exec, conn, _ := newTestHarness(upstream)

	// Establish a cached session, then revoke it server-side.
	_, err := exec.Execute(context.Background(), conn, ResolvedQuery{Resource: "Orders", Paginate: true})
	require.NoError(t, err)
	upstream.revokeAll()

	result, err := exec.Execute(context.Background(), conn, ResolvedQuery{Resource: "Orders", Paginate: true})
	require.NoError(t, err)
	assert.Len(t, result.Rows, 5)
	assert.Equal(t, 2, upstream.logins, "exactly one forced re-login")
}

func TestExecutor_AuthRetryDoesNotLoop(t *testing.T) {
	upstream := newFakeServiceLayer(5)
	exec, conn, _ := newTestHarness(upstream)

	// A server that rejects even freshly minted sessions: one cached-session
	// attempt, one forced re-login, then the failure surfaces.
	rejecting := &rejectAfterLogin{}
	conn.HTTP = rejecting

	_, err := exec.Execute(context.Background(), conn, ResolvedQuery{Resource: "Orders", Paginate: true})
	require.Error(t, err)
	assert.Equal(t, servicelayer.KindAuth, servicelayer.Classify(err))
	assert.Equal(t, 2, rejecting.logins())
}

// rejectAfterLogin lets logins succeed but 401s every data request.
type rejectAfterLogin struct {
	loginCount int
	mu         sync.Mutex
}

func (r *rejectAfterLogin) Do(req *http.Request) (*http.Response, error) {
	if strings.HasSuffix(req.URL.Path, "/Login") {
		r.mu.Lock()
		r.loginCount++
		r.mu.Unlock()
		return jsonResp(200, map[string]any{"SessionId": "doomed"}), nil
	}
	return jsonResp(401, map[string]any{
		"error": map[string]any{"code": 301, "message": map[string]any{"value": "Invalid session."}},
	}), nil
}

func (r *rejectAfterLogin) logins() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loginCount
}

func TestExecutor_InvalidFilterRetriedForUnstableSchema(t *testing.T) {
	upstream := newFakeServiceLayer(8)
	upstream.rejectFilterStatus = 400
	upstream.rejectFilterBody = "Invalid property 'U_CustomField'"
	exec, conn, _ := newTestHarness(upstream)

	result, err := exec.Execute(context.Background(), conn, ResolvedQuery{
		Resource:       "UserTables",
		Filter:         "$filter=U_CustomField eq 'x'",
		Paginate:       true,
		UnstableSchema: true,
	})
	require.NoError(t, err)
	assert.Len(t, result.Rows, 8, "degraded retry fetches unfiltered")
	require.Len(t, upstream.seenFilters, 1, "filter sent once, then dropped")
}

func TestExecutor_InvalidFilterNotRetriedForStableSchema(t *testing.T) {
	upstream := newFakeServiceLayer(8)
	upstream.rejectFilterStatus = 400
	upstream.rejectFilterBody = "Invalid property 'Bogus'"
	exec, conn, _ := newTestHarness(upstream)

	_, err := exec.Execute(context.Background(), conn, ResolvedQuery{
		Resource:       "Orders",
		Filter:         "$filter=Bogus eq 1",
		Paginate:       true,
		UnstableSchema: false,
	})
	require.Error(t, err)
	assert.Equal(t, servicelayer.KindInvalidFilter, servicelayer.Classify(err))
}

func TestExecutor_DegradedRetryKeepsExplicitTop(t *testing.T) {
	upstream := newFakeServiceLayer(50)
	upstream.rejectFilterStatus = 400
	upstream.rejectFilterBody = "Invalid property 'U_Foo'"
	exec, conn, _ := newTestHarness(upstream)

	result, err := exec.Execute(context.Background(), conn, ResolvedQuery{
		Resource:       "Activities",
		Filter:         "$filter=U_Foo eq 1&$top=7",
		Paginate:       true,
		UnstableSchema: true,
	})
	require.NoError(t, err)
	assert.Len(t, result.Rows, 7, "caller's explicit row limit survives the degraded retry")
}

func TestExecutor_LimitApplied(t *testing.T) {
	upstream := newFakeServiceLayer(500)
	exec, conn, _ := newTestHarness(upstream)

	result, err := exec.Execute(context.Background(), conn, ResolvedQuery{
		Resource: "Orders",
		Limit:    42,
		Paginate: true,
	})
	require.NoError(t, err)
	assert.Len(t, result.Rows, 42)
}

func TestExecutor_SingleRequestPath(t *testing.T) {
	upstream := newFakeServiceLayer(30)
	exec, conn, _ := newTestHarness(upstream)

	result, err := exec.Execute(context.Background(), conn, ResolvedQuery{
		Resource: "Orders",
		Filter:   "$top=10",
		Paginate: false,
	})
	require.NoError(t, err)
	assert.Len(t, result.Rows, 10)
	assert.Equal(t, 1, upstream.dataRequests)
}

func TestExecutor_PostFilterApplied(t *testing.T) {
	upstream := newFakeServiceLayer(0)
	upstream.rows = []map[string]any{
		{"ItemCode": "A", "QuantityOnStock": float64(1), "MinInventory": float64(5)},
		{"ItemCode": "B", "QuantityOnStock": float64(9), "MinInventory": float64(5)},
	}
	exec, conn, _ := newTestHarness(upstream)

	result, err := exec.Execute(context.Background(), conn, ResolvedQuery{
		Resource: "Items",
		Paginate: true,
		PostFilter: &nlq.FieldComparison{
			Left: "QuantityOnStock", Op: nlq.OpLess, Right: "MinInventory",
		},
	})
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	assert.Equal(t, "A", result.Rows[0]["ItemCode"])
}

func TestExecutor_CancelledBeforeStart(t *testing.T) {
	upstream := newFakeServiceLayer(10)
	exec, conn, _ := newTestHarness(upstream)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := exec.Execute(ctx, conn, ResolvedQuery{Resource: "Orders", Paginate: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, upstream.dataRequests)
}

func TestExecutor_InvalidateSessionsForcesRelogin(t *testing.T) {
	upstream := newFakeServiceLayer(3)
	exec, conn, _ := newTestHarness(upstream)

	_, err := exec.Execute(context.Background(), conn, ResolvedQuery{Resource: "Orders", Paginate: true})
	require.NoError(t, err)

	exec.InvalidateSessions()

	_, err = exec.Execute(context.Background(), conn, ResolvedQuery{Resource: "Orders", Paginate: true})
	require.NoError(t, err)
	assert.Equal(t, 2, upstream.logins)
}
