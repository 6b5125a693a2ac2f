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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"
)

// LoginTimeout bounds a single login exchange independently of the caller's
// context, so a hung connection cannot block cancellation indefinitely.
const LoginTimeout = 15 * time.Second

// loginRequest is the Service Layer login body.
type loginRequest struct {
	CompanyDB string `json:"CompanyDB"`
	UserName  string `json:"UserName"`
	Password  string `json:"Password"`
}

// loginResponse is the subset of the login reply we care about.
type loginResponse struct {
	SessionID      string `json:"SessionId"`
	Version        string `json:"Version"`
	SessionTimeout int    `json:"SessionTimeout"`
}

// Authenticator performs the Service Layer login handshake and keeps the
// SessionCache populated. It never panics past its boundary; every failure
// path resolves to an *AuthError.
type Authenticator struct {
	cache  *SessionCache
	flight singleflight.Group
}

// NewAuthenticator wires an Authenticator to its session cache.
func NewAuthenticator(cache *SessionCache) *Authenticator {
	return &Authenticator{cache: cache}
}

// Login returns a valid session token for conn.
//
// Unless forceNew is set, a cached unexpired token is returned without any
// network traffic. On a miss (or forced refresh) a single POST is made to the
// login endpoint. Concurrent misses for the same identity are collapsed into
// one upstream login via singleflight; every waiter gets the same token.
func (a *Authenticator) Login(ctx context.Context, conn *Connection, forceNew bool) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	identity := conn.Creds.Identity()
	if !forceNew {
		if token, ok := a.cache.Get(identity); ok {
			return token, nil
		}
	}

	// The flight key includes forceNew so a forced refresh is never satisfied
	// by a concurrent cached-path login that raced ahead of the invalidation.
	key := identity
	if forceNew {
		key += "|forced"
	}
	token, err, _ := a.flight.Do(key, func() (any, error) {
		return a.doLogin(ctx, conn, forceNew)
	})
	if err != nil {
		return "", err
	}
	return token.(string), nil
}

func (a *Authenticator) doLogin(ctx context.Context, conn *Connection, forceNew bool) (string, error) {
	identity := conn.Creds.Identity()

	body, err := json.Marshal(loginRequest{
		CompanyDB: conn.Creds.CompanyDB,
		UserName:  conn.Creds.Username,
		Password:  conn.Creds.Password,
	})
	if err != nil {
		return "", &AuthError{Message: fmt.Sprintf("encode login request: %v", err)}
	}

	loginCtx, cancel := context.WithTimeout(ctx, LoginTimeout)
	defer cancel()

	url := conn.Creds.BaseURL() + "/Login"
	req, err := http.NewRequestWithContext(loginCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", &AuthError{Message: fmt.Sprintf("build login request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	slog.Info("logging in to service layer", "identity", identity, "forced", forceNew)
	resp, err := conn.HTTP.Do(req)
	if err != nil {
		a.cache.Invalidate(identity)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", &AuthError{Message: fmt.Sprintf("login request failed: %v", err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		a.cache.Invalidate(identity)
		return "", &AuthError{Message: fmt.Sprintf("read login response: %v", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		a.cache.Invalidate(identity)
		slog.Warn("service layer rejected login",
			"identity", identity, "status", resp.StatusCode)
		return "", &AuthError{Status: resp.StatusCode, Message: upstreamMessage(raw)}
	}

	var parsed loginResponse
	_ = json.Unmarshal(raw, &parsed)
	token := parsed.SessionID
	if token == "" {
		token = sessionFromCookies(resp)
	}
	if token == "" {
		// A 2xx with no token on a forced re-login means the stored
		// credentials are truly invalid, not just the old token.
		if forceNew {
			a.cache.Invalidate(identity)
		}
		return "", &AuthError{Status: resp.StatusCode, Message: "login succeeded but no session token in response"}
	}

	a.cache.Put(identity, token)
	slog.Info("service layer session established", "identity", identity)
	return token, nil
}

// sessionFromCookies pulls the B1SESSION cookie; some Service Layer patch
// levels omit SessionId from the body but always set the cookie.
func sessionFromCookies(resp *http.Response) string {
	for _, cookie := range resp.Cookies() {
		if cookie.Name == "B1SESSION" {
			return cookie.Value
		}
	}
	return ""
}

// upstreamMessage extracts the human-readable error text from a Service
// Layer error body, falling back to the raw payload.
func upstreamMessage(raw []byte) string {
	var envelope struct {
		Error struct {
			Code    any `json:"code"`
			Message struct {
				Value string `json:"value"`
			} `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error.Message.Value != "" {
		if envelope.Error.Code != nil {
			return fmt.Sprintf("%v: %s", envelope.Error.Code, envelope.Error.Message.Value)
		}
		return envelope.Error.Message.Value
	}
	const max = 512
	if len(raw) > max {
		raw = raw[:max]
	}
	return string(raw)
}
