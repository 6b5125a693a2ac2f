// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package servicelayer implements the SAP Business One Service Layer client:
// session caching, login, and adaptive pagination over OData collection
// endpoints.
//
// The Service Layer is an OData-v2-like REST API. Its pagination metadata is
// unreliable in practice: the inline count field is sometimes absent, page
// sizes may be silently capped server-side, and auth failures are reported
// inconsistently (clean 401s, but also 2xx bodies with "Invalid session"
// messages). The types in this package exist to hide those quirks from the
// query orchestrator.
package servicelayer

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"strings"
)

// HTTPClient allows injecting mock HTTP clients for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// servicePath is the Service Layer mount point appended to every base URL.
const servicePath = "/b1s/v1"

// knownSuffixes are path suffixes users paste into the server URL field that
// must be stripped during normalization so the same logical server compares
// equal regardless of surface form.
var knownSuffixes = []string{"/Login", "/b1s/v1", "/b1s/v2"}

// Credentials identifies one Service Layer connection.
type Credentials struct {
	ServerURL string `json:"server_url"`
	CompanyDB string `json:"company_db"`
	Username  string `json:"username"`
	Password  string `json:"password"`

	// InsecureTLS disables certificate verification for this connection only.
	// B1 installations frequently run self-signed certificates; this is an
	// operator choice, scoped to the connection's transport, never global.
	InsecureTLS bool `json:"insecure_tls"`
}

// NormalizeServerURL strips known path suffixes and trailing slashes so that
// "https://b1:50000", "https://b1:50000/" and "https://b1:50000/b1s/v1/Login"
// all resolve to the same base.
func NormalizeServerURL(raw string) string {
	base := strings.TrimSpace(raw)
	base = strings.TrimRight(base, "/")
	for changed := true; changed; {
		changed = false
		for _, suffix := range knownSuffixes {
			if strings.HasSuffix(base, suffix) {
				base = strings.TrimSuffix(base, suffix)
				base = strings.TrimRight(base, "/")
				changed = true
			}
		}
	}
	return base
}

// Identity returns the session cache key for these credentials.
//
// The password is deliberately not part of the key. This preserves the
// long-standing behavior that rotating a password does not invalidate an
// already-established session until it expires naturally. Callers that
// rotate credentials should use SessionCache.InvalidateAll.
func (c Credentials) Identity() string {
	return fmt.Sprintf("%s|%s|%s", NormalizeServerURL(c.ServerURL), c.CompanyDB, c.Username)
}

// BaseURL returns the normalized server base with the Service Layer path.
func (c Credentials) BaseURL() string {
	return NormalizeServerURL(c.ServerURL) + servicePath
}

// Connection pairs credentials with the HTTP client used for this server.
// The client carries the connection-scoped TLS configuration; it is shared
// between login and data requests so the insecure-TLS choice applies to both.
type Connection struct {
	Creds Credentials
	HTTP  HTTPClient
}

// NewConnection builds a Connection with a transport honoring the
// credentials' TLS preference. Per-request deadlines come from contexts, so
// the client itself carries no timeout.
func NewConnection(creds Credentials) *Connection {
	client := &http.Client{}
	if creds.InsecureTLS {
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	return &Connection{Creds: creds, HTTP: client}
}
