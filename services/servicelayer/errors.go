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
	"errors"
	"fmt"
	"strings"
)

// ErrorKind is the classified category of a Service Layer failure. The
// upstream does not report errors consistently (a dead session can surface as
// a 401, a -301 error code inside a 2xx body, or a message string), so all
// call sites classify through Classify instead of inspecting status codes
// inline.
type ErrorKind int

const (
	// KindUpstream is any upstream failure with no more specific category.
	KindUpstream ErrorKind = iota
	// KindAuth means the session is missing, expired, or rejected.
	KindAuth
	// KindInvalidFilter means the upstream rejected a $filter property.
	KindInvalidFilter
	// KindMalformed means the response body could not be interpreted.
	KindMalformed
	// KindCancelled is the cooperative cancellation outcome.
	KindCancelled
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindInvalidFilter:
		return "invalid_filter"
	case KindMalformed:
		return "malformed"
	case KindCancelled:
		return "cancelled"
	default:
		return "upstream"
	}
}

// AuthError reports a failed login or a rejected session. It is always a
// returned value, never a panic: callers need to distinguish "no session"
// from "crashed".
type AuthError struct {
	Status  int
	Message string
}

func (e *AuthError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("service layer login failed (status %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("service layer login failed: %s", e.Message)
}

// FetchError reports a non-success status during data retrieval. The
// orchestrator pattern-matches it for the auth and invalid-filter retry
// paths; anything else surfaces as-is.
type FetchError struct {
	Status   int
	Resource string
	Message  string
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("service layer fetch of %s failed (status %d): %s", e.Resource, e.Status, e.Message)
}

// MalformedResponseError reports an unparseable or unexpected-shape page.
// The whole query fails rather than returning a partial result that would be
// indistinguishable from a complete one.
type MalformedResponseError struct {
	Resource string
	Reason   string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed service layer response for %s: %s", e.Resource, e.Reason)
}

// authMarkers are substrings that indicate a session/authentication problem
// in upstream error text. "-301" is the Service Layer's invalid-session error
// code, which some patch levels return inside 2xx bodies.
var authMarkers = []string{
	"401",
	"unauthorized",
	"invalid session",
	"session expired",
	"session timeout",
	"-301",
}

// invalidPropertyMarkers indicate the $filter referenced a property the
// entity does not expose. Seen on resources whose schemas shift between
// installations (user-defined fields).
var invalidPropertyMarkers = []string{
	"invalid property",
	"unknown property",
	"property is invalid",
	"no property named",
	"-5002",
}

// Classify maps err to its ErrorKind. The mapping is heuristic by necessity;
// keeping it in one place keeps the heuristics testable.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindUpstream
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}

	var authErr *AuthError
	if errors.As(err, &authErr) {
		return KindAuth
	}
	var malformed *MalformedResponseError
	if errors.As(err, &malformed) {
		return KindMalformed
	}

	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		if fetchErr.Status == 401 {
			return KindAuth
		}
		msg := strings.ToLower(fetchErr.Message)
		for _, marker := range authMarkers {
			if strings.Contains(msg, marker) {
				return KindAuth
			}
		}
		if fetchErr.Status == 400 {
			for _, marker := range invalidPropertyMarkers {
				if strings.Contains(msg, marker) {
					return KindInvalidFilter
				}
			}
		}
		return KindUpstream
	}

	// Transport-level errors sometimes carry the status text of the failed
	// exchange; check the auth markers as a last resort.
	msg := strings.ToLower(err.Error())
	for _, marker := range authMarkers {
		if strings.Contains(msg, marker) {
			return KindAuth
		}
	}
	return KindUpstream
}
