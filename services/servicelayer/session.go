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
	"log/slog"
	"sync"
	"time"
)

const (
	// SessionTTL is the fixed Service Layer session lifetime. The server-side
	// timeout is configurable per installation but 30 minutes is the B1
	// default; we never trust a cached session past it.
	SessionTTL = 30 * time.Minute

	// SweepInterval is how often the background sweeper evicts expired
	// entries. Lazy eviction on Get is already correct; the sweep only
	// bounds memory held by abandoned connections.
	SweepInterval = 5 * time.Minute
)

// SessionEntry is one cached login.
type SessionEntry struct {
	Token     string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// SessionCache maps a connection identity to its currently valid session
// token. It is an explicitly-owned object injected into the Authenticator,
// never a package global, so tests get an isolated instance per case.
//
// All methods are safe for concurrent use. The cache has no I/O and cannot
// fail.
type SessionCache struct {
	mu      sync.Mutex
	entries map[string]SessionEntry
	now     func() time.Time
}

// NewSessionCache returns an empty cache using the wall clock.
func NewSessionCache() *SessionCache {
	return NewSessionCacheWithClock(time.Now)
}

// NewSessionCacheWithClock returns an empty cache with an injected clock.
// Tests use this to exercise expiry without sleeping.
func NewSessionCacheWithClock(now func() time.Time) *SessionCache {
	return &SessionCache{entries: make(map[string]SessionEntry), now: now}
}

// Get returns the cached token for identity if it has not expired. Expired
// entries are evicted on the way out.
func (sc *SessionCache) Get(identity string) (string, bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	entry, ok := sc.entries[identity]
	if !ok {
		return "", false
	}
	if !sc.now().Before(entry.ExpiresAt) {
		delete(sc.entries, identity)
		return "", false
	}
	slog.Debug("session cache hit",
		"identity", identity,
		"age", sc.now().Sub(entry.CreatedAt).Round(time.Second).String())
	return entry.Token, true
}

// Put stores a fresh token for identity, overwriting any existing entry and
// restarting the TTL clock.
func (sc *SessionCache) Put(identity, token string) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	now := sc.now()
	sc.entries[identity] = SessionEntry{
		Token:     token,
		CreatedAt: now,
		ExpiresAt: now.Add(SessionTTL),
	}
}

// Invalidate removes any entry for identity. Idempotent.
func (sc *SessionCache) Invalidate(identity string) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	delete(sc.entries, identity)
}

// InvalidateAll drops every cached session. Intended for credential-rotation
// callers: the cache key excludes the password, so a rotated password would
// otherwise keep serving the stale session until natural expiry.
func (sc *SessionCache) InvalidateAll() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.entries = make(map[string]SessionEntry)
}

// Sweep evicts all expired entries and returns how many were removed.
func (sc *SessionCache) Sweep() int {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	now := sc.now()
	evicted := 0
	for identity, entry := range sc.entries {
		if !now.Before(entry.ExpiresAt) {
			delete(sc.entries, identity)
			evicted++
		}
	}
	return evicted
}

// Len reports the number of cached entries, expired or not.
func (sc *SessionCache) Len() int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return len(sc.entries)
}

// StartSweeper runs Sweep every interval until ctx is done. Pass
// SweepInterval unless a test needs a shorter period.
func (sc *SessionCache) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := sc.Sweep(); n > 0 {
					slog.Debug("session sweep evicted entries", "count", n)
				}
			}
		}
	}()
}
