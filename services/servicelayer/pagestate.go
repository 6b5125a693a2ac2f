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

// FetchPhase names the state of one paginated fetch. The termination policy
// lives entirely in the pageTracker transition logic so it can be tested
// without any HTTP machinery.
type FetchPhase int

const (
	// PhaseProbing: count unknown (or not yet satisfied), pages flowing.
	PhaseProbing FetchPhase = iota
	// PhaseDrainingTail: one or more consecutive empty pages observed but
	// still under tolerance; empties are treated as possible transient
	// glitches, not proof of end-of-data.
	PhaseDrainingTail
	// PhaseCountSatisfied: accumulated rows reached the upstream count hint.
	PhaseCountSatisfied
	// PhaseLimitReached: caller's row limit (or the hard safety ceiling)
	// reached.
	PhaseLimitReached
	// PhaseExhausted: empty-page tolerance exceeded; definitive end-of-data.
	PhaseExhausted
)

func (p FetchPhase) String() string {
	switch p {
	case PhaseProbing:
		return "probing"
	case PhaseDrainingTail:
		return "draining_tail"
	case PhaseCountSatisfied:
		return "count_satisfied"
	case PhaseLimitReached:
		return "limit_reached"
	case PhaseExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// terminal reports whether the phase ends pagination.
func (p FetchPhase) terminal() bool {
	return p == PhaseCountSatisfied || p == PhaseLimitReached || p == PhaseExhausted
}

// pageTracker is the per-fetch transient state: accumulated row count, next
// offset, count hint, and the empty-page / same-count counters that drive the
// adaptive termination heuristics. Discarded when the fetch terminates.
type pageTracker struct {
	phase FetchPhase

	rows       int // rows accumulated so far (bounded by desiredLimit)
	nextOffset int
	totalCount int // upstream count hint; -1 while unknown

	desiredLimit int // 0 = unbounded
	pageSize     int

	emptyTolerance  int
	ceiling         int
	streakThreshold int

	consecutiveEmpty int
	lastPageCount    int
	sameCountStreak  int
	capSuspected     bool
}

func newPageTracker(cfg FetcherConfig, desiredLimit int) *pageTracker {
	return &pageTracker{
		phase:           PhaseProbing,
		totalCount:      -1,
		desiredLimit:    desiredLimit,
		pageSize:        cfg.PageSize,
		emptyTolerance:  cfg.EmptyPageTolerance,
		ceiling:         cfg.MaxRows,
		streakThreshold: cfg.SameCountStreakWarn,
	}
}

// recordsToFetch returns the $top for the next page: the configured page
// size, clipped to whatever remains under the caller's limit.
func (t *pageTracker) recordsToFetch() int {
	if t.desiredLimit <= 0 {
		return t.pageSize
	}
	remaining := t.desiredLimit - t.rows
	if remaining < t.pageSize {
		return remaining
	}
	return t.pageSize
}

// limitAlreadyReached reports whether the fetch is complete before issuing
// another page.
func (t *pageTracker) limitAlreadyReached() bool {
	return t.desiredLimit > 0 && t.rows >= t.desiredLimit
}

// setCountHint records the upstream total count. Called at most once, from
// the first page that carries a usable hint.
func (t *pageTracker) setCountHint(count int) {
	if t.totalCount < 0 && count >= 0 {
		t.totalCount = count
	}
}

// observe transitions the tracker after a page returned `received` rows, of
// which `kept` were appended (kept < received only when the caller's limit
// truncated the page). The offset always advances by the rows actually
// received, never by the nominal page size: the upstream has been seen
// returning short pages mid-set, and advancing by the request size would
// silently skip rows.
func (t *pageTracker) observe(received, kept int) {
	t.rows += kept
	t.nextOffset += received

	// Rule order: caller limit, then known count, then the ceiling, then the
	// empty-page heuristics.
	if t.desiredLimit > 0 && t.rows >= t.desiredLimit {
		t.phase = PhaseLimitReached
		return
	}
	if t.totalCount >= 0 && t.rows >= t.totalCount {
		t.phase = PhaseCountSatisfied
		return
	}
	if t.ceiling > 0 && t.rows >= t.ceiling {
		// Forced stop against a misbehaving upstream; reported as a limit.
		t.phase = PhaseLimitReached
		return
	}

	if received == 0 {
		t.consecutiveEmpty++
		t.sameCountStreak = 0
		if t.consecutiveEmpty >= t.emptyTolerance {
			t.phase = PhaseExhausted
		} else {
			t.phase = PhaseDrainingTail
		}
		return
	}

	t.consecutiveEmpty = 0
	if received == t.lastPageCount {
		t.sameCountStreak++
	} else {
		t.sameCountStreak = 1
	}
	t.lastPageCount = received
	// A long run of identical non-zero page sizes usually means the server
	// is capping $top below what we asked for. That alone never stops
	// pagination; it is only surfaced for the fetch loop to log once.
	if t.streakThreshold > 0 && t.sameCountStreak > t.streakThreshold {
		t.capSuspected = true
	}
	t.phase = PhaseProbing
}
