// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// Tests for the pagination termination state machine.

package servicelayer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func trackerWithDefaults(limit int) *pageTracker {
	return newPageTracker(DefaultFetcherConfig(), limit)
}

func TestPageTracker_CountSatisfied(t *testing.T) {
	tr := trackerWithDefaults(0)
	tr.setCountHint(237)

	tr.observe(100, 100)
	assert.Equal(t, PhaseProbing, tr.phase)
	tr.observe(100, 100)
	assert.Equal(t, PhaseProbing, tr.phase)
	tr.observe(37, 37)

	assert.Equal(t, PhaseCountSatisfied, tr.phase)
	assert.True(t, tr.phase.terminal())
	assert.Equal(t, 237, tr.rows)
}

func TestPageTracker_EmptyPageTolerance(t *testing.T) {
	tr := trackerWithDefaults(0)

	tr.observe(50, 50)
	tr.observe(50, 50)
	tr.observe(50, 50)
	assert.Equal(t, PhaseProbing, tr.phase)

	tr.observe(0, 0)
	assert.Equal(t, PhaseDrainingTail, tr.phase, "first empty page is a possible glitch")
	tr.observe(0, 0)
	assert.Equal(t, PhaseDrainingTail, tr.phase)
	tr.observe(0, 0)
	assert.Equal(t, PhaseExhausted, tr.phase, "third consecutive empty page is definitive")
	assert.Equal(t, 150, tr.rows)
}

func TestPageTracker_EmptyStreakResetByData(t *testing.T) {
	tr := trackerWithDefaults(0)

	tr.observe(0, 0)
	tr.observe(0, 0)
	tr.observe(10, 10) // data arrives again: tolerance resets
	tr.observe(0, 0)
	tr.observe(0, 0)
	assert.Equal(t, PhaseDrainingTail, tr.phase)
	tr.observe(0, 0)
	assert.Equal(t, PhaseExhausted, tr.phase)
}

func TestPageTracker_OffsetAdvancesByActualRows(t *testing.T) {
	tr := trackerWithDefaults(0)

	// Nominal page size 100, upstream returned 30.
	tr.observe(30, 30)
	assert.Equal(t, 30, tr.nextOffset, "offset must advance by rows received, not page size")

	tr.observe(30, 30)
	assert.Equal(t, 60, tr.nextOffset)
}

func TestPageTracker_LimitReached(t *testing.T) {
	tr := trackerWithDefaults(10)

	assert.Equal(t, 10, tr.recordsToFetch(), "first request must clip $top to the limit")
	tr.observe(10, 10)
	assert.Equal(t, PhaseLimitReached, tr.phase)
}

func TestPageTracker_LimitTruncatesOversizedPage(t *testing.T) {
	tr := trackerWithDefaults(10)

	// Upstream ignored $top and sent 40 rows; only 10 were kept.
	tr.observe(40, 10)
	assert.Equal(t, PhaseLimitReached, tr.phase)
	assert.Equal(t, 10, tr.rows)
	assert.Equal(t, 40, tr.nextOffset)
}

func TestPageTracker_LimitWinsOverCount(t *testing.T) {
	tr := trackerWithDefaults(50)
	tr.setCountHint(50)

	tr.observe(50, 50)
	assert.Equal(t, PhaseLimitReached, tr.phase)
}

func TestPageTracker_RecordsToFetchClipsRemaining(t *testing.T) {
	cfg := DefaultFetcherConfig()
	cfg.PageSize = 100
	tr := newPageTracker(cfg, 130)

	assert.Equal(t, 100, tr.recordsToFetch())
	tr.observe(100, 100)
	assert.Equal(t, 30, tr.recordsToFetch())
}

func TestPageTracker_SameCountStreakFlagsCapOnly(t *testing.T) {
	tr := trackerWithDefaults(0)

	for i := 0; i < 6; i++ {
		tr.observe(20, 20)
	}
	assert.True(t, tr.capSuspected, "six identical non-zero pages should flag a suspected cap")
	assert.Equal(t, PhaseProbing, tr.phase, "a suspected cap must never stop pagination")
}

func TestPageTracker_SameCountStreakIgnoresVaryingPages(t *testing.T) {
	tr := trackerWithDefaults(0)

	counts := []int{20, 20, 19, 20, 20, 20, 20}
	for _, n := range counts {
		tr.observe(n, n)
	}
	assert.False(t, tr.capSuspected)
}

func TestPageTracker_CeilingForcesStop(t *testing.T) {
	cfg := DefaultFetcherConfig()
	cfg.MaxRows = 250
	tr := newPageTracker(cfg, 0)

	tr.observe(100, 100)
	tr.observe(100, 100)
	assert.Equal(t, PhaseProbing, tr.phase)
	tr.observe(100, 100)
	assert.Equal(t, PhaseLimitReached, tr.phase, "safety ceiling must forcibly terminate")
}

func TestPageTracker_CountHintRecordedOnce(t *testing.T) {
	tr := trackerWithDefaults(0)
	tr.setCountHint(100)
	tr.setCountHint(9999) // later hints are ignored
	assert.Equal(t, 100, tr.totalCount)
}
