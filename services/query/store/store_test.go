// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_PersistentRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestStore_SaveAndGetConnection(t *testing.T) {
	s := newTestStore(t)

	err := s.SaveConnection(ConnectionProfile{
		Name:      "prod",
		ServerURL: "https://b1.example.com:50000",
		CompanyDB: "SBODEMOUS",
		Username:  "manager",
	})
	require.NoError(t, err)

	got, err := s.GetConnection("prod")
	require.NoError(t, err)
	assert.Equal(t, "SBODEMOUS", got.CompanyDB)
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestStore_GetConnectionAbsent(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetConnection("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_SaveConnectionRequiresName(t *testing.T) {
	s := newTestStore(t)

	err := s.SaveConnection(ConnectionProfile{ServerURL: "https://x"})
	assert.Error(t, err)
}

func TestStore_ListConnectionsSorted(t *testing.T) {
	s := newTestStore(t)

	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, s.SaveConnection(ConnectionProfile{Name: name, ServerURL: "https://x"}))
	}

	profiles, err := s.ListConnections()
	require.NoError(t, err)
	require.Len(t, profiles, 3)
	assert.Equal(t, "alpha", profiles[0].Name)
	assert.Equal(t, "mid", profiles[1].Name)
	assert.Equal(t, "zeta", profiles[2].Name)
}

func TestStore_DeleteConnectionIdempotent(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.SaveConnection(ConnectionProfile{Name: "prod", ServerURL: "https://x"}))
	require.NoError(t, s.DeleteConnection("prod"))
	require.NoError(t, s.DeleteConnection("prod"))

	_, err := s.GetConnection("prod")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_HistoryNewestFirst(t *testing.T) {
	s := newTestStore(t)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := s.AppendHistory(HistoryEntry{
			Question:   fmt.Sprintf("question %d", i),
			Resource:   "Orders",
			ExecutedAt: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	entries, err := s.History(0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "question 2", entries[0].Question)
	assert.Equal(t, "question 0", entries[2].Question)
}

func TestStore_HistoryLimit(t *testing.T) {
	s := newTestStore(t)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_, err := s.AppendHistory(HistoryEntry{
			Question:   fmt.Sprintf("q%d", i),
			ExecutedAt: base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	entries, err := s.History(2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "q4", entries[0].Question)
	assert.Equal(t, "q3", entries[1].Question)
}

func TestStore_HistoryAssignsIDs(t *testing.T) {
	s := newTestStore(t)

	entry, err := s.AppendHistory(HistoryEntry{Question: "anything"})
	require.NoError(t, err)
	assert.NotEmpty(t, entry.ID)
	assert.False(t, entry.ExecutedAt.IsZero())
}

func TestStore_HistoryPrunesOldest(t *testing.T) {
	s := newTestStore(t)

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < historyLimit+10; i++ {
		_, err := s.AppendHistory(HistoryEntry{
			Question:   fmt.Sprintf("q%d", i),
			ExecutedAt: base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	entries, err := s.History(0)
	require.NoError(t, err)
	require.Len(t, entries, historyLimit)
	// The oldest ten were pruned.
	assert.Equal(t, fmt.Sprintf("q%d", historyLimit+9), entries[0].Question)
	assert.Equal(t, "q10", entries[len(entries)-1].Question)
}

func TestStore_ClearHistory(t *testing.T) {
	s := newTestStore(t)

	_, err := s.AppendHistory(HistoryEntry{Question: "one"})
	require.NoError(t, err)
	require.NoError(t, s.ClearHistory())

	entries, err := s.History(0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
