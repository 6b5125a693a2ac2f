// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store persists connection profiles and query history in BadgerDB.
// Passwords are never written: a profile holds everything needed to reach a
// Service Layer except the secret, which the caller supplies per request.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

const (
	connectionPrefix = "connection/"
	historyPrefix    = "history/"

	// historyLimit bounds the retained history; the oldest entries are
	// pruned as new ones arrive.
	historyLimit = 200
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("not found")

// ConnectionProfile is a saved Service Layer endpoint, minus the password.
type ConnectionProfile struct {
	Name        string    `json:"name"`
	ServerURL   string    `json:"server_url"`
	CompanyDB   string    `json:"company_db"`
	Username    string    `json:"username"`
	InsecureTLS bool      `json:"insecure_tls,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// HistoryEntry records one executed query.
type HistoryEntry struct {
	ID         string    `json:"id"`
	Question   string    `json:"question"`
	Resource   string    `json:"resource"`
	Filter     string    `json:"filter,omitempty"`
	RowCount   int       `json:"row_count"`
	Outcome    string    `json:"outcome"`
	ChartKind  string    `json:"chart_kind,omitempty"`
	ExecutedAt time.Time `json:"executed_at"`
}

// Config controls how the store opens its database.
type Config struct {
	// Path is the database directory. Required unless InMemory.
	Path string
	// InMemory runs without disk persistence (tests).
	InMemory bool
}

// Store wraps the BadgerDB handle.
type Store struct {
	db *badger.DB
}

// Open opens (creating if needed) the database.
func Open(cfg Config) (*Store, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("path is required for persistent database")
		}
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithLogger(nil) // Disable BadgerDB's internal logging

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveConnection upserts a profile keyed by its name.
func (s *Store) SaveConnection(profile ConnectionProfile) error {
	if strings.TrimSpace(profile.Name) == "" {
		return errors.New("connection profile needs a name")
	}
	profile.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("marshal connection profile: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(connectionPrefix+profile.Name), data)
	})
}

// GetConnection loads a profile by name.
func (s *Store) GetConnection(name string) (ConnectionProfile, error) {
	var profile ConnectionProfile
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(connectionPrefix + name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &profile)
		})
	})
	return profile, err
}

// ListConnections returns all profiles sorted by name.
func (s *Store) ListConnections() ([]ConnectionProfile, error) {
	var profiles []ConnectionProfile
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(connectionPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var profile ConnectionProfile
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &profile)
			})
			if err != nil {
				return err
			}
			profiles = append(profiles, profile)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].Name < profiles[j].Name })
	return profiles, nil
}

// DeleteConnection removes a profile. Deleting an absent profile is not an
// error.
func (s *Store) DeleteConnection(name string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(connectionPrefix + name))
	})
}

// AppendHistory records an executed query, pruning the oldest entries past
// the retention limit. The entry's ID and timestamp are assigned here.
func (s *Store) AppendHistory(entry HistoryEntry) (HistoryEntry, error) {
	entry.ID = uuid.NewString()
	if entry.ExecutedAt.IsZero() {
		entry.ExecutedAt = time.Now().UTC()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return HistoryEntry{}, fmt.Errorf("marshal history entry: %w", err)
	}
	// Keys sort by timestamp so iteration is chronological; the uuid suffix
	// keeps same-instant entries distinct.
	key := fmt.Sprintf("%s%s/%s", historyPrefix, entry.ExecutedAt.Format(time.RFC3339Nano), entry.ID)

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
	if err != nil {
		return HistoryEntry{}, err
	}
	if err := s.pruneHistory(); err != nil {
		return HistoryEntry{}, err
	}
	return entry, nil
}

// History returns up to limit entries, newest first. limit <= 0 returns all
// retained entries.
func (s *Store) History(limit int) ([]HistoryEntry, error) {
	var entries []HistoryEntry
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(historyPrefix)
		// Reverse iteration seeks to the end of the prefix range.
		seek := append(append([]byte{}, prefix...), 0xff)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(entries) >= limit {
				break
			}
			var entry HistoryEntry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	})
	return entries, err
}

// ClearHistory removes every history entry.
func (s *Store) ClearHistory() error {
	return s.db.Update(func(txn *badger.Txn) error {
		keys, err := collectKeys(txn, []byte(historyPrefix))
		if err != nil {
			return err
		}
		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) pruneHistory() error {
	return s.db.Update(func(txn *badger.Txn) error {
		keys, err := collectKeys(txn, []byte(historyPrefix))
		if err != nil {
			return err
		}
		// Keys are chronological; drop from the front.
		for len(keys) > historyLimit {
			if err := txn.Delete(keys[0]); err != nil {
				return err
			}
			keys = keys[1:]
		}
		return nil
	})
}

func collectKeys(txn *badger.Txn, prefix []byte) ([][]byte, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	return keys, nil
}
