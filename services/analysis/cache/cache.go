// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache memoizes completed analysis runs by settings hash.
//
// The key covers everything that determines the output: the dataset
// content hash plus the canonical JSON of the sanitized settings.
// Identical requests therefore collapse to one
// engine invocation; concurrent identical requests are coalesced by a
// single-flight group so the engine runs once and everyone shares the
// result. Errors are never cached — a failed invocation leaves the key
// empty so the next request retries.
package cache

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/netweave/services/analysis/contracts"
	"github.com/AleutianAI/netweave/services/analysis/hashing"
)

// Bundle is one cached run outcome.
type Bundle struct {
	Results *contracts.ResultsDocument
	Posthoc *contracts.PosthocDocument
}

// Key derives the settings-hash cache key from the dataset content hash
// and the full settings value. Timestamps and other non-semantic
// document fields are deliberately excluded: two requests with the same
// data and the same settings must collide here.
func Key(datasetSHA256 string, settings any) (string, error) {
	settingsJSON, err := hashing.CanonicalJSON(settings)
	if err != nil {
		return "", fmt.Errorf("cache key: %w", err)
	}

	payload := make([]byte, 0, len(datasetSHA256)+len(settingsJSON))
	payload = append(payload, datasetSHA256...)
	payload = append(payload, settingsJSON...)
	return hashing.SHA256Hex(payload), nil
}

// Store is an in-memory, process-lifetime run cache. Safe for concurrent
// use.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*Bundle
	group   singleflight.Group
}

// New returns an empty store.
func New() *Store {
	return &Store{entries: make(map[string]*Bundle)}
}

// Do returns the cached bundle for key, or runs fn exactly once to
// produce it. The returned bool reports a cache hit. Concurrent callers
// with the same key share one fn invocation; fn errors propagate to all
// of them and nothing is stored.
func (s *Store) Do(ctx context.Context, key string, fn func(context.Context) (*Bundle, error)) (*Bundle, bool, error) {
	if b, ok := s.Get(key); ok {
		recordHit(ctx)
		return b, true, nil
	}

	v, err, shared := s.group.Do(key, func() (any, error) {
		// Double check: another flight may have filled the key between
		// the miss above and this closure running.
		if b, ok := s.Get(key); ok {
			return b, nil
		}

		b, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		s.put(key, b)
		return b, nil
	})
	if err != nil {
		recordMiss(ctx)
		return nil, false, err
	}

	// A shared flight means this caller rode along on another's engine
	// run, which counts as a hit for accounting purposes.
	if shared {
		recordHit(ctx)
	} else {
		recordMiss(ctx)
	}
	return v.(*Bundle), shared, nil
}

// Get returns the cached bundle for key, if present.
func (s *Store) Get(key string) (*Bundle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.entries[key]
	return b, ok
}

// Invalidate removes one key.
func (s *Store) Invalidate(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// Clear drops every entry.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*Bundle)
}

// Len reports the number of cached runs.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Store) put(key string, b *Bundle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = b
}
