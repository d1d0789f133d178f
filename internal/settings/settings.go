// Package settings holds the key/value configuration assembled at startup.
//
// Keys are compared case-insensitively and use ":" to separate sections.
// The store accepts writes until Freeze is called; after that it is read-only
// and safe to share across request handlers.
package settings

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// KeyVaultURL is the key naming the remote secret store to load at startup.
const KeyVaultURL = "KeyVaultUrl"

var (
	// ErrFrozen is returned when a write is attempted after Freeze.
	ErrFrozen = errors.New("settings store is read-only")
	// ErrEmptyKey is returned when a key is blank.
	ErrEmptyKey = errors.New("settings key must not be empty")
)

type entry struct {
	key   string
	value string
}

// Store is the startup configuration mapping.
type Store struct {
	mu     sync.RWMutex
	values map[string]entry
	frozen bool
}

// New creates a store seeded with a copy of initial.
func New(initial map[string]string) *Store {
	s := &Store{values: make(map[string]entry, len(initial))}
	for key, value := range initial {
		if strings.TrimSpace(key) == "" {
			continue
		}
		s.values[normalizeKey(key)] = entry{key: key, value: value}
	}
	return s
}

// Get returns the value stored under key and whether it was present.
func (s *Store) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.values[normalizeKey(key)]
	return e.value, ok
}

// Lookup returns the value stored under key, or "" when absent.
func (s *Store) Lookup(key string) string {
	value, _ := s.Get(key)
	return value
}

// Set stores value under key.
func (s *Store) Set(key, value string) error {
	if strings.TrimSpace(key) == "" {
		return ErrEmptyKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frozen {
		return fmt.Errorf("set %q: %w", key, ErrFrozen)
	}
	s.values[normalizeKey(key)] = entry{key: key, value: value}
	return nil
}

// Merge stores every pair in values, overriding existing keys. Either all
// pairs are applied or none are.
func (s *Store) Merge(values map[string]string) error {
	for key := range values {
		if strings.TrimSpace(key) == "" {
			return ErrEmptyKey
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frozen {
		return fmt.Errorf("merge %d keys: %w", len(values), ErrFrozen)
	}
	for key, value := range values {
		s.values[normalizeKey(key)] = entry{key: key, value: value}
	}
	return nil
}

// Freeze makes the store read-only. It is idempotent.
func (s *Store) Freeze() {
	s.mu.Lock()
	s.frozen = true
	s.mu.Unlock()
}

// Len returns the number of stored keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// Keys returns the stored keys, sorted, in the casing they were last written with.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.values))
	for _, e := range s.values {
		keys = append(keys, e.key)
	}
	sort.Strings(keys)
	return keys
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
