// Package memory keeps each user's long-term facts: short durable statements
// extracted from conversations that stay useful across resets.
package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/mnemo-bot/mnemo/internal/store"
)

// ErrNotFound is returned when a fact index is out of range.
var ErrNotFound = errors.New("not found")

// Record holds one user's facts in insertion order. Facts are unique by
// exact string equality; no normalization or semantic matching is applied.
type Record struct {
	Facts     []string  `json:"facts"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Store struct {
	path     string
	maxFacts int

	mu    sync.Mutex
	users map[string]*Record
}

// NewStore loads the memory document at path. The legacy schema, where a
// user's value was a bare fact array, is upgraded at load time.
func NewStore(path string, maxFacts int) (*Store, error) {
	s := &Store{
		path:     path,
		maxFacts: maxFacts,
		users:    make(map[string]*Record),
	}

	var raw map[string]json.RawMessage
	if err := store.Load(path, &raw); err != nil {
		return nil, fmt.Errorf("load memory: %w", err)
	}
	for user, doc := range raw {
		rec, err := migrateRecord(doc)
		if err != nil {
			return nil, fmt.Errorf("migrate memory for %s: %w", user, err)
		}
		s.users[user] = rec
	}
	if len(s.users) > 0 {
		log.Printf("[memory] loaded facts for %d users", len(s.users))
	}
	return s, nil
}

func migrateRecord(doc json.RawMessage) (*Record, error) {
	var facts []string
	if err := json.Unmarshal(doc, &facts); err == nil {
		return &Record{Facts: facts}, nil
	}
	var rec Record
	if err := json.Unmarshal(doc, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Merge appends facts not already present, then evicts the oldest entries
// beyond the capacity. Returns the number of facts actually added.
func (s *Store) Merge(user string, facts []string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.users[user]
	if !ok {
		rec = &Record{}
		s.users[user] = rec
	}

	added := 0
	for _, fact := range facts {
		fact = strings.TrimSpace(fact)
		if fact == "" {
			continue
		}
		if contains(rec.Facts, fact) {
			continue
		}
		rec.Facts = append(rec.Facts, fact)
		added++
	}
	if added == 0 {
		return 0
	}

	// FIFO eviction: the oldest facts go first.
	if len(rec.Facts) > s.maxFacts {
		rec.Facts = append([]string(nil), rec.Facts[len(rec.Facts)-s.maxFacts:]...)
	}
	rec.UpdatedAt = time.Now()
	s.saveLocked()
	return added
}

// List returns a copy of the user's facts in insertion order.
func (s *Store) List(user string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.users[user]
	if !ok {
		return nil
	}
	out := make([]string, len(rec.Facts))
	copy(out, rec.Facts)
	return out
}

// Delete removes one fact by its 1-based display index and returns it.
func (s *Store) Delete(user string, index int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.users[user]
	if !ok || index < 1 || index > len(rec.Facts) {
		return "", fmt.Errorf("fact %d: %w", index, ErrNotFound)
	}

	removed := rec.Facts[index-1]
	rec.Facts = append(rec.Facts[:index-1], rec.Facts[index:]...)
	rec.UpdatedAt = time.Now()
	s.saveLocked()
	return removed, nil
}

// Clear empties the user's facts and returns how many were removed.
func (s *Store) Clear(user string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.users[user]
	if !ok || len(rec.Facts) == 0 {
		return 0
	}
	count := len(rec.Facts)
	rec.Facts = nil
	rec.UpdatedAt = time.Now()
	s.saveLocked()
	return count
}

func contains(facts []string, fact string) bool {
	for _, f := range facts {
		if f == fact {
			return true
		}
	}
	return false
}

func (s *Store) saveLocked() {
	if err := store.Save(s.path, s.users); err != nil {
		log.Printf("[memory] save failed: %v", err)
	}
}
