// Package conversation holds each user's rolling message buffer and running
// summary, and assembles the bounded context handed to the model.
package conversation

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"encoding/json"

	"github.com/mnemo-bot/mnemo/internal/config"
	"github.com/mnemo-bot/mnemo/internal/store"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// State is one user's conversation: the compressed summary of older turns
// plus the recent messages not yet folded into it.
type State struct {
	Summary  string    `json:"summary"`
	Messages []Message `json:"messages"`
}

type Store struct {
	path string
	cfg  config.ConversationConfig

	mu     sync.Mutex
	states map[string]*State
}

// NewStore loads the conversation document at path. The legacy schema, where
// a user's value was a bare message array with no summary, is migrated here
// in one place rather than branching at every read.
func NewStore(path string, cfg config.ConversationConfig) (*Store, error) {
	s := &Store{
		path:   path,
		cfg:    cfg,
		states: make(map[string]*State),
	}

	var raw map[string]json.RawMessage
	if err := store.Load(path, &raw); err != nil {
		return nil, fmt.Errorf("load conversations: %w", err)
	}
	for user, doc := range raw {
		st, err := migrateState(doc)
		if err != nil {
			return nil, fmt.Errorf("migrate conversation for %s: %w", user, err)
		}
		s.states[user] = st
	}
	if len(s.states) > 0 {
		log.Printf("[conversation] loaded state for %d users", len(s.states))
	}
	return s, nil
}

func migrateState(doc json.RawMessage) (*State, error) {
	var msgs []Message
	if err := json.Unmarshal(doc, &msgs); err == nil {
		// Legacy schema: bare message list, summary did not exist yet.
		return &State{Messages: msgs}, nil
	}
	var st State
	if err := json.Unmarshal(doc, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Store) state(user string) *State {
	st, ok := s.states[user]
	if !ok {
		st = &State{}
		s.states[user] = st
	}
	return st
}

// Append adds a message to the user's buffer and returns the new buffer
// length. Content validation belongs to the caller.
func (s *Store) Append(user, role, content string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state(user)
	st.Messages = append(st.Messages, Message{Role: role, Content: content, Timestamp: time.Now()})
	s.saveLocked()
	return len(st.Messages)
}

// NeedsCompression reports whether the buffer has reached the threshold.
func (s *Store) NeedsCompression(user string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[user]
	return ok && len(st.Messages) >= s.cfg.CompressThreshold
}

// Window returns a copy of the oldest n buffered messages.
func (s *Store) Window(user string, n int) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[user]
	if !ok {
		return nil
	}
	if n > len(st.Messages) {
		n = len(st.Messages)
	}
	out := make([]Message, n)
	copy(out, st.Messages[:n])
	return out
}

// Messages returns a copy of the user's full buffer.
func (s *Store) Messages(user string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[user]
	if !ok {
		return nil
	}
	out := make([]Message, len(st.Messages))
	copy(out, st.Messages)
	return out
}

func (s *Store) Summary(user string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[user]; ok {
		return st.Summary
	}
	return ""
}

// ApplyCompression replaces the summary and drops the oldest drop messages,
// keeping the tail that was not folded in.
func (s *Store) ApplyCompression(user, summary string, drop int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state(user)
	st.Summary = summary
	if drop > len(st.Messages) {
		drop = len(st.Messages)
	}
	st.Messages = append([]Message(nil), st.Messages[drop:]...)
	s.saveLocked()
}

// Reset clears the user's summary and buffer, returning the prior state so
// the caller can extract memory from it first.
func (s *Store) Reset(user string) State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state(user)
	old := *st
	*st = State{}
	s.saveLocked()
	return old
}

// Stats returns the buffered message count and whether a summary exists.
func (s *Store) Stats(user string) (messages int, hasSummary bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[user]
	if !ok {
		return 0, false
	}
	return len(st.Messages), st.Summary != ""
}

// AssembleContext builds the model context: a timestamp line, the long-term
// memory block (capped at MaxMemoryChars, newest facts win), the summary
// block, and the recent messages filled newest-first under the remaining
// budget. The result never exceeds MaxContextChars.
func (s *Store) AssembleContext(user string, facts []string) string {
	s.mu.Lock()
	st, ok := s.states[user]
	var summary string
	var messages []Message
	if ok {
		summary = st.Summary
		messages = append([]Message(nil), st.Messages...)
	}
	s.mu.Unlock()

	const sep = "\n\n---\n\n"
	parts := []string{currentTimestamp()}

	if block := memoryBlock(facts, s.cfg.MaxMemoryChars); block != "" {
		parts = append(parts, block)
	}
	if summary != "" {
		parts = append(parts, "[Previous conversation summary]\n"+summary)
	}

	// Fill recent messages from newest backwards so the oldest are the
	// first to drop when the budget runs out.
	base := len(strings.Join(parts, sep))
	budget := s.cfg.MaxContextChars - base - len(sep) - len("[Recent conversation]\n")
	var entries []string
	total := 0
	for i := len(messages) - 1; i >= 0; i-- {
		entry := formatMessage(messages[i])
		cost := len(entry)
		if len(entries) > 0 {
			cost += len("\n\n")
		}
		if total+cost > budget {
			break
		}
		entries = append([]string{entry}, entries...)
		total += cost
	}
	if len(entries) > 0 {
		parts = append(parts, "[Recent conversation]\n"+strings.Join(entries, "\n\n"))
	}

	out := strings.Join(parts, sep)
	if len(out) > s.cfg.MaxContextChars {
		out = out[:s.cfg.MaxContextChars]
	}
	return out
}

// memoryBlock renders facts in insertion order but, when over budget, keeps
// the most recent facts rather than the oldest.
func memoryBlock(facts []string, maxChars int) string {
	if len(facts) == 0 {
		return ""
	}
	const header = "[Long-term memory about this user]\n"

	kept := make([]string, 0, len(facts))
	total := 0
	for i := len(facts) - 1; i >= 0; i-- {
		line := "- " + facts[i]
		cost := len(line)
		if len(kept) > 0 {
			cost++ // newline
		}
		if total+cost > maxChars {
			break
		}
		kept = append([]string{line}, kept...)
		total += cost
	}
	if len(kept) == 0 {
		return ""
	}
	return header + strings.Join(kept, "\n")
}

func formatMessage(m Message) string {
	role := m.Role
	if role != "" {
		role = strings.ToUpper(role[:1]) + role[1:]
	}
	return role + ": " + m.Content
}

func currentTimestamp() string {
	now := time.Now()
	zone, _ := now.Zone()
	return fmt.Sprintf("Current Date: %s (%s)", now.Format("2006-01-02 Mon 15:04"), zone)
}

func (s *Store) saveLocked() {
	if err := store.Save(s.path, s.states); err != nil {
		log.Printf("[conversation] save failed: %v", err)
	}
}
