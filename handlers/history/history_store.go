// Package history is the per-user session store: an ordered list of
// user/assistant turns keyed by the chat platform's user id.
package history

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"voicerelay/core"
)

var (
	// ErrEmptyTurn is returned when Append is given a turn without content.
	ErrEmptyTurn = errors.New("history: turn content is empty")
	// ErrInvalidRole is returned when Append is given turns in the wrong roles.
	ErrInvalidRole = errors.New("history: expected a user turn followed by an assistant turn")
)

// Store is the only way to read or write turns. Implementations must be safe
// for concurrent use.
type Store interface {
	// Get returns the user's turns in insertion order, or an empty slice.
	Get(ctx context.Context, userKey int64) ([]core.Turn, error)
	// Append adds one exchange. Either both turns are stored or neither is.
	Append(ctx context.Context, userKey int64, userTurn, assistantTurn core.Turn) error
	// Clear removes the session. Clearing a missing session is not an error.
	Clear(ctx context.Context, userKey int64) error
}

// validateExchange enforces the storage invariant shared by all backends.
func validateExchange(userTurn, assistantTurn core.Turn) error {
	if userTurn.Role != core.RoleUser || assistantTurn.Role != core.RoleAssistant {
		return ErrInvalidRole
	}
	if !userTurn.HasContent() || !assistantTurn.HasContent() {
		return ErrEmptyTurn
	}
	return nil
}

// windowSize rounds the configured cap down to whole exchanges.
func windowSize(maxTurns int) int {
	if maxTurns <= 0 {
		return 0
	}
	if maxTurns < 2 {
		return 2
	}
	return maxTurns - maxTurns%2
}

func formatKey(userKey int64) string {
	return strconv.FormatInt(userKey, 10)
}

// MemoryStore keeps sessions in process memory. Sessions live until cleared
// or the process exits.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[int64][]core.Turn
	maxTurns int
}

// NewMemoryStore creates a MemoryStore. maxTurns caps each session (0 = unbounded).
func NewMemoryStore(maxTurns int) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[int64][]core.Turn),
		maxTurns: windowSize(maxTurns),
	}
}

func (s *MemoryStore) Get(_ context.Context, userKey int64) ([]core.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	turns := s.sessions[userKey]
	copied := make([]core.Turn, len(turns))
	copy(copied, turns)
	return copied, nil
}

func (s *MemoryStore) Append(_ context.Context, userKey int64, userTurn, assistantTurn core.Turn) error {
	if err := validateExchange(userTurn, assistantTurn); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	turns := append(s.sessions[userKey], userTurn, assistantTurn)
	if s.maxTurns > 0 && len(turns) > s.maxTurns {
		// Copy into a fresh slice so the dropped prefix can be collected.
		trimmed := make([]core.Turn, s.maxTurns)
		copy(trimmed, turns[len(turns)-s.maxTurns:])
		turns = trimmed
	}
	s.sessions[userKey] = turns
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, userKey int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userKey)
	return nil
}

// Len returns the number of sessions currently held.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
