package session

import (
	"context"
	"log/slog"
	"sync"
)

// LoggingStore wraps a Store and logs write failures instead of returning
// them. Persistence is best effort: a failed save must not cost the user
// the answer that was already printed.
type LoggingStore struct {
	Store
	mu     sync.Mutex
	warned map[string]bool // rate-limit warnings by operation
}

// NewLoggingStore creates a new LoggingStore wrapper.
func NewLoggingStore(store Store) *LoggingStore {
	return &LoggingStore{
		Store:  store,
		warned: make(map[string]bool),
	}
}

// logOnce logs a warning only once per operation to avoid spamming.
func (s *LoggingStore) logOnce(op string, err error) {
	if err == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.warned[op] {
		return
	}
	s.warned[op] = true
	slog.Warn("session persistence failed", "op", op, "error", err)
}

// Save wraps Store.Save with error logging. It never fails.
func (s *LoggingStore) Save(ctx context.Context, sess *Session) error {
	s.logOnce("save", s.Store.Save(ctx, sess))
	return nil
}
