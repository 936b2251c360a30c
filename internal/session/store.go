// Package session persists conversations between invocations so a prompt
// can follow up on the previous answer.
package session

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/samsaffron/cmd2ai/internal/config"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("session not found")

// Store is the interface for session persistence.
type Store interface {
	// Save inserts or replaces the session and its full message list.
	Save(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	// Latest returns the most recently updated session, expired or not.
	Latest(ctx context.Context) (*Session, error)
	List(ctx context.Context, limit int) ([]Summary, error)
	Delete(ctx context.Context, id string) error
	// Clear deletes every session and reports how many there were.
	Clear(ctx context.Context) (int, error)

	Close() error
}

// Config holds session storage configuration.
type Config struct {
	Enabled  bool
	Path     string        // database file, empty for the default location
	Expiry   time.Duration // idle time before a session is not resumed
	MaxPairs int           // exchanges kept in history
}

// ConfigFrom converts the user-facing settings.
func ConfigFrom(c config.SessionConfig) Config {
	return Config{
		Enabled:  c.Enabled,
		Path:     c.Path,
		Expiry:   time.Duration(c.ExpiryMinutes) * time.Minute,
		MaxPairs: c.MaxPairs,
	}
}

// GetDBPath returns the path to the sessions database.
func GetDBPath() (string, error) {
	dataDir, err := config.GetDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "sessions.db"), nil
}

// NewStore creates a new Store based on the configuration.
// If sessions are disabled, returns a no-op store.
func NewStore(cfg Config) (Store, error) {
	if !cfg.Enabled {
		return &NoopStore{}, nil
	}
	return NewSQLiteStore(cfg)
}
