package session

import "context"

// NoopStore is a no-op implementation of Store used when sessions are disabled.
// It silently discards all writes and finds nothing.
type NoopStore struct{}

func (s *NoopStore) Save(ctx context.Context, sess *Session) error {
	if sess.ID == "" {
		sess.ID = NewID()
	}
	return nil
}

func (s *NoopStore) Get(ctx context.Context, id string) (*Session, error) {
	return nil, ErrNotFound
}

func (s *NoopStore) Latest(ctx context.Context) (*Session, error) {
	return nil, ErrNotFound
}

func (s *NoopStore) List(ctx context.Context, limit int) ([]Summary, error) {
	return nil, nil
}

func (s *NoopStore) Delete(ctx context.Context, id string) error {
	return ErrNotFound
}

func (s *NoopStore) Clear(ctx context.Context) (int, error) {
	return 0, nil
}

func (s *NoopStore) Close() error {
	return nil
}
