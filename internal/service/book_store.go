package service

import (
	"context"
	"sync"

	"trade_sim/internal/domain"
)

// BookStore holds the single latest validated snapshot.
// The ingestion consumer is the only writer; readers either read the current value
// or wait on the notify channel, which is closed and replaced on every publish.
type BookStore struct {
	mu      sync.RWMutex
	current *domain.OrderbookSnapshot
	version uint64
	changed chan struct{}
}

// NewBookStore creates an empty store.
func NewBookStore() *BookStore {
	return &BookStore{changed: make(chan struct{})}
}

// Publish replaces the current snapshot and wakes all waiters.
// The snapshot must not be modified after this call.
func (s *BookStore) Publish(snap *domain.OrderbookSnapshot) {
	if snap == nil {
		return
	}
	s.mu.Lock()
	s.current = snap
	s.version++
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()
}

// Latest returns the current snapshot without waiting.
func (s *BookStore) Latest() (*domain.OrderbookSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.current != nil
}

// Version returns how many snapshots have been published.
func (s *BookStore) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Wait returns the current snapshot, suspending until the first one is published.
func (s *BookStore) Wait(ctx context.Context) (*domain.OrderbookSnapshot, error) {
	return s.WaitNext(ctx, 0)
}

// WaitNext suspends until a snapshot with version > after exists.
func (s *BookStore) WaitNext(ctx context.Context, after uint64) (*domain.OrderbookSnapshot, error) {
	for {
		s.mu.RLock()
		snap, version, changed := s.current, s.version, s.changed
		s.mu.RUnlock()

		if snap != nil && version > after {
			return snap, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-changed:
		}
	}
}
