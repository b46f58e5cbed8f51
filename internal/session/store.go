// Package session holds the EarnState of one connected account.
//
// Writers never patch the state in place. Update hands the current value to a function that
// returns the next value, and the store publishes it atomically. A reader holding an older
// value keeps a consistent view because EarnState's With* helpers copy before they write.
package session

import (
	"sync"

	"github.com/elys-network/earn/internal/types"
)

// Store is the single source of truth for the session state.
type Store struct {
	mu      sync.Mutex
	state   types.EarnState
	version uint64
}

// NewStore creates a store seeded with the initial state.
func NewStore(initial types.EarnState) *Store {
	return &Store{state: initial}
}

// Snapshot returns the current state. The value must be treated as read-only.
func (s *Store) Snapshot() types.EarnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Version counts published updates. Useful to detect that nothing changed.
func (s *Store) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Update applies fn to the current state. If fn returns an error the state is left untouched.
// fn runs under the store lock and must not block or call back into the store.
func (s *Store) Update(fn func(types.EarnState) (types.EarnState, error)) (types.EarnState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := fn(s.state)
	if err != nil {
		return s.state, err
	}
	s.state = next
	s.version++
	return next, nil
}

// Apply is Update for transitions that cannot fail.
func (s *Store) Apply(fn func(types.EarnState) types.EarnState) types.EarnState {
	next, _ := s.Update(func(st types.EarnState) (types.EarnState, error) {
		return fn(st), nil
	})
	return next
}
