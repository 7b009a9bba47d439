package main

import (
	"context"
	"sync"
)

// --- Session Store ---

// SessionStore maps an opaque client-chosen session key to a mutable
// component-value blob. A session is created lazily on first sight,
// seeded with the stateful components' declared defaults.
//
// Update runs fn under that key's lock, so read-modify-write cycles on
// one session are sequential even under concurrent requests. Requests on
// different keys never block each other.
type SessionStore interface {
	Update(ctx context.Context, key string, fn func(state map[int]any) error) error
	Len() int
}

// memorySessionStore keeps sessions in process memory for the life of
// the server. No expiry: acceptable at interactive-demo volume.
type memorySessionStore struct {
	mu       sync.Mutex // guards the index only, never held across fn
	sessions map[string]*sessionEntry
	seed     func() map[int]any
}

type sessionEntry struct {
	mu    sync.Mutex
	state map[int]any
}

func newMemorySessionStore(seed func() map[int]any) *memorySessionStore {
	return &memorySessionStore{
		sessions: make(map[string]*sessionEntry),
		seed:     seed,
	}
}

// entry returns the session for key, creating and seeding it if new.
func (s *memorySessionStore) entry(key string) *sessionEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[key]
	if !ok {
		e = &sessionEntry{state: s.seed()}
		s.sessions[key] = e
	}
	return e
}

func (s *memorySessionStore) Update(_ context.Context, key string, fn func(state map[int]any) error) error {
	e := s.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.state)
}

func (s *memorySessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
