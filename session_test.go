package main

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// memorySessionStore
// ---------------------------------------------------------------------------

func testSeed() map[int]any {
	return map[int]any{3: "default", 7: 0.0}
}

func TestSessionStore_SeedsOnFirstSight(t *testing.T) {
	s := newMemorySessionStore(testSeed)
	var got map[int]any
	err := s.Update(context.Background(), "abc", func(state map[int]any) error {
		got = map[int]any{}
		for k, v := range state {
			got[k] = v
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if got[3] != "default" || got[7] != 0.0 {
		t.Errorf("fresh session state = %v, want seeded defaults", got)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestSessionStore_MutationsPersist(t *testing.T) {
	s := newMemorySessionStore(testSeed)
	ctx := context.Background()

	s.Update(ctx, "abc", func(state map[int]any) error {
		state[3] = "changed"
		return nil
	})
	var got any
	s.Update(ctx, "abc", func(state map[int]any) error {
		got = state[3]
		return nil
	})
	if got != "changed" {
		t.Errorf("state[3] = %v after second Update, want %q", got, "changed")
	}
}

func TestSessionStore_KeysAreIndependent(t *testing.T) {
	s := newMemorySessionStore(testSeed)
	ctx := context.Background()

	s.Update(ctx, "a", func(state map[int]any) error {
		state[3] = "for-a"
		return nil
	})
	var got any
	s.Update(ctx, "b", func(state map[int]any) error {
		got = state[3]
		return nil
	})
	if got != "default" {
		t.Errorf("session b saw %v, want its own seeded default", got)
	}
	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2", s.Len())
	}
}

func TestSessionStore_FnErrorPropagates(t *testing.T) {
	s := newMemorySessionStore(testSeed)
	want := fmt.Errorf("boom")
	err := s.Update(context.Background(), "k", func(state map[int]any) error {
		state[3] = "mutated"
		return want
	})
	if err != want {
		t.Errorf("Update returned %v, want fn error", err)
	}
	// Mutations made before the error stick: state is shared in place.
	var got any
	s.Update(context.Background(), "k", func(state map[int]any) error {
		got = state[3]
		return nil
	})
	if got != "mutated" {
		t.Errorf("state[3] = %v, want mutation kept despite error", got)
	}
}

// Same-key updates serialize; the counter must not lose increments.
func TestSessionStore_SameKeySerialized(t *testing.T) {
	s := newMemorySessionStore(func() map[int]any { return map[int]any{1: 0} })
	ctx := context.Background()

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Update(ctx, "shared", func(state map[int]any) error {
				state[1] = state[1].(int) + 1
				return nil
			})
		}()
	}
	wg.Wait()

	var got any
	s.Update(ctx, "shared", func(state map[int]any) error {
		got = state[1]
		return nil
	})
	if got != n {
		t.Errorf("counter = %v after %d serialized updates, want %d", got, n, n)
	}
}

// Distinct keys must not block each other: a slow update on one key
// cannot stall another key's update.
func TestSessionStore_DistinctKeysConcurrent(t *testing.T) {
	s := newMemorySessionStore(testSeed)
	ctx := context.Background()

	slowEntered := make(chan struct{})
	release := make(chan struct{})
	go s.Update(ctx, "slow", func(state map[int]any) error {
		close(slowEntered)
		<-release
		return nil
	})
	<-slowEntered

	done := make(chan struct{})
	go func() {
		s.Update(ctx, "fast", func(state map[int]any) error { return nil })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("update on a different key blocked behind a held session lock")
	}
	close(release)
}
