package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// --- Redis Session Store ---

// redisSessionStore keeps session state in Redis so it survives server
// restarts. Each key lives under "session:<key>" with a sliding TTL.
//
// The per-key lock is process-local: it serializes same-session requests
// handled by this process, which matches the single-process deployment
// model. It is not a distributed lock.
type redisSessionStore struct {
	client *redis.Client
	seed   func() map[int]any
	ttl    time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newRedisSessionStore(url string, ttl time.Duration, seed func() map[int]any) (*redisSessionStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &redisSessionStore{
		client: client,
		seed:   seed,
		ttl:    ttl,
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

func (s *redisSessionStore) keyLock(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

func sessionRedisKey(key string) string {
	return "session:" + key
}

func (s *redisSessionStore) Update(ctx context.Context, key string, fn func(state map[int]any) error) error {
	l := s.keyLock(key)
	l.Lock()
	defer l.Unlock()

	rkey := sessionRedisKey(key)
	state := make(map[int]any)
	raw, err := s.client.Get(ctx, rkey).Result()
	switch {
	case err == redis.Nil:
		state = s.seed()
	case err != nil:
		return fmt.Errorf("get session %s: %w", key, err)
	default:
		if err := json.Unmarshal([]byte(raw), &state); err != nil {
			return fmt.Errorf("decode session %s: %w", key, err)
		}
	}

	if err := fn(state); err != nil {
		return err
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", key, err)
	}
	if err := s.client.Set(ctx, rkey, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("set session %s: %w", key, err)
	}
	return nil
}

func (s *redisSessionStore) Len() int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var count int
	iter := s.client.Scan(ctx, 0, "session:*", 1000).Iterator()
	for iter.Next(ctx) {
		count++
	}
	return count
}

func (s *redisSessionStore) Close() error {
	return s.client.Close()
}
