package redis

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewClient connects to redis. Returns nil when redis is unreachable; the
// session store then runs on its in-memory fallback.
func NewClient(address string) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: address,
	})
	if _, err := client.Ping(context.Background()).Result(); err != nil {
		log.Println("Redis not available. Running without Redis.")
		return nil
	}

	log.Println("Redis connected successfully.")
	return client
}

// SessionStore keeps live session tokens with a TTL. Backed by redis when
// available, otherwise by a local map (single-process deployments, tests).
type SessionStore struct {
	client *redis.Client

	mu    sync.Mutex
	local map[string]time.Time
}

func NewSessionStore(client *redis.Client) *SessionStore {
	return &SessionStore{
		client: client,
		local:  map[string]time.Time{},
	}
}

func (s *SessionStore) Put(ctx context.Context, token string, ttl time.Duration) error {
	if s.client != nil {
		return s.client.Set(ctx, token, "1", ttl).Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.local[token] = time.Now().Add(ttl)
	return nil
}

func (s *SessionStore) Exists(ctx context.Context, token string) (bool, error) {
	if s.client != nil {
		n, err := s.client.Exists(ctx, token).Result()
		if err != nil {
			return false, err
		}
		return n > 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	deadline, ok := s.local[token]
	if !ok {
		return false, nil
	}
	if time.Now().After(deadline) {
		delete(s.local, token)
		return false, nil
	}
	return true, nil
}

func (s *SessionStore) Delete(ctx context.Context, token string) error {
	if s.client != nil {
		return s.client.Del(ctx, token).Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.local, token)
	return nil
}
