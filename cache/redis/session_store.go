package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"go.pilab.hu/socialcore/domain"
)

// SessionStore implements cache.SessionStore using Redis. Each store
// instance owns one session key.
type SessionStore struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

// NewSessionStore persists the session under "<prefix>:session:<name>".
// A zero ttl keeps the session until it is cleared.
func NewSessionStore(client redis.UniversalClient, prefix, name string, ttl time.Duration) *SessionStore {
	return &SessionStore{
		client: client,
		key:    fmt.Sprintf("%s:session:%s", prefix, name),
		ttl:    ttl,
	}
}

func (s *SessionStore) Save(ctx context.Context, id *domain.Identity) error {
	data, err := json.Marshal(id)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session in Redis: %w", err)
	}
	return nil
}

func (s *SessionStore) Load(ctx context.Context) (*domain.Identity, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session from Redis: %w", err)
	}

	var id domain.Identity
	if err := json.Unmarshal(data, &id); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &id, nil
}

func (s *SessionStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("failed to clear session in Redis: %w", err)
	}
	return nil
}
