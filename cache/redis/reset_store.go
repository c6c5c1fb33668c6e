package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"go.pilab.hu/socialcore/cache"
)

// ResetStore implements cache.ResetTokenStore using Redis, so reset links
// work across server instances.
type ResetStore struct {
	client redis.UniversalClient
	prefix string
}

func NewResetStore(client redis.UniversalClient, prefix string) *ResetStore {
	return &ResetStore{client: client, prefix: prefix}
}

func (r *ResetStore) redisKey(token string) string {
	return fmt.Sprintf("%s:reset:%s", r.prefix, cache.HashToken(token))
}

// Save stores the entry with an expiry matching entry.ExpiresAt.
func (r *ResetStore) Save(ctx context.Context, token string, entry cache.ResetEntry) error {
	ttl := time.Until(entry.ExpiresAt)
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal reset entry: %w", err)
	}
	if err := r.client.Set(ctx, r.redisKey(token), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store reset token in Redis: %w", err)
	}
	return nil
}

// Consume reads and deletes the entry in one GETDEL round trip.
func (r *ResetStore) Consume(ctx context.Context, token string) (*cache.ResetEntry, error) {
	data, err := r.client.GetDel(ctx, r.redisKey(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, cache.ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume reset token: %w", err)
	}

	var entry cache.ResetEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal reset entry: %w", err)
	}
	return &entry, nil
}
