package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"go.pilab.hu/socialcore/domain"
)

// MemoryResetStore implements ResetTokenStore using ttlcache.
type MemoryResetStore struct {
	mu    sync.Mutex
	cache *ttlcache.Cache[string, ResetEntry]
}

// NewMemoryResetStore creates an in-memory reset token store with automatic
// cleanup. Stop releases the cleanup goroutine.
func NewMemoryResetStore() *MemoryResetStore {
	c := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, ResetEntry](),
	)
	go c.Start()

	return &MemoryResetStore{cache: c}
}

func (s *MemoryResetStore) Save(_ context.Context, token string, entry ResetEntry) error {
	ttl := time.Until(entry.ExpiresAt)
	if ttl <= 0 {
		// ttlcache treats non-positive TTLs as "never expire"
		return nil
	}
	s.cache.Set(HashToken(token), entry, ttl)
	return nil
}

func (s *MemoryResetStore) Consume(_ context.Context, token string) (*ResetEntry, error) {
	key := HashToken(token)

	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.cache.Get(key)
	if item == nil || item.IsExpired() {
		return nil, ErrTokenNotFound
	}
	s.cache.Delete(key)

	entry := item.Value()
	return &entry, nil
}

// Len counts the pending tokens.
func (s *MemoryResetStore) Len() int {
	return s.cache.Len()
}

func (s *MemoryResetStore) Stop() {
	s.cache.Stop()
}

const sessionKey = "session"

// MemorySessionStore implements SessionStore using ttlcache. The session
// lives for the configured TTL after the last Save.
type MemorySessionStore struct {
	cache *ttlcache.Cache[string, *domain.Identity]
}

func NewMemorySessionStore(ttl time.Duration) *MemorySessionStore {
	c := ttlcache.New(
		ttlcache.WithTTL[string, *domain.Identity](ttl),
		ttlcache.WithDisableTouchOnHit[string, *domain.Identity](),
	)
	go c.Start()

	return &MemorySessionStore{cache: c}
}

func (s *MemorySessionStore) Save(_ context.Context, id *domain.Identity) error {
	s.cache.Set(sessionKey, id.Clone(), ttlcache.DefaultTTL)
	return nil
}

func (s *MemorySessionStore) Load(_ context.Context) (*domain.Identity, error) {
	item := s.cache.Get(sessionKey)
	if item == nil || item.IsExpired() {
		return nil, nil
	}
	return item.Value().Clone(), nil
}

func (s *MemorySessionStore) Clear(_ context.Context) error {
	s.cache.Delete(sessionKey)
	return nil
}

func (s *MemorySessionStore) Stop() {
	s.cache.Stop()
}
