package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"go.pilab.hu/socialcore/cache"
	"go.pilab.hu/socialcore/domain"
)

type sessionRecord struct {
	Identity  *domain.Identity `json:"identity"`
	ExpiresAt time.Time        `json:"expiresAt,omitempty"`
}

// SessionStore implements cache.SessionStore in the "_sessions" bucket.
type SessionStore struct {
	db   *bbolt.DB
	name string
	ttl  time.Duration
	now  func() time.Time
}

// NewSessionStore keeps the session under name. A zero ttl never expires.
func NewSessionStore(d *DB, name string, ttl time.Duration) *SessionStore {
	return &SessionStore{db: d.db, name: name, ttl: ttl, now: time.Now}
}

func (s *SessionStore) Save(_ context.Context, id *domain.Identity) error {
	rec := sessionRecord{Identity: id}
	if s.ttl > 0 {
		rec.ExpiresAt = s.now().Add(s.ttl)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(sessionsBucket))
		if err != nil {
			return err
		}
		return b.Put([]byte(s.name), data)
	})
}

func (s *SessionStore) Load(_ context.Context) (*domain.Identity, error) {
	var rec *sessionRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(sessionsBucket))
		if b == nil {
			return nil
		}
		raw := b.Get([]byte(s.name))
		if raw == nil {
			return nil
		}
		rec = &sessionRecord{}
		return json.Unmarshal(raw, rec)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if rec == nil || (!rec.ExpiresAt.IsZero() && s.now().After(rec.ExpiresAt)) {
		return nil, nil
	}
	return rec.Identity, nil
}

func (s *SessionStore) Clear(_ context.Context) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(sessionsBucket))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(s.name))
	})
}

// ResetStore implements cache.ResetTokenStore in the "_reset_tokens" bucket.
// Only token hashes are written.
type ResetStore struct {
	db  *bbolt.DB
	now func() time.Time
}

func NewResetStore(d *DB) *ResetStore {
	return &ResetStore{db: d.db, now: time.Now}
}

func (r *ResetStore) Save(_ context.Context, token string, entry cache.ResetEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return r.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(resetTokensBucket))
		if err != nil {
			return err
		}
		return b.Put([]byte(cache.HashToken(token)), data)
	})
}

// Consume deletes the entry in the same transaction that reads it.
func (r *ResetStore) Consume(_ context.Context, token string) (*cache.ResetEntry, error) {
	var entry *cache.ResetEntry
	err := r.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(resetTokensBucket))
		if b == nil {
			return nil
		}
		key := []byte(cache.HashToken(token))
		raw := b.Get(key)
		if raw == nil {
			return nil
		}
		entry = &cache.ResetEntry{}
		if err := json.Unmarshal(raw, entry); err != nil {
			return err
		}
		return b.Delete(key)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to consume reset token: %w", err)
	}
	if entry == nil || r.now().After(entry.ExpiresAt) {
		return nil, cache.ErrTokenNotFound
	}
	return entry, nil
}

var (
	_ cache.SessionStore    = (*SessionStore)(nil)
	_ cache.ResetTokenStore = (*ResetStore)(nil)
)
