// Package bolt keeps documents, the persisted session and reset tokens in a
// single bbolt file. It suits the CLI and single-node setups that run without
// MongoDB or Redis.
package bolt

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"go.etcd.io/bbolt"
	"go.mongodb.org/mongo-driver/bson"

	"go.pilab.hu/socialcore/domain"
	"go.pilab.hu/socialcore/mongodb"
)

const (
	sessionsBucket    = "_sessions"
	resetTokensBucket = "_reset_tokens"
)

// DB is an open bbolt file shared by the stores of this package.
type DB struct {
	db *bbolt.DB
}

// Open opens or creates the database at path, creating its directory.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
	}

	log.Info().Str("path", path).Msg("Opening bbolt database")
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db at %s: %w", path, err)
	}
	return &DB{db: db}, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

// DocumentStore implements domain.DocumentStore with one bucket per
// collection. Records are BSON encoded. Every write runs in a single bbolt
// write transaction, so Increment is atomic.
type DocumentStore struct {
	db  *bbolt.DB
	now func() time.Time
}

type Option func(*DocumentStore)

// WithClock overrides the clock used for domain.ServerTimestamp.
func WithClock(now func() time.Time) Option {
	return func(s *DocumentStore) { s.now = now }
}

func NewDocumentStore(d *DB, opts ...Option) *DocumentStore {
	s := &DocumentStore{db: d.db, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *DocumentStore) GetRecord(ctx context.Context, collection, key string) (domain.Fields, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out domain.Fields
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(collection))
		if b == nil {
			return nil
		}
		raw := b.Get([]byte(key))
		if raw == nil {
			return nil
		}
		f, err := decode(raw)
		out = f
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read %s/%s: %w", collection, key, err)
	}
	return out, nil
}

func (s *DocumentStore) CreateRecord(ctx context.Context, collection, key string, fields domain.Fields) error {
	return s.write(ctx, collection, key, func(existing domain.Fields, found bool) (domain.Fields, error) {
		if found {
			return nil, domain.ErrRecordExists
		}
		return s.resolve(nil, fields)
	})
}

func (s *DocumentStore) PutRecord(ctx context.Context, collection, key string, fields domain.Fields) error {
	return s.write(ctx, collection, key, func(domain.Fields, bool) (domain.Fields, error) {
		return s.resolve(nil, fields)
	})
}

func (s *DocumentStore) UpdateRecord(ctx context.Context, collection, key string, fields domain.Fields) error {
	return s.write(ctx, collection, key, func(existing domain.Fields, found bool) (domain.Fields, error) {
		if !found {
			return nil, domain.ErrRecordNotFound
		}
		return s.resolve(existing, fields)
	})
}

func (s *DocumentStore) write(ctx context.Context, collection, key string, apply func(domain.Fields, bool) (domain.Fields, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(collection))
		if err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", collection, err)
		}

		var existing domain.Fields
		raw := b.Get([]byte(key))
		if raw != nil {
			if existing, err = decode(raw); err != nil {
				return err
			}
		}

		rec, err := apply(existing, raw != nil)
		if err != nil {
			return err
		}
		data, err := bson.Marshal(bson.M(rec))
		if err != nil {
			return fmt.Errorf("failed to encode %s/%s: %w", collection, key, err)
		}
		return b.Put([]byte(key), data)
	})
}

// resolve applies fields on top of base, replacing the sentinels.
func (s *DocumentStore) resolve(base, fields domain.Fields) (domain.Fields, error) {
	out := make(domain.Fields, len(base)+len(fields))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range fields {
		switch val := v.(type) {
		case domain.ServerTimestamp:
			out[k] = s.now()
		case domain.Increment:
			cur, err := toInt64(out[k])
			if err != nil {
				return nil, fmt.Errorf("increment %q: %w", k, err)
			}
			out[k] = cur + val.Delta
		default:
			out[k] = v
		}
	}
	return out, nil
}

func decode(raw []byte) (domain.Fields, error) {
	var doc bson.M
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return mongodb.DecodeFields(doc), nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("field holds non-numeric %T", v)
	}
}

var _ domain.DocumentStore = (*DocumentStore)(nil)
