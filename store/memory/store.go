// Package memory is an in-process domain.DocumentStore used for development
// and tests. Records are deep-copied on the way in and out.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.pilab.hu/socialcore/domain"
)

// Store keeps collections of records in maps guarded by a single mutex,
// which also makes Increment atomic with respect to other writers.
type Store struct {
	mu          sync.Mutex
	collections map[string]map[string]domain.Fields
	now         func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for domain.ServerTimestamp.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{
		collections: make(map[string]map[string]domain.Fields),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) collection(name string) map[string]domain.Fields {
	c, ok := s.collections[name]
	if !ok {
		c = make(map[string]domain.Fields)
		s.collections[name] = c
	}
	return c
}

func (s *Store) GetRecord(ctx context.Context, collection, key string) (domain.Fields, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.collection(collection)[key]
	if !ok {
		return nil, nil
	}
	return copyFields(rec), nil
}

func (s *Store) CreateRecord(ctx context.Context, collection, key string, fields domain.Fields) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.collection(collection)
	if _, ok := c[key]; ok {
		return domain.ErrRecordExists
	}
	rec, err := s.resolve(nil, fields)
	if err != nil {
		return err
	}
	c[key] = rec
	return nil
}

func (s *Store) PutRecord(ctx context.Context, collection, key string, fields domain.Fields) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.resolve(nil, fields)
	if err != nil {
		return err
	}
	s.collection(collection)[key] = rec
	return nil
}

func (s *Store) UpdateRecord(ctx context.Context, collection, key string, fields domain.Fields) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.collection(collection)
	existing, ok := c[key]
	if !ok {
		return domain.ErrRecordNotFound
	}
	rec, err := s.resolve(existing, fields)
	if err != nil {
		return err
	}
	c[key] = rec
	return nil
}

// Len returns the number of records in a collection.
func (s *Store) Len(collection string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.collections[collection])
}

// resolve applies fields on top of base (which may be nil), replacing the
// sentinels with concrete values. Called with s.mu held.
func (s *Store) resolve(base, fields domain.Fields) (domain.Fields, error) {
	out := copyFields(base)
	if out == nil {
		out = make(domain.Fields, len(fields))
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
			out[k] = copyValue(v)
		}
	}
	return out, nil
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

func copyFields(f domain.Fields) domain.Fields {
	if f == nil {
		return nil
	}
	out := make(domain.Fields, len(f))
	for k, v := range f {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch val := v.(type) {
	case domain.Fields:
		return copyFields(val)
	case map[string]any:
		return map[string]any(copyFields(domain.Fields(val)))
	case []domain.Fields:
		out := make([]domain.Fields, len(val))
		for i := range val {
			out[i] = copyFields(val[i])
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i := range val {
			out[i] = copyValue(val[i])
		}
		return out
	case int:
		return int64(val)
	case int32:
		return int64(val)
	default:
		return v
	}
}

var _ domain.DocumentStore = (*Store)(nil)
