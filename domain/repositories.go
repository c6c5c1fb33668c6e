package domain

import (
	"context"
	"errors"
)

var (
	ErrRecordExists   = errors.New("record already exists")
	ErrRecordNotFound = errors.New("record not found")
)

// Fields is the record shape exchanged with the document store.
// Values are plain Go values, nested Fields/slices, or one of the
// ServerTimestamp and Increment sentinels.
type Fields map[string]any

// ServerTimestamp asks the store to set the field to its own clock.
type ServerTimestamp struct{}

// Increment asks the store to add Delta to a numeric field atomically.
type Increment struct {
	Delta int64
}

// DocumentStore is the contract of the external document database.
// GetRecord returns nil, nil when the record does not exist.
type DocumentStore interface {
	GetRecord(ctx context.Context, collection, key string) (Fields, error)
	// CreateRecord fails with ErrRecordExists if the key is taken.
	CreateRecord(ctx context.Context, collection, key string, fields Fields) error
	PutRecord(ctx context.Context, collection, key string, fields Fields) error
	// UpdateRecord fails with ErrRecordNotFound if the key is absent.
	UpdateRecord(ctx context.Context, collection, key string, fields Fields) error
}

// ProfileRepository reads and writes Profile records.
type ProfileRepository interface {
	Get(ctx context.Context, uid string) (*Profile, error)
	Create(ctx context.Context, uid string, initial Profile) error
	IncrementPostsCount(ctx context.Context, uid string, delta int64) error
}
