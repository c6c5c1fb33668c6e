package cache

import (
	"context"
	"errors"
	"time"

	"go.pilab.hu/socialcore/domain"
)

var ErrTokenNotFound = errors.New("token not found")

// ResetEntry is a pending password reset.
type ResetEntry struct {
	UID       string    `json:"uid"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ResetTokenStore keeps single-use password reset tokens until they expire.
type ResetTokenStore interface {
	Save(ctx context.Context, token string, entry ResetEntry) error
	// Consume returns the entry and removes it. Unknown or expired tokens
	// yield ErrTokenNotFound.
	Consume(ctx context.Context, token string) (*ResetEntry, error)
}

// SessionStore persists the signed-in identity so a restarted process can
// resume the session.
type SessionStore interface {
	Save(ctx context.Context, id *domain.Identity) error
	// Load returns nil, nil when no session is stored.
	Load(ctx context.Context) (*domain.Identity, error)
	Clear(ctx context.Context) error
}
