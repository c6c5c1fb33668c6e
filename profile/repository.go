package profile

import (
	"context"
	"errors"
	"time"

	"go.pilab.hu/socialcore/domain"
	serrors "go.pilab.hu/socialcore/errors"
)

// UsersCollection holds one profile record per identity, keyed by UID.
const UsersCollection = "users"

// Repository translates between domain.Profile and the document store's
// record shape. It does no caching and no retries.
type Repository struct {
	store domain.DocumentStore
}

func NewRepository(store domain.DocumentStore) *Repository {
	return &Repository{store: store}
}

// Get returns nil, nil when no profile exists for uid.
func (r *Repository) Get(ctx context.Context, uid string) (*domain.Profile, error) {
	rec, err := r.store.GetRecord(ctx, UsersCollection, uid)
	if err != nil {
		return nil, serrors.AsStore(err, serrors.Unavailable, "get profile")
	}
	if rec == nil {
		return nil, nil
	}
	return fromFields(uid, rec), nil
}

// Create writes the initial profile record. It never overwrites: a second
// call for the same uid fails with an already-exists store error wrapping
// domain.ErrRecordExists.
func (r *Repository) Create(ctx context.Context, uid string, initial domain.Profile) error {
	err := r.store.CreateRecord(ctx, UsersCollection, uid, toFields(initial))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrRecordExists):
		return serrors.NewStoreError(serrors.AlreadyExists, "profile already provisioned", err)
	default:
		return serrors.AsStore(err, serrors.Unavailable, "create profile")
	}
}

// IncrementPostsCount adjusts postsCount with the store's atomic increment.
func (r *Repository) IncrementPostsCount(ctx context.Context, uid string, delta int64) error {
	err := r.store.UpdateRecord(ctx, UsersCollection, uid, domain.Fields{
		"postsCount": domain.Increment{Delta: delta},
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrRecordNotFound):
		return serrors.NewStoreError(serrors.NotFound, "profile not found", err)
	default:
		return serrors.AsStore(err, serrors.Unavailable, "increment posts count")
	}
}

func toFields(p domain.Profile) domain.Fields {
	f := domain.Fields{
		"name":           p.Name,
		"username":       p.Username,
		"email":          p.Email,
		"avatarUrl":      p.AvatarURL,
		"bio":            p.Bio,
		"isPrivate":      p.IsPrivate,
		"verified":       p.Verified,
		"followersCount": p.FollowersCount,
		"followingCount": p.FollowingCount,
		"postsCount":     p.PostsCount,
	}
	if p.CreatedAt.IsZero() {
		f["createdAt"] = domain.ServerTimestamp{}
	} else {
		f["createdAt"] = p.CreatedAt
	}
	return f
}

func fromFields(uid string, f domain.Fields) *domain.Profile {
	return &domain.Profile{
		UID:            uid,
		Name:           str(f, "name"),
		Username:       str(f, "username"),
		Email:          str(f, "email"),
		AvatarURL:      str(f, "avatarUrl"),
		Bio:            str(f, "bio"),
		CreatedAt:      timestamp(f, "createdAt"),
		IsPrivate:      boolean(f, "isPrivate"),
		Verified:       boolean(f, "verified"),
		FollowersCount: integer(f, "followersCount"),
		FollowingCount: integer(f, "followingCount"),
		PostsCount:     integer(f, "postsCount"),
	}
}

func str(f domain.Fields, key string) string {
	s, _ := f[key].(string)
	return s
}

func boolean(f domain.Fields, key string) bool {
	b, _ := f[key].(bool)
	return b
}

func integer(f domain.Fields, key string) int64 {
	switch n := f[key].(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	}
	return 0
}

func timestamp(f domain.Fields, key string) time.Time {
	t, _ := f[key].(time.Time)
	return t
}

var _ domain.ProfileRepository = (*Repository)(nil)
