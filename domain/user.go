package domain

import "time"

// Profile is the application-owned record of user-facing attributes,
// stored in the "users" collection under the owning identity's UID.
type Profile struct {
	UID            string    `json:"uid"`
	Name           string    `json:"name"`
	Username       string    `json:"username"`
	Email          string    `json:"email"`
	AvatarURL      string    `json:"avatarUrl"`
	Bio            string    `json:"bio"`
	CreatedAt      time.Time `json:"createdAt"`
	IsPrivate      bool      `json:"isPrivate"`
	Verified       bool      `json:"verified"`
	FollowersCount int64     `json:"followersCount"`
	FollowingCount int64     `json:"followingCount"`
	PostsCount     int64     `json:"postsCount"`
}
