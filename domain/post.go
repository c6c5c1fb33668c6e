package domain

import "time"

// Post is a feed entry created by a user.
type Post struct {
	ID            string          `json:"id"`
	UserID        string          `json:"userId"`
	Username      string          `json:"username"`
	Avatar        string          `json:"avatar"`
	Caption       string          `json:"caption"`
	Media         []UploadedMedia `json:"media"`
	LikesCount    int64           `json:"likesCount"`
	CommentsCount int64           `json:"commentsCount"`
	CreatedAt     time.Time       `json:"createdAt"`
}
