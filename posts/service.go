// Package posts creates feed entries for the signed-in user.
package posts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"go.pilab.hu/socialcore/domain"
	serrors "go.pilab.hu/socialcore/errors"
	"go.pilab.hu/socialcore/internal/metrics"
	"go.pilab.hu/socialcore/log"
)

const (
	PostsCollection = "posts"
	MaxCaptionRunes = 2200
)

var (
	ErrNoMedia         = errors.New("a post needs at least one media item")
	ErrCaptionTooLong  = fmt.Errorf("caption exceeds %d characters", MaxCaptionRunes)
	ErrProfileNotFound = errors.New("author has no profile")
)

// MediaInput is one file attached to a new post.
type MediaInput struct {
	Body        io.Reader
	ContentType string
}

// Service creates posts and keeps the author's postsCount in step.
type Service struct {
	store    domain.DocumentStore
	profiles domain.ProfileRepository
	uploader domain.MediaUploader
	logger   log.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
	newID    func() string
}

func NewService(store domain.DocumentStore, profiles domain.ProfileRepository, uploader domain.MediaUploader, logger log.Logger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Service{
		store:    store,
		profiles: profiles,
		uploader: uploader,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Create uploads the media, writes posts/<id> and increments the author's
// postsCount. Media is uploaded before anything is written, so a failed
// upload leaves no post behind.
func (s *Service) Create(ctx context.Context, uid, caption string, media []MediaInput) (*domain.Post, error) {
	if len(media) == 0 {
		return nil, ErrNoMedia
	}
	caption = strings.TrimSpace(caption)
	if len([]rune(caption)) > MaxCaptionRunes {
		return nil, ErrCaptionTooLong
	}

	author, err := s.profiles.Get(ctx, uid)
	if err != nil {
		return nil, err
	}
	if author == nil {
		return nil, ErrProfileNotFound
	}

	uploaded := make([]domain.UploadedMedia, 0, len(media))
	for i, m := range media {
		um, err := s.uploader.Upload(ctx, m.Body, m.ContentType)
		if err != nil {
			return nil, fmt.Errorf("upload media %d: %w", i, err)
		}
		uploaded = append(uploaded, *um)
	}

	post := &domain.Post{
		ID:       s.newID(),
		UserID:   uid,
		Username: author.Username,
		Avatar:   author.AvatarURL,
		Caption:  caption,
		Media:    uploaded,
	}
	if err := s.store.CreateRecord(ctx, PostsCollection, post.ID, postFields(post)); err != nil {
		return nil, serrors.AsStore(err, serrors.Unavailable, "create post")
	}
	post.CreatedAt = s.now().UTC()

	if err := s.profiles.IncrementPostsCount(ctx, uid, 1); err != nil {
		s.logger.Error(ctx, "Post created but postsCount not incremented", err, log.Fields{"uid": uid, "post_id": post.ID})
		return post, err
	}

	s.metrics.PostCreated()
	s.logger.Info(ctx, "Post created", log.Fields{"uid": uid, "post_id": post.ID, "media": len(uploaded)})
	return post, nil
}

func postFields(p *domain.Post) domain.Fields {
	media := make([]domain.Fields, 0, len(p.Media))
	for _, m := range p.Media {
		media = append(media, domain.Fields{
			"mediaUrl": m.URL,
			"publicId": m.ID,
			"type":     m.ResourceType,
		})
	}
	return domain.Fields{
		"userId":        p.UserID,
		"username":      p.Username,
		"avatar":        p.Avatar,
		"caption":       p.Caption,
		"media":         media,
		"likesCount":    int64(0),
		"commentsCount": int64(0),
		"createdAt":     domain.ServerTimestamp{},
	}
}
