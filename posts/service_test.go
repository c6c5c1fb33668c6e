package posts

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/socialcore/domain"
	"go.pilab.hu/socialcore/internal/metrics"
	"go.pilab.hu/socialcore/profile"
	"go.pilab.hu/socialcore/store/memory"
)

type MockUploader struct {
	mock.Mock
}

func (m *MockUploader) Upload(ctx context.Context, r io.Reader, contentType string) (*domain.UploadedMedia, error) {
	args := m.Called(ctx, r, contentType)
	um, _ := args.Get(0).(*domain.UploadedMedia)
	return um, args.Error(1)
}

func setup(t *testing.T) (*Service, *memory.Store, *profile.Repository, *MockUploader, *metrics.Metrics) {
	t.Helper()
	store := memory.New()
	repo := profile.NewRepository(store)
	require.NoError(t, repo.Create(context.Background(), "u-1", profile.NewSignUpProfile("u-1", "Ann", "ann", "a@x.io")))

	uploader := &MockUploader{}
	m := metrics.New(prometheus.NewRegistry())
	s := NewService(store, repo, uploader, nil, m)
	s.newID = func() string { return "post-1" }
	s.now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return s, store, repo, uploader, m
}

func TestService_Create(t *testing.T) {
	s, store, repo, uploader, m := setup(t)
	uploader.On("Upload", mock.Anything, mock.Anything, "image/jpeg").
		Return(&domain.UploadedMedia{URL: "https://cdn/x", ID: "media/x", ResourceType: "image"}, nil)

	post, err := s.Create(context.Background(), "u-1", "  hello  ", []MediaInput{
		{Body: strings.NewReader("jpeg"), ContentType: "image/jpeg"},
	})
	require.NoError(t, err)
	assert.Equal(t, "post-1", post.ID)
	assert.Equal(t, "hello", post.Caption)
	assert.Equal(t, "ann", post.Username)
	assert.Equal(t, profile.DefaultAvatarURL("ann"), post.Avatar)
	require.Len(t, post.Media, 1)
	assert.Equal(t, "https://cdn/x", post.Media[0].URL)

	rec, err := store.GetRecord(context.Background(), PostsCollection, "post-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "u-1", rec["userId"])
	assert.Equal(t, int64(0), rec["likesCount"])
	assert.Equal(t, int64(0), rec["commentsCount"])
	assert.IsType(t, time.Time{}, rec["createdAt"])
	assert.Equal(t, []domain.Fields{{"mediaUrl": "https://cdn/x", "publicId": "media/x", "type": "image"}}, rec["media"])

	p, err := repo.Get(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.PostsCount)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PostsCreatedTotal))
}

func TestService_CreateValidation(t *testing.T) {
	s, _, _, _, _ := setup(t)

	_, err := s.Create(context.Background(), "u-1", "x", nil)
	assert.ErrorIs(t, err, ErrNoMedia)

	media := []MediaInput{{Body: strings.NewReader("x"), ContentType: "image/png"}}
	_, err = s.Create(context.Background(), "u-1", strings.Repeat("a", MaxCaptionRunes+1), media)
	assert.ErrorIs(t, err, ErrCaptionTooLong)

	_, err = s.Create(context.Background(), "ghost", "x", media)
	assert.ErrorIs(t, err, ErrProfileNotFound)
}

func TestService_UploadFailureWritesNothing(t *testing.T) {
	s, store, repo, uploader, _ := setup(t)
	uploader.On("Upload", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("bucket gone"))

	_, err := s.Create(context.Background(), "u-1", "x", []MediaInput{{Body: strings.NewReader("x"), ContentType: "image/png"}})
	require.Error(t, err)
	assert.Equal(t, 0, store.Len(PostsCollection))

	p, err := repo.Get(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Zero(t, p.PostsCount)
}
