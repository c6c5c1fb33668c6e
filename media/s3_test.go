package media

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockPutObjectAPI struct {
	mock.Mock
	body []byte
}

func (m *MockPutObjectAPI) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	args := m.Called(ctx, in)
	if in.Body != nil {
		m.body, _ = io.ReadAll(in.Body)
	}
	out, _ := args.Get(0).(*s3.PutObjectOutput)
	return out, args.Error(1)
}

func newTestUploader(api PutObjectAPI, maxBytes int64) *S3Uploader {
	u := NewS3Uploader(api, S3Config{
		Endpoint: "http://minio:9000/",
		Bucket:   "media",
		MaxBytes: maxBytes,
	})
	u.now = func() time.Time { return time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC) }
	u.newID = func() string { return "abc" }
	return u
}

func TestS3Uploader_Upload(t *testing.T) {
	api := &MockPutObjectAPI{}
	api.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		return aws.ToString(in.Bucket) == "media" &&
			aws.ToString(in.Key) == "media/2024/03/09/abc" &&
			aws.ToString(in.ContentType) == "image/png" &&
			aws.ToInt64(in.ContentLength) == 4
	})).Return(&s3.PutObjectOutput{}, nil)

	got, err := newTestUploader(api, 0).Upload(context.Background(), strings.NewReader("data"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "http://minio:9000/media/media/2024/03/09/abc", got.URL)
	assert.Equal(t, "media/2024/03/09/abc", got.ID)
	assert.Equal(t, "image", got.ResourceType)
	assert.Equal(t, []byte("data"), api.body)
	api.AssertExpectations(t)
}

func TestS3Uploader_Limits(t *testing.T) {
	api := &MockPutObjectAPI{}
	u := newTestUploader(api, 3)

	_, err := u.Upload(context.Background(), strings.NewReader(""), "image/png")
	assert.ErrorIs(t, err, ErrEmptyMedia)

	_, err = u.Upload(context.Background(), strings.NewReader("data"), "image/png")
	assert.ErrorIs(t, err, ErrMediaTooLarge)
	api.AssertNotCalled(t, "PutObject", mock.Anything, mock.Anything)
}

func TestS3Uploader_PutFails(t *testing.T) {
	api := &MockPutObjectAPI{}
	api.On("PutObject", mock.Anything, mock.Anything).Return(nil, errors.New("access denied"))

	_, err := newTestUploader(api, 0).Upload(context.Background(), strings.NewReader("x"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}

func TestResourceType(t *testing.T) {
	assert.Equal(t, "image", ResourceType("image/jpeg"))
	assert.Equal(t, "video", ResourceType("video/mp4"))
	assert.Equal(t, "raw", ResourceType("application/pdf"))
}

func TestNewS3Client(t *testing.T) {
	client, err := NewS3Client(context.Background(), S3Config{
		Region:       "us-east-1",
		Endpoint:     "http://localhost:9000",
		AccessKey:    "minio",
		SecretKey:    "minio123",
		UsePathStyle: true,
	})
	require.NoError(t, err)
	assert.True(t, client.Options().UsePathStyle)
	assert.Equal(t, "http://localhost:9000", aws.ToString(client.Options().BaseEndpoint))
}
