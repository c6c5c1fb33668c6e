package domain

import (
	"context"
	"io"
)

// UploadedMedia describes a stored binary payload.
type UploadedMedia struct {
	URL          string `json:"mediaUrl"`
	ID           string `json:"publicId"`
	ResourceType string `json:"type"` // "image", "video" or "raw"
}

// MediaUploader is the contract of the external media upload service.
type MediaUploader interface {
	Upload(ctx context.Context, r io.Reader, contentType string) (*UploadedMedia, error)
}
