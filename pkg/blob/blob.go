package blob

import (
	"context"
	"errors"
)

// ErrUploadFailed wraps upload failures from the backing object store.
var ErrUploadFailed = errors.New("blob upload failed")

// UploadResult holds the durable location of a stored blob and the opaque
// handle needed to delete it later.
type UploadResult struct {
	URI      string
	PublicID string
}

// Store is the object storage for original PDFs and QR code images.
type Store interface {
	// UploadFile uploads a raw file from the local filesystem.
	UploadFile(ctx context.Context, path, publicID string) (*UploadResult, error)
	// UploadImage uploads PNG bytes as an image asset.
	UploadImage(ctx context.Context, data []byte, publicID string) (*UploadResult, error)
	// Delete removes an asset by its public id; raw is true for files
	// uploaded via UploadFile.
	Delete(ctx context.Context, publicID string, raw bool) error
}
