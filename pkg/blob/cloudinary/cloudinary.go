package cloudinary

import (
	"bytes"
	"context"
	"fmt"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/fixwise/manualiq/pkg/blob"
)

const (
	manualFolder = "pdf_manuals"
	qrFolder     = "qr_codes"
)

// Store implements blob.Store using Cloudinary. PDFs are stored as raw
// assets under pdf_manuals, QR images under qr_codes.
type Store struct {
	client *cloudinary.Cloudinary
}

// New creates a Store from a cloudinary:// URL.
func New(url string) (*Store, error) {
	client, err := cloudinary.NewFromURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to create cloudinary client: %w", err)
	}
	return &Store{client: client}, nil
}

func (s *Store) UploadFile(ctx context.Context, path, publicID string) (*blob.UploadResult, error) {
	resp, err := s.client.Upload.Upload(ctx, path, uploader.UploadParams{
		PublicID:     publicID,
		Folder:       manualFolder,
		ResourceType: "raw",
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", blob.ErrUploadFailed, err)
	}
	if resp.Error.Message != "" {
		return nil, fmt.Errorf("%w: %s", blob.ErrUploadFailed, resp.Error.Message)
	}
	return &blob.UploadResult{URI: resp.SecureURL, PublicID: resp.PublicID}, nil
}

func (s *Store) UploadImage(ctx context.Context, data []byte, publicID string) (*blob.UploadResult, error) {
	resp, err := s.client.Upload.Upload(ctx, bytes.NewReader(data), uploader.UploadParams{
		PublicID:     publicID,
		Folder:       qrFolder,
		ResourceType: "image",
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", blob.ErrUploadFailed, err)
	}
	if resp.Error.Message != "" {
		return nil, fmt.Errorf("%w: %s", blob.ErrUploadFailed, resp.Error.Message)
	}
	return &blob.UploadResult{URI: resp.SecureURL, PublicID: resp.PublicID}, nil
}

func (s *Store) Delete(ctx context.Context, publicID string, raw bool) error {
	resourceType := "image"
	if raw {
		resourceType = "raw"
	}
	resp, err := s.client.Upload.Destroy(ctx, uploader.DestroyParams{
		PublicID:     publicID,
		ResourceType: resourceType,
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", publicID, err)
	}
	if resp.Result != "ok" && resp.Result != "not found" {
		return fmt.Errorf("failed to delete %s: %s", publicID, resp.Result)
	}
	return nil
}
