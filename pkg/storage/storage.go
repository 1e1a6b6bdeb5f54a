// Package storage uploads bank-transfer proof documents and returns a retrievable reference.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/cloudinary/cloudinary-go/v2/config"
)

// ErrNotConfigured is returned by Disabled.
var ErrNotConfigured = errors.New("document storage is not configured")

// Document is a stored file.
type Document struct {
	URL      string
	PublicID string
}

// DocumentStore is the document-storage collaborator.
type DocumentStore interface {
	Upload(ctx context.Context, file io.Reader, folder, name string) (Document, error)
}

// Disabled rejects every upload; used when no storage credentials are configured.
type Disabled struct{}

func (Disabled) Upload(context.Context, io.Reader, string, string) (Document, error) {
	return Document{}, ErrNotConfigured
}

type cloudinaryStore struct {
	uploader *uploader.API
	root     string
}

// NewCloudinary builds a DocumentStore from Cloudinary credentials. Uploads
// land under root/folder.
func NewCloudinary(cloudName, apiKey, apiSecret, root string) (DocumentStore, error) {
	cfg, err := config.NewFromParams(cloudName, apiKey, apiSecret)
	if err != nil {
		return nil, err
	}
	up, err := uploader.NewWithConfiguration(cfg)
	if err != nil {
		return nil, err
	}
	return &cloudinaryStore{uploader: up, root: strings.Trim(root, "/")}, nil
}

// Upload stores any file type (receipts are usually PDF or images).
func (s *cloudinaryStore) Upload(ctx context.Context, file io.Reader, folder, name string) (Document, error) {
	if s.root != "" {
		folder = s.root + "/" + folder
	}
	result, err := s.uploader.Upload(ctx, file, uploader.UploadParams{
		Folder:       folder,
		PublicID:     name,
		ResourceType: "auto",
	})
	if err != nil {
		return Document{}, fmt.Errorf("cloudinary upload: %w", err)
	}
	if result.Error.Message != "" {
		return Document{}, fmt.Errorf("cloudinary upload: %s", result.Error.Message)
	}
	return Document{URL: result.SecureURL, PublicID: result.PublicID}, nil
}
