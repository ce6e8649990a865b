package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/oralvis/apiserver/config"
)

// CloudinaryClient stores images in Cloudinary. Cloudinary has no bucket;
// the cloud name takes its place.
type CloudinaryClient struct {
	client    *cloudinary.Cloudinary
	cloudName string
}

// NewCloudinaryClient constructs a Cloudinary client from config.
func NewCloudinaryClient(cfg config.CloudinaryConfig) (*CloudinaryClient, error) {
	if strings.TrimSpace(cfg.CloudName) == "" {
		return nil, errors.New("cloudinary cloud name is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" || strings.TrimSpace(cfg.APISecret) == "" {
		return nil, errors.New("cloudinary api key and secret are required")
	}

	client, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, err
	}

	return &CloudinaryClient{
		client:    client,
		cloudName: cfg.CloudName,
	}, nil
}

// EnsureBucket is a no-op; Cloudinary folders are created on upload.
func (c *CloudinaryClient) EnsureBucket(ctx context.Context) error {
	return nil
}

// TransformsImages reports that Cloudinary applies the bounding
// transformation itself.
func (c *CloudinaryClient) TransformsImages() bool {
	return true
}

// Put uploads the image with the 1200x1200 limit and automatic quality
// applied by Cloudinary, and returns its secure URL.
func (c *CloudinaryClient) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	result, err := c.client.Upload.Upload(ctx, r, uploader.UploadParams{
		PublicID:       publicID(key),
		ResourceType:   "image",
		Transformation: CloudinaryTransformation,
	})
	if err != nil {
		return "", err
	}
	if result == nil {
		return "", errors.New("cloudinary returned no result")
	}
	if msg := strings.TrimSpace(result.Error.Message); msg != "" {
		return "", errors.New("cloudinary: " + msg)
	}
	return result.SecureURL, nil
}

// Delete removes an image by its key.
func (c *CloudinaryClient) Delete(ctx context.Context, key string) error {
	_, err := c.client.Upload.Destroy(ctx, uploader.DestroyParams{
		PublicID:     publicID(key),
		ResourceType: "image",
	})
	return err
}

// Bucket returns the cloud name.
func (c *CloudinaryClient) Bucket() string {
	return c.cloudName
}

func publicID(key string) string {
	return strings.TrimSuffix(key, path.Ext(key))
}
