package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
)

// ObjectStorage defines common object operations across backends.
type ObjectStorage interface {
	EnsureBucket(ctx context.Context) error
	// Put stores the object under key and returns its public locator.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
	Bucket() string
}

// nativeTransformer is implemented by backends that bound images themselves.
type nativeTransformer interface {
	TransformsImages() bool
}

// Object describes a stored image.
type Object struct {
	Key         string
	URL         string
	Size        int64
	ContentType string
}

// Storage wraps an ObjectStorage backend with a stable API.
type Storage struct {
	backend   ObjectStorage
	transform Transform
	newID     func() string
}

// NewStorage constructs a Storage wrapper for the provided backend.
func NewStorage(backend ObjectStorage) *Storage {
	return &Storage{
		backend:   backend,
		transform: DefaultTransform,
		newID:     uuid.NewString,
	}
}

// EnsureBucket ensures the configured bucket exists.
func (s *Storage) EnsureBucket(ctx context.Context) error {
	return s.backend.EnsureBucket(ctx)
}

// Put uploads an object to the configured bucket.
func (s *Storage) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	return s.backend.Put(ctx, key, r, size, contentType)
}

// Delete removes an object from the configured bucket.
func (s *Storage) Delete(ctx context.Context, key string) error {
	return s.backend.Delete(ctx, key)
}

// Bucket returns the configured bucket name.
func (s *Storage) Bucket() string {
	return s.backend.Bucket()
}

// UploadImage bounds the image, stores it under a fresh key inside folder
// and returns the stored object with its public locator.
func (s *Storage) UploadImage(ctx context.Context, folder, filename string, data []byte, contentType string) (Object, error) {
	if len(data) == 0 {
		return Object{}, errors.New("empty image")
	}

	if t, ok := s.backend.(nativeTransformer); !ok || !t.TransformsImages() {
		bounded, boundedType, err := s.transform.Apply(data, contentType)
		if err != nil {
			return Object{}, fmt.Errorf("transform image: %w", err)
		}
		data, contentType = bounded, boundedType
	}

	key := s.objectKey(folder, filename, contentType)
	url, err := s.backend.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType)
	if err != nil {
		return Object{}, err
	}
	if strings.TrimSpace(url) == "" {
		return Object{}, errors.New("storage returned empty locator")
	}

	return Object{
		Key:         key,
		URL:         url,
		Size:        int64(len(data)),
		ContentType: contentType,
	}, nil
}

func (s *Storage) objectKey(folder, filename, contentType string) string {
	ext := strings.ToLower(path.Ext(filename))
	if ext == "" {
		ext = extensionFor(contentType)
	}
	name := s.newID() + ext

	folder = strings.Trim(folder, "/")
	if folder == "" {
		return name
	}
	return folder + "/" + name
}

func extensionFor(contentType string) string {
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/bmp":
		return ".bmp"
	case "image/tiff":
		return ".tiff"
	case "image/webp":
		return ".webp"
	default:
		return ""
	}
}

func joinURL(base string, parts ...string) string {
	out := strings.TrimRight(base, "/")
	for _, part := range parts {
		part = strings.Trim(part, "/")
		if part != "" {
			out += "/" + part
		}
	}
	return out
}
