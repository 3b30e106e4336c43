package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrNotFound is returned when no object exists under a key.
var ErrNotFound = errors.New("object not found")

// Storage reads and writes the input and output files of the graph loader.
type Storage interface {
	// Retrieve gets an object by key. The caller closes the reader.
	Retrieve(ctx context.Context, key string) (io.ReadCloser, error)

	// Put stores content under key, replacing an existing object.
	Put(ctx context.Context, key string, content io.Reader, contentType string) error

	// Exists checks if an object exists
	Exists(ctx context.Context, key string) (bool, error)

	// GetMetadata returns object metadata
	GetMetadata(ctx context.Context, key string) (FileMetadata, error)
}

type FileMetadata struct {
	Size         int64     `json:"size"`
	ContentType  string    `json:"content_type"`
	LastModified time.Time `json:"last_modified"`
}

type StorageType string

const (
	StorageTypeLocal StorageType = "local"
	StorageTypeS3    StorageType = "s3"
)

// Open checks that key exists and returns its reader with its metadata.
// A missing object is reported as ErrNotFound naming the key.
func Open(ctx context.Context, s Storage, key string) (io.ReadCloser, FileMetadata, error) {
	exists, err := s.Exists(ctx, key)
	if err != nil {
		return nil, FileMetadata{}, err
	}
	if !exists {
		return nil, FileMetadata{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	meta, err := s.GetMetadata(ctx, key)
	if err != nil {
		return nil, FileMetadata{}, err
	}
	body, err := s.Retrieve(ctx, key)
	if err != nil {
		return nil, FileMetadata{}, err
	}
	return body, meta, nil
}
