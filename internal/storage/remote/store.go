package remote

import (
	"context"
)

type ObjectType string

const (
	ObjectFile      ObjectType = "file"
	ObjectDirectory ObjectType = "directory"
)

// Object is a single entry returned by a listing
type Object struct {
	Path string
	Type ObjectType
}

// File is a single upload unit of a batch
type File struct {
	Path    string
	Content []byte
}

// Store is the remote object store the dataset is persisted to.
// Failures carry a *StatusError when the backend reports a status code.
type Store interface {
	List(ctx context.Context, prefix string, recursive bool) ([]Object, error)
	UploadBatch(ctx context.Context, files []File) error
	Download(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
}
