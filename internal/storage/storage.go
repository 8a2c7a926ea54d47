package storage

import (
	"context"
	"fmt"
)

type UploadResult struct {
	Key string
	URL string
}

type ArtifactStore interface {
	// Upload copies the local file at filePath to durable storage under name.
	// name may contain "/"-separated segments; the last one is the download
	// file name.
	Upload(ctx context.Context, filePath, name string) (UploadResult, error)
}

type UploadError struct {
	Name string
	Err  error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s: %v", e.Name, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}
