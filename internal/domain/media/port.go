package media

import (
	"context"
	"io"
)

// Upstream port for the media-processing API
type Upstream interface {
	InitiateUpload(ctx context.Context, req UploadRequest) (string, error)
	Upload(ctx context.Context, target string, body io.Reader, size int64) (FileHandle, error)
	FileState(ctx context.Context, name string) (FileState, error)
}
