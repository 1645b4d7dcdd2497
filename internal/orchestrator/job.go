package orchestrator

import (
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/bryanwahyu/dance-analyzer/internal/domain/analysis"
	"github.com/bryanwahyu/dance-analyzer/internal/domain/media"
)

// Phase is a step of the upload/poll/analyze workflow.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseInit       Phase = "init"
	PhaseUploading  Phase = "uploading"
	PhaseProcessing Phase = "processing"
	PhaseAnalyzing  Phase = "analyzing"
	PhaseComplete   Phase = "complete"
	PhaseError      Phase = "error"
)

// Terminal reports whether no further transition can happen.
func (p Phase) Terminal() bool { return p == PhaseComplete || p == PhaseError }

// Identity is the composite cache key of a source file.
type Identity struct {
	Name    string
	Size    int64
	ModTime time.Time
}

func (id Identity) String() string {
	return fmt.Sprintf("%s_%d_%d", id.Name, id.Size, id.ModTime.UnixMilli())
}

// Source is the media to analyze. Open is called once per upload attempt.
type Source struct {
	Name     string
	Size     int64
	ModTime  time.Time
	MIMEType string
	Open     func() (io.ReadCloser, error)
}

func (s Source) Identity() Identity {
	return Identity{Name: s.Name, Size: s.Size, ModTime: s.ModTime}
}

// FileSource describes a local file. The MIME type comes from the extension
// and defaults to video/mp4.
func FileSource(path string) (Source, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return Source{}, err
	}
	if fi.IsDir() {
		return Source{}, fmt.Errorf("%s is a directory", path)
	}
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = "video/mp4"
	}
	return Source{
		Name:     fi.Name(),
		Size:     fi.Size(),
		ModTime:  fi.ModTime(),
		MIMEType: mimeType,
		Open:     func() (io.ReadCloser, error) { return os.Open(path) },
	}, nil
}

// Job is one analysis request. It is owned by the Run call that created it.
type Job struct {
	Source Identity
	Genre  string
	Type   string
	Phase  Phase

	Handle media.FileHandle
	// Reused is set when the upload was skipped for a cached handle.
	Reused bool

	Result   analysis.Result
	ResultID string
	Err      error
}
