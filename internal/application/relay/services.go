package relay

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bryanwahyu/dance-analyzer/internal/application"
	"github.com/bryanwahyu/dance-analyzer/internal/domain/ai"
	"github.com/bryanwahyu/dance-analyzer/internal/domain/media"
	"github.com/bryanwahyu/dance-analyzer/internal/domain/results"
)

const (
	DefaultResultTTL = 30 * 24 * time.Hour
	defaultMIMEType  = "video/mp4"
)

// Service implements the relay use-cases. It holds no per-request state and
// is safe for concurrent use. A nil Upstream/Model or Results makes the
// corresponding actions fail with a configuration error.
type Service struct {
	Upstream media.Upstream
	Model    ai.Client
	Results  results.Repository
	Clock    application.Clock
	TTL      time.Duration
	Logger   *slog.Logger

	// NewID generates result ids; uuid v4 when nil.
	NewID func() string
}

// SaveResultCommand is the body of save_result.
type SaveResultCommand struct {
	Result string `json:"result"`
	Genre  string `json:"genre"`
	Type   string `json:"type,omitempty"`
}

// AnalyzeCommand is the body of analyze.
type AnalyzeCommand struct {
	FileURI    string `json:"fileUri"`
	MIMEType   string `json:"mimeType"`
	Genre      string `json:"genre,omitempty"`
	UserPrompt string `json:"userPrompt"`
}

// UpstreamConfigured reports whether media/model actions can run.
func (s *Service) UpstreamConfigured() bool { return s.Upstream != nil && s.Model != nil }

// StoreConfigured reports whether result actions can run.
func (s *Service) StoreConfigured() bool { return s.Results != nil }

// Init obtains a single-use upload target.
func (s *Service) Init(ctx context.Context, req media.UploadRequest) (string, error) {
	if !s.UpstreamConfigured() {
		return "", ErrUpstreamNotConfigured
	}
	if req.NumBytes <= 0 {
		return "", invalid("numBytes", "must be positive")
	}
	return s.Upstream.InitiateUpload(ctx, req)
}

// Upload streams body to target without buffering it.
func (s *Service) Upload(ctx context.Context, target string, body io.Reader, size int64) (media.FileHandle, error) {
	if !s.UpstreamConfigured() {
		return media.FileHandle{}, ErrUpstreamNotConfigured
	}
	if strings.TrimSpace(target) == "" {
		return media.FileHandle{}, invalid("X-Upload-Url", "missing header")
	}
	return s.Upstream.Upload(ctx, target, body, size)
}

// CheckStatus returns the upstream processing state of a file.
func (s *Service) CheckStatus(ctx context.Context, fileName string) (media.FileState, error) {
	if !s.UpstreamConfigured() {
		return "", ErrUpstreamNotConfigured
	}
	if strings.TrimSpace(fileName) == "" {
		return "", invalid("fileName", "is required")
	}
	return s.Upstream.FileState(ctx, fileName)
}

// Analyze runs one deterministic generation over an uploaded file and returns
// the cleaned text: fences stripped, brackets balanced when that makes it
// valid JSON, otherwise left as-is for the client's free-text fallback.
func (s *Service) Analyze(ctx context.Context, cmd AnalyzeCommand) (string, error) {
	if !s.UpstreamConfigured() {
		return "", ErrUpstreamNotConfigured
	}
	if strings.TrimSpace(cmd.FileURI) == "" {
		return "", invalid("fileUri", "is required")
	}
	mimeType := cmd.MIMEType
	if mimeType == "" {
		mimeType = defaultMIMEType
	}

	parts, err := s.Model.Generate(ctx, ai.GenerateRequest{
		FileURI:  cmd.FileURI,
		MIMEType: mimeType,
		Prompt:   cmd.UserPrompt,
	})
	if err != nil {
		return "", err
	}

	text := StripCodeFence(SelectText(parts))
	repaired := RepairJSON(text)
	if repaired != text {
		s.logger().Info("balanced truncated model output",
			"appended", len(repaired)-len(text),
			"genre", cmd.Genre,
		)
	}
	return repaired, nil
}

// SaveResult persists a result under a fresh id for TTL.
func (s *Service) SaveResult(ctx context.Context, cmd SaveResultCommand) (string, error) {
	if !s.StoreConfigured() {
		return "", ErrStoreNotConfigured
	}
	id := s.newID()
	rec := &results.Record{
		Result:    cmd.Result,
		Genre:     cmd.Genre,
		Type:      cmd.Type,
		CreatedAt: s.now().UTC().Truncate(time.Millisecond),
	}
	if err := s.Results.Put(ctx, id, rec, s.ttl()); err != nil {
		return "", err
	}
	return id, nil
}

// GetResult reads a persisted result; results.ErrNotFound when absent or expired.
func (s *Service) GetResult(ctx context.Context, id string) (*results.Record, error) {
	if !s.StoreConfigured() {
		return nil, ErrStoreNotConfigured
	}
	if strings.TrimSpace(id) == "" {
		return nil, invalid("", "Missing id")
	}
	return s.Results.Get(ctx, id)
}

func (s *Service) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

func (s *Service) now() time.Time {
	if s.Clock == nil {
		return time.Now()
	}
	return s.Clock.Now()
}

func (s *Service) ttl() time.Duration {
	if s.TTL <= 0 {
		return DefaultResultTTL
	}
	return s.TTL
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}
