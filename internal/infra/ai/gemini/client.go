package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/bryanwahyu/dance-analyzer/internal/domain/ai"
	"github.com/bryanwahyu/dance-analyzer/internal/domain/media"
	"github.com/bryanwahyu/dance-analyzer/internal/logging"
)

const (
	defaultModel       = "gemini-3-flash-preview"
	defaultDisplayName = "uploaded_video"
	maxErrorBody       = 64 << 10
	apiVersion         = "v1beta"
)

// UpstreamError is a non-2xx answer from the Generative Language API. Body
// is kept verbatim so callers can recognise region restrictions.
type UpstreamError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s failed (%d): %s", e.Op, e.StatusCode, e.Body)
}

func (e *UpstreamError) Unwrap() error {
	if e.StatusCode == http.StatusTooManyRequests {
		return ai.ErrQuotaExceeded
	}
	return nil
}

type Options struct {
	APIKey        string
	UploadBaseURL string
	APIBaseURL    string
	Model         string
	Timeout       time.Duration
	Logger        *slog.Logger
}

// Client talks to the File API and generateContent. It implements both
// media.Upstream and ai.Client. The resumable upload is two separate relay
// requests, so it is driven over plain HTTP; file state and generation go
// through the genai SDK.
type Client struct {
	apiKey     string
	uploadBase string
	model      string
	httpClient *http.Client
	genai      *genai.Client
	logger     *slog.Logger
}

func NewClient(ctx context.Context, opts Options) (*Client, error) {
	model := opts.Model
	if model == "" {
		model = defaultModel
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	apiBase := opts.APIBaseURL
	if apiBase == "" {
		apiBase = opts.UploadBaseURL
	}
	httpClient := &http.Client{Timeout: timeout}

	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     opts.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    strings.TrimRight(apiBase, "/") + "/",
			APIVersion: apiVersion,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return &Client{
		apiKey:     opts.APIKey,
		uploadBase: strings.TrimRight(opts.UploadBaseURL, "/"),
		model:      model,
		httpClient: httpClient,
		genai:      gc,
		logger:     logging.WithComponent(logger, "gemini"),
	}, nil
}

// InitiateUpload starts a resumable upload session and returns its URL.
func (c *Client) InitiateUpload(ctx context.Context, req media.UploadRequest) (string, error) {
	displayName := req.DisplayName
	if displayName == "" {
		displayName = defaultDisplayName
	}
	body, err := json.Marshal(map[string]any{
		"file": map[string]string{"display_name": displayName},
	})
	if err != nil {
		return "", fmt.Errorf("marshal upload metadata: %w", err)
	}

	endpoint := c.uploadBase + "/upload/v1beta/files?key=" + url.QueryEscape(c.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("X-Goog-Upload-Protocol", "resumable")
	httpReq.Header.Set("X-Goog-Upload-Command", "start")
	httpReq.Header.Set("X-Goog-Upload-Header-Content-Length", strconv.FormatInt(req.NumBytes, 10))
	httpReq.Header.Set("X-Goog-Upload-Header-Content-Type", req.MIMEType)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus("Google Upload Init", resp); err != nil {
		return "", err
	}
	uploadURL := resp.Header.Get("X-Goog-Upload-Url")
	if uploadURL == "" {
		return "", errors.New("Google Upload Init returned no upload URL")
	}

	c.logger.Info("upload session started",
		"mime_type", req.MIMEType,
		"num_bytes", req.NumBytes,
		"upload_url", logging.SanitizeURL(uploadURL),
	)
	return uploadURL, nil
}

// Upload sends the whole body to an upload session and finalizes it. The
// body is streamed, never buffered.
func (c *Client) Upload(ctx context.Context, target string, body io.Reader, size int64) (media.FileHandle, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, body)
	if err != nil {
		return media.FileHandle{}, fmt.Errorf("create request: %w", err)
	}
	if size > 0 {
		httpReq.ContentLength = size
	}
	httpReq.Header.Set("X-Goog-Upload-Offset", "0")
	httpReq.Header.Set("X-Goog-Upload-Command", "upload, finalize")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return media.FileHandle{}, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus("Google Upload", resp); err != nil {
		return media.FileHandle{}, err
	}

	var out struct {
		File struct {
			URI  string `json:"uri"`
			Name string `json:"name"`
		} `json:"file"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return media.FileHandle{}, fmt.Errorf("decode upload response: %w", err)
	}
	if out.File.URI == "" || out.File.Name == "" {
		return media.FileHandle{}, errors.New("Google Upload returned no file")
	}

	c.logger.Info("upload finalized",
		"file_name", out.File.Name,
		"bytes", size,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return media.FileHandle{URI: out.File.URI, Name: out.File.Name}, nil
}

// FileState fetches the processing state of an uploaded file.
func (c *Client) FileState(ctx context.Context, name string) (media.FileState, error) {
	f, err := c.genai.Files.Get(ctx, name, nil)
	if err != nil {
		return "", apiError("Status Check", err)
	}
	return media.FileState(f.State), nil
}

// Generate runs one deterministic generation (temperature 0, topK 1) and
// returns the parts of the first candidate.
func (c *Client) Generate(ctx context.Context, req ai.GenerateRequest) ([]ai.Part, error) {
	temperature, topK := float32(0), float32(1)
	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{Text: req.Prompt},
			{FileData: &genai.FileData{FileURI: req.FileURI, MIMEType: req.MIMEType}},
		},
	}}

	start := time.Now()
	resp, err := c.genai.Models.GenerateContent(ctx, c.model, contents, &genai.GenerateContentConfig{
		Temperature: &temperature,
		TopK:        &topK,
	})
	if err != nil {
		return nil, apiError("Gemini API", err)
	}

	var parts []ai.Part
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, p := range resp.Candidates[0].Content.Parts {
			if p == nil {
				continue
			}
			parts = append(parts, ai.Part{Text: p.Text, Thought: p.Thought})
		}
	}

	c.logger.Info("generation finished",
		"model", c.model,
		"candidates", len(resp.Candidates),
		"parts", len(parts),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return parts, nil
}

// apiError turns an SDK error into an UpstreamError so callers see the same
// shape as for the upload calls.
func apiError(op string, err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &UpstreamError{Op: op, StatusCode: apiErr.Code, Body: apiErr.Message}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return &UpstreamError{Op: op, StatusCode: apiErrPtr.Code, Body: apiErrPtr.Message}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func checkStatus(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &UpstreamError{Op: op, StatusCode: resp.StatusCode, Body: string(body)}
}

var (
	_ media.Upstream = (*Client)(nil)
	_ ai.Client      = (*Client)(nil)
)
