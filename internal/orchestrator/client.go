package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/bryanwahyu/dance-analyzer/internal/application/relay"
	"github.com/bryanwahyu/dance-analyzer/internal/domain/media"
	"github.com/bryanwahyu/dance-analyzer/internal/domain/results"
)

// maxErrorBody bounds how much of a failed response is kept in RelayError.
const maxErrorBody = 64 << 10

// Relay is the relay surface the orchestrator drives.
type Relay interface {
	Init(ctx context.Context, req media.UploadRequest) (string, error)
	Upload(ctx context.Context, uploadURL string, body io.Reader, size int64, mimeType string) (media.FileHandle, error)
	CheckStatus(ctx context.Context, fileName string) (media.FileState, error)
	Analyze(ctx context.Context, cmd relay.AnalyzeCommand) (string, error)
	SaveResult(ctx context.Context, cmd relay.SaveResultCommand) (string, error)
	GetResult(ctx context.Context, id string) (*results.Record, error)
}

// RelayClient talks to the relay over HTTP.
type RelayClient struct {
	endpoint string
	origin   string
	http     *http.Client
}

// NewRelayClient builds a client for the relay at endpoint. origin, when set,
// is sent as the Origin header so allow-listed deployments accept the CLI.
func NewRelayClient(endpoint, origin string, httpClient *http.Client) *RelayClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &RelayClient{endpoint: strings.TrimRight(endpoint, "?"), origin: origin, http: httpClient}
}

func (c *RelayClient) actionURL(action string, extra url.Values) string {
	q := url.Values{"action": {action}}
	for k, v := range extra {
		q[k] = v
	}
	return c.endpoint + "?" + q.Encode()
}

func (c *RelayClient) do(ctx context.Context, action, method string, extra url.Values, body io.Reader, header http.Header, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.actionURL(action, extra), body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", action, err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if c.origin != "" {
		req.Header.Set("Origin", c.origin)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", action, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &RelayError{Action: action, StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", action, err)
	}
	return nil
}

func (c *RelayClient) postJSON(ctx context.Context, action string, in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	h := http.Header{"Content-Type": {"application/json"}}
	return c.do(ctx, action, http.MethodPost, nil, bytes.NewReader(b), h, out)
}

func (c *RelayClient) Init(ctx context.Context, req media.UploadRequest) (string, error) {
	var out struct {
		UploadURL string `json:"uploadUrl"`
	}
	if err := c.postJSON(ctx, "init", req, &out); err != nil {
		return "", err
	}
	if out.UploadURL == "" {
		return "", errors.New("init: relay returned no uploadUrl")
	}
	return out.UploadURL, nil
}

// Upload streams body to the relay; size must be exact.
func (c *RelayClient) Upload(ctx context.Context, uploadURL string, body io.Reader, size int64, mimeType string) (media.FileHandle, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.actionURL("upload", nil), body)
	if err != nil {
		return media.FileHandle{}, err
	}
	req.ContentLength = size
	req.Header.Set("X-Upload-Url", uploadURL)
	req.Header.Set("Content-Type", mimeType)
	if c.origin != "" {
		req.Header.Set("Origin", c.origin)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return media.FileHandle{}, fmt.Errorf("upload request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return media.FileHandle{}, &RelayError{Action: "upload", StatusCode: resp.StatusCode, Body: string(b)}
	}
	var handle media.FileHandle
	if err := json.NewDecoder(resp.Body).Decode(&handle); err != nil {
		return media.FileHandle{}, fmt.Errorf("invalid JSON response from upload: %w", err)
	}
	if handle.Name == "" || handle.URI == "" {
		return media.FileHandle{}, errors.New("upload: relay returned an incomplete file handle")
	}
	return handle, nil
}

func (c *RelayClient) CheckStatus(ctx context.Context, fileName string) (media.FileState, error) {
	var out struct {
		State media.FileState `json:"state"`
	}
	in := map[string]string{"fileName": fileName}
	if err := c.postJSON(ctx, "check_status", in, &out); err != nil {
		return "", err
	}
	return out.State, nil
}

// Analyze returns choices[0].message.content of the relay's answer.
func (c *RelayClient) Analyze(ctx context.Context, cmd relay.AnalyzeCommand) (string, error) {
	var out openai.ChatCompletionResponse
	if err := c.postJSON(ctx, "analyze", cmd, &out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", ErrEmptyAnalysis
	}
	return out.Choices[0].Message.Content, nil
}

func (c *RelayClient) SaveResult(ctx context.Context, cmd relay.SaveResultCommand) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := c.postJSON(ctx, "save_result", cmd, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// GetResult maps a 404 to results.ErrNotFound.
func (c *RelayClient) GetResult(ctx context.Context, id string) (*results.Record, error) {
	var rec results.Record
	err := c.do(ctx, "get_result", http.MethodGet, url.Values{"id": {id}}, nil, nil, &rec)
	var re *RelayError
	if errors.As(err, &re) && re.StatusCode == http.StatusNotFound {
		return nil, results.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

var _ Relay = (*RelayClient)(nil)
