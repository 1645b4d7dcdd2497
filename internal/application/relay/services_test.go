package relay

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/bryanwahyu/dance-analyzer/internal/domain/ai"
	"github.com/bryanwahyu/dance-analyzer/internal/domain/media"
	"github.com/bryanwahyu/dance-analyzer/internal/domain/results"
	"github.com/bryanwahyu/dance-analyzer/internal/logging"
)

type fakeUpstream struct {
	initReq    media.UploadRequest
	uploadBody string
	uploadSize int64
	state      media.FileState
	err        error
}

func (f *fakeUpstream) InitiateUpload(ctx context.Context, req media.UploadRequest) (string, error) {
	f.initReq = req
	return "https://upload.example/session/1", f.err
}

func (f *fakeUpstream) Upload(ctx context.Context, target string, body io.Reader, size int64) (media.FileHandle, error) {
	b, _ := io.ReadAll(body)
	f.uploadBody = string(b)
	f.uploadSize = size
	return media.FileHandle{URI: "https://files.example/abc", Name: "files/abc"}, f.err
}

func (f *fakeUpstream) FileState(ctx context.Context, name string) (media.FileState, error) {
	return f.state, f.err
}

type fakeModel struct {
	req   ai.GenerateRequest
	parts []ai.Part
	err   error
}

func (f *fakeModel) Generate(ctx context.Context, req ai.GenerateRequest) ([]ai.Part, error) {
	f.req = req
	return f.parts, f.err
}

type memResults struct {
	recs map[string]*results.Record
	ttl  time.Duration
	err  error
}

func (m *memResults) Put(ctx context.Context, id string, rec *results.Record, ttl time.Duration) error {
	if m.err != nil {
		return m.err
	}
	if m.recs == nil {
		m.recs = map[string]*results.Record{}
	}
	m.recs[id] = rec
	m.ttl = ttl
	return nil
}

func (m *memResults) Get(ctx context.Context, id string) (*results.Record, error) {
	rec, ok := m.recs[id]
	if !ok {
		return nil, results.ErrNotFound
	}
	return rec, nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func newService(up *fakeUpstream, model *fakeModel, store results.Repository) *Service {
	return &Service{
		Upstream: up,
		Model:    model,
		Results:  store,
		Clock:    fixedClock{t: time.Date(2026, 10, 1, 12, 0, 0, 123456789, time.UTC)},
		Logger:   logging.Discard(),
	}
}

func TestService_UpstreamNotConfigured(t *testing.T) {
	svc := &Service{Results: &memResults{}}
	ctx := context.Background()

	if _, err := svc.Init(ctx, media.UploadRequest{NumBytes: 1}); !errors.Is(err, ErrUpstreamNotConfigured) {
		t.Errorf("init err = %v", err)
	}
	if _, err := svc.Upload(ctx, "x", strings.NewReader("x"), 1); !errors.Is(err, ErrUpstreamNotConfigured) {
		t.Errorf("upload err = %v", err)
	}
	if _, err := svc.CheckStatus(ctx, "files/a"); !errors.Is(err, ErrUpstreamNotConfigured) {
		t.Errorf("status err = %v", err)
	}
	if _, err := svc.Analyze(ctx, AnalyzeCommand{FileURI: "u"}); !errors.Is(err, ErrUpstreamNotConfigured) {
		t.Errorf("analyze err = %v", err)
	}
}

func TestService_StoreNotConfigured(t *testing.T) {
	svc := newService(&fakeUpstream{}, &fakeModel{}, nil)
	ctx := context.Background()

	if _, err := svc.SaveResult(ctx, SaveResultCommand{Result: "x"}); !errors.Is(err, ErrStoreNotConfigured) {
		t.Errorf("save err = %v", err)
	}
	if _, err := svc.GetResult(ctx, "id"); !errors.Is(err, ErrStoreNotConfigured) {
		t.Errorf("get err = %v", err)
	}
}

func TestService_InitPassesRequest(t *testing.T) {
	up := &fakeUpstream{}
	svc := newService(up, &fakeModel{}, nil)

	url, err := svc.Init(context.Background(), media.UploadRequest{MIMEType: "video/mp4", NumBytes: 20 << 20, DisplayName: "salsa.mp4"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if url != "https://upload.example/session/1" {
		t.Errorf("url = %q", url)
	}
	if up.initReq.DisplayName != "salsa.mp4" || up.initReq.NumBytes != 20<<20 {
		t.Errorf("init req = %+v", up.initReq)
	}

	var vErr *ValidationError
	if _, err := svc.Init(context.Background(), media.UploadRequest{}); !errors.As(err, &vErr) {
		t.Errorf("expected validation error for zero bytes, got %v", err)
	}
}

func TestService_UploadStreamsBody(t *testing.T) {
	up := &fakeUpstream{}
	svc := newService(up, &fakeModel{}, nil)

	h, err := svc.Upload(context.Background(), "https://upload.example/session/1", strings.NewReader("video-bytes"), 11)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.Name != "files/abc" || h.URI != "https://files.example/abc" {
		t.Errorf("handle = %+v", h)
	}
	if up.uploadBody != "video-bytes" || up.uploadSize != 11 {
		t.Errorf("body=%q size=%d", up.uploadBody, up.uploadSize)
	}

	var vErr *ValidationError
	if _, err := svc.Upload(context.Background(), "", strings.NewReader(""), 0); !errors.As(err, &vErr) {
		t.Errorf("expected validation error for missing target, got %v", err)
	}
}

func TestService_CheckStatus(t *testing.T) {
	svc := newService(&fakeUpstream{state: media.StateActive}, &fakeModel{}, nil)
	state, err := svc.CheckStatus(context.Background(), "files/abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !state.Ready() {
		t.Errorf("state = %q", state)
	}
}

func TestService_AnalyzeCleansOutput(t *testing.T) {
	model := &fakeModel{parts: []ai.Part{
		{Text: "plan the critique", Thought: true},
		{Text: "```json\n{\"grade\":\"A\",\"detailScores\":[{\"name\":\"Timing\",\"score\":8}\n```"},
	}}
	svc := newService(&fakeUpstream{}, model, nil)

	text, err := svc.Analyze(context.Background(), AnalyzeCommand{FileURI: "https://files.example/abc", UserPrompt: "critique"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `{"grade":"A","detailScores":[{"name":"Timing","score":8}]}`
	if text != want {
		t.Errorf("text = %q, want %q", text, want)
	}
	if model.req.MIMEType != "video/mp4" {
		t.Errorf("default mime = %q", model.req.MIMEType)
	}
	if model.req.Prompt != "critique" {
		t.Errorf("prompt = %q", model.req.Prompt)
	}
}

func TestService_AnalyzeFreeTextPassesThrough(t *testing.T) {
	model := &fakeModel{parts: []ai.Part{{Text: "Nice {energy} but work on [frame"}}}
	svc := newService(&fakeUpstream{}, model, nil)

	text, err := svc.Analyze(context.Background(), AnalyzeCommand{FileURI: "u", MIMEType: "video/quicktime"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "Nice {energy} but work on [frame" {
		t.Errorf("text = %q", text)
	}
}

func TestService_AnalyzePropagatesUpstreamError(t *testing.T) {
	boom := errors.New("upstream down")
	svc := newService(&fakeUpstream{}, &fakeModel{err: boom}, nil)
	if _, err := svc.Analyze(context.Background(), AnalyzeCommand{FileURI: "u"}); !errors.Is(err, boom) {
		t.Errorf("err = %v", err)
	}
}

func TestService_SaveAndGetResult(t *testing.T) {
	store := &memResults{}
	svc := newService(&fakeUpstream{}, &fakeModel{}, store)
	svc.NewID = func() string { return "11111111-2222-4333-8444-555555555555" }

	id, err := svc.SaveResult(context.Background(), SaveResultCommand{Result: `{"grade":"A"}`, Genre: "salsa"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "11111111-2222-4333-8444-555555555555" {
		t.Errorf("id = %q", id)
	}
	if store.ttl != DefaultResultTTL {
		t.Errorf("ttl = %s", store.ttl)
	}

	rec, err := svc.GetResult(context.Background(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Genre != "salsa" || rec.Result != `{"grade":"A"}` {
		t.Errorf("record = %+v", rec)
	}
	wantCreated := time.Date(2026, 10, 1, 12, 0, 0, 123000000, time.UTC)
	if !rec.CreatedAt.Equal(wantCreated) {
		t.Errorf("createdAt = %s, want %s", rec.CreatedAt, wantCreated)
	}

	if _, err := svc.GetResult(context.Background(), "missing"); !errors.Is(err, results.ErrNotFound) {
		t.Errorf("missing err = %v", err)
	}
}

func TestService_SaveResultDefaultIDIsUUID(t *testing.T) {
	store := &memResults{}
	svc := newService(&fakeUpstream{}, &fakeModel{}, store)

	id, err := svc.SaveResult(context.Background(), SaveResultCommand{Result: "x", Genre: "bachata"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(id) != 36 || strings.Count(id, "-") != 4 {
		t.Errorf("id %q is not a uuid", id)
	}
}
