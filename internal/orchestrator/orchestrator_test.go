package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bryanwahyu/dance-analyzer/internal/application/relay"
	"github.com/bryanwahyu/dance-analyzer/internal/domain/media"
	"github.com/bryanwahyu/dance-analyzer/internal/domain/results"
	"github.com/bryanwahyu/dance-analyzer/internal/logging"
	"github.com/bryanwahyu/dance-analyzer/internal/render"
)

const salsaReport = `{"rejected": false, "summary": {"strengths": "Sharp breaks [00:05]", "weaknesses": "Frame"}, "detailScores": [{"name": "Timing", "score": 9, "comment": "ok"}], "overallScore": 8.5, "grade": "A", "onePointLesson": "Relax shoulders"}`

// fakeRelay scripts relay answers and records every call in order.
type fakeRelay struct {
	mu    sync.Mutex
	calls []string

	initErrs   []error
	uploadErrs []error
	states     []media.FileState
	statusErr  error
	content    string
	analyzeErr error
	saveErr    error
	saved      []relay.SaveResultCommand
	analyzed   []relay.AnalyzeCommand
	records    map[string]*results.Record

	inits, uploads, checks int
	uploadBlock            chan struct{}
}

func (f *fakeRelay) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeRelay) Init(_ context.Context, req media.UploadRequest) (string, error) {
	f.record("init")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inits++
	if len(f.initErrs) >= f.inits && f.initErrs[f.inits-1] != nil {
		return "", f.initErrs[f.inits-1]
	}
	return fmt.Sprintf("https://upload.test/session/%d", f.inits), nil
}

func (f *fakeRelay) Upload(_ context.Context, uploadURL string, body io.Reader, size int64, _ string) (media.FileHandle, error) {
	f.record("upload")
	if f.uploadBlock != nil {
		<-f.uploadBlock
	}
	if _, err := io.Copy(io.Discard, body); err != nil {
		return media.FileHandle{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads++
	if len(f.uploadErrs) >= f.uploads && f.uploadErrs[f.uploads-1] != nil {
		return media.FileHandle{}, f.uploadErrs[f.uploads-1]
	}
	return media.FileHandle{URI: "https://files.test/v1beta/files/abc", Name: "files/abc"}, nil
}

func (f *fakeRelay) CheckStatus(context.Context, string) (media.FileState, error) {
	f.record("check_status")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks++
	if f.statusErr != nil {
		return "", f.statusErr
	}
	if len(f.states) == 0 {
		return media.StateActive, nil
	}
	i := min(f.checks, len(f.states)) - 1
	return f.states[i], nil
}

func (f *fakeRelay) Analyze(_ context.Context, cmd relay.AnalyzeCommand) (string, error) {
	f.record("analyze")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.analyzed = append(f.analyzed, cmd)
	return f.content, f.analyzeErr
}

func (f *fakeRelay) SaveResult(_ context.Context, cmd relay.SaveResultCommand) (string, error) {
	f.record("save_result")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return "", f.saveErr
	}
	f.saved = append(f.saved, cmd)
	id := "4f1c2a4e-8d3b-4c6a-9a57-2b1f0f1e9d11"
	if f.records == nil {
		f.records = map[string]*results.Record{}
	}
	f.records[id] = &results.Record{Result: cmd.Result, Genre: cmd.Genre, Type: cmd.Type, CreatedAt: time.Now().UTC()}
	return id, nil
}

func (f *fakeRelay) GetResult(_ context.Context, id string) (*results.Record, error) {
	f.record("get_result")
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return nil, results.ErrNotFound
	}
	return rec, nil
}

func (f *fakeRelay) count(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeRelay) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeSleeper records waits and logs them into the relay call sequence.
type fakeSleeper struct {
	relay *fakeRelay
	mu    sync.Mutex
	waits []time.Duration
}

func (s *fakeSleeper) Sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	if s.relay != nil {
		s.relay.record(fmt.Sprintf("sleep %s", d))
	}
	return nil
}

func source(size int64) Source {
	return Source{
		Name:     "salsa.mp4",
		Size:     size,
		ModTime:  time.Date(2026, 10, 1, 10, 0, 0, 0, time.UTC),
		MIMEType: "video/mp4",
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(strings.Repeat("x", int(size)))), nil
		},
	}
}

func staticPrompt(genre string) (string, error) { return "critique " + genre, nil }

func newTestOrchestrator(r *fakeRelay, s *fakeSleeper, hooks Hooks) *Orchestrator {
	return New(r, staticPrompt, Options{Hooks: hooks, Logger: logging.Discard(), Sleep: s.Sleep})
}

func TestRun_RejectsOversizeWithoutNetwork(t *testing.T) {
	r := &fakeRelay{}
	o := newTestOrchestrator(r, &fakeSleeper{}, Hooks{})

	for _, size := range []int64{MaxFileSize + 1, 250 << 20} {
		src := source(0)
		src.Size = size
		job, err := o.Run(context.Background(), src, "salsa", "")
		if !errors.Is(err, ErrFileTooLarge) {
			t.Fatalf("size %d: err = %v", size, err)
		}
		if job.Phase != PhaseIdle {
			t.Errorf("phase = %s, want idle", job.Phase)
		}
		if !strings.Contains(err.Error(), "MB") {
			t.Errorf("message should carry the size: %v", err)
		}
	}
	if len(r.calls) != 0 {
		t.Errorf("network calls = %v", r.calls)
	}
}

func TestRun_EndToEndSalsa(t *testing.T) {
	r := &fakeRelay{
		states:  []media.FileState{media.StateProcessing, media.StateProcessing, media.StateActive},
		content: salsaReport,
	}
	s := &fakeSleeper{relay: r}
	var phases []Phase
	o := newTestOrchestrator(r, s, Hooks{OnPhase: func(p Phase) { phases = append(phases, p) }})

	job, err := o.Run(context.Background(), source(20<<20), "salsa", "solo")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	wantCalls := []string{"init", "upload", "check_status", "sleep 2s", "check_status", "sleep 2s", "check_status", "analyze", "save_result"}
	if strings.Join(r.calls, ",") != strings.Join(wantCalls, ",") {
		t.Errorf("calls = %v\nwant    %v", r.calls, wantCalls)
	}
	wantPhases := []Phase{PhaseInit, PhaseUploading, PhaseProcessing, PhaseAnalyzing, PhaseComplete}
	if fmt.Sprint(phases) != fmt.Sprint(wantPhases) {
		t.Errorf("phases = %v", phases)
	}

	if job.Phase != PhaseComplete || job.Err != nil {
		t.Errorf("job = %+v", job)
	}
	if !job.Result.Structured() || job.Result.Report.Grade != "A" || float64(job.Result.Report.OverallScore) != 8.5 {
		t.Errorf("result = %+v", job.Result)
	}
	if job.ResultID == "" {
		t.Error("result id not retained")
	}
	if len(r.saved) != 1 || r.saved[0].Genre != "salsa" || r.saved[0].Type != "solo" || r.saved[0].Result != salsaReport {
		t.Errorf("saved = %+v", r.saved)
	}
	if len(r.analyzed) != 1 || r.analyzed[0].UserPrompt != "critique salsa" || r.analyzed[0].FileURI == "" {
		t.Errorf("analyze = %+v", r.analyzed)
	}

	out := render.Text(job.Result)
	for _, section := range []string{"1. ", "2. ", "3. ", "4. "} {
		if !strings.Contains(out, section) {
			t.Errorf("render missing section %q", section)
		}
	}

	shared, err := o.Fetch(context.Background(), job.ResultID)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if render.Text(shared.Result) != out {
		t.Error("shared result renders differently from the fresh one")
	}
}

func TestRun_ReusesCachedUpload(t *testing.T) {
	r := &fakeRelay{content: "free text"}
	o := newTestOrchestrator(r, &fakeSleeper{}, Hooks{})
	src := source(1024)

	for i := 0; i < 3; i++ {
		job, err := o.Run(context.Background(), src, "bachata", "")
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if wantReused := i > 0; job.Reused != wantReused {
			t.Errorf("run %d: reused = %v", i, job.Reused)
		}
	}
	if r.count("init") != 1 || r.count("upload") != 1 {
		t.Errorf("init=%d upload=%d, want one of each", r.count("init"), r.count("upload"))
	}
	// status and analysis are never cached
	if r.count("check_status") != 3 || r.count("analyze") != 3 {
		t.Errorf("check_status=%d analyze=%d", r.count("check_status"), r.count("analyze"))
	}
}

func TestRun_ChangedIdentityUploadsAgain(t *testing.T) {
	r := &fakeRelay{content: "free text"}
	o := newTestOrchestrator(r, &fakeSleeper{}, Hooks{})

	src := source(1024)
	if _, err := o.Run(context.Background(), src, "zouk", ""); err != nil {
		t.Fatal(err)
	}
	src.ModTime = src.ModTime.Add(time.Second)
	job, err := o.Run(context.Background(), src, "zouk", "")
	if err != nil {
		t.Fatal(err)
	}
	if job.Reused || r.count("upload") != 2 {
		t.Errorf("reused=%v uploads=%d", job.Reused, r.count("upload"))
	}
}

func TestRun_UploadRetryBackoffAndReinit(t *testing.T) {
	r := &fakeRelay{
		uploadErrs: []error{errors.New("network error"), errors.New("network error")},
		content:    "ok",
	}
	s := &fakeSleeper{relay: r}
	var retries []int
	o := newTestOrchestrator(r, s, Hooks{OnRetry: func(n int, wait time.Duration, err error) { retries = append(retries, n) }})

	if _, err := o.Run(context.Background(), source(100), "salsa", ""); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := "init,upload,sleep 2s,init,upload,sleep 4s,init,upload,check_status"
	if got := strings.Join(r.calls[:9], ","); got != want {
		t.Errorf("calls = %s\nwant    %s", got, want)
	}
	if fmt.Sprint(retries) != "[1 2]" {
		t.Errorf("retries = %v", retries)
	}
}

func TestRun_UploadExhausted(t *testing.T) {
	boom := errors.New("connection reset")
	r := &fakeRelay{uploadErrs: []error{boom, boom, boom}}
	s := &fakeSleeper{}
	o := newTestOrchestrator(r, s, Hooks{})

	job, err := o.Run(context.Background(), source(100), "salsa", "")
	if !errors.Is(err, ErrUploadFailed) || !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(err.Error(), "3 attempts") {
		t.Errorf("error should name the attempt count: %v", err)
	}
	if job.Phase != PhaseError {
		t.Errorf("phase = %s", job.Phase)
	}
	if fmt.Sprint(s.waits) != "[2s 4s]" {
		t.Errorf("waits = %v", s.waits)
	}
	if r.count("init") != 3 || r.count("check_status") != 0 {
		t.Errorf("calls = %v", r.calls)
	}
	// nothing cached after a failed upload
	if _, ok := o.cached(source(100).Identity()); ok {
		t.Error("failed upload must not be cached")
	}
}

func TestRun_RegionRestricted(t *testing.T) {
	r := &fakeRelay{initErrs: []error{&RelayError{
		Action:     "init",
		StatusCode: 500,
		Body:       `{"error":"init failed (400): {\"error\":{\"status\":\"FAILED_PRECONDITION\"}}"}`,
	}}}
	s := &fakeSleeper{}
	o := newTestOrchestrator(r, s, Hooks{})

	_, err := o.Run(context.Background(), source(100), "salsa", "")
	if !errors.Is(err, ErrRegionRestricted) {
		t.Fatalf("err = %v", err)
	}
	if r.count("init") != 1 || r.count("upload") != 0 || len(s.waits) != 0 {
		t.Errorf("region errors must not be retried: calls=%v waits=%v", r.calls, s.waits)
	}
}

func TestRun_PollingTimeout(t *testing.T) {
	r := &fakeRelay{states: []media.FileState{media.StateProcessing}}
	s := &fakeSleeper{}
	o := newTestOrchestrator(r, s, Hooks{})

	_, err := o.Run(context.Background(), source(100), "salsa", "")
	if !errors.Is(err, ErrProcessingTimeout) {
		t.Fatalf("err = %v", err)
	}
	if r.checks != MaxStatusChecks {
		t.Errorf("checks = %d, want %d", r.checks, MaxStatusChecks)
	}
	if len(s.waits) != MaxStatusChecks-1 {
		t.Errorf("waits = %d", len(s.waits))
	}
	for _, w := range s.waits {
		if w != PollInterval {
			t.Fatalf("wait = %s", w)
		}
	}
	if r.count("analyze") != 0 {
		t.Error("analyze must not run before ready")
	}
}

func TestRun_ProcessingFailed(t *testing.T) {
	r := &fakeRelay{states: []media.FileState{media.StateProcessing, media.StateFailed}}
	o := newTestOrchestrator(r, &fakeSleeper{}, Hooks{})

	_, err := o.Run(context.Background(), source(100), "salsa", "")
	if !errors.Is(err, ErrProcessingFailed) {
		t.Fatalf("err = %v", err)
	}
	if r.checks != 2 {
		t.Errorf("checks = %d", r.checks)
	}
}

func TestRun_ProcessingFailedDropsCachedUpload(t *testing.T) {
	r := &fakeRelay{content: "free text", states: []media.FileState{media.StateFailed}}
	o := newTestOrchestrator(r, &fakeSleeper{}, Hooks{})
	src := source(100)

	if _, err := o.Run(context.Background(), src, "salsa", ""); !errors.Is(err, ErrProcessingFailed) {
		t.Fatalf("err = %v", err)
	}
	r.mu.Lock()
	r.states = nil
	r.mu.Unlock()

	job, err := o.Run(context.Background(), src, "salsa", "")
	if err != nil {
		t.Fatal(err)
	}
	if job.Reused || r.count("upload") != 2 {
		t.Errorf("reused=%v uploads=%d, want a fresh upload", job.Reused, r.count("upload"))
	}
}

func TestForget(t *testing.T) {
	r := &fakeRelay{content: "free text"}
	o := newTestOrchestrator(r, &fakeSleeper{}, Hooks{})
	src := source(100)

	if _, err := o.Run(context.Background(), src, "kizomba", ""); err != nil {
		t.Fatal(err)
	}
	o.Forget()
	job, err := o.Run(context.Background(), src, "kizomba", "")
	if err != nil {
		t.Fatal(err)
	}
	if job.Reused || r.count("init") != 2 {
		t.Errorf("reused=%v inits=%d", job.Reused, r.count("init"))
	}
}

func TestIdentityString(t *testing.T) {
	id := source(2048).Identity()
	want := fmt.Sprintf("salsa.mp4_2048_%d", id.ModTime.UnixMilli())
	if got := id.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestRun_StatusCallErrorFails(t *testing.T) {
	r := &fakeRelay{statusErr: &RelayError{Action: "check_status", StatusCode: 500, Body: "boom"}}
	o := newTestOrchestrator(r, &fakeSleeper{}, Hooks{})

	job, err := o.Run(context.Background(), source(100), "salsa", "")
	if err == nil || job.Phase != PhaseError {
		t.Fatalf("err = %v phase = %s", err, job.Phase)
	}
	if r.checks != 1 {
		t.Errorf("checks = %d", r.checks)
	}
}

func TestRun_SaveFailureDoesNotFailJob(t *testing.T) {
	r := &fakeRelay{content: "Nice bachata.", saveErr: errors.New("store down")}
	o := newTestOrchestrator(r, &fakeSleeper{}, Hooks{})

	job, err := o.Run(context.Background(), source(100), "bachata", "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if job.Phase != PhaseComplete || job.ResultID != "" {
		t.Errorf("job = %+v", job)
	}
	if job.Result.Structured() || job.Result.Raw != "Nice bachata." {
		t.Errorf("result = %+v", job.Result)
	}
}

func TestRun_SingleJobInFlight(t *testing.T) {
	r := &fakeRelay{uploadBlock: make(chan struct{}), content: "ok"}
	o := newTestOrchestrator(r, &fakeSleeper{}, Hooks{})

	done := make(chan error, 1)
	go func() {
		_, err := o.Run(context.Background(), source(100), "salsa", "")
		done <- err
	}()

	// wait until the first job is inside upload
	deadline := time.Now().Add(2 * time.Second)
	for r.count("upload") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first job never reached upload")
		}
		time.Sleep(time.Millisecond)
	}

	callsBefore := r.total()
	_, err := o.Run(context.Background(), source(200), "salsa", "")
	if !errors.Is(err, ErrJobInProgress) {
		t.Fatalf("err = %v", err)
	}
	if r.total() != callsBefore {
		t.Error("rejected job must not touch the network")
	}

	close(r.uploadBlock)
	if err := <-done; err != nil {
		t.Fatalf("first job: %v", err)
	}
	// guard released
	if _, err := o.Run(context.Background(), source(100), "salsa", ""); err != nil {
		t.Fatalf("after release: %v", err)
	}
}

func TestFetch_NotFound(t *testing.T) {
	o := newTestOrchestrator(&fakeRelay{}, &fakeSleeper{}, Hooks{})
	if _, err := o.Fetch(context.Background(), "missing"); !errors.Is(err, results.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestUploadTimeout(t *testing.T) {
	cases := []struct {
		size int64
		want time.Duration
	}{
		{1 << 20, 60 * time.Second},
		{6 << 20, 60 * time.Second},
		{20 << 20, 200 * time.Second},
		{30 << 20, 300 * time.Second},
		{100 << 20, 300 * time.Second},
	}
	for _, tc := range cases {
		if got := UploadTimeout(tc.size); got != tc.want {
			t.Errorf("UploadTimeout(%d) = %s, want %s", tc.size, got, tc.want)
		}
	}
}
