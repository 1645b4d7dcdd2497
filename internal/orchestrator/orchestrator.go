package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bryanwahyu/dance-analyzer/internal/application"
	"github.com/bryanwahyu/dance-analyzer/internal/application/relay"
	"github.com/bryanwahyu/dance-analyzer/internal/domain/analysis"
	"github.com/bryanwahyu/dance-analyzer/internal/domain/media"
	"github.com/bryanwahyu/dance-analyzer/internal/domain/results"
)

const (
	MaxFileSize       int64 = 100 << 20
	MaxUploadAttempts       = 3
	MaxStatusChecks         = 60
	PollInterval            = 2 * time.Second

	minUploadTimeout = 60 * time.Second
	maxUploadTimeout = 300 * time.Second
	timeoutPerMB     = 10 * time.Second
)

// PromptFunc produces the analysis prompt for a genre.
type PromptFunc func(genre string) (string, error)

// Hooks are called synchronously. OnProgress runs on the goroutine that reads
// the upload body, which for RelayClient is the HTTP transport's write loop,
// in read order. It may fire briefly after Upload returns when the server
// answers before the body is fully sent.
type Hooks struct {
	OnPhase    func(Phase)
	OnProgress func(Progress)
	OnRetry    func(failedAttempt int, wait time.Duration, err error)
}

type Options struct {
	Hooks  Hooks
	Logger *slog.Logger
	Clock  application.Clock
	// Sleep replaces the backoff/poll wait; application.Sleep when nil.
	Sleep func(ctx context.Context, d time.Duration) error
}

// uploadSlot remembers the last successful upload.
type uploadSlot struct {
	identity Identity
	handle   media.FileHandle
}

// Orchestrator drives one Job at a time through init, upload, processing and
// analysis. Only the upload is cached, in a single slot keyed by file identity.
type Orchestrator struct {
	relay  Relay
	prompt PromptFunc
	hooks  Hooks
	logger *slog.Logger
	clock  application.Clock
	sleep  func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	running bool
	slot    *uploadSlot
}

func New(r Relay, prompt PromptFunc, opts Options) *Orchestrator {
	o := &Orchestrator{
		relay:  r,
		prompt: prompt,
		hooks:  opts.Hooks,
		logger: opts.Logger,
		clock:  opts.Clock,
		sleep:  opts.Sleep,
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.clock == nil {
		o.clock = application.SystemClock{}
	}
	if o.sleep == nil {
		o.sleep = application.Sleep
	}
	return o
}

// UploadTimeout is the per-attempt limit: 10s per MB, clamped to [60s, 300s].
func UploadTimeout(size int64) time.Duration {
	mb := float64(size) / (1 << 20)
	d := time.Duration(mb * float64(timeoutPerMB))
	return min(max(d, minUploadTimeout), maxUploadTimeout)
}

func (o *Orchestrator) begin() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return false
	}
	o.running = true
	return true
}

func (o *Orchestrator) end() {
	o.mu.Lock()
	o.running = false
	o.mu.Unlock()
}

func (o *Orchestrator) cached(id Identity) (media.FileHandle, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.slot == nil || o.slot.identity != id {
		return media.FileHandle{}, false
	}
	return o.slot.handle, true
}

func (o *Orchestrator) remember(id Identity, h media.FileHandle) {
	o.mu.Lock()
	o.slot = &uploadSlot{identity: id, handle: h}
	o.mu.Unlock()
}

// Forget drops the cached upload.
func (o *Orchestrator) Forget() {
	o.mu.Lock()
	o.slot = nil
	o.mu.Unlock()
}

func (o *Orchestrator) setPhase(job *Job, p Phase) {
	job.Phase = p
	if o.hooks.OnPhase != nil {
		o.hooks.OnPhase(p)
	}
}

func (o *Orchestrator) fail(job *Job, err error) (*Job, error) {
	job.Err = err
	o.setPhase(job, PhaseError)
	o.logger.Warn("analysis failed",
		"file", job.Source.Name,
		"genre", job.Genre,
		"error", err,
	)
	return job, err
}

// Run analyzes src for genre. The returned Job is never nil; on failure its
// Phase is PhaseError (or PhaseIdle when rejected before any network call)
// and Err holds the cause.
func (o *Orchestrator) Run(ctx context.Context, src Source, genre, typ string) (*Job, error) {
	job := &Job{Source: src.Identity(), Genre: genre, Type: typ, Phase: PhaseIdle}

	if !o.begin() {
		job.Err = ErrJobInProgress
		return job, ErrJobInProgress
	}
	defer o.end()

	if src.Size > MaxFileSize {
		job.Err = fmt.Errorf("%w: %.1f MB exceeds the %d MB limit", ErrFileTooLarge, float64(src.Size)/(1<<20), MaxFileSize>>20)
		return job, job.Err
	}
	if src.Size <= 0 {
		job.Err = errors.New("file is empty")
		return job, job.Err
	}

	if h, ok := o.cached(job.Source); ok {
		o.logger.Info("reusing uploaded file", "source", job.Source.String(), "remote", h.Name)
		job.Handle, job.Reused = h, true
	} else {
		h, err := o.upload(ctx, job, src)
		if err != nil {
			return o.fail(job, err)
		}
		job.Handle = h
		o.remember(job.Source, h)
	}

	o.setPhase(job, PhaseProcessing)
	if err := o.waitActive(ctx, job.Handle.Name); err != nil {
		if errors.Is(err, ErrProcessingFailed) {
			// the remote copy is unusable; the next run must upload again
			o.Forget()
		}
		return o.fail(job, err)
	}

	o.setPhase(job, PhaseAnalyzing)
	content, err := o.analyze(ctx, job, src.MIMEType)
	if err != nil {
		return o.fail(job, err)
	}
	job.Result = analysis.Parse(content)

	o.save(ctx, job, content)
	o.setPhase(job, PhaseComplete)
	return job, nil
}

func (o *Orchestrator) uploadRequest(src Source) media.UploadRequest {
	return media.UploadRequest{MIMEType: src.MIMEType, NumBytes: src.Size, DisplayName: src.Name}
}

func (o *Orchestrator) initUpload(ctx context.Context, src Source) (string, error) {
	target, err := o.relay.Init(ctx, o.uploadRequest(src))
	if err != nil {
		if regionRestricted(err) {
			return "", fmt.Errorf("%w: %w", ErrRegionRestricted, err)
		}
		return "", err
	}
	return target, nil
}

// upload acquires a target and pushes the file, retrying with fresh
// credentials and 2^N second backoff.
func (o *Orchestrator) upload(ctx context.Context, job *Job, src Source) (media.FileHandle, error) {
	o.setPhase(job, PhaseInit)
	target, err := o.initUpload(ctx, src)
	if err != nil {
		return media.FileHandle{}, err
	}

	o.setPhase(job, PhaseUploading)
	var lastErr error
	for attempt := 1; attempt <= MaxUploadAttempts; attempt++ {
		if attempt > 1 {
			// upload targets are single use
			target, err = o.initUpload(ctx, src)
			if errors.Is(err, ErrRegionRestricted) {
				return media.FileHandle{}, err
			}
		}
		if err == nil {
			var h media.FileHandle
			h, err = o.uploadOnce(ctx, src, target)
			if err == nil {
				return h, nil
			}
		}
		if ctx.Err() != nil {
			return media.FileHandle{}, ctx.Err()
		}

		lastErr = err
		o.logger.Warn("upload attempt failed", "attempt", attempt, "error", err)
		if attempt == MaxUploadAttempts {
			break
		}
		wait := time.Duration(1<<attempt) * time.Second
		if o.hooks.OnRetry != nil {
			o.hooks.OnRetry(attempt, wait, err)
		}
		if err := o.sleep(ctx, wait); err != nil {
			return media.FileHandle{}, err
		}
	}
	return media.FileHandle{}, fmt.Errorf("%w after %d attempts: %w", ErrUploadFailed, MaxUploadAttempts, lastErr)
}

func (o *Orchestrator) uploadOnce(ctx context.Context, src Source, target string) (media.FileHandle, error) {
	rc, err := src.Open()
	if err != nil {
		return media.FileHandle{}, fmt.Errorf("open %s: %w", src.Name, err)
	}
	defer rc.Close()

	timeout := UploadTimeout(src.Size)
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body := newProgressReader(rc, src.Size, o.clock.Now, o.hooks.OnProgress)
	h, err := o.relay.Upload(attemptCtx, target, body, src.Size, src.MIMEType)
	if err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return media.FileHandle{}, fmt.Errorf("upload timed out after %s: %w", timeout, err)
	}
	return h, err
}

// waitActive polls until the file is ACTIVE. It checks at most
// MaxStatusChecks times, PollInterval apart.
func (o *Orchestrator) waitActive(ctx context.Context, name string) error {
	for check := 1; check <= MaxStatusChecks; check++ {
		state, err := o.relay.CheckStatus(ctx, name)
		if err != nil {
			return fmt.Errorf("status check failed: %w", err)
		}
		switch {
		case state.Ready():
			return nil
		case state.Failed():
			return ErrProcessingFailed
		}
		if check < MaxStatusChecks {
			if err := o.sleep(ctx, PollInterval); err != nil {
				return err
			}
		}
	}
	return ErrProcessingTimeout
}

func (o *Orchestrator) analyze(ctx context.Context, job *Job, mimeType string) (string, error) {
	prompt, err := o.prompt(job.Genre)
	if err != nil {
		return "", fmt.Errorf("build prompt: %w", err)
	}
	content, err := o.relay.Analyze(ctx, relay.AnalyzeCommand{
		FileURI:    job.Handle.URI,
		MIMEType:   mimeType,
		Genre:      job.Genre,
		UserPrompt: prompt,
	})
	if err != nil {
		return "", fmt.Errorf("analysis: %w", err)
	}
	return content, nil
}

// save persists the result for sharing; failures only get logged.
func (o *Orchestrator) save(ctx context.Context, job *Job, content string) {
	id, err := o.relay.SaveResult(ctx, relay.SaveResultCommand{
		Result: content,
		Genre:  job.Genre,
		Type:   job.Type,
	})
	if err != nil {
		o.logger.Warn("failed to save result for sharing", "error", err)
		return
	}
	job.ResultID = id
	o.logger.Info("result saved", "id", id)
}

// Shared is a persisted result, parsed the same way as a fresh one.
type Shared struct {
	ID        string
	Genre     string
	Type      string
	CreatedAt time.Time
	Result    analysis.Result
}

// Fetch loads a shared result; results.ErrNotFound when absent or expired.
func (o *Orchestrator) Fetch(ctx context.Context, id string) (*Shared, error) {
	rec, err := o.relay.GetResult(ctx, id)
	if err != nil {
		if errors.Is(err, results.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("fetch result %s: %w", id, err)
	}
	return &Shared{
		ID:        id,
		Genre:     rec.Genre,
		Type:      rec.Type,
		CreatedAt: rec.CreatedAt,
		Result:    analysis.Parse(rec.Result),
	}, nil
}
