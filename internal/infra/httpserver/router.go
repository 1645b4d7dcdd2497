package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/sashabaranov/go-openai"

	"github.com/bryanwahyu/dance-analyzer/internal/application/relay"
	domai "github.com/bryanwahyu/dance-analyzer/internal/domain/ai"
	"github.com/bryanwahyu/dance-analyzer/internal/domain/media"
	"github.com/bryanwahyu/dance-analyzer/internal/domain/results"
	"github.com/bryanwahyu/dance-analyzer/internal/logging"
	"github.com/bryanwahyu/dance-analyzer/internal/middleware"
)

// maxJSONBytes caps every JSON request body; save_result carries the largest.
const maxJSONBytes = 1 << 20

// Options wires the relay router.
type Options struct {
	Service        *relay.Service
	UploadBaseURL  string
	AllowedOrigins []string
	Checkers       map[string]middleware.HealthChecker
	RateLimiter    *middleware.RateLimiter
	Logger         *slog.Logger
}

type Router struct {
	svc        *relay.Service
	uploadBase *url.URL
	logger     *slog.Logger
	actions    map[string]action
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

// action is one row of the dispatch table.
type action struct {
	method        string
	needsUpstream bool
	needsStore    bool
	handle        handlerFunc
}

func NewRouter(opts Options) (http.Handler, error) {
	base, err := url.Parse(opts.UploadBaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upload base url: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Router{svc: opts.Service, uploadBase: base, logger: logging.WithComponent(logger, "relay")}
	r.actions = map[string]action{
		"init":         {method: http.MethodPost, needsUpstream: true, handle: r.handleInit},
		"upload":       {method: http.MethodPost, needsUpstream: true, handle: r.handleUpload},
		"check_status": {method: http.MethodPost, needsUpstream: true, handle: r.handleCheckStatus},
		"analyze":      {method: http.MethodPost, needsUpstream: true, handle: r.handleAnalyze},
		"save_result":  {method: http.MethodPost, needsStore: true, handle: r.handleSaveResult},
		"get_result":   {method: http.MethodGet, needsStore: true, handle: r.handleGetResult},
	}

	mux := chi.NewRouter()
	mux.Use(middleware.RequestIDMiddleware())
	mux.Use(chimw.RealIP)
	mux.Use(middleware.RecoveryMiddleware(logger))
	mux.Use(middleware.LoggingMiddleware(logger))
	mux.Use(middleware.MetricsMiddleware)
	mux.Use(middleware.NoStore)

	mux.Get("/health", middleware.HealthHandler(opts.Checkers))
	mux.Get("/ready", middleware.ReadinessHandler(r.svc.UpstreamConfigured()))
	mux.Get("/live", middleware.LivenessHandler)
	mux.Get("/metrics", middleware.MetricsHandler)

	mux.Group(func(rt chi.Router) {
		rt.Use(middleware.OriginGuard(opts.AllowedOrigins, logger))
		if opts.RateLimiter != nil {
			rt.Use(middleware.RateLimitMiddleware(opts.RateLimiter))
		}
		// HandleFunc claims every method, so the OPTIONS route must come after it
		rt.HandleFunc("/", r.dispatch)
		rt.Options("/", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	})

	return mux, nil
}

// dispatch routes ?action= through the action table.
func (r *Router) dispatch(w http.ResponseWriter, req *http.Request) {
	name := req.URL.Query().Get("action")
	a, ok := r.actions[name]
	if !ok {
		middleware.WriteError(w, http.StatusBadRequest, fmt.Sprintf("Unknown action: %q", name))
		return
	}
	if req.Method != a.method {
		w.Header().Set("Allow", a.method+", "+http.MethodOptions)
		middleware.WriteError(w, http.StatusMethodNotAllowed, fmt.Sprintf("%s requires %s", name, a.method))
		return
	}
	if a.needsUpstream && !r.svc.UpstreamConfigured() {
		r.writeErr(w, req, relay.ErrUpstreamNotConfigured)
		return
	}
	if a.needsStore && !r.svc.StoreConfigured() {
		r.writeErr(w, req, relay.ErrStoreNotConfigured)
		return
	}
	r.wrap(a.handle)(w, req)
}

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := h(w, req); err != nil {
			r.writeErr(w, req, err)
		}
	}
}

func (r *Router) writeErr(w http.ResponseWriter, req *http.Request, err error) {
	status, msg := statusFor(err)
	log := logging.WithAction(r.logger, req.URL.Query().Get("action"))
	if status >= http.StatusInternalServerError {
		log.Error("action failed", "error", err, "request_id", middleware.RequestID(req.Context()))
	} else {
		log.Warn("action rejected", "status", status, "error", err, "request_id", middleware.RequestID(req.Context()))
	}
	middleware.WriteError(w, status, msg)
}

func statusFor(err error) (int, string) {
	var ve *relay.ValidationError
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, ve.Error()
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit)
	case errors.Is(err, results.ErrNotFound):
		return http.StatusNotFound, "Result not found"
	case errors.Is(err, domai.ErrQuotaExceeded):
		return http.StatusTooManyRequests, err.Error()
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

func badRequest(field string, err error) error {
	return &relay.ValidationError{Field: field, Message: err.Error()}
}

func decodeJSON(w http.ResponseWriter, req *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxJSONBytes))
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		if errors.Is(err, io.EOF) {
			return &relay.ValidationError{Message: "request body is required"}
		}
		return &relay.ValidationError{Message: "invalid JSON body: " + err.Error()}
	}
	return nil
}

// POST ?action=init
// Body: {"mimeType":"video/mp4","numBytes":20971520,"displayName":"salsa.mp4"}
func (r *Router) handleInit(w http.ResponseWriter, req *http.Request) error {
	var body media.UploadRequest
	if err := decodeJSON(w, req, &body); err != nil {
		return err
	}
	if err := middleware.ValidateMIMEType(body.MIMEType); err != nil {
		return badRequest("mimeType", err)
	}
	if err := middleware.ValidateNumBytes(body.NumBytes); err != nil {
		return badRequest("numBytes", err)
	}
	if body.MIMEType == "" {
		body.MIMEType = "video/mp4"
	}
	body.DisplayName = middleware.SanitizeDisplayName(body.DisplayName)

	uploadURL, err := r.svc.Init(req.Context(), body)
	if err != nil {
		return err
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"uploadUrl": uploadURL})
	return nil
}

// POST ?action=upload
// Raw video body; X-Upload-Url carries the target from init.
func (r *Router) handleUpload(w http.ResponseWriter, req *http.Request) error {
	target := req.Header.Get("X-Upload-Url")
	if err := middleware.ValidateUploadURL(target, r.uploadBase); err != nil {
		return badRequest("X-Upload-Url", err)
	}
	if req.ContentLength <= 0 {
		return &relay.ValidationError{Field: "Content-Length", Message: "a known, positive body length is required"}
	}
	if req.ContentLength > middleware.MaxUploadBytes {
		middleware.WriteError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("file exceeds %d MB", middleware.MaxUploadBytes>>20))
		return nil
	}

	body := http.MaxBytesReader(w, req.Body, middleware.MaxUploadBytes)
	handle, err := r.svc.Upload(req.Context(), target, body, req.ContentLength)
	middleware.RecordUpload(req.ContentLength, err)
	if err != nil {
		return err
	}
	r.logger.Info("upload relayed",
		"file", handle.Name,
		"bytes", req.ContentLength,
		"target", logging.SanitizeURL(target),
	)
	middleware.WriteJSON(w, http.StatusOK, handle)
	return nil
}

// POST ?action=check_status
// Body: {"fileName":"files/abc"}
func (r *Router) handleCheckStatus(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		FileName string `json:"fileName"`
	}
	if err := decodeJSON(w, req, &body); err != nil {
		return err
	}
	if err := middleware.ValidateFileName(body.FileName); err != nil {
		return badRequest("fileName", err)
	}

	state, err := r.svc.CheckStatus(req.Context(), body.FileName)
	if err != nil {
		return err
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]media.FileState{"state": state})
	return nil
}

// POST ?action=analyze
// Body: {"fileUri":"...","mimeType":"video/mp4","genre":"salsa","userPrompt":"..."}
// The answer uses the chat-completion envelope: choices[0].message.content.
func (r *Router) handleAnalyze(w http.ResponseWriter, req *http.Request) error {
	var cmd relay.AnalyzeCommand
	if err := decodeJSON(w, req, &cmd); err != nil {
		return err
	}
	if err := middleware.ValidateMIMEType(cmd.MIMEType); err != nil {
		return badRequest("mimeType", err)
	}

	content, err := r.svc.Analyze(req.Context(), cmd)
	middleware.RecordAnalysis(err)
	if err != nil {
		return err
	}
	middleware.WriteJSON(w, http.StatusOK, completionEnvelope(content, time.Now()))
	return nil
}

func completionEnvelope(content string, now time.Time) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Object:  "chat.completion",
		Created: now.Unix(),
		Choices: []openai.ChatCompletionChoice{{
			Index: 0,
			Message: openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: content,
			},
			FinishReason: openai.FinishReasonStop,
		}},
	}
}

// POST ?action=save_result
// Body: {"result":"...","genre":"salsa","type":"solo"}
func (r *Router) handleSaveResult(w http.ResponseWriter, req *http.Request) error {
	var cmd relay.SaveResultCommand
	if err := decodeJSON(w, req, &cmd); err != nil {
		return err
	}
	if strings.TrimSpace(cmd.Result) == "" {
		return &relay.ValidationError{Field: "result", Message: "is required"}
	}
	cmd.Genre = middleware.SanitizeString(cmd.Genre)
	cmd.Type = middleware.SanitizeString(cmd.Type)

	id, err := r.svc.SaveResult(req.Context(), cmd)
	if err != nil {
		return err
	}
	middleware.IncrementResultsSaved()
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"id": id})
	return nil
}

// GET ?action=get_result&id=<uuid>
func (r *Router) handleGetResult(w http.ResponseWriter, req *http.Request) error {
	id := strings.TrimSpace(req.URL.Query().Get("id"))
	if id == "" {
		return &relay.ValidationError{Message: "Missing id"}
	}
	// only uuids are ever issued; anything else cannot exist
	if err := middleware.ValidateResultID(id); err != nil {
		return results.ErrNotFound
	}

	rec, err := r.svc.GetResult(req.Context(), id)
	if err != nil {
		return err
	}
	middleware.IncrementResultsFetched()
	middleware.WriteJSON(w, http.StatusOK, rec)
	return nil
}
