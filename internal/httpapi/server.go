package httpapi

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"livetranslate/internal/admission"
	"livetranslate/internal/config"
	"livetranslate/internal/eventstream"
	"livetranslate/internal/model"
	"livetranslate/internal/pipeline"
	"livetranslate/internal/upstream/openai"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

//go:embed static/index.html
var indexHTML []byte

type PipelineService interface {
	Stream(ctx context.Context, req pipeline.Request) iter.Seq[eventstream.Event]
}

type AdmissionController interface {
	Admit(ctx context.Context, clientID string) error
	Stats(ctx context.Context) (admission.Stats, error)
}

type UpstreamChecker interface {
	CheckModels(ctx context.Context) error
}

type MetricsObserver interface {
	ObserveHTTP(route, method string, status int, duration time.Duration)
	ObserveAdmission(decision string)
}

type Dependencies struct {
	Pipeline       PipelineService
	Admission      AdmissionController
	Upstream       UpstreamChecker
	Metrics        MetricsObserver
	MetricsHandler http.Handler
}

type server struct {
	cfg          config.Config
	logger       *slog.Logger
	pipeline     PipelineService
	admission    AdmissionController
	upstream     UpstreamChecker
	metrics      MetricsObserver
	metricsRoute http.Handler
}

type ctxKey string

const (
	requestIDHeader  = "X-Request-Id"
	requestIDContext = ctxKey("request_id")
	maxJSONBodyBytes = 1 << 20
	serviceName      = "LiveTranslate"

	retryAfterSeconds = 60
)

const (
	decisionAdmitted    = "admitted"
	decisionRateLimited = "rate_limited"
	decisionInvalid     = "invalid"
	decisionError       = "error"
)

func NewServer(cfg config.Config, logger *slog.Logger, deps Dependencies) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Pipeline == nil || deps.Admission == nil || deps.Upstream == nil {
		panic("httpapi: all dependencies are required")
	}

	s := &server{
		cfg:          cfg,
		logger:       logger,
		pipeline:     deps.Pipeline,
		admission:    deps.Admission,
		upstream:     deps.Upstream,
		metrics:      deps.Metrics,
		metricsRoute: deps.MetricsHandler,
	}

	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, http.StatusNotFound, "not_found", "route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", nil)
	})

	if cfg.TrustProxyHeaders {
		r.Use(chimw.RealIP)
	}
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)

	r.Get("/", s.handleIndex)
	r.Get("/health", s.handleHealth)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if s.metricsRoute != nil {
		r.Handle("/metrics", s.metricsRoute)
	}
	r.Post("/translate-stream", s.handleTranslateStream)

	return r
}

func (s *server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(indexHTML)
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats, err := s.admission.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, http.StatusServiceUnavailable, "unhealthy", "admission state unavailable", detailsForError(err))
		return
	}
	writeJSON(w, http.StatusOK, model.StatusResponse{
		Status:         "ok",
		TrackedClients: stats.TrackedClients,
		MaxConcurrency: stats.MaxConcurrency,
		InFlight:       stats.InFlight,
	})
}

func (s *server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, model.HealthResponse{OK: true})
}

func (s *server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.cfg.UpstreamAPIKey == "" {
		writeJSON(w, http.StatusOK, model.ReadyResponse{OK: true, ServiceName: serviceName})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.upstream.CheckModels(ctx); err != nil {
		s.writeError(w, r, http.StatusServiceUnavailable, "not_ready", "upstream check failed", detailsForError(err))
		return
	}
	writeJSON(w, http.StatusOK, model.ReadyResponse{OK: true, ServiceName: serviceName})
}

func (s *server) handleTranslateStream(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeTranslateRequest(w, r)
	if !ok {
		s.observeAdmission(decisionInvalid)
		return
	}

	if err := s.admission.Admit(r.Context(), clientIdentity(r)); err != nil {
		if errors.Is(err, admission.ErrRateLimited) {
			s.observeAdmission(decisionRateLimited)
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
			s.writeError(w, r, http.StatusTooManyRequests, "rate_limit_exceeded", "rate limit exceeded, retry later", nil)
			return
		}
		s.observeAdmission(decisionError)
		s.logger.Error("admission_failed", "request_id", requestIDFromContext(r.Context()), "error", err)
		s.writeError(w, r, http.StatusServiceUnavailable, "admission_unavailable", "rate limiter unavailable", detailsForError(err))
		return
	}
	s.observeAdmission(decisionAdmitted)

	if err := eventstream.CanFlush(w); err != nil {
		s.writeError(w, r, http.StatusInternalServerError, "streaming_unsupported", "streaming unsupported", nil)
		return
	}

	ctx := r.Context()
	if !s.cfg.CancelOnDisconnect {
		ctx = context.WithoutCancel(ctx)
	}

	eventstream.SetHeaders(w.Header())
	w.WriteHeader(http.StatusOK)
	enc := eventstream.NewWriter(w)

	requestID := requestIDFromContext(r.Context())
	writeFailed := false
	for ev := range s.pipeline.Stream(ctx, pipeline.Request{ID: requestID, Prompt: req.Prompt, Language: req.Language}) {
		if writeFailed {
			continue
		}
		if err := enc.Encode(ev); err != nil {
			writeFailed = true
			s.logger.Warn("stream_write_failed", "request_id", requestID, "error", err)
			if s.cfg.CancelOnDisconnect {
				break
			}
		}
		if ev.Terminal() {
			break
		}
	}
}

func (s *server) decodeTranslateRequest(w http.ResponseWriter, r *http.Request) (model.TranslateStreamRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	defer func() { _ = r.Body.Close() }()

	var req model.TranslateStreamRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		s.handleJSONDecodeError(w, r, err)
		return req, false
	}
	if err := ensureBodyFullyConsumed(decoder); err != nil {
		s.handleJSONDecodeError(w, r, err)
		return req, false
	}
	if strings.TrimSpace(req.Prompt) == "" {
		s.writeError(w, r, http.StatusBadRequest, "invalid_request", "prompt is required", nil)
		return req, false
	}
	if n := utf8.RuneCountInString(req.Prompt); n > s.cfg.MaxPromptChars {
		s.writeError(w, r, http.StatusBadRequest, "invalid_request",
			fmt.Sprintf("prompt exceeds %d characters", s.cfg.MaxPromptChars),
			map[string]any{"length": n, "max": s.cfg.MaxPromptChars})
		return req, false
	}
	req.Language = strings.TrimSpace(req.Language)
	if req.Language == "" {
		req.Language = s.cfg.DefaultLanguage
	}
	return req, true
}

func (s *server) handleJSONDecodeError(w http.ResponseWriter, r *http.Request, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		s.writeError(w, r, http.StatusRequestEntityTooLarge, "request_too_large", "JSON body too large", nil)
		return
	}
	s.writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON body", nil)
}

func (s *server) observeAdmission(decision string) {
	if s.metrics != nil {
		s.metrics.ObserveAdmission(decision)
	}
}

func (s *server) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]any) {
	if rid := requestIDFromContext(r.Context()); rid != "" {
		w.Header().Set(requestIDHeader, rid)
	}
	writeJSON(w, status, model.ErrorResponse{
		Error:     model.APIError{Code: code, Message: message, Details: details},
		RequestID: requestIDFromContext(r.Context()),
	})
}

func (s *server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)
		ctx := context.WithValue(r.Context(), requestIDContext, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}

		duration := time.Since(started)
		if s.metrics != nil {
			s.metrics.ObserveHTTP(route, r.Method, status, duration)
		}

		s.logger.Info("http_request",
			"request_id", requestIDFromContext(r.Context()),
			"method", r.Method,
			"route", route,
			"path", r.URL.Path,
			"client", clientIdentity(r),
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration_ms", duration.Milliseconds(),
		)
	})
}

func (s *server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.logger.Error("panic recovered", "request_id", requestIDFromContext(r.Context()), "panic", rec)
				s.writeError(w, r, http.StatusInternalServerError, "internal_error", "internal server error", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func clientIdentity(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func ensureBodyFullyConsumed(decoder *json.Decoder) error {
	var extra any
	if err := decoder.Decode(&extra); err != io.EOF {
		if err == nil {
			return fmt.Errorf("multiple JSON values")
		}
		return err
	}
	return nil
}

func requestIDFromContext(ctx context.Context) string {
	value, _ := ctx.Value(requestIDContext).(string)
	return value
}

func detailsForError(err error) map[string]any {
	if err == nil {
		return nil
	}
	details := map[string]any{"error": err.Error()}
	var upstreamErr *openai.Error
	if errors.As(err, &upstreamErr) {
		details["upstream_status"] = upstreamErr.StatusCode
		if upstreamErr.Body != "" {
			details["upstream_body"] = upstreamErr.Body
		}
	}
	return details
}
