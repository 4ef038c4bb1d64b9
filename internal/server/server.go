// Package server exposes the bias engine over HTTP.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fractal-lba/fairmind/internal/analysis"
	"github.com/fractal-lba/fairmind/internal/api"
	"github.com/fractal-lba/fairmind/internal/auth"
	"github.com/fractal-lba/fairmind/internal/cache"
	"github.com/fractal-lba/fairmind/internal/journal"
	"github.com/fractal-lba/fairmind/internal/metrics"
	"github.com/fractal-lba/fairmind/internal/store"
	"github.com/fractal-lba/fairmind/internal/tenant"
	"github.com/fractal-lba/fairmind/pkg/canonical"
	"github.com/fractal-lba/fairmind/pkg/otel"
)

const (
	headerAnalysisID = "X-Analysis-ID"
	headerSignature  = "X-Fairmind-Signature"
	headerCache      = "X-Cache"
)

// Config holds the HTTP-facing knobs.
type Config struct {
	MaxBodyBytes int64
	ResultTTL    time.Duration
	SigningKey   []byte
	MetricsUser  string
	MetricsPass  string
	Gatherer     prometheus.Gatherer
	// Auth enables gateway header authentication when non-nil.
	Auth *auth.Config
}

// Server handles analysis requests.
type Server struct {
	engine  *analysis.Engine
	store   store.Store
	cache   *cache.Results
	journal *journal.Journal
	metrics *metrics.Metrics
	limiter *rate.Limiter
	tenants *tenant.Manager
	logger  *zap.Logger
	cfg     Config
}

// Deps are the collaborators of a Server. Journal, Metrics and Tenants
// may be nil.
type Deps struct {
	Engine  *analysis.Engine
	Store   store.Store
	Cache   *cache.Results
	Journal *journal.Journal
	Metrics *metrics.Metrics
	Limiter *rate.Limiter
	Tenants *tenant.Manager
	Logger  *zap.Logger
}

// New creates a server.
func New(d Deps, cfg Config) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 32 << 20
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Limiter == nil {
		d.Limiter = rate.NewLimiter(rate.Inf, 0)
	}
	return &Server{
		engine:  d.Engine,
		store:   d.Store,
		cache:   d.Cache,
		journal: d.Journal,
		metrics: d.Metrics,
		limiter: d.Limiter,
		tenants: d.Tenants,
		logger:  d.Logger,
		cfg:     cfg,
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /v1/bias/analyze", auth.RequireScope(auth.ScopeAnalyze, http.HandlerFunc(s.handleAnalyze)))
	mux.Handle("GET /v1/bias/analyses/{id}", auth.RequireScope(auth.ScopeRead, http.HandlerFunc(s.handleGet)))
	mux.Handle("GET /metrics", s.metricsHandler())
	mux.HandleFunc("GET /health", handleHealth)
	if s.cfg.Auth == nil {
		return mux
	}
	return auth.Middleware(s.cfg.Auth)(mux)
}

type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
	State string `json:"state,omitempty"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if !s.limiter.Allow() {
		if s.metrics != nil {
			s.metrics.RateLimited.Inc()
		}
		w.Header().Set("Retry-After", "10")
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "too many requests"})
		return
	}

	ctx := r.Context()
	tenantID := tenant.DefaultID
	if id, ok := auth.TenantID(ctx); ok {
		tenantID = id
	}
	var t *tenant.Tenant
	if s.tenants != nil {
		if err := s.tenants.Allow(tenantID); err != nil {
			s.writeTenantError(w, err)
			return
		}
		t, _ = s.tenants.Get(tenantID)
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "request body too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "failed to read body"})
		return
	}

	var req api.AnalysisRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON: " + err.Error()})
		return
	}
	if t != nil {
		if err := t.CheckSize(req.Dataset.Len()); err != nil {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: err.Error(), Field: "dataset.predictions"})
			return
		}
	}

	id, err := analysis.AnalysisID(&req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	if res, cached, ok := s.lookup(ctx, id); ok {
		s.respond(ctx, w, res, cached, start)
		return
	}

	res, err := s.engine.Analyze(ctx, &req)
	if err != nil {
		s.record(journal.Entry{
			Fingerprint: id,
			Tenant:      tenantID,
			State:       string(analysis.StateFailed),
			Samples:     req.Dataset.Len(),
			Error:       err.Error(),
		})
		s.writeAnalysisError(w, err)
		return
	}

	if err := s.store.Put(ctx, res, s.cfg.ResultTTL); err != nil {
		// The caller still gets the result; only persistence failed.
		s.logger.Error("failed to persist result", zap.String("analysis_id", res.AnalysisID), zap.Error(err))
		if s.metrics != nil {
			s.metrics.StoreErrors.Inc()
		}
	}
	s.cache.Set(res.AnalysisID, res)
	s.record(journal.Entry{
		AnalysisID:  res.AnalysisID,
		Tenant:      tenantID,
		State:       string(analysis.StateDone),
		Risk:        string(res.OverallRisk),
		FailedCount: res.FailedCount,
		Samples:     res.Metadata.SampleCount,
	})
	s.respond(ctx, w, res, false, start)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	res, cached, ok := s.lookup(r.Context(), id)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "analysis not found"})
		return
	}
	s.respond(r.Context(), w, res, cached, time.Now())
}

// lookup checks the cache, then the store. cached is true only when the
// result came from the cache.
func (s *Server) lookup(ctx context.Context, id string) (res *api.BiasAnalysisResult, cached, ok bool) {
	if res, ok := s.cache.Get(id); ok {
		return res, true, true
	}
	res, err := s.store.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("result store read failed", zap.String("analysis_id", id), zap.Error(err))
			if s.metrics != nil {
				s.metrics.StoreErrors.Inc()
			}
		}
		return nil, false, false
	}
	s.cache.Set(id, res)
	return res, false, true
}

func (s *Server) record(e journal.Entry) {
	if s.journal == nil {
		return
	}
	if err := s.journal.Append(e); err != nil {
		s.logger.Error("journal append failed", zap.Error(err))
		if s.metrics != nil {
			s.metrics.JournalErrors.Inc()
		}
	}
}

func (s *Server) respond(ctx context.Context, w http.ResponseWriter, res *api.BiasAnalysisResult, hit bool, start time.Time) {
	if hit && s.metrics != nil {
		s.metrics.CacheHits.Inc()
	}
	w.Header().Set(headerAnalysisID, res.AnalysisID)
	if hit {
		w.Header().Set(headerCache, "hit")
	} else {
		w.Header().Set(headerCache, "miss")
	}
	if len(s.cfg.SigningKey) > 0 {
		sig, err := canonical.SignHMAC(res, s.cfg.SigningKey)
		if err != nil {
			s.logger.Error("failed to sign result", zap.Error(err))
		} else {
			w.Header().Set(headerSignature, sig)
		}
	}
	latencyMs := float64(time.Since(start).Microseconds()) / 1000
	trace.SpanFromContext(ctx).SetAttributes(otel.PerformanceAttributes(hit, latencyMs)...)
	s.logger.Debug("served analysis",
		zap.String("analysis_id", res.AnalysisID),
		zap.Bool("cache_hit", hit),
		zap.Float64("latency_ms", latencyMs))
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) writeAnalysisError(w http.ResponseWriter, err error) {
	body := errorBody{Error: err.Error()}
	var serr *analysis.StateError
	if errors.As(err, &serr) {
		body.State = string(serr.State)
	}

	var verr *api.ValidationError
	switch {
	case errors.As(err, &verr):
		body.Field = verr.Field
		writeJSON(w, http.StatusUnprocessableEntity, body)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusServiceUnavailable, body)
	default:
		s.logger.Error("analysis error", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, body)
	}
}

func (s *Server) writeTenantError(w http.ResponseWriter, err error) {
	if errors.Is(err, tenant.ErrQuotaExceeded) {
		if s.metrics != nil {
			s.metrics.RateLimited.Inc()
		}
		w.Header().Set("Retry-After", "10")
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusForbidden, errorBody{Error: err.Error()})
}

func (s *Server) metricsHandler() http.Handler {
	handler := promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{})
	if s.cfg.MetricsUser == "" {
		return handler
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(user), []byte(s.cfg.MetricsUser)) != 1 ||
			subtle.ConstantTimeCompare([]byte(pass), []byte(s.cfg.MetricsPass)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="Metrics"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
