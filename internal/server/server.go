// Package server exposes the optimizer over HTTP and JSON-RPC 2.0. Studies
// implement ask/tell around the challenger engine; jobs run the full
// optimization loop on a benchmark objective in the background.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/copyleftdev/smbo/internal/config"
	apierrors "github.com/copyleftdev/smbo/internal/errors"
	"github.com/copyleftdev/smbo/internal/logging"
	"github.com/copyleftdev/smbo/internal/metrics"
	"github.com/copyleftdev/smbo/internal/optimization/acquisition"
)

// Logger defines the logging interface used by the server
// This allows us to be flexible with our logging implementation
type Logger interface {
	Debug(msg string, fields ...map[string]interface{})
	Info(msg string, fields ...map[string]interface{})
	Warn(msg string, fields ...map[string]interface{})
	Error(msg string, fields ...map[string]interface{})
	Fatal(msg string, fields ...map[string]interface{})
	WithFields(fields map[string]interface{}) *logging.Logger
}

// Server implements the HTTP and JSON-RPC server for the optimization service.
// It manages studies and optimization jobs.
type Server struct {
	cfg     *config.Config
	logger  Logger
	metrics *metrics.Metrics
	limiter *rate.Limiter

	// Study state management
	studies   map[string]*Study
	studiesMu sync.RWMutex
	asks      singleflight.Group

	// Optimization state management
	optimizations   map[string]*OptimizationState
	optimizationsMu sync.RWMutex // Protects the optimizations map and job states
	jobs            sync.WaitGroup

	seq atomic.Uint64
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics records request, job and engine metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer creates a new server instance with the given config and logger
// The logger parameter accepts any type that implements the Logger interface
func NewServer(cfg *config.Config, logger Logger, opts ...Option) *Server {
	limit, burst := rate.Inf, 0
	if cfg.API.RateLimit > 0 {
		limit, burst = rate.Limit(cfg.API.RateLimit), cfg.API.RateBurst
	}
	s := &Server{
		cfg:           cfg,
		logger:        logger,
		limiter:       rate.NewLimiter(limit, burst),
		studies:       make(map[string]*Study),
		optimizations: make(map[string]*OptimizationState),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(s.throttle)
		r.Use(s.instrument)

		// API v1 routes
		r.Route("/api/v1", func(r chi.Router) {
			r.Post("/optimize", s.handleOptimize)
			r.Get("/status/{id}", s.handleStatus)
			r.Delete("/optimization/{id}", s.handleCancel)

			r.Route("/studies", func(r chi.Router) {
				r.Post("/", s.handleCreateStudy)
				r.Get("/{id}", s.handleGetStudy)
				r.Delete("/{id}", s.handleDeleteStudy)
				r.Post("/{id}/observations", s.handleTell)
				r.Get("/{id}/suggest", s.handleSuggest)
			})
		})

		// JSON-RPC 2.0 endpoint
		r.Post("/rpc", s.handleJSONRPC)
	})
}

// throttle rejects requests above the configured API rate.
func (s *Server) throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			apierrors.WriteJSON(w, apierrors.New("rate limit exceeded").WithStatus(http.StatusTooManyRequests))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// instrument records request counts and latency by route.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		s.metrics.RecordRequest(r.Method+" "+route, strconv.Itoa(ww.Status()), time.Since(start))
	})
}

// newAcquisition builds the configured acquisition function.
func (s *Server) newAcquisition() (acquisition.Function, error) {
	return acquisition.New(s.cfg.Optimization.Acquisition, s.cfg.Optimization.Xi)
}

// zapOf returns the zap logger behind l, if any.
func zapOf(l Logger) *zap.Logger {
	if z, ok := l.(interface{ Zap() *zap.Logger }); ok {
		return z.Zap()
	}
	return zap.NewNop()
}

func (s *Server) nextID(prefix string) string {
	return fmt.Sprintf("%s_%d_%d", prefix, time.Now().UnixNano(), s.seq.Add(1))
}

// seed returns the seed for a new study or job, nil for time seeded.
func (s *Server) seed(requested int64) any {
	if requested != 0 {
		return requested
	}
	if s.cfg.Optimization.Seed != 0 {
		return s.cfg.Optimization.Seed
	}
	return nil
}

// Close cancels all running optimizations and waits for them to stop.
func (s *Server) Close() error {
	s.optimizationsMu.Lock()
	for _, opt := range s.optimizations {
		if opt.CancelFunc != nil {
			opt.CancelFunc()
		}
	}
	s.optimizationsMu.Unlock()

	s.jobs.Wait()
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apierrors.BadRequest("invalid request body: %v", err)
	}
	return nil
}
