package api

import (
	"bufio"
	"encoding/json"
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/wonny/egp/internal/api/handlers"
	"github.com/wonny/egp/pkg/logger"
	"github.com/wonny/egp/pkg/metrics"
)

// RouterConfig wires handlers and middleware settings. Runs may be nil (no database).
type RouterConfig struct {
	Allocation *handlers.AllocationHandler
	Runs       *handlers.RunHandler
	Metrics    *metrics.Recorder
	Logger     *logger.Logger

	RateLimit    float64 // 초당 요청 (<= 0 → 무제한)
	RateBurst    int
	MaxBodyBytes int64
}

// NewRouter creates and configures the HTTP router
// ⭐ SSOT: 라우팅 설정은 이 함수에서만
func NewRouter(cfg RouterConfig) http.Handler {
	log := logger.OrNop(cfg.Logger).WithComponent("http")
	r := mux.NewRouter()

	// Health check & metrics
	r.HandleFunc("/health", healthCheckHandler).Methods("GET")
	r.Handle("/metrics", cfg.Metrics.Handler()).Methods("GET")

	// API
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/factors", cfg.Allocation.Factors).Methods("POST")
	api.HandleFunc("/optimize", cfg.Allocation.Optimize).Methods("POST")
	api.HandleFunc("/construct", cfg.Allocation.Construct).Methods("POST")

	if cfg.Runs != nil {
		api.HandleFunc("/runs/{id}", cfg.Runs.GetRun).Methods("GET")
		api.HandleFunc("/strategies/{strategy}/runs", cfg.Runs.ListRuns).Methods("GET")
		api.HandleFunc("/strategies/{strategy}/runs/latest", cfg.Runs.LatestRun).Methods("GET")
		api.HandleFunc("/strategies/{strategy}/runs/stream", cfg.Runs.StreamRuns).Methods("GET")
	}

	api.Use(rateLimitMiddleware(cfg.RateLimit, cfg.RateBurst))
	api.Use(bodyLimitMiddleware(cfg.MaxBodyBytes))

	// Apply middleware
	r.Use(loggingMiddleware(log, cfg.Metrics))
	r.Use(recoveryMiddleware(log))

	return r
}

// healthCheckHandler returns server health status
func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"service": "egp-api",
	})
}

// statusRecorder captures the response status for logs and metrics
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades through the recorder
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// loggingMiddleware logs HTTP requests and records request metrics per route template
func loggingMiddleware(log *logger.Logger, rec *metrics.Recorder) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			// Call next handler
			next.ServeHTTP(sw, r)

			route := r.URL.Path
			if current := mux.CurrentRoute(r); current != nil {
				if tmpl, err := current.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}
			duration := time.Since(start)
			rec.RecordHTTP(route, r.Method, sw.status, duration)

			// Log request
			log.WithFields(map[string]interface{}{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   sw.status,
				"duration": duration,
			}).Debug("HTTP request")
		})
	}
}

// recoveryMiddleware recovers from panics
func recoveryMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.WithFields(map[string]interface{}{
						"error": err,
						"path":  r.URL.Path,
					}).Error("Panic recovered")

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(handlers.ErrorResponse{
						Error:   "internal",
						Message: "internal server error",
					})
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// rateLimitMiddleware applies one token bucket shared by all callers
func rateLimitMiddleware(limit float64, burst int) mux.MiddlewareFunc {
	if limit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(limit), burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(1/limit))))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(handlers.ErrorResponse{
					Error:   "rate_limited",
					Message: "too many requests",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// bodyLimitMiddleware caps request bodies (<= 0 → no cap)
func bodyLimitMiddleware(max int64) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if max > 0 && r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, max)
			}
			next.ServeHTTP(w, r)
		})
	}
}
