package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// served describes a finished request
type served struct {
	status   int
	bytes    int
	duration time.Duration
}

func serve(next http.Handler, w http.ResponseWriter, r *http.Request) served {
	start := time.Now()
	ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
	next.ServeHTTP(ww, r)

	s := served{status: ww.Status(), bytes: ww.BytesWritten(), duration: time.Since(start)}
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s
}

// Logger logs one line per request; server errors at warn level
func Logger(logger *zap.Logger) func(next http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s := serve(next, w, r)
			log := logger.Info
			if s.status >= http.StatusInternalServerError {
				log = logger.Warn
			}
			log("HTTP request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", s.status),
				zap.Int("bytes", s.bytes),
				zap.Duration("duration", s.duration),
				zap.String("requestId", middleware.GetReqID(r.Context())),
			)
		})
	}
}

// HTTPObserver records served requests
type HTTPObserver interface {
	ObserveHTTP(method, route string, status int, duration time.Duration)
}

// Metrics reports each request under its chi route pattern so that user
// ids in paths do not become label values
func Metrics(observer HTTPObserver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if observer == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s := serve(next, w, r)
			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			observer.ObserveHTTP(r.Method, route, s.status, s.duration)
		})
	}
}
