package api

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	metrics "github.com/socratic-dev/socratic/pkg/observability"
	"github.com/socratic-dev/socratic/pkg/security"
)

// NewRouter builds the API router. A nil limiter disables rate limiting.
func NewRouter(h *Handler, limiter *security.RateLimiter) chi.Router {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(MetricsMiddleware)
	if limiter != nil {
		r.Use(RateLimitMiddleware(limiter))
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/session/start", h.StartSession)
		r.Route("/session/{id}", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Delete("/", h.DeleteSession)
			r.Post("/respond", h.Respond)
			r.Post("/hint", h.Hint)
			r.Post("/end", h.EndSession)
		})
		r.Get("/sessions", h.ListSessions)
		r.Get("/stats", h.GetStats)
		r.Get("/suggestions", h.Suggestions)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		Error(w, http.StatusNotFound, "Not found")
	})

	return r
}

// MetricsMiddleware records request counts and latencies per route.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		metrics.RecordHTTPRequest(r.Method, path, strconv.Itoa(ww.Status()), time.Since(start))
	})
}

// RateLimitMiddleware rejects requests over the configured rate per client.
func RateLimitMiddleware(limiter *security.RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := r.RemoteAddr
			if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
				client = host
			}
			if !limiter.Allow(client) {
				Error(w, http.StatusTooManyRequests, "Too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
