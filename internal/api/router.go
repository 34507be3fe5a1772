package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Router wires the monitoring endpoints
type Router struct {
	handler   *Handler
	metrics   http.Handler
	websocket http.HandlerFunc
	wrap      func(http.Handler) http.Handler
}

// RouterOption customises the router
type RouterOption func(*Router)

// WithMetrics serves Prometheus exposition on /metrics and counts requests with mw
func WithMetrics(h http.Handler, mw func(http.Handler) http.Handler) RouterOption {
	return func(r *Router) {
		r.metrics = h
		r.wrap = mw
	}
}

// WithWebSocket serves the live event feed on /ws
func WithWebSocket(h http.HandlerFunc) RouterOption {
	return func(r *Router) { r.websocket = h }
}

// NewRouter creates a new router
func NewRouter(handler *Handler, opts ...RouterOption) *Router {
	r := &Router{handler: handler}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Routes returns the HTTP handler tree
func (rt *Router) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if rt.wrap != nil {
		r.Use(rt.wrap)
	}

	r.Get("/health", rt.handler.GetHealth)
	r.Get("/status", rt.handler.GetStatus)
	r.Get("/stats", rt.handler.GetStats)
	if rt.metrics != nil {
		r.Method(http.MethodGet, "/metrics", rt.metrics)
	}
	if rt.websocket != nil {
		r.Get("/ws", rt.websocket)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(10 * time.Second))
		r.Get("/prompts", rt.handler.GetPrompts)
		r.Put("/mute", rt.handler.PutMute)
	})

	return r
}
