// Package metrics exposes pipeline counters on a private Prometheus registry.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yegors/clipgremlin/internal/pipeline"
)

// Metrics holds all Prometheus metrics for the bot.
type Metrics struct {
	registry *prometheus.Registry

	SegmentsTotal       *prometheus.CounterVec
	TranscriptionsTotal *prometheus.CounterVec
	PromptsTotal        *prometheus.CounterVec
	ChatEventsTotal     prometheus.Counter
	CommandsTotal       *prometheus.CounterVec
	Silent              prometheus.Gauge
	Muted               prometheus.Gauge
	CaptureRestarts     prometheus.Counter
	RemoteCallDuration  *prometheus.HistogramVec
	HTTPRequestsTotal   *prometheus.CounterVec
}

// New creates a Metrics instance with every metric registered.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "clipgremlin"
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		SegmentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "segments_total",
				Help:      "Audio segments by outcome",
			},
			[]string{"outcome"},
		),
		TranscriptionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transcriptions_total",
				Help:      "Transcription calls by outcome, after retries",
			},
			[]string{"outcome"},
		),
		PromptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "prompts_total",
				Help:      "Prompt cycles by outcome",
			},
			[]string{"outcome"},
		),
		ChatEventsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chat_events_total",
				Help:      "Chat messages observed",
			},
		),
		CommandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_total",
				Help:      "Accepted moderator commands",
			},
			[]string{"command"},
		),
		Silent: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "silent",
				Help:      "1 while chat is considered silent",
			},
		),
		Muted: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "muted",
				Help:      "1 while prompt delivery is muted",
			},
		),
		CaptureRestarts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "capture_restarts_total",
				Help:      "Audio capture restarts",
			},
		),
		RemoteCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "remote_call_duration_seconds",
				Help:      "Duration of remote calls including retries",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"call"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Monitoring API requests",
			},
			[]string{"method", "status"},
		),
	}

	registry.MustRegister(
		m.SegmentsTotal,
		m.TranscriptionsTotal,
		m.PromptsTotal,
		m.ChatEventsTotal,
		m.CommandsTotal,
		m.Silent,
		m.Muted,
		m.CaptureRestarts,
		m.RemoteCallDuration,
		m.HTTPRequestsTotal,
	)
	return m
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SegmentDropped records an oversized segment skipped by the capture
func (m *Metrics) SegmentDropped(size int) {
	m.SegmentsTotal.WithLabelValues("dropped").Inc()
}

// SegmentReceived implements pipeline.Observer
func (m *Metrics) SegmentReceived() {
	m.SegmentsTotal.WithLabelValues("delivered").Inc()
}

// Transcribed implements pipeline.Observer
func (m *Metrics) Transcribed(ok bool) {
	if ok {
		m.TranscriptionsTotal.WithLabelValues("ok").Inc()
		return
	}
	m.TranscriptionsTotal.WithLabelValues("failed").Inc()
}

// PromptOutcome implements pipeline.Observer
func (m *Metrics) PromptOutcome(outcome pipeline.TickOutcome) {
	m.PromptsTotal.WithLabelValues(string(outcome)).Inc()
}

// ChatEvent implements pipeline.Observer
func (m *Metrics) ChatEvent() { m.ChatEventsTotal.Inc() }

// Command implements pipeline.Observer
func (m *Metrics) Command(cmd string) {
	m.CommandsTotal.WithLabelValues(cmd).Inc()
}

// SilenceChanged implements pipeline.Observer
func (m *Metrics) SilenceChanged(silent bool) { m.Silent.Set(boolGauge(silent)) }

// MuteChanged implements pipeline.Observer
func (m *Metrics) MuteChanged(muted bool) { m.Muted.Set(boolGauge(muted)) }

// CaptureRestarted implements pipeline.Observer
func (m *Metrics) CaptureRestarted() { m.CaptureRestarts.Inc() }

// RemoteCall implements pipeline.Observer
func (m *Metrics) RemoteCall(call string, d time.Duration) {
	if d > 0 {
		m.RemoteCallDuration.WithLabelValues(call).Observe(d.Seconds())
	}
}

// Middleware counts API requests by method and status
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		m.HTTPRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rw.status)).Inc()
	})
}

// statusWriter captures the response status code
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack supports websocket upgrades behind the middleware
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijacking not supported")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Unwrap lets http.ResponseController reach the underlying writer
func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

var _ pipeline.Observer = (*Metrics)(nil)
