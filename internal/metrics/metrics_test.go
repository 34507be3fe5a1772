package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/yegors/clipgremlin/internal/pipeline"
)

func TestObserverCounters(t *testing.T) {
	m := New("")

	m.SegmentReceived()
	m.SegmentReceived()
	m.SegmentDropped(30 << 20)
	m.Transcribed(true)
	m.Transcribed(false)
	m.PromptOutcome(pipeline.TickSent)
	m.PromptOutcome(pipeline.TickRejected)
	m.PromptOutcome(pipeline.TickRejected)
	m.ChatEvent()
	m.Command("pause")
	m.SilenceChanged(true)
	m.MuteChanged(true)
	m.MuteChanged(false)
	m.CaptureRestarted()
	m.RemoteCall("prompt", 1500*time.Millisecond)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"delivered", testutil.ToFloat64(m.SegmentsTotal.WithLabelValues("delivered")), 2},
		{"dropped", testutil.ToFloat64(m.SegmentsTotal.WithLabelValues("dropped")), 1},
		{"transcribed ok", testutil.ToFloat64(m.TranscriptionsTotal.WithLabelValues("ok")), 1},
		{"transcribed failed", testutil.ToFloat64(m.TranscriptionsTotal.WithLabelValues("failed")), 1},
		{"sent", testutil.ToFloat64(m.PromptsTotal.WithLabelValues("sent")), 1},
		{"rejected", testutil.ToFloat64(m.PromptsTotal.WithLabelValues("rejected")), 2},
		{"chat", testutil.ToFloat64(m.ChatEventsTotal), 1},
		{"pause", testutil.ToFloat64(m.CommandsTotal.WithLabelValues("pause")), 1},
		{"silent", testutil.ToFloat64(m.Silent), 1},
		{"muted", testutil.ToFloat64(m.Muted), 0},
		{"restarts", testutil.ToFloat64(m.CaptureRestarts), 1},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestHandlerAndMiddleware(t *testing.T) {
	m := New("clipgremlin")
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	if got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "503")); got != 1 {
		t.Fatalf("expected one 503 request, got %v", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "clipgremlin_http_requests_total") {
		t.Fatalf("metrics output missing counter:\n%s", body)
	}
}
