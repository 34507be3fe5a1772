package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/yegors/clipgremlin/internal/activity"
	"github.com/yegors/clipgremlin/internal/chat"
	"github.com/yegors/clipgremlin/internal/pipeline"
	"github.com/yegors/clipgremlin/internal/storage/sqlite"
	"github.com/yegors/clipgremlin/pkg/logger"
)

type fakePipeline struct {
	running bool
	muted   bool
}

func (f *fakePipeline) Health() pipeline.Health {
	state := pipeline.StateIdle
	if f.running {
		state = pipeline.StateRunning
	}
	return pipeline.Health{Running: f.running, State: state, RunID: "run-1", Connected: f.running}
}

func (f *fakePipeline) Status() pipeline.Status {
	return pipeline.Status{
		Health: f.Health(),
		Muted:  f.muted,
		Ledger: chat.Ledger{Count: 2, Max: 20, Window: 30 * time.Second, Muted: f.muted},
	}
}

func (f *fakePipeline) Stats() activity.Stats {
	return activity.Stats{TotalEvents: 3, EventsLastMinute: 1, CanPrompt: true}
}

func (f *fakePipeline) SetMuted(m bool) { f.muted = m }
func (f *fakePipeline) Muted() bool     { return f.muted }

type fakeStore struct {
	entries []sqlite.PromptEntry
	err     error
	limit   int
}

func (s *fakeStore) Recent(_ context.Context, limit int) ([]sqlite.PromptEntry, error) {
	s.limit = limit
	return s.entries, s.err
}

func serve(t *testing.T, p Pipeline, store PromptStore, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	h := NewHandler(p, store, "test", logger.NewNop())
	routes := NewRouter(h,
		WithMetrics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("# metrics"))
		}), nil),
	).Routes()

	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		running    bool
		wantStatus int
		wantBody   string
	}{
		{"running", true, http.StatusOK, "ok"},
		{"idle", false, http.StatusServiceUnavailable, "unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, &fakePipeline{running: tt.running}, nil, http.MethodGet, "/health", "")
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var body map[string]any
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["status"] != tt.wantBody || body["version"] != "test" || body["run_id"] != "run-1" {
				t.Fatalf("unexpected body: %v", body)
			}
		})
	}
}

func TestStatusAndStats(t *testing.T) {
	p := &fakePipeline{running: true, muted: true}

	rec := serve(t, p, nil, http.MethodGet, "/status", "")
	var status map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	ledger, ok := status["rate_ledger"].(map[string]any)
	if !ok || ledger["max"] != float64(20) || status["muted"] != true {
		t.Fatalf("unexpected status: %v", status)
	}

	rec = serve(t, p, nil, http.MethodGet, "/stats", "")
	var stats activity.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.TotalEvents != 3 || !stats.CanPrompt {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestPrompts(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		rec := serve(t, &fakePipeline{}, nil, http.MethodGet, "/api/prompts", "")
		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", rec.Code)
		}
	})

	t.Run("limit clamped", func(t *testing.T) {
		store := &fakeStore{entries: []sqlite.PromptEntry{{ID: "a", Outcome: "sent"}}}
		rec := serve(t, &fakePipeline{}, store, http.MethodGet, "/api/prompts?limit=9999", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if store.limit != maxPromptLimit {
			t.Fatalf("limit = %d, want %d", store.limit, maxPromptLimit)
		}
		if !strings.Contains(rec.Body.String(), `"count":1`) {
			t.Fatalf("unexpected body: %s", rec.Body.String())
		}
	})

	t.Run("bad limit", func(t *testing.T) {
		rec := serve(t, &fakePipeline{}, &fakeStore{}, http.MethodGet, "/api/prompts?limit=abc", "")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("store error", func(t *testing.T) {
		rec := serve(t, &fakePipeline{}, &fakeStore{err: errors.New("disk")}, http.MethodGet, "/api/prompts", "")
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("status = %d, want 500", rec.Code)
		}
	})
}

func TestPutMute(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantMuted  bool
	}{
		{"mute", `{"muted": true}`, http.StatusOK, true},
		{"unmute", `{"muted": false}`, http.StatusOK, false},
		{"missing field", `{}`, http.StatusBadRequest, false},
		{"garbage", `nope`, http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakePipeline{running: true}
			rec := serve(t, p, nil, http.MethodPut, "/api/mute", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if p.muted != tt.wantMuted {
				t.Fatalf("muted = %v, want %v", p.muted, tt.wantMuted)
			}
		})
	}
}

func TestMetricsRoute(t *testing.T) {
	rec := serve(t, &fakePipeline{}, nil, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "# metrics" {
		t.Fatalf("unexpected metrics response: %d %q", rec.Code, rec.Body.String())
	}
}
