package activity

import (
	"fmt"
	"testing"
	"time"

	"github.com/yegors/clipgremlin/pkg/logger"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func at(secs int) time.Time { return t0.Add(time.Duration(secs) * time.Second) }

func newTestWindow(opts ...Option) *Window {
	return NewWindow(Config{
		SilenceHorizon: 60 * time.Second,
		Cooldown:       60 * time.Second,
		Retention:      300 * time.Second,
		MaxEvents:      1000,
	}, logger.NewNop(), opts...)
}

func TestIsSilent(t *testing.T) {
	tests := []struct {
		name   string
		events []int
		now    int
		want   bool
	}{
		{"empty window", nil, 0, true},
		{"event inside horizon", []int{50}, 100, false},
		{"event exactly at horizon", []int{40}, 100, true},
		{"all events old", []int{0, 10, 20}, 100, true},
		{"newest event counts", []int{0, 10, 90}, 100, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newTestWindow()
			for _, s := range tt.events {
				w.Add(Event{User: "u", At: at(s)})
			}
			if got := w.IsSilent(at(tt.now)); got != tt.want {
				t.Fatalf("IsSilent = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEventAtNowEndsSilence(t *testing.T) {
	w := newTestWindow()
	w.Add(Event{At: at(0)})
	if !w.IsSilent(at(120)) {
		t.Fatal("expected silence")
	}
	w.Add(Event{At: at(120)})
	if w.IsSilent(at(120)) {
		t.Fatal("event at now must end silence immediately")
	}
}

func TestTransitionsAreEdgeTriggered(t *testing.T) {
	var edges []bool
	w := newTestWindow(WithTransitionHook(func(silent bool, _ time.Time) {
		edges = append(edges, silent)
	}))

	w.Add(Event{At: at(0)})
	for s := 0; s <= 55; s += 5 {
		w.IsSilent(at(s))
	}
	if len(edges) != 0 {
		t.Fatalf("no edge expected while active, got %v", edges)
	}

	for s := 60; s <= 120; s += 5 {
		w.IsSilent(at(s))
	}
	if len(edges) != 1 || !edges[0] {
		t.Fatalf("expected one silent edge, got %v", edges)
	}

	w.Add(Event{At: at(121)})
	for s := 121; s <= 150; s += 5 {
		w.IsSilent(at(s))
	}
	if len(edges) != 2 || edges[1] {
		t.Fatalf("expected one active edge, got %v", edges)
	}
}

func TestCooldown(t *testing.T) {
	w := newTestWindow()
	if !w.CanPrompt(at(0)) {
		t.Fatal("no prompt sent yet, cooldown must not block")
	}
	w.MarkPromptSent(at(100))
	if w.CanPrompt(at(100)) {
		t.Fatal("cooldown must block immediately after a prompt")
	}
	if w.CanPrompt(at(159)) {
		t.Fatal("cooldown must block until it elapses")
	}
	if !w.CanPrompt(at(160)) {
		t.Fatal("cooldown elapsed")
	}
}

func TestMarkPromptSentRearmsSilenceEdge(t *testing.T) {
	var edges int
	w := newTestWindow(WithTransitionHook(func(bool, time.Time) { edges++ }))
	w.IsSilent(at(0))
	w.MarkPromptSent(at(0))
	w.IsSilent(at(5))
	if edges != 2 {
		t.Fatalf("expected the silent edge to be reported again after a prompt, got %d", edges)
	}
}

func TestScenarioPromptCycle(t *testing.T) {
	w := newTestWindow()
	w.MarkPromptSent(at(-100))
	w.Add(Event{At: at(0)})
	w.Add(Event{At: at(30)})

	if !w.IsSilent(at(95)) {
		t.Fatal("expected silence at t=95")
	}
	if !w.CanPrompt(at(95)) {
		t.Fatal("expected cooldown to have elapsed at t=95")
	}
}

func TestCapacityEvictsOldest(t *testing.T) {
	w := NewWindow(Config{SilenceHorizon: time.Hour, MaxEvents: 3}, logger.NewNop())
	for i := 0; i < 5; i++ {
		w.Add(Event{User: fmt.Sprintf("u%d", i), At: at(i)})
	}
	got := w.Recent(at(10), time.Hour)
	if len(got) != 3 || got[0].User != "u2" || got[2].User != "u4" {
		t.Fatalf("expected the three newest events, got %+v", got)
	}
}

func TestRetentionPrunes(t *testing.T) {
	w := newTestWindow()
	w.Add(Event{At: at(0)})
	w.Add(Event{At: at(200)})
	w.Add(Event{At: at(310)})
	if got := w.Count(); got != 2 {
		t.Fatalf("expected event older than retention pruned, got %d", got)
	}
}

func TestRetentionCoversHorizon(t *testing.T) {
	w := NewWindow(Config{SilenceHorizon: 120 * time.Second, Retention: 10 * time.Second}, logger.NewNop())
	w.Add(Event{At: at(0)})
	if w.IsSilent(at(60)) {
		t.Fatal("retention shorter than the horizon must not drop events that keep chat active")
	}
}

func TestRecent(t *testing.T) {
	w := newTestWindow()
	for _, s := range []int{0, 100, 200, 250} {
		w.Add(Event{User: fmt.Sprint(s), At: at(s)})
	}
	got := w.Recent(at(260), 100*time.Second)
	if len(got) != 2 || got[0].User != "200" || got[1].User != "250" {
		t.Fatalf("unexpected recent events %+v", got)
	}
}

func TestRecentCutoffBoundary(t *testing.T) {
	w := newTestWindow()
	for _, s := range []int{0, 100, 100, 200, 200, 250} {
		w.Add(Event{At: at(s)})
	}
	tests := []struct {
		name    string
		horizon time.Duration
		want    int
	}{
		{"zero horizon", 0, 0},
		{"cutoff on duplicates", 100 * time.Second, 1},
		{"cutoff on earlier duplicates", 200 * time.Second, 3},
		{"cutoff on first event", 300 * time.Second, 5},
		{"everything", 400 * time.Second, 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := w.Recent(at(300), tt.horizon); len(got) != tt.want {
				t.Fatalf("Recent(%v) returned %d events, want %d", tt.horizon, len(got), tt.want)
			}
		})
	}
}

func TestOutOfOrderEventIsClamped(t *testing.T) {
	w := newTestWindow()
	w.Add(Event{User: "a", At: at(50)})
	w.Add(Event{User: "b", At: at(40)})
	got := w.Recent(at(60), time.Minute)
	if len(got) != 2 || !got[1].At.Equal(at(50)) {
		t.Fatalf("expected chronological order preserved, got %+v", got)
	}
}

func TestStats(t *testing.T) {
	w := newTestWindow()
	for _, s := range []int{0, 150, 250, 280} {
		w.Add(Event{At: at(s)})
	}
	st := w.Stats(at(290))
	if st.TotalEvents != 4 || st.EventsLastMinute != 2 || st.EventsLast5Minutes != 4 {
		t.Fatalf("unexpected counts %+v", st)
	}
	if st.Silent || !st.CanPrompt || st.SecondsSinceLastPrompt != nil {
		t.Fatalf("unexpected state %+v", st)
	}

	w.MarkPromptSent(at(280))
	st = w.Stats(at(290))
	if st.SecondsSinceLastPrompt == nil || *st.SecondsSinceLastPrompt != 10 || st.CanPrompt {
		t.Fatalf("unexpected prompt stats %+v", st)
	}
}

func TestClear(t *testing.T) {
	w := newTestWindow()
	w.Add(Event{At: at(0)})
	w.MarkPromptSent(at(0))
	w.Clear()
	if w.Count() != 0 || !w.CanPrompt(at(1)) {
		t.Fatal("clear must reset events and cooldown")
	}
}
