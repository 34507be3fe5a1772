package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/yegors/clipgremlin/internal/pipeline"
	"github.com/yegors/clipgremlin/pkg/logger"
)

func openTemp(t *testing.T) *PromptLog {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "prompts.db"), logger.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndRecent(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	records := []pipeline.PromptRecord{
		{RunID: "run-1", At: base, Language: "en", Transcript: "first", Prompt: "hello?", Outcome: pipeline.TickSent},
		{RunID: "run-1", At: base.Add(time.Minute), Language: "en", Transcript: "second", Outcome: pipeline.TickFailed},
		{RunID: "run-1", At: base.Add(2 * time.Minute), Language: "es", Transcript: "tercero", Prompt: "¿hola?", Outcome: pipeline.TickRejected},
	}
	for _, rec := range records {
		if err := s.RecordPrompt(ctx, rec); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	got, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].Transcript != "tercero" || got[0].Outcome != "rejected" || got[0].Language != "es" {
		t.Fatalf("unexpected newest entry: %+v", got[0])
	}
	if got[1].Prompt != "" || got[1].Outcome != "failed" {
		t.Fatalf("unexpected second entry: %+v", got[1])
	}
	if !got[0].CreatedAt.Equal(base.Add(2 * time.Minute)) {
		t.Fatalf("created_at = %v", got[0].CreatedAt)
	}
	if got[0].ID == got[1].ID || got[0].ID == "" {
		t.Fatal("expected distinct generated ids")
	}
}

func TestReopenKeepsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.db")
	s, err := Open(path, logger.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.RecordPrompt(context.Background(), pipeline.PromptRecord{RunID: "r", At: time.Now(), Outcome: pipeline.TickSent}); err != nil {
		t.Fatalf("record: %v", err)
	}
	s.Close()

	s2, err := Open(path, logger.NewNop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	got, err := s2.Recent(context.Background(), 0)
	if err != nil || len(got) != 1 {
		t.Fatalf("expected 1 row after reopen, got %d (%v)", len(got), err)
	}
}
