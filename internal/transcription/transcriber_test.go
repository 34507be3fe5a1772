package transcription

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/yegors/clipgremlin/internal/ai"
	"github.com/yegors/clipgremlin/internal/audio"
	"github.com/yegors/clipgremlin/internal/retry"
	"github.com/yegors/clipgremlin/pkg/logger"
)

type fakeProvider struct {
	failures int
	calls    int
	result   ai.Transcript
	lastWAV  []byte
	lastCfg  ai.TranscriptionConfig
}

func (f *fakeProvider) Transcribe(ctx context.Context, wav []byte, cfg ai.TranscriptionConfig) (ai.Transcript, error) {
	f.calls++
	f.lastWAV = wav
	f.lastCfg = cfg
	if f.calls <= f.failures {
		return ai.Transcript{}, errors.New("status 500")
	}
	return f.result, nil
}

func testSegment() audio.Segment {
	return audio.Segment{
		Seq:      3,
		PCM:      []byte{1, 2, 3, 4},
		Format:   audio.Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16},
		Duration: time.Second,
	}
}

func TestTranscribeRetriesThenSucceeds(t *testing.T) {
	p := &fakeProvider{failures: 2, result: ai.Transcript{Text: "  we are so back ", Language: "English"}}
	tr := New(p, Config{Model: "whisper-1", Retry: retry.Policy{MaxRetries: 2, BaseDelay: time.Millisecond}}, logger.NewNop())

	res := tr.Transcribe(context.Background(), testSegment())
	if !res.OK() {
		t.Fatalf("expected success, got %v", res.Err)
	}
	if res.Attempts != 3 || p.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", res.Attempts)
	}
	if res.Text != "we are so back" || res.Language != "en" {
		t.Fatalf("unexpected result %+v", res)
	}
	if !bytes.HasPrefix(p.lastWAV, []byte("RIFF")) {
		t.Fatalf("provider should receive WAV framed audio")
	}
	if p.lastCfg.Model != "whisper-1" {
		t.Fatalf("model not forwarded: %+v", p.lastCfg)
	}
}

func TestTranscribeGivesUp(t *testing.T) {
	p := &fakeProvider{failures: 100}
	tr := New(p, Config{Retry: retry.Policy{MaxRetries: 2, BaseDelay: time.Millisecond}}, logger.NewNop())

	res := tr.Transcribe(context.Background(), testSegment())
	if res.OK() {
		t.Fatal("expected failure")
	}
	if res.Attempts != 3 || p.calls != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", p.calls)
	}
	if res.Text != "" {
		t.Fatalf("failed result must carry no text")
	}
}

func TestTranscribeUnknownLanguage(t *testing.T) {
	p := &fakeProvider{result: ai.Transcript{Text: "hi"}}
	tr := New(p, Config{}, logger.NewNop())
	res := tr.Transcribe(context.Background(), testSegment())
	if !res.OK() || res.Language != "" {
		t.Fatalf("missing language should be unknown, got %+v", res)
	}
}

func TestNormalizeLanguage(t *testing.T) {
	tests := []struct{ in, want string }{
		{"english", "en"},
		{"Spanish", "es"},
		{" french ", "fr"},
		{"german", "de"},
		{"en", "en"},
		{"DE", "de"},
		{"pt-BR", "pt"},
		{"en_US", "en"},
		{"klingon", "klingon"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeLanguage(tt.in); got != tt.want {
			t.Errorf("NormalizeLanguage(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
