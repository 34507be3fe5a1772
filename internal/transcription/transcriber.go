// Package transcription turns audio segments into text through a remote
// speech-to-text provider, retrying transient failures.
package transcription

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/yegors/clipgremlin/internal/ai"
	"github.com/yegors/clipgremlin/internal/audio"
	"github.com/yegors/clipgremlin/internal/retry"
	"github.com/yegors/clipgremlin/pkg/logger"
)

// Import the logger package's exported functions
var (
	String   = logger.String
	Int      = logger.Int
	Duration = logger.Duration
	Error    = logger.Error
)

// Config represents the configuration for the transcriber
type Config struct {
	Model    string
	Language string // optional hint passed to the provider
	Prompt   string // optional vocabulary hint
	Retry    retry.Policy
}

// Result is the outcome of one transcription. Err is set when every attempt failed.
type Result struct {
	Text     string
	Language string // ISO-639-1 code, empty when unknown
	Attempts int
	Elapsed  time.Duration
	Err      error
}

// OK reports whether a transcript was produced
func (r Result) OK() bool { return r.Err == nil }

// Transcriber wraps a TranscriptionProvider with the retry policy
type Transcriber struct {
	provider ai.TranscriptionProvider
	config   Config
	logger   *logger.Logger
}

// New creates a new transcriber
func New(provider ai.TranscriptionProvider, config Config, log *logger.Logger) *Transcriber {
	return &Transcriber{
		provider: provider,
		config:   config,
		logger:   log.Named("transcriber"),
	}
}

// Transcribe converts one segment to text. It never returns an error; a
// segment that could not be transcribed yields a Result with Err set.
func (t *Transcriber) Transcribe(ctx context.Context, seg audio.Segment) Result {
	wav := seg.WAV()
	req := ai.TranscriptionConfig{
		Model:    t.config.Model,
		Language: t.config.Language,
		Prompt:   t.config.Prompt,
	}

	start := time.Now()
	out := retry.Do(ctx, t.config.Retry, func(ctx context.Context) (ai.Transcript, error) {
		tr, err := t.provider.Transcribe(ctx, wav, req)
		if err != nil {
			return ai.Transcript{}, err
		}
		return tr, nil
	}, func(attempt int, err error) {
		t.logger.Warn("Transcription attempt failed",
			Int("seq", seg.Seq),
			Int("attempt", attempt),
			Int("max_attempts", t.config.Retry.MaxRetries+1),
			Int("audio_bytes", len(wav)),
			Error(err))
	})

	res := Result{
		Attempts: out.Attempts,
		Elapsed:  time.Since(start),
	}
	if !out.OK() {
		res.Err = fmt.Errorf("transcription failed after %d attempts: %w", out.Attempts, out.Err)
		t.logger.Error("Transcription gave up", Int("seq", seg.Seq), Int("attempts", out.Attempts), Error(out.Err))
		return res
	}

	res.Text = strings.TrimSpace(out.Value.Text)
	res.Language = NormalizeLanguage(out.Value.Language)
	t.logger.Debug("Segment transcribed",
		Int("seq", seg.Seq),
		Int("attempts", out.Attempts),
		Duration("elapsed", res.Elapsed),
		String("language", res.Language),
		Int("text_length", len(res.Text)))
	return res
}

var languageCodes = map[string]string{
	"english":    "en",
	"spanish":    "es",
	"french":     "fr",
	"german":     "de",
	"italian":    "it",
	"portuguese": "pt",
	"dutch":      "nl",
	"polish":     "pl",
	"russian":    "ru",
	"ukrainian":  "uk",
	"japanese":   "ja",
	"korean":     "ko",
	"chinese":    "zh",
	"turkish":    "tr",
	"swedish":    "sv",
}

// NormalizeLanguage maps provider language names ("english") to ISO-639-1
// codes. Codes pass through lowercased; empty stays empty.
func NormalizeLanguage(lang string) string {
	l := strings.ToLower(strings.TrimSpace(lang))
	if code, ok := languageCodes[l]; ok {
		return code
	}
	// Region-qualified codes such as en-US or pt_BR
	if i := strings.IndexAny(l, "-_"); i == 2 {
		return l[:2]
	}
	return l
}
