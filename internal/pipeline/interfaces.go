package pipeline

import (
	"context"
	"time"

	"github.com/yegors/clipgremlin/internal/audio"
	"github.com/yegors/clipgremlin/internal/chat"
	"github.com/yegors/clipgremlin/internal/prompt"
	"github.com/yegors/clipgremlin/internal/transcription"
)

// SegmentStream is one running capture
type SegmentStream interface {
	Segments() <-chan audio.Segment
	Err() error
	Stop()
}

// SourceFunc opens a new capture for the locator
type SourceFunc func(ctx context.Context, locator string) (SegmentStream, error)

// Transcriber turns a segment into text
type Transcriber interface {
	Transcribe(ctx context.Context, seg audio.Segment) transcription.Result
}

// Generator produces a candidate prompt
type Generator interface {
	Generate(ctx context.Context, text, lang string) prompt.Result
}

// Sink delivers messages under the mute and rate policy
type Sink interface {
	Deliver(ctx context.Context, text string) chat.Delivery
	SetMuted(muted bool)
	Muted() bool
	Ledger() chat.Ledger
}

// PromptRecord is one prompt cycle that produced a candidate or failed trying
type PromptRecord struct {
	RunID      string
	At         time.Time
	Language   string
	Transcript string
	Prompt     string
	Outcome    TickOutcome
}

// Recorder persists prompt cycles. Optional.
type Recorder interface {
	RecordPrompt(ctx context.Context, rec PromptRecord) error
}

// Publisher fans pipeline events out to live listeners. Optional.
type Publisher interface {
	Publish(eventType string, data map[string]any)
}

// Observer receives counters and timings. Optional.
type Observer interface {
	SegmentReceived()
	Transcribed(ok bool)
	PromptOutcome(outcome TickOutcome)
	ChatEvent()
	Command(cmd string)
	SilenceChanged(silent bool)
	MuteChanged(muted bool)
	CaptureRestarted()
	RemoteCall(call string, d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordPrompt(context.Context, PromptRecord) error { return nil }

type nopPublisher struct{}

func (nopPublisher) Publish(string, map[string]any) {}

type nopObserver struct{}

func (nopObserver) SegmentReceived()                 {}
func (nopObserver) Transcribed(bool)                 {}
func (nopObserver) PromptOutcome(TickOutcome)        {}
func (nopObserver) ChatEvent()                       {}
func (nopObserver) Command(string)                   {}
func (nopObserver) SilenceChanged(bool)              {}
func (nopObserver) MuteChanged(bool)                 {}
func (nopObserver) CaptureRestarted()                {}
func (nopObserver) RemoteCall(string, time.Duration) {}
