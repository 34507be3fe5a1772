// Package pipeline runs the silence-triggered prompt loop for one channel:
// audio ingest and transcription, chat intake and commands, and the
// silence watch that generates, gates and sends prompts.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"github.com/yegors/clipgremlin/internal/activity"
	"github.com/yegors/clipgremlin/internal/chat"
	"github.com/yegors/clipgremlin/internal/clock"
	"github.com/yegors/clipgremlin/internal/moderation"
	"github.com/yegors/clipgremlin/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// Import logger functions
var (
	String   = logger.String
	Int      = logger.Int
	Bool     = logger.Bool
	Duration = logger.Duration
	Error    = logger.Error
)

// State is the orchestrator lifecycle state
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateRunning    State = "running"
	StateCleanup    State = "cleanup"
)

const (
	eventConnect = "connect"
	eventRun     = "run"
	eventCleanup = "cleanup"
)

// maxRestartBackoff caps the delay between capture restarts
const maxRestartBackoff = time.Minute

var (
	// ErrAlreadyStarted is returned by a second Run call
	ErrAlreadyStarted = errors.New("pipeline already started")
	// ErrChatDisconnected ends a run whose chat session was lost
	ErrChatDisconnected = errors.New("chat connection lost")
	// ErrCaptureExhausted ends a run whose audio capture kept failing
	ErrCaptureExhausted = errors.New("audio capture restarts exhausted")
)

// TickOutcome is what one silence poll did
type TickOutcome string

const (
	TickIdle     TickOutcome = "idle"     // not silent or still cooling down
	TickSent     TickOutcome = "sent"     // prompt delivered
	TickRejected TickOutcome = "rejected" // content gate said no
	TickRefused  TickOutcome = "refused"  // sink refused (mute, rate, connection)
	TickFailed   TickOutcome = "failed"   // no candidate could be generated
)

// Config holds the orchestrator settings
type Config struct {
	StreamURL          string
	CommandPrefix      string
	PauseReply         string
	ResumeReply        string
	Placeholder        string        // prompt context before any transcript exists
	PollInterval       time.Duration // silence watch period
	IngestPace         time.Duration // delay after each transcribed segment
	RestartMaxAttempts int           // consecutive capture failures tolerated
	RestartBackoff     time.Duration // first restart delay, doubled up to one minute
	Activity           activity.Config
}

// Deps are the collaborators. Recorder, Publisher and Observer are optional.
type Deps struct {
	Source      SourceFunc
	Transcriber Transcriber
	Generator   Generator
	Gate        moderation.Gate
	Transport   chat.Transport
	Sink        Sink
	Clock       clock.Clock

	Recorder  Recorder
	Publisher Publisher
	Observer  Observer
}

// Transcript is the latest transcribed text with its language
type Transcript struct {
	Text     string    `json:"text"`
	Language string    `json:"language"`
	At       time.Time `json:"at"`
}

// transcriptCell holds the latest transcript; text and language are always
// read and written together
type transcriptCell struct {
	mu sync.Mutex
	t  Transcript
}

func (c *transcriptCell) set(t Transcript) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func (c *transcriptCell) snapshot() Transcript {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Orchestrator composes the pipeline components. It runs once; a stopped
// orchestrator cannot be restarted.
type Orchestrator struct {
	cfg     Config
	deps    Deps
	clock   clock.Clock
	window  *activity.Window
	machine *fsm.FSM
	logger  *logger.Logger
	runID   string

	transcript transcriptCell

	started   atomic.Bool
	mu        sync.Mutex
	cancel    context.CancelFunc
	stopped   bool
	startedAt time.Time
	finished  chan struct{}
}

// New wires an orchestrator
func New(cfg Config, deps Deps, log *logger.Logger) *Orchestrator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.RestartBackoff <= 0 {
		cfg.RestartBackoff = time.Second
	}
	if cfg.CommandPrefix == "" {
		cfg.CommandPrefix = "!gremlin"
	}
	if cfg.PauseReply == "" {
		cfg.PauseReply = "Gremlin muted 😶"
	}
	if cfg.ResumeReply == "" {
		cfg.ResumeReply = "Gremlin unleashed 😈"
	}
	if cfg.Placeholder == "" {
		cfg.Placeholder = "Stream content"
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}
	if deps.Publisher == nil {
		deps.Publisher = nopPublisher{}
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}

	o := &Orchestrator{
		cfg:      cfg,
		deps:     deps,
		clock:    deps.Clock,
		logger:   log.Named("pipeline"),
		runID:    uuid.New().String(),
		finished: make(chan struct{}),
	}
	o.window = activity.NewWindow(cfg.Activity, log, activity.WithTransitionHook(o.onSilenceChanged))
	o.machine = fsm.NewFSM(
		string(StateIdle),
		fsm.Events{
			{Name: eventConnect, Src: []string{string(StateIdle)}, Dst: string(StateConnecting)},
			{Name: eventRun, Src: []string{string(StateConnecting)}, Dst: string(StateRunning)},
			{Name: eventCleanup, Src: []string{string(StateIdle), string(StateConnecting), string(StateRunning)}, Dst: string(StateCleanup)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				o.logger.Info("Pipeline state changed", String("from", e.Src), String("to", e.Dst))
				o.deps.Publisher.Publish("state_changed", map[string]any{"from": e.Src, "to": e.Dst})
			},
		},
	)
	return o
}

// RunID identifies this orchestrator instance
func (o *Orchestrator) RunID() string { return o.runID }

// State returns the lifecycle state
func (o *Orchestrator) State() State { return State(o.machine.Current()) }

// Window exposes the activity window
func (o *Orchestrator) Window() *activity.Window { return o.window }

// Transcript returns the latest transcript
func (o *Orchestrator) Transcript() Transcript { return o.transcript.snapshot() }

func (o *Orchestrator) transition(ctx context.Context, event string) {
	if err := o.machine.Event(context.WithoutCancel(ctx), event); err != nil {
		o.logger.Warn("Invalid pipeline transition", String("event", event), Error(err))
	}
}

// Run connects chat, runs the three loops until ctx ends, Stop is called or a
// loop fails, then cleans up. Only a chat connect failure or a loop failure
// is returned; a requested stop returns nil.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	defer close(o.finished)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		o.transition(ctx, eventCleanup)
		return nil
	}
	o.cancel = cancel
	o.startedAt = o.clock.Now()
	o.mu.Unlock()

	o.logger.Info("Starting pipeline", String("run_id", o.runID), String("stream", o.cfg.StreamURL))
	o.transition(ctx, eventConnect)

	if err := o.deps.Transport.Connect(runCtx); err != nil {
		o.transition(ctx, eventCleanup)
		o.deps.Transport.Close()
		return fmt.Errorf("failed to connect to chat: %w", err)
	}
	o.transition(ctx, eventRun)

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return o.ingestLoop(gctx) })
	g.Go(func() error { return o.silenceLoop(gctx) })
	g.Go(func() error { return o.intakeLoop(gctx) })
	err := g.Wait()

	o.transition(ctx, eventCleanup)
	if cerr := o.deps.Transport.Close(); cerr != nil {
		o.logger.Warn("Error closing chat transport", Error(cerr))
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		o.logger.Error("Pipeline stopped with error", Error(err))
		return err
	}
	o.logger.Info("Pipeline stopped")
	return nil
}

// Stop cancels a running pipeline and waits for every loop to return.
// Calling Stop before Run prevents the run.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	o.stopped = true
	cancel := o.cancel
	o.mu.Unlock()

	if cancel != nil {
		cancel()
		<-o.finished
	}
}

// ingestLoop transcribes segments into the transcript cell, restarting the
// capture with backoff when it ends
func (o *Orchestrator) ingestLoop(ctx context.Context) error {
	failures := 0
	backoff := o.cfg.RestartBackoff

	for {
		stream, err := o.deps.Source(ctx, o.cfg.StreamURL)
		if err == nil {
			delivered := o.consume(ctx, stream)
			stream.Stop()
			if ctx.Err() != nil {
				return nil
			}
			err = stream.Err()
			if delivered > 0 {
				failures = 0
				backoff = o.cfg.RestartBackoff
			}
		} else if ctx.Err() != nil {
			return nil
		}

		failures++
		if failures > o.cfg.RestartMaxAttempts {
			return fmt.Errorf("%w: %d consecutive failures, last: %v", ErrCaptureExhausted, failures, err)
		}

		o.logger.Warn("Audio capture ended, restarting",
			Int("attempt", failures),
			Int("max_attempts", o.cfg.RestartMaxAttempts),
			Duration("backoff", backoff),
			Error(err))
		o.deps.Observer.CaptureRestarted()

		select {
		case <-ctx.Done():
			return nil
		case <-o.clock.After(backoff):
		}
		backoff *= 2
		if backoff > maxRestartBackoff {
			backoff = maxRestartBackoff
		}
	}
}

// consume drains one stream and returns how many segments it delivered
func (o *Orchestrator) consume(ctx context.Context, stream SegmentStream) int {
	n := 0
	segments := stream.Segments()
	for {
		select {
		case <-ctx.Done():
			return n
		case seg, ok := <-segments:
			if !ok {
				return n
			}
			n++
			o.deps.Observer.SegmentReceived()

			res := o.deps.Transcriber.Transcribe(ctx, seg)
			o.deps.Observer.Transcribed(res.OK())
			o.deps.Observer.RemoteCall("transcription", res.Elapsed)

			if res.OK() && res.Text != "" {
				t := Transcript{Text: res.Text, Language: res.Language, At: o.clock.Now()}
				o.transcript.set(t)
				o.deps.Publisher.Publish("transcript", map[string]any{
					"text":     t.Text,
					"language": t.Language,
					"seq":      seg.Seq,
				})
			}

			if o.cfg.IngestPace > 0 {
				select {
				case <-ctx.Done():
					return n
				case <-o.clock.After(o.cfg.IngestPace):
				}
			}
		}
	}
}

// silenceLoop polls the activity window every PollInterval
func (o *Orchestrator) silenceLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-o.clock.After(o.cfg.PollInterval):
		}
		o.silenceTick(ctx)
	}
}

// silenceTick runs one poll: when silent and out of cooldown, generate a
// prompt from the latest transcript, gate it and deliver it
func (o *Orchestrator) silenceTick(ctx context.Context) TickOutcome {
	now := o.clock.Now()
	if !o.window.IsSilent(now) || !o.window.CanPrompt(now) {
		return TickIdle
	}

	snap := o.transcript.snapshot()
	snippet := snap.Text
	if snippet == "" {
		snippet = o.cfg.Placeholder
	}

	rec := PromptRecord{RunID: o.runID, At: now, Transcript: snippet}

	res := o.deps.Generator.Generate(ctx, snippet, snap.Language)
	o.deps.Observer.RemoteCall("prompt", res.Elapsed)
	rec.Language = res.Language
	if !res.OK() {
		o.logger.Warn("No prompt generated", Error(res.Err))
		return o.finishTick(ctx, rec, TickFailed)
	}
	rec.Prompt = res.Text

	if !o.deps.Gate.Allow(ctx, res.Text) {
		o.logger.Warn("Prompt rejected by content gate", String("prompt", res.Text))
		o.deps.Publisher.Publish("prompt_rejected", map[string]any{"prompt": res.Text})
		return o.finishTick(ctx, rec, TickRejected)
	}

	d := o.deps.Sink.Deliver(ctx, res.Text)
	if !d.OK() {
		o.logger.Info("Prompt not delivered", String("reason", string(d.Outcome)))
		return o.finishTick(ctx, rec, TickRefused)
	}

	o.window.MarkPromptSent(d.At)
	o.logger.Info("Prompt sent", String("prompt", res.Text), String("language", res.Language))
	o.deps.Publisher.Publish("prompt_sent", map[string]any{"prompt": res.Text, "language": res.Language})
	return o.finishTick(ctx, rec, TickSent)
}

func (o *Orchestrator) finishTick(ctx context.Context, rec PromptRecord, outcome TickOutcome) TickOutcome {
	rec.Outcome = outcome
	o.deps.Observer.PromptOutcome(outcome)
	if err := o.deps.Recorder.RecordPrompt(ctx, rec); err != nil {
		o.logger.Warn("Failed to record prompt", Error(err))
	}
	return outcome
}

// intakeLoop feeds chat into the activity window and handles commands
func (o *Orchestrator) intakeLoop(ctx context.Context) error {
	events := o.deps.Transport.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return ErrChatDisconnected
			}
			o.handleChat(ctx, ev)
		}
	}
}

func (o *Orchestrator) handleChat(ctx context.Context, ev chat.Event) {
	now := o.clock.Now()
	o.window.Add(activity.Event{User: ev.User, Text: ev.Text, At: now, Moderator: ev.Privileged()})
	o.deps.Observer.ChatEvent()

	cmd, ok := chat.ParseCommand(o.cfg.CommandPrefix, ev.Text)
	if !ok {
		return
	}
	if !ev.Privileged() {
		o.logger.Debug("Ignoring command from unprivileged user", String("user", ev.User), String("command", string(cmd)))
		return
	}

	o.logger.Info("Command received", String("user", ev.User), String("command", string(cmd)))
	o.deps.Observer.Command(string(cmd))

	switch cmd {
	case chat.CommandPause:
		o.deps.Sink.Deliver(ctx, o.cfg.PauseReply)
		o.SetMuted(true)
	case chat.CommandResume:
		o.SetMuted(false)
		o.deps.Sink.Deliver(ctx, o.cfg.ResumeReply)
	case chat.CommandStatus:
		o.deps.Sink.Deliver(ctx, o.statusLine(now))
	}
}

func (o *Orchestrator) statusLine(now time.Time) string {
	st := o.window.Stats(now)
	last := "never"
	if st.SecondsSinceLastPrompt != nil {
		last = fmt.Sprintf("%ds ago", int(*st.SecondsSinceLastPrompt))
	}
	return fmt.Sprintf("Gremlin status: muted=%t silent=%t last prompt %s", o.deps.Sink.Muted(), st.Silent, last)
}

// SetMuted mutes or unmutes prompt delivery
func (o *Orchestrator) SetMuted(muted bool) {
	if o.deps.Sink.Muted() == muted {
		return
	}
	o.deps.Sink.SetMuted(muted)
	o.deps.Observer.MuteChanged(muted)
	o.deps.Publisher.Publish("mute_changed", map[string]any{"muted": muted})
}

// Muted reports whether delivery is muted
func (o *Orchestrator) Muted() bool { return o.deps.Sink.Muted() }

func (o *Orchestrator) onSilenceChanged(silent bool, at time.Time) {
	o.deps.Observer.SilenceChanged(silent)
	o.deps.Publisher.Publish("silence_changed", map[string]any{"silent": silent, "at": at})
}
