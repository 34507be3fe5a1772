// Package activity keeps a rolling, bounded record of chat events and derives
// the silence and cooldown state used to decide when a prompt may be sent.
package activity

import (
	"sort"
	"sync"
	"time"

	"github.com/yegors/clipgremlin/pkg/logger"
)

var (
	String   = logger.String
	Int      = logger.Int
	Duration = logger.Duration
	Time     = logger.Time
)

// Event is one chat message
type Event struct {
	User      string
	Text      string
	At        time.Time
	Moderator bool
}

// Config bounds the window
type Config struct {
	SilenceHorizon time.Duration // no activity for this long means silent
	Cooldown       time.Duration // minimum gap between prompts
	Retention      time.Duration // statistics horizon, never shorter than SilenceHorizon
	MaxEvents      int           // hard cap on retained events
}

// Stats is a point-in-time summary of the window
type Stats struct {
	TotalEvents            int      `json:"total_events"`
	EventsLastMinute       int      `json:"events_last_minute"`
	EventsLast5Minutes     int      `json:"events_last_5_minutes"`
	Silent                 bool     `json:"is_silent"`
	SecondsSinceLastPrompt *float64 `json:"seconds_since_last_prompt"`
	CanPrompt              bool     `json:"can_prompt"`
}

// TransitionFunc observes silent/active edges
type TransitionFunc func(silent bool, at time.Time)

// Option customises a Window
type Option func(*Window)

// WithTransitionHook registers fn for every silence edge
func WithTransitionHook(fn TransitionFunc) Option {
	return func(w *Window) { w.onTransition = fn }
}

// Window is safe for concurrent use
type Window struct {
	mu           sync.Mutex
	cfg          Config
	events       []Event // chronological
	silent       bool
	lastPrompt   time.Time
	onTransition TransitionFunc
	logger       *logger.Logger
}

// NewWindow creates an empty window
func NewWindow(cfg Config, log *logger.Logger, opts ...Option) *Window {
	if cfg.SilenceHorizon <= 0 {
		cfg.SilenceHorizon = 60 * time.Second
	}
	if cfg.Retention < cfg.SilenceHorizon {
		cfg.Retention = cfg.SilenceHorizon
	}
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = 1000
	}

	w := &Window{
		cfg:    cfg,
		events: make([]Event, 0, 64),
		logger: log.Named("activity"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Add records a chat event. Events are expected in arrival order; an event
// stamped earlier than the newest retained one is clamped to keep order.
func (w *Window) Add(ev Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if n := len(w.events); n > 0 && ev.At.Before(w.events[n-1].At) {
		ev.At = w.events[n-1].At
	}
	w.events = append(w.events, ev)
	if over := len(w.events) - w.cfg.MaxEvents; over > 0 {
		w.events = append(w.events[:0], w.events[over:]...)
	}
	w.pruneLocked(ev.At)
}

// IsSilent reports whether no event is newer than now minus the silence
// horizon. Transitions are logged once per edge.
func (w *Window) IsSilent(now time.Time) bool {
	w.mu.Lock()
	w.pruneLocked(now)
	silent := w.silentLocked(now)
	changed := silent != w.silent
	w.silent = silent
	hook := w.onTransition
	var last time.Time
	if n := len(w.events); n > 0 {
		last = w.events[n-1].At
	}
	w.mu.Unlock()

	if changed {
		if silent {
			w.logger.Info("Chat went silent",
				Duration("horizon", w.cfg.SilenceHorizon),
				Time("last_event", last))
		} else {
			w.logger.Info("Chat activity resumed", Time("last_event", last))
		}
		if hook != nil {
			hook(silent, now)
		}
	}
	return silent
}

// CanPrompt reports whether the cooldown since the last prompt has elapsed
func (w *Window) CanPrompt(now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.canPromptLocked(now)
}

// MarkPromptSent starts a new cooldown and re-arms the silence edge, so the
// next prompt needs a fresh silent transition to be reported
func (w *Window) MarkPromptSent(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastPrompt = now
	w.silent = false
}

// LastPrompt returns when the last prompt was sent; zero if never
func (w *Window) LastPrompt() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastPrompt
}

// Recent returns a copy of the events newer than now minus horizon, oldest first
func (w *Window) Recent(now time.Time, horizon time.Duration) []Event {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := now.Add(-horizon)
	i := w.firstAfterLocked(cutoff)
	out := make([]Event, len(w.events)-i)
	copy(out, w.events[i:])
	return out
}

// Count returns the number of retained events
func (w *Window) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.events)
}

// Clear drops all events and the prompt history
func (w *Window) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = w.events[:0]
	w.silent = false
	w.lastPrompt = time.Time{}
}

// Stats summarises the window without touching the transition edge
func (w *Window) Stats(now time.Time) Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pruneLocked(now)
	s := Stats{
		TotalEvents:        len(w.events),
		EventsLastMinute:   len(w.events) - w.firstAfterLocked(now.Add(-time.Minute)),
		EventsLast5Minutes: len(w.events) - w.firstAfterLocked(now.Add(-5*time.Minute)),
		Silent:             w.silentLocked(now),
		CanPrompt:          w.canPromptLocked(now),
	}
	if !w.lastPrompt.IsZero() {
		secs := now.Sub(w.lastPrompt).Seconds()
		s.SecondsSinceLastPrompt = &secs
	}
	return s
}

func (w *Window) silentLocked(now time.Time) bool {
	n := len(w.events)
	return n == 0 || !w.events[n-1].At.After(now.Add(-w.cfg.SilenceHorizon))
}

func (w *Window) canPromptLocked(now time.Time) bool {
	return w.lastPrompt.IsZero() || now.Sub(w.lastPrompt) >= w.cfg.Cooldown
}

// firstAfterLocked returns the index of the first event stamped after cutoff
func (w *Window) firstAfterLocked(cutoff time.Time) int {
	return sort.Search(len(w.events), func(i int) bool {
		return w.events[i].At.After(cutoff)
	})
}

// pruneLocked drops events older than the retention horizon
func (w *Window) pruneLocked(now time.Time) {
	i := w.firstAfterLocked(now.Add(-w.cfg.Retention))
	if i > 0 {
		w.events = append(w.events[:0], w.events[i:]...)
	}
}
