package chat

import (
	"context"
	"sync"
	"time"

	"github.com/yegors/clipgremlin/internal/clock"
	"github.com/yegors/clipgremlin/pkg/logger"
)

var (
	String   = logger.String
	Int      = logger.Int
	Bool     = logger.Bool
	Duration = logger.Duration
	Error    = logger.Error
)

// SinkConfig bounds the outbound message rate
type SinkConfig struct {
	MaxMessages int           // per rolling window
	Window      time.Duration
}

// Outcome classifies a delivery attempt
type Outcome string

const (
	Delivered    Outcome = "delivered"
	RefusedConn  Outcome = "not_connected"
	RefusedMuted Outcome = "muted"
	RefusedRate  Outcome = "rate_limited"
	SendFailed   Outcome = "send_failed"
)

// Delivery is the result of one Deliver call
type Delivery struct {
	Outcome Outcome
	At      time.Time
	Err     error // set for SendFailed
}

// OK reports whether the message reached the transport
func (d Delivery) OK() bool { return d.Outcome == Delivered }

// Ledger is a snapshot of the sink's rate state
type Ledger struct {
	Count       int           `json:"count"`
	WindowStart time.Time     `json:"window_start"`
	Max         int           `json:"max"`
	Window      time.Duration `json:"-"`
	WindowSecs  float64       `json:"window_seconds"`
	Muted       bool          `json:"muted"`
	LastSend    time.Time     `json:"last_send"`
}

// Sink gates delivery on connection, mute and a sliding rate window
type Sink struct {
	cfg       SinkConfig
	transport Transport
	clock     clock.Clock
	logger    *logger.Logger

	mu       sync.Mutex
	sends    []time.Time // successful or in-flight sends inside the window
	muted    bool
	lastSend time.Time
}

// NewSink creates a sink over transport
func NewSink(cfg SinkConfig, transport Transport, clk clock.Clock, log *logger.Logger) *Sink {
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = 20
	}
	if cfg.Window <= 0 {
		cfg.Window = 30 * time.Second
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Sink{
		cfg:       cfg,
		transport: transport,
		clock:     clk,
		logger:    log.Named("sink"),
	}
}

// Send delivers text and reports whether it was posted
func (s *Sink) Send(ctx context.Context, text string) bool {
	return s.Deliver(ctx, text).OK()
}

// Deliver checks, in order: connection, mute, rate window. A slot is
// reserved before the transport call and released if the send fails.
func (s *Sink) Deliver(ctx context.Context, text string) Delivery {
	now := s.clock.Now()

	if !s.transport.Connected() {
		s.logger.Warn("Not connected, message dropped", String("text", text))
		return Delivery{Outcome: RefusedConn, At: now}
	}

	s.mu.Lock()
	if s.muted {
		s.mu.Unlock()
		s.logger.Info("Muted, message suppressed", String("text", text))
		return Delivery{Outcome: RefusedMuted, At: now}
	}
	s.pruneLocked(now)
	if len(s.sends) >= s.cfg.MaxMessages {
		count := len(s.sends)
		s.mu.Unlock()
		s.logger.Warn("Rate limit reached, message dropped",
			Int("count", count),
			Int("max", s.cfg.MaxMessages),
			Duration("window", s.cfg.Window))
		return Delivery{Outcome: RefusedRate, At: now}
	}
	s.sends = append(s.sends, now)
	s.mu.Unlock()

	if err := s.transport.Send(ctx, text); err != nil {
		s.release(now)
		s.logger.Error("Failed to send message", Error(err))
		return Delivery{Outcome: SendFailed, At: now, Err: err}
	}

	s.mu.Lock()
	if now.After(s.lastSend) {
		s.lastSend = now
	}
	s.mu.Unlock()

	s.logger.Info("Message sent", String("text", text))
	return Delivery{Outcome: Delivered, At: now}
}

// SetMuted sets the sticky mute flag
func (s *Sink) SetMuted(muted bool) {
	s.mu.Lock()
	changed := s.muted != muted
	s.muted = muted
	s.mu.Unlock()
	if changed {
		s.logger.Info("Mute state changed", Bool("muted", muted))
	}
}

// Muted reports the mute flag
func (s *Sink) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

// Ledger returns the current rate state
func (s *Sink) Ledger() Ledger {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(now)

	l := Ledger{
		Count:      len(s.sends),
		Max:        s.cfg.MaxMessages,
		Window:     s.cfg.Window,
		WindowSecs: s.cfg.Window.Seconds(),
		Muted:      s.muted,
		LastSend:   s.lastSend,
	}
	for _, t := range s.sends {
		if l.WindowStart.IsZero() || t.Before(l.WindowStart) {
			l.WindowStart = t
		}
	}
	return l
}

// pruneLocked drops sends that have aged out of the window
func (s *Sink) pruneLocked(now time.Time) {
	cutoff := now.Add(-s.cfg.Window)
	kept := s.sends[:0]
	for _, t := range s.sends {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.sends = kept
}

func (s *Sink) release(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.sends) - 1; i >= 0; i-- {
		if s.sends[i].Equal(at) {
			s.sends = append(s.sends[:i], s.sends[i+1:]...)
			return
		}
	}
}
