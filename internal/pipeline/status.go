package pipeline

import (
	"time"

	"github.com/yegors/clipgremlin/internal/activity"
	"github.com/yegors/clipgremlin/internal/chat"
)

// Health is the process health summary
type Health struct {
	UptimeSeconds float64 `json:"uptime_seconds"`
	Running       bool    `json:"running"`
	State         State   `json:"state"`
	Language      *string `json:"language"` // nil until a transcript reports one
	Connected     bool    `json:"connected"`
	RunID         string  `json:"run_id"`
}

// Status extends Health with delivery state
type Status struct {
	Health
	Muted        bool        `json:"muted"`
	Ledger       chat.Ledger `json:"rate_ledger"`
	Transcript   string      `json:"transcript_preview"`
	TranscriptAt *string     `json:"transcript_at"`
}

// Health reports uptime, lifecycle and connection state
func (o *Orchestrator) Health() Health {
	now := o.clock.Now()
	o.mu.Lock()
	startedAt := o.startedAt
	o.mu.Unlock()

	h := Health{
		State:     o.State(),
		Connected: o.deps.Transport.Connected(),
		RunID:     o.runID,
	}
	h.Running = h.State == StateRunning
	if !startedAt.IsZero() {
		h.UptimeSeconds = now.Sub(startedAt).Seconds()
	}
	if lang := o.transcript.snapshot().Language; lang != "" {
		h.Language = &lang
	}
	return h
}

// Status reports health plus mute, rate and transcript state
func (o *Orchestrator) Status() Status {
	ledger := o.deps.Sink.Ledger()
	snap := o.transcript.snapshot()

	st := Status{
		Health:     o.Health(),
		Muted:      ledger.Muted,
		Ledger:     ledger,
		Transcript: preview(snap.Text, 120),
	}
	if !snap.At.IsZero() {
		at := snap.At.UTC().Format(time.RFC3339)
		st.TranscriptAt = &at
	}
	return st
}

// Stats reports the activity window statistics
func (o *Orchestrator) Stats() activity.Stats {
	return o.window.Stats(o.clock.Now())
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
