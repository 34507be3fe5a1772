// Package moderation decides whether a candidate prompt may be posted.
package moderation

import (
	"context"
	"strings"

	"github.com/yegors/clipgremlin/internal/ai"
	"github.com/yegors/clipgremlin/pkg/logger"
)

// Gate is a binary content policy. A rejected candidate is discarded.
type Gate interface {
	Allow(ctx context.Context, text string) bool
}

// Denylist rejects text containing any listed term, case-insensitively
type Denylist struct {
	terms  []string
	logger *logger.Logger
}

// NewDenylist creates a denylist gate; blank terms are ignored
func NewDenylist(terms []string, log *logger.Logger) *Denylist {
	d := &Denylist{logger: log.Named("denylist")}
	for _, term := range terms {
		if t := strings.ToLower(strings.TrimSpace(term)); t != "" {
			d.terms = append(d.terms, t)
		}
	}
	return d
}

// Allow implements Gate
func (d *Denylist) Allow(_ context.Context, text string) bool {
	lower := strings.ToLower(text)
	for _, term := range d.terms {
		if strings.Contains(lower, term) {
			d.logger.Warn("Candidate rejected by denylist", logger.String("text", text))
			return false
		}
	}
	return true
}

// External delegates to a hosted moderation service. Errors reject.
type External struct {
	provider ai.ModerationProvider
	logger   *logger.Logger
}

// NewExternal creates a gate backed by provider
func NewExternal(provider ai.ModerationProvider, log *logger.Logger) *External {
	return &External{provider: provider, logger: log.Named("moderation")}
}

// Allow implements Gate
func (e *External) Allow(ctx context.Context, text string) bool {
	flagged, err := e.provider.Moderate(ctx, text)
	if err != nil {
		e.logger.Warn("Moderation check failed, rejecting candidate", logger.Error(err))
		return false
	}
	if flagged {
		e.logger.Warn("Candidate flagged by moderation", logger.String("text", text))
		return false
	}
	return true
}

// Chain allows text only when every gate allows it, stopping at the first rejection
type Chain []Gate

// Allow implements Gate
func (c Chain) Allow(ctx context.Context, text string) bool {
	for _, g := range c {
		if !g.Allow(ctx, text) {
			return false
		}
	}
	return true
}
