package ai

import (
	"context"
	"errors"
)

// ErrEmptyResponse is returned when a provider answers without content
var ErrEmptyResponse = errors.New("empty response from provider")

// TranscriptionConfig holds configuration for transcription requests
type TranscriptionConfig struct {
	Model       string
	Language    string // optional hint; empty lets the service detect it
	Prompt      string
	Temperature float64
}

// Transcript is the text recognised in one audio segment
type Transcript struct {
	Text     string
	Language string // as reported by the provider; empty when unknown
}

// TranscriptionProvider defines the interface for converting audio to text
type TranscriptionProvider interface {
	// Transcribe uploads one WAV-framed segment and returns its text
	Transcribe(ctx context.Context, wav []byte, config TranscriptionConfig) (Transcript, error)
}

// ChatMessage represents a message in a chat conversation
type ChatMessage struct {
	Role    string
	Content string
}

// Chat roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatConfig holds configuration for chat completions
type ChatConfig struct {
	Model       string
	Temperature float64
	TopP        float64
	MaxTokens   int
}

// ChatProvider defines the interface for text-to-text chat completions
type ChatProvider interface {
	// ChatCompletion sends a conversation to the LLM and returns the text response
	ChatCompletion(ctx context.Context, messages []ChatMessage, config ChatConfig) (string, error)
}

// ModerationProvider classifies text against a hosted safety policy
type ModerationProvider interface {
	// Moderate reports whether the text was flagged
	Moderate(ctx context.Context, text string) (bool, error)
}

// SplitSystem separates system instructions from the conversation turns
func SplitSystem(messages []ChatMessage) (string, []ChatMessage) {
	var system string
	turns := make([]ChatMessage, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content
			continue
		}
		turns = append(turns, msg)
	}
	return system, turns
}
