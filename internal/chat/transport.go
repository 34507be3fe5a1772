// Package chat holds the chat transport contract, the rate-limited message
// sink and command parsing shared by all chat platforms.
package chat

import (
	"context"
	"errors"
	"strings"
)

// ErrNotConnected is returned when sending on a closed or unopened transport
var ErrNotConnected = errors.New("chat transport not connected")

// Event is one inbound chat message
type Event struct {
	User        string
	Text        string
	Moderator   bool
	Broadcaster bool
}

// Privileged reports whether the sender may issue commands
func (e Event) Privileged() bool {
	return e.Moderator || e.Broadcaster
}

// Transport is a connected chat session for one channel
type Transport interface {
	// Connect establishes the session; it fails when the channel cannot be joined
	Connect(ctx context.Context) error
	// Send posts a message to the channel
	Send(ctx context.Context, text string) error
	// Events is closed when the session ends
	Events() <-chan Event
	Connected() bool
	Close() error
}

// Command is a recognised control command
type Command string

const (
	CommandPause  Command = "pause"
	CommandResume Command = "resume"
	CommandStatus Command = "status"
)

// ParseCommand matches "<prefix> <command>" case-insensitively on the trimmed text
func ParseCommand(prefix, text string) (Command, bool) {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(text)))
	if len(fields) != 2 || fields[0] != strings.ToLower(prefix) {
		return "", false
	}
	switch cmd := Command(fields[1]); cmd {
	case CommandPause, CommandResume, CommandStatus:
		return cmd, true
	}
	return "", false
}
