package discord

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/yegors/clipgremlin/internal/chat"
	"github.com/yegors/clipgremlin/pkg/logger"
)

func TestMessageEvent(t *testing.T) {
	msg := func(id, username, global string) *discordgo.MessageCreate {
		return &discordgo.MessageCreate{Message: &discordgo.Message{
			Content: "!gremlin pause",
			Author:  &discordgo.User{ID: id, Username: username, GlobalName: global},
		}}
	}

	tests := []struct {
		name      string
		m         *discordgo.MessageCreate
		perms     int64
		owner     string
		user      string
		moderator bool
		owns      bool
	}{
		{"viewer", msg("1", "viewer", ""), discordgo.PermissionSendMessages, "9", "viewer", false, false},
		{"moderator", msg("2", "mod", "The Mod"), discordgo.PermissionManageMessages, "9", "The Mod", true, false},
		{"admin", msg("3", "admin", ""), discordgo.PermissionAdministrator, "9", "admin", true, false},
		{"owner", msg("9", "owner", ""), 0, "9", "owner", false, true},
		{"unknown owner", msg("9", "owner", ""), 0, "", "owner", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := messageEvent(tt.m, tt.perms, tt.owner)
			if ev.User != tt.user || ev.Moderator != tt.moderator || ev.Broadcaster != tt.owns || ev.Text != "!gremlin pause" {
				t.Fatalf("unexpected event %+v", ev)
			}
		})
	}
}

func TestSendRequiresConnection(t *testing.T) {
	c, err := New(Config{Token: "token", ChannelID: "123"}, logger.NewNop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := c.Send(context.Background(), "hi"); !errors.Is(err, chat.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	c.Close()
	if _, ok := <-c.Events(); ok {
		t.Fatal("events must be closed after Close")
	}
}
