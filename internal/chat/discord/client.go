// Package discord implements the chat transport for a single Discord text channel.
package discord

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"
	"github.com/yegors/clipgremlin/internal/chat"
	"github.com/yegors/clipgremlin/pkg/logger"
)

var (
	String = logger.String
	Error  = logger.Error
)

// Config identifies the bot and the watched channel
type Config struct {
	Token     string
	ChannelID string
}

// Client is a chat.Transport backed by a discordgo session
type Client struct {
	cfg       Config
	session   *discordgo.Session
	logger    *logger.Logger
	events    chan chat.Event
	connected atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
	sendMu    sync.RWMutex // held for reading while a handler publishes
	removers  []func()
}

// New creates an unconnected client
func New(cfg Config, log *logger.Logger) (*Client, error) {
	dg, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent

	return &Client{
		cfg:     cfg,
		session: dg,
		logger:  log.Named("discord"),
		events:  make(chan chat.Event, 64),
		done:    make(chan struct{}),
	}, nil
}

// Connect opens the gateway and starts listening on the channel
func (c *Client) Connect(ctx context.Context) error {
	c.removers = append(c.removers,
		c.session.AddHandler(func(s *discordgo.Session, _ *discordgo.Connect) {
			c.connected.Store(true)
			c.logger.Info("Discord gateway connected")
		}),
		c.session.AddHandler(func(s *discordgo.Session, _ *discordgo.Disconnect) {
			c.connected.Store(false)
			c.logger.Warn("Discord gateway disconnected")
		}),
		c.session.AddHandler(c.handleMessage),
	)

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}
	if _, err := c.session.Channel(c.cfg.ChannelID, discordgo.WithContext(ctx)); err != nil {
		c.session.Close()
		return fmt.Errorf("cannot access discord channel %s: %w", c.cfg.ChannelID, err)
	}

	c.connected.Store(true)
	c.logger.Info("Listening on Discord channel", String("channel_id", c.cfg.ChannelID))
	return nil
}

func (c *Client) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.ChannelID != c.cfg.ChannelID {
		return
	}
	if s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID {
		return
	}

	perms, err := s.State.UserChannelPermissions(m.Author.ID, m.ChannelID)
	if err != nil {
		perms, err = s.UserChannelPermissions(m.Author.ID, m.ChannelID)
		if err != nil {
			c.logger.Debug("Could not resolve permissions", String("user", m.Author.ID), Error(err))
		}
	}
	var owner string
	if g, err := s.State.Guild(m.GuildID); err == nil {
		owner = g.OwnerID
	}

	c.sendMu.RLock()
	defer c.sendMu.RUnlock()
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.events <- messageEvent(m, perms, owner):
	case <-c.done:
	}
}

// messageEvent maps a Discord message to a chat event. Moderators hold
// Manage Messages in the channel; the broadcaster owns the guild.
func messageEvent(m *discordgo.MessageCreate, perms int64, guildOwner string) chat.Event {
	name := m.Author.GlobalName
	if name == "" {
		name = m.Author.Username
	}
	return chat.Event{
		User:        name,
		Text:        m.Content,
		Moderator:   perms&discordgo.PermissionManageMessages != 0 || perms&discordgo.PermissionAdministrator != 0,
		Broadcaster: guildOwner != "" && m.Author.ID == guildOwner,
	}
}

// Send posts text to the channel
func (c *Client) Send(ctx context.Context, text string) error {
	if !c.connected.Load() {
		return chat.ErrNotConnected
	}
	if _, err := c.session.ChannelMessageSend(c.cfg.ChannelID, text, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to send discord message: %w", err)
	}
	return nil
}

// Events implements chat.Transport
func (c *Client) Events() <-chan chat.Event { return c.events }

// Connected implements chat.Transport
func (c *Client) Connected() bool { return c.connected.Load() }

// Close shuts the gateway session and ends the event stream
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		for _, remove := range c.removers {
			remove()
		}
		c.connected.Store(false)
		err = c.session.Close()
		c.sendMu.Lock()
		close(c.events)
		c.sendMu.Unlock()
		c.logger.Info("Disconnected from Discord")
	})
	return err
}

var _ chat.Transport = (*Client)(nil)
