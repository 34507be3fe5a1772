// Package twitch implements the chat transport over Twitch IRC on WebSocket.
package twitch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yegors/clipgremlin/internal/chat"
	"github.com/yegors/clipgremlin/pkg/logger"
)

var (
	String = logger.String
	Error  = logger.Error
)

// DefaultURL is Twitch's IRC-over-WebSocket endpoint
const DefaultURL = "wss://irc-ws.chat.twitch.tv:443"

const (
	writeWait     = 10 * time.Second
	handshakeWait = 15 * time.Second
)

// ErrAuthFailed is returned when Twitch rejects the credentials
var ErrAuthFailed = errors.New("twitch authentication failed")

// Config identifies the bot and the channel
type Config struct {
	URL     string
	Nick    string
	Token   string // with or without the oauth: prefix
	Channel string // without the leading #
}

// Client is a chat.Transport for one Twitch channel
type Client struct {
	cfg    Config
	dialer *websocket.Dialer
	logger *logger.Logger

	conn      *websocket.Conn
	writeMu   sync.Mutex
	events    chan chat.Event
	connected atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// New creates an unconnected client
func New(cfg Config, log *logger.Logger) *Client {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	cfg.Channel = strings.ToLower(strings.TrimPrefix(cfg.Channel, "#"))
	if cfg.Nick == "" {
		cfg.Nick = cfg.Channel
	}
	return &Client{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: handshakeWait},
		logger: log.Named("twitch"),
		events: make(chan chat.Event, 64),
		done:   make(chan struct{}),
	}
}

// Connect dials, authenticates, waits for the welcome and joins the channel
func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to twitch: %w", err)
	}
	c.conn = conn

	token := c.cfg.Token
	if !strings.HasPrefix(token, "oauth:") {
		token = "oauth:" + token
	}
	for _, line := range []string{
		"CAP REQ :twitch.tv/tags twitch.tv/commands",
		"PASS " + token,
		"NICK " + strings.ToLower(c.cfg.Nick),
	} {
		if err := c.writeLine(line); err != nil {
			return c.abort(fmt.Errorf("failed to authenticate: %w", err))
		}
	}

	if err := c.awaitWelcome(ctx); err != nil {
		return c.abort(err)
	}

	if err := c.writeLine("JOIN #" + c.cfg.Channel); err != nil {
		return c.abort(fmt.Errorf("failed to join channel: %w", err))
	}

	c.connected.Store(true)
	c.logger.Info("Connected to Twitch chat", String("channel", c.cfg.Channel), String("nick", c.cfg.Nick))
	go c.readLoop()
	return nil
}

// abort drops a half-open connection
func (c *Client) abort(err error) error {
	c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) awaitWelcome(ctx context.Context) error {
	deadline := time.Now().Add(handshakeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetReadDeadline(deadline)
	defer c.conn.SetReadDeadline(time.Time{})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("waiting for twitch welcome: %w", err)
		}
		for _, raw := range splitLines(data) {
			msg := parseMessage(raw)
			switch msg.Command {
			case "001":
				return nil
			case "PING":
				c.writeLine("PONG :" + msg.Trailing)
			case "NOTICE":
				if strings.Contains(msg.Trailing, "Login authentication failed") ||
					strings.Contains(msg.Trailing, "Improperly formatted auth") {
					return fmt.Errorf("%w: %s", ErrAuthFailed, msg.Trailing)
				}
			}
		}
	}
}

func (c *Client) readLoop() {
	defer c.shutdown()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Warn("Twitch connection lost", Error(err))
			}
			return
		}

		for _, raw := range splitLines(data) {
			msg := parseMessage(raw)
			switch msg.Command {
			case "PING":
				if err := c.writeLine("PONG :" + msg.Trailing); err != nil {
					c.logger.Warn("Failed to answer PING", Error(err))
				}
			case "RECONNECT":
				c.logger.Warn("Twitch requested reconnect")
				return
			case "PRIVMSG":
				ev := msg.event()
				select {
				case c.events <- ev:
				case <-c.done:
					return
				}
			}
		}
	}
}

// shutdown marks the session ended and closes the events channel once
func (c *Client) shutdown() {
	c.connected.Store(false)
	close(c.events)
}

// Send posts text to the channel. Newlines are collapsed.
func (c *Client) Send(ctx context.Context, text string) error {
	if !c.connected.Load() {
		return chat.ErrNotConnected
	}
	text = strings.Join(strings.Fields(text), " ")
	if err := c.writeLine(fmt.Sprintf("PRIVMSG #%s :%s", c.cfg.Channel, text)); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// Events implements chat.Transport
func (c *Client) Events() <-chan chat.Event { return c.events }

// Connected implements chat.Transport
func (c *Client) Connected() bool { return c.connected.Load() }

// Close leaves the channel and closes the socket
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn == nil {
			close(c.events)
			return
		}
		if c.connected.Load() {
			c.writeLine("PART #" + c.cfg.Channel)
		}
		c.connected.Store(false)
		err = c.conn.Close()
		c.logger.Info("Disconnected from Twitch chat")
	})
	return err
}

func (c *Client) writeLine(line string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, []byte(line+"\r\n"))
}

var _ chat.Transport = (*Client)(nil)
