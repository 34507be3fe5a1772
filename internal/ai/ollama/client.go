package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/yegors/clipgremlin/internal/ai"
	"github.com/yegors/clipgremlin/pkg/logger"
)

// DefaultURL is the local Ollama daemon
const DefaultURL = "http://localhost:11434"

// Client talks to an Ollama server for local prompt generation
type Client struct {
	client *api.Client
	logger *logger.Logger
}

// NewClient creates a client for the Ollama server at rawURL
func NewClient(rawURL string, timeout time.Duration, log *logger.Logger) (*Client, error) {
	if rawURL == "" {
		rawURL = DefaultURL
	}
	base, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama url %q: %w", rawURL, err)
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Client{
		client: api.NewClient(base, &http.Client{Timeout: timeout}),
		logger: log.Named("ollama"),
	}, nil
}

// ChatCompletion runs a non-streaming chat request
func (c *Client) ChatCompletion(ctx context.Context, messages []ai.ChatMessage, config ai.ChatConfig) (string, error) {
	msgs := make([]api.Message, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, api.Message{Role: m.Role, Content: m.Content})
	}

	options := map[string]interface{}{}
	if config.Temperature > 0 {
		options["temperature"] = config.Temperature
	}
	if config.TopP > 0 {
		options["top_p"] = config.TopP
	}
	if config.MaxTokens > 0 {
		options["num_predict"] = config.MaxTokens
	}

	stream := false
	req := &api.ChatRequest{
		Model:    config.Model,
		Messages: msgs,
		Stream:   &stream,
		Options:  options,
	}

	var sb strings.Builder
	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		sb.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat failed: %w", err)
	}

	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", fmt.Errorf("ollama: %w", ai.ErrEmptyResponse)
	}
	c.logger.Debug("Ollama completion received", logger.String("model", config.Model), logger.Int("length", len(text)))
	return text, nil
}

var _ ai.ChatProvider = (*Client)(nil)
