package gemini

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/yegors/clipgremlin/internal/ai"
	"github.com/yegors/clipgremlin/pkg/logger"
	"google.golang.org/genai"
)

// Client represents a Google Gemini API client
type Client struct {
	client *genai.Client
	logger *logger.Logger
}

// NewClient creates a new Gemini Client. An empty baseURL uses the public endpoint.
func NewClient(ctx context.Context, apiKey, baseURL string, timeout time.Duration, log *logger.Logger) (*Client, error) {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	cfg := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: timeout},
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: strings.TrimRight(baseURL, "/") + "/"}
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &Client{
		client: client,
		logger: log.Named("gemini"),
	}, nil
}

// -- ChatProvider Implementation --

// ChatCompletion sends the conversation to generateContent. System messages
// become the system instruction.
func (c *Client) ChatCompletion(ctx context.Context, messages []ai.ChatMessage, config ai.ChatConfig) (string, error) {
	system, turns := ai.SplitSystem(messages)

	contents := make([]*genai.Content, 0, len(turns))
	for _, msg := range turns {
		role := genai.Role(genai.RoleUser)
		if msg.Role == ai.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(msg.Content, role))
	}
	if len(contents) == 0 {
		return "", fmt.Errorf("gemini: no user content")
	}

	genCfg := &genai.GenerateContentConfig{}
	if system != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if config.Temperature > 0 {
		genCfg.Temperature = genai.Ptr(float32(config.Temperature))
	}
	if config.TopP > 0 {
		genCfg.TopP = genai.Ptr(float32(config.TopP))
	}
	if config.MaxTokens > 0 {
		genCfg.MaxOutputTokens = int32(config.MaxTokens)
	}

	start := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, config.Model, contents, genCfg)
	if err != nil {
		return "", fmt.Errorf("gemini generate content failed: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("gemini: %w", ai.ErrEmptyResponse)
	}

	c.logger.Debug("Gemini completion received",
		logger.String("model", config.Model),
		logger.Duration("duration", time.Since(start)),
		logger.Int("length", len(text)))

	return text, nil
}

var _ ai.ChatProvider = (*Client)(nil)
