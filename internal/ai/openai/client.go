package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/yegors/clipgremlin/internal/ai"
	"github.com/yegors/clipgremlin/internal/retry"
	"github.com/yegors/clipgremlin/pkg/logger"
)

// DefaultBaseURL is used when no base URL is configured
const DefaultBaseURL = "https://api.openai.com"

// Client handles communication with OpenAI's APIs
type Client struct {
	client          openai.Client
	logger          *logger.Logger
	baseURL         string
	moderationModel string
}

// NewClient creates a new OpenAI client. baseURL may be given with or without the /v1 suffix.
func NewClient(apiKey, baseURL string, timeout time.Duration, log *logger.Logger) *Client {
	base := normalizeBaseURL(baseURL)
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	return &Client{
		client: openai.NewClient(
			option.WithAPIKey(apiKey),
			option.WithBaseURL(base),
			option.WithHTTPClient(&http.Client{Timeout: timeout}),
			// Retries are owned by the callers' backoff policy
			option.WithMaxRetries(0),
		),
		logger:          log.Named("openai"),
		baseURL:         base,
		moderationModel: "omni-moderation-latest",
	}
}

// SetModerationModel overrides the moderation model
func (c *Client) SetModerationModel(model string) {
	if model != "" {
		c.moderationModel = model
	}
}

func normalizeBaseURL(baseURL string) string {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if !strings.HasSuffix(base, "/v1") {
		base += "/v1"
	}
	return base + "/"
}

// -- TranscriptionProvider Implementation --

// Transcribe uploads a WAV segment to the audio transcription endpoint
func (c *Client) Transcribe(ctx context.Context, wav []byte, config ai.TranscriptionConfig) (ai.Transcript, error) {
	model := config.Model
	if model == "" {
		model = openai.AudioModelWhisper1
	}

	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(wav), "segment.wav", "audio/wav"),
		Model: openai.AudioModel(model),
	}
	// verbose_json carries the detected language; newer models only support json
	if model == openai.AudioModelWhisper1 {
		params.ResponseFormat = openai.AudioResponseFormatVerboseJSON
	}
	if config.Language != "" {
		params.Language = openai.String(config.Language)
	}
	if config.Prompt != "" {
		params.Prompt = openai.String(config.Prompt)
	}
	if config.Temperature > 0 {
		params.Temperature = openai.Float(config.Temperature)
	}

	start := time.Now()
	resp, err := c.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return ai.Transcript{}, c.wrapError("transcription", err)
	}

	result := ai.Transcript{Text: strings.TrimSpace(resp.Text), Language: config.Language}
	var extra struct {
		Language string `json:"language"`
	}
	if raw := resp.RawJSON(); raw != "" {
		if err := json.Unmarshal([]byte(raw), &extra); err == nil && extra.Language != "" {
			result.Language = extra.Language
		}
	}

	c.logger.Debug("Transcription completed",
		logger.Duration("duration", time.Since(start)),
		logger.Int("audio_bytes", len(wav)),
		logger.Int("text_length", len(result.Text)),
		logger.String("language", result.Language))

	return result, nil
}

// -- ChatProvider Implementation --

// ChatCompletion sends a chat completion request and returns the first choice
func (c *Client) ChatCompletion(ctx context.Context, messages []ai.ChatMessage, config ai.ChatConfig) (string, error) {
	converted := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		converted = append(converted, toOpenAIMessage(msg))
	}

	params := openai.ChatCompletionNewParams{
		Messages: converted,
		Model:    openai.ChatModel(config.Model),
	}
	if config.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(config.MaxTokens))
	}
	if config.Temperature > 0 {
		params.Temperature = openai.Float(config.Temperature)
	}
	if config.TopP > 0 {
		params.TopP = openai.Float(config.TopP)
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", c.wrapError("chat completion", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion: %w", ai.ErrEmptyResponse)
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("chat completion: %w", ai.ErrEmptyResponse)
	}
	return content, nil
}

func toOpenAIMessage(msg ai.ChatMessage) openai.ChatCompletionMessageParamUnion {
	switch msg.Role {
	case ai.RoleSystem:
		return openai.SystemMessage(msg.Content)
	case ai.RoleAssistant:
		return openai.AssistantMessage(msg.Content)
	default:
		return openai.UserMessage(msg.Content)
	}
}

// -- ModerationProvider Implementation --

// Moderate runs the text through the moderation endpoint
func (c *Client) Moderate(ctx context.Context, text string) (bool, error) {
	resp, err := c.client.Moderations.New(ctx, openai.ModerationNewParams{
		Input: openai.ModerationNewParamsInputUnion{OfString: openai.String(text)},
		Model: openai.ModerationModel(c.moderationModel),
	})
	if err != nil {
		return false, c.wrapError("moderation", err)
	}
	if len(resp.Results) == 0 {
		return false, fmt.Errorf("moderation: %w", ai.ErrEmptyResponse)
	}
	for _, r := range resp.Results {
		if r.Flagged {
			return true, nil
		}
	}
	return false, nil
}

// wrapError annotates API errors with their status and marks requests that
// cannot succeed on retry as permanent
func (c *Client) wrapError(op string, err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%s failed: %w", op, err)
	}

	c.logger.Warn("OpenAI request failed",
		logger.String("operation", op),
		logger.Int("status", apiErr.StatusCode))

	switch apiErr.StatusCode {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity:
		return fmt.Errorf("%s failed with status %d: %w: %w", op, apiErr.StatusCode, retry.ErrPermanent, err)
	default:
		return fmt.Errorf("%s failed with status %d: %w", op, apiErr.StatusCode, err)
	}
}

var (
	_ ai.TranscriptionProvider = (*Client)(nil)
	_ ai.ChatProvider          = (*Client)(nil)
	_ ai.ModerationProvider    = (*Client)(nil)
)
