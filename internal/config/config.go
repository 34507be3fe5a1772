package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config represents the main application configuration structure
// containing all configuration sections
type Config struct {
	Server        ServerConfig        `toml:"server"`        // HTTP monitoring server settings
	Logging       LoggingConfig       `toml:"logging"`       // Application logging settings
	Chat          ChatConfig          `toml:"chat"`          // Chat platform selection and command settings
	Twitch        TwitchConfig        `toml:"twitch"`        // Twitch IRC transport settings
	Discord       DiscordConfig       `toml:"discord"`       // Discord transport settings
	Stream        StreamConfig        `toml:"stream"`        // Audio capture settings
	Transcription TranscriptionConfig `toml:"transcription"` // Speech-to-text settings
	Prompt        PromptConfig        `toml:"prompt"`        // Prompt generation settings
	Silence       SilenceConfig       `toml:"silence"`       // Chat silence detection settings
	RateLimit     RateLimitConfig     `toml:"rate_limit"`    // Outbound message rate limiting
	Moderation    ModerationConfig    `toml:"moderation"`    // Content gate settings
	Storage       StorageConfig       `toml:"storage"`       // Prompt audit log settings
	Metrics       MetricsConfig       `toml:"metrics"`       // Prometheus metrics settings
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Enabled          bool   `toml:"enabled"`               // Serve the monitoring API
	Host             string `toml:"host"`                  // Host address to bind to (e.g., 127.0.0.1 for localhost only, 0.0.0.0 for all interfaces)
	Port             int    `toml:"port"`                  // HTTP port for the monitoring API
	ReadTimeoutSecs  int    `toml:"read_timeout_seconds"`  // Maximum duration for reading the entire request (0 = no timeout)
	WriteTimeoutSecs int    `toml:"write_timeout_seconds"` // Maximum duration for writing the response (0 = no timeout)
	IdleTimeoutSecs  int    `toml:"idle_timeout_seconds"`  // Maximum duration to wait for the next request when keep-alives are enabled
}

// LoggingConfig contains application logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`  // Log level: "debug", "info", "warn", or "error"
	Format string `toml:"format"` // Log format: "json" (structured) or "console" (human-readable)
}

// ChatConfig selects the chat platform and the command surface
type ChatConfig struct {
	Platform      string `toml:"platform"`       // "twitch" or "discord"
	Channel       string `toml:"channel"`        // Channel name (Twitch) or label used in logs (Discord)
	CommandPrefix string `toml:"command_prefix"` // Prefix for moderator commands (e.g., "!gremlin")
	PauseReply    string `toml:"pause_reply"`    // Acknowledgement sent before muting
	ResumeReply   string `toml:"resume_reply"`   // Acknowledgement sent after unmuting
}

// TwitchConfig contains Twitch IRC transport settings
type TwitchConfig struct {
	IRCURL   string `toml:"irc_url"`   // IRC-over-WebSocket endpoint
	Nick     string `toml:"nick"`      // Bot login name
	BotToken string `toml:"bot_token"` // OAuth token (with or without the "oauth:" prefix)
	ClientID string `toml:"client_id"` // Application client id (informational)
}

// DiscordConfig contains Discord transport settings
type DiscordConfig struct {
	BotToken  string `toml:"bot_token"`  // Bot token (without the "Bot " prefix)
	ChannelID string `toml:"channel_id"` // Text channel to watch and post into
}

// StreamConfig contains audio capture settings
type StreamConfig struct {
	URL                   string `toml:"url"`                      // Stream locator handed to ffmpeg
	FFmpegPath            string `toml:"ffmpeg_path"`              // Path to FFmpeg executable
	SampleRate            int    `toml:"sample_rate"`              // Audio sample rate in Hz
	Channels              int    `toml:"channels"`                 // Number of audio channels (1 for mono)
	ChunkDurationSecs     int    `toml:"chunk_duration_seconds"`   // Duration of each audio segment
	MaxAudioSizeMB        int    `toml:"max_audio_size_mb"`        // Segments larger than this are dropped
	PaceMs                int    `toml:"pace_ms"`                  // Delay between emitted segments
	BufferSegments        int    `toml:"buffer_segments"`          // Ring buffer capacity in segments
	StopGraceSecs         int    `toml:"stop_grace_seconds"`       // Time between SIGTERM and SIGKILL
	RestartMaxAttempts    int    `toml:"restart_max_attempts"`     // Consecutive capture restarts before giving up
	RestartBackoffSecs    int    `toml:"restart_backoff_seconds"`  // Initial delay before restarting capture
	FFmpegTimeoutSecs     int    `toml:"ffmpeg_timeout_seconds"`   // FFmpeg connection timeout in seconds (0 = no timeout)
	FFmpegReconnectDelayS int    `toml:"ffmpeg_reconnect_delay_s"` // FFmpeg internal reconnect delay in seconds
}

// TranscriptionConfig contains settings for audio transcription services
type TranscriptionConfig struct {
	OpenAIAPIKey     string `toml:"openai_api_key"`      // OpenAI API key for transcription service
	OpenAIBaseURL    string `toml:"openai_api_base_url"` // Optional OpenAI base URL (e.g., for proxies)
	Model            string `toml:"model"`               // Transcription model (e.g., "whisper-1")
	Language         string `toml:"language"`            // Optional language hint; empty lets the service detect it
	Prompt           string `toml:"prompt"`              // Optional vocabulary prompt
	TimeoutSecs      int    `toml:"timeout_seconds"`     // Per-request timeout
	MaxRetries       int    `toml:"max_retries"`         // Additional attempts after the first failure
	RetryBaseDelayMs int    `toml:"retry_base_delay_ms"` // First backoff delay, doubled per retry
}

// PromptConfig contains settings for prompt generation
type PromptConfig struct {
	Provider         string  `toml:"provider"`            // "openai", "gemini" or "ollama"
	Model            string  `toml:"model"`               // Model name for the selected provider
	OpenAIAPIKey     string  `toml:"openai_api_key"`      // Defaults to the transcription key
	OpenAIBaseURL    string  `toml:"openai_api_base_url"` // Optional OpenAI base URL
	GeminiAPIKey     string  `toml:"gemini_api_key"`      // Google AI Studio key
	OllamaURL        string  `toml:"ollama_url"`          // Ollama server URL
	MaxTokens        int     `toml:"max_tokens"`          // Completion token limit
	Temperature      float64 `toml:"temperature"`         // Sampling temperature
	TopP             float64 `toml:"top_p"`               // Nucleus sampling
	MaxInputChars    int     `toml:"max_input_chars"`     // Transcript prefix length sent to the model
	MaxOutputChars   int     `toml:"max_output_chars"`    // Maximum chat message length
	DefaultLanguage  string  `toml:"default_language"`    // Template used for unknown languages
	TimeoutSecs      int     `toml:"timeout_seconds"`     // Per-request timeout
	MaxRetries       int     `toml:"max_retries"`         // Additional attempts after the first failure
	RetryBaseDelayMs int     `toml:"retry_base_delay_ms"` // First backoff delay, doubled per retry
	Placeholder      string  `toml:"placeholder"`         // Context used before any transcript exists
}

// SilenceConfig contains chat silence detection settings
type SilenceConfig struct {
	DurationSecs  int `toml:"duration_seconds"`      // Silence horizon
	CooldownSecs  int `toml:"cooldown_seconds"`      // Minimum interval between prompts
	PollSecs      int `toml:"poll_interval_seconds"` // Silence check interval
	MaxEvents     int `toml:"max_events"`            // Activity window capacity
	RetentionSecs int `toml:"retention_seconds"`     // Statistics retention horizon
}

// RateLimitConfig bounds outbound chat messages
type RateLimitConfig struct {
	MaxMessages int `toml:"max_messages"`   // Messages allowed per window
	WindowSecs  int `toml:"window_seconds"` // Window length
}

// ModerationConfig contains content gate settings
type ModerationConfig struct {
	Denylist       []string `toml:"denylist"`        // Case-insensitive substrings that reject a prompt
	External       bool     `toml:"external"`        // Also run the OpenAI moderation endpoint
	Model          string   `toml:"model"`           // Moderation model
	TimeoutSecs    int      `toml:"timeout_seconds"` // Moderation request timeout
	ReplaceDefault bool     `toml:"replace_default"` // Use only the configured denylist instead of extending the default
}

// StorageConfig contains prompt audit log settings
type StorageConfig struct {
	Enabled    bool   `toml:"enabled"`     // Record every prompt cycle to SQLite
	SQLitePath string `toml:"sqlite_path"` // Database file path
}

// MetricsConfig contains Prometheus settings
type MetricsConfig struct {
	Enabled   bool   `toml:"enabled"`   // Expose /metrics
	Namespace string `toml:"namespace"` // Metric name prefix
}

// DefaultDenylist is the built-in content gate word list
var DefaultDenylist = []string{
	"fuck", "shit", "bitch", "asshole", "dick", "pussy",
	"cock", "cunt", "whore", "slut", "nigger", "faggot",
}

// Default returns a configuration with every default applied
func Default() *Config {
	c := &Config{
		Server:  ServerConfig{Enabled: true},
		Metrics: MetricsConfig{Enabled: true},
	}
	c.applyDefaults()
	return c
}

// Load loads the configuration from the specified file path
func Load(path string) (*Config, error) {
	config := Default()

	// Check if the file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	// Read the config file
	if _, err := toml.DecodeFile(path, config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	return config, nil
}

// LoadWithFallback loads the configuration by checking multiple locations in order of preference.
// When no file exists the defaults are used, so a deployment can be configured from the environment alone.
// A .env file in the working directory is loaded first and environment variables override file values.
func LoadWithFallback(preferredPath string) (*Config, string, error) {
	// Missing .env is fine; existing variables always win
	_ = godotenv.Load()

	if preferredPath != "" {
		if _, err := os.Stat(preferredPath); err != nil {
			return nil, "", fmt.Errorf("config file not found: %s", preferredPath)
		}
	}

	// List of paths to check in order of preference
	searchPaths := []string{
		preferredPath,         // User-specified path (if provided)
		"configs/config.toml", // configs/ folder
		"config.toml",         // Root directory
	}

	var (
		config *Config
		used   string
	)
	for _, path := range searchPaths {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			continue
		}
		loaded, err := Load(path)
		if err != nil {
			return nil, "", fmt.Errorf("failed to load config from %s: %w", path, err)
		}
		config, used = loaded, path
		break
	}
	if config == nil {
		config = Default()
	}

	if err := config.ApplyEnv(os.LookupEnv); err != nil {
		return nil, "", err
	}
	return config, used, nil
}

// LookupFunc resolves an environment variable
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides configuration values from environment variables
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s: %q is not an integer", key, v)
		}
		*dst = n
		return nil
	}

	str("CHANNEL_NAME", &c.Chat.Channel)
	str("CHAT_PLATFORM", &c.Chat.Platform)
	str("TWITCH_BOT_TOKEN", &c.Twitch.BotToken)
	str("TWITCH_NICK", &c.Twitch.Nick)
	str("TWITCH_CLIENT_ID", &c.Twitch.ClientID)
	str("DISCORD_BOT_TOKEN", &c.Discord.BotToken)
	str("DISCORD_CHANNEL_ID", &c.Discord.ChannelID)
	str("STREAM_URL", &c.Stream.URL)
	str("OPENAI_API_KEY", &c.Transcription.OpenAIAPIKey)
	str("OPENAI_API_BASE", &c.Transcription.OpenAIBaseURL)
	str("GEMINI_API_KEY", &c.Prompt.GeminiAPIKey)
	str("OLLAMA_URL", &c.Prompt.OllamaURL)
	str("LOG_LEVEL", &c.Logging.Level)

	for key, dst := range map[string]*int{
		"SILENCE_DURATION":     &c.Silence.DurationSecs,
		"MAX_MESSAGE_RATE":     &c.RateLimit.MaxMessages,
		"RATE_LIMIT_WINDOW":    &c.RateLimit.WindowSecs,
		"AUDIO_CHUNK_DURATION": &c.Stream.ChunkDurationSecs,
		"MAX_AUDIO_SIZE_MB":    &c.Stream.MaxAudioSizeMB,
		"HTTP_PORT":            &c.Server.Port,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}
	return nil
}

// applyDefaults fills every zero value with its default
func (c *Config) applyDefaults() {
	setStr := func(dst *string, v string) {
		if *dst == "" {
			*dst = v
		}
	}
	setInt := func(dst *int, v int) {
		if *dst == 0 {
			*dst = v
		}
	}
	setFloat := func(dst *float64, v float64) {
		if *dst == 0 {
			*dst = v
		}
	}

	setStr(&c.Server.Host, "0.0.0.0")
	setInt(&c.Server.Port, 8080)
	setInt(&c.Server.ReadTimeoutSecs, 15)
	setInt(&c.Server.IdleTimeoutSecs, 60)

	setStr(&c.Logging.Level, "info")
	setStr(&c.Logging.Format, "console")

	setStr(&c.Chat.Platform, "twitch")
	setStr(&c.Chat.CommandPrefix, "!gremlin")
	setStr(&c.Chat.PauseReply, "Gremlin muted 😶")
	setStr(&c.Chat.ResumeReply, "Gremlin unleashed 😈")

	setStr(&c.Twitch.IRCURL, "wss://irc-ws.chat.twitch.tv:443")
	setStr(&c.Twitch.Nick, "clipgremlin")

	setStr(&c.Stream.FFmpegPath, "ffmpeg")
	setInt(&c.Stream.SampleRate, 16000)
	setInt(&c.Stream.Channels, 1)
	setInt(&c.Stream.ChunkDurationSecs, 10)
	setInt(&c.Stream.MaxAudioSizeMB, 25)
	setInt(&c.Stream.PaceMs, 100)
	setInt(&c.Stream.BufferSegments, 3)
	setInt(&c.Stream.StopGraceSecs, 5)
	setInt(&c.Stream.RestartMaxAttempts, 5)
	setInt(&c.Stream.RestartBackoffSecs, 2)
	setInt(&c.Stream.FFmpegReconnectDelayS, 2)

	setStr(&c.Transcription.Model, "whisper-1")
	setInt(&c.Transcription.TimeoutSecs, 60)
	setInt(&c.Transcription.MaxRetries, 2)
	setInt(&c.Transcription.RetryBaseDelayMs, 1000)

	setStr(&c.Prompt.Provider, "openai")
	setInt(&c.Prompt.MaxTokens, 150)
	setFloat(&c.Prompt.Temperature, 0.8)
	setFloat(&c.Prompt.TopP, 0.9)
	setInt(&c.Prompt.MaxInputChars, 500)
	setInt(&c.Prompt.MaxOutputChars, 100)
	setStr(&c.Prompt.DefaultLanguage, "en")
	setInt(&c.Prompt.TimeoutSecs, 30)
	setInt(&c.Prompt.MaxRetries, 2)
	setInt(&c.Prompt.RetryBaseDelayMs, 1000)
	setStr(&c.Prompt.Placeholder, "Stream content")
	setStr(&c.Prompt.OllamaURL, "http://localhost:11434")

	setInt(&c.Silence.DurationSecs, 60)
	setInt(&c.Silence.CooldownSecs, 60)
	setInt(&c.Silence.PollSecs, 5)
	setInt(&c.Silence.MaxEvents, 1000)
	setInt(&c.Silence.RetentionSecs, 300)

	setInt(&c.RateLimit.MaxMessages, 20)
	setInt(&c.RateLimit.WindowSecs, 30)

	setStr(&c.Moderation.Model, "omni-moderation-latest")
	setInt(&c.Moderation.TimeoutSecs, 10)

	setStr(&c.Storage.SQLitePath, "data/clipgremlin.db")
	setStr(&c.Metrics.Namespace, "clipgremlin")
}

// Validate fills defaults and validates the configuration
func (c *Config) Validate() error {
	c.applyDefaults()

	c.Chat.Platform = strings.ToLower(strings.TrimSpace(c.Chat.Platform))
	c.Chat.Channel = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(c.Chat.Channel)), "#")
	c.Prompt.Provider = strings.ToLower(strings.TrimSpace(c.Prompt.Provider))

	// Prompt generation reuses the transcription credentials unless overridden
	if c.Prompt.OpenAIAPIKey == "" {
		c.Prompt.OpenAIAPIKey = c.Transcription.OpenAIAPIKey
	}
	if c.Prompt.OpenAIBaseURL == "" {
		c.Prompt.OpenAIBaseURL = c.Transcription.OpenAIBaseURL
	}
	if c.Prompt.Model == "" {
		switch c.Prompt.Provider {
		case "gemini":
			c.Prompt.Model = "gemini-2.0-flash"
		case "ollama":
			c.Prompt.Model = "llama3.2"
		default:
			c.Prompt.Model = "gpt-3.5-turbo"
		}
	}

	// Validate server config
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	// Validate chat config
	switch c.Chat.Platform {
	case "twitch":
		if c.Chat.Channel == "" {
			return fmt.Errorf("chat.channel (CHANNEL_NAME) is required for twitch")
		}
		if c.Twitch.BotToken == "" {
			return fmt.Errorf("twitch.bot_token (TWITCH_BOT_TOKEN) is required")
		}
	case "discord":
		if c.Discord.BotToken == "" || c.Discord.ChannelID == "" {
			return fmt.Errorf("discord.bot_token and discord.channel_id are required for discord")
		}
	default:
		return fmt.Errorf("unsupported chat platform: %q (must be twitch or discord)", c.Chat.Platform)
	}
	if strings.TrimSpace(c.Chat.CommandPrefix) == "" {
		return fmt.Errorf("chat.command_prefix must not be blank")
	}

	// Validate stream config
	if c.Stream.URL == "" {
		return fmt.Errorf("stream.url (STREAM_URL) is required")
	}
	if c.Stream.Channels <= 0 || c.Stream.SampleRate <= 0 || c.Stream.ChunkDurationSecs <= 0 {
		return fmt.Errorf("stream sample_rate, channels and chunk_duration_seconds must be positive")
	}
	if c.Stream.MaxAudioSizeMB <= 0 {
		return fmt.Errorf("stream.max_audio_size_mb must be positive: %d", c.Stream.MaxAudioSizeMB)
	}

	// Validate remote services
	if c.Transcription.OpenAIAPIKey == "" {
		return fmt.Errorf("transcription.openai_api_key (OPENAI_API_KEY) is required")
	}
	if c.Transcription.MaxRetries < 0 || c.Prompt.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0")
	}
	switch c.Prompt.Provider {
	case "openai":
		if c.Prompt.OpenAIAPIKey == "" {
			return fmt.Errorf("prompt.openai_api_key is required for the openai provider")
		}
	case "gemini":
		if c.Prompt.GeminiAPIKey == "" {
			return fmt.Errorf("prompt.gemini_api_key (GEMINI_API_KEY) is required for the gemini provider")
		}
	case "ollama":
		if c.Prompt.OllamaURL == "" {
			return fmt.Errorf("prompt.ollama_url is required for the ollama provider")
		}
	default:
		return fmt.Errorf("unsupported prompt provider: %q", c.Prompt.Provider)
	}
	if c.Prompt.MaxOutputChars < 4 {
		return fmt.Errorf("prompt.max_output_chars must be at least 4: %d", c.Prompt.MaxOutputChars)
	}
	if c.Prompt.Temperature < 0 || c.Prompt.Temperature > 2 {
		return fmt.Errorf("prompt.temperature out of range: %f", c.Prompt.Temperature)
	}
	if c.Prompt.TopP < 0 || c.Prompt.TopP > 1 {
		return fmt.Errorf("prompt.top_p out of range: %f", c.Prompt.TopP)
	}

	// Validate silence and rate settings
	if c.Silence.DurationSecs <= 0 || c.Silence.CooldownSecs < 0 || c.Silence.PollSecs <= 0 {
		return fmt.Errorf("silence duration and poll interval must be positive")
	}
	if c.Silence.RetentionSecs < c.Silence.DurationSecs {
		c.Silence.RetentionSecs = c.Silence.DurationSecs
	}
	if c.RateLimit.MaxMessages <= 0 || c.RateLimit.WindowSecs <= 0 {
		return fmt.Errorf("rate_limit max_messages and window_seconds must be positive")
	}

	if c.Storage.Enabled && c.Storage.SQLitePath == "" {
		return fmt.Errorf("storage.sqlite_path is required when storage is enabled")
	}

	return nil
}

// Denylist returns the effective content gate word list
func (c *Config) Denylist() []string {
	if c.Moderation.ReplaceDefault {
		return append([]string(nil), c.Moderation.Denylist...)
	}
	words := append([]string(nil), DefaultDenylist...)
	return append(words, c.Moderation.Denylist...)
}

// Masked returns a copy with secrets replaced, suitable for printing
func (c *Config) Masked() Config {
	m := *c
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		if len(s) <= 4 {
			return "****"
		}
		return s[:2] + strings.Repeat("*", 6) + s[len(s)-2:]
	}
	m.Twitch.BotToken = mask(m.Twitch.BotToken)
	m.Discord.BotToken = mask(m.Discord.BotToken)
	m.Transcription.OpenAIAPIKey = mask(m.Transcription.OpenAIAPIKey)
	m.Prompt.OpenAIAPIKey = mask(m.Prompt.OpenAIAPIKey)
	m.Prompt.GeminiAPIKey = mask(m.Prompt.GeminiAPIKey)
	return m
}
