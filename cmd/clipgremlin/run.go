package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/yegors/clipgremlin/internal/activity"
	"github.com/yegors/clipgremlin/internal/ai"
	"github.com/yegors/clipgremlin/internal/ai/gemini"
	"github.com/yegors/clipgremlin/internal/ai/ollama"
	"github.com/yegors/clipgremlin/internal/ai/openai"
	"github.com/yegors/clipgremlin/internal/api"
	"github.com/yegors/clipgremlin/internal/audio"
	"github.com/yegors/clipgremlin/internal/chat"
	"github.com/yegors/clipgremlin/internal/chat/discord"
	"github.com/yegors/clipgremlin/internal/chat/twitch"
	"github.com/yegors/clipgremlin/internal/clock"
	"github.com/yegors/clipgremlin/internal/config"
	"github.com/yegors/clipgremlin/internal/metrics"
	"github.com/yegors/clipgremlin/internal/moderation"
	"github.com/yegors/clipgremlin/internal/pipeline"
	"github.com/yegors/clipgremlin/internal/prompt"
	"github.com/yegors/clipgremlin/internal/retry"
	"github.com/yegors/clipgremlin/internal/storage/sqlite"
	"github.com/yegors/clipgremlin/internal/transcription"
	"github.com/yegors/clipgremlin/internal/websocket"
	"github.com/yegors/clipgremlin/pkg/logger"
)

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Watch the stream and chat until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, used, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			return run(cfg, used)
		},
	}
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func run(cfg *config.Config, configPath string) error {
	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer log.Sync()

	log.Info("Starting clipgremlin",
		logger.String("version", Version),
		logger.String("config_path", configPath),
		logger.String("platform", cfg.Chat.Platform),
		logger.String("prompt_provider", cfg.Prompt.Provider),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(cfg.Metrics.Namespace)
	}

	// Audio capture
	captureOpts := []audio.Option{}
	if m != nil {
		captureOpts = append(captureOpts, audio.WithDropHook(m.SegmentDropped))
	}
	capture := audio.NewCapture(captureConfig(cfg), log, captureOpts...)
	source := func(ctx context.Context, locator string) (pipeline.SegmentStream, error) {
		s, err := capture.Open(ctx, locator)
		if err != nil {
			return nil, err
		}
		return s, nil
	}

	// Remote services
	whisper := openai.NewClient(cfg.Transcription.OpenAIAPIKey, cfg.Transcription.OpenAIBaseURL,
		seconds(cfg.Transcription.TimeoutSecs), log)
	transcriber := transcription.New(whisper, transcription.Config{
		Model:    cfg.Transcription.Model,
		Language: cfg.Transcription.Language,
		Prompt:   cfg.Transcription.Prompt,
		Retry: retry.Policy{
			MaxRetries: cfg.Transcription.MaxRetries,
			BaseDelay:  time.Duration(cfg.Transcription.RetryBaseDelayMs) * time.Millisecond,
		},
	}, log)

	chatProvider, err := newChatProvider(ctx, cfg, log)
	if err != nil {
		return err
	}
	generator := prompt.NewGenerator(chatProvider, prompt.Config{
		Model:           cfg.Prompt.Model,
		Temperature:     cfg.Prompt.Temperature,
		TopP:            cfg.Prompt.TopP,
		MaxTokens:       cfg.Prompt.MaxTokens,
		MaxInputChars:   cfg.Prompt.MaxInputChars,
		MaxOutputChars:  cfg.Prompt.MaxOutputChars,
		DefaultLanguage: cfg.Prompt.DefaultLanguage,
		Retry: retry.Policy{
			MaxRetries: cfg.Prompt.MaxRetries,
			BaseDelay:  time.Duration(cfg.Prompt.RetryBaseDelayMs) * time.Millisecond,
		},
	}, log)

	gate := moderation.Chain{moderation.NewDenylist(cfg.Denylist(), log)}
	if cfg.Moderation.External {
		moderator := openai.NewClient(cfg.Transcription.OpenAIAPIKey, cfg.Transcription.OpenAIBaseURL,
			seconds(cfg.Moderation.TimeoutSecs), log)
		moderator.SetModerationModel(cfg.Moderation.Model)
		gate = append(gate, moderation.NewExternal(moderator, log))
	}

	// Chat
	transport, err := newTransport(cfg, log)
	if err != nil {
		return err
	}
	clk := clock.Real()
	sink := chat.NewSink(chat.SinkConfig{
		MaxMessages: cfg.RateLimit.MaxMessages,
		Window:      seconds(cfg.RateLimit.WindowSecs),
	}, transport, clk, log)

	// Optional surfaces
	hub := websocket.NewServer(log)
	go hub.Run(ctx)

	var store *sqlite.PromptLog
	if cfg.Storage.Enabled {
		if dir := filepath.Dir(cfg.Storage.SQLitePath); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("creating database directory: %w", err)
			}
		}
		store, err = sqlite.Open(cfg.Storage.SQLitePath, log)
		if err != nil {
			return fmt.Errorf("opening prompt log: %w", err)
		}
		defer store.Close()
	}

	deps := pipeline.Deps{
		Source:      source,
		Transcriber: transcriber,
		Generator:   generator,
		Gate:        gate,
		Transport:   transport,
		Sink:        sink,
		Clock:       clk,
		Publisher:   hub,
	}
	if store != nil {
		deps.Recorder = store
	}
	if m != nil {
		deps.Observer = m
	}

	orch := pipeline.New(pipeline.Config{
		StreamURL:          cfg.Stream.URL,
		CommandPrefix:      cfg.Chat.CommandPrefix,
		PauseReply:         cfg.Chat.PauseReply,
		ResumeReply:        cfg.Chat.ResumeReply,
		Placeholder:        cfg.Prompt.Placeholder,
		PollInterval:       seconds(cfg.Silence.PollSecs),
		IngestPace:         time.Duration(cfg.Stream.PaceMs) * time.Millisecond,
		RestartMaxAttempts: cfg.Stream.RestartMaxAttempts,
		RestartBackoff:     seconds(cfg.Stream.RestartBackoffSecs),
		Activity: activity.Config{
			SilenceHorizon: seconds(cfg.Silence.DurationSecs),
			Cooldown:       seconds(cfg.Silence.CooldownSecs),
			Retention:      seconds(cfg.Silence.RetentionSecs),
			MaxEvents:      cfg.Silence.MaxEvents,
		},
	}, deps, log)
	hub.SetSnapshot(func() map[string]any {
		return map[string]any{
			"status": orch.Status(),
			"stats":  orch.Stats(),
		}
	})

	// Monitoring API
	var server *http.Server
	if cfg.Server.Enabled {
		var prompts api.PromptStore
		if store != nil {
			prompts = store
		}
		opts := []api.RouterOption{api.WithWebSocket(hub.HandleConnection)}
		if m != nil {
			opts = append(opts, api.WithMetrics(m.Handler(), m.Middleware))
		}
		router := api.NewRouter(api.NewHandler(orch, prompts, Version, log), opts...)

		server = &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:      router.Routes(),
			ReadTimeout:  seconds(cfg.Server.ReadTimeoutSecs),
			WriteTimeout: seconds(cfg.Server.WriteTimeoutSecs),
			IdleTimeout:  seconds(cfg.Server.IdleTimeoutSecs),
		}
		go func() {
			log.Info("Starting HTTP server", logger.String("addr", server.Addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("HTTP server error", logger.Error(err))
			}
		}()
	}

	runErr := orch.Run(ctx)
	if runErr != nil {
		log.Error("Pipeline stopped with error", logger.Error(runErr))
	} else {
		log.Info("Pipeline stopped")
	}

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", logger.Error(err))
		}
	}
	stop()

	return runErr
}

func captureConfig(cfg *config.Config) audio.Config {
	return audio.Config{
		FFmpegPath: cfg.Stream.FFmpegPath,
		Format: audio.Format{
			SampleRate: cfg.Stream.SampleRate,
			Channels:   cfg.Stream.Channels,
		},
		SegmentDuration:          seconds(cfg.Stream.ChunkDurationSecs),
		MaxSegmentBytes:          cfg.Stream.MaxAudioSizeMB << 20,
		BufferSegments:           cfg.Stream.BufferSegments,
		Pace:                     time.Duration(cfg.Stream.PaceMs) * time.Millisecond,
		StopGrace:                seconds(cfg.Stream.StopGraceSecs),
		FFmpegTimeoutSecs:        cfg.Stream.FFmpegTimeoutSecs,
		FFmpegReconnectDelaySecs: cfg.Stream.FFmpegReconnectDelayS,
	}
}

func newChatProvider(ctx context.Context, cfg *config.Config, log *logger.Logger) (ai.ChatProvider, error) {
	timeout := seconds(cfg.Prompt.TimeoutSecs)
	switch cfg.Prompt.Provider {
	case "gemini":
		client, err := gemini.NewClient(ctx, cfg.Prompt.GeminiAPIKey, "", timeout, log)
		if err != nil {
			return nil, fmt.Errorf("creating gemini client: %w", err)
		}
		return client, nil
	case "ollama":
		client, err := ollama.NewClient(cfg.Prompt.OllamaURL, timeout, log)
		if err != nil {
			return nil, fmt.Errorf("creating ollama client: %w", err)
		}
		return client, nil
	default:
		return openai.NewClient(cfg.Prompt.OpenAIAPIKey, cfg.Prompt.OpenAIBaseURL, timeout, log), nil
	}
}

func newTransport(cfg *config.Config, log *logger.Logger) (chat.Transport, error) {
	switch cfg.Chat.Platform {
	case "discord":
		client, err := discord.New(discord.Config{
			Token:     cfg.Discord.BotToken,
			ChannelID: cfg.Discord.ChannelID,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("creating discord client: %w", err)
		}
		return client, nil
	default:
		return twitch.New(twitch.Config{
			URL:     cfg.Twitch.IRCURL,
			Nick:    cfg.Twitch.Nick,
			Token:   cfg.Twitch.BotToken,
			Channel: cfg.Chat.Channel,
		}, log), nil
	}
}
