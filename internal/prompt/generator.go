// Package prompt generates short chat prompts from recent stream transcript.
package prompt

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/yegors/clipgremlin/internal/ai"
	"github.com/yegors/clipgremlin/internal/retry"
	"github.com/yegors/clipgremlin/pkg/logger"
)

var (
	String = logger.String
	Int    = logger.Int
	Error  = logger.Error
)

// truncationMarker is appended when a prompt is cut to the display limit
const truncationMarker = "..."

// quoteChars are removed from a model reply
const quoteChars = "\"'“”‘’"

var systemTemplates = map[string]string{
	"en": "You are a mischievous but friendly bot that generates one-line, PG-13, ToS-safe 'troll' questions or comments. Keep it playful, not mean. Maximum 100 characters.",
	"es": "Eres un bot travieso pero amigable que genera preguntas o comentarios de una línea, PG-13, seguros para ToS. Manténlo juguetón, no malo. Máximo 100 caracteres.",
	"fr": "Tu es un bot espiègle mais amical qui génère des questions ou commentaires d'une ligne, PG-13, sûrs pour ToS. Garde ça ludique, pas méchant. Maximum 100 caractères.",
	"de": "Du bist ein schelmischer aber freundlicher Bot, der einzeilige, PG-13, ToS-sichere 'Troll'-Fragen oder Kommentare generiert. Halte es verspielt, nicht böse. Maximum 100 Zeichen.",
}

const userTemplate = "Based on this transcript snippet, generate a mischievous but friendly one-line question or comment (max %d chars):\n\n%s"

// Config holds generation settings
type Config struct {
	Model           string
	Temperature     float64
	TopP            float64
	MaxTokens       int
	MaxInputChars   int    // transcript prefix sent to the model
	MaxOutputChars  int    // display limit, including the truncation marker
	DefaultLanguage string // template used for unknown languages
	Retry           retry.Policy
}

// Result is the outcome of one generation
type Result struct {
	Text     string
	Language string // template language actually used
	Attempts int
	Elapsed  time.Duration
	Err      error
}

// OK reports whether a candidate prompt was produced
func (r Result) OK() bool { return r.Err == nil }

// Generator produces candidate prompts through a ChatProvider
type Generator struct {
	provider ai.ChatProvider
	config   Config
	logger   *logger.Logger
}

// NewGenerator creates a new prompt generator
func NewGenerator(provider ai.ChatProvider, config Config, log *logger.Logger) *Generator {
	if config.MaxInputChars <= 0 {
		config.MaxInputChars = 500
	}
	if config.MaxOutputChars <= 0 {
		config.MaxOutputChars = 100
	}
	if _, ok := systemTemplates[config.DefaultLanguage]; !ok {
		config.DefaultLanguage = "en"
	}
	return &Generator{
		provider: provider,
		config:   config,
		logger:   log.Named("prompt"),
	}
}

// Languages returns the languages with a dedicated template
func Languages() []string {
	return []string{"en", "es", "fr", "de"}
}

// TemplateLanguage resolves the template used for lang
func (g *Generator) TemplateLanguage(lang string) string {
	l := strings.ToLower(strings.TrimSpace(lang))
	if _, ok := systemTemplates[l]; ok {
		return l
	}
	return g.config.DefaultLanguage
}

// Messages builds the chat request for a transcript snippet
func (g *Generator) Messages(text, lang string) []ai.ChatMessage {
	return []ai.ChatMessage{
		{Role: ai.RoleSystem, Content: systemTemplates[g.TemplateLanguage(lang)]},
		{Role: ai.RoleUser, Content: fmt.Sprintf(userTemplate, g.config.MaxOutputChars, prefixRunes(text, g.config.MaxInputChars))},
	}
}

// Generate produces one candidate prompt. Failures are reported in the Result.
func (g *Generator) Generate(ctx context.Context, text, lang string) Result {
	res := Result{Language: g.TemplateLanguage(lang)}
	messages := g.Messages(text, lang)
	cfg := ai.ChatConfig{
		Model:       g.config.Model,
		Temperature: g.config.Temperature,
		TopP:        g.config.TopP,
		MaxTokens:   g.config.MaxTokens,
	}

	start := time.Now()
	out := retry.Do(ctx, g.config.Retry, func(ctx context.Context) (string, error) {
		raw, err := g.provider.ChatCompletion(ctx, messages, cfg)
		if err != nil {
			return "", err
		}
		cleaned := g.Clean(raw)
		if cleaned == "" {
			return "", ai.ErrEmptyResponse
		}
		return cleaned, nil
	}, func(attempt int, err error) {
		g.logger.Warn("Prompt generation attempt failed",
			Int("attempt", attempt),
			Int("max_attempts", g.config.Retry.MaxRetries+1),
			String("language", res.Language),
			Error(err))
	})

	res.Attempts = out.Attempts
	res.Elapsed = time.Since(start)
	if !out.OK() {
		res.Err = fmt.Errorf("prompt generation failed after %d attempts: %w", out.Attempts, out.Err)
		return res
	}
	res.Text = out.Value
	g.logger.Debug("Prompt generated", String("language", res.Language), Int("attempts", res.Attempts), String("prompt", res.Text))
	return res
}

// Clean strips quotes and whitespace and enforces the display limit
func (g *Generator) Clean(raw string) string {
	s := strings.Map(func(r rune) rune {
		if strings.ContainsRune(quoteChars, r) {
			return -1
		}
		return r
	}, raw)
	s = strings.Join(strings.Fields(s), " ")

	limit := g.config.MaxOutputChars
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	keep := limit - len(truncationMarker)
	if keep < 0 {
		keep = 0
	}
	return strings.TrimSpace(string(r[:keep])) + truncationMarker
}

func prefixRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
