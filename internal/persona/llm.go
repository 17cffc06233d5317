package persona

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/whoishuman/whoishuman-server-go/internal/config"
	"go.uber.org/zap"
)

const (
	defaultSystemPrompt = `You are playing a social deduction game where one participant is a hidden human among AI players. Stay in character, keep replies short and casual, and never reveal that you are an AI.`
	defaultTimeout      = 15 * time.Second
	groqBaseURL         = "https://api.groq.com/openai/v1"
)

var errEmptyReply = errors.New("empty reply")

// LLMGenerator generates persona replies through a langchaingo model.
type LLMGenerator struct {
	model        llms.Model
	systemPrompt string
	callOpts     []llms.CallOption
	timeout      time.Duration
	logger       *zap.Logger
}

// NewLLMGenerator wraps model. A zero timeout uses the 15s default.
func NewLLMGenerator(model llms.Model, systemPrompt string, timeout time.Duration, logger *zap.Logger, opts ...llms.CallOption) *LLMGenerator {
	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = defaultSystemPrompt
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMGenerator{
		model:        model,
		systemPrompt: systemPrompt,
		callOpts:     opts,
		timeout:      timeout,
		logger:       logger,
	}
}

// Generate runs a structured chat call and, if that fails, a simplified
// single-prompt call, all within the generator's timeout.
func (g *LLMGenerator) Generate(ctx context.Context, prompt string) string {
	if g.model == nil {
		return FallbackMissingKey
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	reply, err := g.complete(ctx, prompt)
	if err != nil {
		if errors.Is(err, errEmptyReply) {
			return FallbackEmpty
		}
		g.logger.Warn("persona generation failed", zap.Error(err))
		return FallbackError
	}
	return reply
}

func (g *LLMGenerator) complete(ctx context.Context, prompt string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, g.systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}

	resp, err := g.model.GenerateContent(ctx, messages, g.callOpts...)
	if err == nil {
		if text := firstChoice(resp); text != "" {
			return text, nil
		}
		err = errEmptyReply
	}

	if ctx.Err() != nil {
		return "", &GenerationError{Attempt: "structured", Err: ctx.Err()}
	}
	g.logger.Debug("structured generation failed, retrying with single prompt", zap.Error(err))

	text, err := llms.GenerateFromSinglePrompt(ctx, g.model, prompt, g.callOpts...)
	if err != nil {
		return "", &GenerationError{Attempt: "simple", Err: err}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", &GenerationError{Attempt: "simple", Err: errEmptyReply}
	}
	return text, nil
}

func firstChoice(resp *llms.ContentResponse) string {
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return ""
	}
	return strings.TrimSpace(resp.Choices[0].Content)
}

// NewFromConfig builds the generator for the configured provider. An empty
// provider, or a hosted provider without an API key, yields Unavailable.
func NewFromConfig(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (Generator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		logger.Info("persona generation disabled (llm.provider not set)")
		return Unavailable{}, nil
	}

	var (
		model llms.Model
		err   error
	)
	switch provider {
	case "ollama":
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		model, err = ollama.New(opts...)
	case "openai", "groq":
		if cfg.APIKey == "" {
			logger.Warn("persona generation unavailable: missing API key", zap.String("provider", provider))
			return Unavailable{}, nil
		}
		opts := []openai.Option{openai.WithModel(cfg.Model), openai.WithToken(cfg.APIKey)}
		baseURL := cfg.BaseURL
		if baseURL == "" && provider == "groq" {
			baseURL = groqBaseURL
		}
		if baseURL != "" {
			opts = append(opts, openai.WithBaseURL(baseURL))
		}
		model, err = openai.New(opts...)
	case "anthropic":
		if cfg.APIKey == "" {
			logger.Warn("persona generation unavailable: missing API key", zap.String("provider", provider))
			return Unavailable{}, nil
		}
		model, err = anthropic.New(anthropic.WithModel(cfg.Model), anthropic.WithToken(cfg.APIKey))
	case "googleai":
		if cfg.APIKey == "" {
			logger.Warn("persona generation unavailable: missing API key", zap.String("provider", provider))
			return Unavailable{}, nil
		}
		model, err = googleai.New(ctx, googleai.WithDefaultModel(cfg.Model), googleai.WithAPIKey(cfg.APIKey))
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s model: %w", provider, err)
	}

	logger.Info("persona generation enabled",
		zap.String("provider", provider),
		zap.String("model", cfg.Model),
		zap.Duration("timeout", cfg.Timeout),
	)

	var callOpts []llms.CallOption
	if cfg.Temperature > 0 {
		callOpts = append(callOpts, llms.WithTemperature(cfg.Temperature))
	}
	return NewLLMGenerator(model, cfg.SystemPrompt, cfg.Timeout, logger, callOpts...), nil
}
