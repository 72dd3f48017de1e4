package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/xhad/hrrag/internal/types"
)

const (
	DefaultAnswerSystemTemplate = "You are an HR policy assistant. Answer only from the provided context. " +
		"Do not use outside knowledge and do not guess. " +
		"If the context does not state the answer, reply exactly: Not specified in policy. " +
		"Keep answers short and factual and do not mention the context or sources."
	DefaultAnswerContextTemplate = "Context:\n%s\n\nQuestion: %s"

	DefaultEmailSystemTemplate = "You are an HR assistant writing a professional email. " +
		"Use only facts from the provided context. Do not invent attachments, forms, approvals or actions. " +
		"If the context lacks policy details, write a generic email without policy claims. " +
		"Do not mention the context."
	DefaultEmailContextTemplate = "Context:\n%s\n\nUser Request:\n%s"
)

// ChatConfig represents the configuration for a chat engine.
type ChatConfig struct {
	Provider    string
	Model       string
	BaseURL     string
	APIKey      string
	Temperature float64
	MaxTokens   int
	// SystemTemplate is sent as the system message.
	SystemTemplate string
	// ContextTemplate takes the context block and the question, in that order.
	ContextTemplate string
	Retry           RetryConfig
}

// ChatEngine is an engine that uses an LLM to generate grounded answers.
type ChatEngine struct {
	config ChatConfig
	llm    llms.Model
}

var _ types.Generator = (*ChatEngine)(nil)

// NewWithConfig creates a new ChatEngine backed by the configured provider.
func NewWithConfig(config ChatConfig) (*ChatEngine, error) {
	config = chatDefaults(config)

	model, err := NewModel(config.Provider, config.Model, config.BaseURL, config.APIKey)
	if err != nil {
		return nil, err
	}
	return New(model, config)
}

// New creates a ChatEngine around an existing model.
func New(model llms.Model, config ChatConfig) (*ChatEngine, error) {
	config = chatDefaults(config)

	if config.Temperature < 0 || config.Temperature > 2 {
		return nil, fmt.Errorf("temperature must be between 0 and 2")
	}
	if config.MaxTokens < 0 {
		return nil, fmt.Errorf("max tokens cannot be negative")
	}
	if strings.Count(config.ContextTemplate, "%s") != 2 {
		return nil, fmt.Errorf("context template must contain two %%s placeholders")
	}

	return &ChatEngine{config: config, llm: model}, nil
}

// NewModel builds a langchaingo chat model for provider.
func NewModel(provider, model, baseURL, apiKey string) (llms.Model, error) {
	switch provider {
	case "", ProviderOllama:
		if baseURL == "" {
			baseURL = DefaultOllamaURL
		}
		m, err := ollama.New(ollama.WithModel(model), ollama.WithServerURL(baseURL))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize LLM: %w", err)
		}
		return m, nil
	case ProviderOpenAI:
		opts := []openai.Option{openai.WithModel(model), openai.WithToken(apiKey)}
		if baseURL != "" {
			opts = append(opts, openai.WithBaseURL(baseURL))
		}
		m, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize LLM: %w", err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", provider)
	}
}

func chatDefaults(config ChatConfig) ChatConfig {
	if config.Provider == "" {
		config.Provider = ProviderOllama
	}
	if config.Model == "" {
		if config.Provider == ProviderOpenAI {
			config.Model = "gpt-4o-mini"
		} else {
			config.Model = "mistral"
		}
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 1024
	}
	if config.SystemTemplate == "" {
		config.SystemTemplate = DefaultAnswerSystemTemplate
	}
	if config.ContextTemplate == "" {
		config.ContextTemplate = DefaultAnswerContextTemplate
	}
	return config
}

func (ce *ChatEngine) Config() ChatConfig {
	return ce.config
}

// Generate answers question from contextText and returns the trimmed reply.
func (ce *ChatEngine) Generate(ctx context.Context, contextText, question string) (string, error) {
	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, ce.config.SystemTemplate),
		llms.TextParts(llms.ChatMessageTypeHuman, fmt.Sprintf(ce.config.ContextTemplate, contextText, question)),
	}

	response, err := withRetry(ctx, ce.config.Retry, func() (*llms.ContentResponse, error) {
		return ce.llm.GenerateContent(ctx, content,
			llms.WithTemperature(ce.config.Temperature),
			llms.WithMaxTokens(ce.config.MaxTokens),
		)
	})
	if err != nil {
		return "", fmt.Errorf("%w: chat error: %w", types.ErrProviderUnavailable, err)
	}

	if response == nil || len(response.Choices) == 0 || response.Choices[0] == nil {
		return "", fmt.Errorf("%w: no response from LLM", types.ErrProviderUnavailable)
	}

	return strings.TrimSpace(response.Choices[0].Content), nil
}
