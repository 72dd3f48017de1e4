package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"

	"github.com/xhad/hrrag/internal/types"
)

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"

	DefaultOllamaURL = "http://localhost:11434"
)

// EmbedderConfig represents the configuration for an embedding provider.
type EmbedderConfig struct {
	Provider  string
	Model     string
	BaseURL   string
	APIKey    string
	BatchSize int
	// RateLimit caps provider requests per second; 0 disables the limit.
	RateLimit float64
	Retry     RetryConfig
}

// Embedder turns chunk texts and questions into vectors. Batching is handled
// by langchaingo, each batch request goes through the rate limiter and retry.
type Embedder struct {
	config EmbedderConfig
	inner  embeddings.Embedder
}

var _ types.Embedder = (*Embedder)(nil)

func NewEmbedderWithConfig(config EmbedderConfig) (*Embedder, error) {
	config = embedderDefaults(config)

	var client embeddings.EmbedderClient
	switch config.Provider {
	case ProviderOllama:
		c, err := ollama.New(ollama.WithModel(config.Model), ollama.WithServerURL(config.BaseURL))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize ollama embedder: %w", err)
		}
		client = c
	case ProviderOpenAI:
		opts := []openai.Option{openai.WithEmbeddingModel(config.Model), openai.WithToken(config.APIKey)}
		if config.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(config.BaseURL))
		}
		c, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize openai embedder: %w", err)
		}
		client = c
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", config.Provider)
	}

	return NewEmbedder(client, config)
}

// NewEmbedder wraps an existing embedding client.
func NewEmbedder(client embeddings.EmbedderClient, config EmbedderConfig) (*Embedder, error) {
	config = embedderDefaults(config)

	limited := &limitedClient{
		client:  client,
		limiter: newLimiter(config.RateLimit),
		retry:   config.Retry,
	}

	inner, err := embeddings.NewEmbedder(limited, embeddings.WithBatchSize(config.BatchSize))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	return &Embedder{config: config, inner: inner}, nil
}

func embedderDefaults(config EmbedderConfig) EmbedderConfig {
	if config.Provider == "" {
		config.Provider = ProviderOllama
	}
	if config.Model == "" {
		if config.Provider == ProviderOpenAI {
			config.Model = "text-embedding-3-small"
		} else {
			config.Model = "nomic-embed-text:latest"
		}
	}
	if config.BaseURL == "" && config.Provider == ProviderOllama {
		config.BaseURL = DefaultOllamaURL
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 64
	}
	return config
}

func (e *Embedder) Config() EmbedderConfig {
	return e.config
}

func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vectors, err := e.inner.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding documents: %w", types.ErrProviderUnavailable, err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", types.ErrProviderUnavailable, len(vectors), len(texts))
	}
	return vectors, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vector, err := e.inner.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding query: %w", types.ErrProviderUnavailable, err)
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", types.ErrProviderUnavailable)
	}
	return vector, nil
}

type limitedClient struct {
	client  embeddings.EmbedderClient
	limiter *rate.Limiter
	retry   RetryConfig
}

func (c *limitedClient) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	return withRetry(ctx, c.retry, func() ([][]float32, error) {
		if err := wait(ctx, c.limiter); err != nil {
			return nil, err
		}
		vectors, err := c.client.CreateEmbedding(ctx, texts)
		if err != nil {
			return nil, err
		}
		if len(vectors) != len(texts) {
			return nil, fmt.Errorf("provider returned %d vectors for %d texts", len(vectors), len(texts))
		}
		return vectors, nil
	})
}
