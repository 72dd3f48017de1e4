package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/xhad/hrrag/internal/models"
	"github.com/xhad/hrrag/internal/types"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError
	add := func(field, message string) {
		errors = append(errors, ValidationError{Field: field, Message: message})
	}

	// Providers
	errors = append(errors, validateProvider("llm", c.LLM.Provider, c.LLM.BaseURL, c.LLM.APIKey)...)
	errors = append(errors, validateProvider("embedding", c.Embedding.Provider, c.Embedding.BaseURL, c.Embedding.APIKey)...)

	if c.LLM.MaxTokens < 1 || c.LLM.MaxTokens > 8192 {
		add("llm.max_tokens", "max_tokens must be between 1 and 8192")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		add("llm.temperature", "temperature must be between 0 and 2")
	}
	if c.LLM.ExpandAlternatives < 1 {
		add("llm.expand_alternatives", "expand_alternatives must be positive")
	}
	if c.LLM.ExpandTemperature < 0 || c.LLM.ExpandTemperature > 2 {
		add("llm.expand_temperature", "expand_temperature must be between 0 and 2")
	}

	if c.Embedding.BatchSize < 1 {
		add("embedding.batch_size", "batch_size must be positive")
	}
	if c.Embedding.RateLimit < 0 {
		add("embedding.rate_limit", "rate_limit must not be negative")
	}

	if c.Retry.MaxAttempts < 1 {
		add("retry.max_attempts", "max_attempts must be at least 1")
	}
	if c.Retry.InitialInterval < 0 {
		add("retry.initial_interval", "initial_interval must not be negative")
	}

	// Storage
	if c.Database.URL != "" {
		if _, err := url.Parse(c.Database.URL); err != nil {
			add("database.url", "invalid database URL")
		}
	}

	switch c.VectorStore.Backend {
	case "memory":
	case "pgvector":
		if c.Database.URL == "" {
			add("database.url", "database URL is required for the pgvector backend")
		}
	case "qdrant":
		if c.VectorStore.URL == "" {
			add("vector_store.url", "Qdrant URL is required for the qdrant backend")
		} else if _, err := url.ParseRequestURI(c.VectorStore.URL); err != nil {
			add("vector_store.url", "invalid Qdrant URL")
		}
	default:
		add("vector_store.backend", fmt.Sprintf("unknown backend %q (memory, pgvector, qdrant)", c.VectorStore.Backend))
	}
	if c.VectorStore.BatchSize < 1 {
		add("vector_store.batch_size", "batch_size must be positive")
	}
	if c.VectorStore.EfSearch < 0 {
		add("vector_store.ef_search", "ef_search must not be negative")
	}

	switch c.Metadata.Backend {
	case "memory", "sqlite":
	case "postgres":
		if c.Database.URL == "" {
			add("database.url", "database URL is required for the postgres metadata backend")
		}
	case "mongo":
		if c.Metadata.URI == "" {
			add("metadata.uri", "MongoDB URI is required for the mongo backend")
		}
	default:
		add("metadata.backend", fmt.Sprintf("unknown backend %q (memory, sqlite, postgres, mongo)", c.Metadata.Backend))
	}

	if c.Loader.MaxFileSize < 1 {
		add("loader.max_file_size", "max_file_size must be positive")
	}

	// Chunking and retrieval
	if c.Processor.ChunkSize < 1 {
		add("processor.chunk_size", "chunk_size must be positive")
	}
	if c.Processor.ChunkOverlap < 0 || c.Processor.ChunkOverlap >= c.Processor.ChunkSize {
		add("processor.chunk_overlap", "chunk_overlap must be non-negative and less than chunk_size")
	}

	if err := types.ValidateCollection(c.Retrieval.Collection, models.DistanceCosine); err != nil {
		add("retrieval.collection", err.Error())
	}
	if c.Retrieval.K < 1 {
		add("retrieval.k", "k must be positive")
	}
	if c.Retrieval.TopN < 1 {
		add("retrieval.top_n", "top_n must be positive")
	}

	// Surfaces
	if c.Server.Addr == "" {
		add("server.addr", "addr is required")
	}
	if c.Server.UploadDir == "" {
		add("server.upload_dir", "upload_dir is required")
	}
	if c.Server.MaxUploadBytes < 1 {
		add("server.max_upload_bytes", "max_upload_bytes must be positive")
	}

	switch strings.ToLower(c.Log.Mode) {
	case "development", "dev", "production", "prod":
	default:
		add("log.mode", "mode must be development or production")
	}

	return errors
}

func validateProvider(section, provider, baseURL, apiKey string) []ValidationError {
	var errors []ValidationError
	switch provider {
	case "ollama":
		if baseURL == "" {
			errors = append(errors, ValidationError{
				Field:   section + ".base_url",
				Message: "Ollama base URL is required",
			})
		}
	case "openai":
		if apiKey == "" {
			errors = append(errors, ValidationError{
				Field:   section + ".api_key",
				Message: "API key is required for the openai provider",
			})
		}
	default:
		errors = append(errors, ValidationError{
			Field:   section + ".provider",
			Message: fmt.Sprintf("unknown provider %q (ollama, openai)", provider),
		})
		return errors
	}

	if baseURL != "" {
		if _, err := url.ParseRequestURI(baseURL); err != nil {
			errors = append(errors, ValidationError{
				Field:   section + ".base_url",
				Message: "invalid base URL",
			})
		}
	}
	return errors
}
