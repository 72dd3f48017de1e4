package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type LLMConfig struct {
	Provider           string  `yaml:"provider"`
	BaseURL            string  `yaml:"base_url"`
	APIKey             string  `yaml:"api_key"`
	Model              string  `yaml:"model"`
	MaxTokens          int     `yaml:"max_tokens"`
	Temperature        float64 `yaml:"temperature"`
	AnswerSystemPrompt string  `yaml:"answer_system_prompt"`
	EmailSystemPrompt  string  `yaml:"email_system_prompt"`
	ExpandQueries      bool    `yaml:"expand_queries"`
	ExpandAlternatives int     `yaml:"expand_alternatives"`
	ExpandTemperature  float64 `yaml:"expand_temperature"`
}

type EmbeddingConfig struct {
	Provider  string  `yaml:"provider"`
	BaseURL   string  `yaml:"base_url"`
	APIKey    string  `yaml:"api_key"`
	Model     string  `yaml:"model"`
	BatchSize int     `yaml:"batch_size"`
	RateLimit float64 `yaml:"rate_limit"`
}

type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
}

// DatabaseConfig is the Postgres connection shared by the pgvector index and
// the postgres metadata backend.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type VectorStoreConfig struct {
	Backend     string        `yaml:"backend"`
	URL         string        `yaml:"url"`
	APIKey      string        `yaml:"api_key"`
	Timeout     time.Duration `yaml:"timeout"`
	TablePrefix string        `yaml:"table_prefix"`
	BatchSize   int           `yaml:"batch_size"`
	EfSearch    int           `yaml:"ef_search"`
}

type MetadataConfig struct {
	Backend  string `yaml:"backend"`
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
	DataDir  string `yaml:"data_dir"`
}

type LoaderConfig struct {
	MaxFileSize int64  `yaml:"max_file_size"`
	PDFPassword string `yaml:"pdf_password"`
}

type ProcessorConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

type RetrievalConfig struct {
	Collection string `yaml:"collection"`
	K          int    `yaml:"k"`
	TopN       int    `yaml:"top_n"`
}

type ServerConfig struct {
	Addr           string `yaml:"addr"`
	UploadDir      string `yaml:"upload_dir"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
}

type LogConfig struct {
	Mode string `yaml:"mode"`
}

type Config struct {
	LLM         LLMConfig         `yaml:"llm"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Retry       RetryConfig       `yaml:"retry"`
	Database    DatabaseConfig    `yaml:"database"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Metadata    MetadataConfig    `yaml:"metadata"`
	Loader      LoaderConfig      `yaml:"loader"`
	Processor   ProcessorConfig   `yaml:"processor"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
}

// LoadConfig reads path, or the first config file found in the default
// locations, then applies environment overrides and defaults. A .env file in
// the working directory is loaded first and never overrides variables that
// are already set.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env: %w", err)
	}

	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/hrrag/config.yaml"),
			"/etc/hrrag/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	mergeWithEnv(&config)
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() *Config {
	config := &Config{}
	mergeWithEnv(config)
	applyDefaults(config)
	return config
}

func applyDefaults(config *Config) {
	if config.LLM.Provider == "" {
		config.LLM.Provider = "ollama"
	}
	if config.LLM.Model == "" {
		if config.LLM.Provider == "openai" {
			config.LLM.Model = "gpt-4o-mini"
		} else {
			config.LLM.Model = "mistral"
		}
	}
	if config.LLM.BaseURL == "" && config.LLM.Provider == "ollama" {
		config.LLM.BaseURL = "http://localhost:11434"
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 1024
	}
	if config.LLM.ExpandAlternatives == 0 {
		config.LLM.ExpandAlternatives = 3
	}
	if config.LLM.ExpandTemperature == 0 {
		config.LLM.ExpandTemperature = 0.3
	}

	if config.Embedding.Provider == "" {
		config.Embedding.Provider = config.LLM.Provider
	}
	if config.Embedding.Model == "" {
		if config.Embedding.Provider == "openai" {
			config.Embedding.Model = "text-embedding-3-small"
		} else {
			config.Embedding.Model = "nomic-embed-text:latest"
		}
	}
	if config.Embedding.BaseURL == "" && config.Embedding.Provider == config.LLM.Provider {
		config.Embedding.BaseURL = config.LLM.BaseURL
	}
	if config.Embedding.APIKey == "" && config.Embedding.Provider == config.LLM.Provider {
		config.Embedding.APIKey = config.LLM.APIKey
	}
	if config.Embedding.BatchSize == 0 {
		config.Embedding.BatchSize = 64
	}

	if config.Retry.MaxAttempts == 0 {
		config.Retry.MaxAttempts = 1
	}
	if config.Retry.InitialInterval == 0 {
		config.Retry.InitialInterval = 500 * time.Millisecond
	}

	if config.VectorStore.Backend == "" {
		if config.Database.URL != "" {
			config.VectorStore.Backend = "pgvector"
		} else {
			config.VectorStore.Backend = "memory"
		}
	}
	if config.VectorStore.TablePrefix == "" {
		config.VectorStore.TablePrefix = "kb_"
	}
	if config.VectorStore.BatchSize == 0 {
		config.VectorStore.BatchSize = 100
	}
	if config.VectorStore.Timeout == 0 {
		config.VectorStore.Timeout = 30 * time.Second
	}

	if config.Metadata.Backend == "" {
		if config.Database.URL != "" {
			config.Metadata.Backend = "postgres"
		} else {
			config.Metadata.Backend = "sqlite"
		}
	}
	if config.Metadata.Database == "" {
		config.Metadata.Database = "hr_rag"
	}

	if config.Loader.MaxFileSize == 0 {
		config.Loader.MaxFileSize = 50 << 20
	}

	if config.Processor.ChunkSize == 0 {
		config.Processor.ChunkSize = 700
	}
	if config.Processor.ChunkOverlap == 0 {
		config.Processor.ChunkOverlap = 100
	}

	if config.Retrieval.Collection == "" {
		config.Retrieval.Collection = "hr_policies"
	}
	if config.Retrieval.K == 0 {
		config.Retrieval.K = 6
	}
	if config.Retrieval.TopN == 0 {
		config.Retrieval.TopN = 5
	}

	if config.Server.Addr == "" {
		config.Server.Addr = ":8000"
	}
	if config.Server.UploadDir == "" {
		config.Server.UploadDir = "data/uploads"
	}
	if config.Server.MaxUploadBytes == 0 {
		config.Server.MaxUploadBytes = 50 << 20
	}

	if config.Log.Mode == "" {
		config.Log.Mode = "development"
	}
}

func mergeWithEnv(config *Config) {
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		if config.LLM.Provider == "" || config.LLM.Provider == "ollama" {
			config.LLM.BaseURL = baseURL
		}
		if config.Embedding.Provider == "ollama" {
			config.Embedding.BaseURL = baseURL
		}
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		if config.LLM.APIKey == "" {
			config.LLM.APIKey = apiKey
		}
		if config.Embedding.APIKey == "" {
			config.Embedding.APIKey = apiKey
		}
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
	if qdrantURL := os.Getenv("QDRANT_URL"); qdrantURL != "" {
		config.VectorStore.URL = qdrantURL
	}
	if collection := os.Getenv("HRRAG_COLLECTION"); collection != "" {
		config.Retrieval.Collection = collection
	}
}
