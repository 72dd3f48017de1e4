package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/xhad/hrrag/internal/types"
	cfgPkg "github.com/xhad/hrrag/pkg/config"
	"github.com/xhad/hrrag/pkg/llm"
	"github.com/xhad/hrrag/pkg/loader"
	"github.com/xhad/hrrag/pkg/logger"
	"github.com/xhad/hrrag/pkg/processor"
	"github.com/xhad/hrrag/pkg/rag"
	"github.com/xhad/hrrag/pkg/store"
	"github.com/xhad/hrrag/pkg/store/memory"
	"github.com/xhad/hrrag/pkg/store/mongo"
	"github.com/xhad/hrrag/pkg/store/qdrant"
	"github.com/xhad/hrrag/pkg/store/sqlite"
)

// app owns everything built from one configuration. close releases the
// stores in reverse order of creation.
type app struct {
	config  *cfgPkg.Config
	log     *logger.Logger
	engine  *rag.Engine
	closers []func()
}

func loadConfig(path string) (*cfgPkg.Config, error) {
	config, err := cfgPkg.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if verrs := config.Validate(); len(verrs) > 0 {
		errs := make([]error, 0, len(verrs))
		for _, ve := range verrs {
			errs = append(errs, ve)
		}
		return nil, fmt.Errorf("invalid configuration:\n%w", errors.Join(errs...))
	}
	return config, nil
}

func newApp(ctx context.Context, configPath string) (*app, error) {
	config, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}

	log, err := logger.New(config.Log.Mode)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	a := &app{config: config, log: log}
	a.closers = append(a.closers, log.Sync)

	engine, err := a.buildEngine(ctx)
	if err != nil {
		a.close()
		return nil, err
	}
	a.engine = engine
	return a, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *app) buildEngine(ctx context.Context) (*rag.Engine, error) {
	c := a.config
	retry := llm.RetryConfig{
		MaxAttempts:     c.Retry.MaxAttempts,
		InitialInterval: c.Retry.InitialInterval,
	}

	embedder, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Provider:  c.Embedding.Provider,
		Model:     c.Embedding.Model,
		BaseURL:   c.Embedding.BaseURL,
		APIKey:    c.Embedding.APIKey,
		BatchSize: c.Embedding.BatchSize,
		RateLimit: c.Embedding.RateLimit,
		Retry:     retry,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	model, err := llm.NewModel(c.LLM.Provider, c.LLM.Model, c.LLM.BaseURL, c.LLM.APIKey)
	if err != nil {
		return nil, err
	}

	chat := llm.ChatConfig{
		Provider:    c.LLM.Provider,
		Model:       c.LLM.Model,
		BaseURL:     c.LLM.BaseURL,
		APIKey:      c.LLM.APIKey,
		Temperature: c.LLM.Temperature,
		MaxTokens:   c.LLM.MaxTokens,
		Retry:       retry,
	}

	answerConfig := chat
	answerConfig.SystemTemplate = c.LLM.AnswerSystemPrompt
	generator, err := llm.New(model, answerConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize chat engine: %w", err)
	}

	emailConfig := chat
	emailConfig.SystemTemplate = c.LLM.EmailSystemPrompt
	if emailConfig.SystemTemplate == "" {
		emailConfig.SystemTemplate = llm.DefaultEmailSystemTemplate
	}
	emailConfig.ContextTemplate = llm.DefaultEmailContextTemplate
	emailGenerator, err := llm.New(model, emailConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize email engine: %w", err)
	}

	var expander types.QueryExpander
	if c.LLM.ExpandQueries {
		expander = llm.NewExpander(model, llm.ExpanderConfig{
			Alternatives: c.LLM.ExpandAlternatives,
			Temperature:  c.LLM.ExpandTemperature,
			Retry:        retry,
		})
	}

	chunker, err := processor.NewWithConfig(processor.ProcessorConfig{
		ChunkSize:    c.Processor.ChunkSize,
		ChunkOverlap: c.Processor.ChunkOverlap,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize processor: %w", err)
	}

	index, err := a.openIndex(ctx)
	if err != nil {
		return nil, err
	}
	metadata, err := a.openMetadata(ctx)
	if err != nil {
		return nil, err
	}

	return rag.New(rag.Config{
		Collection:    c.Retrieval.Collection,
		DefaultK:      c.Retrieval.K,
		TopN:          c.Retrieval.TopN,
		ExpandQueries: c.LLM.ExpandQueries,
	}, rag.Dependencies{
		Loader: loader.NewWithConfig(loader.LoaderConfig{
			MaxFileSize: c.Loader.MaxFileSize,
			PDFPassword: c.Loader.PDFPassword,
		}),
		Chunker:        chunker,
		Embedder:       embedder,
		Index:          index,
		Metadata:       metadata,
		Generator:      generator,
		EmailGenerator: emailGenerator,
		Expander:       expander,
		Logger:         a.log,
	})
}

func (a *app) openIndex(ctx context.Context) (types.VectorIndex, error) {
	c := a.config
	var (
		index types.VectorIndex
		err   error
	)
	switch c.VectorStore.Backend {
	case "pgvector":
		index, err = store.NewWithConfig(ctx, store.VectorStoreConfig{
			ConnString:  c.Database.URL,
			TablePrefix: c.VectorStore.TablePrefix,
			BatchSize:   c.VectorStore.BatchSize,
			EfSearch:    c.VectorStore.EfSearch,
		})
	case "qdrant":
		index, err = qdrant.NewStore(a.log, qdrant.Config{
			URL:     c.VectorStore.URL,
			APIKey:  c.VectorStore.APIKey,
			Timeout: c.VectorStore.Timeout,
		})
	case "memory":
		a.log.Warn("Using the in-memory vector index; vectors are lost on exit")
		index = memory.NewIndex()
	default:
		return nil, fmt.Errorf("unknown vector store backend %q", c.VectorStore.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector store: %w", err)
	}
	a.closers = append(a.closers, index.Close)
	return index, nil
}

func (a *app) openMetadata(ctx context.Context) (types.MetadataStore, error) {
	c := a.config
	var (
		metadata types.MetadataStore
		err      error
	)
	switch c.Metadata.Backend {
	case "postgres":
		metadata, err = store.NewMetadataStoreWithConfig(ctx, store.MetadataStoreConfig{ConnString: c.Database.URL})
	case "sqlite":
		metadata, err = sqlite.NewStore(c.Metadata.DataDir)
	case "mongo":
		metadata, err = mongo.NewStore(ctx, mongo.Config{URI: c.Metadata.URI, Database: c.Metadata.Database})
	case "memory":
		metadata = memory.NewMetadataStore()
	default:
		return nil, fmt.Errorf("unknown metadata backend %q", c.Metadata.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize metadata store: %w", err)
	}
	a.closers = append(a.closers, func() {
		if err := metadata.Close(); err != nil {
			a.log.Warn("Error closing metadata store", "error", err)
		}
	})
	return metadata, nil
}
