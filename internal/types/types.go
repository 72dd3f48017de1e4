package types

import (
	"context"

	"github.com/xhad/hrrag/internal/models"
)

// Core interfaces

type Loader interface {
	Load(ctx context.Context, path string) (models.Document, []models.Page, error)
}

// Embedder has the same method set as langchaingo's embeddings.Embedder.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type Generator interface {
	Generate(ctx context.Context, contextText, question string) (string, error)
}

type QueryExpander interface {
	Expand(ctx context.Context, question string) ([]string, error)
}

type VectorIndex interface {
	CollectionExists(ctx context.Context, name string) (bool, error)
	CreateCollection(ctx context.Context, name string, dimension int, metric models.DistanceMetric) error
	DeleteCollection(ctx context.Context, name string) error
	Upsert(ctx context.Context, collection string, entries []models.IndexEntry) error
	Delete(ctx context.Context, collection string, ids []string) error
	// SimilaritySearch returns at most k entries ordered by ascending
	// distance. A missing collection yields no results and no error.
	SimilaritySearch(ctx context.Context, collection string, vector []float32, k int) ([]models.ScoredEntry, error)
	Close()
}

type MetadataStore interface {
	RecordChunks(ctx context.Context, records []models.ChunkRecord) error
	ChunksBySource(ctx context.Context, sourceFile string) ([]models.ChunkRecord, error)
	LogQuery(ctx context.Context, record models.QueryLogRecord) error
	Analytics(ctx context.Context, topN int) (models.Analytics, error)
	Close() error
}

// Service is the surface exposed to the CLI and the HTTP server.
type Service interface {
	Ingest(ctx context.Context, path string, mode models.IngestMode) (models.IngestSummary, error)
	Ask(ctx context.Context, question string, k int) (models.Answer, error)
	Search(ctx context.Context, query string, k int) ([]models.SearchHit, error)
	ComposeEmail(ctx context.Context, request string, k int) (models.Email, error)
	Analytics(ctx context.Context) (models.Analytics, error)
	ChunksBySource(ctx context.Context, sourceFile string) ([]models.ChunkRecord, error)
}
