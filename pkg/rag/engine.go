// Package rag wires loading, chunking, embedding, indexing and generation into
// the ingestion and question-answering pipelines.
package rag

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/xhad/hrrag/internal/models"
	"github.com/xhad/hrrag/internal/types"
	"github.com/xhad/hrrag/pkg/confidence"
	"github.com/xhad/hrrag/pkg/logger"
)

const (
	EmptyKnowledgeBaseAnswer = "Knowledge base is empty. Please upload documents first."
	NotFoundAnswer           = "Not specified in policy."
	EmptyKnowledgeBaseEmail  = "Knowledge base empty."
	NotFoundEmail            = "Unable to generate email."

	DefaultCollection = "hr_policies"
	DefaultK          = 6
	DefaultTopN       = 5
)

// Chunker splits loaded pages into ordered chunks.
type Chunker interface {
	ChunkPages(doc models.Document, pages []models.Page) []models.Chunk
}

type Config struct {
	Collection string
	// DefaultK is used when a caller passes k <= 0.
	DefaultK int
	// TopN bounds the ranked lists in Analytics.
	TopN          int
	ExpandQueries bool
}

// Dependencies are built once by the caller and shared by every request.
// Expander is optional.
type Dependencies struct {
	Loader         types.Loader
	Chunker        Chunker
	Embedder       types.Embedder
	Index          types.VectorIndex
	Metadata       types.MetadataStore
	Generator      types.Generator
	EmailGenerator types.Generator
	Expander       types.QueryExpander
	Logger         *logger.Logger
	Now            func() time.Time
}

type Engine struct {
	config Config
	deps   Dependencies
	log    *logger.Logger

	// mu serialises collection creation, rebuilds and writes.
	mu sync.Mutex
}

var _ types.Service = (*Engine)(nil)

func New(config Config, deps Dependencies) (*Engine, error) {
	if config.Collection == "" {
		config.Collection = DefaultCollection
	}
	if config.DefaultK <= 0 {
		config.DefaultK = DefaultK
	}
	if config.TopN <= 0 {
		config.TopN = DefaultTopN
	}
	if err := types.ValidateCollection(config.Collection, models.DistanceCosine); err != nil {
		return nil, err
	}

	switch {
	case deps.Loader == nil:
		return nil, fmt.Errorf("loader required")
	case deps.Chunker == nil:
		return nil, fmt.Errorf("chunker required")
	case deps.Embedder == nil:
		return nil, fmt.Errorf("embedder required")
	case deps.Index == nil:
		return nil, fmt.Errorf("vector index required")
	case deps.Metadata == nil:
		return nil, fmt.Errorf("metadata store required")
	case deps.Generator == nil:
		return nil, fmt.Errorf("generator required")
	case deps.EmailGenerator == nil:
		return nil, fmt.Errorf("email generator required")
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	return &Engine{
		config: config,
		deps:   deps,
		log:    deps.Logger.With("service", "RAGEngine", "collection", config.Collection),
	}, nil
}

func (e *Engine) Config() Config {
	return e.config
}

func (e *Engine) resolveK(k int) int {
	if k <= 0 {
		return e.config.DefaultK
	}
	return k
}

// Ingest loads, chunks, embeds and indexes one file. Nothing is written when
// loading or embedding fails. In rebuild mode the collection is dropped even
// when the file yields no chunks. If recording provenance fails the vectors just
// written are removed again.
func (e *Engine) Ingest(ctx context.Context, path string, mode models.IngestMode) (models.IngestSummary, error) {
	if mode == "" {
		mode = models.IngestAppend
	}
	log := e.log.With("path", path, "mode", string(mode))

	doc, pages, err := e.deps.Loader.Load(ctx, path)
	if err != nil {
		return models.IngestSummary{}, err
	}
	summary := models.IngestSummary{Pages: len(pages)}

	chunks := e.deps.Chunker.ChunkPages(doc, pages)
	summary.Chunks = len(chunks)
	if len(chunks) == 0 {
		if mode == models.IngestRebuild {
			e.mu.Lock()
			defer e.mu.Unlock()
			if err := e.dropCollection(ctx); err != nil {
				return summary, err
			}
		}
		log.Warn("no text extracted, nothing indexed", "pages", len(pages))
		return summary, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := e.deps.Embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return summary, fmt.Errorf("failed to embed %s: %w", doc.Name, err)
	}
	if len(vectors) != len(chunks) {
		return summary, fmt.Errorf("%w: got %d vectors for %d chunks", types.ErrProviderUnavailable, len(vectors), len(chunks))
	}
	dimension := len(vectors[0])
	if dimension == 0 {
		return summary, fmt.Errorf("%w: empty embedding", types.ErrProviderUnavailable)
	}
	for _, v := range vectors {
		if len(v) != dimension {
			return summary, fmt.Errorf("%w: mixed embedding sizes %d and %d", types.ErrDimensionMismatch, dimension, len(v))
		}
	}

	entries := make([]models.IndexEntry, len(chunks))
	records := make([]models.ChunkRecord, len(chunks))
	now := e.deps.Now().UTC()
	for i, c := range chunks {
		id := uuid.NewString()
		entries[i] = models.IndexEntry{ID: id, Vector: vectors[i], Payload: c}
		records[i] = models.ChunkRecord{
			ID:            id,
			Collection:    e.config.Collection,
			SourceFile:    c.SourceFile,
			FileType:      c.FileType,
			SequenceIndex: c.SequenceIndex,
			IngestedAt:    now,
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.prepareCollection(ctx, mode, dimension); err != nil {
		return summary, err
	}

	if err := e.deps.Index.Upsert(ctx, e.config.Collection, entries); err != nil {
		return summary, fmt.Errorf("failed to index %s: %w", doc.Name, err)
	}

	if err := e.deps.Metadata.RecordChunks(ctx, records); err != nil {
		ids := make([]string, len(entries))
		for i, en := range entries {
			ids[i] = en.ID
		}
		if delErr := e.deps.Index.Delete(ctx, e.config.Collection, ids); delErr != nil {
			log.Error("failed to remove vectors after metadata error", "error", delErr, "count", len(ids))
		}
		return summary, fmt.Errorf("failed to record chunks for %s: %w", doc.Name, err)
	}

	summary.Vectors = len(entries)
	log.Info("document ingested", "file", doc.Name, "pages", summary.Pages, "chunks", summary.Chunks, "dimension", dimension)
	return summary, nil
}

// prepareCollection must be called with e.mu held.
func (e *Engine) prepareCollection(ctx context.Context, mode models.IngestMode, dimension int) error {
	name := e.config.Collection

	if mode == models.IngestRebuild {
		if err := e.dropCollection(ctx); err != nil {
			return err
		}
	}

	exists, err := e.deps.Index.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check collection %s: %w", name, err)
	}
	if exists {
		return nil
	}

	err = e.deps.Index.CreateCollection(ctx, name, dimension, models.DistanceCosine)
	if err != nil && !errors.Is(err, types.ErrCollectionAlreadyExists) {
		return fmt.Errorf("failed to create collection %s: %w", name, err)
	}
	e.log.Info("collection created", "dimension", dimension)
	return nil
}

// dropCollection must be called with e.mu held.
func (e *Engine) dropCollection(ctx context.Context) error {
	name := e.config.Collection
	if err := e.deps.Index.DeleteCollection(ctx, name); err != nil {
		return fmt.Errorf("failed to drop collection %s: %w", name, err)
	}
	e.log.Info("collection dropped for rebuild")
	return nil
}

// Ask answers a question from the indexed chunks. Every call appends exactly
// one query log record, including failed calls.
func (e *Engine) Ask(ctx context.Context, question string, k int) (models.Answer, error) {
	k = e.resolveK(k)

	answer, outcome, err := e.answer(ctx, question, k)
	record := models.QueryLogRecord{
		Question:   question,
		Answer:     answer.Answer,
		Sources:    answer.Sources,
		Confidence: answer.Confidence,
		Outcome:    outcome,
		Timestamp:  e.deps.Now().UTC(),
	}
	if err != nil {
		answer = models.Answer{}
		record.Answer, record.Sources, record.Confidence = "", nil, 0
		record.Outcome = models.OutcomeFailed
	}
	e.logQuery(ctx, record)

	return answer, err
}

func (e *Engine) answer(ctx context.Context, question string, k int) (models.Answer, models.Outcome, error) {
	exists, err := e.deps.Index.CollectionExists(ctx, e.config.Collection)
	if err != nil {
		return models.Answer{}, models.OutcomeFailed, fmt.Errorf("failed to check collection: %w", err)
	}
	if !exists {
		return models.Answer{Answer: EmptyKnowledgeBaseAnswer, Sources: []string{}}, models.OutcomeEmptyKnowledgeBase, nil
	}

	results, err := e.retrieve(ctx, e.queries(ctx, question), k)
	if err != nil {
		return models.Answer{}, models.OutcomeFailed, err
	}
	if len(results) == 0 {
		return models.Answer{Answer: NotFoundAnswer, Sources: []string{}}, models.OutcomeNotFound, nil
	}

	text, err := e.deps.Generator.Generate(ctx, BuildContext(results), question)
	if err != nil {
		return models.Answer{}, models.OutcomeFailed, fmt.Errorf("failed to generate answer: %w", err)
	}

	return models.Answer{
		Answer:     strings.TrimSpace(text),
		Sources:    Sources(results),
		Confidence: Confidence(question, results, k),
	}, models.OutcomeAnswered, nil
}

// Search returns the nearest chunks for query without generating or logging.
func (e *Engine) Search(ctx context.Context, query string, k int) ([]models.SearchHit, error) {
	k = e.resolveK(k)

	results, err := e.retrieve(ctx, []string{query}, k)
	if err != nil {
		return nil, err
	}

	hits := make([]models.SearchHit, len(results))
	for i, r := range results {
		hits[i] = models.SearchHit{Text: r.Entry.Payload.Text, Source: r.Entry.Payload.SourceFile}
	}
	return hits, nil
}

// ComposeEmail drafts an email for request grounded in the indexed chunks.
// Drafts are not written to the query log.
func (e *Engine) ComposeEmail(ctx context.Context, request string, k int) (models.Email, error) {
	k = e.resolveK(k)

	exists, err := e.deps.Index.CollectionExists(ctx, e.config.Collection)
	if err != nil {
		return models.Email{}, fmt.Errorf("failed to check collection: %w", err)
	}
	if !exists {
		return models.Email{Email: EmptyKnowledgeBaseEmail, Sources: []string{}}, nil
	}

	results, err := e.retrieve(ctx, e.queries(ctx, request), k)
	if err != nil {
		return models.Email{}, err
	}
	if len(results) == 0 {
		return models.Email{Email: NotFoundEmail, Sources: []string{}}, nil
	}

	text, err := e.deps.EmailGenerator.Generate(ctx, BuildContext(results), request)
	if err != nil {
		return models.Email{}, fmt.Errorf("failed to generate email: %w", err)
	}

	return models.Email{
		Email:      strings.TrimSpace(text),
		Sources:    Sources(results),
		Confidence: Confidence(request, results, k),
	}, nil
}

func (e *Engine) Analytics(ctx context.Context) (models.Analytics, error) {
	a, err := e.deps.Metadata.Analytics(ctx, e.config.TopN)
	if err != nil {
		return a, fmt.Errorf("failed to load analytics: %w", err)
	}
	return a, nil
}

func (e *Engine) ChunksBySource(ctx context.Context, sourceFile string) ([]models.ChunkRecord, error) {
	records, err := e.deps.Metadata.ChunksBySource(ctx, sourceFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks for %s: %w", sourceFile, err)
	}
	return records, nil
}

func (e *Engine) logQuery(ctx context.Context, record models.QueryLogRecord) {
	if err := e.deps.Metadata.LogQuery(ctx, record); err != nil {
		e.log.Warn("failed to write query log", "error", err, "outcome", string(record.Outcome))
	}
}

// queries returns the question plus any expansions. Expansion errors fall
// back to the question alone.
func (e *Engine) queries(ctx context.Context, question string) []string {
	if !e.config.ExpandQueries || e.deps.Expander == nil {
		return []string{question}
	}
	expanded, err := e.deps.Expander.Expand(ctx, question)
	if err != nil || len(expanded) == 0 {
		e.log.Warn("query expansion failed, using the original question", "error", err)
		return []string{question}
	}
	return expanded
}

// retrieve embeds every query, searches concurrently and merges the results
// by entry ID, keeping the smallest distance.
func (e *Engine) retrieve(ctx context.Context, queries []string, k int) ([]models.ScoredEntry, error) {
	perQuery := make([][]models.ScoredEntry, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	for i, q := range queries {
		g.Go(func() error {
			vector, err := e.deps.Embedder.EmbedQuery(gctx, q)
			if err != nil {
				return fmt.Errorf("failed to embed query: %w", err)
			}
			results, err := e.deps.Index.SimilaritySearch(gctx, e.config.Collection, vector, k)
			if err != nil {
				return fmt.Errorf("failed to search %s: %w", e.config.Collection, err)
			}
			perQuery[i] = results
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(perQuery) == 1 {
		return perQuery[0], nil
	}
	return Merge(perQuery, k), nil
}

// Merge combines result lists, keeping one entry per ID with its smallest
// distance, ordered by ascending distance and truncated to k.
func Merge(lists [][]models.ScoredEntry, k int) []models.ScoredEntry {
	best := make(map[string]int)
	var merged []models.ScoredEntry
	for _, list := range lists {
		for _, r := range list {
			if i, ok := best[r.Entry.ID]; ok {
				if r.Distance < merged[i].Distance {
					merged[i] = r
				}
				continue
			}
			best[r.Entry.ID] = len(merged)
			merged = append(merged, r)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Distance < merged[j].Distance
	})
	if k > 0 && len(merged) > k {
		merged = merged[:k]
	}
	return merged
}

// BuildContext renders results as "[Source: file]" headed blocks separated by
// blank lines.
func BuildContext(results []models.ScoredEntry) string {
	blocks := make([]string, len(results))
	for i, r := range results {
		blocks[i] = fmt.Sprintf("[Source: %s]\n%s", r.Entry.Payload.SourceFile, r.Entry.Payload.Text)
	}
	return strings.Join(blocks, "\n\n")
}

// Sources lists distinct source files in first-seen order.
func Sources(results []models.ScoredEntry) []string {
	seen := make(map[string]struct{}, len(results))
	sources := make([]string, 0, len(results))
	for _, r := range results {
		src := r.Entry.Payload.SourceFile
		if _, ok := seen[src]; ok {
			continue
		}
		seen[src] = struct{}{}
		sources = append(sources, src)
	}
	return sources
}

func Confidence(question string, results []models.ScoredEntry, k int) float64 {
	similarities := make([]float64, len(results))
	texts := make([]string, len(results))
	for i, r := range results {
		similarities[i] = r.Similarity()
		texts[i] = r.Entry.Payload.Text
	}
	hits, expected := confidence.Coverage(question, texts)

	return confidence.Score(confidence.Inputs{
		AvgSimilarity:    confidence.Mean(similarities),
		KeywordHits:      hits,
		ExpectedKeywords: expected,
		RetrievedChunks:  len(results),
		K:                k,
	})
}
