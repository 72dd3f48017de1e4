package rag_test

import (
	"context"
	"errors"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/hrrag/internal/models"
	"github.com/xhad/hrrag/internal/types"
	"github.com/xhad/hrrag/pkg/loader"
	"github.com/xhad/hrrag/pkg/processor"
	"github.com/xhad/hrrag/pkg/rag"
	"github.com/xhad/hrrag/pkg/store/memory"
)

const leavePolicy = `Sick Leave. Employees receive ten paid sick leave days per calendar year. Unused sick days do not carry over.

Annual Leave. Full-time employees accrue twenty days of annual leave. Requests must be approved by a manager two weeks in advance.

Remote Work. Employees may work remotely up to two days per week with manager approval. Core hours are ten to four.

Parental Leave. Primary caregivers receive sixteen weeks of paid parental leave. Secondary caregivers receive four weeks.`

type wordEmbedder struct {
	mu      sync.Mutex
	queries []string
	err     error
}

func embedText(text string) []float32 {
	v := make([]float32, 32)
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return r < 'a' || r > 'z'
	}) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[h.Sum32()%32]++
	}
	return v
}

func (w *wordEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if w.err != nil {
		return nil, w.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = embedText(t)
	}
	return out, nil
}

func (w *wordEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	w.mu.Lock()
	w.queries = append(w.queries, text)
	w.mu.Unlock()
	if w.err != nil {
		return nil, w.err
	}
	return embedText(text), nil
}

type fakeGenerator struct {
	mu       sync.Mutex
	reply    string
	err      error
	calls    int
	contexts []string
}

func (g *fakeGenerator) Generate(_ context.Context, contextText, _ string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.contexts = append(g.contexts, contextText)
	if g.err != nil {
		return "", g.err
	}
	return g.reply, nil
}

type fakeExpander struct {
	queries []string
	err     error
}

func (f *fakeExpander) Expand(_ context.Context, question string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return append([]string{question}, f.queries...), nil
}

type failingMetadata struct {
	*memory.MetadataStore
	recordErr error
	logErr    error
}

func (f *failingMetadata) RecordChunks(ctx context.Context, records []models.ChunkRecord) error {
	if f.recordErr != nil {
		return f.recordErr
	}
	return f.MetadataStore.RecordChunks(ctx, records)
}

func (f *failingMetadata) LogQuery(ctx context.Context, record models.QueryLogRecord) error {
	if f.logErr != nil {
		return f.logErr
	}
	return f.MetadataStore.LogQuery(ctx, record)
}

type harness struct {
	engine   *rag.Engine
	index    *memory.Index
	metadata *memory.MetadataStore
	embedder *wordEmbedder
	answers  *fakeGenerator
	emails   *fakeGenerator
}

type option func(*rag.Config, *rag.Dependencies)

func newHarness(t *testing.T, opts ...option) *harness {
	t.Helper()
	chunker, err := processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: 200, ChunkOverlap: 20})
	require.NoError(t, err)

	h := &harness{
		index:    memory.NewIndex(),
		metadata: memory.NewMetadataStore(),
		embedder: &wordEmbedder{},
		answers:  &fakeGenerator{reply: "  Ten paid sick days per year.  "},
		emails:   &fakeGenerator{reply: "Dear HR,\nI would like to request leave."},
	}
	config := rag.Config{Collection: "hr_test"}
	deps := rag.Dependencies{
		Loader:         loader.NewWithConfig(loader.LoaderConfig{}),
		Chunker:        chunker,
		Embedder:       h.embedder,
		Index:          h.index,
		Metadata:       h.metadata,
		Generator:      h.answers,
		EmailGenerator: h.emails,
		Now:            func() time.Time { return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC) },
	}
	for _, opt := range opts {
		opt(&config, &deps)
	}

	h.engine, err = rag.New(config, deps)
	require.NoError(t, err)
	return h
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := rag.New(rag.Config{}, rag.Dependencies{})
	assert.Error(t, err)

	h := newHarness(t)
	cfg := h.engine.Config()
	assert.Equal(t, rag.DefaultK, cfg.DefaultK)
	assert.Equal(t, rag.DefaultTopN, cfg.TopN)
}

func TestNew_InvalidCollection(t *testing.T) {
	_, err := rag.New(rag.Config{Collection: "hr policies!"}, rag.Dependencies{})
	assert.ErrorIs(t, err, types.ErrInvalidCollection)
}

func TestIngest(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	path := writeFile(t, "leave.txt", leavePolicy)

	summary, err := h.engine.Ingest(ctx, path, models.IngestAppend)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Pages)
	assert.Greater(t, summary.Chunks, 1)
	assert.Equal(t, summary.Chunks, summary.Vectors)
	assert.Equal(t, summary.Chunks, h.index.Len("hr_test"))

	records, err := h.engine.ChunksBySource(ctx, "leave.txt")
	require.NoError(t, err)
	require.Len(t, records, summary.Chunks)
	for i, r := range records {
		assert.Equal(t, i, r.SequenceIndex)
		assert.Equal(t, "hr_test", r.Collection)
		assert.Equal(t, models.FileTypeText, r.FileType)
	}
}

func TestIngest_AppendAndRebuild(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	leave := writeFile(t, "leave.txt", leavePolicy)
	remote := writeFile(t, "remote.md", "# Remote\n\nWork from home two days a week.")

	first, err := h.engine.Ingest(ctx, leave, models.IngestAppend)
	require.NoError(t, err)
	second, err := h.engine.Ingest(ctx, remote, models.IngestAppend)
	require.NoError(t, err)
	assert.Equal(t, first.Chunks+second.Chunks, h.index.Len("hr_test"))

	rebuilt, err := h.engine.Ingest(ctx, remote, models.IngestRebuild)
	require.NoError(t, err)
	assert.Equal(t, second.Chunks, rebuilt.Chunks)
	assert.Equal(t, rebuilt.Chunks, h.index.Len("hr_test"))
}

func TestIngest_SameChunkCountInFreshCollection(t *testing.T) {
	path := writeFile(t, "leave.txt", leavePolicy)

	a, err := newHarness(t).engine.Ingest(context.Background(), path, models.IngestRebuild)
	require.NoError(t, err)
	b, err := newHarness(t).engine.Ingest(context.Background(), path, models.IngestRebuild)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestIngest_EmptyDocument(t *testing.T) {
	h := newHarness(t)
	path := writeFile(t, "blank.txt", "   \n\n\t ")

	summary, err := h.engine.Ingest(context.Background(), path, models.IngestRebuild)
	require.NoError(t, err)
	assert.Equal(t, models.IngestSummary{Pages: 1}, summary)

	exists, _ := h.index.CollectionExists(context.Background(), "hr_test")
	assert.False(t, exists)
}

func TestIngest_RebuildStartingWithEmptyDocument(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	leave := writeFile(t, "leave.txt", leavePolicy)
	blank := writeFile(t, "blank.txt", "   \n\n\t ")
	remote := writeFile(t, "remote.md", "# Remote\n\nWork from home two days a week.")

	old, err := h.engine.Ingest(ctx, leave, models.IngestAppend)
	require.NoError(t, err)
	require.Equal(t, old.Chunks, h.index.Len("hr_test"))

	_, err = h.engine.Ingest(ctx, blank, models.IngestRebuild)
	require.NoError(t, err)
	exists, _ := h.index.CollectionExists(ctx, "hr_test")
	assert.False(t, exists)

	fresh, err := h.engine.Ingest(ctx, remote, models.IngestAppend)
	require.NoError(t, err)
	assert.Equal(t, fresh.Chunks, h.index.Len("hr_test"))

	hits, err := h.engine.Search(ctx, "sick leave", 10)
	require.NoError(t, err)
	for _, hit := range hits {
		assert.Equal(t, "remote.md", hit.Source)
	}
}

func TestIngest_UnsupportedFile(t *testing.T) {
	h := newHarness(t)
	path := writeFile(t, "handbook.docx", "binary")

	_, err := h.engine.Ingest(context.Background(), path, models.IngestAppend)
	assert.ErrorIs(t, err, types.ErrUnsupportedFileType)

	exists, _ := h.index.CollectionExists(context.Background(), "hr_test")
	assert.False(t, exists)
}

func TestIngest_EmbedderFailureWritesNothing(t *testing.T) {
	h := newHarness(t)
	h.embedder.err = types.ErrProviderUnavailable
	path := writeFile(t, "leave.txt", leavePolicy)

	_, err := h.engine.Ingest(context.Background(), path, models.IngestAppend)
	assert.ErrorIs(t, err, types.ErrProviderUnavailable)

	exists, _ := h.index.CollectionExists(context.Background(), "hr_test")
	assert.False(t, exists)
	records, _ := h.metadata.ChunksBySource(context.Background(), "leave.txt")
	assert.Empty(t, records)
}

func TestIngest_MetadataFailureRemovesVectors(t *testing.T) {
	failing := &failingMetadata{MetadataStore: memory.NewMetadataStore(), recordErr: errors.New("disk full")}
	h := newHarness(t, func(_ *rag.Config, d *rag.Dependencies) { d.Metadata = failing })
	path := writeFile(t, "leave.txt", leavePolicy)

	_, err := h.engine.Ingest(context.Background(), path, models.IngestAppend)
	assert.Error(t, err)
	assert.Equal(t, 0, h.index.Len("hr_test"))
}

func TestIngest_Concurrent(t *testing.T) {
	h := newHarness(t)
	path := writeFile(t, "leave.txt", leavePolicy)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	chunks := make([]int, 4)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := h.engine.Ingest(context.Background(), path, models.IngestAppend)
			errs[i], chunks[i] = err, s.Chunks
		}()
	}
	wg.Wait()

	total := 0
	for i, err := range errs {
		require.NoError(t, err)
		total += chunks[i]
	}
	assert.Equal(t, total, h.index.Len("hr_test"))
}

func TestAsk_EmptyKnowledgeBase(t *testing.T) {
	h := newHarness(t)

	answer, err := h.engine.Ask(context.Background(), "How many sick days do I get?", 4)
	require.NoError(t, err)

	assert.Equal(t, rag.EmptyKnowledgeBaseAnswer, answer.Answer)
	assert.Equal(t, 0.0, answer.Confidence)
	assert.Empty(t, answer.Sources)
	assert.Equal(t, 0, h.answers.calls)

	logs := h.metadata.Queries()
	require.Len(t, logs, 1)
	assert.Equal(t, models.OutcomeEmptyKnowledgeBase, logs[0].Outcome)
	assert.Equal(t, rag.EmptyKnowledgeBaseAnswer, logs[0].Answer)
}

func TestAsk_NoResults(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.index.CreateCollection(context.Background(), "hr_test", 32, models.DistanceCosine))

	answer, err := h.engine.Ask(context.Background(), "How many sick days?", 4)
	require.NoError(t, err)
	assert.Equal(t, rag.NotFoundAnswer, answer.Answer)
	assert.Equal(t, 0.0, answer.Confidence)
	assert.Empty(t, answer.Sources)

	logs := h.metadata.Queries()
	require.Len(t, logs, 1)
	assert.Equal(t, models.OutcomeNotFound, logs[0].Outcome)
}

func TestAsk_Answered(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.engine.Ingest(ctx, writeFile(t, "leave.txt", leavePolicy), models.IngestAppend)
	require.NoError(t, err)
	_, err = h.engine.Ingest(ctx, writeFile(t, "remote.md", "# Remote\n\nWork remotely two days a week."), models.IngestAppend)
	require.NoError(t, err)

	answer, err := h.engine.Ask(ctx, "How many paid sick leave days do employees receive?", 3)
	require.NoError(t, err)

	assert.Equal(t, "Ten paid sick days per year.", answer.Answer)
	assert.Greater(t, answer.Confidence, 0.0)
	assert.LessOrEqual(t, answer.Confidence, 1.0)
	require.NotEmpty(t, answer.Sources)
	assert.Equal(t, "leave.txt", answer.Sources[0])

	require.Len(t, h.answers.contexts, 1)
	assert.True(t, strings.HasPrefix(h.answers.contexts[0], "[Source: leave.txt]\n"))
	assert.Len(t, strings.Split(h.answers.contexts[0], "\n\n[Source: "), 3)

	logs := h.metadata.Queries()
	require.Len(t, logs, 1)
	assert.Equal(t, models.OutcomeAnswered, logs[0].Outcome)
	assert.Equal(t, answer.Confidence, logs[0].Confidence)
	assert.Equal(t, answer.Sources, logs[0].Sources)
	assert.Equal(t, time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC), logs[0].Timestamp)
}

func TestAsk_GeneratorFailureIsLogged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.engine.Ingest(ctx, writeFile(t, "leave.txt", leavePolicy), models.IngestAppend)
	require.NoError(t, err)
	h.answers.err = types.ErrProviderUnavailable

	_, err = h.engine.Ask(ctx, "sick leave?", 0)
	assert.ErrorIs(t, err, types.ErrProviderUnavailable)

	logs := h.metadata.Queries()
	require.Len(t, logs, 1)
	assert.Equal(t, models.OutcomeFailed, logs[0].Outcome)
	assert.Equal(t, 0.0, logs[0].Confidence)
	assert.Empty(t, logs[0].Answer)
}

func TestAsk_LogFailureIsNotReturned(t *testing.T) {
	failing := &failingMetadata{MetadataStore: memory.NewMetadataStore(), logErr: errors.New("read-only")}
	h := newHarness(t, func(_ *rag.Config, d *rag.Dependencies) { d.Metadata = failing })

	answer, err := h.engine.Ask(context.Background(), "sick leave?", 0)
	require.NoError(t, err)
	assert.Equal(t, rag.EmptyKnowledgeBaseAnswer, answer.Answer)
}

func TestAsk_QueryExpansion(t *testing.T) {
	expander := &fakeExpander{queries: []string{"remote work days", "parental leave weeks"}}
	h := newHarness(t, func(c *rag.Config, d *rag.Dependencies) {
		c.ExpandQueries = true
		d.Expander = expander
	})
	ctx := context.Background()
	_, err := h.engine.Ingest(ctx, writeFile(t, "leave.txt", leavePolicy), models.IngestAppend)
	require.NoError(t, err)

	_, err = h.engine.Ask(ctx, "sick leave?", 2)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"sick leave?", "remote work days", "parental leave weeks"}, h.embedder.queries)
	assert.Len(t, strings.Split(h.answers.contexts[0], "\n\n[Source: "), 2)

	h.embedder.queries = nil
	expander.err = errors.New("model offline")
	_, err = h.engine.Ask(ctx, "sick leave?", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"sick leave?"}, h.embedder.queries)
}

func TestSearch_NeverGenerates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	hits, err := h.engine.Search(ctx, "sick leave", 3)
	require.NoError(t, err)
	assert.Empty(t, hits)

	summary, err := h.engine.Ingest(ctx, writeFile(t, "leave.txt", leavePolicy), models.IngestAppend)
	require.NoError(t, err)

	hits, err = h.engine.Search(ctx, "sick leave", 0)
	require.NoError(t, err)
	assert.Len(t, hits, min(summary.Chunks, rag.DefaultK))
	assert.Equal(t, "leave.txt", hits[0].Source)
	assert.NotEmpty(t, hits[0].Text)

	assert.Equal(t, 0, h.answers.calls)
	assert.Empty(t, h.metadata.Queries())
}

func TestComposeEmail(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	email, err := h.engine.ComposeEmail(ctx, "Write an email requesting annual leave", 3)
	require.NoError(t, err)
	assert.Equal(t, rag.EmptyKnowledgeBaseEmail, email.Email)

	require.NoError(t, h.index.CreateCollection(ctx, "hr_test", 32, models.DistanceCosine))
	email, err = h.engine.ComposeEmail(ctx, "Write an email requesting annual leave", 3)
	require.NoError(t, err)
	assert.Equal(t, rag.NotFoundEmail, email.Email)

	_, err = h.engine.Ingest(ctx, writeFile(t, "leave.txt", leavePolicy), models.IngestAppend)
	require.NoError(t, err)
	email, err = h.engine.ComposeEmail(ctx, "Write an email requesting annual leave", 3)
	require.NoError(t, err)
	assert.Equal(t, "Dear HR,\nI would like to request leave.", email.Email)
	assert.Equal(t, []string{"leave.txt"}, email.Sources)
	assert.Greater(t, email.Confidence, 0.0)

	assert.Equal(t, 1, h.emails.calls)
	assert.Equal(t, 0, h.answers.calls)
	assert.Empty(t, h.metadata.Queries())
}

func TestAnalytics(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, q := range []string{"sick?", "sick?", "remote?"} {
		_, err := h.engine.Ask(ctx, q, 0)
		require.NoError(t, err)
	}

	a, err := h.engine.Analytics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, a.TotalQueries)
	assert.Equal(t, 0.0, a.AvgConfidence)
	assert.Equal(t, models.FrequencyCount{Value: "sick?", Count: 2}, a.TopQuestions[0])
}

func TestMerge(t *testing.T) {
	scored := func(id string, d float64) models.ScoredEntry {
		return models.ScoredEntry{Entry: models.IndexEntry{ID: id}, Distance: d}
	}
	merged := rag.Merge([][]models.ScoredEntry{
		{scored("a", 0.3), scored("b", 0.5)},
		{scored("b", 0.1), scored("c", 0.4), scored("a", 0.2)},
	}, 2)

	require.Len(t, merged, 2)
	assert.Equal(t, "b", merged[0].Entry.ID)
	assert.Equal(t, 0.1, merged[0].Distance)
	assert.Equal(t, "a", merged[1].Entry.ID)
	assert.Equal(t, 0.2, merged[1].Distance)
}

func TestSourcesAndContext(t *testing.T) {
	entry := func(src, text string) models.ScoredEntry {
		return models.ScoredEntry{Entry: models.IndexEntry{Payload: models.Chunk{
			Text: text, ChunkMetadata: models.ChunkMetadata{SourceFile: src},
		}}}
	}
	results := []models.ScoredEntry{entry("b.txt", "one"), entry("a.txt", "two"), entry("b.txt", "three")}

	assert.Equal(t, []string{"b.txt", "a.txt"}, rag.Sources(results))
	assert.Equal(t, "[Source: b.txt]\none\n\n[Source: a.txt]\ntwo\n\n[Source: b.txt]\nthree", rag.BuildContext(results))
}

func TestConfidence(t *testing.T) {
	perfect := models.ScoredEntry{Entry: models.IndexEntry{Payload: models.Chunk{Text: "sick leave days"}}}
	results := []models.ScoredEntry{perfect, perfect, perfect, perfect}

	assert.Equal(t, 1.0, rag.Confidence("sick leave days", results, 4))
	assert.Equal(t, 0.0, rag.Confidence("sick", nil, 4))
}
