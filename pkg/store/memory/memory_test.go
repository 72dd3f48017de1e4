package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/hrrag/internal/models"
	"github.com/xhad/hrrag/internal/types"
	"github.com/xhad/hrrag/pkg/store/memory"
)

func entry(id string, vector ...float32) models.IndexEntry {
	return models.IndexEntry{
		ID:      id,
		Vector:  vector,
		Payload: models.Chunk{Text: id, ChunkMetadata: models.ChunkMetadata{SourceFile: id + ".txt"}},
	}
}

func TestIndex_Lifecycle(t *testing.T) {
	ctx := context.Background()
	idx := memory.NewIndex()

	exists, err := idx.CollectionExists(ctx, "hr")
	require.NoError(t, err)
	assert.False(t, exists)

	results, err := idx.SimilaritySearch(ctx, "hr", []float32{1, 0}, 3)
	require.NoError(t, err)
	assert.Empty(t, results)

	require.NoError(t, idx.CreateCollection(ctx, "hr", 2, models.DistanceCosine))
	assert.ErrorIs(t, idx.CreateCollection(ctx, "hr", 2, models.DistanceCosine), types.ErrCollectionAlreadyExists)

	require.NoError(t, idx.Upsert(ctx, "hr", []models.IndexEntry{
		entry("a", 1, 0),
		entry("b", 0, 1),
		entry("c", 1, 1),
	}))
	assert.Equal(t, 3, idx.Len("hr"))

	results, err = idx.SimilaritySearch(ctx, "hr", []float32{2, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].Entry.ID)
	assert.InDelta(t, 0.0, results[0].Distance, 1e-9)
	assert.Equal(t, "c", results[1].Entry.ID)
	assert.InDelta(t, 1-1/1.4142135623730951, results[1].Distance, 1e-6)

	require.NoError(t, idx.Upsert(ctx, "hr", []models.IndexEntry{entry("a", 0, 1)}))
	assert.Equal(t, 3, idx.Len("hr"))

	require.NoError(t, idx.Delete(ctx, "hr", []string{"b"}))
	assert.Equal(t, 2, idx.Len("hr"))

	require.NoError(t, idx.DeleteCollection(ctx, "hr"))
	exists, _ = idx.CollectionExists(ctx, "hr")
	assert.False(t, exists)
}

func TestIndex_Errors(t *testing.T) {
	ctx := context.Background()
	idx := memory.NewIndex()

	assert.ErrorIs(t, idx.CreateCollection(ctx, "hr", 2, "euclid"), types.ErrUnsupportedMetric)
	assert.ErrorIs(t, idx.CreateCollection(ctx, "bad name", 2, models.DistanceCosine), types.ErrInvalidCollection)

	require.NoError(t, idx.CreateCollection(ctx, "hr", 2, ""))
	assert.ErrorIs(t, idx.Upsert(ctx, "hr", []models.IndexEntry{entry("a", 1, 0, 0)}), types.ErrDimensionMismatch)
	assert.Error(t, idx.Upsert(ctx, "missing", []models.IndexEntry{entry("a", 1, 0)}))
}

func TestIndex_TiesKeepInsertionOrder(t *testing.T) {
	ctx := context.Background()
	idx := memory.NewIndex()
	require.NoError(t, idx.CreateCollection(ctx, "hr", 2, models.DistanceCosine))
	require.NoError(t, idx.Upsert(ctx, "hr", []models.IndexEntry{entry("x", 1, 0), entry("y", 1, 0), entry("z", 1, 0)}))

	results, err := idx.SimilaritySearch(ctx, "hr", []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, []string{"x", "y", "z"}, []string{results[0].Entry.ID, results[1].Entry.ID, results[2].Entry.ID})
}

func TestMetadataStore(t *testing.T) {
	ctx := context.Background()
	m := memory.NewMetadataStore()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, m.RecordChunks(ctx, []models.ChunkRecord{
		{ID: "2", SourceFile: "leave.txt", SequenceIndex: 1, IngestedAt: now},
		{ID: "1", SourceFile: "leave.txt", SequenceIndex: 0, IngestedAt: now},
		{ID: "3", SourceFile: "remote.md", SequenceIndex: 0, IngestedAt: now},
	}))

	chunks, err := m.ChunksBySource(ctx, "leave.txt")
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "1", chunks[0].ID)
	assert.Equal(t, "2", chunks[1].ID)

	empty, err := m.Analytics(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.TotalQueries)
	assert.Equal(t, 0.0, empty.AvgConfidence)

	for _, q := range []models.QueryLogRecord{
		{Question: "sick days?", Sources: []string{"leave.txt"}, Confidence: 0.8},
		{Question: "sick days?", Sources: []string{"leave.txt", "remote.md"}, Confidence: 0.6},
		{Question: "remote?", Sources: []string{"remote.md"}, Confidence: 0.4},
		{Question: "hello", Confidence: 0},
	} {
		require.NoError(t, m.LogQuery(ctx, q))
	}

	a, err := m.Analytics(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 4, a.TotalQueries)
	assert.InDelta(t, 0.45, a.AvgConfidence, 1e-9)
	assert.Equal(t, []models.FrequencyCount{{Value: "sick days?", Count: 2}, {Value: "hello", Count: 1}}, a.TopQuestions)
	assert.Equal(t, []models.FrequencyCount{{Value: "leave.txt", Count: 2}, {Value: "remote.md", Count: 2}}, a.TopSources)
	assert.Len(t, m.Queries(), 4)
}
