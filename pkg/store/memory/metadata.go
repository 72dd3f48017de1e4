package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/xhad/hrrag/internal/models"
	"github.com/xhad/hrrag/internal/types"
)

type MetadataStore struct {
	mu      sync.RWMutex
	chunks  []models.ChunkRecord
	queries []models.QueryLogRecord
}

var _ types.MetadataStore = (*MetadataStore)(nil)

func NewMetadataStore() *MetadataStore {
	return &MetadataStore{}
}

func (m *MetadataStore) RecordChunks(_ context.Context, records []models.ChunkRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks = append(m.chunks, records...)
	return nil
}

func (m *MetadataStore) ChunksBySource(_ context.Context, sourceFile string) ([]models.ChunkRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.ChunkRecord
	for _, r := range m.chunks {
		if r.SourceFile == sourceFile {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].IngestedAt.Equal(out[j].IngestedAt) {
			return out[i].IngestedAt.Before(out[j].IngestedAt)
		}
		return out[i].SequenceIndex < out[j].SequenceIndex
	})
	return out, nil
}

func (m *MetadataStore) LogQuery(_ context.Context, record models.QueryLogRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record.Sources = append([]string(nil), record.Sources...)
	m.queries = append(m.queries, record)
	return nil
}

// Queries returns a copy of the query log in insertion order.
func (m *MetadataStore) Queries() []models.QueryLogRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.QueryLogRecord(nil), m.queries...)
}

func (m *MetadataStore) Analytics(_ context.Context, topN int) (models.Analytics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a := models.Analytics{TotalQueries: len(m.queries)}
	questions := make(map[string]int)
	sources := make(map[string]int)
	sum := 0.0
	for _, q := range m.queries {
		sum += q.Confidence
		questions[q.Question]++
		for _, s := range q.Sources {
			sources[s]++
		}
	}
	if len(m.queries) > 0 {
		a.AvgConfidence = sum / float64(len(m.queries))
	}
	a.TopQuestions = TopN(questions, topN)
	a.TopSources = TopN(sources, topN)
	return a, nil
}

func (m *MetadataStore) Close() error { return nil }

// TopN ranks counts by descending count, ties by value.
func TopN(counts map[string]int, n int) []models.FrequencyCount {
	out := make([]models.FrequencyCount, 0, len(counts))
	for v, c := range counts {
		out = append(out, models.FrequencyCount{Value: v, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Value < out[j].Value
	})
	if n >= 0 && n < len(out) {
		out = out[:n]
	}
	return out
}
