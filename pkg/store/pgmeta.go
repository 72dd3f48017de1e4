package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xhad/hrrag/internal/models"
	"github.com/xhad/hrrag/internal/types"
)

const metadataSchema = `
CREATE TABLE IF NOT EXISTS chunk_metadata (
	id TEXT PRIMARY KEY,
	collection TEXT NOT NULL,
	source_file TEXT NOT NULL,
	file_type TEXT NOT NULL,
	sequence_index INTEGER NOT NULL,
	ingested_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS chunk_metadata_source_idx ON chunk_metadata (source_file, sequence_index);

CREATE TABLE IF NOT EXISTS query_log (
	id BIGSERIAL PRIMARY KEY,
	question TEXT NOT NULL,
	answer TEXT NOT NULL,
	sources TEXT[] NOT NULL DEFAULT '{}',
	confidence DOUBLE PRECISION NOT NULL,
	outcome TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);`

type MetadataStoreConfig struct {
	ConnString string
}

// MetadataStore implements types.MetadataStore on Postgres.
type MetadataStore struct {
	pool *pgxpool.Pool
}

var _ types.MetadataStore = (*MetadataStore)(nil)

func NewMetadataStoreWithConfig(ctx context.Context, config MetadataStoreConfig) (*MetadataStore, error) {
	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if _, err := pool.Exec(ctx, metadataSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create metadata tables: %w", err)
	}
	return &MetadataStore{pool: pool}, nil
}

func (ms *MetadataStore) RecordChunks(ctx context.Context, records []models.ChunkRecord) error {
	if len(records) == 0 {
		return nil
	}

	rows := make([][]any, len(records))
	for i, r := range records {
		rows[i] = []any{r.ID, r.Collection, sanitizeText(r.SourceFile), string(r.FileType), r.SequenceIndex, r.IngestedAt}
	}

	_, err := ms.pool.CopyFrom(ctx,
		pgx.Identifier{"chunk_metadata"},
		[]string{"id", "collection", "source_file", "file_type", "sequence_index", "ingested_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to record chunks: %w", err)
	}
	return nil
}

func (ms *MetadataStore) ChunksBySource(ctx context.Context, sourceFile string) ([]models.ChunkRecord, error) {
	rows, err := ms.pool.Query(ctx, `
		SELECT id, collection, source_file, file_type, sequence_index, ingested_at
		FROM chunk_metadata
		WHERE source_file = $1
		ORDER BY ingested_at, sequence_index`, sourceFile)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var records []models.ChunkRecord
	for rows.Next() {
		var (
			r        models.ChunkRecord
			fileType string
		)
		if err := rows.Scan(&r.ID, &r.Collection, &r.SourceFile, &fileType, &r.SequenceIndex, &r.IngestedAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		r.FileType = models.FileType(fileType)
		records = append(records, r)
	}
	return records, rows.Err()
}

func (ms *MetadataStore) LogQuery(ctx context.Context, record models.QueryLogRecord) error {
	sources := record.Sources
	if sources == nil {
		sources = []string{}
	}
	_, err := ms.pool.Exec(ctx, `
		INSERT INTO query_log (question, answer, sources, confidence, outcome, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		sanitizeText(record.Question), sanitizeText(record.Answer), sources,
		record.Confidence, string(record.Outcome), record.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to log query: %w", err)
	}
	return nil
}

func (ms *MetadataStore) Analytics(ctx context.Context, topN int) (models.Analytics, error) {
	var a models.Analytics
	err := ms.pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(AVG(confidence), 0) FROM query_log`,
	).Scan(&a.TotalQueries, &a.AvgConfidence)
	if err != nil {
		return a, fmt.Errorf("failed to aggregate query log: %w", err)
	}

	a.TopQuestions, err = ms.frequencies(ctx, `
		SELECT question, COUNT(*) AS n FROM query_log
		GROUP BY question ORDER BY n DESC, question LIMIT $1`, topN)
	if err != nil {
		return a, err
	}

	a.TopSources, err = ms.frequencies(ctx, `
		SELECT s, COUNT(*) AS n FROM query_log, unnest(sources) AS s
		GROUP BY s ORDER BY n DESC, s LIMIT $1`, topN)
	if err != nil {
		return a, err
	}

	return a, nil
}

func (ms *MetadataStore) frequencies(ctx context.Context, query string, topN int) ([]models.FrequencyCount, error) {
	rows, err := ms.pool.Query(ctx, query, topN)
	if err != nil {
		return nil, fmt.Errorf("failed to query frequencies: %w", err)
	}

	counts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.FrequencyCount, error) {
		var fc models.FrequencyCount
		err := row.Scan(&fc.Value, &fc.Count)
		return fc, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan frequencies: %w", err)
	}
	return counts, nil
}

func (ms *MetadataStore) Close() error {
	ms.pool.Close()
	return nil
}
