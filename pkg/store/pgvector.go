// Package store holds the Postgres backends: a pgvector vector index with one
// table per collection and a metadata store for chunk provenance and the
// query log.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/xhad/hrrag/internal/models"
	"github.com/xhad/hrrag/internal/types"
)

const (
	pgDuplicateTable = "42P07"
	pgUndefinedTable = "42P01"
	pgDataException  = "22000"

	// Postgres truncates longer identifiers.
	maxIdentifierLength = 63
	indexSuffix         = "_embedding_idx"
)

type VectorStoreConfig struct {
	ConnString  string
	TablePrefix string
	BatchSize   int
	// EfSearch sets hnsw.ef_search per query when positive.
	EfSearch int
}

// VectorStore implements types.VectorIndex on top of pgvector.
type VectorStore struct {
	config VectorStoreConfig
	pool   *pgxpool.Pool
}

var _ types.VectorIndex = (*VectorStore)(nil)

func NewWithConfig(ctx context.Context, config VectorStoreConfig) (*VectorStore, error) {
	if config.TablePrefix == "" {
		config.TablePrefix = "kb_"
	}
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if _, err := pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create vector extension: %w", err)
	}

	return &VectorStore{config: config, pool: pool}, nil
}

// tableName maps a collection to its table verbatim. Identifiers are always
// quoted, so case and hyphens survive and distinct names never share a table.
func (vs *VectorStore) tableName(collection string) (string, error) {
	if err := types.ValidateCollection(collection, ""); err != nil {
		return "", err
	}
	name := vs.config.TablePrefix + collection
	if len(name)+len(indexSuffix) > maxIdentifierLength {
		return "", fmt.Errorf("%w: %q is too long with table prefix %q", types.ErrInvalidCollection, collection, vs.config.TablePrefix)
	}
	return name, nil
}

func (vs *VectorStore) table(collection string) (string, error) {
	name, err := vs.tableName(collection)
	if err != nil {
		return "", err
	}
	return pgx.Identifier{name}.Sanitize(), nil
}

func (vs *VectorStore) CollectionExists(ctx context.Context, name string) (bool, error) {
	tableName, err := vs.tableName(name)
	if err != nil {
		return false, err
	}

	var exists bool
	err = vs.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = current_schema() AND table_name = $1
		)`, tableName).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check collection %s: %w", name, err)
	}
	return exists, nil
}

func (vs *VectorStore) CreateCollection(ctx context.Context, name string, dimension int, metric models.DistanceMetric) error {
	if err := types.ValidateCollection(name, metric); err != nil {
		return err
	}
	if dimension <= 0 {
		return fmt.Errorf("%w: dimension %d", types.ErrDimensionMismatch, dimension)
	}
	tableName, err := vs.tableName(name)
	if err != nil {
		return err
	}
	table := pgx.Identifier{tableName}.Sanitize()
	index := pgx.Identifier{tableName + indexSuffix}.Sanitize()

	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	createTable := fmt.Sprintf(`
		CREATE TABLE %s (
			id TEXT PRIMARY KEY,
			text TEXT NOT NULL,
			source_file TEXT NOT NULL,
			file_type TEXT NOT NULL,
			sequence_index INTEGER NOT NULL,
			embedding vector(%d) NOT NULL
		)`, table, dimension)

	if _, err := tx.Exec(ctx, createTable); err != nil {
		if pgCode(err) == pgDuplicateTable {
			return fmt.Errorf("%w: %s", types.ErrCollectionAlreadyExists, name)
		}
		return fmt.Errorf("failed to create table: %w", err)
	}

	createIndex := fmt.Sprintf(`CREATE INDEX %s ON %s USING hnsw (embedding vector_cosine_ops)`, index, table)
	if _, err := tx.Exec(ctx, createIndex); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		if pgCode(err) == pgDuplicateTable {
			return fmt.Errorf("%w: %s", types.ErrCollectionAlreadyExists, name)
		}
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (vs *VectorStore) DeleteCollection(ctx context.Context, name string) error {
	table, err := vs.table(name)
	if err != nil {
		return err
	}
	if _, err := vs.pool.Exec(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
		return fmt.Errorf("failed to drop collection %s: %w", name, err)
	}
	return nil
}

func (vs *VectorStore) Upsert(ctx context.Context, collection string, entries []models.IndexEntry) error {
	table, err := vs.table(collection)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, text, source_file, file_type, sequence_index, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			text = EXCLUDED.text,
			source_file = EXCLUDED.source_file,
			file_type = EXCLUDED.file_type,
			sequence_index = EXCLUDED.sequence_index,
			embedding = EXCLUDED.embedding`, table)

	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for start := 0; start < len(entries); start += vs.config.BatchSize {
		end := min(start+vs.config.BatchSize, len(entries))

		batch := &pgx.Batch{}
		for _, e := range entries[start:end] {
			batch.Queue(stmt,
				e.ID,
				sanitizeText(e.Payload.Text),
				sanitizeText(e.Payload.SourceFile),
				string(e.Payload.FileType),
				e.Payload.SequenceIndex,
				pgvector.NewVector(e.Vector),
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return vs.upsertError(collection, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (vs *VectorStore) upsertError(collection string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgDataException && strings.Contains(pgErr.Message, "dimensions") {
		return fmt.Errorf("%w: %s", types.ErrDimensionMismatch, pgErr.Message)
	}
	return fmt.Errorf("failed to upsert into %s: %w", collection, err)
}

func (vs *VectorStore) Delete(ctx context.Context, collection string, ids []string) error {
	table, err := vs.table(collection)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	if _, err := vs.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ANY($1)", table), ids); err != nil {
		if pgCode(err) == pgUndefinedTable {
			return nil
		}
		return fmt.Errorf("failed to delete from %s: %w", collection, err)
	}
	return nil
}

func (vs *VectorStore) SimilaritySearch(ctx context.Context, collection string, vector []float32, k int) ([]models.ScoredEntry, error) {
	table, err := vs.table(collection)
	if err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if vs.config.EfSearch > 0 {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", vs.config.EfSearch)); err != nil {
			return nil, fmt.Errorf("failed to set ef_search: %w", err)
		}
	}

	query := fmt.Sprintf(`
		SELECT id, text, source_file, file_type, sequence_index, embedding <=> $1 AS distance
		FROM %s
		ORDER BY embedding <=> $1
		LIMIT $2`, table)

	rows, err := tx.Query(ctx, query, pgvector.NewVector(vector), k)
	if err != nil {
		if pgCode(err) == pgUndefinedTable {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query %s: %w", collection, err)
	}
	defer rows.Close()

	var results []models.ScoredEntry
	for rows.Next() {
		var (
			entry    models.IndexEntry
			fileType string
			distance float64
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.Payload.Text,
			&entry.Payload.SourceFile,
			&fileType,
			&entry.Payload.SequenceIndex,
			&distance,
		); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		entry.Payload.FileType = models.FileType(fileType)
		results = append(results, models.ScoredEntry{Entry: entry, Distance: distance})
	}
	if err := rows.Err(); err != nil {
		if pgCode(err) == pgUndefinedTable {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}

	return results, nil
}

func (vs *VectorStore) Close() {
	if vs.pool != nil {
		vs.pool.Close()
	}
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// sanitizeText drops invalid UTF-8 and NUL bytes, which Postgres rejects in
// text columns. PDF extraction produces both.
func sanitizeText(s string) string {
	s = strings.ToValidUTF8(s, "")
	return strings.ReplaceAll(s, "\x00", "")
}
