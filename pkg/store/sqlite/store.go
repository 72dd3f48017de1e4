// Package sqlite implements the metadata store on an embedded SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/xhad/hrrag/internal/models"
	"github.com/xhad/hrrag/internal/types"
	"github.com/xhad/hrrag/pkg/store/sqlite/migrations"
)

const dbFile = "metadata.db"

type Store struct {
	db   *sql.DB
	path string
}

var _ types.MetadataStore = (*Store)(nil)

// NewStore opens or creates metadata.db in dataDir. An empty dataDir means
// ~/.hrrag/data.
func NewStore(dataDir string) (*Store, error) {
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".hrrag", "data")
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	path := filepath.Join(dataDir, dbFile)
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(fsys fs.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	var upFiles []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".up.sql") {
			upFiles = append(upFiles, e.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= current {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}
	return nil
}

func (s *Store) RecordChunks(ctx context.Context, records []models.ChunkRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunk_metadata (id, collection, source_file, file_type, sequence_index, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.ID, r.Collection, r.SourceFile, string(r.FileType), r.SequenceIndex, r.IngestedAt.UnixNano()); err != nil {
			return fmt.Errorf("inserting chunk %s: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing chunks: %w", err)
	}
	return nil
}

func (s *Store) ChunksBySource(ctx context.Context, sourceFile string) ([]models.ChunkRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, collection, source_file, file_type, sequence_index, ingested_at
		FROM chunk_metadata
		WHERE source_file = ?
		ORDER BY ingested_at, sequence_index`, sourceFile)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	var records []models.ChunkRecord
	for rows.Next() {
		var (
			r          models.ChunkRecord
			fileType   string
			ingestedAt int64
		)
		if err := rows.Scan(&r.ID, &r.Collection, &r.SourceFile, &fileType, &r.SequenceIndex, &ingestedAt); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		r.FileType = models.FileType(fileType)
		r.IngestedAt = time.Unix(0, ingestedAt).UTC()
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *Store) LogQuery(ctx context.Context, record models.QueryLogRecord) error {
	sources := record.Sources
	if sources == nil {
		sources = []string{}
	}
	sourcesJSON, err := json.Marshal(sources)
	if err != nil {
		return fmt.Errorf("marshalling sources: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO query_log (question, answer, sources, confidence, outcome, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		record.Question, record.Answer, string(sourcesJSON), record.Confidence,
		string(record.Outcome), record.Timestamp.UnixNano())
	if err != nil {
		return fmt.Errorf("logging query: %w", err)
	}
	return nil
}

func (s *Store) Analytics(ctx context.Context, topN int) (models.Analytics, error) {
	var a models.Analytics
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(AVG(confidence), 0) FROM query_log",
	).Scan(&a.TotalQueries, &a.AvgConfidence)
	if err != nil {
		return a, fmt.Errorf("aggregating query log: %w", err)
	}

	a.TopQuestions, err = s.frequencies(ctx, `
		SELECT question, COUNT(*) AS n FROM query_log
		GROUP BY question ORDER BY n DESC, question LIMIT ?`, topN)
	if err != nil {
		return a, err
	}

	a.TopSources, err = s.frequencies(ctx, `
		SELECT j.value, COUNT(*) AS n FROM query_log, json_each(query_log.sources) AS j
		GROUP BY j.value ORDER BY n DESC, j.value LIMIT ?`, topN)
	if err != nil {
		return a, err
	}
	return a, nil
}

func (s *Store) frequencies(ctx context.Context, query string, topN int) ([]models.FrequencyCount, error) {
	rows, err := s.db.QueryContext(ctx, query, topN)
	if err != nil {
		return nil, fmt.Errorf("querying frequencies: %w", err)
	}
	defer rows.Close()

	var counts []models.FrequencyCount
	for rows.Next() {
		var fc models.FrequencyCount
		if err := rows.Scan(&fc.Value, &fc.Count); err != nil {
			return nil, fmt.Errorf("scanning frequency: %w", err)
		}
		counts = append(counts, fc)
	}
	return counts, rows.Err()
}
