// Package mongo implements the metadata store on MongoDB.
package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/xhad/hrrag/internal/models"
	"github.com/xhad/hrrag/internal/types"
)

const (
	chunksCollection  = "chunk_metadata"
	queriesCollection = "query_log"
)

type Config struct {
	URI      string
	Database string
	Timeout  time.Duration
}

type chunkDoc struct {
	ID            string    `bson:"_id"`
	Collection    string    `bson:"collection"`
	SourceFile    string    `bson:"source_file"`
	FileType      string    `bson:"file_type"`
	SequenceIndex int       `bson:"sequence_index"`
	IngestedAt    time.Time `bson:"ingested_at"`
}

type queryDoc struct {
	Question   string    `bson:"question"`
	Answer     string    `bson:"answer"`
	Sources    []string  `bson:"sources"`
	Confidence float64   `bson:"confidence"`
	Outcome    string    `bson:"outcome"`
	Timestamp  time.Time `bson:"timestamp"`
}

type Store struct {
	client  *mongo.Client
	chunks  *mongo.Collection
	queries *mongo.Collection
}

var _ types.MetadataStore = (*Store)(nil)

func NewStore(ctx context.Context, config Config) (*Store, error) {
	if config.Database == "" {
		config.Database = "hr_rag"
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}

	opts := options.Client().ApplyURI(config.URI).SetTimeout(config.Timeout)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	db := client.Database(config.Database)
	s := &Store{
		client:  client,
		chunks:  db.Collection(chunksCollection),
		queries: db.Collection(queriesCollection),
	}

	_, err = s.chunks.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "source_file", Value: 1}, {Key: "ingested_at", Value: 1}, {Key: "sequence_index", Value: 1}},
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to create chunk index: %w", err)
	}
	return s, nil
}

func (s *Store) RecordChunks(ctx context.Context, records []models.ChunkRecord) error {
	if len(records) == 0 {
		return nil
	}
	docs := make([]interface{}, len(records))
	for i, r := range records {
		docs[i] = chunkDoc{
			ID:            r.ID,
			Collection:    r.Collection,
			SourceFile:    r.SourceFile,
			FileType:      string(r.FileType),
			SequenceIndex: r.SequenceIndex,
			IngestedAt:    r.IngestedAt,
		}
	}
	if _, err := s.chunks.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("failed to record chunks: %w", err)
	}
	return nil
}

func (s *Store) ChunksBySource(ctx context.Context, sourceFile string) ([]models.ChunkRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "ingested_at", Value: 1}, {Key: "sequence_index", Value: 1}})
	cur, err := s.chunks.Find(ctx, bson.M{"source_file": sourceFile}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}

	var docs []chunkDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode chunks: %w", err)
	}

	records := make([]models.ChunkRecord, len(docs))
	for i, d := range docs {
		records[i] = models.ChunkRecord{
			ID:            d.ID,
			Collection:    d.Collection,
			SourceFile:    d.SourceFile,
			FileType:      models.FileType(d.FileType),
			SequenceIndex: d.SequenceIndex,
			IngestedAt:    d.IngestedAt.UTC(),
		}
	}
	return records, nil
}

func (s *Store) LogQuery(ctx context.Context, record models.QueryLogRecord) error {
	sources := record.Sources
	if sources == nil {
		sources = []string{}
	}
	_, err := s.queries.InsertOne(ctx, queryDoc{
		Question:   record.Question,
		Answer:     record.Answer,
		Sources:    sources,
		Confidence: record.Confidence,
		Outcome:    string(record.Outcome),
		Timestamp:  record.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to log query: %w", err)
	}
	return nil
}

func (s *Store) Analytics(ctx context.Context, topN int) (models.Analytics, error) {
	var a models.Analytics

	total, err := s.queries.CountDocuments(ctx, bson.M{})
	if err != nil {
		return a, fmt.Errorf("failed to count queries: %w", err)
	}
	a.TotalQueries = int(total)

	var avg []struct {
		Avg float64 `bson:"avg"`
	}
	if err := s.aggregate(ctx, mongo.Pipeline{
		{{Key: "$group", Value: bson.D{{Key: "_id", Value: nil}, {Key: "avg", Value: bson.D{{Key: "$avg", Value: "$confidence"}}}}}},
	}, &avg); err != nil {
		return a, err
	}
	if len(avg) > 0 {
		a.AvgConfidence = avg[0].Avg
	}

	if a.TopQuestions, err = s.topValues(ctx, nil, "$question", topN); err != nil {
		return a, err
	}
	unwind := bson.D{{Key: "$unwind", Value: "$sources"}}
	if a.TopSources, err = s.topValues(ctx, unwind, "$sources", topN); err != nil {
		return a, err
	}
	return a, nil
}

func (s *Store) topValues(ctx context.Context, pre bson.D, field string, topN int) ([]models.FrequencyCount, error) {
	if topN <= 0 {
		return nil, nil
	}
	var pipeline mongo.Pipeline
	if pre != nil {
		pipeline = append(pipeline, pre)
	}
	pipeline = append(pipeline,
		bson.D{{Key: "$group", Value: bson.D{{Key: "_id", Value: field}, {Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}}}}},
		bson.D{{Key: "$sort", Value: bson.D{{Key: "count", Value: -1}, {Key: "_id", Value: 1}}}},
		bson.D{{Key: "$limit", Value: topN}},
	)

	var rows []struct {
		Value string `bson:"_id"`
		Count int    `bson:"count"`
	}
	if err := s.aggregate(ctx, pipeline, &rows); err != nil {
		return nil, err
	}

	counts := make([]models.FrequencyCount, len(rows))
	for i, r := range rows {
		counts[i] = models.FrequencyCount{Value: r.Value, Count: r.Count}
	}
	return counts, nil
}

func (s *Store) aggregate(ctx context.Context, pipeline mongo.Pipeline, out interface{}) error {
	cur, err := s.queries.Aggregate(ctx, pipeline)
	if err != nil {
		return fmt.Errorf("failed to aggregate query log: %w", err)
	}
	if err := cur.All(ctx, out); err != nil {
		return fmt.Errorf("failed to decode aggregation: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
