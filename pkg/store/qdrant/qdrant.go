// Package qdrant is a vector index backed by the Qdrant REST API.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/xhad/hrrag/internal/models"
	"github.com/xhad/hrrag/internal/types"
	"github.com/xhad/hrrag/pkg/logger"
)

const maxErrorBodyBytes = 1024

type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("qdrant %s: status=%d body=%q", e.Operation, e.StatusCode, e.Body)
}

type envelope struct {
	Result json.RawMessage `json:"result"`
	Status json.RawMessage `json:"status"`
	Time   float64         `json:"time"`
}

type searchResult struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score"`
	Payload models.Chunk    `json:"payload"`
}

type Store struct {
	log     *logger.Logger
	baseURL string
	apiKey  string
	http    *http.Client
}

var _ types.VectorIndex = (*Store)(nil)

func NewStore(log *logger.Logger, config Config) (*Store, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if strings.TrimSpace(config.URL) == "" {
		return nil, fmt.Errorf("qdrant url required")
	}
	if config.Timeout == 0 {
		config.Timeout = 15 * time.Second
	}

	s := &Store{
		log:     log.With("service", "QdrantStore"),
		baseURL: strings.TrimRight(config.URL, "/"),
		apiKey:  config.APIKey,
		http:    &http.Client{Timeout: config.Timeout},
	}
	s.log.Info("Qdrant vector index selected", "url", s.baseURL)
	return s, nil
}

func collectionPath(name, suffix string) string {
	return "/collections/" + url.PathEscape(name) + suffix
}

func (s *Store) CollectionExists(ctx context.Context, name string) (bool, error) {
	if err := types.ValidateCollection(name, ""); err != nil {
		return false, err
	}
	err := s.doJSON(ctx, "get collection", http.MethodGet, collectionPath(name, ""), nil, nil)
	if isStatus(err, http.StatusNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) CreateCollection(ctx context.Context, name string, dimension int, metric models.DistanceMetric) error {
	if err := types.ValidateCollection(name, metric); err != nil {
		return err
	}
	if dimension <= 0 {
		return fmt.Errorf("%w: dimension %d", types.ErrDimensionMismatch, dimension)
	}

	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	err := s.doJSON(ctx, "create collection", http.MethodPut, collectionPath(name, ""), body, nil)
	if isStatus(err, http.StatusConflict) || (isStatus(err, http.StatusBadRequest) && strings.Contains(err.Error(), "already exists")) {
		return fmt.Errorf("%w: %s", types.ErrCollectionAlreadyExists, name)
	}
	return err
}

func (s *Store) DeleteCollection(ctx context.Context, name string) error {
	if err := types.ValidateCollection(name, ""); err != nil {
		return err
	}
	err := s.doJSON(ctx, "delete collection", http.MethodDelete, collectionPath(name, ""), nil, nil)
	if isStatus(err, http.StatusNotFound) {
		return nil
	}
	return err
}

func (s *Store) Upsert(ctx context.Context, collection string, entries []models.IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}

	points := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		points = append(points, map[string]any{
			"id":      e.ID,
			"vector":  e.Vector,
			"payload": e.Payload,
		})
	}

	err := s.doJSON(ctx, "upsert", http.MethodPut, collectionPath(collection, "/points?wait=true"), map[string]any{"points": points}, nil)
	if isStatus(err, http.StatusBadRequest) && strings.Contains(strings.ToLower(err.Error()), "dimension") {
		return fmt.Errorf("%w: %v", types.ErrDimensionMismatch, err)
	}
	return err
}

func (s *Store) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.doJSON(ctx, "delete points", http.MethodPost, collectionPath(collection, "/points/delete?wait=true"), map[string]any{"points": ids}, nil)
	if isStatus(err, http.StatusNotFound) {
		return nil
	}
	return err
}

func (s *Store) SimilaritySearch(ctx context.Context, collection string, vector []float32, k int) ([]models.ScoredEntry, error) {
	if k <= 0 {
		return nil, nil
	}

	req := map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
		"with_vector":  false,
	}
	var raw []searchResult
	err := s.doJSON(ctx, "search", http.MethodPost, collectionPath(collection, "/points/search"), req, &raw)
	if isStatus(err, http.StatusNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	results := make([]models.ScoredEntry, 0, len(raw))
	for _, r := range raw {
		results = append(results, models.ScoredEntry{
			Entry: models.IndexEntry{
				ID:      pointID(r.ID),
				Payload: r.Payload,
			},
			Distance: 1 - r.Score,
		})
	}
	return results, nil
}

func (s *Store) Close() {
	s.http.CloseIdleConnections()
}

// pointID renders a Qdrant id, which is either a UUID string or an integer.
func pointID(raw json.RawMessage) string {
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	return strings.TrimSpace(string(raw))
}

func (s *Store) doJSON(ctx context.Context, op, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return fmt.Errorf("qdrant %s: encode request: %w", op, err)
		}
		body = &buf
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("qdrant %s: build request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s: request failed: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("qdrant %s: read response: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(raw) > maxErrorBodyBytes {
			raw = raw[:maxErrorBodyBytes]
		}
		return &StatusError{Operation: op, StatusCode: resp.StatusCode, Body: string(raw)}
	}

	if out == nil {
		return nil
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("qdrant %s: decode envelope: %w", op, err)
	}
	if len(env.Result) == 0 || string(env.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("qdrant %s: decode result: %w", op, err)
	}
	return nil
}

func isStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}
