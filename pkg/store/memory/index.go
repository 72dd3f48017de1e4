// Package memory provides process-local backends for tests and single-run CLI
// use. Nothing is persisted.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/xhad/hrrag/internal/models"
	"github.com/xhad/hrrag/internal/types"
)

type collection struct {
	dimension int
	order     []string
	entries   map[string]models.IndexEntry
}

// Index is a brute-force cosine vector index.
type Index struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

var _ types.VectorIndex = (*Index)(nil)

func NewIndex() *Index {
	return &Index{collections: make(map[string]*collection)}
}

func (x *Index) CollectionExists(_ context.Context, name string) (bool, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.collections[name]
	return ok, nil
}

func (x *Index) CreateCollection(_ context.Context, name string, dimension int, metric models.DistanceMetric) error {
	if err := types.ValidateCollection(name, metric); err != nil {
		return err
	}
	if dimension <= 0 {
		return fmt.Errorf("%w: dimension %d", types.ErrDimensionMismatch, dimension)
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.collections[name]; ok {
		return fmt.Errorf("%w: %s", types.ErrCollectionAlreadyExists, name)
	}
	x.collections[name] = &collection{dimension: dimension, entries: make(map[string]models.IndexEntry)}
	return nil
}

func (x *Index) DeleteCollection(_ context.Context, name string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.collections, name)
	return nil
}

func (x *Index) Upsert(_ context.Context, name string, entries []models.IndexEntry) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	c, ok := x.collections[name]
	if !ok {
		return fmt.Errorf("collection %s does not exist", name)
	}
	for _, e := range entries {
		if len(e.Vector) != c.dimension {
			return fmt.Errorf("%w: expected %d, got %d", types.ErrDimensionMismatch, c.dimension, len(e.Vector))
		}
	}
	for _, e := range entries {
		if _, exists := c.entries[e.ID]; !exists {
			c.order = append(c.order, e.ID)
		}
		e.Vector = append([]float32(nil), e.Vector...)
		c.entries[e.ID] = e
	}
	return nil
}

func (x *Index) Delete(_ context.Context, name string, ids []string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	c, ok := x.collections[name]
	if !ok {
		return nil
	}
	for _, id := range ids {
		delete(c.entries, id)
	}
	kept := c.order[:0]
	for _, id := range c.order {
		if _, ok := c.entries[id]; ok {
			kept = append(kept, id)
		}
	}
	c.order = kept
	return nil
}

func (x *Index) SimilaritySearch(_ context.Context, name string, vector []float32, k int) ([]models.ScoredEntry, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	c, ok := x.collections[name]
	if !ok || k <= 0 {
		return nil, nil
	}
	if len(vector) != c.dimension {
		return nil, fmt.Errorf("%w: expected %d, got %d", types.ErrDimensionMismatch, c.dimension, len(vector))
	}

	results := make([]models.ScoredEntry, 0, len(c.order))
	for _, id := range c.order {
		e := c.entries[id]
		results = append(results, models.ScoredEntry{Entry: e, Distance: cosineDistance(e.Vector, vector)})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})

	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

// Len reports the number of entries in a collection.
func (x *Index) Len(name string) int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if c, ok := x.collections[name]; ok {
		return len(c.entries)
	}
	return 0
}

func (x *Index) Close() {}

// cosineDistance is 1 - cos(a, b). A zero vector is treated as orthogonal.
func cosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
