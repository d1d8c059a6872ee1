// Package memory provides an exact, in-process centroid index. It is the
// reference implementation used by the test suite and by cold-start
// deployments that have no external index yet.
package memory

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/thebtf/issuestream/internal/vector"
)

type entry struct {
	centroid     []float32
	updatedAt    time.Time
	articleCount int
}

// Store is a brute-force cosine-similarity index over issue centroids.
type Store struct {
	mu      sync.RWMutex
	entries map[int64]entry
}

// NewStore creates an empty in-memory index.
func NewStore() *Store {
	return &Store{entries: make(map[int64]entry)}
}

// Search scans every centroid and returns the top k by cosine similarity.
func (s *Store) Search(ctx context.Context, vec []float32, k int) ([]vector.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	type scored struct {
		cand vector.Candidate
		sim  float64
	}
	results := make([]scored, 0, len(s.entries))
	for id, e := range s.entries {
		centroid := make([]float32, len(e.centroid))
		copy(centroid, e.centroid)
		results = append(results, scored{
			cand: vector.Candidate{
				IssueID:      id,
				Centroid:     centroid,
				UpdatedAt:    e.updatedAt,
				ArticleCount: e.articleCount,
			},
			sim: cosine(vec, e.centroid),
		})
	}
	s.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		if results[i].sim != results[j].sim {
			return results[i].sim > results[j].sim
		}
		return results[i].cand.IssueID < results[j].cand.IssueID
	})

	if len(results) > k {
		results = results[:k]
	}
	out := make([]vector.Candidate, len(results))
	for i, r := range results {
		out[i] = r.cand
	}
	return out, nil
}

// Upsert stores or replaces the centroid for an issue.
func (s *Store) Upsert(ctx context.Context, issueID int64, centroid []float32, updatedAt time.Time, articleCount int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp := make([]float32, len(centroid))
	copy(cp, centroid)

	s.mu.Lock()
	s.entries[issueID] = entry{centroid: cp, updatedAt: updatedAt, articleCount: articleCount}
	s.mu.Unlock()
	return nil
}

// Delete removes centroids by issue ID.
func (s *Store) Delete(ctx context.Context, issueIDs []int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	for _, id := range issueIDs {
		delete(s.entries, id)
	}
	s.mu.Unlock()
	return nil
}

// Count returns the number of centroids in the index.
func (s *Store) Count(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.entries)), nil
}

// Close is a no-op for the in-memory index.
func (s *Store) Close() error { return nil }

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
