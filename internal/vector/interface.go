// Package vector provides common interfaces for centroid index implementations.
package vector

import (
	"context"
	"time"
)

// Candidate is one issue centroid returned by a similarity search.
type Candidate struct {
	IssueID      int64
	Centroid     []float32
	UpdatedAt    time.Time
	ArticleCount int
}

// Store defines the interface for centroid index operations.
// Both pgvec.Store and memory.Store implement this interface.
// Implementations may return approximate neighbors; callers treat the
// result as a shortlist, not an exact ranking.
type Store interface {
	// Search returns up to k candidates nearest the query vector by cosine
	// similarity. Fewer than k results (including none) is not an error.
	Search(ctx context.Context, vec []float32, k int) ([]Candidate, error)

	// Upsert stores or replaces the centroid copy for an issue.
	Upsert(ctx context.Context, issueID int64, centroid []float32, updatedAt time.Time, articleCount int) error

	// Delete removes centroids by issue ID.
	Delete(ctx context.Context, issueIDs []int64) error

	// Count returns the number of centroids in the index.
	Count(ctx context.Context) (int64, error)

	// Close releases resources.
	Close() error
}
