package cluster

import (
	"context"
	"errors"
)

// Error kinds surfaced by the decision pipeline. All are recoverable by
// retrying the article except ErrInvariant, which is poison: it is logged,
// routed to the dead-letter hook, and must never be retried blindly.
var (
	// ErrEmbedder means the upstream embedder failed or returned a vector
	// of the wrong dimension.
	ErrEmbedder = errors.New("embedder failure")

	// ErrRetrieval means the centroid index was unreachable or returned a
	// malformed response. An empty index is not an error.
	ErrRetrieval = errors.New("candidate retrieval failure")

	// ErrConflict means the optimistic concurrency check on a centroid
	// update kept failing past the retry budget.
	ErrConflict = errors.New("persistence conflict")

	// ErrDeadline means the ingest deadline was exceeded or the event was
	// cancelled before any write committed.
	ErrDeadline = errors.New("deadline exceeded")

	// ErrInvariant means the article or issue state violated a structural
	// invariant: NaN in a vector, centroid dimension mismatch, or an issue
	// with article_count below one.
	ErrInvariant = errors.New("invariant violation")
)

// Recoverable reports whether the caller may retry the article after err.
func Recoverable(err error) bool {
	return err != nil && !errors.Is(err, ErrInvariant)
}

// mapContextErr converts context cancellation into the pipeline's
// deadline error kind so callers see a single classification.
func mapContextErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrDeadline
	}
	return nil
}
