// Package pgvec provides a pgvector-backed centroid index. It searches and
// writes the same issue_embeddings table that the relational store
// updates in the issue's transaction, so retrieval sees the committed
// centroids.
package pgvec

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/thebtf/issuestream/internal/vector"
)

// Store is a centroid index over the issue_embeddings table using the
// pgvector cosine distance operator.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects a pgx pool to the given DSN and registers the
// pgvector types on every connection.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pgvector dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect pgvector pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pgvector pool: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Search returns the k nearest issue centroids by cosine similarity.
// The join pulls updated_at and article_count so the decision core can
// score candidates without a second round trip per issue.
func (s *Store) Search(ctx context.Context, vec []float32, k int) ([]vector.Candidate, error) {
	if k <= 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT e.issue_id, e.dense, i.updated_at, i.article_count
		FROM issue_embeddings e
		JOIN issues i ON i.id = e.issue_id
		ORDER BY e.dense <=> $1
		LIMIT $2
	`, pgvector.NewVector(vec), k)
	if err != nil {
		return nil, fmt.Errorf("search centroids: %w", err)
	}
	defer rows.Close()

	var candidates []vector.Candidate
	for rows.Next() {
		var (
			issueID      int64
			dense        pgvector.Vector
			updatedAt    time.Time
			articleCount int
		)
		if err := rows.Scan(&issueID, &dense, &updatedAt, &articleCount); err != nil {
			return nil, fmt.Errorf("scan centroid row: %w", err)
		}
		candidates = append(candidates, vector.Candidate{
			IssueID:      issueID,
			Centroid:     dense.Slice(),
			UpdatedAt:    updatedAt,
			ArticleCount: articleCount,
		})
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate centroid rows: %w", rows.Err())
	}
	return candidates, nil
}

// Upsert writes the centroid copy for an issue.
func (s *Store) Upsert(ctx context.Context, issueID int64, centroid []float32, _ time.Time, _ int) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO issue_embeddings (issue_id, dense, created_at)
		VALUES ($1, $2, now())
		ON CONFLICT (issue_id) DO UPDATE SET dense = EXCLUDED.dense
	`, issueID, pgvector.NewVector(centroid))
	if err != nil {
		return fmt.Errorf("upsert centroid %d: %w", issueID, err)
	}
	return nil
}

// Delete removes centroid copies by issue ID.
func (s *Store) Delete(ctx context.Context, issueIDs []int64) error {
	if len(issueIDs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM issue_embeddings WHERE issue_id = ANY($1)`, issueIDs)
	if err != nil {
		return fmt.Errorf("delete centroids: %w", err)
	}
	return nil
}

// Count returns the number of stored centroids.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM issue_embeddings`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count centroids: %w", err)
	}
	return count, nil
}

// Reconcile re-reads the centroid stored for an issue in
// issue_embeddings, the table the relational store commits centroids to.
func (s *Store) Reconcile(ctx context.Context, issueID int64) ([]float32, error) {
	var dense pgvector.Vector
	err := s.pool.QueryRow(ctx, `
		SELECT dense FROM issue_embeddings WHERE issue_id = $1
	`, issueID).Scan(&dense)
	if err != nil {
		return nil, fmt.Errorf("reconcile centroid %d: %w", issueID, err)
	}
	return dense.Slice(), nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
