// Package cluster implements the streaming decision core: each incoming
// article is either merged into the best-matching issue or opens a new
// one, based on semantic similarity blended with time decay.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/thebtf/issuestream/internal/metrics"
	"github.com/thebtf/issuestream/internal/vector"
	"github.com/thebtf/issuestream/pkg/models"
)

// Embedder turns article text into a dense vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Store is the transactional persistence surface the engine drives. Each
// mutating call commits atomically: the article row, its embedding, and
// the issue mutation land together or not at all.
type Store interface {
	// FindArticleByTitleHash returns the article carrying hash, or nil
	// when no such article exists.
	FindArticleByTitleHash(ctx context.Context, hash string) (*models.Article, error)

	// MergeArticle attaches art to the issue, updates the centroid with
	// the moving-average rule under an optimistic concurrency check, and
	// returns the updated issue and new centroid. A zero art.ID inserts
	// the article; a nonzero ID reassigns the existing row.
	MergeArticle(ctx context.Context, issueID int64, art *models.Article, vec []float32, now time.Time) (*models.Issue, []float32, error)

	// CreateIssue opens a new issue seeded by art; the issue centroid is
	// the article vector itself.
	CreateIssue(ctx context.Context, art *models.Article, vec []float32, now time.Time) (*models.Issue, error)

	// SaveBacklogArticle persists art unassigned so a later backlog run
	// can retry the decision. Returns false when the title hash already
	// exists.
	SaveBacklogArticle(ctx context.Context, art *models.Article, vec []float32, now time.Time) (bool, error)

	// ListUnassigned returns up to limit articles still carrying issue_id
	// zero, oldest first.
	ListUnassigned(ctx context.Context, limit int) ([]models.Article, error)

	// ArticleEmbedding returns the stored dense vector for an article.
	ArticleEmbedding(ctx context.Context, articleID int64) ([]float32, error)
}

// DeadLetterFunc receives articles whose processing hit an invariant
// violation. Implementations must not retry the article blindly.
type DeadLetterFunc func(ctx context.Context, art *models.Article, err error)

// Engine wires the embedder, candidate index, and relational store into
// the decision pipeline.
type Engine struct {
	embedder Embedder
	index    vector.Store
	store    Store
	params   Params

	log        zerolog.Logger
	metrics    *metrics.Pipeline
	deadLetter DeadLetterFunc

	// now is swapped in tests to pin freshness weights.
	now func() time.Time
}

// Option customizes an Engine.
type Option func(*Engine)

// WithDeadLetter installs the hook invoked on invariant violations.
func WithDeadLetter(fn DeadLetterFunc) Option {
	return func(e *Engine) { e.deadLetter = fn }
}

// WithMetrics attaches the pipeline instruments.
func WithMetrics(m *metrics.Pipeline) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock overrides the engine's time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine builds an engine with the given dependencies and parameters.
func NewEngine(embedder Embedder, index vector.Store, store Store, params Params, log zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		embedder: embedder,
		index:    index,
		store:    store,
		params:   params,
		log:      log.With().Str("component", "cluster").Logger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Process runs the full pipeline for one fetched article: dedup, embed,
// retrieve, score, decide, persist. The returned decision describes the
// committed outcome; on error nothing was written.
func (e *Engine) Process(ctx context.Context, item models.CrawlItem) (*models.Decision, error) {
	start := e.now()

	hash := models.TitleHash(item.Title)
	if dec, err := e.checkDuplicate(ctx, hash); dec != nil || err != nil {
		if dec != nil {
			e.report(ctx, dec, e.now().Sub(start))
		}
		return dec, err
	}

	vec, err := e.embed(ctx, nil, item.Title, item.Content)
	if err != nil {
		return nil, err
	}

	art := &models.Article{
		Title:     item.Title,
		Content:   item.Content,
		Source:    item.Source.Name(),
		URL:       item.URL,
		TitleHash: hash,
	}
	if !item.PublishedAt.IsZero() {
		published := item.PublishedAt
		art.PublishedAt = &published
	}

	dec, err := e.assign(ctx, art, vec)
	if err != nil {
		return nil, err
	}
	e.report(ctx, dec, e.now().Sub(start))
	return dec, nil
}

// Run drains the backlog of unassigned articles using their stored
// embeddings, committing a decision for each. It stops at the first
// error so a poison article does not spin the whole batch.
func (e *Engine) Run(ctx context.Context, batch int) (int, error) {
	arts, err := e.store.ListUnassigned(ctx, batch)
	if err != nil {
		if mapped := mapContextErr(err); mapped != nil {
			return 0, mapped
		}
		return 0, fmt.Errorf("%w: list unassigned: %w", ErrRetrieval, err)
	}

	processed := 0
	for i := range arts {
		art := &arts[i]
		start := e.now()

		vec, err := e.store.ArticleEmbedding(ctx, art.ID)
		if err != nil {
			if mapped := mapContextErr(err); mapped != nil {
				return processed, mapped
			}
			return processed, fmt.Errorf("%w: embedding for article %d: %w", ErrRetrieval, art.ID, err)
		}
		if !validVector(vec, e.params.Dim) {
			e.poison(ctx, art, fmt.Errorf("%w: stored vector for article %d has dimension %d, want %d", ErrInvariant, art.ID, len(vec), e.params.Dim))
			return processed, ErrInvariant
		}

		dec, err := e.assign(ctx, art, vec)
		if err != nil {
			return processed, err
		}
		e.report(ctx, dec, e.now().Sub(start))
		processed++
	}
	return processed, nil
}

// checkDuplicate returns a duplicate decision when an article with the
// same title hash has already been assigned to an issue.
func (e *Engine) checkDuplicate(ctx context.Context, hash string) (*models.Decision, error) {
	existing, err := e.store.FindArticleByTitleHash(ctx, hash)
	if err != nil {
		if mapped := mapContextErr(err); mapped != nil {
			return nil, mapped
		}
		return nil, fmt.Errorf("%w: lookup title hash: %w", ErrRetrieval, err)
	}
	if existing == nil || existing.IssueID == 0 {
		return nil, nil
	}
	return &models.Decision{
		ArticleID: existing.ID,
		IssueID:   existing.IssueID,
		Action:    models.ActionDuplicate,
	}, nil
}

// embed fetches the dense vector for an article's text and validates it.
func (e *Engine) embed(ctx context.Context, art *models.Article, title, content string) ([]float32, error) {
	vec, err := e.embedder.Embed(ctx, title+" "+content)
	if err != nil {
		if mapped := mapContextErr(err); mapped != nil {
			return nil, mapped
		}
		return nil, fmt.Errorf("%w: %w", ErrEmbedder, err)
	}
	if !validVector(vec, e.params.Dim) {
		err := fmt.Errorf("%w: embedder returned dimension %d, want %d", ErrEmbedder, len(vec), e.params.Dim)
		if len(vec) == e.params.Dim {
			err = fmt.Errorf("%w: embedder returned NaN or Inf component", ErrInvariant)
			e.poison(ctx, art, err)
		}
		return nil, err
	}
	return vec, nil
}

// assign runs retrieval, scoring, and the persistence step for an
// article whose vector is already known.
func (e *Engine) assign(ctx context.Context, art *models.Article, vec []float32) (*models.Decision, error) {
	now := e.now()

	cands, err := e.index.Search(ctx, vec, e.params.TopK)
	if err != nil {
		if mapped := mapContextErr(err); mapped != nil {
			return nil, mapped
		}
		return nil, fmt.Errorf("%w: %w", ErrRetrieval, err)
	}

	scored := ScoreCandidates(vec, cands, now, e.params)
	verdict := Decide(scored)

	var dec *models.Decision
	if verdict.Merge {
		dec, err = e.commitMerge(ctx, art, vec, now, verdict)
	} else {
		dec, err = e.commitCreate(ctx, art, vec, now, verdict)
	}
	if errors.Is(err, ErrInvariant) {
		e.poison(ctx, art, err)
	}
	return dec, err
}

func (e *Engine) commitMerge(ctx context.Context, art *models.Article, vec []float32, now time.Time, verdict Verdict) (*models.Decision, error) {
	best := verdict.Best
	issue, centroid, err := e.store.MergeArticle(ctx, best.IssueID, art, vec, now)
	if err != nil {
		if mapped := mapContextErr(err); mapped != nil {
			return nil, mapped
		}
		if errors.Is(err, ErrConflict) {
			e.metrics.Conflict(ctx)
			if art.ID == 0 {
				e.parkForBacklog(ctx, art, vec, now)
			}
		}
		return nil, err
	}

	e.syncIndex(ctx, issue.ID, centroid, issue.UpdatedAt, issue.ArticleCount)

	return &models.Decision{
		ArticleID:    art.ID,
		IssueID:      issue.ID,
		Action:       models.ActionMerged,
		Score:        best.Score,
		Similarity:   best.Similarity,
		Threshold:    best.Threshold,
		Separability: verdict.Separability,
		Candidates:   len(verdict.Candidates),
	}, nil
}

func (e *Engine) commitCreate(ctx context.Context, art *models.Article, vec []float32, now time.Time, verdict Verdict) (*models.Decision, error) {
	issue, err := e.store.CreateIssue(ctx, art, vec, now)
	if err != nil {
		if mapped := mapContextErr(err); mapped != nil {
			return nil, mapped
		}
		return nil, err
	}

	e.syncIndex(ctx, issue.ID, vec, issue.UpdatedAt, issue.ArticleCount)

	dec := &models.Decision{
		ArticleID:    art.ID,
		IssueID:      issue.ID,
		Action:       models.ActionCreated,
		Separability: verdict.Separability,
		Candidates:   len(verdict.Candidates),
	}
	if verdict.Best != nil {
		dec.Score = verdict.Best.Score
		dec.Similarity = verdict.Best.Similarity
		dec.Threshold = verdict.Best.Threshold
	}
	return dec, nil
}

// parkForBacklog saves a conflicted article unassigned so the next
// backlog run retries the decision against fresh candidate state.
func (e *Engine) parkForBacklog(ctx context.Context, art *models.Article, vec []float32, now time.Time) {
	saved, err := e.store.SaveBacklogArticle(ctx, art, vec, now)
	if err != nil {
		e.log.Warn().Err(err).Str("title_hash", art.TitleHash).Msg("backlog save failed; article must be resubmitted")
		return
	}
	if saved {
		e.log.Info().Int64("article_id", art.ID).Msg("article parked for backlog after centroid conflict")
	}
}

// syncIndex pushes the committed centroid to the candidate index. The
// relational store stays authoritative, so an index failure is logged
// and left for reconciliation rather than failing the decision.
func (e *Engine) syncIndex(ctx context.Context, issueID int64, centroid []float32, updatedAt time.Time, articleCount int) {
	if err := e.index.Upsert(ctx, issueID, centroid, updatedAt, articleCount); err != nil {
		e.log.Warn().Err(err).Int64("issue_id", issueID).Msg("centroid index upsert failed; index will lag until reconciled")
	}
}

// poison logs an invariant violation and hands the article to the
// dead-letter hook.
func (e *Engine) poison(ctx context.Context, art *models.Article, err error) {
	ev := e.log.Error().Err(err)
	if art != nil {
		ev = ev.Int64("article_id", art.ID).Str("title_hash", art.TitleHash)
	}
	ev.Msg("invariant violation; routing to dead letter")
	e.metrics.DeadLetter(ctx, "invariant")
	if e.deadLetter != nil {
		e.deadLetter(ctx, art, err)
	}
}

// report logs and counts one committed decision.
func (e *Engine) report(ctx context.Context, dec *models.Decision, elapsed time.Duration) {
	e.log.Info().
		Str("action", string(dec.Action)).
		Int64("article_id", dec.ArticleID).
		Int64("issue_id", dec.IssueID).
		Float64("score", dec.Score).
		Float64("similarity", dec.Similarity).
		Float64("threshold", dec.Threshold).
		Float64("separability", dec.Separability).
		Int("candidates", dec.Candidates).
		Dur("elapsed", elapsed).
		Msg("decision committed")
	e.metrics.Decision(ctx, string(dec.Action), elapsed)
}
