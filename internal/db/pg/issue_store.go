package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/issuestream/internal/cluster"
	"github.com/thebtf/issuestream/pkg/models"
)

// casRetries bounds the optimistic concurrency attempts on a centroid
// update, the first attempt included.
const casRetries = 3

// errLostRace aborts a merge transaction whose concurrency check failed
// so the attempt can restart with fresh issue state.
var errLostRace = errors.New("lost centroid race")

// FindArticleByTitleHash returns the article carrying hash, or nil when
// no such article exists.
func (s *Store) FindArticleByTitleHash(ctx context.Context, hash string) (*models.Article, error) {
	var row Article
	err := s.DB.WithContext(ctx).Where("title_hash = ?", hash).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find article by title hash: %w", err)
	}
	return articleOut(&row), nil
}

// MergeArticle attaches art to an issue and applies the moving-average
// centroid update. The issue row carries the optimistic concurrency
// token: the UPDATE is conditioned on the article_count observed at the
// start of the attempt, and a lost race re-reads fresh state and tries
// again, up to casRetries attempts in all, before reporting a conflict.
func (s *Store) MergeArticle(ctx context.Context, issueID int64, art *models.Article, vec []float32, now time.Time) (*models.Issue, []float32, error) {
	var (
		outIssue    *models.Issue
		outCentroid []float32
	)

	for attempt := 0; attempt < casRetries; attempt++ {
		err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var issue Issue
			if err := tx.First(&issue, issueID).Error; err != nil {
				return fmt.Errorf("load issue %d: %w", issueID, err)
			}
			if issue.ArticleCount < 1 {
				return fmt.Errorf("%w: issue %d has article_count %d", cluster.ErrInvariant, issueID, issue.ArticleCount)
			}

			var emb IssueEmbedding
			if err := tx.First(&emb, issueID).Error; err != nil {
				return fmt.Errorf("load centroid %d: %w", issueID, err)
			}
			centroid := emb.Dense.Slice()
			if len(centroid) != len(vec) {
				return fmt.Errorf("%w: centroid %d has dimension %d, article vector %d", cluster.ErrInvariant, issueID, len(centroid), len(vec))
			}

			next := cluster.UpdateCentroid(centroid, issue.ArticleCount, vec)

			res := tx.Model(&Issue{}).
				Where("id = ? AND article_count = ?", issueID, issue.ArticleCount).
				Updates(map[string]any{
					"article_count": issue.ArticleCount + 1,
					"updated_at":    now,
				})
			if res.Error != nil {
				return fmt.Errorf("bump issue %d: %w", issueID, res.Error)
			}
			if res.RowsAffected == 0 {
				return errLostRace
			}

			if err := tx.Model(&IssueEmbedding{}).
				Where("issue_id = ?", issueID).
				Update("dense", pgvector.NewVector(next)).Error; err != nil {
				return fmt.Errorf("update centroid %d: %w", issueID, err)
			}

			if err := persistArticle(tx, art, issueID, vec, now); err != nil {
				return err
			}

			outIssue = &models.Issue{
				ID:           issue.ID,
				Title:        issue.Title,
				Content:      issue.Content,
				ArticleCount: issue.ArticleCount + 1,
				StartedAt:    issue.StartedAt,
				UpdatedAt:    now,
				CreatedAt:    issue.CreatedAt,
			}
			outCentroid = next
			return nil
		})
		if err == nil {
			return outIssue, outCentroid, nil
		}
		if errors.Is(err, errLostRace) {
			continue
		}
		return nil, nil, err
	}
	return nil, nil, fmt.Errorf("%w: issue %d after %d attempts", cluster.ErrConflict, issueID, casRetries)
}

// CreateIssue opens a new issue seeded by art. The issue centroid is the
// article vector itself.
func (s *Store) CreateIssue(ctx context.Context, art *models.Article, vec []float32, now time.Time) (*models.Issue, error) {
	var out *models.Issue
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		issue := Issue{
			Title:        art.Title,
			Content:      art.Content,
			ArticleCount: 1,
			StartedAt:    now,
			UpdatedAt:    now,
			CreatedAt:    now,
		}
		if err := tx.Create(&issue).Error; err != nil {
			return fmt.Errorf("create issue: %w", err)
		}

		if err := tx.Create(&IssueEmbedding{
			IssueID:   issue.ID,
			Dense:     pgvector.NewVector(vec),
			CreatedAt: now,
		}).Error; err != nil {
			return fmt.Errorf("create centroid %d: %w", issue.ID, err)
		}

		if err := persistArticle(tx, art, issue.ID, vec, now); err != nil {
			return err
		}

		out = &models.Issue{
			ID:           issue.ID,
			Title:        issue.Title,
			Content:      issue.Content,
			ArticleCount: 1,
			StartedAt:    now,
			UpdatedAt:    now,
			CreatedAt:    now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// persistArticle inserts a fresh article or reassigns a backlog row, and
// records its embedding. Runs inside the caller's transaction so the
// assignment commits atomically with the issue mutation.
func persistArticle(tx *gorm.DB, art *models.Article, issueID int64, vec []float32, now time.Time) error {
	if art.ID == 0 {
		row := Article{
			IssueID:     issueID,
			Title:       art.Title,
			Content:     art.Content,
			Source:      art.Source,
			URL:         art.URL,
			TitleHash:   art.TitleHash,
			PublishedAt: art.PublishedAt,
			CreatedAt:   now,
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("create article: %w", err)
		}
		art.ID = row.ID
		art.CreatedAt = row.CreatedAt

		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "article_id"}},
			DoNothing: true,
		}).Create(&ArticleEmbedding{
			ArticleID: row.ID,
			Dense:     pgvector.NewVector(vec),
			CreatedAt: now,
		}).Error; err != nil {
			return fmt.Errorf("create article embedding %d: %w", row.ID, err)
		}
	} else {
		res := tx.Model(&Article{}).
			Where("id = ? AND issue_id = 0", art.ID).
			Update("issue_id", issueID)
		if res.Error != nil {
			return fmt.Errorf("assign article %d: %w", art.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: article %d already assigned", cluster.ErrInvariant, art.ID)
		}
	}
	art.IssueID = issueID
	return nil
}

// ListUnassigned returns up to limit backlog articles, oldest first.
func (s *Store) ListUnassigned(ctx context.Context, limit int) ([]models.Article, error) {
	var rows []Article
	q := s.DB.WithContext(ctx).Where("issue_id = 0").Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list unassigned: %w", err)
	}
	out := make([]models.Article, len(rows))
	for i := range rows {
		out[i] = *articleOut(&rows[i])
	}
	return out, nil
}

// ArticleEmbedding returns the stored dense vector for an article.
func (s *Store) ArticleEmbedding(ctx context.Context, articleID int64) ([]float32, error) {
	var row ArticleEmbedding
	if err := s.DB.WithContext(ctx).First(&row, articleID).Error; err != nil {
		return nil, fmt.Errorf("load article embedding %d: %w", articleID, err)
	}
	return row.Dense.Slice(), nil
}

// SaveBacklogArticle stores a fetched article and its embedding without
// assigning an issue, for later draining by the backlog run. Duplicate
// title hashes are skipped and reported via the returned bool.
func (s *Store) SaveBacklogArticle(ctx context.Context, art *models.Article, vec []float32, now time.Time) (bool, error) {
	saved := false
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := Article{
			IssueID:     0,
			Title:       art.Title,
			Content:     art.Content,
			Source:      art.Source,
			URL:         art.URL,
			TitleHash:   art.TitleHash,
			PublishedAt: art.PublishedAt,
			CreatedAt:   now,
		}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "title_hash"}},
			DoNothing: true,
		}).Create(&row)
		if res.Error != nil {
			return fmt.Errorf("save backlog article: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		art.ID = row.ID
		art.CreatedAt = row.CreatedAt
		saved = true

		return tx.Create(&ArticleEmbedding{
			ArticleID: row.ID,
			Dense:     pgvector.NewVector(vec),
			CreatedAt: now,
		}).Error
	})
	return saved, err
}

// GetIssue returns one issue by ID, or nil when absent.
func (s *Store) GetIssue(ctx context.Context, id int64) (*models.Issue, error) {
	var row Issue
	err := s.DB.WithContext(ctx).First(&row, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get issue %d: %w", id, err)
	}
	return issueOut(&row), nil
}

// ListIssues returns issues ordered by most recent activity.
func (s *Store) ListIssues(ctx context.Context, limit, offset int) ([]models.Issue, error) {
	var rows []Issue
	q := s.DB.WithContext(ctx).Order("updated_at DESC").Offset(offset)
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	out := make([]models.Issue, len(rows))
	for i := range rows {
		out[i] = *issueOut(&rows[i])
	}
	return out, nil
}

// IssueArticles returns the articles assigned to an issue, newest first.
func (s *Store) IssueArticles(ctx context.Context, issueID int64) ([]models.Article, error) {
	var rows []Article
	if err := s.DB.WithContext(ctx).
		Where("issue_id = ?", issueID).
		Order("id DESC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list issue articles %d: %w", issueID, err)
	}
	out := make([]models.Article, len(rows))
	for i := range rows {
		out[i] = *articleOut(&rows[i])
	}
	return out, nil
}

// Stats summarizes table sizes for the stats endpoint.
type Stats struct {
	Issues     int64 `json:"issues"`
	Articles   int64 `json:"articles"`
	Unassigned int64 `json:"unassigned"`
}

// GetStats counts issues, articles, and the unassigned backlog.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	var st Stats
	db := s.DB.WithContext(ctx)
	if err := db.Model(&Issue{}).Count(&st.Issues).Error; err != nil {
		return nil, fmt.Errorf("count issues: %w", err)
	}
	if err := db.Model(&Article{}).Count(&st.Articles).Error; err != nil {
		return nil, fmt.Errorf("count articles: %w", err)
	}
	if err := db.Model(&Article{}).Where("issue_id = 0").Count(&st.Unassigned).Error; err != nil {
		return nil, fmt.Errorf("count unassigned: %w", err)
	}
	return &st, nil
}

func articleOut(row *Article) *models.Article {
	return &models.Article{
		ID:          row.ID,
		IssueID:     row.IssueID,
		Title:       row.Title,
		Content:     row.Content,
		Source:      row.Source,
		URL:         row.URL,
		TitleHash:   row.TitleHash,
		PublishedAt: row.PublishedAt,
		CreatedAt:   row.CreatedAt,
	}
}

func issueOut(row *Issue) *models.Issue {
	return &models.Issue{
		ID:           row.ID,
		Title:        row.Title,
		Content:      row.Content,
		ArticleCount: row.ArticleCount,
		StartedAt:    row.StartedAt,
		UpdatedAt:    row.UpdatedAt,
		CreatedAt:    row.CreatedAt,
	}
}
