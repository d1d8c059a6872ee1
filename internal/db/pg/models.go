// Package pg provides the GORM-backed Postgres store for issuestream.
package pg

import (
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
)

// GORM Models

// Issue is a cluster of related articles.
type Issue struct {
	ID           int64  `gorm:"primaryKey;autoIncrement"`
	Title        string `gorm:"type:text;not null"`
	Content      string `gorm:"type:text;not null"`
	ArticleCount int    `gorm:"not null;default:1;check:article_count >= 1"`
	StartedAt    time.Time
	UpdatedAt    time.Time `gorm:"index:idx_issues_updated,sort:desc"`
	CreatedAt    time.Time
}

func (Issue) TableName() string { return "issues" }

// BeforeCreate hook to ensure timestamps are set.
func (i *Issue) BeforeCreate(tx *gorm.DB) error {
	now := time.Now()
	if i.CreatedAt.IsZero() {
		i.CreatedAt = now
	}
	if i.StartedAt.IsZero() {
		i.StartedAt = now
	}
	if i.UpdatedAt.IsZero() {
		i.UpdatedAt = now
	}
	return nil
}

// Article is one ingested news article assigned to at most one issue.
// IssueID 0 marks backlog rows that have not been clustered yet.
type Article struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	IssueID     int64  `gorm:"index;not null;default:0"`
	Title       string `gorm:"type:text;not null"`
	Content     string `gorm:"type:text;not null"`
	Source      string `gorm:"type:text;index"`
	URL         string `gorm:"type:text"`
	TitleHash   string `gorm:"type:text;uniqueIndex;not null"`
	PublishedAt *time.Time
	CreatedAt   time.Time
}

func (Article) TableName() string { return "articles" }

// BeforeCreate hook to ensure timestamps are set.
func (a *Article) BeforeCreate(tx *gorm.DB) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	return nil
}

// ArticleEmbedding is the immutable dense vector for one article.
type ArticleEmbedding struct {
	ArticleID int64           `gorm:"primaryKey"`
	Dense     pgvector.Vector `gorm:"type:vector(768);not null"`
	CreatedAt time.Time
}

func (ArticleEmbedding) TableName() string { return "article_embeddings" }

// IssueEmbedding is the current centroid for one issue. It is rewritten
// on every merge under the issue's optimistic concurrency check.
type IssueEmbedding struct {
	IssueID   int64           `gorm:"primaryKey"`
	Dense     pgvector.Vector `gorm:"type:vector(768);not null"`
	CreatedAt time.Time
}

func (IssueEmbedding) TableName() string { return "issue_embeddings" }
