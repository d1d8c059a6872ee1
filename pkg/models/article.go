// Package models defines the shared domain types for issuestream.
package models

import (
	"encoding/hex"
	"strings"
	"time"
	"unicode"

	"golang.org/x/crypto/blake2b"
)

// Article is a single ingested news article. An article is assigned to
// exactly one issue after the decision pipeline has run; IssueID 0 means
// the article has not been assigned yet and must never be visible after
// a successful pipeline run.
type Article struct {
	ID          int64      `json:"id"`
	IssueID     int64      `json:"issue_id"`
	Title       string     `json:"title"`
	Content     string     `json:"content"`
	Source      string     `json:"source"`
	URL         string     `json:"url"`
	TitleHash   string     `json:"title_hash"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Source identifies one configured feed endpoint.
type Source struct {
	URL       string `json:"url"`
	Reference string `json:"reference"`
	Category  string `json:"category"`
}

// Name returns the "reference/category" label stored on articles.
func (s Source) Name() string {
	return s.Reference + "/" + s.Category
}

// CrawlItem is a fetched article before it has entered the pipeline.
type CrawlItem struct {
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	Source      Source    `json:"source"`
	URL         string    `json:"url"`
	PublishedAt time.Time `json:"published_at"`
}

// TitleHash computes the dedup key for an article title: a BLAKE2b-256
// digest over the lowercased title with whitespace collapsed, so trivial
// formatting differences between feeds hash identically.
func TitleHash(title string) string {
	normalized := strings.Join(strings.FieldsFunc(strings.ToLower(title), unicode.IsSpace), " ")
	sum := blake2b.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
