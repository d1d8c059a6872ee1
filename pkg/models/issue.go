package models

import "time"

// Issue is a live cluster of related articles. The centroid is the
// arithmetic mean of all member article embeddings and is never
// re-normalized after updates.
type Issue struct {
	ID           int64     `json:"id"`
	Title        string    `json:"title"`
	Content      string    `json:"content"`
	ArticleCount int       `json:"article_count"`
	StartedAt    time.Time `json:"started_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	CreatedAt    time.Time `json:"created_at"`
}
