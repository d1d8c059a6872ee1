package pg

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// runMigrations runs all database migrations using gormigrate.
func runMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		// Migration 001: pgvector extension
		{
			ID: "001_vector_extension",
			Migrate: func(tx *gorm.DB) error {
				return tx.Exec(`CREATE EXTENSION IF NOT EXISTS vector`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Exec(`DROP EXTENSION IF EXISTS vector`).Error
			},
		},

		// Migration 002: Core tables (Issue, Article)
		{
			ID: "002_core_tables",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&Issue{}); err != nil {
					return err
				}
				return tx.AutoMigrate(&Article{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("issues", "articles")
			},
		},

		// Migration 003: Embedding tables
		{
			ID: "003_embedding_tables",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&ArticleEmbedding{}); err != nil {
					return err
				}
				return tx.AutoMigrate(&IssueEmbedding{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("article_embeddings", "issue_embeddings")
			},
		},

		// Migration 004: ANN index over issue centroids. HNSW keeps recall
		// high while the issue table stays small enough to rebuild cheaply.
		{
			ID: "004_centroid_ann_index",
			Migrate: func(tx *gorm.DB) error {
				return tx.Exec(`
					CREATE INDEX IF NOT EXISTS idx_issue_embeddings_dense
					ON issue_embeddings USING hnsw (dense vector_cosine_ops)
				`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Exec(`DROP INDEX IF EXISTS idx_issue_embeddings_dense`).Error
			},
		},
	})

	return m.Migrate()
}
