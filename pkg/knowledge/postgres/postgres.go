package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fixwise/manualiq/pkg/knowledge"
	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store implements knowledge.VectorStore using pgvector. It carries the
// filterable metadata fields as indexed columns and the full typed
// metadata as JSONB alongside.
type Store struct {
	db *gorm.DB
}

// chunkModel represents the database schema for a stored chunk.
type chunkModel struct {
	ID          string `gorm:"primaryKey"`
	Content     string
	CompanyName string `gorm:"index"`
	ProductName string `gorm:"index"`
	Filename    string
	ManualID    string `gorm:"index"`
	Degraded    bool
	Metadata    []byte          `gorm:"type:jsonb"`
	Embedding   pgvector.Vector `gorm:"type:vector(1024)"` // matches the configured embedding dimension
}

// TableName overrides the table name.
func (chunkModel) TableName() string {
	return "manual_chunks"
}

// New connects to Postgres, enables the pgvector extension and migrates
// the chunk schema.
func New(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return nil, fmt.Errorf("failed to enable pgvector extension: %w", err)
	}

	if err := db.AutoMigrate(&chunkModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{db: db}, nil
}

// Upsert writes chunks and vectors in one transaction.
func (s *Store) Upsert(ctx context.Context, embeddings []knowledge.Embedding, chunks []knowledge.Chunk) error {
	if len(embeddings) != len(chunks) {
		return fmt.Errorf("number of embeddings and chunks must match")
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, chunk := range chunks {
			metadataJSON, err := json.Marshal(chunk.Metadata)
			if err != nil {
				return fmt.Errorf("failed to marshal chunk metadata: %w", err)
			}

			id := chunk.ID
			if id == "" {
				id = uuid.NewString()
			}

			model := chunkModel{
				ID:          id,
				Content:     chunk.Text,
				CompanyName: chunk.Metadata.CompanyName,
				ProductName: chunk.Metadata.ProductName,
				Filename:    chunk.Metadata.Filename,
				ManualID:    chunk.Metadata.DBID,
				Degraded:    embeddings[i].Degraded || chunk.Metadata.Degraded,
				Metadata:    metadataJSON,
				Embedding:   pgvector.NewVector(embeddings[i].Vector),
			}

			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				DoUpdates: clause.AssignmentColumns([]string{"content", "company_name", "product_name", "filename", "manual_id", "degraded", "metadata", "embedding"}),
			}).Create(&model).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// Search orders by cosine distance (pgvector's <=> operator), restricted
// to the filter columns. Degraded rows are skipped.
func (s *Store) Search(ctx context.Context, query []float32, filter knowledge.Filter, limit int) ([]knowledge.Chunk, error) {
	var models []chunkModel

	tx := s.db.WithContext(ctx).Where("degraded = ?", false)
	if filter.CompanyName != "" {
		tx = tx.Where("company_name = ?", filter.CompanyName)
	}
	if filter.ProductName != "" {
		tx = tx.Where("product_name = ?", filter.ProductName)
	}

	err := tx.
		Order(clause.Expr{SQL: "embedding <=> ?", Vars: []interface{}{pgvector.NewVector(query)}}).
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	chunks := make([]knowledge.Chunk, len(models))
	for i, m := range models {
		var metadata knowledge.ChunkMetadata
		if err := json.Unmarshal(m.Metadata, &metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal chunk metadata: %w", err)
		}
		chunks[i] = knowledge.Chunk{
			ID:       m.ID,
			Text:     m.Content,
			Metadata: metadata,
		}
	}
	return chunks, nil
}

// DeleteByManual removes every chunk row owned by the manual record.
func (s *Store) DeleteByManual(ctx context.Context, manualID string) (int, error) {
	res := s.db.WithContext(ctx).Where("manual_id = ?", manualID).Delete(&chunkModel{})
	return int(res.RowsAffected), res.Error
}

// DeleteByProduct removes every chunk row matching the product and filename.
func (s *Store) DeleteByProduct(ctx context.Context, productName, filename string) (int, error) {
	res := s.db.WithContext(ctx).
		Where("product_name = ? AND filename = ?", productName, filename).
		Delete(&chunkModel{})
	return int(res.RowsAffected), res.Error
}

// Healthy pings the underlying connection.
func (s *Store) Healthy(ctx context.Context) error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.PingContext(ctx)
}
