package core

import (
	"context"

	"vectorflow/internal/models"
)

// DbClient defines all persistence operations the pipeline needs.
// It abstracts Postgres/pgvector so higher layers never depend on a specific DB.
type DbClient interface {
	CreateProcessingRecord(ctx context.Context, rec *models.ProcessingRecord) error
	GetProcessingRecord(ctx context.Context, documentID string) (*models.ProcessingRecord, error)
	ListRecordsByOwner(ctx context.Context, ownerID string) ([]models.ProcessingRecord, error)

	// UpdateProcessingStatus applies a partial update; omitted fields keep
	// their previous values. Returns nil when the record does not exist.
	UpdateProcessingStatus(ctx context.Context, documentID string, upd models.ProgressUpdate) (*models.ProcessingRecord, error)

	// StoreChunks commits the whole batch in one transaction or nothing at all.
	StoreChunks(ctx context.Context, chunks []models.Chunk) error
	GetDocumentChunks(ctx context.Context, documentID string) ([]models.Chunk, error)

	// SearchBySimilarity returns the nearest chunks to the query vector,
	// closest first.
	SearchBySimilarity(ctx context.Context, queryVec []float32, limit int) ([]models.Chunk, error)

	// DeleteDocument removes chunks then the record in one transaction,
	// scoped to the owning caller. Reports whether anything was deleted.
	DeleteDocument(ctx context.Context, documentID, ownerID string) (bool, error)

	GetProcessingStats(ctx context.Context) (map[models.Status]int, error)

	Close() error
}

// ObjectClient archives raw uploads in S3 or any compatible object storage.
type ObjectClient interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (url string, err error)
	Delete(ctx context.Context, key string) error
}

// EmbeddingProvider converts a batch of texts into one vector per text,
// preserving order.
type EmbeddingProvider interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// TextExtractor turns raw upload bytes into plain text.
type TextExtractor interface {
	ExtractText(ctx context.Context, data []byte, contentType string) (string, error)
}
