package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/pgvector/pgvector-go"

	_ "github.com/jackc/pgx/v5/stdlib"

	"vectorflow/internal/config"
	"vectorflow/internal/core"
	"vectorflow/internal/models"
)

type DatabaseClient struct {
	db *sql.DB
}

var _ core.DbClient = (*DatabaseClient)(nil)

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (core.DbClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	dsn := cfg.DatabaseURL
	if cfg.SslCertPath != "" {
		if _, err := os.Stat(cfg.SslCertPath); err != nil {
			return nil, fmt.Errorf("ssl cert not accessible at %q: %w", cfg.SslCertPath, err)
		}
		u, err := url.Parse(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
		}
		q := u.Query()
		q.Set("sslmode", "verify-ca")
		q.Set("sslrootcert", cfg.SslCertPath)
		u.RawQuery = q.Encode()
		dsn = u.String()
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// Sensible pool settings for an API service; adjust as needed.
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &DatabaseClient{db: db}, nil
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Processing records

func (c *DatabaseClient) CreateProcessingRecord(ctx context.Context, rec *models.ProcessingRecord) error {
	if rec == nil {
		return errors.New("nil processing record")
	}
	meta, err := marshalMetadata(rec.Metadata)
	if err != nil {
		return err
	}
	const q = `
		INSERT INTO processing_records
			(document_id, owner_id, filename, status, stage, progress, chunk_count, error_message, metadata, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, COALESCE($10, now()), COALESCE($11, now()))
	`
	_, err = c.db.ExecContext(ctx, q,
		rec.DocumentID, rec.OwnerID, rec.Filename, rec.Status, rec.Stage,
		rec.Progress, rec.ChunkCount, rec.ErrorMessage, meta, rec.CreatedAt, rec.UpdatedAt)
	return err
}

func (c *DatabaseClient) GetProcessingRecord(ctx context.Context, documentID string) (*models.ProcessingRecord, error) {
	const q = `
		SELECT document_id, owner_id, filename, status, stage, progress, chunk_count, error_message, metadata, created_at, updated_at
		FROM processing_records
		WHERE document_id = $1
	`
	rec, err := scanRecord(c.db.QueryRowContext(ctx, q, documentID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (c *DatabaseClient) ListRecordsByOwner(ctx context.Context, ownerID string) ([]models.ProcessingRecord, error) {
	const q = `
		SELECT document_id, owner_id, filename, status, stage, progress, chunk_count, error_message, metadata, created_at, updated_at
		FROM processing_records
		WHERE owner_id = $1
		ORDER BY created_at DESC
	`
	rows, err := c.db.QueryContext(ctx, q, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ProcessingRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// UpdateProcessingStatus is non-destructive: nil fields keep the stored
// values. Returns the updated record, or nil when the document is unknown.
func (c *DatabaseClient) UpdateProcessingStatus(ctx context.Context, documentID string, upd models.ProgressUpdate) (*models.ProcessingRecord, error) {
	var meta []byte
	if upd.Metadata != nil {
		m, err := marshalMetadata(upd.Metadata)
		if err != nil {
			return nil, err
		}
		meta = m
	}
	const q = `
		UPDATE processing_records SET
			status        = COALESCE($2, status),
			stage         = COALESCE($3, stage),
			progress      = COALESCE($4, progress),
			chunk_count   = COALESCE($5, chunk_count),
			error_message = COALESCE($6, error_message),
			metadata      = COALESCE($7, metadata),
			updated_at    = now()
		WHERE document_id = $1
		RETURNING document_id, owner_id, filename, status, stage, progress, chunk_count, error_message, metadata, created_at, updated_at
	`
	rec, err := scanRecord(c.db.QueryRowContext(ctx, q, documentID,
		statusArg(upd.Status), stageArg(upd.Stage), intArg(upd.Progress),
		intArg(upd.ChunkCount), upd.ErrorMessage, meta))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (c *DatabaseClient) GetProcessingStats(ctx context.Context) (map[models.Status]int, error) {
	const q = `
		SELECT status, COUNT(*)
		FROM processing_records
		GROUP BY status
	`
	rows, err := c.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[models.Status]int)
	for rows.Next() {
		var (
			status models.Status
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		out[status] = count
	}
	return out, rows.Err()
}

// Chunks

// StoreChunks inserts the whole batch in a single transaction: either every
// chunk commits or none do, so a failed run never leaves a document
// queryable with a partial chunk set.
func (c *DatabaseClient) StoreChunks(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO document_chunks
			(id, document_id, filename, chunk_index, text, embedding, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, now()))
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := range chunks {
		ch := &chunks[i]
		meta, err := marshalMetadata(ch.Metadata)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		vec := pgvector.NewVector(ch.Embedding)
		if _, err := stmt.ExecContext(ctx,
			ch.ID, ch.DocumentID, ch.Filename, ch.ChunkIndex, ch.Text, vec, meta, ch.CreatedAt,
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (c *DatabaseClient) GetDocumentChunks(ctx context.Context, documentID string) ([]models.Chunk, error) {
	const q = `
		SELECT id, document_id, filename, chunk_index, text, embedding, metadata, created_at
		FROM document_chunks
		WHERE document_id = $1
		ORDER BY chunk_index ASC
	`
	rows, err := c.db.QueryContext(ctx, q, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Chunk
	for rows.Next() {
		ch, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ch)
	}
	return out, rows.Err()
}

// SearchBySimilarity finds the top-k nearest chunks to the query embedding,
// nearest first.
func (c *DatabaseClient) SearchBySimilarity(ctx context.Context, queryVec []float32, limit int) ([]models.Chunk, error) {
	const q = `
		SELECT id, document_id, filename, chunk_index, text, embedding, metadata, created_at
		FROM document_chunks
		ORDER BY embedding <-> $1
		LIMIT $2
	`
	vec := pgvector.NewVector(queryVec)
	rows, err := c.db.QueryContext(ctx, q, vec, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Chunk
	for rows.Next() {
		ch, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ch)
	}
	return out, rows.Err()
}

// DeleteDocument removes a document's chunks and its processing record in
// one transaction, scoped to the owning caller.
func (c *DatabaseClient) DeleteDocument(ctx context.Context, documentID, ownerID string) (bool, error) {
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return false, err
	}

	const delChunks = `
		DELETE FROM document_chunks
		WHERE document_id = $1
		  AND EXISTS (
			SELECT 1 FROM processing_records
			WHERE document_id = $1 AND owner_id = $2
		  )
	`
	if _, err := tx.ExecContext(ctx, delChunks, documentID, ownerID); err != nil {
		_ = tx.Rollback()
		return false, err
	}

	const delRecord = `
		DELETE FROM processing_records
		WHERE document_id = $1 AND owner_id = $2
	`
	res, err := tx.ExecContext(ctx, delRecord, documentID, ownerID)
	if err != nil {
		_ = tx.Rollback()
		return false, err
	}
	n, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return n > 0, nil
}

// Scan helpers

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.ProcessingRecord, error) {
	var (
		rec  models.ProcessingRecord
		meta []byte
	)
	if err := row.Scan(
		&rec.DocumentID, &rec.OwnerID, &rec.Filename, &rec.Status, &rec.Stage,
		&rec.Progress, &rec.ChunkCount, &rec.ErrorMessage, &meta, &rec.CreatedAt, &rec.UpdatedAt,
	); err != nil {
		return nil, err
	}
	m, err := unmarshalMetadata(meta)
	if err != nil {
		return nil, err
	}
	rec.Metadata = m
	return &rec, nil
}

func scanChunk(row rowScanner) (*models.Chunk, error) {
	var (
		ch   models.Chunk
		emb  pgvector.Vector
		meta []byte
	)
	if err := row.Scan(
		&ch.ID, &ch.DocumentID, &ch.Filename, &ch.ChunkIndex, &ch.Text, &emb, &meta, &ch.CreatedAt,
	); err != nil {
		return nil, err
	}
	ch.Embedding = emb.Slice()
	m, err := unmarshalMetadata(meta)
	if err != nil {
		return nil, err
	}
	ch.Metadata = m
	return &ch, nil
}

func marshalMetadata(m map[string]string) ([]byte, error) {
	if m == nil {
		m = map[string]string{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return b, nil
}

func unmarshalMetadata(b []byte) (map[string]string, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	if len(m) == 0 {
		return nil, nil
	}
	return m, nil
}

func intArg(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func statusArg(p *models.Status) any {
	if p == nil {
		return nil
	}
	return string(*p)
}

func stageArg(p *models.Stage) any {
	if p == nil {
		return nil
	}
	return string(*p)
}
