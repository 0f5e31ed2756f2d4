package models

import (
	"time"
)

// Status is the coarse lifecycle state of a document's ingestion run.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Stage is one phase of the fixed ingestion sequence. Stages advance in
// order upload -> parsing -> chunking -> embedding -> storing -> completed;
// error is reachable from any of them.
type Stage string

const (
	StageUpload    Stage = "upload"
	StageParsing   Stage = "parsing"
	StageChunking  Stage = "chunking"
	StageEmbedding Stage = "embedding"
	StageStoring   Stage = "storing"
	StageCompleted Stage = "completed"
	StageError     Stage = "error"
)

// Terminal reports whether no further progress events will follow.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ProcessingRecord is the durable status row for one document's ingestion run.
type ProcessingRecord struct {
	DocumentID   string            `db:"document_id" json:"document_id"`
	OwnerID      string            `db:"owner_id" json:"owner_id"`
	Filename     string            `db:"filename" json:"filename"`
	Status       Status            `db:"status" json:"status"`
	Stage        Stage             `db:"stage" json:"stage"`
	Progress     int               `db:"progress" json:"progress"`
	ChunkCount   int               `db:"chunk_count" json:"chunk_count"`
	ErrorMessage string            `db:"error_message" json:"error_message,omitempty"`
	Metadata     map[string]string `db:"metadata" json:"metadata,omitempty"`
	CreatedAt    time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time         `db:"updated_at" json:"updated_at"`
}

// Chunk is one embedded slice of a document's text.
type Chunk struct {
	ID         string            `db:"id" json:"id"`
	DocumentID string            `db:"document_id" json:"document_id"`
	Filename   string            `db:"filename" json:"filename"`
	ChunkIndex int               `db:"chunk_index" json:"chunk_index"`
	Text       string            `db:"text" json:"text"`
	Embedding  []float32         `db:"embedding" json:"embedding,omitempty"` // pgvector column
	Metadata   map[string]string `db:"metadata" json:"metadata,omitempty"`
	CreatedAt  time.Time         `db:"created_at" json:"created_at"`
}

// ProgressUpdate is a partial update applied to a ProcessingRecord. Nil
// fields leave the current value untouched; Metadata, when set, replaces
// the stored map wholesale.
type ProgressUpdate struct {
	Status       *Status
	Stage        *Stage
	Progress     *int
	ChunkCount   *int
	ErrorMessage *string
	Metadata     map[string]string
}

// ProgressEvent is the ephemeral notification pushed to live subscribers
// after every stage transition. It is never persisted.
type ProgressEvent struct {
	DocumentID string    `json:"document_id"`
	Stage      Stage     `json:"stage"`
	Status     Status    `json:"status"`
	Progress   int       `json:"progress"`
	ChunkCount int       `json:"chunk_count,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Helpers for building ProgressUpdate literals.

func StatusPtr(s Status) *Status { return &s }
func StagePtr(s Stage) *Stage    { return &s }
func IntPtr(n int) *int          { return &n }
func StrPtr(s string) *string    { return &s }
