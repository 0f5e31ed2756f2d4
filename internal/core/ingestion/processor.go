package ingestion

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"vectorflow/internal/core"
	"vectorflow/internal/core/llm"
	"vectorflow/internal/core/progress"
	"vectorflow/internal/models"
)

// Progress milestones for the fixed stage sequence. Embedding fills the
// 30-80 range proportionally to batches completed.
const (
	progressUpload     = 0
	progressParsing    = 10
	progressChunking   = 30
	progressEmbedStart = 30
	progressEmbedEnd   = 80
	progressStoring    = 95
	progressCompleted  = 100
)

// Config tunes the processing pipeline.
//
// ChunkSize/ChunkOverlap: rune window and overlap for the chunker.
// BatchSize:              chunks embedded per remote call.
// MaxRetries:             attempts per embedding batch before the run fails.
// RetryBaseDelay:         backoff base, doubled per attempt.
// ProcessTimeout:         wall-clock bound for one document's run.
// ShouldRetry:            transient-error classifier; defaults to llm.IsTransient.
type Config struct {
	ChunkSize      int
	ChunkOverlap   int
	BatchSize      int
	MaxRetries     int
	RetryBaseDelay time.Duration
	ProcessTimeout time.Duration
	ShouldRetry    func(error) bool
}

func (c *Config) withDefaults() *Config {
	out := *c
	if out.ChunkSize == 0 {
		out.ChunkSize = 512
	}
	if out.ChunkOverlap == 0 {
		out.ChunkOverlap = 50
	}
	if out.BatchSize <= 0 {
		out.BatchSize = 8
	}
	if out.MaxRetries <= 0 {
		out.MaxRetries = 3
	}
	if out.RetryBaseDelay <= 0 {
		out.RetryBaseDelay = 500 * time.Millisecond
	}
	if out.ProcessTimeout <= 0 {
		out.ProcessTimeout = 5 * time.Minute
	}
	if out.ShouldRetry == nil {
		out.ShouldRetry = llm.IsTransient
	}
	return &out
}

// Job carries everything a worker needs for one document, so workers never
// re-read external storage.
type Job struct {
	DocumentID  string
	OwnerID     string
	Filename    string
	ContentType string
	Data        []byte
	Metadata    map[string]string
}

// Processor owns the ingestion state machine: parse -> chunk -> embed ->
// store -> complete. It is the sole writer of a document's ProcessingRecord
// and chunks while a run is in flight, and it pushes a tracker update after
// every stage transition.
type Processor struct {
	db        core.DbClient
	embedder  core.EmbeddingProvider
	extractor core.TextExtractor
	tracker   *progress.Tracker
	cfg       *Config
	jobs      chan Job
}

// NewProcessor constructs the processor with a bounded job queue (64).
func NewProcessor(db core.DbClient, emb core.EmbeddingProvider, ext core.TextExtractor, tracker *progress.Tracker, cfg *Config) *Processor {
	return &Processor{
		db:        db,
		embedder:  emb,
		extractor: ext,
		tracker:   tracker,
		cfg:       cfg.withDefaults(),
		jobs:      make(chan Job, 64),
	}
}

// Start launches numWorkers goroutines reading from the job queue. Workers
// exit when ctx is done.
func (p *Processor) Start(ctx context.Context, numWorkers int) {
	if numWorkers < 1 {
		numWorkers = 1
	}
	for w := 1; w <= numWorkers; w++ {
		go func(w int) {
			for {
				select {
				case <-ctx.Done():
					log.Printf("ingestion: worker %d shutting down", w)
					return
				case job := <-p.jobs:
					log.Printf("ingestion: worker %d processing document %s", w, job.DocumentID)
					p.Process(job)
				}
			}
		}(w)
	}
}

// Submit creates the durable record and the live tracker state for a
// document, then enqueues it. If the queue is full the call blocks until
// space frees up or ctx ends; a submission that never reaches a worker is
// marked failed, so every record still terminates in completed or failed.
// Validation failures belong to the caller; once Submit is reached a
// ProcessingRecord always exists.
func (p *Processor) Submit(ctx context.Context, job Job) error {
	now := time.Now()
	rec := &models.ProcessingRecord{
		DocumentID: job.DocumentID,
		OwnerID:    job.OwnerID,
		Filename:   job.Filename,
		Status:     models.StatusPending,
		Stage:      models.StageUpload,
		Progress:   progressUpload,
		Metadata:   job.Metadata,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := p.db.CreateProcessingRecord(ctx, rec); err != nil {
		return fmt.Errorf("create processing record: %w", err)
	}
	p.tracker.Initialize(job.DocumentID, job.OwnerID, job.Filename, job.Metadata)

	select {
	case p.jobs <- job:
		return nil
	default:
	}

	select {
	case p.jobs <- job:
		return nil
	case <-ctx.Done():
		err := fmt.Errorf("enqueue %s: %w", job.Filename, ErrQueueFull)
		p.fail(job.DocumentID, err)
		return err
	}
}

// Process runs the whole state machine for one document. The run gets its
// own deadline, detached from the submitting request: closing a progress
// stream or the upload connection does not abort an in-flight ingestion.
func (p *Processor) Process(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ProcessTimeout)
	defer cancel()

	docID := job.DocumentID

	// parsing
	p.push(ctx, docID, models.ProgressUpdate{
		Status:   models.StatusPtr(models.StatusProcessing),
		Stage:    models.StagePtr(models.StageParsing),
		Progress: models.IntPtr(progressParsing),
	})

	text, err := p.extractor.ExtractText(ctx, job.Data, job.ContentType)
	if err != nil {
		p.fail(docID, fmt.Errorf("parse %s: %w", job.Filename, err))
		return
	}

	front, body := ParseFrontMatter(text)
	docMeta := mergeMetadata(job.Metadata, front)
	if strings.TrimSpace(body) == "" {
		p.fail(docID, fmt.Errorf("parse %s: %w", job.Filename, ErrEmptyDocument))
		return
	}

	// chunking
	chunks, err := ChunkText(body, p.cfg.ChunkSize, p.cfg.ChunkOverlap)
	if err != nil {
		p.fail(docID, fmt.Errorf("chunk %s: %w", job.Filename, err))
		return
	}
	if len(chunks) == 0 {
		p.fail(docID, fmt.Errorf("chunk %s: %w", job.Filename, ErrEmptyDocument))
		return
	}
	p.push(ctx, docID, models.ProgressUpdate{
		Stage:      models.StagePtr(models.StageChunking),
		Progress:   models.IntPtr(progressChunking),
		ChunkCount: models.IntPtr(len(chunks)),
		Metadata:   docMeta,
	})

	// embedding, batch by batch; the first exhausted batch aborts the rest
	// so no chunk is ever stored without its vector.
	batches := partition(chunks, p.cfg.BatchSize)
	vectors := make([][]float32, 0, len(chunks))
	for bi, batch := range batches {
		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}

		var vecs [][]float32
		err := RetryWithBackoff(ctx, func() error {
			v, err := p.embedder.EmbedTexts(ctx, texts)
			if err != nil {
				return err
			}
			vecs = v
			return nil
		}, p.cfg.MaxRetries, p.cfg.RetryBaseDelay, p.cfg.ShouldRetry)
		if err != nil {
			p.fail(docID, fmt.Errorf("embed batch %d/%d: %w", bi+1, len(batches), err))
			return
		}
		if len(vecs) != len(batch) {
			p.fail(docID, fmt.Errorf("embed batch %d/%d: got %d vectors for %d chunks", bi+1, len(batches), len(vecs), len(batch)))
			return
		}
		vectors = append(vectors, vecs...)

		prog := progressEmbedStart + (progressEmbedEnd-progressEmbedStart)*(bi+1)/len(batches)
		p.push(ctx, docID, models.ProgressUpdate{
			Stage:    models.StagePtr(models.StageEmbedding),
			Progress: models.IntPtr(prog),
		})
	}

	// storing
	p.push(ctx, docID, models.ProgressUpdate{
		Stage:    models.StagePtr(models.StageStoring),
		Progress: models.IntPtr(progressStoring),
	})
	rows := make([]models.Chunk, len(chunks))
	for i, c := range chunks {
		rows[i] = models.Chunk{
			ID:         uuid.NewString(),
			DocumentID: docID,
			Filename:   job.Filename,
			ChunkIndex: c.Index,
			Text:       c.Text,
			Embedding:  vectors[i],
			Metadata:   chunkMetadata(docMeta, c),
			CreatedAt:  time.Now(),
		}
	}
	if err := p.db.StoreChunks(ctx, rows); err != nil {
		p.fail(docID, fmt.Errorf("store %d chunks: %w", len(rows), err))
		return
	}

	// completed
	p.push(ctx, docID, models.ProgressUpdate{
		Status:     models.StatusPtr(models.StatusCompleted),
		Stage:      models.StagePtr(models.StageCompleted),
		Progress:   models.IntPtr(progressCompleted),
		ChunkCount: models.IntPtr(len(chunks)),
	})
	log.Printf("ingestion: document %s completed with %d chunks", docID, len(chunks))
}

// push writes one stage transition to the database and fans it out to live
// subscribers. A failed row update is logged, not terminal: the run's
// outcome is decided by the stage work itself, and the final transition
// rewrites the full state anyway.
func (p *Processor) push(ctx context.Context, docID string, upd models.ProgressUpdate) {
	if _, err := p.db.UpdateProcessingStatus(ctx, docID, upd); err != nil {
		log.Printf("ingestion: status update for %s failed: %v", docID, err)
	}
	p.tracker.Update(docID, upd)
}

// fail records the terminal failure. It uses a fresh context so the failure
// is durable even when the run's own deadline has expired.
func (p *Processor) fail(docID string, cause error) {
	log.Printf("ingestion: document %s failed: %v", docID, cause)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p.push(ctx, docID, models.ProgressUpdate{
		Status:       models.StatusPtr(models.StatusFailed),
		Stage:        models.StagePtr(models.StageError),
		ErrorMessage: models.StrPtr(cause.Error()),
	})
}

func partition(chunks []Chunk, batchSize int) [][]Chunk {
	var out [][]Chunk
	for start := 0; start < len(chunks); start += batchSize {
		end := start + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		out = append(out, chunks[start:end])
	}
	return out
}

func mergeMetadata(base, front map[string]string) map[string]string {
	if len(base) == 0 && len(front) == 0 {
		return nil
	}
	out := make(map[string]string, len(base)+len(front))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range front {
		out[k] = v
	}
	return out
}

// chunkMetadata inherits the document metadata and adds chunk-local context.
func chunkMetadata(docMeta map[string]string, c Chunk) map[string]string {
	if len(docMeta) == 0 && c.Heading == "" {
		return nil
	}
	out := make(map[string]string, len(docMeta)+1)
	for k, v := range docMeta {
		out[k] = v
	}
	if c.Heading != "" {
		out["heading"] = c.Heading
	}
	return out
}
