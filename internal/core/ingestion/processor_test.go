package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"vectorflow/internal/core"
	"vectorflow/internal/core/progress"
	"vectorflow/internal/models"
)

// fakeDB is an in-memory core.DbClient for pipeline tests.
type fakeDB struct {
	mu       sync.Mutex
	records  map[string]*models.ProcessingRecord
	chunks   map[string][]models.Chunk
	storeErr error
}

var _ core.DbClient = (*fakeDB)(nil)

func newFakeDB() *fakeDB {
	return &fakeDB{
		records: make(map[string]*models.ProcessingRecord),
		chunks:  make(map[string][]models.Chunk),
	}
}

func (f *fakeDB) CreateProcessingRecord(_ context.Context, rec *models.ProcessingRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *rec
	f.records[rec.DocumentID] = &cp
	return nil
}

func (f *fakeDB) GetProcessingRecord(_ context.Context, documentID string) (*models.ProcessingRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[documentID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeDB) ListRecordsByOwner(_ context.Context, ownerID string) ([]models.ProcessingRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ProcessingRecord
	for _, rec := range f.records {
		if rec.OwnerID == ownerID {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (f *fakeDB) UpdateProcessingStatus(_ context.Context, documentID string, upd models.ProgressUpdate) (*models.ProcessingRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[documentID]
	if !ok {
		return nil, nil
	}
	if upd.Status != nil {
		rec.Status = *upd.Status
	}
	if upd.Stage != nil {
		rec.Stage = *upd.Stage
	}
	if upd.Progress != nil {
		rec.Progress = *upd.Progress
	}
	if upd.ChunkCount != nil {
		rec.ChunkCount = *upd.ChunkCount
	}
	if upd.ErrorMessage != nil {
		rec.ErrorMessage = *upd.ErrorMessage
	}
	if upd.Metadata != nil {
		rec.Metadata = upd.Metadata
	}
	rec.UpdatedAt = time.Now()
	cp := *rec
	return &cp, nil
}

func (f *fakeDB) StoreChunks(_ context.Context, chunks []models.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.storeErr != nil {
		return f.storeErr
	}
	for _, ch := range chunks {
		f.chunks[ch.DocumentID] = append(f.chunks[ch.DocumentID], ch)
	}
	return nil
}

func (f *fakeDB) GetDocumentChunks(_ context.Context, documentID string) ([]models.Chunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Chunk(nil), f.chunks[documentID]...), nil
}

func (f *fakeDB) SearchBySimilarity(_ context.Context, _ []float32, _ int) ([]models.Chunk, error) {
	return nil, nil
}

func (f *fakeDB) DeleteDocument(_ context.Context, documentID, ownerID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[documentID]
	if !ok || rec.OwnerID != ownerID {
		return false, nil
	}
	delete(f.records, documentID)
	delete(f.chunks, documentID)
	return true, nil
}

func (f *fakeDB) GetProcessingStats(_ context.Context) (map[models.Status]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[models.Status]int)
	for _, rec := range f.records {
		out[rec.Status]++
	}
	return out, nil
}

func (f *fakeDB) Close() error { return nil }

// fakeEmbedder returns deterministic vectors, or errors for the first
// failCalls invocations.
type fakeEmbedder struct {
	mu        sync.Mutex
	calls     int
	failCalls int
	err       error
}

func (f *fakeEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil && (f.failCalls == 0 || f.calls <= f.failCalls) {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(len(texts[i])), 1, 2, 3}
	}
	return out, nil
}

func (f *fakeEmbedder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestProcessor(db *fakeDB, emb *fakeEmbedder) (*Processor, *progress.Tracker) {
	store := progress.NewStore()
	tracker := progress.NewTracker(store)
	proc := NewProcessor(db, emb, NewDocconvExtractor(false), tracker, &Config{
		ChunkSize:      512,
		ChunkOverlap:   50,
		BatchSize:      2,
		MaxRetries:     3,
		RetryBaseDelay: time.Millisecond,
		ProcessTimeout: 10 * time.Second,
	})
	return proc, tracker
}

func submitAndProcess(t *testing.T, proc *Processor, job Job) {
	t.Helper()
	require.NoError(t, proc.Submit(context.Background(), job))
	proc.Process(job)
}

func plainJob(docID, text string) Job {
	return Job{
		DocumentID:  docID,
		OwnerID:     "owner-1",
		Filename:    "doc.txt",
		ContentType: "text/plain",
		Data:        []byte(text),
	}
}

func TestProcessor_CompletedRun(t *testing.T) {
	db := newFakeDB()
	emb := &fakeEmbedder{}
	proc, tracker := newTestProcessor(db, emb)

	var events []models.ProgressEvent
	unsub := tracker.Subscribe("doc-1", func(evt models.ProgressEvent) {
		events = append(events, evt)
	})
	defer unsub()

	submitAndProcess(t, proc, plainJob("doc-1", strings.Repeat("a", 1200)))

	rec, err := db.GetProcessingRecord(context.Background(), "doc-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, models.StatusCompleted, rec.Status)
	assert.Equal(t, models.StageCompleted, rec.Stage)
	assert.Equal(t, 100, rec.Progress)
	assert.Equal(t, 3, rec.ChunkCount)

	chunks, err := db.GetDocumentChunks(context.Background(), "doc-1")
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	for i, ch := range chunks {
		assert.Equal(t, i, ch.ChunkIndex, "chunk indexes must be gapless from zero")
		assert.Len(t, ch.Embedding, 4)
		assert.Equal(t, "doc.txt", ch.Filename)
	}

	// 3 chunks at batch size 2 means 2 embedding calls.
	assert.Equal(t, 2, emb.callCount())

	// Progress is monotonically non-decreasing and ends at 100.
	require.NotEmpty(t, events)
	last := 0
	for _, evt := range events {
		assert.GreaterOrEqual(t, evt.Progress, last)
		assert.Equal(t, "doc-1", evt.DocumentID)
		last = evt.Progress
	}
	final := events[len(events)-1]
	assert.Equal(t, models.StatusCompleted, final.Status)
	assert.Equal(t, 100, final.Progress)
}

func TestProcessor_StageSequence(t *testing.T) {
	db := newFakeDB()
	emb := &fakeEmbedder{}
	proc, tracker := newTestProcessor(db, emb)

	var stages []models.Stage
	unsub := tracker.Subscribe("doc-1", func(evt models.ProgressEvent) {
		if len(stages) == 0 || stages[len(stages)-1] != evt.Stage {
			stages = append(stages, evt.Stage)
		}
	})
	defer unsub()

	submitAndProcess(t, proc, plainJob("doc-1", strings.Repeat("a", 1200)))

	assert.Equal(t, []models.Stage{
		models.StageUpload,
		models.StageParsing,
		models.StageChunking,
		models.StageEmbedding,
		models.StageStoring,
		models.StageCompleted,
	}, stages)
}

func TestProcessor_EmbeddingFailureAfterRetries(t *testing.T) {
	db := newFakeDB()
	emb := &fakeEmbedder{err: &googleapi.Error{Code: 503, Message: "unavailable"}}
	proc, _ := newTestProcessor(db, emb)

	submitAndProcess(t, proc, plainJob("doc-1", strings.Repeat("a", 600)))

	rec, err := db.GetProcessingRecord(context.Background(), "doc-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, models.StatusFailed, rec.Status)
	assert.Equal(t, models.StageError, rec.Stage)
	assert.NotEmpty(t, rec.ErrorMessage)

	chunks, err := db.GetDocumentChunks(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Empty(t, chunks, "no chunks may be stored after an embedding failure")

	assert.Equal(t, 3, emb.callCount(), "transient failures retry up to the limit")
}

func TestProcessor_PermanentEmbeddingErrorFailsFast(t *testing.T) {
	db := newFakeDB()
	emb := &fakeEmbedder{err: errors.New("malformed input")}
	proc, _ := newTestProcessor(db, emb)

	submitAndProcess(t, proc, plainJob("doc-1", strings.Repeat("a", 600)))

	rec, _ := db.GetProcessingRecord(context.Background(), "doc-1")
	require.NotNil(t, rec)
	assert.Equal(t, models.StatusFailed, rec.Status)
	assert.Equal(t, 1, emb.callCount(), "permanent errors must not be retried")
}

func TestProcessor_TransientThenSuccess(t *testing.T) {
	db := newFakeDB()
	emb := &fakeEmbedder{err: &googleapi.Error{Code: 429}, failCalls: 1}
	proc, _ := newTestProcessor(db, emb)

	submitAndProcess(t, proc, plainJob("doc-1", strings.Repeat("a", 400)))

	rec, _ := db.GetProcessingRecord(context.Background(), "doc-1")
	require.NotNil(t, rec)
	assert.Equal(t, models.StatusCompleted, rec.Status, "a retried transient failure is invisible to the caller")
}

func TestProcessor_SubmitFailsRecordWhenQueueFull(t *testing.T) {
	db := newFakeDB()
	proc, _ := newTestProcessor(db, &fakeEmbedder{})

	// No workers started: fill the queue to capacity.
	for i := 0; i < cap(proc.jobs); i++ {
		job := plainJob(fmt.Sprintf("doc-%d", i), "x")
		require.NoError(t, proc.Submit(context.Background(), job))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := proc.Submit(ctx, plainJob("doc-orphan", "x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQueueFull)

	// The record must not be left pending forever: a submission no worker
	// will ever pick up terminates as failed.
	rec, _ := db.GetProcessingRecord(context.Background(), "doc-orphan")
	require.NotNil(t, rec)
	assert.Equal(t, models.StatusFailed, rec.Status)
	assert.Equal(t, models.StageError, rec.Stage)
	assert.Contains(t, rec.ErrorMessage, "queue")
}

func TestProcessor_EmptyDocumentFails(t *testing.T) {
	db := newFakeDB()
	proc, _ := newTestProcessor(db, &fakeEmbedder{})

	submitAndProcess(t, proc, plainJob("doc-1", "   \n\n  "))

	rec, _ := db.GetProcessingRecord(context.Background(), "doc-1")
	require.NotNil(t, rec)
	assert.Equal(t, models.StatusFailed, rec.Status)
	assert.Equal(t, models.StageError, rec.Stage)
	assert.Contains(t, rec.ErrorMessage, "no content")
}

func TestProcessor_StorageFailureLeavesNoChunks(t *testing.T) {
	db := newFakeDB()
	db.storeErr = errors.New("transaction aborted")
	proc, _ := newTestProcessor(db, &fakeEmbedder{})

	submitAndProcess(t, proc, plainJob("doc-1", strings.Repeat("a", 600)))

	rec, _ := db.GetProcessingRecord(context.Background(), "doc-1")
	require.NotNil(t, rec)
	assert.Equal(t, models.StatusFailed, rec.Status)

	chunks, _ := db.GetDocumentChunks(context.Background(), "doc-1")
	assert.Empty(t, chunks)
}

func TestProcessor_FrontMatterAndHeadings(t *testing.T) {
	db := newFakeDB()
	proc, _ := newTestProcessor(db, &fakeEmbedder{})

	text := "---\ntitle: Quarterly Report\n---\n# Revenue\n" + strings.Repeat("r", 600)
	job := plainJob("doc-1", text)
	job.Filename = "report.md"
	job.ContentType = "text/markdown"
	submitAndProcess(t, proc, job)

	rec, _ := db.GetProcessingRecord(context.Background(), "doc-1")
	require.NotNil(t, rec)
	assert.Equal(t, models.StatusCompleted, rec.Status)
	assert.Equal(t, "Quarterly Report", rec.Metadata["title"])

	chunks, _ := db.GetDocumentChunks(context.Background(), "doc-1")
	require.NotEmpty(t, chunks)
	for _, ch := range chunks {
		assert.Equal(t, "Quarterly Report", ch.Metadata["title"], "chunks inherit document metadata")
		assert.Equal(t, "Revenue", ch.Metadata["heading"])
		assert.NotContains(t, ch.Text, "title:", "front matter is stripped from chunk text")
	}
}

func TestProcessor_ConcurrentDocumentsAreIsolated(t *testing.T) {
	db := newFakeDB()
	proc, tracker := newTestProcessor(db, &fakeEmbedder{})

	var mu sync.Mutex
	seen := make(map[string][]string) // subscriber doc -> event doc ids
	for _, id := range []string{"doc-a", "doc-b"} {
		id := id
		unsub := tracker.Subscribe(id, func(evt models.ProgressEvent) {
			mu.Lock()
			seen[id] = append(seen[id], evt.DocumentID)
			mu.Unlock()
		})
		defer unsub()
	}

	var wg sync.WaitGroup
	for i, id := range []string{"doc-a", "doc-b"} {
		job := plainJob(id, strings.Repeat(fmt.Sprintf("%d", i), 800))
		require.NoError(t, proc.Submit(context.Background(), job))
		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			proc.Process(job)
		}(job)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for sub, ids := range seen {
		for _, id := range ids {
			assert.Equal(t, sub, id, "subscriber for %s must never see another document's events", sub)
		}
	}

	for _, id := range []string{"doc-a", "doc-b"} {
		rec, _ := db.GetProcessingRecord(context.Background(), id)
		require.NotNil(t, rec)
		assert.Equal(t, models.StatusCompleted, rec.Status)
	}
}
