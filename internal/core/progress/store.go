package progress

import (
	"sync"
	"time"

	"vectorflow/internal/models"
)

// Store is an in-memory registry of live processing state keyed by document
// ID. It is a process-local cache; the database row is authoritative once a
// run terminates or the service restarts. Build one per service instance and
// inject it, so tests get a fresh registry per case.
type Store struct {
	mu      sync.RWMutex
	records map[string]*models.ProcessingRecord
}

func NewStore() *Store {
	return &Store{records: make(map[string]*models.ProcessingRecord)}
}

// Initialize registers a fresh record for a document about to be processed.
// Owner and submission metadata are carried from the start, so a live read
// matches what the durable row will say. An existing record for the same ID
// is replaced (a resubmitted document starts over from scratch).
func (s *Store) Initialize(documentID, ownerID, filename string, metadata map[string]string) models.ProcessingRecord {
	now := time.Now()
	rec := &models.ProcessingRecord{
		DocumentID: documentID,
		OwnerID:    ownerID,
		Filename:   filename,
		Status:     models.StatusPending,
		Stage:      models.StageUpload,
		Progress:   0,
		Metadata:   metadata,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	s.mu.Lock()
	s.records[documentID] = rec
	s.mu.Unlock()
	return *rec
}

// Update merges the supplied fields into the stored record and returns the
// new state. The second return is false when the document is unknown.
// Progress is clamped to [0,100].
func (s *Store) Update(documentID string, upd models.ProgressUpdate) (models.ProcessingRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[documentID]
	if !ok {
		return models.ProcessingRecord{}, false
	}

	if upd.Status != nil {
		rec.Status = *upd.Status
	}
	if upd.Stage != nil {
		rec.Stage = *upd.Stage
	}
	if upd.Progress != nil {
		rec.Progress = clampProgress(*upd.Progress)
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

	return *rec, true
}

// Get returns a copy of the current state for a document.
func (s *Store) Get(documentID string) (models.ProcessingRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[documentID]
	if !ok {
		return models.ProcessingRecord{}, false
	}
	return *rec, true
}

// Remove drops the live state for a document. The durable record is untouched.
func (s *Store) Remove(documentID string) {
	s.mu.Lock()
	delete(s.records, documentID)
	s.mu.Unlock()
}

func (s *Store) Exists(documentID string) bool {
	s.mu.RLock()
	_, ok := s.records[documentID]
	s.mu.RUnlock()
	return ok
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
