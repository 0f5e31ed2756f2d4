package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"vectorflow/internal/config"
	"vectorflow/internal/core"
	"vectorflow/internal/core/ingestion"
	"vectorflow/internal/core/progress"
)

// allowedExtensions is the upload whitelist; anything else is rejected
// before a processing record exists.
var allowedExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".pdf":      true,
	".docx":     true,
	".html":     true,
}

type DocumentHandler struct {
	dbclient  core.DbClient
	archive   core.ObjectClient // nil when archiving is not configured
	processor *ingestion.Processor
	store     *progress.Store
	cfg       *config.Config
}

func NewDocumentHandler(dbclient core.DbClient, archive core.ObjectClient, proc *ingestion.Processor, store *progress.Store, cfg *config.Config) *DocumentHandler {
	return &DocumentHandler{dbclient: dbclient, archive: archive, processor: proc, store: store, cfg: cfg}
}

// SubmitDocument validates the upload, optionally archives the raw bytes,
// and hands the document to the background processor. Validation failures
// never create a ProcessingRecord.
func (h *DocumentHandler) SubmitDocument(w http.ResponseWriter, r *http.Request) {
	ownerID := r.Header.Get("X-Owner-ID")
	if ownerID == "" {
		writeError(w, http.StatusUnauthorized, "missing X-Owner-ID header")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(h.cfg.MaxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("upload too large or malformed: %v", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid file")
		return
	}
	defer file.Close()

	// Sanitize the filename to drop any path components.
	cleanFilename := filepath.Base(header.Filename)
	ext := strings.ToLower(filepath.Ext(cleanFilename))
	if !allowedExtensions[ext] {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported file type %q", ext))
		return
	}
	if header.Size > h.cfg.MaxUploadBytes {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("file exceeds %d byte limit", h.cfg.MaxUploadBytes))
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read file")
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "file is empty")
		return
	}

	var metadata map[string]string
	if raw := r.FormValue("metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
			writeError(w, http.StatusBadRequest, "metadata must be a JSON object of strings")
			return
		}
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = mime.TypeByExtension(ext)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	docID := uuid.NewString()

	if h.archive != nil {
		key := fmt.Sprintf("%s/%s/%s", ownerID, docID, cleanFilename)
		if url, err := h.archive.Upload(r.Context(), key, data, contentType); err != nil {
			log.Printf("archive upload for %s failed: %v", docID, err)
		} else {
			if metadata == nil {
				metadata = make(map[string]string)
			}
			metadata["archive_key"] = key
			metadata["archive_url"] = url
		}
	}

	job := ingestion.Job{
		DocumentID:  docID,
		OwnerID:     ownerID,
		Filename:    cleanFilename,
		ContentType: contentType,
		Data:        data,
		Metadata:    metadata,
	}
	if err := h.processor.Submit(r.Context(), job); err != nil {
		log.Printf("submit failed for doc %s: %v", docID, err)
		writeError(w, http.StatusInternalServerError, "could not enqueue document")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{
		"document_id": docID,
		"filename":    cleanFilename,
		"status":      "pending",
	})
}

// GetStatus reports current processing state: the live registry first, the
// database as fallback so terminal records survive a restart.
func (h *DocumentHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "documentID")

	if rec, ok := h.store.Get(docID); ok {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(rec)
		return
	}

	rec, err := h.dbclient.GetProcessingRecord(r.Context(), docID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rec)
}

func (h *DocumentHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	ownerID := r.Header.Get("X-Owner-ID")
	if ownerID == "" {
		writeError(w, http.StatusUnauthorized, "missing X-Owner-ID header")
		return
	}

	records, err := h.dbclient.ListRecordsByOwner(r.Context(), ownerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(records)
}

// DeleteDocument removes chunks and the processing record in one
// transaction, then cleans up the archived object best-effort.
func (h *DocumentHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	ownerID := r.Header.Get("X-Owner-ID")
	if ownerID == "" {
		writeError(w, http.StatusUnauthorized, "missing X-Owner-ID header")
		return
	}
	docID := chi.URLParam(r, "documentID")

	rec, err := h.dbclient.GetProcessingRecord(r.Context(), docID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	deleted, err := h.dbclient.DeleteDocument(r.Context(), docID, ownerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if deleted {
		h.store.Remove(docID)
		if h.archive != nil && rec != nil {
			if key, ok := rec.Metadata["archive_key"]; ok {
				if err := h.archive.Delete(r.Context(), key); err != nil {
					log.Printf("archive delete for %s failed: %v", docID, err)
				}
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"deleted": deleted})
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
