package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"vectorflow/internal/core"
	"vectorflow/internal/core/progress"
	"vectorflow/internal/models"
)

type StreamHandler struct {
	dbclient core.DbClient
	store    *progress.Store
	tracker  *progress.Tracker
}

func NewStreamHandler(dbclient core.DbClient, store *progress.Store, tracker *progress.Tracker) *StreamHandler {
	return &StreamHandler{dbclient: dbclient, store: store, tracker: tracker}
}

// StreamProgress serves one document's progress as server-sent events. A
// document with live state gets its current state replayed immediately and
// live events after that; the stream closes shortly after a terminal event.
// A document known only to the database (previous process) gets its stored
// state as a single event. Unknown documents are a 404.
func (h *StreamHandler) StreamProgress(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "documentID")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	if !h.store.Exists(docID) {
		rec, err := h.dbclient.GetProcessingRecord(r.Context(), docID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if rec == nil {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		// Nothing live to follow; emit the durable state once and finish.
		setStreamHeaders(w)
		writeEvent(w, models.ProgressEvent{
			DocumentID: rec.DocumentID,
			Stage:      rec.Stage,
			Status:     rec.Status,
			Progress:   rec.Progress,
			ChunkCount: rec.ChunkCount,
			Error:      rec.ErrorMessage,
			Timestamp:  rec.UpdatedAt,
		})
		flusher.Flush()
		return
	}

	setStreamHeaders(w)

	// The request context ends when the client disconnects, which tears the
	// subscription down immediately without touching the processing run.
	for evt := range h.tracker.Stream(r.Context(), docID) {
		writeEvent(w, evt)
		flusher.Flush()
	}
}

func setStreamHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}

func writeEvent(w http.ResponseWriter, evt models.ProgressEvent) {
	b, err := json.Marshal(evt)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", b)
}
