package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"vectorflow/internal/core"
)

const (
	defaultSearchLimit = 5
	maxSearchLimit     = 50
)

type SearchHandler struct {
	dbclient core.DbClient
	embedder core.EmbeddingProvider
}

func NewSearchHandler(dbclient core.DbClient, embedder core.EmbeddingProvider) *SearchHandler {
	return &SearchHandler{dbclient: dbclient, embedder: embedder}
}

type SearchRequest struct {
	Query  string    `json:"query,omitempty"`
	Vector []float32 `json:"vector,omitempty"`
	Limit  int       `json:"limit,omitempty"`
}

// SearchChunks is the retrieval primitive for the external RAG path. A raw
// query vector is used as-is; query text is embedded first.
func (h *SearchHandler) SearchChunks(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if len(req.Vector) == 0 && req.Query == "" {
		writeError(w, http.StatusBadRequest, "query or vector required")
		return
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	queryVec := req.Vector
	if len(queryVec) == 0 {
		vecs, err := h.embedder.EmbedTexts(r.Context(), []string{req.Query})
		if err != nil || len(vecs) == 0 {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("embedding failed: %v", err))
			return
		}
		queryVec = vecs[0]
	}

	chunks, err := h.dbclient.SearchBySimilarity(r.Context(), queryVec, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("search failed: %v", err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(chunks)
}

// GetStats reports processing record counts by status.
func (h *SearchHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.dbclient.GetProcessingStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}
