package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/docusense/docusense"
)

// maxUploadBytes bounds the in-memory portion of a multipart upload.
const maxUploadBytes = 100 << 20

type handler struct {
	service docusense.Service
}

// GET /
func (h *handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "DocuSense API is running!",
		"version": "1.0.0",
	})
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// POST /api/collections
func (h *handler) handleCreateCollection(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	col, err := h.service.CreateCollection(r.Context(), req.Name, req.Description)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, col)
}

// GET /api/collections
func (h *handler) handleListCollections(w http.ResponseWriter, r *http.Request) {
	cols, err := h.service.ListCollections(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cols)
}

// GET /api/collections/{id}
func (h *handler) handleGetCollection(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid collection id")
		return
	}

	col, err := h.service.GetCollection(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, col)
}

// POST /api/ingest/upload
func (h *handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	collectionID, err := strconv.ParseInt(r.FormValue("collection_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "collection_id is required")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	receipt, err := h.service.IngestUpload(r.Context(), collectionID, filepath.Base(header.Filename), file)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// POST /api/ingest/url
func (h *handler) handleIngestURL(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CollectionID int64  `json:"collection_id"`
		URL          string `json:"url"`
		Title        string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	receipt, err := h.service.IngestURL(r.Context(), req.CollectionID, req.URL, req.Title)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// GET /api/ingest/status/{job_id}
func (h *handler) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	job, err := h.service.JobStatus(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// POST /api/ask
func (h *handler) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Question     string `json:"question"`
		CollectionID int64  `json:"collection_id"`
		TopK         int    `json:"top_k"`
		UseHybrid    *bool  `json:"use_hybrid"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	// Hybrid retrieval is the default; clients opt out explicitly.
	hybrid := true
	if req.UseHybrid != nil {
		hybrid = *req.UseHybrid
	}

	resp, err := h.service.Ask(r.Context(), docusense.AskRequest{
		Question:     req.Question,
		CollectionID: req.CollectionID,
		TopK:         req.TopK,
		UseHybrid:    hybrid,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// POST /api/feedback/{query_id}
func (h *handler) handleFeedback(w http.ResponseWriter, r *http.Request) {
	queryID, err := strconv.ParseInt(chi.URLParam(r, "query_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid query id")
		return
	}

	var req struct {
		Value int    `json:"value"`
		Note  string `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if _, err := h.service.SubmitFeedback(r.Context(), queryID, req.Value, req.Note); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Feedback submitted successfully"})
}

// GET /api/metrics
func (h *handler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := h.service.Metrics(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// ---------------------------------------------------------------------------
// Response helpers
// ---------------------------------------------------------------------------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("server: encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps the service sentinels onto HTTP status codes.
// Unrecognized errors are logged and reported as a generic 500 so
// internal detail never leaks to clients.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, docusense.ErrValidation),
		errors.Is(err, docusense.ErrDuplicateDocument),
		errors.Is(err, docusense.ErrCollectionExists),
		errors.Is(err, docusense.ErrNoChunks):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, docusense.ErrCollectionNotFound),
		errors.Is(err, docusense.ErrDocumentNotFound),
		errors.Is(err, docusense.ErrJobNotFound),
		errors.Is(err, docusense.ErrQueryNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, docusense.ErrLLMUnavailable),
		errors.Is(err, docusense.ErrEmbeddingFailed):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		slog.Error("server: request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
