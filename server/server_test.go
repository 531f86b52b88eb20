package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/docusense/docusense"
	"github.com/docusense/docusense/answer"
	"github.com/docusense/docusense/store"
)

func TestMain(m *testing.M) {
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
	os.Exit(m.Run())
}

// ---------------------------------------------------------------------------
// Stub service
// ---------------------------------------------------------------------------

type stubService struct {
	col     *store.Collection
	colErr  error
	cols    []store.Collection
	listErr error

	receipt   *docusense.IngestReceipt
	ingestErr error

	job    *store.IngestJob
	jobErr error

	askReq  docusense.AskRequest
	askResp *docusense.AskResponse
	askErr  error

	fbQueryID int64
	fbValue   int
	fbNote    string
	fbErr     error

	metrics *store.Metrics

	createdName string
	createdDesc string

	uploadCollection int64
	uploadFilename   string
	uploadBody       string

	urlCollection int64
	urlValue      string
	urlTitle      string
}

func (s *stubService) CreateCollection(_ context.Context, name, description string) (*store.Collection, error) {
	s.createdName, s.createdDesc = name, description
	if s.colErr != nil {
		return nil, s.colErr
	}
	return s.col, nil
}

func (s *stubService) GetCollection(context.Context, int64) (*store.Collection, error) {
	if s.colErr != nil {
		return nil, s.colErr
	}
	return s.col, nil
}

func (s *stubService) ListCollections(context.Context) ([]store.Collection, error) {
	return s.cols, s.listErr
}

func (s *stubService) IngestUpload(_ context.Context, collectionID int64, filename string, file io.Reader) (*docusense.IngestReceipt, error) {
	s.uploadCollection, s.uploadFilename = collectionID, filename
	body, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}
	s.uploadBody = string(body)
	if s.ingestErr != nil {
		return nil, s.ingestErr
	}
	return s.receipt, nil
}

func (s *stubService) IngestURL(_ context.Context, collectionID int64, url, title string) (*docusense.IngestReceipt, error) {
	s.urlCollection, s.urlValue, s.urlTitle = collectionID, url, title
	if s.ingestErr != nil {
		return nil, s.ingestErr
	}
	return s.receipt, nil
}

func (s *stubService) JobStatus(context.Context, string) (*store.IngestJob, error) {
	if s.jobErr != nil {
		return nil, s.jobErr
	}
	return s.job, nil
}

func (s *stubService) Ask(_ context.Context, req docusense.AskRequest) (*docusense.AskResponse, error) {
	s.askReq = req
	if s.askErr != nil {
		return nil, s.askErr
	}
	return s.askResp, nil
}

func (s *stubService) SubmitFeedback(_ context.Context, queryID int64, value int, note string) (*store.Feedback, error) {
	s.fbQueryID, s.fbValue, s.fbNote = queryID, value, note
	if s.fbErr != nil {
		return nil, s.fbErr
	}
	return &store.Feedback{ID: 1, QueryID: queryID, Value: value, Note: note}, nil
}

func (s *stubService) Metrics(context.Context) (*store.Metrics, error) {
	return s.metrics, nil
}

func (s *stubService) Close() {}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newTestServer(svc *stubService) http.Handler {
	return New(svc, Config{CORSOrigin: "http://localhost:3000"})
}

func doJSON(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type = %q, want application/json", ct)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding body %q: %v", rec.Body.String(), err)
	}
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	decode(t, rec, &body)
	return body["error"]
}

func multipartBody(t *testing.T, collectionID, filename, content string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if collectionID != "" {
		if err := mw.WriteField("collection_id", collectionID); err != nil {
			t.Fatal(err)
		}
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := io.WriteString(fw, content); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

// ---------------------------------------------------------------------------
// Health and metrics
// ---------------------------------------------------------------------------

func TestHealth(t *testing.T) {
	h := newTestServer(&stubService{})

	rec := doJSON(t, h, http.MethodGet, "/health", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body map[string]string
	decode(t, rec, &body)
	if body["status"] != "healthy" {
		t.Errorf("status field = %q, want %q", body["status"], "healthy")
	}
}

func TestMetrics(t *testing.T) {
	svc := &stubService{metrics: &store.Metrics{
		TotalCollections: 2,
		TotalDocuments:   14,
		TotalChunks:      512,
		TotalQueries:     31,
		AvgLatencyMS:     842.5,
	}}
	h := newTestServer(svc)

	rec := doJSON(t, h, http.MethodGet, "/api/metrics", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body store.Metrics
	decode(t, rec, &body)
	if body.TotalChunks != 512 || body.AvgLatencyMS != 842.5 {
		t.Errorf("metrics = %+v, want chunks 512 and avg latency 842.5", body)
	}
}

// ---------------------------------------------------------------------------
// Collections
// ---------------------------------------------------------------------------

func TestCreateCollection(t *testing.T) {
	svc := &stubService{col: &store.Collection{
		ID:        3,
		Name:      "manuals",
		CreatedAt: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}}
	h := newTestServer(svc)

	rec := doJSON(t, h, http.MethodPost, "/api/collections",
		`{"name": "manuals", "description": "appliance manuals"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (%s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	if svc.createdName != "manuals" || svc.createdDesc != "appliance manuals" {
		t.Errorf("service got (%q, %q), want decoded request fields", svc.createdName, svc.createdDesc)
	}
	var body store.Collection
	decode(t, rec, &body)
	if body.ID != 3 || body.Name != "manuals" {
		t.Errorf("body = %+v, want id 3 name manuals", body)
	}
}

func TestCreateCollectionDuplicate(t *testing.T) {
	svc := &stubService{colErr: fmt.Errorf("%w: manuals", docusense.ErrCollectionExists)}
	h := newTestServer(svc)

	rec := doJSON(t, h, http.MethodPost, "/api/collections", `{"name": "manuals"}`)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if msg := errorMessage(t, rec); !strings.Contains(msg, "manuals") {
		t.Errorf("error = %q, want the collection name", msg)
	}
}

func TestCreateCollectionBadJSON(t *testing.T) {
	h := newTestServer(&stubService{})

	rec := doJSON(t, h, http.MethodPost, "/api/collections", `{"name": `)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestListCollections(t *testing.T) {
	svc := &stubService{cols: []store.Collection{
		{ID: 1, Name: "manuals", DocumentCount: 4},
		{ID: 2, Name: "policies"},
	}}
	h := newTestServer(svc)

	rec := doJSON(t, h, http.MethodGet, "/api/collections", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body []store.Collection
	decode(t, rec, &body)
	if len(body) != 2 || body[0].DocumentCount != 4 {
		t.Errorf("body = %+v, want 2 collections with counts", body)
	}
}

func TestGetCollection(t *testing.T) {
	svc := &stubService{col: &store.Collection{ID: 3, Name: "manuals", DocumentCount: 7}}
	h := newTestServer(svc)

	rec := doJSON(t, h, http.MethodGet, "/api/collections/3", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body store.Collection
	decode(t, rec, &body)
	if body.DocumentCount != 7 {
		t.Errorf("document_count = %d, want 7", body.DocumentCount)
	}
}

func TestGetCollectionNotFound(t *testing.T) {
	svc := &stubService{colErr: fmt.Errorf("%w: 99", docusense.ErrCollectionNotFound)}
	h := newTestServer(svc)

	rec := doJSON(t, h, http.MethodGet, "/api/collections/99", "")

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestGetCollectionBadID(t *testing.T) {
	h := newTestServer(&stubService{})

	rec := doJSON(t, h, http.MethodGet, "/api/collections/abc", "")

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

// ---------------------------------------------------------------------------
// Ingestion
// ---------------------------------------------------------------------------

func TestUpload(t *testing.T) {
	svc := &stubService{receipt: &docusense.IngestReceipt{
		JobID:   "job-abc",
		Status:  "pending",
		Message: "Document 'manual.pdf' queued for processing",
	}}
	h := newTestServer(svc)

	body, contentType := multipartBody(t, "3", "manual.pdf", "%PDF-1.4 fake")
	req := httptest.NewRequest(http.MethodPost, "/api/ingest/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (%s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	if svc.uploadCollection != 3 {
		t.Errorf("collection id = %d, want 3", svc.uploadCollection)
	}
	if svc.uploadFilename != "manual.pdf" {
		t.Errorf("filename = %q, want %q", svc.uploadFilename, "manual.pdf")
	}
	if svc.uploadBody != "%PDF-1.4 fake" {
		t.Errorf("file body = %q, want the uploaded bytes", svc.uploadBody)
	}
	var receipt docusense.IngestReceipt
	decode(t, rec, &receipt)
	if receipt.JobID != "job-abc" || receipt.Status != "pending" {
		t.Errorf("receipt = %+v, want job-abc pending", receipt)
	}
}

func TestUploadStripsFilenamePath(t *testing.T) {
	svc := &stubService{receipt: &docusense.IngestReceipt{JobID: "job-abc"}}
	h := newTestServer(svc)

	body, contentType := multipartBody(t, "3", "nested/dir/notes.txt", "hello")
	req := httptest.NewRequest(http.MethodPost, "/api/ingest/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if svc.uploadFilename != "notes.txt" {
		t.Errorf("filename = %q, want %q", svc.uploadFilename, "notes.txt")
	}
}

func TestUploadMissingCollectionID(t *testing.T) {
	h := newTestServer(&stubService{})

	body, contentType := multipartBody(t, "", "manual.pdf", "x")
	req := httptest.NewRequest(http.MethodPost, "/api/ingest/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestUploadMissingFile(t *testing.T) {
	h := newTestServer(&stubService{})

	body, contentType := multipartBody(t, "3", "", "")
	req := httptest.NewRequest(http.MethodPost, "/api/ingest/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestUploadDuplicate(t *testing.T) {
	svc := &stubService{ingestErr: fmt.Errorf("%w: manual.pdf", docusense.ErrDuplicateDocument)}
	h := newTestServer(svc)

	body, contentType := multipartBody(t, "3", "manual.pdf", "same bytes")
	req := httptest.NewRequest(http.MethodPost, "/api/ingest/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if msg := errorMessage(t, rec); !strings.Contains(msg, "manual.pdf") {
		t.Errorf("error = %q, want duplicate detail", msg)
	}
}

func TestIngestURL(t *testing.T) {
	svc := &stubService{receipt: &docusense.IngestReceipt{
		JobID:   "job-url",
		Status:  "pending",
		Message: "URL 'https://example.com/guide' queued for processing",
	}}
	h := newTestServer(svc)

	rec := doJSON(t, h, http.MethodPost, "/api/ingest/url",
		`{"collection_id": 3, "url": "https://example.com/guide", "title": "Guide"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (%s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	if svc.urlCollection != 3 || svc.urlValue != "https://example.com/guide" || svc.urlTitle != "Guide" {
		t.Errorf("service got (%d, %q, %q), want decoded request fields",
			svc.urlCollection, svc.urlValue, svc.urlTitle)
	}
	var receipt docusense.IngestReceipt
	decode(t, rec, &receipt)
	if receipt.JobID != "job-url" {
		t.Errorf("job_id = %q, want job-url", receipt.JobID)
	}
}

func TestIngestURLValidation(t *testing.T) {
	svc := &stubService{ingestErr: fmt.Errorf("%w: url is required", docusense.ErrValidation)}
	h := newTestServer(svc)

	rec := doJSON(t, h, http.MethodPost, "/api/ingest/url", `{"collection_id": 3, "url": ""}`)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestJobStatus(t *testing.T) {
	done := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	docID := int64(7)
	svc := &stubService{job: &store.IngestJob{
		ID:           "job-abc",
		CollectionID: 3,
		DocumentID:   &docID,
		Status:       "completed",
		Progress:     100,
		CompletedAt:  &done,
	}}
	h := newTestServer(svc)

	rec := doJSON(t, h, http.MethodGet, "/api/ingest/status/job-abc", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body map[string]any
	decode(t, rec, &body)
	if body["job_id"] != "job-abc" {
		t.Errorf("job_id = %v, want job-abc", body["job_id"])
	}
	if body["progress"] != float64(100) {
		t.Errorf("progress = %v, want 100", body["progress"])
	}
	if _, ok := body["error_message"]; ok {
		t.Errorf("error_message should be omitted for successful jobs, body = %v", body)
	}
}

func TestJobStatusNotFound(t *testing.T) {
	svc := &stubService{jobErr: fmt.Errorf("%w: job-zzz", docusense.ErrJobNotFound)}
	h := newTestServer(svc)

	rec := doJSON(t, h, http.MethodGet, "/api/ingest/status/job-zzz", "")

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

// ---------------------------------------------------------------------------
// Ask and feedback
// ---------------------------------------------------------------------------

func TestAsk(t *testing.T) {
	svc := &stubService{askResp: &docusense.AskResponse{
		Answer: "The warranty period is two years [1].",
		Citations: []answer.Citation{
			{Index: 1, TextPreview: "warranty period is two years", DocumentID: 7, ChunkIndex: 0},
		},
		Confidence: 0.82,
		LatencyMS:  412,
	}}
	h := newTestServer(svc)

	rec := doJSON(t, h, http.MethodPost, "/api/ask",
		`{"question": "what is the warranty period?", "collection_id": 3, "top_k": 5}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (%s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	if svc.askReq.Question != "what is the warranty period?" || svc.askReq.CollectionID != 3 {
		t.Errorf("service got %+v, want decoded question and collection", svc.askReq)
	}
	if svc.askReq.TopK != 5 {
		t.Errorf("top_k = %d, want 5", svc.askReq.TopK)
	}
	var body docusense.AskResponse
	decode(t, rec, &body)
	if body.Answer != svc.askResp.Answer || body.Confidence != 0.82 {
		t.Errorf("body = %+v, want the service answer", body)
	}
	if len(body.Citations) != 1 || body.Citations[0].DocumentID != 7 {
		t.Errorf("citations = %+v, want one citation for document 7", body.Citations)
	}
}

func TestAskHybridDefaultsOn(t *testing.T) {
	svc := &stubService{askResp: &docusense.AskResponse{Answer: "ok"}}
	h := newTestServer(svc)

	doJSON(t, h, http.MethodPost, "/api/ask", `{"question": "q", "collection_id": 3}`)
	if !svc.askReq.UseHybrid {
		t.Error("use_hybrid omitted should default to true")
	}

	doJSON(t, h, http.MethodPost, "/api/ask",
		`{"question": "q", "collection_id": 3, "use_hybrid": false}`)
	if svc.askReq.UseHybrid {
		t.Error("use_hybrid false should be passed through")
	}
}

func TestAskErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", fmt.Errorf("%w: question is required", docusense.ErrValidation), http.StatusBadRequest},
		{"empty collection", fmt.Errorf("%w: collection 3", docusense.ErrNoChunks), http.StatusBadRequest},
		{"unknown collection", fmt.Errorf("%w: 99", docusense.ErrCollectionNotFound), http.StatusNotFound},
		{"llm down", fmt.Errorf("%w: connection refused", docusense.ErrLLMUnavailable), http.StatusBadGateway},
		{"embedding backend", fmt.Errorf("%w: zero vector", docusense.ErrEmbeddingFailed), http.StatusBadGateway},
		{"internal", errors.New("pool exhausted"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(&stubService{askErr: tt.err})

			rec := doJSON(t, h, http.MethodPost, "/api/ask", `{"question": "q", "collection_id": 3}`)

			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			msg := errorMessage(t, rec)
			if tt.want == http.StatusInternalServerError {
				if strings.Contains(msg, "pool") {
					t.Errorf("error = %q, internal detail should not leak", msg)
				}
			} else if msg == "" {
				t.Error("error message should not be empty")
			}
		})
	}
}

func TestFeedback(t *testing.T) {
	svc := &stubService{}
	h := newTestServer(svc)

	rec := doJSON(t, h, http.MethodPost, "/api/feedback/9",
		`{"value": 1, "note": "spot on"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (%s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	if svc.fbQueryID != 9 || svc.fbValue != 1 || svc.fbNote != "spot on" {
		t.Errorf("service got (%d, %d, %q), want decoded request", svc.fbQueryID, svc.fbValue, svc.fbNote)
	}
	var body map[string]string
	decode(t, rec, &body)
	if body["message"] != "Feedback submitted successfully" {
		t.Errorf("message = %q, want submission confirmation", body["message"])
	}
}

func TestFeedbackErrors(t *testing.T) {
	t.Run("bad query id", func(t *testing.T) {
		h := newTestServer(&stubService{})
		rec := doJSON(t, h, http.MethodPost, "/api/feedback/abc", `{"value": 1}`)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
		}
	})

	t.Run("invalid value", func(t *testing.T) {
		svc := &stubService{fbErr: fmt.Errorf("%w: value must be 1 or -1", docusense.ErrValidation)}
		h := newTestServer(svc)
		rec := doJSON(t, h, http.MethodPost, "/api/feedback/9", `{"value": 5}`)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
		}
	})

	t.Run("unknown query", func(t *testing.T) {
		svc := &stubService{fbErr: fmt.Errorf("%w: 404", docusense.ErrQueryNotFound)}
		h := newTestServer(svc)
		rec := doJSON(t, h, http.MethodPost, "/api/feedback/404", `{"value": -1}`)
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
		}
	})
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

func TestCORSPreflight(t *testing.T) {
	h := newTestServer(&stubService{})

	req := httptest.NewRequest(http.MethodOptions, "/api/ask", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("allow-origin = %q, want the configured origin", got)
	}
}

func TestCORSHeadersOnRequests(t *testing.T) {
	h := newTestServer(&stubService{})

	rec := doJSON(t, h, http.MethodGet, "/health", "")

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("allow-origin = %q, want the configured origin", got)
	}
}

func TestCORSDisabledWhenUnconfigured(t *testing.T) {
	h := New(&stubService{}, Config{})

	rec := doJSON(t, h, http.MethodGet, "/health", "")

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("allow-origin = %q, want no CORS headers", got)
	}
}
