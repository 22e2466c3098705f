package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"

	"docvoice/internal/filestore"
	"docvoice/internal/models"
	"docvoice/internal/queue"
	"docvoice/internal/storage"
)

func newTestServer(t *testing.T) (*gin.Engine, *storage.JobStore, *filestore.DiskStore, *queue.MemoryQueue) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := sql.Open("sqlite3", "file:"+filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	db.SetMaxOpenConns(1)
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	jobs := storage.NewJobStore(db)

	files, err := filestore.NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatalf("disk store: %v", err)
	}
	q := queue.NewMemoryQueue(16)

	router := gin.New()
	NewHandler(jobs, files, q, nil, 8).RegisterRoutes(router)
	return router, jobs, files, q
}

func uploadRequest(t *testing.T, filename, language, summarize string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if filename != "" {
		part, err := w.CreateFormFile("document", filename)
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		if _, err := part.Write([]byte("%PDF-1.4 fake document body")); err != nil {
			t.Fatalf("write part: %v", err)
		}
	}
	if language != "" {
		_ = w.WriteField("language", language)
	}
	if summarize != "" {
		_ = w.WriteField("summarize", summarize)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/jobs", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func doRequest(router *gin.Engine, req *http.Request, owner string) *httptest.ResponseRecorder {
	if owner != "" {
		req.Header.Set("X-User-ID", owner)
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func decodeJSON(t *testing.T, data []byte, out any) {
	t.Helper()
	if err := json.Unmarshal(data, out); err != nil {
		t.Fatalf("decode response %s: %v", data, err)
	}
}

func TestJobLifecycleOverHTTP(t *testing.T) {
	router, jobs, files, q := newTestServer(t)
	ctx := context.Background()

	// Submit a document.
	resp := doRequest(router, uploadRequest(t, "paper.pdf", "en", "true"), "7")
	if resp.Code != http.StatusAccepted {
		t.Fatalf("create status = %d body=%s", resp.Code, resp.Body.String())
	}
	var created struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	decodeJSON(t, resp.Body.Bytes(), &created)
	if created.ID == "" || created.Status != string(models.StatusQueued) {
		t.Fatalf("unexpected create response: %+v", created)
	}

	// The job id landed on the queue.
	queued, err := q.Dequeue(ctx)
	if err != nil || queued != created.ID {
		t.Fatalf("queue entry = %q, %v", queued, err)
	}

	// Status polling works before completion.
	resp = doRequest(router, httptest.NewRequest(http.MethodGet, "/api/jobs/"+created.ID+"/status", nil), "7")
	if resp.Code != http.StatusOK {
		t.Fatalf("status poll = %d", resp.Code)
	}

	// Timestamps and audio are refused until the job succeeds.
	resp = doRequest(router, httptest.NewRequest(http.MethodGet, "/api/jobs/"+created.ID+"/timestamps", nil), "7")
	if resp.Code != http.StatusConflict {
		t.Fatalf("timestamps before success = %d", resp.Code)
	}
	resp = doRequest(router, httptest.NewRequest(http.MethodGet, "/api/jobs/"+created.ID+"/audio", nil), "7")
	if resp.Code != http.StatusConflict {
		t.Fatalf("audio before success = %d", resp.Code)
	}

	// Simulate the worker finishing the job.
	audioRef, err := files.Store([]byte("RIFF fake wav"), "wav")
	if err != nil {
		t.Fatalf("store audio: %v", err)
	}
	if ok, err := jobs.TransitionStatus(ctx, created.ID, models.StatusQueued, models.StatusRunning); err != nil || !ok {
		t.Fatalf("claim: %v", err)
	}
	ts := []models.TimestampChunk{{Text: "hello world", Start: 0, End: 1.5}}
	if err := jobs.SaveResult(ctx, created.ID, "hello world", audioRef, ts, []string{"SummarizationDegraded"}); err != nil {
		t.Fatalf("save result: %v", err)
	}

	// Detail view carries result text and markers.
	resp = doRequest(router, httptest.NewRequest(http.MethodGet, "/api/jobs/"+created.ID, nil), "7")
	if resp.Code != http.StatusOK {
		t.Fatalf("get job = %d", resp.Code)
	}
	var detail struct {
		Status     string   `json:"status"`
		ResultText string   `json:"result_text"`
		Markers    []string `json:"markers"`
	}
	decodeJSON(t, resp.Body.Bytes(), &detail)
	if detail.Status != string(models.StatusSucceeded) || detail.ResultText != "hello world" {
		t.Fatalf("unexpected detail: %+v", detail)
	}
	if len(detail.Markers) != 1 {
		t.Fatalf("markers missing: %+v", detail)
	}

	// Timestamps are served now.
	resp = doRequest(router, httptest.NewRequest(http.MethodGet, "/api/jobs/"+created.ID+"/timestamps", nil), "7")
	if resp.Code != http.StatusOK {
		t.Fatalf("timestamps = %d", resp.Code)
	}

	// Audio downloads with the right content type.
	resp = doRequest(router, httptest.NewRequest(http.MethodGet, "/api/jobs/"+created.ID+"/audio", nil), "7")
	if resp.Code != http.StatusOK || resp.Header().Get("Content-Type") != "audio/wav" {
		t.Fatalf("audio = %d type=%s", resp.Code, resp.Header().Get("Content-Type"))
	}
	if resp.Body.String() != "RIFF fake wav" {
		t.Fatalf("audio body mismatch")
	}

	// The job shows up in the owner's list.
	resp = doRequest(router, httptest.NewRequest(http.MethodGet, "/api/jobs", nil), "7")
	var list struct {
		Jobs []struct {
			ID string `json:"id"`
		} `json:"jobs"`
	}
	decodeJSON(t, resp.Body.Bytes(), &list)
	if len(list.Jobs) != 1 || list.Jobs[0].ID != created.ID {
		t.Fatalf("list = %+v", list)
	}

	// Delete removes the record and both artifacts.
	resp = doRequest(router, httptest.NewRequest(http.MethodDelete, "/api/jobs/"+created.ID, nil), "7")
	if resp.Code != http.StatusNoContent {
		t.Fatalf("delete = %d", resp.Code)
	}
	if _, err := jobs.Get(ctx, created.ID); err != storage.ErrJobNotFound {
		t.Fatalf("job record survived delete: %v", err)
	}
	if _, err := files.Fetch(audioRef); err == nil {
		t.Fatalf("audio artifact survived delete")
	}
}

func TestCreateJobValidation(t *testing.T) {
	router, _, _, _ := newTestServer(t)

	// Missing owner header.
	resp := doRequest(router, uploadRequest(t, "paper.pdf", "en", ""), "")
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("missing owner = %d", resp.Code)
	}

	// Missing document part.
	resp = doRequest(router, uploadRequest(t, "", "en", ""), "7")
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("missing document = %d", resp.Code)
	}

	// Wrong extension.
	resp = doRequest(router, uploadRequest(t, "notes.txt", "en", ""), "7")
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("non-pdf = %d", resp.Code)
	}

	// Bad summarize flag.
	resp = doRequest(router, uploadRequest(t, "paper.pdf", "en", "banana"), "7")
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("bad summarize flag = %d", resp.Code)
	}
}

func TestJobsAreOwnerScoped(t *testing.T) {
	router, jobs, _, _ := newTestServer(t)
	ctx := context.Background()

	job := &models.Job{
		ID:           "owned-job",
		OwnerID:      7,
		DocumentRef:  "doc-ref",
		DocumentName: "paper.pdf",
		Language:     "en",
		Status:       models.StatusQueued,
	}
	if err := jobs.Create(ctx, job); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Another owner sees not-found, never forbidden.
	resp := doRequest(router, httptest.NewRequest(http.MethodGet, "/api/jobs/owned-job", nil), "8")
	if resp.Code != http.StatusNotFound {
		t.Fatalf("foreign get = %d", resp.Code)
	}
	resp = doRequest(router, httptest.NewRequest(http.MethodGet, "/api/jobs/owned-job/status", nil), "8")
	if resp.Code != http.StatusNotFound {
		t.Fatalf("foreign status poll = %d", resp.Code)
	}
	resp = doRequest(router, httptest.NewRequest(http.MethodDelete, "/api/jobs/owned-job", nil), "8")
	if resp.Code != http.StatusNotFound {
		t.Fatalf("foreign delete = %d", resp.Code)
	}

	// Foreign list is empty.
	resp = doRequest(router, httptest.NewRequest(http.MethodGet, "/api/jobs", nil), "8")
	var list struct {
		Jobs []json.RawMessage `json:"jobs"`
	}
	decodeJSON(t, resp.Body.Bytes(), &list)
	if len(list.Jobs) != 0 {
		t.Fatalf("foreign list = %+v", list)
	}
}

func TestDeleteRefusedWhileRunning(t *testing.T) {
	router, jobs, _, _ := newTestServer(t)
	ctx := context.Background()

	job := &models.Job{
		ID:          "busy-job",
		OwnerID:     7,
		DocumentRef: "doc-ref",
		Language:    "en",
		Status:      models.StatusQueued,
	}
	if err := jobs.Create(ctx, job); err != nil {
		t.Fatalf("create: %v", err)
	}
	if ok, err := jobs.TransitionStatus(ctx, job.ID, models.StatusQueued, models.StatusRunning); err != nil || !ok {
		t.Fatalf("claim: %v", err)
	}

	resp := doRequest(router, httptest.NewRequest(http.MethodDelete, "/api/jobs/busy-job", nil), "7")
	if resp.Code != http.StatusConflict {
		t.Fatalf("delete while running = %d", resp.Code)
	}

	if err := jobs.SetFailure(ctx, job.ID, "SynthesisFailed"); err != nil {
		t.Fatalf("fail job: %v", err)
	}
	resp = doRequest(router, httptest.NewRequest(http.MethodDelete, "/api/jobs/busy-job", nil), "7")
	if resp.Code != http.StatusNoContent {
		t.Fatalf("delete after failure = %d", resp.Code)
	}
}
