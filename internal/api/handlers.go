package api

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"docvoice/internal/cache"
	"docvoice/internal/filestore"
	"docvoice/internal/models"
	"docvoice/internal/queue"
	"docvoice/internal/storage"
)

// Handler wires HTTP routes to the job store, artifact store, and queue.
type Handler struct {
	jobs     *storage.JobStore
	files    filestore.Store
	queue    queue.Queue
	status   *cache.Status
	maxBytes int64
}

// NewHandler constructs a Handler instance. status may be nil.
func NewHandler(jobs *storage.JobStore, files filestore.Store, q queue.Queue, status *cache.Status, maxUploadMB int64) *Handler {
	if maxUploadMB <= 0 {
		maxUploadMB = 32
	}
	return &Handler{
		jobs:     jobs,
		files:    files,
		queue:    q,
		status:   status,
		maxBytes: maxUploadMB << 20,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.POST("/jobs", h.createJob)
	api.GET("/jobs", h.listJobs)
	api.GET("/jobs/:id", h.getJob)
	api.GET("/jobs/:id/status", h.getJobStatus)
	api.GET("/jobs/:id/timestamps", h.getJobTimestamps)
	api.GET("/jobs/:id/audio", h.getJobAudio)
	api.DELETE("/jobs/:id", h.deleteJob)
}

// ownerID reads the caller identity set by the fronting gateway.
func (h *Handler) ownerID(c *gin.Context) (int64, bool) {
	raw := c.GetHeader("X-User-ID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return 0, false
	}
	return id, true
}

type jobView struct {
	ID            string                  `json:"id"`
	DocumentName  string                  `json:"document_name"`
	Language      string                  `json:"language"`
	Summarize     bool                    `json:"summarize"`
	Status        models.JobStatus        `json:"status"`
	Markers       []string                `json:"markers,omitempty"`
	ResultText    string                  `json:"result_text,omitempty"`
	Timestamps    []models.TimestampChunk `json:"timestamps,omitempty"`
	CreatedAt     string                  `json:"created_at"`
	CompletedAt   string                  `json:"completed_at,omitempty"`
}

func summaryView(job *models.Job) jobView {
	v := jobView{
		ID:            job.ID,
		DocumentName:  job.DocumentName,
		Language:      job.Language,
		Summarize:     job.Summarize,
		Status:        job.Status,
		Markers:       job.Markers,
		CreatedAt:     job.CreatedAt.Format(time.RFC3339),
	}
	if !job.CompletedAt.IsZero() {
		v.CompletedAt = job.CompletedAt.Format(time.RFC3339)
	}
	return v
}

func detailView(job *models.Job) jobView {
	v := summaryView(job)
	v.ResultText = job.ResultText
	v.Timestamps = job.Timestamps
	return v
}

func (h *Handler) createJob(c *gin.Context) {
	ownerID, ok := h.ownerID(c)
	if !ok {
		return
	}
	if err := c.Request.ParseMultipartForm(h.maxBytes); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form"})
		return
	}

	fileHeader, err := c.FormFile("document")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "document is required"})
		return
	}
	if fileHeader.Size > h.maxBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "document too large"})
		return
	}
	if !strings.EqualFold(filepath.Ext(fileHeader.Filename), ".pdf") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "only pdf documents are supported"})
		return
	}

	language := strings.TrimSpace(c.PostForm("language"))
	if language == "" {
		language = "en"
	}
	summarize := false
	if raw := c.PostForm("summarize"); raw != "" {
		summarize, err = strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid summarize flag"})
			return
		}
	}

	src, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable document"})
		return
	}
	defer src.Close()
	data, err := io.ReadAll(io.LimitReader(src, h.maxBytes+1))
	if err != nil || int64(len(data)) > h.maxBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable document"})
		return
	}

	docRef, err := h.files.Store(data, "pdf")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store document failed"})
		return
	}

	job := &models.Job{
		ID:           uuid.NewString(),
		OwnerID:      ownerID,
		DocumentRef:  docRef,
		DocumentName: fileHeader.Filename,
		Language:     language,
		Summarize:    summarize,
		Status:       models.StatusQueued,
	}
	if err := h.jobs.Create(c.Request.Context(), job); err != nil {
		_ = h.files.Delete(docRef)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create job failed"})
		return
	}
	if err := h.queue.Enqueue(c.Request.Context(), job.ID); err != nil {
		_ = h.jobs.Delete(c.Request.Context(), job.ID, ownerID)
		_ = h.files.Delete(docRef)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "queue unavailable, please retry"})
		return
	}
	h.status.Set(c.Request.Context(), ownerID, job.ID, models.StatusQueued)

	c.JSON(http.StatusAccepted, summaryView(job))
}

func (h *Handler) listJobs(c *gin.Context) {
	ownerID, ok := h.ownerID(c)
	if !ok {
		return
	}
	jobs, err := h.jobs.ListByOwner(c.Request.Context(), ownerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list jobs failed"})
		return
	}
	views := make([]jobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, summaryView(job))
	}
	c.JSON(http.StatusOK, gin.H{"jobs": views})
}

func (h *Handler) getJob(c *gin.Context) {
	job, ok := h.ownedJob(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, detailView(job))
}

// getJobStatus is the polling endpoint; it answers from the cache when it
// can to keep pollers off the database.
func (h *Handler) getJobStatus(c *gin.Context) {
	ownerID, ok := h.ownerID(c)
	if !ok {
		return
	}
	jobID := c.Param("id")
	if status, hit := h.status.Get(c.Request.Context(), ownerID, jobID); hit {
		c.JSON(http.StatusOK, gin.H{"id": jobID, "status": status})
		return
	}
	job, err := h.jobs.GetForOwner(c.Request.Context(), jobID, ownerID)
	if err != nil {
		h.jobError(c, err)
		return
	}
	h.status.Set(c.Request.Context(), ownerID, job.ID, job.Status)
	c.JSON(http.StatusOK, gin.H{"id": job.ID, "status": job.Status})
}

func (h *Handler) getJobTimestamps(c *gin.Context) {
	job, ok := h.ownedJob(c)
	if !ok {
		return
	}
	if job.Status != models.StatusSucceeded {
		c.JSON(http.StatusConflict, gin.H{"error": "job has not succeeded", "status": job.Status})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": job.ID, "timestamps": job.Timestamps})
}

func (h *Handler) getJobAudio(c *gin.Context) {
	job, ok := h.ownedJob(c)
	if !ok {
		return
	}
	if job.Status != models.StatusSucceeded || job.AudioRef == "" {
		c.JSON(http.StatusConflict, gin.H{"error": "job has not succeeded", "status": job.Status})
		return
	}
	data, err := h.files.Fetch(job.AudioRef)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "audio artifact unavailable"})
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+job.ID+`.wav"`)
	c.Data(http.StatusOK, "audio/wav", data)
}

func (h *Handler) deleteJob(c *gin.Context) {
	ownerID, ok := h.ownerID(c)
	if !ok {
		return
	}
	job, err := h.jobs.GetForOwner(c.Request.Context(), c.Param("id"), ownerID)
	if err != nil {
		h.jobError(c, err)
		return
	}
	if job.Status == models.StatusRunning {
		c.JSON(http.StatusConflict, gin.H{"error": "job is running, try again once it finishes"})
		return
	}

	if err := h.jobs.Delete(c.Request.Context(), job.ID, ownerID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete job failed"})
		return
	}
	if job.DocumentRef != "" {
		_ = h.files.Delete(job.DocumentRef)
	}
	if job.AudioRef != "" {
		_ = h.files.Delete(job.AudioRef)
	}
	h.status.Invalidate(c.Request.Context(), job.OwnerID, job.ID)
	c.Status(http.StatusNoContent)
}

func (h *Handler) ownedJob(c *gin.Context) (*models.Job, bool) {
	ownerID, ok := h.ownerID(c)
	if !ok {
		return nil, false
	}
	job, err := h.jobs.GetForOwner(c.Request.Context(), c.Param("id"), ownerID)
	if err != nil {
		h.jobError(c, err)
		return nil, false
	}
	return job, true
}

func (h *Handler) jobError(c *gin.Context, err error) {
	if errors.Is(err, storage.ErrJobNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
}
