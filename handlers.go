package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"runcard/cache"
	"runcard/models"
	"runcard/pkg/ocr"
	"runcard/queue"
	"runcard/store"
)

type extractor interface {
	ExtractAll(ctx context.Context, image []byte, kind ocr.RecordKind) (*ocr.Record, error)
}

// recordStore is the part of store.Store the API uses.
type recordStore interface {
	SaveExtraction(ctx context.Context, up *models.Upload, rec *models.RunRecord) error
	FindUploadBySHA(ctx context.Context, sha string) (*models.Upload, error)
	GetRecord(ctx context.Context, id uuid.UUID) (*models.RunRecord, error)
	RecordByJob(ctx context.Context, jobID string) (*models.RunRecord, error)
	JobFailure(ctx context.Context, jobID string) (*models.JobFailure, error)
	ListRecords(ctx context.Context, limit int) ([]models.RunRecord, error)
}

type resultCache interface {
	Get(ctx context.Context, digest string, kind ocr.RecordKind) (*ocr.Record, error)
	Put(ctx context.Context, digest string, kind ocr.RecordKind, rec *ocr.Record) error
}

type jobQueue interface {
	Enqueue(ctx context.Context, fileName string, kind ocr.RecordKind, image []byte) (string, error)
}

// server holds the API dependencies. store, cache, jobs and auth are nil
// when not configured.
type server struct {
	ex        extractor
	store     recordStore
	cache     resultCache
	jobs      jobQueue
	auth      *authenticator
	maxUpload int64
	log       *slog.Logger
}

// recordView is the API shape of a stored record.
type recordView struct {
	ID        uuid.UUID  `json:"id"`
	JobID     *string    `json:"job_id,omitempty"`
	Kind      string     `json:"kind"`
	Source    string     `json:"source"`
	CreatedAt time.Time  `json:"created_at"`
	Record    ocr.Record `json:"record"`
}

func viewOf(r models.RunRecord) recordView {
	return recordView{
		ID:        r.PublicID,
		JobID:     r.JobID,
		Kind:      r.Kind,
		Source:    r.Source,
		CreatedAt: r.CreatedAt,
		Record:    r.Extracted(),
	}
}

func (s *server) setupRoutes(r *gin.Engine) {
	r.Use(requestIDMiddleware(), metricsMiddleware())
	r.GET("/healthz", healthHandler)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("")
	if s.auth != nil {
		r.POST("/login", s.auth.loginHandler)
		api.Use(s.auth.jwtAuthMiddleware())
	}
	api.POST("/extract", s.extractHandler)
	api.POST("/jobs", s.enqueueHandler)
	api.GET("/jobs/:id", s.getJobHandler)
	api.GET("/records", s.listRecordsHandler)
	api.GET("/records/:id", s.getRecordHandler)
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// readUpload reads the multipart image field and the record kind (form
// field or query, default daily).
func (s *server) readUpload(c *gin.Context) (name string, data []byte, kind ocr.RecordKind, ok bool) {
	if s.maxUpload > 0 {
		// multipart framing gets some slack; the file itself is checked below
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUpload+1<<20)
	}
	if err := c.Request.ParseMultipartForm(32 << 20); err != nil {
		if isTooLarge(err) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
			return "", nil, "", false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "image missing"})
		return "", nil, "", false
	}
	kind, err := ocr.ParseRecordKind(c.DefaultPostForm("kind", c.Query("kind")))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", nil, "", false
	}
	file, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image missing"})
		return "", nil, "", false
	}
	if s.maxUpload > 0 && file.Size > s.maxUpload {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("file too large (max %d bytes)", s.maxUpload)})
		return "", nil, "", false
	}
	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot open upload"})
		return "", nil, "", false
	}
	defer f.Close()
	data, err = io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read upload"})
		return "", nil, "", false
	}
	return file.Filename, data, kind, true
}

func isTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe) || strings.Contains(err.Error(), "request body too large")
}

// extractHandler runs the pipeline synchronously. Results are served from
// the cache, then from a stored upload with the same bytes, before the
// pipeline runs.
func (s *server) extractHandler(c *gin.Context) {
	name, data, kind, ok := s.readUpload(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	log := s.log.With("request_id", c.GetString("request_id"), "file", name, "kind", kind)
	digest := cache.Digest(data)

	if s.cache != nil {
		rec, err := s.cache.Get(ctx, digest, kind)
		switch {
		case err == nil:
			observeExtraction(kind, "cached", 0)
			c.JSON(http.StatusOK, gin.H{"record": rec, "id": s.storedID(ctx, digest, kind), "cached": true})
			return
		case !errors.Is(err, cache.ErrMiss):
			log.Warn("cache lookup failed", "error", err)
		}
	}
	if s.store != nil {
		if up, err := s.store.FindUploadBySHA(ctx, digest); err == nil && up.Record != nil && up.Record.Kind == string(kind) {
			rec := up.Record.Extracted()
			s.putCache(ctx, log, digest, kind, &rec)
			observeExtraction(kind, "cached", 0)
			c.JSON(http.StatusOK, gin.H{"record": rec, "id": up.Record.PublicID, "cached": true})
			return
		}
	}

	start := time.Now()
	rec, err := s.ex.ExtractAll(ctx, data, kind)
	if err != nil {
		observeExtraction(kind, "error", time.Since(start))
		s.extractionError(c, log, err)
		return
	}
	observeExtraction(kind, "ok", time.Since(start))
	s.putCache(ctx, log, digest, kind, rec)

	var id any
	if s.store != nil {
		up := &models.Upload{
			FileName:    name,
			ContentType: http.DetectContentType(data),
			SHA256:      digest,
			Kind:        string(kind),
		}
		rr := models.NewRunRecord(*rec, kind, models.SourceAPI)
		if err := s.store.SaveExtraction(ctx, up, &rr); err != nil {
			log.Error("persist failed", "error", err)
		} else {
			id = rr.PublicID
		}
	}
	log.Info("extracted", "km", rec.KM, "duration", time.Since(start))
	c.JSON(http.StatusOK, gin.H{"record": rec, "id": id, "cached": false})
}

func (s *server) storedID(ctx context.Context, digest string, kind ocr.RecordKind) any {
	if s.store == nil {
		return nil
	}
	up, err := s.store.FindUploadBySHA(ctx, digest)
	if err != nil || up.Record == nil || up.Record.Kind != string(kind) {
		return nil
	}
	return up.Record.PublicID
}

func (s *server) putCache(ctx context.Context, log *slog.Logger, digest string, kind ocr.RecordKind, rec *ocr.Record) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Put(ctx, digest, kind, rec); err != nil {
		log.Warn("cache store failed", "error", err)
	}
}

func (s *server) extractionError(c *gin.Context, log *slog.Logger, err error) {
	var de *ocr.DecodeError
	var ie *ocr.EngineInitError
	switch {
	case errors.As(err, &de):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "could not read image"})
	case errors.As(err, &ie):
		log.Error("engine unavailable", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "recognition engine unavailable"})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "request cancelled"})
	default:
		log.Error("extraction failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "extraction failed"})
	}
}

// enqueueHandler accepts the same upload as /extract and queues it.
func (s *server) enqueueHandler(c *gin.Context) {
	if s.jobs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "job queue not configured"})
		return
	}
	name, data, kind, ok := s.readUpload(c)
	if !ok {
		return
	}
	if _, err := ocr.Decode(data); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "could not read image"})
		return
	}
	id, err := s.jobs.Enqueue(c.Request.Context(), name, kind, data)
	if err != nil {
		s.log.Error("enqueue failed", "error", err, "file", name)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "enqueue failed"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": id})
}

func (s *server) getJobHandler(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage not configured"})
		return
	}
	id := c.Param("id")
	ctx := c.Request.Context()
	rec, err := s.store.RecordByJob(ctx, id)
	if err == nil {
		c.JSON(http.StatusOK, gin.H{"job_id": id, "status": "done", "result": viewOf(*rec)})
		return
	}
	if !errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	f, err := s.store.JobFailure(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"job_id": id, "status": "pending"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"job_id": id, "status": "failed", "error": f.Reason})
}

// listRecordsHandler returns the most recent records.
func (s *server) listRecordsHandler(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage not configured"})
		return
	}
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = min(n, store.MaxList)
	}
	recs, err := s.store.ListRecords(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	out := make([]recordView, 0, len(recs))
	for _, r := range recs {
		out = append(out, viewOf(r))
	}
	c.JSON(http.StatusOK, out)
}

func (s *server) getRecordHandler(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage not configured"})
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	rec, err := s.store.GetRecord(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, viewOf(*rec))
}

var _ jobQueue = (*queue.Client)(nil)
var _ recordStore = (*store.Store)(nil)
var _ resultCache = (*cache.Cache)(nil)
