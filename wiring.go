package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"runcard/cache"
	"runcard/config"
	"runcard/models"
	"runcard/pkg/ocr"
	"runcard/pkg/ocr/tesseract"
	"runcard/queue"
	"runcard/store"
)

// newPipeline builds the extraction pipeline over a pooled tesseract engine.
// The returned recognizer owns the engine and must be closed.
func newPipeline(cfg *config.Config, log *slog.Logger) (*ocr.Pipeline, *ocr.Recognizer) {
	engine := cfg.OCR.Engine()
	rec := ocr.NewRecognizer(
		tesseract.Factory(engine, log),
		ocr.WithCallTimeout(cfg.OCR.RecognizeTimeout),
		ocr.WithConcurrency(engine.Size()),
		ocr.WithRecognizerLogger(log),
	)
	p := ocr.New(rec,
		ocr.WithTuning(cfg.OCR.Tuning()),
		ocr.WithLanguages(cfg.OCR.Languages.Digits, cfg.OCR.Languages.Full),
		ocr.WithLogger(log),
		ocr.WithObserver(passMetrics{}),
	)
	return p, rec
}

// openStore connects to Postgres when a DSN is configured and migrates the
// schema when database.auto_migrate is set. It returns nil without a DSN.
func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (*store.Store, error) {
	if cfg.Database.DSN == "" {
		return nil, nil
	}
	st, err := store.Open(cfg.Database.DSN, log)
	if err != nil {
		return nil, err
	}
	if cfg.Database.AutoMigrate {
		// permission errors on shared databases are not fatal
		if err := st.Migrate(ctx); err != nil {
			log.Warn("migration warning", "error", err)
		}
	}
	return st, nil
}

func requireStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (*store.Store, error) {
	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, errors.New("database.dsn is not set; this command needs Postgres (RUNCARD_DATABASE_DSN)")
	}
	return st, nil
}

// openCache returns nil when no Redis URL is configured.
func openCache(ctx context.Context, cfg *config.Config) (*cache.Cache, error) {
	if cfg.Cache.RedisURL == "" {
		return nil, nil
	}
	return cache.Open(ctx, cfg.Cache.RedisURL, cfg.Cache.TTL)
}

// openQueue returns nil when no Redis URL is configured for the queue.
func openQueue(cfg *config.Config) (*queue.Client, error) {
	if cfg.Queue.RedisURL == "" {
		return nil, nil
	}
	return queue.NewClient(cfg.Queue.RedisURL, cfg.Queue.Name)
}

// newServer assembles the API. Nil dependencies disable their routes'
// features; typed nils never reach the interfaces.
func newServer(cfg *config.Config, ex extractor, st *store.Store, ca *cache.Cache, jobs *queue.Client, log *slog.Logger) *server {
	s := &server{
		ex:        ex,
		maxUpload: int64(cfg.Server.MaxUploadMB) << 20,
		log:       log,
	}
	if st != nil {
		s.store = st
	}
	if ca != nil {
		s.cache = ca
	}
	if jobs != nil {
		s.jobs = jobs
	}
	if cfg.Auth.Enabled {
		s.auth = newAuthenticator(cfg.Auth)
	}
	return s
}

func newRouter(s *server) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	s.setupRoutes(r)
	return r
}

// jobSink stores queue results with their job id and primes the cache.
func jobSink(st *store.Store, ca *cache.Cache, log *slog.Logger) queue.Sink {
	return queue.SinkFunc(func(ctx context.Context, p queue.Payload, rec *ocr.Record) error {
		kind, err := ocr.ParseRecordKind(p.Kind)
		if err != nil {
			return err
		}
		digest := cache.Digest(p.Image)
		if ca != nil {
			if err := ca.Put(ctx, digest, kind, rec); err != nil {
				log.Warn("cache store failed", "error", err, "job_id", p.JobID)
			}
		}
		if st == nil {
			return nil
		}
		rr := models.NewRunRecord(*rec, kind, models.SourceQueue)
		jobID := p.JobID
		rr.JobID = &jobID
		up := &models.Upload{
			FileName:    p.FileName,
			ContentType: http.DetectContentType(p.Image),
			SHA256:      digest,
			Kind:        string(kind),
		}
		if err := st.SaveExtraction(ctx, up, &rr); err != nil {
			return fmt.Errorf("save: %w", err)
		}
		return nil
	})
}

// jobFailures records jobs asynq gave up on so their status reads failed.
func jobFailures(st *store.Store) queue.FailureSink {
	return queue.FailFunc(func(ctx context.Context, p queue.Payload, reason string) error {
		return st.RecordJobFailure(ctx, &models.JobFailure{
			JobID:    p.JobID,
			FileName: p.FileName,
			Kind:     p.Kind,
			Reason:   reason,
		})
	})
}

// metricsExtractor records extraction outcomes for the non-HTTP surfaces.
type metricsExtractor struct {
	ex extractor
}

func (m metricsExtractor) ExtractAll(ctx context.Context, image []byte, kind ocr.RecordKind) (*ocr.Record, error) {
	start := time.Now()
	rec, err := m.ex.ExtractAll(ctx, image, kind)
	status := "ok"
	if err != nil {
		status = "error"
	}
	observeExtraction(kind, status, time.Since(start))
	return rec, err
}
