// Package queue runs extractions asynchronously on asynq (Redis).
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"runcard/pkg/ocr"
)

// TypeExtract is the task type for screenshot extraction jobs.
const TypeExtract = "extract:screenshot"

// ErrDisabled is returned by a nil Client.
var ErrDisabled = errors.New("queue: not configured")

// Payload is the JSON body of an extraction task. Image is base64 on the
// wire (encoding/json's []byte encoding).
type Payload struct {
	JobID    string `json:"job_id"`
	FileName string `json:"file_name"`
	Kind     string `json:"kind"`
	Image    []byte `json:"image"`
}

// NewExtractTask builds the task for p. The job id doubles as the asynq task
// id so a job is enqueued at most once.
func NewExtractTask(p Payload, queue string) (*asynq.Task, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	opts := []asynq.Option{
		asynq.TaskID(p.JobID),
		asynq.MaxRetry(3),
		asynq.Timeout(2 * time.Minute),
		asynq.Retention(24 * time.Hour),
	}
	if queue != "" {
		opts = append(opts, asynq.Queue(queue))
	}
	return asynq.NewTask(TypeExtract, b, opts...), nil
}

// Client enqueues extraction jobs.
type Client struct {
	c     *asynq.Client
	queue string
}

// NewClient connects to the Redis behind redisURL.
func NewClient(redisURL, queue string) (*Client, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	return &Client{c: asynq.NewClient(opt), queue: queue}, nil
}

// Enqueue submits an extraction of image and returns the job id.
func (c *Client) Enqueue(ctx context.Context, fileName string, kind ocr.RecordKind, image []byte) (string, error) {
	if c == nil {
		return "", ErrDisabled
	}
	p := Payload{
		JobID:    uuid.NewString(),
		FileName: fileName,
		Kind:     string(kind),
		Image:    image,
	}
	task, err := NewExtractTask(p, c.queue)
	if err != nil {
		return "", err
	}
	if _, err := c.c.EnqueueContext(ctx, task); err != nil {
		return "", fmt.Errorf("enqueue: %w", err)
	}
	return p.JobID, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	return c.c.Close()
}

// Extractor runs the pipeline.
type Extractor interface {
	ExtractAll(ctx context.Context, image []byte, kind ocr.RecordKind) (*ocr.Record, error)
}

// Sink receives finished extractions.
type Sink interface {
	Store(ctx context.Context, p Payload, rec *ocr.Record) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, p Payload, rec *ocr.Record) error

func (f SinkFunc) Store(ctx context.Context, p Payload, rec *ocr.Record) error {
	return f(ctx, p, rec)
}

// FailureSink records jobs that will not be retried again.
type FailureSink interface {
	Fail(ctx context.Context, p Payload, reason string) error
}

// FailFunc adapts a function to FailureSink.
type FailFunc func(ctx context.Context, p Payload, reason string) error

func (f FailFunc) Fail(ctx context.Context, p Payload, reason string) error {
	return f(ctx, p, reason)
}

// Handler processes extraction tasks.
type Handler struct {
	Extractor Extractor
	Sink      Sink
	// Failures, when set, is told about jobs that failed for the last time.
	Failures  FailureSink
	Logger    *slog.Logger
}

// ProcessTask implements asynq.Handler. Malformed payloads and undecodable
// images are not retried.
func (h *Handler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	log := h.Logger
	if log == nil {
		log = slog.Default()
	}

	var p Payload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("failed to unmarshal job data: %v: %w", err, asynq.SkipRetry)
	}
	err := h.process(ctx, p, log)
	if err != nil && h.Failures != nil && finalAttempt(ctx, err) {
		if ferr := h.Failures.Fail(ctx, p, err.Error()); ferr != nil {
			log.Error("record job failure", "job_id", p.JobID, "error", ferr)
		}
	}
	return err
}

// finalAttempt reports whether asynq will give up on the task after err.
func finalAttempt(ctx context.Context, err error) bool {
	if errors.Is(err, asynq.SkipRetry) {
		return true
	}
	retried, ok1 := asynq.GetRetryCount(ctx)
	maxRetry, ok2 := asynq.GetMaxRetry(ctx)
	return ok1 && ok2 && retried >= maxRetry
}

func (h *Handler) process(ctx context.Context, p Payload, log *slog.Logger) error {
	start := time.Now()
	kind, err := ocr.ParseRecordKind(p.Kind)
	if err != nil {
		return fmt.Errorf("job %s: %v: %w", p.JobID, err, asynq.SkipRetry)
	}
	log = log.With("job_id", p.JobID, "file", p.FileName, "kind", kind)

	rec, err := h.Extractor.ExtractAll(ctx, p.Image, kind)
	if err != nil {
		var de *ocr.DecodeError
		if errors.As(err, &de) {
			log.Warn("undecodable image", "error", err)
			return fmt.Errorf("job %s: %v: %w", p.JobID, err, asynq.SkipRetry)
		}
		return fmt.Errorf("job %s: %w", p.JobID, err)
	}
	if h.Sink != nil {
		if err := h.Sink.Store(ctx, p, rec); err != nil {
			return fmt.Errorf("job %s: store: %w", p.JobID, err)
		}
	}
	log.Info("job done", "km", rec.KM, "duration", time.Since(start))
	return nil
}

// WorkerConfig configures the asynq server.
type WorkerConfig struct {
	RedisURL    string
	Queue       string
	Concurrency int
}

// Worker consumes extraction tasks.
type Worker struct {
	srv *asynq.Server
	mux *asynq.ServeMux
	log *slog.Logger
}

// NewWorker builds a worker that dispatches TypeExtract tasks to h.
func NewWorker(cfg WorkerConfig, h *Handler, log *slog.Logger) (*Worker, error) {
	if cfg.RedisURL == "" {
		return nil, ErrDisabled
	}
	if log == nil {
		log = slog.Default()
	}
	opt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	queues := map[string]int{"default": 1}
	if cfg.Queue != "" && cfg.Queue != "default" {
		queues[cfg.Queue] = 10
	}
	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency:    cfg.Concurrency,
		Queues:         queues,
		RetryDelayFunc: retryDelay,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			log.Error("task failed", "type", task.Type(), "error", err)
		}),
		Logger: slogAdapter{log},
	})
	mux := asynq.NewServeMux()
	mux.Handle(TypeExtract, h)
	return &Worker{srv: srv, mux: mux, log: log}, nil
}

// Run processes tasks until ctx is done, then shuts down gracefully.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.srv.Start(w.mux); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	w.log.Info("queue worker started")
	<-ctx.Done()
	w.srv.Shutdown()
	w.log.Info("queue worker stopped")
	return nil
}

// retryDelay backs off exponentially from 5s, capped at a minute.
func retryDelay(n int, _ error, _ *asynq.Task) time.Duration {
	if n > 4 {
		return time.Minute
	}
	return min(time.Duration(5*(1<<uint(n)))*time.Second, time.Minute)
}

// slogAdapter satisfies asynq.Logger.
type slogAdapter struct{ l *slog.Logger }

func (a slogAdapter) Debug(args ...any) { a.l.Debug(fmt.Sprint(args...)) }
func (a slogAdapter) Info(args ...any)  { a.l.Info(fmt.Sprint(args...)) }
func (a slogAdapter) Warn(args ...any)  { a.l.Warn(fmt.Sprint(args...)) }
func (a slogAdapter) Error(args ...any) { a.l.Error(fmt.Sprint(args...)) }
func (a slogAdapter) Fatal(args ...any) {
	a.l.Error(fmt.Sprint(args...))
	os.Exit(1)
}
