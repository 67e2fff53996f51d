package ocr

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// PageSegMode tells the engine how to split a crop into text units.
type PageSegMode int

const (
	ModeSingleBlock PageSegMode = iota
	ModeSingleLine
	ModeSingleWord
	ModeSingleChar
	ModeSparseText
)

func (m PageSegMode) String() string {
	switch m {
	case ModeSingleLine:
		return "single_line"
	case ModeSingleWord:
		return "single_word"
	case ModeSingleChar:
		return "single_char"
	case ModeSparseText:
		return "sparse_text"
	}
	return "single_block"
}

// Options configures one recognition call.
type Options struct {
	// Label identifies the pass in logs and metrics, e.g. "standard/distance-A".
	Label       string
	Languages   []string
	Whitelist   string
	Mode        PageSegMode
	NumericMode bool
}

// Word is one recognized word with its bounding box.
type Word struct {
	Text       string          `json:"text"`
	Box        image.Rectangle `json:"box"`
	Confidence float64         `json:"confidence"`
	LineID     string          `json:"line_id"`
}

// Recognition is the engine output for one call. Confidence is 0..100, or
// negative when the engine reported none.
type Recognition struct {
	Text       string
	Words      []Word
	Confidence float64
}

// Engine is the low-level recognition backend. Implementations receive PNG
// bytes and must be safe for concurrent use.
type Engine interface {
	Recognize(ctx context.Context, png []byte, opts Options) (Recognition, error)
	Close() error
}

// EngineFactory builds an Engine; it may be slow (model loading).
type EngineFactory func(ctx context.Context) (Engine, error)

// TextRecognizer is the recognition boundary the pipeline depends on.
type TextRecognizer interface {
	Warm(ctx context.Context) error
	Recognize(ctx context.Context, img image.Image, opts Options) (Recognition, error)
}

// Recognizer owns the lazily created engine and bounds every call with a
// timeout. Concurrent first callers share one in-flight initialization.
// With a concurrency limit, calls wait for a slot before their timeout
// starts.
type Recognizer struct {
	factory     EngineFactory
	timeout     time.Duration
	initTimeout time.Duration
	logger      *slog.Logger
	slots       *semaphore.Weighted

	mu      sync.Mutex
	engine  Engine
	pending *initCall
}

type initCall struct {
	done   chan struct{}
	engine Engine
	err    error
}

// RecognizerOption customizes a Recognizer.
type RecognizerOption func(*Recognizer)

// WithCallTimeout overrides the per-call timeout.
func WithCallTimeout(d time.Duration) RecognizerOption {
	return func(r *Recognizer) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithConcurrency caps the engine calls in flight at n, normally the
// engine's client pool size. n <= 0 leaves calls unbounded.
func WithConcurrency(n int) RecognizerOption {
	return func(r *Recognizer) {
		if n > 0 {
			r.slots = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithInitTimeout bounds engine construction.
func WithInitTimeout(d time.Duration) RecognizerOption {
	return func(r *Recognizer) {
		if d > 0 {
			r.initTimeout = d
		}
	}
}

// WithRecognizerLogger sets the logger.
func WithRecognizerLogger(l *slog.Logger) RecognizerOption {
	return func(r *Recognizer) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRecognizer returns a Recognizer that builds its engine on first use.
func NewRecognizer(factory EngineFactory, opts ...RecognizerOption) *Recognizer {
	r := &Recognizer{
		factory:     factory,
		timeout:     DefaultTuning().RecognizeTimeout,
		initTimeout: time.Minute,
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Warm initializes the engine if needed.
func (r *Recognizer) Warm(ctx context.Context) error {
	_, err := r.handle(ctx)
	return err
}

// Recognize runs one bounded recognition call on img.
func (r *Recognizer) Recognize(ctx context.Context, img image.Image, opts Options) (Recognition, error) {
	eng, err := r.handle(ctx)
	if err != nil {
		return Recognition{}, err
	}
	png, err := EncodePNG(img)
	if err != nil {
		return Recognition{}, fmt.Errorf("encode %s: %w", opts.Label, err)
	}

	if r.slots != nil {
		if err := r.slots.Acquire(ctx, 1); err != nil {
			return Recognition{}, err
		}
	}

	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type result struct {
		rec Recognition
		err error
	}
	ch := make(chan result, 1)
	start := time.Now()
	go func() {
		// the slot is held until the engine returns, even after a timeout
		if r.slots != nil {
			defer r.slots.Release(1)
		}
		rec, err := eng.Recognize(cctx, png, opts)
		ch <- result{rec: rec, err: err}
	}()

	select {
	case res := <-ch:
		if res.err != nil && r.expired(ctx, cctx) {
			return Recognition{}, &RecognitionTimeout{Label: opts.Label, Timeout: r.timeout, Err: cctx.Err()}
		}
		r.logger.Debug("recognition done", "pass", opts.Label, "elapsed", time.Since(start), "chars", len(res.rec.Text), "err", res.err)
		return res.rec, res.err
	case <-cctx.Done():
		if r.expired(ctx, cctx) {
			return Recognition{}, &RecognitionTimeout{Label: opts.Label, Timeout: r.timeout, Err: cctx.Err()}
		}
		return Recognition{}, ctx.Err()
	}
}

// expired reports whether the per-call deadline fired while the caller's
// context is still live.
func (r *Recognizer) expired(parent, call context.Context) bool {
	return parent.Err() == nil && errors.Is(call.Err(), context.DeadlineExceeded)
}

// Close releases the engine if it was created.
func (r *Recognizer) Close() error {
	r.mu.Lock()
	eng := r.engine
	r.engine = nil
	r.mu.Unlock()
	if eng == nil {
		return nil
	}
	return eng.Close()
}

func (r *Recognizer) handle(ctx context.Context) (Engine, error) {
	r.mu.Lock()
	if r.engine != nil {
		eng := r.engine
		r.mu.Unlock()
		return eng, nil
	}
	call := r.pending
	if call == nil {
		call = &initCall{done: make(chan struct{})}
		r.pending = call
		// detached so one impatient caller cannot fail the shared init
		go r.initialize(call)
	}
	r.mu.Unlock()

	select {
	case <-call.done:
		return call.engine, call.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Recognizer) initialize(call *initCall) {
	ctx, cancel := context.WithTimeout(context.Background(), r.initTimeout)
	defer cancel()

	start := time.Now()
	var eng Engine
	var err error
	if r.factory == nil {
		err = errors.New("no engine factory configured")
	} else {
		eng, err = r.factory(ctx)
	}

	r.mu.Lock()
	if err != nil {
		var ie *EngineInitError
		if !errors.As(err, &ie) {
			err = &EngineInitError{Err: err}
		}
		call.err = err
	} else {
		r.engine = eng
		call.engine = eng
	}
	// a failed init is not memoized; the next caller retries
	r.pending = nil
	r.mu.Unlock()
	close(call.done)

	if err != nil {
		r.logger.Error("recognition engine init failed", "error", err)
		return
	}
	r.logger.Info("recognition engine ready", "elapsed", time.Since(start))
}
