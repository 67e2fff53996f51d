// Package process batch-extracts screenshots dropped into a directory and
// optionally keeps watching it for new files.
package process

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/corona10/goimagehash"
	"github.com/fsnotify/fsnotify"

	"runcard/models"
	"runcard/pkg/ocr"
)

// Extractor runs the pipeline.
type Extractor interface {
	ExtractAll(ctx context.Context, image []byte, kind ocr.RecordKind) (*ocr.Record, error)
}

// Sink persists results. A nil Sink makes the runner a dry run: nothing is
// stored and files stay where they are.
type Sink interface {
	Known(ctx context.Context) ([]models.Upload, error)
	Failed(ctx context.Context) ([]models.Upload, error)
	Save(ctx context.Context, up *models.Upload, rec *ocr.Record) error
	Fail(ctx context.Context, up *models.Upload, reason string) error
}

// Result describes the outcome for one file.
type Result struct {
	Name      string
	Record    *ocr.Record
	Err       error
	Skipped   bool
	Duplicate string // name of the earlier near-identical image
}

// Stats summarizes a run.
type Stats struct {
	Processed  int64
	Skipped    int64
	Duplicates int64
	Failed     int64
}

// Options configures a Runner.
type Options struct {
	Dir          string
	ProcessedDir string
	Kind         ocr.RecordKind
	Workers      int
	Debounce     time.Duration
	// MaxProcessedBytes downscales archived files above this size; 0 keeps
	// them as is.
	MaxProcessedBytes int64
	// HashDistance is the perceptual-hash near-duplicate threshold; negative
	// disables near-duplicate detection.
	HashDistance int
	// OnResult, when set, is called once per file from the worker goroutines.
	OnResult func(Result)
}

// Runner processes screenshot files with a bounded worker pool.
type Runner struct {
	ex    Extractor
	sink  Sink
	opts  Options
	log   *slog.Logger
	state *preloadState
	arch  archiver

	processed, skipped, duplicates, failed atomic.Int64
}

// NewRunner returns a Runner. sink may be nil.
func NewRunner(ex Extractor, sink Sink, opts Options, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	if opts.Kind == "" {
		opts.Kind = ocr.KindDaily
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 300 * time.Millisecond
	}
	return &Runner{
		ex:    ex,
		sink:  sink,
		opts:  opts,
		log:   log.With("dir", opts.Dir, "kind", opts.Kind),
		state: newPreloadState(opts.HashDistance),
		arch:  archiver{dir: opts.ProcessedDir, maxBytes: opts.MaxProcessedBytes},
	}
}

func (r *Runner) workers() int {
	if r.opts.Workers <= 0 {
		return runtime.NumCPU()
	}
	return r.opts.Workers
}

// Stats returns the counters so far.
func (r *Runner) Stats() Stats {
	return Stats{
		Processed:  r.processed.Load(),
		Skipped:    r.skipped.Load(),
		Duplicates: r.duplicates.Load(),
		Failed:     r.failed.Load(),
	}
}

// Preload fetches the uploads already stored so known files are skipped
// without queries.
func (r *Runner) Preload(ctx context.Context) error {
	if r.sink == nil {
		return nil
	}
	ups, err := r.sink.Known(ctx)
	if err != nil {
		return fmt.Errorf("preload uploads: %w", err)
	}
	r.state.load(ups)
	r.log.Info("preloaded", "uploads", len(ups))
	return nil
}

// RunDir processes every supported file currently in the directory.
func (r *Runner) RunDir(ctx context.Context) (Stats, error) {
	files, err := listImageFiles(r.opts.Dir)
	if err != nil {
		return Stats{}, fmt.Errorf("scan %s: %w", r.opts.Dir, err)
	}
	r.log.Info("scanning", "files", len(files), "workers", r.workers())

	ch := make(chan string)
	go func() {
		defer close(ch)
		for _, f := range files {
			select {
			case ch <- f:
			case <-ctx.Done():
				return
			}
		}
	}()
	r.runWorkerPool(ctx, ch)
	return r.Stats(), ctx.Err()
}

// Watch processes existing files, then new ones as they appear, until ctx
// is done. A file is picked up once it has been quiet for the debounce
// interval.
func (r *Runner) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(r.opts.Dir); err != nil {
		return err
	}
	if _, err := r.RunDir(ctx); err != nil {
		return err
	}
	r.log.Info("watching", "debounce", r.opts.Debounce)

	fileCh := make(chan string, 256)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.runWorkerPool(ctx, fileCh)
	}()

	err = r.debounce(ctx, w, fileCh)
	close(fileCh)
	wg.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (r *Runner) debounce(ctx context.Context, w *fsnotify.Watcher, out chan<- string) error {
	pending := map[string]time.Time{}
	ticker := time.NewTicker(r.opts.Debounce / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			name := filepath.Base(ev.Name)
			if !isSupportedExt(name) {
				continue
			}
			pending[name] = time.Now()
		case now := <-ticker.C:
			for name, t := range pending {
				if now.Sub(t) < r.opts.Debounce {
					continue
				}
				delete(pending, name)
				select {
				case out <- name:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.log.Warn("watch error", "error", err)
		}
	}
}

func (r *Runner) runWorkerPool(ctx context.Context, files <-chan string) {
	var wg sync.WaitGroup
	for i := 0; i < r.workers(); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for name := range files {
				if ctx.Err() != nil {
					continue
				}
				res := r.processFile(ctx, name)
				if r.opts.OnResult != nil {
					r.opts.OnResult(res)
				}
			}
		}()
	}
	wg.Wait()
}

// processFile is idempotent: a file whose bytes were already extracted is
// skipped, and a near-identical image is reported as a duplicate.
func (r *Runner) processFile(ctx context.Context, name string) Result {
	log := r.log.With("file", name)
	path := filepath.Join(r.opts.Dir, name)
	res := Result{Name: name}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) { // moved away by another worker or the user
			r.skipped.Add(1)
			res.Skipped = true
			return res
		}
		r.failed.Add(1)
		res.Err = err
		return res
	}
	sum := sha256.Sum256(data)
	sha := hex.EncodeToString(sum[:])

	if up, ok := r.state.getUpload(sha); ok && up.RecordID != nil {
		log.Debug("skip: already extracted", "upload", up.ID)
		r.skipped.Add(1)
		res.Skipped = true
		return res
	}

	up := &models.Upload{
		FileName:    name,
		StorePath:   filepath.ToSlash(path),
		ContentType: mimeFromExt(name),
		SHA256:      sha,
		Kind:        string(r.opts.Kind),
	}
	if prev, ok := r.state.getUpload(sha); ok {
		up.ID, up.CreatedAt = prev.ID, prev.CreatedAt
	}

	hash := r.hash(data)
	if hash != nil {
		up.ImageHash = hash.ToString()
		if dup, ok := r.state.nearDuplicate(hash); ok {
			log.Info("skip: near-duplicate", "of", dup)
			r.duplicates.Add(1)
			res.Skipped, res.Duplicate = true, dup
			return res
		}
	}

	rec, err := r.ex.ExtractAll(ctx, data, r.opts.Kind)
	if err != nil {
		log.Warn("extraction failed", "error", err)
		r.failed.Add(1)
		res.Err = err
		if r.sink != nil {
			if ferr := r.sink.Fail(ctx, up, err.Error()); ferr != nil {
				log.Error("mark failed", "error", ferr)
			}
			r.state.putUpload(up)
		}
		return res
	}
	res.Record = rec
	r.processed.Add(1)
	log.Info("extracted", "km", rec.KM, "time", deref(rec.TimeRaw))

	if r.sink == nil {
		return res
	}
	if r.opts.ProcessedDir != "" {
		if dst, err := r.arch.move(path); err != nil {
			log.Warn("failed to move processed file", "error", err)
		} else {
			up.StorePath = filepath.ToSlash(dst)
		}
	}
	if err := r.sink.Save(ctx, up, rec); err != nil {
		log.Error("save failed", "error", err)
		res.Err = err
		return res
	}
	r.state.putUpload(up)
	r.state.putHash(hash, name)
	return res
}

func (r *Runner) hash(data []byte) *goimagehash.ImageHash {
	img, err := ocr.Decode(data)
	if err != nil {
		return nil
	}
	return perceptualHash(img)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
