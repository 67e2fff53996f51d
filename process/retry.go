package process

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"runcard/pkg/ocr"
)

// Retry re-runs extraction for every stored upload marked failed whose file
// is still readable. Files still in the watched directory are archived on
// success.
func (r *Runner) Retry(ctx context.Context) (Stats, error) {
	if r.sink == nil {
		return Stats{}, fmt.Errorf("retry needs a store")
	}
	ups, err := r.sink.Failed(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("list failed uploads: %w", err)
	}
	r.log.Info("retrying failed uploads", "count", len(ups))

	for i := range ups {
		if ctx.Err() != nil {
			break
		}
		up := &ups[i]
		log := r.log.With("file", up.FileName, "upload", up.ID)
		path := filepath.FromSlash(up.StorePath)
		data, err := os.ReadFile(path)
		if err != nil {
			log.Warn("retry: file unreadable", "path", path, "error", err)
			r.skipped.Add(1)
			continue
		}
		kind, err := ocr.ParseRecordKind(up.Kind)
		if err != nil {
			kind = r.opts.Kind
		}
		rec, err := r.ex.ExtractAll(ctx, data, kind)
		if err != nil {
			log.Warn("retry failed", "error", err)
			r.failed.Add(1)
			if ferr := r.sink.Fail(ctx, up, err.Error()); ferr != nil {
				log.Error("mark failed", "error", ferr)
			}
			continue
		}
		if r.opts.ProcessedDir != "" && filepath.Dir(path) == filepath.Clean(r.opts.Dir) {
			if dst, err := r.arch.move(path); err == nil {
				up.StorePath = filepath.ToSlash(dst)
			}
		}
		if err := r.sink.Save(ctx, up, rec); err != nil {
			log.Error("save failed", "error", err)
			r.failed.Add(1)
			continue
		}
		r.processed.Add(1)
		log.Info("retry succeeded", "km", rec.KM)
		if r.opts.OnResult != nil {
			r.opts.OnResult(Result{Name: up.FileName, Record: rec})
		}
	}
	return r.Stats(), ctx.Err()
}
