package ocr

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	distanceWhitelist = "0123456789.,"
	cellWhitelist     = "0123456789:'″\" "
	leadWhitelist     = "235"
)

var (
	defaultDigitLanguages = []string{"eng"}
	defaultFullLanguages  = []string{"eng", "kor"}
)

// PassOutcome classifies how a recognition pass ended.
type PassOutcome string

const (
	OutcomeOK      PassOutcome = "ok"
	OutcomeEmpty   PassOutcome = "empty"
	OutcomeTimeout PassOutcome = "timeout"
	OutcomeError   PassOutcome = "error"
)

// Observer receives pipeline events. Implementations must be safe for
// concurrent use.
type Observer interface {
	PassFinished(label string, outcome PassOutcome, elapsed time.Duration)
	MisreadCorrected(from, to float64)
}

type nopObserver struct{}

func (nopObserver) PassFinished(string, PassOutcome, time.Duration) {}
func (nopObserver) MisreadCorrected(float64, float64)               {}

type passRole int

const (
	roleDistance passRole = iota
	roleCell
	roleFull
	roleStats
)

// pass is one recognition call planned for an image.
type pass struct {
	role    passRole
	variant int // index into the region sets; -1 for whole-card passes
	cell    int
	img     image.Image
	opts    Options
}

type passResult struct {
	pass
	rec Recognition
	ok  bool
}

// variantPlan holds the prepared crops of one layout hypothesis.
type variantPlan struct {
	set RegionSet
	// distanceBinary is the fixed-threshold distance crop used by the
	// leading-digit guard.
	distanceBinary image.Image
}

// planPasses prepares every crop and the recognition options for it.
func (p *Pipeline) planPasses(img image.Image, sets []RegionSet) ([]pass, []variantPlan, error) {
	t := p.tuning
	var passes []pass
	plans := make([]variantPlan, 0, len(sets))
	for vi, rs := range sets {
		dist, err := Crop(img, rs.Distance)
		if err != nil {
			return nil, nil, fmt.Errorf("variant %s distance: %w", rs.Name, err)
		}
		dist = NormalizePolarity(dist)
		sharp := UnsharpMask(dist, t.UnsharpAmount)
		fixed := BinarizeFixed(sharp, t.BinarizeThreshold)
		otsu := BinarizeOtsu(dist, t.OtsuBias)
		plans = append(plans, variantPlan{set: rs, distanceBinary: fixed})

		for _, d := range []struct {
			tag  string
			img  image.Image
			mode PageSegMode
		}{
			{"roiA", sharp, ModeSingleLine},
			{"roiB", fixed, ModeSingleLine},
			{"roiC", fixed, ModeSingleWord},
			{"roiD", otsu, ModeSingleLine},
		} {
			passes = append(passes, pass{
				role:    roleDistance,
				variant: vi,
				img:     d.img,
				opts: Options{
					Label:       rs.Name + "/" + d.tag,
					Languages:   p.digitLangs,
					Whitelist:   distanceWhitelist,
					Mode:        d.mode,
					NumericMode: true,
				},
			})
		}

		for ci, roi := range rs.Cells {
			cell, err := Crop(img, roi)
			if err != nil {
				return nil, nil, fmt.Errorf("variant %s cell %d: %w", rs.Name, ci, err)
			}
			passes = append(passes, pass{
				role:    roleCell,
				variant: vi,
				cell:    ci,
				img:     BinarizeFixed(NormalizePolarity(cell), t.BinarizeThreshold),
				opts: Options{
					Label:     fmt.Sprintf("%s/cell-%d", rs.Name, ci),
					Languages: p.digitLangs,
					Whitelist: cellWhitelist,
					Mode:      ModeSingleLine,
				},
			})
		}
	}

	passes = append(passes, pass{
		role:    roleFull,
		variant: -1,
		img:     img,
		opts:    Options{Label: "full", Languages: p.fullLangs, Mode: ModeSingleBlock},
	})
	if len(sets) > 0 {
		stats, err := Crop(img, sets[0].Stats)
		if err != nil {
			return nil, nil, fmt.Errorf("stats band: %w", err)
		}
		passes = append(passes, pass{
			role:    roleStats,
			variant: -1,
			img:     BinarizeFixed(NormalizePolarity(stats), t.BinarizeThreshold),
			opts:    Options{Label: "stats", Languages: p.fullLangs, Mode: ModeSparseText},
		})
	}
	return passes, plans, nil
}

// runPasses issues every pass concurrently. A failed or timed-out pass is
// logged and yields no result; it never cancels its siblings. Only
// cancellation of ctx itself is returned.
func (p *Pipeline) runPasses(ctx context.Context, passes []pass) ([]passResult, error) {
	results := make([]passResult, len(passes))
	g, gctx := errgroup.WithContext(ctx)
	for i := range passes {
		ps := passes[i]
		g.Go(func() error {
			rec, ok := p.recognize(gctx, ps.img, ps.opts)
			results[i] = passResult{pass: ps, rec: rec, ok: ok}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// recognize runs a single pass and reports it to the observer.
func (p *Pipeline) recognize(ctx context.Context, img image.Image, opts Options) (Recognition, bool) {
	start := time.Now()
	rec, err := p.rec.Recognize(ctx, img, opts)
	elapsed := time.Since(start)
	switch {
	case err == nil && strings.TrimSpace(rec.Text) == "" && len(rec.Words) == 0:
		p.observer.PassFinished(opts.Label, OutcomeEmpty, elapsed)
		p.logger.Debug("pass produced no text", "pass", opts.Label, "error", ErrNoCandidates)
		return rec, false
	case err == nil:
		p.observer.PassFinished(opts.Label, OutcomeOK, elapsed)
		p.logger.Debug("pass done", "pass", opts.Label, "text", snippet(rec.Text, 80), "conf", rec.Confidence)
		return rec, true
	case IsTimeout(err):
		p.observer.PassFinished(opts.Label, OutcomeTimeout, elapsed)
		p.logger.Warn("pass timed out", "pass", opts.Label, "error", err)
	case errors.Is(err, context.Canceled):
		p.observer.PassFinished(opts.Label, OutcomeError, elapsed)
	default:
		p.observer.PassFinished(opts.Label, OutcomeError, elapsed)
		p.logger.Warn("pass failed", "pass", opts.Label, "error", err)
	}
	return Recognition{}, false
}

// confidenceScore converts engine confidence into a candidate score.
func (t Tuning) confidenceScore(rec Recognition) float64 {
	conf := rec.Confidence
	if conf < 0 {
		conf = t.DefaultConfidence
	}
	return conf / 100 * t.ConfidenceWeight
}
