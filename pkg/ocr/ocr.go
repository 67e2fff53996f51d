// Package ocr turns running-app screenshots into structured run records:
// distance, run count, average pace and elapsed time.
package ocr

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"time"

	"github.com/disintegration/imaging"
)

// Pipeline composes preprocessing, recognition, candidate voting and
// correction. It holds no per-call state and is safe for concurrent use.
type Pipeline struct {
	rec        TextRecognizer
	tuning     Tuning
	logger     *slog.Logger
	observer   Observer
	digitLangs []string
	fullLangs  []string
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithTuning replaces the heuristic constants.
func WithTuning(t Tuning) Option {
	return func(p *Pipeline) { p.tuning = t }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithObserver registers a receiver for pass and correction events.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) {
		if o != nil {
			p.observer = o
		}
	}
}

// WithLanguages sets the engine languages for numeric passes and for the
// whole-card passes. Empty slices keep the defaults (eng, eng+kor).
func WithLanguages(digits, full []string) Option {
	return func(p *Pipeline) {
		if len(digits) > 0 {
			p.digitLangs = digits
		}
		if len(full) > 0 {
			p.fullLangs = full
		}
	}
}

// New returns a Pipeline backed by rec.
func New(rec TextRecognizer, opts ...Option) *Pipeline {
	p := &Pipeline{
		rec:        rec,
		tuning:     DefaultTuning(),
		logger:     slog.Default(),
		observer:   nopObserver{},
		digitLangs: defaultDigitLanguages,
		fullLangs:  defaultFullLanguages,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Tuning returns the constants in use.
func (p *Pipeline) Tuning() Tuning { return p.tuning }

// ExtractAll reads one screenshot. Undeterminable fields are nil in the
// returned record (KM is 0); only undecodable input, an unavailable engine
// or cancellation of ctx produce an error.
func (p *Pipeline) ExtractAll(ctx context.Context, data []byte, kind RecordKind) (*Record, error) {
	start := time.Now()
	img, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if err := p.rec.Warm(ctx); err != nil {
		return nil, err
	}
	b := img.Bounds()
	sets, err := PlanRegions(b.Dx(), b.Dy(), kind)
	if err != nil {
		return nil, err
	}
	passes, plans, err := p.planPasses(img, sets)
	if err != nil {
		return nil, err
	}
	results, err := p.runPasses(ctx, passes)
	if err != nil {
		return nil, err
	}

	ev := p.collect(kind, plans, results)
	var f fields
	f.pace, f.hasPace = p.tuning.votePace(ev.paces)
	f.time, f.hasTime = p.tuning.voteTime(ev.times)
	if kind == KindMonthly {
		f.runs, f.hasRuns = p.tuning.voteRuns(ev.runs)
	}
	est, hasEst := f.estimate()
	f.km, f.hasKM = PickDistance(ev.distances, kind, est, hasEst, p.tuning)

	if f.hasKM && NeedsLeadingDigitCheck(f.km) {
		guard := p.guardImage(plans, ev.distances, f.km)
		evidence := p.leadingDigitEvidence(ctx, guard, ev.distances)
		evidence.Estimate, evidence.HasEstimate = est, hasEst
		if fixed, ok := CorrectLeadingDigit(f.km, evidence, p.tuning); ok {
			p.logger.Info("leading digit corrected", "from", f.km, "to", fixed, "lead", evidence.LeadChar, "lead_conf", evidence.LeadConfidence, "looks_five", evidence.LooksFive)
			p.observer.MisreadCorrected(f.km, fixed)
			f.km = fixed
		}
	}

	rec := p.tuning.reconcile(kind, f)
	p.logger.Debug("extraction done", "kind", kind, "km", rec.KM, "distance_candidates", len(ev.distances), "elapsed", time.Since(start))
	return rec, nil
}

// evidence is every candidate gathered from one image.
type evidence struct {
	distances []DistanceCandidate
	paces     []PaceCandidate
	times     []TimeCandidate
	runs      []RunsCandidate
}

func (p *Pipeline) collect(kind RecordKind, plans []variantPlan, results []passResult) evidence {
	t := p.tuning
	var ev evidence
	cells := make([][3]passResult, len(plans))
	var full, stats passResult

	for _, r := range results {
		switch r.role {
		case roleDistance:
			if !r.ok {
				continue
			}
			score := t.confidenceScore(r.rec)
			ev.distances = append(ev.distances, DistancesFromText(r.rec.Text, r.opts.Label+"-text", score)...)
			ev.distances = append(ev.distances, DistancesFromWords(r.rec.Words, r.opts.Label+"-words", score, t.WordTopLines)...)
		case roleCell:
			cells[r.variant][r.cell] = r
		case roleFull:
			full = r
		case roleStats:
			stats = r
		}
	}

	for vi, plan := range plans {
		var texts [3]string
		for i, c := range cells[vi] {
			if c.ok {
				texts[i] = strings.TrimSpace(c.rec.Text)
			}
		}
		roles := AssignRoles(texts, plan.set.Roles)
		if roles != plan.set.Roles {
			p.logger.Debug("cell roles reassigned", "variant", plan.set.Name, "roles", fmt.Sprint(roles))
		}
		for i, role := range roles {
			c := cells[vi][i]
			if !c.ok {
				continue
			}
			cand := Candidate{Source: c.opts.Label, Score: t.confidenceScore(c.rec) + t.CellSourceBonus}
			switch role {
			case RolePace:
				if pc, ok := PaceFromCell(texts[i]); ok {
					pc.Candidate = cand
					ev.paces = append(ev.paces, pc)
				}
			case RoleTime:
				if tc, ok := TimeFromCell(texts[i]); ok {
					tc.Candidate = cand
					ev.times = append(ev.times, tc)
				}
			case RoleRuns:
				if rc, ok := RunsFromCell(texts[i]); ok {
					rc.Candidate = cand
					ev.runs = append(ev.runs, rc)
				}
			}
		}
	}

	// Whole-card text is the fallback source for every field.
	var parts []string
	var conf float64
	for _, r := range []passResult{full, stats} {
		if r.ok {
			parts = append(parts, r.rec.Text)
			conf = max(conf, t.confidenceScore(r.rec))
		}
	}
	merged := strings.Join(parts, "\n")
	if merged == "" {
		return ev
	}
	if dc, ok := DistanceNearLabel(merged); ok {
		ev.distances = append(ev.distances, dc)
	}
	if pc, ok := PaceFromText(merged); ok {
		pc.Score = conf
		ev.paces = append(ev.paces, pc)
	}
	if tc, ok := TimeFromText(merged); ok {
		tc.Score = conf
		ev.times = append(ev.times, tc)
	}
	if kind == KindMonthly {
		if rc, ok := RunsNearLabel(merged); ok {
			rc.Score = conf
			ev.runs = append(ev.runs, rc)
		} else if rc, ok := RunsFromWords(full.rec.Words); ok {
			rc.Score = conf
			ev.runs = append(ev.runs, rc)
		} else if rc, ok := RunsBeforePace(merged); ok {
			ev.runs = append(ev.runs, rc)
		}
	}
	return ev
}

// guardImage picks the binarized distance crop of the variant that
// contributed most candidates agreeing with value; earlier variants win ties.
func (p *Pipeline) guardImage(plans []variantPlan, cands []DistanceCandidate, value float64) image.Image {
	if len(plans) == 0 {
		return nil
	}
	best, bestHits := 0, -1
	for i, plan := range plans {
		hits := 0
		for _, c := range cands {
			if strings.HasPrefix(c.Source, plan.set.Name+"/") && distanceKey(c.Value) == distanceKey(value) {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = i, hits
		}
	}
	return plans[best].distanceBinary
}

// leadingDigitEvidence measures the leading glyph and asks the engine to
// classify it as 2, 3 or 5.
func (p *Pipeline) leadingDigitEvidence(ctx context.Context, img image.Image, cands []DistanceCandidate) GuardEvidence {
	t := p.tuning
	ev := GuardEvidence{
		Score2: ScoreAround(cands, 2, t),
		Score3: ScoreAround(cands, 3, t),
		Score5: ScoreAround(cands, 5, t),
	}
	if img == nil {
		return ev
	}
	g, ok := MeasureGlyph(img, t)
	if !ok {
		return ev
	}
	ev.LooksFive = g.LooksLikeFive(t)

	glyph := imaging.Crop(img, g.Bounds(img.Bounds().Dy()).Add(img.Bounds().Min))
	rec, ok := p.recognize(ctx, glyph, Options{
		Label:       "misread/lead",
		Languages:   p.digitLangs,
		Whitelist:   leadWhitelist,
		Mode:        ModeSingleChar,
		NumericMode: true,
	})
	if ok {
		if s := strings.TrimSpace(rec.Text); s != "" {
			ev.LeadChar = s[:1]
		}
		ev.LeadConfidence = max(rec.Confidence, 0)
	}
	return ev
}
