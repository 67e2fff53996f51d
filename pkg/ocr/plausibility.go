package ocr

import "math"

// tally accumulates votes for integer-valued readings. The key with the
// highest summed score wins; earlier keys win ties.
type tally struct {
	order  []int
	scores map[int]float64
}

func newTally() *tally {
	return &tally{scores: make(map[int]float64)}
}

func (t *tally) add(key int, score float64) {
	if _, ok := t.scores[key]; !ok {
		t.order = append(t.order, key)
	}
	// every reading counts for something even when the engine gave no
	// confidence
	t.scores[key] += math.Max(score, 1)
}

func (t *tally) best() (int, bool) {
	best, bestScore, found := 0, math.Inf(-1), false
	for _, k := range t.order {
		if s := t.scores[k]; s > bestScore {
			best, bestScore, found = k, s, true
		}
	}
	return best, found
}

// votePace picks the pace (seconds per km) among plausible candidates.
func (t Tuning) votePace(cands []PaceCandidate) (int, bool) {
	v := newTally()
	for _, c := range cands {
		if c.Seconds < 60 && t.plausiblePace(c.TotalSeconds()) {
			v.add(c.TotalSeconds(), c.Score)
		}
	}
	return v.best()
}

// voteTime picks the elapsed time in seconds among plausible candidates.
func (t Tuning) voteTime(cands []TimeCandidate) (int, bool) {
	v := newTally()
	for _, c := range cands {
		if c.Minutes < 60 && c.Seconds < 60 && t.plausibleTime(c.TotalSeconds()) {
			v.add(c.TotalSeconds(), c.Score)
		}
	}
	return v.best()
}

// voteRuns picks the run count.
func (t Tuning) voteRuns(cands []RunsCandidate) (int, bool) {
	v := newTally()
	for _, c := range cands {
		if c.Count >= 0 && c.Count <= t.MaxRuns {
			v.add(c.Count, c.Score)
		}
	}
	return v.best()
}

// fields are the per-field decisions before the record is formatted.
type fields struct {
	km      float64
	hasKM   bool
	pace    int
	hasPace bool
	time    int
	hasTime bool
	runs    int
	hasRuns bool
}

// estimate is the distance implied by pace and time.
func (f fields) estimate() (float64, bool) {
	if !f.hasPace || !f.hasTime || f.pace <= 0 {
		return 0, false
	}
	return float64(f.time) / float64(f.pace), true
}

// roundTo rounds v to the given number of decimals.
func roundTo(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}

// reconcile fills missing fields from the others and formats the record.
// Recognized values are never overwritten; derived ones must still pass the
// plausibility bounds.
func (t Tuning) reconcile(kind RecordKind, f fields) *Record {
	if !f.hasKM {
		if est, ok := f.estimate(); ok {
			f.km, f.hasKM = roundTo(est, preferredDecimals(kind)), true
		}
	}
	if f.hasKM && f.km > 0 {
		if !f.hasPace && f.hasTime {
			if p := int(math.Round(float64(f.time) / f.km)); t.plausiblePace(p) {
				f.pace, f.hasPace = p, true
			}
		}
		if !f.hasTime && f.hasPace {
			if s := int(math.Round(float64(f.pace) * f.km)); t.plausibleTime(s) {
				f.time, f.hasTime = s, true
			}
		}
	}

	rec := &Record{}
	if f.hasKM && f.km > 0 {
		rec.KM = distanceKey(f.km)
	}
	if f.hasPace {
		rec.SetPace(f.pace)
	}
	if f.hasTime {
		rec.SetTime(f.time)
	}
	if kind == KindMonthly && f.hasRuns {
		rec.SetRuns(f.runs)
	}
	return rec
}
