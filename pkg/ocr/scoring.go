package ocr

import (
	"math"
	"sort"
	"strings"
)

// DistanceGroup aggregates candidates that agree to two decimals.
type DistanceGroup struct {
	Value       float64 `json:"value"`
	Count       int     `json:"count"`
	ROIHits     int     `json:"roi_hits"`
	DecimalHits float64 `json:"decimal_hits"`
	Score       float64 `json:"score"`
}

// distanceKey buckets a value to two decimals.
func distanceKey(v float64) float64 {
	return math.Round(v*100) / 100
}

// isROISource reports whether a candidate came from a dedicated distance crop
// rather than a whole-image or label pass.
func isROISource(src string) bool {
	return strings.Contains(src, "roi")
}

// GroupDistances buckets candidates by value and ranks the groups: more ROI
// hits first, then decimal-precision agreement, then raw count, then
// summed score. Ties keep first-seen order.
func GroupDistances(cands []DistanceCandidate, kind RecordKind, t Tuning) []DistanceGroup {
	pref := preferredDecimals(kind)
	idx := make(map[float64]int)
	var groups []DistanceGroup
	for _, c := range cands {
		if c.Value <= 0 || math.IsNaN(c.Value) || math.IsInf(c.Value, 0) {
			continue
		}
		k := distanceKey(c.Value)
		i, ok := idx[k]
		if !ok {
			i = len(groups)
			idx[k] = i
			groups = append(groups, DistanceGroup{Value: k})
		}
		g := &groups[i]
		g.Count++
		if isROISource(c.Source) {
			g.ROIHits++
		}
		if c.Decimals == pref {
			g.DecimalHits += t.PreferredDecimalHit
		} else {
			g.DecimalHits += t.OtherDecimalHit
		}
		g.Score += c.Score
	}
	sort.SliceStable(groups, func(i, j int) bool {
		a, b := groups[i], groups[j]
		if a.ROIHits != b.ROIHits {
			return a.ROIHits > b.ROIHits
		}
		if a.DecimalHits != b.DecimalHits {
			return a.DecimalHits > b.DecimalHits
		}
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Score > b.Score
	})
	return groups
}

// PickDistance returns the winning distance. When an estimate from pace and
// time is available and the top two groups differ in their distance to it by
// more than EstimateFlipMargin, the closer one wins instead of the top rank.
func PickDistance(cands []DistanceCandidate, kind RecordKind, estimate float64, hasEstimate bool, t Tuning) (float64, bool) {
	groups := GroupDistances(cands, kind, t)
	if len(groups) == 0 {
		return 0, false
	}
	if hasEstimate && len(groups) >= 2 {
		a, b := groups[0], groups[1]
		d1 := math.Abs(a.Value - estimate)
		d2 := math.Abs(b.Value - estimate)
		if math.Abs(d1-d2) > t.EstimateFlipMargin {
			if d2 < d1 {
				return b.Value, true
			}
			return a.Value, true
		}
	}
	return groups[0].Value, true
}

// ScoreAround returns the best summed group score within ScoreTolerance of
// center. ROI-sourced candidates earn ROISourceBonus each.
func ScoreAround(cands []DistanceCandidate, center float64, t Tuning) float64 {
	sums := make(map[float64]float64)
	for _, c := range cands {
		s := c.Score
		if isROISource(c.Source) {
			s += t.ROISourceBonus
		}
		sums[distanceKey(c.Value)] += s
	}
	best := 0.0
	for v, s := range sums {
		if math.Abs(v-center) <= t.ScoreTolerance+1e-9 && s > best {
			best = s
		}
	}
	return best
}
