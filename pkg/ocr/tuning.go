package ocr

import "time"

// Tuning collects every heuristic threshold used by the pipeline so the
// algorithm code carries no inline magic numbers. DefaultTuning holds the
// values observed to work on the supported card layouts.
type Tuning struct {
	// Preprocessing.
	BinarizeThreshold uint8
	UnsharpAmount     float64
	OtsuBias          int

	// RecognizeTimeout bounds every single engine call.
	RecognizeTimeout time.Duration

	// Candidate scoring. Engine confidence (0..1) is multiplied by
	// ConfidenceWeight; DefaultConfidence (0..100) stands in when the
	// engine reports none.
	ConfidenceWeight  float64
	DefaultConfidence float64
	ROISourceBonus    float64
	CellSourceBonus   float64
	WordTopLines      int

	// Grouped voting.
	PreferredDecimalHit float64
	OtherDecimalHit     float64
	EstimateFlipMargin  float64
	ScoreTolerance      float64

	// Plausibility bounds, in seconds.
	PaceMinSeconds int
	PaceMaxSeconds int
	TimeMaxSeconds int
	MaxRuns        int

	// Leading-digit guard.
	LeadTrustOther   float64
	LeadTrustFive    float64
	FiveEstimateMin  float64
	FiveEstimateMax  float64
	FiveScoreMargin  float64
	GlyphColumnInk   float64
	GlyphMinColumn   int
	GlyphWidthFrac   float64
	GlyphMinWidth    int
	GlyphTopDensity  float64
	GlyphMidDensity  float64
	GlyphLeftStroke  float64
	GlyphStrokeInset float64
}

// DefaultTuning returns the stock heuristic constants.
func DefaultTuning() Tuning {
	return Tuning{
		BinarizeThreshold: 190,
		UnsharpAmount:     0.9,
		OtsuBias:          0,

		RecognizeTimeout: 15 * time.Second,

		ConfidenceWeight:  12,
		DefaultConfidence: 60,
		ROISourceBonus:    4,
		CellSourceBonus:   4,
		WordTopLines:      4,

		PreferredDecimalHit: 2,
		OtherDecimalHit:     0.5,
		EstimateFlipMargin:  0.12,
		ScoreTolerance:      0.25,

		PaceMinSeconds: 2 * 60,
		PaceMaxSeconds: 20 * 60,
		TimeMaxSeconds: 15 * 3600,
		MaxRuns:        999,

		LeadTrustOther:   70,
		LeadTrustFive:    82,
		FiveEstimateMin:  4.85,
		FiveEstimateMax:  5.30,
		FiveScoreMargin:  6,
		GlyphColumnInk:   0.12,
		GlyphMinColumn:   3,
		GlyphWidthFrac:   0.18,
		GlyphMinWidth:    8,
		GlyphTopDensity:  0.62,
		GlyphMidDensity:  0.46,
		GlyphLeftStroke:  0.32,
		GlyphStrokeInset: 0.18,
	}
}

// preferredDecimals is the distance precision each record kind displays.
func preferredDecimals(kind RecordKind) int {
	if kind == KindMonthly {
		return 1
	}
	return 2
}

// plausiblePace reports whether a per-km pace lies inside the bounds.
func (t Tuning) plausiblePace(sec int) bool {
	return sec >= t.PaceMinSeconds && sec <= t.PaceMaxSeconds
}

// plausibleTime reports whether an elapsed time lies inside the bounds.
func (t Tuning) plausibleTime(sec int) bool {
	return sec > 0 && sec < t.TimeMaxSeconds
}
