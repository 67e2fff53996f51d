package ocr

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// GlyphFeatures describes the ink layout of the leading glyph of a binarized
// distance crop.
type GlyphFeatures struct {
	Left       int     `json:"left"`
	Right      int     `json:"right"`
	TopDensity float64 `json:"top_density"`
	MidDensity float64 `json:"mid_density"`
	LeftStroke float64 `json:"left_stroke"`
}

// Bounds is the column span of the glyph over the full crop height.
func (g GlyphFeatures) Bounds(height int) image.Rectangle {
	return image.Rect(g.Left, 0, g.Right+1, height)
}

// inkMask is a dark-pixel bitmap; the red channel decides, as the crop is
// already black and white.
type inkMask struct {
	w, h int
	ink  []bool
}

func newInkMask(img image.Image) inkMask {
	src := imaging.Clone(img)
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	m := inkMask{w: w, h: h, ink: make([]bool, w*h)}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			m.ink[y*w+x] = src.Pix[y*src.Stride+x*4] < 128
		}
	}
	return m
}

func (m inkMask) at(x, y int) bool { return m.ink[y*m.w+x] }

// density is the ink fraction of rows [y0,y1) and columns [x0,x1].
func (m inkMask) density(x0, x1, y0, y1 int) float64 {
	n, total := 0, 0
	for y := y0; y < y1; y++ {
		for x := x0; x <= x1; x++ {
			total++
			if m.at(x, y) {
				n++
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}

// MeasureGlyph locates the first inked column of img and measures the leading
// glyph: ink density in the top band, in the middle band, and along a vertical
// line just inside its left edge. A 5 has a full top bar, a full middle bar and
// a left stroke in its lower half; a 2 or 3 lacks the latter.
func MeasureGlyph(img image.Image, t Tuning) (GlyphFeatures, bool) {
	m := newInkMask(img)
	if m.w == 0 || m.h == 0 {
		return GlyphFeatures{}, false
	}
	need := max(t.GlyphMinColumn, int(math.Floor(float64(m.h)*t.GlyphColumnInk)))
	left := -1
	for x := 0; x < m.w && left < 0; x++ {
		n := 0
		for y := 0; y < m.h; y++ {
			if m.at(x, y) {
				n++
			}
		}
		if n > need {
			left = x
		}
	}
	if left < 0 {
		return GlyphFeatures{}, false
	}
	digitW := max(t.GlyphMinWidth, int(math.Floor(float64(m.w)*t.GlyphWidthFrac)))
	right := min(m.w-1, left+digitW)

	frac := func(f float64) int { return int(math.Floor(float64(m.h) * f)) }
	g := GlyphFeatures{
		Left:       left,
		Right:      right,
		TopDensity: m.density(left, right, 0, frac(0.14)),
		MidDensity: m.density(left, right, frac(0.47), frac(0.62)),
	}

	vx := min(right, left+max(2, int(math.Floor(float64(digitW)*t.GlyphStrokeInset))))
	hits, rows := 0, 0
	for y := frac(0.35); y < frac(0.85); y++ {
		rows++
		if m.at(vx, y) {
			hits++
		}
	}
	if rows > 0 {
		g.LeftStroke = float64(hits) / float64(rows)
	}
	return g, true
}

// LooksLikeFive applies the density thresholds to measured features.
func (g GlyphFeatures) LooksLikeFive(t Tuning) bool {
	return g.TopDensity > t.GlyphTopDensity &&
		g.MidDensity > t.GlyphMidDensity &&
		g.LeftStroke > t.GlyphLeftStroke
}

// GuardEvidence is everything the leading-digit decision looks at.
type GuardEvidence struct {
	// LeadChar and LeadConfidence come from a single-character recognition
	// restricted to 2, 3 and 5.
	LeadChar       string
	LeadConfidence float64
	LooksFive      bool

	Estimate    float64
	HasEstimate bool

	// Summed candidate scores around 2.0, 3.0 and 5.0.
	Score2, Score3, Score5 float64
}

// NeedsLeadingDigitCheck reports whether value is in the 2/3 range where a
// misread 5 is possible.
func NeedsLeadingDigitCheck(value float64) bool {
	ip := math.Floor(value)
	return ip == 2 || ip == 3
}

// CorrectLeadingDigit replaces the integer part of value with 5 when the
// evidence says a 5 was misread as 2 or 3. A confident 2 or 3 from the
// constrained recognizer always wins. Values outside [2,4) are never changed.
func CorrectLeadingDigit(value float64, ev GuardEvidence, t Tuning) (float64, bool) {
	if !NeedsLeadingDigitCheck(value) {
		return value, false
	}
	if (ev.LeadChar == "2" || ev.LeadChar == "3") && ev.LeadConfidence >= t.LeadTrustOther {
		return value, false
	}
	confidentFive := ev.LeadChar == "5" && ev.LeadConfidence >= t.LeadTrustFive
	estimateNearFive := ev.HasEstimate && ev.Estimate >= t.FiveEstimateMin && ev.Estimate <= t.FiveEstimateMax
	scoresFavorFive := ev.Score5 > math.Max(ev.Score2, ev.Score3)+t.FiveScoreMargin
	if !confidentFive && !(ev.LooksFive && estimateNearFive && scoresFavorFive) {
		return value, false
	}
	fixed := 5 + (value - math.Floor(value))
	return distanceKey(fixed), true
}
