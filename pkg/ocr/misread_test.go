package ocr

import (
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// glyph paints black rectangles on a white 100x100 canvas.
func glyph(rects ...image.Rectangle) *image.NRGBA {
	img := imaging.New(100, 100, color.White)
	for _, r := range rects {
		img = imaging.Paste(img, imaging.New(r.Dx(), r.Dy(), color.Black), r.Min)
	}
	return img
}

var (
	drawnFive = glyph(
		image.Rect(0, 0, 19, 15),   // top bar
		image.Rect(0, 0, 6, 56),    // upper left stroke
		image.Rect(0, 45, 19, 64),  // middle bar
		image.Rect(14, 50, 19, 96), // lower right stroke
		image.Rect(0, 85, 19, 100), // bottom bar
	)
	drawnThree = glyph(
		image.Rect(0, 0, 19, 15),
		image.Rect(6, 45, 19, 64),
		image.Rect(14, 0, 19, 100),
		image.Rect(0, 85, 19, 100),
	)
)

func TestMeasureGlyph_Five(t *testing.T) {
	tun := DefaultTuning()
	g, ok := MeasureGlyph(drawnFive, tun)
	require.True(t, ok)
	assert.Equal(t, 0, g.Left)
	assert.Equal(t, 18, g.Right)
	assert.Greater(t, g.TopDensity, tun.GlyphTopDensity)
	assert.Greater(t, g.MidDensity, tun.GlyphMidDensity)
	assert.Greater(t, g.LeftStroke, tun.GlyphLeftStroke)
	assert.True(t, g.LooksLikeFive(tun))
}

func TestMeasureGlyph_Three(t *testing.T) {
	tun := DefaultTuning()
	g, ok := MeasureGlyph(drawnThree, tun)
	require.True(t, ok)
	assert.Equal(t, 0.0, g.LeftStroke)
	assert.False(t, g.LooksLikeFive(tun))
}

func TestMeasureGlyph_Blank(t *testing.T) {
	_, ok := MeasureGlyph(imaging.New(50, 50, color.White), DefaultTuning())
	assert.False(t, ok)
}

func TestMeasureGlyph_OffsetInk(t *testing.T) {
	img := glyph(image.Rect(30, 0, 49, 15), image.Rect(30, 0, 36, 100))
	g, ok := MeasureGlyph(img, DefaultTuning())
	require.True(t, ok)
	assert.Equal(t, 30, g.Left)
	assert.Equal(t, image.Rect(30, 0, 49, 100), g.Bounds(100))
}

func TestCorrectLeadingDigit(t *testing.T) {
	tun := DefaultTuning()
	favorFive := GuardEvidence{LooksFive: true, Estimate: 5.12, HasEstimate: true, Score2: 10, Score3: 0, Score5: 30}

	cases := []struct {
		name  string
		value float64
		ev    GuardEvidence
		want  float64
		fixed bool
	}{
		{"confident five", 2.15, GuardEvidence{LeadChar: "5", LeadConfidence: 90}, 5.15, true},
		{"unsure five", 2.15, GuardEvidence{LeadChar: "5", LeadConfidence: 80}, 2.15, false},
		{"shape estimate and scores", 3.4, favorFive, 5.4, true},
		{"confident two blocks everything", 2.15, GuardEvidence{LeadChar: "2", LeadConfidence: 75, LooksFive: true, Estimate: 5.1, HasEstimate: true, Score5: 99}, 2.15, false},
		{"weak two does not block", 2.15, GuardEvidence{LeadChar: "2", LeadConfidence: 40, LooksFive: true, Estimate: 5.1, HasEstimate: true, Score5: 99}, 5.15, true},
		{"shape without estimate", 2.15, GuardEvidence{LooksFive: true, Score5: 99}, 2.15, false},
		{"estimate far from five", 2.15, GuardEvidence{LooksFive: true, Estimate: 2.2, HasEstimate: true, Score5: 99}, 2.15, false},
		{"score margin too small", 2.15, GuardEvidence{LooksFive: true, Estimate: 5.1, HasEstimate: true, Score2: 10, Score5: 15}, 2.15, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, fixed := CorrectLeadingDigit(c.value, c.ev, tun)
			assert.Equal(t, c.fixed, fixed)
			assert.InDelta(t, c.want, got, 1e-9)
		})
	}
}

func TestCorrectLeadingDigit_OnlyTwoOrThree(t *testing.T) {
	tun := DefaultTuning()
	forced := GuardEvidence{LeadChar: "5", LeadConfidence: 99, LooksFive: true, Estimate: 5.1, HasEstimate: true, Score5: 100}
	for _, v := range []float64{0.8, 1.5, 4.15, 4.99, 6.15, 12.3} {
		got, fixed := CorrectLeadingDigit(v, forced, tun)
		assert.False(t, fixed, "%v", v)
		assert.Equal(t, v, got)
	}
}
