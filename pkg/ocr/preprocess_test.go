package ocr

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// twoTone returns an image whose left half is gray level a and right half b.
func twoTone(w, h int, a, b uint8) *image.NRGBA {
	img := imaging.New(w, h, color.Gray{Y: a})
	return imaging.Paste(img, imaging.New(w/2, h, color.Gray{Y: b}), image.Pt(w/2, 0))
}

func TestDecode_Errors(t *testing.T) {
	_, err := Decode(nil)
	var de *DecodeError
	require.ErrorAs(t, err, &de)

	_, err = Decode([]byte("definitely not an image"))
	require.ErrorAs(t, err, &de)
}

func TestDecode_PNG(t *testing.T) {
	data, err := EncodePNG(imaging.New(12, 7, color.White))
	require.NoError(t, err)
	img, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 12, 7), img.Bounds())
}

func TestCrop_ScalesAndClamps(t *testing.T) {
	img := imaging.New(100, 100, color.White)

	out, err := Crop(img, ROI{X: 10, Y: 20, Width: 30, Height: 10, Scale: 2})
	require.NoError(t, err)
	assert.Equal(t, 60, out.Bounds().Dx())
	assert.Equal(t, 20, out.Bounds().Dy())

	// partially outside: only the 10x10 inside part survives
	out, err = Crop(img, ROI{X: 90, Y: 90, Width: 20, Height: 20, Scale: 2})
	require.NoError(t, err)
	assert.Equal(t, 20, out.Bounds().Dx())
	assert.Equal(t, 20, out.Bounds().Dy())
}

func TestCrop_InvalidRegion(t *testing.T) {
	img := imaging.New(50, 50, color.White)
	cases := map[string]ROI{
		"zero width":     {X: 0, Y: 0, Width: 0, Height: 10, Scale: 1},
		"negative h":     {X: 0, Y: 0, Width: 10, Height: -1, Scale: 1},
		"zero scale":     {X: 0, Y: 0, Width: 10, Height: 10, Scale: 0},
		"outside bounds": {X: 80, Y: 80, Width: 10, Height: 10, Scale: 1},
	}
	for name, roi := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Crop(img, roi)
			var ire *InvalidRegionError
			require.True(t, errors.As(err, &ire), "got %v", err)
		})
	}
}

func TestOtsuThreshold_Bimodal(t *testing.T) {
	img := twoTone(40, 20, 50, 200)
	// every level between the clusters separates them equally well; the
	// middle of that plateau is chosen
	assert.Equal(t, uint8(124), OtsuThreshold(img))
	for i := 0; i < 5; i++ {
		assert.Equal(t, uint8(124), OtsuThreshold(img))
	}

	bin := BinarizeOtsu(img, 0)
	assert.Equal(t, black, bin.NRGBAAt(0, 0))
	assert.Equal(t, white, bin.NRGBAAt(39, 0))
}

func TestOtsuThreshold_Uniform(t *testing.T) {
	assert.Equal(t, uint8(127), OtsuThreshold(imaging.New(8, 8, color.Gray{Y: 90})))
}

func TestBinarizeFixed(t *testing.T) {
	img := twoTone(10, 2, 189, 191)
	bin := BinarizeFixed(img, 190)
	assert.Equal(t, black, bin.NRGBAAt(0, 0))
	assert.Equal(t, white, bin.NRGBAAt(9, 1))
}

func TestUnsharpMask_UsesOriginalLeftNeighbor(t *testing.T) {
	img := imaging.New(3, 1, color.Gray{Y: 150})
	img.SetNRGBA(0, 0, color.NRGBA{R: 100, G: 100, B: 100, A: 255})

	out := UnsharpMask(img, 0.9)
	assert.Equal(t, uint8(100), out.NRGBAAt(0, 0).R, "first column untouched")
	assert.Equal(t, uint8(195), out.NRGBAAt(1, 0).R, "150 + 0.9*(150-100)")
	assert.Equal(t, uint8(150), out.NRGBAAt(2, 0).R, "flat neighbor, no change")
}

func TestUnsharpMask_Clamps(t *testing.T) {
	img := twoTone(4, 1, 0, 255)
	out := UnsharpMask(img, 2)
	assert.Equal(t, uint8(255), out.NRGBAAt(2, 0).R)
	assert.Equal(t, uint8(0), out.NRGBAAt(0, 0).R)
}

func TestNormalizePolarity(t *testing.T) {
	dark := imaging.New(10, 10, color.Gray{Y: 20})
	assert.Greater(t, MeanLuma(NormalizePolarity(dark)), 128.0)

	light := imaging.New(10, 10, color.Gray{Y: 230})
	assert.InDelta(t, 230, MeanLuma(NormalizePolarity(light)), 0.5)
}

func TestMaskRect(t *testing.T) {
	img := imaging.New(100, 100, color.Black)
	out := MaskRect(img, 0.5, 0.5, 0.5, 0.5, nil)
	assert.Equal(t, black, out.NRGBAAt(10, 10))
	assert.Equal(t, white, out.NRGBAAt(75, 75))
}
