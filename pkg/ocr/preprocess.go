package ocr

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	// Phone screenshots are frequently shared as WebP.
	_ "golang.org/x/image/webp"
)

// ROI is a rectangular region in source-pixel coordinates plus the upscale
// factor applied before recognition.
type ROI struct {
	X      int     `json:"x"`
	Y      int     `json:"y"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
	Scale  float64 `json:"scale"`
}

// Rect returns the region as an image rectangle relative to the origin.
func (r ROI) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

var (
	white = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	black = color.NRGBA{A: 255}
)

// Decode parses an encoded image (PNG, JPEG, GIF, BMP, TIFF, WebP) into an
// NRGBA bitmap anchored at the origin.
func Decode(data []byte) (*image.NRGBA, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Err: errors.New("empty input")}
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	out := imaging.Clone(img)
	if out.Bounds().Empty() {
		return nil, &DecodeError{Err: errors.New("image has no pixels")}
	}
	return out, nil
}

// Crop extracts roi from img and upscales it with nearest-neighbor sampling so
// glyph edges stay crisp. Coordinates outside the image are clamped.
func Crop(img image.Image, roi ROI) (*image.NRGBA, error) {
	if roi.Width <= 0 || roi.Height <= 0 {
		return nil, &InvalidRegionError{Region: roi, Reason: "non-positive size"}
	}
	if roi.Scale <= 0 || math.IsNaN(roi.Scale) || math.IsInf(roi.Scale, 0) {
		return nil, &InvalidRegionError{Region: roi, Reason: "non-positive scale"}
	}
	b := img.Bounds()
	r := roi.Rect().Add(b.Min).Intersect(b)
	if r.Empty() {
		return nil, &InvalidRegionError{Region: roi, Reason: "outside image"}
	}
	sub := imaging.Crop(img, r)
	if roi.Scale == 1 {
		return sub, nil
	}
	w := int(math.Max(1, math.Round(float64(r.Dx())*roi.Scale)))
	h := int(math.Max(1, math.Round(float64(r.Dy())*roi.Scale)))
	return imaging.Resize(sub, w, h, imaging.NearestNeighbor), nil
}

// Grayscale converts img using the 0.299R + 0.587G + 0.114B luma weights.
func Grayscale(img image.Image) *image.NRGBA {
	return imaging.Grayscale(img)
}

// luma returns the weighted gray value of an RGB triple.
func luma(r, g, b uint8) float64 {
	return 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
}

// BinarizeFixed maps pixels brighter than threshold to white and the rest to black.
func BinarizeFixed(img image.Image, threshold uint8) *image.NRGBA {
	t := float64(threshold)
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		if luma(c.R, c.G, c.B) > t {
			return white
		}
		return black
	})
}

// OtsuThreshold picks the gray level that maximizes between-class variance.
// When several levels tie (an empty valley between two clusters) the middle of
// the tied run is returned.
func OtsuThreshold(img image.Image) uint8 {
	src := imaging.Clone(img)
	hist := make([]float64, 256)
	for i := 0; i+3 < len(src.Pix); i += 4 {
		v := luma(src.Pix[i], src.Pix[i+1], src.Pix[i+2])
		hist[int(math.Min(255, math.Round(v)))]++
	}
	levels := make([]float64, 256)
	for i := range levels {
		levels[i] = float64(i)
	}
	total := floats.Sum(hist)
	if total == 0 {
		return 127
	}

	best, start, end := -1.0, 0, 0
	w0 := 0.0
	for t := 0; t < 255; t++ {
		w0 += hist[t]
		w1 := total - w0
		if w0 == 0 || w1 == 0 {
			continue
		}
		mu0 := stat.Mean(levels[:t+1], hist[:t+1])
		mu1 := stat.Mean(levels[t+1:], hist[t+1:])
		between := w0 * w1 * (mu0 - mu1) * (mu0 - mu1)
		switch {
		case between > best:
			best, start, end = between, t, t
		case between == best && t == end+1:
			end = t
		}
	}
	if best < 0 {
		// single gray level: everything lands on one side
		return 127
	}
	return uint8((start + end) / 2)
}

// BinarizeOtsu binarizes with the Otsu threshold shifted by bias.
func BinarizeOtsu(img image.Image, bias int) *image.NRGBA {
	t := int(OtsuThreshold(img)) + bias
	if t < 0 {
		t = 0
	}
	if t > 255 {
		t = 255
	}
	return BinarizeFixed(img, uint8(t))
}

// UnsharpMask amplifies each pixel's difference from its left neighbor:
// out = clamp(in + amount*(in - left)) per RGB channel.
func UnsharpMask(img image.Image, amount float64) *image.NRGBA {
	src := imaging.Clone(img)
	dst := imaging.Clone(src)
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	for y := 0; y < h; y++ {
		row := y * src.Stride
		for x := 1; x < w; x++ {
			i := row + x*4
			j := i - 4
			for c := 0; c < 3; c++ {
				in := float64(src.Pix[i+c])
				v := in + amount*(in-float64(src.Pix[j+c]))
				dst.Pix[i+c] = uint8(math.Max(0, math.Min(255, math.Round(v))))
			}
		}
	}
	return dst
}

// MaskRect paints a rectangle given as fractions of the image size. A nil fill
// paints white.
func MaskRect(img image.Image, xFrac, yFrac, wFrac, hFrac float64, fill color.Color) *image.NRGBA {
	if fill == nil {
		fill = white
	}
	b := img.Bounds()
	x := int(math.Round(xFrac * float64(b.Dx())))
	y := int(math.Round(yFrac * float64(b.Dy())))
	w := int(math.Round(wFrac * float64(b.Dx())))
	h := int(math.Round(hFrac * float64(b.Dy())))
	if w <= 0 || h <= 0 {
		return imaging.Clone(img)
	}
	return imaging.Paste(img, imaging.New(w, h, fill), image.Pt(b.Min.X+x, b.Min.Y+y))
}

// MeanLuma returns the average gray value of img.
func MeanLuma(img image.Image) float64 {
	src := imaging.Clone(img)
	n := len(src.Pix) / 4
	if n == 0 {
		return 0
	}
	sum := 0.0
	for i := 0; i+3 < len(src.Pix); i += 4 {
		sum += luma(src.Pix[i], src.Pix[i+1], src.Pix[i+2])
	}
	return sum / float64(n)
}

// NormalizePolarity inverts light-on-dark crops (dark app themes) so digits
// are always dark on a light background.
func NormalizePolarity(img image.Image) *image.NRGBA {
	if MeanLuma(img) < 128 {
		return imaging.Invert(img)
	}
	return imaging.Clone(img)
}

// EncodePNG serializes img for the recognition engine.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
