package process

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
)

// archiver moves processed screenshots out of the watched directory,
// downscaling files above maxBytes.
type archiver struct {
	dir      string
	maxBytes int64
}

// move moves src into the processed directory and returns the new path. It
// attempts an atomic rename and falls back to copy+remove when necessary.
func (a archiver) move(src string) (string, error) {
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return "", err
	}
	dst := filepath.Join(a.dir, filepath.Base(src))

	fi, err := os.Stat(src)
	if err != nil {
		return "", err
	}
	if a.maxBytes <= 0 || fi.Size() <= a.maxBytes {
		return dst, renameOrCopy(src, dst)
	}

	img, err := imaging.Open(src)
	if err != nil { // cannot decode: move as is
		return dst, renameOrCopy(src, dst)
	}
	// size roughly scales with area
	scale := math.Sqrt(float64(a.maxBytes) / float64(fi.Size()))
	scale = min(max(scale, 0.1), 0.95)
	w := int(math.Max(1, math.Round(float64(img.Bounds().Dx())*scale)))
	h := int(math.Max(1, math.Round(float64(img.Bounds().Dy())*scale)))
	img = imaging.Resize(img, w, h, imaging.Lanczos)

	if err := imaging.Save(img, dst); err != nil {
		return dst, renameOrCopy(src, dst)
	}
	if err := os.Remove(src); err != nil {
		return dst, fmt.Errorf("remove original: %w", err)
	}
	// one more uniform 80% pass if still too large
	if fi2, err := os.Stat(dst); err == nil && fi2.Size() > a.maxBytes {
		if img2, err := imaging.Open(dst); err == nil {
			img2 = imaging.Resize(img2, int(float64(img2.Bounds().Dx())*0.8), 0, imaging.Lanczos)
			_ = imaging.Save(img2, dst)
		}
	}
	return dst, nil
}

func renameOrCopy(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	return copyRemove(src, dst)
}

func copyRemove(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
