//go:build notesseract

package tesseract

import (
	"context"
	"errors"
	"log/slog"

	"runcard/pkg/ocr"
)

// Available reports whether the engine was compiled in.
const Available = false

// Factory returns a factory that always fails; the binary was built without
// Tesseract support.
func Factory(cfg Config, logger *slog.Logger) ocr.EngineFactory {
	return func(ctx context.Context) (ocr.Engine, error) {
		return nil, &ocr.EngineInitError{Err: errors.New("tesseract support not compiled in (rebuild without -tags notesseract)")}
	}
}
