//go:build !notesseract

package tesseract

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"math"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"

	"runcard/pkg/ocr"
)

// Available reports whether the engine was compiled in.
const Available = true

// Engine serves recognition calls from pools of gosseract clients, one pool
// per language set. A single client is not safe for concurrent use.
type Engine struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	pools  map[string]*clientPool[*gosseract.Client]
	closed bool
}

// Factory returns an ocr.EngineFactory that builds and probes an Engine.
func Factory(cfg Config, logger *slog.Logger) ocr.EngineFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context) (ocr.Engine, error) {
		e := &Engine{cfg: cfg, logger: logger, pools: make(map[string]*clientPool[*gosseract.Client])}
		langs := cfg.Languages
		if len(langs) == 0 {
			langs = []string{"eng"}
		}
		if err := e.probe(ctx, langs); err != nil {
			_ = e.Close()
			return nil, &ocr.EngineInitError{Err: err}
		}
		return e, nil
	}
}

// probe runs one recognition so missing language data fails here instead of
// on the first real image.
func (e *Engine) probe(ctx context.Context, langs []string) error {
	blank, err := ocr.EncodePNG(imaging.New(32, 32, image.White))
	if err != nil {
		return err
	}
	_, err = e.Recognize(ctx, blank, ocr.Options{Label: "probe", Languages: langs, Mode: ocr.ModeSingleBlock})
	return err
}

func (e *Engine) pool(langs []string) (*clientPool[*gosseract.Client], error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, errPoolClosed
	}
	key := langKey(langs)
	p, ok := e.pools[key]
	if !ok {
		p = newClientPool(e.cfg.Size(), func() (*gosseract.Client, error) {
			return e.newClient(langs)
		})
		e.pools[key] = p
	}
	return p, nil
}

func (e *Engine) newClient(langs []string) (*gosseract.Client, error) {
	c := gosseract.NewClient()
	if e.cfg.TessdataPrefix != "" {
		c.SetTessdataPrefix(e.cfg.TessdataPrefix)
	}
	if err := c.SetLanguage(langs...); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("set language %s: %w", langKey(langs), err)
	}
	return c, nil
}

// Recognize implements ocr.Engine. The cgo call cannot be interrupted; if ctx
// expires first the caller gives up and the client returns to the pool when
// the call completes.
func (e *Engine) Recognize(ctx context.Context, png []byte, opts ocr.Options) (ocr.Recognition, error) {
	p, err := e.pool(opts.Languages)
	if err != nil {
		return ocr.Recognition{}, err
	}
	c, err := p.acquire(ctx)
	if err != nil {
		return ocr.Recognition{}, err
	}
	defer p.release(c)

	if err := configure(c, opts); err != nil {
		return ocr.Recognition{}, fmt.Errorf("%s: %w", opts.Label, err)
	}
	if err := c.SetImageFromBytes(png); err != nil {
		return ocr.Recognition{}, fmt.Errorf("%s: set image: %w", opts.Label, err)
	}
	text, err := c.Text()
	if err != nil {
		return ocr.Recognition{}, fmt.Errorf("%s: text: %w", opts.Label, err)
	}
	rec := ocr.Recognition{Text: strings.TrimSpace(text), Confidence: -1}

	boxes, err := c.GetBoundingBoxesVerbose()
	if err != nil {
		e.logger.Debug("word boxes unavailable", "pass", opts.Label, "error", err)
		return rec, nil
	}
	sum := 0.0
	for _, b := range boxes {
		w := strings.TrimSpace(b.Word)
		if w == "" {
			continue
		}
		rec.Words = append(rec.Words, ocr.Word{
			Text:       w,
			Box:        b.Box,
			Confidence: b.Confidence,
			LineID:     fmt.Sprintf("%d-%d-%d", b.BlockNum, b.ParNum, b.LineNum),
		})
		sum += b.Confidence
	}
	if n := len(rec.Words); n > 0 {
		rec.Confidence = math.Max(0, math.Min(100, sum/float64(n)))
	}
	return rec, nil
}

func configure(c *gosseract.Client, opts ocr.Options) error {
	if err := c.SetPageSegMode(pageSegMode(opts.Mode)); err != nil {
		return fmt.Errorf("set page seg mode: %w", err)
	}
	if err := c.SetWhitelist(opts.Whitelist); err != nil {
		return fmt.Errorf("set whitelist: %w", err)
	}
	numeric := "0"
	if opts.NumericMode {
		numeric = "1"
	}
	if err := c.SetVariable("classify_bln_numeric_mode", numeric); err != nil {
		return fmt.Errorf("set numeric mode: %w", err)
	}
	_ = c.SetVariable("preserve_interword_spaces", "1")
	return nil
}

func pageSegMode(m ocr.PageSegMode) gosseract.PageSegMode {
	switch m {
	case ocr.ModeSingleLine:
		return gosseract.PSM_SINGLE_LINE
	case ocr.ModeSingleWord:
		return gosseract.PSM_SINGLE_WORD
	case ocr.ModeSingleChar:
		return gosseract.PSM_SINGLE_CHAR
	case ocr.ModeSparseText:
		return gosseract.PSM_SPARSE_TEXT
	}
	return gosseract.PSM_SINGLE_BLOCK
}

// Close releases every idle client. Clients still in use are closed when
// they are released.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	for _, p := range e.pools {
		p.close()
	}
	return nil
}
