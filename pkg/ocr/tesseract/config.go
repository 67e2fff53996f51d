// Package tesseract adapts gosseract to the ocr.Engine interface. Build with
// -tags notesseract to drop the cgo dependency; the factory then always fails
// with an engine init error.
package tesseract

import "strings"

// Config configures the client pools.
type Config struct {
	// Languages are probed at startup; every set used later must be
	// installed.
	Languages      []string
	TessdataPrefix string
	// PoolSize bounds the clients per language set.
	PoolSize int
}

// Size is the effective pool size per language set.
func (c Config) Size() int {
	if c.PoolSize <= 0 {
		return 2
	}
	return c.PoolSize
}

func langKey(langs []string) string {
	if len(langs) == 0 {
		return "eng"
	}
	return strings.Join(langs, "+")
}
