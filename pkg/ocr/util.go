package ocr

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/width"
)

// snippet returns a shortened version of text for logging.
func snippet(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " | ")
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}

var textReplacer = strings.NewReplacer(
	"‘", "'", "’", "'", "′", "'", "‵", "'",
	"“", `"`, "”", `"`, "″", `"`,
	"·", ".", "•", ".", "‧", ".", "∙", ".",
	"︰", ":", "﹕", ":", "ː", ":",
	"\u200b", " ", "\u00a0", " ", "\u3000", " ", "\t", " ", "\r", "",
)

// NormalizeText canonicalizes OCR output: full-width forms become ASCII,
// typographic quotes and primes become ' and ", bullets become dots, odd
// spaces become plain spaces, and blank lines are dropped. Line breaks are
// kept because label anchoring works per line.
func NormalizeText(s string) string {
	s = textReplacer.Replace(width.Fold.String(s))
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		l = strings.Join(strings.Fields(l), " ")
		if l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

var clockReplacer = strings.NewReplacer(
	"'", ":", "’", ":", "‘", ":", "′", ":",
	"″", ":", `"`, ":", "“", ":", "”", ":",
	"：", ":", "︰", ":", "﹕", ":",
)

// NormalizeClock maps every quote, prime and colon variant to ':' and strips
// whitespace, so 6'15" and 6 : 15 both read as 6:15.
func NormalizeClock(s string) string {
	s = clockReplacer.Replace(width.Fold.String(s))
	s = strings.Join(strings.Fields(s), "")
	for strings.Contains(s, "::") {
		s = strings.ReplaceAll(s, "::", ":")
	}
	return strings.Trim(s, ":")
}

// onlyDigits extracts decimal digits from a string.
func onlyDigits(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}

// runeWindow returns s[from:to] widened so it never splits a UTF-8 sequence.
func runeWindow(s string, from, to int) string {
	if from < 0 {
		from = 0
	}
	if to > len(s) {
		to = len(s)
	}
	for from > 0 && from < len(s) && !utf8.RuneStart(s[from]) {
		from--
	}
	for to < len(s) && !utf8.RuneStart(s[to]) {
		to++
	}
	if from >= to {
		return ""
	}
	return s[from:to]
}
