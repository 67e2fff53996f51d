package ocr

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestParseClock(t *testing.T) {
	cases := []struct {
		in    string
		want  Clock
		parts int
		ok    bool
	}{
		{"6:15", Clock{Minutes: 6, Seconds: 15}, 2, true},
		{"6'15\"", Clock{Minutes: 6, Seconds: 15}, 2, true},
		{"6 ’ 15 ″", Clock{Minutes: 6, Seconds: 15}, 2, true},
		{"32：45", Clock{Minutes: 32, Seconds: 45}, 2, true},
		{"1:02:03", Clock{Hours: 1, Minutes: 2, Seconds: 3}, 3, true},
		{"6:75", Clock{}, 0, false},
		{"1:60:00", Clock{}, 0, false},
		{"615", Clock{}, 0, false},
		{"", Clock{}, 0, false},
	}
	for _, c := range cases {
		got, parts, ok := ParseClock(c.in)
		assert.Equal(t, c.ok, ok, c.in)
		assert.Equal(t, c.parts, parts, c.in)
		assert.Equal(t, c.want, got, c.in)
	}
}

func TestFormatClock(t *testing.T) {
	assert.Equal(t, "32:45", FormatClock(32*60+45))
	assert.Equal(t, "1:02:03", FormatClock(3723))
	assert.Equal(t, "0:00", FormatClock(0))
}

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "6'15\" /km", NormalizeText("6’15” /km"))
	assert.Equal(t, "32:45", NormalizeText("３２：４５"))
	assert.Equal(t, "a b\nc", NormalizeText("a  b\n\n  c  "))
	assert.Equal(t, "5.24", NormalizeText("5•24"))
}

func TestParseDecimal(t *testing.T) {
	v, dec, err := parseDecimal("5,24")
	assert.NoError(t, err)
	assert.Equal(t, 5.24, v)
	assert.Equal(t, 2, dec)

	_, _, err = parseDecimal("x")
	assert.Error(t, err)
}

func TestNormalization_Idempotent(t *testing.T) {
	properties := gopter.NewProperties(nil)
	alphabet := []rune{'1', '5', ':', '\'', '"', '’', '″', '：', '·', ' ', '\u00a0', '\n', 'k', 'm', '３'}
	text := gen.SliceOf(gen.IntRange(0, len(alphabet)-1)).Map(func(idx []int) string {
		out := make([]rune, 0, len(idx))
		for _, i := range idx {
			out = append(out, alphabet[i])
		}
		return string(out)
	})

	properties.Property("NormalizeText is idempotent", prop.ForAll(
		func(s string) bool {
			once := NormalizeText(s)
			return NormalizeText(once) == once
		},
		text,
	))
	properties.Property("NormalizeClock is idempotent", prop.ForAll(
		func(s string) bool {
			once := NormalizeClock(s)
			return NormalizeClock(once) == once
		},
		text,
	))
	properties.TestingRun(t)
}

func TestClock_RoundTrip(t *testing.T) {
	properties := gopter.NewProperties(nil)
	properties.Property("FormatClock then ParseClock returns the same seconds", prop.ForAll(
		func(sec int) bool {
			c, _, ok := ParseClock(FormatClock(sec))
			return ok && c.TotalSeconds() == sec
		},
		gen.IntRange(0, 99*3600+59*60+59),
	))
	properties.TestingRun(t)
}
