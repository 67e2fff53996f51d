package ocr

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Clock is a parsed h:mm:ss or mm:ss reading.
type Clock struct {
	Hours   int
	Minutes int
	Seconds int
}

// TotalSeconds returns the clock as a duration in seconds.
func (c Clock) TotalSeconds() int {
	return c.Hours*3600 + c.Minutes*60 + c.Seconds
}

// String renders the clock the way running apps do.
func (c Clock) String() string {
	return FormatClock(c.TotalSeconds())
}

// ClockFromSeconds splits a duration into hours, minutes and seconds.
func ClockFromSeconds(total int) Clock {
	if total < 0 {
		total = 0
	}
	return Clock{Hours: total / 3600, Minutes: total % 3600 / 60, Seconds: total % 60}
}

// FormatClock renders seconds as "H:MM:SS" when at least an hour, else "M:SS".
func FormatClock(total int) string {
	c := ClockFromSeconds(total)
	if c.Hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", c.Hours, c.Minutes, c.Seconds)
	}
	return fmt.Sprintf("%d:%02d", c.Minutes, c.Seconds)
}

var (
	clockHMS = regexp.MustCompile(`^(\d{1,2}):(\d{2}):(\d{2})$`)
	clockMS  = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)
)

// ParseClock parses a cell reading such as 6'15", 32:45 or 1:02:03. The input
// is passed through NormalizeClock first. parts reports whether the reading had
// two or three fields.
func ParseClock(s string) (c Clock, parts int, ok bool) {
	s = NormalizeClock(s)
	if m := clockHMS.FindStringSubmatch(s); m != nil {
		c = Clock{Hours: atoi(m[1]), Minutes: atoi(m[2]), Seconds: atoi(m[3])}
		if c.Minutes > 59 || c.Seconds > 59 {
			return Clock{}, 0, false
		}
		return c, 3, true
	}
	if m := clockMS.FindStringSubmatch(s); m != nil {
		c = Clock{Minutes: atoi(m[1]), Seconds: atoi(m[2])}
		if c.Seconds > 59 {
			return Clock{}, 0, false
		}
		return c, 2, true
	}
	return Clock{}, 0, false
}

// parseDecimal reads "5.24" or "5,24" and reports the fractional digit count.
func parseDecimal(s string) (float64, int, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	dec := 0
	if i := strings.IndexByte(s, '.'); i >= 0 {
		dec = len(s) - i - 1
	}
	return v, dec, nil
}

// atoi is for regexp groups that are known to hold only digits.
func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
