package ocr

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
)

// Candidate carries the provenance shared by every candidate kind.
type Candidate struct {
	Source string  `json:"source"`
	Score  float64 `json:"score"`
}

// DistanceCandidate is one distance reading with its displayed precision.
type DistanceCandidate struct {
	Candidate
	Value    float64 `json:"value"`
	Decimals int     `json:"decimals"`
}

// PaceCandidate is a per-km pace reading.
type PaceCandidate struct {
	Candidate
	Minutes int `json:"minutes"`
	Seconds int `json:"seconds"`
}

// TotalSeconds returns the pace in seconds per km.
func (p PaceCandidate) TotalSeconds() int { return p.Minutes*60 + p.Seconds }

// TimeCandidate is an elapsed-time reading. HasHours is false for mm:ss forms.
type TimeCandidate struct {
	Candidate
	Clock
	HasHours bool `json:"has_hours"`
}

// RunsCandidate is a run-count reading.
type RunsCandidate struct {
	Candidate
	Count int `json:"count"`
}

var distanceRE = regexp.MustCompile(`\b\d{1,3}[.,]\d{1,2}\b`)

// DistancesFromText returns every decimal-looking number (up to three integer
// and two fractional digits) in text. Each gets score base.
func DistancesFromText(text, source string, base float64) []DistanceCandidate {
	var out []DistanceCandidate
	for _, m := range distanceRE.FindAllString(NormalizeText(text), -1) {
		v, dec, err := parseDecimal(m)
		if err != nil {
			continue
		}
		out = append(out, DistanceCandidate{
			Candidate: Candidate{Source: source, Score: base},
			Value:     v,
			Decimals:  dec,
		})
	}
	return out
}

var numericWordRE = regexp.MustCompile(`^[0-9.,]+$`)

type wordLine struct {
	texts []string
	maxH  int
	y     float64
}

// DistancesFromWords groups words into lines and reads distances from the
// topmost lines, favoring tall glyphs: each candidate scores base plus the
// tallest word height on its line. Numeric-only words are also read
// concatenated so "5" "." "24" split by the engine still yields 5.24; a line
// that concatenates to its own text is read once.
func DistancesFromWords(words []Word, source string, base float64, topLines int) []DistanceCandidate {
	if len(words) == 0 {
		return nil
	}
	byID := make(map[string]*wordLine)
	var order []*wordLine
	for _, w := range words {
		mid := float64(w.Box.Min.Y+w.Box.Max.Y) / 2
		id := w.LineID
		if id == "" {
			id = fmt.Sprintf("y%d", int(math.Round(mid)))
		}
		l, ok := byID[id]
		if !ok {
			l = &wordLine{y: math.Inf(1)}
			byID[id] = l
			order = append(order, l)
		}
		l.texts = append(l.texts, strings.TrimSpace(w.Text))
		if h := w.Box.Dy(); h > l.maxH {
			l.maxH = h
		}
		l.y = math.Min(l.y, mid)
	}
	sort.SliceStable(order, func(i, j int) bool {
		if order[i].y != order[j].y {
			return order[i].y < order[j].y
		}
		return order[i].maxH > order[j].maxH
	})
	if topLines > 0 && len(order) > topLines {
		order = order[:topLines]
	}

	var out []DistanceCandidate
	for _, l := range order {
		var nums []string
		for _, t := range l.texts {
			if numericWordRE.MatchString(t) {
				nums = append(nums, t)
			}
		}
		score := base + float64(l.maxH)
		spaced := strings.Join(l.texts, " ")
		out = append(out, DistancesFromText(spaced, source, score)...)
		if joined := strings.Join(nums, ""); joined != spaced {
			out = append(out, DistancesFromText(joined, source, score)...)
		}
	}
	return out
}

var (
	distanceLabelRE = regexp.MustCompile(`(?i)킬로미터|kilometers?|distance|거리`)
	twoDecimalRE    = regexp.MustCompile(`(\d{1,3})\s*[.,]\s*(\d{2})\b`)
	oneDecimalRE    = regexp.MustCompile(`(\d{1,3})\s*[.,]\s*(\d)\b`)
	integerRE       = regexp.MustCompile(`\b(\d{1,3})\b`)
)

// distanceLabelLookback is how many bytes before a distance label are searched.
const distanceLabelLookback = 60

// DistanceNearLabel reads a distance from the text just before a
// kilometer/distance label, preferring two decimals, then one, then an integer.
func DistanceNearLabel(text string) (DistanceCandidate, bool) {
	t := NormalizeText(text)
	loc := distanceLabelRE.FindStringIndex(t)
	if loc == nil {
		return DistanceCandidate{}, false
	}
	before := runeWindow(t, loc[0]-distanceLabelLookback, loc[0])
	cand := DistanceCandidate{Candidate: Candidate{Source: "aux-label"}}
	switch {
	case twoDecimalRE.MatchString(before):
		m := twoDecimalRE.FindStringSubmatch(before)
		cand.Value, cand.Decimals, _ = parseDecimal(m[1] + "." + m[2])
	case oneDecimalRE.MatchString(before):
		m := oneDecimalRE.FindStringSubmatch(before)
		cand.Value, cand.Decimals, _ = parseDecimal(m[1] + "." + m[2])
	case integerRE.MatchString(before):
		cand.Value = float64(atoi(integerRE.FindStringSubmatch(before)[1]))
	default:
		return DistanceCandidate{}, false
	}
	return cand, true
}

var (
	paceLabelREs = []*regexp.Regexp{
		regexp.MustCompile(`(?i)avg\.?\s*pace`),
		regexp.MustCompile(`(?i)average\s*pace`),
		regexp.MustCompile(`(?i)\bpace\b`),
		regexp.MustCompile(`평균\s*페이스`),
		regexp.MustCompile(`페이스`),
	}
	pacePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(\d{1,2})\s*'\s*(\d{2})`),
		regexp.MustCompile(`(\d{1,2})\s*:\s*(\d{2})\s*/?\s*km`),
		regexp.MustCompile(`(\d{1,2})\s*분\s*(\d{1,2})\s*초`),
		regexp.MustCompile(`\b(\d{1,2})\s*:\s*(\d{2})\b`),
	}
)

const (
	labelLookback  = 20
	labelLookahead = 120
	perKMLookback  = 40
)

// PaceFromText finds a pace near a pace label (or a "/km" unit) in free text.
func PaceFromText(text string) (PaceCandidate, bool) {
	t := NormalizeText(text)
	scope := t
	if idx := firstLabel(t, paceLabelREs); idx >= 0 {
		scope = runeWindow(t, idx-labelLookback, idx+labelLookahead)
	} else if idx := strings.Index(t, "/km"); idx >= 0 {
		scope = runeWindow(t, idx-perKMLookback-labelLookback, idx-perKMLookback+labelLookahead)
	}
	for _, re := range pacePatterns {
		m := re.FindStringSubmatch(scope)
		if m == nil {
			continue
		}
		p := PaceCandidate{Candidate: Candidate{Source: "text"}, Minutes: atoi(m[1]), Seconds: atoi(m[2])}
		if p.Seconds > 59 {
			continue
		}
		return p, true
	}
	return PaceCandidate{}, false
}

// PaceFromCell parses a single stat cell as mm:ss.
func PaceFromCell(text string) (PaceCandidate, bool) {
	c, parts, ok := ParseClock(text)
	if !ok || parts != 2 {
		return PaceCandidate{}, false
	}
	return PaceCandidate{Candidate: Candidate{Source: "cell"}, Minutes: c.Minutes, Seconds: c.Seconds}, true
}

var (
	timeLabelREs = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\btime\b`),
		regexp.MustCompile(`(?i)elapsed`),
		regexp.MustCompile(`(?i)duration`),
		regexp.MustCompile(`총?\s*시간`),
	}
	timeHMSRE     = regexp.MustCompile(`\b(\d{1,2})\s*:\s*(\d{2})\s*:\s*(\d{2})\b`)
	timeMSRE      = regexp.MustCompile(`\b(\d{1,2})\s*:\s*(\d{2})\b`)
	timeSpelledRE = regexp.MustCompile(`(?i)(?:(\d{1,2})\s*(?:h|hr|시간)\s*)?(\d{1,2})\s*(?:m|min|분)\s*(?:(\d{1,2})\s*(?:s|sec|초))?`)
)

// TimeFromText finds an elapsed time near a time label in free text. Colon
// forms win; "1h 02m 03s" style spellings are the fallback.
func TimeFromText(text string) (TimeCandidate, bool) {
	t := NormalizeText(text)
	scope := t
	labeled := false
	if idx := firstLabel(t, timeLabelREs); idx >= 0 {
		scope = runeWindow(t, idx-labelLookback, idx+labelLookahead)
		labeled = true
	}
	for _, m := range timeHMSRE.FindAllStringSubmatch(scope, -1) {
		c := Clock{Hours: atoi(m[1]), Minutes: atoi(m[2]), Seconds: atoi(m[3])}
		if c.Minutes < 60 && c.Seconds < 60 {
			return TimeCandidate{Candidate: Candidate{Source: "text"}, Clock: c, HasHours: true}, true
		}
	}

	// Without a label the first mm:ss is as likely to be the pace as the
	// time, so take the longest.
	var best *TimeCandidate
	for _, m := range timeMSRE.FindAllStringSubmatch(scope, -1) {
		c := Clock{Minutes: atoi(m[1]), Seconds: atoi(m[2])}
		if c.Seconds > 59 {
			continue
		}
		if best == nil || (!labeled && c.TotalSeconds() > best.TotalSeconds()) {
			best = &TimeCandidate{Candidate: Candidate{Source: "text"}, Clock: c}
		}
		if labeled {
			break
		}
	}
	if best != nil {
		return *best, true
	}
	return timeSpelled(scope)
}

func timeSpelled(s string) (TimeCandidate, bool) {
	m := timeSpelledRE.FindStringSubmatch(s)
	if m == nil {
		return TimeCandidate{}, false
	}
	c := Clock{Hours: atoi(m[1]), Minutes: atoi(m[2]), Seconds: atoi(m[3])}
	if c.Minutes > 59 || c.Seconds > 59 {
		return TimeCandidate{}, false
	}
	return TimeCandidate{Candidate: Candidate{Source: "text-spelled"}, Clock: c, HasHours: m[1] != ""}, true
}

// TimeFromCell parses a single stat cell as h:mm:ss or mm:ss, falling back to
// spelled-out units.
func TimeFromCell(text string) (TimeCandidate, bool) {
	if c, parts, ok := ParseClock(text); ok {
		return TimeCandidate{Candidate: Candidate{Source: "cell"}, Clock: c, HasHours: parts == 3}, true
	}
	if tc, ok := timeSpelled(NormalizeText(text)); ok {
		tc.Source = "cell"
		return tc, true
	}
	return TimeCandidate{}, false
}

var (
	runsLabelRE = regexp.MustCompile(`(?i)^(?:runs?\b|러닝)`)
	bareCountRE = regexp.MustCompile(`^\s*(\d{1,3})\s*$`)
	paceTokenRE = regexp.MustCompile(`\d{1,2}\s*[:'분]\s*\d{2}`)
)

// RunsFromCell parses a stat cell holding only a count.
func RunsFromCell(text string) (RunsCandidate, bool) {
	m := bareCountRE.FindStringSubmatch(NormalizeText(text))
	if m == nil {
		return RunsCandidate{}, false
	}
	return RunsCandidate{Candidate: Candidate{Source: "cell"}, Count: atoi(m[1])}, true
}

// RunsNearLabel looks for a "Runs"/"러닝" line and takes the bare number on
// the previous line, the next line or the label line itself, in that order.
func RunsNearLabel(text string) (RunsCandidate, bool) {
	lines := strings.Split(NormalizeText(text), "\n")
	for i, l := range lines {
		if !runsLabelRE.MatchString(l) {
			continue
		}
		var prev, next string
		if i > 0 {
			prev = lines[i-1]
		}
		if i+1 < len(lines) {
			next = lines[i+1]
		}
		if m := bareCountRE.FindStringSubmatch(prev); m != nil {
			return RunsCandidate{Candidate: Candidate{Source: "text-label"}, Count: atoi(m[1])}, true
		}
		if m := bareCountRE.FindStringSubmatch(next); m != nil {
			return RunsCandidate{Candidate: Candidate{Source: "text-label"}, Count: atoi(m[1])}, true
		}
		if m := integerRE.FindStringSubmatch(l); m != nil {
			return RunsCandidate{Candidate: Candidate{Source: "text-label"}, Count: atoi(m[1])}, true
		}
	}
	return RunsCandidate{}, false
}

// RunsBeforePace takes the last small integer that precedes the first
// pace-like token. It is the weakest runs heuristic.
func RunsBeforePace(text string) (RunsCandidate, bool) {
	t := NormalizeText(text)
	scope := t
	if loc := paceTokenRE.FindStringIndex(t); loc != nil && loc[0] > 0 {
		scope = t[:loc[0]]
	}
	all := integerRE.FindAllString(scope, -1)
	if len(all) == 0 {
		return RunsCandidate{}, false
	}
	return RunsCandidate{Candidate: Candidate{Source: "text-before-pace"}, Count: atoi(all[len(all)-1])}, true
}

var runsAnchorRE = regexp.MustCompile(`(?i)^(?:runs?|러닝)$`)

// RunsFromWords reads the number nearest to each "Runs" word on the same
// line and returns the median of those picks.
func RunsFromWords(words []Word) (RunsCandidate, bool) {
	var picks []int
	for _, a := range words {
		if !runsAnchorRE.MatchString(strings.TrimSpace(a.Text)) {
			continue
		}
		bestDX := math.MaxInt
		pick := -1
		for _, w := range words {
			if w.LineID != a.LineID {
				continue
			}
			m := bareCountRE.FindStringSubmatch(w.Text)
			if m == nil {
				continue
			}
			dx := w.Box.Min.X - a.Box.Max.X
			if dx < 0 {
				dx = -dx
			}
			if dx < bestDX {
				bestDX, pick = dx, atoi(m[1])
			}
		}
		if pick >= 0 {
			picks = append(picks, pick)
		}
	}
	if len(picks) == 0 {
		return RunsCandidate{}, false
	}
	sort.Ints(picks)
	return RunsCandidate{Candidate: Candidate{Source: "words-anchor"}, Count: picks[len(picks)/2]}, true
}

func firstLabel(t string, res []*regexp.Regexp) int {
	for _, re := range res {
		if loc := re.FindStringIndex(t); loc != nil {
			return loc[0]
		}
	}
	return -1
}
