package ocr

import (
	"regexp"
	"strings"
)

var (
	runsTokenRE = regexp.MustCompile(`^\d{1,3}$`)
	unitTokenRE = regexp.MustCompile(`(?i)\d\s*(?:h|m|s|시간|분|초)`)
)

// roleScore rates how much text looks like a value of role.
func roleScore(role CellRole, text string) float64 {
	t := NormalizeText(text)
	colons := strings.Count(NormalizeClock(t), ":")
	switch role {
	case RoleRuns:
		s := -3 * float64(colons)
		if runsTokenRE.MatchString(strings.ReplaceAll(t, " ", "")) {
			s += 3
		}
		return s
	case RolePace:
		s := 0.0
		c, parts, ok := ParseClock(t)
		if ok && parts == 2 {
			s += 2
			switch {
			case c.Minutes >= 2 && c.Minutes <= 20:
				s++
			case c.Minutes > 20:
				// slower than 20 min/km reads as an elapsed time
				s -= 3
			}
		}
		if strings.ContainsAny(t, `'"`) {
			s += 2
		}
		if colons == 1 {
			s++
		}
		return s
	case RoleTime:
		s := 0.25 * float64(len(onlyDigits(t)))
		if colons >= 2 {
			s += 3
		}
		if unitTokenRE.MatchString(t) {
			s += 2
		}
		if c, parts, ok := ParseClock(t); ok && parts == 2 && c.Minutes > 20 {
			s++
		}
		return s
	}
	return 0
}

// cellPermutations lists every ordering of three cells.
var cellPermutations = [6][3]int{
	{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0},
}

// AssignRoles redistributes the prior roles across the three cell texts so
// the summed rubric score is maximal. The prior wins ties, so content only
// overrides the positional convention when it clearly disagrees.
func AssignRoles(texts [3]string, prior [3]CellRole) [3]CellRole {
	best := prior
	bestScore := assignmentScore(texts, prior)
	for _, p := range cellPermutations[1:] {
		cand := [3]CellRole{prior[p[0]], prior[p[1]], prior[p[2]]}
		if s := assignmentScore(texts, cand); s > bestScore {
			best, bestScore = cand, s
		}
	}
	return best
}

func assignmentScore(texts [3]string, roles [3]CellRole) float64 {
	s := 0.0
	for i, r := range roles {
		s += roleScore(r, texts[i])
	}
	return s
}
