package ocr

import (
	"fmt"
	"math"
	"strings"
)

// RecordKind selects the stat-cell convention and the distance precision.
type RecordKind string

const (
	KindDaily   RecordKind = "daily"
	KindMonthly RecordKind = "monthly"
)

// ParseRecordKind accepts "daily" or "monthly" (case-insensitive). An empty
// string means daily.
func ParseRecordKind(s string) (RecordKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "daily":
		return KindDaily, nil
	case "monthly":
		return KindMonthly, nil
	}
	return "", fmt.Errorf("unknown record kind %q (want daily or monthly)", s)
}

// CellRole is the field a stat cell is believed to hold.
type CellRole int

const (
	RoleUnused CellRole = iota
	RoleRuns
	RolePace
	RoleTime
)

func (r CellRole) String() string {
	switch r {
	case RoleRuns:
		return "runs"
	case RolePace:
		return "pace"
	case RoleTime:
		return "time"
	}
	return "unused"
}

// RegionSet is one layout hypothesis for a screenshot.
type RegionSet struct {
	Name     string
	Distance ROI
	Cells    [3]ROI
	Roles    [3]CellRole
	Stats    ROI
}

// layout describes a variant in fractions of the image size.
type layout struct {
	name         string
	distTop      float64
	distHeight   float64
	distSide     float64
	bandTop      float64
	bandHeight   float64
	bandSide     float64
	digitPortion float64
}

const (
	distanceScale = 2.8
	cellScale     = 2.6
	statsScale    = 2.2
)

// layouts are tried in order; the first is the most common card arrangement.
var layouts = []layout{
	{name: "standard", distTop: 0.06, distHeight: 0.30, distSide: 0.06, bandTop: 0.47, bandHeight: 0.18, bandSide: 0.06, digitPortion: 0.55},
	{name: "tall-header", distTop: 0.08, distHeight: 0.28, distSide: 0.05, bandTop: 0.52, bandHeight: 0.18, bandSide: 0.06, digitPortion: 0.55},
	{name: "compact", distTop: 0.04, distHeight: 0.26, distSide: 0.08, bandTop: 0.43, bandHeight: 0.18, bandSide: 0.04, digitPortion: 0.55},
}

// DefaultRoles is the positional prior for the three stat cells.
func DefaultRoles(kind RecordKind) [3]CellRole {
	if kind == KindMonthly {
		return [3]CellRole{RoleRuns, RolePace, RoleTime}
	}
	return [3]CellRole{RolePace, RoleTime, RoleUnused}
}

// PlanRegions returns the layout variants for an image of the given size.
func PlanRegions(width, height int, kind RecordKind) ([]RegionSet, error) {
	if width <= 0 || height <= 0 {
		return nil, &InvalidRegionError{Region: ROI{Width: width, Height: height, Scale: 1}, Reason: "non-positive image size"}
	}
	W, H := float64(width), float64(height)
	px := func(f, total float64) int { return int(math.Round(f * total)) }

	sets := make([]RegionSet, 0, len(layouts))
	for _, l := range layouts {
		rs := RegionSet{Name: l.name, Roles: DefaultRoles(kind)}
		rs.Distance = ROI{
			X:      px(l.distSide, W),
			Y:      px(l.distTop, H),
			Width:  px(1-2*l.distSide, W),
			Height: px(l.distHeight, H),
			Scale:  distanceScale,
		}

		bandX := px(l.bandSide, W)
		bandW := px(1-2*l.bandSide, W)
		cellW := bandW / 3
		cellH := px(l.bandHeight*l.digitPortion, H)
		for i := range rs.Cells {
			rs.Cells[i] = ROI{
				X:      bandX + cellW*i,
				Y:      px(l.bandTop, H),
				Width:  cellW,
				Height: cellH,
				Scale:  cellScale,
			}
		}
		rs.Stats = ROI{
			X:      px(0.06, W),
			Y:      px(0.40, H),
			Width:  px(0.88, W),
			Height: px(0.45, H),
			Scale:  statsScale,
		}
		if err := rs.validate(); err != nil {
			return nil, err
		}
		sets = append(sets, rs)
	}
	return sets, nil
}

func (rs RegionSet) validate() error {
	all := append([]ROI{rs.Distance, rs.Stats}, rs.Cells[:]...)
	for _, r := range all {
		if r.Width <= 0 || r.Height <= 0 {
			return &InvalidRegionError{Region: r, Reason: "image too small for layout " + rs.Name}
		}
	}
	return nil
}
