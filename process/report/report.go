// Package report summarizes stored run records for a calendar month.
package report

import (
	"context"
	"fmt"
	"io"
	"time"

	"runcard/models"
	"runcard/pkg/ocr"
)

// Summary aggregates a set of records. Averages only count records that
// carry the value.
type Summary struct {
	Records      int     `json:"records"`
	TotalKM      float64 `json:"total_km"`
	TotalRuns    int     `json:"total_runs"`
	TotalSeconds int     `json:"total_seconds"`
	// AvgPaceSeconds is total time over the distance of timed records.
	AvgPaceSeconds int `json:"avg_pace_seconds"`
}

// Summarize aggregates recs.
func Summarize(recs []models.RunRecord) Summary {
	var s Summary
	var timedKM float64
	for _, r := range recs {
		s.Records++
		s.TotalKM += r.KM
		switch {
		case r.Runs != nil:
			s.TotalRuns += *r.Runs
		case r.Kind == string(ocr.KindDaily):
			s.TotalRuns++
		}
		if r.TimeSeconds != nil && r.KM > 0 {
			s.TotalSeconds += *r.TimeSeconds
			timedKM += r.KM
		}
	}
	if timedKM > 0 {
		s.AvgPaceSeconds = int(float64(s.TotalSeconds)/timedKM + 0.5)
	}
	return s
}

// MonthRange returns [start, end) in UTC for a YYYY-MM month.
func MonthRange(month string) (time.Time, time.Time, error) {
	t, err := time.Parse("2006-01", month)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid month format, expected YYYY-MM: %w", err)
	}
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0), nil
}

// Source is the slice of the store a report reads.
type Source interface {
	RecordsBetween(ctx context.Context, start, end time.Time) ([]models.RunRecord, error)
}

// Run writes the report for month to w, optionally listing every record.
func Run(ctx context.Context, src Source, month string, w io.Writer, list bool) (Summary, error) {
	start, end, err := MonthRange(month)
	if err != nil {
		return Summary{}, err
	}
	recs, err := src.RecordsBetween(ctx, start, end)
	if err != nil {
		return Summary{}, fmt.Errorf("query failed: %w", err)
	}
	s := Summarize(recs)

	fmt.Fprintf(w, "Report for month=%s (UTC):\n", month)
	fmt.Fprintf(w, "  records=%d runs=%d total_km=%.2f total_time=%s", s.Records, s.TotalRuns, s.TotalKM, ocr.FormatClock(s.TotalSeconds))
	if s.AvgPaceSeconds > 0 {
		fmt.Fprintf(w, " avg_pace=%d'%02d\"/km", s.AvgPaceSeconds/60, s.AvgPaceSeconds%60)
	}
	fmt.Fprintln(w)

	if list {
		for _, r := range recs {
			fmt.Fprintf(w, "%d|%s|%s|%.2f|%s|%s\n", r.ID, r.PublicID, r.Kind, r.KM, deref(r.TimeRaw), r.CreatedAt.Format(time.RFC3339))
		}
	}
	return s, nil
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
