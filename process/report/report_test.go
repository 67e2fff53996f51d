package report

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"runcard/models"
)

func ptr[T any](v T) *T { return &v }

type fakeSource struct {
	recs       []models.RunRecord
	err        error
	start, end time.Time
}

func (f *fakeSource) RecordsBetween(ctx context.Context, start, end time.Time) ([]models.RunRecord, error) {
	f.start, f.end = start, end
	return f.recs, f.err
}

func TestSummarize(t *testing.T) {
	recs := []models.RunRecord{
		{Kind: "daily", KM: 5, TimeSeconds: ptr(1500)},
		{Kind: "daily", KM: 10, TimeSeconds: ptr(3300)},
		{Kind: "daily", KM: 3.2},
		{Kind: "monthly", KM: 80.5, Runs: ptr(12)},
	}
	s := Summarize(recs)
	assert.Equal(t, 4, s.Records)
	assert.InDelta(t, 98.7, s.TotalKM, 1e-9)
	assert.Equal(t, 15, s.TotalRuns)
	assert.Equal(t, 4800, s.TotalSeconds)
	assert.Equal(t, 320, s.AvgPaceSeconds)
}

func TestSummarize_Empty(t *testing.T) {
	assert.Equal(t, Summary{}, Summarize(nil))
}

func TestMonthRange(t *testing.T) {
	start, end, err := MonthRange("2024-12")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), end)

	_, _, err = MonthRange("12/2024")
	assert.Error(t, err)
}

func TestRun(t *testing.T) {
	created := time.Date(2024, 3, 4, 7, 0, 0, 0, time.UTC)
	src := &fakeSource{recs: []models.RunRecord{
		{ID: 1, Kind: "daily", KM: 5.02, TimeSeconds: ptr(1712), TimeRaw: ptr("28:32"), CreatedAt: created},
	}}
	var buf bytes.Buffer
	s, err := Run(context.Background(), src, "2024-03", &buf, true)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Records)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), src.start)

	out := buf.String()
	assert.Contains(t, out, "records=1 runs=1 total_km=5.02 total_time=28:32")
	assert.Contains(t, out, `avg_pace=5'41"/km`)
	assert.Contains(t, out, "|daily|5.02|28:32|2024-03-04T07:00:00Z")
}

func TestRun_Errors(t *testing.T) {
	var buf bytes.Buffer
	_, err := Run(context.Background(), &fakeSource{}, "march", &buf, false)
	assert.Error(t, err)

	_, err = Run(context.Background(), &fakeSource{err: errors.New("boom")}, "2024-03", &buf, false)
	assert.ErrorContains(t, err, "boom")
	assert.Empty(t, buf.String())
}
