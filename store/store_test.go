package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"runcard/models"
	"runcard/pkg/ocr"
)

func TestIsUniqueConstraintError(t *testing.T) {
	assert.False(t, isUniqueConstraintError(nil))
	assert.True(t, isUniqueConstraintError(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})))
	assert.False(t, isUniqueConstraintError(&pgconn.PgError{Code: "23503"}))
	assert.True(t, isUniqueConstraintError(errors.New(`ERROR: duplicate key value violates unique constraint "idx_uploads_sha256"`)))
	assert.False(t, isUniqueConstraintError(errors.New("connection refused")))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abc", truncate("abcdef", 3))
	// never splits a multi-byte rune
	assert.Equal(t, "a", truncate("a거리", 3))
}

// openTestStore connects to DB_DSN. Integration tests are opt-in: set
// DB_DSN_TEST=1 and DB_DSN to run them.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	if os.Getenv("DB_DSN_TEST") != "1" {
		t.Skip("integration tests are disabled; set DB_DSN_TEST=1 to enable")
	}
	s, err := Open(os.Getenv("DB_DSN"), nil)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreFlow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var rec ocr.Record
	rec.KM = 5.24
	rec.SetPace(375)
	rec.SetTime(1965)
	rr := models.NewRunRecord(rec, ocr.KindDaily, models.SourceAPI)
	sha := strings.ReplaceAll(uuid.NewString(), "-", "")
	up := &models.Upload{FileName: "run.png", SHA256: sha, Kind: "daily"}

	require.NoError(t, s.SaveExtraction(ctx, up, &rr))
	require.NotNil(t, up.RecordID)
	assert.Equal(t, rr.ID, *up.RecordID)

	got, err := s.FindUploadBySHA(ctx, sha)
	require.NoError(t, err)
	require.NotNil(t, got.Record)
	assert.Equal(t, rr.PublicID, got.Record.PublicID)

	byID, err := s.GetRecord(ctx, rr.PublicID)
	require.NoError(t, err)
	assert.Equal(t, rec, byID.Extracted())

	// same bytes again: the upload row is reused
	again := &models.Upload{FileName: "copy.png", SHA256: sha, Kind: "daily"}
	require.NoError(t, s.MarkFailed(ctx, again, "engine unavailable"))
	assert.Equal(t, up.ID, again.ID)
	failed, err := s.FailedUploads(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, failed)

	_, err = s.GetRecord(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	recent, err := s.ListRecords(ctx, 5)
	require.NoError(t, err)
	assert.NotEmpty(t, recent)

	month, err := s.RecordsBetween(ctx, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.NotEmpty(t, month)
}

func TestSaveExtraction_JobIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	job := uuid.NewString()
	first := models.NewRunRecord(ocr.Record{KM: 3.1}, ocr.KindDaily, models.SourceQueue)
	first.JobID = &job
	require.NoError(t, s.SaveExtraction(ctx, nil, &first))

	second := models.NewRunRecord(ocr.Record{KM: 3.1}, ocr.KindDaily, models.SourceQueue)
	second.JobID = &job
	require.NoError(t, s.SaveExtraction(ctx, nil, &second))
	assert.Equal(t, first.ID, second.ID)

	got, err := s.RecordByJob(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, first.PublicID, got.PublicID)
}

func TestRecordJobFailure(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	job := uuid.NewString()
	_, err := s.JobFailure(ctx, job)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.RecordJobFailure(ctx, &models.JobFailure{JobID: job, FileName: "a.png", Kind: "daily", Reason: "decode"}))
	require.NoError(t, s.RecordJobFailure(ctx, &models.JobFailure{JobID: job, FileName: "a.png", Kind: "daily", Reason: "engine down"}))

	f, err := s.JobFailure(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, "engine down", f.Reason)
}
