// Package store persists uploads and extracted run records in Postgres.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"runcard/models"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// MaxList caps list queries.
const MaxList = 200

// Store wraps a gorm handle.
type Store struct {
	db  *gorm.DB
	log *slog.Logger
}

// Open connects to Postgres.
func Open(dsn string, log *slog.Logger) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("store: empty DSN")
	}
	if log == nil {
		log = slog.Default()
	}
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{db: gdb, log: log}, nil
}

// New wraps an existing gorm handle.
func New(gdb *gorm.DB, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{db: gdb, log: log}
}

// DB exposes the gorm handle.
func (s *Store) DB() *gorm.DB { return s.db }

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Migrate creates or updates the schema. Records go first so the uploads FK
// can be applied.
func (s *Store) Migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	if err := db.AutoMigrate(&models.RunRecord{}); err != nil {
		return fmt.Errorf("migrate run_records: %w", err)
	}
	if err := db.AutoMigrate(&models.Upload{}); err != nil {
		return fmt.Errorf("migrate uploads: %w", err)
	}
	if err := db.AutoMigrate(&models.JobFailure{}); err != nil {
		return fmt.Errorf("migrate job_failures: %w", err)
	}
	s.log.Info("schema migrated", "tables", []string{"run_records", "uploads", "job_failures"})
	return nil
}

// SaveExtraction stores rec and links up to it in one transaction. An
// upload with the same SHA256 is updated in place; a record with the same
// JobID is reused so redelivered jobs stay idempotent.
func (s *Store) SaveExtraction(ctx context.Context, up *models.Upload, rec *models.RunRecord) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if rec.JobID != nil {
			var existing models.RunRecord
			err := tx.Where("job_id = ?", *rec.JobID).First(&existing).Error
			switch {
			case err == nil:
				*rec = existing
			case errors.Is(err, gorm.ErrRecordNotFound):
			default:
				return err
			}
		}
		if rec.ID == 0 {
			if err := tx.Create(rec).Error; err != nil {
				return fmt.Errorf("create record: %w", err)
			}
		}
		if up == nil {
			return nil
		}
		up.RecordID = &rec.ID
		up.Failed, up.FailedReason = false, ""
		return s.upsertUpload(tx, up)
	})
}

// MarkFailed records that extraction of up failed.
func (s *Store) MarkFailed(ctx context.Context, up *models.Upload, reason string) error {
	up.Failed = true
	up.FailedReason = truncate(reason, 255)
	return s.upsertUpload(s.db.WithContext(ctx), up)
}

func (s *Store) upsertUpload(tx *gorm.DB, up *models.Upload) error {
	if up.ID != 0 {
		return tx.Save(up).Error
	}
	var existing models.Upload
	err := tx.Where("sha256 = ?", up.SHA256).First(&existing).Error
	if err == nil {
		up.ID, up.CreatedAt = existing.ID, existing.CreatedAt
		return tx.Save(up).Error
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	if err := tx.Create(up).Error; err != nil {
		if !isUniqueConstraintError(err) {
			return fmt.Errorf("create upload: %w", err)
		}
		s.log.Debug("upload created concurrently", "sha256", up.SHA256)
		if err2 := tx.Where("sha256 = ?", up.SHA256).First(&existing).Error; err2 != nil {
			return err2
		}
		up.ID, up.CreatedAt = existing.ID, existing.CreatedAt
		return tx.Save(up).Error
	}
	return nil
}

// FindUploadBySHA returns the upload with the given content digest.
func (s *Store) FindUploadBySHA(ctx context.Context, sha string) (*models.Upload, error) {
	var up models.Upload
	if err := s.db.WithContext(ctx).Preload("Record").Where("sha256 = ?", sha).First(&up).Error; err != nil {
		return nil, notFound(err)
	}
	return &up, nil
}

// ListUploads returns every upload, oldest first. Used to preload dedupe
// state before a batch run.
func (s *Store) ListUploads(ctx context.Context) ([]models.Upload, error) {
	var ups []models.Upload
	err := s.db.WithContext(ctx).Order("id").Find(&ups).Error
	return ups, err
}

// FailedUploads returns uploads whose extraction failed.
func (s *Store) FailedUploads(ctx context.Context) ([]models.Upload, error) {
	var ups []models.Upload
	err := s.db.WithContext(ctx).Where("failed = ?", true).Order("id").Find(&ups).Error
	return ups, err
}

// GetRecord looks a record up by its public id.
func (s *Store) GetRecord(ctx context.Context, id uuid.UUID) (*models.RunRecord, error) {
	var rec models.RunRecord
	if err := s.db.WithContext(ctx).Where("public_id = ?", id).First(&rec).Error; err != nil {
		return nil, notFound(err)
	}
	return &rec, nil
}

// RecordByJob returns the record stored for a queued job.
func (s *Store) RecordByJob(ctx context.Context, jobID string) (*models.RunRecord, error) {
	var rec models.RunRecord
	if err := s.db.WithContext(ctx).Where("job_id = ?", jobID).First(&rec).Error; err != nil {
		return nil, notFound(err)
	}
	return &rec, nil
}

// ListRecords returns the newest records, at most MaxList.
func (s *Store) ListRecords(ctx context.Context, limit int) ([]models.RunRecord, error) {
	if limit <= 0 || limit > MaxList {
		limit = MaxList
	}
	var recs []models.RunRecord
	err := s.db.WithContext(ctx).Order("id desc").Limit(limit).Find(&recs).Error
	return recs, err
}

// RecordJobFailure stores the terminal failure of a queued job. A repeated
// failure for the same job replaces the reason.
func (s *Store) RecordJobFailure(ctx context.Context, f *models.JobFailure) error {
	f.Reason = truncate(f.Reason, 255)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "job_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"reason", "updated_at"}),
	}).Create(f).Error
}

// JobFailure returns the recorded failure of a queued job.
func (s *Store) JobFailure(ctx context.Context, jobID string) (*models.JobFailure, error) {
	var f models.JobFailure
	if err := s.db.WithContext(ctx).Where("job_id = ?", jobID).First(&f).Error; err != nil {
		return nil, notFound(err)
	}
	return &f, nil
}

// RecordsBetween returns records created in [start, end), oldest first.
func (s *Store) RecordsBetween(ctx context.Context, start, end time.Time) ([]models.RunRecord, error) {
	var recs []models.RunRecord
	err := s.db.WithContext(ctx).
		Where("created_at >= ? AND created_at < ?", start, end).
		Order("id").
		Find(&recs).Error
	return recs, err
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	s := err.Error()
	return strings.Contains(s, "duplicate key") || strings.Contains(s, "unique constraint")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
