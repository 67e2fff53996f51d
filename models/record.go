package models

import (
	"time"

	"github.com/google/uuid"

	"runcard/pkg/ocr"
)

// Record sources.
const (
	SourceAPI   = "api"
	SourceWatch = "watch"
	SourceQueue = "queue"
)

// RunRecord is a persisted extraction result. Pace and time are stored in
// seconds; the clock fields of ocr.Record are derived on the way out.
type RunRecord struct {
	ID          uint      `gorm:"primaryKey"`
	CreatedAt   time.Time `gorm:"index"`
	UpdatedAt   time.Time
	PublicID    uuid.UUID `gorm:"type:uuid;uniqueIndex;not null"`
	JobID       *string   `gorm:"size:64;uniqueIndex"`
	Kind        string    `gorm:"size:16;not null;index"`
	Source      string    `gorm:"size:16;not null"`
	KM          float64   `gorm:"column:km;not null"`
	Runs        *int
	PaceSeconds *int
	TimeSeconds *int
	TimeRaw     *string `gorm:"size:16"`
}

// NewRunRecord flattens an extraction result for storage.
func NewRunRecord(rec ocr.Record, kind ocr.RecordKind, source string) RunRecord {
	rr := RunRecord{
		PublicID: uuid.New(),
		Kind:     string(kind),
		Source:   source,
		KM:       rec.KM,
		Runs:     rec.Runs,
		TimeRaw:  rec.TimeRaw,
	}
	if sec, ok := rec.PaceSeconds(); ok {
		rr.PaceSeconds = &sec
	}
	if sec, ok := rec.TimeSeconds(); ok {
		rr.TimeSeconds = &sec
	}
	return rr
}

// Extracted rebuilds the ocr.Record shape from the stored columns.
func (r RunRecord) Extracted() ocr.Record {
	rec := ocr.Record{KM: r.KM}
	if r.Runs != nil {
		rec.SetRuns(*r.Runs)
	}
	if r.PaceSeconds != nil {
		rec.SetPace(*r.PaceSeconds)
	}
	if r.TimeSeconds != nil {
		rec.SetTime(*r.TimeSeconds)
	}
	return rec
}
