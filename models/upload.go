package models

import (
	"time"
)

// Upload is one screenshot seen by the service, whichever surface it came
// through. SHA256 makes re-submissions of the same bytes idempotent.
type Upload struct {
	ID           uint `gorm:"primaryKey"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
	FileName     string     `gorm:"size:255;not null"`
	StorePath    string     `gorm:"column:store_path;size:512"` // where the file lives after processing
	ContentType  string     `gorm:"size:128"`
	SHA256       string     `gorm:"column:sha256;size:64;not null;uniqueIndex"`
	ImageHash    string     `gorm:"size:64;index"` // perceptual hash, for near-duplicate detection
	Kind         string     `gorm:"size:16;not null"`
	RecordID     *uint      `gorm:"index"` // FK to run_records.id (nullable)
	Record       *RunRecord `gorm:"foreignKey:RecordID;constraint:OnUpdate:CASCADE,OnDelete:SET NULL;"`
	// Mark upload as failed for extraction (kept so an operator can retry)
	Failed       bool       `gorm:"default:false;index"`
	FailedReason string     `gorm:"size:255"`
}
