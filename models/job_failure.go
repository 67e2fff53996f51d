package models

import "time"

// JobFailure marks a queued extraction that asynq will not retry again.
type JobFailure struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time
	JobID     string `gorm:"size:64;not null;uniqueIndex"`
	FileName  string `gorm:"size:255"`
	Kind      string `gorm:"size:16"`
	Reason    string `gorm:"size:255"`
}
