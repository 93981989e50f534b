package models

import "time"

// Tag is a label attached to documents. Name is unique; UsageCount tracks
// how many documents currently carry the tag.
type Tag struct {
	ID         string `gorm:"primaryKey;size:36"`
	Name       string `gorm:"uniqueIndex;not null;size:255"`
	Color      string `gorm:"size:16"`
	UsageCount int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
