package models

import "time"

// Group is a user-defined collection of documents. A document belongs to at
// most one group. Name is unique across groups.
type Group struct {
	ID          string `gorm:"primaryKey;size:36"`
	Name        string `gorm:"uniqueIndex;not null;size:255"`
	Description string `gorm:"size:1024"`
	Color       string `gorm:"size:16"`
	Icon        string `gorm:"size:64"`
	// DocumentCount is maintained by the metadata store on membership changes.
	DocumentCount int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
