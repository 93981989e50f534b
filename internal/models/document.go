package models

import (
	"time"

	"gorm.io/datatypes"
)

// DocumentStatus is the lifecycle state of a document.
type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	// StatusCompletedWithWarnings marks a pass where some chunks were
	// dropped (embedding failures below the configured threshold).
	StatusCompletedWithWarnings DocumentStatus = "completed_with_warnings"
	StatusFailed                DocumentStatus = "failed"
)

// Searchable reports whether chunks committed under this status may be
// returned by queries.
func (s DocumentStatus) Searchable() bool {
	return s == StatusCompleted || s == StatusCompletedWithWarnings
}

// FileType is the declared kind of an uploaded document.
type FileType string

const (
	FileTypePDF  FileType = "pdf"
	FileTypeDocx FileType = "docx"
	FileTypeXlsx FileType = "xlsx"
	FileTypeTxt  FileType = "txt"
	FileTypeMd   FileType = "md"
	FileTypeHTML FileType = "html"
)

// SupportedFileTypes lists every file type the extractor registry handles.
var SupportedFileTypes = []FileType{
	FileTypePDF, FileTypeDocx, FileTypeXlsx, FileTypeTxt, FileTypeMd, FileTypeHTML,
}

// Document is the persistent record of an uploaded document. It is created
// on upload and mutated only by the ingestion orchestrator; search never
// writes to it.
type Document struct {
	ID        string         `gorm:"primaryKey;size:36"`
	Filename  string         `gorm:"not null;size:512"`
	FileType  FileType       `gorm:"not null;size:16;index"`
	Status    DocumentStatus `gorm:"not null;size:32;index"`
	Size      int64          `gorm:"not null"`
	// ChunkCount equals the number of live chunks after a completed pass.
	ChunkCount int
	// FailReason records the error that moved the document to failed.
	FailReason string `gorm:"size:1024"`
	// DroppedChunks lists ordinals dropped by a completed-with-warnings pass.
	DroppedChunks datatypes.JSONSlice[int]
	// ObjectKey locates the raw source bytes in object storage.
	ObjectKey string `gorm:"size:512"`

	GroupID *string `gorm:"size:36;index"`
	Group   *Group
	Tags    []Tag `gorm:"many2many:document_tags;"`

	Pages    int
	Words    int
	Language string `gorm:"size:16"`
	Author   string `gorm:"size:255"`
	Title    string `gorm:"size:512"`
	// Metadata is the free-form user-supplied metadata map.
	Metadata datatypes.JSONMap

	CreatedAt time.Time `gorm:"index"`
	UpdatedAt time.Time
}

// TagNames returns the document's tag names in declaration order.
func (d *Document) TagNames() []string {
	names := make([]string, len(d.Tags))
	for i, tag := range d.Tags {
		names[i] = tag.Name
	}
	return names
}
