package models

import "time"

// SortOrder is the direction of a document listing sort.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// FilterQuery is a pure value object describing which documents (and by
// extension which chunks) a listing or search should consider. Every field
// is optional; an empty FilterQuery matches everything. Fields combine with
// AND semantics; values inside one multi-value field combine with OR.
//
// It is deliberately a struct of explicit optional fields rather than an
// open map so predicate evaluation stays exhaustive and checkable.
type FilterQuery struct {
	// SearchText matches against filename, title, author and tag names in
	// document listings. It is not the retrieval query.
	SearchText string `json:"search_text,omitempty"`

	Statuses  []DocumentStatus `json:"statuses,omitempty"`
	FileTypes []FileType       `json:"file_types,omitempty"`
	GroupIDs  []string         `json:"group_ids,omitempty"`
	Tags      []string         `json:"tags,omitempty"`
	Languages []string         `json:"languages,omitempty"`
	Authors   []string         `json:"authors,omitempty"`

	// DocumentIDs scopes the query to an explicit document set. Search also
	// uses it internally to carry pre-resolved tag and date constraints down
	// to the index backends.
	DocumentIDs []string `json:"document_ids,omitempty"`

	CreatedAfter  *time.Time `json:"created_after,omitempty"`
	CreatedBefore *time.Time `json:"created_before,omitempty"`
	UpdatedAfter  *time.Time `json:"updated_after,omitempty"`
	UpdatedBefore *time.Time `json:"updated_before,omitempty"`

	MinSize  *int64 `json:"min_size,omitempty"`
	MaxSize  *int64 `json:"max_size,omitempty"`
	MinPages *int   `json:"min_pages,omitempty"`
	MaxPages *int   `json:"max_pages,omitempty"`

	// Custom holds equality constraints against the free-form metadata map.
	Custom map[string]string `json:"custom,omitempty"`

	SortBy    string    `json:"sort_by,omitempty"` // created_at, updated_at, filename, size, pages, status
	SortOrder SortOrder `json:"sort_order,omitempty"`

	Page int `json:"page,omitempty"` // 1-based
	Size int `json:"size,omitempty"`
}

// IsZero reports whether no predicate field is set. Sort and pagination do
// not count as predicates.
func (f *FilterQuery) IsZero() bool {
	return f.SearchText == "" &&
		len(f.Statuses) == 0 && len(f.FileTypes) == 0 &&
		len(f.GroupIDs) == 0 && len(f.Tags) == 0 &&
		len(f.DocumentIDs) == 0 &&
		len(f.Languages) == 0 && len(f.Authors) == 0 &&
		f.CreatedAfter == nil && f.CreatedBefore == nil &&
		f.UpdatedAfter == nil && f.UpdatedBefore == nil &&
		f.MinSize == nil && f.MaxSize == nil &&
		f.MinPages == nil && f.MaxPages == nil &&
		len(f.Custom) == 0
}
