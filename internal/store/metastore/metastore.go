// Package metastore persists document records, groups and tags. It is the
// source of truth for document lifecycle state; chunk text and vectors live
// in their own stores keyed by document id.
package metastore

import (
	"context"

	"docqa/internal/models"
)

// Store is the metadata persistence contract.
type Store interface {
	// CreateDocument inserts a new document record, tags included.
	CreateDocument(ctx context.Context, doc *models.Document) error

	// GetDocument loads one document with its group and tags, or
	// ragerr.ErrNotFound.
	GetDocument(ctx context.Context, id string) (*models.Document, error)

	// GetByIDs loads documents in bulk. Missing ids are silently absent
	// from the result map.
	GetByIDs(ctx context.Context, ids []string) (map[string]*models.Document, error)

	// ListDocuments returns the filtered, sorted, paginated listing and the
	// total match count before pagination.
	ListDocuments(ctx context.Context, filter *models.FilterQuery) ([]*models.Document, int64, error)

	// ListDocumentIDs returns just the ids matching the filter, for
	// narrowing index queries.
	ListDocumentIDs(ctx context.Context, filter *models.FilterQuery) ([]string, error)

	// UpdateDocument saves the full record, tag associations included.
	UpdateDocument(ctx context.Context, doc *models.Document) error

	// UpdateStatus transitions the document's lifecycle state.
	UpdateStatus(ctx context.Context, id string, status models.DocumentStatus, failReason string) error

	// DeleteDocument removes the record and its tag associations.
	DeleteDocument(ctx context.Context, id string) error

	// CreateGroup inserts a group with a unique name.
	CreateGroup(ctx context.Context, group *models.Group) error

	// GetGroup loads one group or ragerr.ErrNotFound.
	GetGroup(ctx context.Context, id string) (*models.Group, error)

	// ListGroups returns all groups with live document counts.
	ListGroups(ctx context.Context) ([]*models.Group, error)

	// UpdateGroup saves a group's name, description, color and icon. The
	// name stays unique across groups.
	UpdateGroup(ctx context.Context, group *models.Group) error

	// DeleteGroup removes a group; member documents become ungrouped.
	DeleteGroup(ctx context.Context, id string) error

	// GetOrCreateTag returns the tag with the given name, creating it on
	// first use.
	GetOrCreateTag(ctx context.Context, name string) (*models.Tag, error)

	// ListTags returns all tags with usage counts.
	ListTags(ctx context.Context) ([]*models.Tag, error)

	// PopularTags returns the most used tags, most used first.
	PopularTags(ctx context.Context, limit int) ([]*models.Tag, error)

	// SearchTags returns tags whose name contains the fragment.
	SearchTags(ctx context.Context, fragment string) ([]*models.Tag, error)

	// UpdateTag renames or recolors a tag; document associations follow
	// the rename.
	UpdateTag(ctx context.Context, tag *models.Tag) error

	// DeleteTag removes a tag and its document associations.
	DeleteTag(ctx context.Context, id string) error
}
