package metastore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"docqa/internal/models"
	"docqa/internal/rag/ragerr"
)

// GormStore implements Store on a relational database through GORM.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an open connection and migrates the schema.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&models.Group{}, &models.Tag{}, &models.Document{}); err != nil {
		return nil, fmt.Errorf("migrate metadata schema: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if err := s.db.WithContext(ctx).Create(doc).Error; err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	return s.refreshCounts(ctx, doc)
}

func (s *GormStore) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document
	err := s.db.WithContext(ctx).Preload("Group").Preload("Tags").First(&doc, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("document %s: %w", id, ragerr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return &doc, nil
}

func (s *GormStore) GetByIDs(ctx context.Context, ids []string) (map[string]*models.Document, error) {
	if len(ids) == 0 {
		return map[string]*models.Document{}, nil
	}
	var docs []*models.Document
	if err := s.db.WithContext(ctx).Preload("Tags").Where("id IN ?", ids).Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("get documents: %w", err)
	}
	out := make(map[string]*models.Document, len(docs))
	for _, doc := range docs {
		out[doc.ID] = doc
	}
	return out, nil
}

func (s *GormStore) ListDocuments(ctx context.Context, filter *models.FilterQuery) ([]*models.Document, int64, error) {
	query := s.buildListQuery(ctx, filter)

	var total int64
	if err := query.Model(&models.Document{}).Distinct("documents.id").Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count documents: %w", err)
	}

	query = applySort(query, filter)
	query = applyPagination(query, filter)

	var docs []*models.Document
	if err := query.Preload("Group").Preload("Tags").Find(&docs).Error; err != nil {
		return nil, 0, fmt.Errorf("list documents: %w", err)
	}
	return docs, total, nil
}

func (s *GormStore) ListDocumentIDs(ctx context.Context, filter *models.FilterQuery) ([]string, error) {
	var ids []string
	query := s.buildListQuery(ctx, filter)
	if err := query.Model(&models.Document{}).Distinct("documents.id").Pluck("documents.id", &ids).Error; err != nil {
		return nil, fmt.Errorf("list document ids: %w", err)
	}
	return ids, nil
}

// buildListQuery translates a FilterQuery into SQL predicates. The listing
// path evaluates everything in the database, unlike retrieval where only
// part of the filter pushes down.
func (s *GormStore) buildListQuery(ctx context.Context, filter *models.FilterQuery) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.Document{})
	if filter == nil {
		return query
	}

	if filter.SearchText != "" {
		pattern := "%" + filter.SearchText + "%"
		query = query.Where(
			s.db.Where("documents.filename LIKE ?", pattern).
				Or("documents.title LIKE ?", pattern).
				Or("documents.author LIKE ?", pattern).
				Or("documents.id IN (?)", s.tagDocumentIDs(pattern)),
		)
	}
	if len(filter.Statuses) > 0 {
		query = query.Where("documents.status IN ?", filter.Statuses)
	}
	if len(filter.FileTypes) > 0 {
		query = query.Where("documents.file_type IN ?", filter.FileTypes)
	}
	if len(filter.GroupIDs) > 0 {
		query = query.Where("documents.group_id IN ?", filter.GroupIDs)
	}
	if len(filter.DocumentIDs) > 0 {
		query = query.Where("documents.id IN ?", filter.DocumentIDs)
	}
	if len(filter.Tags) > 0 {
		query = query.Where("documents.id IN (?)", s.db.
			Table("document_tags").
			Select("document_tags.document_id").
			Joins("JOIN tags ON tags.id = document_tags.tag_id").
			Where("tags.name IN ?", filter.Tags))
	}
	if len(filter.Languages) > 0 {
		query = query.Where("documents.language IN ?", filter.Languages)
	}
	if len(filter.Authors) > 0 {
		query = query.Where("documents.author IN ?", filter.Authors)
	}
	if filter.CreatedAfter != nil {
		query = query.Where("documents.created_at >= ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		query = query.Where("documents.created_at <= ?", *filter.CreatedBefore)
	}
	if filter.UpdatedAfter != nil {
		query = query.Where("documents.updated_at >= ?", *filter.UpdatedAfter)
	}
	if filter.UpdatedBefore != nil {
		query = query.Where("documents.updated_at <= ?", *filter.UpdatedBefore)
	}
	if filter.MinSize != nil {
		query = query.Where("documents.size >= ?", *filter.MinSize)
	}
	if filter.MaxSize != nil {
		query = query.Where("documents.size <= ?", *filter.MaxSize)
	}
	if filter.MinPages != nil {
		query = query.Where("documents.pages >= ?", *filter.MinPages)
	}
	if filter.MaxPages != nil {
		query = query.Where("documents.pages <= ?", *filter.MaxPages)
	}
	for key, value := range filter.Custom {
		query = query.Where(datatypes.JSONQuery("metadata").Equals(value, key))
	}
	return query
}

func (s *GormStore) tagDocumentIDs(pattern string) *gorm.DB {
	return s.db.Table("document_tags").
		Select("document_tags.document_id").
		Joins("JOIN tags ON tags.id = document_tags.tag_id").
		Where("tags.name LIKE ?", pattern)
}

// sortColumns whitelists sortable fields so API input never reaches SQL as
// an identifier.
var sortColumns = map[string]string{
	"created_at": "documents.created_at",
	"updated_at": "documents.updated_at",
	"filename":   "documents.filename",
	"size":       "documents.size",
	"pages":      "documents.pages",
	"status":     "documents.status",
}

func applySort(query *gorm.DB, filter *models.FilterQuery) *gorm.DB {
	column := "documents.created_at"
	order := "DESC"
	if filter != nil {
		if c, ok := sortColumns[filter.SortBy]; ok {
			column = c
		}
		if filter.SortOrder == models.SortAsc {
			order = "ASC"
		}
	}
	return query.Order(column + " " + order)
}

func applyPagination(query *gorm.DB, filter *models.FilterQuery) *gorm.DB {
	if filter == nil || filter.Size <= 0 {
		return query
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	return query.Offset((page - 1) * filter.Size).Limit(filter.Size)
}

func (s *GormStore) UpdateDocument(ctx context.Context, doc *models.Document) error {
	tx := s.db.WithContext(ctx)
	if err := tx.Model(doc).Association("Tags").Replace(doc.Tags); err != nil {
		return fmt.Errorf("replace document tags: %w", err)
	}
	if err := tx.Save(doc).Error; err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	return s.refreshCounts(ctx, doc)
}

func (s *GormStore) UpdateStatus(ctx context.Context, id string, status models.DocumentStatus, failReason string) error {
	res := s.db.WithContext(ctx).Model(&models.Document{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"status": status, "fail_reason": failReason})
	if res.Error != nil {
		return fmt.Errorf("update status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("document %s: %w", id, ragerr.ErrNotFound)
	}
	return nil
}

func (s *GormStore) DeleteDocument(ctx context.Context, id string) error {
	doc, err := s.GetDocument(ctx, id)
	if err != nil {
		return err
	}
	tx := s.db.WithContext(ctx)
	if err := tx.Model(doc).Association("Tags").Clear(); err != nil {
		return fmt.Errorf("clear document tags: %w", err)
	}
	if err := tx.Delete(doc).Error; err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return s.refreshCounts(ctx, doc)
}

// refreshCounts recomputes the denormalized group and tag counters touched
// by a document mutation. Recomputing from the associations avoids drift
// that incremental counters accumulate.
func (s *GormStore) refreshCounts(ctx context.Context, doc *models.Document) error {
	tx := s.db.WithContext(ctx)
	if doc.GroupID != nil {
		err := tx.Model(&models.Group{}).Where("id = ?", *doc.GroupID).
			Update("document_count", tx.Model(&models.Document{}).
				Select("COUNT(*)").Where("group_id = ?", *doc.GroupID)).Error
		if err != nil {
			return fmt.Errorf("refresh group count: %w", err)
		}
	}
	for _, tag := range doc.Tags {
		err := tx.Model(&models.Tag{}).Where("id = ?", tag.ID).
			Update("usage_count", tx.Table("document_tags").
				Select("COUNT(*)").Where("tag_id = ?", tag.ID)).Error
		if err != nil {
			return fmt.Errorf("refresh tag count: %w", err)
		}
	}
	return nil
}

func (s *GormStore) CreateGroup(ctx context.Context, group *models.Group) error {
	if group.ID == "" {
		group.ID = uuid.New().String()
	}
	if err := s.db.WithContext(ctx).Create(group).Error; err != nil {
		return fmt.Errorf("create group: %w", err)
	}
	return nil
}

func (s *GormStore) GetGroup(ctx context.Context, id string) (*models.Group, error) {
	var group models.Group
	err := s.db.WithContext(ctx).First(&group, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("group %s: %w", id, ragerr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get group: %w", err)
	}
	return &group, nil
}

func (s *GormStore) ListGroups(ctx context.Context) ([]*models.Group, error) {
	var groups []*models.Group
	if err := s.db.WithContext(ctx).Order("name").Find(&groups).Error; err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	return groups, nil
}

func (s *GormStore) UpdateGroup(ctx context.Context, group *models.Group) error {
	if _, err := s.GetGroup(ctx, group.ID); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).Model(&models.Group{ID: group.ID}).
		Updates(map[string]interface{}{
			"name":        group.Name,
			"description": group.Description,
			"color":       group.Color,
			"icon":        group.Icon,
		}).Error
	if err != nil {
		return fmt.Errorf("update group: %w", err)
	}
	return nil
}

func (s *GormStore) DeleteGroup(ctx context.Context, id string) error {
	tx := s.db.WithContext(ctx)
	if err := tx.Model(&models.Document{}).Where("group_id = ?", id).
		Update("group_id", nil).Error; err != nil {
		return fmt.Errorf("ungroup documents: %w", err)
	}
	res := tx.Delete(&models.Group{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete group: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("group %s: %w", id, ragerr.ErrNotFound)
	}
	return nil
}

func (s *GormStore) GetOrCreateTag(ctx context.Context, name string) (*models.Tag, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("tag name is empty")
	}
	tag := models.Tag{ID: uuid.New().String(), Name: name}
	err := s.db.WithContext(ctx).Where(models.Tag{Name: name}).FirstOrCreate(&tag).Error
	if err != nil {
		return nil, fmt.Errorf("get or create tag %q: %w", name, err)
	}
	return &tag, nil
}

func (s *GormStore) ListTags(ctx context.Context) ([]*models.Tag, error) {
	var tags []*models.Tag
	if err := s.db.WithContext(ctx).Order("name").Find(&tags).Error; err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	return tags, nil
}

func (s *GormStore) PopularTags(ctx context.Context, limit int) ([]*models.Tag, error) {
	if limit <= 0 {
		limit = 10
	}
	var tags []*models.Tag
	if err := s.db.WithContext(ctx).Order("usage_count DESC").Limit(limit).Find(&tags).Error; err != nil {
		return nil, fmt.Errorf("popular tags: %w", err)
	}
	return tags, nil
}

func (s *GormStore) SearchTags(ctx context.Context, fragment string) ([]*models.Tag, error) {
	var tags []*models.Tag
	err := s.db.WithContext(ctx).
		Where("name LIKE ?", "%"+fragment+"%").
		Order("usage_count DESC").
		Find(&tags).Error
	if err != nil {
		return nil, fmt.Errorf("search tags: %w", err)
	}
	return tags, nil
}

func (s *GormStore) UpdateTag(ctx context.Context, tag *models.Tag) error {
	name := strings.TrimSpace(tag.Name)
	if name == "" {
		return fmt.Errorf("tag name is empty")
	}
	res := s.db.WithContext(ctx).Model(&models.Tag{}).Where("id = ?", tag.ID).
		Updates(map[string]interface{}{"name": name, "color": tag.Color})
	if res.Error != nil {
		return fmt.Errorf("update tag: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := s.getTag(ctx, tag.ID); err != nil {
			return err
		}
	}
	return nil
}

func (s *GormStore) getTag(ctx context.Context, id string) (*models.Tag, error) {
	var tag models.Tag
	err := s.db.WithContext(ctx).First(&tag, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("tag %s: %w", id, ragerr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get tag: %w", err)
	}
	return &tag, nil
}

func (s *GormStore) DeleteTag(ctx context.Context, id string) error {
	tx := s.db.WithContext(ctx)
	if err := tx.Exec("DELETE FROM document_tags WHERE tag_id = ?", id).Error; err != nil {
		return fmt.Errorf("clear tag associations: %w", err)
	}
	res := tx.Delete(&models.Tag{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete tag: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("tag %s: %w", id, ragerr.ErrNotFound)
	}
	return nil
}

var _ Store = (*GormStore)(nil)
