package metastore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"docqa/internal/models"
	"docqa/internal/rag/filters"
	"docqa/internal/rag/ragerr"
)

// MemoryStore is an in-process Store for tests and single-node development.
// It reuses the same residual predicate the retrieval path compiles, so
// listing semantics match the SQL implementation.
type MemoryStore struct {
	mu     sync.RWMutex
	docs   map[string]*models.Document
	groups map[string]*models.Group
	tags   map[string]*models.Tag
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:   make(map[string]*models.Document),
		groups: make(map[string]*models.Group),
		tags:   make(map[string]*models.Tag),
	}
}

func (s *MemoryStore) CreateDocument(ctx context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	now := time.Now()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	copied := *doc
	s.docs[doc.ID] = &copied
	s.refreshCountsLocked()
	return nil
}

func (s *MemoryStore) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, ragerr.ErrNotFound)
	}
	copied := *doc
	return &copied, nil
}

func (s *MemoryStore) GetByIDs(ctx context.Context, ids []string) (map[string]*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*models.Document, len(ids))
	for _, id := range ids {
		if doc, ok := s.docs[id]; ok {
			copied := *doc
			out[id] = &copied
		}
	}
	return out, nil
}

func (s *MemoryStore) ListDocuments(ctx context.Context, filter *models.FilterQuery) ([]*models.Document, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := s.matchLocked(filter)
	total := int64(len(matched))
	sortDocs(matched, filter)
	matched = paginate(matched, filter)

	out := make([]*models.Document, len(matched))
	for i, doc := range matched {
		copied := *doc
		out[i] = &copied
	}
	return out, total, nil
}

func (s *MemoryStore) ListDocumentIDs(ctx context.Context, filter *models.FilterQuery) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := s.matchLocked(filter)
	ids := make([]string, len(matched))
	for i, doc := range matched {
		ids[i] = doc.ID
	}
	return ids, nil
}

// matchLocked applies the filter. Status handling differs from retrieval:
// listings show documents in every lifecycle state unless statuses are
// constrained, so the compiled residual is combined with an explicit
// status-field check instead of the searchable default.
func (s *MemoryStore) matchLocked(filter *models.FilterQuery) []*models.Document {
	var matched []*models.Document
	for _, doc := range s.docs {
		if matchesListing(doc, filter) {
			matched = append(matched, doc)
		}
	}
	return matched
}

func matchesListing(doc *models.Document, filter *models.FilterQuery) bool {
	if filter == nil {
		return true
	}
	if filter.SearchText != "" && !matchesSearchText(doc, filter.SearchText) {
		return false
	}
	// Reuse the retrieval residual for the shared fields, neutralizing its
	// searchable-status default by pinning the document's own status when
	// no explicit status constraint exists.
	adjusted := *filter
	adjusted.SearchText = ""
	if len(adjusted.Statuses) == 0 {
		adjusted.Statuses = []models.DocumentStatus{doc.Status}
	}
	_, residual := filters.Compile(&adjusted)
	return residual(doc)
}

func matchesSearchText(doc *models.Document, text string) bool {
	needle := strings.ToLower(text)
	if strings.Contains(strings.ToLower(doc.Filename), needle) ||
		strings.Contains(strings.ToLower(doc.Title), needle) ||
		strings.Contains(strings.ToLower(doc.Author), needle) {
		return true
	}
	for _, tag := range doc.Tags {
		if strings.Contains(strings.ToLower(tag.Name), needle) {
			return true
		}
	}
	return false
}

func sortDocs(docs []*models.Document, filter *models.FilterQuery) {
	sortBy := "created_at"
	asc := false
	if filter != nil {
		if filter.SortBy != "" {
			sortBy = filter.SortBy
		}
		asc = filter.SortOrder == models.SortAsc
	}
	sort.SliceStable(docs, func(i, j int) bool {
		a, b := docs[i], docs[j]
		var less bool
		switch sortBy {
		case "filename":
			less = a.Filename < b.Filename
		case "size":
			less = a.Size < b.Size
		case "pages":
			less = a.Pages < b.Pages
		case "status":
			less = a.Status < b.Status
		case "updated_at":
			less = a.UpdatedAt.Before(b.UpdatedAt)
		default:
			less = a.CreatedAt.Before(b.CreatedAt)
		}
		if asc {
			return less
		}
		return !less
	})
}

func paginate(docs []*models.Document, filter *models.FilterQuery) []*models.Document {
	if filter == nil || filter.Size <= 0 {
		return docs
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	start := (page - 1) * filter.Size
	if start >= len(docs) {
		return nil
	}
	end := start + filter.Size
	if end > len(docs) {
		end = len(docs)
	}
	return docs[start:end]
}

func (s *MemoryStore) UpdateDocument(ctx context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[doc.ID]; !ok {
		return fmt.Errorf("document %s: %w", doc.ID, ragerr.ErrNotFound)
	}
	doc.UpdatedAt = time.Now()
	copied := *doc
	s.docs[doc.ID] = &copied
	s.refreshCountsLocked()
	return nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, id string, status models.DocumentStatus, failReason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return fmt.Errorf("document %s: %w", id, ragerr.ErrNotFound)
	}
	doc.Status = status
	doc.FailReason = failReason
	doc.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) DeleteDocument(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[id]; !ok {
		return fmt.Errorf("document %s: %w", id, ragerr.ErrNotFound)
	}
	delete(s.docs, id)
	s.refreshCountsLocked()
	return nil
}

func (s *MemoryStore) refreshCountsLocked() {
	for _, group := range s.groups {
		group.DocumentCount = 0
	}
	for _, tag := range s.tags {
		tag.UsageCount = 0
	}
	for _, doc := range s.docs {
		if doc.GroupID != nil {
			if group, ok := s.groups[*doc.GroupID]; ok {
				group.DocumentCount++
			}
		}
		for _, docTag := range doc.Tags {
			for _, tag := range s.tags {
				if tag.Name == docTag.Name {
					tag.UsageCount++
				}
			}
		}
	}
}

func (s *MemoryStore) CreateGroup(ctx context.Context, group *models.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if group.ID == "" {
		group.ID = uuid.New().String()
	}
	for _, existing := range s.groups {
		if existing.Name == group.Name {
			return fmt.Errorf("group name %q already exists", group.Name)
		}
	}
	group.CreatedAt = time.Now()
	copied := *group
	s.groups[group.ID] = &copied
	return nil
}

func (s *MemoryStore) GetGroup(ctx context.Context, id string) (*models.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	group, ok := s.groups[id]
	if !ok {
		return nil, fmt.Errorf("group %s: %w", id, ragerr.ErrNotFound)
	}
	copied := *group
	return &copied, nil
}

func (s *MemoryStore) ListGroups(ctx context.Context) ([]*models.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Group, 0, len(s.groups))
	for _, group := range s.groups {
		copied := *group
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) UpdateGroup(ctx context.Context, group *models.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.groups[group.ID]
	if !ok {
		return fmt.Errorf("group %s: %w", group.ID, ragerr.ErrNotFound)
	}
	for id, other := range s.groups {
		if id != group.ID && other.Name == group.Name {
			return fmt.Errorf("group name %q already exists", group.Name)
		}
	}
	existing.Name = group.Name
	existing.Description = group.Description
	existing.Color = group.Color
	existing.Icon = group.Icon
	existing.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) DeleteGroup(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[id]; !ok {
		return fmt.Errorf("group %s: %w", id, ragerr.ErrNotFound)
	}
	for _, doc := range s.docs {
		if doc.GroupID != nil && *doc.GroupID == id {
			doc.GroupID = nil
		}
	}
	delete(s.groups, id)
	return nil
}

func (s *MemoryStore) GetOrCreateTag(ctx context.Context, name string) (*models.Tag, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("tag name is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tag := range s.tags {
		if tag.Name == name {
			copied := *tag
			return &copied, nil
		}
	}
	tag := &models.Tag{ID: uuid.New().String(), Name: name, CreatedAt: time.Now()}
	s.tags[tag.ID] = tag
	copied := *tag
	return &copied, nil
}

func (s *MemoryStore) ListTags(ctx context.Context) ([]*models.Tag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Tag, 0, len(s.tags))
	for _, tag := range s.tags {
		copied := *tag
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) PopularTags(ctx context.Context, limit int) ([]*models.Tag, error) {
	tags, err := s.ListTags(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(tags, func(i, j int) bool { return tags[i].UsageCount > tags[j].UsageCount })
	if limit > 0 && len(tags) > limit {
		tags = tags[:limit]
	}
	return tags, nil
}

func (s *MemoryStore) SearchTags(ctx context.Context, fragment string) ([]*models.Tag, error) {
	tags, err := s.ListTags(ctx)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(fragment)
	var out []*models.Tag
	for _, tag := range tags {
		if strings.Contains(strings.ToLower(tag.Name), needle) {
			out = append(out, tag)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UsageCount > out[j].UsageCount })
	return out, nil
}

func (s *MemoryStore) UpdateTag(ctx context.Context, tag *models.Tag) error {
	name := strings.TrimSpace(tag.Name)
	if name == "" {
		return fmt.Errorf("tag name is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.tags[tag.ID]
	if !ok {
		return fmt.Errorf("tag %s: %w", tag.ID, ragerr.ErrNotFound)
	}
	for id, other := range s.tags {
		if id != tag.ID && strings.EqualFold(other.Name, name) {
			return fmt.Errorf("tag name %q already exists", name)
		}
	}
	oldName := existing.Name
	existing.Name = name
	existing.Color = tag.Color
	existing.UpdatedAt = time.Now()
	// Associations carry the tag by value, follow the rename.
	for _, doc := range s.docs {
		for i := range doc.Tags {
			if doc.Tags[i].Name == oldName {
				doc.Tags[i].Name = name
				doc.Tags[i].Color = tag.Color
			}
		}
	}
	return nil
}

func (s *MemoryStore) DeleteTag(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tag, ok := s.tags[id]
	if !ok {
		return fmt.Errorf("tag %s: %w", id, ragerr.ErrNotFound)
	}
	for _, doc := range s.docs {
		kept := doc.Tags[:0]
		for _, t := range doc.Tags {
			if t.Name != tag.Name {
				kept = append(kept, t)
			}
		}
		doc.Tags = kept
	}
	delete(s.tags, id)
	return nil
}

var _ Store = (*MemoryStore)(nil)
