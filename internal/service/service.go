// Package service composes the ingestion and retrieval pipelines behind one
// facade the transport layer calls.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"docqa/internal/ingest"
	"docqa/internal/llm"
	"docqa/internal/models"
	"docqa/internal/rag/assembler"
	"docqa/internal/rag/schema"
	"docqa/internal/rag/search"
	"docqa/internal/store/metastore"
	"docqa/pkg/logger"
)

// ErrAnswerUnavailable is returned by Answer when no generation provider
// is configured.
var ErrAnswerUnavailable = errors.New("answer generation is not configured")

// Service is the application facade: document lifecycle, organization
// (groups, tags) and question answering context retrieval.
type Service struct {
	meta      metastore.Store
	submitter *ingest.Submitter
	orch      *ingest.Orchestrator
	engine    *search.Engine
	assembler *assembler.Assembler
	llm       llm.LLM
	log       *logger.Logger
}

// New builds the facade. The generator may be nil, which disables Answer
// while leaving retrieval untouched.
func New(
	meta metastore.Store,
	submitter *ingest.Submitter,
	orch *ingest.Orchestrator,
	engine *search.Engine,
	asm *assembler.Assembler,
	generator llm.LLM,
	log *logger.Logger,
) *Service {
	return &Service{
		meta:      meta,
		submitter: submitter,
		orch:      orch,
		engine:    engine,
		assembler: asm,
		llm:       generator,
		log:       log,
	}
}

// SubmitDocument registers an upload and enqueues its ingestion.
func (s *Service) SubmitDocument(ctx context.Context, sub ingest.Submission) (*models.Document, error) {
	return s.submitter.Submit(ctx, sub)
}

// RetryDocument re-enqueues a document for processing.
func (s *Service) RetryDocument(ctx context.Context, documentID string) error {
	return s.submitter.Resubmit(ctx, documentID)
}

// GetDocument loads one document record.
func (s *Service) GetDocument(ctx context.Context, documentID string) (*models.Document, error) {
	return s.meta.GetDocument(ctx, documentID)
}

// ListDocuments returns the filtered listing and the total match count.
func (s *Service) ListDocuments(ctx context.Context, filter *models.FilterQuery) ([]*models.Document, int64, error) {
	return s.meta.ListDocuments(ctx, filter)
}

// DeleteDocument removes a document from every store.
func (s *Service) DeleteDocument(ctx context.Context, documentID string) error {
	return s.orch.Remove(ctx, documentID)
}

// GetDocumentChunks returns a document's stored chunks in order, for
// inspection of what a pass produced.
func (s *Service) GetDocumentChunks(ctx context.Context, documentID string) ([]schema.Chunk, error) {
	if _, err := s.meta.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	return s.orch.Chunks(ctx, documentID)
}

// CreateGroup adds a named document group.
func (s *Service) CreateGroup(ctx context.Context, group *models.Group) error {
	return s.meta.CreateGroup(ctx, group)
}

// ListGroups returns all groups with live document counts.
func (s *Service) ListGroups(ctx context.Context) ([]*models.Group, error) {
	return s.meta.ListGroups(ctx)
}

// UpdateGroup renames or restyles a group.
func (s *Service) UpdateGroup(ctx context.Context, group *models.Group) error {
	return s.meta.UpdateGroup(ctx, group)
}

// DeleteGroup removes a group; its documents become ungrouped.
func (s *Service) DeleteGroup(ctx context.Context, groupID string) error {
	return s.meta.DeleteGroup(ctx, groupID)
}

// ListTags returns all tags with usage counts.
func (s *Service) ListTags(ctx context.Context) ([]*models.Tag, error) {
	return s.meta.ListTags(ctx)
}

// PopularTags returns the most used tags.
func (s *Service) PopularTags(ctx context.Context, limit int) ([]*models.Tag, error) {
	return s.meta.PopularTags(ctx, limit)
}

// SearchTags returns tags whose name contains the fragment.
func (s *Service) SearchTags(ctx context.Context, fragment string) ([]*models.Tag, error) {
	return s.meta.SearchTags(ctx, fragment)
}

// UpdateTag renames or recolors a tag.
func (s *Service) UpdateTag(ctx context.Context, tag *models.Tag) error {
	return s.meta.UpdateTag(ctx, tag)
}

// DeleteTag removes a tag everywhere.
func (s *Service) DeleteTag(ctx context.Context, tagID string) error {
	return s.meta.DeleteTag(ctx, tagID)
}

// SearchRequest is one retrieval question.
type SearchRequest struct {
	Query  string              `json:"query"`
	Filter *models.FilterQuery `json:"filter,omitempty"`
	TopK   int                 `json:"top_k,omitempty"`
	// Budget caps the assembled context size; 0 uses the configured default.
	Budget int `json:"budget,omitempty"`
}

// SearchResponse is the assembled answer context.
type SearchResponse struct {
	Blocks    []schema.ContextBlock `json:"blocks"`
	Citations []schema.Citation     `json:"citations"`
	// Used is the measured size of the assembled context.
	Used int `json:"used"`
	// Degraded is set when one retrieval half failed and the other served
	// the query alone.
	Degraded bool `json:"degraded"`
}

// Search answers a retrieval question: hybrid search, then context
// assembly. Filter constraints the indexes cannot evaluate are resolved
// against the metadata store first and pushed down as a document id set.
func (s *Service) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	filter, empty, err := s.resolveFilter(ctx, req.Filter)
	if err != nil {
		return nil, err
	}
	if empty {
		return &SearchResponse{}, nil
	}

	result, err := s.engine.Search(ctx, req.Query, filter, req.TopK)
	if err != nil {
		return nil, err
	}

	assembled := s.assembler.Assemble(result.Results, req.Budget)
	return &SearchResponse{
		Blocks:    assembled.Blocks,
		Citations: assembled.Citations,
		Used:      assembled.Used,
		Degraded:  result.Degraded,
	}, nil
}

// AnswerResponse is a generated answer with the citations that back it.
type AnswerResponse struct {
	Answer    string            `json:"answer"`
	Citations []schema.Citation `json:"citations"`
	Degraded  bool              `json:"degraded"`
}

// Answer retrieves context for the question and asks the configured
// generator for an answer grounded in it. When retrieval finds nothing
// the generator is not called and the answer is empty.
func (s *Service) Answer(ctx context.Context, req SearchRequest) (*AnswerResponse, error) {
	if s.llm == nil {
		return nil, ErrAnswerUnavailable
	}

	retrieved, err := s.Search(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(retrieved.Blocks) == 0 {
		return &AnswerResponse{Citations: retrieved.Citations}, nil
	}

	answer, err := s.llm.Generate(ctx, buildPrompt(req.Query, retrieved.Blocks))
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}
	return &AnswerResponse{
		Answer:    answer,
		Citations: retrieved.Citations,
		Degraded:  retrieved.Degraded,
	}, nil
}

// buildPrompt lays out the retrieved context ahead of the question so the
// model answers from the documents rather than from memory.
func buildPrompt(query string, blocks []schema.ContextBlock) string {
	var sb strings.Builder
	sb.WriteString("Answer the question using only the context below.\n\nContext:\n")
	for i, block := range blocks {
		sb.WriteString("---\n")
		sb.WriteString(fmt.Sprintf("Context %d:\n%s\n", i+1, block.Text))
	}
	sb.WriteString("---\n\n")
	sb.WriteString(fmt.Sprintf("Question: %s", query))
	return sb.String()
}

// resolveFilter pre-resolves residual-heavy constraints (tags, dates,
// sizes, custom metadata) into an explicit document id set so both index
// halves filter at the source instead of discarding hits after retrieval.
func (s *Service) resolveFilter(ctx context.Context, filter *models.FilterQuery) (*models.FilterQuery, bool, error) {
	if filter == nil || !needsPreResolution(filter) {
		return filter, false, nil
	}

	ids, err := s.meta.ListDocumentIDs(ctx, filter)
	if err != nil {
		// Retrieval still applies the residual predicate, so serve the
		// query without the narrowing.
		s.log.WithError(err).Warn("filter pre-resolution failed, falling back to residual filtering")
		return filter, false, nil
	}
	if len(ids) == 0 {
		return nil, true, nil
	}

	scoped := *filter
	scoped.DocumentIDs = ids
	return &scoped, false, nil
}

// needsPreResolution reports whether the filter carries constraints the
// index backends cannot evaluate themselves.
func needsPreResolution(f *models.FilterQuery) bool {
	return len(f.Tags) > 0 || len(f.Languages) > 0 || len(f.Authors) > 0 ||
		f.CreatedAfter != nil || f.CreatedBefore != nil ||
		f.UpdatedAfter != nil || f.UpdatedBefore != nil ||
		f.MinSize != nil || f.MaxSize != nil ||
		f.MinPages != nil || f.MaxPages != nil ||
		len(f.Custom) > 0
}
