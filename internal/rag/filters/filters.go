// Package filters compiles a FilterQuery into the two shapes the retrieval
// path needs: a pushdown for the index backends and a residual predicate
// for everything the backends cannot evaluate themselves.
package filters

import (
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"docqa/internal/models"
)

// Field names shared by the vector collection and the keyword collection.
// Both store these denormalized per chunk so filters push down without a
// join against the metadata store.
const (
	FieldChunkID    = "_id"
	FieldDocumentID = "document_id"
	FieldFileType   = "file_type"
	FieldGroupID    = "group_id"
)

// Pushdown carries the backend-native renderings of the filter constraints
// the indexes can evaluate. MatchNone short-circuits retrieval entirely: a
// constraint referenced only unknown values and can match nothing.
type Pushdown struct {
	// VectorExpr is a Milvus boolean expression, empty when unconstrained.
	VectorExpr string
	// Keyword is the Mongo filter document for the keyword half, nil when
	// unconstrained.
	Keyword bson.M
	// MatchNone means the filter provably matches zero documents.
	MatchNone bool
}

// Residual decides, per document, the constraints the indexes could not
// push down. It is evaluated after retrieval against the metadata record.
type Residual func(doc *models.Document) bool

// Compile splits a FilterQuery into its pushdown and residual halves.
// Fields combine with AND; values within one field combine with OR. An
// empty query compiles to an empty pushdown and a residual that admits
// exactly the visible documents; every query, filtered or not, applies
// the same committed-status gate.
func Compile(query *models.FilterQuery) (Pushdown, Residual) {
	if query == nil || query.IsZero() {
		return Pushdown{}, func(doc *models.Document) bool { return visible(doc) }
	}

	pd := compilePushdown(query)
	residual := compileResidual(query)
	return pd, residual
}

// visible reports whether a document's committed chunk set may be served.
// A document mid-reprocess keeps its last committed set visible until the
// new pass commits; a first-time pass has never committed anything, so
// nothing shows before its status does.
func visible(doc *models.Document) bool {
	if doc.Status.Searchable() {
		return true
	}
	return doc.Status == models.StatusProcessing && doc.ChunkCount > 0
}

func compilePushdown(query *models.FilterQuery) Pushdown {
	var pd Pushdown
	var exprs []string
	keyword := bson.M{}

	if len(query.FileTypes) > 0 {
		values := make([]string, len(query.FileTypes))
		for i, ft := range query.FileTypes {
			values[i] = string(ft)
		}
		exprs = append(exprs, inExpr(FieldFileType, values))
		keyword[FieldFileType] = bson.M{"$in": values}
	}

	if len(query.GroupIDs) > 0 {
		exprs = append(exprs, inExpr(FieldGroupID, query.GroupIDs))
		keyword[FieldGroupID] = bson.M{"$in": query.GroupIDs}
	}

	pd.VectorExpr = strings.Join(exprs, " and ")
	if len(keyword) > 0 {
		pd.Keyword = keyword
	}
	if len(query.DocumentIDs) > 0 {
		pd = pd.RestrictToDocuments(query.DocumentIDs)
	}
	return pd
}

// RestrictToDocuments narrows a pushdown to an explicit document id set, as
// produced by metadata-store pre-resolution of tag or date constraints. An
// empty set marks the pushdown MatchNone.
func (pd Pushdown) RestrictToDocuments(documentIDs []string) Pushdown {
	if len(documentIDs) == 0 {
		pd.MatchNone = true
		return pd
	}
	expr := inExpr(FieldDocumentID, documentIDs)
	if pd.VectorExpr == "" {
		pd.VectorExpr = expr
	} else {
		pd.VectorExpr = pd.VectorExpr + " and " + expr
	}
	if pd.Keyword == nil {
		pd.Keyword = bson.M{}
	}
	pd.Keyword[FieldDocumentID] = bson.M{"$in": documentIDs}
	return pd
}

func inExpr(field string, values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = fmt.Sprintf("%q", escape(v))
	}
	return fmt.Sprintf("%s in [%s]", field, strings.Join(quoted, ", "))
}

// escape strips characters that would break out of a quoted Milvus string
// literal. Identifiers come from our own stores, but filter values arrive
// from the API.
func escape(value string) string {
	value = strings.ReplaceAll(value, `\`, ``)
	value = strings.ReplaceAll(value, `"`, ``)
	return value
}

func compileResidual(query *models.FilterQuery) Residual {
	return func(doc *models.Document) bool {
		if doc == nil {
			return false
		}
		if len(query.Statuses) == 0 && !visible(doc) {
			return false
		}
		if !matchStatus(doc, query.Statuses) {
			return false
		}
		if !matchOneOf(string(doc.FileType), fileTypeStrings(query.FileTypes)) {
			return false
		}
		if !matchGroup(doc, query.GroupIDs) {
			return false
		}
		if !matchOneOf(doc.ID, query.DocumentIDs) {
			return false
		}
		if !matchTags(doc, query.Tags) {
			return false
		}
		if !matchOneOf(doc.Language, query.Languages) {
			return false
		}
		if !matchOneOf(doc.Author, query.Authors) {
			return false
		}
		if !matchTimeRange(doc.CreatedAt, query.CreatedAfter, query.CreatedBefore) {
			return false
		}
		if !matchTimeRange(doc.UpdatedAt, query.UpdatedAfter, query.UpdatedBefore) {
			return false
		}
		if query.MinSize != nil && doc.Size < *query.MinSize {
			return false
		}
		if query.MaxSize != nil && doc.Size > *query.MaxSize {
			return false
		}
		if query.MinPages != nil && doc.Pages < *query.MinPages {
			return false
		}
		if query.MaxPages != nil && doc.Pages > *query.MaxPages {
			return false
		}
		return matchCustom(doc, query.Custom)
	}
}

func matchStatus(doc *models.Document, statuses []models.DocumentStatus) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, s := range statuses {
		if doc.Status == s {
			return true
		}
	}
	return false
}

func matchOneOf(value string, values []string) bool {
	if len(values) == 0 {
		return true
	}
	for _, v := range values {
		if strings.EqualFold(value, v) {
			return true
		}
	}
	return false
}

func matchGroup(doc *models.Document, groupIDs []string) bool {
	if len(groupIDs) == 0 {
		return true
	}
	if doc.GroupID == nil {
		return false
	}
	for _, id := range groupIDs {
		if *doc.GroupID == id {
			return true
		}
	}
	return false
}

func matchTags(doc *models.Document, tags []string) bool {
	if len(tags) == 0 {
		return true
	}
	docTags := doc.TagNames()
	for _, want := range tags {
		for _, have := range docTags {
			if strings.EqualFold(have, want) {
				return true
			}
		}
	}
	return false
}

func matchTimeRange(value time.Time, after, before *time.Time) bool {
	if after != nil && value.Before(*after) {
		return false
	}
	if before != nil && value.After(*before) {
		return false
	}
	return true
}

func matchCustom(doc *models.Document, custom map[string]string) bool {
	if len(custom) == 0 {
		return true
	}
	for key, want := range custom {
		raw, ok := doc.Metadata[key]
		if !ok {
			return false
		}
		if fmt.Sprintf("%v", raw) != want {
			return false
		}
	}
	return true
}

func fileTypeStrings(types []models.FileType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}
