package api

import (
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"docqa/internal/ingest"
	"docqa/internal/models"
	"docqa/internal/rag/ragerr"
	"docqa/internal/service"
	"docqa/pkg/logger"
)

// API provides the HTTP handlers for the document service.
type API struct {
	service        *service.Service
	logger         *logger.Logger
	maxUploadBytes int64
}

// NewAPI creates a new API handler.
func NewAPI(svc *service.Service, maxUploadBytes int64, log *logger.Logger) *API {
	return &API{
		service:        svc,
		logger:         log,
		maxUploadBytes: maxUploadBytes,
	}
}

// fileTypeByExtension maps upload extensions onto declared file types.
var fileTypeByExtension = map[string]models.FileType{
	".pdf":  models.FileTypePDF,
	".docx": models.FileTypeDocx,
	".xlsx": models.FileTypeXlsx,
	".txt":  models.FileTypeTxt,
	".md":   models.FileTypeMd,
	".html": models.FileTypeHTML,
	".htm":  models.FileTypeHTML,
}

// UploadDocumentHandler accepts a multipart upload and enqueues it for
// ingestion. The response is the pending document record.
func (a *API) UploadDocumentHandler(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file field"})
		return
	}
	if a.maxUploadBytes > 0 && file.Size > a.maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file exceeds the upload size limit"})
		return
	}

	fileType, ok := fileTypeByExtension[strings.ToLower(filepath.Ext(file.Filename))]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported file type"})
		return
	}

	reader, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable upload"})
		return
	}
	defer reader.Close()

	sub := ingest.Submission{
		Filename: filepath.Base(file.Filename),
		FileType: fileType,
		Size:     file.Size,
		Reader:   reader,
		Tags:     c.PostFormArray("tags"),
	}
	if groupID := c.PostForm("group_id"); groupID != "" {
		sub.GroupID = &groupID
	}

	doc, err := a.service.SubmitDocument(c.Request.Context(), sub)
	if err != nil {
		a.respondError(c, err, "Failed to submit document")
		return
	}
	c.JSON(http.StatusAccepted, doc)
}

// ListDocumentsHandler returns the filtered document listing.
func (a *API) ListDocumentsHandler(c *gin.Context) {
	filter := filterFromQuery(c)
	docs, total, err := a.service.ListDocuments(c.Request.Context(), filter)
	if err != nil {
		a.respondError(c, err, "Failed to list documents")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"documents": docs,
		"total":     total,
		"page":      filter.Page,
		"size":      filter.Size,
	})
}

// GetDocumentHandler returns one document record.
func (a *API) GetDocumentHandler(c *gin.Context) {
	doc, err := a.service.GetDocument(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.respondError(c, err, "Failed to retrieve document")
		return
	}
	c.JSON(http.StatusOK, doc)
}

// GetDocumentChunksHandler returns a document's stored chunks in order.
func (a *API) GetDocumentChunksHandler(c *gin.Context) {
	chunks, err := a.service.GetDocumentChunks(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.respondError(c, err, "Failed to retrieve chunks")
		return
	}
	c.JSON(http.StatusOK, gin.H{"chunks": chunks})
}

// DeleteDocumentHandler removes a document from every store.
func (a *API) DeleteDocumentHandler(c *gin.Context) {
	if err := a.service.DeleteDocument(c.Request.Context(), c.Param("id")); err != nil {
		a.respondError(c, err, "Failed to delete document")
		return
	}
	c.Status(http.StatusNoContent)
}

// RetryDocumentHandler re-enqueues a document for processing.
func (a *API) RetryDocumentHandler(c *gin.Context) {
	if err := a.service.RetryDocument(c.Request.Context(), c.Param("id")); err != nil {
		a.respondError(c, err, "Failed to retry document")
		return
	}
	c.Status(http.StatusAccepted)
}

// CreateGroupHandler adds a named document group.
func (a *API) CreateGroupHandler(c *gin.Context) {
	var payload struct {
		Name        string `json:"name" binding:"required"`
		Description string `json:"description"`
		Color       string `json:"color"`
		Icon        string `json:"icon"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload"})
		return
	}
	group := &models.Group{
		Name:        payload.Name,
		Description: payload.Description,
		Color:       payload.Color,
		Icon:        payload.Icon,
	}
	if err := a.service.CreateGroup(c.Request.Context(), group); err != nil {
		a.respondError(c, err, "Failed to create group")
		return
	}
	c.JSON(http.StatusCreated, group)
}

// ListGroupsHandler returns all groups with document counts.
func (a *API) ListGroupsHandler(c *gin.Context) {
	groups, err := a.service.ListGroups(c.Request.Context())
	if err != nil {
		a.respondError(c, err, "Failed to list groups")
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": groups})
}

// UpdateGroupHandler renames or restyles a group.
func (a *API) UpdateGroupHandler(c *gin.Context) {
	var payload struct {
		Name        string `json:"name" binding:"required"`
		Description string `json:"description"`
		Color       string `json:"color"`
		Icon        string `json:"icon"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload"})
		return
	}
	group := &models.Group{
		ID:          c.Param("id"),
		Name:        payload.Name,
		Description: payload.Description,
		Color:       payload.Color,
		Icon:        payload.Icon,
	}
	if err := a.service.UpdateGroup(c.Request.Context(), group); err != nil {
		a.respondError(c, err, "Failed to update group")
		return
	}
	c.JSON(http.StatusOK, group)
}

// DeleteGroupHandler removes a group; member documents become ungrouped.
func (a *API) DeleteGroupHandler(c *gin.Context) {
	if err := a.service.DeleteGroup(c.Request.Context(), c.Param("id")); err != nil {
		a.respondError(c, err, "Failed to delete group")
		return
	}
	c.Status(http.StatusNoContent)
}

// ListTagsHandler returns all tags with usage counts.
func (a *API) ListTagsHandler(c *gin.Context) {
	tags, err := a.service.ListTags(c.Request.Context())
	if err != nil {
		a.respondError(c, err, "Failed to list tags")
		return
	}
	c.JSON(http.StatusOK, gin.H{"tags": tags})
}

// PopularTagsHandler returns the most used tags.
func (a *API) PopularTagsHandler(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	tags, err := a.service.PopularTags(c.Request.Context(), limit)
	if err != nil {
		a.respondError(c, err, "Failed to list popular tags")
		return
	}
	c.JSON(http.StatusOK, gin.H{"tags": tags})
}

// SearchTagsHandler returns tags whose name contains the fragment.
func (a *API) SearchTagsHandler(c *gin.Context) {
	fragment := c.Query("q")
	if fragment == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing q parameter"})
		return
	}
	tags, err := a.service.SearchTags(c.Request.Context(), fragment)
	if err != nil {
		a.respondError(c, err, "Failed to search tags")
		return
	}
	c.JSON(http.StatusOK, gin.H{"tags": tags})
}

// UpdateTagHandler renames or recolors a tag.
func (a *API) UpdateTagHandler(c *gin.Context) {
	var payload struct {
		Name  string `json:"name" binding:"required"`
		Color string `json:"color"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload"})
		return
	}
	tag := &models.Tag{
		ID:    c.Param("id"),
		Name:  payload.Name,
		Color: payload.Color,
	}
	if err := a.service.UpdateTag(c.Request.Context(), tag); err != nil {
		a.respondError(c, err, "Failed to update tag")
		return
	}
	c.JSON(http.StatusOK, tag)
}

// DeleteTagHandler removes a tag everywhere.
func (a *API) DeleteTagHandler(c *gin.Context) {
	if err := a.service.DeleteTag(c.Request.Context(), c.Param("id")); err != nil {
		a.respondError(c, err, "Failed to delete tag")
		return
	}
	c.Status(http.StatusNoContent)
}

// SearchHandler answers a retrieval question with assembled context.
func (a *API) SearchHandler(c *gin.Context) {
	var req service.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload"})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query is required"})
		return
	}

	resp, err := a.service.Search(c.Request.Context(), req)
	if err != nil {
		a.respondError(c, err, "Search failed")
		return
	}
	c.JSON(http.StatusOK, resp)
}

// AnswerHandler generates an answer grounded in retrieved context.
func (a *API) AnswerHandler(c *gin.Context) {
	var req service.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload"})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query is required"})
		return
	}

	resp, err := a.service.Answer(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, service.ErrAnswerUnavailable) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "answer generation is not configured"})
			return
		}
		a.respondError(c, err, "Answer failed")
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HealthzHandler reports liveness.
func (a *API) HealthzHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// respondError maps domain errors onto HTTP statuses. Internal detail stays
// in the logs; the client sees the generic message.
func (a *API) respondError(c *gin.Context, err error, message string) {
	switch {
	case errors.Is(err, ragerr.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, ragerr.ErrAlreadyProcessing):
		c.JSON(http.StatusConflict, gin.H{"error": "document is being processed"})
	case errors.Is(err, ragerr.ErrInvalidFilter):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		a.logger.WithError(err).Error(message)
		c.JSON(http.StatusInternalServerError, gin.H{"error": message})
	}
}

// filterFromQuery builds a FilterQuery from listing query parameters.
// Multi-value fields repeat the parameter.
func filterFromQuery(c *gin.Context) *models.FilterQuery {
	filter := &models.FilterQuery{
		SearchText: c.Query("search"),
		GroupIDs:   c.QueryArray("group_id"),
		Tags:       c.QueryArray("tag"),
		Languages:  c.QueryArray("language"),
		Authors:    c.QueryArray("author"),
		SortBy:     c.Query("sort_by"),
		SortOrder:  models.SortOrder(c.Query("sort_order")),
	}
	for _, s := range c.QueryArray("status") {
		filter.Statuses = append(filter.Statuses, models.DocumentStatus(s))
	}
	for _, ft := range c.QueryArray("file_type") {
		filter.FileTypes = append(filter.FileTypes, models.FileType(ft))
	}
	filter.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	filter.Size, _ = strconv.Atoi(c.DefaultQuery("size", "20"))
	return filter
}
