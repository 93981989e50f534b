package api

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all the routes for the document service.
func RegisterRoutes(router *gin.Engine, api *API) {
	router.GET("/healthz", api.HealthzHandler)

	v1 := router.Group("/api/v1")
	{
		documents := v1.Group("/documents")
		{
			documents.POST("", api.UploadDocumentHandler)
			documents.GET("", api.ListDocumentsHandler)
			documents.GET("/:id", api.GetDocumentHandler)
			documents.GET("/:id/chunks", api.GetDocumentChunksHandler)
			documents.DELETE("/:id", api.DeleteDocumentHandler)
			documents.POST("/:id/retry", api.RetryDocumentHandler)
		}

		groups := v1.Group("/groups")
		{
			groups.POST("", api.CreateGroupHandler)
			groups.GET("", api.ListGroupsHandler)
			groups.PUT("/:id", api.UpdateGroupHandler)
			groups.DELETE("/:id", api.DeleteGroupHandler)
		}

		tags := v1.Group("/tags")
		{
			tags.GET("", api.ListTagsHandler)
			tags.GET("/popular", api.PopularTagsHandler)
			tags.GET("/search", api.SearchTagsHandler)
			tags.PUT("/:id", api.UpdateTagHandler)
			tags.DELETE("/:id", api.DeleteTagHandler)
		}

		v1.POST("/search", api.SearchHandler)
		v1.POST("/answer", api.AnswerHandler)
	}
}
