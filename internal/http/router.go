package http

import (
	"github.com/gin-gonic/gin"
)

// NewRouter creates and configures the HTTP router with all endpoints.
// Uses RouterConfig to receive all dependencies, improving testability
// and reducing parameter count.
func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	health := NewHealthController(cfg.Database, cfg.Version)
	syncController := NewSyncController(cfg)
	projectsController := NewProjectsController(cfg.Projects, cfg.AllowedProjects)

	// Health endpoints
	router.GET("/health", health.Status)
	router.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "pong",
		})
	})

	// Read endpoints
	router.GET("/api/sync/status", syncController.Status)
	router.GET("/api/sync/history", syncController.History)
	router.GET("/api/sync/:id/errors", syncController.Errors)
	router.GET("/api/sync/test-connection", syncController.TestConnection)
	router.GET("/api/projects/status", projectsController.Status)

	// Live progress stream
	if cfg.Hub != nil {
		eventsController := NewEventsController(cfg.Hub)
		router.GET("/api/sync/events", eventsController.Subscribe)
	}

	// Mutating endpoints, token-guarded when a token is configured
	mutating := router.Group("/")
	if cfg.APIToken != "" {
		mutating.Use(APITokenMiddleware(cfg.APIToken))
	}
	mutating.POST("/api/sync", syncController.Trigger)
	mutating.POST("/api/sync/cancel", syncController.Cancel)
	mutating.POST("/api/sync/:id/retry", syncController.Retry)
	mutating.POST("/api/sync/worklogs", syncController.TriggerWorklogSync)
	mutating.POST("/api/maintenance/cleanup-orphans", syncController.CleanupOrphans)

	return router
}
