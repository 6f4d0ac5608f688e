package api

import (
	"time"

	"Thalos_Prime/backend/go/internal/models"
	"Thalos_Prime/backend/go/pkg/logger"

	"github.com/gin-gonic/gin"
)

// RequestLogger logs every request with its status and latency.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		reqLogger := log.WithRequest(models.RequestInfo{
			Method:     c.Request.Method,
			Path:       c.FullPath(),
			RemoteAddr: c.ClientIP(),
			UserAgent:  c.Request.UserAgent(),
			StatusCode: c.Writer.Status(),
			LatencyMS:  time.Since(start).Milliseconds(),
		})
		switch {
		case c.Writer.Status() >= 500:
			reqLogger.Error("Request failed")
		case c.Writer.Status() >= 400:
			reqLogger.Warn("Request rejected")
		default:
			reqLogger.Debug("Request served")
		}
	}
}

// NewRouter builds a gin engine with recovery, request logging and every route registered.
func NewRouter(api *API) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(api.logger))
	RegisterRoutes(router, api)
	return router
}

// RegisterRoutes registers all the routes for the task service.
func RegisterRoutes(router *gin.Engine, api *API) {
	router.GET("/health", api.HealthHandler)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/status", api.StatusHandler)

		tasks := v1.Group("/tasks")
		tasks.POST("", api.SubmitTaskHandler)
		tasks.GET("", api.GetTasksHandler)
		tasks.GET("/:id", api.GetTaskHandler)
	}

	if api.hub != nil {
		router.GET("/ws/subscribe", api.WebSocketHandler)
	}
}
