package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"Thalos_Prime/backend/go/internal/config"
	"Thalos_Prime/backend/go/internal/models"
	"Thalos_Prime/backend/go/internal/task_service/service"
	"Thalos_Prime/backend/go/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// TaskService is the part of the coordinator the handlers depend on.
type TaskService interface {
	Submit(ctx context.Context, intent string, metadata map[string]string) (models.Task, error)
	Get(id string) (models.Task, bool)
	List(filter service.ListFilter) []models.Task
	Status() models.SystemStatus
}

// API provides handlers for the task service.
type API struct {
	service  TaskService
	hub      *service.ConnectionManager
	app      config.AppInfo
	logger   *logger.Logger
	upgrader websocket.Upgrader
}

// NewAPI creates a new API handler. hub may be nil, which disables /ws/subscribe.
func NewAPI(svc TaskService, hub *service.ConnectionManager, app config.AppInfo, log *logger.Logger) *API {
	return &API{
		service: svc,
		hub:     hub,
		app:     app,
		logger:  log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // subscribers are local tools, not browsers
			},
		},
	}
}

type submitRequest struct {
	Intent   string            `json:"intent"`
	Metadata map[string]string `json:"metadata"`
}

// SubmitTaskHandler handles the submission of a new intent.
func (a *API) SubmitTaskHandler(c *gin.Context) {
	var payload submitRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		a.logger.WithError(models.ErrorInfo{Message: err.Error(), Type: "validation_error", StatusCode: http.StatusBadRequest}).Warn("Invalid request payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload"})
		return
	}

	task, err := a.service.Submit(c.Request.Context(), payload.Intent, payload.Metadata)
	switch {
	case errors.Is(err, service.ErrInvalidIntent):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, service.ErrClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	case err != nil:
		a.logger.WithError(models.NewErrorInfo(err)).Error("Failed to submit task")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to submit task"})
		return
	}

	c.JSON(http.StatusAccepted, task)
}

// GetTaskHandler handles requests to get a single task by its ID.
func (a *API) GetTaskHandler(c *gin.Context) {
	task, ok := a.service.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	c.JSON(http.StatusOK, task)
}

// GetTasksHandler lists tasks newest first, optionally filtered by status and limited.
func (a *API) GetTasksHandler(c *gin.Context) {
	var filter service.ListFilter
	if raw := c.Query("status"); raw != "" {
		status, ok := models.ParseTaskStatus(raw)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status: " + raw})
			return
		}
		filter.Status = status
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		filter.Limit = limit
	}

	tasks := a.service.List(filter)
	if tasks == nil {
		tasks = []models.Task{}
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

// StatusHandler reports the task summary and initialization time.
func (a *API) StatusHandler(c *gin.Context) {
	c.JSON(http.StatusOK, a.service.Status())
}

// HealthHandler is a liveness probe.
func (a *API) HealthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "name": a.app.Name, "version": a.app.Version})
}

// WebSocketHandler upgrades the connection and streams task events to it.
func (a *API) WebSocketHandler(c *gin.Context) {
	taskID := strings.TrimSpace(c.Query("task_id"))

	conn, err := a.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		a.logger.WithError(models.NewErrorInfo(err)).Error("Failed to upgrade WebSocket connection")
		return
	}

	id := a.hub.Add(conn, taskID)
	a.logger.WithPayload(map[string]interface{}{"subscription": id, "task_id": taskID}).Debug("WebSocket subscriber added")

	// Reads only detect the peer going away; subscribers never send anything we use.
	go func() {
		defer a.hub.Remove(id)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()
}
