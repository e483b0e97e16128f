package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ovos-raposo/checkout-service/internal/models"
)

// CreateTask handles POST /api/v1/tasks
func (h *Handlers) CreateTask(c *gin.Context) {
	var req models.TaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.TaskResult{Error: "invalid task request"})
		return
	}

	result, err := h.tasks.CreateTask(c.Request.Context(), &req)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, models.TaskResult{Error: "failed to create task"})
		return
	}

	c.JSON(http.StatusOK, result)
}
