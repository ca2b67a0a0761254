package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/loomlabs/loom/backend/internal/projects"
	"github.com/loomlabs/loom/backend/internal/threads"
)

type projectRequestPayload struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Color       string `json:"color"`
}

type projectResponsePayload struct {
	ProjectID   string    `json:"projectId"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Color       string    `json:"color"`
	CreatedAt   time.Time `json:"createdAt"`
}

func projectResponse(project projects.Project) projectResponsePayload {
	return projectResponsePayload{
		ProjectID:   project.ProjectID,
		Name:        project.Name,
		Description: project.Description,
		Color:       project.Color,
		CreatedAt:   project.CreatedAt,
	}
}

func (h *httpHandler) handleProjectCreate(c *gin.Context) {
	var request projectRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	project, err := h.projects.Create(c.Request.Context(), request.Name, request.Description, request.Color)
	if errors.Is(err, projects.ErrInvalidName) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_name"})
		return
	}
	if err != nil {
		h.logger.Error("project creation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "project_create_failed"})
		return
	}
	c.JSON(http.StatusCreated, projectResponse(project))
}

func (h *httpHandler) handleProjectList(c *gin.Context) {
	list, err := h.projects.List(c.Request.Context())
	if err != nil {
		h.logger.Error("project listing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "project_list_failed"})
		return
	}
	payloads := make([]projectResponsePayload, 0, len(list))
	for _, project := range list {
		payloads = append(payloads, projectResponse(project))
	}
	c.JSON(http.StatusOK, gin.H{"projects": payloads})
}

func (h *httpHandler) handleProjectGet(c *gin.Context) {
	project, err := h.projects.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, projects.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "project_not_found"})
		return
	}
	if err != nil {
		h.logger.Error("project lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "project_get_failed"})
		return
	}
	c.JSON(http.StatusOK, projectResponse(project))
}

func (h *httpHandler) handleProjectUpdate(c *gin.Context) {
	var request projectRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	project, err := h.projects.Update(c.Request.Context(), c.Param("id"),
		request.Name, request.Description, request.Color)
	if errors.Is(err, projects.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "project_not_found"})
		return
	}
	if errors.Is(err, projects.ErrInvalidName) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_name"})
		return
	}
	if err != nil {
		h.logger.Error("project update failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "project_update_failed"})
		return
	}
	c.JSON(http.StatusOK, projectResponse(project))
}

// handleProjectDelete removes the project and everything hanging off it:
// every thread's blobs and shares, the thread shadows, then the project row.
// Blob removal talks to object storage, so the cascade runs as ordered
// service calls rather than one database transaction; a failure part-way
// leaves the remaining rows for a retried delete.
func (h *httpHandler) handleProjectDelete(c *gin.Context) {
	ctx := c.Request.Context()
	projectID := c.Param("id")

	if _, err := h.projects.Get(ctx, projectID); err != nil {
		if errors.Is(err, projects.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "project_not_found"})
			return
		}
		h.logger.Error("project lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "project_delete_failed"})
		return
	}

	list, err := h.threads.ListByProject(ctx, projectID)
	if err != nil {
		h.logger.Error("project thread listing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "project_delete_failed"})
		return
	}
	for _, thread := range list {
		if err := h.deleteThreadCascade(c, thread.ThreadID); err != nil {
			h.logger.Error("project cascade delete failed",
				zap.String("project_id", projectID),
				zap.String("thread_id", thread.ThreadID),
				zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "project_delete_failed"})
			return
		}
	}

	if err := h.projects.Delete(ctx, projectID); err != nil && !errors.Is(err, projects.ErrNotFound) {
		h.logger.Error("project deletion failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "project_delete_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) deleteThreadCascade(c *gin.Context, threadID string) error {
	ctx := c.Request.Context()
	if h.files != nil {
		if err := h.files.PurgeThreadFiles(ctx, threadID); err != nil {
			return err
		}
	}
	if h.shares != nil {
		if err := h.shares.PurgeForThread(ctx, threadID); err != nil {
			return err
		}
	}
	if err := h.threads.Delete(ctx, threadID); err != nil && !errors.Is(err, threads.ErrNotFound) {
		return err
	}
	return nil
}
