package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/loomlabs/loom/backend/internal/chat"
	"github.com/loomlabs/loom/backend/internal/threads"
)

type threadResponsePayload struct {
	ThreadID     string    `json:"threadId"`
	ProjectID    string    `json:"projectId"`
	Title        string    `json:"title"`
	LastActivity time.Time `json:"lastActivity"`
	MessageCount int64     `json:"messageCount"`
	CreatedAt    time.Time `json:"createdAt"`
}

func threadResponse(thread threads.Thread) threadResponsePayload {
	return threadResponsePayload{
		ThreadID:     thread.ThreadID,
		ProjectID:    thread.ProjectID,
		Title:        thread.Title,
		LastActivity: thread.LastActivity,
		MessageCount: thread.MessageCount,
		CreatedAt:    thread.CreatedAt,
	}
}

func (h *httpHandler) handleProjectThreads(c *gin.Context) {
	list, err := h.threads.ListByProject(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.logger.Error("thread listing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "thread_list_failed"})
		return
	}
	payloads := make([]threadResponsePayload, 0, len(list))
	for _, thread := range list {
		payloads = append(payloads, threadResponse(thread))
	}
	c.JSON(http.StatusOK, gin.H{"threads": payloads})
}

// handleThreadGet serves the thread shadow plus its conversation. Messages
// are always re-fetched from the assistant service; the local row only
// contributes the title and project binding.
func (h *httpHandler) handleThreadGet(c *gin.Context) {
	threadID := c.Param("id")
	thread, err := h.threads.Get(c.Request.Context(), threadID)
	if errors.Is(err, threads.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "thread_not_found"})
		return
	}
	if err != nil {
		h.logger.Error("thread lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "thread_get_failed"})
		return
	}

	messages, err := h.chat.Messages(c.Request.Context(), threadID)
	if err != nil {
		h.logger.Error("message retrieval failed",
			zap.String("thread_id", threadID), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "messages_unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"thread":   threadResponse(thread),
		"messages": messagePayloads(messages),
	})
}

func (h *httpHandler) handleThreadDelete(c *gin.Context) {
	threadID := c.Param("id")
	if _, err := h.threads.Get(c.Request.Context(), threadID); err != nil {
		if errors.Is(err, threads.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "thread_not_found"})
			return
		}
		h.logger.Error("thread lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "thread_delete_failed"})
		return
	}
	if err := h.deleteThreadCascade(c, threadID); err != nil {
		h.logger.Error("thread deletion failed",
			zap.String("thread_id", threadID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "thread_delete_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleThreadArchive(c *gin.Context) {
	if h.archive == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "archive_unavailable"})
		return
	}
	threadID := c.Param("id")
	thread, err := h.threads.Get(c.Request.Context(), threadID)
	if errors.Is(err, threads.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "thread_not_found"})
		return
	}
	if err != nil {
		h.logger.Error("thread lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "archive_failed"})
		return
	}

	content, filename, err := h.archive.Build(c.Request.Context(), thread)
	if err != nil {
		h.logger.Error("archive build failed",
			zap.String("thread_id", threadID), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "archive_failed"})
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "application/zip", content)
}

func messagePayloads(messages []chat.Message) []chat.Message {
	if messages == nil {
		return []chat.Message{}
	}
	return messages
}
