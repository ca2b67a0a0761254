package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/loomlabs/loom/backend/internal/sanitize"
)

func (h *httpHandler) handleStorageCleanup(c *gin.Context) {
	if h.files == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage_unavailable"})
		return
	}
	result, err := h.files.Cleanup(c.Request.Context())
	if err != nil {
		h.logger.Error("storage cleanup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cleanup_failed"})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleStorageRecompute(c *gin.Context) {
	if h.files == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage_unavailable"})
		return
	}
	metrics, err := h.files.RecomputeMetrics(c.Request.Context())
	if err != nil {
		h.logger.Error("metrics recompute failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "recompute_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"totalBytes": metrics.TotalBytes,
		"fileCount":  metrics.FileCount,
	})
}

// handleContentCleanup bulk-strips search scaffold that leaked into cached
// thread titles before write-time sanitization existed.
func (h *httpHandler) handleContentCleanup(c *gin.Context) {
	updated, err := h.threads.UpdateTitles(c.Request.Context(), func(title string) string {
		return sanitize.Sanitize(title)
	})
	if err != nil {
		h.logger.Error("content cleanup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "content_cleanup_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"updatedThreads": updated})
}
