package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/loomlabs/loom/backend/internal/files"
)

type fileResponsePayload struct {
	FileID    string `json:"fileId"`
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"sizeBytes"`
}

// handleFileUpload accepts a multipart upload, pushes the content to the
// assistant service for attachment use and mirrors it into blob storage.
// Validation happens before either upload is attempted.
func (h *httpHandler) handleFileUpload(c *gin.Context) {
	if h.files == nil || h.uploader == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "uploads_unavailable"})
		return
	}

	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file_required"})
		return
	}
	threadID := c.PostForm("threadId")

	contentType := header.Header.Get("Content-Type")
	if err := h.files.ValidateUpload(header.Filename, contentType, header.Size); err != nil {
		if errors.Is(err, files.ErrFileTooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file_too_large"})
			return
		}
		if errors.Is(err, files.ErrUnsupportedType) {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported_file_type"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_file"})
		return
	}

	opened, err := header.Open()
	if err != nil {
		h.logger.Error("upload open failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upload_failed"})
		return
	}
	defer opened.Close() //nolint:errcheck
	content, err := io.ReadAll(opened)
	if err != nil {
		h.logger.Error("upload read failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upload_failed"})
		return
	}

	assistantFileID, err := h.uploader.UploadFile(c.Request.Context(), header.Filename, content)
	if err != nil {
		h.logger.Error("assistant file upload failed",
			zap.String("filename", header.Filename), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream_upload_failed"})
		return
	}

	record, err := h.files.Save(c.Request.Context(), files.SaveRequest{
		ThreadID:        threadID,
		AssistantFileID: assistantFileID,
		Filename:        header.Filename,
		ContentType:     contentType,
		Content:         content,
	})
	if err != nil {
		h.logger.Error("blob save failed",
			zap.String("filename", header.Filename), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upload_failed"})
		return
	}

	c.JSON(http.StatusCreated, fileResponsePayload{
		FileID:    record.FileID,
		Filename:  record.Filename,
		SizeBytes: record.SizeBytes,
	})
}

// handleFileServe streams a stored file. The preview query parameter switches
// the disposition to inline so browsers render instead of download.
func (h *httpHandler) handleFileServe(c *gin.Context) {
	if h.files == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "files_unavailable"})
		return
	}

	record, content, err := h.files.Open(c.Request.Context(), c.Param("id"))
	if errors.Is(err, files.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "file_not_found"})
		return
	}
	if err != nil {
		h.logger.Error("file open failed",
			zap.String("file_id", c.Param("id")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "file_serve_failed"})
		return
	}
	defer content.Close() //nolint:errcheck

	disposition := "attachment"
	if c.Query("preview") == "true" {
		disposition = "inline"
	}
	contentType := record.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	extraHeaders := map[string]string{
		"Content-Disposition": fmt.Sprintf("%s; filename=%q", disposition, record.Filename),
	}
	c.DataFromReader(http.StatusOK, record.SizeBytes, contentType, content, extraHeaders)
}
