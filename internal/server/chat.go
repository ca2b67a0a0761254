package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/loomlabs/loom/backend/internal/chat"
	"github.com/loomlabs/loom/backend/internal/search"
)

type chatRequestPayload struct {
	Message          string   `json:"message"`
	ProjectID        string   `json:"projectId"`
	ThreadID         string   `json:"threadId"`
	WebSearchEnabled bool     `json:"webSearchEnabled"`
	AttachmentIDs    []string `json:"attachmentIds"`
}

type chatResponsePayload struct {
	ThreadID   string          `json:"threadId"`
	Reply      string          `json:"reply"`
	SearchUsed bool            `json:"searchUsed"`
	Sources    []sourcePayload `json:"sources,omitempty"`
}

type sourcePayload struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

func (h *httpHandler) handleChat(c *gin.Context) {
	var request chatRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	result, err := h.chat.Run(c.Request.Context(), chat.TurnRequest{
		ProjectID:        request.ProjectID,
		ThreadID:         request.ThreadID,
		Message:          request.Message,
		WebSearchEnabled: request.WebSearchEnabled,
		AttachmentIDs:    request.AttachmentIDs,
	})
	if errors.Is(err, chat.ErrEmptyMessage) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message_required"})
		return
	}
	if errors.Is(err, chat.ErrAttachmentNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "attachment_not_found"})
		return
	}
	if err != nil {
		h.logger.Error("chat turn failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "chat_failed"})
		return
	}

	c.JSON(http.StatusOK, chatResponse(result))
}

func chatResponse(result chat.TurnResult) chatResponsePayload {
	return chatResponsePayload{
		ThreadID:   result.ThreadID,
		Reply:      result.Reply,
		SearchUsed: result.SearchUsed,
		Sources:    sourcePayloads(result.Sources),
	}
}

func sourcePayloads(results []search.Result) []sourcePayload {
	if len(results) == 0 {
		return nil
	}
	payloads := make([]sourcePayload, 0, len(results))
	for _, result := range results {
		payloads = append(payloads, sourcePayload{
			Title:   result.Title,
			URL:     result.URL,
			Snippet: result.Snippet,
		})
	}
	return payloads
}
