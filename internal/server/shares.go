package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/loomlabs/loom/backend/internal/chat"
	"github.com/loomlabs/loom/backend/internal/shares"
	"github.com/loomlabs/loom/backend/internal/threads"
)

type shareRequestPayload struct {
	Permissions string `json:"permissions"`
	ExpiryDays  int    `json:"expiryDays"`
}

type shareResponsePayload struct {
	Token       string    `json:"token"`
	URL         string    `json:"url"`
	Permissions string    `json:"permissions"`
	ExpiresAt   time.Time `json:"expiresAt"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (h *httpHandler) shareResponse(share shares.ThreadShare) shareResponsePayload {
	return shareResponsePayload{
		Token:       share.Token,
		URL:         h.shares.ShareURL(share.Token),
		Permissions: string(share.Permission),
		ExpiresAt:   share.ExpiresAt,
		CreatedAt:   share.CreatedAt,
	}
}

func (h *httpHandler) handleShareCreate(c *gin.Context) {
	if h.shares == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "sharing_unavailable"})
		return
	}
	var request shareRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	threadID := c.Param("id")
	if _, err := h.threads.Get(c.Request.Context(), threadID); err != nil {
		if errors.Is(err, threads.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "thread_not_found"})
			return
		}
		h.logger.Error("thread lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "share_create_failed"})
		return
	}

	share, err := h.shares.Create(c.Request.Context(), threadID,
		shares.Permission(request.Permissions), request.ExpiryDays)
	if errors.Is(err, shares.ErrInvalidPermission) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_permission"})
		return
	}
	if errors.Is(err, shares.ErrInvalidExpiry) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_expiry"})
		return
	}
	if err != nil {
		h.logger.Error("share creation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "share_create_failed"})
		return
	}
	c.JSON(http.StatusCreated, h.shareResponse(share))
}

func (h *httpHandler) handleShareList(c *gin.Context) {
	if h.shares == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "sharing_unavailable"})
		return
	}
	list, err := h.shares.ListForThread(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.logger.Error("share listing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "share_list_failed"})
		return
	}
	payloads := make([]shareResponsePayload, 0, len(list))
	for _, share := range list {
		payloads = append(payloads, h.shareResponse(share))
	}
	c.JSON(http.StatusOK, gin.H{"shares": payloads})
}

func (h *httpHandler) handleShareRevoke(c *gin.Context) {
	if h.shares == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "sharing_unavailable"})
		return
	}
	err := h.shares.Revoke(c.Request.Context(), c.Param("token"))
	if errors.Is(err, shares.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "share_not_found"})
		return
	}
	if err != nil {
		h.logger.Error("share revocation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "share_revoke_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) resolveShare(c *gin.Context) (shares.ThreadShare, bool) {
	if h.shares == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "sharing_unavailable"})
		return shares.ThreadShare{}, false
	}
	share, err := h.shares.GetByToken(c.Request.Context(), c.Param("token"))
	if errors.Is(err, shares.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "share_not_found"})
		return shares.ThreadShare{}, false
	}
	if errors.Is(err, shares.ErrShareExpired) {
		c.JSON(http.StatusGone, gin.H{"error": "share_expired"})
		return shares.ThreadShare{}, false
	}
	if err != nil {
		h.logger.Error("share lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "share_lookup_failed"})
		return shares.ThreadShare{}, false
	}
	return share, true
}

// handleSharedView serves the shared thread to an unauthenticated viewer.
func (h *httpHandler) handleSharedView(c *gin.Context) {
	share, ok := h.resolveShare(c)
	if !ok {
		return
	}

	title := ""
	if thread, err := h.threads.Get(c.Request.Context(), share.ThreadID); err == nil {
		title = thread.Title
	}

	messages, err := h.chat.Messages(c.Request.Context(), share.ThreadID)
	if err != nil {
		h.logger.Error("shared message retrieval failed",
			zap.String("thread_id", share.ThreadID), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "messages_unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"threadId":    share.ThreadID,
		"title":       title,
		"permissions": string(share.Permission),
		"expiresAt":   share.ExpiresAt,
		"messages":    messagePayloads(messages),
	})
}

// handleSharedSession exchanges a collaborate share for a short-lived session
// token so subsequent posts don't carry the share token itself.
func (h *httpHandler) handleSharedSession(c *gin.Context) {
	share, ok := h.resolveShare(c)
	if !ok {
		return
	}
	if h.sessions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "sessions_unavailable"})
		return
	}

	token, expiresIn, err := h.sessions.IssueSession(share)
	if errors.Is(err, shares.ErrNotCollaborate) {
		c.JSON(http.StatusForbidden, gin.H{"error": "share_read_only"})
		return
	}
	if errors.Is(err, shares.ErrShareExpired) {
		c.JSON(http.StatusGone, gin.H{"error": "share_expired"})
		return
	}
	if err != nil {
		h.logger.Error("session issue failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sessionToken": token,
		"expiresIn":    expiresIn,
		"tokenType":    "Bearer",
	})
}

type sharedChatRequestPayload struct {
	Message          string `json:"message"`
	WebSearchEnabled bool   `json:"webSearchEnabled"`
}

// handleSharedChat posts a collaborate turn. The thread is taken from the
// validated session token, never from the request body; attachments are not
// accepted on shared turns.
func (h *httpHandler) handleSharedChat(c *gin.Context) {
	share, ok := h.resolveShare(c)
	if !ok {
		return
	}
	sessionThreadID := c.GetString(sessionThreadContextKey)
	if sessionThreadID == "" || sessionThreadID != share.ThreadID {
		c.JSON(http.StatusForbidden, gin.H{"error": "session_thread_mismatch"})
		return
	}

	var request sharedChatRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	result, err := h.chat.Run(c.Request.Context(), chat.TurnRequest{
		ThreadID:         share.ThreadID,
		Message:          request.Message,
		WebSearchEnabled: request.WebSearchEnabled,
	})
	if errors.Is(err, chat.ErrEmptyMessage) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message_required"})
		return
	}
	if err != nil {
		h.logger.Error("shared chat turn failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "chat_failed"})
		return
	}
	c.JSON(http.StatusOK, chatResponse(result))
}

func (h *httpHandler) authorizeSession(c *gin.Context) {
	if h.sessions == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "sessions_unavailable"})
		return
	}
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	threadID, err := h.sessions.ValidateSession(token)
	if err != nil {
		h.logger.Warn("session validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(sessionThreadContextKey, threadID)
	c.Next()
}
