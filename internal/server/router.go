// Package server exposes the HTTP surface: chat turns, project and thread
// management, file upload and serving, share links and the admin endpoints.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/loomlabs/loom/backend/internal/archive"
	"github.com/loomlabs/loom/backend/internal/chat"
	"github.com/loomlabs/loom/backend/internal/files"
	"github.com/loomlabs/loom/backend/internal/projects"
	"github.com/loomlabs/loom/backend/internal/shares"
	"github.com/loomlabs/loom/backend/internal/threads"
)

const sessionThreadContextKey = "loom_session_thread_id"

var (
	errMissingChatService    = errors.New("chat service dependency required")
	errMissingProjectService = errors.New("project service dependency required")
	errMissingThreadService  = errors.New("thread service dependency required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
)

// AssistantUploader pushes uploaded file content into the assistant service so
// it can be attached to messages.
type AssistantUploader interface {
	UploadFile(ctx context.Context, filename string, content []byte) (string, error)
}

// Dependencies wires the services behind the HTTP handlers. Files, Shares,
// Sessions, Uploader and Archive are optional; their endpoints answer 503
// when the backing dependency was not configured.
type Dependencies struct {
	Chat     *chat.Service
	Projects *projects.Service
	Threads  *threads.Service
	Shares   *shares.Service
	Sessions *shares.SessionIssuer
	Files    *files.Store
	Uploader AssistantUploader
	Archive  *archive.Builder
	Logger   *zap.Logger
}

// NewHTTPHandler assembles the gin router with all routes registered.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Chat == nil {
		return nil, errMissingChatService
	}
	if deps.Projects == nil {
		return nil, errMissingProjectService
	}
	if deps.Threads == nil {
		return nil, errMissingThreadService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut,
			http.MethodDelete, http.MethodOptions,
		},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		chat:     deps.Chat,
		projects: deps.Projects,
		threads:  deps.Threads,
		shares:   deps.Shares,
		sessions: deps.Sessions,
		files:    deps.Files,
		uploader: deps.Uploader,
		archive:  deps.Archive,
		logger:   logger,
	}

	router.GET("/healthz", handler.handleHealth)

	api := router.Group("/api")
	api.POST("/chat", handler.handleChat)

	api.POST("/projects", handler.handleProjectCreate)
	api.GET("/projects", handler.handleProjectList)
	api.GET("/projects/:id", handler.handleProjectGet)
	api.PUT("/projects/:id", handler.handleProjectUpdate)
	api.DELETE("/projects/:id", handler.handleProjectDelete)
	api.GET("/projects/:id/threads", handler.handleProjectThreads)

	api.GET("/threads/:id", handler.handleThreadGet)
	api.DELETE("/threads/:id", handler.handleThreadDelete)
	api.GET("/threads/:id/archive", handler.handleThreadArchive)
	api.POST("/threads/:id/shares", handler.handleShareCreate)
	api.GET("/threads/:id/shares", handler.handleShareList)
	api.DELETE("/shares/:token", handler.handleShareRevoke)

	api.POST("/files", handler.handleFileUpload)
	api.GET("/files/:id", handler.handleFileServe)

	api.POST("/admin/storage/cleanup", handler.handleStorageCleanup)
	api.POST("/admin/storage/recompute", handler.handleStorageRecompute)
	api.POST("/admin/content/cleanup", handler.handleContentCleanup)

	shared := router.Group("/shared/thread/:token")
	shared.GET("", handler.handleSharedView)
	shared.POST("/session", handler.handleSharedSession)

	collab := shared.Group("/chat")
	collab.Use(handler.authorizeSession)
	collab.POST("", handler.handleSharedChat)

	return router, nil
}

type httpHandler struct {
	chat     *chat.Service
	projects *projects.Service
	threads  *threads.Service
	shares   *shares.Service
	sessions *shares.SessionIssuer
	files    *files.Store
	uploader AssistantUploader
	archive  *archive.Builder
	logger   *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
