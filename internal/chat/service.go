// Package chat orchestrates one conversation turn against the assistant
// service: thread resolution, optional web-search augmentation, message
// posting, run execution and reply post-processing.
package chat

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/loomlabs/loom/backend/internal/assistant"
	"github.com/loomlabs/loom/backend/internal/files"
	"github.com/loomlabs/loom/backend/internal/sanitize"
	"github.com/loomlabs/loom/backend/internal/search"
	"github.com/loomlabs/loom/backend/internal/threads"
)

const (
	maxTitleWords = 8

	failedReply   = "The assistant was unable to complete this request. Please try again."
	timedOutReply = "This is taking longer than expected. Please try again in a moment."
	upstreamReply = "The assistant service is unavailable right now. Please try again later."
)

var (
	// ErrEmptyMessage indicates a chat turn without message text.
	ErrEmptyMessage = errors.New("chat: message text is required")
	// ErrAttachmentNotFound indicates an attachment id with no blob record.
	ErrAttachmentNotFound = errors.New("chat: attachment not found")

	errMissingGateway = errors.New("assistant gateway is required")
	errMissingPoller  = errors.New("run poller is required")
	errMissingThreads = errors.New("thread service is required")

	noOpLogger = zap.NewNop()
)

// Gateway is the slice of the assistant client the chat service drives.
type Gateway interface {
	assistant.RunChecker
	CreateThread(ctx context.Context) (string, error)
	PostMessage(ctx context.Context, threadID, content string, attachments []assistant.Attachment) error
	StartRun(ctx context.Context, threadID, assistantID string, tools []assistant.Tool, extraInstructions string) (string, error)
	ListMessages(ctx context.Context, threadID string) ([]assistant.Message, error)
	GetFile(ctx context.Context, fileID string) (assistant.FileMetadata, []byte, error)
}

// Searcher provides web-search augmentation. Optional.
type Searcher interface {
	Search(ctx context.Context, query string) ([]search.Result, error)
}

// FileStore is the slice of the file store the chat service uses.
type FileStore interface {
	Record(ctx context.Context, fileID string) (files.BlobFile, error)
	FindByAssistantFileID(ctx context.Context, assistantFileID string) (files.BlobFile, error)
	Save(ctx context.Context, request files.SaveRequest) (files.BlobFile, error)
}

// ServiceConfig describes the dependencies for the chat service.
type ServiceConfig struct {
	Gateway     Gateway
	Poller      *assistant.Poller
	Searcher    Searcher
	Threads     *threads.Service
	Files       FileStore
	AssistantID string
	Logger      *zap.Logger
}

// Service runs chat turns.
type Service struct {
	gateway     Gateway
	poller      *assistant.Poller
	searcher    Searcher
	threads     *threads.Service
	files       FileStore
	assistantID string
	logger      *zap.Logger
}

// NewService constructs the chat service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Gateway == nil {
		return nil, errMissingGateway
	}
	if cfg.Poller == nil {
		return nil, errMissingPoller
	}
	if cfg.Threads == nil {
		return nil, errMissingThreads
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		gateway:     cfg.Gateway,
		poller:      cfg.Poller,
		searcher:    cfg.Searcher,
		threads:     cfg.Threads,
		files:       cfg.Files,
		assistantID: cfg.AssistantID,
		logger:      logger,
	}, nil
}

// TurnRequest describes one chat turn.
type TurnRequest struct {
	ProjectID        string
	ThreadID         string
	Message          string
	WebSearchEnabled bool
	AttachmentIDs    []string
}

// TurnResult is the outcome of a chat turn. Run failure and timeout surface
// as plain-text reply content, not as errors.
type TurnResult struct {
	ThreadID   string
	Reply      string
	SearchUsed bool
	Sources    []search.Result
}

// Run executes one chat turn. Validation errors return before any upstream
// call; upstream failures after the message may have been durably added are
// not rolled back.
func (s *Service) Run(ctx context.Context, request TurnRequest) (TurnResult, error) {
	message := strings.TrimSpace(request.Message)
	if message == "" {
		return TurnResult{}, ErrEmptyMessage
	}

	attachments, err := s.resolveAttachments(ctx, request.AttachmentIDs)
	if err != nil {
		return TurnResult{}, err
	}

	threadID := strings.TrimSpace(request.ThreadID)
	if threadID == "" {
		created, err := s.gateway.CreateThread(ctx)
		if err != nil {
			s.logger.Error("thread creation failed", zap.Error(err))
			return TurnResult{}, err
		}
		threadID = created
		if _, err := s.threads.Register(ctx, threadID, request.ProjectID, titleFrom(message)); err != nil {
			s.logger.Warn("thread shadow registration failed",
				zap.String("thread_id", threadID), zap.Error(err))
		}
	}

	result := TurnResult{ThreadID: threadID}
	prompt := message
	if request.WebSearchEnabled && s.searcher != nil {
		results, err := s.searcher.Search(ctx, message)
		if err != nil {
			// A search failure never aborts the turn.
			s.logger.Warn("web search failed, proceeding without results", zap.Error(err))
			prompt = search.BuildFallbackPrompt(message)
		} else {
			prompt = search.BuildAugmentedPrompt(message, results)
			result.SearchUsed = true
			result.Sources = results
		}
	}

	if err := s.gateway.PostMessage(ctx, threadID, prompt, attachments); err != nil {
		s.logger.Error("message post failed", zap.String("thread_id", threadID), zap.Error(err))
		result.Reply = upstreamReply
		return result, nil
	}

	var tools []assistant.Tool
	if len(attachments) > 0 {
		tools = []assistant.Tool{assistant.ToolFileSearch, assistant.ToolCodeInterpreter}
	}
	runID, err := s.gateway.StartRun(ctx, threadID, s.assistantID, tools, "")
	if err != nil {
		// The message may already be durably added upstream; accepted
		// inconsistency, not reconciled.
		s.logger.Error("run start failed", zap.String("thread_id", threadID), zap.Error(err))
		result.Reply = upstreamReply
		return result, nil
	}

	switch state := s.poller.Await(ctx, s.gateway, threadID, runID); state {
	case assistant.RunStateCompleted:
		reply, messageCount, err := s.collectReply(ctx, threadID)
		if err != nil {
			s.logger.Error("reply retrieval failed", zap.String("thread_id", threadID), zap.Error(err))
			result.Reply = upstreamReply
			return result, nil
		}
		result.Reply = reply
		s.touchThread(ctx, threadID, request.ProjectID, message, messageCount)
	case assistant.RunStateTimedOut:
		result.Reply = timedOutReply
	default:
		result.Reply = failedReply
	}
	return result, nil
}

// Message is one conversation entry prepared for display.
type Message struct {
	Role             string `json:"role"`
	Text             string `json:"text"`
	CreatedAtSeconds int64  `json:"createdAt"`
}

// Messages re-fetches the thread's conversation from the assistant service in
// chronological order, with assistant text sanitized and file references
// rewritten to local serving links. The local cache is advisory only.
func (s *Service) Messages(ctx context.Context, threadID string) ([]Message, error) {
	upstream, err := s.gateway.ListMessages(ctx, threadID)
	if err != nil {
		return nil, err
	}

	// The service reports reverse-chronological order.
	prepared := make([]Message, 0, len(upstream))
	for index := len(upstream) - 1; index >= 0; index-- {
		message := upstream[index]
		text := message.Text
		if message.Role == "assistant" {
			text = s.rewriteKnownFileRefs(ctx, text, message.FileAnnotations)
			text = sanitize.Sanitize(text)
		}
		prepared = append(prepared, Message{
			Role:             message.Role,
			Text:             text,
			CreatedAtSeconds: message.CreatedAtSeconds,
		})
	}
	return prepared, nil
}

func (s *Service) collectReply(ctx context.Context, threadID string) (string, int64, error) {
	upstream, err := s.gateway.ListMessages(ctx, threadID)
	if err != nil {
		return "", 0, err
	}
	if len(upstream) == 0 {
		return "", 0, fmt.Errorf("chat: thread %s has no messages", threadID)
	}

	// Latest message first in service order.
	latest := upstream[0]
	if latest.Role != "assistant" {
		return failedReply, int64(len(upstream)), nil
	}

	reply := s.storeGeneratedFiles(ctx, threadID, latest.Text, latest.FileAnnotations)
	return sanitize.Sanitize(reply), int64(len(upstream)), nil
}

// storeGeneratedFiles downloads each file the reply references out of the
// assistant's time-limited storage into blob storage, and rewrites the
// reference to the local serving link.
func (s *Service) storeGeneratedFiles(ctx context.Context, threadID, text string, annotations []assistant.FileAnnotation) string {
	if s.files == nil {
		return text
	}
	for _, annotation := range annotations {
		record, err := s.files.FindByAssistantFileID(ctx, annotation.FileID)
		if errors.Is(err, files.ErrNotFound) {
			metadata, content, downloadErr := s.gateway.GetFile(ctx, annotation.FileID)
			if downloadErr != nil {
				s.logger.Warn("generated file download failed, reference left as-is",
					zap.String("assistant_file_id", annotation.FileID),
					zap.Error(downloadErr))
				continue
			}
			record, err = s.files.Save(ctx, files.SaveRequest{
				ThreadID:        threadID,
				AssistantFileID: annotation.FileID,
				Filename:        filepath.Base(metadata.Filename),
				ContentType:     contentTypeFor(metadata.Filename),
				Content:         content,
			})
		}
		if err != nil {
			s.logger.Warn("generated file store failed, reference left as-is",
				zap.String("assistant_file_id", annotation.FileID),
				zap.Error(err))
			continue
		}
		text = strings.ReplaceAll(text, annotation.Text, sanitize.FileServePathPrefix+record.FileID)
	}
	return text
}

// rewriteKnownFileRefs rewrites annotations already backed by a blob record;
// it never downloads on the read path.
func (s *Service) rewriteKnownFileRefs(ctx context.Context, text string, annotations []assistant.FileAnnotation) string {
	if s.files == nil {
		return text
	}
	for _, annotation := range annotations {
		record, err := s.files.FindByAssistantFileID(ctx, annotation.FileID)
		if err != nil {
			continue
		}
		text = strings.ReplaceAll(text, annotation.Text, sanitize.FileServePathPrefix+record.FileID)
	}
	return text
}

func (s *Service) resolveAttachments(ctx context.Context, attachmentIDs []string) ([]assistant.Attachment, error) {
	if len(attachmentIDs) == 0 {
		return nil, nil
	}
	if s.files == nil {
		return nil, ErrAttachmentNotFound
	}
	attachments := make([]assistant.Attachment, 0, len(attachmentIDs))
	for _, fileID := range attachmentIDs {
		record, err := s.files.Record(ctx, fileID)
		if err != nil || record.AssistantFileID == "" {
			return nil, fmt.Errorf("%w: %s", ErrAttachmentNotFound, fileID)
		}
		attachments = append(attachments, assistant.Attachment{FileID: record.AssistantFileID})
	}
	return attachments, nil
}

func (s *Service) touchThread(ctx context.Context, threadID, projectID, message string, messageCount int64) {
	existing, err := s.threads.Get(ctx, threadID)
	title := titleFrom(message)
	if err == nil {
		if existing.Title != "" {
			title = existing.Title
		}
		if projectID == "" {
			projectID = existing.ProjectID
		}
	}
	if err := s.threads.TouchActivity(ctx, threadID, projectID, title, messageCount); err != nil {
		s.logger.Warn("thread cache update failed",
			zap.String("thread_id", threadID), zap.Error(err))
	}
}

func titleFrom(message string) string {
	words := strings.Fields(message)
	if len(words) > maxTitleWords {
		words = words[:maxTitleWords]
		return strings.Join(words, " ") + "…"
	}
	return strings.Join(words, " ")
}

func contentTypeFor(filename string) string {
	if detected := mime.TypeByExtension(filepath.Ext(filename)); detected != "" {
		return detected
	}
	return "application/octet-stream"
}
