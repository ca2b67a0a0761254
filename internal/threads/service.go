package threads

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

const (
	opServiceNew = "threads.service.new"
	opRegister   = "threads.register"
	opGet        = "threads.get"
	opList       = "threads.list"
	opTouch      = "threads.touch"
	opDelete     = "threads.delete"

	maxTitleLength = 500
)

// ServiceError carries a dotted operation.reason code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// ServiceConfig describes the dependencies for the thread shadow service.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service manages local shadow records of externally-owned threads.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService constructs the thread service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Register records the shadow row for a thread the assistant service just
// created. The id comes from upstream.
func (s *Service) Register(ctx context.Context, threadID, projectID, title string) (Thread, error) {
	if strings.TrimSpace(threadID) == "" {
		return Thread{}, ErrInvalidThreadID
	}
	thread := Thread{
		ThreadID:     threadID,
		ProjectID:    projectID,
		Title:        truncateTitle(title),
		LastActivity: s.clock().UTC(),
		MessageCount: 0,
		CreatedAt:    s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&thread).Error; err != nil {
		s.logError(opRegister, "insert_failed", err, zap.String("thread_id", threadID))
		return Thread{}, newServiceError(opRegister, "insert_failed", err)
	}
	return thread, nil
}

// Get returns the shadow record for a thread id.
func (s *Service) Get(ctx context.Context, threadID string) (Thread, error) {
	var thread Thread
	err := s.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Take(&thread).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Thread{}, ErrNotFound
	}
	if err != nil {
		s.logError(opGet, "query_failed", err, zap.String("thread_id", threadID))
		return Thread{}, newServiceError(opGet, "query_failed", err)
	}
	return thread, nil
}

// ListByProject returns a project's threads ordered by last activity, newest first.
func (s *Service) ListByProject(ctx context.Context, projectID string) ([]Thread, error) {
	var threads []Thread
	if err := s.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("last_activity DESC").
		Find(&threads).Error; err != nil {
		s.logError(opList, "query_failed", err, zap.String("project_id", projectID))
		return nil, newServiceError(opList, "query_failed", err)
	}
	return threads, nil
}

// TouchActivity upserts the cached title, activity timestamp and message count
// after a chat turn. Last write wins; the cache is advisory, not authoritative.
func (s *Service) TouchActivity(ctx context.Context, threadID, projectID, title string, messageCount int64) error {
	if strings.TrimSpace(threadID) == "" {
		return ErrInvalidThreadID
	}
	now := s.clock().UTC()
	thread := Thread{
		ThreadID:     threadID,
		ProjectID:    projectID,
		Title:        truncateTitle(title),
		LastActivity: now,
		MessageCount: messageCount,
		CreatedAt:    now,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "thread_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"title", "last_activity", "message_count",
			}),
		}).
		Create(&thread).Error
	if err != nil {
		s.logError(opTouch, "upsert_failed", err, zap.String("thread_id", threadID))
		return newServiceError(opTouch, "upsert_failed", err)
	}
	return nil
}

// Delete removes the shadow record. The upstream conversation is not touched.
func (s *Service) Delete(ctx context.Context, threadID string) error {
	result := s.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Delete(&Thread{})
	if result.Error != nil {
		s.logError(opDelete, "delete_failed", result.Error, zap.String("thread_id", threadID))
		return newServiceError(opDelete, "delete_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateTitles applies a transform to every stored thread title and persists
// those that change. Used by the legacy-content cleanup endpoint to strip
// search scaffold that leaked into cached titles.
func (s *Service) UpdateTitles(ctx context.Context, transform func(string) string) (int64, error) {
	var threads []Thread
	if err := s.db.WithContext(ctx).Find(&threads).Error; err != nil {
		s.logError(opList, "query_failed", err)
		return 0, newServiceError(opList, "query_failed", err)
	}

	var changed int64
	for _, thread := range threads {
		cleaned := truncateTitle(transform(thread.Title))
		if cleaned == thread.Title {
			continue
		}
		if err := s.db.WithContext(ctx).
			Model(&Thread{}).
			Where("thread_id = ?", thread.ThreadID).
			Update("title", cleaned).Error; err != nil {
			s.logError(opTouch, "update_failed", err, zap.String("thread_id", thread.ThreadID))
			return changed, newServiceError(opTouch, "update_failed", err)
		}
		changed++
	}
	return changed, nil
}

func truncateTitle(title string) string {
	title = strings.TrimSpace(title)
	if len(title) <= maxTitleLength {
		return title
	}
	cut := maxTitleLength
	for cut > 0 && !utf8.RuneStart(title[cut]) {
		cut--
	}
	return title[:cut]
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}
	attrs = append(attrs, fields...)
	s.logger.Error("threads service error", attrs...)
}
