package shares

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const tokenBytes = 32

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

const (
	opServiceNew = "shares.service.new"
	opCreate     = "shares.create"
	opGet        = "shares.get"
	opList       = "shares.list"
	opRevoke     = "shares.revoke"
	opPurge      = "shares.purge"
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

// IDProvider issues identifiers for new share records.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies for the share service.
type ServiceConfig struct {
	Database      *gorm.DB
	Clock         func() time.Time
	IDProvider    IDProvider
	PublicBaseURL string
	Logger        *zap.Logger
}

// Service manages share tokens for threads.
type Service struct {
	db            *gorm.DB
	clock         func() time.Time
	idProvider    IDProvider
	publicBaseURL string
	logger        *zap.Logger
}

// NewService constructs the share service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:            cfg.Database,
		clock:         clock,
		idProvider:    cfg.IDProvider,
		publicBaseURL: cfg.PublicBaseURL,
		logger:        logger,
	}, nil
}

// Create mints a share for the thread with a caller-chosen expiry of 1-30 days.
func (s *Service) Create(ctx context.Context, threadID string, permission Permission, expiryDays int) (ThreadShare, error) {
	if _, err := ParsePermission(string(permission)); err != nil {
		return ThreadShare{}, err
	}
	if expiryDays < minExpiryDays || expiryDays > maxExpiryDays {
		return ThreadShare{}, ErrInvalidExpiry
	}

	shareID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err)
		return ThreadShare{}, newServiceError(opCreate, "id_generation_failed", err)
	}
	token, err := newToken()
	if err != nil {
		s.logError(opCreate, "token_generation_failed", err)
		return ThreadShare{}, newServiceError(opCreate, "token_generation_failed", err)
	}

	now := s.clock().UTC()
	share := ThreadShare{
		ShareID:    shareID,
		ThreadID:   threadID,
		Token:      token,
		Permission: permission,
		ExpiresAt:  now.AddDate(0, 0, expiryDays),
		CreatedAt:  now,
	}
	if err := s.db.WithContext(ctx).Create(&share).Error; err != nil {
		s.logError(opCreate, "insert_failed", err, zap.String("thread_id", threadID))
		return ThreadShare{}, newServiceError(opCreate, "insert_failed", err)
	}
	return share, nil
}

// GetByToken resolves a token to its share. An expired share is reported as
// ErrShareExpired even though the row is never pre-emptively deleted.
func (s *Service) GetByToken(ctx context.Context, token string) (ThreadShare, error) {
	var share ThreadShare
	err := s.db.WithContext(ctx).
		Where("token = ?", token).
		Take(&share).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ThreadShare{}, ErrNotFound
	}
	if err != nil {
		s.logError(opGet, "query_failed", err)
		return ThreadShare{}, newServiceError(opGet, "query_failed", err)
	}
	if !share.ExpiresAt.After(s.clock().UTC()) {
		return ThreadShare{}, ErrShareExpired
	}
	return share, nil
}

// ListForThread returns a thread's shares, including expired ones, newest first.
func (s *Service) ListForThread(ctx context.Context, threadID string) ([]ThreadShare, error) {
	var list []ThreadShare
	if err := s.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("created_at DESC").
		Find(&list).Error; err != nil {
		s.logError(opList, "query_failed", err, zap.String("thread_id", threadID))
		return nil, newServiceError(opList, "query_failed", err)
	}
	return list, nil
}

// Revoke deletes a share by token.
func (s *Service) Revoke(ctx context.Context, token string) error {
	result := s.db.WithContext(ctx).
		Where("token = ?", token).
		Delete(&ThreadShare{})
	if result.Error != nil {
		s.logError(opRevoke, "delete_failed", result.Error)
		return newServiceError(opRevoke, "delete_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// PurgeForThread deletes every share of a thread. Used by cascade deletion.
func (s *Service) PurgeForThread(ctx context.Context, threadID string) error {
	if err := s.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Delete(&ThreadShare{}).Error; err != nil {
		s.logError(opPurge, "delete_failed", err, zap.String("thread_id", threadID))
		return newServiceError(opPurge, "delete_failed", err)
	}
	return nil
}

// ShareURL builds the public link for a share token.
func (s *Service) ShareURL(token string) string {
	return s.publicBaseURL + "/shared/thread/" + token
}

func newToken() (string, error) {
	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}
	attrs = append(attrs, fields...)
	s.logger.Error("shares service error", attrs...)
}
