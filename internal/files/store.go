// Package files manages uploaded and assistant-generated file content: blob
// storage objects, their database records, aggregate storage metrics and the
// quota janitor.
package files

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase    = errors.New("database handle is required")
	errMissingObjectStore = errors.New("object store is required")
	errMissingIDProvider  = errors.New("id provider is required")
	noOpLogger            = zap.NewNop()
)

const (
	opStoreNew    = "files.store.new"
	opSave        = "files.save"
	opOpen        = "files.open"
	opDelete      = "files.delete"
	opPurgeThread = "files.purge_thread"
	opMetrics     = "files.metrics"
	opRecompute   = "files.recompute_metrics"
	opCleanup     = "files.cleanup"
)

// allowedContentTypes is the upload allow-list. A type outside the list is
// still accepted when the filename carries an allow-listed extension.
var allowedContentTypes = map[string]struct{}{
	"text/plain":         {},
	"text/markdown":      {},
	"text/csv":           {},
	"text/html":          {},
	"application/pdf":    {},
	"application/json":   {},
	"image/png":          {},
	"image/jpeg":         {},
	"image/gif":          {},
	"image/webp":         {},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   {},
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         {},
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": {},
}

var allowedExtensions = map[string]struct{}{
	".txt": {}, ".md": {}, ".csv": {}, ".html": {}, ".pdf": {}, ".json": {},
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".webp": {},
	".docx": {}, ".xlsx": {}, ".pptx": {},
}

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

// ObjectStore abstracts the blob storage backend.
type ObjectStore interface {
	Put(ctx context.Context, key, contentType string, size int64, content io.Reader) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Remove(ctx context.Context, key string) error
}

// IDProvider issues identifiers for new blob records.
type IDProvider interface {
	NewID() (string, error)
}

// Limits bounds uploads and steers the quota janitor.
type Limits struct {
	MaxUploadBytes        int64
	CleanupThresholdBytes int64
	CleanupTargetBytes    int64
	RetentionDays         int
}

// StoreConfig describes the dependencies for the file store.
type StoreConfig struct {
	Database   *gorm.DB
	Objects    ObjectStore
	Clock      func() time.Time
	IDProvider IDProvider
	Limits     Limits
	Logger     *zap.Logger
}

// Store persists file content in blob storage with database bookkeeping.
type Store struct {
	db         *gorm.DB
	objects    ObjectStore
	clock      func() time.Time
	idProvider IDProvider
	limits     Limits
	logger     *zap.Logger
}

// NewStore constructs the file store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opStoreNew, "missing_database", errMissingDatabase)
	}
	if cfg.Objects == nil {
		return nil, newServiceError(opStoreNew, "missing_object_store", errMissingObjectStore)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opStoreNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{
		db:         cfg.Database,
		objects:    cfg.Objects,
		clock:      clock,
		idProvider: cfg.IDProvider,
		limits:     cfg.Limits,
		logger:     logger,
	}, nil
}

// ValidateUpload enforces the size cap and content-type allow-list. It must
// pass before any upstream upload call is attempted.
func (s *Store) ValidateUpload(filename, contentType string, size int64) error {
	if s.limits.MaxUploadBytes > 0 && size > s.limits.MaxUploadBytes {
		return ErrFileTooLarge
	}
	normalized := strings.ToLower(strings.TrimSpace(contentType))
	if index := strings.Index(normalized, ";"); index >= 0 {
		normalized = strings.TrimSpace(normalized[:index])
	}
	if _, ok := allowedContentTypes[normalized]; ok {
		return nil
	}
	extension := strings.ToLower(filepath.Ext(filename))
	if _, ok := allowedExtensions[extension]; ok {
		return nil
	}
	return ErrUnsupportedType
}

// SaveRequest carries one file to persist.
type SaveRequest struct {
	ThreadID        string
	AssistantFileID string
	Filename        string
	ContentType     string
	Content         []byte
}

// Save writes the content to blob storage and records it, bumping metrics.
func (s *Store) Save(ctx context.Context, request SaveRequest) (BlobFile, error) {
	fileID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opSave, "id_generation_failed", err)
		return BlobFile{}, newServiceError(opSave, "id_generation_failed", err)
	}

	size := int64(len(request.Content))
	if err := s.objects.Put(ctx, fileID, request.ContentType, size, bytes.NewReader(request.Content)); err != nil {
		s.logError(opSave, "object_put_failed", err, zap.String("file_id", fileID))
		return BlobFile{}, newServiceError(opSave, "object_put_failed", err)
	}

	now := s.clock().UTC()
	record := BlobFile{
		FileID:          fileID,
		ThreadID:        request.ThreadID,
		AssistantFileID: request.AssistantFileID,
		ObjectKey:       fileID,
		Filename:        request.Filename,
		ContentType:     request.ContentType,
		SizeBytes:       size,
		CreatedAt:       now,
		AccessedAt:      now,
	}
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
		return adjustMetrics(tx, size, 1, now)
	})
	if txErr != nil {
		s.logError(opSave, "record_insert_failed", txErr, zap.String("file_id", fileID))
		return BlobFile{}, newServiceError(opSave, "record_insert_failed", txErr)
	}
	return record, nil
}

// Open returns the record and a reader over the stored content, bumping the
// record's last-access timestamp.
func (s *Store) Open(ctx context.Context, fileID string) (BlobFile, io.ReadCloser, error) {
	record, err := s.get(ctx, fileID)
	if err != nil {
		return BlobFile{}, nil, err
	}

	content, err := s.objects.Get(ctx, record.ObjectKey)
	if err != nil {
		s.logError(opOpen, "object_get_failed", err, zap.String("file_id", fileID))
		return BlobFile{}, nil, newServiceError(opOpen, "object_get_failed", err)
	}

	now := s.clock().UTC()
	if err := s.db.WithContext(ctx).
		Model(&BlobFile{}).
		Where("file_id = ?", fileID).
		Update("accessed_at", now).Error; err != nil {
		s.logError(opOpen, "access_bump_failed", err, zap.String("file_id", fileID))
	}
	record.AccessedAt = now
	return record, content, nil
}

// Delete removes the stored object, its record and its share of the metrics.
func (s *Store) Delete(ctx context.Context, fileID string) error {
	record, err := s.get(ctx, fileID)
	if err != nil {
		return err
	}
	return s.deleteRecord(ctx, record)
}

// ListThreadFiles returns a thread's blob records, oldest first.
func (s *Store) ListThreadFiles(ctx context.Context, threadID string) ([]BlobFile, error) {
	var records []BlobFile
	if err := s.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("created_at ASC").
		Find(&records).Error; err != nil {
		s.logError(opOpen, "query_failed", err, zap.String("thread_id", threadID))
		return nil, newServiceError(opOpen, "query_failed", err)
	}
	return records, nil
}

// PurgeThreadFiles deletes every blob of a thread. Used by cascade deletion.
func (s *Store) PurgeThreadFiles(ctx context.Context, threadID string) error {
	var records []BlobFile
	if err := s.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Find(&records).Error; err != nil {
		s.logError(opPurgeThread, "query_failed", err, zap.String("thread_id", threadID))
		return newServiceError(opPurgeThread, "query_failed", err)
	}
	for _, record := range records {
		if err := s.deleteRecord(ctx, record); err != nil {
			return err
		}
	}
	return nil
}

// Metrics returns the aggregate singleton row, zero-valued when absent.
func (s *Store) Metrics(ctx context.Context) (StorageMetrics, error) {
	var metrics StorageMetrics
	err := s.db.WithContext(ctx).
		Where("id = ?", metricsRowID).
		Take(&metrics).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return StorageMetrics{ID: metricsRowID}, nil
	}
	if err != nil {
		s.logError(opMetrics, "query_failed", err)
		return StorageMetrics{}, newServiceError(opMetrics, "query_failed", err)
	}
	return metrics, nil
}

// RecomputeMetrics rebuilds the aggregate row from a full table scan. The
// incremental bookkeeping can drift; this endpoint exists because of that.
func (s *Store) RecomputeMetrics(ctx context.Context) (StorageMetrics, error) {
	var totals struct {
		TotalBytes int64
		FileCount  int64
	}
	if err := s.db.WithContext(ctx).
		Model(&BlobFile{}).
		Select("COALESCE(SUM(size_bytes),0) AS total_bytes, COUNT(*) AS file_count").
		Scan(&totals).Error; err != nil {
		s.logError(opRecompute, "scan_failed", err)
		return StorageMetrics{}, newServiceError(opRecompute, "scan_failed", err)
	}

	metrics := StorageMetrics{
		ID:         metricsRowID,
		TotalBytes: totals.TotalBytes,
		FileCount:  totals.FileCount,
		UpdatedAt:  s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Save(&metrics).Error; err != nil {
		s.logError(opRecompute, "save_failed", err)
		return StorageMetrics{}, newServiceError(opRecompute, "save_failed", err)
	}
	return metrics, nil
}

// Record returns the blob record for a file id without touching content or
// the access timestamp.
func (s *Store) Record(ctx context.Context, fileID string) (BlobFile, error) {
	return s.get(ctx, fileID)
}

// FindByAssistantFileID resolves the blob record mirroring an assistant-side
// file, if one was stored.
func (s *Store) FindByAssistantFileID(ctx context.Context, assistantFileID string) (BlobFile, error) {
	var record BlobFile
	err := s.db.WithContext(ctx).
		Where("assistant_file_id = ?", assistantFileID).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return BlobFile{}, ErrNotFound
	}
	if err != nil {
		s.logError(opOpen, "query_failed", err, zap.String("assistant_file_id", assistantFileID))
		return BlobFile{}, newServiceError(opOpen, "query_failed", err)
	}
	return record, nil
}

func (s *Store) get(ctx context.Context, fileID string) (BlobFile, error) {
	var record BlobFile
	err := s.db.WithContext(ctx).
		Where("file_id = ?", fileID).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return BlobFile{}, ErrNotFound
	}
	if err != nil {
		s.logError(opOpen, "query_failed", err, zap.String("file_id", fileID))
		return BlobFile{}, newServiceError(opOpen, "query_failed", err)
	}
	return record, nil
}

func (s *Store) deleteRecord(ctx context.Context, record BlobFile) error {
	if err := s.objects.Remove(ctx, record.ObjectKey); err != nil {
		// The record is still removed so bookkeeping cannot wedge on a
		// missing object; the orphan is logged for manual cleanup.
		s.logError(opDelete, "object_remove_failed", err, zap.String("file_id", record.FileID))
	}
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("file_id = ?", record.FileID).Delete(&BlobFile{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}
		return adjustMetrics(tx, -record.SizeBytes, -1, s.clock().UTC())
	})
	if txErr != nil {
		s.logError(opDelete, "record_delete_failed", txErr, zap.String("file_id", record.FileID))
		return newServiceError(opDelete, "record_delete_failed", txErr)
	}
	return nil
}

func adjustMetrics(tx *gorm.DB, deltaBytes, deltaCount int64, now time.Time) error {
	var metrics StorageMetrics
	err := tx.Where("id = ?", metricsRowID).Take(&metrics).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		metrics = StorageMetrics{ID: metricsRowID}
	} else if err != nil {
		return err
	}
	metrics.TotalBytes += deltaBytes
	metrics.FileCount += deltaCount
	if metrics.TotalBytes < 0 {
		metrics.TotalBytes = 0
	}
	if metrics.FileCount < 0 {
		metrics.FileCount = 0
	}
	metrics.UpdatedAt = now
	return tx.Save(&metrics).Error
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}
	attrs = append(attrs, fields...)
	s.logger.Error("files store error", attrs...)
}
