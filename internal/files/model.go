package files

import (
	"errors"
	"time"
)

var (
	// ErrNotFound indicates no blob record exists for the file id.
	ErrNotFound = errors.New("files: file not found")
	// ErrFileTooLarge indicates an upload above the configured size cap.
	ErrFileTooLarge = errors.New("files: file exceeds size cap")
	// ErrUnsupportedType indicates a content type outside the allow-list
	// without an allow-listed extension.
	ErrUnsupportedType = errors.New("files: unsupported content type")
)

// BlobFile records one object persisted in blob storage. Created on
// successful upload; accessed_at is bumped on every successful read; deleted
// by the quota janitor once storage exceeds the threshold and the file has
// not been accessed within the retention window.
type BlobFile struct {
	FileID          string    `gorm:"column:file_id;primaryKey;size:190;not null"`
	ThreadID        string    `gorm:"column:thread_id;size:190;index"`
	AssistantFileID string    `gorm:"column:assistant_file_id;size:190"`
	ObjectKey       string    `gorm:"column:object_key;size:400;not null"`
	Filename        string    `gorm:"column:filename;size:500;not null"`
	ContentType     string    `gorm:"column:content_type;size:190;not null"`
	SizeBytes       int64     `gorm:"column:size_bytes;not null"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
	AccessedAt      time.Time `gorm:"column:accessed_at;index"`
}

// TableName provides the explicit table binding for GORM.
func (BlobFile) TableName() string {
	return "blob_files"
}

// metricsRowID is the fixed id of the StorageMetrics singleton row.
const metricsRowID = 1

// StorageMetrics is a singleton aggregate over blob_files, maintained
// incrementally by the upload and delete paths. It can drift from the true
// sum; RecomputeMetrics exists precisely because of this.
type StorageMetrics struct {
	ID         int       `gorm:"column:id;primaryKey"`
	TotalBytes int64     `gorm:"column:total_bytes;not null;default:0"`
	FileCount  int64     `gorm:"column:file_count;not null;default:0"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (StorageMetrics) TableName() string {
	return "storage_metrics"
}
