package threads

import (
	"errors"
	"time"
)

var (
	// ErrNotFound indicates no thread shadow record exists for the id.
	ErrNotFound = errors.New("threads: thread not found")
	// ErrInvalidThreadID indicates an empty external thread identifier.
	ErrInvalidThreadID = errors.New("threads: invalid thread id")
)

// Thread is the local shadow of a conversation thread owned by the assistant
// service. The id is assigned upstream, never generated locally. Title,
// activity timestamp and message count are a denormalized cache for listing;
// authoritative message content lives only in the assistant service.
type Thread struct {
	ThreadID     string    `gorm:"column:thread_id;primaryKey;size:190;not null"`
	ProjectID    string    `gorm:"column:project_id;size:190;index:idx_threads_project_activity,priority:1"`
	Title        string    `gorm:"column:title;size:500"`
	LastActivity time.Time `gorm:"column:last_activity;index:idx_threads_project_activity,priority:2"`
	MessageCount int64     `gorm:"column:message_count;not null;default:0"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Thread) TableName() string {
	return "threads"
}
