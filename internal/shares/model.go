package shares

import (
	"errors"
	"time"
)

// Permission scopes what a share token grants on the thread.
type Permission string

const (
	// PermissionRead grants read-only access to the shared thread.
	PermissionRead Permission = "read"
	// PermissionCollaborate additionally allows posting messages.
	PermissionCollaborate Permission = "collaborate"
)

const (
	minExpiryDays = 1
	maxExpiryDays = 30
)

var (
	// ErrNotFound indicates no share exists for the token.
	ErrNotFound = errors.New("shares: share not found")
	// ErrShareExpired indicates the share exists but its expiry has passed.
	// Expiry is computed at read time, not enforced by a background sweep.
	ErrShareExpired = errors.New("shares: share expired")
	// ErrInvalidPermission indicates an unrecognized permission level.
	ErrInvalidPermission = errors.New("shares: invalid permission level")
	// ErrInvalidExpiry indicates an expiry outside the 1-30 day window.
	ErrInvalidExpiry = errors.New("shares: expiry days must be between 1 and 30")
)

// ThreadShare grants time-limited, permission-scoped access to a thread via a
// random high-entropy token, without requiring the viewer to authenticate.
type ThreadShare struct {
	ShareID    string     `gorm:"column:share_id;primaryKey;size:190;not null"`
	ThreadID   string     `gorm:"column:thread_id;size:190;not null;index"`
	Token      string     `gorm:"column:token;size:190;not null;uniqueIndex"`
	Permission Permission `gorm:"column:permission;size:32;not null"`
	ExpiresAt  time.Time  `gorm:"column:expires_at;not null"`
	CreatedAt  time.Time  `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (ThreadShare) TableName() string {
	return "thread_shares"
}

// ParsePermission validates a raw permission value.
func ParsePermission(value string) (Permission, error) {
	switch Permission(value) {
	case PermissionRead:
		return PermissionRead, nil
	case PermissionCollaborate:
		return PermissionCollaborate, nil
	default:
		return "", ErrInvalidPermission
	}
}
