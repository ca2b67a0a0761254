package projects

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	maxNameLength        = 190
	maxDescriptionLength = 2000
	defaultColor         = "#6366f1"
)

var (
	// ErrInvalidName indicates a project name is empty or exceeds storage bounds.
	ErrInvalidName = errors.New("projects: invalid project name")
	// ErrNotFound indicates no project exists for the requested id.
	ErrNotFound = errors.New("projects: project not found")
)

// Project groups conversation threads under a user-chosen name and color.
type Project struct {
	ProjectID   string    `gorm:"column:project_id;primaryKey;size:190;not null"`
	Name        string    `gorm:"column:name;size:190;not null"`
	Description string    `gorm:"column:description;size:2000"`
	Color       string    `gorm:"column:color;size:32;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Project) TableName() string {
	return "projects"
}

func validateName(rawName string) (string, error) {
	name := strings.TrimSpace(rawName)
	if name == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	return name, nil
}
