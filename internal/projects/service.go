package projects

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

const (
	opServiceNew = "projects.service.new"
	opCreate     = "projects.create"
	opGet        = "projects.get"
	opList       = "projects.list"
	opUpdate     = "projects.update"
	opDelete     = "projects.delete"
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

// IDProvider issues identifiers for new project records.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies for the project service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service manages project records.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService constructs the project service.
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
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// Create validates and persists a new project.
func (s *Service) Create(ctx context.Context, name, description, color string) (Project, error) {
	validName, err := validateName(name)
	if err != nil {
		return Project{}, err
	}
	if len(description) > maxDescriptionLength {
		description = description[:maxDescriptionLength]
	}
	if color == "" {
		color = defaultColor
	}

	projectID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err)
		return Project{}, newServiceError(opCreate, "id_generation_failed", err)
	}

	project := Project{
		ProjectID:   projectID,
		Name:        validName,
		Description: description,
		Color:       color,
		CreatedAt:   s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&project).Error; err != nil {
		s.logError(opCreate, "insert_failed", err, zap.String("project_id", projectID))
		return Project{}, newServiceError(opCreate, "insert_failed", err)
	}
	return project, nil
}

// Get returns a project by id.
func (s *Service) Get(ctx context.Context, projectID string) (Project, error) {
	var project Project
	err := s.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Take(&project).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Project{}, ErrNotFound
	}
	if err != nil {
		s.logError(opGet, "query_failed", err, zap.String("project_id", projectID))
		return Project{}, newServiceError(opGet, "query_failed", err)
	}
	return project, nil
}

// List returns all projects ordered by creation time, newest first.
func (s *Service) List(ctx context.Context) ([]Project, error) {
	var projects []Project
	if err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Find(&projects).Error; err != nil {
		s.logError(opList, "query_failed", err)
		return nil, newServiceError(opList, "query_failed", err)
	}
	return projects, nil
}

// Update applies non-empty fields to an existing project.
func (s *Service) Update(ctx context.Context, projectID, name, description, color string) (Project, error) {
	project, err := s.Get(ctx, projectID)
	if err != nil {
		return Project{}, err
	}

	updates := map[string]any{}
	if name != "" {
		validName, err := validateName(name)
		if err != nil {
			return Project{}, err
		}
		updates["name"] = validName
	}
	if description != "" {
		if len(description) > maxDescriptionLength {
			description = description[:maxDescriptionLength]
		}
		updates["description"] = description
	}
	if color != "" {
		updates["color"] = color
	}
	if len(updates) == 0 {
		return project, nil
	}

	if err := s.db.WithContext(ctx).
		Model(&Project{}).
		Where("project_id = ?", projectID).
		Updates(updates).Error; err != nil {
		s.logError(opUpdate, "update_failed", err, zap.String("project_id", projectID))
		return Project{}, newServiceError(opUpdate, "update_failed", err)
	}
	return s.Get(ctx, projectID)
}

// Delete removes the project record. Dependent threads, shares and files are
// removed by the caller before the project row goes away.
func (s *Service) Delete(ctx context.Context, projectID string) error {
	result := s.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Delete(&Project{})
	if result.Error != nil {
		s.logError(opDelete, "delete_failed", result.Error, zap.String("project_id", projectID))
		return newServiceError(opDelete, "delete_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}
	attrs = append(attrs, fields...)
	s.logger.Error("projects service error", attrs...)
}
