package projects

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type sequentialIDProvider struct {
	next int
}

func (p *sequentialIDProvider) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("project-%d", p.next), nil
}

func mustOpenDatabase(testContext *testing.T) *gorm.DB {
	testContext.Helper()
	databasePath := filepath.Join(testContext.TempDir(), "projects.db")
	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.AutoMigrate(&Project{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}
	return database
}

func mustNewService(testContext *testing.T) *Service {
	testContext.Helper()
	service, err := NewService(ServiceConfig{
		Database:   mustOpenDatabase(testContext),
		Clock:      func() time.Time { return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC) },
		IDProvider: &sequentialIDProvider{},
	})
	if err != nil {
		testContext.Fatalf("failed to construct service: %v", err)
	}
	return service
}

func TestCreateAppliesDefaultColor(testContext *testing.T) {
	service := mustNewService(testContext)

	project, err := service.Create(context.Background(), "Research", "long running questions", "")
	if err != nil {
		testContext.Fatalf("failed to create project: %v", err)
	}
	if project.Color != defaultColor {
		testContext.Fatalf("expected default color %q, got %q", defaultColor, project.Color)
	}
	if project.ProjectID == "" {
		testContext.Fatalf("expected generated project id")
	}
}

func TestCreateRejectsInvalidName(testContext *testing.T) {
	service := mustNewService(testContext)

	if _, err := service.Create(context.Background(), "   ", "", ""); !errors.Is(err, ErrInvalidName) {
		testContext.Fatalf("expected ErrInvalidName for blank name, got %v", err)
	}
	tooLong := strings.Repeat("x", maxNameLength+1)
	if _, err := service.Create(context.Background(), tooLong, "", ""); !errors.Is(err, ErrInvalidName) {
		testContext.Fatalf("expected ErrInvalidName for oversized name, got %v", err)
	}
}

func TestCreateTruncatesOversizedDescription(testContext *testing.T) {
	service := mustNewService(testContext)

	oversized := strings.Repeat("d", maxDescriptionLength+50)
	project, err := service.Create(context.Background(), "Docs", oversized, "#000000")
	if err != nil {
		testContext.Fatalf("failed to create project: %v", err)
	}
	if len(project.Description) != maxDescriptionLength {
		testContext.Fatalf("expected description truncated to %d, got %d", maxDescriptionLength, len(project.Description))
	}
}

func TestListOrdersNewestFirst(testContext *testing.T) {
	database := mustOpenDatabase(testContext)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	service, err := NewService(ServiceConfig{
		Database:   database,
		Clock:      func() time.Time { return now },
		IDProvider: &sequentialIDProvider{},
	})
	if err != nil {
		testContext.Fatalf("failed to construct service: %v", err)
	}

	for index, name := range []string{"alpha", "beta", "gamma"} {
		created := now.Add(time.Duration(index) * time.Minute)
		if err := database.Create(&Project{
			ProjectID: fmt.Sprintf("seed-%d", index),
			Name:      name,
			Color:     defaultColor,
			CreatedAt: created,
		}).Error; err != nil {
			testContext.Fatalf("failed to seed project: %v", err)
		}
	}

	list, err := service.List(context.Background())
	if err != nil {
		testContext.Fatalf("failed to list projects: %v", err)
	}
	if len(list) != 3 {
		testContext.Fatalf("expected 3 projects, got %d", len(list))
	}
	if list[0].Name != "gamma" || list[2].Name != "alpha" {
		testContext.Fatalf("expected newest first ordering, got %q..%q", list[0].Name, list[2].Name)
	}
}

func TestUpdateAppliesOnlyProvidedFields(testContext *testing.T) {
	service := mustNewService(testContext)

	created, err := service.Create(context.Background(), "Initial", "first", "#111111")
	if err != nil {
		testContext.Fatalf("failed to create project: %v", err)
	}

	updated, err := service.Update(context.Background(), created.ProjectID, "Renamed", "", "")
	if err != nil {
		testContext.Fatalf("failed to update project: %v", err)
	}
	if updated.Name != "Renamed" {
		testContext.Fatalf("expected renamed project, got %q", updated.Name)
	}
	if updated.Description != "first" || updated.Color != "#111111" {
		testContext.Fatalf("expected untouched fields preserved, got %q %q", updated.Description, updated.Color)
	}
}

func TestUpdateMissingProjectReturnsNotFound(testContext *testing.T) {
	service := mustNewService(testContext)

	if _, err := service.Update(context.Background(), "absent", "name", "", ""); !errors.Is(err, ErrNotFound) {
		testContext.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteRemovesProject(testContext *testing.T) {
	service := mustNewService(testContext)

	created, err := service.Create(context.Background(), "Doomed", "", "")
	if err != nil {
		testContext.Fatalf("failed to create project: %v", err)
	}
	if err := service.Delete(context.Background(), created.ProjectID); err != nil {
		testContext.Fatalf("failed to delete project: %v", err)
	}
	if _, err := service.Get(context.Background(), created.ProjectID); !errors.Is(err, ErrNotFound) {
		testContext.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := service.Delete(context.Background(), created.ProjectID); !errors.Is(err, ErrNotFound) {
		testContext.Fatalf("expected ErrNotFound for repeated delete, got %v", err)
	}
}
