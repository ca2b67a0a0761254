package database

import (
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/loomlabs/loom/backend/internal/files"
	"github.com/loomlabs/loom/backend/internal/projects"
	"github.com/loomlabs/loom/backend/internal/shares"
	"github.com/loomlabs/loom/backend/internal/threads"
)

// OpenSQLite establishes a SQLite connection and performs schema migrations.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&projects.Project{},
		&threads.Thread{},
		&shares.ThreadShare{},
		&files.BlobFile{},
		&files.StorageMetrics{},
		&migrationRecord{},
	); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	return db, nil
}
