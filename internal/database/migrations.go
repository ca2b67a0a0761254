package database

import (
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/loomlabs/loom/backend/internal/sanitize"
	"github.com/loomlabs/loom/backend/internal/threads"
)

const migrationScrubThreadTitles = "2026-07-12_scrub_thread_title_scaffold"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationScrubThreadTitles, apply: scrubThreadTitleScaffold},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// scrubThreadTitleScaffold cleans thread titles persisted before search
// scaffolding was stripped from first messages at write time.
func scrubThreadTitleScaffold(db *gorm.DB) error {
	var rows []threads.Thread
	if err := db.Where("title LIKE ?", "%"+sanitize.SearchBlockBegin+"%").Find(&rows).Error; err != nil {
		return err
	}
	for _, row := range rows {
		cleaned := strings.TrimSpace(sanitize.StripSearchScaffold(row.Title))
		if cleaned == row.Title {
			continue
		}
		if err := db.Model(&threads.Thread{}).
			Where("thread_id = ?", row.ThreadID).
			Update("title", cleaned).Error; err != nil {
			return err
		}
	}
	return nil
}
