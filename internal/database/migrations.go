package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/botdesk/internal/store"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationNormalizeMessageDirection = "2026-10-01_normalize_message_direction"

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
		{name: migrationNormalizeMessageDirection, apply: normalizeMessageDirection},
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

// normalizeMessageDirection rewrites rows imported before direction validation existed.
func normalizeMessageDirection(db *gorm.DB) error {
	if err := db.Model(&store.BotMessage{}).
		Where("LOWER(direction) = ? AND direction <> ?", "out", "out").
		Update("direction", store.DirectionOut).Error; err != nil {
		return err
	}
	return db.Model(&store.BotMessage{}).
		Where("direction NOT IN ?", []string{string(store.DirectionIn), string(store.DirectionOut)}).
		Update("direction", store.DirectionIn).Error
}
