package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/botdesk/internal/store"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestApplyMigrationsNormalizesMessageDirection(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	if err := database.AutoMigrate(&store.BotMessage{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	legacy := []store.BotMessage{
		{TelegramID: 1, Direction: "OUT", Text: "reply", CreatedAt: time.Unix(100, 0).UTC()},
		{TelegramID: 1, Direction: "incoming", Text: "hello", CreatedAt: time.Unix(101, 0).UTC()},
		{TelegramID: 2, Direction: store.DirectionOut, Text: "ok", CreatedAt: time.Unix(102, 0).UTC()},
	}
	if err := database.Create(&legacy).Error; err != nil {
		testContext.Fatalf("failed to insert legacy messages: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var stored []store.BotMessage
	if err := database.Order("id ASC").Find(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload messages: %v", err)
	}
	expected := []store.Direction{store.DirectionOut, store.DirectionIn, store.DirectionOut}
	for index, message := range stored {
		if message.Direction != expected[index] {
			testContext.Fatalf("message %d: expected direction %q, got %q", index, expected[index], message.Direction)
		}
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationNormalizeMessageDirection).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}
}

func TestOpenSQLiteCreatesEventStoreTables(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "botdesk.db")

	database, err := OpenSQLite(databasePath, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}
	for _, table := range []string{"bot_users", "bot_messages", "bot_commands_log", "bot_broadcasts", "db_migrations"} {
		if !database.Migrator().HasTable(table) {
			testContext.Fatalf("expected table %s to exist", table)
		}
	}

	if _, err := OpenSQLite("", zap.NewNop()); err == nil {
		testContext.Fatalf("expected empty path to be rejected")
	}
}
