package database

import (
	"path/filepath"
	"strings"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/penleaf/daybook/internal/journal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestApplyMigrationsCanonicalizesHashCase(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	if err := database.AutoMigrate(&journal.EventRecord{}, &journal.MaterializedNote{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	upperHash := strings.Repeat("AB", 32)
	event := journal.EventRecord{
		Hash:            upperHash,
		EventID:         "event-1",
		Type:            "CREATE",
		NoteID:          "note-1",
		TimestampMillis: 1000,
	}
	if err := database.Create(&event).Error; err != nil {
		testContext.Fatalf("failed to insert event: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var stored journal.EventRecord
	if err := database.Where("event_id = ?", "event-1").Take(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload event: %v", err)
	}
	if stored.Hash != strings.ToLower(upperHash) {
		testContext.Fatalf("expected lowercased hash, got %s", stored.Hash)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationCanonicalizeHashCase).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}
}

func TestOpenSQLiteInitializesSchema(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "daybook.db")

	database, err := OpenSQLite(databasePath, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}

	for _, table := range []string{"journal_events", "journal_notes", "db_migrations"} {
		if !database.Migrator().HasTable(table) {
			testContext.Fatalf("expected table %s to exist", table)
		}
	}

	if _, err := OpenSQLite("", zap.NewNop()); err == nil {
		testContext.Fatalf("expected error for empty path")
	}
}
