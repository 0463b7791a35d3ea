package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationCanonicalizeHashCase = "2026-03-14_canonicalize_event_hash_case"

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
		{name: migrationCanonicalizeHashCase, apply: canonicalizeEventHashCase},
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

// Hashes written by early builds carried mixed case; the canonical form is
// lowercase hex and set membership compares strings exactly.
func canonicalizeEventHashCase(db *gorm.DB) error {
	if err := db.Exec("UPDATE journal_events SET hash = lower(hash) WHERE hash <> lower(hash);").Error; err != nil {
		return err
	}
	return db.Exec("UPDATE journal_notes SET last_event_hash = lower(last_event_hash) WHERE last_event_hash <> lower(last_event_hash);").Error
}
