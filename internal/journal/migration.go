package journal

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opMigrationNew = "journal.migration.new"
	opMigrationRun = "journal.migrate_legacy_notes"

	reasonLegacyScanFailed  = "legacy_scan_failed"
	reasonLegacyRowFailed   = "legacy_row_failed"
	queryUnmigrated         = "last_event_hash = ''"
	queryNoteIDForMigration = "note_id = ?"
)

// MigrationRunnerConfig describes the dependencies of a MigrationRunner.
type MigrationRunnerConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// MigrationRunner backfills legacy flat note rows into the event-sourced
// schema. A legacy row is one whose last_event_hash marker is still empty.
// Each row is migrated in its own transaction: the synthesized CREATE event
// and the marker write land together, so a crash mid-run never leaves a row
// half-migrated and a re-run never synthesizes a second CREATE.
type MigrationRunner struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewMigrationRunner validates the configuration and returns a MigrationRunner.
func NewMigrationRunner(cfg MigrationRunnerConfig) (*MigrationRunner, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opMigrationNew, reasonMissingDatabase, errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opMigrationNew, reasonMissingIDProvider, errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &MigrationRunner{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// RunIfNeeded migrates every unmigrated legacy row and returns the count.
// Safe to call at every startup; already-marked rows are skipped.
func (runner *MigrationRunner) RunIfNeeded(ctx context.Context) (int, error) {
	var legacyRows []MaterializedNote
	if err := runner.db.WithContext(ctx).
		Where(queryUnmigrated).
		Find(&legacyRows).Error; err != nil {
		runner.logError(opMigrationRun, reasonLegacyScanFailed, err)
		return 0, newServiceError(opMigrationRun, reasonLegacyScanFailed, err)
	}

	migrated := 0
	for _, legacyRow := range legacyRows {
		changed, err := runner.migrateRow(ctx, legacyRow.NoteID)
		if err != nil {
			runner.logError(opMigrationRun, reasonLegacyRowFailed, err,
				zap.String(fieldNoteID, legacyRow.NoteID))
			return migrated, newServiceError(opMigrationRun, reasonLegacyRowFailed, err)
		}
		if changed {
			migrated++
		}
	}

	if migrated > 0 {
		runner.logger.Info("legacy notes migrated",
			zap.String("operation", opMigrationRun),
			zap.Int("migrated", migrated))
	}
	return migrated, nil
}

func (runner *MigrationRunner) migrateRow(ctx context.Context, legacyKey string) (bool, error) {
	changed := false
	txErr := runner.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current MaterializedNote
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where(queryNoteIDForMigration, legacyKey).
			Take(&current).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if current.LastEventHash != "" {
			return nil
		}

		// The legacy table keyed notes by their natural key. Derive the
		// canonical identifier so every device agrees on the note id.
		noteID, err := NoteIDFromNaturalKey(current.NoteID)
		if err != nil {
			return err
		}
		eventID, err := runner.idProvider.NewID()
		if err != nil {
			return err
		}
		timestamp, err := NewUnixMillis(runner.clock().UTC().UnixMilli())
		if err != nil {
			return err
		}
		content := ""
		if current.Content != nil {
			content = *current.Content
		}
		event, err := NewCreateEvent(eventID, noteID, content, timestamp)
		if err != nil {
			return err
		}

		record := newEventRecord(event, runner.clock())
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&record).Error; err != nil {
			return err
		}

		if current.NoteID != noteID.String() {
			if err := tx.Delete(&MaterializedNote{}, queryNoteIDForMigration, current.NoteID).Error; err != nil {
				return err
			}
		}
		// Mirror what projecting the synthesized event would produce.
		migratedRow := MaterializedNote{
			NoteID:            noteID.String(),
			Content:           &content,
			LastEventHash:     event.Hash().String(),
			LastUpdatedMillis: event.Timestamp().Int64(),
		}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&migratedRow).Error; err != nil {
			return err
		}
		changed = true
		return nil
	})
	if txErr != nil {
		return false, txErr
	}
	return changed, nil
}

func (runner *MigrationRunner) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	runner.logger.Error("journal migration error", attrs...)
}
