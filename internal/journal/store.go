package journal

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// ServiceError carries an operation.reason code alongside its cause.
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

func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

const (
	opStoreNew           = "journal.store.new"
	opInsertEvent        = "journal.insert_event"
	opEventsSince        = "journal.events_since"
	opEventsForNote      = "journal.events_for_note"
	opEventsForHashes    = "journal.events_for_hashes"
	opAllHashes          = "journal.all_hashes"
	opMergeEvents        = "journal.merge_events"
	opRebuildProjections = "journal.rebuild_projections"
	opListNotes          = "journal.list_notes"

	reasonMissingDatabase  = "missing_database"
	reasonInsertFailed     = "insert_failed"
	reasonQueryFailed      = "query_failed"
	reasonDecodeFailed     = "decode_failed"
	reasonProjectionFailed = "projection_failed"
	reasonHashMismatch     = "hash_mismatch"
	reasonHashInvalid      = "hash_invalid"

	fieldNoteID   = "note_id"
	fieldEventID  = "event_id"
	queryNoteID   = fieldNoteID + " = ?"
	queryHashIn   = "hash IN ?"
	querySinceTS  = "timestamp_ms >= ?"
	columnHash    = "hash"
	orderHashAsc  = columnHash + " ASC"
	orderCanonic  = "timestamp_ms ASC, " + columnHash + " ASC"
	orderNotes    = "last_updated_ms DESC, " + fieldNoteID + " ASC"
	columnNoteIDs = fieldNoteID
)

// EventStoreConfig describes the dependencies of an EventStore.
type EventStoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// EventStore persists journal events append-only and keeps the materialized
// note table consistent with the log inside the same transaction.
type EventStore struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewEventStore validates the configuration and returns an EventStore.
func NewEventStore(cfg EventStoreConfig) (*EventStore, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opStoreNew, reasonMissingDatabase, errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &EventStore{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Insert appends a single locally created event and re-projects its note in
// the same transaction. A duplicate hash is absorbed silently; Insert reports
// whether the event was new.
func (store *EventStore) Insert(ctx context.Context, event Event) (bool, error) {
	if store.db == nil {
		store.logError(opInsertEvent, reasonMissingDatabase, errMissingDatabase)
		return false, newServiceError(opInsertEvent, reasonMissingDatabase, errMissingDatabase)
	}

	added := false
	txErr := store.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inserted, err := store.insertEventRecord(tx, event)
		if err != nil {
			store.logError(opInsertEvent, reasonInsertFailed, err,
				zap.String(fieldNoteID, event.NoteID().String()),
				zap.String(fieldEventID, event.ID()))
			return newServiceError(opInsertEvent, reasonInsertFailed, err)
		}
		added = inserted
		if !inserted {
			return nil
		}
		if err := store.reprojectNote(tx, event.NoteID()); err != nil {
			store.logError(opInsertEvent, reasonProjectionFailed, err,
				zap.String(fieldNoteID, event.NoteID().String()))
			return newServiceError(opInsertEvent, reasonProjectionFailed, err)
		}
		return nil
	})
	if txErr != nil {
		return false, txErr
	}
	return added, nil
}

// EventsSince returns events with timestamp >= since, or all events when
// since is nil, ordered by the canonical (timestamp, hash) total order.
func (store *EventStore) EventsSince(ctx context.Context, since *UnixMillis) ([]Event, error) {
	if store.db == nil {
		store.logError(opEventsSince, reasonMissingDatabase, errMissingDatabase)
		return nil, newServiceError(opEventsSince, reasonMissingDatabase, errMissingDatabase)
	}

	query := store.db.WithContext(ctx).Order(orderCanonic)
	if since != nil {
		query = query.Where(querySinceTS, since.Int64())
	}
	var records []EventRecord
	if err := query.Find(&records).Error; err != nil {
		store.logError(opEventsSince, reasonQueryFailed, err)
		return nil, newServiceError(opEventsSince, reasonQueryFailed, err)
	}
	return store.decodeRecords(opEventsSince, records)
}

// EventsForNote returns a note's full history in canonical order.
func (store *EventStore) EventsForNote(ctx context.Context, noteID NoteID) ([]Event, error) {
	if store.db == nil {
		store.logError(opEventsForNote, reasonMissingDatabase, errMissingDatabase)
		return nil, newServiceError(opEventsForNote, reasonMissingDatabase, errMissingDatabase)
	}

	var records []EventRecord
	if err := store.db.WithContext(ctx).
		Where(queryNoteID, noteID.String()).
		Order(orderCanonic).
		Find(&records).Error; err != nil {
		store.logError(opEventsForNote, reasonQueryFailed, err, zap.String(fieldNoteID, noteID.String()))
		return nil, newServiceError(opEventsForNote, reasonQueryFailed, err)
	}
	return store.decodeRecords(opEventsForNote, records)
}

// EventsForHashes answers a peer's pull request for specific events.
func (store *EventStore) EventsForHashes(ctx context.Context, hashes []EventHash) ([]Event, error) {
	if store.db == nil {
		store.logError(opEventsForHashes, reasonMissingDatabase, errMissingDatabase)
		return nil, newServiceError(opEventsForHashes, reasonMissingDatabase, errMissingDatabase)
	}
	if len(hashes) == 0 {
		return nil, nil
	}

	values := make([]string, 0, len(hashes))
	for _, eventHash := range hashes {
		values = append(values, eventHash.String())
	}
	var records []EventRecord
	if err := store.db.WithContext(ctx).
		Where(queryHashIn, values).
		Order(orderCanonic).
		Find(&records).Error; err != nil {
		store.logError(opEventsForHashes, reasonQueryFailed, err)
		return nil, newServiceError(opEventsForHashes, reasonQueryFailed, err)
	}
	return store.decodeRecords(opEventsForHashes, records)
}

// AllHashes returns every stored event hash, sorted, for a peer handshake.
func (store *EventStore) AllHashes(ctx context.Context) ([]EventHash, error) {
	if store.db == nil {
		store.logError(opAllHashes, reasonMissingDatabase, errMissingDatabase)
		return nil, newServiceError(opAllHashes, reasonMissingDatabase, errMissingDatabase)
	}

	var values []string
	if err := store.db.WithContext(ctx).
		Model(&EventRecord{}).
		Order(orderHashAsc).
		Pluck(columnHash, &values).Error; err != nil {
		store.logError(opAllHashes, reasonQueryFailed, err)
		return nil, newServiceError(opAllHashes, reasonQueryFailed, err)
	}

	hashes := make([]EventHash, 0, len(values))
	for _, value := range values {
		eventHash, err := NewEventHash(value)
		if err != nil {
			store.logError(opAllHashes, reasonHashInvalid, err)
			return nil, newServiceError(opAllHashes, reasonHashInvalid, err)
		}
		hashes = append(hashes, eventHash)
	}
	return hashes, nil
}

// MergeEvents unions a batch of incoming events into the log and re-projects
// every affected note, all in one transaction. Events whose claimed hash does
// not match their fields are dropped with a log line before the transaction;
// one forged event never poisons the rest of the batch. Duplicate hashes are
// absorbed silently. Returns the number of events newly added.
func (store *EventStore) MergeEvents(ctx context.Context, events []Event) (int, error) {
	if store.db == nil {
		store.logError(opMergeEvents, reasonMissingDatabase, errMissingDatabase)
		return 0, newServiceError(opMergeEvents, reasonMissingDatabase, errMissingDatabase)
	}

	accepted := make([]Event, 0, len(events))
	for _, event := range events {
		if err := event.Verify(); err != nil {
			store.logger.Warn("journal event rejected",
				zap.String("operation", opMergeEvents),
				zap.String("reason", reasonHashMismatch),
				zap.String(fieldEventID, event.ID()),
				zap.String(fieldNoteID, event.NoteID().String()),
				zap.Error(err))
			continue
		}
		accepted = append(accepted, event)
	}
	if len(accepted) == 0 {
		return 0, nil
	}

	added := 0
	txErr := store.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		affectedNoteIDs := make(map[NoteID]struct{})
		for _, event := range accepted {
			inserted, err := store.insertEventRecord(tx, event)
			if err != nil {
				store.logError(opMergeEvents, reasonInsertFailed, err,
					zap.String(fieldNoteID, event.NoteID().String()),
					zap.String(fieldEventID, event.ID()))
				return newServiceError(opMergeEvents, reasonInsertFailed, err)
			}
			if inserted {
				added++
				affectedNoteIDs[event.NoteID()] = struct{}{}
			}
		}

		for _, noteID := range sortedNoteIDs(affectedNoteIDs) {
			if err := store.reprojectNote(tx, noteID); err != nil {
				store.logError(opMergeEvents, reasonProjectionFailed, err,
					zap.String(fieldNoteID, noteID.String()))
				return newServiceError(opMergeEvents, reasonProjectionFailed, err)
			}
		}
		return nil
	})
	if txErr != nil {
		return 0, txErr
	}
	return added, nil
}

// RebuildProjections drops and re-derives every materialized row by replaying
// the event log. The note table is a cache; this proves it.
func (store *EventStore) RebuildProjections(ctx context.Context) (int, error) {
	if store.db == nil {
		store.logError(opRebuildProjections, reasonMissingDatabase, errMissingDatabase)
		return 0, newServiceError(opRebuildProjections, reasonMissingDatabase, errMissingDatabase)
	}

	rebuilt := 0
	txErr := store.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var noteIDValues []string
		if err := tx.Model(&EventRecord{}).
			Distinct(columnNoteIDs).
			Order(columnNoteIDs).
			Pluck(columnNoteIDs, &noteIDValues).Error; err != nil {
			store.logError(opRebuildProjections, reasonQueryFailed, err)
			return newServiceError(opRebuildProjections, reasonQueryFailed, err)
		}
		for _, value := range noteIDValues {
			noteID, err := NewNoteID(value)
			if err != nil {
				store.logError(opRebuildProjections, reasonDecodeFailed, err, zap.String(fieldNoteID, value))
				return newServiceError(opRebuildProjections, reasonDecodeFailed, err)
			}
			if err := store.reprojectNote(tx, noteID); err != nil {
				store.logError(opRebuildProjections, reasonProjectionFailed, err, zap.String(fieldNoteID, value))
				return newServiceError(opRebuildProjections, reasonProjectionFailed, err)
			}
			rebuilt++
		}
		return nil
	})
	if txErr != nil {
		return 0, txErr
	}
	return rebuilt, nil
}

// Notes lists the materialized rows, most recently updated first.
func (store *EventStore) Notes(ctx context.Context) ([]MaterializedNote, error) {
	if store.db == nil {
		store.logError(opListNotes, reasonMissingDatabase, errMissingDatabase)
		return nil, newServiceError(opListNotes, reasonMissingDatabase, errMissingDatabase)
	}

	var notes []MaterializedNote
	if err := store.db.WithContext(ctx).
		Order(orderNotes).
		Find(&notes).Error; err != nil {
		store.logError(opListNotes, reasonQueryFailed, err)
		return nil, newServiceError(opListNotes, reasonQueryFailed, err)
	}
	return notes, nil
}

func (store *EventStore) insertEventRecord(tx *gorm.DB, event Event) (bool, error) {
	record := newEventRecord(event, store.clock())
	result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&record)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (store *EventStore) reprojectNote(tx *gorm.DB, noteID NoteID) error {
	var records []EventRecord
	if err := tx.Where(queryNoteID, noteID.String()).
		Order(orderCanonic).
		Find(&records).Error; err != nil {
		return err
	}

	history := make([]Event, 0, len(records))
	for _, record := range records {
		event, err := eventFromRecord(record)
		if err != nil {
			return err
		}
		history = append(history, event)
	}

	projected, found := projectNote(noteID, history)
	if !found {
		return nil
	}
	return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&projected).Error
}

func (store *EventStore) decodeRecords(operation string, records []EventRecord) ([]Event, error) {
	events := make([]Event, 0, len(records))
	for _, record := range records {
		event, err := eventFromRecord(record)
		if err != nil {
			store.logError(operation, reasonDecodeFailed, err, zap.String(fieldNoteID, record.NoteID))
			return nil, newServiceError(operation, reasonDecodeFailed, err)
		}
		events = append(events, event)
	}
	return events, nil
}

func sortedNoteIDs(noteIDs map[NoteID]struct{}) []NoteID {
	ordered := make([]NoteID, 0, len(noteIDs))
	for noteID := range noteIDs {
		ordered = append(ordered, noteID)
	}
	sort.Slice(ordered, func(left, right int) bool {
		return ordered[left] < ordered[right]
	})
	return ordered
}

func (store *EventStore) loggerOrDefault() *zap.Logger {
	if store == nil || store.logger == nil {
		return noOpLogger
	}
	return store.logger
}

func (store *EventStore) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	store.loggerOrDefault().Error("journal store error", attrs...)
}
