package journal

import (
	"fmt"
	"time"
)

// EventRecord stores one append-only journal event row. Rows are only ever
// inserted; the grow-only property of the replicated set depends on no update
// or delete ever touching this table.
type EventRecord struct {
	Hash             string  `gorm:"column:hash;primaryKey;size:64;not null"`
	EventID          string  `gorm:"column:event_id;size:190;not null"`
	Type             string  `gorm:"column:type;size:16;not null"`
	NoteID           string  `gorm:"column:note_id;size:190;not null;index:idx_journal_events_note"`
	Content          *string `gorm:"column:content;type:text"`
	TimestampMillis  int64   `gorm:"column:timestamp_ms;not null;index:idx_journal_events_time"`
	CreatedAtSeconds int64   `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (EventRecord) TableName() string {
	return "journal_events"
}

// MaterializedNote is the current projection of a note. It is a rebuildable
// cache over the event log, written only by the projector. A nil content
// marks a tombstoned note. Legacy rows carry an empty last_event_hash until
// the migration runner backfills them.
type MaterializedNote struct {
	NoteID            string  `gorm:"column:note_id;primaryKey;size:190;not null"`
	Content           *string `gorm:"column:content;type:text"`
	LastEventHash     string  `gorm:"column:last_event_hash;size:64;not null;default:''"`
	LastUpdatedMillis int64   `gorm:"column:last_updated_ms;not null;default:0;index:idx_journal_notes_updated"`
}

// TableName provides the explicit table binding for GORM.
func (MaterializedNote) TableName() string {
	return "journal_notes"
}

// IsTombstoned reports whether the projected note is deleted.
func (note MaterializedNote) IsTombstoned() bool {
	return note.Content == nil
}

func newEventRecord(event Event, storedAt time.Time) EventRecord {
	record := EventRecord{
		Hash:             event.Hash().String(),
		EventID:          event.ID(),
		Type:             event.Type().String(),
		NoteID:           event.NoteID().String(),
		TimestampMillis:  event.Timestamp().Int64(),
		CreatedAtSeconds: storedAt.UTC().Unix(),
	}
	if !event.IsTombstone() {
		content := event.Content()
		record.Content = &content
	}
	return record
}

// eventFromRecord rehydrates a stored row into a domain event. The stored
// hash is carried as-is: hashes are computed once at creation and never
// recomputed for rows already accepted into the log.
func eventFromRecord(record EventRecord) (Event, error) {
	eventType, err := NewEventType(record.Type)
	if err != nil {
		return Event{}, fmt.Errorf("event %s: %w", record.Hash, err)
	}
	noteID, err := NewNoteID(record.NoteID)
	if err != nil {
		return Event{}, fmt.Errorf("event %s: %w", record.Hash, err)
	}
	eventHash, err := NewEventHash(record.Hash)
	if err != nil {
		return Event{}, fmt.Errorf("event %s: %w", record.Hash, err)
	}
	timestamp, err := NewUnixMillis(record.TimestampMillis)
	if err != nil {
		return Event{}, fmt.Errorf("event %s: %w", record.Hash, err)
	}
	content := ""
	if record.Content != nil {
		content = *record.Content
	}
	return Event{
		id:        record.EventID,
		eventType: eventType,
		noteID:    noteID,
		content:   content,
		timestamp: timestamp,
		hash:      eventHash,
	}, nil
}
