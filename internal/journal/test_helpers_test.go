package journal

import (
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func fixedClock() time.Time {
	return time.Unix(1700000000, 0).UTC()
}

type sequenceIDProvider struct {
	prefix string
	next   int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("%s-%03d", p.prefix, p.next), nil
}

func mustNoteID(t *testing.T, value string) NoteID {
	t.Helper()
	id, err := NewNoteID(value)
	if err != nil {
		t.Fatalf("unexpected note id error: %v", err)
	}
	return id
}

func mustDerivedNoteID(t *testing.T, naturalKey string) NoteID {
	t.Helper()
	id, err := NoteIDFromNaturalKey(naturalKey)
	if err != nil {
		t.Fatalf("unexpected natural key error: %v", err)
	}
	return id
}

func mustMillis(t *testing.T, value int64) UnixMillis {
	t.Helper()
	millis, err := NewUnixMillis(value)
	if err != nil {
		t.Fatalf("unexpected timestamp error: %v", err)
	}
	return millis
}

func mustCreateEvent(t *testing.T, eventID string, noteID NoteID, content string, timestampMillis int64) Event {
	t.Helper()
	event, err := NewCreateEvent(eventID, noteID, content, mustMillis(t, timestampMillis))
	if err != nil {
		t.Fatalf("unexpected create event error: %v", err)
	}
	return event
}

func mustUpdateEvent(t *testing.T, eventID string, noteID NoteID, content string, timestampMillis int64) Event {
	t.Helper()
	event, err := NewUpdateEvent(eventID, noteID, content, mustMillis(t, timestampMillis))
	if err != nil {
		t.Fatalf("unexpected update event error: %v", err)
	}
	return event
}

func mustDeleteEvent(t *testing.T, eventID string, noteID NoteID, timestampMillis int64) Event {
	t.Helper()
	event, err := NewDeleteEvent(eventID, noteID, mustMillis(t, timestampMillis))
	if err != nil {
		t.Fatalf("unexpected delete event error: %v", err)
	}
	return event
}

func mustDatabase(t *testing.T, name string) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.AutoMigrate(&EventRecord{}, &MaterializedNote{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func mustStore(t *testing.T, name string) *EventStore {
	t.Helper()
	store, err := NewEventStore(EventStoreConfig{
		Database: mustDatabase(t, name),
		Clock:    fixedClock,
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}
