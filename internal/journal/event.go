package journal

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"strings"
)

// EventType enumerates the closed set of journal change operations.
type EventType string

const (
	// EventTypeCreate records the first write of a note.
	EventTypeCreate EventType = "CREATE"
	// EventTypeUpdate records a whole-content rewrite of a note.
	EventTypeUpdate EventType = "UPDATE"
	// EventTypeDelete records a tombstone for a note.
	EventTypeDelete EventType = "DELETE"
)

const (
	maxIdentifierLength = 190
	hashHexLength       = 64
)

var (
	// ErrInvalidEventType indicates an event type outside the closed enumeration.
	ErrInvalidEventType = errors.New("journal: invalid event type")
	// ErrInvalidEventID indicates an empty or oversized event identifier.
	ErrInvalidEventID = errors.New("journal: invalid event id")
	// ErrInvalidNoteID indicates a note identifier that is empty or exceeds storage bounds.
	ErrInvalidNoteID = errors.New("journal: invalid note id")
	// ErrInvalidNaturalKey indicates an empty natural key.
	ErrInvalidNaturalKey = errors.New("journal: invalid natural key")
	// ErrInvalidEventHash indicates a hash that is not 64 lowercase hex characters.
	ErrInvalidEventHash = errors.New("journal: invalid event hash")
	// ErrInvalidTimestamp indicates a unix millisecond value that is not positive.
	ErrInvalidTimestamp = errors.New("journal: invalid unix millisecond timestamp")
	// ErrHashMismatch indicates an event whose claimed hash does not match its fields.
	ErrHashMismatch = errors.New("journal: event hash mismatch")
)

// NewEventType validates raw input and returns an EventType.
func NewEventType(rawInput string) (EventType, error) {
	switch EventType(rawInput) {
	case EventTypeCreate, EventTypeUpdate, EventTypeDelete:
		return EventType(rawInput), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidEventType, rawInput)
	}
}

// String returns the underlying type name.
func (eventType EventType) String() string {
	return string(eventType)
}

// NoteID represents a validated note identifier.
type NoteID string

// NewNoteID validates raw input and returns a NoteID.
func NewNoteID(rawInput string) (NoteID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidNoteID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidNoteID, maxIdentifierLength)
	}
	return NoteID(trimmed), nil
}

// NoteIDFromNaturalKey derives the canonical note identifier for a natural key.
// Every device derives the same identifier for the same key, with no coordination.
func NoteIDFromNaturalKey(naturalKey string) (NoteID, error) {
	trimmed := strings.TrimSpace(naturalKey)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidNaturalKey)
	}
	sum := sha256.Sum256([]byte(trimmed))
	return NoteID(hex.EncodeToString(sum[:])), nil
}

// String returns the underlying string identifier.
func (id NoteID) String() string {
	return string(id)
}

// EventHash represents a validated content-addressed event digest.
type EventHash string

// NewEventHash validates raw input and returns an EventHash.
func NewEventHash(rawInput string) (EventHash, error) {
	trimmed := strings.ToLower(strings.TrimSpace(rawInput))
	if len(trimmed) != hashHexLength {
		return "", fmt.Errorf("%w: expected %d hex characters", ErrInvalidEventHash, hashHexLength)
	}
	if _, err := hex.DecodeString(trimmed); err != nil {
		return "", fmt.Errorf("%w: not hexadecimal", ErrInvalidEventHash)
	}
	return EventHash(trimmed), nil
}

// String returns the underlying hex digest.
func (eventHash EventHash) String() string {
	return string(eventHash)
}

// UnixMillis represents a validated unix timestamp in milliseconds.
type UnixMillis int64

// NewUnixMillis validates the value and returns a UnixMillis.
func NewUnixMillis(value int64) (UnixMillis, error) {
	if value <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidTimestamp, value)
	}
	return UnixMillis(value), nil
}

// Int64 exposes the raw unix millisecond value.
func (millis UnixMillis) Int64() int64 {
	return int64(millis)
}

// Event is one immutable change to one note. Its identity for storage and
// replication is the content-addressed hash, never the debug id.
type Event struct {
	id        string
	eventType EventType
	noteID    NoteID
	content   string
	timestamp UnixMillis
	hash      EventHash
}

// NewCreateEvent builds a CREATE event and computes its content hash.
func NewCreateEvent(eventID string, noteID NoteID, content string, timestamp UnixMillis) (Event, error) {
	return newEvent(eventID, EventTypeCreate, noteID, content, timestamp)
}

// NewUpdateEvent builds an UPDATE event and computes its content hash.
func NewUpdateEvent(eventID string, noteID NoteID, content string, timestamp UnixMillis) (Event, error) {
	return newEvent(eventID, EventTypeUpdate, noteID, content, timestamp)
}

// NewDeleteEvent builds a DELETE tombstone event with no content.
func NewDeleteEvent(eventID string, noteID NoteID, timestamp UnixMillis) (Event, error) {
	return newEvent(eventID, EventTypeDelete, noteID, "", timestamp)
}

func newEvent(eventID string, eventType EventType, noteID NoteID, content string, timestamp UnixMillis) (Event, error) {
	trimmedID := strings.TrimSpace(eventID)
	if trimmedID == "" {
		return Event{}, fmt.Errorf("%w: empty", ErrInvalidEventID)
	}
	if len(trimmedID) > maxIdentifierLength {
		return Event{}, fmt.Errorf("%w: exceeds %d characters", ErrInvalidEventID, maxIdentifierLength)
	}
	if noteID == "" {
		return Event{}, fmt.Errorf("%w: empty", ErrInvalidNoteID)
	}
	if timestamp <= 0 {
		return Event{}, fmt.Errorf("%w: %d", ErrInvalidTimestamp, timestamp)
	}
	return Event{
		id:        trimmedID,
		eventType: eventType,
		noteID:    noteID,
		content:   content,
		timestamp: timestamp,
		hash:      computeEventHash(eventType, noteID, content, timestamp),
	}, nil
}

// ID returns the debug-only event identifier.
func (event Event) ID() string {
	return event.id
}

// Type returns the event's operation type.
func (event Event) Type() EventType {
	return event.eventType
}

// NoteID returns the identifier of the note this event mutates.
func (event Event) NoteID() NoteID {
	return event.noteID
}

// Content returns the whole-note payload. Empty for DELETE events.
func (event Event) Content() string {
	return event.content
}

// IsTombstone reports whether the event deletes its note.
func (event Event) IsTombstone() bool {
	return event.eventType == EventTypeDelete
}

// Timestamp returns the device-local creation time in unix milliseconds.
func (event Event) Timestamp() UnixMillis {
	return event.timestamp
}

// Hash returns the content-addressed digest identifying this event.
func (event Event) Hash() EventHash {
	return event.hash
}

// Verify recomputes the content hash from the event's fields and compares it
// with the carried hash. Events arriving from a peer are never trusted to
// report their own hash correctly.
func (event Event) Verify() error {
	expected := computeEventHash(event.eventType, event.noteID, event.content, event.timestamp)
	if event.hash != expected {
		return fmt.Errorf("%w: claimed %s, computed %s", ErrHashMismatch, event.hash, expected)
	}
	return nil
}

// computeEventHash digests the canonical serialization of an event's fields.
// Field order is fixed, strings are length-prefixed UTF-8, and the timestamp
// is a big-endian int64, so independent runtimes agree on the digest.
func computeEventHash(eventType EventType, noteID NoteID, content string, timestamp UnixMillis) EventHash {
	digest := sha256.New()
	writeLengthPrefixed(digest, eventType.String())
	writeLengthPrefixed(digest, noteID.String())
	writeLengthPrefixed(digest, content)
	var timestampBytes [8]byte
	binary.BigEndian.PutUint64(timestampBytes[:], uint64(timestamp.Int64()))
	digest.Write(timestampBytes[:])
	return EventHash(hex.EncodeToString(digest.Sum(nil)))
}

func writeLengthPrefixed(digest hash.Hash, value string) {
	var lengthBytes [4]byte
	binary.BigEndian.PutUint32(lengthBytes[:], uint32(len(value)))
	digest.Write(lengthBytes[:])
	digest.Write([]byte(value))
}
