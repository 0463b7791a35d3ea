package journal

import "fmt"

// WireEvent is the JSON shape an event takes when crossing the boundary to a
// transport or UI collaborator. Content is a pointer so a DELETE carries an
// explicit null instead of an empty string.
type WireEvent struct {
	ID        string  `json:"id"`
	Type      string  `json:"type"`
	NoteID    string  `json:"noteId"`
	Content   *string `json:"content"`
	Timestamp int64   `json:"timestamp"`
	Hash      string  `json:"hash"`
}

// EncodeWireEvent converts a domain event into its wire representation.
func EncodeWireEvent(event Event) WireEvent {
	wire := WireEvent{
		ID:        event.ID(),
		Type:      event.Type().String(),
		NoteID:    event.NoteID().String(),
		Timestamp: event.Timestamp().Int64(),
		Hash:      event.Hash().String(),
	}
	if !event.IsTombstone() {
		content := event.Content()
		wire.Content = &content
	}
	return wire
}

// EncodeWireEvents converts a batch of events for serialization.
func EncodeWireEvents(events []Event) []WireEvent {
	wires := make([]WireEvent, 0, len(events))
	for _, event := range events {
		wires = append(wires, EncodeWireEvent(event))
	}
	return wires
}

// DecodeWireEvent validates field shapes and rebuilds a domain event. The
// claimed hash is carried through unverified here; MergeEvents recomputes and
// rejects forgeries at the merge boundary, so one bad event in a file does
// not fail the whole decode.
func DecodeWireEvent(wire WireEvent) (Event, error) {
	eventType, err := NewEventType(wire.Type)
	if err != nil {
		return Event{}, err
	}
	noteID, err := NewNoteID(wire.NoteID)
	if err != nil {
		return Event{}, err
	}
	eventHash, err := NewEventHash(wire.Hash)
	if err != nil {
		return Event{}, err
	}
	timestamp, err := NewUnixMillis(wire.Timestamp)
	if err != nil {
		return Event{}, err
	}
	if wire.ID == "" {
		return Event{}, fmt.Errorf("%w: empty", ErrInvalidEventID)
	}
	content := ""
	if wire.Content != nil {
		content = *wire.Content
	}
	return Event{
		id:        wire.ID,
		eventType: eventType,
		noteID:    noteID,
		content:   content,
		timestamp: timestamp,
		hash:      eventHash,
	}, nil
}
