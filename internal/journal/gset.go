package journal

import "sort"

// GSet is a grow-only set of events keyed by content hash. Union is the only
// mutation, so merging replicas in any order, any number of times, converges
// to the same membership. Deleting a note is itself an additive DELETE event;
// nothing is ever removed from the set.
type GSet struct {
	eventsByHash map[EventHash]Event
}

// NewGSet returns an empty grow-only set.
func NewGSet() *GSet {
	return &GSet{eventsByHash: make(map[EventHash]Event)}
}

// Add inserts an event by hash. Re-adding a known hash is a no-op; Add
// reports whether the event was new.
func (set *GSet) Add(event Event) bool {
	if _, exists := set.eventsByHash[event.Hash()]; exists {
		return false
	}
	set.eventsByHash[event.Hash()] = event
	return true
}

// Contains reports whether the set holds an event with the given hash.
func (set *GSet) Contains(eventHash EventHash) bool {
	_, exists := set.eventsByHash[eventHash]
	return exists
}

// Merge unions a peer's events into the set and returns the number newly added.
func (set *GSet) Merge(events []Event) int {
	added := 0
	for _, event := range events {
		if set.Add(event) {
			added++
		}
	}
	return added
}

// HasNote reports whether any member event touches the given note.
func (set *GSet) HasNote(noteID NoteID) bool {
	for _, event := range set.eventsByHash {
		if event.NoteID() == noteID {
			return true
		}
	}
	return false
}

// Len returns the current membership size.
func (set *GSet) Len() int {
	return len(set.eventsByHash)
}

// Hashes returns the membership as a sorted hash list.
func (set *GSet) Hashes() []EventHash {
	hashes := make([]EventHash, 0, len(set.eventsByHash))
	for eventHash := range set.eventsByHash {
		hashes = append(hashes, eventHash)
	}
	sort.Slice(hashes, func(left, right int) bool {
		return hashes[left] < hashes[right]
	})
	return hashes
}

// Events returns the membership ordered by the canonical (timestamp, hash)
// total order used everywhere replicas must agree.
func (set *GSet) Events() []Event {
	events := make([]Event, 0, len(set.eventsByHash))
	for _, event := range set.eventsByHash {
		events = append(events, event)
	}
	sort.Slice(events, func(left, right int) bool {
		if events[left].Timestamp() != events[right].Timestamp() {
			return events[left].Timestamp() < events[right].Timestamp()
		}
		return events[left].Hash() < events[right].Hash()
	})
	return events
}
