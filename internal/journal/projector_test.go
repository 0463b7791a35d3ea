package journal

import "testing"

func TestProjectNotePicksLatestTimestamp(t *testing.T) {
	noteID := mustNoteID(t, "note-project-latest")
	history := []Event{
		mustCreateEvent(t, "event-1", noteID, "first", 100),
		mustUpdateEvent(t, "event-2", noteID, "second", 300),
		mustUpdateEvent(t, "event-3", noteID, "third", 200),
	}

	projected, found := projectNote(noteID, history)
	if !found {
		t.Fatalf("expected a projection")
	}
	if projected.Content == nil || *projected.Content != "second" {
		t.Fatalf("expected highest timestamp to win, got %v", projected.Content)
	}
	if projected.LastUpdatedMillis != 300 {
		t.Fatalf("expected winning timestamp 300, got %d", projected.LastUpdatedMillis)
	}
}

func TestProjectNoteTieBreaksByGreaterHash(t *testing.T) {
	noteID := mustNoteID(t, "note-project-tie")
	left := mustUpdateEvent(t, "event-left", noteID, "left content", 500)
	right := mustUpdateEvent(t, "event-right", noteID, "right content", 500)

	expected := left
	if right.Hash() > left.Hash() {
		expected = right
	}

	forward, _ := projectNote(noteID, []Event{left, right})
	reverse, _ := projectNote(noteID, []Event{right, left})
	if forward.LastEventHash != expected.Hash().String() {
		t.Fatalf("expected lexicographically greater hash to win")
	}
	if reverse.LastEventHash != forward.LastEventHash {
		t.Fatalf("tie-break must not depend on history order")
	}
}

func TestProjectNoteTombstonesOnDelete(t *testing.T) {
	noteID := mustNoteID(t, "note-project-delete")
	history := []Event{
		mustCreateEvent(t, "event-1", noteID, "body", 100),
		mustDeleteEvent(t, "event-2", noteID, 200),
	}

	projected, found := projectNote(noteID, history)
	if !found {
		t.Fatalf("expected a projection")
	}
	if !projected.IsTombstoned() {
		t.Fatalf("expected tombstoned note")
	}
	if projected.LastUpdatedMillis != 200 {
		t.Fatalf("expected tombstone timestamp, got %d", projected.LastUpdatedMillis)
	}
}

func TestProjectNoteResurrectionIsOrderIndependent(t *testing.T) {
	noteID := mustNoteID(t, "note-project-resurrect")
	created := mustCreateEvent(t, "event-1", noteID, "a", 1)
	deleted := mustDeleteEvent(t, "event-2", noteID, 2)
	recreated := mustCreateEvent(t, "event-3", noteID, "b", 3)

	permutations := [][]Event{
		{created, deleted, recreated},
		{recreated, created, deleted},
		{deleted, recreated, created},
		{deleted, created, recreated},
	}
	for index, history := range permutations {
		projected, found := projectNote(noteID, history)
		if !found {
			t.Fatalf("permutation %d: expected a projection", index)
		}
		if projected.Content == nil || *projected.Content != "b" {
			t.Fatalf("permutation %d: expected resurrection to %q, got %v", index, "b", projected.Content)
		}
	}
}

func TestProjectNoteEmptyHistory(t *testing.T) {
	if _, found := projectNote(mustNoteID(t, "note-project-empty"), nil); found {
		t.Fatalf("empty history must not project")
	}
}
