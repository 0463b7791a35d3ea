package journal

// supersedes reports whether candidate wins last-write-wins over incumbent.
// Higher timestamp wins; equal timestamps fall back to the lexicographically
// greater hash. The same rule orders EventsSince results, so every replica
// holding the same event set picks the same winner.
func supersedes(candidate, incumbent Event) bool {
	if candidate.Timestamp() != incumbent.Timestamp() {
		return candidate.Timestamp() > incumbent.Timestamp()
	}
	return candidate.Hash() > incumbent.Hash()
}

// selectWinner folds a note's history down to its authoritative event.
func selectWinner(history []Event) (Event, bool) {
	if len(history) == 0 {
		return Event{}, false
	}
	winner := history[0]
	for _, event := range history[1:] {
		if supersedes(event, winner) {
			winner = event
		}
	}
	return winner, true
}

// projectNote derives the materialized row for a note from its full history.
// A winning DELETE tombstones the row (nil content) rather than removing it,
// so a later event can still resurrect the note deterministically.
func projectNote(noteID NoteID, history []Event) (MaterializedNote, bool) {
	winner, found := selectWinner(history)
	if !found {
		return MaterializedNote{}, false
	}
	projected := MaterializedNote{
		NoteID:            noteID.String(),
		LastEventHash:     winner.Hash().String(),
		LastUpdatedMillis: winner.Timestamp().Int64(),
	}
	if !winner.IsTombstone() {
		content := winner.Content()
		projected.Content = &content
	}
	return projected, true
}
