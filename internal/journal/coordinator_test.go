package journal

import (
	"context"
	"testing"
	"time"
)

type steppingClock struct {
	now time.Time
}

func (clock *steppingClock) Now() time.Time {
	clock.now = clock.now.Add(time.Second)
	return clock.now
}

func mustCoordinatorWithStore(t *testing.T, name string) (*Coordinator, *EventStore) {
	t.Helper()
	store := mustStore(t, name)
	clock := &steppingClock{now: fixedClock()}
	coordinator, err := NewCoordinator(CoordinatorConfig{
		Store:      store,
		IDProvider: &sequenceIDProvider{prefix: name},
		Clock:      clock.Now,
		DeviceName: name,
	})
	if err != nil {
		t.Fatalf("failed to create coordinator: %v", err)
	}
	return coordinator, store
}

func TestRecordLocalChangeChoosesEventType(t *testing.T) {
	coordinator, store := mustCoordinatorWithStore(t, "coordinator-types")
	noteID := mustDerivedNoteID(t, "2024-08-01")

	created, err := coordinator.RecordLocalChange(context.Background(), noteID, "first body", false)
	if err != nil {
		t.Fatalf("record create failed: %v", err)
	}
	if created.Type() != EventTypeCreate {
		t.Fatalf("first write must be CREATE, got %s", created.Type())
	}

	updated, err := coordinator.RecordLocalChange(context.Background(), noteID, "second body", false)
	if err != nil {
		t.Fatalf("record update failed: %v", err)
	}
	if updated.Type() != EventTypeUpdate {
		t.Fatalf("second write must be UPDATE, got %s", updated.Type())
	}

	deleted, err := coordinator.RecordLocalChange(context.Background(), noteID, "", true)
	if err != nil {
		t.Fatalf("record delete failed: %v", err)
	}
	if deleted.Type() != EventTypeDelete {
		t.Fatalf("delete must be DELETE, got %s", deleted.Type())
	}

	if count := eventCount(t, store); count != 3 {
		t.Fatalf("expected 3 stored events, got %d", count)
	}
	note := loadNote(t, store, noteID)
	if !note.IsTombstoned() {
		t.Fatalf("expected final projection tombstoned")
	}
}

func TestDiffPartitionsHashSets(t *testing.T) {
	coordinator, _ := mustCoordinatorWithStore(t, "coordinator-diff")
	noteID := mustDerivedNoteID(t, "2024-08-02")

	local, err := coordinator.RecordLocalChange(context.Background(), noteID, "local only", false)
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}

	remoteOnly := mustCreateEvent(t, "event-remote", noteID, "remote only", 999)
	result := coordinator.Diff([]EventHash{local.Hash(), remoteOnly.Hash()})

	if len(result.MissingLocally) != 1 || result.MissingLocally[0] != remoteOnly.Hash() {
		t.Fatalf("expected remote-only hash missing locally, got %v", result.MissingLocally)
	}
	if len(result.MissingRemotely) != 0 {
		t.Fatalf("shared hash must not be reported missing remotely, got %v", result.MissingRemotely)
	}

	empty := coordinator.Diff(nil)
	if len(empty.MissingRemotely) != 1 || empty.MissingRemotely[0] != local.Hash() {
		t.Fatalf("peer with nothing must be missing the local event")
	}
}

func TestReceiveEventsConvergesTwoDevices(t *testing.T) {
	deviceA, _ := mustCoordinatorWithStore(t, "coordinator-device-a")
	deviceB, storeB := mustCoordinatorWithStore(t, "coordinator-device-b")
	noteID := mustDerivedNoteID(t, "2024-08-03")

	eventA, err := deviceA.RecordLocalChange(context.Background(), noteID, "from A", false)
	if err != nil {
		t.Fatalf("device A record failed: %v", err)
	}

	added, err := deviceB.ReceiveEvents(context.Background(), []Event{eventA})
	if err != nil {
		t.Fatalf("device B receive failed: %v", err)
	}
	if added != 1 {
		t.Fatalf("expected 1 event added, got %d", added)
	}

	// After the exchange the handshake reports nothing missing either way.
	result := deviceB.Diff(deviceA.KnownHashes())
	if len(result.MissingLocally) != 0 || len(result.MissingRemotely) != 0 {
		t.Fatalf("expected converged hash sets, got %+v", result)
	}

	note := loadNote(t, storeB, noteID)
	if note.Content == nil || *note.Content != "from A" {
		t.Fatalf("expected device B to project device A's write, got %v", note.Content)
	}

	// Replaying the push changes nothing.
	again, err := deviceB.ReceiveEvents(context.Background(), []Event{eventA})
	if err != nil {
		t.Fatalf("replayed receive failed: %v", err)
	}
	if again != 0 {
		t.Fatalf("replayed push must add nothing, got %d", again)
	}
}

func TestRefreshLoadsExistingEvents(t *testing.T) {
	coordinator, store := mustCoordinatorWithStore(t, "coordinator-refresh")
	noteID := mustNoteID(t, "note-refresh")
	event := mustCreateEvent(t, "event-existing", noteID, "already stored", 1000)
	if _, err := store.Insert(context.Background(), event); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	if len(coordinator.KnownHashes()) != 0 {
		t.Fatalf("known set must start empty before refresh")
	}
	if err := coordinator.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	hashes := coordinator.KnownHashes()
	if len(hashes) != 1 || hashes[0] != event.Hash() {
		t.Fatalf("expected known set loaded from store, got %v", hashes)
	}
}
