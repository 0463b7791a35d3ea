package journal

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

var (
	errMissingStore      = errors.New("event store is required")
	errMissingIDProvider = errors.New("id provider is required")
)

const (
	opCoordinatorNew     = "journal.coordinator.new"
	opRecordLocalChange  = "journal.record_local_change"
	opReceiveEvents      = "journal.receive_events"
	opRefreshKnownEvents = "journal.refresh_known_events"

	reasonMissingStore      = "missing_store"
	reasonMissingIDProvider = "missing_id_provider"
	reasonIDGenerationFail  = "id_generation_failed"
	reasonEventBuildFailed  = "event_build_failed"
	reasonStoreFailed       = "store_failed"
)

// CoordinatorConfig describes the dependencies of a Coordinator.
type CoordinatorConfig struct {
	Store      *EventStore
	IDProvider IDProvider
	Clock      func() time.Time
	DeviceName string
	Logger     *zap.Logger
}

// Coordinator is the orchestration surface offered to local writers and to
// the (external) transport layer. It keeps an in-memory grow-only set of
// every known event so a peer hash set can be diffed without touching disk.
type Coordinator struct {
	store      *EventStore
	idProvider IDProvider
	clock      func() time.Time
	logger     *zap.Logger
	known      *GSet
}

// DiffResult partitions a peer handshake: hashes the peer holds that this
// device is missing, and hashes this device holds that the peer is missing.
type DiffResult struct {
	MissingLocally  []EventHash
	MissingRemotely []EventHash
}

// NewCoordinator validates the configuration and returns a Coordinator.
// Call Refresh before the first Diff so the known set reflects the store.
func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opCoordinatorNew, reasonMissingStore, errMissingStore)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opCoordinatorNew, reasonMissingIDProvider, errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	if cfg.DeviceName != "" {
		logger = logger.With(zap.String("device", cfg.DeviceName))
	}
	return &Coordinator{
		store:      cfg.Store,
		idProvider: cfg.IDProvider,
		clock:      clock,
		logger:     logger,
		known:      NewGSet(),
	}, nil
}

// Refresh reloads the in-memory known set from the event store.
func (coordinator *Coordinator) Refresh(ctx context.Context) error {
	events, err := coordinator.store.EventsSince(ctx, nil)
	if err != nil {
		coordinator.logger.Error("journal coordinator error",
			zap.String("operation", opRefreshKnownEvents),
			zap.String("reason", reasonStoreFailed),
			zap.Error(err))
		return err
	}
	refreshed := NewGSet()
	refreshed.Merge(events)
	coordinator.known = refreshed
	return nil
}

// RecordLocalChange builds the appropriate event for a local save, appends it
// to the store and re-projects the note. This is the application save path.
func (coordinator *Coordinator) RecordLocalChange(ctx context.Context, noteID NoteID, content string, isDelete bool) (Event, error) {
	eventID, err := coordinator.idProvider.NewID()
	if err != nil {
		coordinator.logger.Error("journal coordinator error",
			zap.String("operation", opRecordLocalChange),
			zap.String("reason", reasonIDGenerationFail),
			zap.Error(err))
		return Event{}, newServiceError(opRecordLocalChange, reasonIDGenerationFail, err)
	}

	timestamp, err := NewUnixMillis(coordinator.clock().UTC().UnixMilli())
	if err != nil {
		return Event{}, newServiceError(opRecordLocalChange, reasonEventBuildFailed, err)
	}

	var event Event
	switch {
	case isDelete:
		event, err = NewDeleteEvent(eventID, noteID, timestamp)
	case !coordinator.known.HasNote(noteID):
		event, err = NewCreateEvent(eventID, noteID, content, timestamp)
	default:
		event, err = NewUpdateEvent(eventID, noteID, content, timestamp)
	}
	if err != nil {
		coordinator.logger.Error("journal coordinator error",
			zap.String("operation", opRecordLocalChange),
			zap.String("reason", reasonEventBuildFailed),
			zap.String(fieldNoteID, noteID.String()),
			zap.Error(err))
		return Event{}, newServiceError(opRecordLocalChange, reasonEventBuildFailed, err)
	}

	if _, err := coordinator.store.Insert(ctx, event); err != nil {
		return Event{}, err
	}
	coordinator.known.Add(event)
	return event, nil
}

// Diff compares a peer's hash set against the known set. No payloads move
// during this phase of the handshake.
func (coordinator *Coordinator) Diff(remoteHashes []EventHash) DiffResult {
	remote := make(map[EventHash]struct{}, len(remoteHashes))
	result := DiffResult{}
	for _, eventHash := range remoteHashes {
		remote[eventHash] = struct{}{}
		if !coordinator.known.Contains(eventHash) {
			result.MissingLocally = append(result.MissingLocally, eventHash)
		}
	}
	for _, eventHash := range coordinator.known.Hashes() {
		if _, held := remote[eventHash]; !held {
			result.MissingRemotely = append(result.MissingRemotely, eventHash)
		}
	}
	return result
}

// ReceiveEvents accepts a peer's push and merges it into the store. Returns
// the number of events newly added.
func (coordinator *Coordinator) ReceiveEvents(ctx context.Context, events []Event) (int, error) {
	added, err := coordinator.store.MergeEvents(ctx, events)
	if err != nil {
		return 0, err
	}
	for _, event := range events {
		if event.Verify() != nil {
			continue
		}
		coordinator.known.Add(event)
	}
	if added > 0 {
		coordinator.logger.Info("journal events merged",
			zap.String("operation", opReceiveEvents),
			zap.Int("added", added),
			zap.Int("offered", len(events)))
	}
	return added, nil
}

// KnownHashes returns the sorted hash set to offer a peer.
func (coordinator *Coordinator) KnownHashes() []EventHash {
	return coordinator.known.Hashes()
}
