package state

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/motorlog/livelink/internal/db"
	"github.com/motorlog/livelink/internal/domain"
)

type fakeSessionRepo struct {
	opened []db.Session
	closed map[uuid.UUID]time.Time
	recent []db.Session
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{closed: make(map[uuid.UUID]time.Time)}
}

func (f *fakeSessionRepo) OpenByDevice(ctx context.Context) (map[string]db.Session, error) {
	return nil, nil
}

func (f *fakeSessionRepo) Open(ctx context.Context, s db.Session) error {
	f.opened = append(f.opened, s)
	return nil
}

func (f *fakeSessionRepo) Close(ctx context.Context, id uuid.UUID, endedAt time.Time) error {
	f.closed[id] = endedAt
	return nil
}

func (f *fakeSessionRepo) Recent(ctx context.Context, deviceID string, limit int) ([]db.Session, error) {
	return f.recent, nil
}

const timeout = 15 * time.Minute

var t0 = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

func ecuReading(deviceID string, at time.Time) domain.Reading {
	return domain.Reading{
		DeviceID:     deviceID,
		ParameterKey: "rpm",
		Value:        1500,
		ReceivedAt:   at,
		SourceKind:   domain.SourceECU,
	}
}

func housekeepingReading(deviceID string, at time.Time) domain.Reading {
	return domain.Reading{
		DeviceID:     deviceID,
		ParameterKey: "rssi",
		Value:        -70,
		ReceivedAt:   at,
		SourceKind:   domain.SourceHousekeeping,
	}
}

func TestObserveOpensSession(t *testing.T) {
	repo := newFakeSessionRepo()
	tr := NewTracker(repo, timeout, zap.NewNop())

	tr.Observe(context.Background(), ecuReading("dev-1", t0))

	if len(repo.opened) != 1 {
		t.Fatalf("opened %d sessions, want 1", len(repo.opened))
	}
	if !repo.opened[0].StartedAt.Equal(t0) {
		t.Errorf("session start = %v, want %v", repo.opened[0].StartedAt, t0)
	}

	// Continued readings within the timeout reuse the session.
	tr.Observe(context.Background(), ecuReading("dev-1", t0.Add(time.Minute)))
	if len(repo.opened) != 1 {
		t.Errorf("opened %d sessions after second reading, want 1", len(repo.opened))
	}
}

func TestObserveGapClosesAtLastECUArrival(t *testing.T) {
	repo := newFakeSessionRepo()
	tr := NewTracker(repo, timeout, zap.NewNop())

	tr.Observe(context.Background(), ecuReading("dev-1", t0))
	lastECU := t0.Add(10 * time.Second)
	tr.Observe(context.Background(), ecuReading("dev-1", lastECU))

	// Next ECU reading arrives well past the timeout.
	tr.Observe(context.Background(), ecuReading("dev-1", lastECU.Add(20*time.Minute)))

	if len(repo.opened) != 2 {
		t.Fatalf("opened %d sessions, want 2", len(repo.opened))
	}
	endedAt, ok := repo.closed[repo.opened[0].ID]
	if !ok {
		t.Fatal("first session was never closed")
	}
	if !endedAt.Equal(lastECU) {
		t.Errorf("session closed at %v, want last ECU arrival %v", endedAt, lastECU)
	}
}

func TestHousekeepingDoesNotDriveSessions(t *testing.T) {
	repo := newFakeSessionRepo()
	tr := NewTracker(repo, timeout, zap.NewNop())

	tr.Observe(context.Background(), housekeepingReading("dev-1", t0))

	if len(repo.opened) != 0 {
		t.Errorf("housekeeping reading opened a session")
	}

	snap := tr.Snapshot("dev-1", t0.Add(time.Minute))
	if snap.DeviceStatus != domain.StatusOnline {
		t.Error("housekeeping reading must keep the device online")
	}
	if snap.ECUStatus != domain.StatusOffline {
		t.Error("housekeeping reading must not mark the ECU online")
	}
}

func TestSnapshotLazyOffline(t *testing.T) {
	repo := newFakeSessionRepo()
	tr := NewTracker(repo, timeout, zap.NewNop())

	tr.Observe(context.Background(), ecuReading("dev-1", t0))

	if got := tr.Snapshot("dev-1", t0.Add(14*time.Minute)); got.DeviceStatus != domain.StatusOnline {
		t.Error("device within timeout must read online")
	}
	if got := tr.Snapshot("dev-1", t0.Add(16*time.Minute)); got.DeviceStatus != domain.StatusOffline {
		t.Error("device past timeout must read offline without any sweep")
	}
	if got := tr.Snapshot("unknown", t0); got.DeviceStatus != domain.StatusOffline {
		t.Error("never-seen device must read offline")
	}
}

func TestCloseStalePersistsClosure(t *testing.T) {
	repo := newFakeSessionRepo()
	tr := NewTracker(repo, timeout, zap.NewNop())

	lastECU := t0.Add(10 * time.Second)
	tr.Observe(context.Background(), ecuReading("dev-1", t0))
	tr.Observe(context.Background(), ecuReading("dev-1", lastECU))

	tr.CloseStale(context.Background(), t0.Add(5*time.Minute))
	if len(repo.closed) != 0 {
		t.Fatal("sweep closed a session still within the timeout")
	}

	tr.CloseStale(context.Background(), t0.Add(30*time.Minute))
	endedAt, ok := repo.closed[repo.opened[0].ID]
	if !ok {
		t.Fatal("stale session was not closed")
	}
	if !endedAt.Equal(lastECU) {
		t.Errorf("closed at %v, want %v", endedAt, lastECU)
	}
}

func TestSessionsReportsLazyEnd(t *testing.T) {
	repo := newFakeSessionRepo()
	tr := NewTracker(repo, timeout, zap.NewNop())

	lastECU := t0.Add(10 * time.Second)
	tr.Observe(context.Background(), ecuReading("dev-1", lastECU))

	// Storage still shows the session open; no sweep has run.
	repo.recent = []db.Session{{ID: repo.opened[0].ID, DeviceID: "dev-1", StartedAt: lastECU}}

	sessions, err := tr.Sessions(context.Background(), "dev-1", 50, lastECU.Add(16*time.Minute))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("got %d sessions, want 1", len(sessions))
	}
	if sessions[0].EndedAt == nil {
		t.Fatal("stale open session must report an end time")
	}
	if !sessions[0].EndedAt.Equal(lastECU) {
		t.Errorf("reported end %v, want last ECU arrival %v", sessions[0].EndedAt, lastECU)
	}

	// Queried while still fresh, the session stays open.
	fresh, err := tr.Sessions(context.Background(), "dev-1", 50, lastECU.Add(time.Minute))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fresh[0].EndedAt != nil {
		t.Error("fresh session must report as open")
	}
}

func TestWarmRestoresState(t *testing.T) {
	repo := newFakeSessionRepo()
	tr := NewTracker(repo, timeout, zap.NewNop())

	sess := db.Session{ID: uuid.New(), DeviceID: "dev-1", StartedAt: t0}
	tr.Warm(
		map[string]Seed{"dev-1": {LastSeenAny: t0.Add(time.Minute), LastSeenECU: t0.Add(time.Minute)}},
		map[string]db.Session{"dev-1": sess},
	)

	if got := tr.Snapshot("dev-1", t0.Add(2*time.Minute)); got.DeviceStatus != domain.StatusOnline {
		t.Error("warmed device must read online")
	}

	// The reattached session closes on the next sweep, not a new one.
	tr.CloseStale(context.Background(), t0.Add(time.Hour))
	if _, ok := repo.closed[sess.ID]; !ok {
		t.Error("warmed session was not closed by the sweep")
	}
	if len(repo.opened) != 0 {
		t.Error("warming must not open new sessions")
	}
}
