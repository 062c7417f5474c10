package state

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/motorlog/livelink/internal/db"
	"github.com/motorlog/livelink/internal/domain"
)

// Seed carries last-seen arrival times used to warm the tracker on start.
type Seed struct {
	LastSeenAny time.Time
	LastSeenECU time.Time
}

type deviceState struct {
	lastSeenAny time.Time
	lastSeenECU time.Time
	openSession *db.Session
}

// Tracker derives device and ECU connectivity from ingestion arrival times.
// All bookkeeping keys off wall-clock arrival, never the payload timestamp,
// so a device with a skewed clock cannot corrupt connectivity status.
//
// Status is evaluated lazily at query time rather than by a background
// sweep: a status read always reflects the timeout against the current
// clock, so a silently dark device can never be reported online late.
type Tracker struct {
	mu             sync.Mutex
	devices        map[string]*deviceState
	sessions       SessionRepo
	offlineTimeout time.Duration
	logger         *zap.Logger
}

// NewTracker creates a new connectivity tracker
func NewTracker(sessions SessionRepo, offlineTimeout time.Duration, logger *zap.Logger) *Tracker {
	return &Tracker{
		devices:        make(map[string]*deviceState),
		sessions:       sessions,
		offlineTimeout: offlineTimeout,
		logger:         logger,
	}
}

// Warm seeds last-seen state and reattaches open sessions after a restart.
func (t *Tracker) Warm(seeds map[string]Seed, open map[string]db.Session) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for deviceID, seed := range seeds {
		ds := t.ensureLocked(deviceID)
		ds.lastSeenAny = seed.LastSeenAny
		ds.lastSeenECU = seed.LastSeenECU
	}
	for deviceID, sess := range open {
		s := sess
		t.ensureLocked(deviceID).openSession = &s
	}
}

func (t *Tracker) ensureLocked(deviceID string) *deviceState {
	ds, ok := t.devices[deviceID]
	if !ok {
		ds = &deviceState{}
		t.devices[deviceID] = ds
	}
	return ds
}

// Observe updates last-seen bookkeeping for one reading and maintains the
// device's session: an ECU reading after a gap longer than the offline
// timeout closes the stale session at the previous ECU arrival time, then
// opens a fresh one.
func (t *Tracker) Observe(ctx context.Context, r domain.Reading) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ds := t.ensureLocked(r.DeviceID)
	if r.ReceivedAt.After(ds.lastSeenAny) {
		ds.lastSeenAny = r.ReceivedAt
	}

	if r.SourceKind != domain.SourceECU {
		return
	}

	if ds.openSession != nil && !ds.lastSeenECU.IsZero() &&
		r.ReceivedAt.Sub(ds.lastSeenECU) > t.offlineTimeout {
		t.closeLocked(ctx, r.DeviceID, ds, ds.lastSeenECU)
	}

	if ds.openSession == nil {
		sess := db.Session{
			ID:        uuid.New(),
			DeviceID:  r.DeviceID,
			StartedAt: r.ReceivedAt,
		}
		if err := t.sessions.Open(ctx, sess); err != nil {
			t.logger.Error("failed to persist session open",
				zap.String("device_id", r.DeviceID), zap.Error(err))
		}
		ds.openSession = &sess
	}

	if r.ReceivedAt.After(ds.lastSeenECU) {
		ds.lastSeenECU = r.ReceivedAt
	}
}

func (t *Tracker) closeLocked(ctx context.Context, deviceID string, ds *deviceState, endedAt time.Time) {
	if err := t.sessions.Close(ctx, ds.openSession.ID, endedAt); err != nil {
		t.logger.Error("failed to persist session close",
			zap.String("device_id", deviceID), zap.Error(err))
	}
	ds.openSession = nil
}

// Snapshot computes the connectivity state for one device at the given time.
func (t *Tracker) Snapshot(deviceID string, now time.Time) domain.ConnectivityState {
	t.mu.Lock()
	defer t.mu.Unlock()

	ds, ok := t.devices[deviceID]
	if !ok {
		return domain.ConnectivityState{
			DeviceStatus: domain.StatusOffline,
			ECUStatus:    domain.StatusOffline,
		}
	}
	return domain.ConnectivityState{
		DeviceStatus: t.statusLocked(ds.lastSeenAny, now),
		ECUStatus:    t.statusLocked(ds.lastSeenECU, now),
	}
}

func (t *Tracker) statusLocked(lastSeen, now time.Time) domain.Status {
	if lastSeen.IsZero() || now.Sub(lastSeen) > t.offlineTimeout {
		return domain.StatusOffline
	}
	return domain.StatusOnline
}

// LastSeen returns the raw arrival times for a device.
func (t *Tracker) LastSeen(deviceID string) (seenAny, seenECU time.Time, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ds, found := t.devices[deviceID]
	if !found {
		return time.Time{}, time.Time{}, false
	}
	return ds.lastSeenAny, ds.lastSeenECU, true
}

// CloseStale persists closure of sessions whose device has been ECU-silent
// for longer than the offline timeout. Closure is stamped at the last ECU
// arrival, not at detection time.
func (t *Tracker) CloseStale(ctx context.Context, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for deviceID, ds := range t.devices {
		if ds.openSession == nil {
			continue
		}
		if !ds.lastSeenECU.IsZero() && now.Sub(ds.lastSeenECU) > t.offlineTimeout {
			t.closeLocked(ctx, deviceID, ds, ds.lastSeenECU)
		}
	}
}

// Sessions lists recent sessions for a device. A session that is still open
// in storage but whose device has gone ECU-silent past the timeout is
// reported as ended at the last ECU arrival, independent of whether the
// closing sweep has run yet.
func (t *Tracker) Sessions(ctx context.Context, deviceID string, limit int, now time.Time) ([]db.Session, error) {
	sessions, err := t.sessions.Recent(ctx, deviceID, limit)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	ds, ok := t.devices[deviceID]
	var lastECU time.Time
	if ok {
		lastECU = ds.lastSeenECU
	}
	t.mu.Unlock()

	// Annotate a copy; the repo's slice must stay untouched.
	out := make([]db.Session, len(sessions))
	copy(out, sessions)
	for i := range out {
		if out[i].EndedAt == nil && !lastECU.IsZero() && now.Sub(lastECU) > t.offlineTimeout {
			ended := lastECU
			out[i].EndedAt = &ended
		}
	}
	return out, nil
}
