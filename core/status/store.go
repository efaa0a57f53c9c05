package status

import (
	"sync"
	"time"
)

// Snapshot is a point-in-time copy of the chlorinator's reported state.
// Fields decoded at least once carry their Has flag; absent fields mean the
// corresponding poll has not yet succeeded or has gone stale.
type Snapshot struct {
	Version    string
	HasVersion bool

	WaterTempF    int
	HasWaterTempF bool

	SaltPPM    int
	HasSaltPPM bool

	OutputPercent    int
	HasOutputPercent bool

	ErrorCode    byte
	HasErrorCode bool

	Alarms []AlarmKind

	// LeaseActive reports whether the remote control lease was live when
	// the snapshot was taken.
	LeaseActive bool

	// UpdatedAt is the time of the last applied update of any kind.
	UpdatedAt time.Time
}

// Store holds the current chlorinator state. It has exactly one writer (the
// driver's command loop); any number of readers may take snapshots
// concurrently.
type Store struct {
	mu  sync.RWMutex
	cur Snapshot

	// nowFn allows overriding time.Now() for testing.
	nowFn func() time.Time
}

// NewStore creates an empty state store.
func NewStore() *Store {
	return &Store{nowFn: time.Now}
}

// Apply merges a decoded update into the current state.
// UnknownResponse updates are ignored.
func (s *Store) Apply(u Update) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch v := u.(type) {
	case VersionUpdate:
		s.cur.Version = v.Version
		s.cur.HasVersion = true
	case TemperatureUpdate:
		s.cur.WaterTempF = v.WaterTempF
		s.cur.HasWaterTempF = true
	case SaltStatusUpdate:
		s.cur.SaltPPM = v.SaltPPM
		s.cur.HasSaltPPM = true
		s.cur.ErrorCode = v.ErrorCode
		s.cur.HasErrorCode = true
		s.cur.Alarms = append([]AlarmKind(nil), v.Alarms...)
	case TakeoverUpdate:
		s.cur.ErrorCode = v.ErrorCode
		s.cur.HasErrorCode = true
		s.cur.Alarms = append([]AlarmKind(nil), v.Alarms...)
	case UnknownResponse:
		return
	default:
		return
	}
	s.cur.UpdatedAt = s.nowFn()
}

// SetOutputPercent records the last commanded output level.
func (s *Store) SetOutputPercent(percent int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur.OutputPercent = percent
	s.cur.HasOutputPercent = true
	s.cur.UpdatedAt = s.nowFn()
}

// Field identifies one independently polled portion of the state.
type Field int

const (
	FieldVersion Field = iota
	FieldTemperature
	FieldSaltStatus
)

// MarkStale clears the Has flag for one polled field, leaving the last
// known value in place for display. Called when that field's round trip
// exhausts its retries.
func (s *Store) MarkStale(f Field) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch f {
	case FieldVersion:
		s.cur.HasVersion = false
	case FieldTemperature:
		s.cur.HasWaterTempF = false
	case FieldSaltStatus:
		s.cur.HasSaltPPM = false
		s.cur.HasErrorCode = false
	}
}

// Snapshot returns a copy of the current state with the given lease flag.
func (s *Store) Snapshot(leaseActive bool) Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := s.cur
	snap.Alarms = append([]AlarmKind(nil), s.cur.Alarms...)
	snap.LeaseActive = leaseActive
	return snap
}
