package status

import (
	"testing"
	"time"
)

func TestStore_ApplyAndSnapshot(t *testing.T) {
	s := NewStore()

	snap := s.Snapshot(false)
	if snap.HasVersion || snap.HasWaterTempF || snap.HasSaltPPM {
		t.Error("empty store should have no populated fields")
	}

	s.Apply(VersionUpdate{Version: "IntelliChlor--40"})
	s.Apply(TemperatureUpdate{WaterTempF: 78})
	s.Apply(SaltStatusUpdate{SaltPPM: 3200, ErrorCode: 0x01, Alarms: []AlarmKind{AlarmNoFlow}})

	snap = s.Snapshot(true)
	if !snap.HasVersion || snap.Version != "IntelliChlor--40" {
		t.Errorf("Version = %q (has=%v), want IntelliChlor--40", snap.Version, snap.HasVersion)
	}
	if !snap.HasWaterTempF || snap.WaterTempF != 78 {
		t.Errorf("WaterTempF = %d (has=%v), want 78", snap.WaterTempF, snap.HasWaterTempF)
	}
	if !snap.HasSaltPPM || snap.SaltPPM != 3200 {
		t.Errorf("SaltPPM = %d (has=%v), want 3200", snap.SaltPPM, snap.HasSaltPPM)
	}
	if len(snap.Alarms) != 1 || snap.Alarms[0] != AlarmNoFlow {
		t.Errorf("Alarms = %v, want [no_flow]", snap.Alarms)
	}
	if !snap.LeaseActive {
		t.Error("LeaseActive should carry through to the snapshot")
	}
	if snap.UpdatedAt.IsZero() {
		t.Error("UpdatedAt should be set after an update")
	}
}

func TestStore_UnknownIgnored(t *testing.T) {
	s := NewStore()
	s.Apply(UnknownResponse{Cmd: 0x42})

	snap := s.Snapshot(false)
	if !snap.UpdatedAt.IsZero() {
		t.Error("unknown responses must not touch UpdatedAt")
	}
}

func TestStore_MarkStale(t *testing.T) {
	s := NewStore()
	s.Apply(VersionUpdate{Version: "v1"})
	s.Apply(TemperatureUpdate{WaterTempF: 80})
	s.Apply(SaltStatusUpdate{SaltPPM: 3000})

	s.MarkStale(FieldTemperature)

	snap := s.Snapshot(false)
	if snap.HasWaterTempF {
		t.Error("temperature should be stale")
	}
	if snap.WaterTempF != 80 {
		t.Errorf("stale value should remain for display, got %d", snap.WaterTempF)
	}
	if !snap.HasVersion || !snap.HasSaltPPM {
		t.Error("other fields must stay fresh")
	}

	s.MarkStale(FieldSaltStatus)
	snap = s.Snapshot(false)
	if snap.HasSaltPPM || snap.HasErrorCode {
		t.Error("salt status staleness covers salinity and error code")
	}
}

func TestStore_SetOutputPercent(t *testing.T) {
	s := NewStore()
	s.SetOutputPercent(50)

	snap := s.Snapshot(false)
	if !snap.HasOutputPercent || snap.OutputPercent != 50 {
		t.Errorf("OutputPercent = %d (has=%v), want 50", snap.OutputPercent, snap.HasOutputPercent)
	}
}

func TestStore_SnapshotIsolation(t *testing.T) {
	s := NewStore()
	s.Apply(SaltStatusUpdate{SaltPPM: 3000, Alarms: []AlarmKind{AlarmLowSalt}})

	snap := s.Snapshot(false)
	snap.Alarms[0] = AlarmCheckPCB

	if again := s.Snapshot(false); again.Alarms[0] != AlarmLowSalt {
		t.Error("mutating a snapshot must not affect the store")
	}
}

func TestStore_UpdatedAtUsesClock(t *testing.T) {
	s := NewStore()
	fixed := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	s.nowFn = func() time.Time { return fixed }

	s.Apply(TemperatureUpdate{WaterTempF: 75})
	if got := s.Snapshot(false).UpdatedAt; !got.Equal(fixed) {
		t.Errorf("UpdatedAt = %v, want %v", got, fixed)
	}
}
