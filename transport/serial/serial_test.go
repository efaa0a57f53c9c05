package serial

import "testing"

func TestOpen_RequiresPort(t *testing.T) {
	_, err := Open(Config{})
	if err == nil {
		t.Fatal("expected error for missing port path")
	}
}

func TestOpen_MissingDevice(t *testing.T) {
	_, err := Open(Config{Port: "/dev/ttyDOESNOTEXIST"})
	if err == nil {
		t.Fatal("expected error for nonexistent device")
	}
}

func TestRTSFor(t *testing.T) {
	tests := []struct {
		name     string
		enabled  bool
		inverted bool
		want     bool
	}{
		{name: "transmit, active-high", enabled: true, want: true},
		{name: "receive, active-high", enabled: false, want: false},
		{name: "transmit, active-low", enabled: true, inverted: true, want: false},
		{name: "receive, active-low", enabled: false, inverted: true, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := rtsFor(tt.enabled, tt.inverted); got != tt.want {
				t.Errorf("rtsFor(%v, %v) = %v, want %v", tt.enabled, tt.inverted, got, tt.want)
			}
		})
	}
}
