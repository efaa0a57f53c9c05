package chlorinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/saltcell/intellichlor-go/core/codec"
)

func TestRenewalScheduler_Defaults(t *testing.T) {
	s := NewRenewalScheduler(nil, RenewalConfig{})
	if s.cfg.Interval != DefaultRenewalInterval {
		t.Errorf("default Interval = %v, want %v", s.cfg.Interval, DefaultRenewalInterval)
	}
	if _, ok := s.Holding(); ok {
		t.Error("new scheduler should not be holding")
	}
}

func TestRenewalScheduler_HoldValidation(t *testing.T) {
	s := NewRenewalScheduler(nil, RenewalConfig{})
	if err := s.Hold(101); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("Hold(101) error = %v, want %v", err, ErrOutOfRange)
	}
	if err := s.Hold(50); err != nil {
		t.Errorf("Hold(50) error = %v", err)
	}
	if p, ok := s.Holding(); !ok || p != 50 {
		t.Errorf("Holding() = %d, %v; want 50, true", p, ok)
	}
}

func TestRenewalScheduler_KeepsLeaseAlive(t *testing.T) {
	port := &devicePort{}
	cfg := fastConfig()
	cfg.LeaseDuration = 60 * time.Millisecond
	d := startDriver(t, port, cfg)

	s := NewRenewalScheduler(d, RenewalConfig{Interval: 20 * time.Millisecond})
	if err := s.Hold(40); err != nil {
		t.Fatalf("Hold() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Start(ctx)
	defer s.Stop()

	// Several lease durations later the lease must still be live.
	time.Sleep(200 * time.Millisecond)
	if !d.LeaseActive() {
		t.Error("scheduled renewals should keep the lease active")
	}
	if port.writeCount() < 3 {
		t.Errorf("writes = %d, want several renewals", port.writeCount())
	}
}

func TestRenewalScheduler_ReleaseLapsesNaturally(t *testing.T) {
	port := &devicePort{}
	cfg := fastConfig()
	cfg.LeaseDuration = 60 * time.Millisecond
	d := startDriver(t, port, cfg)

	s := NewRenewalScheduler(d, RenewalConfig{Interval: 20 * time.Millisecond})
	if err := s.Hold(40); err != nil {
		t.Fatalf("Hold() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Start(ctx)
	defer s.Stop()

	time.Sleep(100 * time.Millisecond)
	if !d.LeaseActive() {
		t.Fatal("lease should be active while holding")
	}

	// No release command exists on the wire; dropping the hold just lets
	// the lease run out.
	s.Release()
	writesAtRelease := port.writeCount()
	time.Sleep(150 * time.Millisecond)

	if d.LeaseActive() {
		t.Error("lease should lapse after Release")
	}
	if got := port.writeCount(); got > writesAtRelease+1 {
		t.Errorf("writes after Release = %d, want at most one in-flight renewal", got-writesAtRelease)
	}
}

func TestPollScheduler_PollsImmediately(t *testing.T) {
	port := &devicePort{respond: chlorinatorResponder(t)}
	d := startDriver(t, port, fastConfig())

	s := NewPollScheduler(d, PollConfig{Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Start(ctx)
	defer s.Stop()

	deadline := time.After(2 * time.Second)
	for {
		if snap := d.Snapshot(); snap.HasSaltPPM {
			if snap.SaltPPM != 3200 {
				t.Errorf("SaltPPM = %d, want 3200", snap.SaltPPM)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("initial poll never completed")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestPollScheduler_Defaults(t *testing.T) {
	s := NewPollScheduler(nil, PollConfig{})
	if s.cfg.Interval != DefaultPollInterval {
		t.Errorf("default Interval = %v, want %v", s.cfg.Interval, DefaultPollInterval)
	}
}

func TestRenewalScheduler_WireLevel(t *testing.T) {
	port := &devicePort{}
	d := startDriver(t, port, fastConfig())

	s := NewRenewalScheduler(d, RenewalConfig{Interval: 15 * time.Millisecond})
	if err := s.Hold(100); err != nil {
		t.Fatalf("Hold() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Start(ctx)
	defer s.Stop()

	time.Sleep(60 * time.Millisecond)
	s.Stop()

	wire := port.lastWrite()
	if wire == nil {
		t.Fatal("no renewal ever transmitted")
	}
	f, _, err := codec.Decode(wire)
	if err != nil {
		t.Fatalf("Decode(renewal) error = %v", err)
	}
	if f.Cmd != codec.CmdSetOutput || len(f.Data) != 1 || f.Data[0] != 100 {
		t.Errorf("renewal frame = %+v, want set-output 100", f)
	}
}
