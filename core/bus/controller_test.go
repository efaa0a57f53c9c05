package bus

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually advanced clock shared by the controller and port.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakePort is a scripted Port. Each Read pops the next chunk; an exhausted
// script behaves like a read timeout, advancing the shared clock the way a
// blocking read would burn real time.
type fakePort struct {
	clock      *fakeClock
	reads      [][]byte
	writes     [][]byte
	events     []string // interleaved "te:on", "write", "te:off"
	writeErr   error
	teErr      error
	readCalls  int
	lastByteAt time.Time
	writeAt    time.Time
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.events = append(p.events, "write")
	p.writeAt = p.clock.Now()
	cp := make([]byte, len(b))
	copy(cp, b)
	p.writes = append(p.writes, cp)
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	return len(b), nil
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.readCalls++
	if len(p.reads) == 0 {
		p.clock.Advance(readSlice)
		return 0, nil
	}
	chunk := p.reads[0]
	p.reads = p.reads[1:]
	n := copy(b, chunk)
	p.clock.Advance(time.Millisecond)
	p.lastByteAt = p.clock.Now()
	return n, nil
}

func (p *fakePort) SetReadTimeout(time.Duration) error { return nil }

func (p *fakePort) SetTransmitEnable(enabled bool) error {
	if enabled {
		p.events = append(p.events, "te:on")
	} else {
		p.events = append(p.events, "te:off")
	}
	return p.teErr
}

func (p *fakePort) Close() error { return nil }

func newTestController(t *testing.T, port *fakePort, clock *fakeClock, cfg Config) *Controller {
	t.Helper()
	c := NewController(port, cfg)
	c.nowFn = clock.Now
	c.sleepFn = func(_ context.Context, d time.Duration) error {
		clock.Advance(d)
		return nil
	}
	return c
}

func TestController_Defaults(t *testing.T) {
	c := NewController(&fakePort{}, Config{})
	if c.cfg.QuietTime != DefaultQuietTime {
		t.Errorf("QuietTime = %v, want %v", c.cfg.QuietTime, DefaultQuietTime)
	}
	if c.cfg.InterFrameDelay != DefaultInterFrameDelay {
		t.Errorf("InterFrameDelay = %v, want %v", c.cfg.InterFrameDelay, DefaultInterFrameDelay)
	}
}

func TestController_TransmitTogglesDirection(t *testing.T) {
	clock := newFakeClock()
	port := &fakePort{clock: clock}
	c := newTestController(t, port, clock, Config{})

	frame := []byte{0x10, 0x02, 0x50, 0x14, 0x64, 0x10, 0x03}
	if err := c.Transmit(context.Background(), frame); err != nil {
		t.Fatalf("Transmit() error = %v", err)
	}

	want := []string{"te:on", "write", "te:off"}
	if len(port.events) != len(want) {
		t.Fatalf("events = %v, want %v", port.events, want)
	}
	for i := range want {
		if port.events[i] != want[i] {
			t.Errorf("events[%d] = %q, want %q", i, port.events[i], want[i])
		}
	}
	if !bytes.Equal(port.writes[0], frame) {
		t.Errorf("written frame = % 02x, want % 02x", port.writes[0], frame)
	}
}

func TestController_TransmitReleasesDirectionOnWriteError(t *testing.T) {
	clock := newFakeClock()
	port := &fakePort{clock: clock, writeErr: errors.New("io failure")}
	c := newTestController(t, port, clock, Config{})

	err := c.Transmit(context.Background(), []byte{0x01})
	if err == nil {
		t.Fatal("expected write error")
	}
	last := port.events[len(port.events)-1]
	if last != "te:off" {
		t.Errorf("last event = %q, want te:off (DE must never stay asserted)", last)
	}
}

func TestController_InterFrameDelay(t *testing.T) {
	clock := newFakeClock()
	port := &fakePort{clock: clock}
	c := newTestController(t, port, clock, Config{InterFrameDelay: 50 * time.Millisecond})

	start := clock.Now()
	if err := c.Transmit(context.Background(), []byte{0x01}); err != nil {
		t.Fatalf("first Transmit() error = %v", err)
	}
	if err := c.Transmit(context.Background(), []byte{0x02}); err != nil {
		t.Fatalf("second Transmit() error = %v", err)
	}

	if elapsed := clock.Now().Sub(start); elapsed < 50*time.Millisecond {
		t.Errorf("second transmit after %v, want >= 50ms gap", elapsed)
	}
}

func TestController_QuietTimeAfterForeignTraffic(t *testing.T) {
	clock := newFakeClock()
	port := &fakePort{clock: clock, reads: [][]byte{{0xAA, 0xBB}}}
	c := newTestController(t, port, clock, Config{QuietTime: 50 * time.Millisecond})

	// Hear another master on the bus.
	got, err := c.Listen(context.Background(), 100*time.Millisecond, func(b []byte) bool { return len(b) >= 2 })
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Listen() = %d bytes, want 2", len(got))
	}

	heardAt := clock.Now()
	if err := c.Transmit(context.Background(), []byte{0x01}); err != nil {
		t.Fatalf("Transmit() error = %v", err)
	}

	if gap := clock.Now().Sub(heardAt); gap < 50*time.Millisecond {
		t.Errorf("transmitted %v after foreign traffic, want >= quiet time", gap)
	}
}

func TestController_TransmitObservesLine(t *testing.T) {
	// The quiet interval must be earned by watching the port, not assumed
	// from bookkeeping: even on a silent line the controller has to read.
	clock := newFakeClock()
	port := &fakePort{clock: clock}
	c := newTestController(t, port, clock, Config{QuietTime: 50 * time.Millisecond})

	start := clock.Now()
	if err := c.Transmit(context.Background(), []byte{0x01}); err != nil {
		t.Fatalf("Transmit() error = %v", err)
	}

	if port.readCalls == 0 {
		t.Error("transmit completed without reading the port")
	}
	if elapsed := clock.Now().Sub(start); elapsed < 50*time.Millisecond {
		t.Errorf("transmitted after %v of observation, want >= quiet time", elapsed)
	}
}

func TestController_TransmitDefersForBusyLine(t *testing.T) {
	// Another master is mid-frame while we want to transmit. Every byte
	// heard during the wait restarts the quiet clock, so the write must
	// land a full quiet interval after the last foreign byte.
	clock := newFakeClock()
	port := &fakePort{
		clock: clock,
		reads: [][]byte{{0x10, 0x02, 0x50}, {0x11}, {0x32, 0x93, 0x10, 0x03}},
	}
	c := newTestController(t, port, clock, Config{QuietTime: 50 * time.Millisecond})

	if err := c.Transmit(context.Background(), []byte{0x01}); err != nil {
		t.Fatalf("Transmit() error = %v", err)
	}

	if len(port.reads) != 0 {
		t.Errorf("%d foreign chunks never observed", len(port.reads))
	}
	if gap := port.writeAt.Sub(port.lastByteAt); gap < 50*time.Millisecond {
		t.Errorf("wrote %v after the last foreign byte, want >= quiet time", gap)
	}
}

func TestController_TransmitCancelledWhileBusy(t *testing.T) {
	clock := newFakeClock()
	port := &fakePort{clock: clock}
	c := newTestController(t, port, clock, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Transmit(ctx, []byte{0x01})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Transmit() error = %v, want context.Canceled", err)
	}
	if len(port.writes) != 0 {
		t.Error("cancelled transmit must not write")
	}
}

func TestController_ListenAccumulatesUntilDone(t *testing.T) {
	clock := newFakeClock()
	port := &fakePort{clock: clock, reads: [][]byte{{0x10, 0x02}, {0x50, 0x14}}}
	c := newTestController(t, port, clock, Config{})

	var calls int
	got, err := c.Listen(context.Background(), time.Second, func(b []byte) bool {
		calls++
		return len(b) >= 4
	})
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	if !bytes.Equal(got, []byte{0x10, 0x02, 0x50, 0x14}) {
		t.Errorf("accumulated = % 02x", got)
	}
	if calls != 2 {
		t.Errorf("done predicate called %d times, want 2", calls)
	}
	if clock.Now().Sub(newFakeClock().Now()) >= time.Second {
		t.Error("Listen should have exited before the full window")
	}
}

func TestController_ListenTimesOutEmpty(t *testing.T) {
	clock := newFakeClock()
	port := &fakePort{clock: clock}
	c := newTestController(t, port, clock, Config{})

	start := clock.Now()
	got, err := c.Listen(context.Background(), 100*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("accumulated = % 02x, want none", got)
	}
	if elapsed := clock.Now().Sub(start); elapsed < 100*time.Millisecond {
		t.Errorf("window closed after %v, want full 100ms", elapsed)
	}
}

func TestController_ListenCancelled(t *testing.T) {
	clock := newFakeClock()
	port := &fakePort{clock: clock}
	c := newTestController(t, port, clock, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Listen(ctx, time.Second, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Listen() error = %v, want context.Canceled", err)
	}
}
