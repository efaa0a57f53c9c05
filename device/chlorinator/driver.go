// Package chlorinator implements the command and poll state machine for a
// Pentair IntelliChlor salt chlorinator on an RS485 bus.
//
// The bus is half-duplex with a single initiating master (this driver), so
// all command issuance funnels through one goroutine and one serialized
// queue: at most one request is ever in flight, structurally rather than by
// locking. The one exception is the periodic set-output renewal, which is
// fire-and-forget and jumps the queue between round trips so the remote
// control lease never starves behind a slow poll.
package chlorinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/saltcell/intellichlor-go/core/bus"
	"github.com/saltcell/intellichlor-go/core/codec"
	"github.com/saltcell/intellichlor-go/core/lease"
	"github.com/saltcell/intellichlor-go/core/status"
)

const (
	// DefaultResponseTimeout is the listen window per request attempt.
	DefaultResponseTimeout = 500 * time.Millisecond

	// DefaultRetryCount is the number of retries after the initial attempt.
	DefaultRetryCount = 2

	// DefaultPollInterval is the suggested cadence for full status polls.
	DefaultPollInterval = 60 * time.Second
)

var (
	// ErrOutOfRange means a percent argument was outside 0..100. Rejected
	// before any byte reaches the bus.
	ErrOutOfRange = errors.New("output percent out of range")

	// ErrTimeout means a listen window closed with nothing received.
	ErrTimeout = errors.New("no response within window")

	// ErrExpired means a request exhausted its retries. The affected field
	// goes stale; the driver keeps running.
	ErrExpired = errors.New("retries exhausted")

	// ErrNotRunning means the driver's command loop is not active.
	ErrNotRunning = errors.New("driver not running")
)

// Config configures a Driver. The zero value gets working defaults for a
// single IntelliChlor on a lightly shared bus.
type Config struct {
	// Destination is the chlorinator's bus address.
	// Default: codec.DestChlorinator (0x50).
	Destination byte

	// QuietTime and InterFrameDelay are handed to the bus controller.
	// Defaults: 50 ms each.
	QuietTime       time.Duration
	InterFrameDelay time.Duration

	// ResponseTimeout is the listen window per attempt. Default: 500 ms.
	ResponseTimeout time.Duration

	// RetryCount is the number of retries after the initial attempt.
	// Default: 2. Set to -1 to disable retries.
	RetryCount int

	// LeaseDuration is the remote control lease window. Default: 500 ms.
	LeaseDuration time.Duration

	// SalinityScale and AlarmBits are the unverified protocol constants,
	// injected so hardware correction needs no code change.
	SalinityScale int
	AlarmBits     *status.BitMapping

	// Logger for driver events. Falls back to slog.Default() if nil.
	Logger *slog.Logger
}

// pendingRequest is the single in-flight request. The one-outstanding rule
// is structural: the command loop creates one, resolves it, then moves on.
type pendingRequest struct {
	wire        []byte
	sentAt      time.Time
	expectEcho  byte
	retriesLeft int
}

// job is one unit of serialized bus work.
type job struct {
	run  func(ctx context.Context) error
	done chan error
}

// Driver sequences all traffic to one chlorinator.
type Driver struct {
	cfg   Config
	log   *slog.Logger
	ctrl  *bus.Controller
	store *status.Store
	lease *lease.Lease

	requests chan *job // round-trip work: polls, takeover
	renewals chan *job // fire-and-forget set-output, drained with priority

	counters Counters

	mu             sync.Mutex
	running        bool
	takeoverActive bool
	cancel         context.CancelFunc
	stopped        chan struct{}
	onUpdate       func(status.Snapshot)

	// nowFn allows overriding time.Now() for testing.
	nowFn func() time.Time
}

// New creates a driver over the given port.
func New(port bus.Port, cfg Config) *Driver {
	if cfg.Destination == 0 {
		cfg.Destination = codec.DestChlorinator
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = DefaultResponseTimeout
	}
	switch {
	case cfg.RetryCount == 0:
		cfg.RetryCount = DefaultRetryCount
	case cfg.RetryCount < 0:
		cfg.RetryCount = 0
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Driver{
		cfg: cfg,
		log: logger.WithGroup("chlorinator"),
		ctrl: bus.NewController(port, bus.Config{
			QuietTime:       cfg.QuietTime,
			InterFrameDelay: cfg.InterFrameDelay,
			Logger:          logger,
		}),
		store: status.NewStore(),
		lease: lease.New(lease.Config{
			Duration: cfg.LeaseDuration,
			Logger:   logger,
		}),
		requests: make(chan *job),
		renewals: make(chan *job, 1),
		nowFn:    time.Now,
	}
}

// Start launches the command loop and the lease monitor. The context
// controls the driver's lifetime.
func (d *Driver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return errors.New("driver already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.stopped = make(chan struct{})
	d.running = true

	go d.lease.Start(ctx)
	go d.run(ctx)
	return nil
}

// Stop cancels the command loop and waits for it to drain.
func (d *Driver) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	cancel := d.cancel
	stopped := d.stopped
	d.mu.Unlock()

	cancel()
	d.lease.Stop()
	<-stopped
}

// Snapshot returns a copy of the last known chlorinator state, including
// whether the remote control lease is currently live.
func (d *Driver) Snapshot() status.Snapshot {
	return d.store.Snapshot(d.lease.Active())
}

// Counters returns a point-in-time copy of the driver's bus traffic
// statistics.
func (d *Driver) Counters() CountersSnapshot {
	return d.counters.Snapshot()
}

// LeaseActive reports whether remote control is currently held.
func (d *Driver) LeaseActive() bool {
	return d.lease.Active()
}

// TakeoverActive reports whether the last takeover exchange enabled remote
// output control.
func (d *Driver) TakeoverActive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.takeoverActive
}

// SetOnLeaseExpired sets the callback fired once each time an active lease
// lapses, meaning the chlorinator has silently reverted to local control.
func (d *Driver) SetOnLeaseExpired(fn func()) {
	d.lease.SetOnExpire(fn)
}

// SetOnUpdate sets the callback invoked with a fresh snapshot after every
// completed poll cycle.
func (d *Driver) SetOnUpdate(fn func(status.Snapshot)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onUpdate = fn
}

// PollResult reports each field of a poll cycle independently. A failed
// round trip marks its field stale; it never poisons the other fields.
type PollResult struct {
	VersionErr     error
	TemperatureErr error
	SaltStatusErr  error
}

// Failed reports whether every round trip in the cycle failed.
func (r PollResult) Failed() bool {
	return r.VersionErr != nil && r.TemperatureErr != nil && r.SaltStatusErr != nil
}

// PollStatus runs one full status cycle: version, temperature, then
// salinity/status, as three independent round trips. Partial results are
// normal on a shared bus; per-field errors are in the PollResult and the
// returned error covers only queueing and cancellation.
func (d *Driver) PollStatus(ctx context.Context) (PollResult, error) {
	var res PollResult
	err := d.submit(ctx, d.requests, func(ctx context.Context) error {
		res.VersionErr = d.pollField(ctx, codec.CmdVersion, nil, status.FieldVersion)
		d.drainRenewals(ctx)
		res.TemperatureErr = d.pollField(ctx, codec.CmdTemperature, nil, status.FieldTemperature)
		d.drainRenewals(ctx)
		res.SaltStatusErr = d.pollField(ctx, codec.CmdSaltStatus, []byte{0x00}, status.FieldSaltStatus)

		if err := ctx.Err(); err != nil {
			return err
		}
		d.notifyUpdate()
		return nil
	})
	return res, err
}

// SetOutputPercent sends the set-output command. The command class is
// fire-and-forget: no response is expected and the remote control lease is
// renewed on successful transmission. It must be reissued more often than
// the lease duration for remote control to stick; see RenewalScheduler.
func (d *Driver) SetOutputPercent(ctx context.Context, percent int) error {
	if percent < 0 || percent > 100 {
		return fmt.Errorf("%w: %d", ErrOutOfRange, percent)
	}

	return d.submit(ctx, d.renewals, func(ctx context.Context) error {
		if !d.TakeoverActive() {
			// Behavior of an unsolicited set-output is not fully
			// characterized; send it anyway rather than silently drop.
			d.log.Debug("set-output without active takeover", "percent", percent)
		}

		wire, err := codec.Encode(d.cfg.Destination, codec.CmdSetOutput, []byte{byte(percent)})
		if err != nil {
			return err
		}
		if err := d.ctrl.Transmit(ctx, wire); err != nil {
			return err
		}
		d.counters.RenewalsSent.Add(1)
		d.lease.Renew()
		d.store.SetOutputPercent(percent)
		return nil
	})
}

// Takeover sends the remote-control takeover command and applies any status
// carried on the reply.
func (d *Driver) Takeover(ctx context.Context, enable bool) error {
	data := []byte{0x00}
	if enable {
		data[0] = 0x01
	}

	return d.submit(ctx, d.requests, func(ctx context.Context) error {
		u, err := d.roundTrip(ctx, codec.CmdTakeover, data)
		if err != nil {
			return err
		}
		d.applyUpdate(u)

		d.mu.Lock()
		d.takeoverActive = enable
		d.mu.Unlock()

		d.notifyUpdate()
		return nil
	})
}

// submit queues work on the command loop and waits for its completion.
func (d *Driver) submit(ctx context.Context, ch chan *job, run func(context.Context) error) error {
	d.mu.Lock()
	running := d.running
	stopped := d.stopped
	d.mu.Unlock()
	if !running {
		return ErrNotRunning
	}

	j := &job{run: run, done: make(chan error, 1)}
	select {
	case ch <- j:
	case <-stopped:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-j.done:
		return err
	case <-stopped:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the single goroutine owning the port. Renewals win ties so the
// lease stays alive under queued poll work.
func (d *Driver) run(ctx context.Context) {
	defer close(d.stopped)

	for {
		// Priority pass: pending renewals first.
		select {
		case <-ctx.Done():
			return
		case j := <-d.renewals:
			j.done <- j.run(ctx)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return
		case j := <-d.renewals:
			j.done <- j.run(ctx)
		case j := <-d.requests:
			j.done <- j.run(ctx)
		}
	}
}

// drainRenewals runs any queued fire-and-forget work between the round
// trips of a longer cycle.
func (d *Driver) drainRenewals(ctx context.Context) {
	for {
		select {
		case j := <-d.renewals:
			j.done <- j.run(ctx)
		default:
			return
		}
	}
}

// pollField runs one round trip and applies the result, marking the field
// stale when retries are exhausted.
func (d *Driver) pollField(ctx context.Context, cmd byte, data []byte, field status.Field) error {
	u, err := d.roundTrip(ctx, cmd, data)
	if err != nil {
		if ctx.Err() == nil {
			d.store.MarkStale(field)
		}
		return err
	}
	d.applyUpdate(u)
	return nil
}

// roundTrip transmits one request and waits for the matching response,
// retrying on the transient failures a shared lossy bus produces.
func (d *Driver) roundTrip(ctx context.Context, cmd byte, data []byte) (status.Update, error) {
	wire, err := codec.Encode(d.cfg.Destination, cmd, data)
	if err != nil {
		return nil, err
	}

	pending := &pendingRequest{
		wire:        wire,
		expectEcho:  cmd,
		retriesLeft: d.cfg.RetryCount,
	}
	attempts := 0

	for {
		attempts++
		if err := d.ctrl.Transmit(ctx, pending.wire); err != nil {
			return nil, err
		}
		d.counters.RequestsSent.Add(1)
		pending.sentAt = d.nowFn()

		frame, err := d.awaitResponse(ctx, pending)
		if err == nil {
			d.counters.ResponsesMatched.Add(1)
			return status.DecodeUpdate(frame, d.statusConfig())
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if pending.retriesLeft == 0 {
			return nil, fmt.Errorf("%w: cmd %02x after %d attempts: %v",
				ErrExpired, cmd, attempts, err)
		}
		pending.retriesLeft--
		d.counters.Retries.Add(1)
		d.log.Debug("retrying request",
			"cmd", fmt.Sprintf("%02x", cmd), "attempt", attempts, "cause", err)
	}
}

// awaitResponse listens for a frame whose command echoes the request. The
// protocol has no sequence numbers; correlation is the echoed command byte
// plus the one-outstanding discipline. Frames addressed to the chlorinator
// (other masters' requests, or our own echo) are ignored.
func (d *Driver) awaitResponse(ctx context.Context, pending *pendingRequest) (*codec.Frame, error) {
	var matched *codec.Frame
	var lastErr error

	raw, err := d.ctrl.Listen(ctx, d.cfg.ResponseTimeout, func(acc []byte) bool {
		buf := acc
		lastErr = nil
		for {
			frame, remaining, derr := codec.Decode(buf)
			if derr != nil {
				if errors.Is(derr, codec.ErrChecksumMismatch) {
					lastErr = derr
					buf = remaining
					continue
				}
				// Incomplete: keep the window open for more bytes,
				// unless a bad frame already burned this attempt.
				return lastErr != nil
			}
			if frame.Dest != d.cfg.Destination && frame.Cmd == pending.expectEcho {
				matched = frame
				return true
			}
			d.log.Debug("ignoring unrelated frame",
				"dest", fmt.Sprintf("%02x", frame.Dest),
				"cmd", fmt.Sprintf("%02x", frame.Cmd))
			buf = remaining
		}
	})
	if err != nil {
		return nil, err
	}
	if matched != nil {
		return matched, nil
	}
	if lastErr != nil {
		d.counters.ChecksumErrors.Add(1)
		return nil, lastErr
	}
	if len(raw) == 0 {
		d.counters.Timeouts.Add(1)
		return nil, ErrTimeout
	}
	return nil, codec.ErrIncomplete
}

// applyUpdate feeds a decoded update into the store, passing unknown
// responses through to the log instead of failing the cycle.
func (d *Driver) applyUpdate(u status.Update) {
	if unk, ok := u.(status.UnknownResponse); ok {
		d.log.Debug("unknown response",
			"cmd", fmt.Sprintf("%02x", unk.Cmd), "len", len(unk.Data))
		return
	}
	d.store.Apply(u)
}

func (d *Driver) notifyUpdate() {
	d.mu.Lock()
	fn := d.onUpdate
	d.mu.Unlock()
	if fn != nil {
		fn(d.Snapshot())
	}
}

func (d *Driver) statusConfig() status.Config {
	return status.Config{
		SalinityScale: d.cfg.SalinityScale,
		AlarmBits:     d.cfg.AlarmBits,
	}
}
