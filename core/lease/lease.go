// Package lease tracks the remote control lease an IntelliChlor grants the
// most recent controller that issued a set-output command.
//
// The chlorinator gives no acknowledgment either way: if the command is not
// reissued within roughly half a second, the device silently reverts to
// local control. The Lease models that silent device-side transition as an
// explicit observable state, with an optional periodic Monitor loop that
// fires a callback once per lapse.
package lease

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultDuration is the assumed lease window. Exceeding it without a
	// renewal means the device has reverted to local control.
	DefaultDuration = 500 * time.Millisecond

	// checkInterval is the resolution of the monitor's expiry check loop.
	checkInterval = 50 * time.Millisecond
)

// Config configures a Lease.
type Config struct {
	// Duration is the lease window. Default: 500 ms.
	Duration time.Duration

	// Logger for lease transitions. Falls back to slog.Default() if nil.
	Logger *slog.Logger
}

// Lease tracks whether remote control is currently held.
type Lease struct {
	cfg Config
	log *slog.Logger

	mu          sync.Mutex
	held        bool
	lastRenewed time.Time
	onExpire    func()
	cancel      context.CancelFunc

	// nowFn allows overriding time.Now() for testing.
	nowFn func() time.Time
}

// New creates a lease with the given configuration.
func New(cfg Config) *Lease {
	if cfg.Duration <= 0 {
		cfg.Duration = DefaultDuration
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Lease{
		cfg:   cfg,
		log:   logger.WithGroup("lease"),
		nowFn: time.Now,
	}
}

// SetOnExpire sets the callback invoked when an active lease lapses.
// It fires once per lapse, not on every check.
func (l *Lease) SetOnExpire(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onExpire = fn
}

// Renew marks the lease as held as of now. Called after every successful
// set-output transmission; the protocol is fire-and-forget so transmission,
// not response, is the renewal point.
func (l *Lease) Renew() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		l.log.Debug("remote control acquired")
	}
	l.held = true
	l.lastRenewed = l.nowFn()
}

// Active reports whether the lease is currently held. Expiry is detected
// lazily here as well as by the monitor loop, so callers get a correct
// answer even without Start running.
func (l *Lease) Active() bool {
	l.mu.Lock()
	active, fn := l.checkLocked()
	l.mu.Unlock()

	if fn != nil {
		fn()
	}
	return active
}

// LastRenewed returns the time of the most recent renewal.
func (l *Lease) LastRenewed() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastRenewed
}

// checkLocked updates the held flag. It returns the current state and, when
// this check observed the lapse, the expiry callback to run outside the
// lock. Must be called with l.mu held.
func (l *Lease) checkLocked() (active bool, fn func()) {
	if !l.held {
		return false, nil
	}
	if l.nowFn().Sub(l.lastRenewed) <= l.cfg.Duration {
		return true, nil
	}
	l.held = false
	l.log.Debug("remote control lease lapsed",
		"last_renewed", l.lastRenewed, "duration", l.cfg.Duration)
	return false, l.onExpire
}

// check runs one expiry check and fires the callback outside the lock.
func (l *Lease) check() {
	l.mu.Lock()
	_, fn := l.checkLocked()
	l.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// Start begins the periodic expiry check loop. Blocks until the context is
// cancelled. Typically called in a goroutine.
func (l *Lease) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	l.mu.Lock()
	l.cancel = cancel
	l.mu.Unlock()

	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.check()
		}
	}
}

// Stop cancels the monitor's context, stopping the expiry check loop.
func (l *Lease) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
}
