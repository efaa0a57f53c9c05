package chlorinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/saltcell/intellichlor-go/core/lease"
)

// DefaultRenewalInterval is half the default lease duration, far enough
// inside the window that one lost renewal does not lapse the lease.
const DefaultRenewalInterval = lease.DefaultDuration / 2

// RenewalConfig configures a RenewalScheduler.
type RenewalConfig struct {
	// Interval between set-output renewals. Must be strictly shorter than
	// the lease duration. Default: 250 ms.
	Interval time.Duration

	// Logger for scheduler events. Falls back to slog.Default() if nil.
	Logger *slog.Logger
}

// RenewalScheduler reissues the set-output command on a fixed cadence for
// as long as an output level is held. The driver exposes no internal loop
// for this on purpose: the caller owns the cadence and can cancel at any
// time, at which point the lease simply lapses — the protocol documents no
// explicit release command.
type RenewalScheduler struct {
	cfg    RenewalConfig
	log    *slog.Logger
	driver *Driver

	mu      sync.Mutex
	percent int
	holding bool
	cancel  context.CancelFunc
}

// NewRenewalScheduler creates a renewal scheduler for the given driver.
func NewRenewalScheduler(d *Driver, cfg RenewalConfig) *RenewalScheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultRenewalInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RenewalScheduler{
		cfg:    cfg,
		log:    logger.WithGroup("renewal"),
		driver: d,
	}
}

// Hold starts renewing the given output level. The first command goes out
// on the next tick.
func (s *RenewalScheduler) Hold(percent int) error {
	if percent < 0 || percent > 100 {
		return fmt.Errorf("%w: %d", ErrOutOfRange, percent)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.percent = percent
	s.holding = true
	return nil
}

// Release stops renewing. The lease lapses naturally one duration later.
func (s *RenewalScheduler) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holding = false
}

// Holding returns the currently held level, if any.
func (s *RenewalScheduler) Holding() (percent int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.percent, s.holding
}

// Start begins the renewal tick loop. Blocks until the context is
// cancelled. Typically called in a goroutine.
func (s *RenewalScheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// Stop cancels the scheduler's context, stopping the tick loop.
func (s *RenewalScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *RenewalScheduler) tick(ctx context.Context) {
	s.mu.Lock()
	holding := s.holding
	percent := s.percent
	s.mu.Unlock()

	if !holding {
		return
	}
	if err := s.driver.SetOutputPercent(ctx, percent); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.log.Warn("renewal failed", "percent", percent, "error", err)
	}
}

// PollConfig configures a PollScheduler.
type PollConfig struct {
	// Interval between full status polls. Default: 60 s.
	Interval time.Duration

	// Logger for scheduler events. Falls back to slog.Default() if nil.
	Logger *slog.Logger
}

// PollScheduler runs full status cycles on a fixed cadence.
type PollScheduler struct {
	cfg    PollConfig
	log    *slog.Logger
	driver *Driver

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewPollScheduler creates a poll scheduler for the given driver.
func NewPollScheduler(d *Driver, cfg PollConfig) *PollScheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &PollScheduler{
		cfg:    cfg,
		log:    logger.WithGroup("poll"),
		driver: d,
	}
}

// Start polls once immediately, then on every interval tick. Blocks until
// the context is cancelled.
func (s *PollScheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	s.poll(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

// Stop cancels the scheduler's context, stopping the poll loop.
func (s *PollScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *PollScheduler) poll(ctx context.Context) {
	res, err := s.driver.PollStatus(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.log.Warn("poll cycle failed", "error", err)
		return
	}
	if res.Failed() {
		// Persistent all-field failure is the health signal the caller
		// watches for; everything transient was already retried.
		s.log.Warn("poll cycle returned no fields",
			"version_err", res.VersionErr,
			"temperature_err", res.TemperatureErr,
			"salt_err", res.SaltStatusErr)
	}
}
