// Package bus enforces the shared-bus etiquette an RS485 half-duplex line
// requires: a quiet interval before every transmit, direction switching
// around the write, and an inter-frame delay between transmits.
//
// The controller owns no protocol semantics. It paces writes and accumulates
// reads; making sense of the bytes is the codec's job. The IntelliChlor
// shares its bus with other controllers, so collisions are expected and the
// quiet-time discipline is what keeps them rare.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultQuietTime is how long the line must have been idle before a
	// transmit. Documented working range is 40-150 ms depending on how
	// busy the shared bus is.
	DefaultQuietTime = 50 * time.Millisecond

	// DefaultInterFrameDelay is the minimum gap between our own transmits.
	// Documented working range is 30-150 ms.
	DefaultInterFrameDelay = 50 * time.Millisecond

	// DefaultListenTimeout bounds a listen window when the caller does not
	// specify one.
	DefaultListenTimeout = 500 * time.Millisecond

	// readSlice is the per-Read timeout inside a listen window. Short
	// enough that cancellation and window expiry stay responsive.
	readSlice = 20 * time.Millisecond

	// readBufSize is the size of the per-Read scratch buffer.
	readBufSize = 64
)

// Config configures a Controller.
type Config struct {
	// QuietTime is the required idle period before any transmit.
	// Default: 50 ms.
	QuietTime time.Duration

	// InterFrameDelay is the minimum gap after a transmit before the next
	// one. Default: 50 ms.
	InterFrameDelay time.Duration

	// Logger for bus events. Falls back to slog.Default() if nil.
	Logger *slog.Logger
}

// Controller paces all traffic on a single half-duplex port. It is owned by
// exactly one goroutine (the driver's command loop); methods are serialized
// by construction, the mutex only guards the transmit timestamp.
type Controller struct {
	cfg  Config
	log  *slog.Logger
	port Port

	mu     sync.Mutex
	lastTx time.Time

	// nowFn and sleepFn allow overriding real time for testing.
	nowFn   func() time.Time
	sleepFn func(ctx context.Context, d time.Duration) error
}

// NewController creates a controller over the given port.
func NewController(port Port, cfg Config) *Controller {
	if cfg.QuietTime <= 0 {
		cfg.QuietTime = DefaultQuietTime
	}
	if cfg.InterFrameDelay <= 0 {
		cfg.InterFrameDelay = DefaultInterFrameDelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		cfg:     cfg,
		log:     logger.WithGroup("bus"),
		port:    port,
		nowFn:   time.Now,
		sleepFn: sleepContext,
	}
}

// Transmit writes one encoded frame to the bus. It waits out the
// inter-frame delay, watches the line until a full quiet interval passes
// with no byte observed, asserts transmit enable, writes, and releases
// transmit enable again so listening resumes immediately. The wait is
// bounded by the context.
func (c *Controller) Transmit(ctx context.Context, frame []byte) error {
	if err := c.waitClear(ctx); err != nil {
		return err
	}

	if err := c.port.SetTransmitEnable(true); err != nil {
		return fmt.Errorf("asserting transmit enable: %w", err)
	}

	_, werr := c.port.Write(frame)

	// Always drop back to receive, even after a failed write; a stuck
	// DE line would jam the whole bus.
	if err := c.port.SetTransmitEnable(false); err != nil && werr == nil {
		werr = fmt.Errorf("releasing transmit enable: %w", err)
	}

	now := c.nowFn()
	c.mu.Lock()
	c.lastTx = now
	c.mu.Unlock()

	if werr != nil {
		return fmt.Errorf("writing frame: %w", werr)
	}
	c.log.Debug("transmitted", "bytes", len(frame))
	return nil
}

// Listen reads from the port for up to timeout, accumulating whatever
// arrives. After each read burst the done predicate (if any) sees the full
// accumulation and may end the window early. Partial or garbled input is
// not an error here; an empty return with a nil error simply means nothing
// was heard.
func (c *Controller) Listen(ctx context.Context, timeout time.Duration, done func(accumulated []byte) bool) ([]byte, error) {
	if timeout <= 0 {
		timeout = DefaultListenTimeout
	}
	if err := c.port.SetReadTimeout(readSlice); err != nil {
		return nil, fmt.Errorf("setting read timeout: %w", err)
	}

	deadline := c.nowFn().Add(timeout)
	buf := make([]byte, readBufSize)
	var accumulated []byte

	for c.nowFn().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return accumulated, err
		}

		n, err := c.port.Read(buf)
		if err != nil {
			return accumulated, fmt.Errorf("reading from port: %w", err)
		}
		if n == 0 {
			continue
		}

		accumulated = append(accumulated, buf[:n]...)
		if done != nil && done(accumulated) {
			break
		}
	}
	return accumulated, nil
}

// waitClear blocks until the inter-frame delay has passed and the line has
// been observed idle for a full quiet interval. The quiet check reads the
// port in slices; any byte heard restarts the clock, so an actively busy
// bus keeps deferring us for as long as the context allows. Bytes consumed
// here are another master's exchange and are discarded — we have nothing
// outstanding while we are about to transmit.
func (c *Controller) waitClear(ctx context.Context) error {
	c.mu.Lock()
	lastTx := c.lastTx
	c.mu.Unlock()
	if !lastTx.IsZero() {
		if d := c.cfg.InterFrameDelay - c.nowFn().Sub(lastTx); d > 0 {
			if err := c.sleepFn(ctx, d); err != nil {
				return err
			}
		}
	}

	if err := c.port.SetReadTimeout(readSlice); err != nil {
		return fmt.Errorf("setting read timeout: %w", err)
	}

	buf := make([]byte, readBufSize)
	idleSince := c.nowFn()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.nowFn().Sub(idleSince) >= c.cfg.QuietTime {
			return nil
		}

		n, err := c.port.Read(buf)
		if err != nil {
			return fmt.Errorf("reading from port: %w", err)
		}
		if n > 0 {
			idleSince = c.nowFn()
			c.log.Debug("line busy, deferring transmit", "bytes", n)
		}
	}
}

// sleepContext sleeps for d or until the context is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
