// Package serial provides the physical RS485 port for the IntelliChlor bus.
//
// The chlorinator speaks 9600 8N1 over a half-duplex RS485 pair. The
// transceiver's DE/RE direction pins are driven from the RTS line, which is
// how the common FTDI and MAX485 adapter boards are wired; boards with an
// active-low enable can invert the polarity in the config.
package serial

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.bug.st/serial"

	"github.com/saltcell/intellichlor-go/core/bus"
)

// Compile-time interface check.
var _ bus.Port = (*Port)(nil)

// DefaultBaudRate is the IntelliChlor's fixed baud rate.
const DefaultBaudRate = 9600

// Config holds the configuration for the serial port.
type Config struct {
	// Port is the serial port path (e.g., "/dev/ttyUSB0" or "COM3").
	Port string

	// BaudRate is the serial baud rate. Defaults to 9600; the hardware
	// accepts nothing else, the knob exists for loopback rigs.
	BaudRate int

	// InvertTransmitEnable flips the RTS polarity for transceivers with
	// an active-low driver-enable pin.
	InvertTransmitEnable bool

	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Port implements bus.Port over a real serial device.
type Port struct {
	cfg  Config
	port serial.Port
	log  *slog.Logger
}

// Open opens the serial device in 8N1 framing and leaves the transceiver
// in receive mode.
func Open(cfg Config) (*Port, error) {
	if cfg.Port == "" {
		return nil, errors.New("serial port is required")
	}
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	sp, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("opening serial port: %w", err)
	}

	p := &Port{
		cfg:  cfg,
		port: sp,
		log:  cfg.Logger.WithGroup("serial"),
	}

	if err := p.SetTransmitEnable(false); err != nil {
		sp.Close()
		return nil, err
	}

	p.log.Info("opened serial port", "port", cfg.Port, "baud", cfg.BaudRate)
	return p, nil
}

// Write sends bytes and drains the OS transmit buffer before returning, so
// the caller can safely drop the direction line immediately afterwards.
func (p *Port) Write(b []byte) (int, error) {
	n, err := p.port.Write(b)
	if err != nil {
		return n, err
	}
	if err := p.port.Drain(); err != nil {
		return n, fmt.Errorf("draining transmit buffer: %w", err)
	}
	return n, nil
}

// Read reads whatever is available, honoring the configured read timeout.
func (p *Port) Read(b []byte) (int, error) {
	return p.port.Read(b)
}

// SetReadTimeout bounds subsequent Read calls.
func (p *Port) SetReadTimeout(d time.Duration) error {
	return p.port.SetReadTimeout(d)
}

// SetTransmitEnable drives the transceiver direction via RTS.
func (p *Port) SetTransmitEnable(enabled bool) error {
	if err := p.port.SetRTS(rtsFor(enabled, p.cfg.InvertTransmitEnable)); err != nil {
		return fmt.Errorf("setting transmit enable: %w", err)
	}
	return nil
}

// Close releases the transceiver to receive mode and closes the device.
func (p *Port) Close() error {
	// Best effort; a failed RTS write must not block the close.
	_ = p.SetTransmitEnable(false)
	return p.port.Close()
}

// rtsFor maps the logical transmit-enable state to the RTS line level.
func rtsFor(enabled, inverted bool) bool {
	return enabled != inverted
}
