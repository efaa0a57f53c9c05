package bus

import "time"

// Port is the raw byte-level capability the controller drives. Implementations
// wrap the physical UART/RS485 transceiver; see transport/serial for the real
// one. Read must honor the timeout set by SetReadTimeout, returning (0, nil)
// when it elapses with nothing received.
type Port interface {
	Write(p []byte) (int, error)
	Read(p []byte) (int, error)
	SetReadTimeout(d time.Duration) error

	// SetTransmitEnable asserts or releases the transceiver's DE/RE line.
	// The bus is half-duplex: while asserted, nothing can be received.
	SetTransmitEnable(enabled bool) error

	Close() error
}
