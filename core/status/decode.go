// Package status decodes validated IntelliChlor frames into typed domain
// values and maintains the current chlorinator state.
//
// Decoding is deliberately forgiving: scaling constants and the alarm bit
// layout come from a reverse-engineered protocol and are injected through
// Config rather than compiled in, and unrecognized command bytes come back
// as an UnknownResponse instead of an error so a shared bus never crashes
// the poll cycle.
package status

import (
	"errors"
	"fmt"
	"strings"

	"github.com/saltcell/intellichlor-go/core/codec"
)

// DefaultSalinityScale converts the raw salinity byte to parts per million.
// Documented approximation only, unverified against hardware.
const DefaultSalinityScale = 50

var ErrShortPayload = errors.New("response payload too short")

// Config controls the protocol constants decoding depends on.
type Config struct {
	// SalinityScale is the ppm-per-count multiplier for the raw salinity
	// byte. Default: 50.
	SalinityScale int

	// AlarmBits maps status byte bit positions to alarm kinds.
	// Defaults to DefaultBitMapping.
	AlarmBits *BitMapping
}

func (c Config) withDefaults() Config {
	if c.SalinityScale <= 0 {
		c.SalinityScale = DefaultSalinityScale
	}
	if c.AlarmBits == nil {
		m := DefaultBitMapping()
		c.AlarmBits = &m
	}
	return c
}

// Update is a decoded response payload. The concrete type identifies the
// response class.
type Update interface {
	isUpdate()
}

// VersionUpdate carries the firmware version string.
type VersionUpdate struct {
	Version string
}

// TemperatureUpdate carries the water temperature in degrees Fahrenheit.
// The wire value is passed through unchanged; no scaling is documented.
type TemperatureUpdate struct {
	WaterTempF int
}

// SaltStatusUpdate carries salinity and the decoded alarm flags.
type SaltStatusUpdate struct {
	SaltPPM   int
	ErrorCode byte
	Alarms    []AlarmKind
}

// TakeoverUpdate carries the reply to a takeover command.
type TakeoverUpdate struct {
	ErrorCode byte
	Alarms    []AlarmKind
}

// UnknownResponse is the passthrough for command bytes this driver does not
// recognize. Callers log and drop it.
type UnknownResponse struct {
	Cmd  byte
	Data []byte
}

func (VersionUpdate) isUpdate()     {}
func (TemperatureUpdate) isUpdate() {}
func (SaltStatusUpdate) isUpdate()  {}
func (TakeoverUpdate) isUpdate()    {}
func (UnknownResponse) isUpdate()   {}

// DecodeUpdate interprets a validated frame's data section per its command
// byte. Unrecognized commands never fail; they come back as UnknownResponse.
func DecodeUpdate(f *codec.Frame, cfg Config) (Update, error) {
	cfg = cfg.withDefaults()

	switch f.Cmd {
	case codec.CmdVersion:
		// Remaining payload bytes are the ASCII version string.
		return VersionUpdate{Version: strings.TrimRight(string(f.Data), "\x00 ")}, nil

	case codec.CmdTemperature:
		if len(f.Data) < 1 {
			return nil, fmt.Errorf("%w: temperature needs 1 byte, got %d", ErrShortPayload, len(f.Data))
		}
		return TemperatureUpdate{WaterTempF: int(f.Data[0])}, nil

	case codec.CmdSaltStatus:
		if len(f.Data) < 2 {
			return nil, fmt.Errorf("%w: salt/status needs 2 bytes, got %d", ErrShortPayload, len(f.Data))
		}
		return SaltStatusUpdate{
			SaltPPM:   int(f.Data[0]) * cfg.SalinityScale,
			ErrorCode: f.Data[1],
			Alarms:    cfg.AlarmBits.DecodeAlarms(f.Data[1]),
		}, nil

	case codec.CmdTakeover:
		var code byte
		if len(f.Data) > 0 {
			code = f.Data[0]
		}
		return TakeoverUpdate{
			ErrorCode: code,
			Alarms:    cfg.AlarmBits.DecodeAlarms(code),
		}, nil

	default:
		data := make([]byte, len(f.Data))
		copy(data, f.Data)
		return UnknownResponse{Cmd: f.Cmd, Data: data}, nil
	}
}
