package codec

import (
	"fmt"
	"strings"
)

// CommandName returns a short human-readable name for a command byte, or
// "UNKNOWN" for commands this package does not know.
func CommandName(cmd byte) string {
	switch cmd {
	case CmdTakeover:
		return "TAKEOVER"
	case CmdSetOutput:
		return "SET_OUTPUT"
	case CmdSaltStatus:
		return "SALT_STATUS"
	case CmdVersion:
		return "VERSION"
	case CmdTemperature:
		return "TEMPERATURE"
	default:
		return "UNKNOWN"
	}
}

// String renders the frame for logs and bus monitors, e.g.
// "SET_OUTPUT (0x11) dest=0x50 data=[32]".
func (f *Frame) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (0x%02X) dest=0x%02X", CommandName(f.Cmd), f.Cmd, f.Dest)
	if len(f.Data) > 0 {
		b.WriteString(" data=[")
		for i, d := range f.Data {
			if i > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(&b, "%02X", d)
		}
		b.WriteByte(']')
	}
	return b.String()
}
