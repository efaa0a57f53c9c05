package status

// AlarmKind identifies one of the eight documented chlorinator alarm flags.
type AlarmKind int

const (
	AlarmNoFlow AlarmKind = iota
	AlarmLowSalt
	AlarmHighSalt
	AlarmCleanCell
	AlarmHighCurrent
	AlarmLowVolts
	AlarmLowTemp
	AlarmCheckPCB
)

func (a AlarmKind) String() string {
	switch a {
	case AlarmNoFlow:
		return "no_flow"
	case AlarmLowSalt:
		return "low_salt"
	case AlarmHighSalt:
		return "high_salt"
	case AlarmCleanCell:
		return "clean_cell"
	case AlarmHighCurrent:
		return "high_current"
	case AlarmLowVolts:
		return "low_volts"
	case AlarmLowTemp:
		return "low_temp"
	case AlarmCheckPCB:
		return "check_pcb"
	default:
		return "unknown"
	}
}

// BitMapping assigns an AlarmKind to each bit position of the status byte,
// index 0 being the least significant bit. The true mapping is not
// documented in any capture we have; this default is an ordering guess and
// must be corrected against hardware via configuration, not code change.
type BitMapping [8]AlarmKind

// DefaultBitMapping maps bit N to the Nth declared AlarmKind.
func DefaultBitMapping() BitMapping {
	return BitMapping{
		AlarmNoFlow,
		AlarmLowSalt,
		AlarmHighSalt,
		AlarmCleanCell,
		AlarmHighCurrent,
		AlarmLowVolts,
		AlarmLowTemp,
		AlarmCheckPCB,
	}
}

// DecodeAlarms expands a raw status byte into alarm kinds using the mapping.
func (m BitMapping) DecodeAlarms(raw byte) []AlarmKind {
	var alarms []AlarmKind
	for bit := 0; bit < 8; bit++ {
		if raw&(1<<bit) != 0 {
			alarms = append(alarms, m[bit])
		}
	}
	return alarms
}
