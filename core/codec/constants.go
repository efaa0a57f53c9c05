package codec

// Known command bytes. The set is reverse-engineered; bytes outside this
// list do appear on shared buses and are passed through as unknown
// responses rather than rejected.
const (
	CmdTakeover    = 0x00 // remote-control takeover, DATA=[enable]
	CmdSetOutput   = 0x11 // set output percentage, DATA=[percent]
	CmdSaltStatus  = 0x12 // read salinity and status, DATA=[0x00]
	CmdVersion     = 0x14 // read firmware version string
	CmdTemperature = 0x15 // read water temperature
)

// Bus destinations.
const (
	// DestChlorinator is the IntelliChlor's fixed bus address.
	DestChlorinator = 0x50

	// DestHost is the destination seen on replies addressed back to the
	// polling controller.
	DestHost = 0x00
)
