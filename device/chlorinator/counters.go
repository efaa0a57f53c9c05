package chlorinator

import "sync/atomic"

// Counters tracks bus traffic statistics using atomic counters.
// All fields are safe for concurrent access.
type Counters struct {
	RequestsSent     atomic.Uint32 // Request frames written to the bus
	ResponsesMatched atomic.Uint32 // Responses correlated to a request
	Retries          atomic.Uint32 // Requests re-sent after a failed window
	Timeouts         atomic.Uint32 // Listen windows that elapsed silent
	ChecksumErrors   atomic.Uint32 // Listen windows ended by a corrupt frame
	RenewalsSent     atomic.Uint32 // Fire-and-forget set-output commands
}

// CountersSnapshot is a plain-value copy of Counters for reading.
type CountersSnapshot struct {
	RequestsSent     uint32
	ResponsesMatched uint32
	Retries          uint32
	Timeouts         uint32
	ChecksumErrors   uint32
	RenewalsSent     uint32
}

// Snapshot returns a consistent point-in-time copy of all counters.
func (c *Counters) Snapshot() CountersSnapshot {
	return CountersSnapshot{
		RequestsSent:     c.RequestsSent.Load(),
		ResponsesMatched: c.ResponsesMatched.Load(),
		Retries:          c.Retries.Load(),
		Timeouts:         c.Timeouts.Load(),
		ChecksumErrors:   c.ChecksumErrors.Load(),
		RenewalsSent:     c.RenewalsSent.Load(),
	}
}

// Reset zeroes all counters.
func (c *Counters) Reset() {
	c.RequestsSent.Store(0)
	c.ResponsesMatched.Store(0)
	c.Retries.Store(0)
	c.Timeouts.Store(0)
	c.ChecksumErrors.Store(0)
	c.RenewalsSent.Store(0)
}
