// Package codec implements the IntelliChlor RS485 wire format.
//
// Every message on the bus is a single frame:
//
//	[0x10 0x02][DEST][CMD][DATA...][SUM][0x10 0x03]
//
// where SUM is the low byte of DEST + CMD + the sum of all DATA bytes.
// The protocol is reverse-engineered from wire captures; no byte stuffing
// has been observed, so a 0x10 0x03 sequence inside DATA would truncate a
// frame. Checksum validation rejects such truncations in practice.
package codec

import (
	"errors"
	"fmt"
)

// Frame start and end markers.
var (
	frameStart = [2]byte{0x10, 0x02}
	frameEnd   = [2]byte{0x10, 0x03}
)

const (
	// MaxDataSize is the largest DATA section observed on the wire.
	MaxDataSize = 29

	// MinFrameSize is the smallest possible frame:
	// start (2) + dest (1) + cmd (1) + checksum (1) + end (2).
	MinFrameSize = 7
)

var (
	ErrInvalidPayload   = errors.New("payload exceeds maximum size")
	ErrIncomplete       = errors.New("incomplete frame")
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

// Frame is one complete protocol message. A Frame is immutable once built;
// callers must not modify Data after construction.
type Frame struct {
	Dest byte
	Cmd  byte
	Data []byte
}

// Checksum computes the 8-bit truncated sum over dest, cmd and data.
func Checksum(dest, cmd byte, data []byte) byte {
	sum := int(dest) + int(cmd)
	for _, b := range data {
		sum += int(b)
	}
	return byte(sum & 0xFF)
}

// Encode builds the wire form of a frame.
// Returns ErrInvalidPayload if data exceeds MaxDataSize.
func Encode(dest, cmd byte, data []byte) ([]byte, error) {
	if len(data) > MaxDataSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrInvalidPayload, len(data), MaxDataSize)
	}

	out := make([]byte, 0, MinFrameSize+len(data))
	out = append(out, frameStart[0], frameStart[1])
	out = append(out, dest, cmd)
	out = append(out, data...)
	out = append(out, Checksum(dest, cmd, data))
	out = append(out, frameEnd[0], frameEnd[1])
	return out, nil
}

// Decode scans window for the next complete frame.
// Returns the decoded frame, the remaining bytes after it, and an error.
//
// ErrIncomplete means no full frame has arrived yet; the caller should read
// more bytes and call Decode again with the grown buffer. ErrChecksumMismatch
// means a framed candidate failed validation; the returned remainder starts
// after the bad frame so the caller can keep scanning. Decode never mutates
// window and holds no state between calls.
func Decode(window []byte) (*Frame, []byte, error) {
	// Nothing shorter than the minimum frame can contain a complete frame.
	if len(window) < MinFrameSize {
		return nil, window, ErrIncomplete
	}

	start := findMarker(window, frameStart)
	if start < 0 {
		// Keep a trailing 0x10 in case the second marker byte is still in flight.
		if n := len(window); n > 0 && window[n-1] == frameStart[0] {
			return nil, window[n-1:], ErrIncomplete
		}
		return nil, nil, ErrIncomplete
	}

	body := window[start+2:]
	end := findMarker(body, frameEnd)
	if end < 0 {
		return nil, window[start:], ErrIncomplete
	}

	// Candidate between the markers: DEST CMD DATA... SUM
	candidate := body[:end]
	remaining := body[end+2:]
	if len(candidate) < 3 {
		// Too short to be a frame; discard and keep scanning.
		return nil, remaining, ErrChecksumMismatch
	}

	dest := candidate[0]
	cmd := candidate[1]
	data := candidate[2 : len(candidate)-1]
	sum := candidate[len(candidate)-1]

	if got := Checksum(dest, cmd, data); got != sum {
		return nil, remaining, fmt.Errorf("%w: expected %02x, got %02x",
			ErrChecksumMismatch, got, sum)
	}

	f := &Frame{
		Dest: dest,
		Cmd:  cmd,
		Data: make([]byte, len(data)),
	}
	copy(f.Data, data)
	return f, remaining, nil
}

// findMarker returns the index of the first occurrence of the two-byte
// marker in data, or -1 if not found.
func findMarker(data []byte, marker [2]byte) int {
	for i := 0; i+1 < len(data); i++ {
		if data[i] == marker[0] && data[i+1] == marker[1] {
			return i
		}
	}
	return -1
}
