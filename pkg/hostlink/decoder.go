// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hostlink

import (
	"fmt"
	"time"

	"github.com/Thermoquad/coldlocker/pkg/crc16"
)

// Strict decoder states
const (
	stateAddress = iota
	stateCode
	statePayload
	stateCRC1
	stateCRC2
)

// StrictDecoder frames a byte stream by reading addr and code, then exactly
// the payload size registered for that opcode, then the CRC.
// It returns raw ADUs; use ParseRequest or ParseResponse to validate them.
type StrictDecoder struct {
	state  int
	buffer []byte
	want   int
	sizes  map[Opcode]int
}

// NewRequestDecoder creates a strict decoder for request frames
func NewRequestDecoder() *StrictDecoder {
	return newStrictDecoder(requestSizes)
}

// NewResponseDecoder creates a strict decoder for response frames
func NewResponseDecoder() *StrictDecoder {
	return newStrictDecoder(responseSizes)
}

func newStrictDecoder(sizes map[Opcode]int) *StrictDecoder {
	return &StrictDecoder{
		state:  stateAddress,
		buffer: make([]byte, 0, MaxFrameSize),
		sizes:  sizes,
	}
}

// Reset discards any partial frame
func (d *StrictDecoder) Reset() {
	d.state = stateAddress
	d.buffer = d.buffer[:0]
	d.want = 0
}

// Pending reports whether a frame is partially received
func (d *StrictDecoder) Pending() bool {
	return len(d.buffer) > 0
}

// DecodeByte processes a single byte.
// Returns the complete ADU, or nil if the frame is incomplete.
// Returns an error if the opcode has no registered size.
func (d *StrictDecoder) DecodeByte(b byte) ([]byte, error) {
	d.buffer = append(d.buffer, b)

	switch d.state {
	case stateAddress:
		d.state = stateCode
		return nil, nil

	case stateCode:
		n, ok := d.sizes[Opcode(b)]
		if !ok {
			d.Reset()
			return nil, fmt.Errorf("%w: 0x%02X", ErrUnknownOpcode, b)
		}
		d.want = n
		if n == 0 {
			d.state = stateCRC1
		} else {
			d.state = statePayload
		}
		return nil, nil

	case statePayload:
		if len(d.buffer)-HeaderSize >= d.want {
			d.state = stateCRC1
		}
		return nil, nil

	case stateCRC1:
		d.state = stateCRC2
		return nil, nil

	case stateCRC2:
		adu := append([]byte(nil), d.buffer...)
		d.Reset()
		return adu, nil

	default:
		d.Reset()
		return nil, fmt.Errorf("invalid state: %d", d.state)
	}
}

// IdleDecoder frames a byte stream by silence: a frame ends once the line has
// been idle for at least the gap. Bytes carry their arrival time so the
// decoder stays independent of any clock.
type IdleDecoder struct {
	gap     time.Duration
	buffer  []byte
	last    time.Time
	discard bool
}

// NewIdleDecoder creates an idle-gap decoder
func NewIdleDecoder(gap time.Duration) *IdleDecoder {
	return &IdleDecoder{
		gap:    gap,
		buffer: make([]byte, 0, MaxFrameSize),
	}
}

// Reset discards any partial frame
func (d *IdleDecoder) Reset() {
	d.buffer = d.buffer[:0]
	d.discard = false
}

// Feed appends bytes that arrived at the given time.
// When the line was idle long enough before them, the previously buffered
// frame is returned. An overflowing frame is dropped up to the next idle gap.
func (d *IdleDecoder) Feed(chunk []byte, at time.Time) ([]byte, error) {
	var frame []byte
	if !d.last.IsZero() && at.Sub(d.last) >= d.gap {
		frame = d.take()
		d.discard = false
	}
	d.last = at

	if d.discard {
		return frame, nil
	}

	d.buffer = append(d.buffer, chunk...)
	if len(d.buffer) > MaxFrameSize {
		n := len(d.buffer)
		d.buffer = d.buffer[:0]
		d.discard = true
		return frame, fmt.Errorf("%w: %d bytes", ErrFrameOverflow, n)
	}
	return frame, nil
}

// Flush returns the buffered frame if the line has been idle since the last
// byte for at least the gap
func (d *IdleDecoder) Flush(now time.Time) []byte {
	if d.last.IsZero() || now.Sub(d.last) < d.gap {
		return nil
	}
	d.discard = false
	return d.take()
}

// Deadline returns when the buffered frame will be complete if no more
// bytes arrive
func (d *IdleDecoder) Deadline() (time.Time, bool) {
	if len(d.buffer) == 0 {
		return time.Time{}, false
	}
	return d.last.Add(d.gap), true
}

func (d *IdleDecoder) take() []byte {
	if len(d.buffer) == 0 {
		return nil
	}
	frame := append([]byte(nil), d.buffer...)
	d.buffer = d.buffer[:0]
	return frame
}

// RequestFrameSize returns the full ADU size of a request with the given opcode
func RequestFrameSize(op Opcode) (int, bool) {
	n, ok := requestSizes[op]
	if !ok {
		return 0, false
	}
	return HeaderSize + n + crc16.Size, true
}
