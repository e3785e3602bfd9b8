// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hostlink

import "time"

// Frame represents a decoded host link ADU
type Frame struct {
	address   byte
	code      Opcode
	payload   []byte
	crc       uint16
	response  bool
	timestamp time.Time
}

// NewFrame creates a frame with the given fields.
// The CRC is computed when the frame is encoded.
func NewFrame(address byte, code Opcode, payload []byte) *Frame {
	return &Frame{
		address:   address,
		code:      code,
		payload:   payload,
		timestamp: time.Now(),
	}
}

// Address returns the station address
func (f *Frame) Address() byte {
	return f.address
}

// Code returns the frame's opcode
func (f *Frame) Code() Opcode {
	return f.code
}

// Payload returns the PDU data after the opcode
func (f *Frame) Payload() []byte {
	return f.payload
}

// Len returns the payload length
func (f *Frame) Len() int {
	return len(f.payload)
}

// IsResponse reports whether the frame is a controller response
func (f *Frame) IsResponse() bool {
	return f.response
}

// CRC returns the CRC carried by a parsed frame
func (f *Frame) CRC() uint16 {
	return f.crc
}

// Timestamp returns the frame's decode or creation time
func (f *Frame) Timestamp() time.Time {
	return f.timestamp
}
