// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hostlink

import (
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/coldlocker/pkg/crc16"
)

// Parse errors. A request failing any of these gets no response.
var (
	ErrShortFrame      = errors.New("frame too short")
	ErrFrameOverflow   = errors.New("frame exceeds maximum size")
	ErrCRCMismatch     = errors.New("CRC mismatch")
	ErrAddressMismatch = errors.New("address mismatch")
	ErrUnknownOpcode   = errors.New("unknown opcode")
	ErrLengthMismatch  = errors.New("payload length mismatch")
	ErrCodeMismatch    = errors.New("response code mismatch")
)

// ParseRequest validates a received request ADU addressed to station.
// Checks run in wire order: size, CRC, address, opcode, payload length.
func ParseRequest(adu []byte, station byte) (*Frame, error) {
	return parse(adu, station, requestSizes, false)
}

// ParseResponse validates a response ADU from station answering op
func ParseResponse(adu []byte, station byte, op Opcode) (*Frame, error) {
	f, err := parse(adu, station, responseSizes, true)
	if err != nil {
		return nil, err
	}
	if f.code != op {
		return nil, fmt.Errorf("%w: expected 0x%02X, got 0x%02X", ErrCodeMismatch, byte(op), byte(f.code))
	}
	return f, nil
}

func parse(adu []byte, station byte, sizes map[Opcode]int, response bool) (*Frame, error) {
	if len(adu) < MinFrameSize {
		return nil, fmt.Errorf("%w: %d bytes (min %d)", ErrShortFrame, len(adu), MinFrameSize)
	}
	if len(adu) > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrFrameOverflow, len(adu), MaxFrameSize)
	}

	received := crc16.Trailer(adu)
	calculated := crc16.Checksum(adu[:len(adu)-crc16.Size])
	if received != calculated {
		return nil, fmt.Errorf("%w: expected 0x%04X, got 0x%04X", ErrCRCMismatch, calculated, received)
	}

	if adu[0] != station {
		return nil, fmt.Errorf("%w: 0x%02X != 0x%02X", ErrAddressMismatch, adu[0], station)
	}

	code := Opcode(adu[1])
	want, ok := sizes[code]
	if !ok {
		return nil, fmt.Errorf("%w: 0x%02X", ErrUnknownOpcode, byte(code))
	}

	payload := adu[HeaderSize : len(adu)-crc16.Size]
	if len(payload) != want {
		return nil, fmt.Errorf("%w: %s payload %d != %d", ErrLengthMismatch, FormatOpcode(code), len(payload), want)
	}

	return &Frame{
		address:   adu[0],
		code:      code,
		payload:   append([]byte(nil), payload...),
		crc:       received,
		response:  response,
		timestamp: time.Now(),
	}, nil
}

// ParseFrame validates an ADU seen on the bus without knowing its direction.
// The request shape is tried first; when it does not fit, the response shape
// is tried and the request error is kept if both fail.
func ParseFrame(adu []byte, station byte) (*Frame, error) {
	f, err := parse(adu, station, requestSizes, false)
	if err == nil {
		return f, nil
	}
	if !errors.Is(err, ErrLengthMismatch) && !errors.Is(err, ErrUnknownOpcode) {
		return nil, err
	}
	if rsp, rerr := parse(adu, station, responseSizes, true); rerr == nil {
		return rsp, nil
	}
	return nil, err
}
