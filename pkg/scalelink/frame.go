// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package scalelink

import (
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/coldlocker/pkg/crc16"
	"github.com/Thermoquad/coldlocker/pkg/serialport"
)

// Frame errors
var (
	ErrBadHeader       = errors.New("bad frame header")
	ErrBadLength       = errors.New("bad length field")
	ErrCRCMismatch     = errors.New("CRC mismatch")
	ErrAddressMismatch = errors.New("address mismatch")
	ErrCodeMismatch    = errors.New("code mismatch")
	ErrUnknownCode     = errors.New("unknown code")
	ErrSizeMismatch    = errors.New("value size mismatch")
)

// PDU is the decoded body of a scale frame
type PDU struct {
	Address byte
	Code    Code
	Value   []byte
}

// Build encodes a frame for addr and code carrying value
func Build(addr byte, code Code, value []byte) ([]byte, error) {
	if MinPDUSize+len(value) > MaxPDUSize {
		return nil, fmt.Errorf("%w: value of %d bytes", ErrBadLength, len(value))
	}
	adu := make([]byte, 0, HeaderSize+MinPDUSize+len(value)+crc16.Size)
	adu = append(adu, Head0, Head1, byte(MinPDUSize+len(value)), addr, byte(code))
	adu = append(adu, value...)
	return crc16.Append(adu), nil
}

// Receive reads one frame from link. The header must start within timeout;
// the body and CRC must each follow within frameTimeout. The returned ADU
// has a verified header and CRC.
func Receive(link *serialport.Link, timeout, frameTimeout time.Duration) ([]byte, error) {
	adu := make([]byte, MaxFrameSize)

	if _, err := link.ReadFull(adu[:HeaderSize], timeout, timeout); err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}
	if adu[0] != Head0 || adu[1] != Head1 {
		return nil, fmt.Errorf("%w: %02X %02X", ErrBadHeader, adu[0], adu[1])
	}

	size := int(adu[2])
	if size == 0 || size > MaxPDUSize {
		return nil, fmt.Errorf("%w: %d", ErrBadLength, size)
	}
	end := HeaderSize + size
	if _, err := link.ReadFull(adu[HeaderSize:end], frameTimeout, frameTimeout); err != nil {
		return nil, fmt.Errorf("pdu: %w", err)
	}
	if _, err := link.ReadFull(adu[end:end+crc16.Size], frameTimeout, frameTimeout); err != nil {
		return nil, fmt.Errorf("crc: %w", err)
	}

	adu = adu[:end+crc16.Size]
	if !crc16.Valid(adu) {
		return nil, fmt.Errorf("%w: received 0x%04X, calculated 0x%04X", ErrCRCMismatch, crc16.Trailer(adu), crc16.Checksum(adu[:end]))
	}
	return adu, nil
}

// body returns the PDU bytes of a received ADU
func body(adu []byte) []byte {
	return adu[HeaderSize : len(adu)-crc16.Size]
}

// ParseRequest decodes a request ADU as a scale sees it.
// The address is not checked; a scale ignores frames for other addresses.
func ParseRequest(adu []byte) (*PDU, error) {
	pdu := body(adu)
	if len(pdu) < MinPDUSize {
		return nil, fmt.Errorf("%w: %d", ErrBadLength, len(pdu))
	}
	code := Code(pdu[1])
	want, ok := requestSizes[code]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCode, code)
	}
	if len(pdu)-MinPDUSize != want {
		return nil, fmt.Errorf("%w: %s value %d != %d", ErrSizeMismatch, code, len(pdu)-MinPDUSize, want)
	}
	return &PDU{Address: pdu[0], Code: code, Value: append([]byte(nil), pdu[MinPDUSize:]...)}, nil
}

// ParseResponse decodes a response ADU and checks that it answers code
// from addr with the exact value size
func ParseResponse(adu []byte, addr byte, code Code) (*PDU, error) {
	pdu := body(adu)
	if len(pdu) < MinPDUSize {
		return nil, fmt.Errorf("%w: %d", ErrBadLength, len(pdu))
	}
	if pdu[0] != addr {
		return nil, fmt.Errorf("%w: %d != %d", ErrAddressMismatch, pdu[0], addr)
	}
	if Code(pdu[1]) != code {
		return nil, fmt.Errorf("%w: %d != %d", ErrCodeMismatch, pdu[1], code)
	}
	want, ok := responseSizes[code]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCode, code)
	}
	if len(pdu)-MinPDUSize != want {
		return nil, fmt.Errorf("%w: %s value %d != %d", ErrSizeMismatch, code, len(pdu)-MinPDUSize, want)
	}
	return &PDU{Address: addr, Code: code, Value: append([]byte(nil), pdu[MinPDUSize:]...)}, nil
}
