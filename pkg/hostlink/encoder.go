// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hostlink

import (
	"fmt"

	"github.com/Thermoquad/coldlocker/pkg/crc16"
)

// Encode converts a frame to wire format with the CRC appended
func Encode(f *Frame) ([]byte, error) {
	size := HeaderSize + len(f.payload) + crc16.Size
	if size > MaxFrameSize {
		return nil, fmt.Errorf("frame too large: %d bytes (max %d)", size, MaxFrameSize)
	}

	adu := make([]byte, 0, size)
	adu = append(adu, f.address, byte(f.code))
	adu = append(adu, f.payload...)
	return crc16.Append(adu), nil
}

// MustEncode encodes a frame built by this package's constructors.
// Panics on encoding error (use Encode for error handling).
func MustEncode(f *Frame) []byte {
	adu, err := Encode(f)
	if err != nil {
		panic(fmt.Sprintf("hostlink: encode error: %v", err))
	}
	return adu
}
