// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package scalelink implements the serial protocol spoken to the weighing
// scales.
//
// A frame is 'M' 'L' [len] [addr] [code] [value...] [crc_lo] [crc_hi], where
// len counts addr, code and value. The CRC is the Modbus CRC16 over every
// byte from 'M' through the last value byte. Multi-byte values are
// little-endian.
package scalelink

import (
	"time"

	"github.com/Thermoquad/coldlocker/pkg/crc16"
)

// Frame layout
const (
	Head0        = 'M'
	Head1        = 'L'
	HeaderSize   = 3 // 'M' 'L' len
	MinPDUSize   = 2 // addr + code
	MaxFrameSize = 20
	MaxPDUSize   = MaxFrameSize - HeaderSize - crc16.Size
)

// DefaultPollAddress is the address scales answer to out of the box
const DefaultPollAddress = 0x01

// Code identifies a scale operation
type Code uint8

// Scale operation codes
const (
	CodeNetWeight       Code = 0
	CodeRemoveTare      Code = 1
	CodeCalibrateZero   Code = 2
	CodeCalibrateFull   Code = 3
	CodeSensorID        Code = 4
	CodeFirmwareVersion Code = 5
	CodeSetAddress      Code = 6
)

// Result bytes returned by tare, calibrate and set-address
const (
	ResultSuccess = 0x00
	ResultFail    = 0x01
)

// WeightFault is the net weight a scale reports when its sensor has failed
const WeightFault int16 = 0x7FFF

// Link timing
const (
	FrameTimeout    = 3 * time.Millisecond
	ResponseTimeout = 200 * time.Millisecond
	SendTimeout     = 5 * time.Millisecond
)

// requestSizes is the value size of each request
var requestSizes = map[Code]int{
	CodeNetWeight:       0,
	CodeRemoveTare:      0,
	CodeCalibrateZero:   2,
	CodeCalibrateFull:   2,
	CodeSensorID:        0,
	CodeFirmwareVersion: 0,
	CodeSetAddress:      1,
}

// responseSizes is the value size of each response
var responseSizes = map[Code]int{
	CodeNetWeight:       2,
	CodeRemoveTare:      1,
	CodeCalibrateZero:   1,
	CodeCalibrateFull:   1,
	CodeSensorID:        1,
	CodeFirmwareVersion: 1,
	CodeSetAddress:      1,
}

func (c Code) String() string {
	switch c {
	case CodeNetWeight:
		return "NET_WEIGHT"
	case CodeRemoveTare:
		return "REMOVE_TARE"
	case CodeCalibrateZero:
		return "CALIBRATE_ZERO"
	case CodeCalibrateFull:
		return "CALIBRATE_FULL"
	case CodeSensorID:
		return "SENSOR_ID"
	case CodeFirmwareVersion:
		return "FIRMWARE_VERSION"
	case CodeSetAddress:
		return "SET_ADDRESS"
	default:
		return "UNKNOWN"
	}
}
