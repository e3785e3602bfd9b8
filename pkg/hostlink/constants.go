// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package hostlink implements the host-facing ADU/PDU protocol of the locker
// controller.
//
// A frame is [addr][code][payload...][crc_lo][crc_hi]. The CRC is the Modbus
// CRC16 over addr through the end of the payload. Requests carry a fixed
// payload size per opcode; every accepted request gets exactly one response
// echoing addr and code.
package hostlink

import "github.com/Thermoquad/coldlocker/pkg/crc16"

// Frame size limits
const (
	HeaderSize   = 2 // addr + code
	MinFrameSize = HeaderSize + crc16.Size
	MaxFrameSize = 20
)

// DefaultStation is the controller's address on the host link
const DefaultStation = 0x01

// Opcode identifies a host request and its response
type Opcode uint8

// Host opcodes
const (
	OpRemoveTare        Opcode = 0x01
	OpCalibrate         Opcode = 0x02
	OpQueryNetWeight    Opcode = 0x03
	OpQueryScaleCount   Opcode = 0x04
	OpSetTemperature    Opcode = 0x0A
	OpQuerySetpoint     Opcode = 0x0B
	OpQueryDoorStatus   Opcode = 0x11
	OpLock              Opcode = 0x21
	OpUnlock            Opcode = 0x22
	OpQueryLockStatus   Opcode = 0x23
	OpQueryTemperature  Opcode = 0x41
	OpQueryManufacturer Opcode = 0x51
)

// Result bytes
const (
	ResultSuccess = 0x00
	ResultFail    = 0x01
)

// Status bytes
const (
	DoorOpen     = 0x01
	DoorClosed   = 0x02
	LockLocked   = 0x03
	LockUnlocked = 0x04
)

// TemperatureUnknown is reported while the sensor is faulted or not yet read
const TemperatureUnknown = 0x7F

// Net weight response layout
const (
	NetWeightSlots       = 8
	NetWeightFault int16 = 0x7FFF
	AllScales            = 0x00
)

// requestSizes is the exact payload size of each request
var requestSizes = map[Opcode]int{
	OpRemoveTare:        1,
	OpCalibrate:         3,
	OpQueryNetWeight:    1,
	OpQueryScaleCount:   0,
	OpSetTemperature:    1,
	OpQuerySetpoint:     0,
	OpQueryDoorStatus:   0,
	OpLock:              0,
	OpUnlock:            0,
	OpQueryLockStatus:   0,
	OpQueryTemperature:  0,
	OpQueryManufacturer: 0,
}

// responseSizes is the exact payload size of each response
var responseSizes = map[Opcode]int{
	OpRemoveTare:        1,
	OpCalibrate:         1,
	OpQueryNetWeight:    2 * NetWeightSlots,
	OpQueryScaleCount:   1,
	OpSetTemperature:    1,
	OpQuerySetpoint:     1,
	OpQueryDoorStatus:   1,
	OpLock:              1,
	OpUnlock:            1,
	OpQueryLockStatus:   1,
	OpQueryTemperature:  1,
	OpQueryManufacturer: 1,
}

// RequestSize returns the payload size of a request with the given opcode
func RequestSize(op Opcode) (int, bool) {
	n, ok := requestSizes[op]
	return n, ok
}

// ResponseSize returns the payload size of a response with the given opcode
func ResponseSize(op Opcode) (int, bool) {
	n, ok := responseSizes[op]
	return n, ok
}
