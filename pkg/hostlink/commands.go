// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hostlink

import (
	"encoding/binary"
	"fmt"
)

// Request builders create frames ready for encoding by the host side.

// NewRemoveTare creates a REMOVE_TARE request (0x01).
// scale is a configured scale address, or AllScales.
func NewRemoveTare(station, scale byte) *Frame {
	return NewFrame(station, OpRemoveTare, []byte{scale})
}

// NewCalibrate creates a CALIBRATE request (0x02).
// A weight of 0 calibrates zero; any other weight calibrates the span.
func NewCalibrate(station, scale byte, weight uint16) *Frame {
	payload := []byte{scale, 0, 0}
	binary.BigEndian.PutUint16(payload[1:], weight)
	return NewFrame(station, OpCalibrate, payload)
}

// NewQueryNetWeight creates a QUERY_NET_WEIGHT request (0x03)
func NewQueryNetWeight(station, scale byte) *Frame {
	return NewFrame(station, OpQueryNetWeight, []byte{scale})
}

// NewQueryScaleCount creates a QUERY_SCALE_COUNT request (0x04)
func NewQueryScaleCount(station byte) *Frame {
	return NewFrame(station, OpQueryScaleCount, nil)
}

// NewSetTemperature creates a SET_TEMPERATURE request (0x0A)
func NewSetTemperature(station byte, setpoint int8) *Frame {
	return NewFrame(station, OpSetTemperature, []byte{byte(setpoint)})
}

// NewQuerySetpoint creates a QUERY_SETPOINT request (0x0B)
func NewQuerySetpoint(station byte) *Frame {
	return NewFrame(station, OpQuerySetpoint, nil)
}

// NewQueryDoorStatus creates a QUERY_DOOR_STATUS request (0x11)
func NewQueryDoorStatus(station byte) *Frame {
	return NewFrame(station, OpQueryDoorStatus, nil)
}

// NewLock creates a LOCK request (0x21)
func NewLock(station byte) *Frame {
	return NewFrame(station, OpLock, nil)
}

// NewUnlock creates an UNLOCK request (0x22)
func NewUnlock(station byte) *Frame {
	return NewFrame(station, OpUnlock, nil)
}

// NewQueryLockStatus creates a QUERY_LOCK_STATUS request (0x23)
func NewQueryLockStatus(station byte) *Frame {
	return NewFrame(station, OpQueryLockStatus, nil)
}

// NewQueryTemperature creates a QUERY_TEMPERATURE request (0x41)
func NewQueryTemperature(station byte) *Frame {
	return NewFrame(station, OpQueryTemperature, nil)
}

// NewQueryManufacturer creates a QUERY_MANUFACTURER request (0x51)
func NewQueryManufacturer(station byte) *Frame {
	return NewFrame(station, OpQueryManufacturer, nil)
}

// Response builders are used by the controller.

// NewResultResponse answers op with a success or fail byte
func NewResultResponse(station byte, op Opcode, ok bool) *Frame {
	result := byte(ResultSuccess)
	if !ok {
		result = ResultFail
	}
	return newResponse(station, op, []byte{result})
}

// NewByteResponse answers op with a single value byte
func NewByteResponse(station byte, op Opcode, value byte) *Frame {
	return newResponse(station, op, []byte{value})
}

// NewNetWeightResponse answers QUERY_NET_WEIGHT.
// Weights fill the slots in order; remaining slots are zero.
func NewNetWeightResponse(station byte, weights []int16) *Frame {
	payload := make([]byte, 2*NetWeightSlots)
	for i, w := range weights {
		if i >= NetWeightSlots {
			break
		}
		binary.BigEndian.PutUint16(payload[2*i:], uint16(w))
	}
	return newResponse(station, OpQueryNetWeight, payload)
}

func newResponse(station byte, op Opcode, payload []byte) *Frame {
	f := NewFrame(station, op, payload)
	f.response = true
	return f
}

// Request accessors are used by the controller after ParseRequest.

// ScaleAddress returns the scale address of a tare, calibrate or net weight request
func ScaleAddress(f *Frame) byte {
	if len(f.payload) == 0 {
		return AllScales
	}
	return f.payload[0]
}

// CalibrationWeight returns the big-endian weight of a calibrate request
func CalibrationWeight(f *Frame) uint16 {
	if len(f.payload) < 3 {
		return 0
	}
	return binary.BigEndian.Uint16(f.payload[1:3])
}

// Setpoint returns the value of a set temperature request
func Setpoint(f *Frame) int8 {
	if len(f.payload) == 0 {
		return 0
	}
	return int8(f.payload[0])
}

// Response parsers are used by the host side after ParseResponse.

// ParseResult reports whether a result response signals success
func ParseResult(f *Frame) (bool, error) {
	v, err := ParseByte(f)
	if err != nil {
		return false, err
	}
	switch v {
	case ResultSuccess:
		return true, nil
	case ResultFail:
		return false, nil
	default:
		return false, fmt.Errorf("invalid result byte 0x%02X", v)
	}
}

// ParseByte returns the single value byte of a response
func ParseByte(f *Frame) (byte, error) {
	if len(f.payload) != 1 {
		return 0, fmt.Errorf("%w: expected 1 byte, got %d", ErrLengthMismatch, len(f.payload))
	}
	return f.payload[0], nil
}

// ParseNetWeights returns the eight weight slots of a net weight response
func ParseNetWeights(f *Frame) ([]int16, error) {
	if len(f.payload) != 2*NetWeightSlots {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrLengthMismatch, 2*NetWeightSlots, len(f.payload))
	}
	weights := make([]int16, NetWeightSlots)
	for i := range weights {
		weights[i] = int16(binary.BigEndian.Uint16(f.payload[2*i:]))
	}
	return weights, nil
}

// ParseTemperature returns the reported temperature and whether it is valid
func ParseTemperature(f *Frame) (int8, bool, error) {
	v, err := ParseByte(f)
	if err != nil {
		return 0, false, err
	}
	if v == TemperatureUnknown {
		return 0, false, nil
	}
	return int8(v), true, nil
}

// ParseDoorStatus reports whether the door is open
func ParseDoorStatus(f *Frame) (bool, error) {
	v, err := ParseByte(f)
	if err != nil {
		return false, err
	}
	switch v {
	case DoorOpen:
		return true, nil
	case DoorClosed:
		return false, nil
	default:
		return false, fmt.Errorf("invalid door status 0x%02X", v)
	}
}

// ParseLockStatus reports whether the lock is locked
func ParseLockStatus(f *Frame) (bool, error) {
	v, err := ParseByte(f)
	if err != nil {
		return false, err
	}
	switch v {
	case LockLocked:
		return true, nil
	case LockUnlocked:
		return false, nil
	default:
		return false, fmt.Errorf("invalid lock status 0x%02X", v)
	}
}
