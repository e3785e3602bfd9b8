// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hostlink

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// FormatOpcode returns the human-readable name for an opcode
func FormatOpcode(op Opcode) string {
	switch op {
	case OpRemoveTare:
		return "REMOVE_TARE"
	case OpCalibrate:
		return "CALIBRATE"
	case OpQueryNetWeight:
		return "QUERY_NET_WEIGHT"
	case OpQueryScaleCount:
		return "QUERY_SCALE_COUNT"
	case OpSetTemperature:
		return "SET_TEMPERATURE"
	case OpQuerySetpoint:
		return "QUERY_SETPOINT"
	case OpQueryDoorStatus:
		return "QUERY_DOOR_STATUS"
	case OpLock:
		return "LOCK"
	case OpUnlock:
		return "UNLOCK"
	case OpQueryLockStatus:
		return "QUERY_LOCK_STATUS"
	case OpQueryTemperature:
		return "QUERY_TEMPERATURE"
	case OpQueryManufacturer:
		return "QUERY_MANUFACTURER"
	default:
		return fmt.Sprintf("UNKNOWN_0x%02X", byte(op))
	}
}

// FormatFrame formats a frame into a human-readable line
func FormatFrame(f *Frame) string {
	timestamp := f.timestamp.Format("15:04:05.000")
	result := fmt.Sprintf("[%s] %s (0x%02X) addr=%02X len=%d", timestamp, FormatOpcode(f.code), byte(f.code), f.address, len(f.payload))
	if detail := FormatPayload(f); detail != "" {
		result += " " + detail
	}
	return result + "\n"
}

// FormatPayload describes a frame's payload
func FormatPayload(f *Frame) string {
	p := f.payload
	req, _ := RequestSize(f.code)
	isRequest := !f.response && len(p) == req

	switch f.code {
	case OpRemoveTare:
		if isRequest {
			return fmt.Sprintf("scale=%d", p[0])
		}
	case OpCalibrate:
		if isRequest {
			return fmt.Sprintf("scale=%d weight=%d", p[0], binary.BigEndian.Uint16(p[1:3]))
		}
	case OpQueryNetWeight:
		if isRequest {
			return fmt.Sprintf("scale=%d", p[0])
		}
		if weights, err := ParseNetWeights(f); err == nil {
			parts := make([]string, len(weights))
			for i, w := range weights {
				if w == NetWeightFault {
					parts[i] = "ERR"
				} else {
					parts[i] = fmt.Sprintf("%d", w)
				}
			}
			return "weights=[" + strings.Join(parts, " ") + "]"
		}
	case OpSetTemperature:
		if isRequest {
			return fmt.Sprintf("setpoint=%d", int8(p[0]))
		}
	case OpQueryDoorStatus:
		if open, err := ParseDoorStatus(f); err == nil {
			if open {
				return "door=OPEN"
			}
			return "door=CLOSED"
		}
	case OpQueryLockStatus:
		if locked, err := ParseLockStatus(f); err == nil {
			if locked {
				return "lock=LOCKED"
			}
			return "lock=UNLOCKED"
		}
	case OpQueryTemperature:
		if t, ok, err := ParseTemperature(f); err == nil {
			if !ok {
				return "temperature=ERR"
			}
			return fmt.Sprintf("temperature=%dC", t)
		}
	case OpQuerySetpoint:
		if len(p) == 1 {
			return fmt.Sprintf("setpoint=%d", int8(p[0]))
		}
	case OpQueryScaleCount:
		if len(p) == 1 {
			return fmt.Sprintf("count=%d", p[0])
		}
	case OpQueryManufacturer:
		if len(p) == 1 {
			return fmt.Sprintf("manufacturer=0x%02X", p[0])
		}
	}

	if len(p) == 1 {
		switch p[0] {
		case ResultSuccess:
			return "result=SUCCESS"
		case ResultFail:
			return "result=FAIL"
		}
	}
	if len(p) > 0 {
		return fmt.Sprintf("payload=% X", p)
	}
	return ""
}

// FormatBytes formats raw ADU bytes as hex
func FormatBytes(adu []byte) string {
	return fmt.Sprintf("% X", adu)
}
