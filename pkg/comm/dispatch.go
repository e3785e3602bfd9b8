// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package comm

import (
	"context"

	"github.com/Thermoquad/coldlocker/pkg/hostlink"
	"github.com/Thermoquad/coldlocker/pkg/temperature"
)

// dispatch runs one request against the tasks and builds its response.
// A nil response means nothing is sent.
func (s *Server) dispatch(ctx context.Context, req *hostlink.Frame) *hostlink.Frame {
	station := s.cfg.Station
	op := req.Code()

	switch op {
	case hostlink.OpRemoveTare:
		ok, err := s.deps.Scales.RemoveTare(ctx, hostlink.ScaleAddress(req))
		if err != nil {
			s.log.Infof("remove tare: %v", err)
		}
		return hostlink.NewResultResponse(station, op, err == nil && ok)

	case hostlink.OpCalibrate:
		ok, err := s.deps.Scales.Calibrate(ctx, hostlink.ScaleAddress(req), hostlink.CalibrationWeight(req))
		if err != nil {
			s.log.Infof("calibrate: %v", err)
		}
		return hostlink.NewResultResponse(station, op, err == nil && ok)

	case hostlink.OpQueryNetWeight:
		weights, err := s.deps.Scales.NetWeights(ctx, hostlink.ScaleAddress(req))
		if err != nil {
			s.log.Infof("net weight: %v", err)
			return nil
		}
		return hostlink.NewNetWeightResponse(station, weights)

	case hostlink.OpQueryScaleCount:
		return hostlink.NewByteResponse(station, op, byte(s.deps.Scales.Count()))

	case hostlink.OpSetTemperature:
		err := s.deps.Compressor.SetSetpoint(ctx, int(hostlink.Setpoint(req)), s.cfg.TaskTimeout)
		if err != nil {
			s.log.Infof("set temperature: %v", err)
		}
		return hostlink.NewResultResponse(station, op, err == nil)

	case hostlink.OpQuerySetpoint:
		v, err := s.deps.Compressor.Setpoint(ctx, s.cfg.TaskTimeout)
		if err != nil {
			s.log.Warnf("query set point: %v", err)
			return nil
		}
		return hostlink.NewByteResponse(station, op, byte(int8(v)))

	case hostlink.OpQueryDoorStatus, hostlink.OpQueryLockStatus:
		st, err := s.deps.Lock.Status(ctx, s.cfg.TaskTimeout+s.cfg.LockTimeout+LockMargin)
		if err != nil {
			s.log.Warnf("query lock status: %v", err)
			return nil
		}
		if op == hostlink.OpQueryDoorStatus {
			return hostlink.NewByteResponse(station, op, pick(st.DoorOpen, hostlink.DoorOpen, hostlink.DoorClosed))
		}
		return hostlink.NewByteResponse(station, op, pick(st.Locked, hostlink.LockLocked, hostlink.LockUnlocked))

	case hostlink.OpLock:
		ok, err := s.deps.Lock.Lock(ctx, s.cfg.LockTimeout+LockMargin)
		if err != nil {
			s.log.Warnf("lock: %v", err)
		}
		return hostlink.NewResultResponse(station, op, err == nil && ok)

	case hostlink.OpUnlock:
		ok, err := s.deps.Lock.Unlock(ctx, s.cfg.LockTimeout+LockMargin)
		if err != nil {
			s.log.Warnf("unlock: %v", err)
		}
		return hostlink.NewResultResponse(station, op, err == nil && ok)

	case hostlink.OpQueryTemperature:
		r, err := s.deps.Temperature.Latest(ctx, s.cfg.TaskTimeout)
		if err != nil {
			s.log.Warnf("query temperature: %v", err)
			return hostlink.NewByteResponse(station, op, hostlink.TemperatureUnknown)
		}
		return hostlink.NewByteResponse(station, op, temperatureByte(r))

	case hostlink.OpQueryManufacturer:
		return hostlink.NewByteResponse(station, op, s.cfg.Manufacturer)
	}

	s.log.Warnf("unhandled opcode %s", hostlink.FormatOpcode(op))
	return nil
}

// temperatureByte encodes a reading as a signed byte, or the unknown marker
func temperatureByte(r temperature.Reading) byte {
	if !r.Valid || r.Rounded == temperature.Unknown || r.Rounded > 126 || r.Rounded < -128 {
		return hostlink.TemperatureUnknown
	}
	return byte(int8(r.Rounded))
}

func pick(cond bool, yes, no byte) byte {
	if cond {
		return yes
	}
	return no
}
