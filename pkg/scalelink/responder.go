// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package scalelink

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/Thermoquad/coldlocker/pkg/serialport"
)

// Device is the state of a simulated scale
type Device struct {
	mu       sync.Mutex
	address  byte
	load     int16
	tare     int16
	faulted  bool
	silent   bool
	sensorID byte
	firmware byte
	requests int
}

// NewDevice creates a simulated scale answering at address
func NewDevice(address byte) *Device {
	return &Device{address: address, sensorID: 0x10, firmware: 0x01}
}

// SetLoad sets the gross load on the platform
func (d *Device) SetLoad(load int16) {
	d.mu.Lock()
	d.load = load
	d.mu.Unlock()
}

// SetFault makes net weight report WeightFault
func (d *Device) SetFault(faulted bool) {
	d.mu.Lock()
	d.faulted = faulted
	d.mu.Unlock()
}

// SetSilent makes the device ignore every request
func (d *Device) SetSilent(silent bool) {
	d.mu.Lock()
	d.silent = silent
	d.mu.Unlock()
}

// Address returns the current device address
func (d *Device) Address() byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.address
}

// Requests returns how many requests addressed to the device were seen
func (d *Device) Requests() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.requests
}

// handle returns the reply value for req, or false to stay quiet
func (d *Device) handle(req *PDU) ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if req.Address != d.address {
		return nil, false
	}
	d.requests++
	if d.silent {
		return nil, false
	}

	switch req.Code {
	case CodeNetWeight:
		net := d.load - d.tare
		if d.faulted {
			net = WeightFault
		}
		return binary.LittleEndian.AppendUint16(nil, uint16(net)), true
	case CodeRemoveTare:
		if d.faulted {
			return []byte{ResultFail}, true
		}
		d.tare = d.load
		return []byte{ResultSuccess}, true
	case CodeCalibrateZero:
		if d.faulted {
			return []byte{ResultFail}, true
		}
		d.tare = d.load
		return []byte{ResultSuccess}, true
	case CodeCalibrateFull:
		if d.faulted || d.load-d.tare <= 0 {
			return []byte{ResultFail}, true
		}
		d.tare = d.load - int16(binary.LittleEndian.Uint16(req.Value))
		return []byte{ResultSuccess}, true
	case CodeSensorID:
		return []byte{d.sensorID}, true
	case CodeFirmwareVersion:
		return []byte{d.firmware}, true
	case CodeSetAddress:
		if req.Value[0] == 0 {
			return []byte{ResultFail}, true
		}
		// the reply still carries the old address
		defer func() { d.address = req.Value[0] }()
		return []byte{ResultSuccess}, true
	}
	return nil, false
}

// Responder serves a Device on a serial port
type Responder struct {
	link   *serialport.Link
	device *Device
}

// NewResponder creates a responder for device on port
func NewResponder(port serialport.Port, device *Device) *Responder {
	return &Responder{link: serialport.NewLink(port), device: device}
}

// Serve answers requests until ctx is done or the port closes
func (r *Responder) Serve(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		adu, err := Receive(r.link, 50*time.Millisecond, FrameTimeout)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, serialport.ErrClosed) {
				return nil
			}
			if !errors.Is(err, serialport.ErrTimeout) {
				r.link.Flush()
			}
			continue
		}

		req, err := ParseRequest(adu)
		if err != nil {
			continue
		}
		value, ok := r.device.handle(req)
		if !ok {
			continue
		}

		rsp, err := Build(req.Address, req.Code, value)
		if err != nil {
			continue
		}
		if err := r.link.Send(rsp, SendTimeout); errors.Is(err, serialport.ErrClosed) {
			return nil
		}
	}
}
