// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hostlink

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Thermoquad/coldlocker/pkg/serialport"
)

// fakeController answers requests on port with the frame built by reply.
// A nil reply sends nothing.
func fakeController(t *testing.T, port serialport.Port, reply func(*Frame) *Frame) {
	t.Helper()
	go func() {
		decoder := NewRequestDecoder()
		buf := make([]byte, 32)
		for {
			n, err := port.Read(buf)
			if err != nil {
				return
			}
			for _, b := range buf[:n] {
				adu, err := decoder.DecodeByte(b)
				if err != nil || adu == nil {
					continue
				}
				req, err := ParseRequest(adu, DefaultStation)
				if err != nil {
					continue
				}
				if rsp := reply(req); rsp != nil {
					port.Write(MustEncode(rsp))
				}
			}
		}
	}()
}

func newClientPair(t *testing.T, reply func(*Frame) *Frame) *Client {
	t.Helper()
	host, device := serialport.Pipe(0)
	t.Cleanup(func() { host.Close() })
	fakeController(t, device, reply)
	return NewClient(host, DefaultStation, 100*time.Millisecond)
}

// ============================================================
// Client Tests
// ============================================================

func TestClient_Queries(t *testing.T) {
	c := newClientPair(t, func(req *Frame) *Frame {
		switch req.Code() {
		case OpQueryDoorStatus:
			return NewByteResponse(DefaultStation, req.Code(), DoorOpen)
		case OpQueryLockStatus:
			return NewByteResponse(DefaultStation, req.Code(), LockLocked)
		case OpQueryTemperature:
			return NewByteResponse(DefaultStation, req.Code(), 0xFE)
		case OpQuerySetpoint:
			return NewByteResponse(DefaultStation, req.Code(), 6)
		case OpQueryScaleCount:
			return NewByteResponse(DefaultStation, req.Code(), 4)
		case OpQueryManufacturer:
			return NewByteResponse(DefaultStation, req.Code(), 0x01)
		case OpQueryNetWeight:
			return NewNetWeightResponse(DefaultStation, []int16{10, 20, NetWeightFault, 40})
		}
		return NewResultResponse(DefaultStation, req.Code(), true)
	})
	ctx := context.Background()

	if open, err := c.DoorOpen(ctx); err != nil || !open {
		t.Errorf("DoorOpen = %v, %v", open, err)
	}
	if locked, err := c.Locked(ctx); err != nil || !locked {
		t.Errorf("Locked = %v, %v", locked, err)
	}
	if v, ok, err := c.Temperature(ctx); err != nil || !ok || v != -2 {
		t.Errorf("Temperature = %d, %v, %v", v, ok, err)
	}
	if v, err := c.Setpoint(ctx); err != nil || v != 6 {
		t.Errorf("Setpoint = %d, %v", v, err)
	}
	if n, err := c.ScaleCount(ctx); err != nil || n != 4 {
		t.Errorf("ScaleCount = %d, %v", n, err)
	}
	if id, err := c.Manufacturer(ctx); err != nil || id != 0x01 {
		t.Errorf("Manufacturer = %d, %v", id, err)
	}
	weights, err := c.NetWeights(ctx, AllScales)
	if err != nil {
		t.Fatalf("NetWeights: %v", err)
	}
	if weights[0] != 10 || weights[2] != NetWeightFault || weights[4] != 0 {
		t.Errorf("unexpected weights %v", weights)
	}
	if ok, err := c.Calibrate(ctx, 11, 0); err != nil || !ok {
		t.Errorf("Calibrate = %v, %v", ok, err)
	}
}

func TestClient_FailResult(t *testing.T) {
	c := newClientPair(t, func(req *Frame) *Frame {
		return NewResultResponse(DefaultStation, req.Code(), false)
	})

	ok, err := c.Unlock(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected Fail result")
	}
}

func TestClient_NoResponse(t *testing.T) {
	c := newClientPair(t, func(*Frame) *Frame { return nil })

	start := time.Now()
	_, err := c.Lock(context.Background())
	if !errors.Is(err, ErrNoResponse) {
		t.Fatalf("expected ErrNoResponse, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("returned before the timeout: %v", elapsed)
	}
}

func TestClient_WrongCodeRejected(t *testing.T) {
	c := newClientPair(t, func(req *Frame) *Frame {
		return NewByteResponse(DefaultStation, OpQueryLockStatus, LockLocked)
	})

	if _, err := c.DoorOpen(context.Background()); !errors.Is(err, ErrCodeMismatch) {
		t.Errorf("expected ErrCodeMismatch, got %v", err)
	}
}

func TestClient_Closed(t *testing.T) {
	host, device := serialport.Pipe(0)
	c := NewClient(host, DefaultStation, time.Second)
	device.Close()

	// the reader sees EOF and closes its channel
	time.Sleep(10 * time.Millisecond)
	if _, err := c.Manufacturer(context.Background()); err == nil {
		t.Error("expected an error on a closed connection")
	}
}
