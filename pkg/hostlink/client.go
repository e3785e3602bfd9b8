// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hostlink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// Client errors
var (
	ErrNoResponse = errors.New("no response")
	ErrClosed     = errors.New("connection closed")
)

// Client issues requests to a controller over any byte stream and waits for
// the matching response. One request is in flight at a time.
type Client struct {
	rw      io.ReadWriter
	station byte
	timeout time.Duration

	mu sync.Mutex
	rx chan []byte
}

// NewClient creates a client and starts its reader goroutine.
// The goroutine exits when a read fails, e.g. after the stream is closed.
func NewClient(rw io.ReadWriter, station byte, timeout time.Duration) *Client {
	c := &Client{
		rw:      rw,
		station: station,
		timeout: timeout,
		rx:      make(chan []byte, 64),
	}
	go c.readLoop()
	return c
}

func (c *Client) readLoop() {
	defer close(c.rx)
	buf := make([]byte, 64)
	for {
		n, err := c.rw.Read(buf)
		if n > 0 {
			c.rx <- append([]byte(nil), buf[:n]...)
		}
		if err != nil {
			return
		}
	}
}

// drain discards bytes left over from earlier exchanges
func (c *Client) drain() {
	for {
		select {
		case _, ok := <-c.rx:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// Do sends req and returns the validated response
func (c *Client) Do(ctx context.Context, req *Frame) (*Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	adu, err := Encode(req)
	if err != nil {
		return nil, err
	}

	c.drain()
	if _, err := c.rw.Write(adu); err != nil {
		return nil, fmt.Errorf("write failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	decoder := NewResponseDecoder()
	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%s: %w", FormatOpcode(req.code), ErrNoResponse)
		case chunk, ok := <-c.rx:
			if !ok {
				return nil, ErrClosed
			}
			for _, b := range chunk {
				raw, err := decoder.DecodeByte(b)
				if err != nil || raw == nil {
					continue
				}
				return ParseResponse(raw, req.address, req.code)
			}
		}
	}
}

func (c *Client) result(ctx context.Context, req *Frame) (bool, error) {
	rsp, err := c.Do(ctx, req)
	if err != nil {
		return false, err
	}
	return ParseResult(rsp)
}

func (c *Client) value(ctx context.Context, req *Frame) (byte, error) {
	rsp, err := c.Do(ctx, req)
	if err != nil {
		return 0, err
	}
	return ParseByte(rsp)
}

// DoorOpen queries the door sensor
func (c *Client) DoorOpen(ctx context.Context) (bool, error) {
	rsp, err := c.Do(ctx, NewQueryDoorStatus(c.station))
	if err != nil {
		return false, err
	}
	return ParseDoorStatus(rsp)
}

// Locked queries the lock sensor
func (c *Client) Locked(ctx context.Context) (bool, error) {
	rsp, err := c.Do(ctx, NewQueryLockStatus(c.station))
	if err != nil {
		return false, err
	}
	return ParseLockStatus(rsp)
}

// Lock closes the lock and reports whether the sensors confirmed it
func (c *Client) Lock(ctx context.Context) (bool, error) {
	return c.result(ctx, NewLock(c.station))
}

// Unlock opens the lock and reports whether the sensors confirmed it
func (c *Client) Unlock(ctx context.Context) (bool, error) {
	return c.result(ctx, NewUnlock(c.station))
}

// Temperature returns the cabinet temperature and whether the sensor is healthy
func (c *Client) Temperature(ctx context.Context) (int8, bool, error) {
	rsp, err := c.Do(ctx, NewQueryTemperature(c.station))
	if err != nil {
		return 0, false, err
	}
	return ParseTemperature(rsp)
}

// SetTemperature changes the compressor set point
func (c *Client) SetTemperature(ctx context.Context, setpoint int8) (bool, error) {
	return c.result(ctx, NewSetTemperature(c.station, setpoint))
}

// Setpoint returns the current compressor set point
func (c *Client) Setpoint(ctx context.Context) (int8, error) {
	v, err := c.value(ctx, NewQuerySetpoint(c.station))
	return int8(v), err
}

// NetWeights returns the eight weight slots for scale (AllScales for every scale)
func (c *Client) NetWeights(ctx context.Context, scale byte) ([]int16, error) {
	rsp, err := c.Do(ctx, NewQueryNetWeight(c.station, scale))
	if err != nil {
		return nil, err
	}
	return ParseNetWeights(rsp)
}

// RemoveTare zeroes the tare of scale (AllScales for every scale)
func (c *Client) RemoveTare(ctx context.Context, scale byte) (bool, error) {
	return c.result(ctx, NewRemoveTare(c.station, scale))
}

// Calibrate calibrates scale at the given reference weight (0 for zero)
func (c *Client) Calibrate(ctx context.Context, scale byte, weight uint16) (bool, error) {
	return c.result(ctx, NewCalibrate(c.station, scale, weight))
}

// ScaleCount returns the number of configured scales
func (c *Client) ScaleCount(ctx context.Context) (int, error) {
	v, err := c.value(ctx, NewQueryScaleCount(c.station))
	return int(v), err
}

// Manufacturer returns the manufacturer id
func (c *Client) Manufacturer(ctx context.Context) (byte, error) {
	return c.value(ctx, NewQueryManufacturer(c.station))
}
