// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package scalelink

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/Thermoquad/coldlocker/pkg/serialport"
)

// Timeouts controls the timing of one scale exchange
type Timeouts struct {
	Response time.Duration // first byte of the reply
	Frame    time.Duration // gap inside the reply
	Send     time.Duration // transmit drain
}

// DefaultTimeouts returns the link's standard timing
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Response: ResponseTimeout,
		Frame:    FrameTimeout,
		Send:     SendTimeout,
	}
}

// Client polls one scale over a dedicated link
type Client struct {
	link     *serialport.Link
	addr     byte
	timeouts Timeouts
}

// NewClient creates a client talking to the scale at addr
func NewClient(link *serialport.Link, addr byte, timeouts Timeouts) *Client {
	return &Client{link: link, addr: addr, timeouts: timeouts}
}

// Poll sends one request and returns the value bytes of the reply.
// Stale input is flushed before sending and after a failed receive.
func (c *Client) Poll(code Code, value []byte) ([]byte, error) {
	adu, err := Build(c.addr, code, value)
	if err != nil {
		return nil, err
	}

	if err := c.link.Flush(); err != nil {
		return nil, fmt.Errorf("flush: %w", err)
	}
	if err := c.link.Send(adu, c.timeouts.Send); err != nil {
		return nil, fmt.Errorf("send %s: %w", code, err)
	}

	rsp, err := Receive(c.link, c.timeouts.Response, c.timeouts.Frame)
	if err != nil {
		c.link.Flush()
		return nil, fmt.Errorf("receive %s: %w", code, err)
	}

	pdu, err := ParseResponse(rsp, c.addr, code)
	if err != nil {
		return nil, err
	}
	return pdu.Value, nil
}

// NetWeight returns the scale's net weight. WeightFault is returned as a
// value, not an error; the scale answered but its sensor has failed.
func (c *Client) NetWeight() (int16, error) {
	v, err := c.Poll(CodeNetWeight, nil)
	if err != nil {
		return 0, err
	}
	return int16(binary.LittleEndian.Uint16(v)), nil
}

// RemoveTare zeroes the current load
func (c *Client) RemoveTare() (bool, error) {
	return c.result(CodeRemoveTare, nil)
}

// CalibrateZero calibrates the zero point at weight
func (c *Client) CalibrateZero(weight uint16) (bool, error) {
	return c.result(CodeCalibrateZero, binary.LittleEndian.AppendUint16(nil, weight))
}

// CalibrateFull calibrates the span at weight
func (c *Client) CalibrateFull(weight uint16) (bool, error) {
	return c.result(CodeCalibrateFull, binary.LittleEndian.AppendUint16(nil, weight))
}

// SensorID returns the load cell identifier
func (c *Client) SensorID() (byte, error) {
	v, err := c.Poll(CodeSensorID, nil)
	if err != nil {
		return 0, err
	}
	return v[0], nil
}

// FirmwareVersion returns the scale firmware version
func (c *Client) FirmwareVersion() (byte, error) {
	v, err := c.Poll(CodeFirmwareVersion, nil)
	if err != nil {
		return 0, err
	}
	return v[0], nil
}

// SetAddress moves the scale to a new address. On success the client
// follows it.
func (c *Client) SetAddress(addr byte) (bool, error) {
	ok, err := c.result(CodeSetAddress, []byte{addr})
	if err == nil && ok {
		c.addr = addr
	}
	return ok, err
}

// Address returns the address the client polls
func (c *Client) Address() byte {
	return c.addr
}

func (c *Client) result(code Code, value []byte) (bool, error) {
	v, err := c.Poll(code, value)
	if err != nil {
		return false, err
	}
	return v[0] == ResultSuccess, nil
}
