// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package serialport provides the byte transport used by the host and scale
// links: real UARTs through go.bug.st/serial and in-memory pipes for
// simulation.
package serialport

import (
	"errors"
	"fmt"
	"time"

	"go.bug.st/serial"
)

// Transport errors
var (
	ErrTimeout  = errors.New("serial timeout")
	ErrOverflow = errors.New("serial frame overflow")
	ErrClosed   = errors.New("serial port closed")
)

// Forever disables a read timeout
const Forever time.Duration = -1

// Port is the subset of a serial port the links need.
// A go.bug.st/serial Port satisfies it. Read returns 0 bytes and a nil
// error when the read timeout elapses.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
	Drain() error
}

// Open opens a serial device at the given baud rate, 8N1
func Open(name string, baud int) (Port, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %v", name, err)
	}
	return port, nil
}

// List returns the serial devices present on the system
func List() ([]string, error) {
	return serial.GetPortsList()
}

// readTimeout converts Forever to the driver's blocking value
func readTimeout(t time.Duration) time.Duration {
	if t < 0 {
		return serial.NoTimeout
	}
	return t
}
