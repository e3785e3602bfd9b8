// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package serialport

import (
	"errors"
	"fmt"
	"time"
)

// Link adds frame-level timing to a Port: waiting for data with a timeout,
// strict fixed-size reads, idle-gap framing, and send-with-drain.
// A Link has a single owner and is not safe for concurrent use.
type Link struct {
	port     Port
	draining chan error // outstanding Drain, nil when none
}

// NewLink wraps a port
func NewLink(port Port) *Link {
	return &Link{port: port}
}

// Port returns the underlying port
func (l *Link) Port() Port {
	return l.port
}

// Close closes the underlying port
func (l *Link) Close() error {
	return l.port.Close()
}

// Select waits up to timeout for at least one byte and reads what is
// available into buf. Returns ErrTimeout if nothing arrived.
func (l *Link) Select(buf []byte, timeout time.Duration) (int, error) {
	if err := l.port.SetReadTimeout(readTimeout(timeout)); err != nil {
		return 0, fmt.Errorf("set read timeout: %w", err)
	}
	n, err := l.port.Read(buf)
	if err != nil {
		return n, err
	}
	if n == 0 {
		return 0, ErrTimeout
	}
	return n, nil
}

// ReadFull reads exactly len(buf) bytes. The first byte must arrive within
// first and each later chunk within gap; a stall returns ErrTimeout with
// the count read so far.
func (l *Link) ReadFull(buf []byte, first, gap time.Duration) (int, error) {
	total := 0
	timeout := first
	for total < len(buf) {
		n, err := l.Select(buf[total:], timeout)
		total += n
		if err != nil {
			return total, fmt.Errorf("read %d/%d bytes: %w", total, len(buf), err)
		}
		timeout = gap
	}
	return total, nil
}

// ReadIdle reads one frame delimited by line silence. It waits up to wait
// for the first byte, then collects bytes until the line stays idle for gap.
// A frame longer than max is consumed up to the idle gap and reported as
// ErrOverflow.
func (l *Link) ReadIdle(max int, wait, gap time.Duration) ([]byte, error) {
	buf := make([]byte, max+1)
	frame := make([]byte, 0, max)
	overflow := false

	timeout := wait
	started := false
	for {
		n, err := l.Select(buf, timeout)
		if started && errors.Is(err, ErrTimeout) {
			break
		}
		if err != nil {
			return nil, err
		}
		started = true
		if !overflow {
			frame = append(frame, buf[:n]...)
			if len(frame) > max {
				overflow = true
			}
		}
		timeout = gap
	}

	if overflow {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrOverflow, max)
	}
	return frame, nil
}

// Send writes b and waits up to timeout for the transmitter to drain
func (l *Link) Send(b []byte, timeout time.Duration) error {
	n, err := l.port.Write(b)
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if n != len(b) {
		return fmt.Errorf("short write: %d/%d bytes", n, len(b))
	}
	return l.Complete(timeout)
}

// Complete blocks until the transmit buffer has drained or timeout elapses.
// A drain that outlives its timeout is waited on again by the next call
// rather than started twice, so at most one Drain runs per link. Drain
// returns once the port is closed.
func (l *Link) Complete(timeout time.Duration) error {
	if l.draining == nil {
		done := make(chan error, 1)
		go func() {
			done <- l.port.Drain()
		}()
		l.draining = done
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-l.draining:
		l.draining = nil
		return err
	case <-timer.C:
		return fmt.Errorf("drain: %w", ErrTimeout)
	}
}

// Flush discards any received but unread bytes
func (l *Link) Flush() error {
	return l.port.ResetInputBuffer()
}
