// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package mailbox holds the small primitives the controller tasks share:
// bounded posting with a timeout, aggregate deadlines and a pending set for
// fan-out requests.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is returned when a mailbox stays full for the whole timeout
var ErrTimeout = errors.New("mailbox full")

// Post sends msg on ch, waiting up to timeout for space.
// A zero timeout tries once without blocking.
func Post[T any](ctx context.Context, ch chan<- T, msg T, timeout time.Duration) error {
	select {
	case ch <- msg:
		return nil
	default:
	}
	if timeout <= 0 {
		return ErrTimeout
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ch <- msg:
		return nil
	case <-timer.C:
		return fmt.Errorf("%w after %v", ErrTimeout, timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Deadline is a fixed point in time shared by every wait of one request
type Deadline struct {
	at  time.Time
	now func() time.Time
}

// NewDeadline starts a deadline d from now
func NewDeadline(d time.Duration) Deadline {
	return Deadline{at: time.Now().Add(d), now: time.Now}
}

// Remaining returns the time left, never less than zero
func (d Deadline) Remaining() time.Duration {
	left := d.at.Sub(d.now())
	if left < 0 {
		return 0
	}
	return left
}

// Expired reports whether the deadline has passed
func (d Deadline) Expired() bool {
	return d.Remaining() == 0
}

// MaxPending is the number of members a Pending set can hold
const MaxPending = 8

// Pending is a bitset of outstanding fan-out targets
type Pending uint8

// PendingAll returns a set with members 0 through n-1
func PendingAll(n int) Pending {
	if n >= MaxPending {
		return 0xFF
	}
	return Pending(1<<n - 1)
}

// Set adds member i
func (p *Pending) Set(i int) {
	*p |= 1 << i
}

// Clear removes member i
func (p *Pending) Clear(i int) {
	*p &^= 1 << i
}

// Has reports whether member i is outstanding
func (p Pending) Has(i int) bool {
	return p&(1<<i) != 0
}

// Empty reports whether no member is outstanding
func (p Pending) Empty() bool {
	return p == 0
}

// Members returns the outstanding members in ascending order
func (p Pending) Members() []int {
	var out []int
	for i := 0; i < MaxPending; i++ {
		if p.Has(i) {
			out = append(out, i)
		}
	}
	return out
}
