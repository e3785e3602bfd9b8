// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package lock

import "time"

// Debouncer accepts a new level only after it has been seen continuously
// for the hold-on time
type Debouncer struct {
	status int
	held   time.Duration
	holdOn time.Duration
}

// NewDebouncer starts with initial as the accepted level
func NewDebouncer(initial int, holdOn time.Duration) *Debouncer {
	return &Debouncer{status: initial, holdOn: holdOn}
}

// Update feeds one sample taken tick after the previous one and reports
// whether the accepted level changed
func (d *Debouncer) Update(level int, tick time.Duration) bool {
	if level == d.status {
		d.held = 0
		return false
	}
	d.held += tick
	if d.held < d.holdOn {
		return false
	}
	d.held = 0
	d.status = level
	return true
}

// Status returns the accepted level
func (d *Debouncer) Status() int {
	return d.status
}
