// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package compressor cycles the refrigeration compressor between a stop and
// a work threshold while limiting continuous run time, and persists the
// operator set point.
package compressor

import "fmt"

// State is the compressor controller state
type State int

const (
	// StateInit waits for the compressor to settle after power-on
	StateInit State = iota
	// StateWorking runs the compressor
	StateWorking
	// StateStopReady restarts once the work threshold is reached
	StateStopReady
	// StateStopResting rests after the maximum continuous run
	StateStopResting
	// StateStopReadyContinue restarts as soon as the stop threshold is exceeded
	StateStopReadyContinue
	// StateStopWait waits between two cycles
	StateStopWait
	// StateStopFaulted waits after a sensor fault stopped a cycle
	StateStopFaulted
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateWorking:
		return "Working"
	case StateStopReady:
		return "StopReady"
	case StateStopResting:
		return "StopRestingAfterLongRun"
	case StateStopReadyContinue:
		return "StopReadyContinue"
	case StateStopWait:
		return "StopWaitBetweenCycles"
	case StateStopFaulted:
		return "StopFaulted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ParsePowerOnState parses the config spelling of the state entered after
// the power-on wait
func ParsePowerOnState(s string) (State, error) {
	switch s {
	case "", "ready_continue":
		return StateStopReadyContinue, nil
	case "ready":
		return StateStopReady, nil
	}
	return 0, fmt.Errorf("unknown power-on state %q", s)
}
