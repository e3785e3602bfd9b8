// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package hal is the boundary between the controller tasks and the board:
// digital outputs, digital inputs and the thermistor ADC.
package hal

// Output drives a digital line
type Output interface {
	Set(on bool)
}

// Input reads a digital line level, 0 or 1
type Input interface {
	Level() int
}

// ADC reads one raw 12-bit conversion
type ADC interface {
	Read() (uint16, error)
}

// Board levels
const (
	LockLocked   = 1
	LockUnlocked = 0
	HoleOpen     = 1
	HoleClosed   = 0
	DoorOpen     = 1
	DoorClosed   = 0
	SwitchPress  = 0
	SwitchIdle   = 1
)

// Board groups every line the controller uses
type Board struct {
	CompressorPower Output
	LockActuator    Output // on opens the lock
	LockSensor      Input
	HoleSensor      Input
	DoorSensor      Input
	Switches        []Input // redundant unlock buttons, any press counts
	Thermistor      ADC
}
