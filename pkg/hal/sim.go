// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hal

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Pin is a simulated line usable as both Output and Input
type Pin struct {
	level   atomic.Int32
	changes atomic.Int32
	notify  func(on bool)
}

// NewPin creates a pin at the given level
func NewPin(level int) *Pin {
	p := &Pin{}
	p.level.Store(int32(level))
	return p
}

// Set drives the pin high (on) or low
func (p *Pin) Set(on bool) {
	level := int32(0)
	if on {
		level = 1
	}
	if p.level.Swap(level) != level {
		p.changes.Add(1)
	}
	if p.notify != nil {
		p.notify(on)
	}
}

// SetLevel sets the level seen by readers
func (p *Pin) SetLevel(level int) {
	p.Set(level != 0)
}

// Level returns the current level
func (p *Pin) Level() int {
	return int(p.level.Load())
}

// On reports whether the pin is high
func (p *Pin) On() bool {
	return p.Level() == 1
}

// Changes returns how many times the level changed
func (p *Pin) Changes() int {
	return int(p.changes.Load())
}

// ErrADCFault is returned by a SimADC set to fail
var ErrADCFault = errors.New("adc conversion failed")

// SimADC returns a settable raw value
type SimADC struct {
	value atomic.Uint32
	fail  atomic.Bool
}

// Set changes the raw reading
func (a *SimADC) Set(raw uint16) {
	a.value.Store(uint32(raw))
}

// Fail makes reads return ErrADCFault
func (a *SimADC) Fail(fail bool) {
	a.fail.Store(fail)
}

// Read returns the current raw value
func (a *SimADC) Read() (uint16, error) {
	if a.fail.Load() {
		return 0, ErrADCFault
	}
	return uint16(a.value.Load()), nil
}

// SimBoard is an in-memory board. With mechanics enabled the lock and hole
// sensors follow the actuator after a travel delay, unless the lock is
// jammed.
type SimBoard struct {
	CompressorPower *Pin
	LockActuator    *Pin
	LockSensor      *Pin
	HoleSensor      *Pin
	DoorSensor      *Pin
	Switch1         *Pin
	Switch2         *Pin
	Thermistor      *SimADC

	mu     sync.Mutex
	travel time.Duration
	jammed bool
	timer  *time.Timer
}

// NewSimBoard creates a board with the lock closed, the door shut and both
// switches released. A travel of zero disables the mechanics.
func NewSimBoard(travel time.Duration) *SimBoard {
	s := &SimBoard{
		CompressorPower: NewPin(0),
		LockActuator:    NewPin(0),
		LockSensor:      NewPin(LockLocked),
		HoleSensor:      NewPin(HoleClosed),
		DoorSensor:      NewPin(DoorClosed),
		Switch1:         NewPin(SwitchIdle),
		Switch2:         NewPin(SwitchIdle),
		Thermistor:      &SimADC{},
		travel:          travel,
	}
	if travel > 0 {
		s.LockActuator.notify = s.actuate
	}
	return s
}

// Board returns the board view handed to the tasks
func (s *SimBoard) Board() Board {
	return Board{
		CompressorPower: s.CompressorPower,
		LockActuator:    s.LockActuator,
		LockSensor:      s.LockSensor,
		HoleSensor:      s.HoleSensor,
		DoorSensor:      s.DoorSensor,
		Switches:        []Input{s.Switch1, s.Switch2},
		Thermistor:      s.Thermistor,
	}
}

// Jam stops the sensors from following the actuator
func (s *SimBoard) Jam(jammed bool) {
	s.mu.Lock()
	s.jammed = jammed
	s.mu.Unlock()
}

func (s *SimBoard) actuate(open bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
	}
	if s.jammed {
		return
	}
	s.timer = time.AfterFunc(s.travel, func() {
		s.mu.Lock()
		jammed := s.jammed
		s.mu.Unlock()
		if jammed {
			return
		}
		if open {
			s.LockSensor.SetLevel(LockUnlocked)
			s.HoleSensor.SetLevel(HoleOpen)
		} else {
			s.LockSensor.SetLevel(LockLocked)
			s.HoleSensor.SetLevel(HoleClosed)
		}
	})
}

// Press holds switch 1 down
func (s *SimBoard) Press() {
	s.Switch1.SetLevel(SwitchPress)
}

// Release lets switch 1 go
func (s *SimBoard) Release() {
	s.Switch1.SetLevel(SwitchIdle)
}

// OpenDoor sets the door sensor
func (s *SimBoard) OpenDoor(open bool) {
	if open {
		s.DoorSensor.SetLevel(DoorOpen)
	} else {
		s.DoorSensor.SetLevel(DoorClosed)
	}
}
