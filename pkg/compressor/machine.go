// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package compressor

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/Thermoquad/coldlocker/pkg/hal"
)

// SetpointKey is the store variable holding the set point
const SetpointKey = "temperature"

var (
	ErrSetpointRange = errors.New("set point out of range")
	ErrPersist       = errors.New("set point not saved")
)

// SetpointMode selects how a set point maps to thresholds
type SetpointMode int

const (
	// ModeCelsius treats the set point as a temperature with a fixed offset
	ModeCelsius SetpointMode = iota
	// ModeLevel treats the set point as an index into Config.Levels
	ModeLevel
)

func (m SetpointMode) String() string {
	if m == ModeLevel {
		return "level"
	}
	return "celsius"
}

// ParseSetpointMode parses the config spelling of a SetpointMode
func ParseSetpointMode(s string) (SetpointMode, error) {
	switch s {
	case "", "celsius":
		return ModeCelsius, nil
	case "level":
		return ModeLevel, nil
	}
	return 0, fmt.Errorf("unknown set point mode %q", s)
}

// Level is one entry of the discrete set point table
type Level struct {
	Stop float64 `yaml:"stop"`
	Work float64 `yaml:"work"`
}

// Config holds the controller timing and set point limits
type Config struct {
	PowerOnWait  time.Duration
	WorkTimeout  time.Duration
	RestTimeout  time.Duration
	WaitTimeout  time.Duration
	PowerOnState State

	Mode           SetpointMode
	Offset         int
	SettingMin     int
	SettingMax     int
	SettingDefault int
	Levels         []Level
}

// DefaultConfig returns the production timings and the 0..28 °C range
func DefaultConfig() Config {
	return Config{
		PowerOnWait:    2 * time.Minute,
		WorkTimeout:    120 * time.Minute,
		RestTimeout:    5 * time.Minute,
		WaitTimeout:    5 * time.Minute,
		PowerOnState:   StateStopReadyContinue,
		Mode:           ModeCelsius,
		Offset:         2,
		SettingMin:     0,
		SettingMax:     28,
		SettingDefault: 6,
	}
}

// DefaultLevels is the level table used when none is configured
func DefaultLevels() []Level {
	return []Level{
		{Stop: 2, Work: 6},
		{Stop: 4, Work: 8},
		{Stop: 6, Work: 10},
		{Stop: 8, Work: 12},
		{Stop: 10, Work: 14},
	}
}

// Timer is a one-shot timer owned by the controller. Start replaces any
// running countdown.
type Timer interface {
	Start(d time.Duration)
	Stop()
}

// Store persists the set point
type Store interface {
	Get(name string) (string, bool)
	Set(name, value string) error
}

// Snapshot is a copy of the controller's state
type Snapshot struct {
	State     State
	Setpoint  int
	Stop      float64
	Work      float64
	Celsius   float64
	Known     bool
	Fault     bool
	PowerOn   bool
	UpdatedAt time.Time
}

// Machine is the compressor state machine. It is synchronous and must only
// be driven from one goroutine.
type Machine struct {
	cfg   Config
	power hal.Output
	timer Timer
	store Store
	log   *zap.SugaredLogger

	state    State
	setpoint int
	stop     float64
	work     float64
	celsius  float64
	known    bool
	fault    bool
	on       bool
	updated  time.Time
}

// NewMachine creates a machine in Init with the compressor off and the set
// point loaded from store
func NewMachine(cfg Config, power hal.Output, timer Timer, store Store, logger *zap.SugaredLogger) *Machine {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	m := &Machine{
		cfg:   cfg,
		power: power,
		timer: timer,
		store: store,
		log:   logger,
		state: StateInit,
	}
	m.setPower(false)
	m.load()
	return m
}

// load restores the persisted set point, falling back to the default
func (m *Machine) load() {
	m.apply(m.cfg.SettingDefault)

	raw, ok := m.store.Get(SetpointKey)
	if !ok {
		m.log.Infof("no saved set point, using default %d", m.cfg.SettingDefault)
		return
	}
	v, err := strconv.Atoi(raw)
	if err != nil || !m.valid(v) {
		m.log.Warnf("saved set point %q invalid, using default %d", raw, m.cfg.SettingDefault)
		return
	}
	m.apply(v)
	m.log.Infof("set point %d loaded, range %.1f to %.1f", v, m.stop, m.work)
}

// valid reports whether v is an acceptable set point
func (m *Machine) valid(v int) bool {
	if m.cfg.Mode == ModeLevel {
		return v >= 0 && v < len(m.cfg.Levels)
	}
	return v-m.cfg.Offset >= m.cfg.SettingMin && v+m.cfg.Offset <= m.cfg.SettingMax
}

// apply sets the thresholds for a valid set point
func (m *Machine) apply(v int) {
	m.setpoint = v
	if m.cfg.Mode == ModeLevel {
		if v >= 0 && v < len(m.cfg.Levels) {
			m.stop = m.cfg.Levels[v].Stop
			m.work = m.cfg.Levels[v].Work
		}
		return
	}
	m.stop = float64(v - m.cfg.Offset)
	m.work = float64(v + m.cfg.Offset)
}

func (m *Machine) setPower(on bool) {
	m.on = on
	m.power.Set(on)
}

func (m *Machine) enter(s State) {
	if s != m.state {
		m.log.Debugf("state %s -> %s", m.state, s)
	}
	m.state = s
	m.updated = time.Now()
}

// PowerOn starts the power-on wait
func (m *Machine) PowerOn() {
	m.setPower(false)
	m.enter(StateInit)
	m.timer.Start(m.cfg.PowerOnWait)
}

// TimerExpired handles the end of the running countdown
func (m *Machine) TimerExpired() {
	switch m.state {
	case StateInit:
		m.log.Info("power-on wait finished")
		m.enter(m.cfg.PowerOnState)
	case StateWorking:
		m.log.Infof("maximum run time reached, resting for %v", m.cfg.RestTimeout)
		m.enter(StateStopResting)
		m.setPower(false)
		m.timer.Start(m.cfg.RestTimeout)
		return
	case StateStopResting:
		m.log.Info("rest finished")
		m.enter(StateStopReadyContinue)
	case StateStopWait:
		m.log.Info("wait between cycles finished")
		m.enter(StateStopReady)
	case StateStopFaulted:
		m.log.Info("fault wait finished")
		m.enter(StateStopReadyContinue)
	default:
		m.log.Warnf("timer expired in %s, ignored", m.state)
		return
	}
	m.evaluate()
}

// Temperature records a new accepted reading and clears any sensor fault
func (m *Machine) Temperature(celsius float64) {
	m.fault = false
	m.celsius = celsius
	m.known = true
	m.evaluate()
}

// Fault records a sensor fault. A running compressor is stopped.
func (m *Machine) Fault() {
	m.fault = true
	if m.state != StateWorking {
		m.log.Infof("sensor fault while %s, compressor already stopped", m.state)
		return
	}
	m.enter(StateStopFaulted)
	m.setPower(false)
	m.timer.Start(m.cfg.WaitTimeout)
	m.log.Warnf("sensor fault, compressor stopped for %v", m.cfg.WaitTimeout)
}

// SetSetpoint validates, applies and persists a new set point. The
// thresholds stay applied even when persisting fails.
func (m *Machine) SetSetpoint(v int) error {
	if !m.valid(v) {
		return fmt.Errorf("%w: %d", ErrSetpointRange, v)
	}
	if v == m.setpoint {
		return nil
	}

	m.apply(v)
	if err := m.store.Set(SetpointKey, strconv.Itoa(v)); err != nil {
		m.log.Errorf("save set point %d: %v", v, err)
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	m.log.Infof("set point %d, range %.1f to %.1f", v, m.stop, m.work)
	m.evaluate()
	return nil
}

// Setpoint returns the current set point
func (m *Machine) Setpoint() int {
	return m.setpoint
}

// State returns the current state
func (m *Machine) State() State {
	return m.state
}

// Snapshot returns a copy of the controller's state
func (m *Machine) Snapshot() Snapshot {
	return Snapshot{
		State:     m.state,
		Setpoint:  m.setpoint,
		Stop:      m.stop,
		Work:      m.work,
		Celsius:   m.celsius,
		Known:     m.known,
		Fault:     m.fault,
		PowerOn:   m.on,
		UpdatedAt: m.updated,
	}
}

// evaluate applies the temperature rules until the state settles
func (m *Machine) evaluate() {
	for m.step() {
	}
}

func (m *Machine) step() bool {
	if m.fault || m.state == StateInit || !m.known {
		return false
	}

	switch {
	case m.state == StateWorking && m.celsius <= m.stop:
		m.enter(StateStopWait)
		m.setPower(false)
		m.timer.Start(m.cfg.WaitTimeout)
		m.log.Infof("%.2f °C at or below stop %.1f, waiting %v", m.celsius, m.stop, m.cfg.WaitTimeout)
	case m.state == StateStopReady && m.celsius >= m.work:
		m.start()
		m.log.Infof("%.2f °C at or above work %.1f, compressor on", m.celsius, m.work)
	case m.state == StateStopReadyContinue && m.celsius > m.stop:
		m.start()
		m.log.Infof("%.2f °C above stop %.1f, resuming", m.celsius, m.stop)
	default:
		return false
	}
	return true
}

func (m *Machine) start() {
	m.enter(StateWorking)
	m.setPower(true)
	m.timer.Start(m.cfg.WorkTimeout)
}
