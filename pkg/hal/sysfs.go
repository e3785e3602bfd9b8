// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hal

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// SysfsConfig maps board lines to Linux GPIO numbers and the thermistor to
// an IIO channel file
type SysfsConfig struct {
	Root            string // normally /sys/class/gpio
	CompressorPower int
	LockActuator    int
	LockSensor      int
	HoleSensor      int
	DoorSensor      int
	Switches        []int
	ADCPath         string // e.g. /sys/bus/iio/devices/iio:device0/in_voltage0_raw
}

// SysfsPin is a GPIO line exported through sysfs
type SysfsPin struct {
	path string
}

// OpenSysfsPin exports gpio n if needed and sets its direction
func OpenSysfsPin(root string, n int, output bool) (*SysfsPin, error) {
	dir := filepath.Join(root, fmt.Sprintf("gpio%d", n))
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.WriteFile(filepath.Join(root, "export"), []byte(strconv.Itoa(n)), 0o200); err != nil {
			return nil, fmt.Errorf("export gpio%d: %w", n, err)
		}
	}

	direction := "in"
	if output {
		direction = "out"
	}
	if err := os.WriteFile(filepath.Join(dir, "direction"), []byte(direction), 0o644); err != nil {
		return nil, fmt.Errorf("gpio%d direction: %w", n, err)
	}
	return &SysfsPin{path: filepath.Join(dir, "value")}, nil
}

// Set drives the line. Write errors leave the line unchanged.
func (p *SysfsPin) Set(on bool) {
	v := "0"
	if on {
		v = "1"
	}
	_ = os.WriteFile(p.path, []byte(v), 0o644)
}

// Level reads the line; a read error reports 0
func (p *SysfsPin) Level() int {
	b, err := os.ReadFile(p.path)
	if err != nil || len(b) == 0 {
		return 0
	}
	if b[0] == '1' {
		return 1
	}
	return 0
}

// IIOADC reads raw conversions from an IIO channel file
type IIOADC struct {
	path string
}

// Read returns one raw conversion
func (a *IIOADC) Read() (uint16, error) {
	b, err := os.ReadFile(a.path)
	if err != nil {
		return 0, fmt.Errorf("read adc: %w", err)
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(b)), 10, 16)
	if err != nil {
		return 0, fmt.Errorf("parse adc value: %w", err)
	}
	return uint16(v), nil
}

// NewSysfsBoard opens every line in cfg
func NewSysfsBoard(cfg SysfsConfig) (Board, error) {
	var b Board
	open := func(n int, output bool) (*SysfsPin, error) {
		return OpenSysfsPin(cfg.Root, n, output)
	}

	pins := []struct {
		n      int
		output bool
		set    func(*SysfsPin)
	}{
		{cfg.CompressorPower, true, func(p *SysfsPin) { b.CompressorPower = p }},
		{cfg.LockActuator, true, func(p *SysfsPin) { b.LockActuator = p }},
		{cfg.LockSensor, false, func(p *SysfsPin) { b.LockSensor = p }},
		{cfg.HoleSensor, false, func(p *SysfsPin) { b.HoleSensor = p }},
		{cfg.DoorSensor, false, func(p *SysfsPin) { b.DoorSensor = p }},
	}
	for _, pin := range pins {
		p, err := open(pin.n, pin.output)
		if err != nil {
			return Board{}, err
		}
		pin.set(p)
	}
	for _, n := range cfg.Switches {
		p, err := open(n, false)
		if err != nil {
			return Board{}, err
		}
		b.Switches = append(b.Switches, p)
	}

	if _, err := os.Stat(cfg.ADCPath); err != nil {
		return Board{}, fmt.Errorf("adc channel: %w", err)
	}
	b.Thermistor = &IIOADC{path: cfg.ADCPath}
	return b, nil
}
