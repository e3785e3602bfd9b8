// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package temperature

import (
	"fmt"
	"math"
)

// Unknown is the accepted value before the first reading settles
const Unknown = 127

// ChangeMode selects how a new temperature is debounced
type ChangeMode int

const (
	// ChangeInteger compares rounded values
	ChangeInteger ChangeMode = iota
	// ChangeAccuracy compares float values against Config.Accuracy
	ChangeAccuracy
)

func (m ChangeMode) String() string {
	switch m {
	case ChangeInteger:
		return "integer"
	case ChangeAccuracy:
		return "accuracy"
	default:
		return fmt.Sprintf("ChangeMode(%d)", int(m))
	}
}

// ParseChangeMode parses the config spelling of a ChangeMode
func ParseChangeMode(s string) (ChangeMode, error) {
	switch s {
	case "", "integer":
		return ChangeInteger, nil
	case "accuracy":
		return ChangeAccuracy, nil
	}
	return 0, fmt.Errorf("unknown change mode %q", s)
}

// Config tunes the filter
type Config struct {
	ChangeCount  int
	ErrorCount   int
	Accuracy     float64
	Mode         ChangeMode
	Compensation float64
	AlarmMin     int16
	AlarmMax     int16
	ADCMin       uint16 // exclusive
	ADCMax       uint16 // exclusive
	Divider      Divider
}

// DefaultConfig returns the board defaults
func DefaultConfig() Config {
	return Config{
		ChangeCount: 3,
		ErrorCount:  3,
		Accuracy:    0.1,
		Mode:        ChangeInteger,
		AlarmMin:    -19,
		AlarmMax:    55,
		ADCMin:      5,
		ADCMax:      4090,
		Divider:     DefaultDivider(),
	}
}

// Reading is the filter's published state after a sample. Celsius and
// Rounded hold the accepted value, not the raw sample's.
type Reading struct {
	Raw        uint16
	Resistance uint32
	Celsius    float64
	Rounded    int16
	Valid      bool
	Errors     uint8
}

// Filter debounces value changes and sensor faults over a stream of ADC
// samples. It is not safe for concurrent use.
type Filter struct {
	cfg   Config
	curve *Curve

	celsius float64
	rounded int16
	dir     int
	errors  uint8
	faulted bool
}

// NewFilter builds a filter in its power-on state
func NewFilter(cfg Config) (*Filter, error) {
	if cfg.ChangeCount < 1 || cfg.ErrorCount < 1 {
		return nil, fmt.Errorf("change and error counts must be positive")
	}
	curve, err := NewCurve(cfg.Compensation)
	if err != nil {
		return nil, err
	}
	return &Filter{
		cfg:     cfg,
		curve:   curve,
		celsius: Unknown,
		rounded: Unknown,
	}, nil
}

// Sample feeds one ADC value. The bool is true when the sample changed the
// accepted value or the fault state; exactly those samples are published.
func (f *Filter) Sample(adc uint16) (Reading, bool) {
	r := Reading{Raw: adc}

	celsius, ok := f.convert(adc, &r)
	if !ok {
		if f.errors < math.MaxUint8 {
			f.errors++
		}
		emit := false
		if !f.faulted && int(f.errors) >= f.cfg.ErrorCount {
			f.faulted = true
			f.dir = 0
			emit = true
		}
		return f.reading(r), emit
	}

	f.errors = 0
	rounded := Round(celsius)

	if f.faulted {
		f.faulted = false
		f.accept(celsius, rounded)
		return f.reading(r), true
	}

	switch f.cfg.Mode {
	case ChangeAccuracy:
		if celsius > f.celsius+f.cfg.Accuracy {
			f.dir++
		} else if celsius < f.celsius-f.cfg.Accuracy {
			f.dir--
		}
	default:
		if rounded > f.rounded {
			f.dir++
		} else if rounded < f.rounded {
			f.dir--
		}
	}

	if f.dir >= f.cfg.ChangeCount || -f.dir >= f.cfg.ChangeCount {
		f.accept(celsius, rounded)
		return f.reading(r), true
	}
	return f.reading(r), false
}

// Faulted reports whether the sensor fault is asserted
func (f *Filter) Faulted() bool {
	return f.faulted
}

// convert runs one sample through the ADC window, the divider, the curve and
// the alarm limits
func (f *Filter) convert(adc uint16, r *Reading) (float64, bool) {
	if adc <= f.cfg.ADCMin || adc >= f.cfg.ADCMax {
		return 0, false
	}
	r.Resistance = f.cfg.Divider.Resistance(adc)
	celsius, ok := f.curve.Celsius(r.Resistance)
	if !ok {
		return 0, false
	}
	rounded := Round(celsius)
	if rounded > f.cfg.AlarmMax || rounded < f.cfg.AlarmMin {
		return 0, false
	}
	return celsius, true
}

func (f *Filter) accept(celsius float64, rounded int16) {
	f.celsius = celsius
	f.rounded = rounded
	f.dir = 0
}

func (f *Filter) reading(r Reading) Reading {
	r.Celsius = f.celsius
	r.Rounded = f.rounded
	r.Valid = !f.faulted
	r.Errors = f.errors
	return r
}
