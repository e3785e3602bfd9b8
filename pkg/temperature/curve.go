// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package temperature turns raw thermistor ADC samples into a debounced,
// fault-aware cabinet temperature and publishes changes to the compressor.
package temperature

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/interp"
)

// point is one (celsius, ohms) entry of the thermistor table
type point struct {
	celsius int16
	ohms    uint32
}

// ntcTable is the LAT5061G3839G (B=3839K) resistance curve, −12 °C to 57 °C.
// Resistance falls strictly as temperature rises.
var ntcTable = []point{
	{-12, 12224}, {-11, 11577}, {-10, 10968}, {-9, 10394}, {-8, 9854},
	{-7, 9344}, {-6, 8864}, {-5, 8410}, {-4, 7983}, {-3, 7579},
	{-2, 7199}, {-1, 6839}, {0, 6499}, {1, 6178}, {2, 5875},
	{3, 5588}, {4, 5317}, {5, 5060}, {6, 4817}, {7, 4587},
	{8, 4370}, {9, 4164}, {10, 3969}, {11, 3784}, {12, 3608},
	{13, 3442}, {14, 3284}, {15, 3135}, {16, 2993}, {17, 2858},
	{18, 2730}, {19, 2609}, {20, 2494}, {21, 2384}, {22, 2280},
	{23, 2181}, {24, 2087}, {25, 1997}, {26, 1912}, {27, 1831},
	{28, 1754}, {29, 1680}, {30, 1610}, {31, 1543}, {32, 1480},
	{33, 1419}, {34, 1361}, {35, 1306}, {36, 1254}, {37, 1204},
	{38, 1156}, {39, 1110}, {40, 1067}, {41, 1025}, {42, 985},
	{43, 947}, {44, 911}, {45, 876}, {46, 843}, {47, 811},
	{48, 781}, {49, 752}, {50, 724}, {51, 697}, {52, 672},
	{53, 647}, {54, 624}, {55, 602}, {56, 580}, {57, 559},
}

// Curve maps thermistor resistance to Celsius by linear interpolation
// between table entries
type Curve struct {
	fit          interp.PiecewiseLinear
	lowOhms      float64
	highOhms     float64
	compensation float64
}

// NewCurve fits the thermistor table. compensation is added to every
// result to correct for the sensor's mounting position.
func NewCurve(compensation float64) (*Curve, error) {
	n := len(ntcTable)
	xs := make([]float64, n)
	ys := make([]float64, n)
	// the fit needs ascending x, so walk the table from the hot end
	for i, p := range ntcTable {
		xs[n-1-i] = float64(p.ohms)
		ys[n-1-i] = float64(p.celsius)
	}

	c := &Curve{
		lowOhms:      xs[0],
		highOhms:     xs[n-1],
		compensation: compensation,
	}
	if err := c.fit.Fit(xs, ys); err != nil {
		return nil, fmt.Errorf("fit thermistor curve: %w", err)
	}
	return c, nil
}

// Contains reports whether r lies strictly inside the table
func (c *Curve) Contains(r uint32) bool {
	v := float64(r)
	return v > c.lowOhms && v < c.highOhms
}

// Celsius interpolates the temperature for r. ok is false outside the table.
func (c *Curve) Celsius(r uint32) (float64, bool) {
	if !c.Contains(r) {
		return 0, false
	}
	return c.fit.Predict(float64(r)) + c.compensation, true
}

// Ohms returns the table resistance for an integer temperature, used to
// drive a simulated thermistor
func Ohms(celsius float64) uint32 {
	n := len(ntcTable)
	if celsius <= float64(ntcTable[0].celsius) {
		return ntcTable[0].ohms
	}
	if celsius >= float64(ntcTable[n-1].celsius) {
		return ntcTable[n-1].ohms
	}
	i := sort.Search(n, func(i int) bool { return float64(ntcTable[i].celsius) > celsius }) - 1
	lo, hi := ntcTable[i], ntcTable[i+1]
	frac := celsius - float64(lo.celsius)
	return uint32(float64(lo.ohms) - frac*float64(lo.ohms-hi.ohms))
}

// Round rounds half away from zero
func Round(v float64) int16 {
	return int16(math.Round(v))
}

// Divider describes the thermistor's voltage divider and ADC
type Divider struct {
	Supply    float64 // divider supply, volts
	Reference float64 // ADC reference, volts
	Bypass    float64 // fixed resistor, ohms
	FullScale float64 // ADC counts at reference
}

// DefaultDivider returns the board's divider
func DefaultDivider() Divider {
	return Divider{Supply: 3.3, Reference: 3.3, Bypass: 5100, FullScale: 4096}
}

// Resistance converts a raw ADC reading to thermistor ohms, truncating
// toward zero. adc must be non-zero.
func (d Divider) Resistance(adc uint16) uint32 {
	r := (d.Supply*d.FullScale*d.Bypass)/(float64(adc)*d.Reference) - d.Bypass
	if r < 0 {
		return 0
	}
	return uint32(r)
}

// ADC returns the reading a thermistor of r ohms produces, the inverse of
// Resistance
func (d Divider) ADC(r uint32) uint16 {
	return uint16(math.Round((d.Supply * d.FullScale * d.Bypass) / ((float64(r) + d.Bypass) * d.Reference)))
}
